package roadsafety

import (
	"testing"
	"time"

	"github.com/ehr/roadsafety/internal/platform/fhir"
)

func TestParseDateWindow(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		end     string
		wantNil bool
		wantErr bool
	}{
		{"no window", "", "", true, false},
		{"valid", "2024-01-01", "2024-01-31", false, false},
		{"single day", "2024-01-01", "2024-01-01", false, false},
		{"only start", "2024-01-01", "", true, true},
		{"bad format", "01/01/2024", "2024-01-31", true, true},
		{"reversed", "2024-02-01", "2024-01-01", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := ParseDateWindow(tt.start, tt.end)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if (w == nil) != tt.wantNil {
				t.Errorf("window = %v, wantNil %v", w, tt.wantNil)
			}
		})
	}
}

func TestDateWindow_ContainsInclusiveDays(t *testing.T) {
	w, _ := ParseDateWindow("2024-01-01", "2024-01-31")

	tests := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC), true},
		{time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), false},
		{time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC), false},
	}
	for _, tt := range tests {
		if got := w.Contains(tt.at); got != tt.want {
			t.Errorf("Contains(%v) = %v, want %v", tt.at, got, tt.want)
		}
	}

	var none *DateWindow
	if !none.Contains(time.Time{}) {
		t.Error("expected nil window to contain everything")
	}
	if none.Key() != "all" || w.Key() != "2024-01-01..2024-01-31" {
		t.Errorf("unexpected keys %q %q", none.Key(), w.Key())
	}
}

func TestDateWindow_IncludesEncounter(t *testing.T) {
	w, _ := ParseDateWindow("2024-03-01", "2024-03-31")

	tests := []struct {
		name string
		enc  *fhir.Encounter
		want bool
	}{
		{"start inside", &fhir.Encounter{Period: &fhir.Period{Start: "2024-03-15T10:00:00Z"}}, true},
		{"period spans window", &fhir.Encounter{Period: &fhir.Period{Start: "2024-02-20", End: "2024-04-02"}}, true},
		{"period before", &fhir.Encounter{Period: &fhir.Period{Start: "2024-02-01", End: "2024-02-29"}}, false},
		{"end only inside", &fhir.Encounter{Period: &fhir.Period{End: "2024-03-02"}}, true},
		{"lastUpdated fallback", &fhir.Encounter{Meta: &fhir.Meta{LastUpdated: "2024-03-05T08:00:00+08:00"}}, true},
		{"lastUpdated outside", &fhir.Encounter{Meta: &fhir.Meta{LastUpdated: "2024-05-05T08:00:00Z"}}, false},
		{"no timestamp", &fhir.Encounter{}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.IncludesEncounter(tt.enc); got != tt.want {
				t.Errorf("IncludesEncounter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDateWindow_IncludesCondition(t *testing.T) {
	w, _ := ParseDateWindow("2024-03-01", "2024-03-31")

	if !w.IncludesCondition(&fhir.Condition{RecordedDate: "2024-03-31"}) {
		t.Error("expected recorded date on the last day included")
	}
	if !w.IncludesCondition(&fhir.Condition{OnsetDateTime: "2024-03-10T12:00:00Z"}) {
		t.Error("expected onset fallback")
	}
	if w.IncludesCondition(&fhir.Condition{RecordedDate: "2024-04-01", OnsetDateTime: "2024-03-10"}) {
		t.Error("expected recorded date to take precedence over onset")
	}
	if w.IncludesCondition(&fhir.Condition{}) {
		t.Error("expected undated condition excluded")
	}

	var none *DateWindow
	if !none.IncludesCondition(&fhir.Condition{}) {
		t.Error("expected nil window to include undated conditions")
	}
}
