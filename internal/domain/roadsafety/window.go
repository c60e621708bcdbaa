package roadsafety

import (
	"fmt"
	"time"

	"github.com/ehr/roadsafety/internal/platform/fhir"
)

const dateLayout = "2006-01-02"

// DateWindow is an inclusive range of calendar days in UTC.
type DateWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateWindow truncates start and end to whole days.
func NewDateWindow(start, end time.Time) (*DateWindow, error) {
	s := truncateDay(start)
	e := truncateDay(end)
	if e.Before(s) {
		return nil, fmt.Errorf("window end %s is before start %s", e.Format(dateLayout), s.Format(dateLayout))
	}
	return &DateWindow{Start: s, End: e}, nil
}

// ParseDateWindow parses YYYY-MM-DD bounds. Both empty means no window.
func ParseDateWindow(start, end string) (*DateWindow, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	if start == "" || end == "" {
		return nil, fmt.Errorf("both start and end are required for a date window")
	}
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: expected YYYY-MM-DD", start)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: expected YYYY-MM-DD", end)
	}
	return NewDateWindow(s, e)
}

// Key identifies the window; "all" for no window.
func (w *DateWindow) Key() string {
	if w == nil {
		return "all"
	}
	return w.Start.Format(dateLayout) + ".." + w.End.Format(dateLayout)
}

// endExclusive is midnight after the last included day.
func (w *DateWindow) endExclusive() time.Time {
	return w.End.AddDate(0, 0, 1)
}

// Contains reports whether t falls on an included day. A nil window
// contains everything.
func (w *DateWindow) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	return !t.Before(w.Start) && t.Before(w.endExclusive())
}

// Overlaps reports whether [from, to] shares any instant with the window.
func (w *DateWindow) Overlaps(from, to time.Time) bool {
	if w == nil {
		return true
	}
	if to.Before(from) {
		from, to = to, from
	}
	return !to.Before(w.Start) && from.Before(w.endExclusive())
}

// IncludesEncounter uses the encounter period when present, otherwise
// meta.lastUpdated. Encounters with no usable timestamp are excluded.
func (w *DateWindow) IncludesEncounter(e *fhir.Encounter) bool {
	if e == nil {
		return false
	}
	if w == nil {
		return true
	}
	start, hasStart := e.Period.StartTime()
	end, hasEnd := e.Period.EndTime()
	switch {
	case hasStart && hasEnd:
		return w.Overlaps(start, end)
	case hasStart:
		return w.Contains(start)
	case hasEnd:
		return w.Contains(end)
	}
	ts, ok := e.Meta.LastUpdatedAt()
	return ok && w.Contains(ts)
}

// IncludesCondition uses recordedDate, onsetDateTime, then meta.lastUpdated.
func (w *DateWindow) IncludesCondition(c *fhir.Condition) bool {
	if c == nil {
		return false
	}
	if w == nil {
		return true
	}
	ts, ok := c.Timestamp()
	return ok && w.Contains(ts)
}

func filterEncounters(w *DateWindow, in []*fhir.Encounter) []*fhir.Encounter {
	out := make([]*fhir.Encounter, 0, len(in))
	for _, e := range in {
		if w.IncludesEncounter(e) {
			out = append(out, e)
		}
	}
	return out
}

func filterConditions(w *DateWindow, in []*fhir.Condition) []*fhir.Condition {
	out := make([]*fhir.Condition, 0, len(in))
	for _, c := range in {
		if w.IncludesCondition(c) {
			out = append(out, c)
		}
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
