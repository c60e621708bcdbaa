package roadsafety

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/roadsafety/internal/platform/fhir"
	"github.com/ehr/roadsafety/pkg/fhirmodels"
)

var errLookupDown = errors.New("terminology server unavailable")

// fakeLookup answers value set membership from a fixed table.
type fakeLookup struct {
	mu      sync.Mutex
	members map[string][]fhir.Coding
	err     error
	calls   int
}

func (f *fakeLookup) Contains(_ context.Context, url string, coding fhir.Coding) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	for _, m := range f.members[url] {
		if fhir.Matches(m, coding) {
			return true, nil
		}
	}
	return false, nil
}

func patientRef(pid string) *fhir.Reference {
	if pid == "" {
		return nil
	}
	return &fhir.Reference{Reference: "Patient/" + pid}
}

func snomed(code, display string) fhir.Coding {
	return fhir.Coding{System: fhirmodels.SystemSNOMED, Code: code, Display: display}
}

func trafficCoding() fhir.Coding {
	return snomed(fhirmodels.SNOMEDTrafficAccident, "Traffic accident")
}

func newEncounter(id, pid, start, disposition string) *fhir.Encounter {
	e := &fhir.Encounter{ResourceType: fhirmodels.ResourceEncounter, ID: id, Subject: patientRef(pid)}
	if start != "" {
		e.Period = &fhir.Period{Start: start}
	}
	if disposition != "" {
		e.Hospitalization = &fhir.EncounterHospitalization{
			DischargeDisposition: &fhir.CodeableConcept{Coding: []fhir.Coding{
				{System: fhirmodels.SystemDischargeDisposition, Code: disposition},
			}},
		}
	}
	return e
}

func newCondition(id, pid, recorded string, codings ...fhir.Coding) *fhir.Condition {
	c := &fhir.Condition{ResourceType: fhirmodels.ResourceCondition, ID: id, Subject: patientRef(pid), RecordedDate: recorded}
	if codings != nil {
		c.Code = &fhir.CodeableConcept{Coding: codings}
	}
	return c
}

func diedObservation(id, pid string) *fhir.Observation {
	return &fhir.Observation{
		ResourceType: fhirmodels.ResourceObservation,
		ID:           id,
		Subject:      patientRef(pid),
		ValueCodeableConcept: &fhir.CodeableConcept{Coding: []fhir.Coding{
			snomed(fhirmodels.SNOMEDDied, "Died"),
		}},
	}
}

func keywordClassifier() *Classifier {
	return NewClassifier(ClassifierConfig{Strategy: StrategyKeyword}, nil, zerolog.Nop())
}

func defaultOutcomes() *OutcomeResolver {
	return NewOutcomeResolver(OutcomeConfig{}, nil, zerolog.Nop())
}

func newTestAggregator() *Aggregator {
	return NewAggregator(keywordClassifier(), defaultOutcomes(), zerolog.Nop())
}
