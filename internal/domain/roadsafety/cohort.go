package roadsafety

import (
	"context"
	"sort"

	"github.com/ehr/roadsafety/internal/platform/fhir"
)

// ConditionClassifier decides whether a condition is traffic related.
type ConditionClassifier interface {
	IsTrafficRelatedCondition(ctx context.Context, cond *fhir.Condition) bool
}

// Cohort is the traffic-accident subset of one query's records.
type Cohort struct {
	// TrafficEncounters are encounters whose patient has at least one
	// traffic classified condition. The join is by patient, not by the
	// condition's encounter reference.
	TrafficEncounters []*fhir.Encounter
	// TrafficConditions are all conditions the classifier accepts.
	TrafficConditions []*fhir.Condition
	// TrafficPatients is the set of patient keys appearing in either list.
	TrafficPatients map[string]struct{}
}

// HasPatient reports cohort membership.
func (c *Cohort) HasPatient(key string) bool {
	if c == nil {
		return false
	}
	_, ok := c.TrafficPatients[key]
	return ok
}

// PatientKeys returns the cohort's patient keys in sorted order.
func (c *Cohort) PatientKeys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.TrafficPatients))
	for k := range c.TrafficPatients {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BuildCohort classifies each condition once, indexes traffic patients and
// joins encounters against that index, in O(E+C). Input order is kept.
func BuildCohort(ctx context.Context, classifier ConditionClassifier, encounters []*fhir.Encounter, conditions []*fhir.Condition) *Cohort {
	cohort := &Cohort{
		TrafficEncounters: []*fhir.Encounter{},
		TrafficConditions: []*fhir.Condition{},
		TrafficPatients:   make(map[string]struct{}),
	}

	for _, cond := range conditions {
		if cond == nil || !classifier.IsTrafficRelatedCondition(ctx, cond) {
			continue
		}
		cohort.TrafficConditions = append(cohort.TrafficConditions, cond)
		if key := cond.PatientKey(); key != "" {
			cohort.TrafficPatients[key] = struct{}{}
		}
	}

	for _, enc := range encounters {
		key := enc.PatientKey()
		if key == "" {
			continue
		}
		if _, ok := cohort.TrafficPatients[key]; ok {
			cohort.TrafficEncounters = append(cohort.TrafficEncounters, enc)
		}
	}
	return cohort
}

// encountersByPatient groups encounters by patient key, dropping those
// without one.
func encountersByPatient(encounters []*fhir.Encounter) map[string][]*fhir.Encounter {
	out := make(map[string][]*fhir.Encounter)
	for _, e := range encounters {
		if key := e.PatientKey(); key != "" {
			out[key] = append(out[key], e)
		}
	}
	return out
}

// observationsByPatient groups observations by patient key.
func observationsByPatient(observations []*fhir.Observation) map[string][]*fhir.Observation {
	out := make(map[string][]*fhir.Observation)
	for _, o := range observations {
		if key := o.PatientKey(); key != "" {
			out[key] = append(out[key], o)
		}
	}
	return out
}
