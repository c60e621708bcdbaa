package roadsafety

import (
	"context"
	"reflect"
	"testing"

	"github.com/ehr/roadsafety/internal/platform/fhir"
)

func TestBuildCohort_JoinsByPatient(t *testing.T) {
	encounters := []*fhir.Encounter{
		newEncounter("e1", "p1", "", ""),
		newEncounter("e2", "p2", "", ""),
		newEncounter("e3", "p1", "", ""),
		newEncounter("e4", "", "", ""),
	}
	conditions := []*fhir.Condition{
		newCondition("c1", "p1", "", trafficCoding()),
		newCondition("c2", "p2", "", snomed("38341003", "Hypertension")),
		newCondition("c3", "p3", "", fhir.Coding{Display: "Pedestrian injury"}),
		nil,
	}

	cohort := BuildCohort(context.Background(), keywordClassifier(), encounters, conditions)

	if len(cohort.TrafficConditions) != 2 {
		t.Fatalf("expected 2 traffic conditions, got %d", len(cohort.TrafficConditions))
	}
	var ids []string
	for _, e := range cohort.TrafficEncounters {
		ids = append(ids, e.ID)
	}
	if !reflect.DeepEqual(ids, []string{"e1", "e3"}) {
		t.Errorf("expected encounters e1, e3 in input order, got %v", ids)
	}
	if got := cohort.PatientKeys(); !reflect.DeepEqual(got, []string{"p1", "p3"}) {
		t.Errorf("expected patients [p1 p3], got %v", got)
	}
	if !cohort.HasPatient("p3") || cohort.HasPatient("p2") {
		t.Error("unexpected cohort membership")
	}
}

func TestBuildCohort_Empty(t *testing.T) {
	cohort := BuildCohort(context.Background(), keywordClassifier(), nil, nil)
	if cohort.TrafficEncounters == nil || cohort.TrafficConditions == nil {
		t.Error("expected empty, non-nil slices")
	}
	if len(cohort.PatientKeys()) != 0 {
		t.Error("expected no patients")
	}
}

type countingClassifier struct {
	calls int
}

func (c *countingClassifier) IsTrafficRelatedCondition(context.Context, *fhir.Condition) bool {
	c.calls++
	return true
}

func TestBuildCohort_ClassifiesEachConditionOnce(t *testing.T) {
	cc := &countingClassifier{}
	encounters := make([]*fhir.Encounter, 50)
	for i := range encounters {
		encounters[i] = newEncounter("e", "p", "", "")
	}
	conditions := []*fhir.Condition{newCondition("c1", "p", ""), newCondition("c2", "p", "")}

	BuildCohort(context.Background(), cc, encounters, conditions)
	if cc.calls != 2 {
		t.Errorf("expected 2 classifications, got %d", cc.calls)
	}
}

func TestCohort_NilSafe(t *testing.T) {
	var c *Cohort
	if c.HasPatient("p") || c.PatientKeys() != nil {
		t.Error("expected nil cohort to be empty")
	}
}
