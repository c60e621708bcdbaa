package roadsafety

import (
	"strings"
	"time"

	"github.com/ehr/roadsafety/internal/platform/fhir"
	"github.com/ehr/roadsafety/pkg/fhirmodels"
)

// AgeBands in report order. Each band's lower bound is inclusive.
var AgeBands = []string{"0-4", "5-14", "15-24", "25-34", "35-44", "45-54", "55-64", "65-74", "75+"}

var ageBandFloors = []int{0, 5, 15, 25, 35, 45, 55, 65, 75}

// AgeBand returns the band for an age in whole years. Negative ages yield "".
func AgeBand(age int) string {
	if age < 0 {
		return ""
	}
	band := AgeBands[0]
	for i, floor := range ageBandFloors {
		if age >= floor {
			band = AgeBands[i]
		}
	}
	return band
}

// AgeAt returns completed years between birth and now, one less when the
// birthday has not been reached yet this year.
func AgeAt(birth, now time.Time) int {
	birth = birth.UTC()
	now = now.UTC()
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	return age
}

// NormalizeSex maps administrative gender to male, female, other or unknown.
func NormalizeSex(gender string) string {
	switch g := strings.ToLower(strings.TrimSpace(gender)); g {
	case fhirmodels.GenderMale, fhirmodels.GenderFemale, fhirmodels.GenderOther:
		return g
	}
	return fhirmodels.GenderUnknown
}

// Grouper buckets patients by age band and sex.
type Grouper struct {
	now func() time.Time
}

// NewGrouper creates a Grouper. now defaults to time.Now.
func NewGrouper(now func() time.Time) *Grouper {
	if now == nil {
		now = time.Now
	}
	return &Grouper{now: now}
}

// GroupByAgeBand counts patients per age band. When encounters are given,
// only patients with an encounter inside window (or any encounter, for a
// nil window) are counted. Patients without a usable birth date are skipped.
func (g *Grouper) GroupByAgeBand(patients map[string]*fhir.Patient, encounters []*fhir.Encounter, window *DateWindow) map[string]int {
	groups := make(map[string]int, len(AgeBands))
	for _, b := range AgeBands {
		groups[b] = 0
	}
	now := g.now()
	active := activePatients(encounters, window)
	for key, p := range patients {
		if p == nil || (active != nil && !has(active, key)) {
			continue
		}
		born, ok := p.Born()
		if !ok {
			continue
		}
		if band := AgeBand(AgeAt(born, now)); band != "" {
			groups[band]++
		}
	}
	return groups
}

// GroupBySex counts patients per normalized sex, with the same eligibility
// rule as GroupByAgeBand.
func (g *Grouper) GroupBySex(patients map[string]*fhir.Patient, encounters []*fhir.Encounter, window *DateWindow) map[string]int {
	groups := make(map[string]int, len(fhirmodels.Genders))
	for _, s := range fhirmodels.Genders {
		groups[s] = 0
	}
	active := activePatients(encounters, window)
	for key, p := range patients {
		if p == nil || (active != nil && !has(active, key)) {
			continue
		}
		groups[NormalizeSex(p.Gender)]++
	}
	return groups
}

// activePatients returns nil when no encounters restrict the population.
func activePatients(encounters []*fhir.Encounter, window *DateWindow) map[string]struct{} {
	if encounters == nil {
		return nil
	}
	active := make(map[string]struct{})
	for _, e := range encounters {
		if key := e.PatientKey(); key != "" && window.IncludesEncounter(e) {
			active[key] = struct{}{}
		}
	}
	return active
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
