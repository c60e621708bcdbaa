package roadsafety

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ehr/roadsafety/internal/platform/fhir"
)

// Rate bases.
const (
	PerThousand        = 1000
	PerTenThousand     = 10000
	PerHundredThousand = 100000
	PerMillion         = 1000000
)

// ValidRateBase reports whether base is a supported rate denominator.
func ValidRateBase(base float64) bool {
	switch base {
	case PerThousand, PerTenThousand, PerHundredThousand, PerMillion:
		return true
	}
	return false
}

// DashboardMetrics is the statistic set for one query. MortalityRate and
// InjuryRate are per 100,000 population, CaseFatalityRate is a percentage
// and the vehicle rates are per 10,000 vehicles.
type DashboardMetrics struct {
	MortalityRate         float64 `json:"mortalityRate"`
	InjuryRate            float64 `json:"injuryRate"`
	CaseFatalityRate      float64 `json:"caseFatalityRate"`
	AccidentPerVehicle    float64 `json:"accidentPerVehicle"`
	DeathsPer10kVehicles  float64 `json:"deathsPer10kVehicles"`
	TotalEncounters       int     `json:"totalEncounters"`
	TotalTrafficAccidents int     `json:"totalTrafficAccidents"`
	TotalFatalities       int     `json:"totalFatalities"`
	NonFatalInjuries      int     `json:"nonFatalInjuries"`
}

// Rescale converts a per-100,000 rate to another base.
func Rescale(ratePer100k, base float64) float64 {
	return ratePer100k * base / PerHundredThousand
}

// Per returns a copy with the population rates expressed per base.
func (m DashboardMetrics) Per(base float64) DashboardMetrics {
	m.MortalityRate = Rescale(m.MortalityRate, base)
	m.InjuryRate = Rescale(m.InjuryRate, base)
	return m
}

// PatientDeathStatus maps each cohort patient to their resolved status.
type PatientDeathStatus map[string]bool

// Input is everything one aggregation run needs. Patients are not an input:
// they feed the demographic breakdowns only.
type Input struct {
	Encounters       []*fhir.Encounter
	Conditions       []*fhir.Condition
	Observations     []*fhir.Observation
	PopulationAtRisk float64
	VehicleCount     float64
	Window           *DateWindow
}

// Result carries the metrics together with the intermediate state they
// were derived from.
type Result struct {
	Metrics     DashboardMetrics
	Cohort      *Cohort
	DeathStatus PatientDeathStatus
	Resolutions map[string]Resolution
	Conflicts   int
	// Encounters and Conditions are the inputs after window filtering.
	Encounters []*fhir.Encounter
	Conditions []*fhir.Condition
}

// Aggregator computes DashboardMetrics.
type Aggregator struct {
	classifier ConditionClassifier
	outcomes   *OutcomeResolver
	logger     zerolog.Logger
}

func NewAggregator(classifier ConditionClassifier, outcomes *OutcomeResolver, logger zerolog.Logger) *Aggregator {
	return &Aggregator{classifier: classifier, outcomes: outcomes, logger: logger}
}

// Compute filters by window, builds the cohort, resolves each cohort
// patient's death status exactly once and derives the rates. Rates whose
// denominator is not positive are reported as 0.
func (a *Aggregator) Compute(ctx context.Context, in Input) *Result {
	encounters := filterEncounters(in.Window, in.Encounters)
	conditions := filterConditions(in.Window, in.Conditions)

	cohort := BuildCohort(ctx, a.classifier, encounters, conditions)

	encByPatient := encountersByPatient(cohort.TrafficEncounters)
	obsByPatient := observationsByPatient(in.Observations)

	res := &Result{
		Cohort:      cohort,
		DeathStatus: make(PatientDeathStatus, len(cohort.TrafficPatients)),
		Resolutions: make(map[string]Resolution, len(cohort.TrafficPatients)),
		Encounters:  encounters,
		Conditions:  conditions,
	}

	fatalities := 0
	for _, pid := range cohort.PatientKeys() {
		r := a.outcomes.ResolvePatient(ctx, pid, encByPatient[pid], obsByPatient[pid])
		res.DeathStatus[pid] = r.Deceased
		res.Resolutions[pid] = r
		if r.Deceased {
			fatalities++
		}
		if r.Conflict {
			res.Conflicts++
		}
	}

	nonFatal := 0
	for _, cond := range cohort.TrafficConditions {
		if !res.DeathStatus[cond.PatientKey()] {
			nonFatal++
		}
	}

	accidents := len(cohort.TrafficEncounters)
	accidentsForDivision := accidents
	if accidentsForDivision < 1 {
		accidentsForDivision = 1
	}

	m := DashboardMetrics{
		TotalEncounters:       len(encounters),
		TotalTrafficAccidents: accidents,
		TotalFatalities:       fatalities,
		NonFatalInjuries:      nonFatal,
		CaseFatalityRate:      float64(fatalities) / float64(accidentsForDivision) * 100,
	}
	if in.PopulationAtRisk > 0 {
		m.MortalityRate = float64(fatalities) / in.PopulationAtRisk * PerHundredThousand
		m.InjuryRate = float64(nonFatal) / in.PopulationAtRisk * PerHundredThousand
	}
	if in.VehicleCount > 0 {
		m.AccidentPerVehicle = float64(accidentsForDivision) / in.VehicleCount * PerTenThousand
		m.DeathsPer10kVehicles = float64(fatalities) / in.VehicleCount * PerTenThousand
	}
	res.Metrics = m

	a.logger.Debug().
		Int("encounters", len(encounters)).
		Int("conditions", len(conditions)).
		Int("traffic_encounters", accidents).
		Int("traffic_patients", len(cohort.TrafficPatients)).
		Int("fatalities", fatalities).
		Int("outcome_conflicts", res.Conflicts).
		Msg("metrics computed")
	return res
}
