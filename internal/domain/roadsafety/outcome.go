package roadsafety

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ehr/roadsafety/internal/platform/fhir"
	"github.com/ehr/roadsafety/internal/platform/metrics"
	"github.com/ehr/roadsafety/pkg/fhirmodels"
)

// deathDispositions are discharge disposition codes that mean the patient
// died, compared case-insensitively.
var deathDispositions = map[string]struct{}{
	fhirmodels.DispositionExpired:     {},
	fhirmodels.DispositionExpiredLong: {},
	fhirmodels.DispositionDead:        {},
	fhirmodels.DispositionDeath:       {},
}

// Signal names the evidence a death determination was based on.
type Signal string

const (
	SignalNone        Signal = ""
	SignalObservation Signal = "observation"
	SignalDisposition Signal = "disposition"
)

// OutcomeConfig configures an OutcomeResolver.
type OutcomeConfig struct {
	DiedSystem string
	DiedCode   string
	// DispositionValueSet, when set, is consulted after the fixed tokens
	// whatever the classifier strategy.
	DispositionValueSet string
}

// Resolution is the death determination for one patient.
type Resolution struct {
	Deceased bool
	Signal   Signal
	// Conflict is set when an outcome observation says the patient died
	// while every discharge disposition on record says otherwise.
	Conflict bool
}

// OutcomeResolver decides whether a patient died. An outcome observation
// carrying the died code is authoritative; the discharge disposition is the
// fallback.
type OutcomeResolver struct {
	died   fhir.Coding
	cfg    OutcomeConfig
	lookup ValueSetLookup
	logger zerolog.Logger
}

// NewOutcomeResolver creates an OutcomeResolver. lookup may be nil.
func NewOutcomeResolver(cfg OutcomeConfig, lookup ValueSetLookup, logger zerolog.Logger) *OutcomeResolver {
	if cfg.DiedCode == "" {
		cfg.DiedSystem = fhirmodels.SystemSNOMED
		cfg.DiedCode = fhirmodels.SNOMEDDied
	}
	return &OutcomeResolver{
		died:   fhir.Coding{System: cfg.DiedSystem, Code: cfg.DiedCode},
		cfg:    cfg,
		lookup: lookup,
		logger: logger,
	}
}

// IsDeceased applies the precedence rule to one encounter: a died outcome
// observation for patientID wins, then the encounter's discharge
// disposition, else false.
func (r *OutcomeResolver) IsDeceased(ctx context.Context, enc *fhir.Encounter, observations []*fhir.Observation, patientID string) bool {
	if patientID != "" && r.observedDeath(observations, patientID) {
		if hasDisposition(enc) && !r.DispositionIndicatesDeath(ctx, enc) {
			r.recordConflict(patientID)
		}
		return true
	}
	return r.DispositionIndicatesDeath(ctx, enc)
}

// ResolvePatient resolves a patient once across all of their encounters.
// observations must already be restricted to the patient.
func (r *OutcomeResolver) ResolvePatient(ctx context.Context, patientID string, encounters []*fhir.Encounter, observations []*fhir.Observation) Resolution {
	if r.observedDeath(observations, patientID) {
		res := Resolution{Deceased: true, Signal: SignalObservation}
		anyDisposition, anyDeath := false, false
		for _, enc := range encounters {
			if hasDisposition(enc) {
				anyDisposition = true
				if r.DispositionIndicatesDeath(ctx, enc) {
					anyDeath = true
				}
			}
		}
		if anyDisposition && !anyDeath {
			res.Conflict = true
			r.recordConflict(patientID)
		}
		return res
	}
	for _, enc := range encounters {
		if r.DispositionIndicatesDeath(ctx, enc) {
			return Resolution{Deceased: true, Signal: SignalDisposition}
		}
	}
	return Resolution{}
}

// DispositionIndicatesDeath checks the encounter's discharge disposition
// against the fixed death tokens and then the configured disposition value
// set. Lookup failures count as "not a death".
func (r *OutcomeResolver) DispositionIndicatesDeath(ctx context.Context, enc *fhir.Encounter) bool {
	if dispositionTokenDeath(enc) {
		return true
	}
	if r.lookup == nil || r.cfg.DispositionValueSet == "" {
		return false
	}
	for _, coding := range enc.DispositionCodings() {
		if coding.Code == "" {
			continue
		}
		ok, err := r.lookup.Contains(ctx, r.cfg.DispositionValueSet, coding)
		if err != nil {
			metrics.RecordClassifierFallback(r.cfg.DispositionValueSet)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

func (r *OutcomeResolver) observedDeath(observations []*fhir.Observation, patientID string) bool {
	if patientID == "" {
		return false
	}
	for _, obs := range observations {
		if obs == nil || obs.PatientKey() != patientID {
			continue
		}
		for _, v := range obs.ValueCodings() {
			if fhir.Matches(r.died, v) {
				return true
			}
		}
	}
	return false
}

func (r *OutcomeResolver) recordConflict(patientID string) {
	metrics.RecordOutcomeConflict()
	r.logger.Debug().
		Str("patient", patientID).
		Msg("outcome observation reports death but discharge disposition does not; observation wins")
}

func hasDisposition(enc *fhir.Encounter) bool {
	for _, c := range enc.DispositionCodings() {
		if c.Code != "" {
			return true
		}
	}
	return false
}

func dispositionTokenDeath(enc *fhir.Encounter) bool {
	for _, c := range enc.DispositionCodings() {
		if _, ok := deathDispositions[strings.ToLower(strings.TrimSpace(c.Code))]; ok {
			return true
		}
	}
	return false
}
