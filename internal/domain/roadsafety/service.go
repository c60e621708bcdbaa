package roadsafety

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/roadsafety/internal/platform/fhir"
	"github.com/ehr/roadsafety/internal/platform/fhirclient"
	"github.com/ehr/roadsafety/internal/platform/metrics"
	"github.com/ehr/roadsafety/internal/platform/reporting"
	"github.com/ehr/roadsafety/pkg/fhirmodels"
)

// RecordSource follows every page of a resource search.
type RecordSource interface {
	FetchAll(ctx context.Context, resource string, f fhirclient.Filters) (*fhirclient.Result, error)
}

// SnapshotSaver records computed reports.
type SnapshotSaver interface {
	Save(ctx context.Context, s *reporting.Snapshot) error
}

// Query holds the parameters of one dashboard computation.
type Query struct {
	Window           *DateWindow
	PopulationAtRisk float64
	VehicleCount     float64
	// Per is the base the population rates are expressed in. Zero means
	// per 100,000.
	Per float64
}

// Key identifies the query for superseding purposes.
func (q Query) Key() string {
	return q.Window.Key() + "|" +
		strconv.FormatFloat(q.PopulationAtRisk, 'f', -1, 64) + "|" +
		strconv.FormatFloat(q.VehicleCount, 'f', -1, 64) + "|" +
		strconv.FormatFloat(q.Per, 'f', -1, 64)
}

// Diagnostics describes how complete a report is.
type Diagnostics struct {
	DegradedSources    []string `json:"degradedSources"`
	TruncatedSources   []string `json:"truncatedSources,omitempty"`
	OutcomeConflicts   int      `json:"outcomeConflicts"`
	ClassifierStrategy Strategy `json:"classifierStrategy"`
	ResolvedPatients   int      `json:"resolvedPatients"`
	UnresolvedPatients int      `json:"unresolvedPatients"`
	SkippedRecords     int      `json:"skippedRecords"`
}

// Report is the full dashboard payload.
type Report struct {
	RunID            uuid.UUID        `json:"runId"`
	GeneratedAt      time.Time        `json:"generatedAt"`
	Window           *DateWindow      `json:"window,omitempty"`
	PopulationAtRisk float64          `json:"populationAtRisk"`
	VehicleCount     float64          `json:"vehicleCount"`
	RatesPer         float64          `json:"ratesPer"`
	Metrics          DashboardMetrics `json:"metrics"`
	AgeBands         map[string]int   `json:"ageBands"`
	Sex              map[string]int   `json:"sex"`
	InjuryTypes      map[string]int   `json:"injuryTypes"`
	Mortality        MortalitySplit   `json:"mortality"`
	Trends           []TrendPoint     `json:"trends"`
	Diagnostics      Diagnostics      `json:"diagnostics"`
}

// Degraded reports whether any source returned partial data.
func (r *Report) Degraded() bool {
	return len(r.Diagnostics.DegradedSources) > 0
}

// Service fetches records and assembles reports.
type Service struct {
	source     RecordSource
	classifier *Classifier
	aggregator *Aggregator
	patients   *PatientResolver
	grouper    *Grouper
	saver      SnapshotSaver
	pageSize   int
	now        func() time.Time
	logger     zerolog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithSnapshotSaver records every computed report.
func WithSnapshotSaver(s SnapshotSaver) ServiceOption {
	return func(svc *Service) { svc.saver = s }
}

// WithPageSize sets the page size hint sent with searches.
func WithPageSize(n int) ServiceOption {
	return func(svc *Service) { svc.pageSize = n }
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) ServiceOption {
	return func(svc *Service) { svc.now = now }
}

func NewService(source RecordSource, classifier *Classifier, outcomes *OutcomeResolver, patients *PatientResolver, logger zerolog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		source:     source,
		classifier: classifier,
		aggregator: NewAggregator(classifier, outcomes, logger),
		patients:   patients,
		now:        time.Now,
		logger:     logger,
	}
	for _, o := range opts {
		o(s)
	}
	s.grouper = NewGrouper(s.now)
	return s
}

type fetched struct {
	encounters   *fhirclient.Result
	conditions   *fhirclient.Result
	observations *fhirclient.Result
}

// Compute builds a report for q. Authentication and client errors from the
// record source abort the computation; other source failures yield a
// report over partial data.
func (s *Service) Compute(ctx context.Context, q Query) (*Report, error) {
	start := time.Now()
	rep, err := s.compute(ctx, q)
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case rep.Degraded():
		status = "degraded"
	}
	metrics.RecordCompute(status, time.Since(start))
	return rep, err
}

func (s *Service) compute(ctx context.Context, q Query) (*Report, error) {
	data, err := s.fetch(ctx, q.Window)
	if err != nil {
		return nil, err
	}

	encounters, skippedEnc := fhir.Decode[fhir.Encounter](data.encounters.Records)
	conditions, skippedCond := fhir.Decode[fhir.Condition](data.conditions.Records)
	observations, skippedObs := fhir.Decode[fhir.Observation](data.observations.Records)

	agg := s.aggregator.Compute(ctx, Input{
		Encounters:       encounters,
		Conditions:       conditions,
		Observations:     observations,
		PopulationAtRisk: q.PopulationAtRisk,
		VehicleCount:     q.VehicleCount,
		Window:           q.Window,
	})

	var patients map[string]*fhir.Patient
	unresolved := 0
	if s.patients != nil {
		patients, unresolved = s.patients.Resolve(ctx, encounterPatientKeys(agg.Encounters))
	}

	per := q.Per
	if per == 0 {
		per = PerHundredThousand
	}

	rep := &Report{
		RunID:            uuid.New(),
		GeneratedAt:      s.now().UTC(),
		Window:           q.Window,
		PopulationAtRisk: q.PopulationAtRisk,
		VehicleCount:     q.VehicleCount,
		RatesPer:         per,
		Metrics:          agg.Metrics.Per(per),
		AgeBands:         s.grouper.GroupByAgeBand(patients, agg.Encounters, q.Window),
		Sex:              s.grouper.GroupBySex(patients, agg.Encounters, q.Window),
		InjuryTypes:      s.classifier.GroupByInjuryType(ctx, agg.Conditions),
		Mortality:        MortalityBreakdown(agg),
		Trends:           BuildTrends(agg),
		Diagnostics: Diagnostics{
			DegradedSources:    []string{},
			OutcomeConflicts:   agg.Conflicts,
			ClassifierStrategy: s.classifier.Strategy(),
			ResolvedPatients:   len(patients),
			UnresolvedPatients: unresolved,
			SkippedRecords:     skippedEnc + skippedCond + skippedObs,
		},
	}
	for _, r := range []*fhirclient.Result{data.encounters, data.conditions, data.observations} {
		if r.Degraded() {
			rep.Diagnostics.DegradedSources = append(rep.Diagnostics.DegradedSources, r.Resource)
		}
		if r.Truncated {
			rep.Diagnostics.TruncatedSources = append(rep.Diagnostics.TruncatedSources, r.Resource)
		}
	}
	sort.Strings(rep.Diagnostics.DegradedSources)

	s.logger.Info().
		Str("run_id", rep.RunID.String()).
		Str("window", q.Window.Key()).
		Int("traffic_accidents", rep.Metrics.TotalTrafficAccidents).
		Int("fatalities", rep.Metrics.TotalFatalities).
		Strs("degraded_sources", rep.Diagnostics.DegradedSources).
		Msg("dashboard computed")

	s.save(ctx, rep)
	return rep, nil
}

func (s *Service) fetch(ctx context.Context, window *DateWindow) (*fetched, error) {
	f := fhirclient.Filters{PageSize: s.pageSize}
	if window != nil {
		f.Start, f.End = window.Start, window.End
	}

	var out fetched
	g, gctx := errgroup.WithContext(ctx)
	for resource, dst := range map[string]**fhirclient.Result{
		fhirmodels.ResourceEncounter:   &out.encounters,
		fhirmodels.ResourceCondition:   &out.conditions,
		fhirmodels.ResourceObservation: &out.observations,
	} {
		resource, dst := resource, dst
		g.Go(func() error {
			res, err := s.source.FetchAll(gctx, resource, f)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", resource, err)
			}
			*dst = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) save(ctx context.Context, rep *Report) {
	if s.saver == nil {
		return
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode report snapshot")
		return
	}
	snap := &reporting.Snapshot{
		ID:                    rep.RunID,
		GeneratedAt:           rep.GeneratedAt,
		PopulationAtRisk:      rep.PopulationAtRisk,
		VehicleCount:          rep.VehicleCount,
		ClassifierStrategy:    string(rep.Diagnostics.ClassifierStrategy),
		TotalEncounters:       rep.Metrics.TotalEncounters,
		TotalTrafficAccidents: rep.Metrics.TotalTrafficAccidents,
		TotalFatalities:       rep.Metrics.TotalFatalities,
		Degraded:              rep.Degraded(),
		Report:                payload,
	}
	if rep.Window != nil {
		start, end := rep.Window.Start, rep.Window.End
		snap.WindowStart, snap.WindowEnd = &start, &end
	}
	if err := s.saver.Save(ctx, snap); err != nil {
		s.logger.Error().Err(err).Str("run_id", rep.RunID.String()).Msg("failed to save report snapshot")
	}
}
