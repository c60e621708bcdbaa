package roadsafety

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/roadsafety/internal/platform/cache"
	"github.com/ehr/roadsafety/internal/platform/fhir"
)

// PatientFetcher reads a patient by id. A missing patient is nil, nil.
type PatientFetcher interface {
	FetchPatient(ctx context.Context, id string) (*fhir.Patient, error)
}

// PatientResolver looks up patients concurrently through a shared cache.
type PatientResolver struct {
	fetcher     PatientFetcher
	cache       *cache.TTLCache[*fhir.Patient]
	concurrency int
	logger      zerolog.Logger
}

// NewPatientResolver creates a PatientResolver issuing at most concurrency
// lookups at once.
func NewPatientResolver(fetcher PatientFetcher, c *cache.TTLCache[*fhir.Patient], concurrency int, logger zerolog.Logger) *PatientResolver {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &PatientResolver{fetcher: fetcher, cache: c, concurrency: concurrency, logger: logger}
}

// Resolve returns the patients found for keys and the number that could
// not be resolved. Lookup failures are logged and skipped.
func (r *PatientResolver) Resolve(ctx context.Context, keys []string) (map[string]*fhir.Patient, int) {
	var (
		mu         sync.Mutex
		found      = make(map[string]*fhir.Patient, len(keys))
		unresolved int
	)

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for _, key := range keys {
		if key == "" {
			continue
		}
		key := key
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				unresolved++
				mu.Unlock()
				return nil
			}
			p, err := r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (*fhir.Patient, error) {
				return r.fetcher.FetchPatient(ctx, key)
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				unresolved++
				r.logger.Warn().Err(err).Str("patient", key).Msg("patient lookup failed")
				return nil
			}
			if p == nil {
				unresolved++
				return nil
			}
			found[key] = p
			return nil
		})
	}
	_ = g.Wait()
	return found, unresolved
}

// encounterPatientKeys returns the distinct patient keys referenced by
// encounters, in first-seen order.
func encounterPatientKeys(encounters []*fhir.Encounter) []string {
	seen := make(map[string]struct{}, len(encounters))
	var keys []string
	for _, e := range encounters {
		key := e.PatientKey()
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// Stats returns the patient cache stats.
func (r *PatientResolver) Stats() cache.Stats {
	return r.cache.Stats()
}

// Clear drops cached patients.
func (r *PatientResolver) Clear() {
	r.cache.Clear()
}
