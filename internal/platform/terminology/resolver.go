// Package terminology answers "which codes belong to value set X" with
// memoized $expand lookups.
package terminology

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/roadsafety/internal/platform/cache"
	"github.com/ehr/roadsafety/internal/platform/fhir"
)

// DefaultFailureTTL is how long a failed expansion is remembered before the
// server is asked again.
const DefaultFailureTTL = 30 * time.Second

// ErrNoValueSet is returned for an empty value set URL.
var ErrNoValueSet = errors.New("no value set configured")

// Expander expands a value set by canonical URL.
type Expander interface {
	ExpandValueSet(ctx context.Context, url string) ([]fhir.Coding, error)
}

// Resolver memoizes value set expansions. Concurrent lookups of the same URL
// share one request; failures are remembered briefly so a down terminology
// server is not asked once per coding.
type Resolver struct {
	expander Expander
	cache    *cache.TTLCache[[]fhir.Coding]
	failures *cache.TTLCache[error]
	logger   zerolog.Logger
}

// NewResolver creates a Resolver backed by c.
func NewResolver(expander Expander, c *cache.TTLCache[[]fhir.Coding], failureTTL time.Duration, logger zerolog.Logger) *Resolver {
	if failureTTL <= 0 {
		failureTTL = DefaultFailureTTL
	}
	return &Resolver{
		expander: expander,
		cache:    c,
		failures: cache.New[error]("valueset-failures", failureTTL),
		logger:   logger,
	}
}

// Expand returns the codings of the value set at url.
func (r *Resolver) Expand(ctx context.Context, url string) ([]fhir.Coding, error) {
	if url == "" {
		return nil, ErrNoValueSet
	}
	if err, failed := r.failures.Get(url); failed {
		return nil, err
	}

	codings, err := r.cache.GetOrLoad(ctx, url, func(ctx context.Context) ([]fhir.Coding, error) {
		return r.expander.ExpandValueSet(ctx, url)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = fmt.Errorf("expand value set %s: %w", url, err)
		// A cancellation says nothing about the terminology server.
		if !errors.Is(err, context.Canceled) {
			r.failures.Set(url, err)
		}
		r.logger.Warn().Err(err).Str("value_set", url).Msg("value set expansion failed")
		return nil, err
	}
	return codings, nil
}

// Contains reports whether coding is a member of the value set at url.
func (r *Resolver) Contains(ctx context.Context, url string, coding fhir.Coding) (bool, error) {
	codings, err := r.Expand(ctx, url)
	if err != nil {
		return false, err
	}
	return fhir.ContainsCoding(codings, coding), nil
}

// Stats returns the expansion cache stats.
func (r *Resolver) Stats() cache.Stats {
	return r.cache.Stats()
}

// Clear drops memoized expansions and remembered failures.
func (r *Resolver) Clear() {
	r.cache.Clear()
	r.failures.Clear()
}
