package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadsafety_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roadsafety_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// FHIR record source metrics
	fhirRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadsafety_fhir_requests_total",
			Help: "Total number of requests sent to the FHIR server, by outcome",
		},
		[]string{"resource", "outcome"},
	)

	fhirRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadsafety_fhir_retries_total",
			Help: "Total number of retried FHIR requests",
		},
		[]string{"resource"},
	)

	fhirRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roadsafety_fhir_request_duration_seconds",
			Help:    "FHIR request attempt duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"resource"},
	)

	// Cache metrics
	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadsafety_cache_lookups_total",
			Help: "Total number of cache lookups, by result",
		},
		[]string{"cache", "result"},
	)

	// Analytics metrics
	outcomeConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roadsafety_outcome_conflicts_total",
			Help: "Patients whose outcome observation and discharge disposition disagree",
		},
	)

	classifierFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadsafety_classifier_fallbacks_total",
			Help: "Value set lookups that fell back to fixed keywords or tokens",
		},
		[]string{"value_set"},
	)

	computeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roadsafety_compute_duration_seconds",
			Help:    "Dashboard computation duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per route template.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}

			httpRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// RecordFHIRRequest records one FHIR request attempt.
func RecordFHIRRequest(resource, outcome string, duration time.Duration) {
	fhirRequestsTotal.WithLabelValues(resource, outcome).Inc()
	fhirRequestDuration.WithLabelValues(resource).Observe(duration.Seconds())
}

// RecordFHIRRetry records a retry of a FHIR request.
func RecordFHIRRetry(resource string) {
	fhirRetriesTotal.WithLabelValues(resource).Inc()
}

// CacheObserver returns a lookup callback for the named cache.
func CacheObserver(cache string) func(hit bool) {
	hits := cacheLookups.WithLabelValues(cache, "hit")
	misses := cacheLookups.WithLabelValues(cache, "miss")
	return func(hit bool) {
		if hit {
			hits.Inc()
			return
		}
		misses.Inc()
	}
}

// RecordOutcomeConflict records an outcome signal disagreement.
func RecordOutcomeConflict() {
	outcomeConflicts.Inc()
}

// RecordClassifierFallback records a value set lookup falling back.
func RecordClassifierFallback(valueSet string) {
	classifierFallbacks.WithLabelValues(valueSet).Inc()
}

// RecordCompute records a dashboard computation.
func RecordCompute(status string, duration time.Duration) {
	computeDuration.WithLabelValues(status).Observe(duration.Seconds())
}
