// Package fhirclient is the record source: a read-only client for a remote
// FHIR R4 server with per-attempt timeouts, exponential backoff on
// retriable failures, outbound rate limiting and Bundle pagination.
package fhirclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ehr/roadsafety/internal/platform/metrics"
)

const (
	// MaxRecords bounds how many records FetchAll will accumulate.
	MaxRecords = 100000

	maxBodyBytes = 64 << 20
	contentType  = "application/fhir+json"
)

// Auth modes.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthOAuth  = "oauth"
)

// Config holds the connection settings for a FHIR server.
type Config struct {
	BaseURL        string
	AuthType       string
	AuthToken      string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	PageSize       int
	RateLimitRPS   float64
	RateLimitBurst int
}

// Client talks to a FHIR server.
type Client struct {
	cfg        Config
	base       *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	auth       *authenticator
	sleep      func(ctx context.Context, d time.Duration) error
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// New creates a Client. The base URL must be absolute.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse FHIR base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("FHIR base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}

	c := &Client{
		cfg:        cfg,
		base:       base,
		httpClient: &http.Client{},
		sleep:      sleepContext,
		logger:     zerolog.Nop(),
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	for _, opt := range opts {
		opt(c)
	}

	auth, err := newAuthenticator(cfg.AuthType, cfg.AuthToken, c.logger)
	if err != nil {
		return nil, err
	}
	c.auth = auth
	return c, nil
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// get performs a GET with retries and returns the response body.
// resource labels metrics and logs.
func (c *Client) get(ctx context.Context, resource, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			c.logger.Warn().
				Err(lastErr).
				Str("resource", resource).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying FHIR request")
			metrics.RecordFHIRRetry(resource)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		body, err := c.attempt(ctx, resource, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !IsRetriable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, resource, rawURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if err := c.auth.check(rawURL); err != nil {
		return nil, err
	}

	attemptCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindClient, URL: rawURL, Message: "invalid request", Err: err}
	}
	req.Header.Set("Accept", contentType)
	c.auth.apply(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		ferr := transportError(ctx, attemptCtx, rawURL, err)
		metrics.RecordFHIRRequest(resource, string(outcomeOf(ferr)), time.Since(start))
		return nil, ferr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		ferr := transportError(ctx, attemptCtx, rawURL, err)
		metrics.RecordFHIRRequest(resource, string(outcomeOf(ferr)), time.Since(start))
		return nil, ferr
	}

	if resp.StatusCode >= 400 {
		ferr := statusError(resp.StatusCode, rawURL, outcomeDiagnostics(body))
		metrics.RecordFHIRRequest(resource, string(ferr.Kind), time.Since(start))
		return nil, ferr
	}

	metrics.RecordFHIRRequest(resource, "success", time.Since(start))
	return body, nil
}

// resolve turns a server-provided link into an absolute URL on the base.
func (c *Client) resolve(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", parsingError(link, err)
	}
	return c.base.ResolveReference(u).String(), nil
}

// resourceURL builds {base}/{path}?{query}.
func (c *Client) resourceURL(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func outcomeOf(err error) Kind {
	if k := KindOf(err); k != "" {
		return k
	}
	return "canceled"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
