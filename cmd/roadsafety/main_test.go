package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/roadsafety/internal/config"
)

// fakeFHIR serves one fatal road traffic case.
func fakeFHIR(t *testing.T) *httptest.Server {
	t.Helper()
	resources := map[string]string{
		"/fhir/Encounter": `{"resourceType":"Encounter","id":"e1","status":"finished",
			"subject":{"reference":"Patient/p1"},"period":{"start":"2024-03-10"},
			"hospitalization":{"dischargeDisposition":{"coding":[{"code":"exp"}]}}}`,
		"/fhir/Condition": `{"resourceType":"Condition","id":"c1","subject":{"reference":"Patient/p1"},
			"recordedDate":"2024-03-10","code":{"coding":[{"system":"http://snomed.info/sct","code":"274215009","display":"Transport accident"}]}}`,
		"/fhir/Observation": "",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/fhir+json")
		if r.URL.Path == "/fhir/Patient/p1" {
			fmt.Fprint(w, `{"resourceType":"Patient","id":"p1","gender":"male","birthDate":"1990-01-01"}`)
			return
		}
		entry, ok := resources[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		entries := ""
		if entry != "" {
			entries = `{"resource":` + entry + `}`
		}
		fmt.Fprintf(w, `{"resourceType":"Bundle","type":"searchset","entry":[%s]}`, entries)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	t.Setenv("FHIR_BASE_URL", baseURL)
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg.DatabaseURL = ""
	cfg.FHIRRetryAttempts = 0
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestServer_Dashboard(t *testing.T) {
	srv := fakeFHIR(t)
	cfg := testConfig(t, srv.URL+"/fhir")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := newApp(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	defer a.Close()
	e := a.Server()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard?start=2024-03-01&end=2024-03-31&population=100000", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}

	var body struct {
		Metrics struct {
			TotalFatalities int     `json:"totalFatalities"`
			MortalityRate   float64 `json:"mortalityRate"`
		} `json:"metrics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Metrics.TotalFatalities != 1 || body.Metrics.MortalityRate != 1 {
		t.Errorf("unexpected metrics %+v", body.Metrics)
	}

	// The computed dashboard lands in the history.
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/history", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one snapshot in history, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv := fakeFHIR(t)
	cfg := testConfig(t, srv.URL+"/fhir")

	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	e := a.Server()

	for _, path := range []string{"/health", "/metrics", "/api/v1/cache/stats"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/db", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected /health/db absent without a database, got %d", rec.Code)
	}
}

func TestServer_UpstreamUnavailable(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer down.Close()
	cfg := testConfig(t, down.URL+"/fhir")
	cfg.RequestTimeout = 5 * time.Second

	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	a.Server().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for rejected credentials, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReportCmd_RejectsBadRateBase(t *testing.T) {
	cmd := reportCmd()
	cmd.SetArgs([]string{"--per", "500"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "--per") {
		t.Errorf("expected --per validation error, got %v", err)
	}
}
