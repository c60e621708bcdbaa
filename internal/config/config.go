package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Port string `mapstructure:"PORT"`
	Env  string `mapstructure:"ENV"`

	FHIRBaseURL          string  `mapstructure:"FHIR_BASE_URL"`
	FHIRAuthType         string  `mapstructure:"FHIR_AUTH_TYPE"`
	FHIRAuthToken        string  `mapstructure:"FHIR_AUTH_TOKEN"`
	FHIRTimeoutMS        int     `mapstructure:"FHIR_TIMEOUT_MS"`
	FHIRRetryAttempts    int     `mapstructure:"FHIR_RETRY_ATTEMPTS"`
	FHIRRetryBaseDelayMS int     `mapstructure:"FHIR_RETRY_BASE_DELAY_MS"`
	FHIRPageSize         int     `mapstructure:"FHIR_PAGE_SIZE"`
	FHIRFetchConcurrency int     `mapstructure:"FHIR_FETCH_CONCURRENCY"`
	FHIRRateLimitRPS     float64 `mapstructure:"FHIR_RATE_LIMIT_RPS"`
	FHIRRateLimitBurst   int     `mapstructure:"FHIR_RATE_LIMIT_BURST"`

	ValueSetTrafficEncounterURL     string `mapstructure:"FHIR_VS_TRAFFIC_ENCOUNTER_URL"`
	ValueSetInjuryMOIURL            string `mapstructure:"FHIR_VS_INJURY_MOI_URL"`
	ValueSetDischargeDispositionURL string `mapstructure:"FHIR_VS_DISCHARGE_DISPOSITION_URL"`

	// Accepted so existing deployments keep loading; nothing consults them.
	// The outcome set also lists survivable outcomes, so membership cannot
	// signal a death.
	ValueSetObservationCategoryURL string `mapstructure:"FHIR_VS_OBSERVATION_CATEGORY_URL"`
	ValueSetObservationOutcomeURL  string `mapstructure:"FHIR_VS_OBSERVATION_OUTCOME_URL"`

	ClassifierStrategy     string `mapstructure:"CLASSIFIER_STRATEGY"`
	TrafficQualifyingCodes string `mapstructure:"TRAFFIC_QUALIFYING_CODES"`
	OutcomeDiedSystem      string `mapstructure:"OUTCOME_DIED_SYSTEM"`
	OutcomeDiedCode        string `mapstructure:"OUTCOME_DIED_CODE"`

	PopulationAtRisk float64 `mapstructure:"POPULATION_AT_RISK"`
	VehicleCount     float64 `mapstructure:"VEHICLE_COUNT"`

	ValueSetCacheTTL time.Duration `mapstructure:"VALUESET_CACHE_TTL"`
	PatientCacheTTL  time.Duration `mapstructure:"PATIENT_CACHE_TTL"`
	PatientCacheSize int           `mapstructure:"PATIENT_CACHE_SIZE"`

	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	APIRateLimitRPS   float64       `mapstructure:"API_RATE_LIMIT_RPS"`
	APIRateLimitBurst int           `mapstructure:"API_RATE_LIMIT_BURST"`
}

var defaults = map[string]interface{}{
	"PORT":                              "8000",
	"ENV":                               "development",
	"FHIR_BASE_URL":                     "https://cdr.fhirlab.net/fhir",
	"FHIR_AUTH_TYPE":                    "none",
	"FHIR_AUTH_TOKEN":                   "",
	"FHIR_TIMEOUT_MS":                   30000,
	"FHIR_RETRY_ATTEMPTS":               3,
	"FHIR_RETRY_BASE_DELAY_MS":          500,
	"FHIR_PAGE_SIZE":                    200,
	"FHIR_FETCH_CONCURRENCY":            8,
	"FHIR_RATE_LIMIT_RPS":               20,
	"FHIR_RATE_LIMIT_BURST":             40,
	"FHIR_VS_TRAFFIC_ENCOUNTER_URL":     "http://fhir.ph/ValueSet/road-traffic-encounters",
	"FHIR_VS_INJURY_MOI_URL":            "http://fhir.ph/ValueSet/injury-mechanism-of-injury",
	"FHIR_VS_OBSERVATION_CATEGORY_URL":  "http://fhir.ph/ValueSet/observation-category",
	"FHIR_VS_DISCHARGE_DISPOSITION_URL": "http://fhir.ph/ValueSet/discharge-disposition",
	"FHIR_VS_OBSERVATION_OUTCOME_URL":   "https://build.fhir.org/ig/UPM-NTHC/PH-RoadSafetyIG/ValueSet/rs-observation-outcome-release",
	"CLASSIFIER_STRATEGY":               "keyword",
	"TRAFFIC_QUALIFYING_CODES":          "274215009,127348004",
	"OUTCOME_DIED_SYSTEM":               "http://snomed.info/sct",
	"OUTCOME_DIED_CODE":                 "419099009",
	"POPULATION_AT_RISK":                1000000,
	"VEHICLE_COUNT":                     50000,
	"VALUESET_CACHE_TTL":                "5m",
	"PATIENT_CACHE_TTL":                 "10m",
	"PATIENT_CACHE_SIZE":                1000,
	"LOG_LEVEL":                         "INFO",
	"DATABASE_URL":                      "",
	"DB_MAX_CONNS":                      10,
	"DB_MIN_CONNS":                      2,
	"REQUEST_TIMEOUT":                   "60s",
	"CORS_ORIGINS":                      "http://localhost:3000",
	"API_RATE_LIMIT_RPS":                2,
	"API_RATE_LIMIT_BURST":              5,
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Binding every key lets Unmarshal see variables that only exist in
	// the environment.
	for key, def := range defaults {
		v.SetDefault(key, def)
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = splitList(cfg.CORSOrigins[0])
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HasDatabase reports whether report history should be persisted.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) FHIRTimeout() time.Duration {
	return time.Duration(c.FHIRTimeoutMS) * time.Millisecond
}

func (c *Config) FHIRRetryBaseDelay() time.Duration {
	return time.Duration(c.FHIRRetryBaseDelayMS) * time.Millisecond
}

// FHIRRequestBudget is the longest one request may take across all retry
// attempts and backoff delays. Zero when attempts have no timeout.
func (c *Config) FHIRRequestBudget() time.Duration {
	if c.FHIRTimeoutMS <= 0 {
		return 0
	}
	attempts := c.FHIRRetryAttempts + 1
	if attempts < 1 {
		attempts = 1
	}
	backoff := c.FHIRRetryBaseDelay() * time.Duration((1<<uint(attempts))-1)
	return c.FHIRTimeout()*time.Duration(attempts) + backoff
}

// QualifyingCodes splits TRAFFIC_QUALIFYING_CODES into "code" or
// "system|code" tokens.
func (c *Config) QualifyingCodes() []string {
	return splitList(c.TrafficQualifyingCodes)
}

// ZerologLevel maps LOG_LEVEL onto a zerolog level.
func (c *Config) ZerologLevel() (zerolog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(c.LogLevel)) {
	case "ERROR":
		return zerolog.ErrorLevel, nil
	case "WARN", "WARNING":
		return zerolog.WarnLevel, nil
	case "", "INFO":
		return zerolog.InfoLevel, nil
	case "DEBUG":
		return zerolog.DebugLevel, nil
	}
	return zerolog.NoLevel, fmt.Errorf("LOG_LEVEL must be ERROR, WARN, INFO or DEBUG, got %q", c.LogLevel)
}

// Validate checks that the configuration is usable before anything is
// started.
func (c *Config) Validate() error {
	u, err := url.Parse(c.FHIRBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("FHIR_BASE_URL must be an absolute URL, got %q", c.FHIRBaseURL)
	}

	switch strings.ToLower(c.FHIRAuthType) {
	case "none", "":
	case "bearer", "oauth":
		if c.FHIRAuthToken == "" {
			return fmt.Errorf("FHIR_AUTH_TOKEN is required when FHIR_AUTH_TYPE is %q", c.FHIRAuthType)
		}
	default:
		return fmt.Errorf("FHIR_AUTH_TYPE must be \"none\", \"bearer\" or \"oauth\", got %q", c.FHIRAuthType)
	}

	switch strings.ToLower(strings.TrimSpace(c.ClassifierStrategy)) {
	case "", "keyword", "valueset":
	default:
		return fmt.Errorf("CLASSIFIER_STRATEGY must be \"keyword\" or \"valueset\", got %q", c.ClassifierStrategy)
	}

	if _, err := c.ZerologLevel(); err != nil {
		return err
	}
	if c.FHIRPageSize <= 0 {
		return fmt.Errorf("FHIR_PAGE_SIZE must be positive, got %d", c.FHIRPageSize)
	}
	if c.FHIRRetryAttempts < 0 {
		return fmt.Errorf("FHIR_RETRY_ATTEMPTS must not be negative, got %d", c.FHIRRetryAttempts)
	}
	if c.FHIRTimeoutMS < 0 || c.FHIRRetryBaseDelayMS < 0 || c.RequestTimeout < 0 {
		return fmt.Errorf("timeouts and delays must not be negative")
	}
	if c.PopulationAtRisk < 0 || c.VehicleCount < 0 {
		return fmt.Errorf("POPULATION_AT_RISK and VEHICLE_COUNT must not be negative")
	}
	if c.ValueSetCacheTTL <= 0 || c.PatientCacheTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.HasDatabase() && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
