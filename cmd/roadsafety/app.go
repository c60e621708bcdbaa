package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/roadsafety/internal/config"
	"github.com/ehr/roadsafety/internal/domain/roadsafety"
	"github.com/ehr/roadsafety/internal/platform/cache"
	"github.com/ehr/roadsafety/internal/platform/db"
	"github.com/ehr/roadsafety/internal/platform/fhir"
	"github.com/ehr/roadsafety/internal/platform/fhirclient"
	"github.com/ehr/roadsafety/internal/platform/metrics"
	"github.com/ehr/roadsafety/internal/platform/middleware"
	"github.com/ehr/roadsafety/internal/platform/reporting"
	"github.com/ehr/roadsafety/internal/platform/terminology"
)

const cacheCleanupInterval = time.Minute

// app holds the wired components shared by serve and report.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      *pgxpool.Pool
	valueSets *terminology.Resolver
	patients  *roadsafety.PatientResolver
	service   *roadsafety.Service
	snapshots reporting.Store
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	client, err := fhirclient.New(fhirclient.Config{
		BaseURL:        cfg.FHIRBaseURL,
		AuthType:       cfg.FHIRAuthType,
		AuthToken:      cfg.FHIRAuthToken,
		Timeout:        cfg.FHIRTimeout(),
		RetryAttempts:  cfg.FHIRRetryAttempts,
		RetryBaseDelay: cfg.FHIRRetryBaseDelay(),
		PageSize:       cfg.FHIRPageSize,
		RateLimitRPS:   cfg.FHIRRateLimitRPS,
		RateLimitBurst: cfg.FHIRRateLimitBurst,
	}, fhirclient.WithLogger(logger.With().Str("component", "fhirclient").Logger()))
	if err != nil {
		return nil, err
	}

	vsCache := cache.New[[]fhir.Coding]("valuesets", cfg.ValueSetCacheTTL,
		cache.WithObserver(metrics.CacheObserver("valuesets")),
		cache.WithLoadTimeout(cfg.FHIRRequestBudget()))
	vsCache.StartCleanup(ctx, cacheCleanupInterval)
	a.valueSets = terminology.NewResolver(client, vsCache, 0, logger)

	patientCache := cache.New[*fhir.Patient]("patients", cfg.PatientCacheTTL,
		cache.WithMaxEntries(cfg.PatientCacheSize),
		cache.WithObserver(metrics.CacheObserver("patients")),
		cache.WithLoadTimeout(cfg.FHIRRequestBudget()))
	patientCache.StartCleanup(ctx, cacheCleanupInterval)
	a.patients = roadsafety.NewPatientResolver(client, patientCache, cfg.FHIRFetchConcurrency, logger)

	strategy, err := roadsafety.ParseStrategy(cfg.ClassifierStrategy)
	if err != nil {
		return nil, err
	}
	classifier := roadsafety.NewClassifier(roadsafety.ClassifierConfig{
		Strategy:        strategy,
		QualifyingCodes: cfg.QualifyingCodes(),
		TrafficValueSet: cfg.ValueSetTrafficEncounterURL,
		InjuryValueSet:  cfg.ValueSetInjuryMOIURL,
	}, a.valueSets, logger)
	outcomes := roadsafety.NewOutcomeResolver(roadsafety.OutcomeConfig{
		DiedSystem:          cfg.OutcomeDiedSystem,
		DiedCode:            cfg.OutcomeDiedCode,
		DispositionValueSet: cfg.ValueSetDischargeDispositionURL,
	}, a.valueSets, logger)

	if cfg.HasDatabase() {
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, err
		}
		if _, err := db.NewMigrator(pool, db.Migrations()).Up(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate snapshot database: %w", err)
		}
		a.pool = pool
		a.snapshots = reporting.NewPGStore(pool)
		logger.Info().Msg("connected to snapshot database")
	} else {
		a.snapshots = reporting.NewInMemoryStore(0)
	}

	a.service = roadsafety.NewService(client, classifier, outcomes, a.patients, logger,
		roadsafety.WithSnapshotSaver(a.snapshots),
		roadsafety.WithPageSize(cfg.FHIRPageSize),
	)
	return a, nil
}

// Server builds the HTTP server with every route registered.
func (a *app) Server() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	if len(a.cfg.CORSOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: a.cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost},
			AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader, roadsafety.SessionHeader},
		}))
	}
	e.Use(metrics.Middleware())
	e.Use(middleware.RequestTimeout(a.cfg.RequestTimeout, "/metrics"))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.APIRateLimitRPS,
		BurstSize:         a.cfg.APIRateLimitBurst,
	}))

	dashboard := roadsafety.NewHandler(a.service, roadsafety.Defaults{
		PopulationAtRisk: a.cfg.PopulationAtRisk,
		VehicleCount:     a.cfg.VehicleCount,
	}, a.logger, a.valueSets, a.patients)
	dashboard.RegisterRoutes(apiV1)
	reporting.NewHandler(a.snapshots).RegisterRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":        "ok",
			"fhir_base_url": a.cfg.FHIRBaseURL,
		})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return e
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
