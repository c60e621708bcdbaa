package roadsafety

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/roadsafety/internal/platform/cache"
	"github.com/ehr/roadsafety/internal/platform/fhir"
	"github.com/ehr/roadsafety/internal/platform/fhirclient"
)

// SessionHeader identifies a dashboard session. Without it the client IP is
// used.
const SessionHeader = "X-Dashboard-Session"

// CacheAdmin is a cache the API can inspect and clear.
type CacheAdmin interface {
	Stats() cache.Stats
	Clear()
}

// Defaults are the denominators used when a request does not give them.
type Defaults struct {
	PopulationAtRisk float64
	VehicleCount     float64
}

type Handler struct {
	svc      *Service
	sessions *Sessions
	defaults Defaults
	caches   []CacheAdmin
	logger   zerolog.Logger
}

func NewHandler(svc *Service, defaults Defaults, logger zerolog.Logger, caches ...CacheAdmin) *Handler {
	return &Handler{
		svc:      svc,
		sessions: NewSessions(),
		defaults: defaults,
		caches:   caches,
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/dashboard", h.GetDashboard)
	api.GET("/cache/stats", h.CacheStats)
	api.POST("/cache/clear", h.ClearCaches)
}

// ParseQuery reads dashboard parameters from the request.
func (h *Handler) ParseQuery(c echo.Context) (Query, error) {
	q := Query{
		PopulationAtRisk: h.defaults.PopulationAtRisk,
		VehicleCount:     h.defaults.VehicleCount,
		Per:              PerHundredThousand,
	}

	w, err := ParseDateWindow(c.QueryParam("start"), c.QueryParam("end"))
	if err != nil {
		return q, err
	}
	q.Window = w

	if q.PopulationAtRisk, err = nonNegative(c, "population", q.PopulationAtRisk); err != nil {
		return q, err
	}
	if q.VehicleCount, err = nonNegative(c, "vehicles", q.VehicleCount); err != nil {
		return q, err
	}
	if v := c.QueryParam("per"); v != "" {
		per, err := strconv.ParseFloat(v, 64)
		if err != nil || !ValidRateBase(per) {
			return q, fmt.Errorf("invalid per %q: expected 1000, 10000, 100000 or 1000000", v)
		}
		q.Per = per
	}
	return q, nil
}

func nonNegative(c echo.Context, name string, def float64) (float64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s %q: expected a non-negative number", name, v)
	}
	return f, nil
}

func (h *Handler) GetDashboard(c echo.Context) error {
	q, err := h.ParseQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, fhir.NewOperationOutcome(fhir.IssueSeverityError, fhir.IssueTypeInvalid, err.Error()))
	}

	session := c.Request().Header.Get(SessionHeader)
	if session == "" {
		session = c.RealIP()
	}

	rep, err := Run(c.Request().Context(), h.sessions, session, q.Key(), func(ctx context.Context) (*Report, error) {
		return h.svc.Compute(ctx, q)
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) writeError(c echo.Context, err error) error {
	var (
		status = http.StatusInternalServerError
		code   = fhir.IssueTypeProcessing
		msg    = err.Error()
	)
	var fe *fhirclient.Error
	switch {
	case errors.Is(err, ErrSuperseded):
		status, code = http.StatusConflict, fhir.IssueTypeConflict
	case errors.Is(err, fhirclient.ErrAuth):
		status, code = http.StatusBadGateway, fhir.IssueTypeSecurity
	case errors.Is(err, fhirclient.ErrClient):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, fhir.IssueTypeTransient
	case errors.As(err, &fe):
		status, code = http.StatusBadGateway, fhir.IssueTypeTransient
	}
	if errors.As(err, &fe) {
		msg = fe.Error()
	}
	h.logger.Warn().Err(err).Int("status", status).Msg("dashboard request failed")
	return c.JSON(status, fhir.NewOperationOutcome(fhir.IssueSeverityError, code, msg))
}

func (h *Handler) CacheStats(c echo.Context) error {
	stats := make([]cache.Stats, 0, len(h.caches))
	for _, ca := range h.caches {
		stats = append(stats, ca.Stats())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"caches": stats})
}

func (h *Handler) ClearCaches(c echo.Context) error {
	for _, ca := range h.caches {
		ca.Clear()
	}
	h.logger.Info().Int("caches", len(h.caches)).Msg("caches cleared")
	return c.NoContent(http.StatusNoContent)
}
