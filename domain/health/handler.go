package health

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/crawlforge/crawlforge/internal/storage"
	"github.com/crawlforge/crawlforge/internal/version"
)

// Handler handles health check requests
type Handler struct {
	pool    *pgxpool.Pool
	store   storage.Store
	startAt time.Time
}

// NewHandler creates a new health handler
func NewHandler(pool *pgxpool.Pool, store storage.Store) *Handler {
	return &Handler{
		pool:    pool,
		store:   store,
		startAt: time.Now(),
	}
}

// Check represents an individual health check result
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
}

// Health returns the overall service health
// GET /health
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	checks := map[string]Check{}
	overall := "healthy"

	dbCheck := Check{Status: "healthy"}
	if err := h.pool.Ping(ctx); err != nil {
		dbCheck = Check{Status: "unhealthy", Message: err.Error()}
		overall = "unhealthy"
	}
	checks["database"] = dbCheck

	storeCheck := Check{Status: "healthy"}
	if _, err := h.store.List(ctx, "health/"); err != nil {
		storeCheck = Check{Status: "unhealthy", Message: err.Error()}
		overall = "unhealthy"
	}
	checks["storage"] = storeCheck

	response := HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(h.startAt).String(),
		Version:   version.Version,
		Checks:    checks,
	}

	statusCode := http.StatusOK
	if overall == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	return c.JSON(statusCode, response)
}

// Healthz is the liveness probe
// GET /healthz
func (h *Handler) Healthz(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// Ready is the readiness probe: ready once the database answers
// GET /ready
func (h *Handler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.pool.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"ready": false,
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"ready": true})
}
