package health

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/crawlforge/crawlforge/domain/jobs"
	"github.com/crawlforge/crawlforge/internal/storage"
	"github.com/crawlforge/crawlforge/internal/taskqueue"
)

// MetricsHandler serves operational snapshots: queue depth, chunk
// occupancy and storage pressure.
type MetricsHandler struct {
	queue    *taskqueue.PGQueue
	capacity *jobs.CapacityMonitor
	store    storage.Store
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(queue *taskqueue.PGQueue, capacity *jobs.CapacityMonitor, store storage.Store) *MetricsHandler {
	return &MetricsHandler{
		queue:    queue,
		capacity: capacity,
		store:    store,
	}
}

// CapacityMetrics reports chunk occupancy against the ceiling
type CapacityMetrics struct {
	ActiveChunks  int  `json:"activeChunks"`
	EffectiveMax  int  `json:"effectiveMax"`
	Available     int  `json:"available"`
	CountReadable bool `json:"countReadable"`
}

// QueueMetrics returns task queue statistics
// GET /api/metrics/queue
func (h *MetricsHandler) QueueMetrics(c echo.Context) error {
	stats, err := h.queue.GetStats(c.Request().Context())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"queue":     stats,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// CapacityMetricsHandler returns global chunk occupancy
// GET /api/metrics/capacity
func (h *MetricsHandler) CapacityMetricsHandler(c echo.Context) error {
	ctx := c.Request().Context()

	metrics := CapacityMetrics{
		EffectiveMax: h.capacity.EffectiveMax(),
	}
	if active, err := h.capacity.ActiveCount(ctx); err == nil {
		metrics.ActiveChunks = active
		metrics.CountReadable = true
	}
	metrics.Available = h.capacity.Available(ctx)

	return c.JSON(http.StatusOK, metrics)
}

// StorageMetrics returns temp-storage pressure
// GET /api/metrics/storage
func (h *MetricsHandler) StorageMetrics(c echo.Context) error {
	usage, err := h.store.UsagePercent(c.Request().Context())
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"usagePercent": usage,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
