package jobs

import (
	"context"
	"log/slog"

	"github.com/crawlforge/crawlforge/internal/config"
	"github.com/crawlforge/crawlforge/pkg/logger"
	"github.com/crawlforge/crawlforge/pkg/mathutil"
)

// activeChunkCounter is the slice of the repository the monitor needs
type activeChunkCounter interface {
	SumActiveChunks(ctx context.Context) (int, error)
}

// CapacityMonitor reports global chunk occupancy against the effective
// ceiling. It holds no state; every question is answered from the
// database.
//
// Capacity checks fail CLOSED: when the active count cannot be read the
// monitor reports zero headroom. Over-admission exhausts temp storage,
// so uncertainty must deny. This is deliberately the opposite of the
// quota enforcer.
type CapacityMonitor struct {
	counter activeChunkCounter
	cfg     *config.ResourceConfig
	log     *slog.Logger
}

// NewCapacityMonitor creates a new capacity monitor
func NewCapacityMonitor(repo *Repository, cfg *config.Config, log *slog.Logger) *CapacityMonitor {
	return &CapacityMonitor{
		counter: repo,
		cfg:     &cfg.Resource,
		log:     log.With(logger.Scope("capacity")),
	}
}

// EffectiveMax returns the admission ceiling
func (m *CapacityMonitor) EffectiveMax() int {
	return m.cfg.EffectiveMaxChunks()
}

// ActiveCount returns the number of chunks currently in flight
func (m *CapacityMonitor) ActiveCount(ctx context.Context) (int, error) {
	return m.counter.SumActiveChunks(ctx)
}

// Available returns the remaining headroom, zero on error
func (m *CapacityMonitor) Available(ctx context.Context) int {
	active, err := m.counter.SumActiveChunks(ctx)
	if err != nil {
		m.log.Warn("active chunk count unavailable, reporting zero headroom", logger.Error(err))
		return 0
	}
	return mathutil.MaxInt(0, m.EffectiveMax()-active)
}

// CanAdmit reports whether k more chunks fit under the ceiling
func (m *CapacityMonitor) CanAdmit(ctx context.Context, k int) bool {
	return m.Available(ctx) >= k
}
