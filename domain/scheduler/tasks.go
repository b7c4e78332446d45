package scheduler

import (
	"context"
	"log/slog"

	"github.com/crawlforge/crawlforge/domain/cleanup"
	"github.com/crawlforge/crawlforge/internal/config"
	"github.com/crawlforge/crawlforge/internal/taskqueue"
	"github.com/crawlforge/crawlforge/pkg/logger"
)

// CleanupTask runs the scheduled cleanup trigger
type CleanupTask struct {
	engine *cleanup.Engine
	log    *slog.Logger
}

// NewCleanupTask creates the periodic cleanup task
func NewCleanupTask(engine *cleanup.Engine, log *slog.Logger) *CleanupTask {
	return &CleanupTask{
		engine: engine,
		log:    log.With(logger.Scope("scheduler.cleanup")),
	}
}

// Run executes one scheduled cleanup pass
func (t *CleanupTask) Run(ctx context.Context) error {
	stats := t.engine.RunScheduled(ctx)
	if len(stats.Errors) > 0 {
		t.log.Warn("scheduled cleanup finished with errors",
			slog.Int("deleted", stats.FilesDeleted),
			slog.Int("errors", len(stats.Errors)))
	}
	return nil
}

// QueueMaintenanceTask requeues tasks whose worker went silent
type QueueMaintenanceTask struct {
	queue *taskqueue.PGQueue
	cfg   *config.QueueConfig
	log   *slog.Logger
}

// NewQueueMaintenanceTask creates the periodic queue upkeep task
func NewQueueMaintenanceTask(queue *taskqueue.PGQueue, cfg *config.Config, log *slog.Logger) *QueueMaintenanceTask {
	return &QueueMaintenanceTask{
		queue: queue,
		cfg:   &cfg.Queue,
		log:   log.With(logger.Scope("scheduler.queue")),
	}
}

// Run recovers tasks stuck in processing past the stale threshold
func (t *QueueMaintenanceTask) Run(ctx context.Context) error {
	recovered, err := t.queue.RecoverStale(ctx, t.cfg.StaleThreshold)
	if err != nil {
		return err
	}
	if recovered > 0 {
		t.log.Warn("recovered stale queue tasks", slog.Int("count", recovered))
	}
	return nil
}
