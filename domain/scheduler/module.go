package scheduler

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/crawlforge/crawlforge/domain/cleanup"
	"github.com/crawlforge/crawlforge/internal/config"
	"github.com/crawlforge/crawlforge/internal/taskqueue"
)

// Module provides the periodic task scheduler
var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(
		RegisterTasks,
		RegisterSchedulerLifecycle,
	),
)

// TaskParams collects the dependencies of the registered tasks
type TaskParams struct {
	fx.In

	Scheduler *Scheduler
	Engine    *cleanup.Engine
	Queue     *taskqueue.PGQueue
	Cfg       *config.Config
	Log       *slog.Logger
}

// RegisterTasks wires the periodic tasks into the scheduler
func RegisterTasks(p TaskParams) error {
	if !p.Cfg.SchedulerEnabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	cleanupTask := NewCleanupTask(p.Engine, p.Log)
	if err := p.Scheduler.AddIntervalTask("scheduled_cleanup",
		p.Cfg.Cleanup.ScheduledInterval, cleanupTask.Run); err != nil {
		return err
	}

	queueTask := NewQueueMaintenanceTask(p.Queue, p.Cfg, p.Log)
	if err := p.Scheduler.AddIntervalTask("queue_maintenance",
		p.Cfg.Queue.MaintenanceInterval, queueTask.Run); err != nil {
		return err
	}

	p.Log.Info("registered scheduled tasks",
		slog.Any("tasks", p.Scheduler.ListTasks()))

	return nil
}

// RegisterSchedulerLifecycle ties the scheduler to the fx lifecycle
func RegisterSchedulerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *config.Config) {
	if !cfg.SchedulerEnabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return scheduler.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
