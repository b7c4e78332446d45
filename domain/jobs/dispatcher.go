package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/crawlforge/crawlforge/internal/config"
	"github.com/crawlforge/crawlforge/internal/taskqueue"
	"github.com/crawlforge/crawlforge/pkg/apperror"
	"github.com/crawlforge/crawlforge/pkg/logger"
)

// Dispatcher hands a job's chunks to the external task queue and
// records the returned task ids.
type Dispatcher struct {
	store    txBeginner
	queue    taskqueue.Queue
	capacity *CapacityMonitor
	cfg      *config.Config
	log      *slog.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(repo *Repository, queue taskqueue.Queue, capacity *CapacityMonitor, cfg *config.Config, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:    repo,
		queue:    queue,
		capacity: capacity,
		cfg:      cfg,
		log:      log.With(logger.Scope("dispatcher")),
	}
}

// Dispatch enqueues every pending chunk of a pending job and
// transitions it to running. Calling it on a job that already left
// pending returns the recorded task ids without side effects. Task rows
// are written through the dispatch transaction, so an abort leaves no
// live tasks behind.
//
// The ceiling is advisory at dispatch time: an over-capacity job is
// admitted with a warning, because the queue and the worker pool are
// the hard back-pressure. Per-chunk admission happens at the queue.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID int64) ([]string, error) {
	tx, err := d.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job, err := tx.GetJobForUpdate(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperror.ErrJobNotFound
	}

	if job.Status != StatusPending {
		return job.TaskIDs, nil
	}

	if !d.capacity.CanAdmit(ctx, job.TotalChunks) {
		d.log.Warn("dispatching over capacity ceiling",
			slog.Int64("jobID", job.ID),
			slog.Int("chunks", job.TotalChunks),
			slog.Int("available", d.capacity.Available(ctx)))
	}

	chunks, err := tx.ListChunksForDispatch(ctx, jobID)
	if err != nil {
		return nil, err
	}

	taskIDs := make([]string, 0, len(chunks))
	for i := range chunks {
		chunk := &chunks[i]

		sig := taskqueue.CrawlChunkSignature(
			d.cfg.Queue.Name,
			job.ID, chunk.ID,
			chunk.RangeStart, chunk.RangeEnd,
			job.Keywords, job.Engine,
			chunk.Priority,
		)

		taskID, err := d.queue.EnqueueTx(ctx, tx.IDB(), sig)
		if err != nil {
			d.log.Error("enqueue failed, aborting dispatch",
				logger.Error(err),
				slog.Int64("jobID", job.ID),
				slog.Int("chunkIndex", chunk.ChunkIndex))
			return nil, apperror.NewDependency("task queue unavailable", err)
		}

		chunk.Status = ChunkProcessing
		chunk.TaskID = taskID
		if err := tx.UpdateChunk(ctx, chunk); err != nil {
			return nil, err
		}

		taskIDs = append(taskIDs, taskID)
	}

	now := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &now
	// Settled chunks keep their recorded task ids; only newly
	// dispatched ones are appended.
	job.TaskIDs = append(job.TaskIDs, taskIDs...)
	if err := tx.Update(ctx, job); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		d.log.Error("failed to commit dispatch", logger.Error(err), slog.Int64("jobID", job.ID))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	d.log.Info("job dispatched",
		slog.Int64("jobID", job.ID),
		slog.Int("chunks", len(taskIDs)))

	return job.TaskIDs, nil
}
