package jobs

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/crawlforge/crawlforge/pkg/apperror"
	"github.com/crawlforge/crawlforge/pkg/logger"
)

// Aggregator consumes per-chunk completion events. The queue delivers
// at least once, so every event must be safe to replay: the chunk's
// status is the dedup record, and all reads and writes happen under the
// job row lock so per-job counter arithmetic is linearisable.
type Aggregator struct {
	store txBeginner
	log   *slog.Logger
}

// NewAggregator creates a new result aggregator
func NewAggregator(repo *Repository, log *slog.Logger) *Aggregator {
	return &Aggregator{
		store: repo,
		log:   log.With(logger.Scope("aggregator")),
	}
}

// HandleCompletion merges one chunk result into the job. Duplicate
// deliveries are no-ops.
func (a *Aggregator) HandleCompletion(ctx context.Context, jobID, chunkID int64, taskID string, result CompletionResult) error {
	tx, err := a.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Lock the job row first. Every completion for the same job
	// serialises here.
	job, err := tx.GetJobForUpdate(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return apperror.ErrJobNotFound
	}

	chunk, err := tx.GetChunk(ctx, jobID, chunkID)
	if err != nil {
		return err
	}
	if chunk == nil {
		return apperror.NewNotFound("chunk", "")
	}

	switch chunk.Status {
	case ChunkCompleted, ChunkFailed:
		// Duplicate delivery: the first event already settled this
		// chunk. No counter changes, no image inserts.
		a.log.Debug("duplicate completion ignored",
			slog.Int64("jobID", jobID),
			slog.Int64("chunkID", chunkID),
			slog.String("taskID", taskID))
		return tx.Commit()
	case ChunkPending:
		// Completion arrived before this process observed the
		// dispatch. The work evidently ran, so treat as processing.
		a.log.Warn("completion for undispatched chunk",
			slog.Int64("jobID", jobID),
			slog.Int64("chunkID", chunkID),
			slog.String("taskID", taskID))
	}

	images := make([]ImageRecord, len(result.Images))
	validCount := 0
	duplicateCount := 0
	failedCount := 0
	for i, img := range result.Images {
		images[i] = ImageRecord{
			ChunkID:     chunk.ID,
			JobID:       job.ID,
			SourceURL:   img.SourceURL,
			Filename:    img.Filename,
			StorageKey:  img.StorageKey,
			IsValid:     img.IsValid,
			IsDuplicate: img.IsDuplicate,
			Metadata:    img.Metadata,
		}
		if img.IsValid {
			validCount++
		} else {
			failedCount++
		}
		if img.IsDuplicate {
			duplicateCount++
		}
	}
	if err := tx.BulkCreateImages(ctx, images); err != nil {
		return err
	}

	if result.OK {
		chunk.Status = ChunkCompleted
		chunk.ErrorMessage = ""
	} else {
		chunk.Status = ChunkFailed
		chunk.ErrorMessage = result.Error
	}
	if err := tx.UpdateChunk(ctx, chunk); err != nil {
		return err
	}

	job.ActiveChunks--
	if result.OK {
		job.CompletedChunks++
	} else {
		job.FailedChunks++
	}
	job.DownloadedImages += result.DownloadedCount
	job.ValidImages += validCount
	job.DuplicateImages += duplicateCount
	job.FailedImages += failedCount
	if job.TotalChunks > 0 {
		job.Progress = int(math.Round(100 * float64(job.CompletedChunks+job.FailedChunks) / float64(job.TotalChunks)))
	}

	if job.ActiveChunks == 0 && job.Status == StatusRunning {
		job.Status = terminalStatus(job.CompletedChunks, job.FailedChunks)
		now := time.Now().UTC()
		job.CompletedAt = &now

		a.log.Info("job reached terminal state",
			slog.Int64("jobID", job.ID),
			slog.String("status", job.Status),
			slog.Int("completedChunks", job.CompletedChunks),
			slog.Int("failedChunks", job.FailedChunks))
	}

	if err := tx.Update(ctx, job); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		a.log.Error("failed to commit completion", logger.Error(err), slog.Int64("jobID", jobID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

// terminalStatus applies the terminal rule once no chunks remain
// active: every chunk succeeded means completed, every chunk failed
// means failed, and a mix counts as a partial success.
func terminalStatus(completedChunks, failedChunks int) string {
	switch {
	case failedChunks == 0:
		return StatusCompleted
	case completedChunks == 0:
		return StatusFailed
	default:
		return StatusCompleted
	}
}
