// Package taskqueue provides the durable task queue between the
// orchestrator and the external crawl workers.
//
// The reference implementation is PostgreSQL-backed:
//   - Atomic dequeue with FOR UPDATE SKIP LOCKED
//   - Exponential backoff for retries
//   - Stale task recovery
//   - Cooperative revocation
//
// Delivery is at-least-once; the result aggregator deduplicates.
package taskqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/crawlforge/crawlforge/internal/config"
	"github.com/crawlforge/crawlforge/pkg/logger"
)

// Task status values
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRevoked    = "revoked"
)

// Queue is the capability the dispatcher and the cancel path depend on.
// Concrete queue runtimes hide behind it.
type Queue interface {
	// Enqueue submits a signature and returns an opaque task id.
	Enqueue(ctx context.Context, sig Signature) (string, error)
	// EnqueueTx submits a signature through the caller's transaction
	// handle, so the task row commits or rolls back with the caller's
	// state. A nil handle falls back to the queue's own connection.
	EnqueueTx(ctx context.Context, tx bun.IDB, sig Signature) (string, error)
	// Revoke requests cancellation of a previously enqueued task.
	// Revocation is cooperative: a worker already past the point of no
	// return may still deliver a completion.
	Revoke(ctx context.Context, taskID string, terminate bool) error
}

// QueueTask is a row in crawl.queue_tasks
type QueueTask struct {
	bun.BaseModel `bun:"table:crawl.queue_tasks,alias:qt"`

	ID           string     `bun:"id,pk,type:uuid" json:"id"`
	Queue        string     `bun:"queue,notnull" json:"queue"`
	Operation    string     `bun:"operation,notnull" json:"operation"`
	Signature    []byte     `bun:"signature,type:jsonb,notnull" json:"signature"`
	Status       string     `bun:"status,notnull,default:'pending'" json:"status"`
	Priority     int        `bun:"priority,notnull,default:0" json:"priority"`
	AttemptCount int        `bun:"attempt_count,notnull,default:0" json:"attemptCount"`
	LastError    *string    `bun:"last_error" json:"lastError,omitempty"`
	ScheduledAt  *time.Time `bun:"scheduled_at" json:"scheduledAt,omitempty"`
	StartedAt    *time.Time `bun:"started_at" json:"startedAt,omitempty"`
	CompletedAt  *time.Time `bun:"completed_at" json:"completedAt,omitempty"`
	RevokedAt    *time.Time `bun:"revoked_at" json:"revokedAt,omitempty"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// PGQueue is the PostgreSQL-backed Queue implementation.
type PGQueue struct {
	db  bun.IDB
	cfg *config.QueueConfig
	log *slog.Logger
}

// NewPGQueue creates the queue over the shared database.
func NewPGQueue(db bun.IDB, cfg *config.Config, log *slog.Logger) *PGQueue {
	return &PGQueue{
		db:  db,
		cfg: &cfg.Queue,
		log: log.With(logger.Scope("taskqueue")),
	}
}

// Enqueue persists the signature and returns the task id.
func (q *PGQueue) Enqueue(ctx context.Context, sig Signature) (string, error) {
	return q.enqueue(ctx, q.db, sig)
}

// EnqueueTx persists the signature through the caller's transaction.
func (q *PGQueue) EnqueueTx(ctx context.Context, tx bun.IDB, sig Signature) (string, error) {
	if tx == nil {
		tx = q.db
	}
	return q.enqueue(ctx, tx, sig)
}

func (q *PGQueue) enqueue(ctx context.Context, db bun.IDB, sig Signature) (string, error) {
	payload, err := json.Marshal(sig)
	if err != nil {
		return "", fmt.Errorf("marshal signature: %w", err)
	}

	queueName := sig.Queue
	if queueName == "" {
		queueName = q.cfg.Name
	}

	now := time.Now().UTC()
	task := &QueueTask{
		ID:          uuid.New().String(),
		Queue:       queueName,
		Operation:   sig.Operation,
		Signature:   payload,
		Status:      StatusPending,
		Priority:    sig.Priority,
		ScheduledAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if _, err := db.NewInsert().Model(task).Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue failed: %w", err)
	}

	q.log.Debug("task enqueued",
		slog.String("task_id", task.ID),
		slog.String("operation", sig.Operation),
		slog.Int("priority", sig.Priority))

	return task.ID, nil
}

// Revoke marks a task revoked. A pending task never runs; a processing
// task keeps running until its worker observes the revocation (the
// terminate flag is recorded for workers that support hard kills).
func (q *PGQueue) Revoke(ctx context.Context, taskID string, terminate bool) error {
	res, err := q.db.NewUpdate().
		Model((*QueueTask)(nil)).
		Set("status = ?", StatusRevoked).
		Set("revoked_at = now()").
		Set("updated_at = now()").
		Where("id = ?", taskID).
		Where("status IN (?)", bun.In([]string{StatusPending, StatusProcessing})).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke failed: %w", err)
	}

	affected, _ := res.RowsAffected()
	q.log.Debug("task revoked",
		slog.String("task_id", taskID),
		slog.Bool("terminate", terminate),
		slog.Bool("was_active", affected > 0))

	return nil
}

// Dequeue atomically claims up to batchSize pending tasks for a worker.
//
// SQL pattern:
//
//	WITH cte AS (
//	  SELECT id FROM crawl.queue_tasks
//	  WHERE status='pending' AND queue=$1 AND scheduled_at <= now()
//	  ORDER BY priority DESC, scheduled_at ASC
//	  FOR UPDATE SKIP LOCKED
//	  LIMIT $2
//	)
//	UPDATE ... SET status='processing' ... RETURNING id
func (q *PGQueue) Dequeue(ctx context.Context, queueName string, batchSize int) ([]QueueTask, error) {
	if queueName == "" {
		queueName = q.cfg.Name
	}
	if batchSize <= 0 {
		batchSize = 1
	}

	// Strategic SQL that the query builder cannot express.
	query := `
		WITH cte AS (
			SELECT id FROM crawl.queue_tasks
			WHERE status = 'pending' AND queue = ?
				AND (scheduled_at IS NULL OR scheduled_at <= now())
			ORDER BY priority DESC, scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT ?
		)
		UPDATE crawl.queue_tasks qt
		SET status = 'processing', started_at = now(), updated_at = now()
		FROM cte WHERE qt.id = cte.id
		RETURNING qt.id, qt.queue, qt.operation, qt.signature, qt.status,
			qt.priority, qt.attempt_count, qt.created_at, qt.updated_at`

	var tasks []QueueTask
	if err := q.db.NewRaw(query, queueName, batchSize).Scan(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("dequeue failed: %w", err)
	}

	return tasks, nil
}

// MarkCompleted marks a task as completed
func (q *PGQueue) MarkCompleted(ctx context.Context, taskID string) error {
	_, err := q.db.NewUpdate().
		Model((*QueueTask)(nil)).
		Set("status = ?", StatusCompleted).
		Set("completed_at = now()").
		Set("updated_at = now()").
		Where("id = ?", taskID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark completed failed: %w", err)
	}
	return nil
}

// MarkFailed records a failure and either schedules a retry with
// exponential backoff or, past MaxAttempts, fails the task permanently.
func (q *PGQueue) MarkFailed(ctx context.Context, taskID string, attemptCount int, errMsg string) error {
	attempt := attemptCount + 1
	msg := truncateError(errMsg)

	if q.cfg.MaxAttempts > 0 && attempt >= q.cfg.MaxAttempts {
		_, err := q.db.NewUpdate().
			Model((*QueueTask)(nil)).
			Set("status = ?", StatusFailed).
			Set("attempt_count = ?", attempt).
			Set("last_error = ?", msg).
			Set("updated_at = now()").
			Where("id = ?", taskID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("mark failed (permanent) failed: %w", err)
		}

		q.log.Warn("task permanently failed after max attempts",
			slog.String("task_id", taskID),
			slog.Int("attempts", attempt),
			slog.String("error", msg))
		return nil
	}

	delay := retryDelaySec(attempt, q.cfg.BaseRetryDelaySec, q.cfg.MaxRetryDelaySec)

	_, err := q.db.NewUpdate().
		Model((*QueueTask)(nil)).
		Set("status = ?", StatusPending).
		Set("attempt_count = ?", attempt).
		Set("last_error = ?", msg).
		Set("scheduled_at = now() + (? || ' seconds')::interval", fmt.Sprintf("%d", delay)).
		Set("updated_at = now()").
		Where("id = ?", taskID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark failed (retry) failed: %w", err)
	}

	q.log.Debug("task scheduled for retry",
		slog.String("task_id", taskID),
		slog.Int("attempt", attempt),
		slog.Duration("delay", time.Duration(delay)*time.Second))

	return nil
}

// RecoverStale returns tasks stuck in processing to pending. Covers
// workers that died mid-chunk; rerunning a chunk is safe because the
// aggregator drops duplicate completions.
func (q *PGQueue) RecoverStale(ctx context.Context, threshold time.Duration) (int, error) {
	if threshold <= 0 {
		threshold = q.cfg.StaleThreshold
	}

	res, err := q.db.NewUpdate().
		Model((*QueueTask)(nil)).
		Set("status = ?", StatusPending).
		Set("started_at = NULL").
		Set("scheduled_at = now()").
		Set("updated_at = now()").
		Where("status = ?", StatusProcessing).
		Where("started_at < now() - (? || ' seconds')::interval", fmt.Sprintf("%d", int(threshold.Seconds()))).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover stale tasks failed: %w", err)
	}

	count, _ := res.RowsAffected()
	if count > 0 {
		q.log.Warn("recovered stale tasks",
			slog.Int64("count", count),
			slog.Duration("threshold", threshold))
	}

	return int(count), nil
}

// Stats represents queue statistics
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Revoked    int64 `json:"revoked"`
}

// GetStats returns queue statistics
func (q *PGQueue) GetStats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'revoked') AS revoked
		FROM crawl.queue_tasks`

	stats := &Stats{}
	err := q.db.QueryRowContext(ctx, query).
		Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed, &stats.Revoked)
	if err != nil {
		return nil, fmt.Errorf("get stats failed: %w", err)
	}

	return stats, nil
}

// GetTask retrieves a task by id. Returns nil when not found.
func (q *PGQueue) GetTask(ctx context.Context, taskID string) (*QueueTask, error) {
	var task QueueTask
	err := q.db.NewSelect().Model(&task).Where("id = ?", taskID).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get task failed: %w", err)
	}
	return &task, nil
}

// retryDelaySec computes the backoff: base * attempt^2, capped at max.
func retryDelaySec(attempt, baseSec, maxSec int) int {
	if baseSec <= 0 {
		baseSec = 60
	}
	if maxSec <= 0 {
		maxSec = 3600
	}
	delay := math.Min(float64(maxSec), float64(baseSec)*float64(attempt)*float64(attempt))
	return int(delay)
}

// truncateError truncates an error message to 500 characters
func truncateError(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
