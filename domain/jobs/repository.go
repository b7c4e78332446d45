package jobs

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/crawlforge/crawlforge/internal/database"
	"github.com/crawlforge/crawlforge/pkg/apperror"
	"github.com/crawlforge/crawlforge/pkg/logger"
)

// Repository handles database operations for jobs, chunks and images.
// Mutating methods that take a bun.IDB run inside the caller's
// transaction; the repository never opens its own.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new job repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("jobs.repo")),
	}
}

// DB exposes the underlying handle for services that open transactions
func (r *Repository) DB() bun.IDB {
	return r.db
}

// GetByID returns a job by id. Returns nil, nil when not found.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Job, error) {
	var job Job

	err := r.db.NewSelect().
		Model(&job).
		Where("j.id = ?", id).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.log.Error("failed to get job", logger.Error(err), slog.Int64("jobID", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &job, nil
}

// GetForUser returns a job only if the user is a member of the owning
// project. Missing and inaccessible jobs are indistinguishable.
func (r *Repository) GetForUser(ctx context.Context, id int64, userID string) (*Job, error) {
	var job Job

	err := r.db.NewSelect().
		Model(&job).
		Where("j.id = ?", id).
		Where("EXISTS (SELECT 1 FROM crawl.project_members pm WHERE pm.project_id = j.project_id AND pm.user_id = ?)", userID).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.log.Error("failed to get job for user", logger.Error(err), slog.Int64("jobID", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &job, nil
}

// GetJobForUpdate loads the job row under SELECT ... FOR UPDATE inside
// the given transaction. Every transaction that touches a job's chunks
// or counters acquires this lock first; that single rule serialises all
// per-job mutation and keeps the schema deadlock-free.
func (r *Repository) GetJobForUpdate(ctx context.Context, tx bun.IDB, id int64) (*Job, error) {
	var job Job

	err := tx.NewSelect().
		Model(&job).
		Where("j.id = ?", id).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.log.Error("failed to lock job", logger.Error(err), slog.Int64("jobID", id))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &job, nil
}

// Create inserts a new job
func (r *Repository) Create(ctx context.Context, job *Job) error {
	_, err := r.db.NewInsert().
		Model(job).
		Returning("id, created_at, updated_at").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to create job", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// Update saves the job's mutable fields inside the caller's transaction
func (r *Repository) Update(ctx context.Context, tx bun.IDB, job *Job) error {
	_, err := tx.NewUpdate().
		Model(job).
		Column(
			"status", "progress",
			"downloaded_images", "valid_images", "duplicate_images", "failed_images",
			"total_chunks", "active_chunks", "completed_chunks", "failed_chunks",
			"task_ids", "started_at", "completed_at",
		).
		Set("updated_at = now()").
		WherePK().
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to update job", logger.Error(err), slog.Int64("jobID", job.ID))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// ListByProject returns a page of a project's jobs, newest first
func (r *Repository) ListByProject(ctx context.Context, projectID string, limit, offset int) ([]Job, int, error) {
	jobs := []Job{}

	total, err := r.db.NewSelect().
		Model(&jobs).
		Where("j.project_id = ?", projectID).
		Order("j.created_at DESC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		r.log.Error("failed to list jobs", logger.Error(err), slog.String("projectID", projectID))
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}

	return jobs, total, nil
}

// ListForUser returns a page of jobs across every project the user is a
// member of, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID string, limit, offset int) ([]Job, int, error) {
	jobs := []Job{}

	total, err := r.db.NewSelect().
		Model(&jobs).
		Where("EXISTS (SELECT 1 FROM crawl.project_members pm WHERE pm.project_id = j.project_id AND pm.user_id = ?)", userID).
		Order("j.created_at DESC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		r.log.Error("failed to list jobs for user", logger.Error(err), slog.String("userID", userID))
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}

	return jobs, total, nil
}

// UserInProject reports whether the user is a member of the project
func (r *Repository) UserInProject(ctx context.Context, projectID, userID string) (bool, error) {
	exists, err := r.db.NewSelect().
		Table("crawl.project_members").
		Where("project_id = ?", projectID).
		Where("user_id = ?", userID).
		Exists(ctx)
	if err != nil {
		r.log.Error("failed to check project membership", logger.Error(err))
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	return exists, nil
}

// SumActiveChunks returns the total active chunk count across all jobs
func (r *Repository) SumActiveChunks(ctx context.Context) (int, error) {
	var sum int

	err := r.db.NewSelect().
		Model((*Job)(nil)).
		ColumnExpr("COALESCE(SUM(j.active_chunks), 0)").
		Where("j.status IN (?)", bun.In([]string{StatusRunning, StatusCancelling})).
		Scan(ctx, &sum)
	if err != nil {
		r.log.Error("failed to sum active chunks", logger.Error(err))
		return 0, apperror.ErrDatabase.WithInternal(err)
	}

	return sum, nil
}

// ListActiveJobIDs returns the ids of jobs in non-terminal states.
// Used by the cleanup engine for orphan detection.
func (r *Repository) ListActiveJobIDs(ctx context.Context) (map[int64]struct{}, error) {
	var ids []int64

	err := r.db.NewSelect().
		Model((*Job)(nil)).
		Column("j.id").
		Where("j.status IN (?)", bun.In([]string{StatusPending, StatusRunning, StatusCancelling})).
		Scan(ctx, &ids)
	if err != nil {
		r.log.Error("failed to list active jobs", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	active := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		active[id] = struct{}{}
	}
	return active, nil
}

// GetJobStatuses returns the status for each given job id. Missing ids
// are absent from the result.
func (r *Repository) GetJobStatuses(ctx context.Context, ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}

	var rows []struct {
		ID     int64  `bun:"id"`
		Status string `bun:"status"`
	}
	err := r.db.NewSelect().
		Model((*Job)(nil)).
		Column("j.id", "j.status").
		Where("j.id IN (?)", bun.In(ids)).
		Scan(ctx, &rows)
	if err != nil {
		r.log.Error("failed to get job statuses", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	statuses := make(map[int64]string, len(rows))
	for _, row := range rows {
		statuses[row.ID] = row.Status
	}
	return statuses, nil
}

// BulkCreateChunks inserts all chunk rows in one round trip
func (r *Repository) BulkCreateChunks(ctx context.Context, tx bun.IDB, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	_, err := tx.NewInsert().
		Model(&chunks).
		Returning("id").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to bulk create chunks", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// GetChunk loads one chunk of a job inside the caller's transaction
func (r *Repository) GetChunk(ctx context.Context, tx bun.IDB, jobID, chunkID int64) (*Chunk, error) {
	var chunk Chunk

	err := tx.NewSelect().
		Model(&chunk).
		Where("c.id = ?", chunkID).
		Where("c.job_id = ?", jobID).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		r.log.Error("failed to get chunk", logger.Error(err), slog.Int64("chunkID", chunkID))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &chunk, nil
}

// ListChunks returns all chunks of a job ordered by chunk index
func (r *Repository) ListChunks(ctx context.Context, jobID int64) ([]Chunk, error) {
	chunks := []Chunk{}

	err := r.db.NewSelect().
		Model(&chunks).
		Where("c.job_id = ?", jobID).
		Order("c.chunk_index ASC").
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to list chunks", logger.Error(err), slog.Int64("jobID", jobID))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return chunks, nil
}

// ListChunksForDispatch returns a job's pending chunks in dispatch
// order: priority descending, then chunk index ascending. Chunks that
// already settled (a completion beat the dispatcher) are never
// re-dispatched.
func (r *Repository) ListChunksForDispatch(ctx context.Context, tx bun.IDB, jobID int64) ([]Chunk, error) {
	chunks := []Chunk{}

	err := tx.NewSelect().
		Model(&chunks).
		Where("c.job_id = ?", jobID).
		Where("c.status = ?", ChunkPending).
		Order("c.priority DESC", "c.chunk_index ASC").
		Scan(ctx)
	if err != nil {
		r.log.Error("failed to list chunks for dispatch", logger.Error(err), slog.Int64("jobID", jobID))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return chunks, nil
}

// UpdateChunk saves a chunk's mutable fields inside the caller's transaction
func (r *Repository) UpdateChunk(ctx context.Context, tx bun.IDB, chunk *Chunk) error {
	_, err := tx.NewUpdate().
		Model(chunk).
		Column("status", "retry_count", "error_message", "task_id").
		Set("updated_at = now()").
		WherePK().
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to update chunk", logger.Error(err), slog.Int64("chunkID", chunk.ID))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// DeleteChunks removes all chunks (and their images, via cascade) of a
// job. Used by retry before re-planning.
func (r *Repository) DeleteChunks(ctx context.Context, tx bun.IDB, jobID int64) error {
	_, err := tx.NewDelete().
		Model((*Chunk)(nil)).
		Where("job_id = ?", jobID).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to delete chunks", logger.Error(err), slog.Int64("jobID", jobID))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// BulkCreateImages inserts image records in one round trip
func (r *Repository) BulkCreateImages(ctx context.Context, tx bun.IDB, images []ImageRecord) error {
	if len(images) == 0 {
		return nil
	}

	_, err := tx.NewInsert().
		Model(&images).
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to bulk create images", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// Begin opens a unit of work over the job tables
func (r *Repository) Begin(ctx context.Context) (Tx, error) {
	tx, err := database.BeginSafeTx(ctx, r.db)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return &repoTx{tx: tx, repo: r}, nil
}

// repoTx adapts a SafeTx plus the repository methods to the Tx contract
type repoTx struct {
	tx   *database.SafeTx
	repo *Repository
}

func (t *repoTx) IDB() bun.IDB { return t.tx.Tx }

func (t *repoTx) GetJobForUpdate(ctx context.Context, id int64) (*Job, error) {
	return t.repo.GetJobForUpdate(ctx, t.tx.Tx, id)
}

func (t *repoTx) GetChunk(ctx context.Context, jobID, chunkID int64) (*Chunk, error) {
	return t.repo.GetChunk(ctx, t.tx.Tx, jobID, chunkID)
}

func (t *repoTx) ListChunksForDispatch(ctx context.Context, jobID int64) ([]Chunk, error) {
	return t.repo.ListChunksForDispatch(ctx, t.tx.Tx, jobID)
}

func (t *repoTx) Update(ctx context.Context, job *Job) error {
	return t.repo.Update(ctx, t.tx.Tx, job)
}

func (t *repoTx) UpdateChunk(ctx context.Context, chunk *Chunk) error {
	return t.repo.UpdateChunk(ctx, t.tx.Tx, chunk)
}

func (t *repoTx) BulkCreateChunks(ctx context.Context, chunks []Chunk) error {
	return t.repo.BulkCreateChunks(ctx, t.tx.Tx, chunks)
}

func (t *repoTx) BulkCreateImages(ctx context.Context, images []ImageRecord) error {
	return t.repo.BulkCreateImages(ctx, t.tx.Tx, images)
}

func (t *repoTx) DeleteChunks(ctx context.Context, jobID int64) error {
	return t.repo.DeleteChunks(ctx, t.tx.Tx, jobID)
}

func (t *repoTx) Commit() error   { return t.tx.Commit() }
func (t *repoTx) Rollback() error { return t.tx.Rollback() }

// ListImages returns a page of a job's image records
func (r *Repository) ListImages(ctx context.Context, jobID int64, limit, offset int) ([]ImageRecord, int, error) {
	images := []ImageRecord{}

	total, err := r.db.NewSelect().
		Model(&images).
		Where("i.job_id = ?", jobID).
		Order("i.id ASC").
		Limit(limit).
		Offset(offset).
		ScanAndCount(ctx)
	if err != nil {
		r.log.Error("failed to list images", logger.Error(err), slog.Int64("jobID", jobID))
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}

	return images, total, nil
}
