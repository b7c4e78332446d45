// Package jobs is the job orchestration core: chunk planning, dispatch,
// result aggregation and the lifecycle state machine. The job row is
// the single source of truth; the process keeps no in-memory state that
// must survive a crash.
package jobs

import (
	"context"
	"log/slog"
	"strings"

	"go.uber.org/fx"

	"github.com/crawlforge/crawlforge/domain/activity"
	"github.com/crawlforge/crawlforge/domain/quota"
	"github.com/crawlforge/crawlforge/internal/config"
	"github.com/crawlforge/crawlforge/internal/storage"
	"github.com/crawlforge/crawlforge/internal/taskqueue"
	"github.com/crawlforge/crawlforge/pkg/apperror"
	"github.com/crawlforge/crawlforge/pkg/logger"
	"github.com/crawlforge/crawlforge/pkg/mathutil"
)

const (
	// DefaultPageSize is the default page size for job listings
	DefaultPageSize = 50
	// MaxPageSize is the maximum page size for job listings
	MaxPageSize = 200
)

// ChunkReclaimer releases a finished chunk's temp files. The cleanup
// engine provides the implementation; reclamation is fire-and-forget
// and never fails a completion.
type ChunkReclaimer interface {
	ReclaimChunk(jobID, chunkID int64, filenames []string)
}

// Service owns the job lifecycle and is the surface the HTTP boundary
// calls. Every operation that takes a userID verifies ownership first;
// jobs the caller cannot see report not-found.
type Service struct {
	repo       serviceStore
	dispatcher *Dispatcher
	aggregator *Aggregator
	quota      *quota.Enforcer
	queue      taskqueue.Queue
	store      storage.Store
	reclaimer  ChunkReclaimer
	activity   activitySink
	chunkSize  int
	log        *slog.Logger
}

// ServiceParams collects the service dependencies. The reclaimer is
// optional so the service can run without the cleanup engine wired in.
type ServiceParams struct {
	fx.In

	Repo       *Repository
	Dispatcher *Dispatcher
	Aggregator *Aggregator
	Quota      *quota.Enforcer
	Queue      taskqueue.Queue
	Store      storage.Store
	Reclaimer  ChunkReclaimer `optional:"true"`
	Activity   *activity.Recorder
	Config     *config.Config
	Log        *slog.Logger
}

// NewService creates a new job service
func NewService(p ServiceParams) *Service {
	return &Service{
		repo:       p.Repo,
		dispatcher: p.Dispatcher,
		aggregator: p.Aggregator,
		quota:      p.Quota,
		queue:      p.Queue,
		store:      p.Store,
		reclaimer:  p.Reclaimer,
		activity:   p.Activity,
		chunkSize:  p.Config.Resource.ChunkSizeImages,
		log:        p.Log.With(logger.Scope("jobs.svc")),
	}
}

// Create validates and persists a new job in pending state
func (s *Service) Create(ctx context.Context, req CreateJobRequest, userID, tier string) (*Job, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperror.NewBadRequest("job name is required")
	}
	if len(req.Keywords) == 0 || len(req.Keywords) > MaxKeywords {
		return nil, apperror.NewBadRequest("between 1 and 10 keywords are required")
	}
	for _, kw := range req.Keywords {
		if strings.TrimSpace(kw) == "" {
			return nil, apperror.NewBadRequest("keywords cannot be blank")
		}
	}
	if req.Target < 1 || req.Target > MaxImageCount {
		return nil, apperror.NewBadRequest("target image count must be between 1 and 50000")
	}
	if req.Priority < 0 || req.Priority > MaxPriority {
		return nil, apperror.NewBadRequest("priority must be between 0 and 10")
	}

	member, err := s.repo.UserInProject(ctx, req.ProjectID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, apperror.ErrProjectNotFound
	}

	if err := s.quota.CheckCreateJob(ctx, userID, tier, req.Target); err != nil {
		return nil, err
	}

	engine := strings.TrimSpace(req.Engine)
	if engine == "" {
		engine = "default"
	}

	job := &Job{
		ProjectID:        req.ProjectID,
		UserID:           userID,
		Name:             name,
		Keywords:         req.Keywords,
		Engine:           engine,
		TargetImageCount: req.Target,
		Priority:         req.Priority,
		Status:           StatusPending,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	s.log.Info("job created",
		slog.Int64("jobID", job.ID),
		slog.String("projectID", job.ProjectID),
		slog.Int("target", job.TargetImageCount))

	s.activity.Record(&activity.Entry{
		UserID:    userID,
		ProjectID: job.ProjectID,
		JobID:     job.ID,
		Action:    activity.ActionJobCreated,
		Detail:    map[string]any{"name": job.Name, "target": job.TargetImageCount},
	})

	return job, nil
}

// Start plans a pending job's chunks and dispatches them. Starting a
// running job returns the existing task ids with no side effects;
// starting a terminal job is an invalid-state error.
func (s *Service) Start(ctx context.Context, jobID int64, userID, tier string) ([]string, error) {
	job, err := s.requireOwner(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	if job.Status == StatusRunning {
		return job.TaskIDs, nil
	}
	if job.Status != StatusPending {
		return nil, apperror.NewInvalidState("job can only be started from pending")
	}

	if err := s.quota.CheckStartJob(ctx, userID, tier, jobID, job.TargetImageCount); err != nil {
		return nil, err
	}

	if err := s.plan(ctx, jobID); err != nil {
		return nil, err
	}

	taskIDs, err := s.dispatcher.Dispatch(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.activity.Record(&activity.Entry{
		UserID:    userID,
		ProjectID: job.ProjectID,
		JobID:     job.ID,
		Action:    activity.ActionJobStarted,
		Detail:    map[string]any{"chunks": len(taskIDs)},
	})

	return taskIDs, nil
}

// plan splits the job into chunks and persists them in one transaction.
// A job that already has chunks (a concurrent Start won the race) is
// left untouched.
func (s *Service) plan(ctx context.Context, jobID int64) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	job, err := tx.GetJobForUpdate(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return apperror.ErrJobNotFound
	}
	if job.Status != StatusPending || job.TotalChunks > 0 {
		return tx.Commit()
	}

	chunks, err := PlanChunks(job.ID, job.TargetImageCount, s.chunkSize, job.Priority)
	if err != nil {
		return err
	}
	if err := tx.BulkCreateChunks(ctx, chunks); err != nil {
		return err
	}

	job.TotalChunks = len(chunks)
	job.ActiveChunks = len(chunks)
	if err := tx.Update(ctx, job); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.log.Error("failed to commit chunk plan", logger.Error(err), slog.Int64("jobID", jobID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	s.log.Info("chunks planned",
		slog.Int64("jobID", jobID),
		slog.Int("chunks", len(chunks)))

	return nil
}

// Cancel stops a job: it revokes every recorded task, marks the job
// cancelled, then best-effort deletes the job's temp files. Calling it
// on a terminal job succeeds with zero revocations.
func (s *Service) Cancel(ctx context.Context, jobID int64, userID string) (int, error) {
	job, err := s.requireOwner(ctx, jobID, userID)
	if err != nil {
		return 0, err
	}
	if IsTerminal(job.Status) {
		return 0, nil
	}

	// Mark cancelling under the lock so concurrent cancels race to a
	// single winner; the loser observes a terminal state and revokes
	// nothing.
	taskIDs, err := s.markCancelling(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if taskIDs == nil {
		return 0, nil
	}

	revoked := 0
	for _, taskID := range taskIDs {
		if err := s.queue.Revoke(ctx, taskID, true); err != nil {
			s.log.Warn("task revocation failed",
				logger.Error(err),
				slog.Int64("jobID", jobID),
				slog.String("taskID", taskID))
			continue
		}
		revoked++
	}

	// Finalise the state before touching storage. A crash mid-cleanup
	// must leave the job cancelled, not stuck in cancelling; the temp
	// files are advisory and the cleanup engine sweeps stragglers.
	if err := s.markCancelled(ctx, jobID); err != nil {
		return revoked, err
	}

	if err := storage.DeletePrefix(ctx, s.store, storage.TempJobPrefix(jobID)); err != nil {
		s.log.Warn("temp cleanup on cancel failed", logger.Error(err), slog.Int64("jobID", jobID))
	}

	s.log.Info("job cancelled",
		slog.Int64("jobID", jobID),
		slog.Int("revoked", revoked))

	s.activity.Record(&activity.Entry{
		UserID:    userID,
		ProjectID: job.ProjectID,
		JobID:     job.ID,
		Action:    activity.ActionJobCancelled,
		Detail:    map[string]any{"revoked": revoked},
	})

	return revoked, nil
}

// markCancelling transitions the job to cancelling and returns its task
// ids. A nil slice with no error means another caller already won.
func (s *Service) markCancelling(ctx context.Context, jobID int64) ([]string, error) {
	tx, err := s.repo.Begin(ctx)
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
	if IsTerminal(job.Status) || job.Status == StatusCancelling {
		return nil, tx.Commit()
	}

	taskIDs := job.TaskIDs
	if taskIDs == nil {
		taskIDs = []string{}
	}

	job.Status = StatusCancelling
	if err := tx.Update(ctx, job); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return taskIDs, nil
}

func (s *Service) markCancelled(ctx context.Context, jobID int64) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	job, err := tx.GetJobForUpdate(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return apperror.ErrJobNotFound
	}
	if job.Status == StatusCancelling {
		job.Status = StatusCancelled
		if err := tx.Update(ctx, job); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Retry resets a failed or cancelled job to pending and starts it
// again. Every counter, the task-id list and both lifecycle timestamps
// are zeroed; the old chunks and images are dropped and re-planned.
func (s *Service) Retry(ctx context.Context, jobID int64, userID, tier string) ([]string, error) {
	job, err := s.requireOwner(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusFailed && job.Status != StatusCancelled {
		return nil, apperror.NewInvalidState("only failed or cancelled jobs can be retried")
	}

	if err := s.reset(ctx, jobID); err != nil {
		return nil, err
	}

	s.activity.Record(&activity.Entry{
		UserID:    userID,
		ProjectID: job.ProjectID,
		JobID:     job.ID,
		Action:    activity.ActionJobRetried,
	})

	return s.Start(ctx, jobID, userID, tier)
}

func (s *Service) reset(ctx context.Context, jobID int64) error {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	job, err := tx.GetJobForUpdate(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return apperror.ErrJobNotFound
	}
	if job.Status != StatusFailed && job.Status != StatusCancelled {
		return apperror.NewInvalidState("only failed or cancelled jobs can be retried")
	}

	if err := tx.DeleteChunks(ctx, jobID); err != nil {
		return err
	}

	job.Status = StatusPending
	job.Progress = 0
	job.DownloadedImages = 0
	job.ValidImages = 0
	job.DuplicateImages = 0
	job.FailedImages = 0
	job.TotalChunks = 0
	job.ActiveChunks = 0
	job.CompletedChunks = 0
	job.FailedChunks = 0
	job.TaskIDs = nil
	job.StartedAt = nil
	job.CompletedAt = nil
	if err := tx.Update(ctx, job); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.log.Error("failed to commit retry reset", logger.Error(err), slog.Int64("jobID", jobID))
		return apperror.ErrDatabase.WithInternal(err)
	}

	s.log.Info("job reset for retry", slog.Int64("jobID", jobID))
	return nil
}

// Get returns a job the caller can see
func (s *Service) Get(ctx context.Context, jobID int64, userID string) (*Job, error) {
	return s.requireOwner(ctx, jobID, userID)
}

// GetProgress returns the job's counter snapshot
func (s *Service) GetProgress(ctx context.Context, jobID int64, userID string) (*Progress, error) {
	job, err := s.requireOwner(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	snapshot := job.Snapshot()
	return &snapshot, nil
}

// List returns a page of the caller's jobs across all their projects
func (s *Service) List(ctx context.Context, userID string, page, size int) ([]Job, int, error) {
	limit, offset := pageBounds(page, size)
	return s.repo.ListForUser(ctx, userID, limit, offset)
}

// ListByProject returns a page of one project's jobs
func (s *Service) ListByProject(ctx context.Context, projectID, userID string, page, size int) ([]Job, int, error) {
	member, err := s.repo.UserInProject(ctx, projectID, userID)
	if err != nil {
		return nil, 0, err
	}
	if !member {
		return nil, 0, apperror.ErrProjectNotFound
	}

	limit, offset := pageBounds(page, size)
	return s.repo.ListByProject(ctx, projectID, limit, offset)
}

// ListChunks returns the chunks of a job the caller can see
func (s *Service) ListChunks(ctx context.Context, jobID int64, userID string) ([]Chunk, error) {
	if _, err := s.requireOwner(ctx, jobID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListChunks(ctx, jobID)
}

// ListImages returns a page of a job's image records
func (s *Service) ListImages(ctx context.Context, jobID int64, userID string, page, size int) ([]ImageRecord, int, error) {
	if _, err := s.requireOwner(ctx, jobID, userID); err != nil {
		return nil, 0, err
	}
	limit, offset := pageBounds(page, size)
	return s.repo.ListImages(ctx, jobID, limit, offset)
}

// ReportCompletion merges one chunk result and then releases the
// chunk's temp files. Workers call this through the internal surface;
// no ownership check applies.
func (s *Service) ReportCompletion(ctx context.Context, jobID, chunkID int64, taskID string, result CompletionResult) error {
	if err := s.aggregator.HandleCompletion(ctx, jobID, chunkID, taskID, result); err != nil {
		return err
	}

	if s.reclaimer != nil {
		filenames := make([]string, 0, len(result.Images))
		for _, img := range result.Images {
			if img.Filename != "" {
				filenames = append(filenames, img.Filename)
			}
		}
		s.reclaimer.ReclaimChunk(jobID, chunkID, filenames)
	}

	return nil
}

// requireOwner loads the job scoped to the caller's project
// memberships. Missing and foreign jobs both come back as not-found so
// job ids cannot be enumerated.
func (s *Service) requireOwner(ctx context.Context, jobID int64, userID string) (*Job, error) {
	job, err := s.repo.GetForUser(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperror.ErrJobNotFound
	}
	return job, nil
}

func pageBounds(page, size int) (limit, offset int) {
	if size <= 0 {
		size = DefaultPageSize
	}
	size = mathutil.ClampInt(size, 1, MaxPageSize)
	if page < 1 {
		page = 1
	}
	return size, (page - 1) * size
}
