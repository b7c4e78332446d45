package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crawlforge/crawlforge/domain/quota"
	"github.com/crawlforge/crawlforge/internal/config"
	"github.com/crawlforge/crawlforge/internal/storage"
	"github.com/crawlforge/crawlforge/pkg/apperror"
)

type testEnv struct {
	svc       *Service
	store     *fakeStore
	queue     *fakeQueue
	objects   *fakeObjectStore
	recorder  *fakeRecorder
	reclaimer *fakeReclaimer
}

func newTestEnv() *testEnv {
	cfg := &config.Config{
		Queue: config.QueueConfig{Name: "crawl"},
		Resource: config.ResourceConfig{
			MaxConcurrentChunks:  35,
			MaxTempStorageMB:     51200,
			ChunkSizeImages:      500,
			EstimatedImageSizeMB: 0.5,
			StorageSafetyMargin:  0.2,
		},
		Tiers: config.TierConfig{
			Free: config.TierLimits{
				MaxConcurrentJobs: 1,
				MaxImagesPerJob:   1000,
				MaxJobsPerDay:     5,
				MaxProjects:       2,
				MaxTeamMembers:    1,
			},
			Pro: config.TierLimits{
				MaxConcurrentJobs: 5,
				MaxImagesPerJob:   10000,
				MaxJobsPerDay:     50,
				MaxProjects:       20,
				MaxTeamMembers:    10,
			},
		},
	}

	log := slog.Default()
	store := newFakeStore()
	queue := &fakeQueue{}
	objects := newFakeObjectStore()
	recorder := &fakeRecorder{}
	reclaimer := &fakeReclaimer{}

	monitor := &CapacityMonitor{counter: store, cfg: &cfg.Resource, log: log}
	svc := &Service{
		repo:       store,
		dispatcher: &Dispatcher{store: store, queue: queue, capacity: monitor, cfg: cfg, log: log},
		aggregator: &Aggregator{store: store, log: log},
		quota:      quota.NewEnforcer(storeCounts{store}, cfg, log),
		queue:      queue,
		store:      objects,
		reclaimer:  reclaimer,
		activity:   recorder,
		chunkSize:  cfg.Resource.ChunkSizeImages,
		log:        log,
	}

	return &testEnv{
		svc:       svc,
		store:     store,
		queue:     queue,
		objects:   objects,
		recorder:  recorder,
		reclaimer: reclaimer,
	}
}

func (e *testEnv) seedRunningJob(userID string, totalChunks int) *Job {
	job := e.store.seedJob(&Job{
		UserID:           userID,
		ProjectID:        "b0a9c1d2-0000-0000-0000-000000000001",
		Name:             "crawl",
		Keywords:         []string{"rose"},
		Engine:           "default",
		TargetImageCount: totalChunks * 500,
		Status:           StatusRunning,
		TotalChunks:      totalChunks,
		ActiveChunks:     totalChunks,
	})
	for i := 0; i < totalChunks; i++ {
		chunk := e.store.seedChunk(&Chunk{
			JobID:      job.ID,
			ChunkIndex: i,
			Status:     ChunkProcessing,
			RangeStart: i * 500,
			RangeEnd:   (i+1)*500 - 1,
		})
		chunk.TaskID = fmt.Sprintf("task-seed-%d", chunk.ID)
		job.TaskIDs = append(job.TaskIDs, chunk.TaskID)
	}
	return job
}

func TestCreateThenStart(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	job, err := env.svc.Create(ctx, CreateJobRequest{
		ProjectID: "b0a9c1d2-0000-0000-0000-000000000001",
		Name:      "spring flowers",
		Keywords:  []string{"rose", "tulip"},
		Target:    1000,
	}, "user-1", "free")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)

	// The job's own pending row sits in the active count; starting it
	// must still fit a single-concurrent-job tier.
	taskIDs, err := env.svc.Start(ctx, job.ID, "user-1", "free")
	require.NoError(t, err)
	assert.Len(t, taskIDs, 2)

	stored := env.store.jobs[job.ID]
	assert.Equal(t, StatusRunning, stored.Status)
	assert.NotNil(t, stored.StartedAt)
	assert.Equal(t, 2, stored.TotalChunks)
	assert.Equal(t, 2, stored.ActiveChunks)
	assert.Equal(t, taskIDs, stored.TaskIDs)

	chunks := env.store.jobChunks(job.ID)
	require.Len(t, chunks, 2)
	for _, chunk := range chunks {
		assert.Equal(t, ChunkProcessing, chunk.Status)
		assert.NotEmpty(t, chunk.TaskID)
	}

	require.Len(t, env.queue.enqueued, 2)
	sig := env.queue.enqueued[0]
	assert.Equal(t, "crawl_chunk", sig.Operation)
	assert.Equal(t, "crawl", sig.Queue)
	assert.Equal(t, job.ID, sig.Kwargs["job_id"])
}

func TestCreateBlockedWhileAnotherJobActive(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	req := CreateJobRequest{
		ProjectID: "b0a9c1d2-0000-0000-0000-000000000001",
		Name:      "first",
		Keywords:  []string{"rose"},
		Target:    100,
	}
	_, err := env.svc.Create(ctx, req, "user-1", "free")
	require.NoError(t, err)

	req.Name = "second"
	_, err = env.svc.Create(ctx, req, "user-1", "free")

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "max_concurrent_jobs", appErr.Details["limit"])
}

func TestStartBlockedByOtherActiveJob(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	other := env.seedRunningJob("user-1", 1)
	job := env.store.seedJob(&Job{
		UserID:           "user-1",
		ProjectID:        other.ProjectID,
		Name:             "waiting",
		Keywords:         []string{"tulip"},
		Engine:           "default",
		TargetImageCount: 100,
		Status:           StatusPending,
	})

	_, err := env.svc.Start(ctx, job.ID, "user-1", "free")

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "max_concurrent_jobs", appErr.Details["limit"])
	assert.Equal(t, StatusPending, env.store.jobs[job.ID].Status)
}

func TestStartIdempotent(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	job, err := env.svc.Create(ctx, CreateJobRequest{
		ProjectID: "b0a9c1d2-0000-0000-0000-000000000001",
		Name:      "spring flowers",
		Keywords:  []string{"rose"},
		Target:    1000,
	}, "user-1", "free")
	require.NoError(t, err)

	first, err := env.svc.Start(ctx, job.ID, "user-1", "free")
	require.NoError(t, err)

	second, err := env.svc.Start(ctx, job.ID, "user-1", "free")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, len(first), env.queue.calls, "second start must not enqueue")
}

func TestStartTerminalJob(t *testing.T) {
	env := newTestEnv()
	job := env.store.seedJob(&Job{
		UserID:           "user-1",
		ProjectID:        "b0a9c1d2-0000-0000-0000-000000000001",
		Name:             "done",
		Keywords:         []string{"rose"},
		TargetImageCount: 100,
		Status:           StatusCompleted,
	})

	_, err := env.svc.Start(context.Background(), job.ID, "user-1", "free")

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "invalid_state", appErr.Code)
}

func TestStartForeignJobReportsNotFound(t *testing.T) {
	env := newTestEnv()
	job := env.store.seedJob(&Job{
		UserID:           "user-2",
		ProjectID:        "b0a9c1d2-0000-0000-0000-000000000001",
		Name:             "theirs",
		Keywords:         []string{"rose"},
		TargetImageCount: 100,
		Status:           StatusPending,
	})

	_, err := env.svc.Start(context.Background(), job.ID, "user-1", "free")
	assert.ErrorIs(t, err, apperror.ErrJobNotFound)
}

func TestDispatchSkipsSettledChunks(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	job := env.store.seedJob(&Job{
		UserID:           "user-1",
		ProjectID:        "b0a9c1d2-0000-0000-0000-000000000001",
		Name:             "partial",
		Keywords:         []string{"rose"},
		Engine:           "default",
		TargetImageCount: 1500,
		Status:           StatusPending,
		TotalChunks:      3,
		ActiveChunks:     2,
		CompletedChunks:  1,
		TaskIDs:          []string{"task-old"},
	})
	settled := env.store.seedChunk(&Chunk{
		JobID: job.ID, ChunkIndex: 0, Status: ChunkCompleted,
		RangeStart: 0, RangeEnd: 499, TaskID: "task-old",
	})
	env.store.seedChunk(&Chunk{
		JobID: job.ID, ChunkIndex: 1, Status: ChunkPending,
		RangeStart: 500, RangeEnd: 999,
	})
	env.store.seedChunk(&Chunk{
		JobID: job.ID, ChunkIndex: 2, Status: ChunkPending,
		RangeStart: 1000, RangeEnd: 1499,
	})

	dispatcher := env.svc.dispatcher
	taskIDs, err := dispatcher.Dispatch(ctx, job.ID)
	require.NoError(t, err)

	// Only the two pending chunks went out; the settled one kept its
	// status and task id, and the recorded ids accumulate.
	assert.Equal(t, 2, env.queue.calls)
	assert.Equal(t, []string{"task-old", "task-1", "task-2"}, taskIDs)
	assert.Equal(t, ChunkCompleted, env.store.chunks[settled.ID].Status)
	assert.Equal(t, "task-old", env.store.chunks[settled.ID].TaskID)
}

func TestDispatchAbortsWhenEnqueueFails(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	job := env.store.seedJob(&Job{
		UserID:           "user-1",
		ProjectID:        "b0a9c1d2-0000-0000-0000-000000000001",
		Name:             "doomed",
		Keywords:         []string{"rose"},
		Engine:           "default",
		TargetImageCount: 1500,
		Status:           StatusPending,
		TotalChunks:      3,
		ActiveChunks:     3,
	})
	for i := 0; i < 3; i++ {
		env.store.seedChunk(&Chunk{
			JobID: job.ID, ChunkIndex: i, Status: ChunkPending,
			RangeStart: i * 500, RangeEnd: (i+1)*500 - 1,
		})
	}
	env.queue.failOn = 2

	_, err := env.svc.dispatcher.Dispatch(ctx, job.ID)

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "dependency_error", appErr.Code)

	// The abort rolled everything back: job still pending, no chunk
	// marked processing, no task ids recorded.
	stored := env.store.jobs[job.ID]
	assert.Equal(t, StatusPending, stored.Status)
	assert.Nil(t, stored.StartedAt)
	assert.Empty(t, stored.TaskIDs)
	for _, chunk := range env.store.jobChunks(job.ID) {
		assert.Equal(t, ChunkPending, chunk.Status)
		assert.Empty(t, chunk.TaskID)
	}
}

func TestDispatchAlreadyRunning(t *testing.T) {
	env := newTestEnv()
	job := env.seedRunningJob("user-1", 2)

	taskIDs, err := env.svc.dispatcher.Dispatch(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, job.TaskIDs, taskIDs)
	assert.Zero(t, env.queue.calls)
}

func TestCancel(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	job := env.seedRunningJob("user-1", 2)
	env.objects.keys[storage.TempChunkKey(job.ID, 1, "a.jpg")] = struct{}{}
	env.objects.keys[storage.TempChunkKey(job.ID, 2, "b.jpg")] = struct{}{}
	unrelated := storage.TempChunkKey(job.ID+100, 9, "c.jpg")
	env.objects.keys[unrelated] = struct{}{}

	revoked, err := env.svc.Cancel(ctx, job.ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 2, revoked)
	assert.Equal(t, job.TaskIDs, env.queue.revoked)
	assert.Equal(t, StatusCancelled, env.store.jobs[job.ID].Status)

	// Temp files are gone, other jobs' files untouched.
	assert.Len(t, env.objects.keys, 1)
	assert.Contains(t, env.objects.keys, unrelated)

	// A second cancel observes the terminal state and revokes nothing.
	revoked, err = env.svc.Cancel(ctx, job.ID, "user-1")
	require.NoError(t, err)
	assert.Zero(t, revoked)
	assert.Len(t, env.queue.revoked, 2)
}

func TestCancelFinalisesWhenTempCleanupFails(t *testing.T) {
	env := newTestEnv()
	job := env.seedRunningJob("user-1", 1)
	env.objects.listErr = errors.New("storage offline")

	revoked, err := env.svc.Cancel(context.Background(), job.ID, "user-1")
	require.NoError(t, err)

	// The job must land in cancelled even when storage is down; the
	// cleanup engine sweeps leftover temp files later.
	assert.Equal(t, 1, revoked)
	assert.Equal(t, StatusCancelled, env.store.jobs[job.ID].Status)
}

func TestRetry(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ended := started.Add(time.Hour)
	job := env.store.seedJob(&Job{
		UserID:           "user-1",
		ProjectID:        "b0a9c1d2-0000-0000-0000-000000000001",
		Name:             "flaky",
		Keywords:         []string{"rose"},
		Engine:           "default",
		TargetImageCount: 1000,
		Status:           StatusFailed,
		Progress:         100,
		DownloadedImages: 312,
		ValidImages:      280,
		DuplicateImages:  12,
		FailedImages:     32,
		TotalChunks:      2,
		CompletedChunks:  1,
		FailedChunks:     1,
		TaskIDs:          []string{"task-a", "task-b"},
		StartedAt:        &started,
		CompletedAt:      &ended,
	})
	env.store.seedChunk(&Chunk{JobID: job.ID, ChunkIndex: 0, Status: ChunkCompleted, RangeEnd: 499})
	env.store.seedChunk(&Chunk{JobID: job.ID, ChunkIndex: 1, Status: ChunkFailed, RangeStart: 500, RangeEnd: 999})

	taskIDs, err := env.svc.Retry(ctx, job.ID, "user-1", "free")
	require.NoError(t, err)
	assert.Len(t, taskIDs, 2)

	stored := env.store.jobs[job.ID]
	assert.Equal(t, StatusRunning, stored.Status)
	assert.Equal(t, 0, stored.Progress)
	assert.Equal(t, 0, stored.DownloadedImages)
	assert.Equal(t, 0, stored.ValidImages)
	assert.Equal(t, 0, stored.FailedImages)
	assert.Equal(t, 2, stored.TotalChunks)
	assert.Equal(t, 2, stored.ActiveChunks)
	assert.Equal(t, 0, stored.CompletedChunks)
	assert.Equal(t, 0, stored.FailedChunks)
	assert.Nil(t, stored.CompletedAt)
	assert.Equal(t, taskIDs, stored.TaskIDs)

	chunks := env.store.jobChunks(job.ID)
	require.Len(t, chunks, 2)
	for _, chunk := range chunks {
		assert.Equal(t, ChunkProcessing, chunk.Status)
	}
}

func TestRetryRequiresTerminalFailure(t *testing.T) {
	env := newTestEnv()
	job := env.seedRunningJob("user-1", 1)

	_, err := env.svc.Retry(context.Background(), job.ID, "user-1", "free")

	var appErr *apperror.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "invalid_state", appErr.Code)
}

func TestHandleCompletionMergesResult(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	job := env.seedRunningJob("user-1", 2)
	chunks := env.store.jobChunks(job.ID)
	chunk := chunks[0]

	result := CompletionResult{
		OK:              true,
		DownloadedCount: 3,
		Images: []CompletionImage{
			{SourceURL: "https://img.example/1", Filename: "1.jpg", IsValid: true},
			{SourceURL: "https://img.example/2", Filename: "2.jpg", IsValid: true, IsDuplicate: true},
			{SourceURL: "https://img.example/3", Filename: "3.jpg", IsValid: false},
		},
	}
	err := env.svc.aggregator.HandleCompletion(ctx, job.ID, chunk.ID, chunk.TaskID, result)
	require.NoError(t, err)

	stored := env.store.jobs[job.ID]
	assert.Equal(t, StatusRunning, stored.Status)
	assert.Equal(t, 1, stored.ActiveChunks)
	assert.Equal(t, 1, stored.CompletedChunks)
	assert.Equal(t, 3, stored.DownloadedImages)
	assert.Equal(t, 2, stored.ValidImages)
	assert.Equal(t, 1, stored.DuplicateImages)
	assert.Equal(t, 1, stored.FailedImages)
	assert.Equal(t, 50, stored.Progress)

	assert.Equal(t, ChunkCompleted, env.store.chunks[chunk.ID].Status)
	assert.Len(t, env.store.images, 3)
}

func TestHandleCompletionDuplicateDelivery(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	job := env.seedRunningJob("user-1", 2)
	chunk := env.store.jobChunks(job.ID)[0]

	result := CompletionResult{
		OK:              true,
		DownloadedCount: 2,
		Images: []CompletionImage{
			{SourceURL: "https://img.example/1", Filename: "1.jpg", IsValid: true},
			{SourceURL: "https://img.example/2", Filename: "2.jpg", IsValid: true},
		},
	}
	require.NoError(t, env.svc.aggregator.HandleCompletion(ctx, job.ID, chunk.ID, chunk.TaskID, result))

	// The queue delivers at least once. A replay must change nothing:
	// no counter movement, no duplicated image rows.
	require.NoError(t, env.svc.aggregator.HandleCompletion(ctx, job.ID, chunk.ID, chunk.TaskID, result))

	stored := env.store.jobs[job.ID]
	assert.Equal(t, 1, stored.CompletedChunks)
	assert.Equal(t, 1, stored.ActiveChunks)
	assert.Equal(t, 2, stored.DownloadedImages)
	assert.Len(t, env.store.images, 2)
}

func TestHandleCompletionFailure(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	job := env.seedRunningJob("user-1", 2)
	chunk := env.store.jobChunks(job.ID)[0]

	result := CompletionResult{OK: false, Error: "engine rate limited"}
	require.NoError(t, env.svc.aggregator.HandleCompletion(ctx, job.ID, chunk.ID, chunk.TaskID, result))

	stored := env.store.jobs[job.ID]
	assert.Equal(t, 1, stored.FailedChunks)
	assert.Equal(t, 0, stored.CompletedChunks)

	failed := env.store.chunks[chunk.ID]
	assert.Equal(t, ChunkFailed, failed.Status)
	assert.Equal(t, "engine rate limited", failed.ErrorMessage)
}

func TestHandleCompletionTerminal(t *testing.T) {
	tests := []struct {
		name string
		ok   []bool
		want string
	}{
		{"all chunks succeed", []bool{true, true}, StatusCompleted},
		{"all chunks fail", []bool{false, false}, StatusFailed},
		{"mixed outcome is partial success", []bool{true, false}, StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			ctx := context.Background()

			job := env.seedRunningJob("user-1", len(tt.ok))
			for i, chunk := range env.store.jobChunks(job.ID) {
				result := CompletionResult{OK: tt.ok[i], Error: "boom"}
				require.NoError(t, env.svc.aggregator.HandleCompletion(ctx, job.ID, chunk.ID, chunk.TaskID, result))
			}

			stored := env.store.jobs[job.ID]
			assert.Equal(t, tt.want, stored.Status)
			assert.Equal(t, 0, stored.ActiveChunks)
			assert.Equal(t, 100, stored.Progress)
			assert.NotNil(t, stored.CompletedAt)
		})
	}
}

func TestLateCompletionAfterCancelKeepsCancelled(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	job := env.seedRunningJob("user-1", 1)
	job.Status = StatusCancelled
	chunk := env.store.jobChunks(job.ID)[0]

	// A worker past the revocation point still delivers. The chunk
	// settles and the counters move, but cancelled is terminal.
	result := CompletionResult{OK: true, DownloadedCount: 1}
	require.NoError(t, env.svc.aggregator.HandleCompletion(ctx, job.ID, chunk.ID, chunk.TaskID, result))

	stored := env.store.jobs[job.ID]
	assert.Equal(t, StatusCancelled, stored.Status)
	assert.Equal(t, 0, stored.ActiveChunks)
	assert.Nil(t, stored.CompletedAt)
	assert.Equal(t, ChunkCompleted, env.store.chunks[chunk.ID].Status)
}

func TestReportCompletionReclaimsTempFiles(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	job := env.seedRunningJob("user-1", 1)
	chunk := env.store.jobChunks(job.ID)[0]

	result := CompletionResult{
		OK:              true,
		DownloadedCount: 2,
		Images: []CompletionImage{
			{SourceURL: "https://img.example/1", Filename: "1.jpg", IsValid: true},
			{SourceURL: "https://img.example/2", Filename: "", IsValid: true},
		},
	}
	require.NoError(t, env.svc.ReportCompletion(ctx, job.ID, chunk.ID, chunk.TaskID, result))

	require.Len(t, env.reclaimer.jobIDs, 1)
	assert.Equal(t, job.ID, env.reclaimer.jobIDs[0])
	assert.Equal(t, chunk.ID, env.reclaimer.chunkIDs[0])
	assert.Equal(t, []string{"1.jpg"}, env.reclaimer.filenames[0])
}
