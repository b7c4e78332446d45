// Package cleanup reclaims temp storage under the job_{id}/ prefixes.
// Five triggers share one engine; each trigger has its own scope, age
// filter and aggressiveness. Runs are best-effort throughout: a file
// that cannot be deleted is recorded and skipped, never fatal.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/crawlforge/crawlforge/domain/jobs"
	"github.com/crawlforge/crawlforge/internal/config"
	"github.com/crawlforge/crawlforge/internal/storage"
	"github.com/crawlforge/crawlforge/pkg/logger"
)

// writeSafetyMargin protects files a worker may still be writing: scan
// modes never delete anything modified within the last minute of the
// run start.
const writeSafetyMargin = time.Minute

// emergencyOrphanAge is the tightened orphan age used by emergency runs
const emergencyOrphanAge = time.Hour

// usageRecheckEvery bounds how often the oldest-first pass re-reads the
// usage metric.
const usageRecheckEvery = 20

// datasetPrefix holds final artifacts; cleanup never touches it
const datasetPrefix = "datasets/"

// jobStates is the slice of the jobs repository the engine reads
type jobStates interface {
	ListActiveJobIDs(ctx context.Context) (map[int64]struct{}, error)
	GetJobStatuses(ctx context.Context, ids []int64) (map[int64]string, error)
}

// Engine runs cleanup passes against the object store
type Engine struct {
	store storage.Store
	jobs  jobStates
	cfg   *config.CleanupConfig
	log   *slog.Logger
}

// NewEngine creates a new cleanup engine
func NewEngine(store storage.Store, repo *jobs.Repository, cfg *config.Config, log *slog.Logger) *Engine {
	return &Engine{
		store: store,
		jobs:  repo,
		cfg:   &cfg.Cleanup,
		log:   log.With(logger.Scope("cleanup")),
	}
}

// ReclaimChunk releases one finished chunk's temp files in the
// background. Implements the reclaimer hook the job service calls after
// every completion.
func (e *Engine) ReclaimChunk(jobID, chunkID int64, filenames []string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		stats := e.RunChunkCompletion(ctx, jobID, chunkID, filenames)
		if len(stats.Errors) > 0 {
			e.log.Warn("chunk reclaim finished with errors",
				slog.Int64("jobID", jobID),
				slog.Int64("chunkID", chunkID),
				slog.Int("errors", len(stats.Errors)))
		}
	}()
}

// RunChunkCompletion deletes exactly the listed files of one finished
// chunk. The scan is confined to the chunk's own key prefix, so a file
// belonging to any other job or chunk can never match.
func (e *Engine) RunChunkCompletion(ctx context.Context, jobID, chunkID int64, filenames []string) Stats {
	stats := e.begin(ctx, TriggerChunkCompletion)
	defer e.finish(ctx, &stats)

	if len(filenames) == 0 {
		return stats
	}

	objects, err := e.store.List(ctx, storage.TempChunkPrefix(jobID, chunkID))
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("list: %v", err))
		return stats
	}
	stats.FilesScanned = len(objects)

	wanted := make([]string, 0, len(filenames))
	for _, f := range filenames {
		wanted = append(wanted, storage.SanitizeFilename(f))
	}

	for _, obj := range objects {
		matched := false
		for _, name := range wanted {
			if strings.Contains(obj.Key, name) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		e.deleteObject(ctx, obj, &stats)
	}

	return stats
}

// RunCrashRecovery deletes the temp files of failed and cancelled jobs.
// With a job id it is scoped to that job; without, it sweeps every
// dead job's leftovers.
func (e *Engine) RunCrashRecovery(ctx context.Context, jobID *int64) Stats {
	stats := e.begin(ctx, TriggerCrashRecovery)
	defer e.finish(ctx, &stats)

	prefix := ""
	if jobID != nil {
		prefix = storage.TempJobPrefix(*jobID)
	}

	objects, err := e.listTempFiles(ctx, prefix)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("list: %v", err))
		return stats
	}
	stats.FilesScanned = len(objects)

	statuses, err := e.statusesFor(ctx, objects)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("job statuses: %v", err))
		return stats
	}

	safeCutoff := stats.StartedAt.Add(-writeSafetyMargin)
	for _, obj := range objects {
		id, ok := storage.ExtractJobID(obj.Key)
		if !ok {
			continue
		}
		status, exists := statuses[id]
		if !exists || !deadJobStatus(status) {
			continue
		}
		if !obj.LastModified.Before(safeCutoff) {
			continue
		}
		e.deleteObject(ctx, obj, &stats)
	}

	return stats
}

// RunOrphaned deletes temp files that no active job accounts for. A
// file is an orphan when its key yields no job id, or the id belongs to
// no active job and the job is gone or dead; either way the file must
// be older than the age cutoff.
func (e *Engine) RunOrphaned(ctx context.Context, maxAge time.Duration) Stats {
	stats := e.begin(ctx, TriggerOrphaned)
	defer e.finish(ctx, &stats)

	objects, err := e.listTempFiles(ctx, "")
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("list: %v", err))
		return stats
	}
	stats.FilesScanned = len(objects)

	active, err := e.jobs.ListActiveJobIDs(ctx)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("active jobs: %v", err))
		return stats
	}
	statuses, err := e.statusesFor(ctx, objects)
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("job statuses: %v", err))
		return stats
	}

	ageCutoff := stats.StartedAt.Add(-maxAge)
	safeCutoff := stats.StartedAt.Add(-writeSafetyMargin)

	for _, obj := range objects {
		if !obj.LastModified.Before(ageCutoff) || !obj.LastModified.Before(safeCutoff) {
			continue
		}
		if !e.isOrphan(obj.Key, active, statuses) {
			continue
		}
		e.deleteObject(ctx, obj, &stats)
	}

	return stats
}

// RunEmergency reclaims space until usage drops to five points below
// the emergency threshold: first recent orphans, then dead-job files,
// then oldest-first. Below the threshold it deletes nothing.
func (e *Engine) RunEmergency(ctx context.Context) Stats {
	stats := e.begin(ctx, TriggerEmergency)
	defer e.finish(ctx, &stats)

	if stats.StorageBefore == nil {
		e.log.Warn("emergency cleanup skipped: no usage metric from store")
		return stats
	}
	if *stats.StorageBefore < e.cfg.EmergencyThreshold {
		return stats
	}

	target := e.cfg.EmergencyThreshold - 5

	e.log.Warn("emergency cleanup engaged",
		slog.Float64("usage", *stats.StorageBefore),
		slog.Float64("target", target))

	stats.merge(e.RunOrphaned(ctx, emergencyOrphanAge))
	if e.usageAtMost(ctx, target) {
		return stats
	}

	stats.merge(e.RunCrashRecovery(ctx, nil))
	if e.usageAtMost(ctx, target) {
		return stats
	}

	e.oldestFirst(ctx, target, &stats)
	return stats
}

// RunScheduled is the periodic pass: escalate to emergency when usage
// crossed the threshold, otherwise sweep orphans and dead-job files.
func (e *Engine) RunScheduled(ctx context.Context) Stats {
	stats := e.begin(ctx, TriggerScheduled)
	defer e.finish(ctx, &stats)

	if stats.StorageBefore != nil {
		switch {
		case *stats.StorageBefore >= e.cfg.EmergencyThreshold:
			stats.merge(e.RunEmergency(ctx))
			return stats
		case *stats.StorageBefore >= e.cfg.WarningThreshold:
			e.log.Warn("temp storage above warning threshold",
				slog.Float64("usage", *stats.StorageBefore),
				slog.Float64("warning", e.cfg.WarningThreshold))
		}
	}

	maxAge := time.Duration(e.cfg.MaxOrphanAgeHours) * time.Hour
	stats.merge(e.RunOrphaned(ctx, maxAge))
	stats.merge(e.RunCrashRecovery(ctx, nil))
	return stats
}

// oldestFirst deletes eligible temp files in mtime order until usage
// reaches the target.
func (e *Engine) oldestFirst(ctx context.Context, target float64, stats *Stats) {
	objects, err := e.listTempFiles(ctx, "")
	if err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("list: %v", err))
		return
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.Before(objects[j].LastModified)
	})

	safeCutoff := stats.StartedAt.Add(-writeSafetyMargin)
	deleted := 0
	for _, obj := range objects {
		if !obj.LastModified.Before(safeCutoff) {
			continue
		}
		e.deleteObject(ctx, obj, stats)
		deleted++

		if deleted%usageRecheckEvery == 0 && e.usageAtMost(ctx, target) {
			return
		}
	}
}

func (e *Engine) isOrphan(key string, active map[int64]struct{}, statuses map[int64]string) bool {
	id, ok := storage.ExtractJobID(key)
	if !ok {
		return true
	}
	if _, isActive := active[id]; isActive {
		return false
	}
	status, exists := statuses[id]
	return !exists || deadJobStatus(status)
}

// listTempFiles lists the temp area, excluding final dataset artifacts
func (e *Engine) listTempFiles(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	objects, err := e.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	temp := objects[:0]
	for _, obj := range objects {
		if strings.HasPrefix(obj.Key, datasetPrefix) {
			continue
		}
		temp = append(temp, obj)
	}
	return temp, nil
}

// statusesFor resolves the job status for every job id referenced by
// the given keys.
func (e *Engine) statusesFor(ctx context.Context, objects []storage.ObjectInfo) (map[int64]string, error) {
	seen := map[int64]struct{}{}
	ids := []int64{}
	for _, obj := range objects {
		id, ok := storage.ExtractJobID(obj.Key)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return e.jobs.GetJobStatuses(ctx, ids)
}

func (e *Engine) deleteObject(ctx context.Context, obj storage.ObjectInfo, stats *Stats) {
	if err := e.store.Delete(ctx, obj.Key); err != nil {
		stats.Errors = append(stats.Errors, fmt.Sprintf("delete %s: %v", obj.Key, err))
		return
	}
	stats.FilesDeleted++
	stats.BytesFreed += obj.Size
}

func (e *Engine) usageAtMost(ctx context.Context, target float64) bool {
	usage, err := e.store.UsagePercent(ctx)
	if err != nil || usage == nil {
		return false
	}
	return *usage <= target
}

func (e *Engine) begin(ctx context.Context, trigger Trigger) Stats {
	stats := Stats{
		Trigger:   trigger,
		StartedAt: time.Now().UTC(),
	}
	if usage, err := e.store.UsagePercent(ctx); err == nil {
		stats.StorageBefore = usage
	}
	return stats
}

func (e *Engine) finish(ctx context.Context, stats *Stats) {
	stats.FinishedAt = time.Now().UTC()
	if usage, err := e.store.UsagePercent(ctx); err == nil {
		stats.StorageAfter = usage
	}

	observeRun(stats)

	e.log.Info("cleanup run finished",
		slog.String("trigger", string(stats.Trigger)),
		slog.Int("scanned", stats.FilesScanned),
		slog.Int("deleted", stats.FilesDeleted),
		slog.Int64("bytesFreed", stats.BytesFreed),
		slog.Int("errors", len(stats.Errors)),
		slog.Duration("took", stats.FinishedAt.Sub(stats.StartedAt)))
}

func deadJobStatus(status string) bool {
	return status == jobs.StatusFailed || status == jobs.StatusCancelled
}
