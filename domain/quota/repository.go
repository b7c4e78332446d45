package quota

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/crawlforge/crawlforge/pkg/logger"
)

// activeJobStatuses are the job states that count against the
// concurrent-jobs limit.
var activeJobStatuses = []string{"pending", "running"}

// Repository reads live usage counts. Counts are always computed at
// check time, never cached, so a finished job frees its slot
// immediately.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new quota repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("quota.repo")),
	}
}

// CountActiveJobs returns the number of non-terminal jobs owned by the
// user. A non-zero excludeJobID leaves that job out of the count, so a
// pending job being started does not occupy its own slot.
func (r *Repository) CountActiveJobs(ctx context.Context, userID string, excludeJobID int64) (int, error) {
	q := r.db.NewSelect().
		Table("crawl.jobs").
		Where("user_id = ?", userID).
		Where("status IN (?)", bun.In(activeJobStatuses))
	if excludeJobID > 0 {
		q = q.Where("id <> ?", excludeJobID)
	}
	return q.Count(ctx)
}

// CountJobsToday returns the number of jobs the user created since the
// start of the current UTC day.
func (r *Repository) CountJobsToday(ctx context.Context, userID string) (int, error) {
	return r.db.NewSelect().
		Table("crawl.jobs").
		Where("user_id = ?", userID).
		Where("created_at >= date_trunc('day', now() AT TIME ZONE 'utc')").
		Count(ctx)
}

// CountProjects returns the number of projects the user owns
func (r *Repository) CountProjects(ctx context.Context, userID string) (int, error) {
	return r.db.NewSelect().
		Table("crawl.projects").
		Where("owner_id = ?", userID).
		Count(ctx)
}

// CountMembers returns the number of members of a project, the owner
// included.
func (r *Repository) CountMembers(ctx context.Context, projectID string) (int, error) {
	return r.db.NewSelect().
		Table("crawl.project_members").
		Where("project_id = ?", projectID).
		Count(ctx)
}
