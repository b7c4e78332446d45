// Package quota enforces per-tier usage limits. Checks run against live
// database counts at the moment of the action; a tier upgrade or a job
// finishing takes effect on the very next check.
//
// Quota checks fail OPEN: when a usage count cannot be read the action
// is allowed and a warning is logged. Quota protects revenue, not
// infrastructure, so a degraded database should not lock paying users
// out. Capacity admission (which protects infrastructure) is the
// opposite and fails closed.
package quota

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/crawlforge/crawlforge/internal/config"
	"github.com/crawlforge/crawlforge/pkg/apperror"
	"github.com/crawlforge/crawlforge/pkg/logger"
)

var Module = fx.Module("quota",
	fx.Provide(
		NewRepository,
		func(r *Repository) UsageCounts { return r },
		NewEnforcer,
	),
)

// UsageCounts reads the live usage numbers a check compares against.
// CountActiveJobs leaves out excludeJobID (when non-zero) so a job can
// be checked without counting against itself.
type UsageCounts interface {
	CountActiveJobs(ctx context.Context, userID string, excludeJobID int64) (int, error)
	CountJobsToday(ctx context.Context, userID string) (int, error)
	CountProjects(ctx context.Context, userID string) (int, error)
	CountMembers(ctx context.Context, projectID string) (int, error)
}

// Enforcer checks tier limits before quota-bound actions
type Enforcer struct {
	counts UsageCounts
	tiers  *config.TierConfig
	log    *slog.Logger
}

// NewEnforcer creates a new quota enforcer
func NewEnforcer(counts UsageCounts, cfg *config.Config, log *slog.Logger) *Enforcer {
	return &Enforcer{
		counts: counts,
		tiers:  &cfg.Tiers,
		log:    log.With(logger.Scope("quota")),
	}
}

// CheckCreateJob verifies the user may create a job with the given
// image count. Returns *apperror.Error (429) naming the violated limit.
func (e *Enforcer) CheckCreateJob(ctx context.Context, userID, tier string, imageCount int) error {
	name, limits := e.tiers.Limits(tier)

	// The image count is part of the request, no DB read involved, so
	// it is enforced even when counts are unavailable.
	if imageCount > limits.MaxImagesPerJob {
		return apperror.NewQuotaExceeded(name, "max_images_per_job", limits.MaxImagesPerJob, imageCount)
	}

	if err := e.checkConcurrent(ctx, userID, name, limits, 0); err != nil {
		return err
	}

	today, err := e.counts.CountJobsToday(ctx, userID)
	if err != nil {
		e.failOpen("max_jobs_per_day", userID, err)
	} else if today >= limits.MaxJobsPerDay {
		return apperror.NewQuotaExceeded(name, "max_jobs_per_day", limits.MaxJobsPerDay, today)
	}

	return nil
}

// CheckStartJob verifies the user may start the given pending job. The
// job itself is excluded from the concurrent count: it already exists
// as a Pending row and must not occupy its own slot. The daily cap is
// a creation-rate limit and is not re-applied here.
func (e *Enforcer) CheckStartJob(ctx context.Context, userID, tier string, jobID int64, imageCount int) error {
	name, limits := e.tiers.Limits(tier)

	if imageCount > limits.MaxImagesPerJob {
		return apperror.NewQuotaExceeded(name, "max_images_per_job", limits.MaxImagesPerJob, imageCount)
	}

	return e.checkConcurrent(ctx, userID, name, limits, jobID)
}

func (e *Enforcer) checkConcurrent(ctx context.Context, userID, tierName string, limits config.TierLimits, excludeJobID int64) error {
	active, err := e.counts.CountActiveJobs(ctx, userID, excludeJobID)
	if err != nil {
		e.failOpen("max_concurrent_jobs", userID, err)
		return nil
	}
	if active >= limits.MaxConcurrentJobs {
		return apperror.NewQuotaExceeded(tierName, "max_concurrent_jobs", limits.MaxConcurrentJobs, active)
	}
	return nil
}

// CheckCreateProject verifies the user may create another project
func (e *Enforcer) CheckCreateProject(ctx context.Context, userID, tier string) error {
	name, limits := e.tiers.Limits(tier)

	owned, err := e.counts.CountProjects(ctx, userID)
	if err != nil {
		e.failOpen("max_projects", userID, err)
		return nil
	}
	if owned >= limits.MaxProjects {
		return apperror.NewQuotaExceeded(name, "max_projects", limits.MaxProjects, owned)
	}
	return nil
}

// CheckAddMember verifies the project may take another member. The
// limit comes from the project owner's tier, not the inviter's.
func (e *Enforcer) CheckAddMember(ctx context.Context, projectID, ownerTier string) error {
	name, limits := e.tiers.Limits(ownerTier)

	members, err := e.counts.CountMembers(ctx, projectID)
	if err != nil {
		e.failOpen("max_team_members", projectID, err)
		return nil
	}
	if members >= limits.MaxTeamMembers {
		return apperror.NewQuotaExceeded(name, "max_team_members", limits.MaxTeamMembers, members)
	}
	return nil
}

func (e *Enforcer) failOpen(limit, subject string, err error) {
	e.log.Warn("quota check degraded, allowing action",
		slog.String("limit", limit),
		slog.String("subject", subject),
		logger.Error(err))
}
