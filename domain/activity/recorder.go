// Package activity appends audit entries for user-visible actions. The
// trail is best-effort: recording happens after the owning transaction
// commits and a failed insert never fails the request.
package activity

import (
	"context"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/fx"

	"github.com/crawlforge/crawlforge/pkg/logger"
)

var Module = fx.Module("activity",
	fx.Provide(NewRecorder),
)

const recordTimeout = 5 * time.Second

// Recorder writes activity entries
type Recorder struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRecorder creates a new activity recorder
func NewRecorder(db bun.IDB, log *slog.Logger) *Recorder {
	return &Recorder{
		db:  db,
		log: log.With(logger.Scope("activity")),
	}
}

// Record appends an entry asynchronously. The caller's context is not
// reused so a cancelled request still gets its trail entry.
func (r *Recorder) Record(entry *Entry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		if _, err := r.db.NewInsert().Model(entry).Exec(ctx); err != nil {
			r.log.Warn("failed to record activity",
				logger.Error(err),
				slog.String("action", entry.Action))
		}
	}()
}

// ListByProject returns the most recent entries for a project
func (r *Recorder) ListByProject(ctx context.Context, projectID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var entries []Entry
	err := r.db.NewSelect().
		Model(&entries).
		Where("project_id = ?", projectID).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
