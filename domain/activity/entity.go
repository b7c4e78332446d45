package activity

import (
	"time"

	"github.com/uptrace/bun"
)

// Action names recorded in the activity trail
const (
	ActionJobCreated     = "job.created"
	ActionJobStarted     = "job.started"
	ActionJobCancelled   = "job.cancelled"
	ActionJobRetried     = "job.retried"
	ActionJobCompleted   = "job.completed"
	ActionJobFailed      = "job.failed"
	ActionProjectCreated = "project.created"
	ActionProjectDeleted = "project.deleted"
	ActionMemberAdded    = "project.member_added"
	ActionMemberRemoved  = "project.member_removed"
	ActionCleanupRun     = "cleanup.run"
)

// Entry is one append-only audit record. Entries are never updated or
// deleted by application code.
type Entry struct {
	bun.BaseModel `bun:"table:crawl.activity_entries,alias:ae"`

	ID        int64          `bun:"id,pk,autoincrement" json:"id"`
	UserID    string         `bun:"user_id,type:uuid,nullzero" json:"userId,omitempty"`
	ProjectID string         `bun:"project_id,type:uuid,nullzero" json:"projectId,omitempty"`
	JobID     int64          `bun:"job_id,nullzero" json:"jobId,omitempty"`
	Action    string         `bun:"action,notnull" json:"action"`
	Detail    map[string]any `bun:"detail,type:jsonb,nullzero" json:"detail,omitempty"`
	CreatedAt time.Time      `bun:"created_at,notnull,default:now()" json:"createdAt"`
}
