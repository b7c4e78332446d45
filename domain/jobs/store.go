package jobs

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/crawlforge/crawlforge/domain/activity"
)

// Tx is one transactional unit of work over the job tables, opened with
// the job row lock held. Commit is final; a deferred Rollback after
// Commit is a no-op.
type Tx interface {
	// IDB exposes the transaction handle for writes that must share it
	// (the task queue lives in the same database).
	IDB() bun.IDB

	GetJobForUpdate(ctx context.Context, id int64) (*Job, error)
	GetChunk(ctx context.Context, jobID, chunkID int64) (*Chunk, error)
	ListChunksForDispatch(ctx context.Context, jobID int64) ([]Chunk, error)
	Update(ctx context.Context, job *Job) error
	UpdateChunk(ctx context.Context, chunk *Chunk) error
	BulkCreateChunks(ctx context.Context, chunks []Chunk) error
	BulkCreateImages(ctx context.Context, images []ImageRecord) error
	DeleteChunks(ctx context.Context, jobID int64) error

	Commit() error
	Rollback() error
}

// txBeginner opens units of work. The bun Repository provides the real
// implementation; tests substitute in-memory fakes.
type txBeginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// serviceStore is the persistence slice the job service drives: the
// transactional lifecycle writes plus the membership-scoped reads.
type serviceStore interface {
	txBeginner

	Create(ctx context.Context, job *Job) error
	GetForUser(ctx context.Context, id int64, userID string) (*Job, error)
	UserInProject(ctx context.Context, projectID, userID string) (bool, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]Job, int, error)
	ListByProject(ctx context.Context, projectID string, limit, offset int) ([]Job, int, error)
	ListChunks(ctx context.Context, jobID int64) ([]Chunk, error)
	ListImages(ctx context.Context, jobID int64, limit, offset int) ([]ImageRecord, int, error)
}

// activitySink receives audit entries. The activity recorder provides
// the implementation; recording is fire-and-forget.
type activitySink interface {
	Record(entry *activity.Entry)
}
