package jobs

import (
	"time"

	"github.com/uptrace/bun"
)

// Job statuses
const (
	StatusPending    = "pending"
	StatusRunning    = "running"
	StatusCancelling = "cancelling"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
	StatusCompleted  = "completed"
)

// Chunk statuses
const (
	ChunkPending    = "pending"
	ChunkProcessing = "processing"
	ChunkCompleted  = "completed"
	ChunkFailed     = "failed"
)

// Request bounds
const (
	MaxKeywords   = 10
	MaxImageCount = 50000
	MaxPriority   = 10
)

// IsTerminal reports whether a job status admits no further transitions
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled || status == StatusFailed
}

// Job represents a row in crawl.jobs. Counters are only ever mutated
// under the job row lock, so the invariant
// total = active + completed + failed holds at every commit point.
type Job struct {
	bun.BaseModel `bun:"table:crawl.jobs,alias:j"`

	ID        int64  `bun:"id,pk,autoincrement" json:"id"`
	ProjectID string `bun:"project_id,type:uuid,notnull" json:"projectId"`
	UserID    string `bun:"user_id,type:uuid,notnull" json:"userId"`

	Name     string   `bun:"name,notnull" json:"name"`
	Keywords []string `bun:"keywords,array,notnull" json:"keywords"`
	Engine   string   `bun:"engine,notnull,default:'default'" json:"engine"`

	TargetImageCount int `bun:"target_image_count,notnull" json:"targetImageCount"`
	Priority         int `bun:"priority,notnull,default:0" json:"priority"`

	Status   string `bun:"status,notnull,default:'pending'" json:"status"`
	Progress int    `bun:"progress,notnull,default:0" json:"progress"`

	DownloadedImages int `bun:"downloaded_images,notnull,default:0" json:"downloadedImages"`
	ValidImages      int `bun:"valid_images,notnull,default:0" json:"validImages"`
	DuplicateImages  int `bun:"duplicate_images,notnull,default:0" json:"duplicateImages"`
	FailedImages     int `bun:"failed_images,notnull,default:0" json:"failedImages"`

	TotalChunks     int `bun:"total_chunks,notnull,default:0" json:"totalChunks"`
	ActiveChunks    int `bun:"active_chunks,notnull,default:0" json:"activeChunks"`
	CompletedChunks int `bun:"completed_chunks,notnull,default:0" json:"completedChunks"`
	FailedChunks    int `bun:"failed_chunks,notnull,default:0" json:"failedChunks"`

	// TaskIDs holds the external queue task ids in dispatch order. The
	// ids are opaque; they are only ever replayed back to the queue on
	// revocation.
	TaskIDs []string `bun:"task_ids,array,nullzero" json:"taskIds,omitempty"`

	CreatedAt   time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
	StartedAt   *time.Time `bun:"started_at,nullzero" json:"startedAt,omitempty"`
	CompletedAt *time.Time `bun:"completed_at,nullzero" json:"completedAt,omitempty"`
}

// Chunk represents a row in crawl.chunks. Chunk indexes are contiguous
// from 0 and the ranges partition [0, target_image_count).
type Chunk struct {
	bun.BaseModel `bun:"table:crawl.chunks,alias:c"`

	ID         int64 `bun:"id,pk,autoincrement" json:"id"`
	JobID      int64 `bun:"job_id,notnull" json:"jobId"`
	ChunkIndex int   `bun:"chunk_index,notnull" json:"chunkIndex"`

	Status   string `bun:"status,notnull,default:'pending'" json:"status"`
	Priority int    `bun:"priority,notnull,default:0" json:"priority"`

	RangeStart int `bun:"range_start,notnull" json:"rangeStart"`
	RangeEnd   int `bun:"range_end,notnull" json:"rangeEnd"`

	RetryCount   int    `bun:"retry_count,notnull,default:0" json:"retryCount"`
	ErrorMessage string `bun:"error_message,nullzero" json:"errorMessage,omitempty"`
	TaskID       string `bun:"task_id,nullzero" json:"taskId,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
}

// ImageRecord represents a row in crawl.images, appended by the result
// aggregator. Validity and duplicate flags are the worker's verdict;
// the control plane stores them verbatim.
type ImageRecord struct {
	bun.BaseModel `bun:"table:crawl.images,alias:i"`

	ID      int64 `bun:"id,pk,autoincrement" json:"id"`
	ChunkID int64 `bun:"chunk_id,notnull" json:"chunkId"`
	JobID   int64 `bun:"job_id,notnull" json:"jobId"`

	SourceURL  string `bun:"source_url,notnull" json:"sourceUrl"`
	Filename   string `bun:"filename,notnull" json:"filename"`
	StorageKey string `bun:"storage_key,nullzero" json:"storageKey,omitempty"`

	IsValid     bool           `bun:"is_valid,notnull,default:false" json:"isValid"`
	IsDuplicate bool           `bun:"is_duplicate,notnull,default:false" json:"isDuplicate"`
	Metadata    map[string]any `bun:"metadata,type:jsonb,nullzero" json:"metadata,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// CreateJobRequest is the request body for creating a job
type CreateJobRequest struct {
	ProjectID string   `json:"projectId"`
	Name      string   `json:"name"`
	Keywords  []string `json:"keywords"`
	Engine    string   `json:"engine"`
	Target    int      `json:"targetImageCount"`
	Priority  int      `json:"priority"`
}

// CompletionImage is one image reported by a worker
type CompletionImage struct {
	SourceURL   string         `json:"sourceUrl"`
	Filename    string         `json:"filename"`
	StorageKey  string         `json:"storageKey"`
	IsValid     bool           `json:"isValid"`
	IsDuplicate bool           `json:"isDuplicate"`
	Metadata    map[string]any `json:"metadata"`
}

// CompletionResult is the payload a worker reports when a chunk ends
type CompletionResult struct {
	OK              bool              `json:"ok"`
	DownloadedCount int               `json:"downloadedCount"`
	Images          []CompletionImage `json:"images"`
	Error           string            `json:"error"`
}

// Progress is the read-only snapshot returned by status queries
type Progress struct {
	JobID    int64  `json:"jobId"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`

	DownloadedImages int `json:"downloadedImages"`
	ValidImages      int `json:"validImages"`
	DuplicateImages  int `json:"duplicateImages"`
	FailedImages     int `json:"failedImages"`

	TotalChunks     int `json:"totalChunks"`
	ActiveChunks    int `json:"activeChunks"`
	CompletedChunks int `json:"completedChunks"`
	FailedChunks    int `json:"failedChunks"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Snapshot builds a progress view of the job
func (j *Job) Snapshot() Progress {
	return Progress{
		JobID:            j.ID,
		Status:           j.Status,
		Progress:         j.Progress,
		DownloadedImages: j.DownloadedImages,
		ValidImages:      j.ValidImages,
		DuplicateImages:  j.DuplicateImages,
		FailedImages:     j.FailedImages,
		TotalChunks:      j.TotalChunks,
		ActiveChunks:     j.ActiveChunks,
		CompletedChunks:  j.CompletedChunks,
		FailedChunks:     j.FailedChunks,
		CreatedAt:        j.CreatedAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
	}
}
