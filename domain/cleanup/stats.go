package cleanup

import "time"

// Trigger names the cleanup mode; each mode has its own scope and
// aggressiveness.
type Trigger string

const (
	TriggerChunkCompletion Trigger = "chunk_completion"
	TriggerCrashRecovery   Trigger = "crash_recovery"
	TriggerOrphaned        Trigger = "orphaned"
	TriggerEmergency       Trigger = "emergency"
	TriggerScheduled       Trigger = "scheduled"
)

// Stats is the outcome record of one cleanup run. File-level delete
// errors accumulate in Errors; they never abort a run.
type Stats struct {
	Trigger    Trigger   `json:"trigger"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	FilesScanned int   `json:"filesScanned"`
	FilesDeleted int   `json:"filesDeleted"`
	BytesFreed   int64 `json:"bytesFreed"`

	// Storage usage percentages around the run; nil when the provider
	// has no native usage metric.
	StorageBefore *float64 `json:"storageBefore,omitempty"`
	StorageAfter  *float64 `json:"storageAfter,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// merge folds a sub-run into a composite run's stats
func (s *Stats) merge(sub Stats) {
	s.FilesScanned += sub.FilesScanned
	s.FilesDeleted += sub.FilesDeleted
	s.BytesFreed += sub.BytesFreed
	s.Errors = append(s.Errors, sub.Errors...)
}
