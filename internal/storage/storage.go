// Package storage provides the pluggable object store used for
// transient crawl output and final dataset artifacts. Two providers are
// available: an S3-compatible client (MinIO in every deployment we run)
// and a local-filesystem store for single-node installs.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/fx"

	"github.com/crawlforge/crawlforge/internal/config"
	"github.com/crawlforge/crawlforge/pkg/logger"
)

var Module = fx.Module("storage",
	fx.Provide(NewStore),
)

// MaxKeyBytes is the longest accepted object key.
const MaxKeyBytes = 500

// ObjectInfo describes one stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the object store capability consumed by the dispatcher, the
// cancel path and the cleanup engine.
//
// UsagePercent returns the fraction of backing storage in use (0..100),
// or nil when the provider has no native usage metric (S3).
type Store interface {
	Put(ctx context.Context, key string, data io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	UsagePercent(ctx context.Context) (*float64, error)
}

// NewStore selects the provider from configuration.
func NewStore(cfg *config.Config, log *slog.Logger) (Store, error) {
	if cfg.Storage.UseS3() {
		return newS3Store(&cfg.Storage, log)
	}
	log.With(logger.Scope("storage")).Info("using local filesystem store",
		slog.String("root", cfg.Storage.LocalRoot))
	return newLocalStore(cfg.Storage.LocalRoot, log)
}

// DeletePrefix removes every object under the prefix. Individual delete
// failures do not stop the sweep; the first error is returned after all
// objects were attempted.
func DeletePrefix(ctx context.Context, store Store, prefix string) error {
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}

	var firstErr error
	for _, obj := range objects {
		if err := store.Delete(ctx, obj.Key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ValidateKey rejects keys the store contract does not allow.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty object key")
	}
	if len(key) > MaxKeyBytes {
		return fmt.Errorf("object key exceeds %d bytes", MaxKeyBytes)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid object key %q", key)
	}
	return nil
}

// TempJobPrefix returns the temp-storage prefix holding every transient
// file for one job.
func TempJobPrefix(jobID int64) string {
	return fmt.Sprintf("job_%d/", jobID)
}

// TempChunkKey returns the temp-storage key for one chunk output file.
// Layout: job_{id}/chunk_{c}_{filename}, where c is the chunk id the
// worker received in its task signature.
func TempChunkKey(jobID, chunkID int64, filename string) string {
	return fmt.Sprintf("job_%d/chunk_%d_%s", jobID, chunkID, SanitizeFilename(filename))
}

// TempChunkPrefix returns the key prefix of one chunk's temp files.
func TempChunkPrefix(jobID, chunkID int64) string {
	return fmt.Sprintf("job_%d/chunk_%d_", jobID, chunkID)
}

// jobKeyRe extracts the owning job id from a temp-storage key.
var jobKeyRe = regexp.MustCompile(`^job_(\d+)/`)

// ExtractJobID parses the job id out of a temp-storage key. The second
// return is false for keys outside the job_{id}/ layout.
func ExtractJobID(key string) (int64, bool) {
	m := jobKeyRe.FindStringSubmatch(key)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// DatasetKey returns the final artifact key for a completed job.
// Layout: datasets/{project_id}/{job_id}/{filename}.
func DatasetKey(projectID string, jobID int64, filename string) string {
	return fmt.Sprintf("datasets/%s/%d/%s", projectID, jobID, SanitizeFilename(filename))
}

// SanitizeFilename cleans a filename for storage
func SanitizeFilename(filename string) string {
	if filename == "" {
		return "unnamed"
	}

	re := regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	sanitized := re.ReplaceAllString(filename, "_")

	re = regexp.MustCompile(`_{2,}`)
	sanitized = re.ReplaceAllString(sanitized, "_")

	sanitized = strings.Trim(sanitized, "_")
	sanitized = strings.ToLower(sanitized)

	if len(sanitized) > 200 {
		sanitized = sanitized[:200]
	}

	if sanitized == "" {
		return "unnamed"
	}

	return sanitized
}
