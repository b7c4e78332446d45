package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/crawlforge/crawlforge/pkg/logger"
)

// localStore keeps objects as plain files under a root directory.
// Object keys map to relative paths.
type localStore struct {
	root string
	log  *slog.Logger
}

func newLocalStore(root string, log *slog.Logger) (*localStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &localStore{
		root: root,
		log:  log.With(logger.Scope("storage.local")),
	}, nil
}

func (s *localStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *localStore) Put(ctx context.Context, key string, data io.Reader, size int64) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create object: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, data); err != nil {
		return fmt.Errorf("write object: %w", err)
	}

	s.log.Debug("object written", slog.String("key", key))
	return nil
}

func (s *localStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

func (s *localStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *localStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)

		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}

		objects = append(objects, ObjectInfo{
			Key:          key,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list failed: %w", err)
	}

	return objects, nil
}

// Presign is not meaningful for local files; callers get a file URL so
// single-node installs still have a working download path.
func (s *localStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := os.Stat(s.path(key)); err != nil {
		return "", fmt.Errorf("presign failed: %w", err)
	}
	return "file://" + s.path(key), nil
}

// UsagePercent reports filesystem usage of the partition holding the
// storage root, from available-block math.
func (s *localStore) UsagePercent(ctx context.Context) (*float64, error) {
	usage, err := disk.UsageWithContext(ctx, s.root)
	if err != nil {
		return nil, fmt.Errorf("disk usage: %w", err)
	}
	pct := usage.UsedPercent
	return &pct, nil
}
