package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempKeys(t *testing.T) {
	assert.Equal(t, "job_42/", TempJobPrefix(42))
	assert.Equal(t, "job_42/chunk_7_", TempChunkPrefix(42, 7))
	assert.Equal(t, "job_42/chunk_7_cat_0001.jpg", TempChunkKey(42, 7, "cat_0001.jpg"))

	// chunk keys always sit under the job prefix
	assert.True(t, strings.HasPrefix(TempChunkKey(42, 7, "a.jpg"), TempJobPrefix(42)))
	assert.True(t, strings.HasPrefix(TempChunkKey(42, 7, "a.jpg"), TempChunkPrefix(42, 7)))
}

func TestDatasetKey(t *testing.T) {
	key := DatasetKey("550e8400-e29b-41d4-a716-446655440000", 42, "archive.zip")
	assert.Equal(t, "datasets/550e8400-e29b-41d4-a716-446655440000/42/archive.zip", key)
	assert.False(t, strings.HasPrefix(key, "job_"))
}

func TestExtractJobID(t *testing.T) {
	tests := []struct {
		key    string
		wantID int64
		wantOK bool
	}{
		{"job_42/chunk_7_cat.jpg", 42, true},
		{"job_1/", 1, true},
		{"job_9001/anything/nested", 9001, true},
		{"datasets/proj/42/file.zip", 0, false},
		{"job_abc/file.jpg", 0, false},
		{"jobs_42/file.jpg", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		id, ok := ExtractJobID(tt.key)
		assert.Equal(t, tt.wantOK, ok, tt.key)
		assert.Equal(t, tt.wantID, id, tt.key)
	}
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("job_1/chunk_1_a.jpg"))
	assert.Error(t, ValidateKey(""))
	assert.Error(t, ValidateKey("/absolute/key"))
	assert.Error(t, ValidateKey("job_1/../escape"))
	assert.Error(t, ValidateKey(strings.Repeat("a", MaxKeyBytes+1)))
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Cat Photo (1).JPG", "cat_photo_1_.jpg"},
		{"normal-file_01.png", "normal-file_01.png"},
		{"___", "unnamed"},
		{"", "unnamed"},
		{"a//b\\c", "a_b_c"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}

	long := SanitizeFilename(strings.Repeat("x", 300))
	assert.LessOrEqual(t, len(long), 200)
}

type prefixStore struct {
	objects   map[string]ObjectInfo
	deleted   []string
	deleteErr map[string]error
}

func (s *prefixStore) Put(ctx context.Context, key string, data io.Reader, size int64) error {
	return nil
}

func (s *prefixStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (s *prefixStore) Delete(ctx context.Context, key string) error {
	if err := s.deleteErr[key]; err != nil {
		return err
	}
	s.deleted = append(s.deleted, key)
	delete(s.objects, key)
	return nil
}

func (s *prefixStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for key, info := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, info)
		}
	}
	return out, nil
}

func (s *prefixStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", errors.New("not implemented")
}

func (s *prefixStore) UsagePercent(ctx context.Context) (*float64, error) {
	return nil, nil
}

func newPrefixStore(keys ...string) *prefixStore {
	s := &prefixStore{objects: map[string]ObjectInfo{}, deleteErr: map[string]error{}}
	for _, k := range keys {
		s.objects[k] = ObjectInfo{Key: k}
	}
	return s
}

func TestDeletePrefix(t *testing.T) {
	store := newPrefixStore(
		"job_1/chunk_1_a.jpg",
		"job_1/chunk_2_b.jpg",
		"job_10/chunk_1_c.jpg",
	)

	require.NoError(t, DeletePrefix(context.Background(), store, TempJobPrefix(1)))

	assert.Len(t, store.deleted, 2)
	assert.NotContains(t, store.objects, "job_1/chunk_1_a.jpg")
	assert.NotContains(t, store.objects, "job_1/chunk_2_b.jpg")
	assert.Contains(t, store.objects, "job_10/chunk_1_c.jpg")
}

func TestDeletePrefixContinuesPastFailures(t *testing.T) {
	store := newPrefixStore(
		"job_1/chunk_1_a.jpg",
		"job_1/chunk_2_b.jpg",
	)
	boom := errors.New("boom")
	store.deleteErr["job_1/chunk_1_a.jpg"] = boom

	err := DeletePrefix(context.Background(), store, TempJobPrefix(1))
	assert.ErrorIs(t, err, boom)
	assert.NotContains(t, store.objects, "job_1/chunk_2_b.jpg")
}
