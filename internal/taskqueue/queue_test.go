package taskqueue

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelaySec(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		base    int
		max     int
		want    int
	}{
		{"first retry", 1, 60, 3600, 60},
		{"second retry quadratic", 2, 60, 3600, 240},
		{"third retry quadratic", 3, 60, 3600, 540},
		{"capped at max", 10, 60, 3600, 3600},
		{"zero base falls back", 1, 0, 3600, 60},
		{"zero max falls back", 8, 60, 0, 3600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := retryDelaySec(tt.attempt, tt.base, tt.max)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTruncateError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"short message", "worker crashed", "worker crashed"},
		{"exactly 500 characters", strings.Repeat("a", 500), strings.Repeat("a", 500)},
		{"long message truncated", strings.Repeat("b", 1200), strings.Repeat("b", 500)},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateError(tt.msg)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), 500)
		})
	}
}

func TestCrawlChunkSignature(t *testing.T) {
	sig := CrawlChunkSignature("crawl", 42, 7, 500, 999, []string{"cat", "dog"}, "default", 5)

	assert.Equal(t, "crawl_chunk", sig.Operation)
	assert.Equal(t, "crawl", sig.Queue)
	assert.Equal(t, 5, sig.Priority)
	assert.Equal(t, int64(42), sig.Kwargs["job_id"])
	assert.Equal(t, int64(7), sig.Kwargs["chunk_id"])
	assert.Equal(t, 500, sig.Kwargs["range_start"])
	assert.Equal(t, 999, sig.Kwargs["range_end"])
	assert.Equal(t, []string{"cat", "dog"}, sig.Kwargs["keywords"])
	assert.Equal(t, "default", sig.Kwargs["engine"])
	assert.Empty(t, sig.Args)
}
