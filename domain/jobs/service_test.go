package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPageBounds(t *testing.T) {
	tests := []struct {
		name       string
		page       int
		size       int
		wantLimit  int
		wantOffset int
	}{
		{"defaults", 0, 0, DefaultPageSize, 0},
		{"first page", 1, 50, 50, 0},
		{"third page", 3, 20, 20, 40},
		{"size clamped", 1, 9999, MaxPageSize, 0},
		{"negative page", -2, 10, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := pageBounds(tt.page, tt.size)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestJobSnapshot(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &Job{
		ID:               9,
		Status:           StatusRunning,
		Progress:         50,
		DownloadedImages: 500,
		ValidImages:      480,
		DuplicateImages:  10,
		FailedImages:     20,
		TotalChunks:      2,
		ActiveChunks:     1,
		CompletedChunks:  1,
		StartedAt:        &started,
	}

	snap := job.Snapshot()

	assert.Equal(t, int64(9), snap.JobID)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, 50, snap.Progress)
	assert.Equal(t, 500, snap.DownloadedImages)
	assert.Equal(t, 480, snap.ValidImages)
	assert.Equal(t, 2, snap.TotalChunks)
	assert.Equal(t, 1, snap.ActiveChunks)
	assert.Equal(t, &started, snap.StartedAt)
	assert.Nil(t, snap.CompletedAt)

	// Chunk counter invariant holds in the snapshot.
	assert.Equal(t, snap.TotalChunks, snap.ActiveChunks+snap.CompletedChunks+snap.FailedChunks)
}
