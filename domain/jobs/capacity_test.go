package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/crawlforge/crawlforge/internal/config"
)

type fakeCounter struct {
	active int
	err    error
}

func (f *fakeCounter) SumActiveChunks(context.Context) (int, error) {
	return f.active, f.err
}

func newTestMonitor(counter activeChunkCounter) *CapacityMonitor {
	return &CapacityMonitor{
		counter: counter,
		cfg: &config.ResourceConfig{
			MaxConcurrentChunks:  35,
			MaxTempStorageMB:     51200,
			ChunkSizeImages:      500,
			EstimatedImageSizeMB: 0.5,
			StorageSafetyMargin:  0.2,
		},
		log: slog.Default(),
	}
}

func TestCapacityAvailable(t *testing.T) {
	ctx := context.Background()

	// effective max = min(35, floor(51200*0.8/250)) = min(35, 163) = 35
	tests := []struct {
		name   string
		active int
		want   int
	}{
		{"idle", 0, 35},
		{"partially loaded", 20, 15},
		{"at ceiling", 35, 0},
		{"over ceiling clamps to zero", 40, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor(&fakeCounter{active: tt.active})
			assert.Equal(t, tt.want, m.Available(ctx))
		})
	}
}

func TestCapacityCanAdmit(t *testing.T) {
	ctx := context.Background()
	m := newTestMonitor(&fakeCounter{active: 30})

	assert.True(t, m.CanAdmit(ctx, 5))
	assert.False(t, m.CanAdmit(ctx, 6))
}

func TestCapacityFailsClosed(t *testing.T) {
	// Unlike quota checks, an unreadable active count must deny
	// admission: over-admission exhausts temp storage.
	ctx := context.Background()
	m := newTestMonitor(&fakeCounter{err: errors.New("connection refused")})

	assert.Equal(t, 0, m.Available(ctx))
	assert.False(t, m.CanAdmit(ctx, 1))
}

func TestCapacityStorageDerivedCeiling(t *testing.T) {
	// A small storage budget lowers the ceiling below the configured
	// chunk limit.
	m := newTestMonitor(&fakeCounter{})
	m.cfg = &config.ResourceConfig{
		MaxConcurrentChunks:  35,
		MaxTempStorageMB:     2500,
		ChunkSizeImages:      500,
		EstimatedImageSizeMB: 0.5,
		StorageSafetyMargin:  0.2,
	}

	// floor(2500*0.8/250) = 8
	assert.Equal(t, 8, m.EffectiveMax())
}
