package mathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCeilDiv(t *testing.T) {
	tests := []struct {
		a, b, want int
	}{
		{1, 500, 1},
		{500, 500, 1},
		{501, 500, 2},
		{1000, 500, 2},
		{1300, 500, 3},
		{0, 500, 0},
		{10, 0, 0},
		{10, -1, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CeilDiv(tt.a, tt.b))
	}
}

func TestClampInt(t *testing.T) {
	assert.Equal(t, 5, ClampInt(5, 0, 10))
	assert.Equal(t, 0, ClampInt(-3, 0, 10))
	assert.Equal(t, 10, ClampInt(42, 0, 10))
}

func TestClampFloat(t *testing.T) {
	assert.Equal(t, 0.2, ClampFloat(0.2, 0, 0.5))
	assert.Equal(t, 0.0, ClampFloat(-1, 0, 0.5))
	assert.Equal(t, 0.5, ClampFloat(0.9, 0, 0.5))
}

func TestMinMaxInt(t *testing.T) {
	assert.Equal(t, 3, MinInt(3, 7))
	assert.Equal(t, 3, MinInt(7, 3))
	assert.Equal(t, 7, MaxInt(3, 7))
	assert.Equal(t, 7, MaxInt(7, 3))
}
