package som

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

func TestNegotiateGroup(t *testing.T) {
	tests := []struct {
		name     string
		limits   kernel.Limits
		maxGroup int
		want     int
	}{
		{"device limit", kernel.Limits{MaxWorkGroupSize: 256, LocalMemBytes: 32 << 10}, 0, 256},
		{"local memory", kernel.Limits{MaxWorkGroupSize: 1024, LocalMemBytes: 4096}, 0, 512},
		{"not a power of two", kernel.Limits{MaxWorkGroupSize: 1000, LocalMemBytes: 1 << 20}, 0, 512},
		{"configured cap", kernel.Limits{MaxWorkGroupSize: 1024, LocalMemBytes: 1 << 20}, 100, 64},
		{"cap above device", kernel.Limits{MaxWorkGroupSize: 128, LocalMemBytes: 1 << 20}, 4096, 128},
		{"unknown local memory", kernel.Limits{MaxWorkGroupSize: 64}, 0, 64},
		{"degenerate", kernel.Limits{}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, negotiateGroup(tt.limits, tt.maxGroup))
		})
	}
}

func TestDistanceLanes(t *testing.T) {
	limits := kernel.Limits{MaxWorkGroupSize: 256, LocalMemBytes: 32 << 10}
	tests := []struct {
		name      string
		dimension int
		threshold int
		group     int
		limits    kernel.Limits
		want      int
	}{
		{"at threshold", 64, 64, 256, limits, 1},
		{"just above", 65, 64, 256, limits, 4},
		{"hyperspectral", 200, 64, 256, limits, 8},
		{"bounded by group", 4096, 64, 64, limits, 64},
		{"bounded by local memory", 4096, 64, 256, kernel.Limits{LocalMemBytes: 48}, 4},
		{"tiny local memory", 4096, 64, 256, kernel.Limits{LocalMemBytes: 12}, 1},
		{"single item group", 500, 64, 1, limits, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, distanceLanes(tt.dimension, tt.threshold, tt.group, tt.limits))
		})
	}
}

func TestReducerScratchCoversStageOne(t *testing.T) {
	r := newReducer(64, 0)
	assert.Equal(t, 1, r.hostThreshold, "threshold is at least one partial")
	assert.Equal(t, 1, r.scratchPairs(64))
	assert.Equal(t, 2, r.scratchPairs(65))
	assert.Equal(t, 64, r.scratchPairs(4096))
}

func TestReducerCountsPasses(t *testing.T) {
	m := newHostManager(t, nil)
	s, err := m.OpenSession()
	require.NoError(t, err)
	defer s.Close()

	shape := kernel.Shape{Dimension: 1, Width: 64, Height: 64}
	r := newReducer(4, 3)
	require.NoError(t, s.Allocate(shape, r.scratchPairs(shape.Neurons())))

	grid := make([]float32, shape.Floats())
	for i := range grid {
		grid[i] = float32(i%97) + 1
	}
	grid[4000] = 0.5
	require.NoError(t, s.Upload(grid))
	require.NoError(t, s.WriteQuery([]float32{0}))
	require.NoError(t, s.Distances(kernel.SquaredEuclidean, 1))

	best, err := r.argmin(s)
	require.NoError(t, err)
	assert.Equal(t, kernel.Pair{Value: 0.25, Index: 4000}, best)
	// 4096 -> 1024 (stage 1) -> 256 -> 64 -> 16 -> 4 -> 1
	assert.Equal(t, int64(5), r.devicePasses)
	assert.Equal(t, int64(1), r.hostReductions)
}
