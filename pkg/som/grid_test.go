package som

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

func TestRandomGridIsSeeded(t *testing.T) {
	shape := kernel.Shape{Dimension: 3, Width: 4, Height: 5}
	a := randomGrid(shape, 42)
	b := randomGrid(shape, 42)
	c := randomGrid(shape, 43)
	require.Len(t, a, shape.Floats())
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	for _, v := range a {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(1))
	}
}

func TestSampleGrid(t *testing.T) {
	shape := kernel.Shape{Dimension: 2, Width: 2, Height: 2}

	t.Run("without repeats", func(t *testing.T) {
		samples := [][]float32{{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}}
		grid, err := sampleGrid(shape, samples, 9)
		require.NoError(t, err)
		seen := map[float32]bool{}
		for n := 0; n < shape.Neurons(); n++ {
			v := grid[n*2 : n*2+2]
			assert.Equal(t, v[0], v[1])
			assert.False(t, seen[v[0]], "sample %v used twice", v[0])
			seen[v[0]] = true
		}
	})

	t.Run("fewer samples than neurons", func(t *testing.T) {
		grid, err := sampleGrid(shape, [][]float32{{7, 8}}, 1)
		require.NoError(t, err)
		assert.Equal(t, []float32{7, 8, 7, 8, 7, 8, 7, 8}, grid)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := sampleGrid(shape, nil, 1)
		assert.ErrorIs(t, err, ErrConfiguration)
		_, err = sampleGrid(shape, [][]float32{{1, 2, 3}}, 1)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestInitialGridPrecedence(t *testing.T) {
	shape := kernel.Shape{Dimension: 1, Width: 2, Height: 1}
	weights := []float32{5, 6}

	got, err := initialGrid(shape, 1, options{weights: weights, samples: [][]float32{{1}}})
	require.NoError(t, err)
	assert.Equal(t, weights, got)
	got[0] = 0
	assert.Equal(t, float32(5), weights[0], "weights are copied")

	got, err = initialGrid(shape, 1, options{samples: [][]float32{{1}}})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1}, got)

	got, err = initialGrid(shape, 1, options{})
	require.NoError(t, err)
	assert.Equal(t, randomGrid(shape, 1), got)
}

func TestEngineInitFromSamples(t *testing.T) {
	samples := [][]float32{{1, 0}, {0, 1}}
	e := newTestEngine(t, DefaultConfig(2, 3, 3), WithSamples(samples))
	w, err := e.Weights()
	require.NoError(t, err)
	for n := 0; n < 9; n++ {
		v := w[n*2 : n*2+2]
		assert.True(t, (v[0] == 1 && v[1] == 0) || (v[0] == 0 && v[1] == 1), "neuron %d = %v", n, v)
	}
}
