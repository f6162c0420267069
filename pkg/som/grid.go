package som

import (
	"math/rand/v2"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

// initialGrid builds the starting weights: a copy of weights if given,
// else neurons drawn from samples, else uniform noise in [0,1).
func initialGrid(shape kernel.Shape, seed uint64, o options) ([]float32, error) {
	switch {
	case o.weights != nil:
		if len(o.weights) != shape.Floats() {
			return nil, configError("initial weights hold %d floats, grid %s needs %d", len(o.weights), shape, shape.Floats())
		}
		return append([]float32(nil), o.weights...), nil
	case o.samples != nil:
		return sampleGrid(shape, o.samples, seed)
	default:
		return randomGrid(shape, seed), nil
	}
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func randomGrid(shape kernel.Shape, seed uint64) []float32 {
	r := newRand(seed)
	grid := make([]float32, shape.Floats())
	for i := range grid {
		grid[i] = r.Float32()
	}
	return grid
}

// sampleGrid copies a random training vector into every neuron. When there
// are at least as many samples as neurons no sample is used twice.
func sampleGrid(shape kernel.Shape, samples [][]float32, seed uint64) ([]float32, error) {
	if len(samples) == 0 {
		return nil, configError("sample initialization needs at least one vector")
	}
	for i, s := range samples {
		if len(s) != shape.Dimension {
			return nil, configError("sample %d has %d values, dimension is %d", i, len(s), shape.Dimension)
		}
	}

	r := newRand(seed)
	n := shape.Neurons()
	grid := make([]float32, shape.Floats())
	var order []int
	if len(samples) >= n {
		order = r.Perm(len(samples))[:n]
	}
	for i := 0; i < n; i++ {
		var pick int
		if order != nil {
			pick = order[i]
		} else {
			pick = r.IntN(len(samples))
		}
		copy(grid[i*shape.Dimension:(i+1)*shape.Dimension], samples[pick])
	}
	return grid, nil
}
