package som

import (
	"fmt"
	"slices"
	"sync"

	"github.com/chewxy/math32"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
	"github.com/orneryd/nornicsom/pkg/simd"
)

// Reference is a host-only Trainer: sequential scans instead of device
// kernels, same results. Engine tests compare against it.
type Reference struct {
	mu      sync.Mutex
	cfg     Config
	shape   kernel.Shape
	state   State
	weights []float32
	dist    func(a, b []float32) float32
}

// NewReference creates a host-only SOM with the same initialization as New.
func NewReference(cfg Config, opts ...Option) (*Reference, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	o := buildOptions(opts)
	weights, err := initialGrid(cfg.Shape(), cfg.Seed, o)
	if err != nil {
		return nil, err
	}
	return &Reference{
		cfg:     cfg,
		shape:   cfg.Shape(),
		state:   StateReady,
		weights: weights,
		dist:    distanceFunc(cfg.Metric),
	}, nil
}

func (r *Reference) transition(op string, from, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.require(op, from); err != nil {
		return err
	}
	r.state = to
	return nil
}

// NotifyTrainingStart enters Training.
func (r *Reference) NotifyTrainingStart() error {
	return r.transition("NotifyTrainingStart", StateReady, StateTraining)
}

// NotifyTrainingEnd returns to Ready.
func (r *Reference) NotifyTrainingEnd() error {
	return r.transition("NotifyTrainingEnd", StateTraining, StateReady)
}

func (r *Reference) distances(vec []float32) []float32 {
	d := r.shape.Dimension
	out := make([]float32, r.shape.Neurons())
	for i := range out {
		out[i] = r.dist(r.weights[i*d:(i+1)*d], vec)
	}
	return out
}

func (r *Reference) winner(vec []float32) (Coord, error) {
	best := kernel.Sentinel
	for i, v := range r.distances(vec) {
		best = kernel.Min(best, kernel.Pair{Value: v, Index: int32(i)})
	}
	if math32.IsInf(best.Value, 1) || math32.IsNaN(best.Value) {
		return Coord{}, fmt.Errorf("%w: all %d distances are infinite", ErrNoWinner, r.shape.Neurons())
	}
	return coordOf(int(best.Index), r.shape.Width), nil
}

// IdentifyWinnerNeuron returns the neuron closest to vec. Training only.
func (r *Reference) IdentifyWinnerNeuron(vec []float32) (Coord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.require("IdentifyWinnerNeuron", StateTraining); err != nil {
		return Coord{}, err
	}
	if err := checkVector(r.shape, vec); err != nil {
		return Coord{}, err
	}
	return r.winner(vec)
}

// UpdateNeighborhood applies the neighborhood rule. Training only.
func (r *Reference) UpdateNeighborhood(winner Coord, vec []float32, sigma, learnRate float32) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.require("UpdateNeighborhood", StateTraining); err != nil {
		return 0, err
	}
	u, err := updateParams(r.cfg, winner, vec, sigma, learnRate)
	if err != nil {
		return 0, err
	}

	w, h, d := r.shape.Width, r.shape.Height, r.shape.Dimension
	for dy := -u.Radius; dy <= u.Radius; dy++ {
		y, ok := windowCoord(u.Y+dy, h, u.Toroidal)
		if !ok {
			continue
		}
		for dx := -u.Radius; dx <= u.Radius; dx++ {
			x, ok := windowCoord(u.X+dx, w, u.Toroidal)
			if !ok {
				continue
			}
			a := kernel.Coefficient(dx*dx+dy*dy, u.Sigma, u.LearnRate)
			off := (y*w + x) * d
			simd.Lerp(r.weights[off:off+d], vec, a)
		}
	}
	return u.Radius, nil
}

// windowCoord maps a window coordinate onto the grid axis of length n.
func windowCoord(v, n int, toroidal bool) (int, bool) {
	if toroidal {
		v %= n
		if v < 0 {
			v += n
		}
		return v, true
	}
	return v, v >= 0 && v < n
}

// ClosestN ranks the n neurons closest to vec.
func (r *Reference) ClosestN(vec []float32, n int) ([]Neighbor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.require("ClosestN", StateReady, StateTraining); err != nil {
		return nil, err
	}
	if err := checkVector(r.shape, vec); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: n must not be negative, got %d", ErrOutOfRange, n)
	}
	return rank(r.distances(vec), r.shape.Width, n), nil
}

// IdentifyWinners maps every vector to its winning neuron.
func (r *Reference) IdentifyWinners(vecs [][]float32) ([]Coord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.require("IdentifyWinners", StateReady, StateTraining); err != nil {
		return nil, err
	}
	if err := checkVectors(r.shape, vecs); err != nil {
		return nil, err
	}
	out := make([]Coord, len(vecs))
	for i, v := range vecs {
		c, err := r.winner(v)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

// Weights returns a copy of the grid.
func (r *Reference) Weights() ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.state.require("Weights", StateReady, StateTraining); err != nil {
		return nil, err
	}
	return slices.Clone(r.weights), nil
}

// Bands returns a copy of the per-dimension metadata.
func (r *Reference) Bands() []Band {
	return slices.Clone(r.cfg.Bands)
}

// State returns the lifecycle state.
func (r *Reference) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Close disposes the reference. Safe to call more than once.
func (r *Reference) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateDisposed
	r.weights = nil
	return nil
}
