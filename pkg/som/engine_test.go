package som

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicsom/pkg/gpu"
	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

func newHostManager(t testing.TB, mutate func(*gpu.Config)) *gpu.Manager {
	t.Helper()
	cfg := gpu.DefaultConfig()
	cfg.HostWorkers = 2
	if mutate != nil {
		mutate(cfg)
	}
	m, err := gpu.NewManager(cfg)
	require.NoError(t, err)
	return m
}

func newTestEngine(t testing.TB, cfg Config, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithManager(newHostManager(t, nil))}, opts...)
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func training(t testing.TB, tr Trainer) {
	t.Helper()
	require.NoError(t, tr.NotifyTrainingStart())
}

func neuron(weights []float32, shape kernel.Shape, x, y int) []float32 {
	off := shape.Offset(x, y)
	return weights[off : off+shape.Dimension]
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero dimension", DefaultConfig(0, 4, 4)},
		{"zero width", DefaultConfig(3, 0, 4)},
		{"negative height", DefaultConfig(3, 4, -1)},
		{"band count", Config{Dimension: 3, Width: 2, Height: 2, Bands: []Band{{Center: 450}}}},
		{"metric", Config{Dimension: 3, Width: 2, Height: 2, Metric: kernel.Metric(42)}},
		{"negative threshold", Config{Dimension: 3, Width: 2, Height: 2, HostReduceThreshold: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.Nil(t, e)
		})
	}

	_, err := New(DefaultConfig(3, 2, 2), WithWeights(make([]float32, 5)))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestNewDeviceOutOfMemory(t *testing.T) {
	m := newHostManager(t, func(c *gpu.Config) { c.MaxMemoryMB = 1 })
	_, err := New(DefaultConfig(1024, 32, 32), WithManager(m))
	assert.ErrorIs(t, err, ErrDevice)
	assert.ErrorIs(t, err, gpu.ErrOutOfMemory)
	assert.Zero(t, m.AllocatedBytes())
}

func TestNewWithoutManager(t *testing.T) {
	e, err := New(DefaultConfig(3, 4, 4))
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, gpu.BackendHost, e.Stats().Backend)
}

func TestStateMachine(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(2, 3, 3))
	vec := []float32{0.5, 0.5}

	_, err := e.IdentifyWinnerNeuron(vec)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, err, ErrUsage)
	_, err = e.UpdateNeighborhood(Coord{}, vec, 1, 0.5)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, e.NotifyTrainingEnd(), ErrInvalidState)

	require.NoError(t, e.NotifyTrainingStart())
	assert.Equal(t, StateTraining, e.State())
	assert.ErrorIs(t, e.NotifyTrainingStart(), ErrInvalidState)
	assert.ErrorIs(t, e.SetWeights(make([]float32, 18)), ErrInvalidState)

	_, err = e.ClosestN(vec, 2)
	assert.NoError(t, err, "ClosestN is valid while training")

	require.NoError(t, e.NotifyTrainingEnd())
	assert.Equal(t, StateReady, e.State())

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, StateDisposed, e.State())
	assert.ErrorIs(t, e.NotifyTrainingStart(), ErrClosed)
	_, err = e.ClosestN(vec, 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.Weights()
	assert.ErrorIs(t, err, ErrUsage)
}

func TestWinnerScenario(t *testing.T) {
	cfg := DefaultConfig(3, 4, 4)
	shape := cfg.Shape()
	weights := make([]float32, shape.Floats())
	copy(neuron(weights, shape, 2, 1), []float32{1, 1, 1})

	for name, tr := range map[string]Trainer{
		"engine":    newTestEngine(t, cfg, WithWeights(weights)),
		"reference": mustReference(t, cfg, WithWeights(weights)),
	} {
		t.Run(name, func(t *testing.T) {
			training(t, tr)
			w, err := tr.IdentifyWinnerNeuron([]float32{1, 1, 1})
			require.NoError(t, err)
			assert.Equal(t, Coord{X: 2, Y: 1}, w)

			top, err := tr.ClosestN([]float32{1, 1, 1}, 1)
			require.NoError(t, err)
			require.Len(t, top, 1)
			assert.Equal(t, float32(0), top[0].Distance)
			assert.Equal(t, Coord{X: 2, Y: 1}, top[0].Coord)
			assert.Equal(t, 6, top[0].Index)
		})
	}
}

func mustReference(t testing.TB, cfg Config, opts ...Option) *Reference {
	t.Helper()
	r, err := NewReference(cfg, opts...)
	require.NoError(t, err)
	return r
}

func TestDimensionMismatchLeavesGridUnchanged(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(3, 4, 4))
	before, err := e.Weights()
	require.NoError(t, err)

	training(t, e)
	_, err = e.IdentifyWinnerNeuron([]float32{1, 2, 3, 4})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, err, ErrUsage)
	_, err = e.UpdateNeighborhood(Coord{1, 1}, []float32{1, 2}, 1, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	after, err := e.Weights()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpdateValidation(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(2, 4, 3))
	training(t, e)
	vec := []float32{1, 1}

	tests := []struct {
		name      string
		winner    Coord
		sigma, lr float32
	}{
		{"winner x", Coord{4, 0}, 1, 0.5},
		{"winner y", Coord{0, 3}, 1, 0.5},
		{"negative winner", Coord{-1, 0}, 1, 0.5},
		{"zero sigma", Coord{}, 0, 0.5},
		{"nan sigma", Coord{}, float32(math.NaN()), 0.5},
		{"inf sigma", Coord{}, float32(math.Inf(1)), 0.5},
		{"zero learn rate", Coord{}, 1, 0},
		{"learn rate above one", Coord{}, 1, 1.01},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.UpdateNeighborhood(tt.winner, vec, tt.sigma, tt.lr)
			assert.ErrorIs(t, err, ErrOutOfRange)
			assert.ErrorIs(t, err, ErrUsage)
		})
	}
}

func TestUpdateFullRateSetsWinnerExactly(t *testing.T) {
	cfg := DefaultConfig(4, 5, 5)
	e := newTestEngine(t, cfg)
	before, err := e.Weights()
	require.NoError(t, err)

	training(t, e)
	vec := []float32{0.25, 0.5, 0.75, 1}
	w, err := e.IdentifyWinnerNeuron(vec)
	require.NoError(t, err)
	r, err := e.UpdateNeighborhood(w, vec, 1e-6, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, r)

	after, err := e.Weights()
	require.NoError(t, err)
	shape := cfg.Shape()
	for y := 0; y < shape.Height; y++ {
		for x := 0; x < shape.Width; x++ {
			if x == w.X && y == w.Y {
				assert.Equal(t, vec, neuron(after, shape, x, y))
			} else {
				assert.Equal(t, neuron(before, shape, x, y), neuron(after, shape, x, y), "neuron (%d,%d)", x, y)
			}
		}
	}
}

func TestTinySigmaOnlyMovesWinner(t *testing.T) {
	cfg := DefaultConfig(3, 7, 7)
	cfg.Radius = FixedRadius(3)
	e := newTestEngine(t, cfg)
	before, err := e.Weights()
	require.NoError(t, err)

	training(t, e)
	vec := []float32{9, 9, 9}
	r, err := e.UpdateNeighborhood(Coord{3, 3}, vec, 0.05, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 3, r)
	require.NoError(t, e.NotifyTrainingEnd())

	after, err := e.Weights()
	require.NoError(t, err)
	shape := cfg.Shape()
	for y := 0; y < shape.Height; y++ {
		for x := 0; x < shape.Width; x++ {
			b, a := neuron(before, shape, x, y), neuron(after, shape, x, y)
			if x == 3 && y == 3 {
				for i := range a {
					assert.InDelta(t, (b[i]+9)/2, a[i], 1e-6)
				}
				continue
			}
			for i := range a {
				assert.InDelta(t, b[i], a[i], 1e-7, "neuron (%d,%d)", x, y)
			}
		}
	}
}

func TestCornerWindowIsClipped(t *testing.T) {
	cfg := DefaultConfig(2, 6, 6)
	cfg.Radius = FixedRadius(2)
	e := newTestEngine(t, cfg, WithWeights(make([]float32, 72)))
	training(t, e)

	r, err := e.UpdateNeighborhood(Coord{0, 0}, []float32{1, 1}, 10, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2, r)

	after, err := e.Weights()
	require.NoError(t, err)
	shape := cfg.Shape()
	for y := 0; y < 6; y++ {
		for x := 0; x < 6; x++ {
			v := neuron(after, shape, x, y)
			if x <= 2 && y <= 2 {
				assert.Greater(t, v[0], float32(0), "(%d,%d) inside window", x, y)
			} else {
				assert.Equal(t, []float32{0, 0}, v, "(%d,%d) outside window", x, y)
			}
		}
	}
}

func TestToroidalWrapReachesOppositeEdges(t *testing.T) {
	cfg := DefaultConfig(1, 5, 5)
	cfg.Toroidal = true
	cfg.Radius = FixedRadius(1)
	e := newTestEngine(t, cfg, WithWeights(make([]float32, 25)))
	training(t, e)

	_, err := e.UpdateNeighborhood(Coord{0, 0}, []float32{1}, 1, 1)
	require.NoError(t, err)
	after, err := e.Weights()
	require.NoError(t, err)

	changed := map[Coord]bool{}
	for i, v := range after {
		if v != 0 {
			changed[coordOf(i, 5)] = true
		}
	}
	want := map[Coord]bool{
		{0, 0}: true, {1, 0}: true, {4, 0}: true,
		{0, 1}: true, {1, 1}: true, {4, 1}: true,
		{0, 4}: true, {1, 4}: true, {4, 4}: true,
	}
	assert.Equal(t, want, changed)
	assert.Equal(t, float32(1), after[0])
	assert.InDelta(t, math.Exp(-0.5), after[4], 1e-6)
	assert.InDelta(t, math.Exp(-1), after[24], 1e-6)
}

func TestRadiusCaps(t *testing.T) {
	clipped := DefaultConfig(1, 4, 4)
	clipped.Radius = FixedRadius(100)
	e := newTestEngine(t, clipped)
	training(t, e)
	r, err := e.UpdateNeighborhood(Coord{1, 1}, []float32{0}, 1, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 3, r, "half-diagonal of a 4x4 grid")

	torus := DefaultConfig(1, 5, 8)
	torus.Radius = FixedRadius(100)
	torus.Toroidal = true
	e = newTestEngine(t, torus)
	training(t, e)
	r, err = e.UpdateNeighborhood(Coord{1, 1}, []float32{0}, 1, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 2, r, "window must not wrap onto itself")
	assert.Equal(t, 2, e.Stats().LastRadius)
}

func TestClosestN(t *testing.T) {
	cfg := DefaultConfig(1, 3, 2)
	e := newTestEngine(t, cfg, WithWeights([]float32{4, 1, 3, 1, 0, 2}))

	got, err := e.ClosestN([]float32{0}, 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, []Neighbor{
		{Distance: 0, Coord: Coord{1, 1}, Index: 4},
		{Distance: 1, Coord: Coord{1, 0}, Index: 1},
		{Distance: 1, Coord: Coord{0, 1}, Index: 3},
		{Distance: 4, Coord: Coord{2, 1}, Index: 5},
	}, got)

	again, err := e.ClosestN([]float32{0}, 4)
	require.NoError(t, err)
	assert.Equal(t, got, again, "ClosestN is idempotent")

	all, err := e.ClosestN([]float32{0}, 100)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	none, err := e.ClosestN([]float32{0}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = e.ClosestN([]float32{0}, -1)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = e.ClosestN([]float32{0, 1}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestArgMinLowestIndexOnTies(t *testing.T) {
	tunings := []struct {
		name          string
		maxGroup      int
		hostThreshold int
		devicePasses  bool
	}{
		{"device stage 2", 4, 1, true},
		{"host stage 2", 4, 1024, false},
		{"single group", 0, 0, false},
	}
	for _, tt := range tunings {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(1, 20, 15)
			cfg.MaxGroupSize = tt.maxGroup
			cfg.HostReduceThreshold = tt.hostThreshold
			weights := make([]float32, 300)
			for i := range weights {
				weights[i] = 5
			}
			weights[211], weights[37], weights[299] = 1, 1, 1

			e := newTestEngine(t, cfg, WithWeights(weights))
			training(t, e)
			w, err := e.IdentifyWinnerNeuron([]float32{0})
			require.NoError(t, err)
			assert.Equal(t, Coord{X: 17, Y: 1}, w)
			assert.Equal(t, tt.devicePasses, e.Stats().DevicePasses > 0)
		})
	}
}

func TestArgMinMatchesLinearScan(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	cfg := DefaultConfig(1, 37, 29)
	cfg.MaxGroupSize = 8
	cfg.HostReduceThreshold = 2
	e := newTestEngine(t, cfg)
	shape := cfg.Shape()

	for trial := 0; trial < 25; trial++ {
		weights := make([]float32, shape.Floats())
		for i := range weights {
			weights[i] = float32(r.IntN(50) + 3)
		}
		minimum := r.IntN(shape.Neurons())
		for k := 0; k < 4; k++ {
			weights[r.IntN(shape.Neurons())] = 2
		}
		weights[minimum] = 2

		want := -1
		for i, v := range weights {
			if v == 2 {
				want = i
				break
			}
		}

		require.NoError(t, e.SetWeights(weights))
		training(t, e)
		w, err := e.IdentifyWinnerNeuron([]float32{0})
		require.NoError(t, err)
		assert.Equal(t, coordOf(want, shape.Width), w, "trial %d", trial)
		require.NoError(t, e.NotifyTrainingEnd())
	}
}

func TestNoWinner(t *testing.T) {
	cfg := DefaultConfig(1, 3, 3)
	weights := make([]float32, 9)
	for i := range weights {
		weights[i] = float32(math.Inf(1))
	}
	for name, tr := range map[string]Trainer{
		"engine":    newTestEngine(t, cfg, WithWeights(weights)),
		"reference": mustReference(t, cfg, WithWeights(weights)),
	} {
		t.Run(name, func(t *testing.T) {
			training(t, tr)
			_, err := tr.IdentifyWinnerNeuron([]float32{0})
			assert.ErrorIs(t, err, ErrNoWinner)
			assert.NotErrorIs(t, err, ErrUsage)
		})
	}
}

func TestNaNNeuronDoesNotHideWinner(t *testing.T) {
	cfg := DefaultConfig(1, 4, 4)
	cfg.MaxGroupSize = 4
	cfg.HostReduceThreshold = 1
	weights := make([]float32, 16)
	for i := range weights {
		weights[i] = float32(i)
	}
	weights[0] = float32(math.NaN())
	weights[4] = float32(math.NaN())
	for name, tr := range map[string]Trainer{
		"engine":    newTestEngine(t, cfg, WithWeights(weights)),
		"reference": mustReference(t, cfg, WithWeights(weights)),
	} {
		t.Run(name, func(t *testing.T) {
			training(t, tr)
			w, err := tr.IdentifyWinnerNeuron([]float32{0})
			require.NoError(t, err)
			assert.Equal(t, Coord{1, 0}, w)
		})
	}
}

func TestIdentifyWinners(t *testing.T) {
	cfg := DefaultConfig(1, 4, 1)
	e := newTestEngine(t, cfg, WithWeights([]float32{0, 10, 20, 30}))

	got, err := e.IdentifyWinners([][]float32{{29}, {1}, {12}})
	require.NoError(t, err)
	assert.Equal(t, []Coord{{3, 0}, {0, 0}, {1, 0}}, got)

	_, err = e.IdentifyWinners([][]float32{{1}, {1, 2}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, int64(3), e.Stats().Winners)
}

func TestSetWeightsReachesDevice(t *testing.T) {
	e := newTestEngine(t, DefaultConfig(1, 2, 2))
	require.NoError(t, e.SetWeights([]float32{9, 9, 0, 9}))
	w, err := e.IdentifyWinners([][]float32{{0}})
	require.NoError(t, err)
	assert.Equal(t, []Coord{{0, 1}}, w)

	assert.ErrorIs(t, e.SetWeights([]float32{1}), ErrDimensionMismatch)
}

func TestChunkedDistances(t *testing.T) {
	cfg := DefaultConfig(200, 6, 5)
	cfg.Metric = kernel.SpectralAngle
	e := newTestEngine(t, cfg)
	ref := mustReference(t, cfg)
	assert.Greater(t, e.Stats().DistanceLanes, 1)

	query := randomGrid(kernel.Shape{Dimension: 200, Width: 1, Height: 1}, 99)
	got, err := e.ClosestN(query, 30)
	require.NoError(t, err)
	want, err := ref.ClosestN(query, 30)
	require.NoError(t, err)

	wantByIndex := map[int]float32{}
	for _, n := range want {
		wantByIndex[n.Index] = n.Distance
	}
	for _, n := range got {
		assert.InDelta(t, wantByIndex[n.Index], n.Distance, 1e-4)
	}
}

func TestEngineMatchesReference(t *testing.T) {
	metrics := []kernel.Metric{kernel.SquaredEuclidean, kernel.Manhattan, kernel.Chebyshev, kernel.SpectralAngle}
	for _, metric := range metrics {
		for _, toroidal := range []bool{false, true} {
			name := metric.String()
			if toroidal {
				name += "/toroidal"
			}
			t.Run(name, func(t *testing.T) {
				cfg := DefaultConfig(5, 8, 6)
				cfg.Metric = metric
				cfg.Toroidal = toroidal
				cfg.Seed = 3
				cfg.MaxGroupSize = 8
				cfg.HostReduceThreshold = 2

				e := newTestEngine(t, cfg)
				ref := mustReference(t, cfg)
				training(t, e)
				training(t, ref)

				samples := randomGrid(kernel.Shape{Dimension: 5, Width: 40, Height: 1}, 5)
				const steps = 200
				for i := 0; i < steps; i++ {
					v := samples[(i%40)*5 : (i%40+1)*5]
					progress := float32(i) / steps
					sigma := 3 * (1 - progress)
					if sigma < 0.3 {
						sigma = 0.3
					}
					lr := 0.5 * (1 - progress)
					if lr < 0.01 {
						lr = 0.01
					}

					we, err := e.IdentifyWinnerNeuron(v)
					require.NoError(t, err)
					wr, err := ref.IdentifyWinnerNeuron(v)
					require.NoError(t, err)
					require.Equal(t, wr, we, "step %d", i)

					re, err := e.UpdateNeighborhood(we, v, sigma, lr)
					require.NoError(t, err)
					rr, err := ref.UpdateNeighborhood(wr, v, sigma, lr)
					require.NoError(t, err)
					require.Equal(t, rr, re)
				}

				require.NoError(t, e.NotifyTrainingEnd())
				require.NoError(t, ref.NotifyTrainingEnd())
				ew, err := e.Weights()
				require.NoError(t, err)
				rw, err := ref.Weights()
				require.NoError(t, err)
				assert.Equal(t, rw, ew)
			})
		}
	}
}

func TestSnapshotRestore(t *testing.T) {
	cfg := DefaultConfig(2, 3, 2)
	cfg.Bands = []Band{{Center: 450, Label: "blue"}, {Center: 550, Label: "green"}}
	cfg.Metric = kernel.Manhattan
	e := newTestEngine(t, cfg)

	snap, err := e.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Width)
	assert.Equal(t, kernel.Manhattan, snap.Metric)
	assert.Equal(t, cfg.Bands, snap.Bands)
	require.NoError(t, snap.Validate())

	restored, err := Restore(snap, Config{}, WithManager(newHostManager(t, nil)))
	require.NoError(t, err)
	defer restored.Close()
	w, err := restored.Weights()
	require.NoError(t, err)
	assert.Equal(t, snap.Weights, w)
	assert.Equal(t, cfg.Bands, restored.Bands())

	snap.Weights = snap.Weights[1:]
	_, err = Restore(snap, Config{})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestRestoreKeepsCallerTuning(t *testing.T) {
	cfg := DefaultConfig(2, 5, 5)
	cfg.Radius = FixedRadius(0)
	cfg.MaxGroupSize = 4
	cfg.HostReduceThreshold = 2
	cfg.Seed = 42
	e := newTestEngine(t, cfg)
	snap, err := e.Snapshot()
	require.NoError(t, err)

	base := cfg
	base.Width, base.Height, base.Dimension = 0, 0, 0
	restored, err := Restore(snap, base, WithManager(newHostManager(t, nil)))
	require.NoError(t, err)
	defer restored.Close()

	got := restored.Config()
	assert.Equal(t, 4, got.MaxGroupSize)
	assert.Equal(t, 2, got.HostReduceThreshold)
	assert.Equal(t, uint64(42), got.Seed)
	assert.LessOrEqual(t, restored.Stats().GroupSize, 4)

	training(t, restored)
	r, err := restored.UpdateNeighborhood(Coord{2, 2}, []float32{1, 1}, 2, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0, r, "fixed radius survives the restore")
}

func TestRestoreUsesSnapshotIdentity(t *testing.T) {
	cfg := DefaultConfig(2, 3, 4)
	cfg.Metric = kernel.Chebyshev
	cfg.Toroidal = true
	e := newTestEngine(t, cfg)
	snap, err := e.Snapshot()
	require.NoError(t, err)

	// metric and wrap policy come from the snapshot, not the base
	restored, err := Restore(snap, DefaultConfig(0, 0, 0), WithManager(newHostManager(t, nil)))
	require.NoError(t, err)
	defer restored.Close()
	got := restored.Config()
	assert.Equal(t, kernel.Chebyshev, got.Metric)
	assert.True(t, got.Toroidal)
	assert.Equal(t, 3, got.Width)
	assert.Equal(t, 4, got.Height)

	_, err = Restore(snap, DefaultConfig(2, 5, 4))
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = Restore(snap, DefaultConfig(3, 0, 0))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestBandsAreCopied(t *testing.T) {
	cfg := DefaultConfig(1, 1, 1)
	cfg.Bands = []Band{{Center: 700}}
	e := newTestEngine(t, cfg)
	cfg.Bands[0].Center = 1

	b := e.Bands()
	assert.Equal(t, 700.0, b[0].Center)
	b[0].Center = 2
	assert.Equal(t, 700.0, e.Bands()[0].Center)
}

func TestSessionReleasedOnClose(t *testing.T) {
	m := newHostManager(t, nil)
	e, err := New(DefaultConfig(3, 4, 4), WithManager(m))
	require.NoError(t, err)
	assert.Positive(t, m.AllocatedBytes())
	assert.Equal(t, int64(1), m.Stats().SessionsActive)

	require.NoError(t, e.Close())
	assert.Zero(t, m.AllocatedBytes())
	assert.Zero(t, m.Stats().SessionsActive)
}

func BenchmarkIdentifyWinner(b *testing.B) {
	cfg := DefaultConfig(64, 64, 64)
	e := newTestEngine(b, cfg)
	training(b, e)
	vec := randomGrid(kernel.Shape{Dimension: 64, Width: 1, Height: 1}, 2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.IdentifyWinnerNeuron(vec); err != nil {
			b.Fatal(err)
		}
	}
}
