// Package som implements a self-organizing map whose winner search and
// neighborhood update run as device kernels.
//
// An Engine owns one device session for its whole life. Per training
// sample it uploads the input, computes every neuron's distance, reduces
// the distances to the winning neuron with a two-stage parallel argmin and
// pulls the winner's neighborhood towards the input. The host keeps its own
// copy of the weights, synchronized at the training boundaries:
//
//	engine, err := som.New(som.DefaultConfig(128, 64, 64))
//	if err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	if err := engine.NotifyTrainingStart(); err != nil {
//		return err
//	}
//	for _, v := range samples {
//		w, err := engine.IdentifyWinnerNeuron(v)
//		if err != nil {
//			return err
//		}
//		if _, err := engine.UpdateNeighborhood(w, v, sigma, rate); err != nil {
//			return err
//		}
//	}
//	return engine.NotifyTrainingEnd()
//
// Sigma and learn rate schedules are the caller's: every update takes them
// explicitly. Reference is a host-only implementation of the same Trainer
// interface used to check engine results.
package som

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/orneryd/nornicsom/pkg/gpu"
	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
	"github.com/orneryd/nornicsom/pkg/logging"
)

// Trainer is the SOM training surface shared by Engine and Reference.
type Trainer interface {
	NotifyTrainingStart() error
	NotifyTrainingEnd() error
	IdentifyWinnerNeuron(vec []float32) (Coord, error)
	UpdateNeighborhood(winner Coord, vec []float32, sigma, learnRate float32) (int, error)
	ClosestN(vec []float32, n int) ([]Neighbor, error)
	IdentifyWinners(vecs [][]float32) ([]Coord, error)
	Weights() ([]float32, error)
	Bands() []Band
	State() State
	Close() error
}

var (
	_ Trainer = (*Engine)(nil)
	_ Trainer = (*Reference)(nil)
)

// Engine is the device-backed SOM. Calls on one Engine are serialized.
type Engine struct {
	mu    sync.Mutex
	cfg   Config
	shape kernel.Shape
	state State

	manager *gpu.Manager
	session *gpu.Session
	bufs    *buffers
	red     *reducer
	lanes   int

	weights []float32
	// dirty marks host weights newer than the device copy.
	dirty     bool
	distances []float32

	logger  *logging.Logger
	metrics MetricsObserver

	winners    int64
	updates    int64
	lastRadius int
}

// New validates cfg, opens a device session and uploads the initial grid.
// Without WithManager the engine runs on a private host-backend manager.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	o := buildOptions(opts)
	shape := cfg.Shape()

	weights, err := initialGrid(shape, cfg.Seed, o)
	if err != nil {
		return nil, err
	}

	manager := o.manager
	if manager == nil {
		manager, err = gpu.NewManager(gpu.DefaultConfig())
		if err != nil {
			return nil, deviceError("select backend", err)
		}
	}
	session, err := manager.OpenSession()
	if err != nil {
		return nil, deviceError("open session", err)
	}

	e := &Engine{
		cfg:     cfg,
		shape:   shape,
		state:   StateUninitialized,
		manager: manager,
		session: session,
		bufs:    &buffers{session: session},
		weights: weights,
		logger:  o.logger.WithSession(session.ID(), string(session.Backend())).WithGrid(shape.Width, shape.Height, shape.Dimension),
		metrics: o.metrics,
	}
	limits := session.Limits()
	group := negotiateGroup(limits, cfg.MaxGroupSize)
	e.red = newReducer(group, cfg.HostReduceThreshold)
	e.lanes = distanceLanes(shape.Dimension, cfg.ChunkThreshold, group, limits)

	if err := e.sync(); err != nil {
		_ = session.Close()
		return nil, err
	}
	e.setState(StateReady)

	e.logger.Info("som engine ready",
		"device", session.Name(),
		"metric", cfg.Metric.String(),
		"toroidal", cfg.Toroidal,
		"group", group,
		"lanes", e.lanes,
		"buffer_bytes", e.bufs.bytes(),
	)
	return e, nil
}

// sync makes sure the buffer set matches the grid shape and the device
// holds the host weights.
func (e *Engine) sync() error {
	fresh, err := e.bufs.allocate(e.shape, e.red.scratchPairs(e.shape.Neurons()))
	if err != nil {
		return err
	}
	if !fresh && !e.dirty {
		return nil
	}
	start := time.Now()
	if err := e.bufs.upload(e.weights); err != nil {
		return err
	}
	e.dirty = false
	e.metrics.OnTransfer(TransferUpload, int64(len(e.weights))*4, time.Since(start))
	return nil
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	e.logger.LogTransition(context.Background(), e.state.String(), s.String())
	e.state = s
	e.metrics.OnState(s)
}

// NotifyTrainingStart enters the Training state. Device buffers for the
// current shape exist and hold the host weights when it returns.
func (e *Engine) NotifyTrainingStart() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.state.require("NotifyTrainingStart", StateReady); err != nil {
		return err
	}
	if err := e.sync(); err != nil {
		return err
	}
	e.setState(StateTraining)
	return nil
}

// NotifyTrainingEnd downloads the trained grid into host memory and
// returns to Ready.
func (e *Engine) NotifyTrainingEnd() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.state.require("NotifyTrainingEnd", StateTraining); err != nil {
		return err
	}
	if err := e.pull(); err != nil {
		return err
	}
	e.setState(StateReady)
	return nil
}

func (e *Engine) pull() error {
	start := time.Now()
	if err := e.bufs.download(e.weights); err != nil {
		return err
	}
	e.metrics.OnTransfer(TransferDownload, int64(len(e.weights))*4, time.Since(start))
	return nil
}

// distancesFor uploads vec and runs the distance kernel.
func (e *Engine) distancesFor(vec []float32) error {
	if err := e.session.WriteQuery(vec); err != nil {
		return deviceError("upload query", err)
	}
	if err := e.session.Distances(e.cfg.Metric, e.lanes); err != nil {
		return deviceError("distances", err)
	}
	return nil
}

func (e *Engine) winner(vec []float32) (Coord, error) {
	start := time.Now()
	passes := e.red.devicePasses
	if err := e.distancesFor(vec); err != nil {
		e.metrics.OnWinner(time.Since(start), 0, err)
		return Coord{}, err
	}
	best, err := e.red.argmin(e.session)
	e.metrics.OnWinner(time.Since(start), int(e.red.devicePasses-passes), err)
	if err != nil {
		return Coord{}, err
	}
	e.winners++
	return coordOf(int(best.Index), e.shape.Width), nil
}

// IdentifyWinnerNeuron returns the neuron closest to vec. Training only.
func (e *Engine) IdentifyWinnerNeuron(vec []float32) (Coord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.state.require("IdentifyWinnerNeuron", StateTraining); err != nil {
		return Coord{}, err
	}
	if err := checkVector(e.shape, vec); err != nil {
		return Coord{}, err
	}
	return e.winner(vec)
}

// UpdateNeighborhood pulls the neurons around winner towards vec and
// returns the radius used. Training only.
func (e *Engine) UpdateNeighborhood(winner Coord, vec []float32, sigma, learnRate float32) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.state.require("UpdateNeighborhood", StateTraining); err != nil {
		return 0, err
	}
	u, err := updateParams(e.cfg, winner, vec, sigma, learnRate)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	err = e.update(vec, u)
	e.metrics.OnUpdate(time.Since(start), u.Radius, err)
	if err != nil {
		return 0, err
	}
	e.updates++
	e.lastRadius = u.Radius
	return u.Radius, nil
}

func (e *Engine) update(vec []float32, u kernel.Update) error {
	if err := e.session.WriteQuery(vec); err != nil {
		return deviceError("upload query", err)
	}
	if err := e.session.Update(u); err != nil {
		return deviceError("update neighborhood", err)
	}
	if err := e.session.Finish(); err != nil {
		return deviceError("finish update", err)
	}
	return nil
}

// ClosestN ranks the n neurons closest to vec, ascending by distance with
// ties broken by lowest index. It never changes the grid.
func (e *Engine) ClosestN(vec []float32, n int) ([]Neighbor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.state.require("ClosestN", StateReady, StateTraining); err != nil {
		return nil, err
	}
	if err := checkVector(e.shape, vec); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: n must not be negative, got %d", ErrOutOfRange, n)
	}
	if err := e.sync(); err != nil {
		return nil, err
	}
	if err := e.distancesFor(vec); err != nil {
		return nil, err
	}
	if e.distances == nil {
		e.distances = make([]float32, e.shape.Neurons())
	}
	if err := e.session.ReadDistances(e.distances); err != nil {
		return nil, deviceError("read distances", err)
	}
	return rank(e.distances, e.shape.Width, n), nil
}

// rank sorts neuron distances by (distance, index) and keeps the first n.
func rank(distances []float32, width, n int) []Neighbor {
	pairs := make([]kernel.Pair, len(distances))
	for i, d := range distances {
		pairs[i] = kernel.Pair{Value: d, Index: int32(i)}
	}
	slices.SortFunc(pairs, func(a, b kernel.Pair) int {
		switch {
		case kernel.Less(a, b):
			return -1
		case kernel.Less(b, a):
			return 1
		}
		return 0
	})

	n = min(n, len(pairs))
	out := make([]Neighbor, n)
	for i, p := range pairs[:n] {
		out[i] = Neighbor{
			Distance: p.Value,
			Coord:    coordOf(int(p.Index), width),
			Index:    int(p.Index),
		}
	}
	return out
}

// IdentifyWinners maps every vector to its winning neuron. Valid in Ready
// and Training; every vector is checked before any is searched.
func (e *Engine) IdentifyWinners(vecs [][]float32) ([]Coord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.state.require("IdentifyWinners", StateReady, StateTraining); err != nil {
		return nil, err
	}
	if err := checkVectors(e.shape, vecs); err != nil {
		return nil, err
	}
	if err := e.sync(); err != nil {
		return nil, err
	}
	out := make([]Coord, len(vecs))
	for i, v := range vecs {
		c, err := e.winner(v)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		out[i] = c
	}
	return out, nil
}

// Weights returns a copy of the grid. During training the device copy is
// downloaded first.
func (e *Engine) Weights() ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.state.require("Weights", StateReady, StateTraining); err != nil {
		return nil, err
	}
	if e.state == StateTraining {
		if err := e.pull(); err != nil {
			return nil, err
		}
	}
	return slices.Clone(e.weights), nil
}

// SetWeights replaces the grid. Ready only; the device copy is refreshed
// before the next device call.
func (e *Engine) SetWeights(weights []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.state.require("SetWeights", StateReady); err != nil {
		return err
	}
	if len(weights) != e.shape.Floats() {
		return fmt.Errorf("%w: got %d floats, grid %s needs %d", ErrDimensionMismatch, len(weights), e.shape, e.shape.Floats())
	}
	copy(e.weights, weights)
	e.dirty = true
	return nil
}

// Bands returns a copy of the per-dimension metadata.
func (e *Engine) Bands() []Band {
	return slices.Clone(e.cfg.Bands)
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	cfg := e.cfg
	cfg.Bands = slices.Clone(cfg.Bands)
	return cfg
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats describes the engine's device geometry and activity.
type Stats struct {
	State               State
	Backend             gpu.Backend
	Device              string
	SessionID           string
	GroupSize           int
	DistanceLanes       int
	HostReduceThreshold int
	BufferBytes         int64
	Winners             int64
	Updates             int64
	DevicePasses        int64
	HostReductions      int64
	Uploads             int64
	Downloads           int64
	LastRadius          int
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		State:               e.state,
		Backend:             e.session.Backend(),
		Device:              e.session.Name(),
		SessionID:           e.session.ID(),
		GroupSize:           e.red.group,
		DistanceLanes:       e.lanes,
		HostReduceThreshold: e.red.hostThreshold,
		BufferBytes:         e.bufs.bytes(),
		Winners:             e.winners,
		Updates:             e.updates,
		DevicePasses:        e.red.devicePasses,
		HostReductions:      e.red.hostReductions,
		Uploads:             e.bufs.uploads,
		Downloads:           e.bufs.downloads,
		LastRadius:          e.lastRadius,
	}
}

// Close releases the device session. It is safe to call more than once;
// every other call fails with ErrClosed afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDisposed {
		return nil
	}
	e.setState(StateDisposed)
	if err := e.session.Close(); err != nil {
		return deviceError("close session", err)
	}
	e.logger.Info("som engine closed",
		"winners", e.winners,
		"updates", e.updates,
	)
	return nil
}
