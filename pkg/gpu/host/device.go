// Package host implements the SOM compute kernels on the CPU.
//
// The device emulates an accelerator the way a CUDA or OpenCL runtime would
// see it: buffers live in their own "device memory" that is only reachable
// through explicit Write/Read calls, kernels run as workgroups of a fixed
// size, and reductions go through a per-group local memory array with the
// same tree pattern and +Inf padding used by the OpenCL kernels. Workgroups
// are spread over goroutines with errgroup, so a grid of 64x64 neurons keeps
// every core busy.
//
// The host device is always available. It backs tests, machines without a
// GPU driver, and the reference numbers other backends are compared with.
package host

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
	"github.com/orneryd/nornicsom/pkg/simd"
)

// Errors
var (
	ErrOutOfMemory     = errors.New("host: allocation exceeds device memory limit")
	ErrNotAllocated    = errors.New("host: buffers not allocated")
	ErrReleased        = errors.New("host: device released")
	ErrBufferSize      = errors.New("host: buffer size mismatch")
	ErrInvalidLaunch   = errors.New("host: invalid launch geometry")
	ErrUnsupportedKind = errors.New("host: unsupported metric")
)

// Config tunes the emulated device. Zero values pick defaults.
type Config struct {
	// Workers bounds how many workgroups execute at once (default NumCPU).
	Workers int
	// MaxWorkGroupSize is the largest accepted group size (default 256).
	MaxWorkGroupSize int
	// LocalMemBytes is the per-group scratch size (default 32 KiB).
	LocalMemBytes int64
	// MemoryBytes caps total buffer allocation (0 = unlimited).
	MemoryBytes int64
}

// DefaultConfig mirrors a mid-range discrete GPU's limits.
func DefaultConfig() Config {
	return Config{
		Workers:          runtime.NumCPU(),
		MaxWorkGroupSize: 256,
		LocalMemBytes:    32 << 10,
	}
}

// Device is a CPU-resident compute device.
type Device struct {
	cfg    Config
	limits kernel.Limits

	mu        sync.Mutex
	shape     kernel.Shape
	grid      []float32
	query     []float32
	distances []float32
	partials  [2][]kernel.Pair
	current   int
	allocated int64
	released  bool
}

// New creates a host device.
func New(cfg Config) *Device {
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.MaxWorkGroupSize <= 0 {
		cfg.MaxWorkGroupSize = def.MaxWorkGroupSize
	}
	if cfg.LocalMemBytes <= 0 {
		cfg.LocalMemBytes = def.LocalMemBytes
	}
	global := cfg.MemoryBytes
	if global <= 0 {
		global = 1 << 62
	}
	return &Device{
		cfg: cfg,
		limits: kernel.Limits{
			MaxWorkGroupSize:           cfg.MaxWorkGroupSize,
			PreferredWorkGroupMultiple: 1,
			LocalMemBytes:              cfg.LocalMemBytes,
			GlobalMemBytes:             global,
			MaxAllocBytes:              global,
			ComputeUnits:               cfg.Workers,
		},
	}
}

// Name describes the device.
func (d *Device) Name() string {
	info := simd.Info()
	return fmt.Sprintf("host (%d workers, %s)", d.cfg.Workers, info.Implementation)
}

// Limits returns the emulated device limits.
func (d *Device) Limits() kernel.Limits { return d.limits }

// AllocatedBytes reports the size of the current buffer set.
func (d *Device) AllocatedBytes() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

// Allocate sizes the grid, query, distance and two reduction scratch
// buffers. pairs is the worst-case number of stage-1 partials.
func (d *Device) Allocate(shape kernel.Shape, pairs int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrReleased
	}
	if !shape.Valid() || pairs < 1 {
		return fmt.Errorf("%w: shape %s, %d partials", ErrInvalidLaunch, shape, pairs)
	}

	bytes := int64(shape.Floats()+shape.Dimension+shape.Neurons())*4 + int64(2*pairs)*kernel.PairBytes
	if bytes > d.limits.GlobalMemBytes {
		return fmt.Errorf("%w: need %d bytes, limit %d", ErrOutOfMemory, bytes, d.limits.GlobalMemBytes)
	}

	d.shape = shape
	d.grid = make([]float32, shape.Floats())
	d.query = make([]float32, shape.Dimension)
	d.distances = make([]float32, shape.Neurons())
	d.partials[0] = make([]kernel.Pair, pairs)
	d.partials[1] = make([]kernel.Pair, pairs)
	d.current = 0
	d.allocated = bytes
	return nil
}

func (d *Device) ready() error {
	if d.released {
		return ErrReleased
	}
	if d.grid == nil {
		return ErrNotAllocated
	}
	return nil
}

// WriteGrid copies the full weight grid to the device.
func (d *Device) WriteGrid(src []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if len(src) != len(d.grid) {
		return fmt.Errorf("%w: grid has %d floats, got %d", ErrBufferSize, len(d.grid), len(src))
	}
	copy(d.grid, src)
	return nil
}

// ReadGrid copies the full weight grid back to dst.
func (d *Device) ReadGrid(dst []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if len(dst) != len(d.grid) {
		return fmt.Errorf("%w: grid has %d floats, got %d", ErrBufferSize, len(d.grid), len(dst))
	}
	copy(dst, d.grid)
	return nil
}

// WriteQuery uploads the query vector.
func (d *Device) WriteQuery(src []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if len(src) != len(d.query) {
		return fmt.Errorf("%w: query has %d floats, got %d", ErrBufferSize, len(d.query), len(src))
	}
	copy(d.query, src)
	return nil
}

// ReadDistances copies the distance buffer to dst.
func (d *Device) ReadDistances(dst []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if len(dst) != len(d.distances) {
		return fmt.Errorf("%w: distances has %d floats, got %d", ErrBufferSize, len(d.distances), len(dst))
	}
	copy(dst, d.distances)
	return nil
}

// ReadPartials copies the first len(dst) pairs of the current reduction
// buffer.
func (d *Device) ReadPartials(dst []kernel.Pair) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	src := d.partials[d.current]
	if len(dst) > len(src) {
		return fmt.Errorf("%w: %d partials allocated, %d requested", ErrBufferSize, len(src), len(dst))
	}
	copy(dst, src[:len(dst)])
	return nil
}

// Finish is a no-op: every kernel returns after its workgroups complete.
func (d *Device) Finish() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrReleased
	}
	return nil
}

// Release drops all buffers. Further calls fail with ErrReleased.
func (d *Device) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
	d.grid, d.query, d.distances = nil, nil, nil
	d.partials = [2][]kernel.Pair{}
	d.allocated = 0
	return nil
}

// dispatch runs fn for every workgroup in [0, groups), spreading contiguous
// ranges of groups over at most cfg.Workers goroutines.
func (d *Device) dispatch(groups int, fn func(group int)) {
	workers := d.cfg.Workers
	if workers > groups {
		workers = groups
	}
	if workers <= 1 {
		for g := 0; g < groups; g++ {
			fn(g)
		}
		return
	}

	var eg errgroup.Group
	eg.SetLimit(workers)
	per := (groups + workers - 1) / workers
	for start := 0; start < groups; start += per {
		lo, hi := start, min(start+per, groups)
		eg.Go(func() error {
			for g := lo; g < hi; g++ {
				fn(g)
			}
			return nil
		})
	}
	_ = eg.Wait()
}

func (d *Device) checkGroup(group int) error {
	if group < 1 || group&(group-1) != 0 {
		return fmt.Errorf("%w: group size %d is not a power of two", ErrInvalidLaunch, group)
	}
	if group > d.limits.MaxWorkGroupSize {
		return fmt.Errorf("%w: group size %d exceeds device maximum %d", ErrInvalidLaunch, group, d.limits.MaxWorkGroupSize)
	}
	if int64(group)*kernel.PairBytes > d.limits.LocalMemBytes {
		return fmt.Errorf("%w: group size %d exceeds local memory", ErrInvalidLaunch, group)
	}
	return nil
}
