package som

import (
	"github.com/orneryd/nornicsom/pkg/gpu"
	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
	"github.com/orneryd/nornicsom/pkg/logging"
)

// Defaults for the tuning fields of Config.
const (
	DefaultChunkThreshold      = 64
	DefaultHostReduceThreshold = 1024
)

// Config describes a SOM grid and how it runs on the device.
type Config struct {
	// Dimension is the length of every weight and input vector.
	Dimension int
	// Width and Height are the grid size in neurons.
	Width, Height int

	// Bands holds one descriptor per dimension, or none.
	Bands []Band

	// Metric is the winner search distance (default squared Euclidean).
	Metric kernel.Metric

	// Toroidal wraps the update window at the grid edges.
	Toroidal bool

	// Radius maps sigma to the update radius (default
	// GaussianCutoff(DefaultCutoff)).
	Radius RadiusFunc

	// Seed drives weight initialization.
	Seed uint64

	// ChunkThreshold is the largest dimension computed with one work-item
	// per neuron. Larger vectors are split over a workgroup.
	ChunkThreshold int

	// HostReduceThreshold is the partial count at or below which the
	// argmin finishes on the host instead of launching another pass.
	HostReduceThreshold int

	// MaxGroupSize caps the negotiated workgroup size (0 = device limit).
	MaxGroupSize int
}

// DefaultConfig returns a squared-Euclidean, clipped-edge grid.
func DefaultConfig(dimension, width, height int) Config {
	return Config{
		Dimension:           dimension,
		Width:               width,
		Height:              height,
		Metric:              kernel.SquaredEuclidean,
		Radius:              GaussianCutoff(DefaultCutoff),
		Seed:                1,
		ChunkThreshold:      DefaultChunkThreshold,
		HostReduceThreshold: DefaultHostReduceThreshold,
	}
}

// Shape returns the grid shape.
func (c Config) Shape() kernel.Shape {
	return kernel.Shape{Dimension: c.Dimension, Width: c.Width, Height: c.Height}
}

// Validate checks the configuration. Zero tuning fields are valid and
// replaced by defaults.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return configError("dimension must be positive, got %d", c.Dimension)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return configError("grid must be at least 1x1, got %dx%d", c.Width, c.Height)
	}
	if n := int64(c.Width) * int64(c.Height); n > 1<<31-1 {
		return configError("grid %dx%d exceeds the 32-bit neuron index", c.Width, c.Height)
	}
	if len(c.Bands) != 0 && len(c.Bands) != c.Dimension {
		return configError("%d bands given for dimension %d", len(c.Bands), c.Dimension)
	}
	if !c.Metric.Valid() {
		return configError("unknown metric %d", c.Metric)
	}
	if c.ChunkThreshold < 0 || c.HostReduceThreshold < 0 || c.MaxGroupSize < 0 {
		return configError("tuning thresholds must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Radius == nil {
		c.Radius = GaussianCutoff(DefaultCutoff)
	}
	if c.ChunkThreshold == 0 {
		c.ChunkThreshold = DefaultChunkThreshold
	}
	if c.HostReduceThreshold == 0 {
		c.HostReduceThreshold = DefaultHostReduceThreshold
	}
	c.Bands = append([]Band(nil), c.Bands...)
	return c
}

// Option configures optional engine collaborators.
type Option func(*options)

type options struct {
	manager *gpu.Manager
	logger  *logging.Logger
	metrics MetricsObserver
	weights []float32
	samples [][]float32
}

// WithManager opens the engine's session on m instead of a private
// host-backend manager.
func WithManager(m *gpu.Manager) Option {
	return func(o *options) { o.manager = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics observer.
func WithMetrics(m MetricsObserver) Option {
	return func(o *options) { o.metrics = m }
}

// WithWeights starts from an existing grid of Width*Height*Dimension
// floats, e.g. a loaded snapshot.
func WithWeights(weights []float32) Option {
	return func(o *options) { o.weights = weights }
}

// WithSamples initializes every neuron from a training vector drawn with
// the configured seed instead of uniform noise.
func WithSamples(samples [][]float32) Option {
	return func(o *options) { o.samples = samples }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.OrNoop(o.logger)
	if o.metrics == nil {
		o.metrics = NoopMetricsObserver{}
	}
	return o
}
