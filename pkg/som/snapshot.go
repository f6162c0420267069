package som

import (
	"slices"
	"time"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

// Snapshot is everything needed to persist and restore a grid.
type Snapshot struct {
	Width     int
	Height    int
	Dimension int
	Metric    kernel.Metric
	Toroidal  bool
	Bands     []Band
	Weights   []float32
	CreatedAt time.Time
}

// Shape returns the snapshot's grid shape.
func (s *Snapshot) Shape() kernel.Shape {
	return kernel.Shape{Dimension: s.Dimension, Width: s.Width, Height: s.Height}
}

// Config returns a default configuration for the snapshot's grid, with its
// metric, wrap policy and bands.
func (s *Snapshot) Config() Config {
	cfg, _ := s.ConfigFrom(Config{})
	return cfg
}

// ConfigFrom returns base with the grid identity taken from the snapshot:
// shape, metric, wrap policy and bands. The radius mapping, seed and device
// tuning stay as base sets them. A base shape that is set and differs from
// the snapshot's is a configuration error.
func (s *Snapshot) ConfigFrom(base Config) (Config, error) {
	for _, f := range []struct {
		name      string
		got, want int
	}{
		{"dimension", base.Dimension, s.Dimension},
		{"width", base.Width, s.Width},
		{"height", base.Height, s.Height},
	} {
		if f.got != 0 && f.got != f.want {
			return Config{}, configError("%s %d does not match snapshot %s", f.name, f.got, s.Shape())
		}
	}
	cfg := base
	cfg.Dimension = s.Dimension
	cfg.Width = s.Width
	cfg.Height = s.Height
	cfg.Metric = s.Metric
	cfg.Toroidal = s.Toroidal
	cfg.Bands = slices.Clone(s.Bands)
	if cfg.Radius == nil {
		cfg.Radius = GaussianCutoff(DefaultCutoff)
	}
	if cfg.ChunkThreshold == 0 {
		cfg.ChunkThreshold = DefaultChunkThreshold
	}
	if cfg.HostReduceThreshold == 0 {
		cfg.HostReduceThreshold = DefaultHostReduceThreshold
	}
	return cfg, nil
}

// Validate checks the weights match the shape.
func (s *Snapshot) Validate() error {
	if err := s.Config().Validate(); err != nil {
		return err
	}
	if len(s.Weights) != s.Shape().Floats() {
		return configError("snapshot holds %d floats, grid %s needs %d", len(s.Weights), s.Shape(), s.Shape().Floats())
	}
	return nil
}

// Restore creates an engine from a snapshot. base supplies everything the
// snapshot does not record (see ConfigFrom); a zero Config uses defaults.
func Restore(s *Snapshot, base Config, opts ...Option) (*Engine, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	cfg, err := s.ConfigFrom(base)
	if err != nil {
		return nil, err
	}
	return New(cfg, append(opts, WithWeights(s.Weights))...)
}

// Snapshot captures the current grid and its configuration.
func (e *Engine) Snapshot() (*Snapshot, error) {
	weights, err := e.Weights()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Width:     e.cfg.Width,
		Height:    e.cfg.Height,
		Dimension: e.cfg.Dimension,
		Metric:    e.cfg.Metric,
		Toroidal:  e.cfg.Toroidal,
		Bands:     e.Bands(),
		Weights:   weights,
		CreatedAt: time.Now().UTC(),
	}, nil
}
