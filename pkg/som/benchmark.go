package som

import (
	"context"
	"fmt"
	"time"

	"github.com/orneryd/nornicsom/pkg/gpu"
	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

// BenchmarkResult holds training throughput for one grid on one device.
type BenchmarkResult struct {
	Backend       gpu.Backend
	Device        string
	Shape         kernel.Shape
	Iterations    int
	GroupSize     int
	DistanceLanes int
	Elapsed       time.Duration
	WinnerLatency time.Duration
	UpdateLatency time.Duration
	SamplesPerSec float64
	// NeuronsPerSec counts neuron distance evaluations.
	NeuronsPerSec float64
}

// Benchmark trains a fresh engine on random vectors for iterations samples
// and reports per-call latency. ctx is checked between samples.
func Benchmark(ctx context.Context, cfg Config, iterations int, sigma, learnRate float32, opts ...Option) (*BenchmarkResult, error) {
	if iterations < 1 {
		return nil, fmt.Errorf("%w: iterations must be positive, got %d", ErrOutOfRange, iterations)
	}
	e, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	samples := randomGrid(kernel.Shape{Dimension: cfg.Dimension, Width: 64, Height: 1}, cfg.Seed+1)
	sample := func(i int) []float32 {
		j := i % 64
		return samples[j*cfg.Dimension : (j+1)*cfg.Dimension]
	}

	if err := e.NotifyTrainingStart(); err != nil {
		return nil, err
	}
	var winnerTime, updateTime time.Duration
	start := time.Now()
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := sample(i)
		t0 := time.Now()
		w, err := e.IdentifyWinnerNeuron(v)
		if err != nil {
			return nil, err
		}
		t1 := time.Now()
		if _, err := e.UpdateNeighborhood(w, v, sigma, learnRate); err != nil {
			return nil, err
		}
		winnerTime += t1.Sub(t0)
		updateTime += time.Since(t1)
	}
	elapsed := time.Since(start)
	if err := e.NotifyTrainingEnd(); err != nil {
		return nil, err
	}

	stats := e.Stats()
	secs := elapsed.Seconds()
	if secs <= 0 {
		secs = 1e-9
	}
	return &BenchmarkResult{
		Backend:       stats.Backend,
		Device:        stats.Device,
		Shape:         cfg.Shape(),
		Iterations:    iterations,
		GroupSize:     stats.GroupSize,
		DistanceLanes: stats.DistanceLanes,
		Elapsed:       elapsed,
		WinnerLatency: winnerTime / time.Duration(iterations),
		UpdateLatency: updateTime / time.Duration(iterations),
		SamplesPerSec: float64(iterations) / secs,
		NeuronsPerSec: float64(iterations) * float64(cfg.Width*cfg.Height) / secs,
	}, nil
}
