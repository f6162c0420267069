package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/orneryd/nornicsom/pkg/dataset"
	"github.com/orneryd/nornicsom/pkg/logging"
	"github.com/orneryd/nornicsom/pkg/som"
)

func addGridFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int("width", getEnvInt("NORNICSOM_GRID_WIDTH", 32), "Grid width")
	f.Int("height", getEnvInt("NORNICSOM_GRID_HEIGHT", 32), "Grid height")
	f.String("metric", getEnvStr("NORNICSOM_METRIC", "euclidean"), "Distance metric: euclidean, manhattan, chebyshev, spectral-angle")
	f.Bool("toroidal", getEnvBool("NORNICSOM_TOROIDAL", false), "Wrap the neighborhood at grid edges")
	f.Uint64("seed", 1, "Seed for weight initialization and sample order")
}

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train <samples.csv|samples.jsonl>",
		Short: "Train a map and store the result",
		Long: `Train a self-organizing map on the given samples. Sigma and learning rate
decay linearly across epochs; sample order is reshuffled every epoch.
The trained grid is saved to the snapshot store.`,
		Args: cobra.ExactArgs(1),
		RunE: runTrain,
	}
	addGridFlags(cmd)
	f := cmd.Flags()
	f.Int("epochs", getEnvInt("NORNICSOM_EPOCHS", 10), "Passes over the samples")
	f.Float64("sigma-start", 8, "Neighborhood sigma at the first sample")
	f.Float64("sigma-end", 0.5, "Neighborhood sigma at the last sample")
	f.Float64("lr-start", 0.5, "Learning rate at the first sample")
	f.Float64("lr-end", 0.01, "Learning rate at the last sample")
	f.Bool("init-from-samples", false, "Initialize neurons from samples instead of random weights")
	f.String("name", "", "Snapshot name (empty stores by id only)")
	f.String("resume", "", "Continue training a stored snapshot (name or id)")
	f.String("metrics-addr", getEnvStr("NORNICSOM_METRICS_ADDRESS", ""), "Serve Prometheus metrics on this address while training")
	return cmd
}

// schedule interpolates sigma and learning rate over a run.
type schedule struct {
	sigmaStart, sigmaEnd float64
	lrStart, lrEnd       float64
	total                int
}

func (s schedule) at(step int) (sigma, lr float32) {
	t := 0.0
	if s.total > 1 {
		t = float64(step) / float64(s.total-1)
	}
	return float32(s.sigmaStart + (s.sigmaEnd-s.sigmaStart)*t),
		float32(s.lrStart + (s.lrEnd-s.lrStart)*t)
}

// epochResult is one epoch's summary.
type epochResult struct {
	Epoch        int
	Samples      int
	Elapsed      time.Duration
	Quantization float64
}

// trainer runs epochs against any som.Trainer.
type trainer struct {
	som      som.Trainer
	samples  [][]float32
	sched    schedule
	rng      *rand.Rand
	logger   *logging.Logger
	progress *rate.Sometimes
	step     int
}

func newTrainer(t som.Trainer, samples [][]float32, sched schedule, seed uint64, logger *logging.Logger, interval time.Duration) *trainer {
	return &trainer{
		som:      t,
		samples:  samples,
		sched:    sched,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger:   logging.OrNoop(logger),
		progress: &rate.Sometimes{Interval: interval},
	}
}

// run trains for the given number of epochs. ctx is checked between
// samples; on cancellation the map is returned to Ready before returning.
func (tr *trainer) run(ctx context.Context, epochs int) (results []epochResult, err error) {
	if err := tr.som.NotifyTrainingStart(); err != nil {
		return nil, err
	}
	defer func() {
		if endErr := tr.som.NotifyTrainingEnd(); err == nil {
			err = endErr
		}
	}()

	order := make([]int, len(tr.samples))
	for i := range order {
		order[i] = i
	}
	for epoch := 1; epoch <= epochs; epoch++ {
		start := time.Now()
		tr.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			vec := tr.samples[idx]
			sigma, lr := tr.sched.at(tr.step)
			w, err := tr.som.IdentifyWinnerNeuron(vec)
			if err != nil {
				return results, fmt.Errorf("sample %d: %w", idx, err)
			}
			if _, err := tr.som.UpdateNeighborhood(w, vec, sigma, lr); err != nil {
				return results, fmt.Errorf("sample %d: %w", idx, err)
			}
			tr.step++
			tr.progress.Do(func() {
				tr.logger.Info("training",
					"epoch", epoch, "step", tr.step, "of", tr.sched.total,
					"sigma", sigma, "learn_rate", lr)
			})
		}
		qe, err := tr.quantization()
		if err != nil {
			return results, err
		}
		res := epochResult{Epoch: epoch, Samples: len(order), Elapsed: time.Since(start), Quantization: qe}
		tr.logger.LogEpoch(ctx, epoch, res.Samples, res.Elapsed, qe)
		results = append(results, res)
	}
	return results, nil
}

// quantization is the mean distance from each sample to its winner.
func (tr *trainer) quantization() (float64, error) {
	if len(tr.samples) == 0 {
		return 0, nil
	}
	var sum float64
	for _, vec := range tr.samples {
		best, err := tr.som.ClosestN(vec, 1)
		if err != nil {
			return 0, err
		}
		d := float64(best[0].Distance)
		if !math.IsInf(d, 0) && !math.IsNaN(d) {
			sum += d
		}
	}
	return sum / float64(len(tr.samples)), nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	set, err := dataset.Load(args[0])
	if err != nil {
		return err
	}
	if len(set.Vectors) == 0 {
		return fmt.Errorf("%s holds no vectors", args[0])
	}
	name, _ := cmd.Flags().GetString("name")
	resume, _ := cmd.Flags().GetString("resume")

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	manager, err := a.newManager()
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []som.Option{som.WithManager(manager), som.WithLogger(a.logger)}

	if a.cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		opts = append(opts, som.WithMetrics(som.NewPrometheusObserver(reg)))
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Address,
			Handler:           metricsMux(a.cfg.Metrics.Path, reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", "addr", srv.Addr, "error", err)
			}
		}()
		defer srv.Close()
		a.logger.Info("serving metrics", "addr", srv.Addr, "path", a.cfg.Metrics.Path)
	}

	var engine *som.Engine
	if resume != "" {
		snap, meta, err := store.Load(resume)
		if err != nil {
			return err
		}
		if snap.Dimension != set.Dimension() {
			return fmt.Errorf("snapshot %s has dimension %d, samples have %d", meta.ID, snap.Dimension, set.Dimension())
		}
		base, err := a.restoreConfig(cmd)
		if err != nil {
			return err
		}
		engine, err = som.Restore(snap, base, opts...)
		if err != nil {
			return err
		}
	} else {
		a.cfg.Grid.Dimension = set.Dimension()
		scfg, err := a.cfg.SOMConfig()
		if err != nil {
			return err
		}
		if a.cfg.Training.InitFromSamples {
			opts = append(opts, som.WithSamples(set.Vectors))
		}
		engine, err = som.New(scfg, opts...)
		if err != nil {
			return err
		}
	}
	defer engine.Close()

	sched := schedule{
		sigmaStart: a.cfg.Training.SigmaStart,
		sigmaEnd:   a.cfg.Training.SigmaEnd,
		lrStart:    a.cfg.Training.LearnRateStart,
		lrEnd:      a.cfg.Training.LearnRateEnd,
		total:      a.cfg.Training.Epochs * len(set.Vectors),
	}
	cfg := engine.Config()
	a.logger.WithGrid(cfg.Width, cfg.Height, cfg.Dimension).Info("training started",
		"samples", len(set.Vectors), "epochs", a.cfg.Training.Epochs,
		"backend", engine.Stats().Backend, "device", engine.Stats().Device)

	tr := newTrainer(engine, set.Vectors, sched, cfg.Seed, a.logger, a.cfg.Training.ProgressInterval)
	results, err := tr.run(ctx, a.cfg.Training.Epochs)
	if err != nil {
		return err
	}

	snap, err := engine.Snapshot()
	if err != nil {
		return err
	}
	meta, err := store.Save(name, snap)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range results {
		fmt.Fprintf(out, "epoch %3d  samples %d  %8s  qe %.6g\n", r.Epoch, r.Samples, r.Elapsed.Round(time.Millisecond), r.Quantization)
	}
	fmt.Fprintf(out, "✅ saved %s", meta.ID)
	if meta.Name != "" {
		fmt.Fprintf(out, " as %q", meta.Name)
	}
	fmt.Fprintln(out)
	return nil
}

func metricsMux(path string, reg *prometheus.Registry) *http.ServeMux {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}
