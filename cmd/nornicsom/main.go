// Package main provides the nornicsom CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orneryd/nornicsom/pkg/config"
	"github.com/orneryd/nornicsom/pkg/gpu"
	"github.com/orneryd/nornicsom/pkg/logging"
	"github.com/orneryd/nornicsom/pkg/storage"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nornicsom",
		Short: "nornicsom - GPU-accelerated self-organizing maps",
		Long: `nornicsom trains and queries self-organizing maps on OpenCL devices,
with a host backend that runs the same kernels on the CPU.

Features:
  • Squared-Euclidean, Manhattan, Chebyshev and spectral-angle metrics
  • Two-stage on-device argmin for the best matching unit
  • Clipped or toroidal Gaussian neighborhoods
  • Chunked distances for hyperspectral (high-dimension) inputs
  • Snapshot storage with zstd-compressed weights`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", getEnvStr("NORNICSOM_CONFIG", ""), "Config file (default: search standard locations)")
	pf.String("data-dir", getEnvStr("NORNICSOM_DATA_DIR", "./data"), "Snapshot store directory")
	pf.String("backend", getEnvStr("NORNICSOM_GPU_BACKEND", "auto"), "Compute backend: auto, host, opencl")
	pf.Bool("gpu", getEnvBool("NORNICSOM_GPU_ENABLED", false), "Allow accelerator backends")
	pf.Int("device", getEnvInt("NORNICSOM_GPU_DEVICE", 0), "Device index within the backend")
	pf.String("log-level", getEnvStr("NORNICSOM_LOG_LEVEL", "INFO"), "Log level: DEBUG, INFO, WARN, ERROR")
	pf.String("log-format", getEnvStr("NORNICSOM_LOG_FORMAT", "text"), "Log format: text, json")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nornicsom v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a data directory with a default config file",
		RunE:  runInit,
	}
	rootCmd.AddCommand(initCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "List compute devices",
		RunE:  runDevices,
	})

	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newTrainCmd())
	rootCmd.AddCommand(newWinnerCmd())
	rootCmd.AddCommand(newClosestCmd())
	rootCmd.AddCommand(newBenchCmd())
	rootCmd.AddCommand(newSnapshotsCmd())
	rootCmd.AddCommand(newExportCmd())
	return rootCmd
}

// app bundles what every command needs once flags are resolved.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
}

// loadApp resolves configuration: defaults, then file, then env, then any
// flags set on the command line.
func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Memory.ApplyRuntimeMemory()

	logger, err := cfg.Logging.Logger()
	if err != nil {
		return nil, err
	}
	if path != "" {
		logger.Debug("loaded config", "path", path)
	}
	return &app{cfg: cfg, logger: logger}, nil
}

// applyFlags copies explicitly set flags over cfg. Flags a command does not
// define are ignored.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	changed := func(name string) bool {
		fl := f.Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("data-dir") {
		cfg.Storage.DataDir, _ = f.GetString("data-dir")
	}
	if changed("backend") {
		cfg.Device.Backend, _ = f.GetString("backend")
		// naming a backend implies permission to use it
		if cfg.Device.Backend != string(gpu.BackendHost) {
			cfg.Device.Enabled = true
		}
	}
	if changed("gpu") {
		cfg.Device.Enabled, _ = f.GetBool("gpu")
	}
	if changed("device") {
		cfg.Device.DeviceID, _ = f.GetInt("device")
	}
	if changed("log-level") {
		cfg.Logging.Level, _ = f.GetString("log-level")
	}
	if changed("log-format") {
		cfg.Logging.Format, _ = f.GetString("log-format")
	}
	if changed("width") {
		cfg.Grid.Width, _ = f.GetInt("width")
	}
	if changed("height") {
		cfg.Grid.Height, _ = f.GetInt("height")
	}
	if changed("dimension") {
		cfg.Grid.Dimension, _ = f.GetInt("dimension")
	}
	if changed("metric") {
		cfg.Grid.Metric, _ = f.GetString("metric")
	}
	if changed("toroidal") {
		cfg.Grid.Toroidal, _ = f.GetBool("toroidal")
	}
	if changed("seed") {
		cfg.Grid.Seed, _ = f.GetUint64("seed")
	}
	if changed("epochs") {
		cfg.Training.Epochs, _ = f.GetInt("epochs")
	}
	if changed("sigma-start") {
		cfg.Training.SigmaStart, _ = f.GetFloat64("sigma-start")
	}
	if changed("sigma-end") {
		cfg.Training.SigmaEnd, _ = f.GetFloat64("sigma-end")
	}
	if changed("lr-start") {
		cfg.Training.LearnRateStart, _ = f.GetFloat64("lr-start")
	}
	if changed("lr-end") {
		cfg.Training.LearnRateEnd, _ = f.GetFloat64("lr-end")
	}
	if changed("init-from-samples") {
		cfg.Training.InitFromSamples, _ = f.GetBool("init-from-samples")
	}
	if changed("metrics-addr") {
		cfg.Metrics.Address, _ = f.GetString("metrics-addr")
		cfg.Metrics.Enabled = cfg.Metrics.Address != ""
	}
}

// newManager opens the configured device manager.
func (a *app) newManager() (*gpu.Manager, error) {
	gcfg, err := a.cfg.GPUConfig()
	if err != nil {
		return nil, err
	}
	m, err := gpu.NewManager(gcfg)
	if err != nil {
		return nil, err
	}
	m.SetLogger(a.logger)
	return m, nil
}

// openStore opens the snapshot store under the data directory.
func (a *app) openStore() (*storage.GridStore, error) {
	compression, err := storage.ParseCompression(a.cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Options{
		DataDir:     filepath.Join(a.cfg.Storage.DataDir, "grids"),
		InMemory:    a.cfg.Storage.InMemory,
		SyncWrites:  a.cfg.Storage.SyncWrites,
		Compression: compression,
		Logger:      a.logger,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "📂 Initializing nornicsom in %s\n", dataDir)
	if err := os.MkdirAll(filepath.Join(dataDir, "grids"), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dataDir, "nornicsom.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}
	configContent := `# nornicsom configuration
device:
  enabled: false        # true allows OpenCL
  backend: auto         # auto, host, opencl
  fallback_on_error: true
  host_reduce_threshold: 1024
  chunk_threshold: 64

grid:
  width: 32
  height: 32
  dimension: 3
  metric: euclidean     # euclidean, manhattan, chebyshev, spectral-angle
  toroidal: false
  radius: gaussian      # gaussian (param = eps), linear (scale), fixed (radius)
  radius_param: 0.001

training:
  epochs: 10
  sigma_start: 8
  sigma_end: 0.5
  learn_rate_start: 0.5
  learn_rate_end: 0.01
  progress_interval: 2s

storage:
  data_dir: ` + dataDir + `
  compression: zstd

logging:
  level: INFO
  format: text
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintln(out, "✅ Initialized")
	fmt.Fprintf(out, "   Config: %s\n", configPath)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintf(out, "  nornicsom train samples.csv --config %s --name first\n", configPath)
	return nil
}

func runDevices(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	gcfg, err := a.cfg.GPUConfig()
	if err != nil {
		return err
	}
	devices, err := gpu.ListDevices(gcfg)
	if err != nil {
		a.logger.Warn("device enumeration incomplete", "error", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-8s %-3s %-40s %-10s %8s %6s %8s\n", "BACKEND", "ID", "NAME", "VENDOR", "MEM(MB)", "CUS", "MAXWG")
	for _, d := range devices {
		name := d.Name
		if !d.Available {
			name += " (unavailable)"
		}
		fmt.Fprintf(out, "%-8s %-3d %-40s %-10s %8d %6d %8d\n",
			d.Backend, d.ID, name, d.Vendor, d.MemoryMB, d.ComputeUnits, d.MaxWorkGroup)
	}
	return nil
}

func getEnvStr(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}
