// Package config handles nornicsom configuration via YAML files and
// environment variables.
//
// Configuration Precedence (highest to lowest):
//  1. Command-line flags (--width, --backend, etc.)
//  2. Environment variables (NORNICSOM_*)
//  3. Config file (nornicsom.yaml)
//  4. Built-in defaults
//
// Example Usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Printf("Grid: %dx%d, %d dims\n",
//		cfg.Grid.Width, cfg.Grid.Height, cfg.Grid.Dimension)
//
// Environment Variables (all use NORNICSOM_ prefix):
//
// Device:
//   - NORNICSOM_GPU_ENABLED=true
//   - NORNICSOM_GPU_BACKEND="auto", "host" or "opencl"
//   - NORNICSOM_GPU_DEVICE=0
//   - NORNICSOM_GPU_MAX_MEMORY="2GB"
//   - NORNICSOM_MAX_GROUP_SIZE=256
//   - NORNICSOM_HOST_REDUCE_THRESHOLD=1024
//
// Grid:
//   - NORNICSOM_GRID_WIDTH=64
//   - NORNICSOM_GRID_HEIGHT=64
//   - NORNICSOM_GRID_DIMENSION=128
//   - NORNICSOM_METRIC="euclidean"
//   - NORNICSOM_TOROIDAL=false
//
// Storage:
//   - NORNICSOM_DATA_DIR="./data"
//
// Logging:
//   - NORNICSOM_LOG_LEVEL="INFO"
//   - NORNICSOM_LOG_FORMAT="json"
//
// Metrics:
//   - NORNICSOM_METRICS_ADDRESS=":9464"
//
// For a complete list, see the Config struct field documentation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/nornicsom/pkg/gpu"
	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
	"github.com/orneryd/nornicsom/pkg/logging"
	"github.com/orneryd/nornicsom/pkg/som"
)

// Config holds all nornicsom configuration.
//
// Configuration is organized into logical sections:
//   - Device: backend selection and device tuning
//   - Grid: SOM shape, metric and neighborhood policy
//   - Training: epoch count and sigma/learn-rate endpoints used by the CLI
//   - Storage: snapshot store location
//   - Logging: log level, format and output
//   - Metrics: Prometheus endpoint
//   - Memory: Go runtime memory settings
type Config struct {
	Device   DeviceConfig
	Grid     GridConfig
	Training TrainingConfig
	Storage  StorageConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
	Memory   MemoryConfig
}

// DeviceConfig holds compute backend settings.
type DeviceConfig struct {
	// Enabled allows accelerator backends (host is always available)
	Enabled bool
	// Backend is auto, host or opencl
	Backend string
	// DeviceID selects the device within the backend
	DeviceID int
	// MaxMemory caps a session's device buffers in bytes (0 = device limit)
	MaxMemory int64
	// FallbackOnError uses the host backend when no accelerator opens
	FallbackOnError bool

	// HostWorkers bounds concurrent host workgroups (0 = NumCPU)
	HostWorkers int
	// HostWorkGroupSize is the host device's largest workgroup
	HostWorkGroupSize int
	// HostLocalMemory is the host device's local memory per group in bytes
	HostLocalMemory int64

	// MaxGroupSize caps the negotiated reduction group (0 = device limit)
	MaxGroupSize int
	// HostReduceThreshold is the partial count finished on the host
	HostReduceThreshold int
	// ChunkThreshold is the largest dimension without chunked distances
	ChunkThreshold int
}

// GridConfig describes the SOM.
type GridConfig struct {
	Width     int
	Height    int
	Dimension int
	// Metric is euclidean, manhattan, chebyshev or spectral-angle
	Metric   string
	Toroidal bool
	// Radius is gaussian, linear or fixed; RadiusParam is its eps, scale
	// or radius
	Radius      string
	RadiusParam float64
	Seed        uint64
	// Bands are optional per-dimension descriptors
	Bands []som.Band
}

// TrainingConfig holds the CLI's linear sigma and learn-rate decay.
type TrainingConfig struct {
	Epochs         int
	SigmaStart     float64
	SigmaEnd       float64
	LearnRateStart float64
	LearnRateEnd   float64
	// InitFromSamples seeds neurons from training vectors
	InitFromSamples bool
	// ProgressInterval throttles progress log lines
	ProgressInterval time.Duration
}

// StorageConfig holds snapshot store settings.
type StorageConfig struct {
	DataDir string
	// Compression is zstd or none
	Compression string
	// InMemory keeps snapshots in memory only (testing)
	InMemory   bool
	SyncWrites bool
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string
	// Format (json, text)
	Format string
	// Output path (stdout, stderr, or file path)
	Output string
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool
	Address string
	Path    string
}

// MemoryConfig holds Go runtime memory settings.
type MemoryConfig struct {
	// RuntimeLimit is the soft memory limit in bytes (0 = unlimited)
	RuntimeLimit int64
	// GCPercent is the GC target percentage (100 = Go default)
	GCPercent int
}

// Validate checks the configuration for errors.
//
// Returns nil if configuration is valid, or an error describing the problem.
func (c *Config) Validate() error {
	if _, err := gpu.ParseBackend(c.Device.Backend); err != nil {
		return err
	}
	if c.Device.MaxMemory < 0 {
		return fmt.Errorf("invalid max device memory: %d", c.Device.MaxMemory)
	}
	if c.Device.HostWorkGroupSize < 0 || c.Device.MaxGroupSize < 0 {
		return fmt.Errorf("invalid workgroup size")
	}
	if c.Device.HostReduceThreshold < 0 || c.Device.ChunkThreshold < 0 {
		return fmt.Errorf("invalid reduction thresholds")
	}

	if _, err := c.SOMConfig(); err != nil {
		return err
	}

	if c.Training.Epochs < 0 {
		return fmt.Errorf("invalid epochs: %d", c.Training.Epochs)
	}
	if c.Training.SigmaStart <= 0 || c.Training.SigmaEnd <= 0 {
		return fmt.Errorf("sigma must be positive: start %v, end %v", c.Training.SigmaStart, c.Training.SigmaEnd)
	}
	for _, lr := range []float64{c.Training.LearnRateStart, c.Training.LearnRateEnd} {
		if lr <= 0 || lr > 1 {
			return fmt.Errorf("learn rate must be in (0,1], got %v", lr)
		}
	}

	switch strings.ToLower(c.Storage.Compression) {
	case "", "zstd", "none":
	default:
		return fmt.Errorf("unknown compression: %q", c.Storage.Compression)
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics enabled but no address set")
	}
	return nil
}

// String returns a short representation for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Grid: %dx%dx%d %s toroidal=%v, Backend: %s, GPU: %v, DataDir: %s}",
		c.Grid.Width, c.Grid.Height, c.Grid.Dimension, c.Grid.Metric, c.Grid.Toroidal,
		c.Device.Backend, c.Device.Enabled,
		c.Storage.DataDir,
	)
}

// GPUConfig converts the device section to a gpu manager configuration.
func (c *Config) GPUConfig() (*gpu.Config, error) {
	backend, err := gpu.ParseBackend(c.Device.Backend)
	if err != nil {
		return nil, err
	}
	return &gpu.Config{
		Enabled:           c.Device.Enabled,
		PreferredBackend:  backend,
		MaxMemoryMB:       int(c.Device.MaxMemory >> 20),
		FallbackOnError:   c.Device.FallbackOnError,
		DeviceID:          c.Device.DeviceID,
		HostWorkers:       c.Device.HostWorkers,
		HostWorkGroupSize: c.Device.HostWorkGroupSize,
		HostLocalMemKB:    int(c.Device.HostLocalMemory >> 10),
	}, nil
}

// SOMConfig converts the grid and device sections to an engine
// configuration.
func (c *Config) SOMConfig() (som.Config, error) {
	metric, err := kernel.ParseMetric(c.Grid.Metric)
	if err != nil {
		return som.Config{}, err
	}
	radius, err := som.ParseRadius(c.Grid.Radius, c.Grid.RadiusParam)
	if err != nil {
		return som.Config{}, err
	}
	cfg := som.DefaultConfig(c.Grid.Dimension, c.Grid.Width, c.Grid.Height)
	cfg.Metric = metric
	cfg.Toroidal = c.Grid.Toroidal
	cfg.Radius = radius
	cfg.Seed = c.Grid.Seed
	cfg.Bands = c.Grid.Bands
	cfg.ChunkThreshold = c.Device.ChunkThreshold
	cfg.HostReduceThreshold = c.Device.HostReduceThreshold
	cfg.MaxGroupSize = c.Device.MaxGroupSize
	if err := cfg.Validate(); err != nil {
		return som.Config{}, err
	}
	return cfg, nil
}

// Logger builds the configured logger.
func (c *LoggingConfig) Logger() (*logging.Logger, error) {
	return logging.New(logging.Options{Level: c.Level, Format: c.Format, Output: c.Output})
}

// YAMLConfig represents the YAML configuration file structure.
// All fields mirror the environment variable configuration options.
type YAMLConfig struct {
	Device struct {
		Enabled             *bool  `yaml:"enabled"`
		Backend             string `yaml:"backend"`
		DeviceID            *int   `yaml:"device_id"`
		MaxMemory           string `yaml:"max_memory"`
		FallbackOnError     *bool  `yaml:"fallback_on_error"`
		HostWorkers         int    `yaml:"host_workers"`
		HostWorkGroupSize   int    `yaml:"host_work_group_size"`
		HostLocalMemory     string `yaml:"host_local_memory"`
		MaxGroupSize        int    `yaml:"max_group_size"`
		HostReduceThreshold int    `yaml:"host_reduce_threshold"`
		ChunkThreshold      int    `yaml:"chunk_threshold"`
	} `yaml:"device"`

	// GPU alias for device
	GPU struct {
		Enabled *bool  `yaml:"enabled"`
		Backend string `yaml:"backend"`
	} `yaml:"gpu"`

	Grid struct {
		Width       int        `yaml:"width"`
		Height      int        `yaml:"height"`
		Dimension   int        `yaml:"dimension"`
		Metric      string     `yaml:"metric"`
		Toroidal    *bool      `yaml:"toroidal"`
		Radius      string     `yaml:"radius"`
		RadiusParam *float64   `yaml:"radius_param"`
		Seed        *uint64    `yaml:"seed"`
		Bands       []som.Band `yaml:"bands"`
	} `yaml:"grid"`

	Training struct {
		Epochs           int     `yaml:"epochs"`
		SigmaStart       float64 `yaml:"sigma_start"`
		SigmaEnd         float64 `yaml:"sigma_end"`
		LearnRateStart   float64 `yaml:"learn_rate_start"`
		LearnRateEnd     float64 `yaml:"learn_rate_end"`
		InitFromSamples  *bool   `yaml:"init_from_samples"`
		ProgressInterval string  `yaml:"progress_interval"`
	} `yaml:"training"`

	Storage struct {
		DataDir     string `yaml:"data_dir"`
		Path        string `yaml:"path"` // Alias for data_dir
		Compression string `yaml:"compression"`
		InMemory    bool   `yaml:"in_memory"`
		SyncWrites  *bool  `yaml:"sync_writes"`
	} `yaml:"storage"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled *bool  `yaml:"enabled"`
		Address string `yaml:"address"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`

	Memory struct {
		RuntimeLimit string `yaml:"runtime_limit"`
		GCPercent    int    `yaml:"gc_percent"`
	} `yaml:"memory"`
}

// LoadDefaults returns a Config with built-in defaults.
//
// Loading order:
//  1. Built-in defaults (this function)
//  2. Config file (YAML)
//  3. Environment variables
//  4. Command-line arguments (applied in main.go)
func LoadDefaults() *Config {
	config := &Config{}

	// Device defaults
	config.Device.Enabled = false
	config.Device.Backend = string(gpu.BackendAuto)
	config.Device.DeviceID = 0
	config.Device.MaxMemory = 0
	config.Device.FallbackOnError = true
	config.Device.HostWorkers = 0
	config.Device.HostWorkGroupSize = 256
	config.Device.HostLocalMemory = 32 * 1024
	config.Device.MaxGroupSize = 0
	config.Device.HostReduceThreshold = som.DefaultHostReduceThreshold
	config.Device.ChunkThreshold = som.DefaultChunkThreshold

	// Grid defaults
	config.Grid.Width = 32
	config.Grid.Height = 32
	config.Grid.Dimension = 3
	config.Grid.Metric = kernel.SquaredEuclidean.String()
	config.Grid.Toroidal = false
	config.Grid.Radius = "gaussian"
	config.Grid.RadiusParam = som.DefaultCutoff
	config.Grid.Seed = 1

	// Training defaults
	config.Training.Epochs = 10
	config.Training.SigmaStart = 8
	config.Training.SigmaEnd = 0.5
	config.Training.LearnRateStart = 0.5
	config.Training.LearnRateEnd = 0.01
	config.Training.InitFromSamples = false
	config.Training.ProgressInterval = 2 * time.Second

	// Storage defaults
	config.Storage.DataDir = "./data"
	config.Storage.Compression = "zstd"
	config.Storage.InMemory = false
	config.Storage.SyncWrites = true

	// Logging defaults
	config.Logging.Level = "INFO"
	config.Logging.Format = "text"
	config.Logging.Output = "stderr"

	// Metrics defaults
	config.Metrics.Enabled = false
	config.Metrics.Address = ":9464"
	config.Metrics.Path = "/metrics"

	// Memory defaults
	config.Memory.RuntimeLimit = 0
	config.Memory.GCPercent = 100

	return config
}

// LoadFromEnv returns defaults overlaid with environment variables.
func LoadFromEnv() *Config {
	config := LoadDefaults()
	applyEnvVars(config)
	return config
}

// applyEnvVars applies environment variable overrides to an existing config.
// Environment variables take precedence over config file values.
func applyEnvVars(config *Config) {
	// Device
	config.Device.Enabled = getEnvBool("NORNICSOM_GPU_ENABLED", config.Device.Enabled)
	config.Device.Backend = getEnv("NORNICSOM_GPU_BACKEND", config.Device.Backend)
	config.Device.DeviceID = getEnvInt("NORNICSOM_GPU_DEVICE", config.Device.DeviceID)
	if v := os.Getenv("NORNICSOM_GPU_MAX_MEMORY"); v != "" {
		config.Device.MaxMemory = parseMemorySize(v)
	}
	config.Device.FallbackOnError = getEnvBool("NORNICSOM_GPU_FALLBACK", config.Device.FallbackOnError)
	config.Device.HostWorkers = getEnvInt("NORNICSOM_HOST_WORKERS", config.Device.HostWorkers)
	config.Device.HostWorkGroupSize = getEnvInt("NORNICSOM_HOST_WORK_GROUP_SIZE", config.Device.HostWorkGroupSize)
	if v := os.Getenv("NORNICSOM_HOST_LOCAL_MEMORY"); v != "" {
		config.Device.HostLocalMemory = parseMemorySize(v)
	}
	config.Device.MaxGroupSize = getEnvInt("NORNICSOM_MAX_GROUP_SIZE", config.Device.MaxGroupSize)
	config.Device.HostReduceThreshold = getEnvInt("NORNICSOM_HOST_REDUCE_THRESHOLD", config.Device.HostReduceThreshold)
	config.Device.ChunkThreshold = getEnvInt("NORNICSOM_CHUNK_THRESHOLD", config.Device.ChunkThreshold)

	// Grid
	config.Grid.Width = getEnvInt("NORNICSOM_GRID_WIDTH", config.Grid.Width)
	config.Grid.Height = getEnvInt("NORNICSOM_GRID_HEIGHT", config.Grid.Height)
	config.Grid.Dimension = getEnvInt("NORNICSOM_GRID_DIMENSION", config.Grid.Dimension)
	config.Grid.Metric = getEnv("NORNICSOM_METRIC", config.Grid.Metric)
	config.Grid.Toroidal = getEnvBool("NORNICSOM_TOROIDAL", config.Grid.Toroidal)
	config.Grid.Radius = getEnv("NORNICSOM_RADIUS", config.Grid.Radius)
	config.Grid.RadiusParam = getEnvFloat("NORNICSOM_RADIUS_PARAM", config.Grid.RadiusParam)
	if v := os.Getenv("NORNICSOM_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Grid.Seed = seed
		}
	}

	// Training
	config.Training.Epochs = getEnvInt("NORNICSOM_EPOCHS", config.Training.Epochs)
	config.Training.SigmaStart = getEnvFloat("NORNICSOM_SIGMA_START", config.Training.SigmaStart)
	config.Training.SigmaEnd = getEnvFloat("NORNICSOM_SIGMA_END", config.Training.SigmaEnd)
	config.Training.LearnRateStart = getEnvFloat("NORNICSOM_LEARN_RATE_START", config.Training.LearnRateStart)
	config.Training.LearnRateEnd = getEnvFloat("NORNICSOM_LEARN_RATE_END", config.Training.LearnRateEnd)
	config.Training.InitFromSamples = getEnvBool("NORNICSOM_INIT_FROM_SAMPLES", config.Training.InitFromSamples)
	config.Training.ProgressInterval = getEnvDuration("NORNICSOM_PROGRESS_INTERVAL", config.Training.ProgressInterval)

	// Storage
	config.Storage.DataDir = getEnv("NORNICSOM_DATA_DIR", config.Storage.DataDir)
	config.Storage.Compression = getEnv("NORNICSOM_COMPRESSION", config.Storage.Compression)
	config.Storage.SyncWrites = getEnvBool("NORNICSOM_SYNC_WRITES", config.Storage.SyncWrites)

	// Logging
	config.Logging.Level = getEnv("NORNICSOM_LOG_LEVEL", config.Logging.Level)
	config.Logging.Format = getEnv("NORNICSOM_LOG_FORMAT", config.Logging.Format)
	config.Logging.Output = getEnv("NORNICSOM_LOG_OUTPUT", config.Logging.Output)

	// Metrics
	if addr := os.Getenv("NORNICSOM_METRICS_ADDRESS"); addr != "" {
		config.Metrics.Enabled = true
		config.Metrics.Address = addr
	}
	config.Metrics.Enabled = getEnvBool("NORNICSOM_METRICS_ENABLED", config.Metrics.Enabled)
	config.Metrics.Path = getEnv("NORNICSOM_METRICS_PATH", config.Metrics.Path)

	// Memory
	if v := os.Getenv("NORNICSOM_MEMORY_LIMIT"); v != "" {
		config.Memory.RuntimeLimit = parseMemorySize(v)
	}
	config.Memory.GCPercent = getEnvInt("NORNICSOM_GC_PERCENT", config.Memory.GCPercent)
}

// LoadFromFile loads configuration with proper precedence:
//  1. Built-in defaults (lowest priority)
//  2. YAML config file
//  3. Environment variables (highest priority before CLI args)
//
// A missing file is not an error. Command-line arguments are applied by the
// caller after this.
//
// Example YAML:
//
//	grid:
//	  width: 64
//	  height: 64
//	  dimension: 128
//	  metric: spectral-angle
//	device:
//	  enabled: true
//	  backend: opencl
//	  max_memory: 2GB
func LoadFromFile(configPath string) (*Config, error) {
	config := LoadDefaults()

	if configPath == "" {
		applyEnvVars(config)
		return config, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvVars(config)
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlCfg YAMLConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := applyYAML(config, &yamlCfg); err != nil {
		return nil, err
	}

	applyEnvVars(config)
	return config, nil
}

func applyYAML(config *Config, y *YAMLConfig) error {
	// === Device Settings ===
	if y.GPU.Enabled != nil {
		config.Device.Enabled = *y.GPU.Enabled
	}
	if y.GPU.Backend != "" {
		config.Device.Backend = y.GPU.Backend
	}
	if y.Device.Enabled != nil {
		config.Device.Enabled = *y.Device.Enabled
	}
	if y.Device.Backend != "" {
		config.Device.Backend = y.Device.Backend
	}
	if y.Device.DeviceID != nil {
		config.Device.DeviceID = *y.Device.DeviceID
	}
	if y.Device.MaxMemory != "" {
		config.Device.MaxMemory = parseMemorySize(y.Device.MaxMemory)
	}
	if y.Device.FallbackOnError != nil {
		config.Device.FallbackOnError = *y.Device.FallbackOnError
	}
	if y.Device.HostWorkers > 0 {
		config.Device.HostWorkers = y.Device.HostWorkers
	}
	if y.Device.HostWorkGroupSize > 0 {
		config.Device.HostWorkGroupSize = y.Device.HostWorkGroupSize
	}
	if y.Device.HostLocalMemory != "" {
		config.Device.HostLocalMemory = parseMemorySize(y.Device.HostLocalMemory)
	}
	if y.Device.MaxGroupSize > 0 {
		config.Device.MaxGroupSize = y.Device.MaxGroupSize
	}
	if y.Device.HostReduceThreshold > 0 {
		config.Device.HostReduceThreshold = y.Device.HostReduceThreshold
	}
	if y.Device.ChunkThreshold > 0 {
		config.Device.ChunkThreshold = y.Device.ChunkThreshold
	}

	// === Grid Settings ===
	if y.Grid.Width > 0 {
		config.Grid.Width = y.Grid.Width
	}
	if y.Grid.Height > 0 {
		config.Grid.Height = y.Grid.Height
	}
	if y.Grid.Dimension > 0 {
		config.Grid.Dimension = y.Grid.Dimension
	}
	if y.Grid.Metric != "" {
		config.Grid.Metric = y.Grid.Metric
	}
	if y.Grid.Toroidal != nil {
		config.Grid.Toroidal = *y.Grid.Toroidal
	}
	if y.Grid.Radius != "" {
		config.Grid.Radius = y.Grid.Radius
	}
	if y.Grid.RadiusParam != nil {
		config.Grid.RadiusParam = *y.Grid.RadiusParam
	}
	if y.Grid.Seed != nil {
		config.Grid.Seed = *y.Grid.Seed
	}
	if len(y.Grid.Bands) > 0 {
		config.Grid.Bands = y.Grid.Bands
	}

	// === Training Settings ===
	if y.Training.Epochs > 0 {
		config.Training.Epochs = y.Training.Epochs
	}
	if y.Training.SigmaStart > 0 {
		config.Training.SigmaStart = y.Training.SigmaStart
	}
	if y.Training.SigmaEnd > 0 {
		config.Training.SigmaEnd = y.Training.SigmaEnd
	}
	if y.Training.LearnRateStart > 0 {
		config.Training.LearnRateStart = y.Training.LearnRateStart
	}
	if y.Training.LearnRateEnd > 0 {
		config.Training.LearnRateEnd = y.Training.LearnRateEnd
	}
	if y.Training.InitFromSamples != nil {
		config.Training.InitFromSamples = *y.Training.InitFromSamples
	}
	if y.Training.ProgressInterval != "" {
		d, err := time.ParseDuration(y.Training.ProgressInterval)
		if err != nil {
			return fmt.Errorf("invalid training.progress_interval: %w", err)
		}
		config.Training.ProgressInterval = d
	}

	// === Storage Settings ===
	if y.Storage.Path != "" {
		config.Storage.DataDir = y.Storage.Path
	}
	if y.Storage.DataDir != "" {
		config.Storage.DataDir = y.Storage.DataDir
	}
	if y.Storage.Compression != "" {
		config.Storage.Compression = y.Storage.Compression
	}
	if y.Storage.InMemory {
		config.Storage.InMemory = true
	}
	if y.Storage.SyncWrites != nil {
		config.Storage.SyncWrites = *y.Storage.SyncWrites
	}

	// === Logging Settings ===
	if y.Logging.Level != "" {
		config.Logging.Level = y.Logging.Level
	}
	if y.Logging.Format != "" {
		config.Logging.Format = y.Logging.Format
	}
	if y.Logging.Output != "" {
		config.Logging.Output = y.Logging.Output
	}

	// === Metrics Settings ===
	if y.Metrics.Enabled != nil {
		config.Metrics.Enabled = *y.Metrics.Enabled
	}
	if y.Metrics.Address != "" {
		config.Metrics.Address = y.Metrics.Address
	}
	if y.Metrics.Path != "" {
		config.Metrics.Path = y.Metrics.Path
	}

	// === Memory Settings ===
	if y.Memory.RuntimeLimit != "" {
		config.Memory.RuntimeLimit = parseMemorySize(y.Memory.RuntimeLimit)
	}
	if y.Memory.GCPercent > 0 {
		config.Memory.GCPercent = y.Memory.GCPercent
	}
	return nil
}

// FindConfigFile searches for config file in standard locations.
// Returns the path to the first config file found, or empty string if none found.
// Search order:
//  1. ~/.nornicsom/config.yaml (user home directory - highest priority)
//  2. Same directory as the binary (config.yaml, nornicsom.yaml)
//  3. Current working directory (config.yaml, nornicsom.yaml)
//  4. ~/.config/nornicsom/config.yaml (XDG)
func FindConfigFile() string {
	var candidates []string

	home, homeErr := os.UserHomeDir()
	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, ".nornicsom", "config.yaml"))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, "config.yaml"),
			filepath.Join(exeDir, "nornicsom.yaml"),
		)
	}

	candidates = append(candidates,
		"config.yaml",
		"nornicsom.yaml",
	)

	if homeErr == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "nornicsom", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
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

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited"
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// ApplyRuntimeMemory applies the runtime memory settings to the Go runtime.
// Should be called early in main() before heavy allocations.
func (c *MemoryConfig) ApplyRuntimeMemory() {
	if c.RuntimeLimit > 0 {
		debug.SetMemoryLimit(c.RuntimeLimit)
	}
	if c.GCPercent != 100 && c.GCPercent != 0 {
		debug.SetGCPercent(c.GCPercent)
	}
}
