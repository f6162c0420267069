// Package gpu selects a compute backend for the SOM kernels and hands out
// device sessions.
//
// A Manager probes the configured backends once at construction and records
// the chosen device. Each SOM engine then opens its own Session: a private
// device context with its own buffers and command queue, released when the
// engine closes. Sessions on one manager run independently.
//
// Backends:
//
//   - host: the SOM kernels executed on the CPU with workgroup emulation.
//     Always available, used when acceleration is disabled or as fallback.
//   - opencl: OpenCL 1.2 devices reached through the system ICD loader,
//     loaded at run time with purego (no cgo).
//
// Example:
//
//	cfg := gpu.DefaultConfig()
//	cfg.Enabled = true
//	cfg.PreferredBackend = gpu.BackendOpenCL
//
//	manager, err := gpu.NewManager(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	session, err := manager.OpenSession()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Close()
//
// Thread Safety:
//
//	Manager methods are safe for concurrent use. A Session is owned by one
//	engine and is not safe for concurrent use.
package gpu

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/orneryd/nornicsom/pkg/gpu/host"
	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
	"github.com/orneryd/nornicsom/pkg/gpu/opencl"
	"github.com/orneryd/nornicsom/pkg/logging"
)

// Errors
var (
	ErrGPUNotAvailable   = errors.New("gpu: no compatible GPU found")
	ErrGPUDisabled       = errors.New("gpu: acceleration disabled")
	ErrOutOfMemory       = errors.New("gpu: out of GPU memory")
	ErrKernelFailed      = errors.New("gpu: kernel execution failed")
	ErrTransferFailed    = errors.New("gpu: buffer transfer failed")
	ErrInvalidDimensions = errors.New("gpu: buffer dimension mismatch")
	ErrSessionClosed     = errors.New("gpu: session closed")
	ErrUnknownBackend    = errors.New("gpu: unknown backend")
)

// Backend represents the compute backend.
type Backend string

const (
	BackendNone   Backend = "none"   // no device selected
	BackendAuto   Backend = "auto"   // best available
	BackendHost   Backend = "host"   // CPU workgroup emulation
	BackendOpenCL Backend = "opencl" // OpenCL ICD via purego
)

// ParseBackend maps a configuration string to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendNone, "cpu", BackendHost:
		return BackendHost, nil
	case BackendOpenCL:
		return BackendOpenCL, nil
	}
	return BackendNone, fmt.Errorf("%w: %q", ErrUnknownBackend, s)
}

// Device is the contract every backend implements. Buffers are sized by
// Allocate for one grid shape; kernels run on those buffers and return once
// they are enqueued (opencl) or complete (host). Read calls block until all
// preceding work finished.
type Device interface {
	Name() string
	Limits() kernel.Limits
	AllocatedBytes() int64

	Allocate(shape kernel.Shape, pairs int) error
	WriteGrid(src []float32) error
	ReadGrid(dst []float32) error
	WriteQuery(src []float32) error
	ReadDistances(dst []float32) error
	ReadPartials(dst []kernel.Pair) error

	Distances(metric kernel.Metric, lanes int) error
	ReduceDistances(group int) (int, error)
	ReducePartials(n, group int) (int, error)
	Update(u kernel.Update) error

	Finish() error
	Release() error
}

var (
	_ Device = (*host.Device)(nil)
	_ Device = (*opencl.Device)(nil)
)

// Config holds backend selection and device tuning.
//
// Example:
//
//	config := &gpu.Config{
//		Enabled:          true,
//		PreferredBackend: gpu.BackendOpenCL,
//		MaxMemoryMB:      2048,
//		FallbackOnError:  true,
//	}
type Config struct {
	// Enabled allows accelerator backends. When false only the host
	// backend is used.
	Enabled bool

	// PreferredBackend is probed first (auto-detected if empty or auto).
	PreferredBackend Backend

	// MaxMemoryMB caps the buffers a single session may allocate
	// (0 = device limit).
	MaxMemoryMB int

	// FallbackOnError selects the host backend when no accelerator can be
	// opened instead of failing.
	FallbackOnError bool

	// DeviceID selects the device within the backend (multi-GPU systems).
	DeviceID int

	// HostWorkers bounds concurrently executing host workgroups
	// (0 = NumCPU).
	HostWorkers int

	// HostWorkGroupSize is the largest host workgroup (0 = 256).
	HostWorkGroupSize int

	// HostLocalMemKB is the emulated local memory per workgroup (0 = 32).
	HostLocalMemKB int
}

// DefaultConfig returns conservative defaults: accelerators are opt-in and
// any probe failure falls back to the host backend.
func DefaultConfig() *Config {
	return &Config{
		Enabled:          false,
		PreferredBackend: BackendAuto,
		MaxMemoryMB:      0,
		FallbackOnError:  true,
		DeviceID:         0,
	}
}

func (c *Config) hostConfig() host.Config {
	return host.Config{
		Workers:          c.HostWorkers,
		MaxWorkGroupSize: c.HostWorkGroupSize,
		LocalMemBytes:    int64(c.HostLocalMemKB) << 10,
		MemoryBytes:      int64(c.MaxMemoryMB) << 20,
	}
}

// DeviceInfo describes a compute device.
type DeviceInfo struct {
	ID           int
	Name         string
	Vendor       string
	Backend      Backend
	MemoryMB     int
	ComputeUnits int
	MaxWorkGroup int
	Available    bool
}

// Stats tracks device usage across all sessions of a manager.
type Stats struct {
	SessionsOpened   int64
	SessionsActive   int64
	BytesTransferred int64
	KernelExecutions int64
	KernelFailures   int64
	FallbackCount    int64
}

type counters struct {
	sessionsOpened   atomic.Int64
	sessionsActive   atomic.Int64
	bytesTransferred atomic.Int64
	kernelExecutions atomic.Int64
	kernelFailures   atomic.Int64
	fallbackCount    atomic.Int64
}

// Manager owns backend selection and tracks the sessions it opened.
type Manager struct {
	config  *Config
	device  *DeviceInfo
	enabled atomic.Bool
	mu      sync.RWMutex
	logger  *logging.Logger

	allocated int64
	stats     counters
}

// NewManager probes backends and selects a device.
//
// With Enabled=false the host backend is selected directly. Otherwise the
// preferred backend and then the platform's accelerators are probed; if
// none opens, the host backend is used when FallbackOnError is set and
// ErrGPUNotAvailable is returned otherwise.
func NewManager(config *Config) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}

	m := &Manager{
		config: config,
		logger: logging.NoopLogger(),
	}

	if !config.Enabled {
		m.device = probeHost(config)
		return m, nil
	}

	device, err := detectGPU(config)
	if err != nil {
		if config.FallbackOnError {
			m.device = probeHost(config)
			m.stats.fallbackCount.Add(1)
			return m, nil
		}
		return nil, err
	}
	m.device = device
	m.enabled.Store(true)
	return m, nil
}

// SetLogger replaces the manager's logger. Sessions opened afterwards log
// through it.
func (m *Manager) SetLogger(l *logging.Logger) {
	m.mu.Lock()
	m.logger = logging.OrNoop(l)
	m.mu.Unlock()
}

// detectGPU attempts to find a compatible accelerator.
func detectGPU(config *Config) (*DeviceInfo, error) {
	var backends []Backend

	switch config.PreferredBackend {
	case "", BackendAuto, BackendNone:
	case BackendHost:
		return probeHost(config), nil
	default:
		backends = append(backends, config.PreferredBackend)
	}

	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
		backends = append(backends, BackendOpenCL)
	}

	var errs []error
	for _, backend := range backends {
		device, err := probeBackend(backend, config.DeviceID)
		if err == nil && device != nil {
			return device, nil
		}
		errs = append(errs, err)
	}

	return nil, errors.Join(append([]error{ErrGPUNotAvailable}, errs...)...)
}

// probeBackend opens and describes one device of a backend.
func probeBackend(backend Backend, deviceID int) (*DeviceInfo, error) {
	switch backend {
	case BackendOpenCL:
		return probeOpenCL(deviceID)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
}

func probeOpenCL(deviceID int) (*DeviceInfo, error) {
	if !opencl.IsAvailable() {
		return nil, opencl.ErrOpenCLNotAvailable
	}
	devices, err := opencl.Devices()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, opencl.ErrNoDevice
	}
	if deviceID < 0 || deviceID >= len(devices) {
		deviceID = 0
	}

	// Build the program once so a broken driver is caught here rather than
	// at the first session.
	device, err := opencl.NewDevice(deviceID)
	if err != nil {
		return nil, err
	}
	defer device.Release()

	info := openclInfo(devices[deviceID])
	info.Available = true
	return &info, nil
}

func openclInfo(d opencl.Info) DeviceInfo {
	return DeviceInfo{
		ID:           d.Index,
		Name:         d.Name,
		Vendor:       d.Vendor,
		Backend:      BackendOpenCL,
		MemoryMB:     d.MemoryMB,
		ComputeUnits: d.ComputeUnits,
		MaxWorkGroup: d.MaxWorkGroup,
	}
}

func probeHost(config *Config) *DeviceInfo {
	d := host.New(config.hostConfig())
	limits := d.Limits()
	return &DeviceInfo{
		ID:           0,
		Name:         d.Name(),
		Vendor:       runtime.GOARCH,
		Backend:      BackendHost,
		MemoryMB:     config.MaxMemoryMB,
		ComputeUnits: limits.ComputeUnits,
		MaxWorkGroup: limits.MaxWorkGroupSize,
		Available:    true,
	}
}

// IsEnabled reports whether an accelerator backend is active.
func (m *Manager) IsEnabled() bool {
	return m.enabled.Load()
}

// Device returns the selected device.
func (m *Manager) Device() *DeviceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.device
}

// Backend returns the selected backend.
func (m *Manager) Backend() Backend {
	return m.Device().Backend
}

// Config returns the manager's configuration.
func (m *Manager) Config() *Config {
	return m.config
}

// Stats returns usage statistics.
func (m *Manager) Stats() Stats {
	return Stats{
		SessionsOpened:   m.stats.sessionsOpened.Load(),
		SessionsActive:   m.stats.sessionsActive.Load(),
		BytesTransferred: m.stats.bytesTransferred.Load(),
		KernelExecutions: m.stats.kernelExecutions.Load(),
		KernelFailures:   m.stats.kernelFailures.Load(),
		FallbackCount:    m.stats.fallbackCount.Load(),
	}
}

// AllocatedMemoryMB returns the buffer memory held by open sessions.
func (m *Manager) AllocatedMemoryMB() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int(m.allocated >> 20)
}

// AllocatedBytes returns the buffer memory held by open sessions.
func (m *Manager) AllocatedBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocated
}

func (m *Manager) trackAllocation(delta int64) {
	m.mu.Lock()
	m.allocated += delta
	m.mu.Unlock()
}

// openDevice creates a fresh device instance for the selected backend.
func (m *Manager) openDevice() (Device, error) {
	info := m.Device()
	switch info.Backend {
	case BackendHost:
		return host.New(m.config.hostConfig()), nil
	case BackendOpenCL:
		d, err := opencl.NewDevice(info.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGPUNotAvailable, err)
		}
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, info.Backend)
}

// ListDevices enumerates every device the manager could select, host first.
func ListDevices(config *Config) ([]DeviceInfo, error) {
	if config == nil {
		config = DefaultConfig()
	}
	devices := []DeviceInfo{*probeHost(config)}
	if !opencl.IsAvailable() {
		return devices, nil
	}
	cl, err := opencl.Devices()
	if err != nil {
		return devices, err
	}
	for _, d := range cl {
		info := openclInfo(d)
		info.Available = true
		devices = append(devices, info)
	}
	return devices, nil
}
