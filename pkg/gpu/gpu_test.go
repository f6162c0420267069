package gpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

func hostManager(t *testing.T, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.HostWorkers = 2
	if mutate != nil {
		mutate(cfg)
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.False(t, config.Enabled, "accelerators are opt-in")
	assert.Equal(t, BackendAuto, config.PreferredBackend)
	assert.True(t, config.FallbackOnError)
	assert.Zero(t, config.MaxMemoryMB)
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in   string
		want Backend
	}{
		{"", BackendAuto},
		{"auto", BackendAuto},
		{"host", BackendHost},
		{"cpu", BackendHost},
		{"none", BackendHost},
		{"opencl", BackendOpenCL},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseBackend("cuda")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNewManager(t *testing.T) {
	t.Run("disabled selects host", func(t *testing.T) {
		m, err := NewManager(nil)
		require.NoError(t, err)
		assert.False(t, m.IsEnabled())
		assert.Equal(t, BackendHost, m.Backend())
		assert.True(t, m.Device().Available)
		assert.Zero(t, m.Stats().FallbackCount)
	})

	t.Run("preferred host", func(t *testing.T) {
		m := hostManager(t, func(c *Config) {
			c.Enabled = true
			c.PreferredBackend = BackendHost
		})
		assert.Equal(t, BackendHost, m.Backend())
	})

	t.Run("enabled with fallback", func(t *testing.T) {
		m := hostManager(t, func(c *Config) {
			c.Enabled = true
			c.FallbackOnError = true
		})
		if m.IsEnabled() {
			assert.Equal(t, BackendOpenCL, m.Backend())
			return
		}
		assert.Equal(t, BackendHost, m.Backend())
		assert.Equal(t, int64(1), m.Stats().FallbackCount)
	})

	t.Run("enabled without fallback", func(t *testing.T) {
		m, err := NewManager(&Config{Enabled: true, PreferredBackend: BackendOpenCL})
		if err != nil {
			assert.ErrorIs(t, err, ErrGPUNotAvailable)
			assert.Nil(t, m)
			return
		}
		assert.True(t, m.IsEnabled())
	})
}

func TestListDevices(t *testing.T) {
	devices, err := ListDevices(&Config{HostWorkers: 3, HostWorkGroupSize: 128})
	require.NoError(t, err)
	require.NotEmpty(t, devices)
	assert.Equal(t, BackendHost, devices[0].Backend)
	assert.Equal(t, 3, devices[0].ComputeUnits)
	assert.Equal(t, 128, devices[0].MaxWorkGroup)
	for _, d := range devices[1:] {
		assert.Equal(t, BackendOpenCL, d.Backend)
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := hostManager(t, nil)
	s, err := m.OpenSession()
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, BackendHost, s.Backend())
	assert.Equal(t, int64(1), m.Stats().SessionsActive)

	shape := kernel.Shape{Dimension: 3, Width: 4, Height: 2}
	require.NoError(t, s.Allocate(shape, 8))
	assert.Equal(t, BufferBytes(shape, 8), s.AllocatedBytes())
	assert.Equal(t, BufferBytes(shape, 8), m.AllocatedBytes())

	// Same shape and capacity keeps the buffers.
	require.NoError(t, s.Allocate(shape, 8))
	assert.Equal(t, BufferBytes(shape, 8), m.AllocatedBytes())

	grid := make([]float32, shape.Floats())
	for i := range grid {
		grid[i] = float32(i)
	}
	require.NoError(t, s.Upload(grid))
	require.NoError(t, s.WriteQuery([]float32{9, 10, 11}))
	require.NoError(t, s.Distances(kernel.SquaredEuclidean, 1))
	n, err := s.ReduceDistances(8)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	out := make([]kernel.Pair, 1)
	require.NoError(t, s.ReadPartials(out))
	assert.Equal(t, kernel.Pair{Value: 0, Index: 3}, out[0])

	back := make([]float32, shape.Floats())
	require.NoError(t, s.Download(back))
	assert.Equal(t, grid, back)

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.KernelExecutions)
	assert.Positive(t, stats.BytesTransferred)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Zero(t, m.AllocatedBytes())
	assert.Zero(t, m.Stats().SessionsActive)
	assert.ErrorIs(t, s.Upload(grid), ErrSessionClosed)
	assert.ErrorIs(t, s.Finish(), ErrSessionClosed)
}

func TestSessionErrorMapping(t *testing.T) {
	t.Run("memory limit", func(t *testing.T) {
		m := hostManager(t, func(c *Config) { c.MaxMemoryMB = 1 })
		s, err := m.OpenSession()
		require.NoError(t, err)
		defer s.Close()

		err = s.Allocate(kernel.Shape{Dimension: 1024, Width: 32, Height: 32}, 1024)
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.Zero(t, s.AllocatedBytes())
	})

	t.Run("transfer size", func(t *testing.T) {
		m := hostManager(t, nil)
		s, err := m.OpenSession()
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.Allocate(kernel.Shape{Dimension: 2, Width: 2, Height: 2}, 4))
		err = s.WriteQuery([]float32{1, 2, 3})
		assert.ErrorIs(t, err, ErrInvalidDimensions)
	})

	t.Run("kernel failure", func(t *testing.T) {
		m := hostManager(t, nil)
		s, err := m.OpenSession()
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.Allocate(kernel.Shape{Dimension: 2, Width: 2, Height: 2}, 4))
		_, err = s.ReduceDistances(3)
		assert.ErrorIs(t, err, ErrKernelFailed)
		assert.Equal(t, int64(1), m.Stats().KernelFailures)
	})

	t.Run("not allocated", func(t *testing.T) {
		m := hostManager(t, nil)
		s, err := m.OpenSession()
		require.NoError(t, err)
		defer s.Close()

		err = s.Distances(kernel.SquaredEuclidean, 1)
		assert.ErrorIs(t, err, ErrInvalidDimensions)
		assert.False(t, errors.Is(err, ErrOutOfMemory))
	})

	t.Run("invalid shape", func(t *testing.T) {
		m := hostManager(t, nil)
		s, err := m.OpenSession()
		require.NoError(t, err)
		defer s.Close()
		assert.ErrorIs(t, s.Allocate(kernel.Shape{}, 1), ErrInvalidDimensions)
	})
}

func TestSessionsAreIndependent(t *testing.T) {
	m := hostManager(t, nil)
	a, err := m.OpenSession()
	require.NoError(t, err)
	defer a.Close()
	b, err := m.OpenSession()
	require.NoError(t, err)
	defer b.Close()
	assert.NotEqual(t, a.ID(), b.ID())

	require.NoError(t, a.Allocate(kernel.Shape{Dimension: 1, Width: 2, Height: 1}, 1))
	require.NoError(t, b.Allocate(kernel.Shape{Dimension: 1, Width: 2, Height: 1}, 1))
	require.NoError(t, a.Upload([]float32{1, 2}))
	require.NoError(t, b.Upload([]float32{3, 4}))

	got := make([]float32, 2)
	require.NoError(t, a.Download(got))
	assert.Equal(t, []float32{1, 2}, got)
	assert.Equal(t, 2*BufferBytes(kernel.Shape{Dimension: 1, Width: 2, Height: 1}, 1), m.AllocatedBytes())
}
