package gpu

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/orneryd/nornicsom/pkg/gpu/host"
	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
	"github.com/orneryd/nornicsom/pkg/gpu/opencl"
	"github.com/orneryd/nornicsom/pkg/logging"
)

// Session is one engine's private device context: its own buffers, its own
// queue and its own compiled kernels. It is acquired with
// Manager.OpenSession and released exactly once by Close.
//
// Every backend error is wrapped with the matching package sentinel
// (ErrOutOfMemory, ErrTransferFailed, ErrKernelFailed, ErrInvalidDimensions)
// while the backend error stays in the chain.
type Session struct {
	id      string
	backend Backend
	device  Device
	manager *Manager
	logger  *logging.Logger

	maxBytes  int64
	shape     kernel.Shape
	pairs     int
	allocated int64

	closeOnce sync.Once
	closed    bool
}

// OpenSession creates a device context on the selected backend.
func (m *Manager) OpenSession() (*Session, error) {
	device, err := m.openDevice()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	logger := m.logger
	m.mu.RUnlock()

	s := &Session{
		id:       uuid.NewString(),
		backend:  m.Device().Backend,
		device:   device,
		manager:  m,
		maxBytes: int64(m.config.MaxMemoryMB) << 20,
	}
	s.logger = logger.WithSession(s.id, string(s.backend))

	m.stats.sessionsOpened.Add(1)
	m.stats.sessionsActive.Add(1)
	s.logger.Debug("device session opened", "device", device.Name())
	return s, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Backend returns the backend the session runs on.
func (s *Session) Backend() Backend { return s.backend }

// Name describes the underlying device.
func (s *Session) Name() string { return s.device.Name() }

// Limits returns the device limits.
func (s *Session) Limits() kernel.Limits { return s.device.Limits() }

// Shape returns the shape of the current buffer set (zero before Allocate).
func (s *Session) Shape() kernel.Shape { return s.shape }

// Pairs returns the capacity of each reduction scratch buffer.
func (s *Session) Pairs() int { return s.pairs }

// AllocatedBytes returns the size of the current buffer set.
func (s *Session) AllocatedBytes() int64 { return s.allocated }

// BufferBytes is the device memory needed for a grid shape with pairs
// reduction partials per scratch buffer.
func BufferBytes(shape kernel.Shape, pairs int) int64 {
	floats := int64(shape.Floats()) + int64(shape.Dimension) + int64(shape.Neurons())
	return floats*4 + 2*int64(pairs)*kernel.PairBytes
}

// Allocate (re)creates the buffer set. Allocating the shape and capacity
// already held is a no-op.
func (s *Session) Allocate(shape kernel.Shape, pairs int) error {
	if s.closed {
		return ErrSessionClosed
	}
	if !shape.Valid() || pairs < 1 {
		return fmt.Errorf("%w: shape %s, %d partials", ErrInvalidDimensions, shape, pairs)
	}
	if s.allocated > 0 && shape == s.shape && pairs == s.pairs {
		return nil
	}

	need := BufferBytes(shape, pairs)
	if s.maxBytes > 0 && need > s.maxBytes {
		return fmt.Errorf("%w: grid %s needs %d bytes, session limit is %d", ErrOutOfMemory, shape, need, s.maxBytes)
	}
	if limit := s.device.Limits().GlobalMemBytes; limit > 0 && need > limit {
		return fmt.Errorf("%w: grid %s needs %d bytes, device has %d", ErrOutOfMemory, shape, need, limit)
	}

	if err := s.device.Allocate(shape, pairs); err != nil {
		s.setAllocated(0)
		s.shape, s.pairs = kernel.Shape{}, 0
		return s.fail("allocate", ErrOutOfMemory, err)
	}
	s.shape, s.pairs = shape, pairs
	s.setAllocated(s.device.AllocatedBytes())
	s.logger.Debug("device buffers allocated",
		"shape", shape.String(),
		"partials", pairs,
		"bytes", s.allocated,
	)
	return nil
}

func (s *Session) setAllocated(bytes int64) {
	s.manager.trackAllocation(bytes - s.allocated)
	s.allocated = bytes
}

// Upload writes the host grid to the device.
func (s *Session) Upload(grid []float32) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.device.WriteGrid(grid); err != nil {
		return s.fail("upload grid", ErrTransferFailed, err)
	}
	s.manager.stats.bytesTransferred.Add(int64(len(grid)) * 4)
	return nil
}

// Download reads the device grid into dst.
func (s *Session) Download(dst []float32) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.device.ReadGrid(dst); err != nil {
		return s.fail("download grid", ErrTransferFailed, err)
	}
	s.manager.stats.bytesTransferred.Add(int64(len(dst)) * 4)
	return nil
}

// WriteQuery uploads one input vector.
func (s *Session) WriteQuery(vec []float32) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.device.WriteQuery(vec); err != nil {
		return s.fail("upload query", ErrTransferFailed, err)
	}
	s.manager.stats.bytesTransferred.Add(int64(len(vec)) * 4)
	return nil
}

// ReadDistances reads the per-neuron distances of the last Distances call.
func (s *Session) ReadDistances(dst []float32) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.device.ReadDistances(dst); err != nil {
		return s.fail("read distances", ErrTransferFailed, err)
	}
	s.manager.stats.bytesTransferred.Add(int64(len(dst)) * 4)
	return nil
}

// ReadPartials reads the first len(dst) reduction pairs.
func (s *Session) ReadPartials(dst []kernel.Pair) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.device.ReadPartials(dst); err != nil {
		return s.fail("read partials", ErrTransferFailed, err)
	}
	s.manager.stats.bytesTransferred.Add(int64(len(dst)) * kernel.PairBytes)
	return nil
}

// Distances runs the distance kernel. lanes == 1 selects one work-item per
// neuron; larger powers of two split each neuron's dimensions over a group.
func (s *Session) Distances(metric kernel.Metric, lanes int) error {
	return s.run("distances", func() error { return s.device.Distances(metric, lanes) })
}

// ReduceDistances runs stage 1 of the argmin and returns the partial count.
func (s *Session) ReduceDistances(group int) (int, error) {
	var n int
	err := s.run("argmin distances", func() error {
		var err error
		n, err = s.device.ReduceDistances(group)
		return err
	})
	return n, err
}

// ReducePartials runs one further device pass over n partials.
func (s *Session) ReducePartials(n, group int) (int, error) {
	var out int
	err := s.run("argmin partials", func() error {
		var err error
		out, err = s.device.ReducePartials(n, group)
		return err
	})
	return out, err
}

// Update runs the neighborhood update kernel.
func (s *Session) Update(u kernel.Update) error {
	return s.run("update neighborhood", func() error { return s.device.Update(u) })
}

// Finish blocks until all enqueued work completed.
func (s *Session) Finish() error {
	return s.run("finish", s.device.Finish)
}

func (s *Session) run(op string, fn func() error) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := fn(); err != nil {
		s.manager.stats.kernelFailures.Add(1)
		return s.fail(op, ErrKernelFailed, err)
	}
	s.manager.stats.kernelExecutions.Add(1)
	return nil
}

// fail wraps a backend error with the most specific sentinel and logs it.
func (s *Session) fail(op string, kind, err error) error {
	switch {
	case errors.Is(err, host.ErrOutOfMemory), opencl.IsOutOfMemory(err):
		kind = ErrOutOfMemory
	case errors.Is(err, host.ErrBufferSize), errors.Is(err, opencl.ErrInvalidBuffer),
		errors.Is(err, host.ErrNotAllocated):
		kind = ErrInvalidDimensions
	case errors.Is(err, host.ErrReleased), errors.Is(err, opencl.ErrReleased):
		kind = ErrSessionClosed
	}
	wrapped := fmt.Errorf("%w: %s: %w", kind, op, err)
	s.logger.LogDeviceError(context.Background(), op, err)
	return wrapped
}

// Close releases the device and every buffer. Calling Close more than once
// is safe.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed = true
		s.setAllocated(0)
		s.manager.stats.sessionsActive.Add(-1)
		if rerr := s.device.Release(); rerr != nil {
			err = fmt.Errorf("gpu: release session %s: %w", s.id, rerr)
		}
		s.logger.Debug("device session closed")
	})
	return err
}
