package som

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps exactly one of
// them; test with errors.Is.
var (
	// ErrConfiguration reports an invalid shape or option at construction.
	// No engine is created.
	ErrConfiguration = errors.New("som: invalid configuration")

	// ErrDevice reports an accelerator failure: no device, allocation
	// failure, kernel build or launch failure. The engine is unusable
	// afterwards and should be closed. The backend error (gpu.ErrOutOfMemory,
	// gpu.ErrKernelFailed, ...) stays in the chain.
	ErrDevice = errors.New("som: device error")

	// ErrUsage reports a precondition violated by the caller.
	ErrUsage = errors.New("som: usage error")

	// ErrNoWinner reports a distance buffer with no finite entry.
	ErrNoWinner = errors.New("som: no winner found")
)

// Usage errors.
var (
	ErrDimensionMismatch = fmt.Errorf("%w: vector dimension mismatch", ErrUsage)
	ErrOutOfRange        = fmt.Errorf("%w: parameter out of range", ErrUsage)
	ErrInvalidState      = fmt.Errorf("%w: call not valid in current state", ErrUsage)
	ErrClosed            = fmt.Errorf("%w: engine closed", ErrUsage)
)

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func deviceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDevice, op, err)
}
