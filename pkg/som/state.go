package som

import (
	"fmt"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

// State is the engine lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateTraining
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateTraining:
		return "training"
	case StateDisposed:
		return "disposed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// require returns nil when s is one of allowed.
func (s State) require(op string, allowed ...State) error {
	for _, a := range allowed {
		if s == a {
			return nil
		}
	}
	if s == StateDisposed {
		return fmt.Errorf("%w: %s", ErrClosed, op)
	}
	return fmt.Errorf("%w: %s in state %s", ErrInvalidState, op, s)
}

func checkVector(shape kernel.Shape, vec []float32) error {
	if len(vec) != shape.Dimension {
		return fmt.Errorf("%w: got %d values, dimension is %d", ErrDimensionMismatch, len(vec), shape.Dimension)
	}
	return nil
}

func checkVectors(shape kernel.Shape, vecs [][]float32) error {
	for i, v := range vecs {
		if err := checkVector(shape, v); err != nil {
			return fmt.Errorf("vector %d: %w", i, err)
		}
	}
	return nil
}

func coordOf(index, width int) Coord {
	return Coord{X: index % width, Y: index / width}
}
