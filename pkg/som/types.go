package som

import "fmt"

// Coord is a neuron position on the grid.
type Coord struct {
	X, Y int
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Neighbor is one ClosestN result.
type Neighbor struct {
	Distance float32
	Coord    Coord
	// Index is the flattened neuron index y*width+x.
	Index int
}

// Band describes one input dimension, e.g. a spectral band's center
// wavelength. Bands are carried through untouched.
type Band struct {
	Center float64 `json:"center" yaml:"center"`
	Label  string  `json:"label,omitempty" yaml:"label,omitempty"`
}
