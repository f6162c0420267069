package som

import (
	"github.com/orneryd/nornicsom/pkg/gpu"
	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

// buffers tracks the device copy of the grid. The session holds the grid,
// query, distance and two reduction scratch buffers; they are sized once
// per shape and reused until the shape changes.
type buffers struct {
	session *gpu.Session
	shape   kernel.Shape
	pairs   int

	uploads   int64
	downloads int64
}

// allocate sizes the buffer set for shape. It is a no-op when the current
// set already matches.
func (b *buffers) allocate(shape kernel.Shape, pairs int) (bool, error) {
	if b.shape == shape && b.pairs == pairs {
		return false, nil
	}
	if err := b.session.Allocate(shape, pairs); err != nil {
		b.shape, b.pairs = kernel.Shape{}, 0
		return false, deviceError("allocate buffers", err)
	}
	b.shape, b.pairs = shape, pairs
	return true, nil
}

func (b *buffers) upload(grid []float32) error {
	if err := b.session.Upload(grid); err != nil {
		return deviceError("upload grid", err)
	}
	b.uploads++
	return nil
}

func (b *buffers) download(grid []float32) error {
	if err := b.session.Download(grid); err != nil {
		return deviceError("download grid", err)
	}
	b.downloads++
	return nil
}

func (b *buffers) bytes() int64 {
	return b.session.AllocatedBytes()
}
