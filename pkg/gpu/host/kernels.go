package host

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
	"github.com/orneryd/nornicsom/pkg/simd"
)

// Distances fills the distance buffer with metric(neuron, query).
//
// lanes <= 1 launches one work-item per neuron. lanes > 1 launches one
// workgroup of that many items per neuron; each item owns a contiguous
// chunk of dimensions and the partials are folded by a local tree
// reduction (sum, or max for Chebyshev).
func (d *Device) Distances(metric kernel.Metric, lanes int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if !metric.Valid() {
		return fmt.Errorf("%w: %v", ErrUnsupportedKind, metric)
	}

	if lanes <= 1 {
		d.distancesSimple(metric)
		return nil
	}
	if err := d.checkGroup(lanes); err != nil {
		return err
	}
	d.distancesChunked(metric, lanes)
	return nil
}

func (d *Device) distancesSimple(metric kernel.Metric) {
	dim := d.shape.Dimension
	n := d.shape.Neurons()
	group := d.limits.MaxWorkGroupSize
	q := d.query

	d.dispatch(kernel.GroupCount(n, group), func(g int) {
		lo, hi := g*group, min((g+1)*group, n)
		for i := lo; i < hi; i++ {
			w := d.grid[i*dim : (i+1)*dim]
			switch metric {
			case kernel.SquaredEuclidean:
				d.distances[i] = simd.SquaredEuclidean(w, q)
			case kernel.Manhattan:
				d.distances[i] = simd.Manhattan(w, q)
			case kernel.Chebyshev:
				d.distances[i] = simd.Chebyshev(w, q)
			case kernel.SpectralAngle:
				d.distances[i] = simd.SpectralAngle(w, q)
			}
		}
	})
}

func (d *Device) distancesChunked(metric kernel.Metric, lanes int) {
	dim := d.shape.Dimension
	chunk := (dim + lanes - 1) / lanes
	q := d.query

	d.dispatch(d.shape.Neurons(), func(neuron int) {
		w := d.grid[neuron*dim : (neuron+1)*dim]
		// Local memory: one accumulator per lane, three for the angle.
		acc := make([]float32, lanes)
		var ww, qq []float32
		if metric == kernel.SpectralAngle {
			ww = make([]float32, lanes)
			qq = make([]float32, lanes)
		}

		for lane := 0; lane < lanes; lane++ {
			lo := min(lane*chunk, dim)
			hi := min(lo+chunk, dim)
			if lo == hi {
				continue
			}
			wc, qc := w[lo:hi], q[lo:hi]
			switch metric {
			case kernel.SquaredEuclidean:
				acc[lane] = simd.SquaredEuclidean(wc, qc)
			case kernel.Manhattan:
				acc[lane] = simd.Manhattan(wc, qc)
			case kernel.Chebyshev:
				acc[lane] = simd.Chebyshev(wc, qc)
			case kernel.SpectralAngle:
				acc[lane] = simd.DotProduct(wc, qc)
				ww[lane] = simd.DotProduct(wc, wc)
				qq[lane] = simd.DotProduct(qc, qc)
			}
		}

		for stride := lanes / 2; stride > 0; stride >>= 1 {
			for lane := 0; lane < stride; lane++ {
				if metric == kernel.Chebyshev {
					acc[lane] = math32.Max(acc[lane], acc[lane+stride])
					continue
				}
				acc[lane] += acc[lane+stride]
				if metric == kernel.SpectralAngle {
					ww[lane] += ww[lane+stride]
					qq[lane] += qq[lane+stride]
				}
			}
		}

		if metric == kernel.SpectralAngle {
			d.distances[neuron] = simd.AngleFromParts(acc[0], math32.Sqrt(ww[0]), math32.Sqrt(qq[0]))
			return
		}
		d.distances[neuron] = acc[0]
	})
}

// ReduceDistances is stage 1 of the argmin: every workgroup of size group
// folds its slice of the distance buffer into one pair. Returns the number
// of partials written.
func (d *Device) ReduceDistances(group int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return 0, err
	}
	if err := d.checkGroup(group); err != nil {
		return 0, err
	}

	n := len(d.distances)
	groups := kernel.GroupCount(n, group)
	if groups > len(d.partials[0]) {
		return 0, fmt.Errorf("%w: %d groups, scratch holds %d", ErrBufferSize, groups, len(d.partials[0]))
	}

	out := d.partials[0]
	d.dispatch(groups, func(g int) {
		local := make([]kernel.Pair, group)
		base := g * group
		for l := range local {
			if i := base + l; i < n {
				local[l] = kernel.Pair{Value: d.distances[i], Index: int32(i)}
			} else {
				local[l] = kernel.Sentinel
			}
		}
		out[g] = treeMin(local)
	})
	d.current = 0
	return groups, nil
}

// ReducePartials reduces the first n pairs of the current scratch buffer
// into the other one with the same tree pattern, and makes that the
// current buffer. Returns the number of pairs written.
func (d *Device) ReducePartials(n, group int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return 0, err
	}
	if err := d.checkGroup(group); err != nil {
		return 0, err
	}
	src := d.partials[d.current]
	if n < 1 || n > len(src) {
		return 0, fmt.Errorf("%w: %d partials requested, %d allocated", ErrBufferSize, n, len(src))
	}

	groups := kernel.GroupCount(n, group)
	dst := d.partials[1-d.current]
	d.dispatch(groups, func(g int) {
		local := make([]kernel.Pair, group)
		base := g * group
		for l := range local {
			if i := base + l; i < n {
				local[l] = src[i]
			} else {
				local[l] = kernel.Sentinel
			}
		}
		dst[g] = treeMin(local)
	})
	d.current = 1 - d.current
	return groups, nil
}

// treeMin folds a power-of-two sized local array in log2(len) steps.
// Each step halves the active range, as work-items would between barriers.
func treeMin(local []kernel.Pair) kernel.Pair {
	for stride := len(local) / 2; stride > 0; stride >>= 1 {
		for l := 0; l < stride; l++ {
			local[l] = kernel.Min(local[l], local[l+stride])
		}
	}
	return local[0]
}

// Update applies the neighborhood rule to the (2R+1)^2 window around the
// winner. One work-item per window cell, dimensions looped inside.
func (d *Device) Update(u kernel.Update) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	w, h := d.shape.Width, d.shape.Height
	if u.X < 0 || u.X >= w || u.Y < 0 || u.Y >= h || u.Radius < 0 {
		return fmt.Errorf("%w: update at (%d,%d) radius %d on %dx%d grid", ErrInvalidLaunch, u.X, u.Y, u.Radius, w, h)
	}

	side := u.Side()
	if u.Toroidal && (side > w || side > h) {
		return fmt.Errorf("%w: toroidal window %d wraps onto itself on %dx%d grid", ErrInvalidLaunch, side, w, h)
	}
	dim := d.shape.Dimension
	// One row of the window per workgroup: rows touch disjoint neurons.
	d.dispatch(side, func(row int) {
		dy := row - u.Radius
		y := u.Y + dy
		if u.Toroidal {
			y = wrap(y, h)
		} else if y < 0 || y >= h {
			return
		}
		for col := 0; col < side; col++ {
			dx := col - u.Radius
			x := u.X + dx
			if u.Toroidal {
				x = wrap(x, w)
			} else if x < 0 || x >= w {
				continue
			}
			a := kernel.Coefficient(dx*dx+dy*dy, u.Sigma, u.LearnRate)
			off := (y*w + x) * dim
			simd.Lerp(d.grid[off:off+dim], d.query, a)
		}
	})
	return nil
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}
