package som

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/orneryd/nornicsom/pkg/gpu"
	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

// negotiateGroup picks the reduction workgroup size once per session: the
// largest power of two allowed by the device group limit, by local memory
// for one (value, index) pair per item, and by the configured cap.
func negotiateGroup(limits kernel.Limits, maxGroup int) int {
	g := limits.MaxWorkGroupSize
	if byMem := int(limits.LocalMemBytes / kernel.PairBytes); byMem > 0 && byMem < g {
		g = byMem
	}
	if maxGroup > 0 && maxGroup < g {
		g = maxGroup
	}
	return max(kernel.FloorPow2(g), 1)
}

// reducer finishes the argmin of a session's distance buffer.
type reducer struct {
	group         int
	hostThreshold int
	partials      []kernel.Pair

	devicePasses   int64
	hostReductions int64
}

func newReducer(group, hostThreshold int) *reducer {
	return &reducer{
		group:         group,
		hostThreshold: max(hostThreshold, 1),
	}
}

// scratchPairs is the stage-1 partial count for neurons distances, the
// largest any pass produces.
func (r *reducer) scratchPairs(neurons int) int {
	return kernel.GroupCount(neurons, r.group)
}

// argmin runs stage 1 on the device, then more device passes while the
// partial count exceeds the host threshold, then a linear scan on the host.
func (r *reducer) argmin(s *gpu.Session) (kernel.Pair, error) {
	n, err := s.ReduceDistances(r.group)
	if err != nil {
		return kernel.Pair{}, deviceError("reduce distances", err)
	}
	for n > r.hostThreshold && r.group > 1 {
		n, err = s.ReducePartials(n, r.group)
		if err != nil {
			return kernel.Pair{}, deviceError("reduce partials", err)
		}
		r.devicePasses++
	}

	if cap(r.partials) < n {
		r.partials = make([]kernel.Pair, n)
	}
	partials := r.partials[:n]
	if err := s.ReadPartials(partials); err != nil {
		return kernel.Pair{}, deviceError("read partials", err)
	}
	r.hostReductions++

	best := kernel.Sentinel
	for _, p := range partials {
		best = kernel.Min(best, p)
	}
	if math32.IsInf(best.Value, 1) || math32.IsNaN(best.Value) {
		return kernel.Pair{}, fmt.Errorf("%w: all %d distances are infinite", ErrNoWinner, s.Shape().Neurons())
	}
	return best, nil
}
