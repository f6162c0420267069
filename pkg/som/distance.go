package som

import (
	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
	"github.com/orneryd/nornicsom/pkg/simd"
)

// minChunk is the fewest dimensions one lane of a chunked distance
// workgroup handles.
const minChunk = 16

// chunkedFloatsPerLane is the local memory per lane of the chunked distance
// kernel: running sum plus the two norms of the angle metric.
const chunkedFloatsPerLane = 3

// distanceLanes chooses the work partitioning of the distance kernel:
// 1 (one work-item per neuron) up to threshold dimensions, otherwise a
// power-of-two workgroup per neuron bounded by the reduction group and
// local memory.
func distanceLanes(dimension, threshold, group int, limits kernel.Limits) int {
	if dimension <= threshold {
		return 1
	}
	lanes := kernel.FloorPow2(max(dimension/minChunk, 2))
	lanes = min(lanes, group)
	if byMem := int(limits.LocalMemBytes / (4 * chunkedFloatsPerLane)); byMem > 0 {
		lanes = min(lanes, kernel.FloorPow2(byMem))
	}
	if lanes < 2 {
		return 1
	}
	return lanes
}

// distanceFunc is the host form of a metric, shared with the reference.
func distanceFunc(m kernel.Metric) func(a, b []float32) float32 {
	switch m {
	case kernel.Manhattan:
		return simd.Manhattan
	case kernel.Chebyshev:
		return simd.Chebyshev
	case kernel.SpectralAngle:
		return simd.SpectralAngle
	default:
		return simd.SquaredEuclidean
	}
}
