//go:build arm64 && !nosimd

package simd

import (
	"github.com/viterin/vek/vek32"
)

// ARM64 NEON implementations using the viterin/vek SIMD library.

func dotProduct(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Dot(a, b)
}

func squaredEuclidean(a, b []float32) float32 {
	d := vek32.Distance(a, b)
	return d * d
}

func manhattan(a, b []float32) float32 {
	return vek32.ManhattanDistance(a, b)
}

func norm(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	return vek32.Norm(v)
}

func lerp(dst, x []float32, t float32) {
	keep := 1 - t
	for i := range dst {
		dst[i] = dst[i]*keep + x[i]*t
	}
}

func runtimeInfo() RuntimeInfo {
	info := vek32.Info()
	if info.Acceleration {
		return RuntimeInfo{
			Implementation: ImplNEON,
			Features:       info.CPUFeatures,
			Accelerated:    true,
		}
	}
	return RuntimeInfo{
		Implementation: ImplGeneric,
		Features:       info.CPUFeatures,
		Accelerated:    false,
	}
}
