//go:build (!amd64 && !arm64) || nosimd

package simd

import (
	"github.com/viterin/vek/vek32"
)

// Generic fallback implementations using the viterin/vek library.
// On platforms without AVX2/NEON, vek32 uses pure Go kernels.

func dotProduct(a, b []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Dot(a, b)
}

func squaredEuclidean(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
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
	return RuntimeInfo{
		Implementation: ImplGeneric,
		Features:       info.CPUFeatures,
		Accelerated:    info.Acceleration,
	}
}
