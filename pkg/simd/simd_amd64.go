//go:build amd64 && !nosimd

package simd

import (
	"math"

	"golang.org/x/sys/cpu"
)

// x86/amd64 optimized implementations.
// Uses loop unrolling that the Go compiler can auto-vectorize with AVX2/SSE.

// hasAVX2 checks if the CPU supports AVX2+FMA at runtime
var hasAVX2 = cpu.X86.HasAVX2 && cpu.X86.HasFMA

func dotProduct(a, b []float32) float32 {
	n := len(a)
	if n == 0 {
		return 0
	}

	// 8-way unrolling for better auto-vectorization with AVX2 (256-bit = 8 float32s)
	var s0, s1, s2, s3, s4, s5, s6, s7 float32

	i := 0
	for ; i <= n-8; i += 8 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
		s4 += a[i+4] * b[i+4]
		s5 += a[i+5] * b[i+5]
		s6 += a[i+6] * b[i+6]
		s7 += a[i+7] * b[i+7]
	}

	for ; i < n; i++ {
		s0 += a[i] * b[i]
	}

	return s0 + s1 + s2 + s3 + s4 + s5 + s6 + s7
}

func squaredEuclidean(a, b []float32) float32 {
	n := len(a)
	var s0, s1, s2, s3, s4, s5, s6, s7 float32

	i := 0
	for ; i <= n-8; i += 8 {
		d0 := a[i] - b[i]
		d1 := a[i+1] - b[i+1]
		d2 := a[i+2] - b[i+2]
		d3 := a[i+3] - b[i+3]
		d4 := a[i+4] - b[i+4]
		d5 := a[i+5] - b[i+5]
		d6 := a[i+6] - b[i+6]
		d7 := a[i+7] - b[i+7]
		s0 += d0 * d0
		s1 += d1 * d1
		s2 += d2 * d2
		s3 += d3 * d3
		s4 += d4 * d4
		s5 += d5 * d5
		s6 += d6 * d6
		s7 += d7 * d7
	}

	for ; i < n; i++ {
		d := a[i] - b[i]
		s0 += d * d
	}

	return s0 + s1 + s2 + s3 + s4 + s5 + s6 + s7
}

func manhattan(a, b []float32) float32 {
	n := len(a)
	var s0, s1, s2, s3 float32

	i := 0
	for ; i <= n-4; i += 4 {
		s0 += abs32(a[i] - b[i])
		s1 += abs32(a[i+1] - b[i+1])
		s2 += abs32(a[i+2] - b[i+2])
		s3 += abs32(a[i+3] - b[i+3])
	}

	for ; i < n; i++ {
		s0 += abs32(a[i] - b[i])
	}

	return s0 + s1 + s2 + s3
}

func norm(v []float32) float32 {
	n := len(v)
	if n == 0 {
		return 0
	}
	var s0, s1, s2, s3 float32

	i := 0
	for ; i <= n-4; i += 4 {
		s0 += v[i] * v[i]
		s1 += v[i+1] * v[i+1]
		s2 += v[i+2] * v[i+2]
		s3 += v[i+3] * v[i+3]
	}

	for ; i < n; i++ {
		s0 += v[i] * v[i]
	}

	return float32(math.Sqrt(float64(s0 + s1 + s2 + s3)))
}

func lerp(dst, x []float32, t float32) {
	keep := 1 - t
	n := len(dst)

	i := 0
	for ; i <= n-4; i += 4 {
		dst[i] = dst[i]*keep + x[i]*t
		dst[i+1] = dst[i+1]*keep + x[i+1]*t
		dst[i+2] = dst[i+2]*keep + x[i+2]*t
		dst[i+3] = dst[i+3]*keep + x[i+3]*t
	}

	for ; i < n; i++ {
		dst[i] = dst[i]*keep + x[i]*t
	}
}

func abs32(f float32) float32 {
	return math.Float32frombits(math.Float32bits(f) &^ (1 << 31))
}

func runtimeInfo() RuntimeInfo {
	if hasAVX2 {
		return RuntimeInfo{
			Implementation: ImplAVX2,
			Features:       []string{"avx2", "fma", "auto-vectorized"},
			Accelerated:    true,
		}
	}
	return RuntimeInfo{
		Implementation: ImplGeneric,
		Features:       []string{"sse2"},
		Accelerated:    false,
	}
}
