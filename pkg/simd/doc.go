// Package simd provides SIMD-accelerated float32 vector kernels for the SOM
// host compute path.
//
// Implementations are selected at build time per architecture:
//
//   - x86/amd64: 8-way unrolled loops the compiler vectorizes (AVX2 + FMA
//     detected at runtime through golang.org/x/sys/cpu)
//   - arm64: NEON assembly from github.com/viterin/vek
//   - fallback: vek pure Go kernels for all other platforms
//
// Build with -tags nosimd to force the scalar fallback everywhere.
//
// # Supported Operations
//
//   - SquaredEuclidean: sum((a-b)^2), the default SOM distance
//   - Manhattan: sum(|a-b|)
//   - Chebyshev: max(|a-b|)
//   - DotProduct / Norm: building blocks of the spectral angle
//   - SpectralAngle: acos of the cosine between a and b
//   - Lerp: the in-place neighborhood pull w = w*(1-t) + x*t
//
// # Usage
//
//	import "github.com/orneryd/nornicsom/pkg/simd"
//
//	w := []float32{0, 0, 0}
//	x := []float32{1, 2, 2}
//
//	d := simd.SquaredEuclidean(w, x) // 9
//	simd.Lerp(w, x, 0.5)             // w is now {0.5, 1, 1}
//
// # Thread Safety
//
// All functions are safe for concurrent use on disjoint destination slices.
//
// # Precision
//
// Everything accumulates in float32, matching what device kernels compute.
// The unrolled accumulation order differs from a naive loop, so results may
// differ from a sequential sum in the last ulp.
package simd
