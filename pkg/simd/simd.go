package simd

import "github.com/chewxy/math32"

// Implementation represents the active SIMD implementation
type Implementation string

const (
	// ImplGeneric indicates pure Go fallback (no SIMD)
	ImplGeneric Implementation = "generic"
	// ImplAVX2 indicates x86 AVX2+FMA SIMD
	ImplAVX2 Implementation = "avx2"
	// ImplNEON indicates ARM NEON SIMD
	ImplNEON Implementation = "neon"
)

// RuntimeInfo contains information about the active SIMD implementation
type RuntimeInfo struct {
	// Implementation is the active SIMD backend
	Implementation Implementation
	// Features lists specific CPU features being used
	Features []string
	// Accelerated indicates whether SIMD acceleration is active
	Accelerated bool
}

// DotProduct computes sum(a[i] * b[i]).
//
// Returns 0 if vectors are empty or have different lengths.
//
// Example:
//
//	a := []float32{1, 2, 3}
//	b := []float32{4, 5, 6}
//	result := simd.DotProduct(a, b) // 1*4 + 2*5 + 3*6 = 32
func DotProduct(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return dotProduct(a, b)
}

// SquaredEuclidean computes sum((a[i] - b[i])^2).
//
// This is the SOM winner metric: it orders neurons the same way as the
// Euclidean distance without paying for the square root.
//
// Returns 0 if vectors are empty or have different lengths.
//
// Example:
//
//	a := []float32{0, 0}
//	b := []float32{3, 4}
//	result := simd.SquaredEuclidean(a, b) // 25
func SquaredEuclidean(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return squaredEuclidean(a, b)
}

// Manhattan computes sum(|a[i] - b[i]|).
func Manhattan(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return manhattan(a, b)
}

// Chebyshev computes max(|a[i] - b[i]|).
func Chebyshev(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var m float32
	for i := range a {
		d := math32.Abs(a[i] - b[i])
		if d > m {
			m = d
		}
	}
	return m
}

// Norm computes the Euclidean norm sqrt(sum(v[i]^2)).
//
// Example:
//
//	v := []float32{3, 4}
//	result := simd.Norm(v) // 5.0
func Norm(v []float32) float32 {
	return norm(v)
}

// SpectralAngle computes acos(a·b / (|a||b|)) in radians, in [0, pi].
//
// A zero vector has no direction; the angle to it is defined as pi/2.
func SpectralAngle(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return AngleFromParts(dotProduct(a, b), norm(a), norm(b))
}

// AngleFromParts finishes a spectral angle from its dot product and norms.
// Split out so chunked kernels can combine partial sums first.
func AngleFromParts(dot, normA, normB float32) float32 {
	if normA == 0 || normB == 0 {
		return math32.Pi / 2
	}
	c := dot / (normA * normB)
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math32.Acos(c)
}

// Lerp moves dst towards x in place: dst[i] = dst[i]*(1-t) + x[i]*t.
//
// t == 1 copies x exactly and t == 0 leaves dst untouched, which the
// two-term form guarantees and the w + t*(x-w) form does not.
func Lerp(dst, x []float32, t float32) {
	if len(dst) != len(x) || t == 0 {
		return
	}
	lerp(dst, x, t)
}

// Info returns information about the active SIMD implementation.
//
// Example:
//
//	info := simd.Info()
//	if info.Accelerated {
//	    fmt.Printf("Using %s SIMD\n", info.Implementation)
//	}
func Info() RuntimeInfo {
	return runtimeInfo()
}
