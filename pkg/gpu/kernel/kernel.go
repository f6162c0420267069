// Package kernel defines the data contract shared by every compute backend.
//
// A backend (host emulation, OpenCL, ...) executes three kernels against a
// device-resident neuron grid:
//
//   - distances: one scalar per neuron, comparing its weight vector with the
//     current query vector under a Metric
//   - argmin: a workgroup tree reduction over (value, index) Pairs
//   - update: the Gaussian-weighted neighborhood pull towards the query
//
// The types here carry no device state. They describe the launch geometry
// and the numeric rules all backends must agree on so results are
// bit-for-bit comparable between backends that use the same arithmetic.
package kernel

import (
	"fmt"
	"math"
	"strings"

	"github.com/chewxy/math32"
)

// Metric selects the distance function computed by the distances kernel.
type Metric int32

const (
	// SquaredEuclidean is sum((w-x)^2). Default.
	SquaredEuclidean Metric = iota
	// Manhattan is sum(|w-x|).
	Manhattan
	// Chebyshev is max(|w-x|).
	Chebyshev
	// SpectralAngle is acos(w·x / (|w||x|)), the spectral angle mapper
	// measure used for hyperspectral pixels.
	SpectralAngle
)

var metricNames = map[Metric]string{
	SquaredEuclidean: "euclidean",
	Manhattan:        "manhattan",
	Chebyshev:        "chebyshev",
	SpectralAngle:    "spectral-angle",
}

func (m Metric) String() string {
	if name, ok := metricNames[m]; ok {
		return name
	}
	return fmt.Sprintf("metric(%d)", int32(m))
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	_, ok := metricNames[m]
	return ok
}

// ParseMetric accepts the names returned by Metric.String plus a few aliases.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "euclidean", "l2", "squared-euclidean":
		return SquaredEuclidean, nil
	case "manhattan", "l1", "cityblock":
		return Manhattan, nil
	case "chebyshev", "linf", "max":
		return Chebyshev, nil
	case "spectral-angle", "sam", "angle":
		return SpectralAngle, nil
	}
	return 0, fmt.Errorf("kernel: unknown metric %q", s)
}

// Shape is the (dimension, width, height) tuple device buffers are sized for.
type Shape struct {
	Dimension int
	Width     int
	Height    int
}

// Neurons returns Width*Height.
func (s Shape) Neurons() int { return s.Width * s.Height }

// Floats returns the number of float32 values in the flattened grid.
func (s Shape) Floats() int { return s.Neurons() * s.Dimension }

// Offset returns the flattened float offset of neuron (x, y).
func (s Shape) Offset(x, y int) int { return (y*s.Width + x) * s.Dimension }

// Valid reports whether every extent is positive.
func (s Shape) Valid() bool {
	return s.Dimension > 0 && s.Width > 0 && s.Height > 0
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Width, s.Height, s.Dimension)
}

// Pair is one (value, index) element of the argmin reduction.
// The layout matches the device struct: float32 followed by int32.
type Pair struct {
	Value float32
	Index int32
}

// PairBytes is the size of a Pair in device memory.
const PairBytes = 8

// Sentinel pads partial workgroups. It loses every comparison against a
// finite value and every tie against a real index.
var Sentinel = Pair{Value: math32.Inf(1), Index: math.MaxInt32}

// Less orders pairs by value, then by lowest index. NaN sorts after every
// number, +Inf and the sentinel included.
func Less(a, b Pair) bool {
	aNaN, bNaN := math32.IsNaN(a.Value), math32.IsNaN(b.Value)
	if aNaN != bNaN {
		return bNaN
	}
	if !aNaN && a.Value != b.Value {
		return a.Value < b.Value
	}
	return a.Index < b.Index
}

// Min returns the winning pair of a and b.
func Min(a, b Pair) Pair {
	if Less(b, a) {
		return b
	}
	return a
}

// Limits are the device properties the reduction geometry is negotiated
// against. Byte sizes are int64 since discrete GPUs exceed 2 GiB.
type Limits struct {
	MaxWorkGroupSize           int
	PreferredWorkGroupMultiple int
	LocalMemBytes              int64
	GlobalMemBytes             int64
	MaxAllocBytes              int64
	ComputeUnits               int
}

// Update describes one neighborhood update launch. The window is
// (2*Radius+1)^2 neurons centered on (X, Y).
type Update struct {
	X, Y      int
	Radius    int
	Sigma     float32
	LearnRate float32
	Toroidal  bool
}

// Side is the window edge length, 2*Radius+1.
func (u Update) Side() int { return 2*u.Radius + 1 }

// Coefficient is the per-neuron pull a = lr * exp(-d2 / (2*sigma^2)).
// The winner (d2 == 0) always gets exactly lr, even when sigma^2 underflows.
func Coefficient(d2 int, sigma, learnRate float32) float32 {
	if d2 == 0 {
		return learnRate
	}
	return learnRate * math32.Exp(-float32(d2)/(2*sigma*sigma))
}

// GroupCount is ceil(n / group).
func GroupCount(n, group int) int {
	if group <= 0 {
		return 0
	}
	return (n + group - 1) / group
}

// FloorPow2 returns the largest power of two <= n, or 0 for n < 1.
func FloorPow2(n int) int {
	if n < 1 {
		return 0
	}
	p := 1
	for p<<1 <= n && p<<1 > 0 {
		p <<= 1
	}
	return p
}

// CeilPow2 returns the smallest power of two >= n, or 1 for n < 1.
func CeilPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
