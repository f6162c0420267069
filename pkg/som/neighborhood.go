package som

import (
	"fmt"
	"math"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

// RadiusFunc maps sigma to an update radius. It must be monotonic
// non-decreasing in sigma. Results are capped by the engine.
type RadiusFunc func(sigma float32) int

// DefaultCutoff is the neighborhood weight below which GaussianCutoff
// stops the update window.
const DefaultCutoff = 1e-3

// GaussianCutoff returns the largest radius whose neighborhood weight
// exp(-r²/2σ²) is still at least eps: floor(σ·sqrt(2·ln(1/eps))).
// eps outside (0,1) uses DefaultCutoff.
func GaussianCutoff(eps float64) RadiusFunc {
	if !(eps > 0 && eps < 1) {
		eps = DefaultCutoff
	}
	k := math.Sqrt(2 * math.Log(1/eps))
	return func(sigma float32) int {
		return clampRadius(float64(sigma) * k)
	}
}

// LinearRadius returns floor(scale·σ).
func LinearRadius(scale float64) RadiusFunc {
	return func(sigma float32) int {
		return clampRadius(float64(sigma) * scale)
	}
}

// FixedRadius ignores sigma.
func FixedRadius(r int) RadiusFunc {
	if r < 0 {
		r = 0
	}
	return func(float32) int { return r }
}

func clampRadius(r float64) int {
	if !(r > 0) {
		return 0
	}
	if r > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Floor(r))
}

// ParseRadius builds a RadiusFunc from its configuration form:
// "gaussian" (with eps), "linear" (with scale) or "fixed" (with radius).
func ParseRadius(kind string, param float64) (RadiusFunc, error) {
	switch kind {
	case "", "gaussian":
		return GaussianCutoff(param), nil
	case "linear":
		if !(param > 0) {
			return nil, configError("linear radius scale must be positive, got %v", param)
		}
		return LinearRadius(param), nil
	case "fixed":
		if param < 0 {
			return nil, configError("fixed radius must be non-negative, got %v", param)
		}
		return FixedRadius(int(param)), nil
	}
	return nil, configError("unknown radius mapping %q", kind)
}

// maxRadius caps a radius for a grid: the half-diagonal, and for toroidal
// grids the largest window that does not wrap onto itself.
func maxRadius(shape kernel.Shape, toroidal bool) int {
	w, h := float64(shape.Width), float64(shape.Height)
	r := int(math.Ceil(math.Sqrt(w*w+h*h) / 2))
	if toroidal {
		r = min(r, (min(shape.Width, shape.Height)-1)/2)
	}
	return r
}

// updateParams validates an update request and derives its launch.
func updateParams(cfg Config, winner Coord, vec []float32, sigma, learnRate float32) (kernel.Update, error) {
	shape := cfg.Shape()
	if err := checkVector(shape, vec); err != nil {
		return kernel.Update{}, err
	}
	if winner.X < 0 || winner.X >= shape.Width || winner.Y < 0 || winner.Y >= shape.Height {
		return kernel.Update{}, fmt.Errorf("%w: winner %s outside %dx%d grid", ErrOutOfRange, winner, shape.Width, shape.Height)
	}
	if !(sigma > 0) || math.IsInf(float64(sigma), 0) {
		return kernel.Update{}, fmt.Errorf("%w: sigma must be positive and finite, got %v", ErrOutOfRange, sigma)
	}
	if !(learnRate > 0 && learnRate <= 1) {
		return kernel.Update{}, fmt.Errorf("%w: learn rate must be in (0,1], got %v", ErrOutOfRange, learnRate)
	}
	return kernel.Update{
		X:         winner.X,
		Y:         winner.Y,
		Radius:    radiusFor(cfg, sigma),
		Sigma:     sigma,
		LearnRate: learnRate,
		Toroidal:  cfg.Toroidal,
	}, nil
}

func radiusFor(cfg Config, sigma float32) int {
	r := cfg.Radius(sigma)
	if r < 0 {
		r = 0
	}
	return min(r, maxRadius(cfg.Shape(), cfg.Toroidal))
}
