package kernel

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	tests := []struct {
		in   string
		want Metric
	}{
		{"", SquaredEuclidean},
		{"euclidean", SquaredEuclidean},
		{"L2", SquaredEuclidean},
		{"manhattan", Manhattan},
		{"chebyshev", Chebyshev},
		{"sam", SpectralAngle},
		{" Spectral-Angle ", SpectralAngle},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMetric(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseMetric("cosine-ish")
	assert.Error(t, err)

	for m := range metricNames {
		back, err := ParseMetric(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, back)
	}
	assert.False(t, Metric(42).Valid())
	assert.Equal(t, "metric(42)", Metric(42).String())
}

func TestPairOrdering(t *testing.T) {
	a := Pair{Value: 1, Index: 7}
	b := Pair{Value: 1, Index: 3}
	c := Pair{Value: 0.5, Index: 9}

	assert.True(t, Less(b, a), "equal values break ties by lower index")
	assert.False(t, Less(a, b))
	assert.True(t, Less(c, b))
	assert.Equal(t, b, Min(a, b))
	assert.Equal(t, b, Min(b, a))
	assert.Equal(t, c, Min(a, c))

	assert.True(t, Less(a, Sentinel))
	assert.Equal(t, a, Min(Sentinel, a))
}

func TestPairOrderingNaN(t *testing.T) {
	nan := Pair{Value: math32.NaN(), Index: 0}
	inf := Pair{Value: math32.Inf(1), Index: 5}
	one := Pair{Value: 1, Index: 9}

	assert.True(t, Less(one, nan))
	assert.False(t, Less(nan, one))
	assert.True(t, Less(inf, nan), "NaN ranks after +Inf")
	assert.True(t, Less(Sentinel, nan))
	assert.Equal(t, one, Min(nan, one))
	assert.Equal(t, Sentinel, Min(nan, Sentinel))

	other := Pair{Value: math32.NaN(), Index: 3}
	assert.True(t, Less(nan, other), "NaN ties break by index")
}

func TestShape(t *testing.T) {
	s := Shape{Dimension: 3, Width: 4, Height: 2}
	assert.True(t, s.Valid())
	assert.Equal(t, 8, s.Neurons())
	assert.Equal(t, 24, s.Floats())
	assert.Equal(t, (1*4+2)*3, s.Offset(2, 1))
	assert.Equal(t, "4x2x3", s.String())
	assert.False(t, Shape{Dimension: 0, Width: 1, Height: 1}.Valid())
}

func TestGroupMath(t *testing.T) {
	assert.Equal(t, 0, GroupCount(10, 0))
	assert.Equal(t, 1, GroupCount(1, 256))
	assert.Equal(t, 4, GroupCount(1024, 256))
	assert.Equal(t, 5, GroupCount(1025, 256))

	assert.Equal(t, 0, FloorPow2(0))
	assert.Equal(t, 1, FloorPow2(1))
	assert.Equal(t, 256, FloorPow2(300))
	assert.Equal(t, 1024, FloorPow2(1024))

	assert.Equal(t, 1, CeilPow2(0))
	assert.Equal(t, 16, CeilPow2(16))
	assert.Equal(t, 32, CeilPow2(17))
}

func TestCoefficient(t *testing.T) {
	assert.Equal(t, float32(0.5), Coefficient(0, 1, 0.5))
	assert.Equal(t, float32(1), Coefficient(0, 1e-30, 1), "winner ignores sigma underflow")
	assert.Equal(t, float32(0), Coefficient(1, 1e-3, 1))
	assert.InDelta(t, 0.60653, Coefficient(1, 1, 1), 1e-5)
	assert.Equal(t, 7, Update{Radius: 3}.Side())
}
