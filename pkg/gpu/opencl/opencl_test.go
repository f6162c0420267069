package opencl

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

func TestProgramSourceDeclaresKernels(t *testing.T) {
	for _, name := range kernelNames {
		assert.Contains(t, programSource, "__kernel void "+name+"(", name)
	}
	// Metric ids are baked into the program.
	assert.Contains(t, programSource, "#define METRIC_SQUARED_EUCLIDEAN 0")
	assert.Equal(t, kernel.Metric(0), kernel.SquaredEuclidean)
	assert.Contains(t, programSource, "#define METRIC_SPECTRAL_ANGLE    3")
	assert.Equal(t, kernel.Metric(3), kernel.SpectralAngle)
	assert.False(t, strings.Contains(programSource, "fast-relaxed"), "reductions rely on INFINITY")
}

func TestStatusErrors(t *testing.T) {
	assert.NoError(t, check("clFinish", CL_SUCCESS))

	err := check("clCreateBuffer", CL_MEM_OBJECT_ALLOCATION_FAILURE)
	require.Error(t, err)
	assert.Equal(t, int32(CL_MEM_OBJECT_ALLOCATION_FAILURE), Code(err))
	assert.True(t, IsOutOfMemory(err))
	assert.True(t, IsOutOfMemory(errors.Join(ErrBufferCreation, err)))
	assert.False(t, IsOutOfMemory(check("clBuildProgram", CL_BUILD_PROGRAM_FAILURE)))
	assert.Equal(t, int32(0), Code(errors.New("other")))
}

func openOrSkip(t *testing.T) *Device {
	t.Helper()
	if !IsAvailable() {
		t.Skip("OpenCL runtime not available")
	}
	d, err := NewDevice(0)
	if err != nil {
		t.Skipf("OpenCL device could not be opened: %v", err)
	}
	t.Cleanup(func() { _ = d.Release() })
	return d
}

func TestDeviceArgMin(t *testing.T) {
	d := openOrSkip(t)
	shape := kernel.Shape{Dimension: 1, Width: 100, Height: 10}
	require.NoError(t, d.Allocate(shape, shape.Neurons()))

	grid := make([]float32, shape.Neurons())
	for i := range grid {
		grid[i] = 3 + float32(i%7)
	}
	grid[417], grid[900] = -1, 1
	require.NoError(t, d.WriteGrid(grid))
	require.NoError(t, d.WriteQuery([]float32{0}))
	require.NoError(t, d.Distances(kernel.SquaredEuclidean, 1))

	group := kernel.FloorPow2(min(64, d.Limits().MaxWorkGroupSize))
	n, err := d.ReduceDistances(group)
	require.NoError(t, err)
	for n > 1 {
		n, err = d.ReducePartials(n, group)
		require.NoError(t, err)
	}
	out := make([]kernel.Pair, 1)
	require.NoError(t, d.ReadPartials(out))
	assert.Equal(t, kernel.Pair{Value: 1, Index: 417}, out[0])
}

func TestDeviceUpdate(t *testing.T) {
	d := openOrSkip(t)
	shape := kernel.Shape{Dimension: 2, Width: 4, Height: 4}
	require.NoError(t, d.Allocate(shape, shape.Neurons()))
	require.NoError(t, d.WriteGrid(make([]float32, shape.Floats())))
	require.NoError(t, d.WriteQuery([]float32{1, 2}))
	require.NoError(t, d.Update(kernel.Update{X: 1, Y: 1, Radius: 1, Sigma: 1, LearnRate: 1}))
	require.NoError(t, d.Finish())

	grid := make([]float32, shape.Floats())
	require.NoError(t, d.ReadGrid(grid))
	assert.Equal(t, []float32{1, 2}, grid[shape.Offset(1, 1):shape.Offset(1, 1)+2])
	assert.InDelta(t, math.Exp(-0.5), grid[shape.Offset(2, 1)], 1e-5)
	assert.Equal(t, float32(0), grid[shape.Offset(3, 3)])
}
