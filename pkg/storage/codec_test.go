package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

func TestEncodeWeights(t *testing.T) {
	shape := kernel.Shape{Dimension: 4, Width: 8, Height: 8}
	smooth := make([]float32, shape.Floats())
	for i := range smooth {
		smooth[i] = float32(i % 4)
	}

	t.Run("zstd shrinks repetitive grids", func(t *testing.T) {
		blob, err := encodeWeights(shape, kernel.Manhattan, true, smooth, CompressionZSTD)
		require.NoError(t, err)
		assert.Less(t, len(blob), blobHeaderSize+4*len(smooth))

		h, got, err := decodeWeights(blob)
		require.NoError(t, err)
		assert.Equal(t, CompressionZSTD, h.Compression)
		assert.Equal(t, shape, h.Shape)
		assert.Equal(t, kernel.Manhattan, h.Metric)
		assert.True(t, h.Toroidal)
		assert.Equal(t, smooth, got)
	})

	t.Run("raw", func(t *testing.T) {
		blob, err := encodeWeights(shape, kernel.SquaredEuclidean, false, smooth, CompressionNone)
		require.NoError(t, err)
		assert.Len(t, blob, blobHeaderSize+4*len(smooth))
		h, got, err := decodeWeights(blob)
		require.NoError(t, err)
		assert.Equal(t, CompressionNone, h.Compression)
		assert.False(t, h.Toroidal)
		assert.Equal(t, smooth, got)
	})

	t.Run("incompressible falls back to raw", func(t *testing.T) {
		tiny := kernel.Shape{Dimension: 1, Width: 1, Height: 1}
		blob, err := encodeWeights(tiny, kernel.SquaredEuclidean, false, []float32{0.123}, CompressionZSTD)
		require.NoError(t, err)
		h, got, err := decodeWeights(blob)
		require.NoError(t, err)
		assert.Equal(t, CompressionNone, h.Compression)
		assert.Equal(t, []float32{0.123}, got)
	})

	t.Run("size mismatch", func(t *testing.T) {
		_, err := encodeWeights(shape, kernel.SquaredEuclidean, false, smooth[:3], CompressionNone)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestDecodeWeightsRejectsCorruption(t *testing.T) {
	shape := kernel.Shape{Dimension: 2, Width: 2, Height: 2}
	blob, err := encodeWeights(shape, kernel.SquaredEuclidean, false, make([]float32, 8), CompressionNone)
	require.NoError(t, err)

	corrupt := func(f func(b []byte) []byte) []byte {
		return f(append([]byte(nil), blob...))
	}
	cases := map[string][]byte{
		"short":       blob[:10],
		"magic":       corrupt(func(b []byte) []byte { b[0] = 'X'; return b }),
		"version":     corrupt(func(b []byte) []byte { b[4] = 9; return b }),
		"compression": corrupt(func(b []byte) []byte { b[5] = 7; return b }),
		"truncated":   blob[:len(blob)-4],
		"bad zstd":    corrupt(func(b []byte) []byte { b[5] = byte(CompressionZSTD); return b }),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := decodeWeights(data)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionZSTD, c)
	c, err = ParseCompression("NONE")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)
	assert.Equal(t, "zstd", CompressionZSTD.String())
	_, err = ParseCompression("lz4")
	assert.Error(t, err)
}
