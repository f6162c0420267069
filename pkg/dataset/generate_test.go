package dataset

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateClustered(t *testing.T) {
	opts := GenerateOptions{Count: 103, Dimension: 4, Clusters: 5, StdDev: 0.01, Seed: 3}
	set, labels, err := Generate(opts)
	require.NoError(t, err)
	require.Len(t, set.Vectors, 103)
	require.Len(t, labels, 103)
	assert.Equal(t, 4, set.Dimension())

	counts := map[int]int{}
	for _, l := range labels {
		counts[l]++
	}
	assert.Len(t, counts, 5)
	assert.Equal(t, 20+3, counts[4], "last cluster takes the remainder")

	again, againLabels, err := Generate(opts)
	require.NoError(t, err)
	assert.Equal(t, set.Vectors, again.Vectors)
	assert.Equal(t, labels, againLabels)
}

func TestGenerateUniform(t *testing.T) {
	set, labels, err := Generate(GenerateOptions{Count: 10, Dimension: 2, Seed: 1})
	require.NoError(t, err)
	for i, v := range set.Vectors {
		assert.Equal(t, -1, labels[i])
		for _, f := range v {
			assert.True(t, f >= 0 && f < 1)
		}
	}

	_, _, err = Generate(GenerateOptions{Count: 0, Dimension: 2})
	assert.ErrorIs(t, err, ErrFormat)
	_, _, err = Generate(GenerateOptions{Count: 2, Dimension: 2, Clusters: 3})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestWriteReadsBack(t *testing.T) {
	set, _, err := Generate(GenerateOptions{Count: 12, Dimension: 3, Clusters: 2, StdDev: 0.1, Seed: 9})
	require.NoError(t, err)
	set.Header = []string{"a", "b", "c"}

	for _, format := range []Format{FormatCSV, FormatJSONL} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, set, format))
			got, err := Read(&buf, format)
			require.NoError(t, err)
			assert.Equal(t, set.Vectors, got.Vectors)
			if format == FormatCSV {
				assert.Equal(t, set.Header, got.Header)
			}
		})
	}
	assert.ErrorIs(t, Write(&bytes.Buffer{}, set, Format("xml")), ErrFormat)
}
