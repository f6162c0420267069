package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	in := "red, nir\n# comment\n0.1,0.5\n\n0.2, 0.6\n"
	set, err := Read(strings.NewReader(in), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, []string{"red", "nir"}, set.Header)
	assert.Equal(t, [][]float32{{0.1, 0.5}, {0.2, 0.6}}, set.Vectors)
	assert.Equal(t, 2, set.Dimension())
}

func TestReadCSVWithoutHeader(t *testing.T) {
	set, err := Read(strings.NewReader("1,2,3\n4,5,6\n"), FormatCSV)
	require.NoError(t, err)
	assert.Nil(t, set.Header)
	assert.Len(t, set.Vectors, 2)
}

func TestReadJSONL(t *testing.T) {
	set, err := Read(strings.NewReader("[1, 2]\n\n[3.5, -4]\n"), FormatJSONL)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {3.5, -4}}, set.Vectors)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		format Format
	}{
		{"ragged csv", "1,2\n3\n", FormatCSV},
		{"bad number after data", "1,2\nx,3\n", FormatCSV},
		{"header width", "a,b,c\n1,2\n", FormatCSV},
		{"ragged jsonl", "[1,2]\n[3]\n", FormatJSONL},
		{"bad json", "[1,2\n", FormatJSONL},
		{"unknown format", "", Format("parquet")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.in), tt.format)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pixels.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("[0,1]\n[1,0]\n"), 0o644))

	set, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, set.Vectors, 2)

	_, err = Load(filepath.Join(dir, "absent.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Equal(t, FormatCSV, FormatFor("x.txt"))
	assert.Equal(t, FormatJSONL, FormatFor("x.JSONL"))
	assert.Equal(t, 0, (&Set{}).Dimension())
}
