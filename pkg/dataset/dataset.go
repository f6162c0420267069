// Package dataset reads training and query vectors from CSV or JSON-lines
// files.
//
// CSV rows are one vector each; a first row that does not parse as numbers
// is treated as a header. JSON-lines files hold one array of numbers per
// line. Blank lines are skipped in both.
package dataset

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrFormat reports malformed input.
var ErrFormat = errors.New("dataset: malformed input")

// Format names an input encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// FormatFor guesses a format from a file extension, defaulting to CSV.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL
	}
	return FormatCSV
}

// Set is a list of equal-length vectors plus the CSV header, if any.
type Set struct {
	Header  []string
	Vectors [][]float32
}

// Dimension returns the vector length, or 0 for an empty set.
func (s *Set) Dimension() int {
	if len(s.Vectors) == 0 {
		return 0
	}
	return len(s.Vectors[0])
}

// Load reads path ("-" for stdin) in the format implied by its extension.
func Load(path string) (*Set, error) {
	if path == "-" {
		return Read(os.Stdin, FormatCSV)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	set, err := Read(f, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Read parses r in the given format and checks every vector has the same
// length.
func Read(r io.Reader, format Format) (*Set, error) {
	var (
		set *Set
		err error
	)
	switch format {
	case FormatCSV:
		set, err = readCSV(r)
	case FormatJSONL:
		set, err = readJSONL(r)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrFormat, format)
	}
	if err != nil {
		return nil, err
	}
	for i, v := range set.Vectors {
		if len(v) != set.Dimension() {
			return nil, fmt.Errorf("%w: vector %d has %d values, want %d", ErrFormat, i, len(v), set.Dimension())
		}
	}
	if len(set.Header) > 0 && set.Dimension() > 0 && len(set.Header) != set.Dimension() {
		return nil, fmt.Errorf("%w: header has %d columns, vectors have %d", ErrFormat, len(set.Header), set.Dimension())
	}
	return set, nil
}

func readCSV(r io.Reader) (*Set, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	cr.Comment = '#'

	set := &Set{}
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		vec, err := parseRow(rec)
		if err != nil {
			if row == 0 {
				set.Header = append([]string(nil), rec...)
				continue
			}
			return nil, fmt.Errorf("%w: row %d: %v", ErrFormat, row+1, err)
		}
		set.Vectors = append(set.Vectors, vec)
	}
	return set, nil
}

func parseRow(rec []string) ([]float32, error) {
	vec := make([]float32, len(rec))
	for i, field := range rec {
		f, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return nil, err
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

func readJSONL(r io.Reader) (*Set, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 16<<20)
	set := &Set{}
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(text), &vec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrFormat, line, err)
		}
		set.Vectors = append(set.Vectors, vec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return set, nil
}
