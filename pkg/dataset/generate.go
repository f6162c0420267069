package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
)

// GenerateOptions configures synthetic data.
type GenerateOptions struct {
	Count     int
	Dimension int
	// Clusters is the number of centroids; 0 draws points uniformly.
	Clusters int
	// StdDev is the per-dimension Gaussian noise around a centroid.
	StdDev float64
	Seed   uint64
}

// Generate returns points scattered around Clusters random centroids in
// [0,1)^D, shuffled. labels[i] is the centroid of vector i, or -1 for
// uniform data.
func Generate(opts GenerateOptions) (set *Set, labels []int, err error) {
	if opts.Count < 1 || opts.Dimension < 1 {
		return nil, nil, fmt.Errorf("%w: count %d and dimension %d must be positive", ErrFormat, opts.Count, opts.Dimension)
	}
	if opts.Clusters < 0 || opts.Clusters > opts.Count {
		return nil, nil, fmt.Errorf("%w: %d clusters for %d points", ErrFormat, opts.Clusters, opts.Count)
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x2545f4914f6cdd1d))
	uniform := func() []float32 {
		v := make([]float32, opts.Dimension)
		for j := range v {
			v[j] = rng.Float32()
		}
		return v
	}

	set = &Set{Vectors: make([][]float32, opts.Count)}
	labels = make([]int, opts.Count)
	if opts.Clusters == 0 {
		for i := range set.Vectors {
			set.Vectors[i] = uniform()
			labels[i] = -1
		}
		return set, labels, nil
	}

	centroids := make([][]float32, opts.Clusters)
	for c := range centroids {
		centroids[c] = uniform()
	}
	perCluster := opts.Count / opts.Clusters
	idx := 0
	for c, centroid := range centroids {
		size := perCluster
		if c == opts.Clusters-1 {
			size = opts.Count - idx
		}
		for i := 0; i < size; i++ {
			v := make([]float32, opts.Dimension)
			for j := range v {
				v[j] = centroid[j] + float32(rng.NormFloat64()*opts.StdDev)
			}
			set.Vectors[idx] = v
			labels[idx] = c
			idx++
		}
	}

	rng.Shuffle(len(set.Vectors), func(i, j int) {
		set.Vectors[i], set.Vectors[j] = set.Vectors[j], set.Vectors[i]
		labels[i], labels[j] = labels[j], labels[i]
	})
	return set, labels, nil
}

// Write encodes set in the given format. CSV output carries the header
// when set has one.
func Write(w io.Writer, set *Set, format Format) error {
	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if len(set.Header) > 0 {
			if err := cw.Write(set.Header); err != nil {
				return err
			}
		}
		row := make([]string, set.Dimension())
		for _, v := range set.Vectors {
			for j, f := range v {
				row[j] = strconv.FormatFloat(float64(f), 'g', -1, 32)
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, v := range set.Vectors {
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: unknown format %q", ErrFormat, format)
}
