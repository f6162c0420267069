package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/spf13/cobra"

	"github.com/orneryd/nornicsom/pkg/dataset"
	"github.com/orneryd/nornicsom/pkg/som"
)

func newWinnerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "winner <snapshot> <vectors.csv|vectors.jsonl>",
		Short: "Print the best matching unit for each vector",
		Args:  cobra.ExactArgs(2),
		RunE:  runWinner,
	}
}

func newClosestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "closest <snapshot> <vectors.csv|vectors.jsonl>",
		Short: "Print the n closest neurons for each vector",
		Args:  cobra.ExactArgs(2),
		RunE:  runClosest,
	}
	cmd.Flags().IntP("count", "n", 5, "Neurons per vector")
	return cmd
}

// restoreConfig is the configured grid with its shape cleared, for
// restoring snapshots. The snapshot supplies shape, metric and wrap policy;
// radius mapping, seed and device tuning come from the configuration. Shape
// flags given on the command line stay so a mismatch is reported.
func (a *app) restoreConfig(cmd *cobra.Command) (som.Config, error) {
	scfg, err := a.cfg.SOMConfig()
	if err != nil {
		return som.Config{}, err
	}
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if !changed("width") {
		scfg.Width = 0
	}
	if !changed("height") {
		scfg.Height = 0
	}
	if !changed("dimension") {
		scfg.Dimension = 0
	}
	return scfg, nil
}

// restoreEngine loads a stored snapshot onto the configured device.
func (a *app) restoreEngine(cmd *cobra.Command, ref string) (*som.Engine, error) {
	base, err := a.restoreConfig(cmd)
	if err != nil {
		return nil, err
	}
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer store.Close()
	snap, _, err := store.Load(ref)
	if err != nil {
		return nil, err
	}
	manager, err := a.newManager()
	if err != nil {
		return nil, err
	}
	return som.Restore(snap, base, som.WithManager(manager), som.WithLogger(a.logger))
}

type winnerLine struct {
	Row int `json:"row"`
	X   int `json:"x"`
	Y   int `json:"y"`
}

// neighborLine is one ranked neuron. Distance is null when not finite.
type neighborLine struct {
	X        int      `json:"x"`
	Y        int      `json:"y"`
	Index    int      `json:"index"`
	Distance *float32 `json:"distance"`
}

type closestLine struct {
	Row       int            `json:"row"`
	Neighbors []neighborLine `json:"neighbors"`
}

func runWinner(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	set, err := dataset.Load(args[1])
	if err != nil {
		return err
	}
	engine, err := a.restoreEngine(cmd, args[0])
	if err != nil {
		return err
	}
	defer engine.Close()

	winners, err := engine.IdentifyWinners(set.Vectors)
	if err != nil {
		return err
	}
	return writeWinners(cmd.OutOrStdout(), winners)
}

func writeWinners(w io.Writer, winners []som.Coord) error {
	enc := json.NewEncoder(w)
	for i, c := range winners {
		if err := enc.Encode(winnerLine{Row: i, X: c.X, Y: c.Y}); err != nil {
			return err
		}
	}
	return nil
}

func runClosest(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	n, _ := cmd.Flags().GetInt("count")
	set, err := dataset.Load(args[1])
	if err != nil {
		return err
	}
	engine, err := a.restoreEngine(cmd, args[0])
	if err != nil {
		return err
	}
	defer engine.Close()

	enc := json.NewEncoder(cmd.OutOrStdout())
	for i, vec := range set.Vectors {
		neighbors, err := engine.ClosestN(vec, n)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if err := enc.Encode(closestLineFor(i, neighbors)); err != nil {
			return err
		}
	}
	return nil
}

func closestLineFor(row int, neighbors []som.Neighbor) closestLine {
	line := closestLine{Row: row, Neighbors: make([]neighborLine, len(neighbors))}
	for j, nb := range neighbors {
		line.Neighbors[j] = neighborLine{X: nb.Coord.X, Y: nb.Coord.Y, Index: nb.Index}
		if d := float64(nb.Distance); !math.IsInf(d, 0) && !math.IsNaN(d) {
			line.Neighbors[j].Distance = &nb.Distance
		}
	}
	return line
}
