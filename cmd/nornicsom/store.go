package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/nornicsom/pkg/config"
	"github.com/orneryd/nornicsom/pkg/som"
)

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure winner search and update throughput",
		RunE:  runBench,
	}
	addGridFlags(cmd)
	cmd.Flags().Int("dimension", getEnvInt("NORNICSOM_GRID_DIMENSION", 3), "Vector dimension")
	cmd.Flags().Int("iterations", 1000, "Samples to train")
	cmd.Flags().Float64("sigma", 2, "Neighborhood sigma")
	cmd.Flags().Float64("lr", 0.1, "Learning rate")
	return cmd
}

func runBench(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	iterations, _ := cmd.Flags().GetInt("iterations")
	sigma, _ := cmd.Flags().GetFloat64("sigma")
	lr, _ := cmd.Flags().GetFloat64("lr")

	scfg, err := a.cfg.SOMConfig()
	if err != nil {
		return err
	}
	manager, err := a.newManager()
	if err != nil {
		return err
	}
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	res, err := som.Benchmark(ctx, scfg, iterations, float32(sigma), float32(lr),
		som.WithManager(manager), som.WithLogger(a.logger))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "backend\t%s (%s)\n", res.Backend, res.Device)
	fmt.Fprintf(w, "grid\t%s\n", res.Shape)
	fmt.Fprintf(w, "group size\t%d\n", res.GroupSize)
	fmt.Fprintf(w, "distance lanes\t%d\n", res.DistanceLanes)
	fmt.Fprintf(w, "iterations\t%d in %s\n", res.Iterations, res.Elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "winner latency\t%s\n", res.WinnerLatency)
	fmt.Fprintf(w, "update latency\t%s\n", res.UpdateLatency)
	fmt.Fprintf(w, "samples/s\t%.1f\n", res.SamplesPerSec)
	fmt.Fprintf(w, "neurons/s\t%.3g\n", res.NeuronsPerSec)
	return w.Flush()
}

func newSnapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshots",
		Aliases: []string{"snap"},
		Short:   "Manage stored grids",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE:  runSnapshotsList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <snapshot>...",
		Short: "Delete snapshots by name or id",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSnapshotsRemove,
	})
	backup := &cobra.Command{
		Use:   "backup <file>",
		Short: "Write a full backup of the snapshot store",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotsBackup,
	}
	cmd.AddCommand(backup)
	cmd.AddCommand(&cobra.Command{
		Use:   "restore <file>",
		Short: "Load a backup into the snapshot store",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotsRestore,
	})
	return cmd
}

func runSnapshotsList(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	metas, err := store.List()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tGRID\tMETRIC\tTOROIDAL\tSTORED\tSAVED")
	for _, m := range metas {
		fmt.Fprintf(w, "%s\t%s\t%dx%dx%d\t%s\t%v\t%s\t%s\n",
			m.ID, m.Name, m.Width, m.Height, m.Dimension, m.Metric, m.Toroidal,
			config.FormatMemorySize(int64(m.StoredBytes)), m.SavedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runSnapshotsRemove(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	for _, ref := range args {
		if err := store.Delete(ref); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", ref)
	}
	return nil
}

func runSnapshotsBackup(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return store.BackupFile(args[0])
}

func runSnapshotsRestore(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	return store.LoadBackup(f)
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <snapshot>",
		Short: "Write a stored grid as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	cmd.Flags().StringP("output", "o", "-", "Output file (- for stdout)")
	return cmd
}

// exportDoc is the JSON form of a grid. Weights are row-major, one
// D-length vector per neuron.
type exportDoc struct {
	ID        string      `json:"id"`
	Name      string      `json:"name,omitempty"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Dimension int         `json:"dimension"`
	Metric    string      `json:"metric"`
	Toroidal  bool        `json:"toroidal"`
	Bands     []som.Band  `json:"bands,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Weights   [][]float32 `json:"weights"`
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	snap, meta, err := store.Load(args[0])
	if err != nil {
		return err
	}
	doc := exportDoc{
		ID:        meta.ID,
		Name:      meta.Name,
		Width:     snap.Width,
		Height:    snap.Height,
		Dimension: snap.Dimension,
		Metric:    snap.Metric.String(),
		Toroidal:  snap.Toroidal,
		Bands:     snap.Bands,
		CreatedAt: snap.CreatedAt,
		Weights:   make([][]float32, snap.Width*snap.Height),
	}
	for n := range doc.Weights {
		doc.Weights[n] = snap.Weights[n*snap.Dimension : (n+1)*snap.Dimension]
	}

	out := cmd.OutOrStdout()
	if output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
