package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/cin-capture/internal/constants"
	"github.com/kozaktomas/cin-capture/internal/faceindex"
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Manage the local face index",
}

var facesIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed stored portraits into the local face index",
	Long: `Download the portrait of every stored document, compute its face embedding with
the embedding service and add it to the local HNSW face index used by the "local"
face search backend.

The process can be stopped and resumed - already indexed documents are skipped
and the index is saved periodically. Entries of deleted documents are pruned.

Examples:
  # Index new portraits (8 concurrent workers)
  cin-capture faces index

  # Re-embed everything with 3 workers
  cin-capture faces index --rebuild --concurrency 3`,
	Args: cobra.NoArgs,
	RunE: runFacesIndex,
}

var facesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the local face index status",
	Args:  cobra.NoArgs,
	RunE:  runFacesStats,
}

func init() {
	rootCmd.AddCommand(facesCmd)
	facesCmd.AddCommand(facesIndexCmd, facesStatsCmd)

	facesIndexCmd.Flags().Int("concurrency", constants.WorkerPoolSize, "Number of parallel workers")
	facesIndexCmd.Flags().Int("save-interval", constants.IndexSaveInterval, "Save the index every N documents")
	facesIndexCmd.Flags().Bool("rebuild", false, "Re-embed documents that are already indexed")
}

func runFacesIndex(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.FaceSearch.IndexPath == "" {
		return errors.New("FACE_INDEX_PATH environment variable is required")
	}

	client, err := newServiceClient(cfg, log)
	if err != nil {
		return err
	}

	index := faceindex.NewIndex(cfg.FaceSearch.IndexPath)
	if err := index.Load(); err != nil {
		return fmt.Errorf("failed to load face index: %w", err)
	}
	fmt.Printf("Faces in index: %d (%s)\n", index.Count(), cfg.FaceSearch.IndexPath)

	embedder := faceindex.NewEmbeddingClient(cfg.Embedding.URL, cfg.API.Timeout)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bar *progressbar.ProgressBar
	start := time.Now()
	stats, err := faceindex.NewBuilder(client, embedder, index).Build(ctx, faceindex.BuildOptions{
		Workers:      mustGetInt(cmd, "concurrency"),
		SaveInterval: mustGetInt(cmd, "save-interval"),
		Rebuild:      mustGetBool(cmd, "rebuild"),
		Logger:       log,
		Start: func(n int) {
			fmt.Printf("Documents to process: %d\n\n", n)
			bar = progressbar.NewOptions(n,
				progressbar.OptionSetDescription("Embedding portraits"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("portraits"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		},
		Progress: func() {
			if bar != nil {
				_ = bar.Add(1)
			}
		},
	})
	if bar != nil {
		_ = bar.Finish()
	}

	fmt.Printf("\n\nDone in %s\n", time.Since(start).Round(time.Second))
	fmt.Printf("  Documents:   %d\n", stats.Documents)
	fmt.Printf("  Indexed:     %d\n", stats.Indexed)
	fmt.Printf("  Skipped:     %d\n", stats.Skipped)
	fmt.Printf("  No face:     %d\n", stats.NoFace)
	fmt.Printf("  Failed:      %d\n", stats.Failed)
	fmt.Printf("  Pruned:      %d\n", stats.Pruned)
	fmt.Printf("  Index size:  %d\n", stats.TotalFaces)

	if errors.Is(err, context.Canceled) {
		fmt.Println("\nInterrupted - progress was saved, run again to resume.")
		return nil
	}
	return err
}

func runFacesStats(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.FaceSearch.IndexPath == "" {
		return errors.New("FACE_INDEX_PATH environment variable is required")
	}

	meta, err := faceindex.LoadMetadata(cfg.FaceSearch.IndexPath)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Printf("No face index at %s - run \"cin-capture faces index\" first.\n", cfg.FaceSearch.IndexPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read face index metadata: %w", err)
	}

	out, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", out)
	return nil
}
