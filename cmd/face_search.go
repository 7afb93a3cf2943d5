package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/search"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

var faceSearchCmd = &cobra.Command{
	Use:   "face-search <photo>",
	Short: "Find stored documents whose portrait matches a face photo",
	Long: `Send a face photo to the configured face search backend and list the stored
documents it matches, best match first.

The backend is selected with FACE_SEARCH_BACKEND: "remote" asks the CIN document
service, "local" queries the face index built by "cin-capture faces index".

Examples:
  # Search with the configured threshold and top-k
  cin-capture face-search probe.jpg

  # Stricter search, three best matches
  cin-capture face-search probe.jpg --threshold 0.8 --top-k 3`,
	Args: cobra.ExactArgs(1),
	RunE: runFaceSearch,
}

func init() {
	rootCmd.AddCommand(faceSearchCmd)

	faceSearchCmd.Flags().Float64("threshold", 0, "Minimum similarity 0-1 (0 = configured value)")
	faceSearchCmd.Flags().Int("top-k", 0, "Maximum number of matches (0 = configured value)")
	faceSearchCmd.Flags().Int("limit", 0, "Number of documents to load for correlation (0 = default page)")
	faceSearchCmd.Flags().Bool("json", false, "Output as JSON")
}

func runFaceSearch(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	client, err := newServiceClient(cfg, log)
	if err != nil {
		return err
	}
	faces, _, err := newFaceSearcher(cfg, client, log)
	if err != nil {
		return err
	}

	opts := search.Options{Threshold: cfg.FaceSearch.Threshold, TopK: cfg.FaceSearch.TopK}
	if v := mustGetFloat64(cmd, "threshold"); v > 0 {
		opts.Threshold = v
	}
	if v := mustGetInt(cmd, "top-k"); v > 0 {
		opts.TopK = v
	}

	listing := search.NewListing(client, search.NewCorrelator(faces, opts), search.ListingOptions{
		RequestTimeout: cfg.API.Timeout,
		PageSize:       mustGetInt(cmd, "limit"),
		Rules:          upload.Rules{MaxBytes: cfg.Upload.MaxBytes, AllowedTypes: cfg.Upload.AllowedTypes},
		Logger:         log,
	})

	ctx := cmd.Context()
	if err := listing.Load(ctx); err != nil {
		return fmt.Errorf("%s", record.UserMessage(err))
	}

	u, f, err := upload.FromFile(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := listing.SearchPhoto(ctx, u)
	if err != nil {
		return fmt.Errorf("%s", record.UserMessage(err))
	}

	if !mustGetBool(cmd, "json") {
		fmt.Printf("Threshold %.2f, top %d: %d of %d documents matched\n\n",
			opts.Threshold, opts.TopK, len(res.Matches), len(res.All))
	}
	return printDocuments(res.Matches, mustGetBool(cmd, "json"))
}
