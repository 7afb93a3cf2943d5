package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/cin-capture/internal/capture"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/upload"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture a card from recto and verso images",
	Long: `Run one capture: the recto is recognised, then the verso if one is given, the two
sides are merged and the record is saved to the CIN document service. Without
--verso the record is built from the recto alone.

When the delivery date is known but the expiration date is not, the expiration is
derived as the delivery date plus ten years.

Examples:
  # Capture both sides and save
  cin-capture capture --recto recto.jpg --verso verso.jpg

  # Correct a field before saving
  cin-capture capture --recto recto.jpg --set adresse="Lot II A 12"

  # Preview the merged record without saving
  cin-capture capture --recto recto.jpg --verso verso.jpg --dry-run`,
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().String("recto", "", "Image of the front side (required)")
	captureCmd.Flags().String("verso", "", "Image of the back side")
	captureCmd.Flags().StringArray("set", nil, "Override a field before saving (key=value, repeatable)")
	captureCmd.Flags().Bool("dry-run", false, "Show the merged record without saving")
	captureCmd.Flags().Bool("json", false, "Output as JSON")
	_ = captureCmd.MarkFlagRequired("recto")
}

// parseOverrides splits key=value pairs and rejects unknown keys.
func parseOverrides(pairs []string) ([][2]string, error) {
	known := make(map[string]bool, len(record.SaveFields))
	for _, k := range record.SaveFields {
		known[k] = true
	}

	out := make([][2]string, 0, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, expected key=value", p)
		}
		if !known[key] {
			return nil, fmt.Errorf("unknown field %q (known: %s)", key, strings.Join(record.SaveFields, ", "))
		}
		out = append(out, [2]string{key, value})
	}
	return out, nil
}

func uploadFile(ctx context.Context, path string, send func(context.Context, upload.Upload) error) error {
	u, f, err := upload.FromFile(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return send(ctx, u)
}

func runCapture(cmd *cobra.Command, args []string) error {
	rectoPath := mustGetString(cmd, "recto")
	versoPath := mustGetString(cmd, "verso")
	dryRun := mustGetBool(cmd, "dry-run")
	jsonOutput := mustGetBool(cmd, "json")

	overrides, err := parseOverrides(mustGetStringArray(cmd, "set"))
	if err != nil {
		return err
	}

	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := cmd.Context()
	client, err := newServiceClient(cfg, log)
	if err != nil {
		return err
	}
	recognizer, err := newRecognizer(ctx, cfg, client)
	if err != nil {
		return err
	}

	ctrl := capture.NewController(recognizer, client, client, capture.Options{
		RequestTimeout: cfg.API.Timeout,
		Rules:          upload.Rules{MaxBytes: cfg.Upload.MaxBytes, AllowedTypes: cfg.Upload.AllowedTypes},
		Logger:         log,
	})

	fmt.Fprintf(os.Stderr, "Recognising recto %s...\n", rectoPath)
	if err := uploadFile(ctx, rectoPath, ctrl.UploadRecto); err != nil {
		return fmt.Errorf("recto: %s", record.UserMessage(err))
	}

	if versoPath != "" {
		fmt.Fprintf(os.Stderr, "Recognising verso %s...\n", versoPath)
		if err := uploadFile(ctx, versoPath, ctrl.UploadVerso); err != nil {
			return fmt.Errorf("verso: %s", record.UserMessage(err))
		}
	} else if err := ctrl.SkipVerso(); err != nil {
		return err
	}

	for _, kv := range overrides {
		if err := ctrl.EditField(kv[0], kv[1]); err != nil {
			return err
		}
	}

	snap := ctrl.Snapshot()
	defer printUsage(recognizer)

	if dryRun {
		return printCombined(snap, nil, jsonOutput)
	}

	result, err := ctrl.Save(ctx)
	if err != nil {
		if errors.Is(err, capture.ErrNothingToSave) {
			return errors.New("nothing to save: recognition returned no fields")
		}
		return fmt.Errorf("save: %s", record.UserMessage(err))
	}
	return printCombined(snap, result, jsonOutput)
}

func printCombined(snap capture.Snapshot, saved *record.SaveResult, jsonOutput bool) error {
	if jsonOutput {
		out := struct {
			Record       record.CombinedRecord `json:"record"`
			VersoSkipped bool                  `json:"verso_skipped"`
			Portrait     bool                  `json:"portrait"`
			Saved        *record.SaveResult    `json:"saved,omitempty"`
		}{snap.Combined, snap.VersoSkipped, snap.Portrait != "", saved}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tVALUE")
	fmt.Fprintln(w, "-----\t-----")
	for _, key := range record.SaveFields {
		fmt.Fprintf(w, "%s\t%s\n", key, snap.Combined[key])
	}
	w.Flush()

	if snap.VersoSkipped {
		fmt.Println("\nVerso skipped.")
	}
	if snap.Portrait != "" {
		fmt.Println("Portrait extracted from recto.")
	}
	if saved != nil {
		fmt.Printf("\nSaved as document %d: %s\n", saved.DatabaseID, saved.Message)
		if saved.AlreadyStored {
			fmt.Println("The card was already stored; the existing portrait was kept.")
		}
	}
	return nil
}
