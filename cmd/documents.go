package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/cin-capture/internal/constants"
	"github.com/kozaktomas/cin-capture/internal/record"
	"github.com/kozaktomas/cin-capture/internal/search"
)

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"docs"},
	Short:   "Manage documents stored in the CIN document service",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	Long: `List stored documents, newest first.

Examples:
  # List the first page
  cin-capture documents list

  # Filter locally by name, first names or card number
  cin-capture documents list --filter rakoto`,
	Args: cobra.NoArgs,
	RunE: runDocumentsList,
}

var documentsSearchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search stored documents by card number",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentsSearch,
}

var documentsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one stored document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentsGet,
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored document and its portrait",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentsDelete,
}

func init() {
	rootCmd.AddCommand(documentsCmd)
	documentsCmd.AddCommand(documentsListCmd, documentsSearchCmd, documentsGetCmd, documentsDeleteCmd)

	documentsListCmd.Flags().Int("limit", constants.DefaultHandlerPageSize, "Number of documents to retrieve")
	documentsListCmd.Flags().String("filter", "", "Filter by name, first names or card number")
	documentsListCmd.Flags().Bool("json", false, "Output as JSON")
	documentsSearchCmd.Flags().Bool("json", false, "Output as JSON")
	documentsGetCmd.Flags().Bool("json", false, "Output as JSON")
}

// newListing builds a listing over the service, with the configured face searcher.
func newListing(pageSize int) (*search.Listing, func(int64) error, func(), error) {
	cfg, log, err := setup()
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := newServiceClient(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	faces, onDelete, err := newFaceSearcher(cfg, client, log)
	if err != nil {
		return nil, nil, nil, err
	}

	correlator := search.NewCorrelator(faces, search.Options{
		Threshold: cfg.FaceSearch.Threshold,
		TopK:      cfg.FaceSearch.TopK,
	})
	listing := search.NewListing(client, correlator, search.ListingOptions{
		RequestTimeout: cfg.API.Timeout,
		PageSize:       pageSize,
		Logger:         log,
	})
	return listing, onDelete, func() { _ = log.Sync() }, nil
}

func printDocuments(docs []search.Annotated, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(docs)
	}

	if len(docs) == 0 {
		fmt.Println("No documents found.")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCIN\tNOM\tPRENOMS\tEXPIRATION\tSTATUS\tMATCH")
	fmt.Fprintln(w, "--\t---\t---\t-------\t----------\t------\t-----")
	for _, d := range docs {
		match := ""
		if d.Matched {
			match = fmt.Sprintf("%.2f%%", d.Similarity)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.NumeroCIN, d.Nom, d.Prenoms, d.DateExpiration,
			record.Status(d.DateExpiration, now), match)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d documents\n", len(docs))
	return nil
}

func runDocumentsList(cmd *cobra.Command, args []string) error {
	listing, _, done, err := newListing(mustGetInt(cmd, "limit"))
	if err != nil {
		return err
	}
	defer done()

	if err := listing.Load(cmd.Context()); err != nil {
		return fmt.Errorf("%s", record.UserMessage(err))
	}
	if filter := mustGetString(cmd, "filter"); filter != "" {
		listing.FilterText(filter)
	}
	return printDocuments(listing.View().Documents, mustGetBool(cmd, "json"))
}

func runDocumentsSearch(cmd *cobra.Command, args []string) error {
	listing, _, done, err := newListing(0)
	if err != nil {
		return err
	}
	defer done()

	if err := listing.SearchRemote(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("%s", record.UserMessage(err))
	}
	return printDocuments(listing.View().Documents, mustGetBool(cmd, "json"))
}

func runDocumentsGet(cmd *cobra.Command, args []string) error {
	id, err := parseDocumentID(args[0])
	if err != nil {
		return err
	}
	listing, _, done, err := newListing(0)
	if err != nil {
		return err
	}
	defer done()

	doc, err := listing.Get(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("%s", record.UserMessage(err))
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fields := doc.Fields()
	for _, key := range record.SaveFields {
		fmt.Fprintf(w, "%s:\t%s\n", key, fields[key])
	}
	fmt.Fprintf(w, "status:\t%s\n", record.Status(doc.DateExpiration, time.Now()))
	if doc.HasFacePhoto {
		fmt.Fprintf(w, "portrait:\t%s\n", doc.PhotoVisagePath)
	}
	if !doc.DateSauvegarde.IsZero() {
		fmt.Fprintf(w, "saved:\t%s\n", doc.DateSauvegarde.Format("02/01/2006 15:04"))
	}
	w.Flush()
	return nil
}

func runDocumentsDelete(cmd *cobra.Command, args []string) error {
	id, err := parseDocumentID(args[0])
	if err != nil {
		return err
	}
	listing, onDelete, done, err := newListing(0)
	if err != nil {
		return err
	}
	defer done()

	if err := listing.Delete(cmd.Context(), id); err != nil {
		return fmt.Errorf("%s", record.UserMessage(err))
	}
	if onDelete != nil {
		if err := onDelete(id); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to update face index: %v\n", err)
		}
	}
	fmt.Printf("Deleted document %d\n", id)
	return nil
}
