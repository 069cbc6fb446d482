package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/photoevent/facematch/internal/config"
	"github.com/photoevent/facematch/internal/engine"
	"github.com/photoevent/facematch/internal/imaging"
	"github.com/photoevent/facematch/internal/matcher"
)

var matchCmd = &cobra.Command{
	Use:   "match <event-id> <selfie-path>",
	Short: "Find event photos matching a selfie",
	Long: `Find the photos of an event that contain the person in a selfie.

The selfie must contain at least one detectable face. When more than one
face is present, the largest face is used as the query identity.

The similarity score runs from 0 to 100; only photos at or above the
configured threshold are returned.

Example:
  facematch match summer-wedding-2026 /path/to/selfie.jpg
  facematch match summer-wedding-2026 selfie.jpg --threshold 75
  facematch match summer-wedding-2026 selfie.jpg --json`,
	Args: cobra.ExactArgs(2),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().Int("threshold", 0, "Minimum similarity score 0-100 (0 = use configured default)")
	matchCmd.Flags().Bool("json", false, "Output as JSON")
}

// matchOutput is the JSON output structure of the match command.
type matchOutput struct {
	EventID string           `json:"event_id"`
	Selfie  string           `json:"selfie"`
	Matches []matcher.Result `json:"matches"`
}

// outputJSON writes data to stdout as indented JSON.
func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

// printMatchTable prints the human-readable match results table.
func printMatchTable(eventID string, results []matcher.Result) {
	if len(results) == 0 {
		fmt.Printf("No matching photos found in event %s\n", eventID)
		return
	}

	fmt.Printf("Found %d matching photo(s) in event %s:\n\n", len(results), eventID)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHOTO\tSOURCE\tSCORE")
	fmt.Fprintln(w, "-----\t------\t-----")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%d\n", r.PhotoID, r.SourceRef, r.Score)
	}
	w.Flush()
}

func runMatch(cmd *cobra.Command, args []string) error {
	eventID := args[0]
	selfiePath := args[1]
	jsonOutput := mustGetBool(cmd, "json")

	cfg := config.Load()
	if threshold := mustGetInt(cmd, "threshold"); threshold > 0 {
		cfg.Matching.Threshold = threshold
	}

	selfie, err := os.ReadFile(selfiePath) //nolint:gosec // path comes from the operator's argument
	if err != nil {
		return fmt.Errorf("cannot read selfie %s: %w", selfiePath, err)
	}

	ctx := context.Background()
	e, cleanup, err := initEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := e.FindMatches(ctx, eventID, selfie)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrUnknownEvent):
			return fmt.Errorf("event %s does not exist", eventID)
		case errors.Is(err, engine.ErrNoFaceDetected):
			return fmt.Errorf("no face detected in %s", selfiePath)
		case errors.Is(err, imaging.ErrDecode):
			return fmt.Errorf("cannot decode selfie %s: %w", selfiePath, err)
		default:
			return fmt.Errorf("matching selfie: %w", err)
		}
	}

	if jsonOutput {
		return outputJSON(matchOutput{EventID: eventID, Selfie: selfiePath, Matches: results})
	}

	printMatchTable(eventID, results)
	return nil
}
