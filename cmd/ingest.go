package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/photoevent/facematch/internal/config"
	"github.com/photoevent/facematch/internal/engine"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <event-id> <folder-path> [folder-path...]",
	Short: "Ingest photos from folders into an event index",
	Long: `Ingest photos from one or more folders into the index of an event.

By default, only files in the specified folders are ingested (non-recursive).
Use -r to search recursively in subdirectories.
Supported formats: jpg, jpeg, png, gif, bmp

Photos without a detectable face are kept in the index but never matched.
Photos that cannot be decoded are reported and excluded.

Example:
  facematch ingest summer-wedding-2026 /path/to/photos
  facematch ingest summer-wedding-2026 /path/to/a /path/to/b
  facematch ingest -r summer-wedding-2026 /path/to/photos  # recursive`,
	Args: cobra.MinimumNArgs(2),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().BoolP("recursive", "r", false, "Search for photos recursively in subdirectories")
	ingestCmd.Flags().Int("batch-size", 64, "Number of photos ingested per batch")
}

// isImageFile checks if a file has a supported image extension
func isImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	supported := map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".gif":  true,
		".bmp":  true,
	}
	return supported[ext]
}

// collectImageFiles gathers image file paths from the given folders.
func collectImageFiles(folderPaths []string, recursive bool) ([]string, error) {
	var filePaths []string
	for _, folderPath := range folderPaths {
		info, err := os.Stat(folderPath)
		if err != nil {
			return nil, fmt.Errorf("cannot access folder %s: %w", folderPath, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", folderPath)
		}

		if recursive {
			err := filepath.WalkDir(folderPath, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isImageFile(d.Name()) {
					filePaths = append(filePaths, path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("cannot walk folder %s: %w", folderPath, err)
			}
		} else {
			entries, err := os.ReadDir(folderPath)
			if err != nil {
				return nil, fmt.Errorf("cannot read folder %s: %w", folderPath, err)
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				if isImageFile(entry.Name()) {
					filePaths = append(filePaths, filepath.Join(folderPath, entry.Name()))
				}
			}
		}
	}
	return filePaths, nil
}

func newIngestBar(total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Ingesting"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func runIngest(cmd *cobra.Command, args []string) error {
	eventID := args[0]
	folderPaths := args[1:]
	recursive := mustGetBool(cmd, "recursive")
	batchSize := mustGetInt(cmd, "batch-size")
	if batchSize < 1 {
		batchSize = 1
	}

	cfg := config.Load()

	filePaths, err := collectImageFiles(folderPaths, recursive)
	if err != nil {
		return err
	}
	if len(filePaths) == 0 {
		fmt.Println("No image files found in the specified folders.")
		return nil
	}

	fmt.Printf("Found %d image(s) to ingest from %d folder(s)\n", len(filePaths), len(folderPaths))

	ctx := context.Background()
	e, cleanup, err := initEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Printf("Ingesting into event: %s\n\n", eventID)
	bar := newIngestBar(len(filePaths))

	var indexed, skipped int
	var failures []string
	for start := 0; start < len(filePaths); start += batchSize {
		end := min(start+batchSize, len(filePaths))

		uploads := make([]engine.Upload, 0, end-start)
		for _, filePath := range filePaths[start:end] {
			data, err := os.ReadFile(filePath) //nolint:gosec // path comes from the operator's folder arguments
			if err != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", filepath.Base(filePath), err))
				bar.Add(1)
				continue
			}
			uploads = append(uploads, engine.Upload{
				PhotoID:   uuid.NewString(),
				SourceRef: filePath,
				Data:      data,
			})
		}

		for _, outcome := range e.IngestBatch(ctx, eventID, uploads) {
			switch outcome.State {
			case engine.StateIndexed:
				indexed++
			case engine.StateSkipped:
				skipped++
			case engine.StateFailed:
				failures = append(failures, fmt.Sprintf("%s: %v", filepath.Base(outcome.SourceRef), outcome.Err))
			}
			bar.Add(1)
		}
	}
	fmt.Println()

	for _, msg := range failures {
		fmt.Printf("Failed: %s\n", msg)
	}

	fmt.Printf("\nDone! Indexed %d photo(s) into event '%s' (%d without faces, %d failed)\n",
		indexed, eventID, skipped, len(failures))
	return nil
}
