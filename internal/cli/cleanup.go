package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"retrace/internal/adapter/state"
	"retrace/internal/usecase"
)

var (
	cleanupDryRun     bool
	cleanupResetIndex bool
	cleanupDays       int
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete source files beyond the retention period",
	Long: `Delete OCR text files older than the configured retention period.
The semantic index is not pruned; stale entries resolve to nothing at
query time. Use --reset-index to force a full rebuild on the next cycle.

Examples:
  retrace cleanup --dry-run
  retrace cleanup --days 30
  retrace cleanup --reset-index`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be deleted without deleting")
	cleanupCmd.Flags().BoolVar(&cleanupResetIndex, "reset-index", false, "remove index artifacts to force a full rebuild")
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "retention period in days (default from config)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupResetIndex {
		if cleanupDryRun {
			fmt.Printf("[dry run] Would remove %s, %s and the catalog\n",
				filepath.Base(cfg.VectorIndexPath()), filepath.Base(cfg.IdentifierMapPath()))
			return nil
		}
		catalog, err := state.Open(cfg.CatalogPath())
		if err != nil {
			return err
		}
		defer catalog.Close()
		if err := usecase.ResetIndex(cfg.VectorIndexPath(), cfg.IdentifierMapPath(), catalog, logger); err != nil {
			return err
		}
		fmt.Println("Index artifacts removed. The next cycle rebuilds from scratch.")
		return nil
	}

	days := cfg.Retention.Days
	if cleanupDays > 0 {
		days = cleanupDays
	}

	result, err := usecase.Cleanup(cfg.Paths.SourceDir, days, cleanupDryRun, logger)
	if err != nil {
		return err
	}

	if len(result.Candidates) == 0 {
		fmt.Printf("No files older than %d days.\n", days)
		return nil
	}

	if cleanupDryRun {
		fmt.Printf("[dry run] Would delete %d files older than %d days:\n", len(result.Candidates), days)
		sample := result.Candidates
		if len(sample) > 5 {
			sample = sample[:5]
		}
		for _, path := range sample {
			fmt.Printf("  %s\n", filepath.Base(path))
		}
		if len(result.Candidates) > 5 {
			fmt.Printf("  ... and %d more\n", len(result.Candidates)-5)
		}
		return nil
	}

	fmt.Printf("Deleted %d files older than %d days.\n", result.Deleted, days)
	for _, e := range result.Errors {
		fmt.Printf("  warning: %s\n", e)
	}
	if result.Deleted > 0 {
		fmt.Println("Note: the semantic index may now reference deleted files; those results are skipped at query time.")
	}
	return nil
}
