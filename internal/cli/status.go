package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"retrace/internal/adapter/state"
	"retrace/internal/domain"
	"retrace/internal/index"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index statistics",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	stats, err := collectStats()
	if err != nil {
		return err
	}

	fmt.Printf("Index status:\n")
	fmt.Printf("  Total vectors:   %d\n", stats.TotalVectors)
	fmt.Printf("  Skipped docs:    %d (empty content)\n", stats.SkippedDocs)
	fmt.Printf("  Index size:      %s\n", formatBytes(stats.IndexBytes))
	if stats.LastCycle != nil {
		fmt.Printf("  Last cycle:      %s (%s ago)\n",
			stats.LastCycle.StartedAt.Format(time.RFC3339),
			time.Since(stats.LastCycle.StartedAt).Round(time.Second))
		fmt.Printf("    discovered %d, embedded %d, skipped %d, failed %d\n",
			stats.LastCycle.Discovered, stats.LastCycle.Embedded,
			stats.LastCycle.SkippedEmpty, stats.LastCycle.Failed)
	} else {
		fmt.Printf("  Last cycle:      never\n")
	}
	return nil
}

// collectStats gathers index statistics for the status command and the
// HTTP status endpoint.
func collectStats() (*domain.IndexStats, error) {
	stats := &domain.IndexStats{}

	if store, err := index.Open(cfg.Embedding.Dimension, cfg.VectorIndexPath(), cfg.IdentifierMapPath()); err == nil {
		stats.TotalVectors = store.Size()
	}

	for _, path := range []string{cfg.VectorIndexPath(), cfg.IdentifierMapPath(), cfg.CatalogPath()} {
		if info, err := os.Stat(path); err == nil {
			stats.IndexBytes += info.Size()
		}
	}

	catalog, err := state.Open(cfg.CatalogPath())
	if err != nil {
		// Catalog may be locked by a running cycle; report what we have.
		logger.Warn("catalog unavailable", "error", err)
		return stats, nil
	}
	defer catalog.Close()

	if n, err := catalog.SkippedCount(); err == nil {
		stats.SkippedDocs = n
	}
	if last, err := catalog.LastCycle(); err == nil {
		stats.LastCycle = last
	}

	return stats, nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
