package usecase

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"retrace/internal/adapter/state"
	"retrace/internal/index"
)

// CleanupResult summarizes a retention pass.
type CleanupResult struct {
	Candidates []string
	Deleted    int
	Errors     []string
}

// Cleanup deletes source files whose modification time is older than the
// retention period. With dryRun set it only reports what would be
// deleted. Deleting source files leaves stale ordinals in the index;
// those resolve to nothing at query time and are skipped there.
func Cleanup(sourceDir string, retentionDays int, dryRun bool, logger *slog.Logger) (*CleanupResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if retentionDays <= 0 {
		return nil, fmt.Errorf("retention period must be positive, got %d days", retentionDays)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := &CleanupResult{}

	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("source directory not found, nothing to clean", "dir", sourceDir)
			return result, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			result.Candidates = append(result.Candidates, filepath.Join(sourceDir, entry.Name()))
		}
	}

	if len(result.Candidates) == 0 {
		logger.Info("no files beyond retention period", "days", retentionDays)
		return result, nil
	}

	if dryRun {
		logger.Info("dry run, not deleting", "candidates", len(result.Candidates), "days", retentionDays)
		return result, nil
	}

	for _, path := range result.Candidates {
		if err := os.Remove(path); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to delete %s: %v", path, err))
			continue
		}
		result.Deleted++
	}

	logger.Info("retention cleanup complete", "deleted", result.Deleted, "days", retentionDays)
	return result, nil
}

// ResetIndex removes the persisted index pair and clears the catalog,
// forcing a full rebuild on the next cycle. Formerly skipped documents
// become candidates again.
func ResetIndex(indexPath, mapPath string, catalog *state.Catalog, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := index.RemoveArtifacts(indexPath, mapPath); err != nil {
		return fmt.Errorf("failed to remove index artifacts: %w", err)
	}
	if catalog != nil {
		if err := catalog.Reset(); err != nil {
			return fmt.Errorf("failed to reset catalog: %w", err)
		}
	}
	logger.Info("index artifacts removed, next cycle rebuilds from scratch")
	return nil
}
