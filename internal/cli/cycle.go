package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"retrace/internal/adapter/fs"
	"retrace/internal/adapter/state"
	"retrace/internal/usecase"
)

var (
	cycleDryRun  bool
	cycleMaxDocs int
	cycleBudget  time.Duration
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one incremental indexing cycle",
	Long: `Reconcile the source directory against the index, embed unseen
documents in batches and commit each batch durably.

Examples:
  retrace cycle                  # Full cycle
  retrace cycle --dry-run        # Reconcile and count only
  retrace cycle --budget 2m      # Stop consuming new batches after 2 minutes`,
	RunE: runCycle,
}

func init() {
	rootCmd.AddCommand(cycleCmd)
	cycleCmd.Flags().BoolVar(&cycleDryRun, "dry-run", false, "reconcile and count, no embedding or writes")
	cycleCmd.Flags().IntVar(&cycleMaxDocs, "max-docs", 0, "cap documents processed this cycle (0 = config value)")
	cycleCmd.Flags().DurationVar(&cycleBudget, "budget", 0, "wall-clock budget for this cycle (0 = config value)")
}

func runCycle(cmd *cobra.Command, args []string) error {
	if err := cfg.EnsureIndexDir(); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	lock, err := fs.AcquireCycleLock(cfg.LockPath())
	if err != nil {
		if errors.Is(err, fs.ErrLockHeld) {
			fmt.Println("Another indexing cycle is already running. Exiting.")
			return nil
		}
		return err
	}
	defer lock.Release()

	catalog, err := state.Open(cfg.CatalogPath())
	if err != nil {
		return err
	}
	defer catalog.Close()

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	source := fs.NewDirSource(cfg.Paths.SourceDir, cfg.Index.Extension, cfg.Index.Includes, cfg.Index.Excludes)

	opts := usecase.IndexerOptions{
		BatchSize:  cfg.Index.BatchSize,
		MaxDocs:    cfg.Index.MaxDocsPerCycle,
		TimeBudget: cfg.Index.TimeBudget.Std(),
		DryRun:     cycleDryRun,
	}
	if cycleMaxDocs > 0 {
		opts.MaxDocs = cycleMaxDocs
	}
	if cycleBudget > 0 {
		opts.TimeBudget = cycleBudget
	}

	indexer := usecase.NewIndexer(source, embedder,
		catalog, cfg.VectorIndexPath(), cfg.IdentifierMapPath(), opts, logger)

	var bar *progressbar.ProgressBar
	indexer.Progress = func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}
		bar.Set(done)
	}

	// Interrupt finishes the in-flight batch, then stops; committed
	// batches stay durable.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := indexer.Run(ctx)
	if err != nil {
		return fmt.Errorf("cycle failed: %w", err)
	}

	fmt.Printf("\nCycle complete:\n")
	fmt.Printf("  Documents discovered: %d\n", report.Discovered)
	if cycleDryRun {
		fmt.Printf("  Dry run: nothing embedded or written\n")
	} else {
		fmt.Printf("  Documents embedded:   %d\n", report.Embedded)
		fmt.Printf("  Skipped (empty):      %d\n", report.SkippedEmpty)
		if report.Failed > 0 {
			fmt.Printf("  Failed (will retry):  %d\n", report.Failed)
		}
		fmt.Printf("  Total vectors:        %d\n", report.TotalVectors)
	}
	fmt.Printf("  Elapsed:              %s\n", report.Elapsed.Round(time.Millisecond))

	return nil
}
