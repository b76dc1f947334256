package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"retrace/internal/adapter/state"
	"retrace/internal/domain"
	"retrace/internal/index"
	"retrace/internal/port"
)

// IndexerOptions bound the work performed by one cycle.
type IndexerOptions struct {
	BatchSize  int
	MaxDocs    int           // 0 = unlimited
	TimeBudget time.Duration // 0 = unlimited
	DryRun     bool          // reconcile and count only, no embedding or writes
}

// Indexer reconciles the document source against the index store, embeds
// unseen documents in batches and durably commits each batch before
// starting the next. Only one cycle may run at a time against a given
// store; the caller holds the cycle lock for the duration.
type Indexer struct {
	source   port.DocumentSource
	embedder port.Embedder
	catalog  *state.Catalog
	logger   *slog.Logger
	opts     IndexerOptions

	indexPath string
	mapPath   string

	// Progress is called after each committed batch with the number of
	// documents embedded so far and the capped unseen total.
	Progress func(done, total int)
}

// NewIndexer creates an indexer. The store artifacts are loaded fresh at
// the start of each run so a cycle always starts from the last durable
// commit.
func NewIndexer(
	source port.DocumentSource,
	embedder port.Embedder,
	catalog *state.Catalog,
	indexPath, mapPath string,
	opts IndexerOptions,
	logger *slog.Logger,
) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		source:    source,
		embedder:  embedder,
		catalog:   catalog,
		logger:    logger,
		opts:      opts,
		indexPath: indexPath,
		mapPath:   mapPath,
	}
}

// Run executes one cycle: LOAD, RECONCILE, then EMBED_BATCH/COMMIT per
// batch until done. The returned report is valid even when err != nil.
func (ix *Indexer) Run(ctx context.Context) (*domain.CycleReport, error) {
	start := time.Now()
	report := &domain.CycleReport{
		StartedAt: start,
		State:     domain.StateLoad,
		DryRun:    ix.opts.DryRun,
	}

	store := ix.load()

	report.State = domain.StateReconcile
	unseen, err := ix.reconcile(store)
	if err != nil {
		report.State = domain.StateFailed
		return report, fmt.Errorf("reconciliation failed: %w", err)
	}

	if ix.opts.MaxDocs > 0 && len(unseen) > ix.opts.MaxDocs {
		ix.logger.Info("capping unseen documents for this cycle",
			"unseen", len(unseen),
			"cap", ix.opts.MaxDocs,
		)
		unseen = unseen[:ix.opts.MaxDocs]
	}

	report.Discovered = len(unseen)
	report.TotalVectors = store.Size()

	if len(unseen) == 0 {
		ix.logger.Info("no new documents, index is up to date", "total_vectors", store.Size())
		return ix.finish(report, start)
	}

	if ix.opts.DryRun {
		ix.logger.Info("dry run, skipping embedding and commit", "discovered", len(unseen))
		report.State = domain.StateDone
		report.Elapsed = time.Since(start)
		return report, nil
	}

	ix.logger.Info("found new documents to index", "count", len(unseen))

	for batchStart := 0; batchStart < len(unseen); batchStart += ix.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			ix.logger.Warn("cycle interrupted, prior batches remain committed", "error", err)
			return ix.finish(report, start)
		}
		if ix.opts.TimeBudget > 0 && time.Since(start) > ix.opts.TimeBudget {
			ix.logger.Info("time budget exceeded, stopping after last committed batch",
				"budget", ix.opts.TimeBudget,
				"elapsed", time.Since(start),
			)
			break
		}

		batchEnd := batchStart + ix.opts.BatchSize
		if batchEnd > len(unseen) {
			batchEnd = len(unseen)
		}
		batch := unseen[batchStart:batchEnd]

		report.State = domain.StateEmbedBatch
		keys, vectors := ix.embedBatch(ctx, batch, report)
		if len(keys) == 0 {
			continue
		}

		report.State = domain.StateCommit
		if err := ix.commit(store, vectors, keys); err != nil {
			// Commit failures are the one condition that makes continuing
			// unsafe: the in-memory state is ahead of disk.
			report.State = domain.StateFailed
			report.Elapsed = time.Since(start)
			report.TotalVectors = store.Size()
			ix.logger.Error("commit failed, aborting cycle", "error", err)
			return report, err
		}

		report.Embedded += len(keys)
		report.TotalVectors = store.Size()
		if ix.Progress != nil {
			ix.Progress(report.Embedded, len(unseen))
		}
	}

	return ix.finish(report, start)
}

// load opens the persisted pair, falling back to a fresh empty store when
// the pair is absent or fails the size invariant. A corrupt pair is
// discarded wholesale, never merged.
func (ix *Indexer) load() *index.Store {
	store, err := index.Open(ix.embedder.Dimension(), ix.indexPath, ix.mapPath)
	if err == nil {
		ix.logger.Info("loaded existing index", "total_vectors", store.Size())
		return store
	}
	if errors.Is(err, index.ErrNoIndex) {
		ix.logger.Info("no existing index found, creating a new one")
	} else {
		ix.logger.Warn("discarding unreadable or inconsistent index pair, rebuilding from scratch", "error", err)
	}
	return index.New(ix.embedder.Dimension(), ix.indexPath, ix.mapPath)
}

// reconcile computes the unseen document keys: present in the source,
// absent from the identifier map, and not permanently skipped. The source
// lists lexicographically, so the result is deterministically ordered.
func (ix *Indexer) reconcile(store *index.Store) ([]string, error) {
	docs, err := ix.source.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list document source: %w", err)
	}

	known := store.Keys()
	skipped, err := ix.catalog.SkippedKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to read skipped set: %w", err)
	}

	var unseen []string
	for _, doc := range docs {
		if _, ok := known[doc.Path]; ok {
			continue
		}
		if _, ok := skipped[doc.Path]; ok {
			continue
		}
		unseen = append(unseen, doc.Path)
	}
	return unseen, nil
}

// embedBatch reads and embeds one batch. Empty documents are marked
// permanently skipped; unreadable documents are excluded from this cycle
// and stay unseen for the next one. A failed provider call skips the
// whole batch the same way.
func (ix *Indexer) embedBatch(ctx context.Context, batch []string, report *domain.CycleReport) ([]string, [][]float32) {
	texts := make([]string, 0, len(batch))
	keys := make([]string, 0, len(batch))

	for _, key := range batch {
		content, err := ix.source.Read(key)
		if err != nil {
			ix.logger.Warn("failed to read document, will retry next cycle", "path", key, "error", err)
			report.Failed++
			continue
		}
		if strings.TrimSpace(content) == "" {
			if err := ix.catalog.MarkSkipped(key, "empty content"); err != nil {
				ix.logger.Warn("failed to record skipped document", "path", key, "error", err)
			}
			report.SkippedEmpty++
			continue
		}
		texts = append(texts, content)
		keys = append(keys, key)
	}

	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		ix.logger.Warn("batch embedding failed, skipping batch", "size", len(texts), "error", err)
		report.Failed += len(texts)
		return nil, nil
	}
	if len(vectors) != len(keys) {
		ix.logger.Warn("embedding provider returned wrong vector count, skipping batch",
			"want", len(keys),
			"got", len(vectors),
		)
		report.Failed += len(keys)
		return nil, nil
	}

	return keys, vectors
}

// commit appends the batch and persists both artifacts together, index
// write before map write.
func (ix *Indexer) commit(store *index.Store, vectors [][]float32, keys []string) error {
	if err := store.Append(vectors, keys); err != nil {
		return fmt.Errorf("failed to append batch: %w", err)
	}
	if err := store.Save(); err != nil {
		return fmt.Errorf("failed to persist index pair: %w", err)
	}
	return nil
}

func (ix *Indexer) finish(report *domain.CycleReport, start time.Time) (*domain.CycleReport, error) {
	report.State = domain.StateDone
	report.Elapsed = time.Since(start)

	if !ix.opts.DryRun {
		if err := ix.catalog.RecordCycle(*report); err != nil {
			ix.logger.Warn("failed to record cycle report", "error", err)
		}
	}

	ix.logger.Info("cycle complete",
		"discovered", report.Discovered,
		"embedded", report.Embedded,
		"skipped_empty", report.SkippedEmpty,
		"failed", report.Failed,
		"total_vectors", report.TotalVectors,
		"elapsed", report.Elapsed,
	)
	return report, nil
}
