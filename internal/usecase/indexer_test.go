package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrace/internal/adapter/embedding"
	"retrace/internal/adapter/fs"
	"retrace/internal/adapter/state"
	"retrace/internal/domain"
	"retrace/internal/index"
	"retrace/internal/port"
)

type testEnv struct {
	sourceDir string
	indexPath string
	mapPath   string
	catalog   *state.Catalog
	source    *fs.DirSource
	embedder  port.Embedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	sourceDir := filepath.Join(dir, "ocr_text")
	require.NoError(t, os.MkdirAll(sourceDir, 0755))

	catalog, err := state.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	return &testEnv{
		sourceDir: sourceDir,
		indexPath: filepath.Join(dir, "vectors.bin"),
		mapPath:   filepath.Join(dir, "idmap.json"),
		catalog:   catalog,
		source:    fs.NewDirSource(sourceDir, ".txt", nil, nil),
		embedder:  embedding.NewMockEmbedder(8),
	}
}

func (e *testEnv) writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.sourceDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func (e *testEnv) newIndexer(opts IndexerOptions) *Indexer {
	return NewIndexer(e.source, e.embedder, e.catalog, e.indexPath, e.mapPath, opts, testLogger())
}

func (e *testEnv) openStore(t *testing.T) *index.Store {
	t.Helper()
	store, err := index.Open(e.embedder.Dimension(), e.indexPath, e.mapPath)
	require.NoError(t, err)
	return store
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_EmptyDocumentSkippedPermanently(t *testing.T) {
	env := newTestEnv(t)
	aPath := env.writeDoc(t, "a.txt", "hello world")
	env.writeDoc(t, "b.txt", "   ")
	cPath := env.writeDoc(t, "c.txt", "hello there")

	report, err := env.newIndexer(IndexerOptions{BatchSize: 2}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.StateDone, report.State)
	assert.Equal(t, 3, report.Discovered)
	assert.Equal(t, 2, report.Embedded)
	assert.Equal(t, 1, report.SkippedEmpty)
	assert.Equal(t, 2, report.TotalVectors)

	store := env.openStore(t)
	require.Equal(t, 2, store.Size())
	key, _ := store.Resolve(0)
	assert.Equal(t, aPath, key)
	key, _ = store.Resolve(1)
	assert.Equal(t, cPath, key)

	// The empty document stays skipped in the next cycle, not retried.
	report, err = env.newIndexer(IndexerOptions{BatchSize: 2}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Discovered)
	assert.Equal(t, 0, report.SkippedEmpty)
}

func TestRun_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.writeDoc(t, "a.txt", "first capture")
	env.writeDoc(t, "b.txt", "second capture")

	_, err := env.newIndexer(IndexerOptions{BatchSize: 10}).Run(context.Background())
	require.NoError(t, err)

	report, err := env.newIndexer(IndexerOptions{BatchSize: 10}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Discovered)
	assert.Equal(t, 0, report.Embedded)
	assert.Equal(t, 2, report.TotalVectors)
}

func TestRun_CapPreservesOrdering(t *testing.T) {
	env := newTestEnv(t)
	aPath := env.writeDoc(t, "a.txt", "alpha")
	bPath := env.writeDoc(t, "b.txt", "bravo")
	cPath := env.writeDoc(t, "c.txt", "charlie")

	report, err := env.newIndexer(IndexerOptions{BatchSize: 10, MaxDocs: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Embedded)

	store := env.openStore(t)
	require.Equal(t, 1, store.Size())
	key, _ := store.Resolve(0)
	assert.Equal(t, aPath, key, "earliest-ordered document processed first")

	// Next cycle without a cap picks up the remainder in order.
	report, err = env.newIndexer(IndexerOptions{BatchSize: 10}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Embedded)

	store = env.openStore(t)
	require.Equal(t, 3, store.Size())
	key, _ = store.Resolve(1)
	assert.Equal(t, bPath, key)
	key, _ = store.Resolve(2)
	assert.Equal(t, cPath, key)
}

func TestRun_ResumableAfterInterruption(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.writeDoc(t, fmt.Sprintf("doc%d.txt", i), fmt.Sprintf("capture number %d", i))
	}

	// Simulate a process killed after the first committed batch: only the
	// first two documents make it to disk.
	_, err := env.newIndexer(IndexerOptions{BatchSize: 2, MaxDocs: 2}).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, env.openStore(t).Size())

	// Restarted run finishes the remainder.
	_, err = env.newIndexer(IndexerOptions{BatchSize: 2}).Run(context.Background())
	require.NoError(t, err)

	interrupted := env.openStore(t)

	// Uninterrupted reference run over the same documents.
	ref := newTestEnv(t)
	for i := 0; i < 5; i++ {
		ref.writeDoc(t, fmt.Sprintf("doc%d.txt", i), fmt.Sprintf("capture number %d", i))
	}
	_, err = ref.newIndexer(IndexerOptions{BatchSize: 2}).Run(context.Background())
	require.NoError(t, err)
	reference := ref.openStore(t)

	require.Equal(t, reference.Size(), interrupted.Size())
	for i := 0; i < reference.Size(); i++ {
		refKey, _ := reference.Resolve(i)
		gotKey, _ := interrupted.Resolve(i)
		assert.Equal(t, filepath.Base(refKey), filepath.Base(gotKey),
			"document-to-ordinal pairing must survive interruption")
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.writeDoc(t, "a.txt", "hello")

	report, err := env.newIndexer(IndexerOptions{BatchSize: 10, DryRun: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Discovered)
	assert.Equal(t, 0, report.Embedded)
	assert.True(t, report.DryRun)

	_, err = index.Open(env.embedder.Dimension(), env.indexPath, env.mapPath)
	assert.ErrorIs(t, err, index.ErrNoIndex)
}

func TestRun_EmptySourceIsNormal(t *testing.T) {
	env := newTestEnv(t)

	report, err := env.newIndexer(IndexerOptions{BatchSize: 10}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, report.State)
	assert.Equal(t, 0, report.Discovered)
}

func TestRun_CorruptPairRebuiltFromScratch(t *testing.T) {
	env := newTestEnv(t)
	env.writeDoc(t, "a.txt", "hello world")

	require.NoError(t, os.WriteFile(env.indexPath, []byte("garbage"), 0644))
	require.NoError(t, os.WriteFile(env.mapPath, []byte("garbage"), 0644))

	report, err := env.newIndexer(IndexerOptions{BatchSize: 10}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Embedded)
	assert.Equal(t, 1, report.TotalVectors)

	store := env.openStore(t)
	assert.Equal(t, 1, store.Size())
}

// flakyEmbedder fails whole batches containing a poisoned text.
type flakyEmbedder struct {
	inner  port.Embedder
	poison string
}

func (f *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if text == f.poison {
			return nil, fmt.Errorf("provider rejected batch")
		}
	}
	return f.inner.Embed(ctx, texts)
}

func (f *flakyEmbedder) Dimension() int    { return f.inner.Dimension() }
func (f *flakyEmbedder) ModelName() string { return "flaky" }

func TestRun_BatchFailureDoesNotAbortCycle(t *testing.T) {
	env := newTestEnv(t)
	env.writeDoc(t, "a.txt", "fine")
	env.writeDoc(t, "b.txt", "poisoned")
	env.writeDoc(t, "c.txt", "also fine")

	flaky := &flakyEmbedder{inner: env.embedder, poison: "poisoned"}
	indexer := NewIndexer(env.source, flaky, env.catalog, env.indexPath, env.mapPath,
		IndexerOptions{BatchSize: 1}, testLogger())

	report, err := indexer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Embedded)
	assert.Equal(t, 1, report.Failed)

	// The failed document is still unseen and retried next cycle.
	report, err = env.newIndexer(IndexerOptions{BatchSize: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Discovered)
	assert.Equal(t, 1, report.Embedded)
	assert.Equal(t, 3, report.TotalVectors)
}

// slowEmbedder delays every batch by a fixed amount.
type slowEmbedder struct {
	inner port.Embedder
	delay time.Duration
}

func (s *slowEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	time.Sleep(s.delay)
	return s.inner.Embed(ctx, texts)
}

func (s *slowEmbedder) Dimension() int    { return s.inner.Dimension() }
func (s *slowEmbedder) ModelName() string { return "slow" }

func TestRun_TimeBudgetFlushesInFlightBatch(t *testing.T) {
	env := newTestEnv(t)
	aPath := env.writeDoc(t, "a.txt", "alpha")
	env.writeDoc(t, "b.txt", "bravo")
	env.writeDoc(t, "c.txt", "charlie")

	// The budget expires during the first batch: that batch must still be
	// embedded and committed, and no further batch may start.
	slow := &slowEmbedder{inner: env.embedder, delay: 60 * time.Millisecond}
	indexer := NewIndexer(env.source, slow, env.catalog, env.indexPath, env.mapPath,
		IndexerOptions{BatchSize: 1, TimeBudget: 20 * time.Millisecond}, testLogger())

	report, err := indexer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, report.State)
	assert.Equal(t, 1, report.Embedded)
	assert.Equal(t, 1, report.TotalVectors)

	store := env.openStore(t)
	require.Equal(t, 1, store.Size())
	key, _ := store.Resolve(0)
	assert.Equal(t, aPath, key)

	// The next cycle without a budget picks up the remainder.
	report, err = env.newIndexer(IndexerOptions{BatchSize: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Embedded)
	assert.Equal(t, 3, report.TotalVectors)
}

// cancellingEmbedder cancels the given context after the first batch, as
// if the process received an interrupt mid-cycle.
type cancellingEmbedder struct {
	inner  port.Embedder
	cancel context.CancelFunc
}

func (c *cancellingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	defer c.cancel()
	return c.inner.Embed(ctx, texts)
}

func (c *cancellingEmbedder) Dimension() int    { return c.inner.Dimension() }
func (c *cancellingEmbedder) ModelName() string { return "cancelling" }

func TestRun_InterruptKeepsCommittedBatches(t *testing.T) {
	env := newTestEnv(t)
	aPath := env.writeDoc(t, "a.txt", "alpha")
	env.writeDoc(t, "b.txt", "bravo")
	env.writeDoc(t, "c.txt", "charlie")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	embedder := &cancellingEmbedder{inner: env.embedder, cancel: cancel}
	indexer := NewIndexer(env.source, embedder, env.catalog, env.indexPath, env.mapPath,
		IndexerOptions{BatchSize: 1}, testLogger())

	report, err := indexer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDone, report.State)
	assert.Equal(t, 1, report.Embedded)

	store := env.openStore(t)
	require.Equal(t, 1, store.Size())
	key, _ := store.Resolve(0)
	assert.Equal(t, aPath, key, "the in-flight batch is committed before stopping")

	// A fresh cycle resumes from the last durable commit.
	report, err = env.newIndexer(IndexerOptions{BatchSize: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Discovered)
	assert.Equal(t, 2, report.Embedded)
	assert.Equal(t, 3, report.TotalVectors)
}

// readErrorSource fails reads for one path.
type readErrorSource struct {
	port.DocumentSource
	failPath string
}

func (s *readErrorSource) Read(path string) (string, error) {
	if path == s.failPath {
		return "", fmt.Errorf("permission denied")
	}
	return s.DocumentSource.Read(path)
}

func TestRun_UnreadableDocumentExcludedNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.writeDoc(t, "a.txt", "fine")
	badPath := env.writeDoc(t, "b.txt", "unreadable")

	source := &readErrorSource{DocumentSource: env.source, failPath: badPath}
	indexer := NewIndexer(source, env.embedder, env.catalog, env.indexPath, env.mapPath,
		IndexerOptions{BatchSize: 10}, testLogger())

	report, err := indexer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Embedded)
	assert.Equal(t, 1, report.Failed)

	// Once readable again, the document is picked up.
	report, err = env.newIndexer(IndexerOptions{BatchSize: 10}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Embedded)
}
