package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retrace/internal/adapter/embedding"
	"retrace/internal/adapter/fs"
	"retrace/internal/domain"
	"retrace/internal/index"
	"retrace/internal/port"
)

type fakeKeyword struct {
	lines     []string
	err       error
	gotQuery  string
	gotCalled bool
}

func (f *fakeKeyword) Search(_ context.Context, query string) ([]string, error) {
	f.gotCalled = true
	f.gotQuery = query
	return f.lines, f.err
}

type fakeRefiner struct {
	refined string
}

func (f *fakeRefiner) Refine(_ context.Context, query string) string {
	if f.refined == "" {
		return query
	}
	return f.refined
}

type recordingEmbedder struct {
	port.Embedder
	gotTexts []string
}

func (r *recordingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	r.gotTexts = append(r.gotTexts, texts...)
	return r.Embedder.Embed(ctx, texts)
}

// blockingEmbedder blocks until its context is done.
type blockingEmbedder struct {
	port.Embedder
}

func (b *blockingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// buildIndexedEnv indexes the given documents and returns the loaded
// store plus the source for content resolution.
func buildIndexedEnv(t *testing.T, docs map[string]string) (*index.Store, *fs.DirSource, port.Embedder) {
	t.Helper()
	dir := t.TempDir()
	sourceDir := filepath.Join(dir, "ocr_text")
	require.NoError(t, os.MkdirAll(sourceDir, 0755))
	for name, content := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(sourceDir, name), []byte(content), 0644))
	}

	embedder := embedding.NewMockEmbedder(8)
	source := fs.NewDirSource(sourceDir, ".txt", nil, nil)

	store := index.New(embedder.Dimension(), filepath.Join(dir, "vectors.bin"), filepath.Join(dir, "idmap.json"))
	listed, err := source.List()
	require.NoError(t, err)
	for _, doc := range listed {
		content, err := source.Read(doc.Path)
		require.NoError(t, err)
		vecs, err := embedder.Embed(context.Background(), []string{content})
		require.NoError(t, err)
		require.NoError(t, store.Append(vecs, []string{doc.Path}))
	}

	return store, source, embedder
}

func TestSearch_KeywordFirstThenSemantic(t *testing.T) {
	store, source, embedder := buildIndexedEnv(t, map[string]string{
		"a.txt": "hello world",
		"c.txt": "hello there",
	})

	kw := &fakeKeyword{lines: []string{"match one", "match two"}}
	s := NewSearcher(store, embedder, source, kw, nil, time.Second, testLogger())

	results := s.Search(context.Background(), "hello world", 5)
	require.True(t, len(results) >= 3)

	assert.Equal(t, domain.SourceKeyword, results[0].Source)
	assert.Equal(t, "match one", results[0].Content)
	assert.Equal(t, domain.SourceKeyword, results[1].Source)
	assert.Equal(t, "match two", results[1].Content)

	for _, r := range results[2:] {
		assert.Equal(t, domain.SourceSemantic, r.Source)
	}
	// Semantic results resolve to original file content.
	assert.Equal(t, "hello world", results[2].Content)
}

func TestSearch_KeywordUnavailableDegradesToSemantic(t *testing.T) {
	store, source, embedder := buildIndexedEnv(t, map[string]string{
		"a.txt": "hello world",
	})

	kw := &fakeKeyword{err: fmt.Errorf("backend not installed")}
	s := NewSearcher(store, embedder, source, kw, nil, time.Second, testLogger())

	results := s.Search(context.Background(), "hello", 5)
	require.Len(t, results, 1)
	assert.Equal(t, domain.SourceSemantic, results[0].Source)
}

func TestSearch_SemanticUnavailableDegradesToKeyword(t *testing.T) {
	dir := t.TempDir()
	source := fs.NewDirSource(dir, ".txt", nil, nil)
	kw := &fakeKeyword{lines: []string{"line"}}

	s := NewSearcher(nil, embedding.NewMockEmbedder(8), source, kw, nil, time.Second, testLogger())

	results := s.Search(context.Background(), "anything", 5)
	require.Len(t, results, 1)
	assert.Equal(t, domain.SourceKeyword, results[0].Source)
}

func TestSearch_BothUnavailableYieldsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	source := fs.NewDirSource(dir, ".txt", nil, nil)

	s := NewSearcher(nil, nil, source, nil, nil, time.Second, testLogger())

	results := s.Search(context.Background(), "anything", 5)
	assert.Empty(t, results)
}

func TestSearch_RefinementFeedsKeywordOnly(t *testing.T) {
	store, source, embedder := buildIndexedEnv(t, map[string]string{
		"a.txt": "hello world",
	})

	recorder := &recordingEmbedder{Embedder: embedder}
	kw := &fakeKeyword{}
	ref := &fakeRefiner{refined: "hello world synonyms context"}

	s := NewSearcher(store, recorder, source, kw, ref, time.Second, testLogger())
	s.Search(context.Background(), "hello", 5)

	assert.Equal(t, "hello world synonyms context", kw.gotQuery,
		"keyword leg searches with the refined query")
	require.Len(t, recorder.gotTexts, 1)
	assert.Equal(t, "hello", recorder.gotTexts[0],
		"semantic leg always embeds the original query")
}

func TestSearch_SemanticLegBoundedByTimeout(t *testing.T) {
	store, source, embedder := buildIndexedEnv(t, map[string]string{
		"a.txt": "hello world",
	})

	blocking := &blockingEmbedder{Embedder: embedder}
	kw := &fakeKeyword{lines: []string{"match"}}
	s := NewSearcher(store, blocking, source, kw, nil, 50*time.Millisecond, testLogger())

	start := time.Now()
	results := s.Search(context.Background(), "hello", 5)

	assert.Less(t, time.Since(start), 5*time.Second,
		"a stuck embedder must not block the search past the leg timeout")
	require.Len(t, results, 1)
	assert.Equal(t, domain.SourceKeyword, results[0].Source)
}

func TestSearch_StaleOrdinalSkipped(t *testing.T) {
	store, source, embedder := buildIndexedEnv(t, map[string]string{
		"a.txt": "hello world",
		"b.txt": "other capture",
	})

	// Delete one backing file after indexing.
	keys := store.Keys()
	var deleted string
	for key := range keys {
		if filepath.Base(key) == "b.txt" {
			deleted = key
		}
	}
	require.NotEmpty(t, deleted)
	require.NoError(t, os.Remove(deleted))

	s := NewSearcher(store, embedder, source, nil, nil, time.Second, testLogger())
	results := s.Search(context.Background(), "hello world", 5)

	require.Len(t, results, 1)
	assert.Equal(t, "hello world", results[0].Content)
}

func TestSearch_KBoundedByIndexSize(t *testing.T) {
	store, source, embedder := buildIndexedEnv(t, map[string]string{
		"a.txt": "hello world",
		"c.txt": "hello there",
	})

	s := NewSearcher(store, embedder, source, nil, nil, time.Second, testLogger())
	results := s.Search(context.Background(), "hello", 5)

	assert.Len(t, results, 2, "at most index-size results for k=5")
	for _, r := range results {
		assert.NotZero(t, r.Score)
		assert.NotEmpty(t, r.Path)
	}
}
