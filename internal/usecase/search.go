package usecase

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"retrace/internal/domain"
	"retrace/internal/index"
	"retrace/internal/port"
)

// Searcher orchestrates query refinement, keyword search and semantic
// search, concatenating the two result streams without cross-source
// re-ranking: keyword results first in the backend's relevance order,
// then semantic results in distance order. Each leg degrades to an empty
// result list on failure; a search never returns an error to the caller.
type Searcher struct {
	store    *index.Store // nil when the index pair failed to load
	embedder port.Embedder
	source   port.DocumentSource
	keyword  port.KeywordSearcher // nil when the backend is disabled
	refiner  port.Refiner
	logger   *slog.Logger
	timeout  time.Duration // per-leg budget
}

// NewSearcher creates a hybrid searcher. The store holds an in-memory
// snapshot of the index pair; a concurrent indexer commit is not observed
// until the searcher is rebuilt.
func NewSearcher(
	store *index.Store,
	embedder port.Embedder,
	source port.DocumentSource,
	keyword port.KeywordSearcher,
	refiner port.Refiner,
	timeout time.Duration,
	logger *slog.Logger,
) *Searcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		store:    store,
		embedder: embedder,
		source:   source,
		keyword:  keyword,
		refiner:  refiner,
		logger:   logger,
		timeout:  timeout,
	}
}

// LoadStore opens the index pair for searching. When the pair is absent
// or inconsistent, semantic search degrades to "unavailable" and nil is
// returned.
func LoadStore(dimension int, indexPath, mapPath string, logger *slog.Logger) *index.Store {
	store, err := index.Open(dimension, indexPath, mapPath)
	if err != nil {
		if logger != nil {
			logger.Warn("vector index unavailable, semantic search disabled", "error", err)
		}
		return nil
	}
	return store
}

// Search runs the hybrid query. The keyword leg searches with the refined
// query; the semantic leg always uses the original query and never waits
// on refinement. Both legs run concurrently under their own timeout.
func (s *Searcher) Search(ctx context.Context, query string, k int) []domain.Result {
	var keywordResults, semanticResults []domain.Result

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		legCtx, cancel := context.WithTimeout(gctx, s.timeout)
		defer cancel()
		keywordResults = s.keywordSearch(legCtx, query)
		return nil
	})

	g.Go(func() error {
		legCtx, cancel := context.WithTimeout(gctx, s.timeout)
		defer cancel()
		semanticResults = s.semanticSearch(legCtx, query, k)
		return nil
	})

	_ = g.Wait() // legs never return errors, they degrade to empty results

	return append(keywordResults, semanticResults...)
}

func (s *Searcher) keywordSearch(ctx context.Context, query string) []domain.Result {
	if s.keyword == nil {
		return nil
	}

	refined := query
	if s.refiner != nil {
		refined = s.refiner.Refine(ctx, query)
	}

	lines, err := s.keyword.Search(ctx, refined)
	if err != nil {
		s.logger.Warn("keyword search failed", "error", err)
		return nil
	}

	results := make([]domain.Result, 0, len(lines))
	for _, line := range lines {
		results = append(results, domain.Result{
			Source:  domain.SourceKeyword,
			Content: line,
		})
	}
	return results
}

func (s *Searcher) semanticSearch(ctx context.Context, query string, k int) []domain.Result {
	if s.store == nil || s.embedder == nil {
		s.logger.Debug("semantic search unavailable, skipping")
		return nil
	}

	embeddings, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(embeddings) == 0 {
		s.logger.Warn("failed to embed query, skipping semantic search", "error", err)
		return nil
	}

	hits, err := s.store.Search(embeddings[0], k)
	if err != nil {
		s.logger.Warn("vector search failed", "error", err)
		return nil
	}

	results := make([]domain.Result, 0, len(hits))
	for _, hit := range hits {
		key, ok := s.store.Resolve(hit.Ordinal)
		if !ok {
			continue
		}
		content, err := s.source.Read(key)
		if err != nil {
			// Backing file may have been deleted after indexing. Skip this
			// one result; stale ordinals are not actively pruned.
			s.logger.Warn("failed to resolve semantic result", "path", key, "error", err)
			continue
		}
		results = append(results, domain.Result{
			Source:  domain.SourceSemantic,
			Content: content,
			Path:    key,
			Score:   hit.Score,
		})
	}
	return results
}
