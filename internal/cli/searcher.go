package cli

import (
	"fmt"

	"retrace/internal/adapter/fs"
	"retrace/internal/adapter/keyword"
	"retrace/internal/adapter/refiner"
	"retrace/internal/port"
	"retrace/internal/usecase"
)

// buildSearcher wires the hybrid query engine from the loaded config.
// Optional capabilities that fail to construct degrade rather than abort:
// a missing index disables the semantic leg, a misconfigured refiner
// falls back to pass-through.
func buildSearcher() (*usecase.Searcher, error) {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	store := usecase.LoadStore(embedder.Dimension(), cfg.VectorIndexPath(), cfg.IdentifierMapPath(), logger)

	source := fs.NewDirSource(cfg.Paths.SourceDir, cfg.Index.Extension, cfg.Index.Includes, cfg.Index.Excludes)

	var kw port.KeywordSearcher
	if cfg.Keyword.Enabled {
		kw = keyword.NewCommandSearcher(cfg.Keyword.Command, cfg.Keyword.Args, cfg.Keyword.Timeout.Std(), logger)
	}

	var ref port.Refiner = refiner.Noop{}
	if cfg.Refiner.Enabled {
		r, err := refiner.NewOpenAIRefiner(cfg.Refiner.APIKeyEnv, cfg.Refiner.Model, cfg.Refiner.BaseURL, cfg.Refiner.Timeout.Std(), logger)
		if err != nil {
			logger.Warn("refiner unavailable, queries pass through unrefined", "error", err)
		} else {
			ref = r
		}
	}

	return usecase.NewSearcher(store, embedder, source, kw, ref, cfg.Search.Timeout.Std(), logger), nil
}
