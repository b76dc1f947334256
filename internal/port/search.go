package port

import "context"

// KeywordSearcher runs a query against the external full-text backend.
// Implementations must degrade to an empty result list on any backend
// failure instead of returning an error to the query engine.
type KeywordSearcher interface {
	// Search returns one result line per match, in the backend's own
	// relevance order.
	Search(ctx context.Context, query string) ([]string, error)
}

// Refiner rewrites a query before keyword search. Best effort: on any
// failure implementations return the original query unchanged.
type Refiner interface {
	Refine(ctx context.Context, query string) string
}
