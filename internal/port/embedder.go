package port

import "context"

// Embedder generates vector embeddings for text.
// The mapping must be stable: the same text always yields the same vector,
// otherwise the persisted index stops being meaningful across restarts.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns a slice of vectors, one per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}
