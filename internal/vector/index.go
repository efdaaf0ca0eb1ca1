// Package vector provides the vector index abstraction with an embedded
// chromem backend and an optional remote Qdrant backend.
package vector

import "context"

// Point is one stored vector with its payload.
type Point struct {
	ID        string
	Embedding []float32
	Payload   map[string]string
}

// Hit is one similarity search result.
type Hit struct {
	ID         string
	Similarity float32
	Payload    map[string]string
}

// Index stores embeddings and answers nearest-neighbor queries.
type Index interface {
	// Upsert inserts or replaces points. Embedding length must match the
	// index dimension.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to limit nearest neighbors, most similar first.
	Search(ctx context.Context, embedding []float32, limit int) ([]Hit, error)

	// Delete removes points by ID. Missing IDs are not an error.
	Delete(ctx context.Context, ids ...string) error

	// Count returns the number of stored points.
	Count(ctx context.Context) (int, error)

	// Health verifies the backend is reachable.
	Health(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
