// Package embeddings provides the embedding provider integration with
// caching, rate limiting, retry, and circuit breaker layers.
package embeddings

import "context"

// Service generates vector embeddings for text. A nil Service means no
// embedder is configured and search runs keyword-only.
type Service interface {
	// Generate returns the embedding for a single text.
	Generate(ctx context.Context, text string) ([]float32, error)

	// GenerateBatch returns embeddings for multiple texts in one call.
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the embedding vector length.
	Dimension() int

	// Model reports the underlying model name.
	Model() string

	// Health verifies the provider is reachable.
	Health(ctx context.Context) error
}
