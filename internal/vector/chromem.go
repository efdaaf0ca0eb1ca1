package vector

import (
	"context"
	"fmt"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"contextvault/internal/config"
	apperrors "contextvault/internal/errors"
	"contextvault/internal/logging"
)

// ChromemIndex is the embedded vector index. It persists to a local directory
// and needs no external service, which makes it the default backend.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimension  int
	mu         sync.Mutex
	logger     logging.Logger
}

// NewChromemIndex opens or creates the persistent collection.
func NewChromemIndex(cfg config.VectorConfig, logger logging.Logger) (*ChromemIndex, error) {
	if err := os.MkdirAll(cfg.ChromePath, 0o750); err != nil {
		return nil, fmt.Errorf("creating vector directory %s: %w", cfg.ChromePath, err)
	}

	db, err := chromem.NewPersistentDB(cfg.ChromePath, false)
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("chromem", err)
	}

	// Embeddings are supplied by the caller; the embedding func must never run.
	noEmbed := func(_ context.Context, _ string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function should not be called")
	}
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbed)
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("chromem", err)
	}

	return &ChromemIndex{
		db:         db,
		collection: collection,
		dimension:  cfg.Dimension,
		logger:     logger.WithComponent("vector"),
	}, nil
}

// Upsert inserts or replaces points.
func (c *ChromemIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		if len(p.Embedding) != c.dimension {
			return apperrors.NewInvalidArgument("embedding",
				fmt.Sprintf("dimension mismatch: got %d, want %d", len(p.Embedding), c.dimension), nil)
		}
		content := p.Payload["content"]
		if content == "" {
			content = p.ID
		}
		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Content:   content,
			Metadata:  p.Payload,
			Embedding: p.Embedding,
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Replace semantics: chromem AddDocuments rejects duplicate IDs.
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	_ = c.collection.Delete(ctx, nil, nil, ids...)
	if err := c.collection.AddDocuments(ctx, docs, 1); err != nil {
		return apperrors.NewBackendUnavailable("chromem", err)
	}
	return nil
}

// Search returns the nearest neighbors, most similar first.
func (c *ChromemIndex) Search(ctx context.Context, embedding []float32, limit int) ([]Hit, error) {
	if len(embedding) != c.dimension {
		return nil, apperrors.NewInvalidArgument("embedding",
			fmt.Sprintf("dimension mismatch: got %d, want %d", len(embedding), c.dimension), nil)
	}

	c.mu.Lock()
	count := c.collection.Count()
	if limit > count {
		limit = count
	}
	if limit <= 0 {
		c.mu.Unlock()
		return nil, nil
	}
	results, err := c.collection.QueryEmbedding(ctx, embedding, limit, nil, nil)
	c.mu.Unlock()
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("chromem", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ID:         r.ID,
			Similarity: r.Similarity,
			Payload:    r.Metadata,
		})
	}
	return hits, nil
}

// Delete removes points by ID.
func (c *ChromemIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return apperrors.NewBackendUnavailable("chromem", err)
	}
	return nil
}

// Count returns the number of stored points.
func (c *ChromemIndex) Count(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collection.Count(), nil
}

// Health reports readiness; the embedded store is healthy once open.
func (c *ChromemIndex) Health(_ context.Context) error {
	if c.db == nil || c.collection == nil {
		return apperrors.NewBackendUnavailable("chromem", fmt.Errorf("not initialized"))
	}
	return nil
}

// Close is a no-op; chromem persists on write.
func (c *ChromemIndex) Close() error {
	return nil
}
