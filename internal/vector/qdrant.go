package vector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"contextvault/internal/config"
	apperrors "contextvault/internal/errors"
	"contextvault/internal/logging"
)

// QdrantIndex is the remote vector index backend for deployments that already
// run a Qdrant instance.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     logging.Logger
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists with a
// cosine-distance vector config of the configured dimension.
func NewQdrantIndex(ctx context.Context, cfg config.VectorConfig, logger logging.Logger) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.QdrantHost,
		Port: cfg.QdrantPort,
	})
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("qdrant", err)
	}

	q := &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		logger:     logger.WithComponent("vector"),
	}
	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return apperrors.NewBackendUnavailable("qdrant", err)
	}
	for _, name := range collections {
		if name == q.collection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return apperrors.NewBackendUnavailable("qdrant", fmt.Errorf("create collection %s: %w", q.collection, err))
	}
	q.logger.Info("created qdrant collection", "collection", q.collection, "dimension", q.dimension)
	return nil
}

// Upsert inserts or replaces points.
func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if len(p.Embedding) != q.dimension {
			return apperrors.NewInvalidArgument("embedding",
				fmt.Sprintf("dimension mismatch: got %d, want %d", len(p.Embedding), q.dimension), nil)
		}
		payload := make(map[string]*qdrant.Value, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: p.ID}},
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: p.Embedding}}},
			Payload: payload,
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         qpoints,
	})
	if err != nil {
		return apperrors.NewBackendUnavailable("qdrant", err)
	}
	return nil
}

// Search returns the nearest neighbors, most similar first.
func (q *QdrantIndex) Search(ctx context.Context, embedding []float32, limit int) ([]Hit, error) {
	if len(embedding) != q.dimension {
		return nil, apperrors.NewInvalidArgument("embedding",
			fmt.Sprintf("dimension mismatch: got %d, want %d", len(embedding), q.dimension), nil)
	}
	if limit <= 0 {
		return nil, nil
	}

	scored, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperrors.NewBackendUnavailable("qdrant", err)
	}

	hits := make([]Hit, 0, len(scored))
	for _, point := range scored {
		payload := make(map[string]string, len(point.GetPayload()))
		for k, v := range point.GetPayload() {
			payload[k] = v.GetStringValue()
		}
		hits = append(hits, Hit{
			ID:         pointIDToString(point.GetId()),
			Similarity: point.GetScore(),
			Payload:    payload,
		})
	}
	return hits, nil
}

// Delete removes points by ID.
func (q *QdrantIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}}
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return apperrors.NewBackendUnavailable("qdrant", err)
	}
	return nil
}

// Count returns the number of stored points.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
	})
	if err != nil {
		return 0, apperrors.NewBackendUnavailable("qdrant", err)
	}
	return int(n), nil
}

// Health verifies the collection is reachable.
func (q *QdrantIndex) Health(ctx context.Context) error {
	if _, err := q.client.GetCollectionInfo(ctx, q.collection); err != nil {
		return apperrors.NewBackendUnavailable("qdrant", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (q *QdrantIndex) Close() error {
	// The client has no explicit close; the connection is released with it.
	return nil
}

func pointIDToString(id *qdrant.PointId) string {
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}
