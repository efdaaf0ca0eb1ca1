package search

import (
	"context"
	"sort"
	"sync"
	"time"

	"contextvault/internal/config"
	"contextvault/internal/embeddings"
	apperrors "contextvault/internal/errors"
	"contextvault/internal/logging"
	"contextvault/internal/vector"
	"contextvault/pkg/types"
)

// DegradationRecorder receives notice when a search modality drops out.
type DegradationRecorder interface {
	RecordDegradation(component, reason string)
}

// document is one indexed entry.
type document struct {
	internalID int64
	externalID string
	content    string
	tokens     map[string]struct{}
	metadata   map[string]interface{}
	timestamp  time.Time
	hasVector  bool
}

// Engine is the hybrid search engine. The keyword side is a process-local
// inverted index; the semantic side delegates to the vector index. Either
// side can be absent and the engine degrades to what remains.
type Engine struct {
	mu         sync.RWMutex
	nextID     int64
	docs       map[int64]*document
	byExternal map[string]int64
	inverted   map[string]map[int64]struct{}

	embedder embeddings.Service // nil means keyword-only
	index    vector.Index       // nil means keyword-only
	cfg      config.SearchConfig
	logger   logging.Logger
	degrader DegradationRecorder
}

// NewEngine creates an engine. embedder and index may both be nil, in which
// case every search runs keyword-only.
func NewEngine(cfg config.SearchConfig, embedder embeddings.Service, index vector.Index, logger logging.Logger, degrader DegradationRecorder) *Engine {
	return &Engine{
		nextID:     1,
		docs:       make(map[int64]*document),
		byExternal: make(map[string]int64),
		inverted:   make(map[string]map[int64]struct{}),
		embedder:   embedder,
		index:      index,
		cfg:        cfg,
		logger:     logger.WithComponent("search"),
		degrader:   degrader,
	}
}

// AddRequest is one document to index.
type AddRequest struct {
	ExternalID string
	Content    string
	Metadata   map[string]interface{}
	Tags       []string
	Timestamp  time.Time
}

// Add indexes one document. The keyword index always succeeds; the vector
// side is skipped when no embedder is configured and its failure is reported
// so the caller can record the omission.
func (e *Engine) Add(ctx context.Context, req AddRequest) (int64, bool, error) {
	if req.ExternalID == "" {
		return 0, false, apperrors.ErrIDRequired
	}
	if req.Content == "" {
		return 0, false, apperrors.ErrContentRequired
	}

	hasVector := false
	if e.embedder != nil && e.index != nil {
		embedding, err := e.embedder.Generate(ctx, req.Content)
		if err == nil {
			err = e.index.Upsert(ctx, []vector.Point{{
				ID:        req.ExternalID,
				Embedding: embedding,
				Payload:   map[string]string{"content": req.Content},
			}})
		}
		if err != nil {
			e.logger.WarnContext(ctx, "vector indexing omitted", "id", req.ExternalID, "error", err.Error())
			e.recordDegradation("vector_index", err.Error())
		} else {
			hasVector = true
		}
	}

	tokens := Tokenize(req.Content)
	for _, tag := range req.Tags {
		tokens = append(tokens, Tokenize(tag)...)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Re-adding an external ID replaces its previous entry.
	if prev, ok := e.byExternal[req.ExternalID]; ok {
		e.removeLocked(prev)
	}

	id := e.nextID
	e.nextID++
	doc := &document{
		internalID: id,
		externalID: req.ExternalID,
		content:    req.Content,
		tokens:     make(map[string]struct{}, len(tokens)),
		metadata:   req.Metadata,
		timestamp:  req.Timestamp,
		hasVector:  hasVector,
	}
	for _, t := range tokens {
		doc.tokens[t] = struct{}{}
		if e.inverted[t] == nil {
			e.inverted[t] = make(map[int64]struct{})
		}
		e.inverted[t][id] = struct{}{}
	}
	e.docs[id] = doc
	e.byExternal[req.ExternalID] = id

	return id, hasVector, nil
}

// AddBatch indexes multiple documents, stopping on the first hard failure.
func (e *Engine) AddBatch(ctx context.Context, reqs []AddRequest) error {
	for i := range reqs {
		if _, _, err := e.Add(ctx, reqs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes a document from both indices. Unknown IDs are a no-op on
// the keyword side so removal stays idempotent.
func (e *Engine) Remove(ctx context.Context, externalID string) error {
	e.mu.Lock()
	if id, ok := e.byExternal[externalID]; ok {
		e.removeLocked(id)
	}
	e.mu.Unlock()

	if e.index != nil {
		if err := e.index.Delete(ctx, externalID); err != nil {
			e.logger.WarnContext(ctx, "vector delete failed", "id", externalID, "error", err.Error())
		}
	}
	return nil
}

func (e *Engine) removeLocked(id int64) {
	doc, ok := e.docs[id]
	if !ok {
		return
	}
	for t := range doc.tokens {
		delete(e.inverted[t], id)
		if len(e.inverted[t]) == 0 {
			delete(e.inverted, t)
		}
	}
	delete(e.byExternal, doc.externalID)
	delete(e.docs, id)
}

// Get returns the indexed content for an external ID.
func (e *Engine) Get(externalID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if id, ok := e.byExternal[externalID]; ok {
		return e.docs[id].content, true
	}
	return "", false
}

// Count returns the number of indexed documents.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

// Query is one search request.
type Query struct {
	Text    string
	Mode    types.SearchMode
	Limit   int
	Filters []Filter
}

// Search executes a query. In hybrid mode a semantic failure degrades to
// keyword-only; in semantic mode it is an error, since the caller asked for
// vector ranking and nothing else.
func (e *Engine) Search(ctx context.Context, q Query) (*types.SearchResults, error) {
	start := time.Now()

	if q.Text == "" {
		return nil, apperrors.ErrQueryRequired
	}
	mode := q.Mode
	if mode == "" {
		mode = types.SearchModeHybrid
	}
	if !mode.Valid() {
		return nil, apperrors.NewInvalidArgument("mode", "must be semantic, keyword, or hybrid", string(mode))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit > e.cfg.MaxLimit {
		limit = e.cfg.MaxLimit
	}
	for i := range q.Filters {
		if err := q.Filters[i].Validate(); err != nil {
			return nil, apperrors.NewInvalidArgument("filters", err.Error(), nil)
		}
	}

	// Over-fetch per modality so post-fetch filtering still fills the page.
	fetch := limit * 2

	var (
		semanticScores map[int64]float64
		degraded       bool
	)
	wantSemantic := mode == types.SearchModeSemantic || mode == types.SearchModeHybrid
	if wantSemantic {
		scores, err := e.semanticScores(ctx, q.Text, fetch)
		if err != nil {
			if mode == types.SearchModeSemantic {
				return nil, err
			}
			degraded = true
			e.recordDegradation("semantic_search", err.Error())
			e.logger.WarnContext(ctx, "semantic search degraded to keyword", "error", err.Error())
		} else {
			semanticScores = scores
		}
	}

	var keywordScores map[int64]float64
	if mode == types.SearchModeKeyword || mode == types.SearchModeHybrid {
		keywordScores = e.keywordScores(q.Text, fetch)
	}

	now := time.Now().UTC()
	candidates := make(map[int64]*types.SearchResult)
	e.mu.RLock()
	for id, score := range semanticScores {
		if doc, ok := e.docs[id]; ok {
			candidates[id] = &types.SearchResult{
				InternalID:    id,
				ExternalID:    doc.externalID,
				Content:       doc.content,
				SemanticScore: score,
				RecencyScore:  RecencyScore(doc.timestamp, now),
				Metadata:      doc.metadata,
			}
		}
	}
	for id, score := range keywordScores {
		if r, ok := candidates[id]; ok {
			r.KeywordScore = score
			continue
		}
		if doc, ok := e.docs[id]; ok {
			candidates[id] = &types.SearchResult{
				InternalID:   id,
				ExternalID:   doc.externalID,
				Content:      doc.content,
				KeywordScore: score,
				RecencyScore: RecencyScore(doc.timestamp, now),
				Metadata:     doc.metadata,
			}
		}
	}
	e.mu.RUnlock()

	results := make([]types.SearchResult, 0, len(candidates))
	for _, r := range candidates {
		if !ApplyFilters(r.Metadata, q.Filters) {
			continue
		}
		r.Score = CombineScores(e.cfg, r.SemanticScore, r.KeywordScore, r.RecencyScore)
		results = append(results, *r)
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}

	return &types.SearchResults{
		Results:  results,
		Total:    len(results),
		Mode:     mode,
		Degraded: degraded,
		QueryMS:  time.Since(start).Milliseconds(),
	}, nil
}

// semanticScores embeds the query and maps vector hits back to internal IDs.
func (e *Engine) semanticScores(ctx context.Context, text string, limit int) (map[int64]float64, error) {
	if e.embedder == nil || e.index == nil {
		return nil, apperrors.New(apperrors.ErrorCodeServiceDegraded, "no embedding service configured", nil)
	}
	embedding, err := e.embedder.Generate(ctx, text)
	if err != nil {
		return nil, err
	}
	hits, err := e.index.Search(ctx, embedding, limit)
	if err != nil {
		return nil, err
	}

	scores := make(map[int64]float64, len(hits))
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, h := range hits {
		if id, ok := e.byExternal[h.ID]; ok {
			scores[id] = float64(h.Similarity)
		}
	}
	return scores, nil
}

// keywordScores scores candidates by query token coverage: matched query
// tokens over total query tokens. A document containing every query token
// scores 1.0.
func (e *Engine) keywordScores(text string, limit int) map[int64]float64 {
	queryTokens := Tokenize(text)
	if len(queryTokens) == 0 {
		return nil
	}

	e.mu.RLock()
	matched := make(map[int64]int)
	for _, t := range queryTokens {
		for id := range e.inverted[t] {
			matched[id]++
		}
	}
	e.mu.RUnlock()

	scores := make(map[int64]float64, len(matched))
	for id, n := range matched {
		scores[id] = float64(n) / float64(len(queryTokens))
	}

	// Keep only the strongest candidates when over the fetch budget.
	if len(scores) > limit {
		type pair struct {
			id    int64
			score float64
		}
		pairs := make([]pair, 0, len(scores))
		for id, s := range scores {
			pairs = append(pairs, pair{id, s})
		}
		// Highest score first, ties by internal ID ascending.
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].score != pairs[j].score {
				return pairs[i].score > pairs[j].score
			}
			return pairs[i].id < pairs[j].id
		})
		trimmed := make(map[int64]float64, limit)
		for _, p := range pairs[:limit] {
			trimmed[p.id] = p.score
		}
		return trimmed
	}
	return scores
}

func (e *Engine) recordDegradation(component, reason string) {
	if e.degrader != nil {
		e.degrader.RecordDegradation(component, reason)
	}
}
