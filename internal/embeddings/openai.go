package embeddings

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"contextvault/internal/config"
)

// modelDimensions maps known embedding models to their vector lengths.
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIService implements Service against the OpenAI embeddings API with an
// in-process cache and a token-bucket rate limiter.
type OpenAIService struct {
	client    *openai.Client
	model     string
	dimension int

	cache   map[string][]float32
	cacheMu sync.RWMutex
	maxSize int

	limiter *rateLimiter
}

// NewOpenAIService creates the embedder. The configured dimension wins over
// the model's native one so a reduced-dimension deployment stays consistent
// with the vector index.
func NewOpenAIService(cfg config.EmbeddingsConfig, dimension int) *OpenAIService {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	if dimension <= 0 {
		if d, ok := modelDimensions[cfg.Model]; ok {
			dimension = d
		} else {
			dimension = 1536
		}
	}

	rpm := cfg.RatePerMinute
	if rpm <= 0 {
		rpm = 60
	}
	maxSize := cfg.CacheSize
	if maxSize <= 0 {
		maxSize = 1000
	}

	return &OpenAIService{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dimension: dimension,
		cache:     make(map[string][]float32),
		maxSize:   maxSize,
		limiter:   newRateLimiter(rpm, time.Minute/time.Duration(rpm)),
	}
}

// Generate returns the embedding for one text, served from cache when possible.
func (s *OpenAIService) Generate(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	key := cacheKey(text)
	if cached := s.fromCache(key); cached != nil {
		return cached, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response contained no data")
	}

	embedding := resp.Data[0].Embedding
	s.toCache(key, embedding)
	return embedding, nil
}

// GenerateBatch embeds multiple texts, reusing cached entries and issuing a
// single API call for the misses.
func (s *OpenAIService) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("texts cannot be empty")
	}

	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("text at index %d is empty", i)
		}
		if cached := s.fromCache(cacheKey(text)); cached != nil {
			out[i] = cached
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      missing,
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("batch embedding request failed: %w", err)
	}
	if len(resp.Data) != len(missing) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(missing), len(resp.Data))
	}

	for i, d := range resp.Data {
		out[missingIdx[i]] = d.Embedding
		s.toCache(cacheKey(missing[i]), d.Embedding)
	}
	return out, nil
}

// Dimension reports the embedding vector length.
func (s *OpenAIService) Dimension() int { return s.dimension }

// Model reports the model name.
func (s *OpenAIService) Model() string { return s.model }

// Health embeds a short probe string to verify the provider is reachable.
func (s *OpenAIService) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := s.Generate(ctx, "health check")
	return err
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum)
}

func (s *OpenAIService) fromCache(key string) []float32 {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache[key]
}

func (s *OpenAIService) toCache(key string, embedding []float32) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if len(s.cache) >= s.maxSize {
		// Full reset keeps the cache bounded without LRU bookkeeping.
		s.cache = make(map[string][]float32)
	}
	s.cache[key] = embedding
}

// rateLimiter is a token bucket refilled at a fixed interval.
type rateLimiter struct {
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
	mu         sync.Mutex
}

func newRateLimiter(maxTokens int, refillRate time.Duration) *rateLimiter {
	return &rateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if add := int(now.Sub(rl.lastRefill) / rl.refillRate); add > 0 {
		rl.tokens = min(rl.maxTokens, rl.tokens+add)
		rl.lastRefill = now
	}
	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or the context is done.
func (rl *rateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
