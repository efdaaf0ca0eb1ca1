package embeddings

import (
	"context"
	"strings"
	"time"

	"contextvault/internal/retry"
)

// RetryableService wraps a Service with bounded retries on transient errors.
type RetryableService struct {
	service Service
	retrier *retry.Retrier
}

// NewRetryableService wraps service with retry behavior. A nil config uses
// the embedding defaults: two attempts, 500ms base delay.
func NewRetryableService(service Service, cfg *retry.Config) Service {
	if cfg == nil {
		cfg = &retry.Config{
			MaxAttempts: 2,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    10 * time.Second,
			Multiplier:  2.0,
			Jitter:      0.2,
		}
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = isRetryableEmbeddingError
	}
	return &RetryableService{service: service, retrier: retry.New(cfg)}
}

func (s *RetryableService) Generate(ctx context.Context, text string) ([]float32, error) {
	var result []float32
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.service.Generate(ctx, text)
		return err
	})
	return result, err
}

func (s *RetryableService) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.service.GenerateBatch(ctx, texts)
		return err
	})
	return result, err
}

func (s *RetryableService) Dimension() int { return s.service.Dimension() }
func (s *RetryableService) Model() string  { return s.service.Model() }

func (s *RetryableService) Health(ctx context.Context) error {
	return s.service.Health(ctx)
}

// isRetryableEmbeddingError classifies provider errors. Auth and request
// shape problems are permanent; network and throttling errors are transient.
func isRetryableEmbeddingError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	nonRetryable := []string{
		"invalid api key",
		"unauthorized",
		"forbidden",
		"insufficient_quota",
		"invalid_request_error",
		"model not found",
		"text cannot be empty",
		"context canceled",
	}
	for _, p := range nonRetryable {
		if strings.Contains(msg, p) {
			return false
		}
	}

	retryable := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"i/o timeout",
		"eof",
		"429",
		"500",
		"502",
		"503",
		"504",
		"rate limit",
		"overloaded",
		"temporarily unavailable",
		"server_error",
	}
	for _, p := range retryable {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
