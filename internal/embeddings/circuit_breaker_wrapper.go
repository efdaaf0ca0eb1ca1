package embeddings

import (
	"context"
	"fmt"

	"contextvault/internal/circuitbreaker"
	"contextvault/internal/logging"
)

// CircuitBreakerService wraps a Service with a circuit breaker so a failing
// provider fails fast instead of stalling every write.
type CircuitBreakerService struct {
	service Service
	breaker *circuitbreaker.Breaker
}

// NewCircuitBreakerService wraps service with breaker protection. A nil
// config uses the service defaults: 5 failures, 60s recovery.
func NewCircuitBreakerService(service Service, cfg *circuitbreaker.Config, logger logging.Logger) *CircuitBreakerService {
	if cfg == nil {
		cfg = circuitbreaker.DefaultConfig()
	}
	if cfg.OnStateChange == nil && logger != nil {
		log := logger.WithComponent("embeddings")
		cfg.OnStateChange = func(from, to circuitbreaker.State) {
			log.Warn("embedding circuit state changed", "from", from.String(), "to", to.String())
		}
	}
	return &CircuitBreakerService{service: service, breaker: circuitbreaker.New(cfg)}
}

func (s *CircuitBreakerService) Generate(ctx context.Context, text string) ([]float32, error) {
	var result []float32
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.service.Generate(ctx, text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embedding service: %w", err)
	}
	return result, nil
}

func (s *CircuitBreakerService) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.service.GenerateBatch(ctx, texts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embedding service: %w", err)
	}
	return result, nil
}

func (s *CircuitBreakerService) Dimension() int { return s.service.Dimension() }
func (s *CircuitBreakerService) Model() string  { return s.service.Model() }

func (s *CircuitBreakerService) Health(ctx context.Context) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.service.Health(ctx)
	})
}

// BreakerStats exposes the breaker counters for health reporting.
func (s *CircuitBreakerService) BreakerStats() circuitbreaker.Stats {
	return s.breaker.GetStats()
}
