// Package monitoring tracks operation counters, latency aggregates, and
// degradation events, and assembles the health snapshot both transports
// serve.
package monitoring

import (
	"context"
	"sync"
	"time"
)

// Metrics aggregates per-operation counters and latencies plus degradation
// events. All methods are safe for concurrent use.
type Metrics struct {
	mu           sync.RWMutex
	startedAt    time.Time
	counts       map[string]int64
	errors       map[string]int64
	totalLatency map[string]time.Duration
	degradations []DegradationEvent
}

// DegradationEvent records one component dropping to reduced functionality.
type DegradationEvent struct {
	Component string    `json:"component"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// maxDegradationEvents bounds the in-memory event log.
const maxDegradationEvents = 100

// NewMetrics creates an empty metrics registry.
func NewMetrics() *Metrics {
	return &Metrics{
		startedAt:    time.Now().UTC(),
		counts:       make(map[string]int64),
		errors:       make(map[string]int64),
		totalLatency: make(map[string]time.Duration),
	}
}

// RecordOperation folds one completed operation into the aggregates.
func (m *Metrics) RecordOperation(name string, duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
	m.totalLatency[name] += duration
	if err != nil {
		m.errors[name]++
	}
}

// Track wraps an operation, timing it and recording the outcome.
func (m *Metrics) Track(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.RecordOperation(name, time.Since(start), err)
	return err
}

// RecordDegradation implements the search engine's DegradationRecorder.
func (m *Metrics) RecordDegradation(component, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degradations = append(m.degradations, DegradationEvent{
		Component: component,
		Reason:    reason,
		At:        time.Now().UTC(),
	})
	if len(m.degradations) > maxDegradationEvents {
		m.degradations = m.degradations[len(m.degradations)-maxDegradationEvents:]
	}
}

// OperationStats is one operation's aggregate view.
type OperationStats struct {
	Count        int64   `json:"count"`
	Errors       int64   `json:"errors"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// Snapshot is the full metrics view served by the health endpoint.
type Snapshot struct {
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Operations    map[string]OperationStats `json:"operations"`
	Degradations  []DegradationEvent        `json:"degradations,omitempty"`
}

// Snapshot returns a copy of the current aggregates.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ops := make(map[string]OperationStats, len(m.counts))
	for name, count := range m.counts {
		stats := OperationStats{Count: count, Errors: m.errors[name]}
		if count > 0 {
			stats.AvgLatencyMS = float64(m.totalLatency[name].Milliseconds()) / float64(count)
		}
		ops[name] = stats
	}
	events := make([]DegradationEvent, len(m.degradations))
	copy(events, m.degradations)
	return Snapshot{
		UptimeSeconds: int64(time.Since(m.startedAt).Seconds()),
		Operations:    ops,
		Degradations:  events,
	}
}

// RecentDegradations reports whether any degradation happened in the window.
func (m *Metrics) RecentDegradations(window time.Duration) bool {
	cutoff := time.Now().UTC().Add(-window)
	m.mu.RLock()
	defer m.mu.RUnlock()
	// Events are appended in order, so only the newest can be in the window.
	if n := len(m.degradations); n > 0 {
		return m.degradations[n-1].At.After(cutoff)
	}
	return false
}

// ComponentChecker probes one dependency.
type ComponentChecker func(ctx context.Context) error

// HealthChecker aggregates component probes into an overall status.
type HealthChecker struct {
	mu       sync.RWMutex
	checkers map[string]ComponentChecker
	metrics  *Metrics
}

// ComponentHealth is one component's probe result.
type ComponentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthReport is the assembled health response.
type HealthReport struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Metrics    Snapshot                   `json:"metrics"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// NewHealthChecker creates a checker over the metrics registry.
func NewHealthChecker(metrics *Metrics) *HealthChecker {
	return &HealthChecker{checkers: make(map[string]ComponentChecker), metrics: metrics}
}

// Register adds a component probe.
func (h *HealthChecker) Register(name string, checker ComponentChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Check probes every component. The overall status is unhealthy when the
// storage backend fails, degraded when any optional component fails or
// degradation was seen recently, healthy otherwise.
func (h *HealthChecker) Check(ctx context.Context) *HealthReport {
	h.mu.RLock()
	checkers := make(map[string]ComponentChecker, len(h.checkers))
	for name, c := range h.checkers {
		checkers[name] = c
	}
	h.mu.RUnlock()

	report := &HealthReport{
		Status:     StatusHealthy,
		Components: make(map[string]ComponentHealth, len(checkers)),
		CheckedAt:  time.Now().UTC(),
	}
	for name, checker := range checkers {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := checker(probeCtx)
		cancel()
		if err != nil {
			report.Components[name] = ComponentHealth{Status: StatusUnhealthy, Error: err.Error()}
			if name == "storage" {
				report.Status = StatusUnhealthy
			} else if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
			continue
		}
		report.Components[name] = ComponentHealth{Status: StatusHealthy}
	}

	if h.metrics != nil {
		report.Metrics = h.metrics.Snapshot()
		if report.Status == StatusHealthy && h.metrics.RecentDegradations(5*time.Minute) {
			report.Status = StatusDegraded
		}
	}
	return report
}
