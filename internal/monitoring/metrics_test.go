package monitoring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsTrack(t *testing.T) {
	m := NewMetrics()

	require.NoError(t, m.Track("search", func() error { return nil }))
	require.NoError(t, m.Track("search", func() error { return nil }))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("search", func() error { return boom }), boom)

	snap := m.Snapshot()
	stats := snap.Operations["search"]
	assert.Equal(t, int64(3), stats.Count)
	assert.Equal(t, int64(1), stats.Errors)

	_, ok := snap.Operations["never_called"]
	assert.False(t, ok)
}

func TestMetricsRecordDegradation(t *testing.T) {
	m := NewMetrics()
	assert.False(t, m.RecentDegradations(time.Minute))

	m.RecordDegradation("semantic_search", "provider timeout")
	assert.True(t, m.RecentDegradations(time.Minute))

	snap := m.Snapshot()
	require.Len(t, snap.Degradations, 1)
	assert.Equal(t, "semantic_search", snap.Degradations[0].Component)
	assert.Equal(t, "provider timeout", snap.Degradations[0].Reason)
}

func TestMetricsDegradationLogBounded(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < maxDegradationEvents+20; i++ {
		m.RecordDegradation("vector_index", fmt.Sprintf("event %d", i))
	}
	snap := m.Snapshot()
	require.Len(t, snap.Degradations, maxDegradationEvents)
	// Oldest events are evicted first.
	assert.Equal(t, "event 20", snap.Degradations[0].Reason)
}

func TestHealthChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("all_healthy", func(t *testing.T) {
		h := NewHealthChecker(NewMetrics())
		h.Register("storage", func(ctx context.Context) error { return nil })
		h.Register("vector_index", func(ctx context.Context) error { return nil })

		report := h.Check(ctx)
		assert.Equal(t, StatusHealthy, report.Status)
		assert.Equal(t, StatusHealthy, report.Components["storage"].Status)
		assert.False(t, report.CheckedAt.IsZero())
	})

	t.Run("storage_failure_is_unhealthy", func(t *testing.T) {
		h := NewHealthChecker(NewMetrics())
		h.Register("storage", func(ctx context.Context) error { return errors.New("connection refused") })
		h.Register("vector_index", func(ctx context.Context) error { return nil })

		report := h.Check(ctx)
		assert.Equal(t, StatusUnhealthy, report.Status)
		assert.Equal(t, StatusUnhealthy, report.Components["storage"].Status)
		assert.Equal(t, "connection refused", report.Components["storage"].Error)
	})

	t.Run("optional_component_failure_degrades", func(t *testing.T) {
		h := NewHealthChecker(NewMetrics())
		h.Register("storage", func(ctx context.Context) error { return nil })
		h.Register("embeddings", func(ctx context.Context) error { return errors.New("quota exceeded") })

		report := h.Check(ctx)
		assert.Equal(t, StatusDegraded, report.Status)
	})

	t.Run("storage_failure_outranks_degraded", func(t *testing.T) {
		h := NewHealthChecker(NewMetrics())
		h.Register("storage", func(ctx context.Context) error { return errors.New("down") })
		h.Register("embeddings", func(ctx context.Context) error { return errors.New("down too") })

		report := h.Check(ctx)
		assert.Equal(t, StatusUnhealthy, report.Status)
	})

	t.Run("recent_degradation_degrades", func(t *testing.T) {
		m := NewMetrics()
		m.RecordDegradation("semantic_search", "provider timeout")
		h := NewHealthChecker(m)
		h.Register("storage", func(ctx context.Context) error { return nil })

		report := h.Check(ctx)
		assert.Equal(t, StatusDegraded, report.Status)
	})

	t.Run("no_metrics_registry", func(t *testing.T) {
		h := NewHealthChecker(nil)
		h.Register("storage", func(ctx context.Context) error { return nil })
		assert.Equal(t, StatusHealthy, h.Check(ctx).Status)
	})
}
