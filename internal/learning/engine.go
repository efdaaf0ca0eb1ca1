// Package learning adapts the analyzer's thresholds from user feedback.
// All state lives in the preference store under the learning category, so it
// survives restarts and is inspectable like any other preference.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"contextvault/internal/config"
	apperrors "contextvault/internal/errors"
	"contextvault/internal/logging"
	"contextvault/pkg/types"
)

// Preference keys used by the engine, namespaced per category or bucket.
const (
	statsKeyPrefix       = "learning.stats."
	calibrationKeyPrefix = "learning.calibration."
	thresholdKeyPrefix   = "learning.threshold.auto_store."
)

// PreferenceStore is the slice of the record repository the engine needs.
type PreferenceStore interface {
	GetPreference(ctx context.Context, key, category string) (*types.Preference, error)
	SetPreference(ctx context.Context, pref *types.Preference) error
}

// Engine processes feedback and serves the effective thresholds.
type Engine struct {
	cfg      config.LearningConfig
	defaults config.AnalysisConfig
	store    PreferenceStore
	logger   logging.Logger
	mu       sync.Mutex
}

// NewEngine creates a learning engine.
func NewEngine(cfg config.LearningConfig, defaults config.AnalysisConfig, store PreferenceStore, logger logging.Logger) *Engine {
	return &Engine{cfg: cfg, defaults: defaults, store: store, logger: logger.WithComponent("learning")}
}

// ProcessFeedback folds one feedback event into the per-category statistics,
// the calibration buckets, and, with enough samples, the auto-store
// threshold. Persistence failures are logged and swallowed: learning must
// never fail a user-facing operation.
func (e *Engine) ProcessFeedback(ctx context.Context, fb *types.Feedback) error {
	if err := fb.Validate(); err != nil {
		return apperrors.NewInvalidArgument("feedback", err.Error(), nil)
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = time.Now().UTC()
	}
	category := fb.Category
	if category == "" {
		category = types.CategoryUnknown
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	stats := e.loadStats(ctx, category)
	stats.Total++
	positive := false
	switch fb.Type {
	case types.FeedbackApproval, types.FeedbackPositive:
		stats.Approvals++
		positive = true
	case types.FeedbackModification:
		// Stored but corrected: counts toward both columns.
		stats.Approvals++
		stats.Modifications++
		positive = true
	case types.FeedbackRejection, types.FeedbackNegative:
		stats.Rejections++
	case types.FeedbackPreferenceUpdate:
		// Pure preference writes carry no approval signal.
		stats.Total--
	}
	e.saveJSON(ctx, statsKeyPrefix+string(category), stats)

	if confidence, ok := feedbackConfidence(fb); ok {
		cal := e.updateCalibration(ctx, category, confidence, positive)
		e.maybeAdjustThreshold(ctx, category, confidence, cal)
	}
	return nil
}

// feedbackConfidence pulls the predicted confidence out of the feedback
// context, when the caller supplied one.
func feedbackConfidence(fb *types.Feedback) (float64, bool) {
	v, ok := fb.Context["confidence"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, n >= 0 && n <= 1
	case float32:
		return float64(n), n >= 0 && n <= 1
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && f >= 0 && f <= 1
	}
	return 0, false
}

// updateCalibration folds one observation into its category's 0.1-wide
// bucket and returns the updated bucket. Buckets are tracked per category so
// mis-calibration in one category never moves another category's threshold.
func (e *Engine) updateCalibration(ctx context.Context, category types.Category, confidence float64, positive bool) *types.CalibrationBucket {
	key := calibrationKey(category, confidence)
	cal := &types.CalibrationBucket{}
	e.loadJSON(ctx, key, cal)

	cal.Samples++
	cal.PredictedPositive += confidence
	if positive {
		cal.ActualPositive++
	}
	e.saveJSON(ctx, key, cal)
	return cal
}

// calibrationKey names a category's bucket: learning.calibration.solution.0.6.
func calibrationKey(category types.Category, confidence float64) string {
	return calibrationKeyPrefix + string(category) + "." + bucketLabel(confidence)
}

// bucketLabel maps a confidence to its bucket name: 0.67 -> "0.6".
func bucketLabel(confidence float64) string {
	b := int(confidence * 10)
	if b >= 10 {
		b = 9
	}
	return fmt.Sprintf("0.%d", b)
}

// maybeAdjustThreshold moves the category's auto-store threshold by one step
// when a calibration bucket shows the analyzer's predictions off from the
// observed approvals: an actual rate below half the predicted mean raises
// the threshold, above one and a half times lowers it. Requires the minimum
// sample count in the bucket; the threshold never exceeds the configured
// ceiling and never drops below the suggest threshold.
func (e *Engine) maybeAdjustThreshold(ctx context.Context, category types.Category, confidence float64, cal *types.CalibrationBucket) {
	if cal.Samples < e.cfg.MinSamples {
		return
	}
	predicted := cal.PredictedPositive / float64(cal.Samples)
	if predicted <= 0 {
		return
	}
	actual := cal.ActualPositive / float64(cal.Samples)
	current := e.autoStoreThreshold(ctx, category)

	switch {
	case actual < 0.5*predicted:
		current += e.cfg.AdjustmentStep
	case actual > 1.5*predicted:
		current -= e.cfg.AdjustmentStep
	default:
		return
	}
	if current > e.cfg.MaxThreshold {
		current = e.cfg.MaxThreshold
	}
	if current < e.defaults.SuggestThreshold {
		current = e.defaults.SuggestThreshold
	}
	e.saveJSON(ctx, thresholdKeyPrefix+string(category), current)
	e.logger.InfoContext(ctx, "auto-store threshold adjusted",
		"category", string(category), "bucket", bucketLabel(confidence),
		"threshold", current, "predicted", predicted, "actual", actual)
}

// ThresholdsFor returns the effective thresholds for a category. Precedence:
// learned per-category threshold, then a config.* runtime preference
// override, then the config default.
func (e *Engine) ThresholdsFor(ctx context.Context, category types.Category) types.Thresholds {
	return types.Thresholds{
		AutoStore: e.autoStoreThreshold(ctx, category),
		Suggest:   e.suggestThreshold(ctx),
	}
}

func (e *Engine) autoStoreThreshold(ctx context.Context, category types.Category) float64 {
	var learned float64
	if e.loadJSON(ctx, thresholdKeyPrefix+string(category), &learned) && learned > 0 {
		return learned
	}
	if override, ok := e.runtimeOverride(ctx, "config.auto_store_threshold"); ok {
		return override
	}
	return e.defaults.AutoStoreThreshold
}

func (e *Engine) suggestThreshold(ctx context.Context) float64 {
	if override, ok := e.runtimeOverride(ctx, "config.suggest_threshold"); ok {
		return override
	}
	return e.defaults.SuggestThreshold
}

// runtimeOverride reads a config.* preference written by the user. Values
// take effect on the next request.
func (e *Engine) runtimeOverride(ctx context.Context, key string) (float64, bool) {
	pref, err := e.store.GetPreference(ctx, key, types.PreferenceCategoryGeneral)
	if err != nil {
		return 0, false
	}
	switch v := pref.Value.(type) {
	case float64:
		if v >= 0 && v <= 1 {
			return v, true
		}
	case json.Number:
		if f, err := v.Float64(); err == nil && f >= 0 && f <= 1 {
			return f, true
		}
	}
	return 0, false
}

// StatsFor returns the accumulated feedback counters for a category.
func (e *Engine) StatsFor(ctx context.Context, category types.Category) *types.CategoryStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadStats(ctx, category)
}

// CalibrationFor returns one category bucket's observations.
func (e *Engine) CalibrationFor(ctx context.Context, category types.Category, confidence float64) *types.CalibrationBucket {
	cal := &types.CalibrationBucket{}
	e.loadJSON(ctx, calibrationKey(category, confidence), cal)
	return cal
}

func (e *Engine) loadStats(ctx context.Context, category types.Category) *types.CategoryStats {
	stats := &types.CategoryStats{}
	e.loadJSON(ctx, statsKeyPrefix+string(category), stats)
	return stats
}

// loadJSON reads a learning preference into dst, reporting whether a value
// was found.
func (e *Engine) loadJSON(ctx context.Context, key string, dst interface{}) bool {
	pref, err := e.store.GetPreference(ctx, key, types.PreferenceCategoryLearning)
	if err != nil {
		return false
	}
	raw, err := json.Marshal(pref.Value)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (e *Engine) saveJSON(ctx context.Context, key string, value interface{}) {
	err := e.store.SetPreference(ctx, &types.Preference{
		Key:       key,
		Value:     value,
		Category:  types.PreferenceCategoryLearning,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		e.logger.WarnContext(ctx, "failed to persist learning state", "key", key, "error", err.Error())
	}
}
