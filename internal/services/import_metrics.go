package services

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/metrics"
	"github.com/RamonSouzaHeavens/azera-crm-sub003/internal/models"
)

// ImportMetrics aggregates run outcomes in process and forwards them to a
// metrics backend
type ImportMetrics struct {
	mu                sync.RWMutex
	TotalRuns         int64                   `json:"total_runs"`
	RunsByState       map[models.RunState]int `json:"runs_by_state"`
	RowsImported      int64                   `json:"rows_imported"`
	RowsSkipped       int64                   `json:"rows_skipped"`
	RowsErrored       int64                   `json:"rows_errored"`
	BatchesOK         map[string]int64        `json:"batches_ok"`
	BatchesFailed     map[string]int64        `json:"batches_failed"`
	AIFailures        int64                   `json:"ai_failures"`
	DimensionsCreated int64                   `json:"dimensions_created"`
	AvgRunSeconds     float64                 `json:"avg_run_seconds"`
	FailureStreak     int                     `json:"failure_streak"`
	AlertThresholds   *ImportAlertThresholds  `json:"alert_thresholds"`
	LastUpdated       time.Time               `json:"last_updated"`

	backend metrics.Backend
	logger  *zap.Logger
}

// ImportAlertThresholds defines when CheckAlerts reports a problem
type ImportAlertThresholds struct {
	MinRowSuccessRate float64 `json:"min_row_success_rate"` // imported / (imported+skipped+errored)
	MaxFailureStreak  int     `json:"max_failure_streak"`   // consecutive failed runs
	MaxRunSeconds     float64 `json:"max_run_seconds"`
}

// ImportAlert represents an alert condition
type ImportAlert struct {
	Type      string    `json:"type"`     // row_success_rate|failure_streak|run_duration
	Severity  string    `json:"severity"` // warning|error
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

var globalImportMetrics *ImportMetrics
var importMetricsOnce sync.Once

// GetImportMetrics returns the global metrics instance
func GetImportMetrics() *ImportMetrics {
	importMetricsOnce.Do(func() {
		globalImportMetrics = NewImportMetrics(nil, nil)
	})
	return globalImportMetrics
}

// NewImportMetrics creates an aggregate that forwards to backend
func NewImportMetrics(backend metrics.Backend, logger *zap.Logger) *ImportMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportMetrics{
		RunsByState:   make(map[models.RunState]int),
		BatchesOK:     make(map[string]int64),
		BatchesFailed: make(map[string]int64),
		AlertThresholds: &ImportAlertThresholds{
			MinRowSuccessRate: 0.8,
			MaxFailureStreak:  3,
			MaxRunSeconds:     900,
		},
		LastUpdated: time.Now(),
		backend:     metrics.OrNop(backend),
		logger:      logger,
	}
}

// SetBackend replaces the forwarding backend
func (im *ImportMetrics) SetBackend(backend metrics.Backend, logger *zap.Logger) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.backend = metrics.OrNop(backend)
	if logger != nil {
		im.logger = logger
	}
}

// RecordBatch records one persistence or normalization batch
func (im *ImportMetrics) RecordBatch(stage string, success bool) {
	im.mu.Lock()
	defer im.mu.Unlock()

	status := "ok"
	if success {
		im.BatchesOK[stage]++
	} else {
		im.BatchesFailed[stage]++
		status = "failed"
	}
	im.LastUpdated = time.Now()
	im.backend.IncCounter(metrics.BatchesTotal, 1, metrics.Labels{"stage": stage, "status": status})
}

// RecordRun records a finished run
func (im *ImportMetrics) RecordRun(state models.RunState, result models.ImportResult, duration time.Duration) {
	im.mu.Lock()
	defer im.mu.Unlock()

	im.TotalRuns++
	im.RunsByState[state]++
	im.RowsImported += int64(result.Imported)
	im.RowsSkipped += int64(len(result.Skipped))
	im.RowsErrored += int64(len(result.Errors))
	im.AIFailures += int64(len(result.AIFailures))
	im.DimensionsCreated += int64(result.DimensionsCreated)

	if state == models.RunStateCompleted {
		im.FailureStreak = 0
	} else if state == models.RunStateFailed {
		im.FailureStreak++
	}

	seconds := duration.Seconds()
	if im.AvgRunSeconds == 0 {
		im.AvgRunSeconds = seconds
	} else {
		// Exponential moving average
		im.AvgRunSeconds = 0.8*im.AvgRunSeconds + 0.2*seconds
	}
	im.LastUpdated = time.Now()

	im.backend.IncCounter(metrics.RunsTotal, 1, metrics.Labels{"status": string(state)})
	im.backend.IncCounter(metrics.RowsTotal, float64(result.Imported), metrics.Labels{"kind": "imported"})
	im.backend.IncCounter(metrics.RowsTotal, float64(len(result.Skipped)), metrics.Labels{"kind": "skipped"})
	im.backend.IncCounter(metrics.RowsTotal, float64(len(result.Errors)), metrics.Labels{"kind": "errored"})
	im.backend.IncCounter(metrics.AIFailuresTotal, float64(len(result.AIFailures)), nil)
	im.backend.IncCounter(metrics.DimensionsCreated, float64(result.DimensionsCreated), nil)
	im.backend.ObserveHistogram(metrics.RunDuration, seconds, metrics.Labels{"status": string(state)})

	im.logger.Info("Recorded import run",
		zap.String("run_id", result.RunID),
		zap.String("state", string(state)),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("errored", len(result.Errors)),
		zap.Float64("seconds", seconds))
}

// CheckAlerts checks for alert conditions and returns any active alerts
func (im *ImportMetrics) CheckAlerts() []ImportAlert {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.checkAlertsLocked()
}

func (im *ImportMetrics) checkAlertsLocked() []ImportAlert {
	var alerts []ImportAlert
	now := time.Now()
	th := im.AlertThresholds

	rows := im.RowsImported + im.RowsSkipped + im.RowsErrored
	if rows > 100 { // Only check after we have some data
		rate := float64(im.RowsImported) / float64(rows)
		if rate < th.MinRowSuccessRate {
			alerts = append(alerts, ImportAlert{
				Type:      "row_success_rate",
				Severity:  "warning",
				Message:   fmt.Sprintf("Row import rate (%.1f%%) is below threshold (%.1f%%)", rate*100, th.MinRowSuccessRate*100),
				Value:     rate,
				Threshold: th.MinRowSuccessRate,
				Timestamp: now,
			})
		}
	}

	if im.FailureStreak >= th.MaxFailureStreak {
		alerts = append(alerts, ImportAlert{
			Type:      "failure_streak",
			Severity:  "error",
			Message:   fmt.Sprintf("%d consecutive import runs failed", im.FailureStreak),
			Value:     float64(im.FailureStreak),
			Threshold: float64(th.MaxFailureStreak),
			Timestamp: now,
		})
	}

	if im.AvgRunSeconds > th.MaxRunSeconds {
		alerts = append(alerts, ImportAlert{
			Type:      "run_duration",
			Severity:  "warning",
			Message:   fmt.Sprintf("Average run duration (%.0fs) exceeds threshold (%.0fs)", im.AvgRunSeconds, th.MaxRunSeconds),
			Value:     im.AvgRunSeconds,
			Threshold: th.MaxRunSeconds,
			Timestamp: now,
		})
	}

	return alerts
}

// GetDashboardMetrics returns metrics formatted for dashboard display
func (im *ImportMetrics) GetDashboardMetrics() map[string]interface{} {
	im.mu.RLock()
	defer im.mu.RUnlock()

	states := make(map[string]int, len(im.RunsByState))
	for s, n := range im.RunsByState {
		states[string(s)] = n
	}

	return map[string]interface{}{
		"runs": map[string]interface{}{
			"total":           im.TotalRuns,
			"by_state":        states,
			"avg_run_seconds": im.AvgRunSeconds,
			"failure_streak":  im.FailureStreak,
		},
		"rows": map[string]interface{}{
			"imported": im.RowsImported,
			"skipped":  im.RowsSkipped,
			"errored":  im.RowsErrored,
		},
		"batches": map[string]interface{}{
			"ok":     copyCounts(im.BatchesOK),
			"failed": copyCounts(im.BatchesFailed),
		},
		"ai_failures":        im.AIFailures,
		"dimensions_created": im.DimensionsCreated,
		"alerts":             im.checkAlertsLocked(),
		"last_updated":       im.LastUpdated,
	}
}

// ResetMetrics resets all metrics (useful for testing)
func (im *ImportMetrics) ResetMetrics() {
	im.mu.Lock()
	defer im.mu.Unlock()

	im.TotalRuns = 0
	im.RunsByState = make(map[models.RunState]int)
	im.RowsImported = 0
	im.RowsSkipped = 0
	im.RowsErrored = 0
	im.BatchesOK = make(map[string]int64)
	im.BatchesFailed = make(map[string]int64)
	im.AIFailures = 0
	im.DimensionsCreated = 0
	im.AvgRunSeconds = 0
	im.FailureStreak = 0
	im.LastUpdated = time.Now()
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
