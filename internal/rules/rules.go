// Package rules evaluates static thresholds against sealed window aggregates.
// Rule hits become alerts and enter the correlation engine alongside
// anomaly-sourced alerts.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
)

// Rule is one static threshold on a metric's window average.
type Rule struct {
	MetricName string          `json:"metric_name"`
	Threshold  float64         `json:"threshold"`
	Severity   models.Severity `json:"severity"`
}

// DefaultRules mirrors the platform's stock alerting policy.
func DefaultRules() []Rule {
	return []Rule{
		{MetricName: "cpu_usage", Threshold: 95, Severity: models.SeverityCritical},
		{MetricName: "memory_usage", Threshold: 90, Severity: models.SeverityHigh},
		{MetricName: "disk_usage", Threshold: 95, Severity: models.SeverityCritical},
		{MetricName: "error_rate", Threshold: 10, Severity: models.SeverityHigh},
	}
}

// Evaluator indexes rules by metric name for per-aggregate lookup.
type Evaluator struct {
	mu    sync.RWMutex
	rules map[string][]Rule
}

// NewEvaluator builds an evaluator over the given rule set.
func NewEvaluator(rules []Rule) *Evaluator {
	e := &Evaluator{rules: make(map[string][]Rule)}
	for _, r := range rules {
		e.rules[r.MetricName] = append(e.rules[r.MetricName], r)
	}
	return e
}

// Evaluate checks the sealed aggregate's average against every rule on its
// metric. Returns one alert per breached rule.
func (e *Evaluator) Evaluate(agg models.WindowAggregate) []models.Alert {
	e.mu.RLock()
	rules := e.rules[agg.Key.MetricName]
	e.mu.RUnlock()

	var out []models.Alert
	avg := agg.Avg()
	for _, r := range rules {
		if avg <= r.Threshold {
			continue
		}
		out = append(out, models.Alert{
			ID:         uuid.NewString(),
			OrgID:      agg.Key.OrgID,
			ServerID:   agg.Key.ServerID,
			MetricName: agg.Key.MetricName,
			Type:       models.AlertTypeThreshold,
			Severity:   r.Severity,
			Title:      fmt.Sprintf("%s above threshold", agg.Key.MetricName),
			Description: fmt.Sprintf("%s averaged %.1f over %s window, threshold %.1f",
				agg.Key.MetricName, avg, agg.WindowSize, r.Threshold),
			Value:     avg,
			Threshold: r.Threshold,
			CreatedAt: agg.WindowEnd,
		})
	}
	return out
}

// Add registers a rule at runtime.
func (e *Evaluator) Add(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules[r.MetricName] = append(e.rules[r.MetricName], r)
}

// Rules returns a flat copy of the active rule set.
func (e *Evaluator) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Rule
	for _, rs := range e.rules {
		out = append(out, rs...)
	}
	return out
}
