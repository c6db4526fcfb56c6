// Package models defines the canonical domain model for the SAMS analytics core.
// All per-metric state (windows, anomaly models, forecast models) is sharded by
// MetricKey; no metric-name-specific branching outside the correlation table.
package models

import (
	"math"
	"time"
)

// MetricKey is the identity tuple sharding all per-metric state.
// Stable for the life of the metric stream.
type MetricKey struct {
	OrgID      string `json:"org_id"`
	ServerID   string `json:"server_id"`
	MetricName string `json:"metric_name"`
}

// String renders the key in the wire/storage form org:server:metric.
func (k MetricKey) String() string {
	return k.OrgID + ":" + k.ServerID + ":" + k.MetricName
}

// MetricSample is one raw metric reading from a collector or cloud poller.
// Immutable after ingest; not persisted by the core.
type MetricSample struct {
	ServerID   string            `json:"server_id"`
	OrgID      string            `json:"org_id"`
	MetricName string            `json:"metric_name"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Source     string            `json:"source,omitempty"`
}

// Key derives the sharding identity for the sample.
func (s *MetricSample) Key() MetricKey {
	return MetricKey{OrgID: s.OrgID, ServerID: s.ServerID, MetricName: s.MetricName}
}

// WindowAggregate is the tumbling-window aggregate for one
// (metric key, window size, window start). Mutated additively while the window
// is open; immutable after sealing.
type WindowAggregate struct {
	Key         MetricKey     `json:"key"`
	WindowSize  time.Duration `json:"window_size"`
	WindowStart time.Time     `json:"window_start"`
	WindowEnd   time.Time     `json:"window_end"`
	Count       int64         `json:"count"`
	Sum         float64       `json:"sum"`
	Min         float64       `json:"min"`
	Max         float64       `json:"max"`
	Unit        string        `json:"unit,omitempty"`
}

// Add folds a value into the open window. The first sample initializes min/max.
func (w *WindowAggregate) Add(value float64) {
	if w.Count == 0 {
		w.Min = value
		w.Max = value
	} else {
		if value < w.Min {
			w.Min = value
		}
		if value > w.Max {
			w.Max = value
		}
	}
	w.Sum += value
	w.Count++
}

// Avg is always derived from sum/count at read time, never stored.
func (w *WindowAggregate) Avg() float64 {
	if w.Count == 0 {
		return 0
	}
	return w.Sum / float64(w.Count)
}

// AggregationType selects which statistic an aggregate reports.
type AggregationType int

const (
	AggAvg AggregationType = iota
	AggSum
	AggMin
	AggMax
	AggCount
)

func (t AggregationType) String() string {
	switch t {
	case AggSum:
		return "SUM"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	case AggCount:
		return "COUNT"
	default:
		return "AVG"
	}
}

// Value maps aggregate state to the requested statistic.
// Unknown types report the average, matching upstream consumers.
func (w *WindowAggregate) Value(t AggregationType) float64 {
	switch t {
	case AggSum:
		return w.Sum
	case AggMin:
		return w.Min
	case AggMax:
		return w.Max
	case AggCount:
		return float64(w.Count)
	default:
		return w.Avg()
	}
}

// ValidValue reports whether v is usable as a metric value (finite, non-NaN).
func ValidValue(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
