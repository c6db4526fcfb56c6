package models

import (
	"time"
)

// Severity is the alert severity scale, ordered low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordering of the severity; unknown severities rank lowest.
func (s Severity) Rank() int {
	return severityRank[s]
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Escalate returns the next severity up, capped at critical.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	case SeverityHigh, SeverityCritical:
		return SeverityCritical
	default:
		return s
	}
}

// MaxSeverity returns the higher-ranked of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// AlertType distinguishes how an alert was produced.
type AlertType string

const (
	AlertTypeThreshold  AlertType = "threshold"
	AlertTypeAnomaly    AlertType = "anomaly"
	AlertTypePredictive AlertType = "predictive"
)

// Alert is one incident candidate entering the correlation engine, from either
// anomaly detection, threshold rules, or the forecaster.
type Alert struct {
	ID          string            `json:"id" db:"id"`
	OrgID       string            `json:"org_id" db:"org_id"`
	ServerID    string            `json:"server_id" db:"server_id"`
	MetricName  string            `json:"metric_name" db:"metric_name"`
	Type        AlertType         `json:"type" db:"type"`
	Severity    Severity          `json:"severity" db:"severity"`
	Title       string            `json:"title" db:"title"`
	Description string            `json:"description" db:"description"`
	Value       float64           `json:"value" db:"value"`
	Threshold   float64           `json:"threshold" db:"threshold"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"-"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// CorrelationGroup is a set of alerts judged related enough to present as one
// incident. Sealed when no new member arrives within the correlation window.
type CorrelationGroup struct {
	ID        string    `json:"id"`
	AlertIDs  []string  `json:"alert_ids"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"created_at"`
	WindowEnd time.Time `json:"window_end"`
}

// Contains reports membership without exposing internal ordering.
func (g *CorrelationGroup) Contains(alertID string) bool {
	for _, id := range g.AlertIDs {
		if id == alertID {
			return true
		}
	}
	return false
}
