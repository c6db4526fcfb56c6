package models

import "time"

// RiskLevel classifies a forecast by the predicted value and confidence.
type RiskLevel string

const (
	RiskLow       RiskLevel = "LOW"
	RiskMedium    RiskLevel = "MEDIUM"
	RiskHigh      RiskLevel = "HIGH"
	RiskCritical  RiskLevel = "CRITICAL"
	RiskUncertain RiskLevel = "UNCERTAIN"
)

// ClassifyRisk maps a predicted value and its confidence onto a risk tier.
// Low confidence overrides the value-based tier.
func ClassifyRisk(value, confidence float64) RiskLevel {
	if confidence < 0.3 {
		return RiskUncertain
	}
	switch {
	case value > 90:
		return RiskCritical
	case value > 80:
		return RiskHigh
	case value > 70:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Severity maps a risk tier onto the alert severity scale for predictive alerts.
func (r RiskLevel) Severity() Severity {
	switch r {
	case RiskCritical:
		return SeverityCritical
	case RiskHigh:
		return SeverityHigh
	case RiskMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Prediction is one forward-looking point forecast for a metric key.
type Prediction struct {
	ID         string    `json:"id"`
	Key        MetricKey `json:"key"`
	Value      float64   `json:"value"`
	Confidence float64   `json:"confidence"`
	Risk       RiskLevel `json:"risk"`
	TargetTime time.Time `json:"target_time"`
	CreatedAt  time.Time `json:"created_at"`
}
