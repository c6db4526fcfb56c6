package models

import "time"

// PipelineStats is the introspection snapshot polled by operational tooling.
type PipelineStats struct {
	ProcessedSamples      uint64    `json:"processed_samples"`
	RejectedSamples       uint64    `json:"rejected_samples"`
	LateSamples           uint64    `json:"late_samples"`
	SealedWindows         uint64    `json:"sealed_windows"`
	OpenWindows           int       `json:"open_windows"`
	ActiveModels          int       `json:"active_models"`
	AnomaliesDetected     uint64    `json:"anomalies_detected"`
	AlertsProcessed       uint64    `json:"alerts_processed"`
	CorrelatedAlerts      uint64    `json:"correlated_alerts"`
	ActiveGroups          int       `json:"active_groups"`
	ActivePredictions     int       `json:"active_predictions"`
	AverageModelAccuracy  float64   `json:"average_model_accuracy"`
	ActiveSubscriptions   int       `json:"active_subscriptions"`
	Timestamp             time.Time `json:"timestamp"`
}
