// Package rest exposes the analytics pipeline over HTTP: metric ingest,
// alert submission, and read APIs for aggregates, alerts, predictions,
// rules, and pipeline stats.
package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vibhukrishnas/sams-sub010/internal/service"
)

// Handler manages HTTP request handlers
type Handler struct {
	pipeline *service.Pipeline
}

// NewHandler creates a new HTTP handler
func NewHandler(p *service.Pipeline) *Handler {
	return &Handler{pipeline: p}
}

// SetupRoutes configures API routes
func SetupRoutes(router *mux.Router, h *Handler) {
	// Ingest routes
	router.HandleFunc("/metrics", h.IngestMetrics).Methods("POST")
	router.HandleFunc("/alerts", h.SubmitAlert).Methods("POST")
	router.HandleFunc("/status", h.PushServerStatus).Methods("POST")

	// Read routes
	router.HandleFunc("/aggregates", h.GetAggregates).Methods("GET")
	router.HandleFunc("/alerts", h.ListAlerts).Methods("GET")
	router.HandleFunc("/predictions", h.GetPredictions).Methods("GET")
	router.HandleFunc("/rules", h.GetRules).Methods("GET")
	router.HandleFunc("/stats", h.GetStats).Methods("GET")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
