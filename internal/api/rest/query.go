package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vibhukrishnas/sams-sub010/internal/auth"
	"github.com/vibhukrishnas/sams-sub010/internal/models"
)

const defaultAlertLimit = 100

// keyFromQuery builds the metric key from query parameters. Authenticated
// callers are pinned to their own org regardless of the org_id parameter.
func keyFromQuery(r *http.Request) models.MetricKey {
	q := r.URL.Query()
	key := models.MetricKey{
		OrgID:      q.Get("org_id"),
		ServerID:   q.Get("server_id"),
		MetricName: q.Get("metric_name"),
	}
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil && claims.OrgID != "" {
		key.OrgID = claims.OrgID
	}
	return key
}

// GetAggregates handles GET /api/v1/aggregates. Required: org_id, server_id,
// metric_name. Optional: window (default 1m), from/to (RFC3339, default last hour).
func (h *Handler) GetAggregates(w http.ResponseWriter, r *http.Request) {
	key := keyFromQuery(r)
	if key.OrgID == "" || key.ServerID == "" || key.MetricName == "" {
		respondError(w, http.StatusBadRequest, "org_id, server_id, and metric_name are required")
		return
	}

	q := r.URL.Query()
	window := time.Minute
	if s := q.Get("window"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid window")
			return
		}
		window = d
	}

	now := time.Now()
	from, to := now.Add(-time.Hour), now
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid from timestamp")
			return
		}
		from = t
	}
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid to timestamp")
			return
		}
		to = t
	}

	aggs, err := h.pipeline.Aggregates(r.Context(), key, window, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if aggs == nil {
		aggs = []models.WindowAggregate{}
	}
	respondJSON(w, http.StatusOK, aggs)
}

// ListAlerts handles GET /api/v1/alerts. Required: org_id. Optional: limit.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil && claims.OrgID != "" {
		orgID = claims.OrgID
	}
	if orgID == "" {
		respondError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	limit := defaultAlertLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	alerts, err := h.pipeline.Alerts(r.Context(), orgID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	respondJSON(w, http.StatusOK, alerts)
}

// GetPredictions handles GET /api/v1/predictions. Required: org_id,
// server_id, metric_name.
func (h *Handler) GetPredictions(w http.ResponseWriter, r *http.Request) {
	key := keyFromQuery(r)
	if key.OrgID == "" || key.ServerID == "" || key.MetricName == "" {
		respondError(w, http.StatusBadRequest, "org_id, server_id, and metric_name are required")
		return
	}

	preds := h.pipeline.Predictions(key)
	if preds == nil {
		preds = []models.Prediction{}
	}
	respondJSON(w, http.StatusOK, preds)
}

// GetRules handles GET /api/v1/rules.
func (h *Handler) GetRules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.pipeline.Rules())
}

// GetStats handles GET /api/v1/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.pipeline.Stats())
}
