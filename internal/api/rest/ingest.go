package rest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vibhukrishnas/sams-sub010/internal/auth"
	"github.com/vibhukrishnas/sams-sub010/internal/models"
)

// maxIngestBody bounds one ingest request; large agents batch across requests.
const maxIngestBody = 4 << 20

type ingestResult struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

// IngestMetrics handles POST /api/v1/metrics. The body is either a single
// sample object or an array of samples; rejects are reported per sample
// without failing the batch.
func (h *Handler) IngestMetrics(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var samples []*models.MetricSample
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(body, &samples); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		var one models.MetricSample
		if err := json.Unmarshal(body, &one); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		samples = append(samples, &one)
	}
	if len(samples) == 0 {
		respondError(w, http.StatusBadRequest, "No samples in request")
		return
	}

	// Authenticated agents are scoped to their own org.
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil && claims.OrgID != "" {
		for _, s := range samples {
			s.OrgID = claims.OrgID
		}
	}

	result := ingestResult{}
	for _, s := range samples {
		if err := h.pipeline.Ingest(r.Context(), s); err != nil {
			if r.Context().Err() != nil {
				respondError(w, http.StatusServiceUnavailable, "Request cancelled")
				return
			}
			result.Rejected++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Accepted++
	}

	status := http.StatusAccepted
	if result.Accepted == 0 {
		status = http.StatusBadRequest
	}
	respondJSON(w, status, result)
}

// SubmitAlert handles POST /api/v1/alerts, the inbound hook for external
// alert producers. The alert flows through correlation and broadcast exactly
// like internally generated ones.
func (h *Handler) SubmitAlert(w http.ResponseWriter, r *http.Request) {
	var alert models.Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if claims := auth.ClaimsFromContext(r.Context()); claims != nil && claims.OrgID != "" {
		alert.OrgID = claims.OrgID
	}
	if alert.OrgID == "" || alert.ServerID == "" || alert.MetricName == "" {
		respondError(w, http.StatusBadRequest, "org_id, server_id, and metric_name are required")
		return
	}
	if !alert.Severity.Valid() {
		respondError(w, http.StatusBadRequest, "Unknown severity")
		return
	}
	switch alert.Type {
	case models.AlertTypeThreshold, models.AlertTypeAnomaly, models.AlertTypePredictive:
	case "":
		alert.Type = models.AlertTypeThreshold
	default:
		respondError(w, http.StatusBadRequest, "Unknown alert type")
		return
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	h.pipeline.SubmitAlert(alert)
	respondJSON(w, http.StatusAccepted, map[string]string{"id": alert.ID})
}

// PushServerStatus handles POST /api/v1/status. Agent heartbeat snapshots are
// relayed to subscribed sessions as SERVER_STATUS_UPDATE frames; the core does
// not persist them.
func (h *Handler) PushServerStatus(w http.ResponseWriter, r *http.Request) {
	var status map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&status); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, ok := status["server_id"]; !ok {
		respondError(w, http.StatusBadRequest, "server_id is required")
		return
	}
	h.pipeline.BroadcastServerStatus(status)
	w.WriteHeader(http.StatusAccepted)
}
