// Package service wires the analytics pipeline together: ingest feeds the
// window aggregator; sealed windows feed the anomaly store, threshold rules,
// and forecaster; alerts from all three sources flow through correlation and
// out to the broadcast hub. Persistence is best effort and never blocks the
// hot path.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vibhukrishnas/sams-sub010/internal/aggregator"
	"github.com/vibhukrishnas/sams-sub010/internal/anomaly"
	"github.com/vibhukrishnas/sams-sub010/internal/api/websocket"
	"github.com/vibhukrishnas/sams-sub010/internal/config"
	"github.com/vibhukrishnas/sams-sub010/internal/correlation"
	"github.com/vibhukrishnas/sams-sub010/internal/forecast"
	"github.com/vibhukrishnas/sams-sub010/internal/ingest"
	"github.com/vibhukrishnas/sams-sub010/internal/models"
	"github.com/vibhukrishnas/sams-sub010/internal/repository"
	"github.com/vibhukrishnas/sams-sub010/internal/rules"
)

// Store is the persistence surface the pipeline needs. Satisfied by
// repository.SQLiteRepository; nil disables persistence.
type Store interface {
	SaveAggregate(ctx context.Context, agg models.WindowAggregate) error
	SaveAlert(ctx context.Context, alert models.Alert, correlationID string) error
	RecentAggregates(ctx context.Context, key models.MetricKey, windowSize time.Duration, limit int) ([]models.WindowAggregate, error)
	QueryAggregates(ctx context.Context, key models.MetricKey, windowSize time.Duration, from, to time.Time) ([]models.WindowAggregate, error)
	ActiveKeys(ctx context.Context, since time.Time) ([]models.MetricKey, error)
	PruneAggregates(ctx context.Context, olderThan time.Time) (int64, error)
	ListAlerts(ctx context.Context, orgID string, limit int) ([]models.Alert, error)
}

var _ Store = (*repository.SQLiteRepository)(nil)

// Pipeline owns the full analytics core.
type Pipeline struct {
	cfg *config.Config
	log *slog.Logger

	store Store
	hub   *websocket.Hub

	ingestor   *ingest.Ingestor
	aggregator *aggregator.Aggregator
	anomalies  *anomaly.Store
	rules      *rules.Evaluator
	engine     *correlation.Engine
	forecaster *forecast.Forecaster

	// baseWindow is the smallest track; it alone feeds the models so one
	// key's model sees a single resolution.
	baseWindow time.Duration
}

// NewPipeline builds and wires every stage. store may be nil.
func NewPipeline(cfg *config.Config, log *slog.Logger, store Store, hub *websocket.Hub) (*Pipeline, error) {
	windows := cfg.Windows()
	base := windows[0]
	for _, w := range windows[1:] {
		if w < base {
			base = w
		}
	}

	p := &Pipeline{
		cfg:        cfg,
		log:        log,
		store:      store,
		hub:        hub,
		baseWindow: base,
	}

	agg, err := aggregator.New(windows, cfg.GracePeriod(), p.onSealed)
	if err != nil {
		return nil, fmt.Errorf("failed to build aggregator: %w", err)
	}
	p.aggregator = agg

	maxWindow := windows[0]
	for _, w := range windows[1:] {
		if w > maxWindow {
			maxWindow = w
		}
	}
	p.ingestor = ingest.New(agg.Observe, cfg.IngestWorkers, cfg.IngestQueueSize, maxWindow+cfg.GracePeriod())

	p.anomalies = anomaly.NewStore(cfg.AnomalySensitivity, cfg.AnomalyMinPoints, cfg.AnomalyBufferSize)
	p.rules = rules.NewEvaluator(rules.DefaultRules())
	p.engine = correlation.NewEngine(cfg.CorrelationWindow(), cfg.CorrelationJoin, cfg.CorrelationEscalate)
	p.forecaster = forecast.New(
		cfg.ForecastMinPoints,
		cfg.ForecastConfidenceFloor,
		cfg.ForecastAlertConfidence,
		time.Duration(cfg.ForecastRetrainHours)*time.Hour,
		time.Duration(cfg.ForecastPredictEverySec)*time.Second,
		p.onPrediction,
		p.SubmitAlert,
	)
	return p, nil
}

// Ingest validates and queues one sample.
func (p *Pipeline) Ingest(ctx context.Context, sample *models.MetricSample) error {
	return p.ingestor.Ingest(ctx, sample)
}

// onSealed receives every sealed window exactly once. Persistence happens for
// all tracks; scoring, rules, and forecasting consume only the base track.
func (p *Pipeline) onSealed(agg models.WindowAggregate) {
	if p.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.store.SaveAggregate(ctx, agg); err != nil {
			p.log.Error("failed to persist aggregate", "key", agg.Key.String(), "error", err)
		}
		cancel()
	}

	if agg.WindowSize != p.baseWindow {
		return
	}

	p.forecaster.Record(agg)

	// Sealed utilization windows double as server status snapshots.
	if agg.Key.MetricName == "cpu_usage" || agg.Key.MetricName == "memory_usage" {
		p.hub.BroadcastServerStatus(map[string]interface{}{
			"server_id": agg.Key.ServerID,
			"org_id":    agg.Key.OrgID,
			"metric":    agg.Key.MetricName,
			"avg":       agg.Avg(),
			"max":       agg.Max,
			"window":    agg.WindowSize.String(),
			"as_of":     agg.WindowEnd,
		})
	}

	verdict := p.anomalies.Observe(agg.Key, agg.Avg())
	if verdict.IsAnomaly {
		p.SubmitAlert(p.anomalyAlert(agg, verdict))
	}

	for _, alert := range p.rules.Evaluate(agg) {
		p.SubmitAlert(alert)
	}
}

func (p *Pipeline) anomalyAlert(agg models.WindowAggregate, v anomaly.Verdict) models.Alert {
	severity := models.SeverityMedium
	if v.Score > 2*p.cfg.AnomalySensitivity {
		severity = models.SeverityHigh
	}
	return models.Alert{
		ID:         uuid.NewString(),
		OrgID:      agg.Key.OrgID,
		ServerID:   agg.Key.ServerID,
		MetricName: agg.Key.MetricName,
		Type:       models.AlertTypeAnomaly,
		Severity:   severity,
		Title:      fmt.Sprintf("Anomalous %s", agg.Key.MetricName),
		Description: fmt.Sprintf("%s averaged %.1f, %.1f standard deviations from the rolling mean %.1f",
			agg.Key.MetricName, agg.Avg(), v.Score, v.Mean),
		Value:     agg.Avg(),
		Threshold: v.Threshold,
		CreatedAt: agg.WindowEnd,
		Metadata: map[string]string{
			"score":  fmt.Sprintf("%.2f", v.Score),
			"window": agg.WindowSize.String(),
		},
	}
}

// SubmitAlert is the single entry into the correlation and broadcast path.
// Also the inbound hook for external threshold-rule collaborators.
func (p *Pipeline) SubmitAlert(alert models.Alert) {
	outcome := p.engine.Correlate(alert)

	correlationID := ""
	if outcome.Joined {
		correlationID = outcome.Group.ID
	}
	if p.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.store.SaveAlert(ctx, alert, correlationID); err != nil {
			p.log.Error("failed to persist alert", "alert_id", alert.ID, "error", err)
		}
		cancel()
	}

	p.hub.BroadcastAlert(alert)
	if outcome.Joined {
		p.hub.BroadcastGroup(outcome.Group)
	}
}

func (p *Pipeline) onPrediction(pred models.Prediction) {
	p.hub.BroadcastPrediction(pred)
}

// BroadcastServerStatus relays an agent heartbeat snapshot to subscribers.
func (p *Pipeline) BroadcastServerStatus(status interface{}) {
	p.hub.BroadcastServerStatus(status)
}

// Warmup rebuilds anomaly models and forecaster history from persisted
// aggregates. Models are memory-only, so this runs once per boot.
func (p *Pipeline) Warmup(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	keys, err := p.store.ActiveKeys(ctx, time.Now().Add(-p.cfg.Retention()))
	if err != nil {
		return fmt.Errorf("failed to list active keys: %w", err)
	}
	for _, key := range keys {
		history, err := p.store.RecentAggregates(ctx, key, p.baseWindow, p.cfg.AnomalyBufferSize)
		if err != nil {
			p.log.Warn("failed to load history for warmup", "key", key.String(), "error", err)
			continue
		}
		values := make([]float64, len(history))
		for i, agg := range history {
			values[i] = agg.Avg()
			p.forecaster.Record(agg)
		}
		p.anomalies.Warmup(key, values)
	}
	if len(keys) > 0 {
		p.forecaster.RetrainAll()
	}
	p.log.Info("model warmup complete", "keys", len(keys))
	return nil
}

// Run drives every background loop until ctx is cancelled. The aggregator
// flushes open windows on the way out so no partial data is lost.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.ingestor.Run(ctx)
	})
	g.Go(func() error {
		p.aggregator.Run(ctx, time.Duration(p.cfg.SweepIntervalSec)*time.Second)
		return nil
	})
	g.Go(func() error {
		p.forecaster.Run(ctx)
		return nil
	})
	g.Go(func() error {
		p.retentionLoop(ctx)
		return nil
	})

	p.hub.BroadcastSystemEvent("analytics pipeline started", nil)
	err := g.Wait()
	p.hub.BroadcastSystemEvent("analytics pipeline stopping", nil)
	return err
}

// retentionLoop prunes persisted aggregates past the retention horizon.
func (p *Pipeline) retentionLoop(ctx context.Context) {
	if p.store == nil {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			n, err := p.store.PruneAggregates(pruneCtx, time.Now().Add(-p.cfg.Retention()))
			cancel()
			if err != nil {
				p.log.Error("retention prune failed", "error", err)
			} else if n > 0 {
				p.log.Info("pruned expired aggregates", "rows", n)
				p.hub.BroadcastSystemEvent("retention prune completed", map[string]int64{"rows": n})
			}
		}
	}
}

// Stats snapshots pipeline counters for the introspection endpoint.
func (p *Pipeline) Stats() models.PipelineStats {
	return models.PipelineStats{
		ProcessedSamples:     p.ingestor.Processed(),
		RejectedSamples:      p.ingestor.Rejected(),
		LateSamples:          p.aggregator.LateSamples(),
		SealedWindows:        p.aggregator.SealedCount(),
		OpenWindows:          p.aggregator.OpenWindows(),
		ActiveModels:         p.anomalies.ActiveModels(),
		AnomaliesDetected:    p.anomalies.AnomaliesDetected(),
		AlertsProcessed:      p.engine.Processed(),
		CorrelatedAlerts:     p.engine.Correlated(),
		ActiveGroups:         p.engine.ActiveGroups(),
		ActivePredictions:    p.forecaster.ActivePredictions(),
		AverageModelAccuracy: p.forecaster.AverageAccuracy(),
		ActiveSubscriptions:  p.hub.ActiveSubscriptions(),
		Timestamp:            time.Now().UTC(),
	}
}

// Aggregates serves read queries over sealed aggregates.
func (p *Pipeline) Aggregates(ctx context.Context, key models.MetricKey, windowSize time.Duration, from, to time.Time) ([]models.WindowAggregate, error) {
	if p.store == nil {
		return nil, nil
	}
	return p.store.QueryAggregates(ctx, key, windowSize, from, to)
}

// Alerts serves the recent alert list for an org.
func (p *Pipeline) Alerts(ctx context.Context, orgID string, limit int) ([]models.Alert, error) {
	if p.store == nil {
		return nil, nil
	}
	return p.store.ListAlerts(ctx, orgID, limit)
}

// Predictions returns the latest forecast set for a key.
func (p *Pipeline) Predictions(key models.MetricKey) []models.Prediction {
	return p.forecaster.Predictions(key)
}

// Rules exposes the active threshold rule set.
func (p *Pipeline) Rules() []rules.Rule {
	return p.rules.Rules()
}

// SweepNow forces an aggregation sweep; used by tests and admin tooling.
func (p *Pipeline) SweepNow(now time.Time) int {
	return p.aggregator.Sweep(now)
}
