package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibhukrishnas/sams-sub010/internal/api/websocket"
	"github.com/vibhukrishnas/sams-sub010/internal/config"
	"github.com/vibhukrishnas/sams-sub010/internal/models"
	"github.com/vibhukrishnas/sams-sub010/internal/repository"
)

func testConfig() *config.Config {
	return &config.Config{
		WindowSizes: []string{"1m"},
		// Long grace keeps test windows open until an explicit sweep.
		GracePeriodSec:          3600,
		RetentionHours:          168,
		IngestWorkers:           2,
		IngestQueueSize:         256,
		AnomalySensitivity:      2.0,
		AnomalyMinPoints:        10,
		AnomalyBufferSize:       1000,
		CorrelationWindowSec:    300,
		CorrelationJoin:         0.6,
		CorrelationEscalate:     0.8,
		ForecastMinPoints:       20,
		ForecastRetrainHours:    24,
		ForecastPredictEverySec: 3600,
		ForecastConfidenceFloor: 0.3,
		ForecastAlertConfidence: 0.7,
		ClientQueueSize:         64,
		HeartbeatTimeoutSec:     60,
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, *repository.SQLiteRepository) {
	t.Helper()

	repo, err := repository.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations())
	t.Cleanup(func() { repo.Close() })

	hub := websocket.NewHub(context.Background(), "test-secret-key-minimum-32-characters", 64, time.Minute)
	go hub.Run()
	t.Cleanup(hub.Stop)

	p, err := NewPipeline(testConfig(), slog.Default(), repo, hub)
	require.NoError(t, err)
	return p, repo
}

func sampleAt(server string, metric string, value float64, ts time.Time) *models.MetricSample {
	return &models.MetricSample{
		OrgID:      "org-1",
		ServerID:   server,
		MetricName: metric,
		Value:      value,
		Unit:       "percent",
		Timestamp:  ts,
	}
}

// End-to-end: a stable cpu baseline followed by a spike window must close
// with the right average, build the model, and raise an anomaly alert with a
// z-score above 2.
func TestPipeline_AnomalyScenario(t *testing.T) {
	p, repo := newTestPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	now := time.Now()
	base := now.Truncate(time.Minute).Add(-30 * time.Minute)

	// 65 samples of 10±1 inside one 1-minute window.
	for i := 0; i < 65; i++ {
		v := 10.0
		if i%2 == 0 {
			v = 11.0
		}
		ts := base.Add(time.Duration(i*900) * time.Millisecond)
		require.NoError(t, p.Ingest(ctx, sampleAt("srv-S", "cpu_usage", v, ts)))
	}

	// Eleven more baseline windows, one sample each.
	for w := 1; w <= 11; w++ {
		ts := base.Add(time.Duration(w) * time.Minute)
		v := 10.0
		if w%2 == 0 {
			v = 11.0
		}
		require.NoError(t, p.Ingest(ctx, sampleAt("srv-S", "cpu_usage", v, ts)))
	}

	// The spike window.
	require.NoError(t, p.Ingest(ctx, sampleAt("srv-S", "cpu_usage", 95, base.Add(12*time.Minute))))

	require.Eventually(t, func() bool { return p.ingestor.Processed() == 77 },
		2*time.Second, 5*time.Millisecond)

	sealed := p.SweepNow(now.Add(3 * time.Hour))
	assert.Equal(t, 13, sealed)

	// The first window closed with avg ~10.5.
	key := models.MetricKey{OrgID: "org-1", ServerID: "srv-S", MetricName: "cpu_usage"}
	aggs, err := p.Aggregates(context.Background(), key, time.Minute, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	assert.InDelta(t, 10.5, aggs[0].Avg(), 0.2)
	assert.Equal(t, int64(65), aggs[0].Count)

	// The spike was flagged with a z-score above 2.
	assert.GreaterOrEqual(t, p.anomalies.AnomaliesDetected(), uint64(1))

	alerts, err := repo.ListAlerts(context.Background(), "org-1", 10)
	require.NoError(t, err)
	var anomalyAlert *models.Alert
	for i := range alerts {
		if alerts[i].Type == models.AlertTypeAnomaly {
			anomalyAlert = &alerts[i]
			break
		}
	}
	require.NotNil(t, anomalyAlert, "anomaly alert should be persisted")
	assert.InDelta(t, 95, anomalyAlert.Value, 0.01)
	assert.Contains(t, anomalyAlert.Description, "standard deviations")

	cancel()
	require.NoError(t, <-done)
}

func TestPipeline_ThresholdRuleFiresOnSealedWindow(t *testing.T) {
	p, repo := newTestPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	now := time.Now()
	base := now.Truncate(time.Minute).Add(-10 * time.Minute)
	require.NoError(t, p.Ingest(ctx, sampleAt("srv-1", "memory_usage", 96, base)))
	require.Eventually(t, func() bool { return p.ingestor.Processed() == 1 },
		2*time.Second, 5*time.Millisecond)

	p.SweepNow(now.Add(3 * time.Hour))

	alerts, err := repo.ListAlerts(context.Background(), "org-1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, alerts)

	var threshold *models.Alert
	for i := range alerts {
		if alerts[i].Type == models.AlertTypeThreshold {
			threshold = &alerts[i]
		}
	}
	require.NotNil(t, threshold)
	assert.Equal(t, models.SeverityHigh, threshold.Severity)
	assert.Equal(t, 90.0, threshold.Threshold)

	cancel()
	require.NoError(t, <-done)
}

func TestPipeline_SubmitAlertCorrelates(t *testing.T) {
	p, repo := newTestPipeline(t)

	now := time.Now()
	cpu := models.Alert{
		ID: uuid.NewString(), OrgID: "org-1", ServerID: "srv-S2",
		MetricName: "cpu_usage", Type: models.AlertTypeThreshold,
		Severity: models.SeverityCritical, Title: "cpu", CreatedAt: now,
	}
	mem := models.Alert{
		ID: uuid.NewString(), OrgID: "org-1", ServerID: "srv-S2",
		MetricName: "memory_usage", Type: models.AlertTypeThreshold,
		Severity: models.SeverityHigh, Title: "mem", CreatedAt: now.Add(48 * time.Second),
	}

	p.SubmitAlert(cpu)
	p.SubmitAlert(mem)

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.AlertsProcessed)
	assert.Equal(t, uint64(1), stats.CorrelatedAlerts)
	assert.Equal(t, 1, stats.ActiveGroups)

	alerts, err := repo.ListAlerts(context.Background(), "org-1", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	// The joining alert carries the group id.
	assert.NotEmpty(t, alerts[0].Metadata["correlation_id"])
}

func TestPipeline_StatsSnapshot(t *testing.T) {
	p, _ := newTestPipeline(t)

	stats := p.Stats()
	assert.Zero(t, stats.ProcessedSamples)
	assert.Zero(t, stats.ActiveModels)
	assert.Zero(t, stats.ActiveGroups)
	assert.False(t, stats.Timestamp.IsZero())
}

func TestPipeline_WarmupRebuildsModels(t *testing.T) {
	p, repo := newTestPipeline(t)

	// Persist 15 baseline aggregates as a previous process would have.
	base := time.Now().Truncate(time.Minute).Add(-time.Hour)
	key := models.MetricKey{OrgID: "org-1", ServerID: "srv-1", MetricName: "cpu_usage"}
	for i := 0; i < 15; i++ {
		v := 10.0
		if i%2 == 0 {
			v = 11.0
		}
		require.NoError(t, repo.SaveAggregate(context.Background(), models.WindowAggregate{
			Key:         key,
			WindowSize:  time.Minute,
			WindowStart: base.Add(time.Duration(i) * time.Minute),
			WindowEnd:   base.Add(time.Duration(i+1) * time.Minute),
			Count:       1,
			Sum:         v,
			Min:         v,
			Max:         v,
		}))
	}

	require.NoError(t, p.Warmup(context.Background()))
	assert.Equal(t, 1, p.anomalies.ActiveModels())

	// The warmed model detects immediately, without 10 fresh windows.
	verdict := p.anomalies.Observe(key, 95)
	assert.True(t, verdict.IsAnomaly)
}
