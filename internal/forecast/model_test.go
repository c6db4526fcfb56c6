package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
)

var fKey = models.MetricKey{OrgID: "org-1", ServerID: "srv-1", MetricName: "cpu_usage"}

// hourlyHistory builds n points at one-hour spacing ending at end.
func hourlyHistory(n int, end time.Time, value func(i int) float64) []Point {
	pts := make([]Point, n)
	for i := 0; i < n; i++ {
		pts[i] = Point{
			Timestamp: end.Add(-time.Duration(n-1-i) * time.Hour),
			Value:     value(i),
		}
	}
	return pts
}

func TestTrain_RequiresMinimumHistory(t *testing.T) {
	end := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	assert.Nil(t, Train(fKey, hourlyHistory(19, end, func(i int) float64 { return 50 })))
	assert.NotNil(t, Train(fKey, hourlyHistory(20, end, func(i int) float64 { return 50 })))
}

func TestTrain_FlatSeries(t *testing.T) {
	end := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	m := Train(fKey, hourlyHistory(48, end, func(i int) float64 { return 50 }))
	require.NotNil(t, m)

	assert.InDelta(t, 0, m.TrendCoefficient, 1e-9)
	assert.InDelta(t, 0, m.Volatility, 1e-9)
	assert.InDelta(t, 1.0, m.Accuracy, 1e-9, "flat series backtests perfectly")
}

func TestTrain_LinearTrend(t *testing.T) {
	end := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	// Value climbs 2 per hour.
	m := Train(fKey, hourlyHistory(48, end, func(i int) float64 { return 10 + 2*float64(i) }))
	require.NotNil(t, m)

	assert.InDelta(t, 2.0, m.TrendCoefficient, 1e-6)
	assert.Greater(t, m.Accuracy, 0.5, "linear series should backtest well")
}

func TestPredict_ConfidenceStrictlyDecaysWithHorizon(t *testing.T) {
	end := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	m := Train(fKey, hourlyHistory(48, end, func(i int) float64 { return 50 }))
	require.NotNil(t, m)

	prev := 2.0
	for h := 1; h <= 12; h++ {
		p, ok := m.Predict(end.Add(time.Duration(h)*time.Hour), 0.0)
		require.True(t, ok)
		assert.Less(t, p.Confidence, prev, "confidence must strictly decrease at horizon %dh", h)
		prev = p.Confidence
	}
}

func TestPredict_SuppressedBelowConfidenceFloor(t *testing.T) {
	end := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	m := Train(fKey, hourlyHistory(48, end, func(i int) float64 { return 50 }))
	require.NotNil(t, m)

	// Far enough out that accuracy * exp(-h/24) falls under the floor.
	_, ok := m.Predict(end.Add(100*time.Hour), 0.3)
	assert.False(t, ok)

	p, ok := m.Predict(end.Add(time.Hour), 0.3)
	require.True(t, ok)
	assert.Greater(t, p.Confidence, 0.3)
}

func TestPredict_ValueFlooredAtZero(t *testing.T) {
	end := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	// Steep decline toward zero.
	m := Train(fKey, hourlyHistory(48, end, func(i int) float64 {
		v := 100 - 3*float64(i)
		if v < 0 {
			return 0
		}
		return v
	}))
	require.NotNil(t, m)

	p, ok := m.Predict(end.Add(20*time.Hour), 0.0)
	require.True(t, ok)
	assert.GreaterOrEqual(t, p.Value, 0.0)
}

func TestPredict_HighValueClassifiesCritical(t *testing.T) {
	end := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	m := Train(fKey, hourlyHistory(48, end, func(i int) float64 { return 95 }))
	require.NotNil(t, m)

	p, ok := m.Predict(end.Add(time.Hour), 0.3)
	require.True(t, ok)
	assert.InDelta(t, 95, p.Value, 0.5)
	assert.Equal(t, models.RiskCritical, p.Risk)
}

func TestForecaster_RecordTrainPredict(t *testing.T) {
	end := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	var predictions []models.Prediction
	var alerts []models.Alert
	f := New(20, 0.3, 0.7, 24*time.Hour, time.Hour,
		func(p models.Prediction) { predictions = append(predictions, p) },
		func(a models.Alert) { alerts = append(alerts, a) },
	)
	f.now = func() time.Time { return end }

	for i := 0; i < 48; i++ {
		f.Record(models.WindowAggregate{
			Key:         fKey,
			WindowStart: end.Add(-time.Duration(48-i) * time.Hour),
			WindowEnd:   end.Add(-time.Duration(47-i) * time.Hour),
			Count:       1,
			Sum:         95,
		})
	}

	require.Equal(t, 1, f.RetrainAll())
	assert.Equal(t, 1, f.TrainedModels())
	assert.InDelta(t, 1.0, f.AverageAccuracy(), 1e-9)

	f.PredictAll()
	assert.NotEmpty(t, predictions)
	assert.Greater(t, f.ActivePredictions(), 0)

	// A critical-risk forecast with confidence above the gate escalates.
	require.NotEmpty(t, alerts)
	assert.Equal(t, models.AlertTypePredictive, alerts[0].Type)
	assert.Equal(t, models.SeverityCritical, alerts[0].Severity)

	// Nothing beyond the escalation gate gets alerted.
	for _, a := range alerts {
		assert.True(t, a.Severity == models.SeverityCritical || a.Severity == models.SeverityHigh)
	}
}

func TestForecaster_NoModelNoPredictions(t *testing.T) {
	f := New(20, 0.3, 0.7, 24*time.Hour, time.Hour, nil, nil)

	f.Record(models.WindowAggregate{Key: fKey, Count: 1, Sum: 50, WindowEnd: time.Now()})
	assert.Equal(t, 0, f.RetrainAll())
	f.PredictAll()
	assert.Equal(t, 0, f.ActivePredictions())
}
