package forecast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
	"github.com/vibhukrishnas/sams-sub010/internal/pkg/metrics"
)

// historyCap bounds per-key history; older points roll off.
const historyCap = 1000

// horizonHours is the rolling prediction horizon generated each cycle.
const horizonHours = 24

// AlertSink receives predictive alerts worth escalating.
type AlertSink func(alert models.Alert)

// PredictionSink receives every emitted (non-suppressed) prediction.
type PredictionSink func(p models.Prediction)

// Forecaster owns per-key history and trained models, retrains on a fixed
// cadence, and emits a rolling prediction set. Best effort throughout: a key
// that cannot train simply produces no predictions.
type Forecaster struct {
	minPoints       int
	floor           float64
	alertConfidence float64
	retrainEvery    time.Duration
	predictEvery    time.Duration

	onPrediction PredictionSink
	onAlert      AlertSink

	mu          sync.Mutex
	history     map[models.MetricKey][]Point
	trained     map[models.MetricKey]*Model
	predictions map[models.MetricKey][]models.Prediction

	now func() time.Time
}

// New builds a forecaster. Either sink may be nil. minPoints below the
// package training minimum is raised to it.
func New(minPoints int, floor, alertConfidence float64, retrainEvery, predictEvery time.Duration, onPrediction PredictionSink, onAlert AlertSink) *Forecaster {
	if minPoints < minTrainPoints {
		minPoints = minTrainPoints
	}
	if floor <= 0 {
		floor = 0.3
	}
	if alertConfidence <= 0 {
		alertConfidence = 0.7
	}
	return &Forecaster{
		minPoints:       minPoints,
		floor:           floor,
		alertConfidence: alertConfidence,
		retrainEvery:    retrainEvery,
		predictEvery:    predictEvery,
		onPrediction:    onPrediction,
		onAlert:         onAlert,
		history:         make(map[models.MetricKey][]Point),
		trained:         make(map[models.MetricKey]*Model),
		predictions:     make(map[models.MetricKey][]models.Prediction),
		now:             time.Now,
	}
}

// Record appends one sealed aggregate to the key's history.
func (f *Forecaster) Record(agg models.WindowAggregate) {
	f.mu.Lock()
	defer f.mu.Unlock()

	h := f.history[agg.Key]
	h = append(h, Point{Timestamp: agg.WindowEnd, Value: agg.Avg()})
	if len(h) > historyCap {
		h = h[len(h)-historyCap:]
	}
	f.history[agg.Key] = h
}

// RetrainAll refits every key with enough history. Returns the number of
// models trained.
func (f *Forecaster) RetrainAll() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	trained := 0
	for key, h := range f.history {
		if len(h) < f.minPoints {
			continue
		}
		if m := Train(key, h); m != nil {
			f.trained[key] = m
			trained++
		}
	}
	return trained
}

// PredictAll generates the rolling prediction set for every trained model and
// escalates high-risk, high-confidence predictions as predictive alerts.
func (f *Forecaster) PredictAll() {
	f.mu.Lock()
	trained := make(map[models.MetricKey]*Model, len(f.trained))
	for k, m := range f.trained {
		trained[k] = m
	}
	f.mu.Unlock()

	now := f.now()
	for key, m := range trained {
		var set []models.Prediction
		for h := 1; h <= horizonHours; h++ {
			p, ok := m.Predict(now.Add(time.Duration(h)*time.Hour), f.floor)
			if !ok {
				continue
			}
			p.ID = uuid.NewString()
			set = append(set, p)
			metrics.PredictionsGeneratedTotal.WithLabelValues(string(p.Risk)).Inc()

			if f.onPrediction != nil {
				f.onPrediction(p)
			}
			if f.shouldEscalate(p) && f.onAlert != nil {
				f.onAlert(predictiveAlert(p))
			}
		}
		f.mu.Lock()
		f.predictions[key] = set
		f.mu.Unlock()
	}
}

func (f *Forecaster) shouldEscalate(p models.Prediction) bool {
	if p.Confidence <= f.alertConfidence {
		return false
	}
	return p.Risk == models.RiskHigh || p.Risk == models.RiskCritical
}

func predictiveAlert(p models.Prediction) models.Alert {
	return models.Alert{
		ID:         uuid.NewString(),
		OrgID:      p.Key.OrgID,
		ServerID:   p.Key.ServerID,
		MetricName: p.Key.MetricName,
		Type:       models.AlertTypePredictive,
		Severity:   p.Risk.Severity(),
		Title:      fmt.Sprintf("Predicted %s risk for %s", p.Risk, p.Key.MetricName),
		Description: fmt.Sprintf("Forecast of %.1f at %s (confidence %.2f)",
			p.Value, p.TargetTime.Format(time.RFC3339), p.Confidence),
		Value:     p.Value,
		CreatedAt: time.Now().UTC(),
		Metadata: map[string]string{
			"prediction_id": p.ID,
			"target_time":   p.TargetTime.Format(time.RFC3339),
		},
	}
}

// Run drives the retrain and predict cycles until ctx is cancelled.
func (f *Forecaster) Run(ctx context.Context) {
	retrain := time.NewTicker(f.retrainEvery)
	predict := time.NewTicker(f.predictEvery)
	defer retrain.Stop()
	defer predict.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-retrain.C:
			f.RetrainAll()
		case <-predict.C:
			f.PredictAll()
		}
	}
}

// Predictions returns the latest prediction set for a key.
func (f *Forecaster) Predictions(key models.MetricKey) []models.Prediction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Prediction, len(f.predictions[key]))
	copy(out, f.predictions[key])
	return out
}

// ActivePredictions counts predictions across all keys in the current set.
func (f *Forecaster) ActivePredictions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, set := range f.predictions {
		n += len(set)
	}
	return n
}

// AverageAccuracy reports the mean backtested accuracy across trained models.
func (f *Forecaster) AverageAccuracy() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.trained) == 0 {
		return 0
	}
	var sum float64
	for _, m := range f.trained {
		sum += m.Accuracy
	}
	return sum / float64(len(f.trained))
}

// TrainedModels reports how many keys currently have a usable model.
func (f *Forecaster) TrainedModels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trained)
}
