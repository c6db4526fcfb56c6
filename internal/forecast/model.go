// Package forecast trains a trend-plus-seasonality model per metric key and
// emits forward-looking point predictions with horizon-decayed confidence.
package forecast

import (
	"math"
	"time"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
)

// minTrainPoints is the minimum history length for a usable model.
const minTrainPoints = 20

// Point is one historical observation, typically a sealed window average.
type Point struct {
	Timestamp time.Time
	Value     float64
}

// Model is the trained state for one metric key. Immutable after Train;
// replaced wholesale on retrain.
type Model struct {
	Key models.MetricKey

	TrendCoefficient float64         // value delta per hour, from OLS
	HourlyPattern    map[int]float64 // mean by hour of day
	DailyPattern     map[int]float64 // mean by day of week
	Volatility       float64         // sample stddev of the series
	Accuracy         float64         // backtested, in [0,1]
	LastTrained      time.Time

	lastValue float64
	lastTime  time.Time
}

// Train fits a model over history, oldest first. Returns nil when history is
// too short to be useful.
func Train(key models.MetricKey, history []Point) *Model {
	n := len(history)
	if n < minTrainPoints {
		return nil
	}

	m := &Model{
		Key:              key,
		TrendCoefficient: olsSlope(history),
		HourlyPattern:    bucketMeans(history, func(t time.Time) int { return t.Hour() }),
		DailyPattern:     bucketMeans(history, func(t time.Time) int { return int(t.Weekday()) }),
		Volatility:       sampleStdDev(history),
		LastTrained:      time.Now(),
		lastValue:        history[n-1].Value,
		lastTime:         history[n-1].Timestamp,
	}
	m.Accuracy = backtest(key, history)
	return m
}

// Predict produces the point forecast for targetTime. The boolean is false
// when confidence falls below floor and the prediction is suppressed.
func (m *Model) Predict(targetTime time.Time, floor float64) (models.Prediction, bool) {
	hoursAhead := targetTime.Sub(m.lastTime).Hours()
	if hoursAhead < 0 {
		hoursAhead = 0
	}

	confidence := m.Accuracy * math.Exp(-hoursAhead/24)
	if confidence < floor {
		return models.Prediction{}, false
	}

	value := m.valueAt(targetTime, hoursAhead)
	return models.Prediction{
		Key:        m.Key,
		Value:      value,
		Confidence: confidence,
		Risk:       models.ClassifyRisk(value, confidence),
		TargetTime: targetTime,
		CreatedAt:  time.Now().UTC(),
	}, true
}

func (m *Model) valueAt(targetTime time.Time, hoursAhead float64) float64 {
	base := m.lastValue + m.TrendCoefficient*hoursAhead

	hourly, ok := m.HourlyPattern[targetTime.Hour()]
	if !ok {
		hourly = base
	}
	daily, ok := m.DailyPattern[int(targetTime.Weekday())]
	if !ok {
		daily = base
	}

	value := 0.5*base + 0.3*hourly + 0.2*daily
	if value < 0 {
		value = 0
	}
	return value
}

// olsSlope fits value against point index by ordinary least squares and
// rescales the per-index slope to per-hour using the mean sample spacing.
func olsSlope(history []Point) float64 {
	n := float64(len(history))
	var sumX, sumY, sumXY, sumXX float64
	for i, p := range history {
		x := float64(i)
		sumX += x
		sumY += p.Value
		sumXY += x * p.Value
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / den

	span := history[len(history)-1].Timestamp.Sub(history[0].Timestamp).Hours()
	if span <= 0 {
		return slope
	}
	stepsPerHour := float64(len(history)-1) / span
	return slope * stepsPerHour
}

func bucketMeans(history []Point, bucket func(time.Time) int) map[int]float64 {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, p := range history {
		b := bucket(p.Timestamp)
		sums[b] += p.Value
		counts[b]++
	}
	out := make(map[int]float64, len(sums))
	for b, s := range sums {
		out[b] = s / float64(counts[b])
	}
	return out
}

func sampleStdDev(history []Point) float64 {
	n := len(history)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, p := range history {
		sum += p.Value
	}
	mean := sum / float64(n)
	var sq float64
	for _, p := range history {
		d := p.Value - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n-1))
}

// backtest holds out the tail of the series, refits on the remainder, and
// scores each holdout point by relative absolute error.
// Accuracy = 1 - mean relative error, floored at 0.
func backtest(key models.MetricKey, history []Point) float64 {
	n := len(history)
	holdout := n / 4
	if holdout > 10 {
		holdout = 10
	}
	if holdout < 1 {
		holdout = 1
	}
	trainSet := history[:n-holdout]
	if len(trainSet) < 2 {
		return 0
	}

	sub := &Model{
		Key:              key,
		TrendCoefficient: olsSlope(trainSet),
		HourlyPattern:    bucketMeans(trainSet, func(t time.Time) int { return t.Hour() }),
		DailyPattern:     bucketMeans(trainSet, func(t time.Time) int { return int(t.Weekday()) }),
		lastValue:        trainSet[len(trainSet)-1].Value,
		lastTime:         trainSet[len(trainSet)-1].Timestamp,
	}

	var totalErr float64
	for _, p := range history[n-holdout:] {
		hoursAhead := p.Timestamp.Sub(sub.lastTime).Hours()
		if hoursAhead < 0 {
			hoursAhead = 0
		}
		predicted := sub.valueAt(p.Timestamp, hoursAhead)
		denom := math.Abs(p.Value)
		if denom < 1e-9 {
			denom = 1
		}
		totalErr += math.Abs(predicted-p.Value) / denom
	}

	accuracy := 1 - totalErr/float64(holdout)
	if accuracy < 0 {
		accuracy = 0
	}
	return accuracy
}
