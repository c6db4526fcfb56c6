// Package anomaly maintains a rolling statistical model per metric key and
// scores each new aggregate value against it. Models live only in memory and
// are rebuilt from recent aggregate history on boot.
package anomaly

import (
	"math"
	"sort"
	"time"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
)

// Detection guards. Below minPoints every verdict is not-anomalous; the
// percentile test needs a larger buffer before tail estimates mean anything.
const percentileMinPoints = 20

// Verdict is the outcome of scoring one value.
type Verdict struct {
	IsAnomaly bool    `json:"is_anomaly"`
	Score     float64 `json:"score"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"stddev"`
	Threshold float64 `json:"threshold"`
}

// Model is the per-key rolling model. Not safe for concurrent use; the Store
// serializes access per key.
type Model struct {
	Key         models.MetricKey
	sensitivity float64
	minPoints   int

	ring []float64
	next int
	full bool

	mean        float64
	stddev      float64
	dataPoints  int
	lastUpdated time.Time
}

func newModel(key models.MetricKey, sensitivity float64, minPoints, bufferSize int) *Model {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Model{
		Key:         key,
		sensitivity: sensitivity,
		minPoints:   minPoints,
		ring:        make([]float64, 0, bufferSize),
	}
}

// observe folds value into the buffer, recomputes the statistics, and scores
// the value. Never fails; insufficient data yields a quiet verdict.
func (m *Model) observe(value float64) Verdict {
	m.push(value)
	m.recompute()

	v := Verdict{
		Mean:      m.mean,
		StdDev:    m.stddev,
		Threshold: m.mean + m.sensitivity*m.stddev,
	}
	if m.stddev > 0 {
		v.Score = math.Abs(value-m.mean) / m.stddev
	}
	if m.dataPoints < m.minPoints {
		// Cold start: record but never flag.
		return v
	}

	// Gaussian tests; a zero stddev short-circuits the z-score.
	if m.stddev > 0 && math.Abs(value-m.mean) > m.sensitivity*m.stddev {
		v.IsAnomaly = true
	}
	if m.stddev > 0 && value > v.Threshold {
		v.IsAnomaly = true
	}

	// Empirical tail test covers heavy-tailed distributions the Gaussian
	// tests miss.
	if !v.IsAnomaly && m.dataPoints >= percentileMinPoints {
		p1, p99 := m.percentiles()
		if value < p1 || value > p99 {
			v.IsAnomaly = true
		}
	}
	return v
}

func (m *Model) push(value float64) {
	if len(m.ring) < cap(m.ring) {
		m.ring = append(m.ring, value)
	} else {
		m.ring[m.next] = value
		m.next = (m.next + 1) % cap(m.ring)
		m.full = true
	}
	m.dataPoints = len(m.ring)
	m.lastUpdated = time.Now()
}

// recompute derives mean and population standard deviation from the buffer.
// O(N) per update is fine at per-key granularity with the cap in place.
func (m *Model) recompute() {
	n := len(m.ring)
	if n == 0 {
		m.mean, m.stddev = 0, 0
		return
	}
	var sum float64
	for _, v := range m.ring {
		sum += v
	}
	m.mean = sum / float64(n)

	var sq float64
	for _, v := range m.ring {
		d := v - m.mean
		sq += d * d
	}
	m.stddev = math.Sqrt(sq / float64(n))
}

// percentiles returns the empirical 1st and 99th percentiles of the buffer.
func (m *Model) percentiles() (p1, p99 float64) {
	sorted := make([]float64, len(m.ring))
	copy(sorted, m.ring)
	sort.Float64s(sorted)
	n := len(sorted)
	loIdx := int(math.Floor(0.01 * float64(n-1)))
	hiIdx := int(math.Ceil(0.99 * float64(n-1)))
	return sorted[loIdx], sorted[hiIdx]
}

// Snapshot exposes the model state for introspection endpoints.
type Snapshot struct {
	Key         models.MetricKey `json:"key"`
	Mean        float64          `json:"mean"`
	StdDev      float64          `json:"stddev"`
	Threshold   float64          `json:"threshold"`
	DataPoints  int              `json:"data_points"`
	LastUpdated time.Time        `json:"last_updated"`
}

func (m *Model) snapshot() Snapshot {
	return Snapshot{
		Key:         m.Key,
		Mean:        m.mean,
		StdDev:      m.stddev,
		Threshold:   m.mean + m.sensitivity*m.stddev,
		DataPoints:  m.dataPoints,
		LastUpdated: m.lastUpdated,
	}
}
