package anomaly

import (
	"sync"
	"sync/atomic"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
	"github.com/vibhukrishnas/sams-sub010/internal/pkg/metrics"
)

// Store holds one rolling model per metric key. Models are created lazily on
// the first observation for a key and updated in place after that. Per-key
// updates are serialized behind the model's own lock.
type Store struct {
	sensitivity float64
	minPoints   int
	bufferSize  int

	mu     sync.RWMutex
	models map[models.MetricKey]*entry

	anomalies atomic.Uint64
}

type entry struct {
	mu    sync.Mutex
	model *Model
}

// NewStore builds an empty store with the given detection parameters.
func NewStore(sensitivity float64, minPoints, bufferSize int) *Store {
	if sensitivity <= 0 {
		sensitivity = 2.0
	}
	if minPoints <= 0 {
		minPoints = 10
	}
	return &Store{
		sensitivity: sensitivity,
		minPoints:   minPoints,
		bufferSize:  bufferSize,
		models:      make(map[models.MetricKey]*entry),
	}
}

func (s *Store) entryFor(key models.MetricKey) *entry {
	s.mu.RLock()
	e, ok := s.models[key]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.models[key]; ok {
		return e
	}
	e = &entry{model: newModel(key, s.sensitivity, s.minPoints, s.bufferSize)}
	s.models[key] = e
	return e
}

// Observe scores value against the key's model, updating it first. Never
// fails; a cold model yields a quiet verdict.
func (s *Store) Observe(key models.MetricKey, value float64) Verdict {
	e := s.entryFor(key)
	e.mu.Lock()
	v := e.model.observe(value)
	e.mu.Unlock()

	if v.IsAnomaly {
		s.anomalies.Add(1)
		metrics.AnomaliesDetectedTotal.Inc()
	}
	return v
}

// Warmup seeds a key's model from historical aggregate averages, oldest
// first. Used on boot since models are never persisted.
func (s *Store) Warmup(key models.MetricKey, values []float64) {
	e := s.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, v := range values {
		e.model.push(v)
	}
	e.model.recompute()
}

// Snapshot returns the model state for a key, if one exists.
func (s *Store) Snapshot(key models.MetricKey) (Snapshot, bool) {
	s.mu.RLock()
	e, ok := s.models[key]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model.snapshot(), true
}

// ActiveModels reports how many per-key models exist.
func (s *Store) ActiveModels() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}

// AnomaliesDetected reports the total anomaly verdicts since start.
func (s *Store) AnomaliesDetected() uint64 { return s.anomalies.Load() }
