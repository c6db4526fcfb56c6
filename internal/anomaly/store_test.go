package anomaly

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
)

var testKey = models.MetricKey{OrgID: "org-1", ServerID: "srv-1", MetricName: "cpu_usage"}

func TestObserve_ColdStartNeverAnomalous(t *testing.T) {
	s := NewStore(2.0, 10, 1000)

	// Nine stable points then an extreme one; still under the guard.
	for i := 0; i < 8; i++ {
		v := s.Observe(testKey, 10)
		assert.False(t, v.IsAnomaly)
	}
	v := s.Observe(testKey, 5000)
	assert.False(t, v.IsAnomaly, "fewer than 10 points must never flag")
}

func TestObserve_SpikeAfterStableBaseline(t *testing.T) {
	s := NewStore(2.0, 10, 1000)

	// Stable baseline around 10, alternating slightly so stddev is nonzero.
	for i := 0; i < 12; i++ {
		val := 10.0
		if i%2 == 0 {
			val = 11.0
		}
		v := s.Observe(testKey, val)
		assert.False(t, v.IsAnomaly, "baseline value flagged at point %d", i)
	}

	v := s.Observe(testKey, 95)
	assert.True(t, v.IsAnomaly)
	assert.Greater(t, v.Score, 2.0)
	assert.Greater(t, v.Threshold, v.Mean)
}

func TestObserve_ZeroStdDevShortCircuits(t *testing.T) {
	s := NewStore(2.0, 10, 1000)

	for i := 0; i < 15; i++ {
		v := s.Observe(testKey, 42)
		assert.False(t, v.IsAnomaly)
		assert.Equal(t, 0.0, v.Score)
		assert.Equal(t, 0.0, v.StdDev)
	}
}

func TestObserve_PercentileCatchesWhatZScoreMisses(t *testing.T) {
	s := NewStore(2.0, 10, 1000)

	// Uniform spread keeps stddev large enough that a value just past the
	// observed range stays inside two sigma.
	for i := 0; i <= 100; i++ {
		s.Observe(testKey, float64(i))
	}

	v := s.Observe(testKey, 104)
	assert.Less(t, v.Score, 2.0, "z-score alone should not trigger here")
	assert.True(t, v.IsAnomaly, "tail test should flag a value beyond the 99th percentile")
}

func TestObserve_RingBufferEvictsOldest(t *testing.T) {
	s := NewStore(2.0, 10, 20)

	// Fill with a high baseline, then overwrite it entirely with a low one.
	for i := 0; i < 20; i++ {
		s.Observe(testKey, 1000)
	}
	for i := 0; i < 20; i++ {
		s.Observe(testKey, 10+float64(i%2))
	}

	snap, ok := s.Snapshot(testKey)
	require.True(t, ok)
	assert.Equal(t, 20, snap.DataPoints)
	assert.InDelta(t, 10.5, snap.Mean, 0.01, "old baseline should be fully evicted")
}

func TestWarmup_SeedsModelFromHistory(t *testing.T) {
	s := NewStore(2.0, 10, 1000)

	history := make([]float64, 15)
	for i := range history {
		history[i] = 10 + float64(i%2)
	}
	s.Warmup(testKey, history)

	snap, ok := s.Snapshot(testKey)
	require.True(t, ok)
	assert.Equal(t, 15, snap.DataPoints)

	v := s.Observe(testKey, 95)
	assert.True(t, v.IsAnomaly, "warmed-up model should detect immediately")
}

func TestStore_KeysAreIndependent(t *testing.T) {
	s := NewStore(2.0, 10, 1000)

	otherKey := models.MetricKey{OrgID: "org-1", ServerID: "srv-2", MetricName: "cpu_usage"}
	for i := 0; i < 12; i++ {
		s.Observe(testKey, 10+float64(i%2))
	}

	// The other key has no history; extreme value stays quiet.
	v := s.Observe(otherKey, 95)
	assert.False(t, v.IsAnomaly)
	assert.Equal(t, 2, s.ActiveModels())
}

func TestStore_ConcurrentObserve(t *testing.T) {
	s := NewStore(2.0, 10, 1000)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			key := models.MetricKey{OrgID: "org-1", ServerID: fmt.Sprintf("srv-%d", g), MetricName: "cpu_usage"}
			for i := 0; i < 200; i++ {
				s.Observe(key, float64(i%20))
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	assert.Equal(t, 8, s.ActiveModels())
	close(done)
}
