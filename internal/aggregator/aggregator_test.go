package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
)

func sampleAt(ts time.Time, value float64) *models.MetricSample {
	return &models.MetricSample{
		OrgID:      "org-1",
		ServerID:   "srv-1",
		MetricName: "cpu_usage",
		Value:      value,
		Unit:       "percent",
		Timestamp:  ts,
	}
}

func TestObserve_SampleLandsInEveryTrack(t *testing.T) {
	agg, err := New([]time.Duration{time.Minute, 5 * time.Minute}, 30*time.Second, nil)
	require.NoError(t, err)

	base := time.Date(2026, 8, 31, 10, 2, 15, 0, time.UTC)
	agg.now = func() time.Time { return base }

	agg.Observe(sampleAt(base, 42))

	assert.Equal(t, 2, agg.OpenWindows(), "one open window per track")
}

func TestObserve_AggregateStats(t *testing.T) {
	agg, err := New([]time.Duration{time.Minute}, 30*time.Second, nil)
	require.NoError(t, err)

	base := time.Date(2026, 8, 31, 10, 2, 0, 0, time.UTC)
	agg.now = func() time.Time { return base.Add(30 * time.Second) }

	for _, v := range []float64{10, 20, 30} {
		agg.Observe(sampleAt(base.Add(5*time.Second), v))
	}

	var sealed []models.WindowAggregate
	agg.onSealed = func(a models.WindowAggregate) { sealed = append(sealed, a) }

	// Past window end plus grace.
	n := agg.Sweep(base.Add(2 * time.Minute))
	require.Equal(t, 1, n)
	require.Len(t, sealed, 1)

	w := sealed[0]
	assert.Equal(t, int64(3), w.Count)
	assert.Equal(t, 60.0, w.Sum)
	assert.Equal(t, 10.0, w.Min)
	assert.Equal(t, 30.0, w.Max)
	assert.Equal(t, 20.0, w.Avg())
	assert.Equal(t, base, w.WindowStart)
	assert.Equal(t, base.Add(time.Minute), w.WindowEnd)
}

func TestObserve_LateSampleDropped(t *testing.T) {
	agg, err := New([]time.Duration{time.Minute}, 30*time.Second, nil)
	require.NoError(t, err)

	base := time.Date(2026, 8, 31, 10, 2, 0, 0, time.UTC)
	// Now is well past the sample's window end plus grace.
	agg.now = func() time.Time { return base.Add(5 * time.Minute) }

	agg.Observe(sampleAt(base.Add(10*time.Second), 99))

	assert.Equal(t, 0, agg.OpenWindows(), "late sample must not reopen a sealed window")
	assert.Equal(t, uint64(1), agg.LateSamples())
}

func TestSweep_RespectsGracePeriod(t *testing.T) {
	agg, err := New([]time.Duration{time.Minute}, 30*time.Second, nil)
	require.NoError(t, err)

	base := time.Date(2026, 8, 31, 10, 2, 0, 0, time.UTC)
	agg.now = func() time.Time { return base.Add(30 * time.Second) }
	agg.Observe(sampleAt(base.Add(10*time.Second), 5))

	// Window ended but grace has not elapsed; nothing seals.
	assert.Equal(t, 0, agg.Sweep(base.Add(time.Minute+10*time.Second)))
	assert.Equal(t, 1, agg.OpenWindows())

	// Grace elapsed; window seals exactly once.
	assert.Equal(t, 1, agg.Sweep(base.Add(time.Minute+31*time.Second)))
	assert.Equal(t, 0, agg.OpenWindows())
	assert.Equal(t, 0, agg.Sweep(base.Add(time.Hour)), "a window seals at most once")
}

func TestSweep_LateSampleAfterSealIsNotMerged(t *testing.T) {
	var sealed []models.WindowAggregate
	agg, err := New([]time.Duration{time.Minute}, 30*time.Second,
		func(a models.WindowAggregate) { sealed = append(sealed, a) })
	require.NoError(t, err)

	base := time.Date(2026, 8, 31, 10, 2, 0, 0, time.UTC)
	now := base.Add(30 * time.Second)
	agg.now = func() time.Time { return now }

	agg.Observe(sampleAt(base.Add(10*time.Second), 5))
	now = base.Add(2 * time.Minute)
	require.Equal(t, 1, agg.Sweep(now))

	// Same window, arrives after seal.
	agg.Observe(sampleAt(base.Add(20*time.Second), 500))
	agg.Sweep(base.Add(time.Hour))

	require.Len(t, sealed, 1)
	assert.Equal(t, int64(1), sealed[0].Count)
	assert.Equal(t, uint64(1), agg.LateSamples())
}

func TestObserve_SealedWindowNotRecreatedWithinGrace(t *testing.T) {
	var sealed []models.WindowAggregate
	agg, err := New([]time.Duration{time.Minute}, 30*time.Second,
		func(a models.WindowAggregate) { sealed = append(sealed, a) })
	require.NoError(t, err)

	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	// Clock stays inside the window's grace period for the whole test.
	agg.now = func() time.Time { return base.Add(time.Minute) }

	agg.Observe(sampleAt(base.Add(10*time.Second), 5))
	require.Equal(t, 1, agg.Sweep(base.Add(2*time.Minute)))

	// The clock alone would admit this sample. The sealed index must reject
	// it so the window is not recreated and emitted a second time.
	agg.Observe(sampleAt(base.Add(20*time.Second), 500))

	assert.Equal(t, 0, agg.OpenWindows())
	assert.Equal(t, uint64(1), agg.LateSamples())

	agg.Sweep(base.Add(time.Hour))
	require.Len(t, sealed, 1)
	assert.Equal(t, int64(1), sealed[0].Count)
	assert.Equal(t, uint64(1), agg.SealedCount())
}

func TestSealedWindow_Retained(t *testing.T) {
	agg, err := New([]time.Duration{time.Minute}, 30*time.Second, nil)
	require.NoError(t, err)

	base := time.Date(2026, 8, 31, 10, 2, 0, 0, time.UTC)
	agg.now = func() time.Time { return base.Add(30 * time.Second) }
	agg.Observe(sampleAt(base.Add(10*time.Second), 7))
	agg.Sweep(base.Add(2 * time.Minute))

	key := models.MetricKey{OrgID: "org-1", ServerID: "srv-1", MetricName: "cpu_usage"}
	got, ok := agg.SealedWindow(key, time.Minute, base)
	require.True(t, ok)
	assert.Equal(t, 7.0, got.Sum)
}

func TestFlush_SealsEverythingOnShutdown(t *testing.T) {
	var sealed int
	agg, err := New([]time.Duration{time.Minute, time.Hour}, 30*time.Second,
		func(models.WindowAggregate) { sealed++ })
	require.NoError(t, err)

	base := time.Date(2026, 8, 31, 10, 2, 15, 0, time.UTC)
	agg.now = func() time.Time { return base }
	agg.Observe(sampleAt(base, 1))

	assert.Equal(t, 2, agg.Flush())
	assert.Equal(t, 2, sealed)
	assert.Equal(t, 0, agg.OpenWindows())
}

func TestDistinctKeysGetDistinctWindows(t *testing.T) {
	agg, err := New([]time.Duration{time.Minute}, 30*time.Second, nil)
	require.NoError(t, err)

	base := time.Date(2026, 8, 31, 10, 2, 0, 0, time.UTC)
	agg.now = func() time.Time { return base }

	s1 := sampleAt(base, 1)
	s2 := sampleAt(base, 2)
	s2.ServerID = "srv-2"
	s3 := sampleAt(base, 3)
	s3.MetricName = "memory_usage"

	agg.Observe(s1)
	agg.Observe(s2)
	agg.Observe(s3)

	assert.Equal(t, 3, agg.OpenWindows())
}
