// Package aggregator folds validated metric samples into tumbling windows.
// Each configured window size is an independent track; a sample lands in
// exactly one open window per track. Sealing happens on sweep, after the
// window end plus a late-arrival grace period.
package aggregator

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
	"github.com/vibhukrishnas/sams-sub010/internal/pkg/metrics"
)

const shardCount = 32

// sealedRetentionCap bounds the in-memory index of sealed windows served to
// read queries. Older windows live only in the database.
const sealedRetentionCap = 65536

// SealedHandler receives each window exactly once, at seal time.
type SealedHandler func(agg models.WindowAggregate)

type windowKey struct {
	key   models.MetricKey
	size  time.Duration
	start int64 // unix nanos of window start
}

type shard struct {
	mu   sync.Mutex
	open map[windowKey]*models.WindowAggregate
}

// Aggregator maintains open windows sharded by metric key. All mutation of a
// given key's windows happens under that key's shard lock.
type Aggregator struct {
	windows []time.Duration
	grace   time.Duration
	shards  [shardCount]*shard

	// sealed is the recent-window index, keyed by key|size|start. It serves
	// read queries and marks windows as sealed for late-sample detection.
	sealed *lru.Cache[string, models.WindowAggregate]

	onSealed SealedHandler

	// now is swappable for tests.
	now func() time.Time

	lateSamples   atomic.Uint64
	sealedWindows atomic.Uint64
}

// New builds an aggregator with the given window tracks and grace period.
// onSealed may be nil.
func New(windows []time.Duration, grace time.Duration, onSealed SealedHandler) (*Aggregator, error) {
	if len(windows) == 0 {
		return nil, fmt.Errorf("at least one window size is required")
	}
	cache, err := lru.New[string, models.WindowAggregate](sealedRetentionCap)
	if err != nil {
		return nil, fmt.Errorf("failed to build sealed-window index: %w", err)
	}
	a := &Aggregator{
		windows:  windows,
		grace:    grace,
		sealed:   cache,
		onSealed: onSealed,
		now:      time.Now,
	}
	for i := range a.shards {
		a.shards[i] = &shard{open: make(map[windowKey]*models.WindowAggregate)}
	}
	return a, nil
}

func (a *Aggregator) shardFor(key models.MetricKey) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.String()))
	return a.shards[h.Sum32()%shardCount]
}

// Observe folds one sample into the open window of every track. Samples whose
// window has already been sealed are dropped and counted, never re-opened.
func (a *Aggregator) Observe(sample *models.MetricSample) {
	key := sample.Key()
	sh := a.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	// The clock is read under the shard lock: a sweep tick time is never
	// ahead of a wall-clock read that follows its critical section, so a
	// stale clock cannot admit a sample into a window the sweep just sealed.
	now := a.now()

	for _, size := range a.windows {
		start := sample.Timestamp.Truncate(size)
		end := start.Add(size)
		wk := windowKey{key: key, size: size, start: start.UnixNano()}
		agg, ok := sh.open[wk]
		if !ok {
			if now.After(end.Add(a.grace)) || a.sealed.Contains(sealedCacheKey(key, size, start)) {
				// The window this sample belongs to is already sealed.
				a.lateSamples.Add(1)
				metrics.SamplesIngestedTotal.WithLabelValues("late").Inc()
				continue
			}
			agg = &models.WindowAggregate{
				Key:         key,
				WindowSize:  size,
				WindowStart: start,
				WindowEnd:   end,
				Unit:        sample.Unit,
			}
			sh.open[wk] = agg
		}
		agg.Add(sample.Value)
	}
}

// Sweep seals every open window whose end plus grace has passed, invoking the
// sealed handler outside any shard lock. Returns the number of windows sealed.
func (a *Aggregator) Sweep(now time.Time) int {
	var ready []models.WindowAggregate
	for _, sh := range a.shards {
		sh.mu.Lock()
		for wk, agg := range sh.open {
			if now.After(agg.WindowEnd.Add(a.grace)) {
				// Indexed before removal so a racing Observe already sees the
				// window as sealed.
				a.sealed.Add(sealedCacheKey(agg.Key, agg.WindowSize, agg.WindowStart), *agg)
				ready = append(ready, *agg)
				delete(sh.open, wk)
			}
		}
		sh.mu.Unlock()
	}

	a.emit(ready)
	return len(ready)
}

// emit dispatches sealed windows oldest first so downstream models observe
// history in order even when one sweep seals several windows.
func (a *Aggregator) emit(ready []models.WindowAggregate) {
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].WindowEnd.Before(ready[j].WindowEnd)
	})
	for _, agg := range ready {
		a.sealedWindows.Add(1)
		metrics.WindowsSealedTotal.WithLabelValues(agg.WindowSize.String()).Inc()
		if a.onSealed != nil {
			a.onSealed(agg)
		}
	}
}

// Flush seals all remaining open windows regardless of grace. Used on shutdown
// so no partial aggregate is lost.
func (a *Aggregator) Flush() int {
	var ready []models.WindowAggregate
	for _, sh := range a.shards {
		sh.mu.Lock()
		for wk, agg := range sh.open {
			a.sealed.Add(sealedCacheKey(agg.Key, agg.WindowSize, agg.WindowStart), *agg)
			ready = append(ready, *agg)
			delete(sh.open, wk)
		}
		sh.mu.Unlock()
	}

	a.emit(ready)
	return len(ready)
}

// Run sweeps on a fixed cadence until ctx is cancelled, then flushes.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = a.smallestWindow() / 2
		if interval < time.Second {
			interval = time.Second
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.Flush()
			return
		case now := <-ticker.C:
			a.Sweep(now)
		}
	}
}

func (a *Aggregator) smallestWindow() time.Duration {
	min := a.windows[0]
	for _, w := range a.windows[1:] {
		if w < min {
			min = w
		}
	}
	return min
}

// SealedWindow returns a recently sealed aggregate from the in-memory index.
func (a *Aggregator) SealedWindow(key models.MetricKey, size time.Duration, start time.Time) (models.WindowAggregate, bool) {
	return a.sealed.Get(sealedCacheKey(key, size, start.Truncate(size)))
}

// OpenWindows reports the number of currently open windows across all tracks.
func (a *Aggregator) OpenWindows() int {
	n := 0
	for _, sh := range a.shards {
		sh.mu.Lock()
		n += len(sh.open)
		sh.mu.Unlock()
	}
	return n
}

// LateSamples reports how many samples arrived after their window sealed.
func (a *Aggregator) LateSamples() uint64 { return a.lateSamples.Load() }

// SealedCount reports how many windows have been sealed since start.
func (a *Aggregator) SealedCount() uint64 { return a.sealedWindows.Load() }

func sealedCacheKey(key models.MetricKey, size time.Duration, start time.Time) string {
	return fmt.Sprintf("%s|%s|%d", key.String(), size, start.UnixNano())
}
