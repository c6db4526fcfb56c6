// Package correlation groups temporally and topologically related alerts into
// incidents. Scoring is pairwise against alerts seen within a sliding window;
// membership is transitive through groups rather than recomputed across every
// historical pair. Correlation is advisory: any internal failure degrades to a
// standalone alert and never blocks delivery.
package correlation

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
	"github.com/vibhukrishnas/sams-sub010/internal/pkg/metrics"
)

// metricPairs is the fixed correlation table, in tenths. Symmetric lookup;
// unknown pairs contribute nothing. Scores accumulate as integer tenths so
// threshold comparisons at 0.6 and 0.8 are exact.
var metricPairs = map[[2]string]int{
	{"cpu_usage", "memory_usage"}:      7,
	{"disk_usage", "disk_io"}:          8,
	{"network_latency", "packet_loss"}: 9,
	{"cpu_usage", "disk_io"}:           5,
}

// Score weights for the non-table factors, in tenths.
const (
	weightSameServer   = 4
	weightSameSeverity = 2
	weightProximity    = 3
	proximityCutoff    = 60 * time.Second
)

// Outcome reports whether the alert joined a group. Group is a snapshot taken
// under the engine lock; callers own it.
type Outcome struct {
	Joined bool
	Group  *models.CorrelationGroup
}

type member struct {
	alert   models.Alert
	groupID string // empty while standalone
}

type group struct {
	id        string
	members   []models.Alert
	severity  models.Severity
	escalated bool
	highPairs int // pair scores above the escalation threshold
	createdAt time.Time
	lastAdded time.Time
}

// Engine holds the active alert and group tables behind a single lock.
// Correlation volume is orders of magnitude below raw metric volume, so one
// lock is fine.
type Engine struct {
	window        time.Duration
	joinThreshold float64
	escalateAbove float64

	mu     sync.Mutex
	recent []*member
	groups map[string]*group

	now func() time.Time

	processed  atomic.Uint64
	correlated atomic.Uint64
}

// NewEngine builds an engine with the given window and score thresholds.
func NewEngine(window time.Duration, joinThreshold, escalateAbove float64) *Engine {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Engine{
		window:        window,
		joinThreshold: joinThreshold,
		escalateAbove: escalateAbove,
		groups:        make(map[string]*group),
		now:           time.Now,
	}
}

// Correlate scores the alert against the active window and either joins it to
// the best-matching open group or leaves it standalone. Never fails.
func (e *Engine) Correlate(alert models.Alert) Outcome {
	e.processed.Add(1)
	metrics.AlertsProcessedTotal.WithLabelValues(string(alert.Type)).Inc()

	out, err := e.correlate(alert)
	if err != nil {
		// Advisory only. The alert still flows standalone.
		return Outcome{}
	}
	return out
}

func (e *Engine) correlate(alert models.Alert) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.pruneLocked(now)

	// Best candidate: highest pair score above the join threshold. Ties go
	// to the earlier candidate, which is the older alert.
	var (
		best      *member
		bestScore float64
	)
	for _, m := range e.recent {
		score := PairScore(&alert, &m.alert)
		if score > e.joinThreshold && score > bestScore {
			best, bestScore = m, score
		}
	}

	newcomer := &member{alert: alert}
	e.recent = append(e.recent, newcomer)

	if best == nil {
		return Outcome{}, nil
	}

	var g *group
	if best.groupID != "" {
		var ok bool
		if g, ok = e.groups[best.groupID]; !ok {
			return Outcome{}, fmt.Errorf("group %s missing from table", best.groupID)
		}
	} else {
		g = &group{
			id:        uuid.NewString(),
			members:   []models.Alert{best.alert},
			severity:  best.alert.Severity,
			createdAt: now,
			lastAdded: now,
		}
		best.groupID = g.id
		e.groups[g.id] = g
	}

	// Fold the newcomer in: count high-scoring pairs against every member,
	// then recompute severity.
	for i := range g.members {
		if PairScore(&alert, &g.members[i]) > e.escalateAbove {
			g.highPairs++
		}
	}
	g.members = append(g.members, alert)
	g.severity = models.MaxSeverity(g.severity, alert.Severity)
	if g.highPairs >= 2 && !g.escalated {
		g.severity = g.severity.Escalate()
		g.escalated = true
	}
	g.lastAdded = now
	newcomer.groupID = g.id

	e.correlated.Add(1)
	return Outcome{Joined: true, Group: g.snapshot(e.window)}, nil
}

// PairScore computes the weighted correlation score for two alerts,
// clamped to [0,1].
func PairScore(a, b *models.Alert) float64 {
	tenths := 0
	if a.ServerID == b.ServerID && a.ServerID != "" {
		tenths += weightSameServer
	}
	tenths += metricPairScore(a.MetricName, b.MetricName)
	if a.Severity == b.Severity {
		tenths += weightSameSeverity
	}
	gap := a.CreatedAt.Sub(b.CreatedAt)
	if gap < 0 {
		gap = -gap
	}
	if gap < proximityCutoff {
		tenths += weightProximity
	}
	if tenths > 10 {
		tenths = 10
	}
	return float64(tenths) / 10
}

func metricPairScore(a, b string) int {
	if s, ok := metricPairs[[2]string{a, b}]; ok {
		return s
	}
	if s, ok := metricPairs[[2]string{b, a}]; ok {
		return s
	}
	return 0
}

// pruneLocked evicts alerts and seals groups that fell out of the sliding
// window. A late alert after its group sealed starts a new group.
func (e *Engine) pruneLocked(now time.Time) {
	cutoff := now.Add(-e.window)

	kept := e.recent[:0]
	for _, m := range e.recent {
		if m.alert.CreatedAt.After(cutoff) {
			kept = append(kept, m)
		}
	}
	e.recent = kept

	for id, g := range e.groups {
		if !g.lastAdded.After(cutoff) {
			delete(e.groups, id)
		}
	}
}

// Sweep prunes expired alerts and groups. Run is preferred; Sweep exists for
// deterministic tests.
func (e *Engine) Sweep(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneLocked(now)
}

func (g *group) snapshot(window time.Duration) *models.CorrelationGroup {
	ids := make([]string, len(g.members))
	for i, a := range g.members {
		ids[i] = a.ID
	}
	return &models.CorrelationGroup{
		ID:        g.id,
		AlertIDs:  ids,
		Type:      g.members[0].Type,
		Severity:  g.severity,
		CreatedAt: g.createdAt,
		WindowEnd: g.lastAdded.Add(window),
	}
}

// ActiveGroups reports the number of open groups.
func (e *Engine) ActiveGroups() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.groups)
}

// Processed reports the total alerts seen.
func (e *Engine) Processed() uint64 { return e.processed.Load() }

// Correlated reports how many alerts joined a group.
func (e *Engine) Correlated() uint64 { return e.correlated.Load() }
