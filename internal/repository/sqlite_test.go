package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrations())
	t.Cleanup(func() { repo.Close() })
	return repo
}

var repoKey = models.MetricKey{OrgID: "org-1", ServerID: "srv-1", MetricName: "cpu_usage"}

func testAgg(start time.Time, sum float64, count int64) models.WindowAggregate {
	return models.WindowAggregate{
		Key:         repoKey,
		WindowSize:  time.Minute,
		WindowStart: start,
		WindowEnd:   start.Add(time.Minute),
		Count:       count,
		Sum:         sum,
		Min:         sum / float64(count),
		Max:         sum / float64(count),
		Unit:        "percent",
	}
}

func TestSaveAndQueryAggregates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SaveAggregate(ctx, testAgg(base.Add(time.Duration(i)*time.Minute), float64(10*(i+1)), 2)))
	}

	got, err := repo.QueryAggregates(ctx, repoKey, time.Minute, base, base.Add(3*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, base, got[0].WindowStart.UTC())
	assert.Equal(t, 10.0, got[0].Sum)
	assert.Equal(t, int64(2), got[0].Count)
	assert.Equal(t, "percent", got[0].Unit)
	assert.Equal(t, time.Minute, got[0].WindowSize)
}

func TestSaveAggregate_UpsertOnSameWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveAggregate(ctx, testAgg(base, 10, 1)))
	require.NoError(t, repo.SaveAggregate(ctx, testAgg(base, 30, 3)))

	got, err := repo.QueryAggregates(ctx, repoKey, time.Minute, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 30.0, got[0].Sum)
	assert.Equal(t, int64(3), got[0].Count)
}

func TestRecentAggregates_ChronologicalWithLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		require.NoError(t, repo.SaveAggregate(ctx, testAgg(base.Add(time.Duration(i)*time.Minute), float64(i), 1)))
	}

	got, err := repo.RecentAggregates(ctx, repoKey, time.Minute, 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	// The 4 newest, oldest first.
	assert.Equal(t, 6.0, got[0].Sum)
	assert.Equal(t, 9.0, got[3].Sum)
}

func TestRecentAggregates_WindowSizeIsolation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	oneMin := testAgg(base, 10, 1)
	fiveMin := testAgg(base, 50, 1)
	fiveMin.WindowSize = 5 * time.Minute
	fiveMin.WindowEnd = base.Add(5 * time.Minute)
	require.NoError(t, repo.SaveAggregate(ctx, oneMin))
	require.NoError(t, repo.SaveAggregate(ctx, fiveMin))

	got, err := repo.RecentAggregates(ctx, repoKey, 5*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 50.0, got[0].Sum)
}

func TestActiveKeys(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveAggregate(ctx, testAgg(base, 10, 1)))

	other := testAgg(base, 20, 1)
	other.Key = models.MetricKey{OrgID: "org-1", ServerID: "srv-2", MetricName: "memory_usage"}
	require.NoError(t, repo.SaveAggregate(ctx, other))

	keys, err := repo.ActiveKeys(ctx, base)
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.MetricKey{repoKey, other.Key}, keys)

	keys, err = repo.ActiveKeys(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPruneAggregates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		require.NoError(t, repo.SaveAggregate(ctx, testAgg(base.Add(time.Duration(i)*time.Minute), 1, 1)))
	}

	n, err := repo.PruneAggregates(ctx, base.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := repo.QueryAggregates(ctx, repoKey, time.Minute, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSaveAndListAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	a1 := models.Alert{
		ID: "a1", OrgID: "org-1", ServerID: "srv-1", MetricName: "cpu_usage",
		Type: models.AlertTypeThreshold, Severity: models.SeverityCritical,
		Title: "cpu above threshold", Value: 97, Threshold: 95, CreatedAt: now,
	}
	a2 := models.Alert{
		ID: "a2", OrgID: "org-1", ServerID: "srv-1", MetricName: "memory_usage",
		Type: models.AlertTypeAnomaly, Severity: models.SeverityHigh,
		Title: "memory anomaly", Value: 88, CreatedAt: now.Add(time.Minute),
	}
	require.NoError(t, repo.SaveAlert(ctx, a1, ""))
	require.NoError(t, repo.SaveAlert(ctx, a2, "corr-1"))

	alerts, err := repo.ListAlerts(ctx, "org-1", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	// Newest first.
	assert.Equal(t, "a2", alerts[0].ID)
	assert.Equal(t, "corr-1", alerts[0].Metadata["correlation_id"])
	assert.Equal(t, "a1", alerts[1].ID)
	assert.Nil(t, alerts[1].Metadata)

	// Joining a group later updates the correlation id in place.
	require.NoError(t, repo.SaveAlert(ctx, a1, "corr-2"))
	alerts, err = repo.ListAlerts(ctx, "org-1", 10)
	require.NoError(t, err)
	assert.Equal(t, "corr-2", alerts[1].Metadata["correlation_id"])

	// Org isolation.
	alerts, err = repo.ListAlerts(ctx, "org-9", 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}
