// Package repository persists sealed aggregates and alerts to SQLite. The
// live pipeline owns all hot state in memory; the database exists for
// restarts (model warmup), retention queries, and read APIs.
package repository

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/vibhukrishnas/sams-sub010/internal/models"
	"github.com/vibhukrishnas/sams-sub010/migrations"
)

// SQLiteRepository implements persistence using SQLite.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository opens (or creates) the database at dbPath.
// Use ":memory:" for tests.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	// WAL keeps readers from blocking the sealing writer.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Ping verifies database connectivity; used by the readiness probe.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// RunMigrations applies all embedded migrations in filename order.
func (r *SQLiteRepository) RunMigrations() error {
	entries, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(entries)
	for _, name := range entries {
		sqlBytes, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := r.db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}
	return nil
}

type aggregateRow struct {
	OrgID         string    `db:"org_id"`
	ServerID      string    `db:"server_id"`
	MetricName    string    `db:"metric_name"`
	WindowSizeSec int64     `db:"window_size_sec"`
	WindowStart   time.Time `db:"window_start"`
	WindowEnd     time.Time `db:"window_end"`
	SampleCount   int64     `db:"sample_count"`
	ValueSum      float64   `db:"value_sum"`
	ValueMin      float64   `db:"value_min"`
	ValueMax      float64   `db:"value_max"`
	Unit          string    `db:"unit"`
}

func (row aggregateRow) toModel() models.WindowAggregate {
	return models.WindowAggregate{
		Key: models.MetricKey{
			OrgID:      row.OrgID,
			ServerID:   row.ServerID,
			MetricName: row.MetricName,
		},
		WindowSize:  time.Duration(row.WindowSizeSec) * time.Second,
		WindowStart: row.WindowStart,
		WindowEnd:   row.WindowEnd,
		Count:       row.SampleCount,
		Sum:         row.ValueSum,
		Min:         row.ValueMin,
		Max:         row.ValueMax,
		Unit:        row.Unit,
	}
}

// SaveAggregate upserts one sealed aggregate.
func (r *SQLiteRepository) SaveAggregate(ctx context.Context, agg models.WindowAggregate) error {
	query := `
		INSERT INTO window_aggregates
			(org_id, server_id, metric_name, window_size_sec, window_start, window_end,
			 sample_count, value_sum, value_min, value_max, unit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, server_id, metric_name, window_size_sec, window_start)
		DO UPDATE SET sample_count = excluded.sample_count,
			value_sum = excluded.value_sum,
			value_min = excluded.value_min,
			value_max = excluded.value_max
	`
	_, err := r.db.ExecContext(ctx, query,
		agg.Key.OrgID, agg.Key.ServerID, agg.Key.MetricName,
		int64(agg.WindowSize.Seconds()), agg.WindowStart.UTC(), agg.WindowEnd.UTC(),
		agg.Count, agg.Sum, agg.Min, agg.Max, agg.Unit,
	)
	return err
}

// RecentAggregates returns up to limit sealed aggregates for one key and
// window size, oldest first. Used for anomaly model warmup on boot.
func (r *SQLiteRepository) RecentAggregates(ctx context.Context, key models.MetricKey, windowSize time.Duration, limit int) ([]models.WindowAggregate, error) {
	query := `
		SELECT org_id, server_id, metric_name, window_size_sec, window_start, window_end,
		       sample_count, value_sum, value_min, value_max, unit
		FROM window_aggregates
		WHERE org_id = ? AND server_id = ? AND metric_name = ? AND window_size_sec = ?
		ORDER BY window_start DESC
		LIMIT ?
	`
	var rows []aggregateRow
	if err := r.db.SelectContext(ctx, &rows, query,
		key.OrgID, key.ServerID, key.MetricName, int64(windowSize.Seconds()), limit); err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}

	// Reverse into chronological order.
	out := make([]models.WindowAggregate, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row.toModel()
	}
	return out, nil
}

// QueryAggregates returns sealed aggregates for a key within [from, to).
func (r *SQLiteRepository) QueryAggregates(ctx context.Context, key models.MetricKey, windowSize time.Duration, from, to time.Time) ([]models.WindowAggregate, error) {
	query := `
		SELECT org_id, server_id, metric_name, window_size_sec, window_start, window_end,
		       sample_count, value_sum, value_min, value_max, unit
		FROM window_aggregates
		WHERE org_id = ? AND server_id = ? AND metric_name = ? AND window_size_sec = ?
		  AND window_start >= ? AND window_start < ?
		ORDER BY window_start ASC
	`
	var rows []aggregateRow
	if err := r.db.SelectContext(ctx, &rows, query,
		key.OrgID, key.ServerID, key.MetricName, int64(windowSize.Seconds()),
		from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	out := make([]models.WindowAggregate, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

// ActiveKeys lists metric keys with any aggregate sealed since the cutoff.
// Drives model warmup on boot.
func (r *SQLiteRepository) ActiveKeys(ctx context.Context, since time.Time) ([]models.MetricKey, error) {
	query := `
		SELECT DISTINCT org_id, server_id, metric_name
		FROM window_aggregates
		WHERE window_end > ?
	`
	var rows []struct {
		OrgID      string `db:"org_id"`
		ServerID   string `db:"server_id"`
		MetricName string `db:"metric_name"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, since.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list active keys: %w", err)
	}
	out := make([]models.MetricKey, len(rows))
	for i, row := range rows {
		out[i] = models.MetricKey{OrgID: row.OrgID, ServerID: row.ServerID, MetricName: row.MetricName}
	}
	return out, nil
}

// PruneAggregates deletes aggregates older than the retention horizon.
// Returns the number of rows removed.
func (r *SQLiteRepository) PruneAggregates(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM window_aggregates WHERE window_end < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune aggregates: %w", err)
	}
	return res.RowsAffected()
}

// SaveAlert persists one alert. correlationID may be empty for standalone
// alerts and is updated when the alert later joins a group.
func (r *SQLiteRepository) SaveAlert(ctx context.Context, alert models.Alert, correlationID string) error {
	query := `
		INSERT INTO alerts
			(id, org_id, server_id, metric_name, type, severity, title, description,
			 value, threshold, correlation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET correlation_id = excluded.correlation_id
	`
	_, err := r.db.ExecContext(ctx, query,
		alert.ID, alert.OrgID, alert.ServerID, alert.MetricName,
		string(alert.Type), string(alert.Severity), alert.Title, alert.Description,
		alert.Value, alert.Threshold, correlationID, alert.CreatedAt.UTC(),
	)
	return err
}

type alertRow struct {
	ID            string    `db:"id"`
	OrgID         string    `db:"org_id"`
	ServerID      string    `db:"server_id"`
	MetricName    string    `db:"metric_name"`
	Type          string    `db:"type"`
	Severity      string    `db:"severity"`
	Title         string    `db:"title"`
	Description   string    `db:"description"`
	Value         float64   `db:"value"`
	Threshold     float64   `db:"threshold"`
	CorrelationID string    `db:"correlation_id"`
	CreatedAt     time.Time `db:"created_at"`
}

// ListAlerts returns the most recent alerts for an org, newest first.
func (r *SQLiteRepository) ListAlerts(ctx context.Context, orgID string, limit int) ([]models.Alert, error) {
	query := `
		SELECT id, org_id, server_id, metric_name, type, severity, title, description,
		       value, threshold, correlation_id, created_at
		FROM alerts
		WHERE org_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	var rows []alertRow
	if err := r.db.SelectContext(ctx, &rows, query, orgID, limit); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	out := make([]models.Alert, len(rows))
	for i, row := range rows {
		out[i] = models.Alert{
			ID:          row.ID,
			OrgID:       row.OrgID,
			ServerID:    row.ServerID,
			MetricName:  row.MetricName,
			Type:        models.AlertType(row.Type),
			Severity:    models.Severity(row.Severity),
			Title:       row.Title,
			Description: row.Description,
			Value:       row.Value,
			Threshold:   row.Threshold,
			CreatedAt:   row.CreatedAt,
		}
		if row.CorrelationID != "" {
			out[i].Metadata = map[string]string{"correlation_id": row.CorrelationID}
		}
	}
	return out, nil
}
