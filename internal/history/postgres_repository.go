package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trafficwatch/trafficwatch/internal/geo"
	"github.com/trafficwatch/trafficwatch/internal/traffic"
)

const schema = `
	CREATE TABLE IF NOT EXISTS traffic_metrics (
		id                  BIGSERIAL PRIMARY KEY,
		camera_id           TEXT NOT NULL,
		camera_name         TEXT NOT NULL DEFAULT '',
		district            TEXT NOT NULL DEFAULT '',
		total_count         INTEGER NOT NULL,
		detection_details   JSONB NOT NULL DEFAULT '{}',
		annotated_image_url TEXT NOT NULL DEFAULT '',
		lat                 DOUBLE PRECISION,
		lon                 DOUBLE PRECISION,
		observed_at         TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS traffic_metrics_observed_at_idx ON traffic_metrics (observed_at DESC);
	CREATE INDEX IF NOT EXISTS traffic_metrics_camera_idx ON traffic_metrics (camera_id, observed_at DESC);
	CREATE INDEX IF NOT EXISTS traffic_metrics_district_idx ON traffic_metrics (district, observed_at DESC);
`

const selectColumns = `
	SELECT
		id, camera_id, camera_name, district,
		total_count, detection_details, annotated_image_url,
		lat, lon, observed_at
	FROM traffic_metrics
`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL traffic history repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the history table and its indexes if missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create traffic_metrics schema: %w", err)
	}
	return nil
}

// Insert stores measurements in one batch.
func (r *PostgresRepository) Insert(ctx context.Context, metrics ...traffic.Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	query := `
		INSERT INTO traffic_metrics (
			camera_id, camera_name, district,
			total_count, detection_details, annotated_image_url,
			lat, lon, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	batch := &pgx.Batch{}
	for _, m := range metrics {
		var lat, lon *float64
		if m.Location != nil {
			lat, lon = &m.Location.Lat, &m.Location.Lon
		}
		details := m.Details
		if details == nil {
			details = map[string]int{}
		}
		observedAt := m.Timestamp
		if observedAt.IsZero() {
			observedAt = time.Now()
		}
		batch.Queue(query,
			m.CameraID,
			m.CameraName,
			m.District,
			m.TotalCount,
			details,
			m.AnnotatedImageURL,
			lat,
			lon,
			observedAt,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	for range metrics {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert traffic metric: %w", err)
		}
	}
	return br.Close()
}

// Find returns the records matching q ordered by time.
func (r *PostgresRepository) Find(ctx context.Context, q Query) ([]Record, error) {
	where, args := whereClause(q.Start, q.End, q.District, q.CameraID)

	order := "ASC"
	if q.Newest {
		order = "DESC"
	}
	query := selectColumns + where + " ORDER BY observed_at " + order + ", id " + order
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// HourlyTotals sums total counts per hour of the wall clock in loc.
func (r *PostgresRepository) HourlyTotals(ctx context.Context, start, end time.Time, district string, loc *time.Location) (map[string]int64, error) {
	where, args := whereClause(start, end, district, "")
	args = append(args, loc.String())
	query := fmt.Sprintf(`
		SELECT date_trunc('hour', observed_at AT TIME ZONE $%d) AS bucket, SUM(total_count)
		FROM traffic_metrics
		%s
		GROUP BY bucket
	`, len(args), where)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var bucket time.Time
		var total int64
		if err := rows.Scan(&bucket, &total); err != nil {
			return nil, err
		}
		// bucket is a wall-clock timestamp without zone.
		out[bucket.Format(HourKeyLayout)] = total
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Peak returns the record with the highest total count of a camera.
func (r *PostgresRepository) Peak(ctx context.Context, cameraID string) (Record, error) {
	query := selectColumns + `
		WHERE camera_id = $1
		ORDER BY total_count DESC, observed_at DESC
		LIMIT 1
	`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, cameraID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// MaxCounts returns the highest total count stored for each camera.
func (r *PostgresRepository) MaxCounts(ctx context.Context, cameraIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(cameraIDs))
	if len(cameraIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT camera_id, MAX(total_count)
		FROM traffic_metrics
		WHERE camera_id = ANY($1)
		GROUP BY camera_id
	`

	rows, err := r.pool.Query(ctx, query, cameraIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var peak int
		if err := rows.Scan(&id, &peak); err != nil {
			return nil, err
		}
		out[id] = peak
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func whereClause(start, end time.Time, district, cameraID string) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if !start.IsZero() {
		add("observed_at >= $%d", start)
	}
	if !end.IsZero() {
		add("observed_at < $%d", end)
	}
	if district != "" {
		add("district = $%d", district)
	}
	if cameraID != "" {
		add("camera_id = $%d", cameraID)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var lat, lon *float64
	err := row.Scan(
		&rec.ID,
		&rec.CameraID,
		&rec.CameraName,
		&rec.District,
		&rec.TotalCount,
		&rec.Details,
		&rec.AnnotatedImageURL,
		&lat,
		&lon,
		&rec.Timestamp,
	)
	if err != nil {
		return Record{}, err
	}
	if lat != nil && lon != nil {
		rec.Location = &geo.Point{Lat: *lat, Lon: *lon}
	}
	return rec, nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
