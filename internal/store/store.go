package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	dbtypes "github.com/nitesh/incident_map/internal/db"
	"github.com/nitesh/incident_map/pkg/models"
)

type PgStore struct {
	db *sqlx.DB
}

func NewPgStore(db *sql.DB) *PgStore {
	return &PgStore{db: sqlx.NewDb(db, "postgres")}
}

func RunMigrations(db *sql.DB) error {
	initSQL := `
CREATE TABLE IF NOT EXISTS incident_events(
  id BIGSERIAL PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  latitude DOUBLE PRECISION NOT NULL,
  longitude DOUBLE PRECISION NOT NULL,
  timestamp TIMESTAMPTZ,
  event_type TEXT NOT NULL DEFAULT 'protest',
  verified BOOLEAN NOT NULL DEFAULT FALSE,
  intensity DOUBLE PRECISION NOT NULL DEFAULT 1.0,
  source_url TEXT,
  source_platform TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_incident_events_timestamp ON incident_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_incident_events_type ON incident_events(event_type);
CREATE INDEX IF NOT EXISTS idx_incident_events_latlon ON incident_events(latitude, longitude);

CREATE TABLE IF NOT EXISTS cluster_summaries(
  id UUID PRIMARY KEY,
  member_ids JSONB NOT NULL,
  summary TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
-- GIN index so summaries can be found by member id
CREATE INDEX IF NOT EXISTS idx_cluster_summaries_members ON cluster_summaries USING GIN (member_ids);
`
	_, err := db.Exec(initSQL)
	return err
}

const eventColumns = `id,title,description,latitude,longitude,timestamp,event_type,verified,intensity,source_url,source_platform`

// windowed treats events with an unknown timestamp as reported when stored.
const windowed = `COALESCE(timestamp, created_at) >= ?`

// SaveMany inserts events in one transaction and returns the assigned ids in
// input order. The ids are also written back into the events.
func (p *PgStore) SaveMany(ctx context.Context, events []*models.RawEvent) ([]int64, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	stmt := `
INSERT INTO incident_events (title, description, latitude, longitude, timestamp, event_type, verified, intensity, source_url, source_platform)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id;
`
	ids := make([]int64, 0, len(events))
	for i, e := range events {
		var id int64
		err := tx.QueryRowxContext(ctx, stmt,
			e.Title,
			e.Description,
			e.Latitude,
			e.Longitude,
			e.Timestamp,
			string(e.EventType),
			e.Verified,
			e.Intensity,
			e.SourceURL,
			e.SourcePlatform,
		).Scan(&id)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("insert event %d: %w", i, err)
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for i, e := range events {
		e.ID = ids[i]
	}
	return ids, nil
}

// Recent lists events in the window, most recent first and unknown
// timestamps last.
func (p *PgStore) Recent(ctx context.Context, f models.EventFilter) ([]models.RawEvent, error) {
	where := []string{windowed}
	args := []any{f.Since}
	if f.VerifiedOnly {
		where = append(where, "verified = TRUE")
	}
	if f.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(f.EventType))
	}
	query := p.db.Rebind(`
SELECT ` + eventColumns + `
FROM incident_events
WHERE ` + strings.Join(where, " AND ") + `
ORDER BY timestamp DESC NULLS LAST, id DESC
`)
	rows := []models.RawEvent{}
	err := p.db.SelectContext(ctx, &rows, query, args...)
	return rows, err
}

func (p *PgStore) GetByIDs(ctx context.Context, ids []int64) ([]models.RawEvent, error) {
	rows := []models.RawEvent{}
	if len(ids) == 0 {
		return rows, nil
	}
	query := `
SELECT ` + eventColumns + `
FROM incident_events
WHERE id = ANY($1)
ORDER BY id
`
	err := p.db.SelectContext(ctx, &rows, query, pq.Array(ids))
	return rows, err
}

func (p *PgStore) Stats(ctx context.Context, since time.Time) (models.Stats, error) {
	var row struct {
		Total    int            `db:"total"`
		Verified int            `db:"verified"`
		ByType   dbtypes.Counts `db:"by_type"`
	}
	query := p.db.Rebind(`
SELECT
  count(*) AS total,
  count(*) FILTER (WHERE verified) AS verified,
  COALESCE((
    SELECT jsonb_object_agg(event_type, n)
    FROM (SELECT event_type, count(*) AS n FROM incident_events WHERE ` + windowed + ` GROUP BY event_type) AS t
  ), '{}'::jsonb) AS by_type
FROM incident_events
WHERE ` + windowed)
	if err := p.db.GetContext(ctx, &row, query, since, since); err != nil {
		return models.Stats{}, err
	}
	return models.Stats{Total: row.Total, Verified: row.Verified, ByType: row.ByType}, nil
}

// nearbyPredicate is the haversine distance test. asin(least(1, ...)) keeps
// rounding from pushing the argument out of range for identical points.
const nearbyPredicate = `
event_type = $4 AND COALESCE(timestamp, created_at) >= $5 AND
2 * 6371 * asin(least(1, sqrt(
    power(sin(radians(latitude - $1) / 2), 2) +
    cos(radians($1)) * cos(radians(latitude)) * power(sin(radians(longitude - $2) / 2), 2)
))) <= $3`

func (p *PgStore) CountNearby(ctx context.Context, q models.NearbyQuery) (int, error) {
	var n int
	query := `SELECT count(*) FROM incident_events WHERE ` + nearbyPredicate
	err := p.db.GetContext(ctx, &n, query, q.Latitude, q.Longitude, q.RadiusKm, string(q.EventType), q.Since)
	return n, err
}

// VerifyNearby marks every unverified match of q as verified and returns how
// many rows changed.
func (p *PgStore) VerifyNearby(ctx context.Context, q models.NearbyQuery) (int64, error) {
	query := `UPDATE incident_events SET verified = TRUE WHERE verified = FALSE AND ` + nearbyPredicate
	res, err := p.db.ExecContext(ctx, query, q.Latitude, q.Longitude, q.RadiusKm, string(q.EventType), q.Since)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (p *PgStore) SaveSummary(ctx context.Context, s *models.ClusterSummary) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO cluster_summaries (id, member_ids, summary, created_at) VALUES ($1,$2::jsonb,$3,$4)`,
		s.ID,
		dbtypes.Int64Slice(s.MemberIDs),
		s.Summary,
		s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert summary id=%s: %w", s.ID, err)
	}
	return nil
}

// SummariesFor returns stored summaries mentioning the event id, newest first.
func (p *PgStore) SummariesFor(ctx context.Context, eventID int64) ([]models.ClusterSummary, error) {
	var rows []struct {
		ID        string             `db:"id"`
		MemberIDs dbtypes.Int64Slice `db:"member_ids"`
		Summary   string             `db:"summary"`
		CreatedAt time.Time          `db:"created_at"`
	}
	query := `
SELECT id, member_ids, summary, created_at
FROM cluster_summaries
WHERE member_ids @> to_jsonb(ARRAY[$1::bigint])
ORDER BY created_at DESC
`
	if err := p.db.SelectContext(ctx, &rows, query, eventID); err != nil {
		return nil, err
	}
	out := make([]models.ClusterSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ClusterSummary{ID: r.ID, MemberIDs: r.MemberIDs, Summary: r.Summary, CreatedAt: r.CreatedAt})
	}
	return out, nil
}
