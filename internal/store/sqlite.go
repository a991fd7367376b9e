package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"routeopt/internal/model"
	"routeopt/internal/opt"
)

// SQLite is a single-file Store for deployments without Postgres.
// Timestamps are stored as unix milliseconds.
type SQLite struct {
	db   *sql.DB
	path string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS driver_locations (
	driver_id   TEXT PRIMARY KEY,
	lat         REAL NOT NULL,
	lng         REAL NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS assignments (
	driver_id            TEXT NOT NULL,
	delivery_id          TEXT NOT NULL,
	address              TEXT NOT NULL DEFAULT '',
	lat                  REAL NOT NULL DEFAULT 0,
	lng                  REAL NOT NULL DEFAULT 0,
	h3_index             TEXT NOT NULL DEFAULT '',
	priority             TEXT NOT NULL DEFAULT '',
	weight               REAL NOT NULL DEFAULT 0,
	volume               REAL NOT NULL DEFAULT 0,
	tw_start             TEXT NOT NULL DEFAULT '',
	tw_end               TEXT NOT NULL DEFAULT '',
	service_time_min     INTEGER NOT NULL DEFAULT 0,
	special_requirements TEXT,
	status               TEXT NOT NULL DEFAULT 'pending',
	updated_at           INTEGER NOT NULL,
	PRIMARY KEY (driver_id, delivery_id)
);
CREATE INDEX IF NOT EXISTS idx_assignments_driver_status ON assignments (driver_id, status);
CREATE TABLE IF NOT EXISTS plan_metrics (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	driver_id       TEXT NOT NULL,
	algorithm       TEXT NOT NULL,
	points          INTEGER NOT NULL,
	iterations      INTEGER NOT NULL,
	raw_distance_km REAL NOT NULL,
	duration_ms     INTEGER NOT NULL,
	solved_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_plan_metrics_driver ON plan_metrics (driver_id, solved_at);
CREATE TABLE IF NOT EXISTS outbox_events (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	event_type      TEXT NOT NULL,
	url             TEXT NOT NULL,
	secret          TEXT NOT NULL DEFAULT '',
	payload         BLOB NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	attempts        INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER NOT NULL,
	last_error      TEXT NOT NULL DEFAULT '',
	response_code   INTEGER NOT NULL DEFAULT 0,
	latency_ms      INTEGER NOT NULL DEFAULT 0,
	dedup_key       TEXT NOT NULL,
	delivered_at    INTEGER,
	UNIQUE (event_type, url, dedup_key)
);
CREATE INDEX IF NOT EXISTS idx_outbox_events_due ON outbox_events (status, next_attempt_at);
`

// NewSQLite opens (creating if needed) the database at path and applies the schema.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	for i, stmt := range splitStatements(sqliteSchema) {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite schema statement #%d: %w", i+1, err)
		}
	}
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *SQLite) UpsertDriverLocation(ctx context.Context, loc model.DriverLocation) error {
	recorded := time.Now().UTC()
	if loc.RecordedAt != "" {
		t, err := time.Parse(time.RFC3339, loc.RecordedAt)
		if err != nil {
			return fmt.Errorf("recordedAt: %w", err)
		}
		recorded = t
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO driver_locations (driver_id, lat, lng, recorded_at) VALUES (?,?,?,?)
		ON CONFLICT (driver_id) DO UPDATE SET lat=excluded.lat, lng=excluded.lng, recorded_at=excluded.recorded_at`,
		loc.DriverID, loc.Coordinates.Latitude, loc.Coordinates.Longitude, millis(recorded))
	return err
}

func (s *SQLite) GetDriverLocation(ctx context.Context, driverID string) (model.DriverLocation, error) {
	loc := model.DriverLocation{DriverID: driverID}
	var recorded int64
	err := s.db.QueryRowContext(ctx, `SELECT lat, lng, recorded_at FROM driver_locations WHERE driver_id=?`, driverID).
		Scan(&loc.Coordinates.Latitude, &loc.Coordinates.Longitude, &recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DriverLocation{}, fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}
	if err != nil {
		return model.DriverLocation{}, err
	}
	loc.RecordedAt = fromMillis(recorded).Format(time.RFC3339)
	return loc, nil
}

// AssignDelivery upserts d as pending. A re-assigned delivery keeps its
// original position in the driver's list.
func (s *SQLite) AssignDelivery(ctx context.Context, driverID string, d model.DeliveryIn) error {
	var twStart, twEnd string
	if d.TimeWindow != nil {
		twStart, twEnd = d.TimeWindow.Start, d.TimeWindow.End
	}
	reqs, err := jsonArray(d.SpecialRequirements)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO assignments
		(driver_id, delivery_id, address, lat, lng, h3_index, priority, weight, volume, tw_start, tw_end, service_time_min, special_requirements, status, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,'pending',?)
		ON CONFLICT (driver_id, delivery_id) DO UPDATE SET
			address=excluded.address, lat=excluded.lat, lng=excluded.lng, h3_index=excluded.h3_index,
			priority=excluded.priority, weight=excluded.weight, volume=excluded.volume,
			tw_start=excluded.tw_start, tw_end=excluded.tw_end, service_time_min=excluded.service_time_min,
			special_requirements=excluded.special_requirements, status='pending', updated_at=excluded.updated_at`,
		driverID, d.ID, d.Address, d.Coordinates.Latitude, d.Coordinates.Longitude, d.H3Index,
		string(d.Priority), d.Weight, d.Volume, twStart, twEnd, d.ServiceTimeMin, reqs, millis(time.Now()))
	return err
}

func (s *SQLite) UpdateAssignmentStatus(ctx context.Context, driverID, deliveryID, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE assignments SET status=?, updated_at=? WHERE driver_id=? AND delivery_id=?`,
		status, millis(time.Now()), driverID, deliveryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("assignment %s/%s: %w", driverID, deliveryID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) ListPendingDeliveries(ctx context.Context, driverID string) ([]model.DeliveryIn, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT delivery_id, address, lat, lng, h3_index, priority, weight, volume,
			tw_start, tw_end, service_time_min, COALESCE(special_requirements,'')
		FROM assignments WHERE driver_id=? AND status IN ('pending','accepted','in_progress')
		ORDER BY rowid ASC`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.DeliveryIn{}
	for rows.Next() {
		var (
			d              model.DeliveryIn
			priority       string
			twStart, twEnd string
			reqs           string
		)
		if err := rows.Scan(&d.ID, &d.Address, &d.Coordinates.Latitude, &d.Coordinates.Longitude, &d.H3Index, &priority,
			&d.Weight, &d.Volume, &twStart, &twEnd, &d.ServiceTimeMin, &reqs); err != nil {
			return nil, err
		}
		d.Priority = model.Priority(priority)
		if twStart != "" || twEnd != "" {
			d.TimeWindow = &model.TimeWindow{Start: twStart, End: twEnd}
		}
		if reqs != "" {
			if err := json.Unmarshal([]byte(reqs), &d.SpecialRequirements); err != nil {
				return nil, fmt.Errorf("assignment %s special_requirements: %w", d.ID, err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLite) SavePlanMetrics(ctx context.Context, driverID string, m opt.Metrics) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO plan_metrics (driver_id, algorithm, points, iterations, raw_distance_km, duration_ms, solved_at)
		VALUES (?,?,?,?,?,?,?)`, driverID, string(m.Algorithm), m.Points, m.Iterations, m.RawDistance, m.DurationMs, millis(m.SolvedAt))
	return err
}

func (s *SQLite) ListPlanMetrics(ctx context.Context, driverID string, algo opt.Algorithm) ([]opt.Metrics, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT algorithm, points, iterations, raw_distance_km, duration_ms, solved_at
		FROM plan_metrics WHERE driver_id=? AND (?='' OR algorithm=?)
		ORDER BY id DESC LIMIT 100`, driverID, string(algo), string(algo))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []opt.Metrics{}
	for rows.Next() {
		var (
			m      opt.Metrics
			a      string
			solved int64
		)
		if err := rows.Scan(&a, &m.Points, &m.Iterations, &m.RawDistance, &m.DurationMs, &solved); err != nil {
			return nil, err
		}
		m.Algorithm = opt.Algorithm(a)
		m.SolvedAt = fromMillis(solved)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) EnqueueEvent(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	dk := computeDedupKey(payload)
	if _, err := s.db.ExecContext(ctx, `INSERT INTO outbox_events (id, event_type, url, secret, payload, next_attempt_at, dedup_key)
		VALUES (?,?,?,?,?,?,?) ON CONFLICT (event_type, url, dedup_key) DO NOTHING`,
		uuid.New().String(), eventType, url, secret, payload, millis(time.Now()), dk); err != nil {
		return "", err
	}
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM outbox_events WHERE event_type=? AND url=? AND dedup_key=?`, eventType, url, dk).Scan(&id)
	return id, err
}

const sqliteEventColumns = `id, event_type, url, secret, payload, status, attempts, next_attempt_at, last_error, response_code`

func scanSQLiteEvents(rows *sql.Rows) ([]OutboxEvent, error) {
	defer rows.Close()
	out := []OutboxEvent{}
	for rows.Next() {
		var (
			e    OutboxEvent
			next int64
		)
		if err := rows.Scan(&e.ID, &e.EventType, &e.URL, &e.Secret, &e.Payload, &e.Status, &e.Attempts, &next, &e.LastError, &e.ResponseCode); err != nil {
			return nil, err
		}
		e.NextAttemptAt = fromMillis(next)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) FetchDueEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteEventColumns+`
		FROM outbox_events WHERE status IN ('pending','retry') AND next_attempt_at <= ? ORDER BY seq ASC LIMIT ?`, millis(time.Now()), limit)
	if err != nil {
		return nil, err
	}
	return scanSQLiteEvents(rows)
}

func (s *SQLite) updateEvent(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, append(args, id)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) MarkEvent(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		return s.updateEvent(ctx, id, `UPDATE outbox_events SET attempts=attempts+1, status='delivered', delivered_at=?, response_code=?, latency_ms=? WHERE id=?`,
			millis(time.Now()), responseCode, latencyMs)
	}
	next := time.Now().Add(time.Minute)
	if nextAttemptAt != nil {
		next = *nextAttemptAt
	}
	return s.updateEvent(ctx, id, `UPDATE outbox_events SET attempts=attempts+1, status='retry', last_error=?, next_attempt_at=?, response_code=?, latency_ms=? WHERE id=?`,
		lastError, millis(next), responseCode, latencyMs)
}

func (s *SQLite) FailEvent(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	return s.updateEvent(ctx, id, `UPDATE outbox_events SET attempts=attempts+1, status='failed', last_error=?, response_code=?, latency_ms=? WHERE id=?`,
		lastError, responseCode, latencyMs)
}

func (s *SQLite) ListEvents(ctx context.Context, status string, limit int) ([]OutboxEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteEventColumns+`
		FROM outbox_events WHERE (?='' OR status=?) ORDER BY seq DESC LIMIT ?`, status, status, limit)
	if err != nil {
		return nil, err
	}
	return scanSQLiteEvents(rows)
}
