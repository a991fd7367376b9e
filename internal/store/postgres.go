package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"routeopt/internal/model"
	"routeopt/internal/opt"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every *.sql file in dir not yet recorded in
// schema_migrations, in lexical order, each in its own transaction.
func (p *Postgres) MigrateDir(ctx context.Context, dir string) error {
	return p.MigrateFS(ctx, os.DirFS(dir))
}

func (p *Postgres) MigrateFS(ctx context.Context, fsys fs.FS) error {
	if _, err := p.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version text PRIMARY KEY,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("migrate: list: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		var exists bool
		if err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`, name).Scan(&exists); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
		if exists {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("migrate %s: read: %w", name, err)
		}
		if err := p.applyMigration(ctx, name, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) applyMigration(ctx context.Context, name, body string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate %s: begin tx: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()
	for i, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: statement #%d: %w", name, i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
		return fmt.Errorf("migrate %s: record: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate %s: commit: %w", name, err)
	}
	return nil
}

// splitStatements splits a migration on semicolons, dropping empty
// statements and full-line "--" comments.
func splitStatements(body string) []string {
	var lines []string
	for _, l := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(l), "--") {
			continue
		}
		lines = append(lines, l)
	}
	var out []string
	for _, s := range strings.Split(strings.Join(lines, "\n"), ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p *Postgres) UpsertDriverLocation(ctx context.Context, loc model.DriverLocation) error {
	recorded := time.Now().UTC()
	if loc.RecordedAt != "" {
		t, err := time.Parse(time.RFC3339, loc.RecordedAt)
		if err != nil {
			return fmt.Errorf("recordedAt: %w", err)
		}
		recorded = t
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO driver_locations (driver_id, lat, lng, recorded_at) VALUES ($1,$2,$3,$4)
		ON CONFLICT (driver_id) DO UPDATE SET lat=EXCLUDED.lat, lng=EXCLUDED.lng, recorded_at=EXCLUDED.recorded_at`,
		loc.DriverID, loc.Coordinates.Latitude, loc.Coordinates.Longitude, recorded)
	return err
}

func (p *Postgres) GetDriverLocation(ctx context.Context, driverID string) (model.DriverLocation, error) {
	loc := model.DriverLocation{DriverID: driverID}
	var recorded time.Time
	err := p.db.QueryRowContext(ctx, `SELECT lat, lng, recorded_at FROM driver_locations WHERE driver_id=$1`, driverID).
		Scan(&loc.Coordinates.Latitude, &loc.Coordinates.Longitude, &recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DriverLocation{}, fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}
	if err != nil {
		return model.DriverLocation{}, err
	}
	loc.RecordedAt = recorded.UTC().Format(time.RFC3339)
	return loc, nil
}

func (p *Postgres) AssignDelivery(ctx context.Context, driverID string, d model.DeliveryIn) error {
	var twStart, twEnd any
	if d.TimeWindow != nil {
		twStart, twEnd = nullIfEmpty(d.TimeWindow.Start), nullIfEmpty(d.TimeWindow.End)
	}
	reqs, err := jsonArray(d.SpecialRequirements)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO assignments
		(driver_id, delivery_id, address, lat, lng, h3_index, priority, weight, volume, tw_start, tw_end, service_time_min, special_requirements, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'pending')
		ON CONFLICT (driver_id, delivery_id) DO UPDATE SET
			address=EXCLUDED.address, lat=EXCLUDED.lat, lng=EXCLUDED.lng, h3_index=EXCLUDED.h3_index,
			priority=EXCLUDED.priority, weight=EXCLUDED.weight, volume=EXCLUDED.volume,
			tw_start=EXCLUDED.tw_start, tw_end=EXCLUDED.tw_end, service_time_min=EXCLUDED.service_time_min,
			special_requirements=EXCLUDED.special_requirements, status='pending', updated_at=now()`,
		driverID, d.ID, d.Address, d.Coordinates.Latitude, d.Coordinates.Longitude, nullIfEmpty(d.H3Index),
		string(d.Priority), d.Weight, d.Volume, twStart, twEnd, d.ServiceTimeMin, reqs)
	return err
}

func (p *Postgres) UpdateAssignmentStatus(ctx context.Context, driverID, deliveryID, status string) error {
	if !validStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	res, err := p.db.ExecContext(ctx, `UPDATE assignments SET status=$3, updated_at=now() WHERE driver_id=$1 AND delivery_id=$2`, driverID, deliveryID, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("assignment %s/%s: %w", driverID, deliveryID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) ListPendingDeliveries(ctx context.Context, driverID string) ([]model.DeliveryIn, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT delivery_id, COALESCE(address,''), lat, lng, COALESCE(h3_index,''), priority, weight, volume,
			COALESCE(tw_start,''), COALESCE(tw_end,''), service_time_min, special_requirements
		FROM assignments WHERE driver_id=$1 AND status IN ('pending','accepted','in_progress')
		ORDER BY assigned_at ASC, delivery_id ASC`, driverID)
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
			reqs           []byte
		)
		if err := rows.Scan(&d.ID, &d.Address, &d.Coordinates.Latitude, &d.Coordinates.Longitude, &d.H3Index, &priority,
			&d.Weight, &d.Volume, &twStart, &twEnd, &d.ServiceTimeMin, &reqs); err != nil {
			return nil, err
		}
		d.Priority = model.Priority(priority)
		if twStart != "" || twEnd != "" {
			d.TimeWindow = &model.TimeWindow{Start: twStart, End: twEnd}
		}
		if len(reqs) > 0 {
			if err := json.Unmarshal(reqs, &d.SpecialRequirements); err != nil {
				return nil, fmt.Errorf("assignment %s special_requirements: %w", d.ID, err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) SavePlanMetrics(ctx context.Context, driverID string, m opt.Metrics) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO plan_metrics (driver_id, algorithm, points, iterations, raw_distance_km, duration_ms, solved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`, driverID, string(m.Algorithm), m.Points, m.Iterations, m.RawDistance, m.DurationMs, m.SolvedAt)
	return err
}

func (p *Postgres) ListPlanMetrics(ctx context.Context, driverID string, algo opt.Algorithm) ([]opt.Metrics, error) {
	q := `SELECT algorithm, points, iterations, raw_distance_km, duration_ms, solved_at FROM plan_metrics WHERE driver_id=$1`
	args := []any{driverID}
	if algo != "" {
		q += ` AND algorithm=$2`
		args = append(args, string(algo))
	}
	q += ` ORDER BY solved_at DESC, id DESC LIMIT 100`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []opt.Metrics{}
	for rows.Next() {
		var m opt.Metrics
		var a string
		if err := rows.Scan(&a, &m.Points, &m.Iterations, &m.RawDistance, &m.DurationMs, &m.SolvedAt); err != nil {
			return nil, err
		}
		m.Algorithm = opt.Algorithm(a)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) EnqueueEvent(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	var id string
	err := p.db.QueryRowContext(ctx, `INSERT INTO outbox_events (id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
		VALUES ($1,$2,$3,$4,$5,'pending',0,now(),$6)
		ON CONFLICT (event_type, url, dedup_key) DO UPDATE SET updated_at=outbox_events.updated_at
		RETURNING id::text`, uuid.New().String(), eventType, url, nullIfEmpty(secret), payload, computeDedupKey(payload)).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

const eventColumns = `id::text, event_type, url, COALESCE(secret,''), payload, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0)`

func scanEvents(rows *sql.Rows) ([]OutboxEvent, error) {
	defer rows.Close()
	out := []OutboxEvent{}
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.URL, &e.Secret, &e.Payload, &e.Status, &e.Attempts, &e.NextAttemptAt, &e.LastError, &e.ResponseCode); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) FetchDueEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+eventColumns+`
		FROM outbox_events WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (p *Postgres) MarkEvent(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE outbox_events SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`,
			id, responseCode, latencyMs)
		return err
	}
	if nextAttemptAt == nil {
		t := time.Now().Add(time.Minute)
		nextAttemptAt = &t
	}
	_, err := p.db.ExecContext(ctx, `UPDATE outbox_events SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
		id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
	return err
}

func (p *Postgres) FailEvent(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE outbox_events SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) ListEvents(ctx context.Context, status string, limit int) ([]OutboxEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+eventColumns+`
		FROM outbox_events WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// computeDedupKey uses the payload's "id" field when present, else a short
// hash of the payload.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// jsonArray encodes v for a jsonb column, nil staying NULL.
func jsonArray(v []string) (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
