package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maypok86/otter"

	"github.com/pingtower/pingtower/internal/model"
)

// SQLiteStore implements Store on a single SQLite database. Target lookups
// by id go through a small bounded TTL cache so the per-probe GetTarget does
// not hit the database on every dispatch; mutations invalidate the entry.
type SQLiteStore struct {
	db      *sql.DB
	targets otter.Cache[int64, model.Target]
}

const (
	targetCacheSize = 4096
	targetCacheTTL  = 10 * time.Second
)

// NewSQLiteStore wraps an opened, migrated database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	cache, err := otter.MustBuilder[int64, model.Target](targetCacheSize).
		WithTTL(targetCacheTTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("store: build target cache: %w", err)
	}
	return &SQLiteStore{db: db, targets: cache}, nil
}

// Open opens the database at path, applies migrations, and returns the store.
func Open(path string) (*SQLiteStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLiteStore(db)
}

// Close releases the database handle and the target cache.
func (s *SQLiteStore) Close() error {
	s.targets.Close()
	return s.db.Close()
}

// --- Targets ---

const targetColumns = "id, name, url, interval_s, timeout_s, created_at_ns"

func scanTarget(row interface{ Scan(...any) error }) (model.Target, error) {
	var t model.Target
	var createdNs int64
	if err := row.Scan(&t.ID, &t.Name, &t.URL, &t.IntervalS, &t.TimeoutS, &createdNs); err != nil {
		return model.Target{}, err
	}
	t.CreatedAt = time.Unix(0, createdNs).UTC()
	return t, nil
}

// CreateTarget inserts a new target. Name uniqueness and the interval/timeout
// bounds are enforced by the schema.
func (s *SQLiteStore) CreateTarget(ctx context.Context, name, url string, intervalS, timeoutS int) (*model.Target, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO target (name, url, interval_s, timeout_s, created_at_ns) VALUES (?,?,?,?,?)`,
		name, url, intervalS, timeoutS, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("store: create target %q: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: create target %q: %w", name, err)
	}
	return &model.Target{ID: id, Name: name, URL: url, IntervalS: intervalS, TimeoutS: timeoutS, CreatedAt: now}, nil
}

// UpdateTarget rewrites a target's mutable fields. Returns nil when the id
// does not exist.
func (s *SQLiteStore) UpdateTarget(ctx context.Context, id int64, name, url string, intervalS, timeoutS int) (*model.Target, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE target SET name = ?, url = ?, interval_s = ?, timeout_s = ? WHERE id = ?`,
		name, url, intervalS, timeoutS, id)
	if err != nil {
		return nil, fmt.Errorf("store: update target %d: %w", id, err)
	}
	s.targets.Delete(id)
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return s.GetTarget(ctx, id)
}

// DeleteTarget removes a target; results and incidents cascade.
func (s *SQLiteStore) DeleteTarget(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM target WHERE id = ?`, id); err != nil {
		return fmt.Errorf("store: delete target %d: %w", id, err)
	}
	s.targets.Delete(id)
	return nil
}

func (s *SQLiteStore) ListTargets(ctx context.Context) ([]model.Target, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+targetColumns+` FROM target ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list targets: %w", err)
	}
	defer rows.Close()

	var out []model.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list targets: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTarget returns the target with the given id, or nil when absent.
func (s *SQLiteStore) GetTarget(ctx context.Context, id int64) (*model.Target, error) {
	if t, ok := s.targets.Get(id); ok {
		return &t, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM target WHERE id = ?`, id)
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get target %d: %w", id, err)
	}
	s.targets.Set(id, t)
	return &t, nil
}

// --- Check results ---

func (s *SQLiteStore) InsertResult(ctx context.Context, res model.CheckResult) error {
	var status sql.NullInt64
	if res.StatusCode != nil {
		status = sql.NullInt64{Int64: int64(*res.StatusCode), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO check_result (target_id, ts_ns, ok, status_code, latency_ms, error_text, dns_ms, connect_ms, tls_ms, ttfb_ms)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		res.TargetID, res.TS.UTC().UnixNano(), boolToInt(res.OK), status, res.LatencyMs,
		model.TruncateError(res.ErrorText),
		nullable(res.DNSMs), nullable(res.ConnectMs), nullable(res.TLSMs), nullable(res.TTFBMs))
	if err != nil {
		return fmt.Errorf("store: insert result for target %d: %w", res.TargetID, err)
	}
	return nil
}

func (s *SQLiteStore) LastNResults(ctx context.Context, targetID int64, n int) ([]model.CheckResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT target_id, ts_ns, ok, status_code, latency_ms, error_text, dns_ms, connect_ms, tls_ms, ttfb_ms
		 FROM check_result WHERE target_id = ? ORDER BY ts_ns DESC, id DESC LIMIT ?`,
		targetID, n)
	if err != nil {
		return nil, fmt.Errorf("store: last %d results for target %d: %w", n, targetID, err)
	}
	defer rows.Close()

	var out []model.CheckResult
	for rows.Next() {
		var r model.CheckResult
		var tsNs int64
		var ok int
		var status, latency, dns, connect, tls, ttfb sql.NullInt64
		if err := rows.Scan(&r.TargetID, &tsNs, &ok, &status, &latency, &r.ErrorText, &dns, &connect, &tls, &ttfb); err != nil {
			return nil, fmt.Errorf("store: scan result for target %d: %w", targetID, err)
		}
		r.TS = time.Unix(0, tsNs).UTC()
		r.OK = ok != 0
		if status.Valid {
			code := int(status.Int64)
			r.StatusCode = &code
		}
		if latency.Valid {
			r.LatencyMs = latency.Int64
		}
		r.DNSMs = fromNull(dns)
		r.ConnectMs = fromNull(connect)
		r.TLSMs = fromNull(tls)
		r.TTFBMs = fromNull(ttfb)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastStatus returns the most recent result for a target, or nil.
func (s *SQLiteStore) LastStatus(ctx context.Context, targetID int64) (*model.CheckResult, error) {
	results, err := s.LastNResults(ctx, targetID, 1)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return &results[0], nil
}

// History returns up to limit recent results, newest first.
func (s *SQLiteStore) History(ctx context.Context, targetID int64, limit int) ([]model.CheckResult, error) {
	return s.LastNResults(ctx, targetID, limit)
}

// Uptime returns the success share (0..100) over [upTo-window, upTo].
// Returns 0 when the window holds no results.
func (s *SQLiteStore) Uptime(ctx context.Context, targetID int64, window time.Duration, upTo time.Time) (float64, error) {
	end := upTo.UTC()
	start := end.Add(-window)
	var total, success int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(ok), 0) FROM check_result
		 WHERE target_id = ? AND ts_ns >= ? AND ts_ns <= ?`,
		targetID, start.UnixNano(), end.UnixNano()).Scan(&total, &success)
	if err != nil {
		return 0, fmt.Errorf("store: uptime for target %d: %w", targetID, err)
	}
	if total == 0 {
		return 0, nil
	}
	return 100 * float64(success) / float64(total), nil
}

// AvgLatency returns the mean latency in ms of successful checks over
// [upTo-window, upTo], or nil when there are none.
func (s *SQLiteStore) AvgLatency(ctx context.Context, targetID int64, window time.Duration, upTo time.Time) (*int64, error) {
	end := upTo.UTC()
	start := end.Add(-window)
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(latency_ms) FROM check_result
		 WHERE target_id = ? AND ts_ns >= ? AND ts_ns <= ? AND ok = 1`,
		targetID, start.UnixNano(), end.UnixNano()).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("store: avg latency for target %d: %w", targetID, err)
	}
	if !avg.Valid {
		return nil, nil
	}
	ms := int64(avg.Float64 + 0.5)
	return &ms, nil
}

// --- Incidents ---

func scanIncident(row interface{ Scan(...any) error }) (model.Incident, error) {
	var inc model.Incident
	var openedNs int64
	var closedNs sql.NullInt64
	var isOpen int
	if err := row.Scan(&inc.ID, &inc.TargetID, &openedNs, &closedNs, &inc.FailCount, &isOpen); err != nil {
		return model.Incident{}, err
	}
	inc.OpenedAt = time.Unix(0, openedNs).UTC()
	if closedNs.Valid {
		closed := time.Unix(0, closedNs.Int64).UTC()
		inc.ClosedAt = &closed
	}
	inc.IsOpen = isOpen != 0
	return inc, nil
}

const incidentColumns = "id, target_id, opened_at_ns, closed_at_ns, fail_count, is_open"

func (s *SQLiteStore) GetOpenIncident(ctx context.Context, targetID int64) (*model.Incident, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+incidentColumns+` FROM incident
		 WHERE target_id = ? AND is_open = 1 AND closed_at_ns IS NULL`,
		targetID)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open incident for target %d: %w", targetID, err)
	}
	return &inc, nil
}

func (s *SQLiteStore) OpenIncident(ctx context.Context, targetID int64, openedAt time.Time, failCount int) (*model.Incident, error) {
	opened := openedAt.UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO incident (target_id, opened_at_ns, fail_count, is_open) VALUES (?,?,?,1)`,
		targetID, opened.UnixNano(), failCount)
	if err != nil {
		return nil, fmt.Errorf("store: open incident for target %d: %w", targetID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: open incident for target %d: %w", targetID, err)
	}
	return &model.Incident{ID: id, TargetID: targetID, OpenedAt: opened, FailCount: failCount, IsOpen: true}, nil
}

func (s *SQLiteStore) CloseIncident(ctx context.Context, id int64, closedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE incident SET closed_at_ns = ?, is_open = 0 WHERE id = ? AND is_open = 1`,
		closedAt.UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("store: close incident %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) IncrementFail(ctx context.Context, incidentID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE incident SET fail_count = fail_count + 1 WHERE id = ? AND is_open = 1`,
		incidentID)
	if err != nil {
		return fmt.Errorf("store: increment fail for incident %d: %w", incidentID, err)
	}
	return nil
}

// --- TTL cleanup ---

func (s *SQLiteStore) TTLCleanup(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM check_result WHERE ts_ns < ?`, olderThan.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("store: ttl cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: ttl cleanup: %w", err)
	}
	return n, nil
}

// --- helpers ---

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func fromNull(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
