// Package history keeps validation runs in a SQLite database so isolation
// scores can be compared over time.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/ztinspect/internal/enforcement"
)

// ErrRunNotFound is returned by Get for an unknown run ID.
var ErrRunNotFound = errors.New("validation run not found")

// Fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one stored validation run.
type Run struct {
	ID           string
	Policy       string
	StartedAt    time.Time
	Duration     time.Duration
	Port         int
	Total        int
	Passed       int
	Failed       int
	Errors       int
	Inconclusive int
	Score        float64
	Cancelled    bool
}

// PairRecord is one stored pair outcome.
type PairRecord struct {
	SourceZone string
	TargetZone string
	SourceIP   string
	TargetIP   string
	Status     string
	Reachable  bool
	PortOpen   bool
	Error      string
	Duration   time.Duration
}

// Store provides persistent storage for validation runs.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open creates or opens the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// One writer; SQLite serializes anyway.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			policy TEXT NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			port INTEGER NOT NULL,
			total INTEGER NOT NULL,
			passed INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			errors INTEGER NOT NULL,
			inconclusive INTEGER NOT NULL,
			score REAL NOT NULL,
			cancelled INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS pair_results (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			source_zone TEXT NOT NULL,
			target_zone TEXT NOT NULL,
			source_ip TEXT NOT NULL,
			target_ip TEXT NOT NULL,
			status TEXT NOT NULL,
			reachable INTEGER NOT NULL,
			port_open INTEGER NOT NULL,
			error TEXT,
			duration_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
		CREATE INDEX IF NOT EXISTS idx_runs_policy ON runs(policy);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores r and its pair outcomes in one transaction.
func (s *Store) Record(ctx context.Context, r *enforcement.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, policy, started_at, duration_ms, port, total, passed, failed, errors, inconclusive, score, cancelled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Policy, r.StartedAt.UTC().Format(timeLayout), r.Duration.Milliseconds(), r.Port,
		r.Total, r.Passed, r.Failed, r.Errors, r.Inconclusive, r.Score, r.Cancelled())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pair_results (run_id, seq, source_zone, target_zone, source_ip, target_ip, status, reachable, port_open, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare pair insert: %w", err)
	}
	defer stmt.Close()

	for i, pr := range r.Pairs {
		var errText sql.NullString
		if pr.Err != nil {
			errText = sql.NullString{String: pr.Err.Error(), Valid: true}
		}
		_, err := stmt.ExecContext(ctx, r.ID, i, pr.SourceZone, pr.TargetZone, pr.Source.Addr(), pr.Target.Addr(),
			string(pr.Status), pr.Reachable, pr.PortOpen, errText, pr.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert pair %s/%s: %w", pr.SourceZone, pr.TargetZone, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit history: %w", err)
	}
	return nil
}

const runColumns = `id, policy, started_at, duration_ms, port, total, passed, failed, errors, inconclusive, score, cancelled`

// Recent returns up to limit runs, newest first. An empty policy matches
// every policy.
func (s *Store) Recent(ctx context.Context, policy string, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if policy != "" {
		query += " WHERE policy = ?"
		args = append(args, policy)
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns one run with its pair outcomes in probe order.
func (s *Store) Get(ctx context.Context, id string) (*Run, []PairRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_zone, target_zone, source_ip, target_ip, status, reachable, port_open, error, duration_ms
		FROM pair_results WHERE run_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("query pairs: %w", err)
	}
	defer rows.Close()

	var pairs []PairRecord
	for rows.Next() {
		var (
			p       PairRecord
			errText sql.NullString
			ms      int64
		)
		if err := rows.Scan(&p.SourceZone, &p.TargetZone, &p.SourceIP, &p.TargetIP, &p.Status,
			&p.Reachable, &p.PortOpen, &errText, &ms); err != nil {
			return nil, nil, fmt.Errorf("scan pair: %w", err)
		}
		p.Error = errText.String
		p.Duration = time.Duration(ms) * time.Millisecond
		pairs = append(pairs, p)
	}
	return &run, pairs, rows.Err()
}

// Prune removes runs started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	before := cutoff.UTC().Format(timeLayout)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pair_results WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, before); err != nil {
		return 0, fmt.Errorf("prune pairs: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r       Run
		started string
		ms      int64
	)
	err := row.Scan(&r.ID, &r.Policy, &started, &ms, &r.Port, &r.Total, &r.Passed, &r.Failed,
		&r.Errors, &r.Inconclusive, &r.Score, &r.Cancelled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan run: %w", err)
	}
	r.StartedAt, err = time.Parse(timeLayout, started)
	if err != nil {
		return r, fmt.Errorf("run %s: bad timestamp %q: %w", r.ID, started, err)
	}
	r.Duration = time.Duration(ms) * time.Millisecond
	return r, nil
}
