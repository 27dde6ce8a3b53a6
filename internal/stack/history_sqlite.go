package stack

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const historySQLiteRelPath = ".strata/history.sqlite"

// History stores finished plan runs in a project-local sqlite database.
type History struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// RunRecord is one stored run.
type RunRecord struct {
	RunID       string     `json:"runId"`
	Action      string     `json:"action"`
	CommandPath string     `json:"commandPath"`
	Status      string     `json:"status"`
	Stacks      int        `json:"stacks"`
	Failed      int        `json:"failed"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  time.Time  `json:"finishedAt"`
	Batches     [][]string `json:"batches,omitempty"`
}

// StackRecord is one stack outcome of a stored run.
type StackRecord struct {
	Stack    string        `json:"stack"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// OpenHistory opens (creating unless readOnly) the history database under root.
func OpenHistory(root string, readOnly bool) (*History, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(absRoot, historySQLiteRelPath)
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	dsn := path
	if readOnly {
		u := url.URL{Scheme: "file", Path: path}
		q := u.Query()
		q.Set("mode", "ro")
		q.Set("_busy_timeout", "5000")
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	h := &History{db: db, path: path, readOnly: readOnly}
	if !readOnly {
		if err := h.initSchema(ctx); err != nil {
			_ = h.Close()
			return nil, err
		}
	}
	return h, nil
}

// Path returns the database file path.
func (h *History) Path() string { return h.path }

func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

func (h *History) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS strata_runs (
  run_id TEXT PRIMARY KEY,
  action TEXT NOT NULL,
  command_path TEXT NOT NULL,
  status TEXT NOT NULL,
  stacks INTEGER NOT NULL,
  failed INTEGER NOT NULL,
  started_at_ns INTEGER NOT NULL,
  finished_at_ns INTEGER NOT NULL,
  batches_json TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS strata_run_stacks (
  run_id TEXT NOT NULL,
  stack TEXT NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL,
  duration_ns INTEGER NOT NULL,
  PRIMARY KEY (run_id, stack),
  FOREIGN KEY (run_id) REFERENCES strata_runs(run_id) ON DELETE CASCADE
);`,
		`CREATE INDEX IF NOT EXISTS idx_strata_runs_started ON strata_runs(started_at_ns);`,
	}
	for _, stmt := range stmts {
		if _, err := h.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// RecordRun stores r and its per-stack outcomes in one transaction.
func (h *History) RecordRun(ctx context.Context, r *Result) error {
	if h == nil || h.db == nil {
		return nil
	}
	if h.readOnly {
		return fmt.Errorf("history %s is read-only", h.path)
	}
	batchesJSON, err := json.Marshal(r.Batches)
	if err != nil {
		return err
	}
	status := "succeeded"
	failed := 0
	for _, o := range r.Outcomes {
		if o.Status != StatusSucceeded {
			failed++
		}
	}
	if failed > 0 {
		status = "failed"
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO strata_runs (
  run_id, action, command_path, status, stacks, failed, started_at_ns, finished_at_ns, batches_json
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, r.RunID, r.Action, r.CommandPath, status, len(r.Outcomes), failed,
		r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(), string(batchesJSON))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	for _, name := range r.Names() {
		o := r.Outcomes[name]
		_, err := tx.ExecContext(ctx, `
INSERT INTO strata_run_stacks (run_id, stack, status, error, duration_ns) VALUES (?, ?, ?, ?, ?)
`, r.RunID, name, string(o.Status), o.Error, int64(o.Duration))
		if err != nil {
			return fmt.Errorf("insert stack %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// Runs returns the most recent runs, newest first. limit <= 0 means 50.
func (h *History) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := h.db.QueryContext(ctx, `
SELECT run_id, action, command_path, status, stacks, failed, started_at_ns, finished_at_ns, batches_json
FROM strata_runs
ORDER BY started_at_ns DESC, run_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startedNS, finishedNS int64
		var batchesJSON string
		if err := rows.Scan(&rec.RunID, &rec.Action, &rec.CommandPath, &rec.Status, &rec.Stacks, &rec.Failed, &startedNS, &finishedNS, &batchesJSON); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(0, startedNS).UTC()
		rec.FinishedAt = time.Unix(0, finishedNS).UTC()
		if strings.TrimSpace(batchesJSON) != "" {
			_ = json.Unmarshal([]byte(batchesJSON), &rec.Batches)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stacks returns the stack outcomes recorded for runID, sorted by name.
func (h *History) Stacks(ctx context.Context, runID string) ([]StackRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
SELECT stack, status, error, duration_ns FROM strata_run_stacks WHERE run_id = ? ORDER BY stack
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StackRecord
	for rows.Next() {
		var rec StackRecord
		var status string
		var durationNS int64
		if err := rows.Scan(&rec.Stack, &status, &rec.Error, &durationNS); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		rec.Duration = time.Duration(durationNS)
		out = append(out, rec)
	}
	return out, rows.Err()
}
