package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rokoss21/IOSM/internal/orchestrator"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycles (
    run_id TEXT NOT NULL,
    system_id TEXT NOT NULL,
    cycle INTEGER NOT NULL,
    iosm_index REAL NOT NULL,
    metrics TEXT NOT NULL,
    goals TEXT NOT NULL,
    decision TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    revision TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMP NOT NULL,
    PRIMARY KEY (run_id, cycle)
);
CREATE INDEX IF NOT EXISTS idx_cycles_system ON cycles(system_id, recorded_at);
`

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps history in a SQLite database.
type SQLiteStore struct {
	db   *sqlx.DB
	path string
}

// cycleRow is the database shape of a history entry.
type cycleRow struct {
	RunID      string    `db:"run_id"`
	SystemID   string    `db:"system_id"`
	Cycle      int       `db:"cycle"`
	Index      float64   `db:"iosm_index"`
	Metrics    string    `db:"metrics"`
	Goals      string    `db:"goals"`
	Decision   string    `db:"decision"`
	Reason     string    `db:"reason"`
	Revision   string    `db:"revision"`
	RecordedAt time.Time `db:"recorded_at"`
}

// OpenSQLite opens or creates the database at path. ":memory:" is accepted for tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite history requires a path")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Append implements orchestrator.HistoryLog.
func (s *SQLiteStore) Append(ctx context.Context, entry orchestrator.HistoryEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	row, err := toRow(entry)
	if err != nil {
		return err
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT OR IGNORE INTO cycles (
			run_id, system_id, cycle, iosm_index, metrics, goals,
			decision, reason, revision, recorded_at
		) VALUES (
			:run_id, :system_id, :cycle, :iosm_index, :metrics, :goals,
			:decision, :reason, :revision, :recorded_at
		)`, row)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// Load returns matching entries.
func (s *SQLiteStore) Load(ctx context.Context, f Filter) (orchestrator.History, error) {
	var (
		where []string
		args  []any
	)
	if f.SystemID != "" {
		where = append(where, "system_id = ?")
		args = append(args, f.SystemID)
	}
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	query := `SELECT run_id, system_id, cycle, iosm_index, metrics, goals, decision,
	          reason, revision, recorded_at FROM cycles`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	var rows []cycleRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	out := make(orchestrator.History, 0, len(rows))
	for _, r := range rows {
		e, err := r.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// Runs summarizes the runs of a system.
func (s *SQLiteStore) Runs(ctx context.Context, systemID string) ([]RunSummary, error) {
	entries, err := s.Load(ctx, Filter{SystemID: systemID})
	if err != nil {
		return nil, err
	}
	return summarize(entries), nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toRow(e orchestrator.HistoryEntry) (cycleRow, error) {
	metrics, err := json.Marshal(e.Metrics)
	if err != nil {
		return cycleRow{}, fmt.Errorf("failed to encode metrics: %w", err)
	}
	goals, err := json.Marshal(e.Goals)
	if err != nil {
		return cycleRow{}, fmt.Errorf("failed to encode goals: %w", err)
	}
	return cycleRow{
		RunID:      e.RunID,
		SystemID:   e.SystemID,
		Cycle:      e.Cycle,
		Index:      e.Index,
		Metrics:    string(metrics),
		Goals:      string(goals),
		Decision:   string(e.Decision),
		Reason:     string(e.Reason),
		Revision:   e.Revision,
		RecordedAt: e.RecordedAt.UTC(),
	}, nil
}

func (r cycleRow) entry() (orchestrator.HistoryEntry, error) {
	e := orchestrator.HistoryEntry{
		RunID:      r.RunID,
		SystemID:   r.SystemID,
		Cycle:      r.Cycle,
		Index:      r.Index,
		Decision:   orchestrator.Verdict(r.Decision),
		Reason:     orchestrator.StopReason(r.Reason),
		Revision:   r.Revision,
		RecordedAt: r.RecordedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Metrics), &e.Metrics); err != nil {
		return e, fmt.Errorf("run %s cycle %d: malformed metrics: %w", r.RunID, r.Cycle, err)
	}
	if err := json.Unmarshal([]byte(r.Goals), &e.Goals); err != nil {
		return e, fmt.Errorf("run %s cycle %d: malformed goals: %w", r.RunID, r.Cycle, err)
	}
	return e, nil
}
