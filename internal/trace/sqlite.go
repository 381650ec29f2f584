package trace

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"wayfind/internal/types"
)

// SQLiteSink persists trace entries and decision events to a local SQLite
// database. Used for offline inspection of routing behavior; the in-session
// trace window never reads back from it.
type SQLiteSink struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteSink opens (creating if needed) the database at path.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create trace db directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace db: %w", err)
	}
	s := &SQLiteSink{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trace_entries (
		trace_id        TEXT PRIMARY KEY,
		session_id      TEXT NOT NULL,
		seq             INTEGER NOT NULL,
		ts_ms           INTEGER NOT NULL,
		action_type     TEXT NOT NULL,
		target_kind     TEXT,
		target_id       TEXT,
		target_label    TEXT,
		scope_kind      TEXT,
		scope_instance  TEXT,
		provenance      TEXT,
		dedupe_key      TEXT,
		parent_trace_id TEXT,
		delta_hint      TEXT,
		user_meaningful INTEGER,
		outcome         TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_trace_session ON trace_entries(session_id, seq);

	CREATE TABLE IF NOT EXISTS decision_events (
		id                TEXT PRIMARY KEY,
		session_id        TEXT NOT NULL,
		turn              INTEGER NOT NULL,
		tier              TEXT,
		outcome           TEXT,
		candidate_count   INTEGER,
		collision         INTEGER,
		loop_cycle_id     TEXT,
		fingerprint_before TEXT,
		fingerprint_after  TEXT,
		retry_budget      INTEGER,
		ts_ms             INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decision_session ON decision_events(session_id, turn);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create trace schema: %w", err)
	}
	return nil
}

func (s *SQLiteSink) AppendTrace(sessionID string, e types.ActionTraceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meaningful := 0
	if e.UserMeaningful {
		meaningful = 1
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO trace_entries
		(trace_id, session_id, seq, ts_ms, action_type, target_kind, target_id, target_label,
		 scope_kind, scope_instance, provenance, dedupe_key, parent_trace_id, delta_hint,
		 user_meaningful, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TraceID, sessionID, e.Seq, e.TSMs, e.ActionType,
		e.Target.Kind, e.Target.ID, e.Target.Label,
		string(e.Scope.Kind), e.Scope.InstanceID,
		string(e.Provenance), e.DedupeKey, e.ParentTraceID, e.DeltaHint,
		meaningful, string(e.Outcome))
	if err != nil {
		return fmt.Errorf("failed to append trace entry: %w", err)
	}
	return nil
}

func (s *SQLiteSink) AppendDecision(ev types.DecisionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	collision := 0
	if ev.Collision {
		collision = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO decision_events
		(id, session_id, turn, tier, outcome, candidate_count, collision,
		 loop_cycle_id, fingerprint_before, fingerprint_after, retry_budget, ts_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fmt.Sprintf("%s-%d-%d", ev.SessionID, ev.Turn, ev.TSMs),
		ev.SessionID, ev.Turn, ev.Tier, string(ev.Outcome), ev.CandidateCount, collision,
		ev.LoopCycleID, ev.FingerprintBefore, ev.FingerprintAfter, ev.RetryBudgetRemaining, ev.TSMs)
	if err != nil {
		return fmt.Errorf("failed to append decision event: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
