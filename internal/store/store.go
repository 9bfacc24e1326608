// Package store is the SQLite persistence layer. It is the source of truth
// for campaigns, sessions, canonical entities and threads, the correction
// ledger, extraction facts, and run bookkeeping.
//
// Thread safety: the underlying sql.DB serializes connections; sequences of
// read-modify-write are serialized via the per-campaign and per-run writer
// locks exposed here. Read paths run freely against WAL snapshots.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// Store handles all persistence.
type Store struct {
	db *sql.DB

	mu            sync.Mutex
	campaignLocks map[string]*sync.Mutex
	runLocks      map[string]*sync.Mutex
}

// Open creates or opens the database at the given path and applies the
// schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for concurrent readers; foreign keys are off by default in
	// SQLite and the schema relies on them.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{
		db:            db,
		campaignLocks: make(map[string]*sync.Mutex),
		runLocks:      make(map[string]*sync.Mutex),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CampaignLock returns the single-writer lock for ledger mutation in a
// campaign. Approvals must not interleave.
func (s *Store) CampaignLock(campaignID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaignLocks[campaignID]; !ok {
		s.campaignLocks[campaignID] = &sync.Mutex{}
	}
	return s.campaignLocks[campaignID]
}

// RunLock returns the single-writer lock for step transitions of a run.
func (s *Store) RunLock(runID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runLocks[runID]; !ok {
		s.runLocks[runID] = &sync.Mutex{}
	}
	return s.runLocks[runID]
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		system TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL REFERENCES campaigns(id),
		slug TEXT NOT NULL,
		session_number INTEGER,
		title TEXT,
		occurred_at DATETIME,
		UNIQUE(campaign_id, slug)
	);

	CREATE TABLE IF NOT EXISTS participants (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL REFERENCES campaigns(id),
		display_name TEXT NOT NULL,
		role TEXT,
		speaker_aliases TEXT,
		UNIQUE(campaign_id, display_name)
	);

	CREATE TABLE IF NOT EXISTS participant_characters (
		id TEXT PRIMARY KEY,
		participant_id TEXT NOT NULL REFERENCES participants(id),
		entity_id TEXT NOT NULL REFERENCES entities(id),
		UNIQUE(participant_id, entity_id)
	);

	CREATE TABLE IF NOT EXISTS utterances (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		participant_id TEXT NOT NULL REFERENCES participants(id),
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		speaker_raw TEXT,
		text TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_utterances_session ON utterances(session_id, start_ms);

	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL REFERENCES campaigns(id),
		entity_type TEXT NOT NULL,
		canonical_name TEXT NOT NULL,
		description TEXT,
		character_kind TEXT,
		owner_participant_id TEXT,
		created_at DATETIME NOT NULL,
		UNIQUE(campaign_id, entity_type, canonical_name)
	);

	CREATE TABLE IF NOT EXISTS entity_aliases (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id),
		alias TEXT NOT NULL,
		UNIQUE(entity_id, alias)
	);

	CREATE TABLE IF NOT EXISTS corrections (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL REFERENCES campaigns(id),
		session_id TEXT,
		target_type TEXT NOT NULL,
		target_id TEXT NOT NULL,
		action TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_by_role TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		seq INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL,
		approved_by TEXT,
		approved_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_corrections_campaign ON corrections(campaign_id, created_at, seq);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL REFERENCES campaigns(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		transcript_hash TEXT NOT NULL,
		prompt_version TEXT NOT NULL,
		model TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		idempotency_key TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_key ON runs(idempotency_key, created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id, status);

	CREATE TABLE IF NOT EXISTS run_steps (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id, started_at);

	CREATE TABLE IF NOT EXISTS mentions (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		text TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		description TEXT,
		evidence TEXT,
		confidence REAL
	);
	CREATE INDEX IF NOT EXISTS idx_mentions_run ON mentions(run_id, session_id);

	CREATE TABLE IF NOT EXISTS entity_mentions (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		mention_id TEXT NOT NULL REFERENCES mentions(id),
		entity_id TEXT NOT NULL REFERENCES entities(id)
	);
	CREATE INDEX IF NOT EXISTS idx_entity_mentions_entity ON entity_mentions(entity_id);

	CREATE TABLE IF NOT EXISTS scenes (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		title TEXT,
		summary TEXT NOT NULL,
		location TEXT,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		participants TEXT,
		evidence TEXT
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		event_type TEXT NOT NULL,
		summary TEXT NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		entities TEXT,
		evidence TEXT,
		confidence REAL
	);

	CREATE TABLE IF NOT EXISTS quotes (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		utterance_id TEXT NOT NULL REFERENCES utterances(id),
		char_start INTEGER NOT NULL,
		char_end INTEGER NOT NULL,
		text TEXT NOT NULL,
		speaker TEXT,
		note TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_quotes_session ON quotes(session_id);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		campaign_id TEXT NOT NULL REFERENCES campaigns(id),
		run_id TEXT REFERENCES runs(id),
		session_id TEXT REFERENCES sessions(id),
		title TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		summary TEXT,
		evidence TEXT,
		confidence REAL
	);
	CREATE INDEX IF NOT EXISTS idx_threads_campaign ON threads(campaign_id);

	CREATE TABLE IF NOT EXISTS thread_updates (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		thread_id TEXT NOT NULL REFERENCES threads(id),
		update_type TEXT NOT NULL,
		note TEXT NOT NULL,
		evidence TEXT,
		related_event_ids TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_thread_updates_thread ON thread_updates(thread_id);

	CREATE TABLE IF NOT EXISTS extractions (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		kind TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt_id TEXT NOT NULL,
		prompt_version TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_extractions_run ON extractions(run_id, kind, created_at);

	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES runs(id),
		session_id TEXT NOT NULL REFERENCES sessions(id),
		kind TEXT NOT NULL,
		path TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// marshalJSON serializes a value to a nullable TEXT column. Empty slices
// store as NULL.
func marshalJSON(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	str := string(data)
	if str == "null" || str == "[]" || str == "{}" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: str, Valid: true}, nil
}

func unmarshalJSON(src sql.NullString, dst interface{}) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dst)
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func strOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}
