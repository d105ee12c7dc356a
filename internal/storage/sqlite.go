package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/compliagent/internal/fault"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// Concurrent handlers write through separate connections; writers wait on the lock
	// instead of failing, and transactions take the write lock up front.
	dsn := "file:" + dbPath + "?_busy_timeout=10000&_txlock=immediate&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		document_id TEXT PRIMARY KEY,
		source_url TEXT NOT NULL UNIQUE,
		bucket TEXT NOT NULL,
		object_key TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		document_type TEXT NOT NULL,
		status TEXT NOT NULL,
		ocr_job_id TEXT NOT NULL DEFAULT '',
		error_code TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		last_updated TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

	CREATE TABLE IF NOT EXISTS document_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_id TEXT NOT NULL,
		status TEXT NOT NULL,
		at TIMESTAMP NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(document_id)
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_document ON document_transitions(document_id, id);

	CREATE TABLE IF NOT EXISTS ocr_jobs (
		job_id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(document_id)
	);

	CREATE INDEX IF NOT EXISTS idx_ocr_jobs_document ON ocr_jobs(document_id);

	CREATE TABLE IF NOT EXISTS extracted_segments (
		document_id TEXT NOT NULL,
		segment_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		page_number INTEGER NOT NULL,
		line_count INTEGER NOT NULL,
		job_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (document_id, segment_index)
	);

	CREATE TABLE IF NOT EXISTS vector_records (
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		regulation_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		document_type TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (document_id, chunk_index)
	);

	CREATE INDEX IF NOT EXISTS idx_vectors_regulation ON vector_records(regulation_id);

	CREATE TABLE IF NOT EXISTS gaps (
		gap_id TEXT PRIMARY KEY,
		regulation_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		gap_type TEXT NOT NULL DEFAULT '',
		risk_level TEXT NOT NULL DEFAULT '',
		regulatory_reference TEXT NOT NULL DEFAULT '',
		policy_reference TEXT NOT NULL DEFAULT '',
		impact_description TEXT NOT NULL DEFAULT '',
		recommended_action TEXT NOT NULL DEFAULT '',
		source_document_ids TEXT NOT NULL DEFAULT '[]',
		execution_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		acknowledged_by TEXT NOT NULL DEFAULT '',
		acknowledged_at TIMESTAMP,
		resolved_by TEXT NOT NULL DEFAULT '',
		resolved_at TIMESTAMP,
		notes TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_gaps_status ON gaps(status);
	CREATE INDEX IF NOT EXISTS idx_gaps_regulation ON gaps(regulation_id);
	CREATE INDEX IF NOT EXISTS idx_gaps_execution ON gaps(execution_id);

	CREATE TABLE IF NOT EXISTS amendments (
		amendment_id TEXT PRIMARY KEY,
		gap_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		amendment_type TEXT NOT NULL DEFAULT '',
		target_policy TEXT NOT NULL DEFAULT '',
		amendment_text TEXT NOT NULL,
		rationale TEXT NOT NULL DEFAULT '',
		implementation_notes TEXT NOT NULL DEFAULT '',
		compliance_monitoring TEXT NOT NULL DEFAULT '',
		effective_date TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL,
		status TEXT NOT NULL,
		execution_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		approved_by TEXT NOT NULL DEFAULT '',
		approved_at TIMESTAMP,
		approval_notes TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_amendments_gap ON amendments(gap_id);
	CREATE INDEX IF NOT EXISTS idx_amendments_status ON amendments(status);

	CREATE TABLE IF NOT EXISTS workflow_executions (
		execution_id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		state TEXT NOT NULL,
		status TEXT NOT NULL,
		input TEXT NOT NULL,
		output TEXT,
		error_kind TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		error_state TEXT NOT NULL DEFAULT '',
		error_entered_at TIMESTAMP,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_executions_status ON workflow_executions(status);

	CREATE TABLE IF NOT EXISTS execution_steps (
		execution_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		state TEXT NOT NULL,
		event TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT '',
		at TIMESTAMP NOT NULL,
		PRIMARY KEY (execution_id, seq),
		FOREIGN KEY (execution_id) REFERENCES workflow_executions(execution_id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func notFound(err error, op, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fault.NotFound(op, "%s not found: %s", what, id)
	}
	return err
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
