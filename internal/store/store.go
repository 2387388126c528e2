// Package store persists judgment runs, the verdict cache and CSV
// checkpoints in SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/llmjudger/internal"
)

type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at dbPath. The parent
// directory is created when missing.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dbPath != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Judgment goroutines write concurrently; SQLite serialises writers anyway.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		input_file TEXT,
		models TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		total INTEGER DEFAULT 0,
		correct INTEGER DEFAULT 0,
		incorrect INTEGER DEFAULT 0,
		indeterminate INTEGER DEFAULT 0,
		failures INTEGER DEFAULT 0,
		mean_confidence REAL DEFAULT 0,
		elapsed_ms INTEGER DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS judgments (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		model TEXT NOT NULL,
		kind TEXT NOT NULL,
		source_text TEXT NOT NULL,
		target_text TEXT NOT NULL,
		source_lang TEXT,
		target_lang TEXT,
		context TEXT,
		reference_id TEXT,
		is_correct BOOLEAN,
		confidence REAL,
		explanation TEXT,
		source TEXT,
		raw_text TEXT,
		attempts INTEGER,
		latency_ms INTEGER,
		error TEXT,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, idx),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	-- judgment_cache holds determinate verdicts keyed by normalised pair, context, model and kind
	CREATE TABLE IF NOT EXISTS judgment_cache (
		source_text TEXT NOT NULL,
		target_text TEXT NOT NULL,
		source_lang TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL,
		kind TEXT NOT NULL,
		is_correct BOOLEAN NOT NULL,
		confidence REAL NOT NULL,
		explanation TEXT,
		hits INTEGER DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		last_used TIMESTAMP NOT NULL,
		PRIMARY KEY (source_text, target_text, source_lang, target_lang, context, model, kind)
	);

	-- csv_checkpoints tracks CSV judging jobs for resume support
	CREATE TABLE IF NOT EXISTS csv_checkpoints (
		id TEXT PRIMARY KEY,
		input_file TEXT NOT NULL,
		output_file TEXT NOT NULL,
		kind TEXT NOT NULL,
		models TEXT NOT NULL,
		status TEXT DEFAULT 'running',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	-- csv_checkpoint_rows stores the settled verdict per (row, model)
	CREATE TABLE IF NOT EXISTS csv_checkpoint_rows (
		checkpoint_id TEXT NOT NULL,
		row_idx INTEGER NOT NULL,
		model TEXT NOT NULL,
		is_correct BOOLEAN,
		confidence REAL,
		explanation TEXT,
		source TEXT,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (checkpoint_id, row_idx, model),
		FOREIGN KEY (checkpoint_id) REFERENCES csv_checkpoints(id)
	);

	CREATE INDEX IF NOT EXISTS idx_judgments_run ON judgments(run_id);
	CREATE INDEX IF NOT EXISTS idx_judgments_model ON judgments(model);
	CREATE INDEX IF NOT EXISTS idx_checkpoint_rows ON csv_checkpoint_rows(checkpoint_id);
	`

	if err := s.dropStaleCache(); err != nil {
		return err
	}
	_, err := s.db.Exec(schema)
	return err
}

// dropStaleCache removes a judgment_cache table created before verdicts
// were keyed by context. Its entries cannot be told apart, so they go.
func (s *Store) dropStaleCache() error {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('judgment_cache')`).Scan(&n)
	if err != nil || n == 0 {
		return err
	}
	var hasContext int
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('judgment_cache') WHERE name = 'context'`).Scan(&hasContext); err != nil {
		return err
	}
	if hasContext > 0 {
		return nil
	}
	_, err = s.db.Exec(`DROP TABLE judgment_cache`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeText trims whitespace and applies Unicode NFC normalization so
// cache keys compare equal across input encodings.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

func nullableBool(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	return internal.BoolPtr(b.Bool)
}

func boolArg(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func errFromString(msg sql.NullString) error {
	if !msg.Valid || msg.String == "" {
		return nil
	}
	return errors.New(msg.String)
}

func ms(d time.Duration) int64 {
	return d.Milliseconds()
}
