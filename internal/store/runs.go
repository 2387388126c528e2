package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/valpere/llmjudger/internal"
)

// Run is one recorded batch.
type Run struct {
	ID          string
	Kind        internal.EvaluationKind
	InputFile   string
	Models      []string
	Status      string
	Stats       internal.Stats
	Failures    int
	CreatedAt   time.Time
	CompletedAt *time.Time
}

const (
	RunRunning   = "running"
	RunCompleted = "completed"
)

// CreateRun records a new batch and returns its ID.
func (s *Store) CreateRun(ctx context.Context, kind internal.EvaluationKind, inputFile string, models []string) (string, error) {
	id := uuid.NewString()
	modelsJSON, err := json.Marshal(models)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, input_file, models, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(kind), inputFile, string(modelsJSON), RunRunning, time.Now())
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return id, nil
}

const insertJudgment = `INSERT OR REPLACE INTO judgments (run_id, idx, model, kind, source_text, target_text,
	source_lang, target_lang, context, reference_id, is_correct, confidence, explanation, source, raw_text,
	attempts, latency_ms, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func judgmentArgs(runID string, idx int, r internal.JudgmentResponse) []any {
	return []any{
		runID, idx, r.Model, string(r.Kind), r.Pair.SourceText, r.Pair.TargetText,
		r.Pair.SourceLanguage, r.Pair.TargetLanguage, r.Pair.Context, r.Pair.ReferenceID,
		boolArg(r.IsCorrect), r.Confidence, r.Explanation, string(r.Source), r.RawText,
		r.Attempts, ms(r.Elapsed), r.ErrorString(), r.Timestamp,
	}
}

// SaveJudgment stores one response at its submission index.
func (s *Store) SaveJudgment(ctx context.Context, runID string, idx int, r internal.JudgmentResponse) error {
	if _, err := s.db.ExecContext(ctx, insertJudgment, judgmentArgs(runID, idx, r)...); err != nil {
		return fmt.Errorf("save judgment %d: %w", idx, err)
	}
	return nil
}

// SaveBatch stores every response of a batch in one transaction.
func (s *Store) SaveBatch(ctx context.Context, runID string, responses []internal.JudgmentResponse) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertJudgment)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range responses {
		if _, err := stmt.ExecContext(ctx, judgmentArgs(runID, i, r)...); err != nil {
			return fmt.Errorf("save judgment %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// CompleteRun stores the batch statistics and marks the run completed.
func (s *Store) CompleteRun(ctx context.Context, runID string, stats internal.Stats) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, total = ?, correct = ?, incorrect = ?, indeterminate = ?, failures = ?,
			mean_confidence = ?, elapsed_ms = ?, completed_at = ? WHERE id = ?`,
		RunCompleted, stats.Total, stats.Correct, stats.Incorrect, stats.Indeterminate, stats.Failures(),
		stats.MeanConfidence, ms(stats.Elapsed), time.Now(), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

const runColumns = `id, kind, COALESCE(input_file, ''), models, status, total, correct, incorrect, indeterminate, failures,
	mean_confidence, elapsed_ms, created_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r          Run
		kind       string
		modelsJSON string
		elapsedMs  int64
		completed  sql.NullTime
	)
	if err := row.Scan(&r.ID, &kind, &r.InputFile, &modelsJSON, &r.Status, &r.Stats.Total, &r.Stats.Correct,
		&r.Stats.Incorrect, &r.Stats.Indeterminate, &r.Failures, &r.Stats.MeanConfidence, &elapsedMs,
		&r.CreatedAt, &completed); err != nil {
		return nil, err
	}
	r.Kind = internal.EvaluationKind(kind)
	if err := json.Unmarshal([]byte(modelsJSON), &r.Models); err != nil {
		return nil, fmt.Errorf("run %s: bad models column: %w", r.ID, err)
	}
	r.Stats.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

// GetRun returns a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	return r, err
}

// ListRuns returns the most recent runs first. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// RunJudgments returns the responses of a run in submission order.
func (s *Store) RunJudgments(ctx context.Context, runID string) ([]internal.JudgmentResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model, kind, source_text, target_text, COALESCE(source_lang, ''), COALESCE(target_lang, ''),
			COALESCE(context, ''), COALESCE(reference_id, ''), is_correct, confidence, COALESCE(explanation, ''),
			COALESCE(source, ''), COALESCE(raw_text, ''), attempts, latency_ms, error, created_at
		 FROM judgments WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.JudgmentResponse
	for rows.Next() {
		var (
			r         internal.JudgmentResponse
			kind      string
			source    string
			isCorrect sql.NullBool
			latencyMs int64
			errMsg    sql.NullString
		)
		if err := rows.Scan(&r.Model, &kind, &r.Pair.SourceText, &r.Pair.TargetText, &r.Pair.SourceLanguage,
			&r.Pair.TargetLanguage, &r.Pair.Context, &r.Pair.ReferenceID, &isCorrect, &r.Confidence, &r.Explanation,
			&source, &r.RawText, &r.Attempts, &latencyMs, &errMsg, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Kind = internal.EvaluationKind(kind)
		r.Source = internal.VerdictSource(source)
		r.IsCorrect = nullableBool(isCorrect)
		r.Elapsed = time.Duration(latencyMs) * time.Millisecond
		r.Err = errFromString(errMsg)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ModelSummary aggregates every stored judgment of one model.
type ModelSummary struct {
	Model          string
	Total          int
	Correct        int
	Incorrect      int
	Indeterminate  int
	Failures       int
	MeanConfidence float64
	MeanLatency    time.Duration
}

// Summary is the store-wide view returned by Stats.
type Summary struct {
	Runs          int
	CompletedRuns int
	Judgments     int
	CacheEntries  int
	CacheHits     int
	Models        []ModelSummary
}

// Stats summarises all runs, judgments and the cache.
func (s *Store) Stats(ctx context.Context) (*Summary, error) {
	sum := &Summary{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM runs),
			(SELECT COUNT(*) FROM runs WHERE status = 'completed'),
			(SELECT COUNT(*) FROM judgments),
			(SELECT COUNT(*) FROM judgment_cache),
			(SELECT COALESCE(SUM(hits), 0) FROM judgment_cache)`).Scan(
		&sum.Runs, &sum.CompletedRuns, &sum.Judgments, &sum.CacheEntries, &sum.CacheHits)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT model,
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_correct = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_correct = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_correct IS NULL AND (error IS NULL OR error = '') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN error IS NOT NULL AND error != '' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN is_correct IS NOT NULL THEN confidence END), 0),
			COALESCE(AVG(latency_ms), 0)
		FROM judgments GROUP BY model ORDER BY model`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m ModelSummary
		var latency float64
		if err := rows.Scan(&m.Model, &m.Total, &m.Correct, &m.Incorrect, &m.Indeterminate, &m.Failures,
			&m.MeanConfidence, &latency); err != nil {
			return nil, err
		}
		m.MeanLatency = time.Duration(latency) * time.Millisecond
		sum.Models = append(sum.Models, m)
	}
	return sum, rows.Err()
}
