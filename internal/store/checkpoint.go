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

// CSVCheckpoint is the progress record of a CSV judging job.
type CSVCheckpoint struct {
	ID         string
	InputFile  string
	OutputFile string
	Kind       internal.EvaluationKind
	Models     []string
	Status     string
	CreatedAt  time.Time
}

// CreateCSVCheckpoint creates a checkpoint and returns its ID.
func (s *Store) CreateCSVCheckpoint(ctx context.Context, inputFile, outputFile string, kind internal.EvaluationKind, models []string) (string, error) {
	id := "cp_" + uuid.NewString()[:8]
	modelsJSON, err := json.Marshal(models)
	if err != nil {
		return "", err
	}
	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO csv_checkpoints (id, input_file, output_file, kind, models, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, inputFile, outputFile, string(kind), string(modelsJSON), now, now)
	return id, err
}

// GetCSVCheckpoint retrieves a checkpoint by ID.
func (s *Store) GetCSVCheckpoint(ctx context.Context, checkpointID string) (*CSVCheckpoint, error) {
	var (
		cp         CSVCheckpoint
		kind       string
		modelsJSON string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, input_file, output_file, kind, models, status, created_at FROM csv_checkpoints WHERE id = ?`,
		checkpointID).Scan(&cp.ID, &cp.InputFile, &cp.OutputFile, &kind, &modelsJSON, &cp.Status, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("checkpoint not found: %s", checkpointID)
	}
	if err != nil {
		return nil, err
	}
	cp.Kind = internal.EvaluationKind(kind)
	if err := json.Unmarshal([]byte(modelsJSON), &cp.Models); err != nil {
		return nil, fmt.Errorf("checkpoint %s: bad models column: %w", cp.ID, err)
	}
	return &cp, nil
}

// SaveCSVRow records the settled response of one model for one data row.
// Failed responses are not recorded so a resumed run retries them.
func (s *Store) SaveCSVRow(ctx context.Context, checkpointID string, rowIdx int, r internal.JudgmentResponse) error {
	if r.Err != nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO csv_checkpoint_rows (checkpoint_id, row_idx, model, is_correct, confidence, explanation, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		checkpointID, rowIdx, r.Model, boolArg(r.IsCorrect), r.Confidence, r.Explanation, string(r.Source), r.Timestamp)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE csv_checkpoints SET updated_at = ? WHERE id = ?`, time.Now(), checkpointID)
	return err
}

// GetCSVRows returns the recorded responses of a checkpoint keyed by row
// index and then model.
func (s *Store) GetCSVRows(ctx context.Context, checkpointID string) (map[int]map[string]internal.JudgmentResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_idx, model, is_correct, confidence, COALESCE(explanation, ''), COALESCE(source, ''), created_at
		 FROM csv_checkpoint_rows WHERE checkpoint_id = ?`, checkpointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]map[string]internal.JudgmentResponse)
	for rows.Next() {
		var (
			rowIdx    int
			r         internal.JudgmentResponse
			isCorrect sql.NullBool
			source    string
		)
		if err := rows.Scan(&rowIdx, &r.Model, &isCorrect, &r.Confidence, &r.Explanation, &source, &r.Timestamp); err != nil {
			return nil, err
		}
		r.IsCorrect = nullableBool(isCorrect)
		r.Source = internal.VerdictSource(source)
		if out[rowIdx] == nil {
			out[rowIdx] = make(map[string]internal.JudgmentResponse)
		}
		out[rowIdx][r.Model] = r
	}
	return out, rows.Err()
}

// CompleteCSVCheckpoint marks a checkpoint as completed.
func (s *Store) CompleteCSVCheckpoint(ctx context.Context, checkpointID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE csv_checkpoints SET status = 'completed', updated_at = ? WHERE id = ?`,
		time.Now(), checkpointID)
	return err
}
