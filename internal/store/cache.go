package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/valpere/llmjudger/internal"
)

// LookupVerdict returns a cached determinate verdict for the pair, its
// context, model and kind. A hit bumps the entry's hit counter.
func (s *Store) LookupVerdict(ctx context.Context, pair internal.SentencePair, model string, kind internal.EvaluationKind) (internal.JudgmentResponse, bool, error) {
	src, tgt, pctx := normalizeText(pair.SourceText), normalizeText(pair.TargetText), normalizeText(pair.Context)

	var (
		isCorrect   bool
		confidence  float64
		explanation sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT is_correct, confidence, explanation FROM judgment_cache
		 WHERE source_text = ? AND target_text = ? AND source_lang = ? AND target_lang = ? AND context = ? AND model = ? AND kind = ?`,
		src, tgt, pair.SourceLanguage, pair.TargetLanguage, pctx, model, string(kind)).Scan(&isCorrect, &confidence, &explanation)
	if err == sql.ErrNoRows {
		return internal.JudgmentResponse{}, false, nil
	}
	if err != nil {
		return internal.JudgmentResponse{}, false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE judgment_cache SET hits = hits + 1, last_used = ?
		 WHERE source_text = ? AND target_text = ? AND source_lang = ? AND target_lang = ? AND context = ? AND model = ? AND kind = ?`,
		time.Now(), src, tgt, pair.SourceLanguage, pair.TargetLanguage, pctx, model, string(kind))

	return internal.JudgmentResponse{
		IsCorrect:   internal.BoolPtr(isCorrect),
		Confidence:  confidence,
		Explanation: explanation.String,
		Model:       model,
		Kind:        kind,
		Pair:        pair,
		Source:      internal.SourceCache,
	}, true, err
}

// SaveVerdict caches a determinate, error-free response. Others are ignored.
func (s *Store) SaveVerdict(ctx context.Context, r internal.JudgmentResponse) error {
	if r.IsCorrect == nil || r.Err != nil {
		return nil
	}
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO judgment_cache (source_text, target_text, source_lang, target_lang, context, model, kind,
			is_correct, confidence, explanation, hits, created_at, last_used)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		normalizeText(r.Pair.SourceText), normalizeText(r.Pair.TargetText), r.Pair.SourceLanguage, r.Pair.TargetLanguage,
		normalizeText(r.Pair.Context), r.Model, string(r.Kind), *r.IsCorrect, r.Confidence, r.Explanation, now, now)
	return err
}

// CacheEntry is a row of the verdict cache.
type CacheEntry struct {
	SourceText string
	TargetText string
	SourceLang string
	TargetLang string
	Context    string
	Model      string
	Kind       internal.EvaluationKind
	IsCorrect  bool
	Confidence float64
	Hits       int
	LastUsed   time.Time
}

// ListCache returns cache entries, most recently used first.
func (s *Store) ListCache(ctx context.Context, limit int) ([]CacheEntry, error) {
	query := `SELECT source_text, target_text, source_lang, target_lang, context, model, kind, is_correct, confidence, hits, last_used
		FROM judgment_cache ORDER BY last_used DESC`
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

	var entries []CacheEntry
	for rows.Next() {
		var e CacheEntry
		var kind string
		if err := rows.Scan(&e.SourceText, &e.TargetText, &e.SourceLang, &e.TargetLang, &e.Context, &e.Model, &kind,
			&e.IsCorrect, &e.Confidence, &e.Hits, &e.LastUsed); err != nil {
			return nil, err
		}
		e.Kind = internal.EvaluationKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearCache removes cached verdicts, all of them when model is empty.
func (s *Store) ClearCache(ctx context.Context, model string) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if model == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM judgment_cache`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM judgment_cache WHERE model = ?`, model)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
