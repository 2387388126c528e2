// Package verdict turns raw completion text into a typed verdict.
//
// Parsing is strict first: the outermost JSON object is validated against
// the verdict schema. When that fails, a conservative keyword scan is used,
// and when the keywords do not point one way the result is indeterminate.
// Parse never fails.
package verdict

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/valpere/llmjudger/internal"
	"github.com/valpere/llmjudger/internal/postprocess"
)

const (
	// DefaultConfidence is used when a structured verdict omits confidence.
	DefaultConfidence = 0.5
	// HeuristicConfidence marks a verdict recovered from keywords.
	HeuristicConfidence = 0.3
	// MaxExplanationRunes bounds the raw text kept as a fallback explanation.
	MaxExplanationRunes = 500
)

// ErrEmptyResponse is returned by callers that treat blank model output as
// a transient failure.
var ErrEmptyResponse = errors.New("empty response from model")

// Verdict is a tagged union keyed by Source: Structured and Heuristic carry
// a non-nil IsCorrect, Indeterminate never does.
type Verdict struct {
	IsCorrect   *bool
	Confidence  float64
	Explanation string
	Source      internal.VerdictSource
}

func (v Verdict) Determinate() bool {
	return v.IsCorrect != nil
}

// IsEmpty reports whether raw carries no answer once reasoning blocks and
// fences are stripped.
func IsEmpty(raw string) bool {
	return strings.TrimSpace(postprocess.Clean(raw)) == ""
}

// Parse interprets raw as an answer to a prompt of the given kind.
func Parse(kind internal.EvaluationKind, raw string) Verdict {
	cleaned := postprocess.Clean(raw)

	v, scanText, ok := parseStructured(cleaned)
	if ok {
		return v
	}

	explanation := truncate(strings.TrimSpace(raw), MaxExplanationRunes)
	if isCorrect, ok := scanKeywords(kind, scanText); ok {
		return Verdict{
			IsCorrect:   internal.BoolPtr(isCorrect),
			Confidence:  HeuristicConfidence,
			Explanation: explanation,
			Source:      internal.SourceHeuristic,
		}
	}
	return Verdict{
		Confidence:  0,
		Explanation: explanation,
		Source:      internal.SourceIndeterminate,
	}
}

// NormalizeConfidence reads values in [2,100] as percentages and clamps
// everything into [0,1]. Values just above 1 are overshoot, not percent.
func NormalizeConfidence(c float64) float64 {
	if c >= 2 && c <= 100 {
		c /= 100
	}
	return max(0, min(1, c))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
