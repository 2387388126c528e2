package internal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EvaluationKind selects the prompt template and the keyword set used when
// interpreting a model's answer.
type EvaluationKind string

const (
	KindTranslation EvaluationKind = "translation"
	KindSemantic    EvaluationKind = "semantic"
	KindQuality     EvaluationKind = "quality"
)

// Kinds lists every supported evaluation kind.
var Kinds = []EvaluationKind{KindTranslation, KindSemantic, KindQuality}

// ParseEvaluationKind accepts the canonical names plus a few aliases.
func ParseEvaluationKind(s string) (EvaluationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "translation", "":
		return KindTranslation, nil
	case "semantic", "semantic_equivalence", "semantic-equivalence":
		return KindSemantic, nil
	case "quality":
		return KindQuality, nil
	}
	return "", fmt.Errorf("unknown evaluation kind %q (want translation, semantic or quality)", s)
}

func (k EvaluationKind) Valid() bool {
	switch k {
	case KindTranslation, KindSemantic, KindQuality:
		return true
	}
	return false
}

// ModelConfig names a model and the number of calls that may be in flight
// against it at once.
type ModelConfig struct {
	Name      string `mapstructure:"name" json:"name"`
	Instances int    `mapstructure:"instances" json:"instances"`

	// Optional sampling overrides; zero values fall back to the defaults.
	Temperature *float64 `mapstructure:"temperature" json:"temperature,omitempty"`
	MaxTokens   int      `mapstructure:"max_tokens" json:"max_tokens,omitempty"`
}

func (c ModelConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("model name is empty")
	}
	if c.Instances < 1 {
		return fmt.Errorf("model %s: instances must be at least 1, got %d", c.Name, c.Instances)
	}
	return nil
}

type SentencePair struct {
	SourceText     string `json:"source_text"`
	TargetText     string `json:"target_text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	Context        string `json:"context,omitempty"`
	ReferenceID    string `json:"reference_id,omitempty"`
}

func (p SentencePair) Validate() error {
	if strings.TrimSpace(p.SourceText) == "" {
		return fmt.Errorf("source text is empty")
	}
	if strings.TrimSpace(p.TargetText) == "" {
		return fmt.Errorf("target text is empty")
	}
	return nil
}

// JudgmentRequest is one (pair, model, kind) task of a batch.
type JudgmentRequest struct {
	Index int            `json:"index"`
	Pair  SentencePair   `json:"pair"`
	Model string         `json:"model"`
	Kind  EvaluationKind `json:"kind"`
}

// VerdictSource records how a verdict was obtained.
type VerdictSource string

const (
	SourceStructured    VerdictSource = "structured"
	SourceHeuristic     VerdictSource = "heuristic"
	SourceIndeterminate VerdictSource = "indeterminate"
	SourceCache         VerdictSource = "cache"
)

// JudgmentResponse is the terminal outcome of one JudgmentRequest.
// IsCorrect is nil when the outcome is indeterminate or the task failed.
type JudgmentResponse struct {
	IsCorrect   *bool          `json:"is_correct"`
	Confidence  float64        `json:"confidence_score"`
	Explanation string         `json:"explanation"`
	Model       string         `json:"model"`
	Kind        EvaluationKind `json:"kind"`
	Pair        SentencePair   `json:"pair"`
	Source      VerdictSource  `json:"source"`
	RawText     string         `json:"raw_text,omitempty"`
	Attempts    int            `json:"attempts"`
	Elapsed     time.Duration  `json:"elapsed"`
	Timestamp   time.Time      `json:"timestamp"`
	Err         error          `json:"-"`
}

// MarshalJSON adds the error message, which the Err field cannot carry.
func (r JudgmentResponse) MarshalJSON() ([]byte, error) {
	type plain JudgmentResponse
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain(r), r.ErrorString()})
}

// Failed reports whether the task ended with an error instead of a verdict.
func (r JudgmentResponse) Failed() bool {
	return r.Err != nil
}

// Indeterminate reports whether no correctness signal was established.
func (r JudgmentResponse) Indeterminate() bool {
	return r.IsCorrect == nil
}

// ErrorString returns the error message or "" when the task succeeded.
func (r JudgmentResponse) ErrorString() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ModelStats aggregates the responses of a single model.
type ModelStats struct {
	Total          int     `json:"total"`
	Correct        int     `json:"correct"`
	Incorrect      int     `json:"incorrect"`
	Indeterminate  int     `json:"indeterminate"`
	Failures       int     `json:"failures"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// Stats aggregates a whole batch. MeanConfidence is taken over determinate
// responses only.
type Stats struct {
	Total           int                   `json:"total"`
	Correct         int                   `json:"correct"`
	Incorrect       int                   `json:"incorrect"`
	Indeterminate   int                   `json:"indeterminate"`
	MeanConfidence  float64               `json:"mean_confidence"`
	FailuresByModel map[string]int        `json:"failures_by_model"`
	ByModel         map[string]ModelStats `json:"by_model"`
	Elapsed         time.Duration         `json:"elapsed"`
}

// Failures returns the total failure count over all models.
func (s Stats) Failures() int {
	n := 0
	for _, c := range s.FailuresByModel {
		n += c
	}
	return n
}

// BatchResult holds one response per request, in submission order.
type BatchResult struct {
	Responses []JudgmentResponse `json:"responses"`
	Stats     Stats              `json:"stats"`
}

// BoolPtr is a small helper for building verdicts.
func BoolPtr(v bool) *bool {
	return &v
}
