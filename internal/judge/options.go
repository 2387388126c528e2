package judge

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/valpere/llmjudger/internal"
	"github.com/valpere/llmjudger/internal/pool"
	"github.com/valpere/llmjudger/internal/retry"
)

const (
	DefaultTemperature   = 0.1
	DefaultMaxTokens     = 512
	DefaultTimeout       = 60 * time.Second
	DefaultMaxConcurrent = 4
)

// Cache stores determinate verdicts so repeated (pair, model, kind) tasks
// skip the backend.
type Cache interface {
	LookupVerdict(ctx context.Context, pair internal.SentencePair, model string, kind internal.EvaluationKind) (internal.JudgmentResponse, bool, error)
	SaveVerdict(ctx context.Context, resp internal.JudgmentResponse) error
}

// Observer receives counters as tasks progress. metrics.Recorder
// implements it.
type Observer interface {
	Judgment(model, kind, outcome string)
	Retry(model, reason string)
	InFlight(model string, delta int)
	Completion(model string, d time.Duration)
}

// ProgressFunc is called once per settled task with the running count.
// Calls are serialized.
type ProgressFunc func(done, total int, resp internal.JudgmentResponse)

type Option func(*Judger)

// WithPool sets the pool used by JudgeOne.
func WithPool(p *pool.Pool) Option {
	return func(j *Judger) { j.pool = p }
}

func WithPolicy(p retry.Policy) Option {
	return func(j *Judger) { j.policy = p }
}

func WithProgress(fn ProgressFunc) Option {
	return func(j *Judger) { j.progress = fn }
}

func WithCache(c Cache) Option {
	return func(j *Judger) { j.cache = c }
}

func WithObserver(o Observer) Option {
	return func(j *Judger) { j.observer = o }
}

func WithTracer(t trace.Tracer) Option {
	return func(j *Judger) { j.tracer = t }
}

// WithSampling sets the default temperature and token limit. A model's own
// configuration overrides them.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(j *Judger) {
		j.temperature = temperature
		if maxTokens > 0 {
			j.maxTokens = maxTokens
		}
	}
}

// WithTimeout bounds each completion call.
func WithTimeout(d time.Duration) Option {
	return func(j *Judger) {
		if d > 0 {
			j.timeout = d
		}
	}
}

// WithMaxConcurrent sets the global ceiling for pools built by JudgeBatch.
func WithMaxConcurrent(n int) Option {
	return func(j *Judger) {
		if n > 0 {
			j.maxConcurrent = n
		}
	}
}

// WithFormat sets the constrained-output format passed to the backend.
// Nil disables it.
func WithFormat(format any) Option {
	return func(j *Judger) { j.format = format }
}

type nopObserver struct{}

func (nopObserver) Judgment(string, string, string)  {}
func (nopObserver) Retry(string, string)             {}
func (nopObserver) InFlight(string, int)             {}
func (nopObserver) Completion(string, time.Duration) {}
