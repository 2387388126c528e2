// Package judge runs judgment tasks against a completion backend.
//
// A batch expands (pairs × models) into independent tasks, one goroutine
// each. Every task acquires a pool slot per attempt, calls the backend,
// parses the answer and, on a transient failure, releases the slot before
// backing off. Results land at their submission index; statistics are
// computed once every task has settled. Per-task failures are recorded on
// the task's response and never abort the batch.
package judge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/valpere/llmjudger/internal"
	"github.com/valpere/llmjudger/internal/completion"
	"github.com/valpere/llmjudger/internal/metrics"
	"github.com/valpere/llmjudger/internal/pool"
	"github.com/valpere/llmjudger/internal/prompt"
	"github.com/valpere/llmjudger/internal/retry"
	"github.com/valpere/llmjudger/internal/verdict"
)

// ErrCancelled marks a task that had not settled when its batch was
// cancelled.
var ErrCancelled = errors.New("judgment cancelled")

type Judger struct {
	client   completion.Client
	pool     *pool.Pool
	policy   retry.Policy
	progress ProgressFunc
	cache    Cache
	observer Observer
	tracer   trace.Tracer

	temperature   float64
	maxTokens     int
	timeout       time.Duration
	maxConcurrent int
	format        any
}

func New(client completion.Client, opts ...Option) *Judger {
	j := &Judger{
		client:        client,
		policy:        retry.DefaultPolicy(),
		observer:      nopObserver{},
		tracer:        otel.Tracer("github.com/valpere/llmjudger/internal/judge"),
		temperature:   DefaultTemperature,
		maxTokens:     DefaultMaxTokens,
		timeout:       DefaultTimeout,
		maxConcurrent: DefaultMaxConcurrent,
		format:        "json",
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.observer == nil {
		j.observer = nopObserver{}
	}
	return j
}

// JudgeOne judges a single pair with the Judger's own pool.
func (j *Judger) JudgeOne(ctx context.Context, pair internal.SentencePair, model string, kind internal.EvaluationKind) internal.JudgmentResponse {
	req := internal.JudgmentRequest{Pair: pair, Model: model, Kind: kind}
	if j.pool == nil {
		return j.failed(req, time.Now(), 0, "", &pool.ConfigError{Model: model, Reason: "no pool configured"})
	}
	if !kind.Valid() {
		return j.failed(req, time.Now(), 0, "", &pool.ConfigError{Model: model, Reason: fmt.Sprintf("unknown evaluation kind %q", kind)})
	}
	if err := pair.Validate(); err != nil {
		return j.failed(req, time.Now(), 0, "", &pool.ConfigError{Model: model, Reason: err.Error()})
	}
	return j.runTask(ctx, j.pool, req, internal.ModelConfig{Name: model})
}

// JudgeBatch judges every pair with every model. Only setup problems are
// returned as an error; task failures are recorded on their responses.
func (j *Judger) JudgeBatch(ctx context.Context, pairs []internal.SentencePair, configs []internal.ModelConfig, kind internal.EvaluationKind) (*internal.BatchResult, error) {
	if len(pairs) == 0 {
		return nil, errors.New("judge batch: no sentence pairs")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("judge batch: unknown evaluation kind %q", kind)
	}
	for i, p := range pairs {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("judge batch: pair %d: %w", i, err)
		}
	}
	p, err := pool.New(configs, j.maxConcurrent)
	if err != nil {
		return nil, fmt.Errorf("judge batch: %w", err)
	}

	reqs := expand(pairs, configs, kind)
	byModel := make(map[string]internal.ModelConfig, len(configs))
	for _, c := range configs {
		byModel[c.Name] = c
	}

	ctx, span := j.tracer.Start(ctx, "judge_batch", trace.WithAttributes(
		attribute.Int("pairs", len(pairs)),
		attribute.Int("models", len(configs)),
		attribute.String("kind", string(kind)),
	))
	defer span.End()

	log := clog.FromContext(ctx)
	log.With("pairs", len(pairs)).
		With("models", len(configs)).
		With("tasks", len(reqs)).
		With("max_concurrent", j.maxConcurrent).
		Info("Starting batch")

	start := time.Now()
	responses := make([]internal.JudgmentResponse, len(reqs))

	var (
		mu   sync.Mutex
		done int
		wg   sync.WaitGroup
	)
	for i, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := j.runTask(ctx, p, req, byModel[req.Model])
			responses[i] = resp

			mu.Lock()
			defer mu.Unlock()
			done++
			logSettled(ctx, done, len(reqs), resp)
			if j.progress != nil {
				j.progress(done, len(reqs), resp)
			}
		}()
	}
	wg.Wait()

	stats := ComputeStats(responses)
	stats.Elapsed = time.Since(start)

	span.SetAttributes(
		attribute.Int("correct", stats.Correct),
		attribute.Int("incorrect", stats.Incorrect),
		attribute.Int("indeterminate", stats.Indeterminate),
		attribute.Int("failures", stats.Failures()),
	)
	log.With("elapsed", stats.Elapsed).
		With("correct", stats.Correct).
		With("incorrect", stats.Incorrect).
		With("indeterminate", stats.Indeterminate).
		With("failures", stats.Failures()).
		Info("Batch complete")

	return &internal.BatchResult{Responses: responses, Stats: stats}, nil
}

// expand orders tasks pair-major, model-minor.
func expand(pairs []internal.SentencePair, configs []internal.ModelConfig, kind internal.EvaluationKind) []internal.JudgmentRequest {
	reqs := make([]internal.JudgmentRequest, 0, len(pairs)*len(configs))
	for _, pair := range pairs {
		for _, cfg := range configs {
			reqs = append(reqs, internal.JudgmentRequest{
				Index: len(reqs),
				Pair:  pair,
				Model: cfg.Name,
				Kind:  kind,
			})
		}
	}
	return reqs
}

func (j *Judger) options(cfg internal.ModelConfig) completion.Options {
	opts := completion.Options{
		Temperature: j.temperature,
		MaxTokens:   j.maxTokens,
		Timeout:     j.timeout,
		Format:      j.format,
	}
	if cfg.Temperature != nil {
		opts.Temperature = *cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		opts.MaxTokens = cfg.MaxTokens
	}
	return opts
}

// runTask drives one request to a terminal response.
func (j *Judger) runTask(ctx context.Context, p *pool.Pool, req internal.JudgmentRequest, cfg internal.ModelConfig) internal.JudgmentResponse {
	start := time.Now()
	ctx, span := j.tracer.Start(ctx, "judge_task", trace.WithAttributes(
		attribute.Int("index", req.Index),
		attribute.String("model", req.Model),
		attribute.String("kind", string(req.Kind)),
	))
	defer span.End()

	ctx = clog.WithLogger(ctx, clog.FromContext(ctx).With("model", req.Model).With("index", req.Index))

	if j.cache != nil {
		if cached, ok, err := j.cache.LookupVerdict(ctx, req.Pair, req.Model, req.Kind); err != nil {
			clog.FromContext(ctx).With("error", err.Error()).Warn("Cache lookup failed")
		} else if ok {
			cached.Source = internal.SourceCache
			cached.Pair = req.Pair
			cached.Model = req.Model
			cached.Kind = req.Kind
			cached.Elapsed = time.Since(start)
			cached.Timestamp = time.Now()
			cached.Attempts = 0
			j.observer.Judgment(req.Model, string(req.Kind), outcome(cached))
			return cached
		}
	}

	text := prompt.Build(req.Kind, req.Pair)
	opts := j.options(cfg)

	var raw string
	attempt := func(ctx context.Context, k int) error {
		lease, err := p.Acquire(ctx, req.Model)
		if err != nil {
			return err
		}
		defer lease.Release()

		j.observer.InFlight(req.Model, 1)
		defer j.observer.InFlight(req.Model, -1)

		callCtx, callSpan := j.tracer.Start(context.WithoutCancel(ctx), "completion "+req.Model,
			trace.WithAttributes(attribute.Int("attempt", k)))
		defer callSpan.End()

		t0 := time.Now()
		out, err := j.client.Complete(callCtx, req.Model, text, opts)
		j.observer.Completion(req.Model, time.Since(t0))
		if err != nil {
			callSpan.RecordError(err)
			callSpan.SetStatus(codes.Error, err.Error())
			return err
		}
		raw = out
		if verdict.IsEmpty(out) {
			return verdict.ErrEmptyResponse
		}
		return nil
	}

	res := retry.Run(ctx, j.policy, retryable, attempt,
		retry.LogTransitions("judge"),
		func(_ context.Context, t retry.Transition) {
			if t.State == retry.Backoff {
				j.observer.Retry(req.Model, reason(t.Err))
			}
		},
	)

	var resp internal.JudgmentResponse
	switch {
	case res.Err == nil:
		v := verdict.Parse(req.Kind, raw)
		resp = internal.JudgmentResponse{
			IsCorrect:   v.IsCorrect,
			Confidence:  v.Confidence,
			Explanation: v.Explanation,
			Model:       req.Model,
			Kind:        req.Kind,
			Pair:        req.Pair,
			Source:      v.Source,
			RawText:     raw,
			Attempts:    res.Attempts,
			Elapsed:     time.Since(start),
			Timestamp:   time.Now(),
		}
		if j.cache != nil && v.Determinate() {
			if err := j.cache.SaveVerdict(ctx, resp); err != nil {
				clog.FromContext(ctx).With("error", err.Error()).Warn("Cache save failed")
			}
		}
	case ctx.Err() != nil && isContextErr(res.Err):
		resp = j.failed(req, start, res.Attempts, raw, fmt.Errorf("%w: %w", ErrCancelled, res.Err))
	default:
		resp = j.failed(req, start, res.Attempts, raw, res.Err)
	}

	if resp.Err != nil {
		span.RecordError(resp.Err)
		span.SetStatus(codes.Error, resp.Err.Error())
	}
	span.SetAttributes(attribute.String("source", string(resp.Source)), attribute.Int("attempts", resp.Attempts))
	j.observer.Judgment(req.Model, string(req.Kind), outcome(resp))
	return resp
}

func (j *Judger) failed(req internal.JudgmentRequest, start time.Time, attempts int, raw string, err error) internal.JudgmentResponse {
	return internal.JudgmentResponse{
		IsCorrect:   nil,
		Confidence:  0,
		Explanation: err.Error(),
		Model:       req.Model,
		Kind:        req.Kind,
		Pair:        req.Pair,
		Source:      internal.SourceIndeterminate,
		RawText:     raw,
		Attempts:    attempts,
		Elapsed:     time.Since(start),
		Timestamp:   time.Now(),
		Err:         err,
	}
}

func retryable(err error) bool {
	return errors.Is(err, verdict.ErrEmptyResponse) || completion.IsRetryable(err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// reason labels a retry for metrics.
func reason(err error) string {
	var te *completion.TimeoutError
	var be *completion.BackendError
	switch {
	case errors.Is(err, verdict.ErrEmptyResponse):
		return "empty"
	case errors.As(err, &te):
		return "timeout"
	case errors.As(err, &be) && be.Status == 0:
		return "transport"
	case errors.As(err, &be):
		return fmt.Sprintf("status_%d", be.Status)
	}
	return "other"
}

func outcome(r internal.JudgmentResponse) string {
	switch {
	case errors.Is(r.Err, ErrCancelled):
		return metrics.OutcomeCancelled
	case r.Err != nil:
		return metrics.OutcomeFailed
	case r.IsCorrect == nil:
		return metrics.OutcomeIndeterminate
	case *r.IsCorrect:
		return metrics.OutcomeCorrect
	}
	return metrics.OutcomeIncorrect
}

func logSettled(ctx context.Context, done, total int, r internal.JudgmentResponse) {
	log := clog.FromContext(ctx).
		With("model", r.Model).
		With("elapsed", r.Elapsed.Round(time.Millisecond)).
		With("attempts", r.Attempts)
	if r.Err != nil {
		log.With("error", r.Err.Error()).Warn(fmt.Sprintf("✗ [%d/%d] %s", done, total, r.Model))
		return
	}
	log.With("outcome", outcome(r)).
		With("confidence", r.Confidence).
		Info(fmt.Sprintf("✓ [%d/%d] %s", done, total, r.Model))
}
