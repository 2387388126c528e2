package judge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/valpere/llmjudger/internal"
	"github.com/valpere/llmjudger/internal/completion"
	"github.com/valpere/llmjudger/internal/pool"
	"github.com/valpere/llmjudger/internal/retry"
)

type fakeClient struct {
	respond func(ctx context.Context, model, prompt string, call int32) (string, error)
	delay   time.Duration

	calls atomic.Int32

	mu        sync.Mutex
	inFlight  map[string]int
	high      map[string]int
	total     int
	highTotal int
}

func newFakeClient(respond func(ctx context.Context, model, prompt string, call int32) (string, error)) *fakeClient {
	return &fakeClient{
		respond:  respond,
		inFlight: make(map[string]int),
		high:     make(map[string]int),
	}
}

func (f *fakeClient) Complete(ctx context.Context, model, prompt string, opts completion.Options) (string, error) {
	n := f.calls.Add(1)

	f.mu.Lock()
	f.inFlight[model]++
	f.total++
	f.high[model] = max(f.high[model], f.inFlight[model])
	f.highTotal = max(f.highTotal, f.total)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight[model]--
		f.total--
		f.mu.Unlock()
	}()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.respond == nil {
		return `{"is_correct": true, "confidence": 0.9, "explanation": "ok"}`, nil
	}
	return f.respond(ctx, model, prompt, n)
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond}
}

func pairs(n int) []internal.SentencePair {
	out := make([]internal.SentencePair, n)
	for i := range out {
		out[i] = internal.SentencePair{
			SourceText:     fmt.Sprintf("source %d", i),
			TargetText:     fmt.Sprintf("alvo %d", i),
			SourceLanguage: "en",
			TargetLanguage: "pt",
		}
	}
	return out
}

func models(specs ...any) []internal.ModelConfig {
	var out []internal.ModelConfig
	for i := 0; i < len(specs); i += 2 {
		out = append(out, internal.ModelConfig{Name: specs[i].(string), Instances: specs[i+1].(int)})
	}
	return out
}

func TestJudgeBatch_EndToEnd(t *testing.T) {
	client := newFakeClient(func(_ context.Context, model, _ string, _ int32) (string, error) {
		if model == "m1" {
			return `{"is_correct": true, "confidence": 0.9, "explanation": "fine"}`, nil
		}
		return "```json\n{\"is_correct\": false, \"confidence_score\": 0.8, \"reasoning\": \"off\"}\n```", nil
	})
	j := New(client, WithPolicy(fastPolicy()))

	res, err := j.JudgeBatch(context.Background(), pairs(2), models("m1", 1, "m2", 1), internal.KindTranslation)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Responses) != 4 {
		t.Fatalf("expected 4 responses, got %d", len(res.Responses))
	}

	wantModels := []string{"m1", "m2", "m1", "m2"}
	for i, r := range res.Responses {
		if r.Model != wantModels[i] {
			t.Errorf("response %d: model %s, want %s", i, r.Model, wantModels[i])
		}
		if r.Err != nil {
			t.Errorf("response %d: unexpected error %v", i, r.Err)
		}
		if r.Source != internal.SourceStructured {
			t.Errorf("response %d: source %s, want structured", i, r.Source)
		}
		if r.Attempts != 1 {
			t.Errorf("response %d: attempts %d, want 1", i, r.Attempts)
		}
	}
	if res.Responses[2].Pair.SourceText != "source 1" {
		t.Errorf("expected pair-major order, got %q at index 2", res.Responses[2].Pair.SourceText)
	}

	s := res.Stats
	if s.Total != 4 || s.Correct != 2 || s.Incorrect != 2 || s.Indeterminate != 0 {
		t.Errorf("unexpected counts: %+v", s)
	}
	if diff := s.MeanConfidence - 0.85; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("mean confidence = %v, want 0.85", s.MeanConfidence)
	}
	if s.Failures() != 0 {
		t.Errorf("expected no failures, got %v", s.FailuresByModel)
	}
	if client.calls.Load() != 4 {
		t.Errorf("expected 4 backend calls, got %d", client.calls.Load())
	}
}

func TestJudgeBatch_PreservesOrder(t *testing.T) {
	// Earlier tasks finish last.
	client := newFakeClient(func(_ context.Context, _ string, prompt string, _ int32) (string, error) {
		var idx int
		fmt.Sscanf(prompt[strings.Index(prompt, "source "):], "source %d", &idx)
		time.Sleep(time.Duration(10-idx) * 2 * time.Millisecond)
		return `{"is_correct": true, "confidence": 0.5}`, nil
	})
	j := New(client, WithPolicy(fastPolicy()), WithMaxConcurrent(10))

	ps := pairs(10)
	res, err := j.JudgeBatch(context.Background(), ps, models("m", 10), internal.KindSemantic)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range res.Responses {
		if r.Pair != ps[i] {
			t.Errorf("response %d holds pair %q", i, r.Pair.SourceText)
		}
		if r.Kind != internal.KindSemantic {
			t.Errorf("response %d: kind %s", i, r.Kind)
		}
	}
}

func TestJudgeBatch_ConcurrencyCeilings(t *testing.T) {
	client := newFakeClient(nil)
	client.delay = 5 * time.Millisecond
	j := New(client, WithPolicy(fastPolicy()), WithMaxConcurrent(4))

	res, err := j.JudgeBatch(context.Background(), pairs(20), models("a", 2, "b", 3), internal.KindTranslation)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Responses) != 40 {
		t.Fatalf("expected 40 responses, got %d", len(res.Responses))
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if client.high["a"] > 2 {
		t.Errorf("model a exceeded its 2 instances: %d", client.high["a"])
	}
	if client.high["b"] > 3 {
		t.Errorf("model b exceeded its 3 instances: %d", client.high["b"])
	}
	if client.highTotal > 4 {
		t.Errorf("global ceiling of 4 exceeded: %d", client.highTotal)
	}
	if client.highTotal < 2 {
		t.Errorf("expected calls to overlap, high water %d", client.highTotal)
	}
}

func TestJudgeBatch_RetryExhaustion(t *testing.T) {
	client := newFakeClient(func(_ context.Context, model, _ string, _ int32) (string, error) {
		return "", &completion.BackendError{Model: model, Status: http.StatusServiceUnavailable}
	})
	j := New(client, WithPolicy(retry.Policy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond}))

	start := time.Now()
	res, err := j.JudgeBatch(context.Background(), pairs(1), models("m", 1), internal.KindTranslation)
	if err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	r := res.Responses[0]
	if r.IsCorrect != nil {
		t.Error("expected nil verdict after exhaustion")
	}
	if r.Confidence != 0 {
		t.Errorf("expected confidence 0, got %v", r.Confidence)
	}
	var be *completion.BackendError
	if !errors.As(r.Err, &be) {
		t.Fatalf("expected BackendError, got %v", r.Err)
	}
	var ee *retry.ExhaustedError
	if !errors.As(r.Err, &ee) {
		t.Errorf("expected ExhaustedError, got %v", r.Err)
	}
	if r.Attempts != 4 || client.calls.Load() != 4 {
		t.Errorf("expected 4 attempts, got %d (calls %d)", r.Attempts, client.calls.Load())
	}
	if elapsed < 70*time.Millisecond {
		t.Errorf("expected backoff of at least 70ms, took %s", elapsed)
	}
	if res.Stats.FailuresByModel["m"] != 1 || res.Stats.Indeterminate != 1 {
		t.Errorf("unexpected stats %+v", res.Stats)
	}
}

func TestJudgeBatch_RecoversAfterTransientFailures(t *testing.T) {
	client := newFakeClient(func(_ context.Context, model, _ string, call int32) (string, error) {
		switch call {
		case 1:
			return "", &completion.TimeoutError{Model: model, Timeout: time.Second}
		case 2:
			return "<think>still thinking", nil
		}
		return `{"is_correct": false, "confidence": 0.7}`, nil
	})
	j := New(client, WithPolicy(fastPolicy()))

	res, err := j.JudgeBatch(context.Background(), pairs(1), models("m", 1), internal.KindTranslation)
	if err != nil {
		t.Fatal(err)
	}
	r := res.Responses[0]
	if r.Err != nil {
		t.Fatalf("unexpected error %v", r.Err)
	}
	if r.IsCorrect == nil || *r.IsCorrect {
		t.Errorf("expected incorrect verdict, got %v", r.IsCorrect)
	}
	if r.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", r.Attempts)
	}
}

func TestJudgeBatch_PermanentFailureNotRetried(t *testing.T) {
	client := newFakeClient(func(_ context.Context, model, _ string, _ int32) (string, error) {
		if model == "missing" {
			return "", &completion.BackendError{Model: model, Status: http.StatusNotFound, Body: "model not found"}
		}
		return `{"is_correct": true, "confidence": 1}`, nil
	})
	j := New(client, WithPolicy(fastPolicy()))

	res, err := j.JudgeBatch(context.Background(), pairs(1), models("missing", 1, "ok", 1), internal.KindTranslation)
	if err != nil {
		t.Fatal(err)
	}
	if res.Responses[0].Attempts != 1 || res.Responses[0].Err == nil {
		t.Errorf("expected single failed attempt, got %+v", res.Responses[0])
	}
	if res.Responses[1].Err != nil || res.Responses[1].IsCorrect == nil {
		t.Errorf("sibling task should succeed, got %+v", res.Responses[1])
	}
	if client.calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", client.calls.Load())
	}
}

func TestJudgeBatch_HeuristicAndIndeterminate(t *testing.T) {
	client := newFakeClient(func(_ context.Context, model, _ string, _ int32) (string, error) {
		if model == "chatty" {
			return "I think the translation is correct.", nil
		}
		return "lorem ipsum", nil
	})
	j := New(client, WithPolicy(fastPolicy()))

	res, err := j.JudgeBatch(context.Background(), pairs(1), models("chatty", 1, "noisy", 1), internal.KindTranslation)
	if err != nil {
		t.Fatal(err)
	}
	h, n := res.Responses[0], res.Responses[1]
	if h.Source != internal.SourceHeuristic || h.IsCorrect == nil || !*h.IsCorrect || h.Confidence != 0.3 {
		t.Errorf("unexpected heuristic response %+v", h)
	}
	if n.Source != internal.SourceIndeterminate || n.IsCorrect != nil || n.Err != nil {
		t.Errorf("unexpected indeterminate response %+v", n)
	}
	if res.Stats.MeanConfidence != 0.3 {
		t.Errorf("mean confidence should skip indeterminate responses, got %v", res.Stats.MeanConfidence)
	}
}

func TestJudgeBatch_Cancellation(t *testing.T) {
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	client := newFakeClient(func(ctx context.Context, _ string, _ string, _ int32) (string, error) {
		started <- struct{}{}
		<-release
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return `{"is_correct": true, "confidence": 0.6}`, nil
	})
	j := New(client, WithPolicy(fastPolicy()))

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		res *internal.BatchResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := j.JudgeBatch(ctx, pairs(3), models("m", 1), internal.KindTranslation)
		done <- result{res, err}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("no call started")
	}
	cancel()
	// The in-flight call must outlive the batch signal.
	time.Sleep(10 * time.Millisecond)
	close(release)

	var out result
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not finish after cancellation")
	}
	if out.err != nil {
		t.Fatalf("unexpected error: %v", out.err)
	}
	if len(out.res.Responses) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(out.res.Responses))
	}

	var settled, cancelled int
	for _, r := range out.res.Responses {
		switch {
		case r.Err == nil:
			settled++
			if r.IsCorrect == nil || !*r.IsCorrect {
				t.Errorf("in-flight call should keep its verdict, got %+v", r)
			}
		case errors.Is(r.Err, ErrCancelled):
			cancelled++
			if !errors.Is(r.Err, context.Canceled) {
				t.Errorf("expected context.Canceled in chain, got %v", r.Err)
			}
			if r.IsCorrect != nil {
				t.Error("cancelled task must have nil verdict")
			}
		default:
			t.Errorf("unexpected error %v", r.Err)
		}
	}
	if settled != 1 || cancelled != 2 {
		t.Errorf("expected 1 settled and 2 cancelled, got %d and %d", settled, cancelled)
	}
	if client.calls.Load() != 1 {
		t.Errorf("expected a single backend call, got %d", client.calls.Load())
	}
}

func TestJudgeBatch_SetupErrors(t *testing.T) {
	j := New(newFakeClient(nil))
	ctx := context.Background()

	tests := []struct {
		name    string
		pairs   []internal.SentencePair
		configs []internal.ModelConfig
		kind    internal.EvaluationKind
	}{
		{"no pairs", nil, models("m", 1), internal.KindTranslation},
		{"no models", pairs(1), nil, internal.KindTranslation},
		{"bad instances", pairs(1), models("m", 0), internal.KindTranslation},
		{"bad kind", pairs(1), models("m", 1), "poetry"},
		{"empty pair", []internal.SentencePair{{SourceText: "x"}}, models("m", 1), internal.KindTranslation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := j.JudgeBatch(ctx, tt.pairs, tt.configs, tt.kind)
			if err == nil {
				t.Fatal("expected setup error")
			}
			if res != nil {
				t.Error("expected nil result on setup error")
			}
		})
	}

	_, err := j.JudgeBatch(ctx, pairs(1), nil, internal.KindTranslation)
	var ce *pool.ConfigError
	if !errors.As(err, &ce) {
		t.Errorf("expected ConfigError for empty model list, got %v", err)
	}
}

func TestJudgeOne(t *testing.T) {
	client := newFakeClient(nil)
	pair := pairs(1)[0]

	r := New(client).JudgeOne(context.Background(), pair, "m", internal.KindTranslation)
	var ce *pool.ConfigError
	if !errors.As(r.Err, &ce) {
		t.Fatalf("expected ConfigError without pool, got %v", r.Err)
	}

	p, err := pool.New(models("m", 1), 1)
	if err != nil {
		t.Fatal(err)
	}
	j := New(client, WithPool(p), WithPolicy(fastPolicy()))

	r = j.JudgeOne(context.Background(), pair, "m", internal.KindQuality)
	if r.Err != nil || r.IsCorrect == nil || !*r.IsCorrect {
		t.Fatalf("unexpected response %+v", r)
	}
	if r.Kind != internal.KindQuality || r.Model != "m" {
		t.Errorf("response not labelled: %+v", r)
	}

	r = j.JudgeOne(context.Background(), pair, "other", internal.KindTranslation)
	if !errors.As(r.Err, &ce) {
		t.Errorf("expected ConfigError for unknown model, got %v", r.Err)
	}
	if r.Attempts != 1 {
		t.Errorf("config errors must not be retried, got %d attempts", r.Attempts)
	}
	if client.calls.Load() != 1 {
		t.Errorf("expected 1 backend call, got %d", client.calls.Load())
	}

	r = j.JudgeOne(context.Background(), pair, "m", internal.EvaluationKind("grammar"))
	if !errors.As(r.Err, &ce) || r.IsCorrect != nil {
		t.Errorf("expected ConfigError for unknown kind, got %+v", r)
	}

	r = j.JudgeOne(context.Background(), internal.SentencePair{SourceText: "  ", TargetText: "alvo"}, "m", internal.KindTranslation)
	if !errors.As(r.Err, &ce) {
		t.Errorf("expected ConfigError for blank source, got %v", r.Err)
	}
	if client.calls.Load() != 1 {
		t.Errorf("invalid requests reached the backend: %d calls", client.calls.Load())
	}
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]internal.JudgmentResponse
	saves   int
}

func cacheKey(pair internal.SentencePair, model string, kind internal.EvaluationKind) string {
	return pair.SourceText + "|" + pair.TargetText + "|" + pair.Context + "|" + model + "|" + string(kind)
}

func (c *memCache) LookupVerdict(_ context.Context, pair internal.SentencePair, model string, kind internal.EvaluationKind) (internal.JudgmentResponse, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[cacheKey(pair, model, kind)]
	return r, ok, nil
}

func (c *memCache) SaveVerdict(_ context.Context, resp internal.JudgmentResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(resp.Pair, resp.Model, resp.Kind)] = resp
	c.saves++
	return nil
}

func TestJudgeBatch_Cache(t *testing.T) {
	client := newFakeClient(nil)
	cache := &memCache{entries: make(map[string]internal.JudgmentResponse)}
	j := New(client, WithPolicy(fastPolicy()), WithCache(cache))

	ps := pairs(2)
	if _, err := j.JudgeBatch(context.Background(), ps, models("m", 1), internal.KindTranslation); err != nil {
		t.Fatal(err)
	}
	if cache.saves != 2 || client.calls.Load() != 2 {
		t.Fatalf("expected 2 saves and 2 calls, got %d and %d", cache.saves, client.calls.Load())
	}

	res, err := j.JudgeBatch(context.Background(), ps, models("m", 1), internal.KindTranslation)
	if err != nil {
		t.Fatal(err)
	}
	if client.calls.Load() != 2 {
		t.Errorf("cached tasks must not call the backend, got %d calls", client.calls.Load())
	}
	for i, r := range res.Responses {
		if r.Source != internal.SourceCache {
			t.Errorf("response %d: source %s, want cache", i, r.Source)
		}
		if r.IsCorrect == nil || !*r.IsCorrect {
			t.Errorf("response %d: cached verdict lost", i)
		}
	}
}

func TestJudgeBatch_Progress(t *testing.T) {
	var seen []int
	var total int
	j := New(newFakeClient(nil), WithPolicy(fastPolicy()), WithProgress(func(done, n int, _ internal.JudgmentResponse) {
		seen = append(seen, done)
		total = n
	}))

	if _, err := j.JudgeBatch(context.Background(), pairs(3), models("a", 2, "b", 1), internal.KindTranslation); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4, 5, 6}, seen); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	if total != 6 {
		t.Errorf("expected total 6, got %d", total)
	}
}

func TestJudgeBatch_ModelOverrides(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]completion.Options{}
	client := completionFunc(func(_ context.Context, model, _ string, opts completion.Options) (string, error) {
		mu.Lock()
		seen[model] = opts
		mu.Unlock()
		return `{"is_correct": true}`, nil
	})

	hot := 0.7
	configs := []internal.ModelConfig{
		{Name: "default", Instances: 1},
		{Name: "tuned", Instances: 1, Temperature: &hot, MaxTokens: 64},
	}
	j := New(client, WithPolicy(fastPolicy()), WithSampling(0.2, 256), WithTimeout(3*time.Second))
	if _, err := j.JudgeBatch(context.Background(), pairs(1), configs, internal.KindTranslation); err != nil {
		t.Fatal(err)
	}

	want := map[string]completion.Options{
		"default": {Temperature: 0.2, MaxTokens: 256, Timeout: 3 * time.Second, Format: "json"},
		"tuned":   {Temperature: 0.7, MaxTokens: 64, Timeout: 3 * time.Second, Format: "json"},
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
}

type completionFunc func(ctx context.Context, model, prompt string, opts completion.Options) (string, error)

func (f completionFunc) Complete(ctx context.Context, model, prompt string, opts completion.Options) (string, error) {
	return f(ctx, model, prompt, opts)
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	retries  int
	inflight int
}

func (o *countingObserver) Judgment(_, _, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *countingObserver) Retry(string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func (o *countingObserver) InFlight(_ string, delta int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight += delta
}

func (o *countingObserver) Completion(string, time.Duration) {}

func TestJudgeBatch_Observer(t *testing.T) {
	client := newFakeClient(func(_ context.Context, model, _ string, call int32) (string, error) {
		if model == "flaky" {
			return "", &completion.BackendError{Model: model, Status: http.StatusTooManyRequests}
		}
		return `{"is_correct": false, "confidence": 0.4}`, nil
	})
	obs := &countingObserver{outcomes: map[string]int{}}
	j := New(client, WithPolicy(retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond}), WithObserver(obs))

	if _, err := j.JudgeBatch(context.Background(), pairs(1), models("flaky", 1, "steady", 1), internal.KindTranslation); err != nil {
		t.Fatal(err)
	}

	want := map[string]int{"failed": 1, "incorrect": 1}
	if diff := cmp.Diff(want, obs.outcomes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	if obs.retries != 2 {
		t.Errorf("expected 2 retries, got %d", obs.retries)
	}
	if obs.inflight != 0 {
		t.Errorf("in-flight gauge not balanced: %d", obs.inflight)
	}
}
