// Package retry drives a bounded exponential-backoff loop as an explicit
// state machine: Attempting(k) -> Succeeded | Backoff(k) -> Attempting(k+1)
// ... -> Exhausted.
//
// The attempt function owns whatever resources it needs for a single try,
// so nothing is held while the loop sleeps between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/chainguard-dev/clog"
)

type State int

const (
	Attempting State = iota
	Backoff
	Succeeded
	Exhausted
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Backoff:
		return "backoff"
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transition is reported to observers each time the machine changes state.
// Attempt is 1-indexed. Delay is set for Backoff, Err for Backoff and
// Exhausted.
type Transition struct {
	State   State
	Attempt int
	Delay   time.Duration
	Err     error
}

type Observer func(ctx context.Context, t Transition)

// Policy bounds the loop. Total attempts are 1 + MaxRetries.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	// MaxJitter is capped just below BaseDelay so successive delays
	// keep increasing.
	MaxJitter time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
	}
}

func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if p.BaseDelay < 0 {
		return errors.New("base delay cannot be negative")
	}
	if p.MaxJitter < 0 {
		return errors.New("max jitter cannot be negative")
	}
	return nil
}

// Attempts is the maximum number of calls the policy allows.
func (p Policy) Attempts() int {
	return 1 + p.MaxRetries
}

// BaseDelayFor returns the deterministic part of the delay before retry k
// (1-indexed): BaseDelay * 2^(k-1).
func (p Policy) BaseDelayFor(k int) time.Duration {
	if k < 1 {
		return 0
	}
	return p.BaseDelay << (k - 1)
}

// Delay returns the full delay before retry k, jitter included.
func (p Policy) Delay(k int) time.Duration {
	d := p.BaseDelayFor(k)
	if d == 0 {
		return 0
	}
	limit := min(p.MaxJitter, p.BaseDelay-1)
	if limit > 0 {
		d += rand.N(limit)
	}
	return d
}

// ExhaustedError is returned once the last allowed attempt has failed with
// a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Result describes how a Run ended.
type Result struct {
	State    State
	Attempts int
	Err      error
}

// Run calls attempt until it succeeds, returns an error classify rejects,
// or the policy runs out. Cancelling ctx ends a backoff sleep early; the
// returned error then wraps both ctx.Err() and the last failure.
func Run(ctx context.Context, p Policy, classify func(error) bool, attempt func(ctx context.Context, k int) error, observers ...Observer) Result {
	notify := func(t Transition) {
		for _, o := range observers {
			o(ctx, t)
		}
	}

	var lastErr error
	for k := 1; ; k++ {
		notify(Transition{State: Attempting, Attempt: k})

		lastErr = attempt(ctx, k)
		if lastErr == nil {
			notify(Transition{State: Succeeded, Attempt: k})
			return Result{State: Succeeded, Attempts: k}
		}

		if !classify(lastErr) {
			notify(Transition{State: Exhausted, Attempt: k, Err: lastErr})
			return Result{State: Exhausted, Attempts: k, Err: lastErr}
		}

		if k >= p.Attempts() {
			err := &ExhaustedError{Attempts: k, Err: lastErr}
			notify(Transition{State: Exhausted, Attempt: k, Err: err})
			return Result{State: Exhausted, Attempts: k, Err: err}
		}

		delay := p.Delay(k)
		notify(Transition{State: Backoff, Attempt: k, Delay: delay, Err: lastErr})

		if err := sleep(ctx, delay); err != nil {
			return Result{State: Backoff, Attempts: k, Err: fmt.Errorf("%w (last error: %w)", err, lastErr)}
		}
	}
}

// LogTransitions is an Observer that logs backoffs and give-ups.
func LogTransitions(operation string) Observer {
	return func(ctx context.Context, t Transition) {
		log := clog.FromContext(ctx).With("operation", operation).With("attempt", t.Attempt)
		switch t.State {
		case Backoff:
			log.With("backoff", t.Delay).With("error", t.Err.Error()).Warn("Attempt failed, retrying")
		case Exhausted:
			log.With("error", t.Err.Error()).Warn("Giving up")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
