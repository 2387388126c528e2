// Package completion issues single prompt-completion calls against an
// inference backend. Clients make exactly one attempt per call and never
// retry; callers decide what to do with a failure.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// DefaultTimeout bounds a call when neither the options nor the client set one.
const DefaultTimeout = 60 * time.Second

// Options carries the sampling parameters and the per-call timeout.
type Options struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// Format is passed through to backends that support constrained output:
	// "json" or a JSON schema document.
	Format any
}

// Client completes a prompt with the named model.
type Client interface {
	Complete(ctx context.Context, model, prompt string, opts Options) (string, error)
}

// TimeoutError reports that the backend did not answer within the call timeout.
type TimeoutError struct {
	Model   string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("completion for %s timed out after %s", e.Model, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// BackendError reports a non-success answer from the backend. Status is 0
// when the request never got an HTTP answer (connection refused, reset).
type BackendError struct {
	Model  string
	Status int
	Body   string
	Err    error
}

func (e *BackendError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("backend request for %s failed: %v", e.Model, e.Err)
	}
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d for %s", e.Status, e.Model)
	}
	return fmt.Sprintf("backend returned status %d for %s: %s", e.Status, e.Model, e.Body)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Transient reports whether the failure class is worth retrying: transport
// failures, request timeouts, throttling and server-side errors.
func (e *BackendError) Transient() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	}
	return false
}

// IsRetryable classifies errors returned by a Client.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Transient()
	}
	return false
}

func timeoutFor(opts Options, fallback time.Duration) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultTimeout
}

// classifyTransportError turns an error from the HTTP round trip into the
// package's error taxonomy. parent is the caller's context, callCtx the one
// carrying the per-call deadline.
func classifyTransportError(parent, callCtx context.Context, model string, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("completion for %s: %w", model, parent.Err())
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Model: model, Timeout: timeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Model: model, Timeout: timeout, Err: err}
	}
	return &BackendError{Model: model, Err: err}
}
