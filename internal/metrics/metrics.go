// Package metrics exports judgment counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for JudgmentsTotal.
const (
	OutcomeCorrect       = "correct"
	OutcomeIncorrect     = "incorrect"
	OutcomeIndeterminate = "indeterminate"
	OutcomeFailed        = "failed"
	OutcomeCancelled     = "cancelled"
)

var (
	judgmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmjudger_judgments_total",
			Help: "Settled judgment tasks by outcome",
		},
		[]string{"model", "kind", "outcome"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmjudger_retries_total",
			Help: "Retries scheduled after a transient failure",
		},
		[]string{"model", "reason"},
	)

	inflight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmjudger_inflight",
			Help: "Completion calls currently holding a pool slot",
		},
		[]string{"model"},
	)

	completionSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmjudger_completion_seconds",
			Help:    "Latency of single completion calls",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"model"},
	)
)

// Recorder writes to the package collectors. The zero value is ready to use.
type Recorder struct{}

func (Recorder) Judgment(model, kind, outcome string) {
	judgmentsTotal.WithLabelValues(model, kind, outcome).Inc()
}

func (Recorder) Retry(model, reason string) {
	retriesTotal.WithLabelValues(model, reason).Inc()
}

func (Recorder) InFlight(model string, delta int) {
	inflight.WithLabelValues(model).Add(float64(delta))
}

func (Recorder) Completion(model string, d time.Duration) {
	completionSeconds.WithLabelValues(model).Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		clog.FromContext(ctx).With("addr", addr).Info("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
