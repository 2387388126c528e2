/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/chainguard-dev/clog"

	"github.com/valpere/llmjudger/internal"
	"github.com/valpere/llmjudger/internal/completion"
	"github.com/valpere/llmjudger/internal/config"
	"github.com/valpere/llmjudger/internal/judge"
	"github.com/valpere/llmjudger/internal/metrics"
	"github.com/valpere/llmjudger/internal/store"
	"github.com/valpere/llmjudger/internal/verdict"
)

var defaultModels = []string{"llama3.1:8b", "qwen3:14b", "gemma3:12b"}

// buildClient constructs the completion backend selected by the configuration.
func buildClient(cfg *config.Config) completion.Client {
	switch cfg.Backend {
	case config.BackendOpenAI:
		return completion.NewOpenAIClient(completion.OpenAIConfig{
			BaseURL:      cfg.OpenAIBaseURL,
			APIKey:       cfg.OpenAIAPIKey,
			Timeout:      cfg.Timeout,
			ExtraHeaders: map[string]string{"X-Title": "llmjudger"},
		})
	default:
		return completion.NewOllamaClient(cfg.OllamaURL, cfg.Timeout)
	}
}

// buildJudger wires the judger to the configured policy, metrics, tracing
// and, when db is non-nil, the verdict cache.
func buildJudger(cfg *config.Config, client completion.Client, db *store.Store, useCache bool, extra ...judge.Option) *judge.Judger {
	opts := []judge.Option{
		judge.WithPolicy(cfg.Policy()),
		judge.WithSampling(cfg.Temperature, cfg.MaxTokens),
		judge.WithTimeout(cfg.Timeout),
		judge.WithMaxConcurrent(cfg.MaxConcurrent),
		judge.WithObserver(metrics.Recorder{}),
	}
	if tel != nil {
		opts = append(opts, judge.WithTracer(tel.Tracer))
	}
	if cfg.Backend == config.BackendOllama {
		// Ollama constrains decoding to the verdict schema.
		opts = append(opts, judge.WithFormat(verdict.Schema()))
	}
	if db != nil && useCache {
		opts = append(opts, judge.WithCache(db))
	}
	return judge.New(client, append(opts, extra...)...)
}

// openStore opens the configured database, or returns nil when disabled.
func openStore(cfg *config.Config) (*store.Store, error) {
	if cfg.DBPath == "" {
		return nil, nil
	}
	db, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// resolveModels prefers command-line specs, then models from the config
// file, then the built-in defaults.
func resolveModels(specs []string, cfg *config.Config) ([]internal.ModelConfig, error) {
	if len(specs) > 0 {
		return config.ParseModelSpecs(specs)
	}
	if len(cfg.Models) > 0 {
		return cfg.Models, nil
	}
	return config.ParseModelSpecs(defaultModels)
}

func modelNames(models []internal.ModelConfig) []string {
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	return names
}

// startMetrics serves /metrics in the background until ctx is done.
func startMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			clog.FromContext(ctx).With("error", err.Error()).Warn("Metrics server stopped")
		}
	}()
}

// recordRun stores a finished batch. Store errors are logged, not returned:
// the verdicts have already been produced.
func recordRun(ctx context.Context, db *store.Store, kind internal.EvaluationKind, input string, models []internal.ModelConfig, result *internal.BatchResult) string {
	if db == nil {
		return ""
	}
	log := clog.FromContext(ctx)
	ctx = context.WithoutCancel(ctx)

	runID, err := db.CreateRun(ctx, kind, input, modelNames(models))
	if err != nil {
		log.With("error", err.Error()).Warn("Failed to record run")
		return ""
	}
	if err := db.SaveBatch(ctx, runID, result.Responses); err != nil {
		log.With("run", runID).With("error", err.Error()).Warn("Failed to save judgments")
	}
	if err := db.CompleteRun(ctx, runID, result.Stats); err != nil {
		log.With("run", runID).With("error", err.Error()).Warn("Failed to complete run")
	}
	return runID
}
