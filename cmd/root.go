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
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/valpere/llmjudger/internal/config"
	"github.com/valpere/llmjudger/internal/logging"
	"github.com/valpere/llmjudger/internal/telemetry"
)

var version = "0.1.0"

var (
	cfgFile string
	v       = config.NewViper()
	cfg     *config.Config
	tel     *telemetry.Telemetry
)

var rootCmd = &cobra.Command{
	Use:   "llmjudger",
	Short: "Judge sentence pairs with a fleet of LLMs",
	Long: `A CLI application that asks one or more LLMs whether a target sentence is a
correct translation, a semantic equivalent, or a well-formed rendition of a
source sentence, running many judgments concurrently.

Models are served by Ollama (default) or any OpenAI-compatible endpoint.

Use "llmjudger csv --help" to judge a whole dataset.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ReadFiles(v, cfgFile); err != nil {
			return err
		}
		var err error
		if cfg, err = config.Load(v); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, err := logging.Setup(cmd.Context(), cfg.LogLevel, cfg.Debug)
		if err != nil {
			return err
		}

		telemetry.Version = version
		if tel, err = telemetry.Init(ctx, telemetry.Config{Endpoint: cfg.OTLPEndpoint, Headers: cfg.OTLPHeaders}); err != nil {
			return err
		}
		if tel.Enabled() {
			clog.FromContext(ctx).With("endpoint", cfg.OTLPEndpoint).Info("Exporting traces")
		}

		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if tel == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), 5*time.Second)
		defer cancel()
		tel.Shutdown(ctx)
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default: ./llmjudger.yaml or ~/.config/llmjudger/llmjudger.yaml)")
	flags.String("backend", config.BackendOllama, "Completion backend: ollama or openai")
	flags.String("ollama-url", "http://localhost:11434", "Ollama base URL")
	flags.String("openai-url", "https://openrouter.ai/api/v1/", "OpenAI-compatible base URL")
	flags.String("openai-key", "", "API key for the OpenAI-compatible backend")
	flags.Int("max-concurrent", 4, "Maximum in-flight requests across all models")
	flags.Float64("timeout", 60, "Per-request timeout in seconds")
	flags.Int("max-retries", 3, "Retries after the first attempt")
	flags.Float64("retry-delay", 2, "Base retry delay in seconds (doubles per retry)")
	flags.Float64("temperature", 0.1, "Sampling temperature")
	flags.Int("max-tokens", 512, "Maximum tokens per completion")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.Bool("debug", false, "Enable debug logging")
	flags.String("db", "./data/llmjudger.db", "Database path for runs, verdict cache and checkpoints (empty disables)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address during a run (e.g. :9090)")

	bind("backend", config.KeyBackend)
	bind("ollama-url", config.KeyOllamaURL)
	bind("openai-url", config.KeyOpenAIBaseURL)
	bind("openai-key", config.KeyOpenAIAPIKey)
	bind("max-concurrent", config.KeyMaxConcurrent)
	bind("timeout", config.KeyTimeout)
	bind("max-retries", config.KeyMaxRetries)
	bind("retry-delay", config.KeyRetryBase)
	bind("temperature", config.KeyTemperature)
	bind("max-tokens", config.KeyMaxTokens)
	bind("log-level", config.KeyLogLevel)
	bind("debug", config.KeyDebug)
	bind("db", config.KeyDB)
	bind("metrics-addr", config.KeyMetricsAddr)
}

func bind(name, key string) {
	_ = v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name))
}
