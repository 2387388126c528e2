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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/llmjudger/internal/completion"
	"github.com/valpere/llmjudger/internal/config"
)

const probePrompt = `Reply with the JSON object {"status": "ok"} and nothing else.`

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect the models available on the backend",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List models installed on the Ollama server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Backend != config.BackendOllama {
			return fmt.Errorf("listing models is only supported for the %s backend", config.BackendOllama)
		}
		client := completion.NewOllamaClient(cfg.OllamaURL, cfg.Timeout)
		if err := client.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("ollama is not reachable at %s: %w", client.BaseURL(), err)
		}
		names, err := client.ListModels(cmd.Context())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No models installed.")
			return nil
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	},
}

var modelsTestCmd = &cobra.Command{
	Use:   "test <model> [model...]",
	Short: "Send a short probe prompt to each model",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := buildClient(cfg)
		failed := 0
		for _, model := range args {
			start := time.Now()
			out, err := client.Complete(cmd.Context(), model, probePrompt, completion.Options{
				Temperature: 0,
				MaxTokens:   20,
				Timeout:     cfg.Timeout,
			})
			elapsed := time.Since(start).Round(time.Millisecond)
			if err != nil {
				failed++
				fmt.Printf("%s %-24s %v\n", badText("✗"), model, err)
				continue
			}
			fmt.Printf("%s %-24s %s  %q\n", okText("✓"), model, elapsed, strings.TrimSpace(out))
		}
		if failed > 0 {
			fmt.Fprintf(os.Stderr, "%d of %d models failed\n", failed, len(args))
			return fmt.Errorf("model test failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsTestCmd)
}
