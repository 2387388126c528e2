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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/valpere/llmjudger/internal"
	"github.com/valpere/llmjudger/internal/detector"
	"github.com/valpere/llmjudger/internal/markdown"
)

var (
	judgeSource     string
	judgeTarget     string
	judgeSourceLang string
	judgeTargetLang string
	judgeContext    string
	judgeKind       string
	judgeModels     []string
	judgeNoCache    bool
	judgeJSON       bool
)

var judgeCmd = &cobra.Command{
	Use:   "judge",
	Short: "Judge a single sentence pair with one or more models",
	Long: `Ask every configured model whether the target sentence is correct with
respect to the source sentence and print one verdict per model.

Evaluation kinds:
  - translation  Is the target a correct translation of the source?
  - semantic     Do source and target mean the same thing?
  - quality      Is the target a well-formed, fluent rendition?

Example:
  llmjudger judge -s "O gato dorme" -t "The cat sleeps" --source-lang pt --target-lang en
  llmjudger judge -s "..." -t "..." --kind semantic -m llama3.1:8b=2 -m qwen3:14b`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		kind, err := internal.ParseEvaluationKind(judgeKind)
		if err != nil {
			return err
		}
		models, err := resolveModels(judgeModels, cfg)
		if err != nil {
			return err
		}

		det := detector.New()
		pair := internal.SentencePair{
			SourceText:     judgeSource,
			TargetText:     judgeTarget,
			SourceLanguage: det.Resolve(judgeSourceLang, []string{judgeSource}),
			TargetLanguage: det.Resolve(judgeTargetLang, []string{judgeTarget}),
			Context:        judgeContext,
			ReferenceID:    "cli",
		}

		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}

		startMetrics(ctx, cfg.MetricsAddr)

		j := buildJudger(cfg, buildClient(cfg), db, !judgeNoCache)
		result, err := j.JudgeBatch(ctx, []internal.SentencePair{pair}, models, kind)
		if err != nil {
			return err
		}
		runID := recordRun(ctx, db, kind, "", models, result)

		if judgeJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}

		for _, r := range result.Responses {
			fmt.Printf("%-24s %s  confidence=%s  source=%s  attempts=%d\n",
				r.Model, verdictLabel(r), conf(r.Confidence), r.Source, r.Attempts)
			switch {
			case r.Failed():
				fmt.Printf("  %s\n", r.ErrorString())
			case r.Explanation != "":
				fmt.Printf("  %s\n", markdown.ToPlainText(r.Explanation))
			}
		}
		printSummary(os.Stdout, result.Stats)
		if runID != "" {
			fmt.Printf("\nRun ID: %s\n", runID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(judgeCmd)

	judgeCmd.Flags().StringVarP(&judgeSource, "source", "s", "", "Source sentence (required)")
	judgeCmd.Flags().StringVarP(&judgeTarget, "target", "t", "", "Target sentence (required)")
	judgeCmd.Flags().StringVar(&judgeSourceLang, "source-lang", "auto", "Source language code, or auto to detect")
	judgeCmd.Flags().StringVar(&judgeTargetLang, "target-lang", "auto", "Target language code, or auto to detect")
	judgeCmd.Flags().StringVar(&judgeContext, "context", "", "Optional context shown to the model")
	judgeCmd.Flags().StringVarP(&judgeKind, "kind", "k", "translation", "Evaluation kind: translation, semantic, quality")
	judgeCmd.Flags().StringArrayVarP(&judgeModels, "model", "m", nil, "Model as name or name=instances (repeatable)")
	judgeCmd.Flags().BoolVar(&judgeNoCache, "no-cache", false, "Do not read or write the verdict cache")
	judgeCmd.Flags().BoolVar(&judgeJSON, "json", false, "Print the batch result as JSON")

	judgeCmd.MarkFlagRequired("source")
	judgeCmd.MarkFlagRequired("target")
}
