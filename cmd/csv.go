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
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"github.com/valpere/llmjudger/internal"
	"github.com/valpere/llmjudger/internal/csvio"
	"github.com/valpere/llmjudger/internal/detector"
	"github.com/valpere/llmjudger/internal/judge"
	"github.com/valpere/llmjudger/internal/store"
	"github.com/valpere/llmjudger/internal/validator"
)

var (
	csvInputFile  string
	csvOutputFile string
	csvSourceCol  string
	csvTargetCol  string
	csvContextCol string
	csvSourceLang string
	csvTargetLang string
	csvKind       string
	csvModels     []string
	csvNoCache    bool
	csvResume     string
	csvTotalLimit time.Duration
)

var csvCmd = &cobra.Command{
	Use:   "csv",
	Short: "Judge every sentence pair of a CSV file",
	Long: `Judge the sentence pairs stored in two columns of a CSV file with every
configured model, and write the file back with the columns resultado,
explicacao, confianca, modelo and timestamp added. When several models judge
a row, the most confident determinate verdict is written.

Rows whose source or target is empty or "nan" are skipped. Files that are not
UTF-8 are read as Windows-1252.

A checkpoint ID is printed at the start of each run. If the job is interrupted,
use --resume with that ID to skip rows already judged by every model.

Example:
  llmjudger csv -i pares.csv --source-col original --target-col traducao -m llama3.1:8b=2
  llmjudger csv -i pares.csv --source-col pt --target-col en --resume cp_1a2b3c4d`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := clog.FromContext(ctx)

		if csvOutputFile == "" {
			csvOutputFile = csvio.DefaultOutputPath(csvInputFile)
		}
		if csvInputFile == csvOutputFile {
			return fmt.Errorf("input file and output file cannot be the same")
		}

		kind, err := internal.ParseEvaluationKind(csvKind)
		if err != nil {
			return err
		}
		models, err := resolveModels(csvModels, cfg)
		if err != nil {
			return err
		}

		ds, err := csvio.Load(csvInputFile)
		if err != nil {
			return err
		}
		log.With("rows", len(ds.Rows)).With("encoding", ds.Encoding).Info("Loaded CSV")

		det := detector.New()
		mapping := csvio.Mapping{Source: csvSourceCol, Target: csvTargetCol, Context: csvContextCol}
		if mapping.SourceLanguage, err = resolveColumnLanguage(det, ds, csvSourceCol, csvSourceLang); err != nil {
			return err
		}
		if mapping.TargetLanguage, err = resolveColumnLanguage(det, ds, csvTargetCol, csvTargetLang); err != nil {
			return err
		}

		pairs, err := ds.Pairs(mapping)
		if err != nil {
			return err
		}
		if len(pairs) == 0 {
			return fmt.Errorf("no valid sentence pairs in %s", csvInputFile)
		}
		for _, m := range validator.NewWith(det).CheckPairs(pairs) {
			log.With("row", m.ReferenceID).
				With("side", m.Side).
				With("declared", m.Declared).
				With("detected", m.Detected).
				Warn("Language mismatch")
		}
		fmt.Fprintf(os.Stderr, "Judging %d pairs (%s -> %s) with %d models\n",
			len(pairs), mapping.SourceLanguage, mapping.TargetLanguage, len(models))

		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}

		checkpointID, done, err := openCheckpoint(ctx, db, kind, models)
		if err != nil {
			return err
		}
		pending, resumed := splitResumed(pairs, models, done)
		if len(resumed) > 0 {
			fmt.Fprintf(os.Stderr, "Resuming checkpoint %s (%d rows already judged)\n", checkpointID, len(resumed)/len(models))
		}

		startMetrics(ctx, cfg.MetricsAddr)

		var opts []judge.Option
		if checkpointID != "" {
			opts = append(opts, judge.WithProgress(func(_, _ int, r internal.JudgmentResponse) {
				if idx, ok := csvio.RowIndex(r.Pair.ReferenceID); ok {
					if err := db.SaveCSVRow(context.WithoutCancel(ctx), checkpointID, idx, r); err != nil {
						log.With("row", idx).With("error", err.Error()).Warn("Failed to save checkpoint row")
					}
				}
			}))
		}

		runCtx := ctx
		if csvTotalLimit > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, csvTotalLimit)
			defer cancel()
		}

		result := &internal.BatchResult{}
		if len(pending) > 0 {
			j := buildJudger(cfg, buildClient(cfg), db, !csvNoCache, opts...)
			if result, err = j.JudgeBatch(runCtx, pending, models, kind); err != nil {
				return err
			}
		}

		all := append(append([]internal.JudgmentResponse{}, resumed...), result.Responses...)
		stats := judge.ComputeStats(all)
		stats.Elapsed = result.Stats.Elapsed

		written := ds.Merge(all)
		if err := ds.Write(csvOutputFile); err != nil {
			return err
		}

		runID := recordRun(ctx, db, kind, csvInputFile, models, &internal.BatchResult{Responses: all, Stats: stats})
		if checkpointID != "" && runCtx.Err() == nil {
			if err := db.CompleteCSVCheckpoint(context.WithoutCancel(ctx), checkpointID); err != nil {
				log.With("error", err.Error()).Warn("Failed to complete checkpoint")
			}
		}

		printSummary(os.Stdout, stats)
		fmt.Printf("\n%d rows written to %s\n", written, csvOutputFile)
		if runID != "" {
			fmt.Printf("Run ID: %s\n", runID)
		}
		if err := runCtx.Err(); err != nil {
			return fmt.Errorf("run interrupted (%w); resume with --resume %s", err, checkpointID)
		}
		return nil
	},
}

func resolveColumnLanguage(det *detector.Detector, ds *csvio.Dataset, column, lang string) (string, error) {
	if lang != detector.Auto {
		return lang, nil
	}
	values, err := ds.Column(column)
	if err != nil {
		return "", err
	}
	resolved := det.Resolve(lang, values)
	fmt.Fprintf(os.Stderr, "Detected language of %s: %s\n", column, resolved)
	return resolved, nil
}

// openCheckpoint loads the checkpoint named by --resume or creates a new one.
// It returns "" when no database is configured.
func openCheckpoint(ctx context.Context, db *store.Store, kind internal.EvaluationKind, models []internal.ModelConfig) (string, map[int]map[string]internal.JudgmentResponse, error) {
	if db == nil {
		if csvResume != "" {
			return "", nil, fmt.Errorf("--resume requires a database (--db)")
		}
		return "", nil, nil
	}

	if csvResume != "" {
		cp, err := db.GetCSVCheckpoint(ctx, csvResume)
		if err != nil {
			return "", nil, fmt.Errorf("failed to load checkpoint: %w", err)
		}
		if cp.InputFile != csvInputFile || cp.Kind != kind {
			return "", nil, fmt.Errorf("checkpoint %s was created for %s (%s), not %s (%s)", cp.ID, cp.InputFile, cp.Kind, csvInputFile, kind)
		}
		rows, err := db.GetCSVRows(ctx, cp.ID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to load checkpoint rows: %w", err)
		}
		return cp.ID, rows, nil
	}

	id, err := db.CreateCSVCheckpoint(ctx, csvInputFile, csvOutputFile, kind, modelNames(models))
	if err != nil {
		clog.FromContext(ctx).With("error", err.Error()).Warn("Failed to create checkpoint")
		return "", nil, nil
	}
	fmt.Fprintf(os.Stderr, "Checkpoint ID: %s (use --resume %s to resume if interrupted)\n", id, id)
	return id, nil, nil
}

// splitResumed separates pairs judged by every model in the checkpoint from
// those still to run.
func splitResumed(pairs []internal.SentencePair, models []internal.ModelConfig, done map[int]map[string]internal.JudgmentResponse) ([]internal.SentencePair, []internal.JudgmentResponse) {
	var (
		pending []internal.SentencePair
		resumed []internal.JudgmentResponse
	)
	for _, p := range pairs {
		idx, _ := csvio.RowIndex(p.ReferenceID)
		byModel := done[idx]
		complete := len(byModel) > 0
		for _, m := range models {
			if _, ok := byModel[m.Name]; !ok {
				complete = false
				break
			}
		}
		if !complete {
			pending = append(pending, p)
			continue
		}
		for _, m := range models {
			r := byModel[m.Name]
			r.Pair = p
			resumed = append(resumed, r)
		}
	}
	return pending, resumed
}

func init() {
	rootCmd.AddCommand(csvCmd)

	csvCmd.Flags().StringVarP(&csvInputFile, "input", "i", "", "Input CSV file (required)")
	csvCmd.Flags().StringVarP(&csvOutputFile, "output", "o", "", "Output CSV file (default: <input>_resultados.csv)")
	csvCmd.Flags().StringVar(&csvSourceCol, "source-col", "", "Column holding the source sentences (required)")
	csvCmd.Flags().StringVar(&csvTargetCol, "target-col", "", "Column holding the target sentences (required)")
	csvCmd.Flags().StringVar(&csvContextCol, "context-col", "", "Optional column with context for each pair")
	csvCmd.Flags().StringVar(&csvSourceLang, "source-lang", detector.Auto, "Source language code, or auto to detect")
	csvCmd.Flags().StringVar(&csvTargetLang, "target-lang", detector.Auto, "Target language code, or auto to detect")
	csvCmd.Flags().StringVarP(&csvKind, "kind", "k", "translation", "Evaluation kind: translation, semantic, quality")
	csvCmd.Flags().StringArrayVarP(&csvModels, "model", "m", nil, "Model as name or name=instances (repeatable)")
	csvCmd.Flags().BoolVar(&csvNoCache, "no-cache", false, "Do not read or write the verdict cache")
	csvCmd.Flags().StringVar(&csvResume, "resume", "", "Resume from checkpoint ID (printed at start of original run)")
	csvCmd.Flags().DurationVar(&csvTotalLimit, "timeout-total", 0, "Cancel the whole run after this long (0 = no limit)")

	csvCmd.MarkFlagRequired("input")
	csvCmd.MarkFlagRequired("source-col")
	csvCmd.MarkFlagRequired("target-col")
}
