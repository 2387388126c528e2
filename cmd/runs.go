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
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valpere/llmjudger/internal/csvio"
	"github.com/valpere/llmjudger/internal/store"
)

var (
	runsLimit   int
	runsVerbose bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Browse recorded judgment runs",
	Long:  `List, inspect and summarise the runs recorded in the SQLite database.`,
}

func mustStore() (*store.Store, error) {
	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, fmt.Errorf("no database configured (--db)")
	}
	return db, nil
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := mustStore()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		table := newTable(os.Stdout, []string{"ID", "Created", "Kind", "Models", "Status", "Total", "Correct", "Incorrect", "Indet.", "Failed"})
		for _, r := range runs {
			_ = table.Append([]string{
				r.ID,
				r.CreatedAt.Format("2006-01-02 15:04"),
				string(r.Kind),
				strings.Join(r.Models, ","),
				r.Status,
				strconv.Itoa(r.Stats.Total),
				strconv.Itoa(r.Stats.Correct),
				strconv.Itoa(r.Stats.Incorrect),
				strconv.Itoa(r.Stats.Indeterminate),
				strconv.Itoa(r.Failures),
			})
		}
		return table.Render()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the judgments of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := mustStore()
		if err != nil {
			return err
		}
		defer db.Close()

		run, err := db.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		responses, err := db.RunJudgments(cmd.Context(), run.ID)
		if err != nil {
			return fmt.Errorf("failed to load judgments: %w", err)
		}

		fmt.Println(headText("Run " + run.ID))
		fmt.Printf("Kind: %s   Input: %s   Status: %s   Created: %s\n\n",
			run.Kind, orDash(run.InputFile), run.Status, run.CreatedAt.Format("2006-01-02 15:04:05"))

		table := newTable(os.Stdout, []string{"#", "Ref", "Model", "Verdict", "Conf", "Source", "Explanation"})
		for i, r := range responses {
			explanation := r.Explanation
			if r.Failed() {
				explanation = r.ErrorString()
			}
			if !runsVerbose {
				explanation = snippet(explanation, 60)
			}
			_ = table.Append([]string{
				strconv.Itoa(i),
				r.Pair.ReferenceID,
				r.Model,
				csvio.Label(r),
				conf(r.Confidence),
				string(r.Source),
				explanation,
			})
		}
		return table.Render()
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics over all runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := mustStore()
		if err != nil {
			return err
		}
		defer db.Close()

		sum, err := db.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		fmt.Printf("Runs:          %d (%d completed)\n", sum.Runs, sum.CompletedRuns)
		fmt.Printf("Judgments:     %d\n", sum.Judgments)
		fmt.Printf("Cache entries: %d (%d hits)\n\n", sum.CacheEntries, sum.CacheHits)

		table := newTable(os.Stdout, []string{"Model", "Total", "Correct", "Incorrect", "Indet.", "Failed", "Mean conf", "Mean latency"})
		for _, m := range sum.Models {
			_ = table.Append([]string{
				m.Model,
				strconv.Itoa(m.Total),
				strconv.Itoa(m.Correct),
				strconv.Itoa(m.Incorrect),
				strconv.Itoa(m.Indeterminate),
				strconv.Itoa(m.Failures),
				conf(m.MeanConfidence),
				m.MeanLatency.String(),
			})
		}
		return table.Render()
	},
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show (0 = all)")
	runsShowCmd.Flags().BoolVarP(&runsVerbose, "verbose", "v", false, "Show full explanations")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
}
