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

	"github.com/spf13/cobra"
)

var (
	cacheLimit int
	cacheModel string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the verdict cache",
	Long: `List and clear the SQLite verdict cache. Determinate verdicts are cached per
normalised sentence pair, model and evaluation kind.`,
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached verdicts, most recently used first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := mustStore()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.ListCache(cmd.Context(), cacheLimit)
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No entries in the verdict cache.")
			return nil
		}

		table := newTable(os.Stdout, []string{"Model", "Kind", "Langs", "Verdict", "Conf", "Hits", "Last used", "Source text"})
		for _, e := range entries {
			verdict := "Incorreto"
			if e.IsCorrect {
				verdict = "Correto"
			}
			_ = table.Append([]string{
				e.Model,
				string(e.Kind),
				e.SourceLang + "->" + e.TargetLang,
				verdict,
				conf(e.Confidence),
				strconv.Itoa(e.Hits),
				e.LastUsed.Format("2006-01-02 15:04"),
				snippet(e.SourceText, 40),
			})
		}
		return table.Render()
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove cached verdicts (all, or one model's with --model)",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := mustStore()
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.ClearCache(cmd.Context(), cacheModel)
		if err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Printf("Cleared %d entries from the verdict cache.\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheListCmd.Flags().IntVarP(&cacheLimit, "limit", "n", 50, "Number of entries to show (0 = all)")
	cacheClearCmd.Flags().StringVar(&cacheModel, "model", "", "Only clear entries of this model")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
