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
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/valpere/llmjudger/internal"
)

var (
	okText   = color.New(color.FgGreen).SprintFunc()
	badText  = color.New(color.FgRed).SprintFunc()
	warnText = color.New(color.FgYellow).SprintFunc()
	headText = color.New(color.Bold, color.FgCyan).SprintFunc()
)

func newTable(w io.Writer, headers []string) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

func pct(n, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(n)/float64(total))
}

func conf(c float64) string {
	return strconv.FormatFloat(c, 'f', 2, 64)
}

// printSummary writes the batch headline followed by a per-model table.
func printSummary(w io.Writer, stats internal.Stats) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, headText("JUDGMENT SUMMARY"))
	fmt.Fprintf(w, "Total: %d   %s %d (%s)   %s %d (%s)   %s %d (%s)\n",
		stats.Total,
		okText("correct"), stats.Correct, pct(stats.Correct, stats.Total),
		badText("incorrect"), stats.Incorrect, pct(stats.Incorrect, stats.Total),
		warnText("indeterminate"), stats.Indeterminate, pct(stats.Indeterminate, stats.Total))
	fmt.Fprintf(w, "Mean confidence: %s   Failures: %d   Elapsed: %s\n\n",
		conf(stats.MeanConfidence), stats.Failures(), stats.Elapsed.Round(10*time.Millisecond))

	models := make([]string, 0, len(stats.ByModel))
	for m := range stats.ByModel {
		models = append(models, m)
	}
	sort.Strings(models)

	table := newTable(w, []string{"Model", "Total", "Correct", "Incorrect", "Indeterminate", "Failed", "Mean conf"})
	for _, m := range models {
		ms := stats.ByModel[m]
		_ = table.Append([]string{
			m,
			strconv.Itoa(ms.Total),
			strconv.Itoa(ms.Correct),
			strconv.Itoa(ms.Incorrect),
			strconv.Itoa(ms.Indeterminate),
			strconv.Itoa(ms.Failures),
			conf(ms.MeanConfidence),
		})
	}
	_ = table.Render()
}

// verdictLabel renders a response as a coloured one-word verdict.
func verdictLabel(r internal.JudgmentResponse) string {
	switch {
	case r.Failed():
		return badText("ERROR")
	case r.IsCorrect == nil:
		return warnText("INDETERMINATE")
	case *r.IsCorrect:
		return okText("CORRECT")
	default:
		return badText("INCORRECT")
	}
}
