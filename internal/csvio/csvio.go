// Package csvio loads sentence-pair datasets from CSV files and writes the
// judgments back as extra columns.
package csvio

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/valpere/llmjudger/internal"
	"github.com/valpere/llmjudger/internal/markdown"
)

// Result columns appended by Merge.
const (
	ColResult      = "resultado"
	ColExplanation = "explicacao"
	ColConfidence  = "confianca"
	ColModel       = "modelo"
	ColTimestamp   = "timestamp"
)

const (
	LabelCorrect       = "Correto"
	LabelIncorrect     = "Incorreto"
	LabelIndeterminate = "Indeterminado"
)

const (
	refPrefix       = "csv_row_"
	timestampLayout = "2006-01-02 15:04:05"
)

type Dataset struct {
	Path     string
	Encoding string
	Header   []string
	Rows     [][]string
}

// Load reads a CSV file with a header row. Files that are not valid UTF-8
// are decoded as Windows-1252, falling back to ISO-8859-1.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input CSV: %w", err)
	}

	text, encoding, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}

	ds := &Dataset{Path: path, Encoding: encoding, Header: records[0], Rows: records[1:]}
	for i, h := range ds.Header {
		ds.Header[i] = strings.TrimSpace(h)
	}
	// Pad short rows so every cell lookup is in range.
	for i, row := range ds.Rows {
		if len(row) < len(ds.Header) {
			ds.Rows[i] = append(row, make([]string, len(ds.Header)-len(row))...)
		}
	}
	return ds, nil
}

func undefinedInWindows1252(b byte) bool {
	switch b {
	case 0x81, 0x8d, 0x8f, 0x90, 0x9d:
		return true
	}
	return false
}

func decode(data []byte) (string, string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data), "utf-8", nil
	}
	// The charmap decoder maps the five bytes Windows-1252 leaves undefined
	// to C1 controls instead of failing, so they are checked here. Input
	// carrying any of them is read as ISO-8859-1.
	if !slices.ContainsFunc(data, undefinedInWindows1252) {
		out, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return "", "", err
		}
		return string(out), "windows-1252", nil
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", err
	}
	return string(out), "iso-8859-1", nil
}

// ColumnIndex returns the position of a header column or -1.
func (d *Dataset) ColumnIndex(name string) int {
	return slices.Index(d.Header, strings.TrimSpace(name))
}

// Column returns every value of a column.
func (d *Dataset) Column(name string) ([]string, error) {
	idx := d.ColumnIndex(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found (available: %s)", name, strings.Join(d.Header, ", "))
	}
	out := make([]string, len(d.Rows))
	for i, row := range d.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Mapping names the dataset columns and the languages of the pair.
type Mapping struct {
	Source         string
	Target         string
	Context        string
	SourceLanguage string
	TargetLanguage string
}

func (d *Dataset) validate(m Mapping) (src, tgt, ctx int, err error) {
	if src = d.ColumnIndex(m.Source); src < 0 {
		return 0, 0, 0, fmt.Errorf("source column %q not found (available: %s)", m.Source, strings.Join(d.Header, ", "))
	}
	if tgt = d.ColumnIndex(m.Target); tgt < 0 {
		return 0, 0, 0, fmt.Errorf("target column %q not found (available: %s)", m.Target, strings.Join(d.Header, ", "))
	}
	ctx = -1
	if m.Context != "" {
		if ctx = d.ColumnIndex(m.Context); ctx < 0 {
			return 0, 0, 0, fmt.Errorf("context column %q not found", m.Context)
		}
	}
	return src, tgt, ctx, nil
}

func blank(s string) bool {
	return s == "" || strings.EqualFold(s, "nan")
}

// Pairs extracts one sentence pair per data row, skipping rows whose source
// or target is empty or "nan". ReferenceID is "csv_row_<n>" with n the
// 1-based data row number.
func (d *Dataset) Pairs(m Mapping) ([]internal.SentencePair, error) {
	src, tgt, ctxCol, err := d.validate(m)
	if err != nil {
		return nil, err
	}

	var pairs []internal.SentencePair
	for i, row := range d.Rows {
		source, target := strings.TrimSpace(row[src]), strings.TrimSpace(row[tgt])
		if blank(source) || blank(target) {
			continue
		}
		p := internal.SentencePair{
			SourceText:     source,
			TargetText:     target,
			SourceLanguage: m.SourceLanguage,
			TargetLanguage: m.TargetLanguage,
			ReferenceID:    refPrefix + strconv.Itoa(i+1),
		}
		if ctxCol >= 0 {
			if c := strings.TrimSpace(row[ctxCol]); !blank(c) {
				p.Context = c
			}
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// RowIndex maps a ReferenceID produced by Pairs back to its 0-based row.
func RowIndex(referenceID string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(referenceID, refPrefix))
	if err != nil || !strings.HasPrefix(referenceID, refPrefix) || n < 1 {
		return 0, false
	}
	return n - 1, true
}

// Best picks the response reported for a row: the determinate one with the
// highest confidence, else the first.
func Best(responses []internal.JudgmentResponse) (internal.JudgmentResponse, bool) {
	if len(responses) == 0 {
		return internal.JudgmentResponse{}, false
	}
	best, found := responses[0], false
	for _, r := range responses {
		if r.IsCorrect == nil || r.Failed() {
			continue
		}
		if !found || r.Confidence > best.Confidence {
			best, found = r, true
		}
	}
	return best, true
}

// Label is the resultado cell for a response.
func Label(r internal.JudgmentResponse) string {
	switch {
	case r.IsCorrect == nil:
		return LabelIndeterminate
	case *r.IsCorrect:
		return LabelCorrect
	default:
		return LabelIncorrect
	}
}

// Merge writes the per-row best response into the result columns, adding
// them when absent. Responses whose ReferenceID does not name a row are
// ignored. It returns the number of rows written.
func (d *Dataset) Merge(responses []internal.JudgmentResponse) int {
	cols := make(map[string]int)
	for _, name := range []string{ColResult, ColExplanation, ColConfidence, ColModel, ColTimestamp} {
		idx := d.ColumnIndex(name)
		if idx < 0 {
			d.Header = append(d.Header, name)
			idx = len(d.Header) - 1
		}
		cols[name] = idx
	}
	for i, row := range d.Rows {
		if len(row) < len(d.Header) {
			d.Rows[i] = append(row, make([]string, len(d.Header)-len(row))...)
		}
	}

	byRow := make(map[int][]internal.JudgmentResponse)
	for _, r := range responses {
		if idx, ok := RowIndex(r.Pair.ReferenceID); ok && idx < len(d.Rows) {
			byRow[idx] = append(byRow[idx], r)
		}
	}

	for idx, group := range byRow {
		r, _ := Best(group)
		row := d.Rows[idx]
		row[cols[ColResult]] = Label(r)
		explanation := markdown.ToPlainText(r.Explanation)
		if r.Failed() {
			explanation = r.ErrorString()
		}
		row[cols[ColExplanation]] = explanation
		row[cols[ColConfidence]] = strconv.FormatFloat(r.Confidence, 'f', -1, 64)
		row[cols[ColModel]] = r.Model
		if !r.Timestamp.IsZero() {
			row[cols[ColTimestamp]] = r.Timestamp.Format(timestampLayout)
		}
	}
	return len(byRow)
}

// Write saves the dataset as UTF-8 CSV.
func (d *Dataset) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output CSV: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	if err := writer.Write(d.Header); err != nil {
		return fmt.Errorf("failed to write output CSV: %w", err)
	}
	if err := writer.WriteAll(d.Rows); err != nil {
		return fmt.Errorf("failed to write output CSV: %w", err)
	}
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush output CSV: %w", err)
	}
	return f.Close()
}

// DefaultOutputPath returns <dir>/<stem>_resultados<ext> for input.
func DefaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_resultados" + ext
}
