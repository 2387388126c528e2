package verdict

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"

	"github.com/valpere/llmjudger/internal"
)

// wireVerdict is the canonical shape after alias folding. It exists to
// generate the schema; decoding goes through a map so aliases and loose
// types survive.
type wireVerdict struct {
	IsCorrect   any      `json:"is_correct" jsonschema:"required,oneof_type=boolean;string"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Explanation string   `json:"explanation,omitempty"`
}

// Alias keys, in priority order, for each canonical field.
var fieldAliases = map[string][]string{
	"is_correct":  {"is_correct", "verdict", "correct", "isCorrect"},
	"confidence":  {"confidence", "confidence_score", "confidenceScore"},
	"explanation": {"explanation", "reasoning", "reason", "justification"},
}

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	r := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
	}
	raw, err := json.Marshal(r.Reflect(&wireVerdict{}))
	if err != nil {
		return nil, fmt.Errorf("marshal verdict schema: %w", err)
	}
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
})

// Schema returns the JSON schema document the strict parser validates
// against. It is also sent to backends that accept a format schema.
func Schema() map[string]any {
	r := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	raw, _ := json.Marshal(r.Reflect(&wireVerdict{}))
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	delete(out, "$schema")
	return out
}

// extractObject returns the text between the first '{' and the last '}'
// and its byte offsets in s.
func extractObject(s string) (string, int, int, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", 0, 0, false
	}
	return s[start : end+1], start, end + 1, true
}

// parseStructured returns the strict verdict when text carries a valid
// one. Otherwise it returns the text the keyword scan may look at: the
// whole input, or, when a JSON object decoded but failed validation, the
// surrounding prose plus the object's explanation values. Keys and the
// rejected verdict value are never scanned.
func parseStructured(text string) (Verdict, string, bool) {
	obj, start, end, ok := extractObject(text)
	if !ok {
		return Verdict{}, text, false
	}

	var doc map[string]any
	dec := json.NewDecoder(strings.NewReader(obj))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Verdict{}, text, false
	}

	canonical := foldAliases(doc)
	residual := text[:start] + " " + explanationText(doc) + " " + text[end:]

	schema, err := compiledSchema()
	if err != nil {
		return Verdict{}, residual, false
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(canonical))
	if err != nil || !res.Valid() {
		return Verdict{}, residual, false
	}

	isCorrect, ok := verdictValue(canonical["is_correct"])
	if !ok {
		return Verdict{}, residual, false
	}

	confidence := DefaultConfidence
	if f, ok := canonical["confidence"].(float64); ok {
		confidence = f
	}

	explanation, _ := canonical["explanation"].(string)

	return Verdict{
		IsCorrect:   internal.BoolPtr(isCorrect),
		Confidence:  NormalizeConfidence(confidence),
		Explanation: strings.TrimSpace(explanation),
		Source:      internal.SourceStructured,
	}, "", true
}

// explanationText joins the string values of every explanation alias.
func explanationText(doc map[string]any) string {
	var parts []string
	for _, alias := range fieldAliases["explanation"] {
		if s, ok := doc[alias].(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// foldAliases copies the first present alias of each field under its
// canonical name. Unknown keys are kept. A null confidence is dropped.
func foldAliases(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for canonical, aliases := range fieldAliases {
		for _, alias := range aliases {
			if alias == canonical {
				continue
			}
			delete(out, alias)
		}
		delete(out, canonical)
		for _, alias := range aliases {
			if v, ok := doc[alias]; ok && v != nil {
				out[canonical] = v
				break
			}
		}
	}
	// Numeric strings and "85%" count as confidence; anything else is
	// treated as missing.
	if c, ok := out["confidence"]; ok {
		if f, ok := toFloat(c); ok {
			out["confidence"] = f
		} else {
			delete(out, "confidence")
		}
	}
	return out
}

var (
	trueWords  = []string{"true", "yes", "correct", "correto", "correta", "sim", "verdadeiro", "equivalent", "equivalente"}
	falseWords = []string{"false", "no", "incorrect", "incorreto", "incorreta", "não", "nao", "falso", "not equivalent", "não equivalente"}
)

func verdictValue(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		for _, w := range falseWords {
			if s == w {
				return false, true
			}
		}
		for _, w := range trueWords {
			if s == w {
				return true, true
			}
		}
	}
	return false, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, finite(t)
	case json.Number:
		f, err := t.Float64()
		return f, err == nil && finite(f)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
		return f, err == nil && finite(f)
	}
	return 0, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
