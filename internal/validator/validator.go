// Package validator flags sentence pairs whose texts do not appear to be in
// their declared languages. A mismatch is a warning; the pair is still judged.
package validator

import (
	"strings"

	"github.com/valpere/llmjudger/internal"
	"github.com/valpere/llmjudger/internal/detector"
)

// minValidationLength is the minimum rune count required to attempt language detection.
// Shorter texts produce unreliable results and are accepted without validation.
const minValidationLength = 20

// Mismatch describes one side of a pair detected in another language.
type Mismatch struct {
	ReferenceID string
	Side        string // "source" or "target"
	Declared    string
	Detected    string
}

// Validator checks texts against their declared language codes.
// The underlying language detector is expensive to build; reuse the instance.
type Validator struct {
	det *detector.Detector
}

// NewWith builds a Validator around an existing detector.
func NewWith(det *detector.Detector) *Validator {
	return &Validator{det: det}
}

// Detected returns the detected ISO code of text when it differs from lang.
// Undeclared languages, short texts and undetectable texts never mismatch.
func (v *Validator) Detected(text, lang string) (string, bool) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" || lang == detector.Auto || lang == "unknown" {
		return "", false
	}

	text = strings.TrimSpace(text)
	if len([]rune(text)) < minValidationLength {
		return "", false
	}

	detected, ok := v.det.DetectISO(text)
	if !ok || detected == lang {
		return "", false
	}
	return detected, true
}

// CheckPairs returns every language mismatch found in pairs.
func (v *Validator) CheckPairs(pairs []internal.SentencePair) []Mismatch {
	var out []Mismatch
	for _, p := range pairs {
		if got, bad := v.Detected(p.SourceText, p.SourceLanguage); bad {
			out = append(out, Mismatch{ReferenceID: p.ReferenceID, Side: "source", Declared: p.SourceLanguage, Detected: got})
		}
		if got, bad := v.Detected(p.TargetText, p.TargetLanguage); bad {
			out = append(out, Mismatch{ReferenceID: p.ReferenceID, Side: "target", Declared: p.TargetLanguage, Detected: got})
		}
	}
	return out
}
