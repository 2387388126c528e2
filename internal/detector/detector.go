// Package detector resolves the language of dataset columns declared as
// "auto".
package detector

import (
	"sort"
	"strings"

	lingua "github.com/pemistahl/lingua-go"
)

// DefaultSamples is how many non-empty cells DetectColumn inspects.
const DefaultSamples = 20

// Auto marks a language left for detection.
const Auto = "auto"

type Detector struct {
	detector lingua.LanguageDetector
}

func New() *Detector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromAllLanguages().
		Build()

	return &Detector{detector: detector}
}

// NewFrom builds a detector restricted to the given languages, which is
// faster and more accurate when the candidates are known.
func NewFrom(languages ...lingua.Language) *Detector {
	return &Detector{detector: lingua.NewLanguageDetectorBuilder().FromLanguages(languages...).Build()}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if strings.TrimSpace(text) == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectISO returns the lower-case ISO 639-1 code of text.
func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

// DetectColumn votes over up to samples non-empty texts and returns the
// most frequent ISO code. Ties go to the alphabetically first code.
func (d *Detector) DetectColumn(texts []string, samples int) (string, bool) {
	if samples <= 0 {
		samples = DefaultSamples
	}

	votes := make(map[string]int)
	seen := 0
	for _, text := range texts {
		if seen == samples {
			break
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		seen++
		if code, ok := d.DetectISO(text); ok {
			votes[code]++
		}
	}
	if len(votes) == 0 {
		return "", false
	}

	codes := make([]string, 0, len(votes))
	for code := range votes {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool {
		if votes[codes[i]] != votes[codes[j]] {
			return votes[codes[i]] > votes[codes[j]]
		}
		return codes[i] < codes[j]
	})
	return codes[0], true
}

// Resolve returns lang unchanged unless it is Auto, in which case the
// column is detected. Detection failure yields "unknown".
func (d *Detector) Resolve(lang string, texts []string) string {
	if !strings.EqualFold(lang, Auto) {
		return lang
	}
	if code, ok := d.DetectColumn(texts, DefaultSamples); ok {
		return code
	}
	return "unknown"
}
