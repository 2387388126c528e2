// Package prompt renders the judgment prompt for each evaluation kind.
package prompt

import (
	"fmt"
	"strings"

	"github.com/valpere/llmjudger/internal"
)

type template struct {
	role        string
	criteria    []string
	firstLabel  string
	secondLabel string
	example     string
}

var templates = map[internal.EvaluationKind]template{
	internal.KindTranslation: {
		role: "You are an expert translation evaluator. Decide whether the translation is correct, " +
			"considering accuracy, fluency and cultural adequacy.",
		criteria: []string{
			"Check that the translation captures the original meaning",
			"Consider fluency in the target language",
			"Look for grammatical or contextual errors",
			"Take cultural and idiomatic nuances into account",
		},
		firstLabel:  "Original text",
		secondLabel: "Translation",
		example:     "The translation keeps the original meaning and reads naturally in the target language",
	},
	internal.KindSemantic: {
		role: "You are an expert in semantic analysis. Decide whether two sentences in different " +
			"languages express the same meaning, whether or not one is a literal translation of the other.",
		criteria: []string{
			"Focus on semantic equivalence, not literal translation",
			"Accept different ways of expressing the same idea",
			"Check that the communicative intent is preserved",
			"Allow for legitimate cultural variation",
		},
		firstLabel:  "Sentence 1",
		secondLabel: "Sentence 2",
		example:     "Both sentences express the same meaning and preserve the communicative intent",
	},
	internal.KindQuality: {
		role: "You are a linguistic quality assessor. Judge both texts for quality, clarity and " +
			"adequacy, regardless of how they relate to each other.",
		criteria: []string{
			"Grammar and syntax: linguistic correctness",
			"Clarity: ease of understanding",
			"Naturalness: fluency in the language",
			"Adequacy: appropriate for the context",
			"Completeness: conveys complete information",
		},
		firstLabel:  "Text 1",
		secondLabel: "Text 2",
		example:     "Both texts are grammatical, clear and natural",
	},
}

// Build renders the prompt for kind. Unknown kinds use the translation
// template.
func Build(kind internal.EvaluationKind, pair internal.SentencePair) string {
	t, ok := templates[kind]
	if !ok {
		t = templates[internal.KindTranslation]
	}

	var sb strings.Builder
	sb.WriteString(t.role)
	sb.WriteString("\n\n## Instructions\n")
	for i, c := range t.criteria {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c)
	}
	sb.WriteString("\n## Required response format\n")
	sb.WriteString("Respond ONLY with a valid JSON object. No extra text, no markdown.\n")
	fmt.Fprintf(&sb, `{
  "is_correct": true,
  "confidence": 0.85,
  "explanation": "%s"
}
`, t.example)

	sb.WriteString("\n## Data\n\n")
	fmt.Fprintf(&sb, "**%s (%s):**\n%s\n\n", t.firstLabel, languageOrUnknown(pair.SourceLanguage), pair.SourceText)
	fmt.Fprintf(&sb, "**%s (%s):**\n%s\n", t.secondLabel, languageOrUnknown(pair.TargetLanguage), pair.TargetText)
	if ctx := strings.TrimSpace(pair.Context); ctx != "" {
		fmt.Fprintf(&sb, "\n**Additional context:**\n%s\n", ctx)
	}
	sb.WriteString("\n**Answer (JSON only):**")
	return sb.String()
}

func languageOrUnknown(lang string) string {
	if strings.TrimSpace(lang) == "" {
		return "unknown language"
	}
	return lang
}
