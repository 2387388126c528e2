package prompt

import (
	"strings"
	"testing"

	"github.com/valpere/llmjudger/internal"
)

func TestBuild(t *testing.T) {
	pair := internal.SentencePair{
		SourceText:     "The cat sleeps.",
		TargetText:     "O gato dorme.",
		SourceLanguage: "en",
		TargetLanguage: "pt",
	}

	tests := []struct {
		kind internal.EvaluationKind
		want []string
	}{
		{internal.KindTranslation, []string{"translation evaluator", "**Original text (en):**\nThe cat sleeps.", "**Translation (pt):**\nO gato dorme."}},
		{internal.KindSemantic, []string{"semantic analysis", "**Sentence 1 (en):**", "**Sentence 2 (pt):**"}},
		{internal.KindQuality, []string{"quality assessor", "**Text 1 (en):**", "5. Completeness"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := Build(tt.kind, pair)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("prompt missing %q:\n%s", w, got)
				}
			}
			if !strings.Contains(got, `"is_correct": true`) {
				t.Error("prompt missing response format example")
			}
			if strings.Contains(got, "Additional context") {
				t.Error("context section rendered without context")
			}
		})
	}
}

func TestBuild_Context(t *testing.T) {
	got := Build(internal.KindTranslation, internal.SentencePair{
		SourceText: "bank",
		TargetText: "banco",
		Context:    "  river side  ",
	})
	if !strings.Contains(got, "**Additional context:**\nriver side\n") {
		t.Errorf("context section missing:\n%s", got)
	}
	if !strings.Contains(got, "(unknown language)") {
		t.Error("expected placeholder for missing language")
	}
}

func TestBuild_UnknownKindFallsBack(t *testing.T) {
	pair := internal.SentencePair{SourceText: "a", TargetText: "b"}
	if Build("bogus", pair) != Build(internal.KindTranslation, pair) {
		t.Error("unknown kind should render the translation template")
	}
}
