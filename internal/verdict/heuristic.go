package verdict

import (
	"regexp"
	"strings"

	"github.com/valpere/llmjudger/internal"
)

// keywordSet holds the phrases that count as evidence for each side.
// Negatives are matched and blanked out before positives are looked for, so
// "not correct" never counts as "correct".
type keywordSet struct {
	negative []*regexp.Regexp
	positive []*regexp.Regexp
}

var (
	commonNegative = []string{
		"incorrect", "not correct", "is not correct", "isn't correct", "false", "wrong",
		"incorreto", "incorreta", "não está correto", "não está correta", "não é correto", "não é correta",
		"errado", "errada", "falso", "falsa",
	}
	commonPositive = []string{
		"correct", "true", "yes",
		"correto", "correta", "verdadeiro", "verdadeira", "sim",
	}

	keywordSets = map[internal.EvaluationKind]keywordSet{
		internal.KindTranslation: compileSet(
			append([]string{
				"inaccurate", "not accurate", "mistranslated", "mistranslation",
				"does not preserve", "doesn't preserve", "fails to preserve",
				"imprecisa", "impreciso", "tradução incorreta", "não preserva",
			}, commonNegative...),
			append([]string{
				"accurate", "preserves the meaning", "faithful",
				"precisa", "fiel", "preserva o significado",
			}, commonPositive...),
		),
		internal.KindSemantic: compileSet(
			append([]string{
				"not equivalent", "not semantically equivalent", "different meaning", "different meanings",
				"meanings differ", "not the same meaning",
				"não equivalente", "não equivalentes", "não é equivalente", "não são equivalentes",
				"significado diferente", "significados diferentes", "sentido diferente",
			}, commonNegative...),
			append([]string{
				"equivalent", "semantically equivalent", "same meaning",
				"equivalente", "equivalentes", "mesmo significado", "mesmo sentido",
			}, commonPositive...),
		),
		internal.KindQuality: compileSet(
			append([]string{
				"poor quality", "low quality", "bad quality", "poor", "unacceptable", "inadequate",
				"not good", "not acceptable", "not adequate",
				"baixa qualidade", "má qualidade", "ruim", "inadequada", "inadequado", "inaceitável",
				"não é boa", "não é adequada",
			}, commonNegative...),
			append([]string{
				"good quality", "high quality", "good", "acceptable", "adequate", "excellent",
				"boa qualidade", "alta qualidade", "boa", "adequada", "adequado", "aceitável", "excelente",
			}, commonPositive...),
		),
	}
)

func compileSet(negative, positive []string) keywordSet {
	return keywordSet{negative: compilePhrases(negative), positive: compilePhrases(positive)}
}

// compilePhrases builds case-insensitive matchers with Unicode-aware word
// boundaries; RE2's \b only knows ASCII, which breaks on "não".
func compilePhrases(phrases []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(phrases))
	for _, p := range phrases {
		words := strings.Fields(p)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		out = append(out, regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(`+strings.Join(words, `\s+`)+`)(?:$|[^\p{L}\p{N}_])`))
	}
	return out
}

// blankOut replaces every match of re's first group with spaces. Adjacent
// matches can share a boundary character, so it repeats until stable.
func blankOut(text string, re *regexp.Regexp) (string, bool) {
	found := false
	for {
		loc := re.FindStringSubmatchIndex(text)
		if loc == nil {
			return text, found
		}
		found = true
		text = text[:loc[2]] + strings.Repeat(" ", loc[3]-loc[2]) + text[loc[3]:]
	}
}

// scanKeywords returns a verdict only when the evidence is one-sided.
func scanKeywords(kind internal.EvaluationKind, text string) (bool, bool) {
	set, ok := keywordSets[kind]
	if !ok {
		set = keywordSets[internal.KindTranslation]
	}

	negative := false
	for _, re := range set.negative {
		var hit bool
		text, hit = blankOut(text, re)
		negative = negative || hit
	}

	positive := false
	for _, re := range set.positive {
		if re.MatchString(text) {
			positive = true
			break
		}
	}

	switch {
	case negative && !positive:
		return false, true
	case positive && !negative:
		return true, true
	}
	return false, false
}
