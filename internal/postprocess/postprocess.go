// Package postprocess strips the wrapping that chat-tuned models put around
// an answer so the verdict parser sees only the answer itself.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean runs every phase in order and returns the trimmed result:
//  1. reasoning blocks (<think>, <thinking>, ...)
//  2. markdown code fences
//  3. answer preambles ("Here is my evaluation:")
//  4. outer quotes
func Clean(text string) string {
	text = removeThinkingBlocks(text)
	text = unwrapCodeFences(text)
	text = removePreamble(text)
	text = removeQuoteWrapping(text)
	return strings.TrimSpace(text)
}

// RE2 has no backreferences, so every tag pair is spelled out.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`,
)

// An opening tag with no close means the model ran out of tokens mid-thought.
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>|<reflection>).*$`,
)

func removeThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// codeFenceRe captures the body of a ``` or ```json fence.
var codeFenceRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*[ \t]*\n?(.*?)```")

// strayFenceRe matches a fence marker left over when the closing fence is
// missing.
var strayFenceRe = regexp.MustCompile("```[a-zA-Z0-9_-]*")

func unwrapCodeFences(text string) string {
	text = codeFenceRe.ReplaceAllString(text, "$1")
	text = strayFenceRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// Preambles are only stripped at the very start and only when they end in
// a colon, to leave real explanations alone.
var (
	courtesyRe       = regexp.MustCompile(`(?i)^(?:certainly|sure|of course|okay|ok)[,.!]?\s+`)
	preamblePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^here(?:'s| is)(?: my| the)? (?:evaluation|assessment|answer|response|verdict|json)\s*:`),
		regexp.MustCompile(`(?i)^(?:evaluation|assessment|answer|response|verdict|resposta|avalia[cç][aã]o)\s*:`),
	}
)

func removePreamble(text string) string {
	rest := text
	if loc := courtesyRe.FindStringIndex(rest); loc != nil {
		rest = rest[loc[1]:]
	}
	for _, re := range preamblePatterns {
		if loc := re.FindStringIndex(rest); loc != nil {
			return strings.TrimSpace(rest[loc[1]:])
		}
	}
	return text
}

// removeQuoteWrapping strips one matching pair of outer quotes:
//
//	"…"  '…'  «…»  “…”  ‘…’
func removeQuoteWrapping(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	first, last := runes[0], runes[n-1]
	if (first == '"' && last == '"') ||
		(first == '\'' && last == '\'') ||
		(first == '«' && last == '»') ||
		(first == '“' && last == '”') ||
		(first == '‘' && last == '’') {
		return strings.TrimSpace(string(runes[1 : n-1]))
	}
	return text
}
