// Package markdown flattens Markdown written by models into plain text for
// spreadsheet cells and terminal output.
package markdown

import (
	"bytes"
	"html"
	"strings"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

func ToHTML(md []byte) string {
	// No smartypants: quotes and dashes stay as the model wrote them.
	opts := mdhtml.RendererOptions{
		Flags: mdhtml.FlagsNone,
	}
	renderer := mdhtml.NewRenderer(opts)
	p := parser.NewWithExtensions(parser.CommonExtensions)
	doc := p.Parse(md)
	return string(markdown.Render(doc, renderer))
}

// ToPlainText renders md, drops the markup and collapses whitespace into
// single spaces. Text without Markdown syntax is returned trimmed.
func ToPlainText(md string) string {
	if !strings.ContainsAny(md, "*_`#[>|~-") {
		return strings.TrimSpace(md)
	}
	text := html.UnescapeString(StripHTMLTags(ToHTML([]byte(md))))
	return strings.Join(strings.Fields(text), " ")
}

func StripHTMLTags(htmlContent string) string {
	var result bytes.Buffer
	inTag := false

	for _, ch := range htmlContent {
		switch ch {
		case '<':
			inTag = true
		case '>':
			inTag = false
			// Block tags separate words.
			result.WriteByte(' ')
		default:
			if !inTag {
				result.WriteRune(ch)
			}
		}
	}

	return result.String()
}
