package markdown

import "testing"

func TestToPlainText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  The translation is accurate.  ", "The translation is accurate."},
		{"bold", "The verb is **wrong** here.", "The verb is wrong here."},
		{"list", "Issues:\n\n- tense\n- gender agreement", "Issues: tense gender agreement"},
		{"code and entities", "Uses `café` & keeps \"meaning\".", "Uses café & keeps \"meaning\"."},
		{"heading", "# Verdict\nCorrect", "Verdict Correct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToPlainText(tt.in); got != tt.want {
				t.Errorf("ToPlainText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripHTMLTags(t *testing.T) {
	if got := StripHTMLTags("<p>a<em>b</em></p>"); got != " a b  " {
		t.Errorf("StripHTMLTags() = %q", got)
	}
}
