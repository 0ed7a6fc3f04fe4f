package parser

import "testing"

func TestHTMLParserParse(t *testing.T) {
	p := NewHTMLParser()

	tests := []struct {
		name string
		html string
		want string
	}{
		{"empty", "", ""},
		{"paragraphs", "<p>Hello</p><p>World</p>", "Hello\nWorld"},
		{"drops style and script", "<style>p{}</style><script>x()</script><div>Hi</div>", "Hi"},
		{"drops blockquote history", "<div>Yes</div><blockquote>old text</blockquote>", "Yes"},
		{"invisible characters", "<p>A\u200bB</p>", "AB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(tt.html)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Parse() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTMLParserBodyPrefersText(t *testing.T) {
	p := NewHTMLParser()
	if got := p.Body("plain  text", "<p>html</p>"); got != "plain text" {
		t.Errorf("Body() = %q", got)
	}
	if got := p.Body("  ", "<p>html</p>"); got != "html" {
		t.Errorf("Body() = %q", got)
	}
}

func TestHTMLParserToHTML(t *testing.T) {
	p := NewHTMLParser()
	got := p.ToHTML("Hi <Alice>,\n\nLine one\nLine two")
	want := "<p>Hi &lt;Alice&gt;,</p>\n<p>Line one<br>Line two</p>"
	if got != want {
		t.Errorf("ToHTML() = %q, want %q", got, want)
	}
}
