package telegram

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mixelka/autoreply/internal/database"
	"github.com/mixelka/autoreply/internal/pipeline"
)

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"/status", []string{}},
		{"/send 12 force", []string{"12", "force"}},
		{"  /show   7  ", []string{"7"}},
		{"", nil},
	}
	for _, tt := range tests {
		got := commandArgs(tt.text)
		if len(got) != len(tt.want) {
			t.Errorf("commandArgs(%q) = %q, want %q", tt.text, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("commandArgs(%q) = %q, want %q", tt.text, got, tt.want)
			}
		}
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"#42", 42, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTextAfter(t *testing.T) {
	tests := []struct {
		text string
		n    int
		want string
	}{
		{"/persona 3 a calm and precise engineer", 2, "a calm and precise engineer"},
		{"/signature 3 Best regards,\nSupport team", 2, "Best regards,\nSupport team"},
		{"/signature 3", 2, ""},
		{"/signature\n3\nThanks", 2, "Thanks"},
	}
	for _, tt := range tests {
		if got := textAfter(tt.text, tt.n); got != tt.want {
			t.Errorf("textAfter(%q, %d) = %q, want %q", tt.text, tt.n, got, tt.want)
		}
	}
}

func TestParseTestMessage(t *testing.T) {
	tests := []struct {
		text    string
		subject string
		body    string
		ok      bool
	}{
		{"Pricing? | How much is the pro plan?", "Pricing?", "How much is the pro plan?", true},
		{"Pricing?|Line one\nLine | two", "Pricing?", "Line one\nLine | two", true},
		{"Just a body", "", "Just a body", true},
		{" | body only", "", "body only", true},
		{"Subject only |  ", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		subject, body, ok := parseTestMessage(tt.text)
		if ok != tt.ok || (ok && (subject != tt.subject || body != tt.body)) {
			t.Errorf("parseTestMessage(%q) = %q, %q, %v, want %q, %q, %v", tt.text, subject, body, ok, tt.subject, tt.body, tt.ok)
		}
	}
}

func TestDescribeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("failed to load message 1: %w", database.ErrNotFound), "Не найдено"},
		{pipeline.ErrOverrideRequired, "/send id force"},
		{pipeline.ErrNoDraft, "нет черновика"},
		{fmt.Errorf("%w: cannot send message in sent", pipeline.ErrInvalidTransition), "недоступно"},
		{errors.New("a <b> c"), "<code>a &lt;b&gt; c</code>"},
	}
	for _, tt := range tests {
		if got := describeError(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("describeError(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}
