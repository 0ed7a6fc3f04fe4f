package parser

import (
	"strings"
	"testing"
)

func TestThreadID(t *testing.T) {
	tests := []struct {
		name       string
		inReplyTo  string
		references string
		subject    string
		want       string
	}{
		{"in-reply-to wins", "<parent@example.com>", "<root@example.com> <parent@example.com>", "Re: Hi", "parent@example.com"},
		{"first reference", "", "<root@example.com> <parent@example.com>", "Re: Hi", "root@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ThreadID(tt.inReplyTo, tt.references, tt.subject, "support@example.com"); got != tt.want {
				t.Errorf("ThreadID() = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("subject digest ignores reply prefixes", func(t *testing.T) {
		a := ThreadID("", "", "Pricing question", "support@example.com")
		b := ThreadID("", "", "RE: Fwd: pricing question", "support@example.com")
		if a != b {
			t.Errorf("ThreadID() = %q and %q, want equal", a, b)
		}
		if !strings.HasPrefix(a, "subject-") {
			t.Errorf("ThreadID() = %q, want subject- prefix", a)
		}
		if c := ThreadID("", "", "Pricing question", "sales@example.com"); c == a {
			t.Error("different accounts share a thread id")
		}
	})
}

func TestReplySubject(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"Pricing", "Re: Pricing"},
		{"Re: Pricing", "Re: Pricing"},
		{"RE: Pricing", "RE: Pricing"},
		{"Fwd: Pricing", "Re: Fwd: Pricing"},
		{"", "Re: "},
	}

	for _, tt := range tests {
		if got := ReplySubject(tt.subject); got != tt.want {
			t.Errorf("ReplySubject(%q) = %q, want %q", tt.subject, got, tt.want)
		}
	}
}

func TestReferences(t *testing.T) {
	if got := References("<a@x> <b@x>", "<c@x>"); got != "<a@x> <b@x> <c@x>" {
		t.Errorf("References() = %q", got)
	}
	if got := References("", "<c@x>"); got != "<c@x>" {
		t.Errorf("References() = %q", got)
	}
}
