package parser

import "testing"

func TestStripQuoted(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no quote",
			body: "Hello,\nhow much is it?",
			want: "Hello,\nhow much is it?",
		},
		{
			name: "gmail style",
			body: "Thanks, that works.\n\nOn Mon, 3 Jun 2024 at 10:00, Bob <bob@example.com> wrote:\n> Does Tuesday work?\n> Bob",
			want: "Thanks, that works.",
		},
		{
			name: "inline quote markers",
			body: "> earlier text\nMy answer is yes.",
			want: "My answer is yes.",
		},
		{
			name: "outlook header block",
			body: "See below.\n\nFrom: Bob <bob@example.com>\nSent: Monday, June 3, 2024\nTo: Alice\nSubject: Meeting",
			want: "See below.",
		},
		{
			name: "original message",
			body: "Ok.\n-----Original Message-----\nFrom: Bob",
			want: "Ok.",
		},
		{
			name: "only quotes",
			body: "> a\n> b",
			want: "> a\n> b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripQuoted(tt.body); got != tt.want {
				t.Errorf("StripQuoted() = %q, want %q", got, tt.want)
			}
		})
	}
}
