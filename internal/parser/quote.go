package parser

import (
	"regexp"
	"strings"
)

var (
	wroteLine      = regexp.MustCompile(`(?i)^on\s.+\swrote:\s*$`)
	originalHeader = regexp.MustCompile(`(?i)^-{2,}\s*original message\s*-{2,}\s*$`)
	forwardHeader  = regexp.MustCompile(`(?i)^-{2,}\s*forwarded message\s*-{2,}\s*$`)
	outlookRule    = regexp.MustCompile(`^_{10,}\s*$`)
	fromHeader     = regexp.MustCompile(`(?i)^from:\s.+`)
	sentHeader     = regexp.MustCompile(`(?i)^(?:sent|date):\s.+`)
)

// StripQuoted removes quoted reply history from a plain text body.
// Returns the trimmed input when nothing but quotes would remain.
func StripQuoted(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")

	var kept []string
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isQuoteHeader(lines, i, trimmed) {
			break
		}
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, line)
	}

	out := strings.TrimSpace(strings.Join(kept, "\n"))
	if out == "" {
		return strings.TrimSpace(body)
	}
	return out
}

func isQuoteHeader(lines []string, i int, trimmed string) bool {
	switch {
	case wroteLine.MatchString(trimmed),
		originalHeader.MatchString(trimmed),
		forwardHeader.MatchString(trimmed),
		outlookRule.MatchString(trimmed):
		return true
	case fromHeader.MatchString(trimmed):
		// Outlook style header block: From: followed by Sent:/Date:
		for j := i + 1; j < len(lines) && j <= i+3; j++ {
			if sentHeader.MatchString(strings.TrimSpace(lines[j])) {
				return true
			}
		}
	}
	return false
}
