package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var subjectPrefix = regexp.MustCompile(`(?i)^\s*(?:re|fwd?|aw|sv|wg)\s*(?:\[\d+\])?\s*:\s*`)

// ThreadID derives a conversation key: the parent message id when the
// message is a reply, otherwise a digest of the normalized subject.
func ThreadID(inReplyTo, references, subject, accountEmail string) string {
	if id := trimAngles(inReplyTo); id != "" {
		return id
	}
	if refs := strings.Fields(references); len(refs) > 0 {
		if id := trimAngles(refs[0]); id != "" {
			return id
		}
	}

	sum := sha256.Sum256([]byte(CleanSubject(subject) + "|" + strings.ToLower(accountEmail)))
	return "subject-" + hex.EncodeToString(sum[:8])
}

// CleanSubject strips reply and forward prefixes and lowercases the subject
func CleanSubject(subject string) string {
	s := subject
	for {
		stripped := subjectPrefix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// ReplySubject prefixes "Re: " unless the subject already carries it
func ReplySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if len(s) >= 3 && strings.EqualFold(s[:3], "re:") {
		return s
	}
	return "Re: " + s
}

// References builds the References header of a reply
func References(parentReferences, parentMessageID string) string {
	refs := strings.Fields(parentReferences)
	if parentMessageID != "" {
		refs = append(refs, parentMessageID)
	}
	return strings.Join(refs, " ")
}

func trimAngles(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
