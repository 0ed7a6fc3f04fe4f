package parser

import (
	"regexp"
	"strings"
)

// Artifact types
const (
	ArtifactReasoning   = "reasoning"
	ArtifactMarker      = "format_marker"
	ArtifactSubject     = "subject_line"
	ArtifactPreamble    = "preamble"
	ArtifactFence       = "code_fence"
	ArtifactPlaceholder = "placeholder"
)

// Artifact is a piece of generated text that does not belong in a reply
type Artifact struct {
	Type  string
	Value string
}

// CleanResult is the outcome of ArtifactDetector.Clean
type CleanResult struct {
	Text         string
	Removed      []Artifact
	Placeholders []Artifact
}

// Usable reports whether the cleaned text can be sent as is
func (r CleanResult) Usable() bool {
	return strings.TrimSpace(r.Text) != "" && len(r.Placeholders) == 0
}

// ArtifactDetector strips generation artifacts from drafted replies
type ArtifactDetector struct {
	strip        []*artifactPattern
	placeholders []*regexp.Regexp
	plainMarker  *regexp.Regexp
	htmlMarker   *regexp.Regexp
}

type artifactPattern struct {
	Type  string
	Regex *regexp.Regexp
}

// NewArtifactDetector creates a new artifact detector
func NewArtifactDetector() *ArtifactDetector {
	return &ArtifactDetector{
		strip: []*artifactPattern{
			// Reasoning blocks, closed or running to the end
			{
				Type:  ArtifactReasoning,
				Regex: regexp.MustCompile(`(?is)<think(?:ing)?>.*?(?:</think(?:ing)?>|\z)`),
			},
			// Markdown fences around the whole reply
			{
				Type:  ArtifactFence,
				Regex: regexp.MustCompile("(?m)^```[a-zA-Z]*\\s*$"),
			},
			// "Here is the reply:" and friends
			{
				Type:  ArtifactPreamble,
				Regex: regexp.MustCompile(`(?i)\A\s*(?:sure[,!.]?\s*)?(?:here is|here's|below is|certainly[,!]?\s*here is)[^\n]*(?:reply|response|draft|email)[^\n]*\n`),
			},
			// Leading subject line
			{
				Type:  ArtifactSubject,
				Regex: regexp.MustCompile(`(?i)\A\s*(?:\*\*)?subject(?:\*\*)?\s*:[^\n]*\n`),
			},
		},
		placeholders: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\[(?:your|recipient|customer|client|company|insert|sender|name)[^\]\n]*\]`),
			regexp.MustCompile(`\{\{[^}\n]*\}\}`),
			regexp.MustCompile(`(?i)<insert[^>\n]*>`),
			regexp.MustCompile(`\bXXX+\b`),
		},
		plainMarker: regexp.MustCompile(`(?im)^\s*(?:\*\*)?PLAIN_TEXT(?:\*\*)?\s*:\s*`),
		htmlMarker:  regexp.MustCompile(`(?im)^\s*(?:\*\*)?HTML(?:\*\*)?\s*:`),
	}
}

// Clean removes artifacts from raw generated text and reports placeholders left in it
func (d *ArtifactDetector) Clean(raw string) CleanResult {
	var res CleanResult
	text := strings.ReplaceAll(raw, "\r\n", "\n")

	if loc := d.plainMarker.FindStringIndex(text); loc != nil {
		res.Removed = append(res.Removed, Artifact{Type: ArtifactMarker, Value: strings.TrimSpace(text[loc[0]:loc[1]])})
		text = text[loc[1]:]
	}
	if loc := d.htmlMarker.FindStringIndex(text); loc != nil {
		res.Removed = append(res.Removed, Artifact{Type: ArtifactMarker, Value: strings.TrimSpace(text[loc[0]:])})
		text = text[:loc[0]]
	}

	for _, pattern := range d.strip {
		for _, match := range pattern.Regex.FindAllString(text, -1) {
			res.Removed = append(res.Removed, Artifact{Type: pattern.Type, Value: strings.TrimSpace(match)})
		}
		text = pattern.Regex.ReplaceAllString(text, "")
	}

	res.Text = strings.TrimSpace(text)
	res.Placeholders = d.Placeholders(res.Text)
	return res
}

// Placeholders finds template slots the generator left unfilled
func (d *ArtifactDetector) Placeholders(text string) []Artifact {
	var found []Artifact
	seen := make(map[string]bool)

	for _, re := range d.placeholders {
		for _, match := range re.FindAllString(text, -1) {
			if seen[match] {
				continue
			}
			seen[match] = true
			found = append(found, Artifact{Type: ArtifactPlaceholder, Value: match})
		}
	}
	return found
}
