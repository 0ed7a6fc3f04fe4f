package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/mixelka/autoreply/internal/parser"
	"github.com/mixelka/autoreply/pkg/models"
)

// validatorRole opens every validation prompt
const validatorRole = "You review drafted email replies before they are sent."

// Verdict is the validator outcome
type Verdict struct {
	Pass     bool
	Feedback string
}

// Status returns the stored validation status
func (v Verdict) Status() string {
	if v.Pass {
		return models.ValidationPass
	}
	return models.ValidationFail
}

// Validator checks drafts against the original email
type Validator struct {
	gen       Generator
	artifacts *parser.ArtifactDetector
}

// NewValidator creates a new validator
func NewValidator(gen Generator) *Validator {
	return &Validator{gen: gen, artifacts: parser.NewArtifactDetector()}
}

// Validate asks the reviewer model for a verdict on draft. Any answer not
// starting with PASS counts as a failure with the answer as feedback.
func (v *Validator) Validate(ctx context.Context, req DraftRequest, draft string) (Verdict, error) {
	raw, err := v.gen.Complete(ctx, validatorSystemPrompt(req, draft), "Validate this draft reply.")
	if err != nil {
		return Verdict{}, err
	}
	return parseVerdict(v.artifacts.Clean(raw).Text), nil
}

func parseVerdict(text string) Verdict {
	text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), "*"))
	upper := strings.ToUpper(text)

	if strings.HasPrefix(upper, models.ValidationPass) {
		return Verdict{Pass: true, Feedback: trimVerdict(text, len(models.ValidationPass))}
	}
	if strings.HasPrefix(upper, models.ValidationFail) {
		return Verdict{Feedback: trimVerdict(text, len(models.ValidationFail))}
	}
	if text == "" {
		text = "validator returned no verdict"
	}
	return Verdict{Feedback: text}
}

func trimVerdict(text string, n int) string {
	return strings.TrimSpace(strings.TrimLeft(text[n:], ":*- "))
}

func validatorSystemPrompt(req DraftRequest, draft string) string {
	var b strings.Builder
	b.WriteString(validatorRole)
	b.WriteString("\n\nORIGINAL EMAIL:\n")
	fmt.Fprintf(&b, "Subject: %s\nFrom: %s\nBody: %s\n\n", req.Message.Subject, req.Message.FromAddr, req.Message.BodyText)

	b.WriteString("IDENTIFIED INTENTS TO ADDRESS:\n")
	if len(req.Intents) == 0 {
		b.WriteString("No specific intents\n")
	}
	for _, in := range req.Intents {
		fmt.Fprintf(&b, "- %s: %s\n", in.Name, in.Description)
	}

	b.WriteString("\nKNOWLEDGE BASE CONTEXT:\n")
	b.WriteString(KnowledgeContext(req.Knowledge))

	b.WriteString("\n\nDRAFT TO VALIDATE:\n")
	b.WriteString(draft)

	b.WriteString("\n\nVALIDATION CRITERIA:\n")
	b.WriteString("1. Does the draft address each identified intent?\n")
	b.WriteString("2. Are the facts consistent with the knowledge base?\n")
	b.WriteString("3. Is the tone appropriate and professional?\n")
	b.WriteString("4. Are actionable next steps provided where needed?\n")
	b.WriteString("5. Is it free of placeholders, subject lines and meta commentary?\n\n")
	b.WriteString("Respond with either:\nPASS: <brief explanation>\nor\nFAIL: <bullet list of issues to fix>")
	return b.String()
}
