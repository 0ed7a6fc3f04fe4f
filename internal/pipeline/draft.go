package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/mixelka/autoreply/internal/parser"
	"github.com/mixelka/autoreply/pkg/models"
)

const defaultPersona = "Professional and helpful"

// Generator produces a chat completion
type Generator interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// DraftRequest carries everything a draft is written from
type DraftRequest struct {
	Account   *models.Account
	Message   *models.Message
	Matches   models.MatchedIntents
	Intents   []*models.Intent // catalog entries of Matches, same order
	Knowledge []*models.KnowledgeEntry
	Feedback  string // previous validator feedback, if any
}

// Draft is an accepted reply body
type Draft struct {
	Text string
	HTML string
}

// Drafter writes reply bodies
type Drafter struct {
	gen       Generator
	artifacts *parser.ArtifactDetector
	html      *parser.HTMLParser
}

// NewDrafter creates a new drafter
func NewDrafter(gen Generator) *Drafter {
	return &Drafter{
		gen:       gen,
		artifacts: parser.NewArtifactDetector(),
		html:      parser.NewHTMLParser(),
	}
}

// Draft generates a reply body. Output that still carries placeholders or
// is empty after cleanup is rejected with a KindContent error.
func (d *Drafter) Draft(ctx context.Context, req DraftRequest) (Draft, error) {
	raw, err := d.gen.Complete(ctx, draftSystemPrompt(req), draftUserPrompt(req.Message))
	if err != nil {
		return Draft{}, err
	}

	res := d.artifacts.Clean(raw)
	if !res.Usable() {
		return Draft{}, &Error{Kind: KindContent, Stage: StageDraft, Err: unusable(res)}
	}
	return Draft{Text: res.Text, HTML: d.html.ToHTML(res.Text)}, nil
}

func unusable(res parser.CleanResult) error {
	if len(res.Placeholders) == 0 {
		return fmt.Errorf("generated draft is empty")
	}
	values := make([]string, len(res.Placeholders))
	for i, p := range res.Placeholders {
		values[i] = p.Value
	}
	return fmt.Errorf("generated draft contains placeholders: %s", strings.Join(values, ", "))
}

func draftSystemPrompt(req DraftRequest) string {
	persona := strings.TrimSpace(req.Account.Persona)
	if persona == "" {
		persona = defaultPersona
	}

	var b strings.Builder
	b.WriteString("You write replies to customer email on behalf of ")
	fmt.Fprintf(&b, "%s <%s>.\n\n", req.Account.Name, req.Account.Email)
	fmt.Fprintf(&b, "ACCOUNT PERSONA: %s\n\n", persona)

	b.WriteString("IDENTIFIED INTENTS:\n")
	if len(req.Intents) == 0 {
		b.WriteString("No specific intents identified\n")
	}
	var guidance []string
	for i, in := range req.Intents {
		fmt.Fprintf(&b, "- %s: %s (confidence: %.2f)\n", in.Name, in.Description, req.Matches[i].Confidence)
		if s := strings.TrimSpace(in.SystemPrompt); s != "" {
			guidance = append(guidance, s)
		}
	}

	if len(guidance) > 0 {
		b.WriteString("\nADDITIONAL GUIDANCE:\n")
		b.WriteString(strings.Join(guidance, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\nKNOWLEDGE BASE CONTEXT:\n")
	b.WriteString(KnowledgeContext(req.Knowledge))

	if fb := strings.TrimSpace(req.Feedback); fb != "" {
		b.WriteString("\n\nPREVIOUS DRAFT WAS REJECTED:\n")
		b.WriteString(fb)
		b.WriteString("\nAddress every issue above in the new draft.")
	}

	b.WriteString("\n\nINSTRUCTIONS:\n")
	b.WriteString("1. Address every identified intent.\n")
	b.WriteString("2. Keep the reply concise, 150-250 words unless more detail is needed.\n")
	b.WriteString("3. Include actionable next steps where appropriate.\n")
	b.WriteString("4. Do not commit to pricing or timelines unless the knowledge base states them.\n")
	b.WriteString("5. Output the reply body only: no subject line, no signature, no commentary, no placeholders.")
	return b.String()
}

func draftUserPrompt(msg *models.Message) string {
	from := msg.FromAddr
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromAddr)
	}
	return fmt.Sprintf("EMAIL CONTEXT:\nFrom: %s\nSubject: %s\n\n%s", from, msg.Subject, msg.BodyText)
}

// KnowledgeContext renders knowledge entries for a prompt
func KnowledgeContext(entries []*models.KnowledgeEntry) string {
	if len(entries) == 0 {
		return "No relevant knowledge base items found."
	}
	var b strings.Builder
	b.WriteString("RELEVANT KNOWLEDGE:")
	for _, e := range entries {
		fmt.Fprintf(&b, "\n- %s: %s", e.Title, e.Content)
	}
	return b.String()
}
