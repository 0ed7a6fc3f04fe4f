package pipeline

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/mixelka/autoreply/pkg/models"
)

// DefaultThreshold applies to intents whose threshold is outside [0,1]
const DefaultThreshold = 0.7

// Embedder turns text into an embedding vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Classifier scores a message against the intent catalog
type Classifier struct {
	embed      Embedder
	maxIntents int
	maxChars   int
}

// NewClassifier creates a new classifier
func NewClassifier(embed Embedder, maxIntents, maxChars int) *Classifier {
	if maxIntents < 1 {
		maxIntents = 3
	}
	return &Classifier{embed: embed, maxIntents: maxIntents, maxChars: maxChars}
}

// Classify embeds msg and matches it against intents. The message vector
// is returned for knowledge retrieval.
func (c *Classifier) Classify(ctx context.Context, msg *models.Message, intents []*models.Intent) (models.MatchedIntents, []float32, error) {
	vec, err := c.Embed(ctx, msg)
	if err != nil {
		return nil, nil, err
	}
	return Match(vec, intents, c.maxIntents), vec, nil
}

// Embed returns the embedding of the message subject and body
func (c *Classifier) Embed(ctx context.Context, msg *models.Message) ([]float32, error) {
	return c.embed.Embed(ctx, c.text(msg))
}

func (c *Classifier) text(msg *models.Message) string {
	text := strings.TrimSpace(msg.Subject + "\n\n" + msg.BodyText)
	if c.maxChars > 0 && utf8.RuneCountInString(text) > c.maxChars {
		text = string([]rune(text)[:c.maxChars])
	}
	return text
}

// Match returns intents scoring at or above their own threshold, best
// first, at most limit of them.
func Match(vec []float32, intents []*models.Intent, limit int) models.MatchedIntents {
	var matches models.MatchedIntents
	for _, in := range intents {
		if len(in.Embedding) == 0 {
			continue
		}
		threshold := in.ConfidenceThreshold
		if !(threshold >= 0 && threshold <= 1) {
			threshold = DefaultThreshold
		}
		score := Cosine(vec, in.Embedding)
		if score < threshold {
			continue
		}
		matches = append(matches, models.MatchedIntent{IntentID: in.ID, Name: in.Name, Confidence: score})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].IntentID < matches[j].IntentID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
