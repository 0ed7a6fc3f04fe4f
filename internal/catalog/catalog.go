// Package catalog loads intents and knowledge entries, validating and
// embedding them before they are stored for the pipeline.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-json"

	"github.com/mixelka/autoreply/internal/database"
	"github.com/mixelka/autoreply/pkg/models"
)

// Defaults for optional intent fields
const (
	DefaultThreshold     = 0.7
	DefaultFollowUpHours = 24
)

// IntentSpec is an intent as written in a catalog file
type IntentSpec struct {
	Name                string   `json:"name"`
	Description         string   `json:"description"`
	Examples            []string `json:"examples"`
	SystemPrompt        string   `json:"system_prompt"`
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
	FollowUpHours       *int     `json:"follow_up_hours"`
	IsMeetingRelated    bool     `json:"is_meeting_related"`
}

// EntrySpec is a knowledge entry as written in a catalog file
type EntrySpec struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// File is a catalog document
type File struct {
	Intents   []IntentSpec `json:"intents"`
	Knowledge []EntrySpec  `json:"knowledge"`
}

// Parse decodes and validates a catalog document
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate reports every problem in the document at once
func (f *File) Validate() error {
	var errs []error
	names := make(map[string]bool)
	for i, in := range f.Intents {
		name := strings.TrimSpace(in.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("intent %d: name is required", i))
		case names[strings.ToLower(name)]:
			errs = append(errs, fmt.Errorf("intent %q: duplicate name", name))
		}
		names[strings.ToLower(name)] = true

		if strings.TrimSpace(in.Description) == "" && len(in.Examples) == 0 {
			errs = append(errs, fmt.Errorf("intent %q: description or examples required", name))
		}
		if t := in.ConfidenceThreshold; t != nil && !(*t >= 0 && *t <= 1) {
			errs = append(errs, fmt.Errorf("intent %q: confidence_threshold must be in [0,1], got %v", name, *t))
		}
		if h := in.FollowUpHours; h != nil && *h < 0 {
			errs = append(errs, fmt.Errorf("intent %q: follow_up_hours must not be negative", name))
		}
	}

	titles := make(map[string]bool)
	for i, e := range f.Knowledge {
		title := strings.TrimSpace(e.Title)
		switch {
		case title == "":
			errs = append(errs, fmt.Errorf("knowledge entry %d: title is required", i))
		case titles[strings.ToLower(title)]:
			errs = append(errs, fmt.Errorf("knowledge entry %q: duplicate title", title))
		}
		titles[strings.ToLower(title)] = true

		if strings.TrimSpace(e.Content) == "" {
			errs = append(errs, fmt.Errorf("knowledge entry %q: content is required", title))
		}
	}
	return errors.Join(errs...)
}

// Store is where the catalog is persisted
type Store interface {
	GetIntentByName(ctx context.Context, name string) (*models.Intent, error)
	UpsertIntent(ctx context.Context, intent *models.Intent) error
	GetKnowledgeEntryByTitle(ctx context.Context, title string) (*models.KnowledgeEntry, error)
	UpsertKnowledgeEntry(ctx context.Context, entry *models.KnowledgeEntry) error
}

// Embedder turns text into an embedding vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result counts what Apply did
type Result struct {
	Added     int
	Updated   int
	Unchanged int
}

// Loader stores catalog documents
type Loader struct {
	store  Store
	embed  Embedder
	logger *slog.Logger
}

// NewLoader creates a new catalog loader
func NewLoader(store Store, embed Embedder, logger *slog.Logger) *Loader {
	return &Loader{store: store, embed: embed, logger: logger.With("component", "catalog")}
}

// LoadFile parses path and applies it
func (l *Loader) LoadFile(ctx context.Context, path string) (Result, error) {
	fh, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer fh.Close()

	f, err := Parse(fh)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", path, err)
	}
	return l.Apply(ctx, f)
}

// Apply upserts every intent and entry of f. Records whose content did not
// change keep their embedding and version, changed ones are re-embedded
// and get the next version.
func (l *Loader) Apply(ctx context.Context, f *File) (Result, error) {
	var res Result
	for _, spec := range f.Intents {
		outcome, err := l.applyIntent(ctx, spec)
		if err != nil {
			return res, err
		}
		res.count(outcome)
	}
	for _, spec := range f.Knowledge {
		outcome, err := l.applyEntry(ctx, spec)
		if err != nil {
			return res, err
		}
		res.count(outcome)
	}

	l.logger.Info("catalog applied", "added", res.Added, "updated", res.Updated, "unchanged", res.Unchanged)
	return res, nil
}

type outcome int

const (
	added outcome = iota
	updated
	unchanged
)

func (r *Result) count(o outcome) {
	switch o {
	case added:
		r.Added++
	case updated:
		r.Updated++
	default:
		r.Unchanged++
	}
}

func (l *Loader) applyIntent(ctx context.Context, spec IntentSpec) (outcome, error) {
	intent := &models.Intent{
		Name:                strings.TrimSpace(spec.Name),
		Description:         strings.TrimSpace(spec.Description),
		Examples:            models.StringList(spec.Examples),
		SystemPrompt:        strings.TrimSpace(spec.SystemPrompt),
		ConfidenceThreshold: DefaultThreshold,
		FollowUpHours:       DefaultFollowUpHours,
		IsMeetingRelated:    spec.IsMeetingRelated,
		Version:             1,
	}
	if spec.ConfidenceThreshold != nil {
		intent.ConfidenceThreshold = *spec.ConfidenceThreshold
	}
	if spec.FollowUpHours != nil {
		intent.FollowUpHours = *spec.FollowUpHours
	}

	result := added
	stored, err := l.store.GetIntentByName(ctx, intent.Name)
	switch {
	case err == nil:
		if sameIntent(stored, intent) {
			return unchanged, nil
		}
		intent.Version = stored.Version + 1
		result = updated
	case !errors.Is(err, database.ErrNotFound):
		return 0, err
	}

	text := strings.TrimSpace(intent.Description + " " + strings.Join(intent.Examples, " "))
	vec, err := l.embed.Embed(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("failed to embed intent %q: %w", intent.Name, err)
	}
	intent.Embedding = vec

	if err := l.store.UpsertIntent(ctx, intent); err != nil {
		return 0, err
	}
	l.logger.Debug("intent stored", "name", intent.Name, "version", intent.Version)
	return result, nil
}

func (l *Loader) applyEntry(ctx context.Context, spec EntrySpec) (outcome, error) {
	entry := &models.KnowledgeEntry{
		Title:   strings.TrimSpace(spec.Title),
		Content: strings.TrimSpace(spec.Content),
		Tags:    models.StringList(spec.Tags),
		Version: 1,
	}

	result := added
	stored, err := l.store.GetKnowledgeEntryByTitle(ctx, entry.Title)
	switch {
	case err == nil:
		if len(stored.Embedding) > 0 && stored.Content == entry.Content && slices.Equal(stored.Tags, entry.Tags) {
			return unchanged, nil
		}
		entry.Version = stored.Version + 1
		result = updated
	case !errors.Is(err, database.ErrNotFound):
		return 0, err
	}

	vec, err := l.embed.Embed(ctx, entry.Content)
	if err != nil {
		return 0, fmt.Errorf("failed to embed knowledge entry %q: %w", entry.Title, err)
	}
	entry.Embedding = vec

	if err := l.store.UpsertKnowledgeEntry(ctx, entry); err != nil {
		return 0, err
	}
	l.logger.Debug("knowledge entry stored", "title", entry.Title, "version", entry.Version)
	return result, nil
}

func sameIntent(a, b *models.Intent) bool {
	return len(a.Embedding) > 0 &&
		a.Description == b.Description &&
		slices.Equal(a.Examples, b.Examples) &&
		a.SystemPrompt == b.SystemPrompt &&
		a.ConfidenceThreshold == b.ConfidenceThreshold &&
		a.FollowUpHours == b.FollowUpHours &&
		a.IsMeetingRelated == b.IsMeetingRelated
}
