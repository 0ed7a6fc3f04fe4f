package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/autoreply/pkg/models"
)

// UpsertIntent inserts an intent or replaces the one with the same name
func (db *DB) UpsertIntent(ctx context.Context, intent *models.Intent) error {
	query := `
		INSERT INTO intents (name, description, examples, system_prompt, embedding, confidence_threshold,
			follow_up_hours, is_meeting_related, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			examples = excluded.examples,
			system_prompt = excluded.system_prompt,
			embedding = excluded.embedding,
			confidence_threshold = excluded.confidence_threshold,
			follow_up_hours = excluded.follow_up_hours,
			is_meeting_related = excluded.is_meeting_related,
			version = excluded.version,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		intent.Name,
		intent.Description,
		intent.Examples,
		intent.SystemPrompt,
		intent.Embedding,
		intent.ConfidenceThreshold,
		intent.FollowUpHours,
		intent.IsMeetingRelated,
		intent.Version,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert intent: %w", err)
	}

	stored, err := db.GetIntentByName(ctx, intent.Name)
	if err != nil {
		return err
	}
	intent.ID = stored.ID
	intent.CreatedAt = stored.CreatedAt
	intent.UpdatedAt = now
	return nil
}

// GetIntentByName returns an intent by its unique name
func (db *DB) GetIntentByName(ctx context.Context, name string) (*models.Intent, error) {
	var intent models.Intent
	query := `SELECT * FROM intents WHERE name = ?`
	err := db.GetContext(ctx, &intent, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get intent: %w", err)
	}
	return &intent, nil
}

// ListIntents returns every intent
func (db *DB) ListIntents(ctx context.Context) ([]*models.Intent, error) {
	var intents []*models.Intent
	query := `SELECT * FROM intents ORDER BY id`
	if err := db.SelectContext(ctx, &intents, query); err != nil {
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	return intents, nil
}

// DeleteIntent deletes an intent
func (db *DB) DeleteIntent(ctx context.Context, id int64) error {
	query := `DELETE FROM intents WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete intent: %w", err)
	}
	return nil
}

// UpsertKnowledgeEntry inserts an entry or replaces the one with the same title
func (db *DB) UpsertKnowledgeEntry(ctx context.Context, entry *models.KnowledgeEntry) error {
	query := `
		INSERT INTO knowledge_entries (title, content, tags, embedding, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(title) DO UPDATE SET
			content = excluded.content,
			tags = excluded.tags,
			embedding = excluded.embedding,
			version = excluded.version,
			updated_at = excluded.updated_at
	`
	now := time.Now()
	_, err := db.ExecContext(ctx, query,
		entry.Title,
		entry.Content,
		entry.Tags,
		entry.Embedding,
		entry.Version,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert knowledge entry: %w", err)
	}

	stored, err := db.GetKnowledgeEntryByTitle(ctx, entry.Title)
	if err != nil {
		return err
	}
	entry.ID = stored.ID
	entry.CreatedAt = stored.CreatedAt
	entry.UpdatedAt = now
	return nil
}

// GetKnowledgeEntryByTitle returns a knowledge entry by its unique title
func (db *DB) GetKnowledgeEntryByTitle(ctx context.Context, title string) (*models.KnowledgeEntry, error) {
	var entry models.KnowledgeEntry
	query := `SELECT * FROM knowledge_entries WHERE title = ?`
	err := db.GetContext(ctx, &entry, query, title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge entry: %w", err)
	}
	return &entry, nil
}

// ListKnowledgeEntries returns every knowledge entry
func (db *DB) ListKnowledgeEntries(ctx context.Context) ([]*models.KnowledgeEntry, error) {
	var entries []*models.KnowledgeEntry
	query := `SELECT * FROM knowledge_entries ORDER BY id`
	if err := db.SelectContext(ctx, &entries, query); err != nil {
		return nil, fmt.Errorf("failed to list knowledge entries: %w", err)
	}
	return entries, nil
}

// DeleteKnowledgeEntry deletes a knowledge entry
func (db *DB) DeleteKnowledgeEntry(ctx context.Context, id int64) error {
	query := `DELETE FROM knowledge_entries WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete knowledge entry: %w", err)
	}
	return nil
}
