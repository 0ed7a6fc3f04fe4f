package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mixelka/autoreply/pkg/models"
)

// ErrStaleStatus is returned when a message changed status under the caller
var ErrStaleStatus = errors.New("message status changed concurrently")

// CreateMessage stores a newly discovered message (ignores if already exists)
func (db *DB) CreateMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT OR IGNORE INTO messages (account_id, uid_validity, uid, message_id, thread_id, in_reply_to, references_hdr,
			from_addr, from_name, recipient, subject, body_text, body_html, received_at, status, intents, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if msg.Status == "" {
		msg.Status = models.StatusNew
	}
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		msg.AccountID,
		msg.UIDValidity,
		msg.UID,
		msg.MessageID,
		msg.ThreadID,
		msg.InReplyTo,
		msg.References,
		msg.FromAddr,
		msg.FromName,
		msg.Recipient,
		msg.Subject,
		msg.BodyText,
		msg.BodyHTML,
		msg.ReceivedAt,
		msg.Status,
		msg.Intents,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	// Check if row was actually inserted (not ignored due to duplicate)
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAlreadyExists
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	msg.ID = id
	msg.CreatedAt = now
	msg.UpdatedAt = now
	return nil
}

// CreateManualMessage stores a message that did not come from IMAP. It is
// filed under uid_validity 0, which no server hands out, with the next
// free uid of the account.
func (db *DB) CreateManualMessage(ctx context.Context, msg *models.Message) error {
	query := `
		INSERT INTO messages (account_id, uid_validity, uid, message_id, thread_id, from_addr, from_name, recipient,
			subject, body_text, received_at, status, intents, created_at, updated_at)
		SELECT ?, 0, COALESCE(MAX(uid), 0) + 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		FROM messages WHERE account_id = ? AND uid_validity = 0
	`
	msg.UIDValidity = 0
	if msg.Status == "" {
		msg.Status = models.StatusNew
	}
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		msg.AccountID,
		msg.MessageID,
		msg.ThreadID,
		msg.FromAddr,
		msg.FromName,
		msg.Recipient,
		msg.Subject,
		msg.BodyText,
		msg.ReceivedAt,
		msg.Status,
		msg.Intents,
		now,
		now,
		msg.AccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to create manual message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	if err := db.GetContext(ctx, &msg.UID, `SELECT uid FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to read manual uid: %w", err)
	}

	msg.ID = id
	msg.CreatedAt = now
	msg.UpdatedAt = now
	return nil
}

// GetMessageByID returns a message by ID
func (db *DB) GetMessageByID(ctx context.Context, id int64) (*models.Message, error) {
	var msg models.Message
	query := `SELECT * FROM messages WHERE id = ?`
	err := db.GetContext(ctx, &msg, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// GetMessageByKey returns the message discovered at a mailbox position
func (db *DB) GetMessageByKey(ctx context.Context, accountID int64, uidValidity, uid uint32) (*models.Message, error) {
	var msg models.Message
	query := `SELECT * FROM messages WHERE account_id = ? AND uid_validity = ? AND uid = ?`
	err := db.GetContext(ctx, &msg, query, accountID, uidValidity, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// MessageFilter narrows ListMessages
type MessageFilter struct {
	AccountID int64         // 0 = all accounts
	Status    models.Status // "" = any status
	BeforeID  int64         // 0 = no bound, otherwise only ids below it
	Limit     int           // 0 = 50
}

// ListMessages returns the newest messages matching the filter
func (db *DB) ListMessages(ctx context.Context, f MessageFilter) ([]*models.Message, error) {
	query := `SELECT * FROM messages WHERE 1 = 1`
	var args []any
	if f.AccountID != 0 {
		query += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.BeforeID > 0 {
		query += ` AND id < ?`
		args = append(args, f.BeforeID)
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, f.Limit)

	var messages []*models.Message
	if err := db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// SaveMessage writes the pipeline fields of msg, provided the stored status
// still equals expect. Returns ErrStaleStatus otherwise.
func (db *DB) SaveMessage(ctx context.Context, msg *models.Message, expect models.Status) error {
	query := `
		UPDATE messages
		SET status = ?, intents = ?, draft = ?, draft_html = ?, validation_status = ?, validation_feedback = ?,
			redraft_count = ?, error_detail = ?, processed_at = ?, sent_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		msg.Status,
		msg.Intents,
		msg.Draft,
		msg.DraftHTML,
		msg.ValidationStatus,
		msg.ValidationFeedback,
		msg.RedraftCount,
		msg.ErrorDetail,
		msg.ProcessedAt,
		msg.SentAt,
		now,
		msg.ID,
		expect,
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrStaleStatus
	}
	msg.UpdatedAt = now
	return nil
}
