package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mixelka/autoreply/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when trying to insert a duplicate record
var ErrAlreadyExists = errors.New("record already exists")

// CreateAccount creates a new email account
func (db *DB) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (name, email, username, password, imap_server, smtp_server, persona, signature,
			auto_send, is_active, uid_validity, last_uid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		account.Name,
		account.Email,
		account.Username,
		account.Password,
		account.IMAPServer,
		account.SMTPServer,
		account.Persona,
		account.Signature,
		account.AutoSend,
		account.IsActive,
		account.UIDValidity,
		account.LastUID,
		now,
		now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	account.ID = id
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// GetAccountByID returns an account by ID
func (db *DB) GetAccountByID(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	query := `SELECT * FROM accounts WHERE id = ?`
	err := db.GetContext(ctx, &account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// GetAccountByEmail returns an account by mailbox address
func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	query := `SELECT * FROM accounts WHERE email = ?`
	err := db.GetContext(ctx, &account, query, strings.ToLower(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// ListAccounts returns every account
func (db *DB) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	query := `SELECT * FROM accounts ORDER BY id`
	err := db.SelectContext(ctx, &accounts, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// GetAllActiveAccounts returns all active accounts
func (db *DB) GetAllActiveAccounts(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	query := `SELECT * FROM accounts WHERE is_active = true ORDER BY id`
	err := db.SelectContext(ctx, &accounts, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccountMarker persists the poller position and poll time.
// last_uid only moves forward within one uid_validity.
func (db *DB) UpdateAccountMarker(ctx context.Context, id int64, marker models.Marker, polledAt time.Time) error {
	query := `
		UPDATE accounts
		SET last_uid = CASE WHEN uid_validity = ? AND last_uid > ? THEN last_uid ELSE ? END,
			uid_validity = ?, last_polled = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := db.ExecContext(ctx, query,
		marker.UIDValidity, marker.LastUID, marker.LastUID,
		marker.UIDValidity, polledAt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update marker: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAccountActive sets the active status of an account
func (db *DB) SetAccountActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE accounts SET is_active = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set account active: %w", err)
	}
	return nil
}

// SetAccountAutoSend toggles unattended sending
func (db *DB) SetAccountAutoSend(ctx context.Context, id int64, autoSend bool) error {
	query := `UPDATE accounts SET auto_send = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, autoSend, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set auto send: %w", err)
	}
	return nil
}

// SetAccountProfile updates the persona and signature used for replies
func (db *DB) SetAccountProfile(ctx context.Context, id int64, persona, signature string) error {
	query := `UPDATE accounts SET persona = ?, signature = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, persona, signature, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to set account profile: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAccount deletes an account
func (db *DB) DeleteAccount(ctx context.Context, id int64) error {
	query := `DELETE FROM accounts WHERE id = ?`
	_, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}
