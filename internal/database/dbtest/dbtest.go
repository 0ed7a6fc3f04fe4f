// Package dbtest provides a migrated in-memory database for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/mixelka/autoreply/internal/database"
	"github.com/mixelka/autoreply/pkg/models"
)

// New returns a fresh migrated in-memory database closed on cleanup
func New(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.New(database.MemoryPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// Account inserts an active account with sane defaults
func Account(t testing.TB, db *database.DB, email string, mutate ...func(*models.Account)) *models.Account {
	t.Helper()

	acc := &models.Account{
		Name:       "Support",
		Email:      email,
		Password:   "secret",
		IMAPServer: "imap.example.com:993",
		SMTPServer: "smtp.example.com:587",
		Persona:    "a friendly support agent",
		Signature:  "Best regards,\nSupport",
		IsActive:   true,
	}
	for _, m := range mutate {
		m(acc)
	}
	if err := db.CreateAccount(context.Background(), acc); err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	return acc
}
