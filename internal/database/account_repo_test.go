package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mixelka/autoreply/internal/database"
	"github.com/mixelka/autoreply/internal/database/dbtest"
	"github.com/mixelka/autoreply/pkg/models"
)

func TestCreateAccountUniqueEmail(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	dbtest.Account(t, db, "Support@Example.com")

	dup := &models.Account{Email: "support@example.com", Password: "x", IMAPServer: "imap.example.com:993"}
	if err := db.CreateAccount(ctx, dup); !errors.Is(err, database.ErrAlreadyExists) {
		t.Fatalf("CreateAccount() error = %v, want ErrAlreadyExists", err)
	}

	got, err := db.GetAccountByEmail(ctx, "SUPPORT@example.com")
	if err != nil {
		t.Fatalf("GetAccountByEmail() error = %v", err)
	}
	if got.Email != "support@example.com" {
		t.Errorf("email = %q", got.Email)
	}
}

func TestUpdateAccountMarker(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	acc := dbtest.Account(t, db, "support@example.com")
	now := time.Now()

	tests := []struct {
		name   string
		marker models.Marker
		want   models.Marker
	}{
		{"baseline", models.Marker{UIDValidity: 10, LastUID: 100}, models.Marker{UIDValidity: 10, LastUID: 100}},
		{"advance", models.Marker{UIDValidity: 10, LastUID: 105}, models.Marker{UIDValidity: 10, LastUID: 105}},
		{"never moves back", models.Marker{UIDValidity: 10, LastUID: 101}, models.Marker{UIDValidity: 10, LastUID: 105}},
		{"new generation resets", models.Marker{UIDValidity: 11, LastUID: 3}, models.Marker{UIDValidity: 11, LastUID: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := db.UpdateAccountMarker(ctx, acc.ID, tt.marker, now); err != nil {
				t.Fatalf("UpdateAccountMarker() error = %v", err)
			}
			got, err := db.GetAccountByID(ctx, acc.ID)
			if err != nil {
				t.Fatalf("GetAccountByID() error = %v", err)
			}
			if got.Marker() != tt.want {
				t.Errorf("marker = %+v, want %+v", got.Marker(), tt.want)
			}
			if got.LastPolled == nil {
				t.Error("last_polled not set")
			}
		})
	}

	if err := db.UpdateAccountMarker(ctx, 999, models.Marker{UIDValidity: 1}, now); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("UpdateAccountMarker() unknown account error = %v, want ErrNotFound", err)
	}
}

func TestUpsertIntentKeepsID(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)

	intent := &models.Intent{
		Name:                "pricing",
		Description:         "Questions about prices",
		Examples:            models.StringList{"How much is it?"},
		Embedding:           models.Vector{1, 0, 0},
		ConfidenceThreshold: 0.7,
		FollowUpHours:       24,
		Version:             1,
	}
	if err := db.UpsertIntent(ctx, intent); err != nil {
		t.Fatalf("UpsertIntent() error = %v", err)
	}
	id := intent.ID

	intent.Description = "Pricing and plans"
	intent.Version = 2
	if err := db.UpsertIntent(ctx, intent); err != nil {
		t.Fatalf("UpsertIntent() update error = %v", err)
	}
	if intent.ID != id {
		t.Errorf("id changed from %d to %d", id, intent.ID)
	}

	intents, err := db.ListIntents(ctx)
	if err != nil {
		t.Fatalf("ListIntents() error = %v", err)
	}
	if len(intents) != 1 || intents[0].Version != 2 || len(intents[0].Embedding) != 3 {
		t.Errorf("ListIntents() = %+v", intents)
	}
}

func TestSetAccountProfile(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	acc := dbtest.Account(t, db, "support@example.com")

	if err := db.SetAccountProfile(ctx, acc.ID, "a terse engineer", "Thanks,\nOps"); err != nil {
		t.Fatalf("SetAccountProfile() error = %v", err)
	}
	got, err := db.GetAccountByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("GetAccountByID() error = %v", err)
	}
	if got.Persona != "a terse engineer" || got.Signature != "Thanks,\nOps" {
		t.Errorf("profile = %q / %q", got.Persona, got.Signature)
	}

	if err := db.SetAccountProfile(ctx, acc.ID+100, "x", "y"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("SetAccountProfile(missing) error = %v, want ErrNotFound", err)
	}
}
