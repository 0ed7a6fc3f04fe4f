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

func newMessage(accountID int64, uid uint32) *models.Message {
	return &models.Message{
		AccountID:   accountID,
		UIDValidity: 42,
		UID:         uid,
		MessageID:   "<m1@example.com>",
		FromAddr:    "alice@example.com",
		Subject:     "Pricing question",
		BodyText:    "How much is the pro plan?",
		ReceivedAt:  time.Now(),
	}
}

func TestCreateMessageDeduplicates(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	acc := dbtest.Account(t, db, "support@example.com")

	first := newMessage(acc.ID, 7)
	if err := db.CreateMessage(ctx, first); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if first.ID == 0 || first.Status != models.StatusNew {
		t.Fatalf("CreateMessage() id = %d, status = %q", first.ID, first.Status)
	}

	dup := newMessage(acc.ID, 7)
	if err := db.CreateMessage(ctx, dup); !errors.Is(err, database.ErrAlreadyExists) {
		t.Fatalf("duplicate CreateMessage() error = %v, want ErrAlreadyExists", err)
	}

	// Same UID under a new mailbox generation is a different message
	other := newMessage(acc.ID, 7)
	other.UIDValidity = 43
	if err := db.CreateMessage(ctx, other); err != nil {
		t.Fatalf("CreateMessage() new generation error = %v", err)
	}

	got, err := db.GetMessageByKey(ctx, acc.ID, 42, 7)
	if err != nil {
		t.Fatalf("GetMessageByKey() error = %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("GetMessageByKey() id = %d, want %d", got.ID, first.ID)
	}
}

func TestSaveMessageOptimistic(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	acc := dbtest.Account(t, db, "support@example.com")

	msg := newMessage(acc.ID, 1)
	if err := db.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	msg.Status = models.StatusClassifying
	if err := db.SaveMessage(ctx, msg, models.StatusNew); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}

	msg.Status = models.StatusDrafting
	msg.Intents = models.MatchedIntents{{IntentID: 1, Name: "pricing", Confidence: 0.91}}
	if err := db.SaveMessage(ctx, msg, models.StatusNew); !errors.Is(err, database.ErrStaleStatus) {
		t.Fatalf("SaveMessage() with stale status error = %v, want ErrStaleStatus", err)
	}
	if err := db.SaveMessage(ctx, msg, models.StatusClassifying); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}

	got, err := db.GetMessageByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessageByID() error = %v", err)
	}
	if got.Status != models.StatusDrafting {
		t.Errorf("status = %q, want drafting", got.Status)
	}
	if len(got.Intents) != 1 || got.Intents[0].Name != "pricing" {
		t.Errorf("intents = %+v", got.Intents)
	}
}

func TestListMessagesAndStats(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	acc := dbtest.Account(t, db, "support@example.com")

	statuses := []models.Status{models.StatusSent, models.StatusReadyToSend, models.StatusEscalate, models.StatusNew}
	for i, st := range statuses {
		msg := newMessage(acc.ID, uint32(i+1))
		msg.Status = st
		if err := db.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage() error = %v", err)
		}
	}

	escalated, err := db.ListMessages(ctx, database.MessageFilter{Status: models.StatusEscalate})
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(escalated) != 1 {
		t.Errorf("ListMessages(escalate) = %d messages, want 1", len(escalated))
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalMessages != 4 || stats.Processed != 2 || stats.Escalated != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.ProcessingRate != 50 {
		t.Errorf("ProcessingRate = %v, want 50", stats.ProcessingRate)
	}
	if stats.Accounts != 1 || stats.ActiveAccounts != 1 {
		t.Errorf("accounts = %d active = %d", stats.Accounts, stats.ActiveAccounts)
	}
}

func TestCreateManualMessageAllocatesUIDs(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	acc := dbtest.Account(t, db, "support@example.com")
	other := dbtest.Account(t, db, "sales@example.com")

	// A polled message with uid 1 does not collide with manual ones
	if err := db.CreateMessage(ctx, newMessage(acc.ID, 1)); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	var uids []uint32
	for _, accountID := range []int64{acc.ID, acc.ID, other.ID} {
		msg := newMessage(accountID, 0)
		msg.UIDValidity = 99
		if err := db.CreateManualMessage(ctx, msg); err != nil {
			t.Fatalf("CreateManualMessage() error = %v", err)
		}
		if msg.ID == 0 || msg.UIDValidity != 0 || msg.Status != models.StatusNew {
			t.Fatalf("CreateManualMessage() = %+v", msg)
		}
		uids = append(uids, msg.UID)
	}
	if uids[0] != 1 || uids[1] != 2 || uids[2] != 1 {
		t.Errorf("manual uids = %v, want [1 2 1]", uids)
	}
}

func TestListMessagesBeforeID(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	acc := dbtest.Account(t, db, "support@example.com")

	var ids []int64
	for uid := uint32(1); uid <= 5; uid++ {
		msg := newMessage(acc.ID, uid)
		if err := db.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage() error = %v", err)
		}
		ids = append(ids, msg.ID)
	}

	page, err := db.ListMessages(ctx, database.MessageFilter{BeforeID: ids[3], Limit: 2})
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[2] || page[1].ID != ids[1] {
		t.Errorf("page = %v, want ids %d and %d", page, ids[2], ids[1])
	}
}
