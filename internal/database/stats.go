package database

import (
	"context"
	"fmt"

	"github.com/mixelka/autoreply/pkg/models"
)

// Stats dashboard counters
type Stats struct {
	TotalMessages  int
	Processed      int // ready_to_send + sent
	Escalated      int
	Errors         int
	Intents        int
	Accounts       int
	ActiveAccounts int
	ByStatus       map[models.Status]int
	ProcessingRate float64 // Processed / TotalMessages, percent
}

// Stats returns aggregate counters over messages, accounts and intents
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	var rows []struct {
		Status models.Status `db:"status"`
		Count  int           `db:"n"`
	}
	if err := db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM messages GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	s := &Stats{ByStatus: make(map[models.Status]int, len(rows))}
	for _, r := range rows {
		s.ByStatus[r.Status] = r.Count
		s.TotalMessages += r.Count
	}
	s.Processed = s.ByStatus[models.StatusReadyToSend] + s.ByStatus[models.StatusSent]
	s.Escalated = s.ByStatus[models.StatusEscalate]
	s.Errors = s.ByStatus[models.StatusError]
	if s.TotalMessages > 0 {
		s.ProcessingRate = float64(s.Processed) / float64(s.TotalMessages) * 100
	}

	if err := db.GetContext(ctx, &s.Intents, `SELECT COUNT(*) FROM intents`); err != nil {
		return nil, fmt.Errorf("failed to count intents: %w", err)
	}
	if err := db.GetContext(ctx, &s.Accounts, `SELECT COUNT(*) FROM accounts`); err != nil {
		return nil, fmt.Errorf("failed to count accounts: %w", err)
	}
	if err := db.GetContext(ctx, &s.ActiveAccounts, `SELECT COUNT(*) FROM accounts WHERE is_active = true`); err != nil {
		return nil, fmt.Errorf("failed to count active accounts: %w", err)
	}
	return s, nil
}
