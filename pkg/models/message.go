package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Message is an inbound email and the state of its reply
type Message struct {
	ID          int64     `db:"id"`
	AccountID   int64     `db:"account_id"`
	UIDValidity uint32    `db:"uid_validity"`
	UID         uint32    `db:"uid"`
	MessageID   string    `db:"message_id"`     // Message-ID header
	ThreadID    string    `db:"thread_id"`      // Conversation key
	InReplyTo   string    `db:"in_reply_to"`    // In-Reply-To header
	References  string    `db:"references_hdr"` // References header
	FromAddr    string    `db:"from_addr"`
	FromName    string    `db:"from_name"`
	Recipient   string    `db:"recipient"`
	Subject     string    `db:"subject"`
	BodyText    string    `db:"body_text"` // Plain text, quoted history removed
	BodyHTML    string    `db:"body_html"`
	ReceivedAt  time.Time `db:"received_at"`

	Status             Status         `db:"status"`
	Intents            MatchedIntents `db:"intents"`
	Draft              string         `db:"draft"`
	DraftHTML          string         `db:"draft_html"`
	ValidationStatus   string         `db:"validation_status"`
	ValidationFeedback string         `db:"validation_feedback"`
	RedraftCount       int            `db:"redraft_count"`
	ErrorDetail        string         `db:"error_detail"`
	ProcessedAt        *time.Time     `db:"processed_at"`
	SentAt             *time.Time     `db:"sent_at"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

// Validation verdicts
const (
	ValidationPass = "PASS"
	ValidationFail = "FAIL"
)

// MatchedIntent is one classification result
type MatchedIntent struct {
	IntentID   int64   `json:"intent_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// MatchedIntents is stored as a JSON column, ordered by confidence
type MatchedIntents []MatchedIntent

// Value implements driver.Valuer
func (m MatchedIntents) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]MatchedIntent(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *MatchedIntents) Scan(src any) error {
	return scanJSON(src, (*[]MatchedIntent)(m))
}

// Names returns intent names in match order
func (m MatchedIntents) Names() []string {
	names := make([]string, 0, len(m))
	for _, mi := range m {
		names = append(names, mi.Name)
	}
	return names
}

func scanJSON(src any, dst any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
