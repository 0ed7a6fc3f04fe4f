package models

import (
	"database/sql/driver"
	"time"

	"github.com/goccy/go-json"
)

// Intent is a category an inbound message can match
type Intent struct {
	ID                  int64      `db:"id"`
	Name                string     `db:"name"`
	Description         string     `db:"description"`
	Examples            StringList `db:"examples"`
	SystemPrompt        string     `db:"system_prompt"` // Extra drafting guidance
	Embedding           Vector     `db:"embedding"`
	ConfidenceThreshold float64    `db:"confidence_threshold"`
	FollowUpHours       int        `db:"follow_up_hours"`
	IsMeetingRelated    bool       `db:"is_meeting_related"`
	Version             int        `db:"version"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// KnowledgeEntry is a reference snippet offered to the drafter
type KnowledgeEntry struct {
	ID        int64      `db:"id"`
	Title     string     `db:"title"`
	Content   string     `db:"content"`
	Tags      StringList `db:"tags"`
	Embedding Vector     `db:"embedding"`
	Version   int        `db:"version"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// Vector is an embedding stored as a JSON column
type Vector []float32

// Value implements driver.Valuer
func (v Vector) Value() (driver.Value, error) {
	if len(v) == 0 {
		return "", nil
	}
	b, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (v *Vector) Scan(src any) error {
	return scanJSON(src, (*[]float32)(v))
}

// StringList is a list of strings stored as a JSON column
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *StringList) Scan(src any) error {
	return scanJSON(src, (*[]string)(l))
}
