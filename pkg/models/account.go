package models

import "time"

// Account represents a connected mailbox
type Account struct {
	ID          int64      `db:"id"`
	Name        string     `db:"name"`         // Display name used in From
	Email       string     `db:"email"`        // Mailbox address
	Username    string     `db:"username"`     // IMAP/SMTP login, email when empty
	Password    string     `db:"password"`     // Encrypted password
	IMAPServer  string     `db:"imap_server"`  // e.g., imap.gmail.com:993
	SMTPServer  string     `db:"smtp_server"`  // e.g., smtp.gmail.com:587
	Persona     string     `db:"persona"`      // Voice the drafts are written in
	Signature   string     `db:"signature"`    // Appended to every outgoing reply
	AutoSend    bool       `db:"auto_send"`    // Send validated drafts without review
	IsActive    bool       `db:"is_active"`    // Polling allowed
	UIDValidity uint32     `db:"uid_validity"` // Mailbox generation of the marker, 0 = no marker
	LastUID     uint32     `db:"last_uid"`     // Highest UID handed to the pipeline
	LastPolled  *time.Time `db:"last_polled"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// Marker is the persisted position of an account's poller
type Marker struct {
	UIDValidity uint32
	LastUID     uint32
}

// IsZero reports whether no marker has been recorded yet
func (m Marker) IsZero() bool {
	return m.UIDValidity == 0
}

// Marker returns the account's current polling position
func (a *Account) Marker() Marker {
	return Marker{UIDValidity: a.UIDValidity, LastUID: a.LastUID}
}

// Login returns the username used to authenticate
func (a *Account) Login() string {
	if a.Username != "" {
		return a.Username
	}
	return a.Email
}
