package models

// Status is a message's position in the reply state machine
type Status string

const (
	StatusNew          Status = "new"
	StatusClassifying  Status = "classifying"
	StatusDrafting     Status = "drafting"
	StatusValidating   Status = "validating"
	StatusReadyToSend  Status = "ready_to_send"
	StatusNeedsRedraft Status = "needs_redraft"
	StatusEscalate     Status = "escalate"
	StatusSending      Status = "sending"
	StatusSent         Status = "sent"
	StatusError        Status = "error"
)

var transitions = map[Status][]Status{
	StatusNew:          {StatusClassifying, StatusError},
	StatusClassifying:  {StatusDrafting, StatusError},
	StatusDrafting:     {StatusValidating, StatusError},
	StatusValidating:   {StatusReadyToSend, StatusNeedsRedraft, StatusError},
	StatusNeedsRedraft: {StatusDrafting, StatusEscalate, StatusSending, StatusError},
	StatusReadyToSend:  {StatusSending, StatusDrafting, StatusError},
	StatusEscalate:     {StatusDrafting, StatusSending, StatusError},
	StatusSending:      {StatusSent, StatusError},
	StatusError:        {StatusNew, StatusDrafting},
}

// CanTransition reports whether moving from s to next is allowed
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether automation never moves the message again.
// error is terminal for automation but can be reset by an operator.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusError || s == StatusEscalate
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	if s == StatusSent {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// Statuses lists every status in pipeline order
func Statuses() []Status {
	return []Status{
		StatusNew, StatusClassifying, StatusDrafting, StatusValidating,
		StatusReadyToSend, StatusNeedsRedraft, StatusEscalate, StatusSending, StatusSent, StatusError,
	}
}
