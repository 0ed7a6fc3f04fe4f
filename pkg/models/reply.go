package models

// OutboundReply is a composed reply ready for the transport
type OutboundReply struct {
	MessageID  string // Message-ID of the reply itself
	From       string
	FromName   string
	To         string
	Subject    string
	InReplyTo  string
	References string
	Text       string
	HTML       string
}
