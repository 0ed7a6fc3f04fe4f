package models

// CallbackAction type of callback action
type CallbackAction string

const (
	CallbackSend     CallbackAction = "snd"
	CallbackOverride CallbackAction = "ovr" // Send despite needs_redraft/escalate
	CallbackRedraft  CallbackAction = "rd"
	CallbackRetry    CallbackAction = "rt"
)

// CallbackData structure for inline button callback
type CallbackData struct {
	Action    CallbackAction `json:"a"`
	MessageID int64          `json:"m"`
}
