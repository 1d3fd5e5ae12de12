// Package conversation implements the chat binding conversation as a transition
// function over a per-chat Session. It decides what to do; the bot executes the
// resulting effects against the chat transport.
package conversation

// State is the position of a chat in the binding conversation
type State int

const (
	// StateNone means no conversation is in progress
	StateNone State = iota
	// StateLogin waits for the user to send a login
	StateLogin
	// StateConfirmation waits for the bind token sent to the web portal
	StateConfirmation
	// StateFinish waits for the save or reset button
	StateFinish
)

func (s State) String() string {
	switch s {
	case StateLogin:
		return "login"
	case StateConfirmation:
		return "confirmation"
	case StateFinish:
		return "finish"
	default:
		return "none"
	}
}

// Context holds the fields accumulated while a conversation runs
type Context struct {
	Login  string
	ChatID int64
}

// Session is the conversation state of one chat
type Session struct {
	State   State
	Context Context
}

// Active reports whether a conversation is in progress
func (s Session) Active() bool {
	return s.State != StateNone
}

// EventKind classifies inbound chat events
type EventKind int

const (
	EventUnknown EventKind = iota
	EventCommand
	EventText
	EventCallback
)

func (k EventKind) String() string {
	switch k {
	case EventCommand:
		return "command"
	case EventText:
		return "text"
	case EventCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// Event is one inbound update addressed to a chat
type Event struct {
	ChatID int64
	Kind   EventKind

	// Command is the bot command without the slash, Args whatever followed it
	Command string
	Args    string

	Text string

	// Data is the callback payload of a pressed button
	Data       string
	CallbackID string
	// MessageID is the message carrying the pressed button
	MessageID int
}

// Callback payloads of the finish keyboard
const (
	CallbackSave  = "save"
	CallbackReset = "reset"
)

// Button is an inline keyboard button
type Button struct {
	Text string
	Data string
}

// Effect is something the bot must do in response to an event
type Effect interface {
	isEffect()
}

// Reply sends a new message to the chat
type Reply struct {
	Text     string
	Keyboard []Button
}

// EditMessage replaces the text of an earlier message and drops its keyboard
type EditMessage struct {
	MessageID int
	Text      string
}

// AnswerCallback acknowledges a button press
type AnswerCallback struct {
	CallbackID string
	Text       string
}

func (Reply) isEffect()          {}
func (EditMessage) isEffect()    {}
func (AnswerCallback) isEffect() {}
