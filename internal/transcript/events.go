// Package transcript holds the per-call event log and its projection into
// the chat message list an LLM expects. The event log is an append-only
// tagged union written exclusively by the agent loop; the projector converts
// it on every turn, preserving tool-call/tool-response pairing and trimming
// history to the model's context window.
package transcript

import (
	"sync"
	"time"
)

// Sender identifies who produced a spoken message.
type Sender string

const (
	// SenderHuman is the caller.
	SenderHuman Sender = "human"

	// SenderBot is the agent.
	SenderBot Sender = "bot"
)

// Event is one entry in the event log. The set of implementations is closed:
// Message, ActionStart, ActionFinish, ConferenceEvent.
type Event interface {
	isEvent()
	// When returns the event's wall-clock timestamp.
	When() time.Time
}

// Message is a spoken utterance from either party.
type Message struct {
	Sender Sender
	Text   string
	Time   time.Time
}

// ActionStart records the agent dispatching an external action.
type ActionStart struct {
	// ToolCallID is the LLM-assigned id pairing this start with its finish.
	ToolCallID string

	// Action is the action/function name.
	Action string

	// Arguments is the JSON-encoded action input.
	Arguments string

	// PhraseTriggered marks actions fired by phrase matching rather than the
	// LLM; these never project into chat history.
	PhraseTriggered bool

	Time time.Time
}

// ActionFinish records an external action's result.
type ActionFinish struct {
	ToolCallID string
	Action     string

	// Output is the serialized action result handed back to the LLM.
	Output string

	PhraseTriggered bool

	Time time.Time
}

// ConferenceEvent records a third party joining or leaving the call.
type ConferenceEvent struct {
	Text string
	Time time.Time
}

func (Message) isEvent()         {}
func (ActionStart) isEvent()     {}
func (ActionFinish) isEvent()    {}
func (ConferenceEvent) isEvent() {}

func (e Message) When() time.Time         { return e.Time }
func (e ActionStart) When() time.Time     { return e.Time }
func (e ActionFinish) When() time.Time    { return e.Time }
func (e ConferenceEvent) When() time.Time { return e.Time }

// Transcript is the append-only event log of one call.
//
// Only the agent loop writes; other tasks read snapshots via Events. The
// mutex makes snapshot reads safe from metric and persistence tasks.
type Transcript struct {
	mu     sync.Mutex
	events []Event
}

// New creates an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// Append adds an event to the log.
func (t *Transcript) Append(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

// AddHumanMessage appends a caller utterance.
func (t *Transcript) AddHumanMessage(text string) {
	t.Append(Message{Sender: SenderHuman, Text: text, Time: time.Now()})
}

// AddBotMessage appends an agent utterance.
func (t *Transcript) AddBotMessage(text string) {
	t.Append(Message{Sender: SenderBot, Text: text, Time: time.Now()})
}

// Events returns a snapshot copy of the log.
func (t *Transcript) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Len returns the number of logged events.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}
