package transcript

import (
	"log/slog"

	"github.com/altavoz-ai/altavoz/internal/tokens"
	"github.com/altavoz-ai/altavoz/pkg/provider/llm"
)

// Chat roles used in projected messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// defaultReservedTokens is the completion-budget headroom subtracted from the
// model's context window before trimming history.
const defaultReservedTokens = 256

// truncationMargin is extra slack kept under the context limit so the request
// never lands exactly on the boundary.
const truncationMargin = 50

// lookAheadLimit bounds how far past a bot message the projector searches for
// the action that message announced.
const lookAheadLimit = 4

// Projector converts a transcript into the chat message list sent to the LLM,
// pairing each dispatched action with its result and trimming old history to
// the model's context window.
type Projector struct {
	acct     *tokens.Accountant
	reserved int
	log      *slog.Logger
}

// ProjectorOption configures a [Projector].
type ProjectorOption func(*Projector)

// WithReservedTokens sets the completion headroom subtracted from the context
// window. Defaults to 256.
func WithReservedTokens(n int) ProjectorOption {
	return func(p *Projector) {
		if n > 0 {
			p.reserved = n
		}
	}
}

// WithProjectorLogger sets the logger. Defaults to [slog.Default].
func WithProjectorLogger(log *slog.Logger) ProjectorOption {
	return func(p *Projector) {
		if log != nil {
			p.log = log
		}
	}
}

// NewProjector creates a projector that counts tokens with acct.
func NewProjector(acct *tokens.Accountant, opts ...ProjectorOption) *Projector {
	p := &Projector{
		acct:     acct,
		reserved: defaultReservedTokens,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Project converts the transcript into chat messages, prepends the system
// preamble, and trims history until the list plus the offered functions fits
// the model's context window. It returns the message list and the number of
// messages trimmed.
func (p *Projector) Project(t *Transcript, preamble string, functions []llm.ToolDefinition) ([]llm.Message, int) {
	messages := ChatMessages(t.Events(), preamble)
	return p.truncate(messages, functions)
}

// mergeBotMessages collapses runs of consecutive bot messages into one,
// joining their texts with a space. The merged entry keeps the metadata of
// the last message in the run. All other events pass through unchanged.
func mergeBotMessages(events []Event) []Event {
	out := make([]Event, 0, len(events))
	var run []Message
	flush := func() {
		if len(run) == 0 {
			return
		}
		merged := run[len(run)-1]
		if len(run) > 1 {
			text := run[0].Text
			for _, m := range run[1:] {
				text += " " + m.Text
			}
			merged.Text = text
		}
		out = append(out, merged)
		run = nil
	}
	for _, e := range events {
		if m, ok := e.(Message); ok && m.Sender == SenderBot {
			run = append(run, m)
			continue
		}
		flush()
		out = append(out, e)
	}
	flush()
	return out
}

// ChatMessages projects an event log into chat messages without truncation.
//
// Consecutive bot utterances merge into one assistant message. A bot message
// followed shortly by an action picks up that action as a tool call, so the
// assistant message and the tool result stay adjacent. Actions never claimed
// by an utterance project as a content-less assistant tool call. Actions
// triggered by phrase matching and empty utterances are dropped.
func ChatMessages(events []Event, preamble string) []llm.Message {
	events = mergeBotMessages(events)

	finishes := make(map[string]ActionFinish)
	for _, e := range events {
		if fin, ok := e.(ActionFinish); ok && !fin.PhraseTriggered {
			finishes[fin.ToolCallID] = fin
		}
	}

	var messages []llm.Message
	if preamble != "" {
		messages = append(messages, llm.Message{Role: RoleSystem, Content: preamble})
	}

	processed := make(map[string]bool)

	emitPair := func(content string, start ActionStart) {
		finish := finishes[start.ToolCallID]
		messages = append(messages, llm.Message{
			Role:    RoleAssistant,
			Content: content,
			ToolCalls: []llm.ToolCall{{
				ID:        start.ToolCallID,
				Name:      start.Action,
				Arguments: start.Arguments,
			}},
		})
		messages = append(messages, llm.Message{
			Role:       RoleTool,
			ToolCallID: start.ToolCallID,
			Content:    finish.Output,
		})
		processed[start.ToolCallID] = true
	}

	for i, e := range events {
		switch ev := e.(type) {
		case Message:
			if ev.Text == "" {
				continue
			}
			if ev.Sender == SenderHuman {
				messages = append(messages, llm.Message{Role: RoleUser, Content: ev.Text})
				continue
			}

			// A bot utterance that announces an action owns that action's
			// tool call. Search a short window ahead, stopping at the next
			// human turn.
			var owned *ActionStart
			for j := i + 1; j < len(events) && j < i+1+lookAheadLimit; j++ {
				if m, ok := events[j].(Message); ok && m.Sender == SenderHuman {
					break
				}
				start, ok := events[j].(ActionStart)
				if !ok || start.PhraseTriggered {
					continue
				}
				if _, finished := finishes[start.ToolCallID]; finished && !processed[start.ToolCallID] {
					owned = &start
					break
				}
			}
			if owned != nil {
				emitPair(ev.Text, *owned)
			} else {
				messages = append(messages, llm.Message{Role: RoleAssistant, Content: ev.Text})
			}

		case ActionStart:
			if ev.PhraseTriggered || processed[ev.ToolCallID] {
				continue
			}
			if _, finished := finishes[ev.ToolCallID]; finished {
				emitPair("", ev)
			}

		case ConferenceEvent:
			if ev.Text != "" {
				messages = append(messages, llm.Message{Role: RoleUser, Content: ev.Text})
			}
		}
	}
	return messages
}

// truncate drops oldest messages until the list plus functions fits the
// context budget. System messages, tool results, and assistant messages
// carrying tool calls are skipped so pairs survive intact; when only those
// remain, the message at index 1 is dropped as a last resort.
func (p *Projector) truncate(messages []llm.Message, functions []llm.ToolDefinition) ([]llm.Message, int) {
	budget := p.acct.MaxContext() - p.reserved - truncationMargin
	trimmed := 0
	for {
		total, err := p.acct.TotalTokens(messages, functions)
		if err != nil {
			p.log.Warn("token accounting failed, counting messages only",
				slog.String("model", p.acct.Model()), slog.Any("error", err))
			total = p.acct.MessageTokens(messages)
		}
		if total <= budget {
			return messages, trimmed
		}
		if len(messages) <= 1 {
			p.log.Error("conversation exceeds context window with nothing left to trim",
				slog.String("model", p.acct.Model()), slog.Int("tokens", total))
			return messages, trimmed
		}

		dropped := false
		for i := 1; i < len(messages); i++ {
			m := messages[i]
			if m.Role == RoleSystem || m.Role == RoleTool {
				continue
			}
			if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
				continue
			}
			messages = append(messages[:i], messages[i+1:]...)
			dropped = true
			break
		}
		if !dropped {
			messages = append(messages[:1], messages[2:]...)
		}
		trimmed++
	}
}
