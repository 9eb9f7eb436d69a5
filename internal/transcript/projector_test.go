package transcript

import (
	"strings"
	"testing"

	"github.com/altavoz-ai/altavoz/internal/tokens"
	"github.com/altavoz-ai/altavoz/pkg/provider/llm"
)

// charEncoder counts one token per byte so budgets are explicit.
type charEncoder struct{}

func (charEncoder) Count(text string) int { return len(text) }

func newTestProjector(reserved int) *Projector {
	acct := tokens.NewAccountant("small-test-model", charEncoder{})
	return NewProjector(acct, WithReservedTokens(reserved))
}

func roles(msgs []llm.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Role
	}
	return strings.Join(parts, " ")
}

func TestChatMessages_BotUtteranceOwnsFollowingAction(t *testing.T) {
	events := []Event{
		Message{Sender: SenderBot, Text: "Let me check"},
		ActionStart{ToolCallID: "T1", Action: "lookup", Arguments: `{"q":"x"}`},
		ActionFinish{ToolCallID: "T1", Action: "lookup", Output: "ok"},
		Message{Sender: SenderBot, Text: "Found it"},
	}

	got := ChatMessages(events, "You are a helpful agent.")

	if want := "system assistant tool assistant"; roles(got) != want {
		t.Fatalf("roles = %q, want %q", roles(got), want)
	}
	asst := got[1]
	if asst.Content != "Let me check" {
		t.Errorf("assistant content = %q", asst.Content)
	}
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "T1" ||
		asst.ToolCalls[0].Name != "lookup" || asst.ToolCalls[0].Arguments != `{"q":"x"}` {
		t.Errorf("tool call = %+v", asst.ToolCalls)
	}
	tool := got[2]
	if tool.ToolCallID != "T1" || tool.Content != "ok" {
		t.Errorf("tool message = %+v", tool)
	}
	if got[3].Content != "Found it" || len(got[3].ToolCalls) != 0 {
		t.Errorf("final assistant = %+v", got[3])
	}
}

func TestChatMessages_ConsecutiveBotMessagesMerge(t *testing.T) {
	events := []Event{
		Message{Sender: SenderBot, Text: "Hello"},
		Message{Sender: SenderBot, Text: "there"},
		Message{Sender: SenderHuman, Text: "hi"},
	}

	got := ChatMessages(events, "")

	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].Role != RoleAssistant || got[0].Content != "Hello there" {
		t.Errorf("merged assistant = %+v", got[0])
	}
	if got[1].Role != RoleUser || got[1].Content != "hi" {
		t.Errorf("user = %+v", got[1])
	}
}

func TestChatMessages_HumanTurnStopsLookAhead(t *testing.T) {
	// The action belongs to a later turn, not to the utterance before the
	// caller spoke. It still projects, as a content-less assistant pair.
	events := []Event{
		Message{Sender: SenderBot, Text: "One moment"},
		Message{Sender: SenderHuman, Text: "sure"},
		ActionStart{ToolCallID: "T9", Action: "transfer", Arguments: "{}"},
		ActionFinish{ToolCallID: "T9", Action: "transfer", Output: "done"},
	}

	got := ChatMessages(events, "")

	if want := "assistant user assistant tool"; roles(got) != want {
		t.Fatalf("roles = %q, want %q", roles(got), want)
	}
	if len(got[0].ToolCalls) != 0 {
		t.Errorf("first assistant should not claim the action: %+v", got[0])
	}
	if got[2].Content != "" || len(got[2].ToolCalls) != 1 {
		t.Errorf("orphan pair assistant = %+v", got[2])
	}
}

func TestChatMessages_UnfinishedActionIsDropped(t *testing.T) {
	events := []Event{
		Message{Sender: SenderBot, Text: "Checking"},
		ActionStart{ToolCallID: "T2", Action: "lookup", Arguments: "{}"},
	}

	got := ChatMessages(events, "")

	if len(got) != 1 || got[0].Content != "Checking" || len(got[0].ToolCalls) != 0 {
		t.Fatalf("in-flight action must not project: %+v", got)
	}
}

func TestChatMessages_PhraseTriggeredActionsExcluded(t *testing.T) {
	events := []Event{
		Message{Sender: SenderHuman, Text: "stop"},
		ActionStart{ToolCallID: "P1", Action: "hangup", Arguments: "{}", PhraseTriggered: true},
		ActionFinish{ToolCallID: "P1", Action: "hangup", Output: "ok", PhraseTriggered: true},
	}

	got := ChatMessages(events, "")

	if len(got) != 1 || got[0].Role != RoleUser {
		t.Fatalf("phrase-triggered action leaked into projection: %+v", got)
	}
}

func TestChatMessages_ActionClaimedOnlyOnce(t *testing.T) {
	events := []Event{
		Message{Sender: SenderBot, Text: "Checking"},
		ActionStart{ToolCallID: "T3", Action: "lookup", Arguments: "{}"},
		ActionFinish{ToolCallID: "T3", Action: "lookup", Output: "ok"},
	}

	got := ChatMessages(events, "")

	pairs := 0
	for _, m := range got {
		if m.Role == RoleTool {
			pairs++
		}
	}
	if pairs != 1 {
		t.Fatalf("action projected %d times, want 1:\n%+v", pairs, got)
	}
}

func TestChatMessages_ConferenceAndEmptyMessages(t *testing.T) {
	events := []Event{
		Message{Sender: SenderHuman, Text: ""},
		ConferenceEvent{Text: "A third party joined the call."},
		Message{Sender: SenderBot, Text: "Welcome"},
	}

	got := ChatMessages(events, "")

	if want := "user assistant"; roles(got) != want {
		t.Fatalf("roles = %q, want %q", roles(got), want)
	}
	if got[0].Content != "A third party joined the call." {
		t.Errorf("conference text = %q", got[0].Content)
	}
}

func TestProject_PairsSurviveTruncation(t *testing.T) {
	tr := New()
	tr.Append(Message{Sender: SenderHuman, Text: strings.Repeat("a", 400)})
	tr.Append(Message{Sender: SenderBot, Text: "Let me look that up"})
	tr.Append(ActionStart{ToolCallID: "T1", Action: "lookup", Arguments: "{}"})
	tr.Append(ActionFinish{ToolCallID: "T1", Action: "lookup", Output: "result"})
	tr.Append(Message{Sender: SenderHuman, Text: "thanks"})

	// Unknown model gives a 4050-token window; with the default 50-token
	// margin this reserve leaves roughly 100 tokens, forcing heavy trimming.
	p := newTestProjector(3900)
	got, trimmed := p.Project(tr, "preamble", nil)

	if trimmed == 0 {
		t.Fatal("expected the long user message to be trimmed")
	}
	for i, m := range got {
		if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
			if i+1 >= len(got) || got[i+1].Role != RoleTool ||
				got[i+1].ToolCallID != m.ToolCalls[0].ID {
				t.Fatalf("tool call at %d lost its result:\n%+v", i, got)
			}
		}
	}
	for _, m := range got {
		if m.Role == RoleTool && m.ToolCallID == "T1" {
			return
		}
	}
	t.Fatalf("pair was trimmed away entirely:\n%+v", got)
}

func TestProject_SystemMessageNeverTrimmed(t *testing.T) {
	tr := New()
	for i := 0; i < 10; i++ {
		tr.Append(Message{Sender: SenderHuman, Text: strings.Repeat("x", 200)})
		tr.Append(Message{Sender: SenderBot, Text: strings.Repeat("y", 200)})
	}

	p := newTestProjector(3800)
	got, trimmed := p.Project(tr, "system preamble", nil)

	if trimmed == 0 {
		t.Fatal("expected trimming")
	}
	if len(got) == 0 || got[0].Role != RoleSystem || got[0].Content != "system preamble" {
		t.Fatalf("system preamble missing after trim: %+v", got)
	}
}

func TestProject_TrimsOldestFirst(t *testing.T) {
	tr := New()
	tr.Append(Message{Sender: SenderHuman, Text: "oldest " + strings.Repeat("a", 100)})
	tr.Append(Message{Sender: SenderBot, Text: "middle " + strings.Repeat("b", 100)})
	tr.Append(Message{Sender: SenderHuman, Text: "newest"})

	p := newTestProjector(3800)
	got, trimmed := p.Project(tr, "sys", nil)

	if trimmed != 1 {
		t.Fatalf("trimmed = %d, want 1", trimmed)
	}
	for _, m := range got {
		if strings.HasPrefix(m.Content, "oldest") {
			t.Fatalf("oldest message survived: %+v", got)
		}
	}
	if got[len(got)-1].Content != "newest" {
		t.Errorf("newest message must survive: %+v", got)
	}
}

func TestProject_GivesUpAtSingleMessage(t *testing.T) {
	tr := New()
	tr.Append(Message{Sender: SenderHuman, Text: strings.Repeat("z", 5000)})

	p := newTestProjector(256)
	got, _ := p.Project(tr, "", nil)

	if len(got) != 1 {
		t.Fatalf("last message must never be dropped, got %d", len(got))
	}
}

func TestProject_NoTrimWhenUnderBudget(t *testing.T) {
	tr := New()
	tr.Append(Message{Sender: SenderHuman, Text: "hola"})
	tr.Append(Message{Sender: SenderBot, Text: "buenas"})

	p := newTestProjector(256)
	got, trimmed := p.Project(tr, "sys", nil)

	if trimmed != 0 {
		t.Fatalf("trimmed = %d, want 0", trimmed)
	}
	if want := "system user assistant"; roles(got) != want {
		t.Errorf("roles = %q, want %q", roles(got), want)
	}
}
