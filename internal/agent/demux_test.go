package agent

import (
	"context"
	"testing"

	"github.com/altavoz-ai/altavoz/pkg/provider/llm"
)

func demuxAll(t *testing.T, chunks []llm.Chunk) []StreamToken {
	t.Helper()
	in := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		in <- c
	}
	close(in)

	var out []StreamToken
	for tok := range Demux(context.Background(), in, nil) {
		out = append(out, tok)
	}
	return out
}

func TestDemux_TextOnly(t *testing.T) {
	got := demuxAll(t, []llm.Chunk{
		{Text: "Hello"},
		{Text: " there"},
		{FinishReason: "stop"},
	})

	if len(got) != 2 {
		t.Fatalf("got %d tokens, want 2: %+v", len(got), got)
	}
	if tok := got[0].(TextToken); tok.Text != "Hello" {
		t.Errorf("token 0 = %+v", got[0])
	}
	if tok := got[1].(TextToken); tok.Text != " there" {
		t.Errorf("token 1 = %+v", got[1])
	}
}

func TestDemux_InterleavedSpeechAndToolCall(t *testing.T) {
	got := demuxAll(t, []llm.Chunk{
		{Text: "Let me check. "},
		{ToolCallDeltas: []llm.ToolCallDelta{{Index: 0, ID: "call_1", Name: "lookup"}}},
		{ToolCallDeltas: []llm.ToolCallDelta{{Index: 0, Arguments: `{"q":`}}},
		{ToolCallDeltas: []llm.ToolCallDelta{{Index: 0, Arguments: `"x"}`}}},
		{FinishReason: "tool_calls"},
	})

	if len(got) != 3 {
		t.Fatalf("got %d tokens, want 3: %+v", len(got), got)
	}
	if tok := got[0].(TextToken); tok.Text != "Let me check. " {
		t.Errorf("token 0 = %+v", got[0])
	}

	first := got[1].(FunctionFragment)
	if first.Name != "lookup" || first.ToolCallID != "call_1" || first.Arguments != `{"q":` {
		t.Errorf("first fragment = %+v", first)
	}
	second := got[2].(FunctionFragment)
	if second.Name != "" {
		t.Errorf("name must be sent only once, got %+v", second)
	}
	if second.Arguments != `"x"}` {
		t.Errorf("second fragment = %+v", second)
	}

	call, ok := CollectToolCall([]FunctionFragment{first, second})
	if !ok {
		t.Fatal("CollectToolCall returned false")
	}
	if call.ID != "call_1" || call.Name != "lookup" || call.Arguments != `{"q":"x"}` {
		t.Errorf("collected call = %+v", call)
	}
}

func TestDemux_OnlyIndexZeroSurfaced(t *testing.T) {
	got := demuxAll(t, []llm.Chunk{
		{ToolCallDeltas: []llm.ToolCallDelta{
			{Index: 0, ID: "call_a", Name: "first"},
			{Index: 1, ID: "call_b", Name: "second"},
		}},
		{ToolCallDeltas: []llm.ToolCallDelta{
			{Index: 0, Arguments: "{}"},
			{Index: 1, Arguments: `{"x":1}`},
		}},
	})

	if len(got) != 1 {
		t.Fatalf("got %d tokens, want 1: %+v", len(got), got)
	}
	frag := got[0].(FunctionFragment)
	if frag.Name != "first" || frag.ToolCallID != "call_a" {
		t.Errorf("fragment = %+v", frag)
	}
}

func TestDemux_LegacyFunctionCall(t *testing.T) {
	got := demuxAll(t, []llm.Chunk{
		{FunctionCall: &llm.FunctionCallDelta{Name: "lookup"}},
		{FunctionCall: &llm.FunctionCallDelta{Arguments: `{"q":`}},
		{FunctionCall: &llm.FunctionCallDelta{Arguments: `"x"}`}},
		{FinishReason: "function_call"},
	})

	if len(got) != 2 {
		t.Fatalf("got %d tokens, want 2: %+v", len(got), got)
	}
	first := got[0].(FunctionFragment)
	if first.Name != "lookup" || first.ToolCallID != "" || first.Arguments != `{"q":` {
		t.Errorf("first fragment = %+v", first)
	}
	second := got[1].(FunctionFragment)
	if second.Name != "" || second.ToolCallID != "" {
		t.Errorf("second fragment = %+v", second)
	}

	call, ok := CollectToolCall([]FunctionFragment{first, second})
	if !ok {
		t.Fatal("CollectToolCall returned false")
	}
	if call.ID != "" || call.Name != "lookup" || call.Arguments != `{"q":"x"}` {
		t.Errorf("collected call = %+v", call)
	}
}

func TestDemux_FinishChunkDeltaIgnored(t *testing.T) {
	// Some backends attach a trailing delta to the finishing chunk; it must
	// not be emitted.
	got := demuxAll(t, []llm.Chunk{
		{Text: "done"},
		{Text: "leftover", FinishReason: "stop"},
	})

	if len(got) != 1 {
		t.Fatalf("got %d tokens, want 1: %+v", len(got), got)
	}
}

func TestDemux_ContentFilterStopsStream(t *testing.T) {
	got := demuxAll(t, []llm.Chunk{
		{Text: "I"},
		{FinishReason: "content_filter"},
		{Text: "never delivered"},
	})

	if len(got) != 1 {
		t.Fatalf("got %d tokens, want 1: %+v", len(got), got)
	}
}

func TestDemux_ContextCancelClosesOutput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan llm.Chunk)
	out := Demux(ctx, in, nil)

	cancel()
	if _, ok := <-out; ok {
		t.Fatal("output channel should close on context cancel")
	}
}

func TestCollectToolCall_Empty(t *testing.T) {
	if _, ok := CollectToolCall(nil); ok {
		t.Fatal("empty fragment list must return false")
	}
}
