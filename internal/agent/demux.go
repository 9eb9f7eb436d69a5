// Package agent runs the conversational loop of one call: it projects the
// transcript, streams a completion, splits the stream into speech and tool
// calls, dispatches actions, and feeds synthesized audio to the output.
package agent

import (
	"context"
	"log/slog"

	"github.com/altavoz-ai/altavoz/pkg/provider/llm"
)

// StreamToken is one element of a demultiplexed completion stream: either a
// [TextToken] destined for synthesis or a [FunctionFragment] destined for the
// action runner.
type StreamToken interface {
	isStreamToken()
}

// TextToken is a piece of assistant speech.
type TextToken struct {
	Text string
}

// FunctionFragment is an incremental piece of a tool call. Name is set only
// on the first fragment of a call; Arguments carries the newly streamed JSON
// piece, to be concatenated by the consumer.
type FunctionFragment struct {
	Name       string
	Arguments  string
	ToolCallID string
}

func (TextToken) isStreamToken()        {}
func (FunctionFragment) isStreamToken() {}

// toolCallState accumulates one tool call's identity across chunks.
type toolCallState struct {
	id       string
	name     string
	nameSent bool
}

// Demux splits a completion chunk stream into speech tokens and function
// fragments.
//
// Providers stream tool-call deltas indexed by position; only the call at
// index zero is surfaced, matching single-action-per-turn dispatch. Legacy
// function_call deltas carry no index and no id and surface as fragments
// with an empty ToolCallID. A finish reason ends the stream immediately:
// the finishing chunk's own delta is never processed, and a content_filter
// finish is logged before stopping. The returned channel closes when the
// input closes, a finish reason arrives, or ctx is done.
func Demux(ctx context.Context, chunks <-chan llm.Chunk, log *slog.Logger) <-chan StreamToken {
	if log == nil {
		log = slog.Default()
	}
	out := make(chan StreamToken)
	go func() {
		defer close(out)
		calls := make(map[int]*toolCallState)
		var legacy toolCallState

		emit := func(tok StreamToken) bool {
			select {
			case out <- tok:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			var chunk llm.Chunk
			var ok bool
			select {
			case chunk, ok = <-chunks:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}

			if chunk.FinishReason != "" {
				if chunk.FinishReason == "content_filter" {
					log.Warn("completion stopped by content filter")
				}
				return
			}

			if chunk.Text != "" {
				if !emit(TextToken{Text: chunk.Text}) {
					return
				}
			}

			if fc := chunk.FunctionCall; fc != nil {
				if fc.Name != "" {
					legacy.name += fc.Name
				}
				if fc.Arguments != "" {
					frag := FunctionFragment{Arguments: fc.Arguments}
					if !legacy.nameSent {
						frag.Name = legacy.name
						legacy.nameSent = true
					}
					if !emit(frag) {
						return
					}
				}
			}

			for _, delta := range chunk.ToolCallDeltas {
				state, exists := calls[delta.Index]
				if !exists {
					state = &toolCallState{}
					calls[delta.Index] = state
				}
				if delta.ID != "" {
					state.id += delta.ID
				}
				if delta.Name != "" {
					state.name += delta.Name
				}

				if delta.Index != 0 || delta.Arguments == "" {
					continue
				}
				frag := FunctionFragment{
					Arguments:  delta.Arguments,
					ToolCallID: state.id,
				}
				if !state.nameSent {
					frag.Name = state.name
					state.nameSent = true
				}
				if !emit(frag) {
					return
				}
			}
		}
	}()
	return out
}

// CollectToolCall folds function fragments back into a complete tool call.
// Returns false when no fragments were supplied.
func CollectToolCall(frags []FunctionFragment) (llm.ToolCall, bool) {
	if len(frags) == 0 {
		return llm.ToolCall{}, false
	}
	var call llm.ToolCall
	for _, f := range frags {
		if f.Name != "" {
			call.Name = f.Name
		}
		if f.ToolCallID != "" {
			call.ID = f.ToolCallID
		}
		call.Arguments += f.Arguments
	}
	return call, true
}
