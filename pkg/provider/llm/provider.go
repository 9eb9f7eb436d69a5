// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API and exposes a uniform
// streaming interface for the call pipeline to drive turn generation without
// coupling to any specific SDK.
//
// Providers emit raw stream fragments: text deltas, tool-call fragments keyed
// by index, and finish reasons. They do not accumulate tool calls themselves;
// that is the job of the stream demultiplexer in the agent layer, which needs
// the fragments as they arrive to begin speaking before arguments complete.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import "context"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages
// must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history, system message included.
	Messages []Message

	// Tools is the set of function/tool definitions offered to the model.
	Tools []ToolDefinition

	// Temperature controls output randomness in the range [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion. A chunk may
// carry text, tool-call fragments, a finish signal, or any combination.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// ToolCallDeltas holds raw tool-call fragments from this chunk, in the
	// order the provider emitted them. Fragments for the same Index must be
	// concatenated by the consumer.
	ToolCallDeltas []ToolCallDelta

	// FunctionCall holds a fragment of a deprecated-style function_call,
	// emitted by older models instead of ToolCallDeltas. Legacy calls carry
	// no index and no id; at most one per response.
	FunctionCall *FunctionCallDelta

	// FinishReason is set on the final chunk and indicates why generation
	// stopped: "stop", "length", "tool_calls", "content_filter", or "error".
	// Empty on non-final chunks.
	FinishReason string
}

// FunctionCallDelta is one fragment of a legacy function_call. Name arrives
// on the first fragment, Arguments streams across the rest.
type FunctionCallDelta struct {
	Name      string
	Arguments string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. Empty when the model
	// responds exclusively with tool calls.
	Content string

	// ToolCalls lists all tool invocations requested by the model.
	ToolCalls []ToolCall

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must propagate context cancellation promptly.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or when ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened surface as a Chunk with FinishReason
	// "error"; the initial error return is non-nil only for failures that
	// prevent the stream from starting.
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response. It is a
	// convenience for callers that do not need incremental output.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata describing what this provider's
	// underlying model supports.
	Capabilities() ModelCapabilities
}
