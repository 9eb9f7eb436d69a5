package llm

// Message is one entry of a chat request. The role determines which fields
// are meaningful.
type Message struct {
	// Role is "system", "user", "assistant", or "tool".
	Role string

	// Content is the message text. Assistant messages that only request
	// tool calls leave it empty.
	Content string

	// Name optionally identifies the speaker when several share a role.
	Name string

	// ToolCalls lists the invocations an assistant message requested.
	ToolCalls []ToolCall

	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string
}

// ToolCall is a fully assembled function invocation from the model.
type ToolCall struct {
	// ID is the provider-assigned call identifier.
	ID string

	// Name is the function name.
	Name string

	// Arguments holds the JSON-encoded argument object.
	Arguments string
}

// ToolCallDelta is one streamed fragment of a tool call. Providers emit these
// raw; the consumer accumulates fragments per Index into complete ToolCalls.
type ToolCallDelta struct {
	// Index identifies which parallel tool call this fragment belongs to.
	Index int

	// ID is set on the first fragment of a call, empty on continuations.
	ID string

	// Name is set on the first fragment of a call, empty on continuations.
	Name string

	// Arguments is the next slice of the JSON arguments string.
	Arguments string
}

// ToolDefinition is a function offered to the model in a request.
type ToolDefinition struct {
	// Name uniquely identifies the function within the request.
	Name string

	// Description tells the model when to call it.
	Description string

	// Parameters is the argument object's JSON Schema.
	Parameters map[string]any
}

// ModelCapabilities reports the static limits of a provider's model.
type ModelCapabilities struct {
	// ContextWindow caps input plus output tokens.
	ContextWindow int

	// MaxOutputTokens caps a single completion.
	MaxOutputTokens int

	// SupportsToolCalling reports native function calling.
	SupportsToolCalling bool

	// SupportsStreaming reports incremental delivery.
	SupportsStreaming bool
}
