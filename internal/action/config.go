// Package action invokes operator-configured external HTTP endpoints with
// arguments produced by the LLM. The action schema annotates where each
// parameter travels (path, query, or body) and how it is formatted before
// dispatch.
package action

import (
	"errors"

	"github.com/altavoz-ai/altavoz/pkg/provider/llm"
)

// ErrArgument reports invalid LLM-produced arguments: unparseable JSON or a
// path placeholder with no matching parameter. It aborts the single action,
// never the call.
var ErrArgument = errors.New("action: invalid arguments")

// ProcessingMode controls whether the agent's transcriber input is muted
// while an action is in flight.
type ProcessingMode string

const (
	// MuteAgent silences transcription from dispatch until completion.
	MuteAgent ProcessingMode = "mute_agent"

	// DoNotMute leaves the transcriber running during the action.
	DoNotMute ProcessingMode = "do_not_mute"
)

// Config describes one external action an agent may invoke.
type Config struct {
	// Name is the function name offered to the LLM.
	Name string `yaml:"name"`

	// Description is the function description offered to the LLM.
	Description string `yaml:"description"`

	// URL is the endpoint, with optional {param} path placeholders.
	URL string `yaml:"url"`

	// InputSchema is the JSON Schema for the action's arguments, extended
	// with x-parameter-locations, x-formats, and x-extra-context.
	InputSchema map[string]any `yaml:"input_schema"`

	// SignatureSecret keys the HMAC placed in the signature header.
	SignatureSecret string `yaml:"signature_secret"`

	// Headers are static headers sent with every request.
	Headers map[string]string `yaml:"headers"`

	ProcessingMode ProcessingMode `yaml:"processing_mode"`

	// SpeakOnSend plays the LLM-authored preamble before dispatch.
	SpeakOnSend bool `yaml:"speak_on_send"`

	// SpeakOnReceive plays the endpoint's agent_message after completion.
	SpeakOnReceive bool `yaml:"speak_on_receive"`

	// AsyncExecution fires the request without awaiting the response.
	AsyncExecution bool `yaml:"async_execution"`

	// WrapArguments sends the body as {"args": payload} instead of the raw
	// payload.
	WrapArguments bool `yaml:"wrap_arguments"`
}

// ParameterLocations returns the schema's x-parameter-locations map.
// Parameters without an entry default to "body".
func (c Config) ParameterLocations() map[string]string {
	return stringMap(c.InputSchema["x-parameter-locations"])
}

// Formats returns the schema's x-formats map.
func (c Config) Formats() map[string]string {
	return stringMap(c.InputSchema["x-formats"])
}

// ExtraContext returns the schema's x-extra-context values, such as the
// timezone used to localize naive timestamps.
func (c Config) ExtraContext() map[string]any {
	if m, ok := c.InputSchema["x-extra-context"].(map[string]any); ok {
		return m
	}
	return nil
}

// ToolDefinition converts the action into the function definition offered to
// the LLM. The x- extensions ride along in the schema; backends ignore them.
func (c Config) ToolDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        c.Name,
		Description: c.Description,
		Parameters:  c.InputSchema,
	}
}

func stringMap(v any) map[string]string {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}
