// Package openai implements [llm.Provider] on the official OpenAI SDK.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/altavoz-ai/altavoz/pkg/provider/llm"
)

// streamBuffer is the chunk channel depth. Deltas arrive faster than speech
// plays, so a small buffer keeps the SDK reader from stalling on the demux.
const streamBuffer = 32

// Provider streams chat completions from the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

var _ llm.Provider = (*Provider)(nil)

// Option configures [New].
type Option func(*settings)

type settings struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// WithBaseURL points the client at a compatible endpoint (proxy, Azure,
// local gateway) instead of api.openai.com.
func WithBaseURL(url string) Option {
	return func(s *settings) { s.baseURL = url }
}

// WithOrganization sets the OpenAI organization header on every request.
func WithOrganization(org string) Option {
	return func(s *settings) { s.organization = org }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// New creates a provider for the given model. apiKey and model are required.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if model == "" {
		return nil, errors.New("openai: model is required")
	}
	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	ro := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		ro = append(ro, option.WithBaseURL(s.baseURL))
	}
	if s.organization != "" {
		ro = append(ro, option.WithOrganization(s.organization))
	}
	if s.timeout > 0 {
		ro = append(ro, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	return &Provider{client: oai.NewClient(ro...), model: model}, nil
}

// StreamCompletion starts a streaming chat completion. Tool-call fragments
// pass through raw, keyed by the SDK's delta index; the consumer accumulates
// them.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.requestParams(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	out := make(chan llm.Chunk, streamBuffer)
	go func() {
		defer close(out)
		defer stream.Close()
		for stream.Next() {
			raw := stream.Current()
			if len(raw.Choices) == 0 {
				continue
			}
			select {
			case out <- fromDelta(raw.Choices[0]):
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			select {
			case out <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// fromDelta maps one SDK stream choice onto the provider-neutral chunk.
func fromDelta(choice oai.ChatCompletionChunkChoice) llm.Chunk {
	c := llm.Chunk{
		Text:         choice.Delta.Content,
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Delta.ToolCalls {
		c.ToolCallDeltas = append(c.ToolCallDeltas, llm.ToolCallDelta{
			Index:     int(tc.Index),
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	// Older models answer with the deprecated function_call shape instead of
	// tool_calls.
	if fc := choice.Delta.FunctionCall; fc.Name != "" || fc.Arguments != "" {
		c.FunctionCall = &llm.FunctionCallDelta{
			Name:      fc.Name,
			Arguments: fc.Arguments,
		}
	}
	return c
}

// Complete performs a blocking chat completion.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.requestParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response carried no choices")
	}

	msg := resp.Choices[0].Message
	out := &llm.CompletionResponse{
		Content: msg.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// modelSpec describes the window limits of a model-name prefix family.
type modelSpec struct {
	prefix    string
	window    int
	maxOutput int
}

// Ordered most-specific first; the first matching prefix wins.
var modelSpecs = []modelSpec{
	{"gpt-4.1", 1_047_576, 32_768},
	{"gpt-4o-mini", 128_000, 16_384},
	{"gpt-4o", 128_000, 16_384},
	{"gpt-4-turbo", 128_000, 4_096},
	{"gpt-4", 8_192, 4_096},
	{"gpt-3.5-turbo", 16_385, 4_096},
}

// Capabilities reports the model's limits. Unknown models assume a 128k
// window, which holds for current generations.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}
	name := strings.ToLower(p.model)
	for _, spec := range modelSpecs {
		if strings.HasPrefix(name, spec.prefix) {
			caps.ContextWindow = spec.window
			caps.MaxOutputTokens = spec.maxOutput
			break
		}
	}
	return caps
}

func (p *Provider) requestParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
	}
	for _, m := range req.Messages {
		sdkMsg, err := sdkMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		params.Messages = append(params.Messages, sdkMsg)
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: param.NewOpt(tool.Description),
				Parameters:  shared.FunctionParameters(tool.Parameters),
			},
		})
	}
	return params, nil
}

func sdkMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil
	case "user":
		return oai.UserMessage(m.Content), nil
	case "tool":
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	case "assistant":
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unsupported message role %q", m.Role)
	}
}
