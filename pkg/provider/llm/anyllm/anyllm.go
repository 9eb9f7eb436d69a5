// Package anyllm adapts github.com/mozilla-ai/any-llm-go to [llm.Provider],
// giving one constructor for every hosted backend the library speaks
// (OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq).
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/altavoz-ai/altavoz/pkg/provider/llm"
)

// backends maps provider names to any-llm-go constructors.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai":    asProvider(anyllmoai.New),
	"anthropic": asProvider(anthropic.New),
	"gemini":    asProvider(gemini.New),
	"ollama":    asProvider(ollama.New),
	"deepseek":  asProvider(deepseek.New),
	"mistral":   asProvider(mistral.New),
	"groq":      asProvider(groq.New),
}

// asProvider lifts a concrete backend constructor to the Provider interface.
func asProvider[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) func(...anyllmlib.Option) (anyllmlib.Provider, error) {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := fn(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Provider wraps one any-llm-go backend behind the pipeline's streaming
// interface.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New creates a provider. name selects the backend (see [Names]); a missing
// API key option falls back to the backend's environment variable.
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if name == "" {
		return nil, errors.New("anyllm: provider name is required")
	}
	if model == "" {
		return nil, errors.New("anyllm: model is required")
	}
	factory, ok := backends[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q (supported: %s)",
			name, strings.Join(Names(), ", "))
	}
	backend, err := factory(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", name, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// Names lists the supported backend names, sorted.
func Names() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StreamCompletion starts a streaming completion on the wrapped backend.
// Tool-call fragments pass through positionally; the consumer accumulates.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	chunks, errs := p.backend.CompletionStream(ctx, p.params(req))

	out := make(chan llm.Chunk, 32)
	go func() {
		defer close(out)
		for raw := range chunks {
			if len(raw.Choices) == 0 {
				continue
			}
			choice := raw.Choices[0]
			c := llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			for i, tc := range choice.Delta.ToolCalls {
				c.ToolCallDeltas = append(c.ToolCallDeltas, llm.ToolCallDelta{
					Index:     i,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		// The error channel resolves only after the chunk channel closes.
		if err := <-errs; err != nil {
			select {
			case out <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// Complete performs a blocking completion on the wrapped backend.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("anyllm: response carried no choices")
	}

	msg := resp.Choices[0].Message
	out := &llm.CompletionResponse{Content: msg.ContentString()}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
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

// Capabilities reports limits for the configured model, keyed on well known
// name prefixes. Unknown models assume a 128k window.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}
	switch name := strings.ToLower(p.model); {
	case strings.HasPrefix(name, "gpt-4.1"):
		caps.ContextWindow, caps.MaxOutputTokens = 1_047_576, 32_768
	case strings.HasPrefix(name, "gpt-4o"):
		caps.ContextWindow, caps.MaxOutputTokens = 128_000, 16_384
	case strings.HasPrefix(name, "claude"):
		caps.ContextWindow, caps.MaxOutputTokens = 200_000, 8_192
	case strings.HasPrefix(name, "gemini"):
		caps.ContextWindow, caps.MaxOutputTokens = 1_048_576, 8_192
	}
	return caps
}

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{Model: p.model}
	for _, m := range req.Messages {
		msg := anyllmlib.Message{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, anyllmlib.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: anyllmlib.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		params.Messages = append(params.Messages, msg)
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return params
}
