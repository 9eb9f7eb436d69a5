// Package tokens provides context-window accounting for chat models: counting
// the tokens a projected message list and its offered functions will consume,
// and looking up per-model context limits. Used by the transcript projector to
// decide how much history fits.
package tokens

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/altavoz-ai/altavoz/pkg/provider/llm"
)

// Per-message structural overhead for OpenAI chat models, plus the reply
// priming tokens appended once per request.
const (
	tokensPerMessage = 3
	tokensPerName    = 1
	replyPriming     = 3
)

// functionOverhead is the fixed prompt scaffolding OpenAI wraps around
// offered functions. Counted once whenever at least one function is present.
const functionOverhead = `# Tools

## functions

namespace functions {

} // namespace functions`

// maxContextTokens maps model names to usable context sizes. Values are held
// slightly under the advertised window to leave room for response metadata.
var maxContextTokens = map[string]int{
	"gpt-4o":       127_940,
	"gpt-4o-mini":  127_940,
	"gpt-4.1":      999_000,
	"gpt-4.1-mini": 999_000,
	"gpt-4.1-nano": 999_000,
}

// defaultMaxTokens is the conservative limit for models not in the table.
const defaultMaxTokens = 4050

// MaxContextTokens returns the usable context size for a model. Fine-tuned
// models ("ft:base:org::id") resolve to their base model. Unknown models get
// a conservative default.
func MaxContextTokens(model string) int {
	if strings.HasPrefix(model, "ft:") {
		parts := strings.Split(model, ":")
		if len(parts) > 1 {
			model = parts[1]
		}
	}
	if max, ok := maxContextTokens[model]; ok {
		return max
	}
	return defaultMaxTokens
}

// Encoder counts the tokens a string occupies in some model encoding. It is
// an interface so tests can substitute a deterministic counter; production
// code uses the tiktoken adapter from EncoderForModel.
type Encoder interface {
	Count(text string) int
}

type tiktokenEncoder struct {
	tk *tiktoken.Tiktoken
}

func (e tiktokenEncoder) Count(text string) int {
	return len(e.tk.Encode(text, nil, nil))
}

// charEstimator approximates 4 characters per token. Last-resort fallback
// when no encoding data is available at all.
type charEstimator struct{}

func (charEstimator) Count(text string) int {
	return (len(text) + 3) / 4
}

// EncoderForModel returns the tokenizer for a model. Unknown models fall back
// to o200k_base for the gpt-4.1 family and cl100k_base otherwise; if even the
// fallback encoding cannot be loaded, a character-count estimator is used.
func EncoderForModel(model string) Encoder {
	if tk, err := tiktoken.EncodingForModel(model); err == nil {
		return tiktokenEncoder{tk}
	}
	name := "cl100k_base"
	if strings.HasPrefix(model, "gpt-4.1") {
		name = "o200k_base"
	}
	if tk, err := tiktoken.GetEncoding(name); err == nil {
		return tiktokenEncoder{tk}
	}
	return charEstimator{}
}

// Accountant counts tokens for one model's encoding.
type Accountant struct {
	model string
	enc   Encoder
}

// NewAccountant creates an accountant for model. A nil enc selects the real
// tokenizer via EncoderForModel.
func NewAccountant(model string, enc Encoder) *Accountant {
	if enc == nil {
		enc = EncoderForModel(model)
	}
	return &Accountant{model: model, enc: enc}
}

// Model returns the model this accountant was built for.
func (a *Accountant) Model() string { return a.model }

// MaxContext returns the usable context size for the accountant's model.
func (a *Accountant) MaxContext() int { return MaxContextTokens(a.model) }

// MessageTokens returns the number of tokens a message list consumes,
// including per-message structural overhead and reply priming.
func (a *Accountant) MessageTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += tokensPerMessage
		total += a.enc.Count(m.Role)
		if m.Content != "" {
			total += a.enc.Count(m.Content)
		}
		if m.Name != "" {
			total += a.enc.Count(m.Name) + tokensPerName
		}
		if m.ToolCallID != "" {
			total += a.enc.Count(m.ToolCallID)
		}
	}
	return total + replyPriming
}

// FunctionTokens returns the number of tokens the offered functions add to
// the prompt. Each function is rendered into the pseudo-type declaration the
// backend uses internally and tokenized. Returns an error for schema
// constructs outside the supported subset.
func (a *Accountant) FunctionTokens(functions []llm.ToolDefinition) (int, error) {
	if len(functions) == 0 {
		return 0, nil
	}

	total := 3 + a.enc.Count(functionOverhead)
	for _, f := range functions {
		rendered, err := renderFunction(f)
		if err != nil {
			return 0, err
		}
		total += a.enc.Count(rendered)
	}
	return total, nil
}

// TotalTokens is MessageTokens + FunctionTokens in one call.
func (a *Accountant) TotalTokens(messages []llm.Message, functions []llm.ToolDefinition) (int, error) {
	fn, err := a.FunctionTokens(functions)
	if err != nil {
		return 0, err
	}
	return a.MessageTokens(messages) + fn, nil
}
