package tokens

import (
	"strings"
	"testing"

	"github.com/altavoz-ai/altavoz/pkg/provider/llm"
)

// charEncoder counts one token per byte, making expected values explicit.
type charEncoder struct{}

func (charEncoder) Count(text string) int { return len(text) }

func TestMaxContextTokens(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"gpt-4o", 127_940},
		{"gpt-4o-mini", 127_940},
		{"gpt-4.1", 999_000},
		{"gpt-4.1-nano", 999_000},
		{"ft:gpt-4o-mini:acme::abc123", 127_940},
		{"ft:gpt-4.1:acme::xyz", 999_000},
		{"some-unknown-model", 4050},
		{"ft:unknown-base:org::id", 4050},
	}
	for _, tt := range tests {
		if got := MaxContextTokens(tt.model); got != tt.want {
			t.Errorf("MaxContextTokens(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestMessageTokens_StructuralOverhead(t *testing.T) {
	a := NewAccountant("gpt-4o-mini", charEncoder{})

	if got := a.MessageTokens(nil); got != replyPriming {
		t.Errorf("empty list = %d tokens, want priming only (%d)", got, replyPriming)
	}

	msgs := []llm.Message{{Role: "user", Content: "hola"}}
	// 3 per message + len("user") + len("hola") + 3 priming.
	want := tokensPerMessage + 4 + 4 + replyPriming
	if got := a.MessageTokens(msgs); got != want {
		t.Errorf("MessageTokens = %d, want %d", got, want)
	}
}

func TestMessageTokens_NameCostsExtra(t *testing.T) {
	a := NewAccountant("gpt-4o-mini", charEncoder{})

	plain := a.MessageTokens([]llm.Message{{Role: "user", Content: "x"}})
	named := a.MessageTokens([]llm.Message{{Role: "user", Content: "x", Name: "ana"}})

	if named != plain+len("ana")+tokensPerName {
		t.Errorf("named message = %d, plain = %d; want name text plus %d extra",
			named, plain, tokensPerName)
	}
}

func TestFunctionTokens_EmptyIsFree(t *testing.T) {
	a := NewAccountant("gpt-4o-mini", charEncoder{})
	got, err := a.FunctionTokens(nil)
	if err != nil {
		t.Fatalf("FunctionTokens: %v", err)
	}
	if got != 0 {
		t.Errorf("no functions should cost 0 tokens, got %d", got)
	}
}

func TestFunctionTokens_IncludesOverhead(t *testing.T) {
	a := NewAccountant("gpt-4o-mini", charEncoder{})
	def := llm.ToolDefinition{
		Name:        "noop",
		Description: "Does nothing.",
		Parameters:  map[string]any{"type": "object"},
	}
	got, err := a.FunctionTokens([]llm.ToolDefinition{def})
	if err != nil {
		t.Fatalf("FunctionTokens: %v", err)
	}
	minimum := 3 + len(functionOverhead)
	if got <= minimum {
		t.Errorf("FunctionTokens = %d, want > fixed overhead %d", got, minimum)
	}
}

func TestEncoderForModel_FallsBackGracefully(t *testing.T) {
	// Must never return nil, even for nonsense model names.
	if EncoderForModel("definitely-not-a-model") == nil {
		t.Fatal("EncoderForModel returned nil")
	}
}

func TestRenderFunction_FullSchema(t *testing.T) {
	def := llm.ToolDefinition{
		Name:        "book_meeting",
		Description: "Book a meeting slot.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"attendees": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"confirm":   map[string]any{"type": "boolean", "default": true},
				"count":     map[string]any{"type": "integer"},
				"priority":  map[string]any{"type": "string", "enum": []any{"low", "high"}},
				"when":      map[string]any{"type": "string", "description": "ISO-8601 start time."},
			},
			"required": []any{"when"},
		},
	}

	got, err := renderFunction(def)
	if err != nil {
		t.Fatalf("renderFunction: %v", err)
	}

	want := "// Book a meeting slot.\n" +
		"type book_meeting = (_: {\n" +
		"attendees?: string[],\n" +
		"confirm?: boolean, // default: true\n" +
		"count?: number,\n" +
		"priority?: \"low\" | \"high\",\n" +
		"// ISO-8601 start time.\n" +
		"when: string,\n" +
		"}) => any;\n\n"
	if got != want {
		t.Errorf("renderFunction mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRenderFunction_RefResolution(t *testing.T) {
	def := llm.ToolDefinition{
		Name:        "assign",
		Description: "Assign a user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"target": map[string]any{"$ref": "#/definitions/User"},
			},
			"definitions": map[string]any{
				"User": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": map[string]any{"type": "string"},
					},
					"required": []any{"id"},
				},
			},
		},
	}

	got, err := renderFunction(def)
	if err != nil {
		t.Fatalf("renderFunction: %v", err)
	}
	if !strings.Contains(got, "target?: {\n  id: string,\n}") {
		t.Errorf("ref not resolved into nested object:\n%s", got)
	}
}

func TestRenderFunction_AdditionalPropertiesOnly(t *testing.T) {
	def := llm.ToolDefinition{
		Name:        "store",
		Description: "Store arbitrary data.",
		Parameters: map[string]any{
			"type":                 "object",
			"additionalProperties": true,
		},
	}

	got, err := renderFunction(def)
	if err != nil {
		t.Fatalf("renderFunction: %v", err)
	}
	if !strings.Contains(got, "(_: object) => any;") {
		t.Errorf("open object should render as bare \"object\":\n%s", got)
	}
}

func TestRenderFunction_NoParameters(t *testing.T) {
	def := llm.ToolDefinition{
		Name:        "hangup",
		Description: "End the call.",
		Parameters:  map[string]any{"type": "object"},
	}

	got, err := renderFunction(def)
	if err != nil {
		t.Fatalf("renderFunction: %v", err)
	}
	want := "// End the call.\ntype hangup = () => any;\n\n"
	if got != want {
		t.Errorf("renderFunction = %q, want %q", got, want)
	}
}

func TestRenderFunction_UnknownTypeErrors(t *testing.T) {
	def := llm.ToolDefinition{
		Name:        "bad",
		Description: "Broken schema.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"x": map[string]any{"type": "null"},
			},
		},
	}
	if _, err := renderFunction(def); err == nil {
		t.Fatal("expected error for unsupported schema type")
	}
}
