package tokens

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/altavoz-ai/altavoz/pkg/provider/llm"
)

// renderFunction formats a tool definition into the pseudo-TypeScript
// declaration the chat backend injects into the prompt, e.g.
//
//	// Look up a user.
//	type lookup = (_: {
//	  id: string,
//	  limit?: number, // default: 10
//	}) => any;
//
// This is a token-counting aid, not a general JSON Schema serializer; schema
// constructs outside the supported subset return an error.
func renderFunction(f llm.ToolDefinition) (string, error) {
	r := &schemaRenderer{root: f.Parameters}

	var b strings.Builder
	fmt.Fprintf(&b, "// %s\ntype %s = (", f.Description, f.Name)
	body, ok, err := r.formatObject(f.Parameters, 0)
	if err != nil {
		return "", fmt.Errorf("tokens: render %s: %w", f.Name, err)
	}
	if ok {
		b.WriteString("_: ")
		b.WriteString(body)
	}
	b.WriteString(") => any;\n\n")
	return b.String(), nil
}

// schemaRenderer carries the root schema so $ref lookups can reach
// #/definitions entries.
type schemaRenderer struct {
	root map[string]any
}

// resolveRef follows a single "$ref": "#/definitions/Name" indirection.
func (r *schemaRenderer) resolveRef(schema map[string]any) map[string]any {
	ref, ok := schema["$ref"].(string)
	if !ok {
		return schema
	}
	name := ref
	if len(ref) > 14 {
		// strip the "#/definitions/" prefix
		name = ref[14:]
	}
	defs, ok := r.root["definitions"].(map[string]any)
	if !ok {
		return schema
	}
	resolved, ok := defs[name].(map[string]any)
	if !ok {
		return schema
	}
	return resolved
}

// formatSchema renders one schema node to its pseudo-type string.
func (r *schemaRenderer) formatSchema(schema map[string]any, indent int) (string, error) {
	schema = r.resolveRef(schema)

	if enum, ok := schema["enum"].([]any); ok {
		return formatEnum(enum), nil
	}

	typ, _ := schema["type"].(string)
	switch typ {
	case "object":
		body, ok, err := r.formatObject(schema, indent)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("object with no renderable properties")
		}
		return body, nil
	case "integer":
		return "number", nil
	case "boolean":
		return "boolean", nil
	case "string", "number":
		return typ, nil
	case "array":
		items, ok := schema["items"].(map[string]any)
		if !ok {
			return "", fmt.Errorf("array schema missing items")
		}
		inner, err := r.formatSchema(items, indent)
		if err != nil {
			return "", err
		}
		return inner + "[]", nil
	default:
		return "", fmt.Errorf("unknown schema type %q", typ)
	}
}

// formatEnum renders an enum as a union of JSON literals: "a" | "b".
func formatEnum(values []any) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		parts = append(parts, string(raw))
	}
	return strings.Join(parts, " | ")
}

// formatObject renders an object schema. The second return is false when the
// object has nothing to render and no additionalProperties escape; such
// properties are omitted entirely.
func (r *schemaRenderer) formatObject(schema map[string]any, indent int) (string, bool, error) {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		if truthy(schema["additionalProperties"]) {
			return "object", true, nil
		}
		return "", false, nil
	}

	required := requiredSet(schema)

	// Sorted for deterministic output; property order does not change the
	// token count materially.
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pad := strings.Repeat("  ", indent)
	var b strings.Builder
	b.WriteString("{\n")
	for _, key := range keys {
		value, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		value = r.resolveRef(value)

		rendered, err := r.renderProperty(value, indent)
		if err != nil {
			return "", false, err
		}
		if rendered == "" {
			continue
		}

		if desc, ok := value["description"].(string); ok && indent == 0 {
			for _, line := range strings.Split(strings.TrimSpace(desc), "\n") {
				fmt.Fprintf(&b, "%s// %s\n", pad, line)
			}
		}
		optional := "?"
		if required[key] {
			optional = ""
		}
		comment := ""
		if value["default"] != nil {
			comment = " // default: " + formatDefault(value)
		}
		fmt.Fprintf(&b, "%s%s%s: %s,%s\n", pad, key, optional, rendered, comment)
	}
	if indent > 0 {
		b.WriteString(strings.Repeat("  ", indent-1))
	}
	b.WriteString("}")
	return b.String(), true, nil
}

// renderProperty formats a property value, treating an unrenderable nested
// object as an omission rather than an error.
func (r *schemaRenderer) renderProperty(value map[string]any, indent int) (string, error) {
	if typ, _ := value["type"].(string); typ == "object" {
		if _, hasEnum := value["enum"]; !hasEnum {
			body, ok, err := r.formatObject(value, indent+1)
			if err != nil {
				return "", err
			}
			if !ok {
				return "", nil
			}
			return body, nil
		}
	}
	return r.formatSchema(value, indent+1)
}

// formatDefault renders a property's default for the trailing comment.
// Numbers that happen to be integral keep one decimal place.
func formatDefault(schema map[string]any) string {
	v := schema["default"]
	if typ, _ := schema["type"].(string); typ == "number" {
		if f, ok := v.(float64); ok {
			if f == float64(int64(f)) {
				return strconv.FormatFloat(f, 'f', 1, 64)
			}
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
	}
	return fmt.Sprintf("%v", v)
}

// requiredSet collects the schema's required property names.
func requiredSet(schema map[string]any) map[string]bool {
	out := map[string]bool{}
	switch req := schema["required"].(type) {
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				out[s] = true
			}
		}
	case []string:
		for _, s := range req {
			out[s] = true
		}
	}
	return out
}

// truthy mirrors loose boolean coercion for additionalProperties, which may
// be a bool or a schema object.
func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case map[string]any:
		return len(x) > 0
	case nil:
		return false
	default:
		return true
	}
}
