package providers

import "strings"

// geminiUnsupportedSchemaKeys lists JSON Schema keywords Gemini's function
// calling rejects or ignores unpredictably when present in a tool's
// parameters schema. Every other provider in this package accepts the
// model's tool schema as authored, so only Gemini needs a strip pass.
var geminiUnsupportedSchemaKeys = map[string]bool{
	"$schema":              true,
	"additionalProperties": true,
	"default":              true,
	"examples":             true,
}

// CleanSchemaForProvider returns a copy of schema with keys that provider
// doesn't support in tool parameter schemas removed, recursing into
// "properties" and array "items". Providers without known restrictions
// (anthropic, plain openai) get the schema back unchanged.
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	if !strings.Contains(strings.ToLower(provider), "gemini") {
		return schema
	}
	return stripSchemaKeys(schema, geminiUnsupportedSchemaKeys)
}

func stripSchemaKeys(node map[string]interface{}, drop map[string]bool) map[string]interface{} {
	cleaned := make(map[string]interface{}, len(node))
	for k, v := range node {
		if drop[k] {
			continue
		}
		switch val := v.(type) {
		case map[string]interface{}:
			cleaned[k] = stripSchemaKeys(val, drop)
		default:
			cleaned[k] = v
		}
	}

	if props, ok := cleaned["properties"].(map[string]interface{}); ok {
		cleanProps := make(map[string]interface{}, len(props))
		for name, propSchema := range props {
			if m, ok := propSchema.(map[string]interface{}); ok {
				cleanProps[name] = stripSchemaKeys(m, drop)
			} else {
				cleanProps[name] = propSchema
			}
		}
		cleaned["properties"] = cleanProps
	}

	if items, ok := cleaned["items"].(map[string]interface{}); ok {
		cleaned["items"] = stripSchemaKeys(items, drop)
	}

	return cleaned
}

// CleanToolSchemas builds the OpenAI-wire tool array
// ({"type":"function","function":{...}}) for req.Tools, applying
// CleanSchemaForProvider to each tool's parameters for provider.
func CleanToolSchemas(provider string, tools []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  CleanSchemaForProvider(provider, t.Function.Parameters),
			},
		})
	}
	return out
}
