package transform

import (
	"strings"

	"github.com/dvcrn/copilot-proxy/internal/gemini"
	"github.com/dvcrn/copilot-proxy/internal/openai"
)

// buildTools converts Gemini function declarations into function tools.
func buildTools(tools []gemini.Tool) []openai.Tool {
	var out []openai.Tool
	for _, t := range tools {
		for _, fd := range t.FunctionDeclarations {
			if fd.Name == "" {
				continue
			}
			params := toJSONSchema(fd.Parameters)
			if params == nil {
				params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
			}
			out = append(out, openai.Tool{
				Type: "function",
				Function: openai.Function{
					Name:        fd.Name,
					Description: fd.Description,
					Parameters:  params,
				},
			})
		}
	}
	return out
}

// toJSONSchema converts a Gemini parameter schema to JSON Schema. Gemini
// type names are upper case; JSON Schema expects lower case.
func toJSONSchema(s *gemini.GeminiParameterSchema) map[string]interface{} {
	if s == nil {
		return nil
	}

	out := map[string]interface{}{}
	if s.Type != "" {
		out["type"] = strings.ToLower(s.Type)
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]interface{}, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = toJSONSchema(p)
		}
		out["properties"] = props
	}
	if s.Items != nil {
		out["items"] = toJSONSchema(s.Items)
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	return out
}
