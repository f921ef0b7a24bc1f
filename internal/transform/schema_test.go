package transform

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/dvcrn/copilot-proxy/internal/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToJSONSchema(t *testing.T) {
	testCases := []struct {
		name     string
		input    *gemini.GeminiParameterSchema
		expected map[string]interface{}
	}{
		{
			name:     "nil schema",
			input:    nil,
			expected: nil,
		},
		{
			name: "Simple Schema",
			input: &gemini.GeminiParameterSchema{
				Type:        "OBJECT",
				Description: "A simple object.",
				Properties: map[string]*gemini.GeminiParameterSchema{
					"name": {Type: "STRING", Description: "The name."},
				},
				Required: []string{"name"},
			},
			expected: map[string]interface{}{
				"type":        "object",
				"description": "A simple object.",
				"properties": map[string]interface{}{
					"name": map[string]interface{}{"type": "string", "description": "The name."},
				},
				"required": []string{"name"},
			},
		},
		{
			name: "Array of enums",
			input: &gemini.GeminiParameterSchema{
				Type: "ARRAY",
				Items: &gemini.GeminiParameterSchema{
					Type:     "OBJECT",
					Required: []string{"status"},
					Properties: map[string]*gemini.GeminiParameterSchema{
						"status": {Type: "STRING", Enum: []string{"pending", "completed"}},
					},
				},
			},
			expected: map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type":     "object",
					"required": []string{"status"},
					"properties": map[string]interface{}{
						"status": map[string]interface{}{"type": "string", "enum": []string{"pending", "completed"}},
					},
				},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual := toJSONSchema(tc.input)

			if !reflect.DeepEqual(actual, tc.expected) {
				actualJSON, _ := json.MarshalIndent(actual, "", "  ")
				expectedJSON, _ := json.MarshalIndent(tc.expected, "", "  ")
				t.Errorf("Schema conversion failed.\nExpected:\n%s\n\nGot:\n%s", string(expectedJSON), string(actualJSON))
			}
		})
	}
}

func TestBuildTools(t *testing.T) {
	tools := []gemini.Tool{{
		FunctionDeclarations: []gemini.FunctionDeclaration{
			{Name: "read", Description: "Read a file", Parameters: &gemini.GeminiParameterSchema{Type: "OBJECT"}},
			{Name: "now"},
			{Name: ""},
		},
	}}

	got := buildTools(tools)

	require.Len(t, got, 2, "declarations without a name are dropped")
	assert.Equal(t, "function", got[0].Type)
	assert.Equal(t, "read", got[0].Function.Name)
	assert.Equal(t, "Read a file", got[0].Function.Description)
	assert.Equal(t, map[string]interface{}{"type": "object"}, got[0].Function.Parameters)
	assert.Equal(t, map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}, got[1].Function.Parameters)
}
