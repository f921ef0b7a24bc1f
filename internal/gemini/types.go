package gemini

import (
	"encoding/json"
	"strings"
)

// Roles used in Content.Role.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Blob is inline binary data with its media type. Data is base64 encoded.
type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data,omitempty"`
}

// ContentPart represents a single part of a content message.
type ContentPart struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *Blob             `json:"inlineData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// Content represents a single turn in the conversation.
type Content struct {
	Role  string        `json:"role,omitempty"`
	Parts []ContentPart `json:"parts,omitempty"`
}

// Text concatenates the text parts of c.
func (c Content) Text() string {
	var b strings.Builder
	for _, p := range c.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// SystemInstruction defines the system-level instructions for the model.
type SystemInstruction struct {
	Role  string        `json:"role,omitempty"`
	Parts []ContentPart `json:"parts,omitempty"`
}

// GeminiParameterSchema defines the schema format for function parameters.
// Types are upper case (OBJECT, STRING, ...).
type GeminiParameterSchema struct {
	Type        string                            `json:"type,omitempty"`
	Description string                            `json:"description,omitempty"`
	Properties  map[string]*GeminiParameterSchema `json:"properties,omitempty"`
	Items       *GeminiParameterSchema            `json:"items,omitempty"`
	Required    []string                          `json:"required,omitempty"`
	Enum        []string                          `json:"enum,omitempty"`
}

// FunctionCall represents a tool call emitted by the model.
type FunctionCall struct {
	Name string                 `json:"name,omitempty"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// FunctionResponse represents the tool result returned by the client.
type FunctionResponse struct {
	Name     string                 `json:"name,omitempty"`
	Response map[string]interface{} `json:"response,omitempty"`
}

// FunctionDeclaration defines a function that can be called by the model.
type FunctionDeclaration struct {
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Parameters  *GeminiParameterSchema `json:"parameters,omitempty"`
}

// UnmarshalJSON accepts both parameters and parametersJsonSchema.
func (f *FunctionDeclaration) UnmarshalJSON(b []byte) error {
	type alias FunctionDeclaration
	var a alias
	if err := json.Unmarshal(b, &a); err == nil {
		*f = FunctionDeclaration(a)
		if f.Parameters != nil {
			return nil
		}
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if v, ok := raw["name"]; ok {
		_ = json.Unmarshal(v, &f.Name)
	}
	if v, ok := raw["description"]; ok {
		_ = json.Unmarshal(v, &f.Description)
	}
	if v, ok := raw["parametersJsonSchema"]; ok && f.Parameters == nil {
		var schema GeminiParameterSchema
		if err := json.Unmarshal(v, &schema); err == nil {
			f.Parameters = &schema
		}
	}
	return nil
}

// Tool represents a collection of function declarations.
type Tool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// UnmarshalJSON accepts functionDeclarations and function_declarations.
func (t *Tool) UnmarshalJSON(b []byte) error {
	type alias Tool
	var a alias
	if err := json.Unmarshal(b, &a); err == nil && len(a.FunctionDeclarations) > 0 {
		*t = Tool(a)
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if fdRaw, ok := raw["function_declarations"]; ok {
		var fds []FunctionDeclaration
		if err := json.Unmarshal(fdRaw, &fds); err != nil {
			return err
		}
		t.FunctionDeclarations = fds
		return nil
	}
	t.FunctionDeclarations = nil
	return nil
}

// GeminiGenerationConfig configures the generation process. Unset knobs are
// nil or zero so that backend defaults can be applied.
type GeminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

// GeminiInternalRequest is the body of a generateContent call.
type GeminiInternalRequest struct {
	Contents          []Content               `json:"contents,omitempty"`
	SystemInstruction *SystemInstruction      `json:"systemInstruction,omitempty"`
	Tools             []Tool                  `json:"tools,omitempty"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// UnmarshalJSON accepts tools as an array or a single object.
func (g *GeminiInternalRequest) UnmarshalJSON(b []byte) error {
	var raw struct {
		Contents          []Content               `json:"contents"`
		SystemInstruction *SystemInstruction      `json:"systemInstruction"`
		Tools             json.RawMessage         `json:"tools"`
		GenerationConfig  *GeminiGenerationConfig `json:"generationConfig"`
	}

	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	g.Contents = raw.Contents
	g.SystemInstruction = raw.SystemInstruction
	g.GenerationConfig = raw.GenerationConfig

	if len(raw.Tools) == 0 || string(raw.Tools) == "null" {
		g.Tools = nil
		return nil
	}

	var toolsArr []Tool
	if err := json.Unmarshal(raw.Tools, &toolsArr); err == nil {
		g.Tools = toolsArr
		return nil
	}

	var single Tool
	if err := json.Unmarshal(raw.Tools, &single); err != nil {
		return err
	}
	g.Tools = []Tool{single}
	return nil
}
