package transform

import (
	"encoding/json"
	"fmt"

	"github.com/dvcrn/copilot-proxy/internal/gemini"
	"github.com/dvcrn/copilot-proxy/internal/logger"
	"github.com/dvcrn/copilot-proxy/internal/openai"
)

// Sampling defaults applied when the generic request leaves a knob unset.
const (
	DefaultMaxTokens   = 4096
	DefaultTemperature = 0.7
	DefaultTopP        = 1.0
)

// CopilotTranslator is the Translator for the GitHub Copilot chat-completions API.
// The API is text only, so inline data is replaced by a placeholder.
type CopilotTranslator struct{}

var _ Translator = CopilotTranslator{}

// BuildRequest implements Translator.
func (CopilotTranslator) BuildRequest(model string, req *gemini.GeminiInternalRequest) (*openai.ChatCompletionRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}

	messages, err := buildMessages(req.SystemInstruction, req.Contents)
	if err != nil {
		return nil, fmt.Errorf("failed to convert contents: %w", err)
	}

	out := &openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		Tools:       buildTools(req.Tools),
	}
	if cfg := req.GenerationConfig; cfg != nil {
		if cfg.MaxOutputTokens > 0 {
			out.MaxTokens = cfg.MaxOutputTokens
		}
		if cfg.Temperature != nil {
			out.Temperature = *cfg.Temperature
		}
		if cfg.TopP != nil {
			out.TopP = *cfg.TopP
		}
	}
	return out, nil
}

// ToGenericResponse implements Translator.
func (CopilotTranslator) ToGenericResponse(resp *openai.ChatCompletionResponse) (*gemini.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	var parts []gemini.ContentPart
	if text := choice.Message.Text(); text != "" || len(choice.Message.ToolCalls) == 0 {
		parts = append(parts, gemini.ContentPart{Text: text})
	}
	for _, tc := range choice.Message.ToolCalls {
		parts = append(parts, gemini.ContentPart{FunctionCall: toFunctionCall(tc)})
	}

	return &gemini.Response{
		Candidates: []gemini.Candidate{{
			Content:      gemini.Content{Role: gemini.RoleModel, Parts: parts},
			FinishReason: MapFinishReason(choice.FinishReason),
			Index:        0,
		}},
		UsageMetadata: toUsageMetadata(resp.Usage),
		ModelVersion:  resp.Model,
		ResponseID:    resp.ID,
	}, nil
}

// ToGenericStreamChunk implements Translator.
func (CopilotTranslator) ToGenericStreamChunk(chunk *openai.ChatCompletionChunk) *gemini.Response {
	text, ok := chunk.DeltaText()
	if !ok {
		return nil
	}

	choice := chunk.Choices[0]
	candidate := gemini.Candidate{
		Content: gemini.Content{Role: gemini.RoleModel, Parts: []gemini.ContentPart{{Text: text}}},
		Index:   choice.Index,
	}
	if choice.FinishReason != nil {
		candidate.FinishReason = MapFinishReason(*choice.FinishReason)
	}

	return &gemini.Response{
		Candidates:    []gemini.Candidate{candidate},
		UsageMetadata: toUsageMetadata(chunk.Usage),
		ModelVersion:  chunk.Model,
		ResponseID:    chunk.ID,
	}
}

func toFunctionCall(tc openai.ToolCall) *gemini.FunctionCall {
	fc := &gemini.FunctionCall{Name: tc.Function.Name}
	if tc.Function.Arguments == "" {
		return fc
	}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &fc.Args); err != nil {
		logger.Get().Warn().Err(err).Str("function", tc.Function.Name).Msg("Tool call arguments are not a JSON object")
		fc.Args = map[string]interface{}{"arguments": tc.Function.Arguments}
	}
	return fc
}
