// Package transform converts between the Gemini generateContent model and
// a chat-completions backend.
//
// A Translator is implemented once per backend and handed to the shared
// request pipeline in internal/generator.
package transform

import (
	"errors"

	"github.com/dvcrn/copilot-proxy/internal/gemini"
	"github.com/dvcrn/copilot-proxy/internal/openai"
)

// ErrEmptyResponse is returned when the backend answered with zero choices.
var ErrEmptyResponse = errors.New("backend returned an empty response")

// Translator reshapes requests and responses for one chat-completions backend.
type Translator interface {
	// BuildRequest converts a generic request into a backend request for model.
	BuildRequest(model string, req *gemini.GeminiInternalRequest) (*openai.ChatCompletionRequest, error)
	// ToGenericResponse converts a complete backend response.
	ToGenericResponse(resp *openai.ChatCompletionResponse) (*gemini.Response, error)
	// ToGenericStreamChunk converts one streamed chunk. It returns nil for
	// chunks that carry no text.
	ToGenericStreamChunk(chunk *openai.ChatCompletionChunk) *gemini.Response
}

// MapFinishReason maps a backend finish reason to its generic equivalent.
func MapFinishReason(reason string) gemini.FinishReason {
	switch reason {
	case openai.FinishReasonStop:
		return gemini.FinishReasonStop
	case openai.FinishReasonLength:
		return gemini.FinishReasonMaxTokens
	case openai.FinishReasonContentFilter:
		return gemini.FinishReasonSafety
	default:
		return gemini.FinishReasonUnspecified
	}
}

func toUsageMetadata(u *openai.Usage) *gemini.UsageMetadata {
	if u == nil {
		return nil
	}
	total := u.TotalTokens
	if total == 0 {
		total = u.PromptTokens + u.CompletionTokens
	}
	return &gemini.UsageMetadata{
		PromptTokenCount:     u.PromptTokens,
		CandidatesTokenCount: u.CompletionTokens,
		TotalTokenCount:      total,
	}
}
