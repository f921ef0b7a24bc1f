package server

import (
	"net/http"
	"strings"
)

// ModelInfo describes a model in the Gemini models list format.
type ModelInfo struct {
	Name                       string   `json:"name"`
	BaseModelID                string   `json:"baseModelId"`
	Version                    string   `json:"version"`
	DisplayName                string   `json:"displayName"`
	Description                string   `json:"description,omitempty"`
	InputTokenLimit            int      `json:"inputTokenLimit"`
	OutputTokenLimit           int      `json:"outputTokenLimit"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

// ModelsListResponse is the top-level response for the models endpoint.
type ModelsListResponse struct {
	Models []ModelInfo `json:"models"`
}

var generationMethods = []string{"generateContent", "streamGenerateContent"}

func copilotModel(id, displayName, vendor string, input, output int) ModelInfo {
	return ModelInfo{
		Name:                       "models/" + id,
		BaseModelID:                id,
		Version:                    "copilot",
		DisplayName:                displayName,
		Description:                displayName + " by " + vendor + " via GitHub Copilot",
		InputTokenLimit:            input,
		OutputTokenLimit:           output,
		SupportedGenerationMethods: generationMethods,
	}
}

// models are the chat models GitHub Copilot serves on the chat completions
// endpoint.
var models = []ModelInfo{
	copilotModel("gpt-4.1", "GPT-4.1", "OpenAI", 128000, 16384),
	copilotModel("gpt-4o", "GPT-4o", "OpenAI", 64000, 4096),
	copilotModel("gpt-5-mini", "GPT-5 mini", "OpenAI", 128000, 64000),
	copilotModel("o4-mini", "o4-mini", "OpenAI", 128000, 16384),
	copilotModel("claude-sonnet-4", "Claude Sonnet 4", "Anthropic", 128000, 16000),
	copilotModel("gemini-2.5-pro", "Gemini 2.5 Pro", "Google", 128000, 64000),
}

func lookupModel(id string) (ModelInfo, bool) {
	id = strings.TrimPrefix(id, "models/")
	for _, m := range models {
		if m.BaseModelID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}

func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// Handle request for a single model, e.g., /v1beta/models/gpt-4.1
	pathParts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(pathParts) > 2 {
		model, ok := lookupModel(pathParts[2])
		if !ok {
			writeError(w, http.StatusNotFound, "model not found: "+pathParts[2])
			return
		}
		writeJSON(w, http.StatusOK, model)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=600")
	writeJSON(w, http.StatusOK, ModelsListResponse{Models: models})
}
