package server

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/dvcrn/copilot-proxy/internal/logger"
)

var geminiPathRegex = regexp.MustCompile(`v1(?:beta)?/models/([^/:]+):(.+)`)

// parseGeminiPath extracts the model and action from a Gemini API path
// Returns empty strings if the path doesn't match the expected format
func parseGeminiPath(path string) (model, action string) {
	matches := geminiPathRegex.FindStringSubmatch(path)
	if len(matches) < 3 {
		return "", ""
	}
	return matches[1], matches[2]
}

// normalizeModelName maps what Gemini clients send onto a Copilot model ID.
// Known Copilot IDs pass through, Gemini aliases collapse to the one Gemini
// model Copilot serves, and an empty name means the configured default.
func normalizeModelName(model, defaultModel string) string {
	model = strings.TrimSpace(strings.TrimPrefix(model, "models/"))
	if model == "" {
		return defaultModel
	}
	if _, ok := lookupModel(model); ok {
		return model
	}

	lowerModel := strings.ToLower(model)
	if strings.HasPrefix(lowerModel, "gemini") || strings.Contains(lowerModel, "flash") {
		if strings.Contains(lowerModel, "pro") {
			return "gemini-2.5-pro"
		}
		logger.Get().Debug().Str("requested", model).Str("model", defaultModel).Msg("No Copilot equivalent, using default model")
		return defaultModel
	}
	return model
}

// geminiError is the error envelope Gemini clients expect.
type geminiError struct {
	Error geminiErrorBody `json:"error"`
}

type geminiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func statusName(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, geminiError{Error: geminiErrorBody{
		Code:    code,
		Message: message,
		Status:  statusName(code),
	}})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Get().Error().Err(err).Msg("Failed to write JSON response")
	}
}
