package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/dvcrn/copilot-proxy/internal/logger"
)

type credentialsRequest struct {
	GitHubToken string `json:"github_token"`
}

// credentialsHandler lets an operator seed a GitHub token (POST) or remove the
// stored credentials (DELETE). The worker build has no terminal for the
// device flow, so this is how it gets credentials.
func (s *Server) credentialsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		var req credentialsRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		token := strings.TrimSpace(req.GitHubToken)
		if token == "" {
			writeError(w, http.StatusBadRequest, "github_token is required")
			return
		}
		if err := s.auth.SetGitHubToken(token); err != nil {
			logger.Get().Error().Err(err).Msg("Failed to save credentials")
			writeError(w, http.StatusInternalServerError, "failed to save credentials")
			return
		}
		if _, ok := s.auth.GetValidAccessToken(r.Context()); !ok {
			logger.Get().Warn().Msg("Saved GitHub token but could not obtain a Copilot token")
		}
		logger.Get().Info().Msg("Credentials updated via admin API")
		writeJSON(w, http.StatusOK, s.auth.Status())

	case http.MethodDelete:
		if err := s.auth.ClearCredentials(); err != nil {
			logger.Get().Error().Err(err).Msg("Failed to clear credentials")
			writeError(w, http.StatusInternalServerError, "failed to clear credentials")
			return
		}
		logger.Get().Info().Msg("Credentials cleared via admin API")
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) credentialsStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.auth.Status())
}
