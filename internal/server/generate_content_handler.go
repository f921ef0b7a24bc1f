package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dvcrn/copilot-proxy/internal/gemini"
	"github.com/dvcrn/copilot-proxy/internal/generator"
	"github.com/dvcrn/copilot-proxy/internal/logger"
	"github.com/dvcrn/copilot-proxy/internal/oauth"
	"github.com/dvcrn/copilot-proxy/internal/transform"
)

const maxRequestBodyBytes = 32 << 20

// geminiHandler routes /v1beta/models/{model}:{action}. Paths without an
// action are model lookups.
func (s *Server) geminiHandler(w http.ResponseWriter, r *http.Request) {
	model, action := parseGeminiPath(r.URL.Path)
	if action == "" {
		s.modelsHandler(w, r)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	req, err := decodeGenerateRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	model = normalizeModelName(model, s.defaultModel)

	switch action {
	case "generateContent":
		s.generateContent(w, r, model, req)
	case "streamGenerateContent":
		s.streamGenerateContent(w, r, model, req)
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unsupported action %q", action))
	}
}

func decodeGenerateRequest(r *http.Request) (*gemini.GeminiInternalRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	var req gemini.GeminiInternalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if len(req.Contents) == 0 {
		return nil, errors.New("contents must not be empty")
	}
	return &req, nil
}

func (s *Server) generateContent(w http.ResponseWriter, r *http.Request, model string, req *gemini.GeminiInternalRequest) {
	resp, err := s.generator.GenerateContent(r.Context(), model, req)
	if err != nil {
		s.writeGenerationError(w, model, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamGenerateContent writes each response as an SSE frame, flushing after
// every frame so clients see text as it arrives.
func (s *Server) streamGenerateContent(w http.ResponseWriter, r *http.Request, model string, req *gemini.GeminiInternalRequest) {
	stream, err := s.generator.GenerateContentStream(r.Context(), model, req)
	if err != nil {
		s.writeGenerationError(w, model, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	log := logger.For("server")
	frames := 0
	for {
		resp, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Headers are already sent; all we can do is stop.
			log.Warn().Err(err).Str("model", model).Int("frames", frames).Msg("Stream ended early")
			return
		}
		data, err := json.Marshal(resp)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal stream response")
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			log.Debug().Err(err).Msg("Client went away")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		frames++
	}

	log.Debug().Str("model", model).Int("frames", frames).Int("skipped", stream.Skipped()).Msg("Stream completed")
}

func (s *Server) writeGenerationError(w http.ResponseWriter, model string, err error) {
	var authErr *oauth.AuthenticationRequiredError
	var backendErr *generator.BackendError

	switch {
	case errors.As(err, &authErr):
		writeError(w, http.StatusUnauthorized, authErr.Error())
	case errors.As(err, &backendErr):
		logger.Get().Warn().Int("status", backendErr.Status).Str("model", model).Msg("Copilot rejected request")
		writeError(w, backendErr.Status, backendErr.Body)
	case errors.Is(err, transform.ErrEmptyResponse):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Get().Error().Err(err).Str("model", model).Msg("Generation failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
