// Package generator is the shared request pipeline between the Gemini
// surface and a chat-completions backend. The backend specific reshaping is
// supplied as a transform.Translator.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvcrn/copilot-proxy/internal/copilot"
	"github.com/dvcrn/copilot-proxy/internal/gemini"
	serverhttp "github.com/dvcrn/copilot-proxy/internal/http"
	"github.com/dvcrn/copilot-proxy/internal/logger"
	"github.com/dvcrn/copilot-proxy/internal/oauth"
	"github.com/dvcrn/copilot-proxy/internal/openai"
	"github.com/dvcrn/copilot-proxy/internal/transform"
)

const maxErrorBodyBytes = 64 * 1024

// TokenSource supplies backend access tokens. oauth.Client implements it.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context) (string, bool)
	// HasCredentials reports whether a GitHub token is stored, which tells a
	// failed exchange apart from a missing login.
	HasCredentials() bool
	// InvalidateAccessToken is called when the backend rejected a token.
	InvalidateAccessToken()
}

// BackendError is returned for any non-success backend response other than 401.
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("chat completions request failed with status %d: %s", e.Status, e.Body)
}

// Options configures a Generator.
type Options struct {
	HTTPClient serverhttp.HTTPClient
	// BaseURL of the chat-completions API. Defaults to the Copilot API.
	BaseURL string
	// Version is reported in the client identification headers.
	Version string
}

// Generator runs generateContent requests against a chat-completions backend.
type Generator struct {
	translator transform.Translator
	tokens     TokenSource
	httpClient serverhttp.HTTPClient
	endpoint   string
	version    string
}

// New creates a Generator.
func New(translator transform.Translator, tokens TokenSource, opts Options) *Generator {
	g := &Generator{
		translator: translator,
		tokens:     tokens,
		httpClient: opts.HTTPClient,
		version:    opts.Version,
	}
	if g.httpClient == nil {
		g.httpClient = serverhttp.NewHTTPClient()
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = copilot.DefaultChatBaseURL
	}
	g.endpoint = base + copilot.ChatCompletionsPath
	return g
}

// GenerateContent performs a single non-streaming request.
func (g *Generator) GenerateContent(ctx context.Context, model string, req *gemini.GeminiInternalRequest) (*gemini.Response, error) {
	chatReq, err := g.translator.BuildRequest(model, req)
	if err != nil {
		return nil, fmt.Errorf("could not build request: %w", err)
	}
	chatReq.Stream = false

	resp, err := g.send(ctx, chatReq, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chatResp openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("could not decode response body: %w", err)
	}
	return g.translator.ToGenericResponse(&chatResp)
}

// GenerateContentStream starts a streaming request. The caller must Close
// the returned Stream. Cancelling ctx ends the stream.
func (g *Generator) GenerateContentStream(ctx context.Context, model string, req *gemini.GeminiInternalRequest) (*Stream, error) {
	chatReq, err := g.translator.BuildRequest(model, req)
	if err != nil {
		return nil, fmt.Errorf("could not build request: %w", err)
	}
	chatReq.Stream = true

	resp, err := g.send(ctx, chatReq, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return newStream(ctx, resp.Body, g.translator), nil
}

// send posts chatReq and returns a 2xx response. A 401 invalidates the token
// and is retried once with a fresh one.
func (g *Generator) send(ctx context.Context, chatReq *openai.ChatCompletionRequest, accept string) (*http.Response, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("could not marshal request body: %w", err)
	}

	for attempt := 1; ; attempt++ {
		token, ok := g.tokens.GetValidAccessToken(ctx)
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if g.tokens.HasCredentials() {
				return nil, &BackendError{
					Status: http.StatusServiceUnavailable,
					Body:   "could not obtain a Copilot token from GitHub; try again later",
				}
			}
			return nil, &oauth.AuthenticationRequiredError{Reason: "no stored GitHub credentials"}
		}

		resp, err := g.do(ctx, body, token, accept)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil
		case resp.StatusCode == http.StatusUnauthorized:
			drain(resp.Body)
			g.tokens.InvalidateAccessToken()
			if attempt == 1 {
				logger.Get().Warn().Msg("Copilot rejected the access token; retrying with a fresh one")
				continue
			}
			return nil, &oauth.AuthenticationRequiredError{Reason: "Copilot rejected the access token"}
		default:
			defer resp.Body.Close()
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
			return nil, &BackendError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		}
	}
}

func (g *Generator) do(ctx context.Context, body []byte, token, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	for k, v := range copilot.ClientHeaders(g.version) {
		req.Header[k] = v
	}
	requestID := uuid.New().String()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request execution error: %w", err)
	}

	logger.Get().Debug().
		Str("request_id", requestID).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Chat completions response received")
	return resp, nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBodyBytes))
	body.Close()
}
