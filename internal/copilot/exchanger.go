package copilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	serverhttp "github.com/dvcrn/copilot-proxy/internal/http"
	"github.com/dvcrn/copilot-proxy/internal/logger"
)

// Options configures an Exchanger. Zero values select the public GitHub endpoints.
type Options struct {
	HTTPClient    serverhttp.HTTPClient
	GitHubBaseURL string
	APIBaseURL    string
	ClientID      string
	Scope         string
	// Version is the CLI version reported in the client identification headers.
	Version string
}

// Exchanger performs the three stateless HTTP exchanges of the GitHub
// device flow and the Copilot token endpoint.
type Exchanger struct {
	httpClient    serverhttp.HTTPClient
	githubBaseURL string
	apiBaseURL    string
	clientID      string
	scope         string
	version       string
}

// NewExchanger creates an Exchanger.
func NewExchanger(opts Options) *Exchanger {
	e := &Exchanger{
		httpClient:    opts.HTTPClient,
		githubBaseURL: strings.TrimRight(opts.GitHubBaseURL, "/"),
		apiBaseURL:    strings.TrimRight(opts.APIBaseURL, "/"),
		clientID:      opts.ClientID,
		scope:         opts.Scope,
		version:       opts.Version,
	}
	if e.httpClient == nil {
		e.httpClient = serverhttp.NewHTTPClient()
	}
	if e.githubBaseURL == "" {
		e.githubBaseURL = DefaultGitHubBaseURL
	}
	if e.apiBaseURL == "" {
		e.apiBaseURL = DefaultAPIBaseURL
	}
	if e.clientID == "" {
		e.clientID = DefaultClientID
	}
	if e.scope == "" {
		e.scope = DefaultScope
	}
	return e
}

// ClientHeaders returns the fixed headers identifying this client to GitHub
// and the Copilot API.
func ClientHeaders(version string) http.Header {
	if version == "" {
		version = "dev"
	}
	h := http.Header{}
	h.Set("User-Agent", "copilot-proxy/"+version)
	h.Set("Editor-Version", "copilot-proxy/"+version)
	h.Set("Editor-Plugin-Version", "copilot-proxy/"+version)
	h.Set("Copilot-Integration-Id", CopilotIntegrationID)
	return h
}

// RequestDeviceCode starts a device authorization.
func (e *Exchanger) RequestDeviceCode(ctx context.Context) (*DeviceAuthorization, error) {
	const op = "device code request"

	body, err := json.Marshal(map[string]string{
		"client_id": e.clientID,
		"scope":     e.scope,
	})
	if err != nil {
		return nil, fmt.Errorf("could not marshal request body: %w", err)
	}

	status, respBody, err := e.do(ctx, http.MethodPost, e.githubBaseURL+deviceCodePath, body, "")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if status < 200 || status >= 300 {
		return nil, newExchangeError(op, status, respBody)
	}

	var auth DeviceAuthorization
	if err := json.Unmarshal(respBody, &auth); err != nil {
		return nil, fmt.Errorf("could not parse device code response: %w", err)
	}
	if auth.DeviceCode == "" || auth.UserCode == "" || auth.VerificationURI == "" {
		return nil, &ExchangeError{Op: op, Status: status, Message: "response is missing device_code, user_code or verification_uri"}
	}
	if auth.Interval <= 0 {
		auth.Interval = defaultPollInterval
	}
	if auth.ExpiresIn <= 0 {
		auth.ExpiresIn = defaultDeviceCodeLife
	}

	logger.Get().Debug().
		Str("verification_uri", auth.VerificationURI).
		Int("interval", auth.Interval).
		Int("expires_in", auth.ExpiresIn).
		Msg("Received device authorization")
	return &auth, nil
}

// PollAccessToken polls once for the GitHub access token of a pending device
// authorization.
func (e *Exchanger) PollAccessToken(ctx context.Context, deviceCode string) PollResult {
	const op = "access token poll"

	body, err := json.Marshal(map[string]string{
		"client_id":   e.clientID,
		"device_code": deviceCode,
		"grant_type":  DeviceCodeGrantType,
	})
	if err != nil {
		return PollResult{Status: PollFailed, Err: fmt.Errorf("could not marshal request body: %w", err)}
	}

	status, respBody, err := e.do(ctx, http.MethodPost, e.githubBaseURL+accessTokenPath, body, "")
	if err != nil {
		return PollResult{Status: PollFailed, Err: fmt.Errorf("%s: %w", op, err)}
	}
	if status < 200 || status >= 300 {
		return PollResult{Status: PollFailed, Err: newExchangeError(op, status, respBody)}
	}

	var tr accessTokenResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return PollResult{Status: PollFailed, Err: fmt.Errorf("could not parse access token response: %w", err)}
	}

	switch {
	case tr.AccessToken != "":
		return PollResult{Status: PollComplete, AccessToken: tr.AccessToken}
	case tr.Error == errAuthorizationPend:
		return PollResult{Status: PollPending}
	case tr.Error != "":
		return PollResult{Status: PollFailed, Err: &ExchangeError{
			Op:      op,
			Status:  status,
			Kind:    kindForCode(tr.Error),
			Code:    tr.Error,
			Message: tr.ErrorDescription,
		}}
	default:
		return PollResult{Status: PollFailed, Err: &ExchangeError{Op: op, Status: status, Message: "response has neither access_token nor error"}}
	}
}

// ExchangeForCopilotToken trades a GitHub access token for a short-lived
// Copilot token.
func (e *Exchanger) ExchangeForCopilotToken(ctx context.Context, githubToken string) (*CopilotToken, error) {
	const op = "copilot token exchange"

	status, respBody, err := e.do(ctx, http.MethodGet, e.apiBaseURL+copilotTokenPath, nil, "token "+githubToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if status < 200 || status >= 300 {
		return nil, newExchangeError(op, status, respBody)
	}

	var tok CopilotToken
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return nil, fmt.Errorf("could not parse copilot token response: %w", err)
	}
	if tok.Token == "" || tok.ExpiresAt == 0 {
		return nil, &ExchangeError{Op: op, Status: status, Message: "response is missing token or expires_at"}
	}

	logger.Get().Debug().
		Time("expires_at", tok.Expiry()).
		Dur("refresh_in", time.Duration(tok.RefreshIn)*time.Second).
		Msg("Exchanged GitHub token for Copilot token")
	return &tok, nil
}

func (e *Exchanger) do(ctx context.Context, method, url string, body []byte, authorization string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("could not create request: %w", err)
	}
	for k, v := range ClientHeaders(e.version) {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request execution error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxExchangeBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("could not read response body: %w", err)
	}

	logger.Get().Debug().
		Str("method", method).
		Str("url", url).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("GitHub exchange complete")
	return resp.StatusCode, respBody, nil
}

// newExchangeError builds an ExchangeError from a non-success response,
// picking up an OAuth-style error code or a GitHub "message" field if present.
func newExchangeError(op string, status int, body []byte) *ExchangeError {
	exErr := &ExchangeError{Op: op, Status: status, Kind: kindForStatus(status)}

	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		exErr.Code = payload.Error
		exErr.Message = payload.ErrorDescription
		if exErr.Message == "" {
			exErr.Message = payload.Message
		}
		if exErr.Kind == KindUnknown && payload.Error != "" {
			exErr.Kind = kindForCode(payload.Error)
		}
	}
	if exErr.Message == "" && exErr.Code == "" {
		exErr.Message = strings.TrimSpace(string(body))
	}
	return exErr
}
