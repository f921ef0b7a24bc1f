// Package oauth is the single entry point the proxy uses for GitHub Copilot
// authentication. It hides the device flow, the on-disk credential record and
// the Copilot token refresh behind a small set of methods.
//
// Token accessors never return errors: a missing or unusable token is
// reported as ("", false) and the cause is logged. Only TriggerOAuthFlow
// returns an error, describing why the flow did not complete.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dvcrn/copilot-proxy/internal/copilot"
	"github.com/dvcrn/copilot-proxy/internal/credentials"
	"github.com/dvcrn/copilot-proxy/internal/deviceflow"
	"github.com/dvcrn/copilot-proxy/internal/events"
	"github.com/dvcrn/copilot-proxy/internal/logger"
)

// DefaultRefreshBuffer is how long before expiry a Copilot token is treated
// as expired.
const DefaultRefreshBuffer = 30 * time.Second

const refreshKey = "copilot-token"

// refreshTimeout bounds a shared exchange, which no single caller may cancel.
const refreshTimeout = 30 * time.Second

// TokenExchanger is the subset of copilot.Exchanger used by the client.
type TokenExchanger interface {
	deviceflow.Exchanger
	ExchangeForCopilotToken(ctx context.Context, githubToken string) (*copilot.CopilotToken, error)
}

// Options configures a Client.
type Options struct {
	Exchanger       TokenExchanger
	Store           credentials.Store
	Browser         deviceflow.BrowserLauncher
	SuppressBrowser bool
	// Bus receives device flow events. A new bus is created when nil.
	Bus           *events.Bus
	RefreshBuffer time.Duration
	// TimeUnit is passed to the device flow orchestrator.
	TimeUnit time.Duration
	Now      func() time.Time
}

// Client manages GitHub and Copilot tokens for one credential store.
type Client struct {
	exchanger TokenExchanger
	store     credentials.Store
	flow      *deviceflow.Orchestrator
	bus       *events.Bus
	buffer    time.Duration
	now       func() time.Time
	refresh   singleflight.Group
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	c := &Client{
		exchanger: opts.Exchanger,
		store:     opts.Store,
		bus:       opts.Bus,
		buffer:    opts.RefreshBuffer,
		now:       opts.Now,
	}
	if c.bus == nil {
		c.bus = events.NewBus()
	}
	if c.buffer <= 0 {
		c.buffer = DefaultRefreshBuffer
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.flow = deviceflow.New(deviceflow.Options{
		Exchanger:       opts.Exchanger,
		Store:           opts.Store,
		Browser:         opts.Browser,
		SuppressBrowser: opts.SuppressBrowser,
		TimeUnit:        opts.TimeUnit,
		Now:             c.now,
	})
	return c
}

// Events returns the bus on which device flow progress is published.
// Publishing events.KindCancelRequest on it cancels a running flow.
func (c *Client) Events() *events.Bus {
	return c.bus
}

// HasCredentials reports whether a GitHub token is stored, regardless of the
// state of the cached Copilot token.
func (c *Client) HasCredentials() bool {
	cred := c.store.Load()
	return cred != nil && cred.GitHubToken != ""
}

// HasValidCredentials reports whether a GitHub token is stored and any
// cached Copilot token is not about to expire.
func (c *Client) HasValidCredentials() bool {
	cred := c.store.Load()
	if cred == nil || cred.GitHubToken == "" {
		return false
	}
	if !cred.HasCopilotToken() {
		return true
	}
	return cred.CopilotTokenUsable(c.now(), c.buffer)
}

// GetValidAccessToken returns a Copilot token, exchanging the stored GitHub
// token for a new one when the cached token is missing or expiring.
func (c *Client) GetValidAccessToken(ctx context.Context) (string, bool) {
	cred := c.store.Load()
	if cred == nil || cred.GitHubToken == "" {
		return "", false
	}
	if cred.CopilotTokenUsable(c.now(), c.buffer) {
		return cred.CopilotToken, true
	}

	// The exchange is shared by every caller that joins it, so it runs
	// detached from ctx; each caller still stops waiting when its own ctx ends.
	ch := c.refresh.DoChan(refreshKey, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return c.refreshCopilotToken(rctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if !copilot.IsInvalidCredential(res.Err) {
				logger.Get().Error().Err(res.Err).Bool("shared", res.Shared).Msg("Failed to refresh Copilot token")
			}
			return "", false
		}
		return res.Val.(string), true
	case <-ctx.Done():
		logger.Get().Debug().Err(ctx.Err()).Msg("Stopped waiting for Copilot token refresh")
		return "", false
	}
}

// refreshCopilotToken runs under singleflight. The record is reloaded first
// because a caller that just left the group may already have refreshed it.
func (c *Client) refreshCopilotToken(ctx context.Context) (string, error) {
	cred := c.store.Load()
	if cred == nil || cred.GitHubToken == "" {
		return "", errors.New("no stored GitHub token")
	}
	if cred.CopilotTokenUsable(c.now(), c.buffer) {
		return cred.CopilotToken, nil
	}

	tok, err := c.exchanger.ExchangeForCopilotToken(ctx, cred.GitHubToken)
	if err != nil {
		if copilot.IsInvalidCredential(err) {
			c.clearRejected(cred.GitHubToken, err)
		}
		return "", err
	}

	updated := cred.WithCopilotToken(tok.Token, tok.Expiry(), c.now())
	if err := c.store.Save(updated); err != nil {
		// The token is still good for this process; the next caller retries the save.
		logger.Get().Warn().Err(err).Msg("Failed to persist refreshed Copilot token")
	} else {
		logger.Get().Info().Time("expires_at", tok.Expiry()).Msg("Refreshed Copilot token")
	}
	return tok.Token, nil
}

// clearRejected removes the stored record only if it still holds the GitHub
// token that was rejected. A login saved during the exchange is kept.
func (c *Client) clearRejected(rejected string, cause error) {
	current := c.store.Load()
	if current == nil {
		return
	}
	if current.GitHubToken != rejected {
		logger.Get().Info().Msg("GitHub token was rejected but a newer one is stored; keeping it")
		return
	}
	logger.Get().Warn().Err(cause).Msg("GitHub token was rejected; clearing stored credentials")
	if err := c.store.Clear(); err != nil {
		logger.Get().Error().Err(err).Msg("Failed to clear credentials")
	}
}

// InvalidateAccessToken drops the cached Copilot token so the next
// GetValidAccessToken performs a fresh exchange. The GitHub token is kept.
func (c *Client) InvalidateAccessToken() {
	cred := c.store.Load()
	if cred == nil || !cred.HasCopilotToken() {
		return
	}
	cred.CopilotToken = ""
	cred.CopilotTokenExpiresAt = 0
	cred.UpdatedAt = c.now()
	if err := c.store.Save(cred); err != nil {
		logger.Get().Warn().Err(err).Msg("Failed to drop cached Copilot token")
	}
}

// RequireAccessToken is GetValidAccessToken for callers that need an error.
func (c *Client) RequireAccessToken(ctx context.Context) (string, error) {
	if tok, ok := c.GetValidAccessToken(ctx); ok {
		return tok, nil
	}
	reason := "no valid GitHub credentials"
	if c.store.Load() != nil {
		reason = "could not obtain a Copilot token"
	}
	return "", &AuthenticationRequiredError{Reason: reason}
}

// TriggerOAuthFlow runs the device flow to completion. It returns true only
// when the flow completed and the GitHub token was saved.
func (c *Client) TriggerOAuthFlow(ctx context.Context) (bool, error) {
	res := c.flow.Run(ctx, c.bus)
	if res.State == deviceflow.StateComplete {
		return true, nil
	}
	if res.Err == nil {
		return false, fmt.Errorf("device authorization ended in state %s", res.State)
	}
	return false, res.Err
}

// FlowState returns the state of the current or most recent device flow.
func (c *Client) FlowState() deviceflow.State {
	return c.flow.State()
}

// StartDeviceAuthorization requests a device code without running the flow.
func (c *Client) StartDeviceAuthorization(ctx context.Context) (*copilot.DeviceAuthorization, error) {
	return c.exchanger.RequestDeviceCode(ctx)
}

// PollForAccessToken performs a single access token poll.
func (c *Client) PollForAccessToken(ctx context.Context, deviceCode string) copilot.PollResult {
	return c.exchanger.PollAccessToken(ctx, deviceCode)
}

// SetGitHubToken stores a GitHub token obtained outside the device flow,
// replacing any existing record.
func (c *Client) SetGitHubToken(token string) error {
	return c.store.Save(credentials.NewCredential(token, c.now()))
}

// ClearCredentials removes the stored record. Clearing twice is not an error.
func (c *Client) ClearCredentials() error {
	return c.store.Clear()
}

// CredentialsPath returns where credentials are stored.
func (c *Client) CredentialsPath() string {
	return c.store.Path()
}
