package credentials

import (
	"errors"
	"time"
)

// Credential is the single record persisted between runs.
//
// GitHubToken is the long-lived OAuth token obtained through the device flow
// and is only ever used to mint Copilot tokens. CopilotToken is the short-lived
// token sent to the chat-completions API. CopilotToken and
// CopilotTokenExpiresAt are always set or cleared together.
type Credential struct {
	GitHubToken           string    `json:"github_token"`
	CopilotToken          string    `json:"copilot_token,omitempty"`
	CopilotTokenExpiresAt int64     `json:"copilot_token_expires_at,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// NewCredential returns a fresh record for a GitHub token obtained at now.
func NewCredential(githubToken string, now time.Time) *Credential {
	return &Credential{
		GitHubToken: githubToken,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the record invariants.
func (c *Credential) Validate() error {
	if c.GitHubToken == "" {
		return errors.New("credential has no github token")
	}
	if (c.CopilotToken == "") != (c.CopilotTokenExpiresAt == 0) {
		return errors.New("copilot token and its expiry must be set together")
	}
	return nil
}

// HasCopilotToken reports whether a Copilot token is cached.
func (c *Credential) HasCopilotToken() bool {
	return c.CopilotToken != ""
}

// CopilotTokenExpiry returns the expiry of the cached Copilot token, or the
// zero time when none is cached.
func (c *Credential) CopilotTokenExpiry() time.Time {
	if c.CopilotTokenExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(c.CopilotTokenExpiresAt, 0)
}

// CopilotTokenUsable reports whether the cached Copilot token stays valid for
// longer than buffer after now.
func (c *Credential) CopilotTokenUsable(now time.Time, buffer time.Duration) bool {
	if !c.HasCopilotToken() {
		return false
	}
	return c.CopilotTokenExpiry().After(now.Add(buffer))
}

// WithCopilotToken returns a copy carrying a new Copilot token. The GitHub
// token and CreatedAt are preserved, UpdatedAt is set to now.
func (c *Credential) WithCopilotToken(token string, expiresAt time.Time, now time.Time) *Credential {
	next := *c
	next.CopilotToken = token
	next.CopilotTokenExpiresAt = expiresAt.Unix()
	next.UpdatedAt = now
	return &next
}
