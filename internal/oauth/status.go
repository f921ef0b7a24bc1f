package oauth

import (
	"fmt"
	"time"
)

// Status summarises the stored credentials without exposing token values.
type Status struct {
	Path                  string    `json:"path"`
	Authenticated         bool      `json:"authenticated"`
	Valid                 bool      `json:"valid"`
	HasCopilotToken       bool      `json:"has_copilot_token"`
	CopilotTokenExpiresAt *time.Time `json:"copilot_token_expires_at,omitempty"`
	CreatedAt             *time.Time `json:"created_at,omitempty"`
	UpdatedAt             *time.Time `json:"updated_at,omitempty"`
	FlowState             string     `json:"flow_state"`
}

// Status reports the current credential state.
func (c *Client) Status() Status {
	s := Status{
		Path:      c.store.Path(),
		FlowState: c.flow.State().String(),
	}
	cred := c.store.Load()
	if cred == nil {
		return s
	}
	s.Authenticated = cred.GitHubToken != ""
	s.Valid = c.HasValidCredentials()
	s.HasCopilotToken = cred.HasCopilotToken()
	if s.HasCopilotToken {
		s.CopilotTokenExpiresAt = timePtr(cred.CopilotTokenExpiry())
	}
	s.CreatedAt = timePtr(cred.CreatedAt)
	s.UpdatedAt = timePtr(cred.UpdatedAt)
	return s
}

// timePtr returns nil for the zero time so it is left out of JSON.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// AuthenticationRequiredError is returned when no usable token is available
// and the user has to run the device flow again.
type AuthenticationRequiredError struct {
	Reason string
}

func (e *AuthenticationRequiredError) Error() string {
	return fmt.Sprintf("authentication required: %s; run `copilot-proxy auth login`", e.Reason)
}
