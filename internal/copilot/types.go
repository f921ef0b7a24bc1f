package copilot

import "time"

// Backend endpoints and client identification.
const (
	DefaultGitHubBaseURL  = "https://github.com"
	DefaultAPIBaseURL     = "https://api.github.com"
	DefaultChatBaseURL    = "https://api.githubcopilot.com"
	DefaultClientID       = "Iv1.b507a08c87ecfe98"
	DefaultScope          = "read:user"
	DeviceCodeGrantType   = "urn:ietf:params:oauth:grant-type:device_code"
	CopilotIntegrationID  = "vscode-chat"
	deviceCodePath        = "/login/device/code"
	accessTokenPath       = "/login/oauth/access_token"
	copilotTokenPath      = "/copilot_internal/v2/token"
	ChatCompletionsPath   = "/chat/completions"
	maxExchangeBodyBytes  = 1 << 20
	errAuthorizationPend  = "authorization_pending"
	errSlowDown           = "slow_down"
	errExpiredToken       = "expired_token"
	errAccessDenied       = "access_denied"
	defaultPollInterval   = 5
	defaultDeviceCodeLife = 900
)

// DeviceAuthorization is issued by GitHub at the start of a device flow and
// is immutable for the lifetime of that attempt.
type DeviceAuthorization struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	Interval        int    `json:"interval"`
	ExpiresIn       int    `json:"expires_in"`
}

// MaxPollAttempts is how many polls fit in the authorization lifetime.
func (d *DeviceAuthorization) MaxPollAttempts() int {
	if d.Interval <= 0 {
		return 0
	}
	return d.ExpiresIn / d.Interval
}

// CopilotToken is the short-lived token returned by the Copilot token endpoint.
type CopilotToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
	RefreshIn int    `json:"refresh_in"`
}

// Expiry returns ExpiresAt as a time.
func (t *CopilotToken) Expiry() time.Time {
	return time.Unix(t.ExpiresAt, 0)
}

// PollStatus is the outcome of a single access-token poll.
type PollStatus int

const (
	PollPending PollStatus = iota
	PollComplete
	PollFailed
)

func (s PollStatus) String() string {
	switch s {
	case PollPending:
		return "pending"
	case PollComplete:
		return "complete"
	case PollFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PollResult carries the access token on PollComplete and the cause on PollFailed.
type PollResult struct {
	Status      PollStatus
	AccessToken string
	Err         error
}

type accessTokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Interval         int    `json:"interval"`
}
