package copilot

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies an ExchangeError where the backend response allows it.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindInvalidCredential means the GitHub token is expired or revoked.
	KindInvalidCredential
	// KindNotEntitled means the account has no Copilot access.
	KindNotEntitled
	// KindNotFound means the token endpoint does not exist for this account.
	KindNotFound
	KindRateLimited
	// KindExpired means the device code expired before it was authorized.
	KindExpired
	// KindDenied means the user declined the authorization request.
	KindDenied
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidCredential:
		return "invalid_credential"
	case KindNotEntitled:
		return "not_entitled"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindExpired:
		return "expired"
	case KindDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// ExchangeError is returned for any unsuccessful response from a GitHub
// device, token or Copilot token endpoint.
type ExchangeError struct {
	Op      string
	Status  int
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *ExchangeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(" failed")
	if e.Status != 0 {
		fmt.Fprintf(&b, " with status %d", e.Status)
	}
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is matches another *ExchangeError with the same Kind, so callers can write
// errors.Is(err, &ExchangeError{Kind: KindRateLimited}).
func (e *ExchangeError) Is(target error) bool {
	t, ok := target.(*ExchangeError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the classification of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		return exErr.Kind
	}
	return KindUnknown
}

// IsInvalidCredential reports whether err means the GitHub token must be
// replaced through a new device flow.
func IsInvalidCredential(err error) bool {
	return KindOf(err) == KindInvalidCredential
}

// IsRateLimited reports whether err indicates rate limiting, either through
// its classification or its message.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if KindOf(err) == KindRateLimited {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized:
		return KindInvalidCredential
	case http.StatusForbidden:
		return KindNotEntitled
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindUnknown
	}
}

func kindForCode(code string) ErrorKind {
	switch code {
	case errSlowDown:
		return KindRateLimited
	case errExpiredToken:
		return KindExpired
	case errAccessDenied:
		return KindDenied
	case "bad_verification_code", "incorrect_client_credentials":
		return KindInvalidCredential
	default:
		return KindUnknown
	}
}
