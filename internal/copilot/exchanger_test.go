package copilot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExchanger(t *testing.T, handler http.HandlerFunc) *Exchanger {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewExchanger(Options{
		HTTPClient:    srv.Client(),
		GitHubBaseURL: srv.URL,
		APIBaseURL:    srv.URL,
		Version:       "1.2.3",
	})
}

func TestRequestDeviceCode(t *testing.T) {
	ex := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, deviceCodePath, r.URL.Path)
		assert.Equal(t, "copilot-proxy/1.2.3", r.Header.Get("User-Agent"))
		assert.Equal(t, CopilotIntegrationID, r.Header.Get("Copilot-Integration-Id"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultClientID, body["client_id"])
		assert.Equal(t, DefaultScope, body["scope"])

		_, _ = w.Write([]byte(`{"device_code":"dc","user_code":"ABCD-1234","verification_uri":"https://github.com/login/device","interval":5,"expires_in":900}`))
	})

	auth, err := ex.RequestDeviceCode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dc", auth.DeviceCode)
	assert.Equal(t, "ABCD-1234", auth.UserCode)
	assert.Equal(t, 5, auth.Interval)
	assert.Equal(t, 900, auth.ExpiresIn)
	assert.Equal(t, 180, auth.MaxPollAttempts())
}

func TestRequestDeviceCode_NonSuccessStatus(t *testing.T) {
	ex := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	})

	_, err := ex.RequestDeviceCode(context.Background())
	require.Error(t, err)

	var exErr *ExchangeError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, http.StatusServiceUnavailable, exErr.Status)
	assert.Contains(t, exErr.Error(), "maintenance")
}

func TestPollAccessToken(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		expected     PollStatus
		expectedKind ErrorKind
		token        string
	}{
		{
			name:     "pending",
			status:   http.StatusOK,
			body:     `{"error":"authorization_pending","error_description":"waiting"}`,
			expected: PollPending,
		},
		{
			name:     "complete",
			status:   http.StatusOK,
			body:     `{"access_token":"gho_abc","token_type":"bearer","scope":"read:user"}`,
			expected: PollComplete,
			token:    "gho_abc",
		},
		{
			name:         "slow down is rate limiting",
			status:       http.StatusOK,
			body:         `{"error":"slow_down","interval":10}`,
			expected:     PollFailed,
			expectedKind: KindRateLimited,
		},
		{
			name:         "expired device code",
			status:       http.StatusOK,
			body:         `{"error":"expired_token"}`,
			expected:     PollFailed,
			expectedKind: KindExpired,
		},
		{
			name:         "access denied",
			status:       http.StatusOK,
			body:         `{"error":"access_denied"}`,
			expected:     PollFailed,
			expectedKind: KindDenied,
		},
		{
			name:         "http error",
			status:       http.StatusInternalServerError,
			body:         `oops`,
			expected:     PollFailed,
			expectedKind: KindUnknown,
		},
		{
			name:         "http 429",
			status:       http.StatusTooManyRequests,
			body:         `{"message":"API rate limit exceeded"}`,
			expected:     PollFailed,
			expectedKind: KindRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, accessTokenPath, r.URL.Path)
				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "dc", body["device_code"])
				assert.Equal(t, DeviceCodeGrantType, body["grant_type"])

				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			res := ex.PollAccessToken(context.Background(), "dc")
			assert.Equal(t, tt.expected, res.Status)
			assert.Equal(t, tt.token, res.AccessToken)
			if tt.expected == PollFailed {
				require.Error(t, res.Err)
				assert.Equal(t, tt.expectedKind, KindOf(res.Err))
			} else {
				assert.NoError(t, res.Err)
			}
		})
	}
}

func TestExchangeForCopilotToken(t *testing.T) {
	ex := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, copilotTokenPath, r.URL.Path)
		assert.Equal(t, "token gho_abc", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"token":"tid=1;exp=2","expires_at":1900000000,"refresh_in":1500}`))
	})

	tok, err := ex.ExchangeForCopilotToken(context.Background(), "gho_abc")
	require.NoError(t, err)
	assert.Equal(t, "tid=1;exp=2", tok.Token)
	assert.Equal(t, int64(1900000000), tok.ExpiresAt)
	assert.Equal(t, 1500, tok.RefreshIn)
}

func TestExchangeForCopilotToken_Classification(t *testing.T) {
	tests := []struct {
		status   int
		expected ErrorKind
	}{
		{http.StatusUnauthorized, KindInvalidCredential},
		{http.StatusForbidden, KindNotEntitled},
		{http.StatusNotFound, KindNotFound},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusBadGateway, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			ex := newTestExchanger(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			})

			_, err := ex.ExchangeForCopilotToken(context.Background(), "gho_abc")
			require.Error(t, err)

			var exErr *ExchangeError
			require.ErrorAs(t, err, &exErr)
			assert.Equal(t, tt.status, exErr.Status)
			assert.Equal(t, tt.expected, exErr.Kind)
			assert.Equal(t, "nope", exErr.Message)
			assert.ErrorIs(t, err, &ExchangeError{Kind: tt.expected})
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(&ExchangeError{Kind: KindRateLimited}))
	assert.False(t, IsRateLimited(assert.AnError))
	assert.False(t, IsRateLimited(nil))
	assert.True(t, IsRateLimited(&ExchangeError{Op: "poll", Message: "secondary Rate Limit reached"}))
}
