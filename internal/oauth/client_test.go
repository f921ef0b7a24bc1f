package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dvcrn/copilot-proxy/internal/copilot"
	"github.com/dvcrn/copilot-proxy/internal/credentials"
	"github.com/dvcrn/copilot-proxy/internal/deviceflow"
	"github.com/dvcrn/copilot-proxy/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Unix(1_750_000_000, 0)

type fakeExchanger struct {
	mu        sync.Mutex
	exchanges int
	gate      chan struct{}
	exchange  func(githubToken string) (*copilot.CopilotToken, error)
	polls     int
}

func (f *fakeExchanger) RequestDeviceCode(ctx context.Context) (*copilot.DeviceAuthorization, error) {
	return &copilot.DeviceAuthorization{
		DeviceCode:      "dc",
		UserCode:        "WXYZ-0000",
		VerificationURI: "https://github.com/login/device",
		Interval:        1,
		ExpiresIn:       50,
	}, nil
}

func (f *fakeExchanger) PollAccessToken(ctx context.Context, deviceCode string) copilot.PollResult {
	f.mu.Lock()
	f.polls++
	f.mu.Unlock()
	return copilot.PollResult{Status: copilot.PollComplete, AccessToken: "gho_new"}
}

func (f *fakeExchanger) ExchangeForCopilotToken(ctx context.Context, githubToken string) (*copilot.CopilotToken, error) {
	f.mu.Lock()
	f.exchanges++
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.exchange(githubToken)
}

func (f *fakeExchanger) exchangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exchanges
}

func freshToken(githubToken string) (*copilot.CopilotToken, error) {
	return &copilot.CopilotToken{Token: "cop_fresh", ExpiresAt: testNow.Add(30 * time.Minute).Unix(), RefreshIn: 1500}, nil
}

func newFileStore(t *testing.T, cred *credentials.Credential) *credentials.FileStore {
	t.Helper()
	store, err := credentials.NewFileStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	if cred != nil {
		require.NoError(t, store.Save(cred))
	}
	return store
}

func storedCredential(copilotToken string, expiresIn time.Duration) *credentials.Credential {
	created := testNow.Add(-24 * time.Hour)
	cred := credentials.NewCredential("gho_primary", created)
	if copilotToken != "" {
		cred = cred.WithCopilotToken(copilotToken, testNow.Add(expiresIn), created)
	}
	return cred
}

func newTestClient(ex *fakeExchanger, store credentials.Store) *Client {
	return NewClient(Options{
		Exchanger:       ex,
		Store:           store,
		SuppressBrowser: true,
		TimeUnit:        time.Millisecond,
		Now:             func() time.Time { return testNow },
	})
}

func TestGetValidAccessToken_UsesCachedTokenWithoutNetwork(t *testing.T) {
	ex := &fakeExchanger{exchange: func(string) (*copilot.CopilotToken, error) {
		t.Fatal("exchange must not be called")
		return nil, nil
	}}
	store := newFileStore(t, storedCredential("cop_cached", 10*time.Minute))
	client := newTestClient(ex, store)

	tok, ok := client.GetValidAccessToken(context.Background())

	require.True(t, ok)
	assert.Equal(t, "cop_cached", tok)
	assert.Equal(t, 0, ex.exchangeCount())
}

func TestGetValidAccessToken_RefreshesExpiringToken(t *testing.T) {
	tests := []struct {
		name         string
		copilotToken string
		expiresIn    time.Duration
	}{
		{name: "no copilot token", copilotToken: ""},
		{name: "expired", copilotToken: "cop_old", expiresIn: -time.Minute},
		{name: "inside refresh buffer", copilotToken: "cop_old", expiresIn: 20 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExchanger{exchange: freshToken}
			original := storedCredential(tt.copilotToken, tt.expiresIn)
			store := newFileStore(t, original)
			client := newTestClient(ex, store)

			tok, ok := client.GetValidAccessToken(context.Background())

			require.True(t, ok)
			assert.Equal(t, "cop_fresh", tok)
			assert.Equal(t, 1, ex.exchangeCount())

			saved := store.Load()
			require.NotNil(t, saved)
			assert.Equal(t, original.GitHubToken, saved.GitHubToken)
			assert.True(t, original.CreatedAt.Equal(saved.CreatedAt))
			assert.True(t, testNow.Equal(saved.UpdatedAt))
			assert.Equal(t, "cop_fresh", saved.CopilotToken)
			assert.Equal(t, testNow.Add(30*time.Minute).Unix(), saved.CopilotTokenExpiresAt)
		})
	}
}

func TestGetValidAccessToken_NoCredentials(t *testing.T) {
	ex := &fakeExchanger{exchange: freshToken}
	client := newTestClient(ex, newFileStore(t, nil))

	tok, ok := client.GetValidAccessToken(context.Background())

	assert.False(t, ok)
	assert.Empty(t, tok)
	assert.Equal(t, 0, ex.exchangeCount())
}

func TestGetValidAccessToken_UnauthorizedClearsCredentials(t *testing.T) {
	ex := &fakeExchanger{exchange: func(string) (*copilot.CopilotToken, error) {
		return nil, &copilot.ExchangeError{Op: "copilot token exchange", Status: 401, Kind: copilot.KindInvalidCredential}
	}}
	store := newFileStore(t, storedCredential("", 0))
	client := newTestClient(ex, store)

	tok, ok := client.GetValidAccessToken(context.Background())

	assert.False(t, ok)
	assert.Empty(t, tok)
	assert.Nil(t, store.Load(), "credentials must be cleared after a 401")
	assert.False(t, client.HasValidCredentials())
}

func TestGetValidAccessToken_TransientFailureKeepsCredentials(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "server error", err: &copilot.ExchangeError{Op: "copilot token exchange", Status: 502}},
		{name: "not entitled", err: &copilot.ExchangeError{Op: "copilot token exchange", Status: 403, Kind: copilot.KindNotEntitled}},
		{name: "network", err: errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExchanger{exchange: func(string) (*copilot.CopilotToken, error) { return nil, tt.err }}
			original := storedCredential("cop_old", -time.Minute)
			store := newFileStore(t, original)
			client := newTestClient(ex, store)

			_, ok := client.GetValidAccessToken(context.Background())

			assert.False(t, ok)
			saved := store.Load()
			require.NotNil(t, saved)
			assert.Equal(t, original.GitHubToken, saved.GitHubToken)
			assert.Equal(t, "cop_old", saved.CopilotToken)
		})
	}
}

func TestGetValidAccessToken_ConcurrentCallersShareOneExchange(t *testing.T) {
	ex := &fakeExchanger{exchange: freshToken, gate: make(chan struct{})}
	store := newFileStore(t, storedCredential("", 0))
	client := newTestClient(ex, store)

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, ok := client.GetValidAccessToken(context.Background())
			if ok {
				results <- tok
			}
		}()
	}

	require.Eventually(t, func() bool { return ex.exchangeCount() == 1 }, time.Second, time.Millisecond)
	close(ex.gate)
	wg.Wait()
	close(results)

	count := 0
	for tok := range results {
		assert.Equal(t, "cop_fresh", tok)
		count++
	}
	assert.Equal(t, callers, count)
	assert.Equal(t, 1, ex.exchangeCount())
}

func TestGetValidAccessToken_CancelledCallerDoesNotFailOthers(t *testing.T) {
	ex := &fakeExchanger{exchange: freshToken, gate: make(chan struct{})}
	store := newFileStore(t, storedCredential("", 0))
	client := newTestClient(ex, store)

	ctxA, cancelA := context.WithCancel(context.Background())
	doneA := make(chan bool, 1)
	go func() {
		_, ok := client.GetValidAccessToken(ctxA)
		doneA <- ok
	}()
	require.Eventually(t, func() bool { return ex.exchangeCount() == 1 }, time.Second, time.Millisecond)

	type result struct {
		tok string
		ok  bool
	}
	doneB := make(chan result, 1)
	go func() {
		tok, ok := client.GetValidAccessToken(context.Background())
		doneB <- result{tok, ok}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case ok := <-doneA:
		assert.False(t, ok, "a cancelled caller stops waiting")
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting for the shared exchange")
	}

	close(ex.gate)
	select {
	case res := <-doneB:
		assert.True(t, res.ok)
		assert.Equal(t, "cop_fresh", res.tok)
	case <-time.After(time.Second):
		t.Fatal("second caller did not get a token")
	}
	assert.Equal(t, 1, ex.exchangeCount())

	saved := store.Load()
	require.NotNil(t, saved)
	assert.Equal(t, "cop_fresh", saved.CopilotToken)
}

func TestGetValidAccessToken_UnauthorizedKeepsNewerLogin(t *testing.T) {
	store := newFileStore(t, storedCredential("", 0))
	ex := &fakeExchanger{exchange: func(string) (*copilot.CopilotToken, error) {
		// Another process finishes a login while the old token is being rejected.
		assert.NoError(t, store.Save(credentials.NewCredential("gho_brand_new", testNow)))
		return nil, &copilot.ExchangeError{Op: "copilot token exchange", Status: 401, Kind: copilot.KindInvalidCredential}
	}}
	client := newTestClient(ex, store)

	_, ok := client.GetValidAccessToken(context.Background())

	assert.False(t, ok)
	saved := store.Load()
	require.NotNil(t, saved, "a login saved during the exchange must survive")
	assert.Equal(t, "gho_brand_new", saved.GitHubToken)
}

func TestHasCredentials(t *testing.T) {
	store := newFileStore(t, storedCredential("cop_old", -time.Hour))
	client := newTestClient(&fakeExchanger{exchange: freshToken}, store)

	assert.True(t, client.HasCredentials(), "an expired Copilot token still counts as stored credentials")

	require.NoError(t, client.ClearCredentials())
	assert.False(t, client.HasCredentials())
}

func TestGetValidAccessToken_SaveFailureStillReturnsToken(t *testing.T) {
	ex := &fakeExchanger{exchange: freshToken}
	store := credentials.NewMemoryStore(storedCredential("", 0))
	store.SaveErr = errors.New("read-only")
	client := newTestClient(ex, store)

	tok, ok := client.GetValidAccessToken(context.Background())

	require.True(t, ok)
	assert.Equal(t, "cop_fresh", tok)
}

func TestInvalidateAccessToken_ForcesExchange(t *testing.T) {
	ex := &fakeExchanger{exchange: freshToken}
	store := newFileStore(t, storedCredential("cop_revoked", time.Hour))
	client := newTestClient(ex, store)

	client.InvalidateAccessToken()

	saved := store.Load()
	require.NotNil(t, saved)
	assert.Equal(t, "gho_primary", saved.GitHubToken)
	assert.False(t, saved.HasCopilotToken())

	tok, ok := client.GetValidAccessToken(context.Background())
	require.True(t, ok)
	assert.Equal(t, "cop_fresh", tok)
	assert.Equal(t, 1, ex.exchangeCount())
}

func TestRequireAccessToken(t *testing.T) {
	client := newTestClient(&fakeExchanger{exchange: freshToken}, newFileStore(t, nil))

	_, err := client.RequireAccessToken(context.Background())

	var authErr *AuthenticationRequiredError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, err.Error(), "copilot-proxy auth login")
}

func TestHasValidCredentials(t *testing.T) {
	tests := []struct {
		name string
		cred *credentials.Credential
		want bool
	}{
		{name: "nothing stored", cred: nil, want: false},
		{name: "github token only", cred: storedCredential("", 0), want: true},
		{name: "copilot token valid", cred: storedCredential("cop", 5*time.Minute), want: true},
		{name: "copilot token inside buffer", cred: storedCredential("cop", 10*time.Second), want: false},
		{name: "copilot token expired", cred: storedCredential("cop", -time.Hour), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(&fakeExchanger{exchange: freshToken}, credentials.NewMemoryStore(tt.cred))
			assert.Equal(t, tt.want, client.HasValidCredentials())
		})
	}
}

func TestClearCredentials_Idempotent(t *testing.T) {
	store := newFileStore(t, storedCredential("cop", time.Hour))
	client := newTestClient(&fakeExchanger{exchange: freshToken}, store)

	require.NoError(t, client.ClearCredentials())
	require.NoError(t, client.ClearCredentials())
	assert.Nil(t, store.Load())
	assert.Equal(t, store.Path(), client.CredentialsPath())
}

func TestTriggerOAuthFlow_Completes(t *testing.T) {
	ex := &fakeExchanger{exchange: freshToken}
	store := newFileStore(t, nil)
	client := newTestClient(ex, store)

	sub := client.Events().Subscribe(32, events.KindDeviceAuthorization, events.KindComplete)
	defer sub.Unsubscribe()

	ok, err := client.TriggerOAuthFlow(context.Background())

	require.NoError(t, err)
	assert.True(t, ok)
	saved := store.Load()
	require.NotNil(t, saved)
	assert.Equal(t, "gho_new", saved.GitHubToken)
	assert.Equal(t, deviceflow.StateComplete, client.FlowState())

	first := <-sub.C
	assert.Equal(t, events.KindDeviceAuthorization, first.Kind)
	assert.Equal(t, "WXYZ-0000", first.UserCode)
	second := <-sub.C
	assert.Equal(t, events.KindComplete, second.Kind)
}

func TestTriggerOAuthFlow_Cancelled(t *testing.T) {
	ex := &fakeExchanger{exchange: freshToken}
	client := newTestClient(ex, newFileStore(t, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := client.TriggerOAuthFlow(ctx)

	assert.False(t, ok)
	assert.ErrorIs(t, err, deviceflow.ErrCancelled)
	assert.Equal(t, 0, ex.polls)
}

func TestSetGitHubToken(t *testing.T) {
	store := newFileStore(t, storedCredential("cop", time.Hour))
	client := newTestClient(&fakeExchanger{exchange: freshToken}, store)

	require.NoError(t, client.SetGitHubToken("gho_manual"))

	saved := store.Load()
	require.NotNil(t, saved)
	assert.Equal(t, "gho_manual", saved.GitHubToken)
	assert.False(t, saved.HasCopilotToken(), "a new GitHub token invalidates the cached Copilot token")
	assert.Error(t, client.SetGitHubToken(""))
}

func TestStatus(t *testing.T) {
	store := credentials.NewMemoryStore(storedCredential("cop", time.Hour))
	client := newTestClient(&fakeExchanger{exchange: freshToken}, store)

	s := client.Status()

	assert.True(t, s.Authenticated)
	assert.True(t, s.Valid)
	assert.True(t, s.HasCopilotToken)
	require.NotNil(t, s.CopilotTokenExpiresAt)
	assert.True(t, testNow.Add(time.Hour).Equal(*s.CopilotTokenExpiresAt))
	assert.Equal(t, "memory", s.Path)
	assert.Equal(t, deviceflow.StateIdle.String(), s.FlowState)

	require.NoError(t, client.ClearCredentials())
	s = client.Status()
	assert.False(t, s.Authenticated)
	assert.False(t, s.Valid)
	assert.Nil(t, s.CreatedAt)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "created_at")
	assert.NotContains(t, string(data), "0001-01-01")
}
