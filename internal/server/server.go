package server

import (
	"context"
	"net/http"
	"time"

	"github.com/dvcrn/copilot-proxy/internal/env"
	"github.com/dvcrn/copilot-proxy/internal/generator"
	"github.com/dvcrn/copilot-proxy/internal/logger"
	"github.com/dvcrn/copilot-proxy/internal/oauth"
)

// AuthClient is the part of oauth.Client the server uses.
type AuthClient interface {
	GetValidAccessToken(ctx context.Context) (string, bool)
	Status() oauth.Status
	SetGitHubToken(token string) error
	ClearCredentials() error
}

// Options configures a Server.
type Options struct {
	Auth      AuthClient
	Generator *generator.Generator
	// AdminAPIKey protects the admin endpoints and, when set, the model endpoints.
	AdminAPIKey  string
	DefaultModel string
}

// Server represents the proxy server with its dependencies
type Server struct {
	auth         AuthClient
	generator    *generator.Generator
	adminKey     string
	defaultModel string
	mux          *http.ServeMux
}

// NewServer creates a new server instance
func NewServer(opts Options) *Server {
	s := &Server{
		auth:         opts.Auth,
		generator:    opts.Generator,
		adminKey:     opts.AdminAPIKey,
		defaultModel: opts.DefaultModel,
		mux:          http.NewServeMux(),
	}
	s.setupRoutes()

	return s
}

// Start checks the stored credentials, starts the token refresh loop and
// serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	if _, ok := s.auth.GetValidAccessToken(ctx); ok {
		logger.Get().Info().Msg("Copilot credentials are valid")
	} else {
		logger.Get().Warn().Msg("No usable Copilot credentials; run `copilot-proxy auth login`. Requests will fail until then")
	}

	s.startTokenRefreshLoop(ctx)

	srv := &http.Server{Addr: addr, Handler: loggingMiddleware(s.mux)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Get().Info().Msgf("Starting proxy server on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// startTokenRefreshLoop keeps the Copilot token warm so requests rarely pay
// for an exchange.
func (s *Server) startTokenRefreshLoop(ctx context.Context) {
	refreshIntervalStr := env.GetOrDefault("TOKEN_REFRESH_INTERVAL", "5m")
	refreshInterval, err := time.ParseDuration(refreshIntervalStr)
	if err != nil || refreshInterval <= 0 {
		logger.Get().Warn().Err(err).Str("value", refreshIntervalStr).Msg("Invalid token refresh interval, defaulting to 5 minutes")
		refreshInterval = 5 * time.Minute
	}

	logger.Get().Info().Dur("refresh_interval", refreshInterval).Msg("Starting periodic token refresh")

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Get().Debug().Msg("Running periodic token refresh check...")
				if _, ok := s.auth.GetValidAccessToken(ctx); !ok {
					logger.Get().Warn().Msg("Periodic token refresh found no usable credentials")
				}
			}
		}
	}()
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/admin/credentials", s.adminMiddleware(s.credentialsHandler))
	s.mux.HandleFunc("/admin/credentials/status", s.adminMiddleware(s.credentialsStatusHandler))
	s.mux.HandleFunc("/v1beta/models", s.apiKeyMiddleware(s.modelsHandler))
	s.mux.HandleFunc("/v1beta/models/", s.apiKeyMiddleware(s.geminiHandler))
	s.mux.HandleFunc("/v1/models/", s.apiKeyMiddleware(s.geminiHandler))
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	loggingMiddleware(s.mux).ServeHTTP(w, r)
}
