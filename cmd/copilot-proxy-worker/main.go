//go:build js && wasm

package main

import (
	"github.com/syumai/workers"

	"github.com/dvcrn/copilot-proxy/internal/config"
	"github.com/dvcrn/copilot-proxy/internal/copilot"
	"github.com/dvcrn/copilot-proxy/internal/credentials"
	"github.com/dvcrn/copilot-proxy/internal/generator"
	serverhttp "github.com/dvcrn/copilot-proxy/internal/http"
	"github.com/dvcrn/copilot-proxy/internal/logger"
	"github.com/dvcrn/copilot-proxy/internal/oauth"
	"github.com/dvcrn/copilot-proxy/internal/server"
	"github.com/dvcrn/copilot-proxy/internal/transform"
)

var srv *server.Server

func init() {
	// Workers have no filesystem; configuration comes from the environment only.
	cfg, err := config.Load("")
	if err != nil {
		logger.Get().Error().Err(err).Msg("Failed to load configuration, using defaults")
		cfg = config.Default()
	}

	// Credentials are seeded through POST /admin/credentials.
	var store credentials.Store
	kv, err := credentials.NewCloudflareKVStore()
	if err != nil {
		logger.Get().Error().Err(err).Msg("Failed to create credentials store")
		logger.Get().Warn().Msg("Falling back to in-memory credentials; they are lost when the isolate is recycled")
		store = credentials.NewMemoryStore(nil)
	} else {
		store = kv
	}

	httpClient := serverhttp.NewHTTPClient()
	auth := oauth.NewClient(oauth.Options{
		Exchanger: copilot.NewExchanger(copilot.Options{
			HTTPClient:    httpClient,
			GitHubBaseURL: cfg.GitHubBaseURL,
			APIBaseURL:    cfg.APIBaseURL,
			Version:       cfg.CLIVersion(),
		}),
		Store:           store,
		SuppressBrowser: true,
	})

	srv = server.NewServer(server.Options{
		Auth: auth,
		Generator: generator.New(transform.CopilotTranslator{}, auth, generator.Options{
			HTTPClient: httpClient,
			BaseURL:    cfg.ChatBaseURL,
			Version:    cfg.CLIVersion(),
		}),
		AdminAPIKey:  cfg.AdminAPIKey,
		DefaultModel: cfg.DefaultModel,
	})
}

func main() {
	// Serve using workers - it handles all the HTTP server setup
	workers.Serve(srv)
}
