package main

import (
	"fmt"

	"github.com/dvcrn/copilot-proxy/internal/config"
	"github.com/dvcrn/copilot-proxy/internal/copilot"
	"github.com/dvcrn/copilot-proxy/internal/credentials"
	"github.com/dvcrn/copilot-proxy/internal/deviceflow"
	"github.com/dvcrn/copilot-proxy/internal/generator"
	serverhttp "github.com/dvcrn/copilot-proxy/internal/http"
	"github.com/dvcrn/copilot-proxy/internal/oauth"
	"github.com/dvcrn/copilot-proxy/internal/transform"
)

// app holds the wired components shared by all commands.
type app struct {
	cfg       *config.Config
	auth      *oauth.Client
	generator *generator.Generator
}

func newApp(noBrowser bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	store, err := credentials.NewFileStore(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create credentials store: %w", err)
	}

	httpClient := serverhttp.NewHTTPClient()
	exchanger := copilot.NewExchanger(copilot.Options{
		HTTPClient:    httpClient,
		GitHubBaseURL: cfg.GitHubBaseURL,
		APIBaseURL:    cfg.APIBaseURL,
		Version:       cfg.CLIVersion(),
	})

	auth := oauth.NewClient(oauth.Options{
		Exchanger:       exchanger,
		Store:           store,
		Browser:         deviceflow.SystemBrowser{},
		SuppressBrowser: noBrowser || cfg.BrowserLaunchSuppressed(),
	})

	gen := generator.New(transform.CopilotTranslator{}, auth, generator.Options{
		HTTPClient: httpClient,
		BaseURL:    cfg.ChatBaseURL,
		Version:    cfg.CLIVersion(),
	})

	return &app{cfg: cfg, auth: auth, generator: gen}, nil
}
