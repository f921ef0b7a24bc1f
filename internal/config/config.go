// Package config holds the host configuration: defaults, then an optional
// YAML file, then environment variables. Command-line flags are applied by
// the caller on top of the returned Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/dvcrn/copilot-proxy/internal/copilot"
	"github.com/dvcrn/copilot-proxy/internal/env"
	"github.com/dvcrn/copilot-proxy/internal/logger"
)

// Version is the CLI version, set at build time with
// -ldflags "-X github.com/dvcrn/copilot-proxy/internal/config.Version=...".
var Version = "dev"

const (
	userConfigDir  = ".config/copilot-proxy"
	configFileName = "config.yaml"

	DefaultPort  = "9877"
	DefaultModel = "gpt-4.1"
)

// Config is the resolved host configuration.
type Config struct {
	Port            string `yaml:"port"`
	AdminAPIKey     string `yaml:"admin_api_key"`
	CredentialsPath string `yaml:"credentials_path"`
	NoBrowser       bool   `yaml:"no_browser"`
	DefaultModel    string `yaml:"default_model"`

	GitHubBaseURL string `yaml:"github_base_url"`
	APIBaseURL    string `yaml:"api_base_url"`
	ChatBaseURL   string `yaml:"chat_base_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:          DefaultPort,
		DefaultModel:  DefaultModel,
		GitHubBaseURL: copilot.DefaultGitHubBaseURL,
		APIBaseURL:    copilot.DefaultAPIBaseURL,
		ChatBaseURL:   copilot.DefaultChatBaseURL,
	}
}

// DefaultPath returns ~/.config/copilot-proxy/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, userConfigDir, configFileName), nil
}

// Load reads the config file at path (the default path when empty) and
// applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if p, ok := env.Get("COPILOT_PROXY_CONFIG"); ok {
			path = p
		} else if p, err := DefaultPath(); err == nil {
			path = p
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Get().Debug().Str("path", path).Msg("No config file found, using defaults")
		case err != nil:
			return nil, fmt.Errorf("error reading config from %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error loading config from %s: %w", path, err)
			}
			logger.Get().Debug().Str("path", path).Msg("Loaded configuration")
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := env.Get("PORT"); ok {
		c.Port = v
	}
	if v, ok := env.Get("ADMIN_API_KEY"); ok {
		c.AdminAPIKey = v
	}
	if v, ok := env.Get("COPILOT_PROXY_CREDENTIALS_PATH"); ok {
		c.CredentialsPath = v
	}
	if v, ok := env.Get("COPILOT_PROXY_DEFAULT_MODEL"); ok {
		c.DefaultModel = v
	}
	c.NoBrowser = env.GetBool("COPILOT_PROXY_NO_BROWSER", c.NoBrowser)
}

// CLIVersion is the version reported to GitHub in client headers.
func (c *Config) CLIVersion() string {
	return Version
}

// BrowserLaunchSuppressed reports whether the device flow must not open a browser.
func (c *Config) BrowserLaunchSuppressed() bool {
	return c.NoBrowser
}
