package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvcrn/copilot-proxy/internal/config"
	"github.com/dvcrn/copilot-proxy/internal/deviceflow"
	"github.com/dvcrn/copilot-proxy/internal/oauth"
)

// Exit codes for scripting.
const (
	ExitCodeError        = 1
	ExitCodeAuthRequired = 2
	ExitCodeAuthFailed   = 3
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "copilot-proxy",
	Short: "Serve the Gemini API on top of GitHub Copilot",
	Long: `copilot-proxy exposes a Gemini generateContent compatible API and
forwards requests to the GitHub Copilot chat completions endpoint.

Authenticate once with 'copilot-proxy auth login', then run 'copilot-proxy serve'.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $HOME/.config/copilot-proxy/config.yaml)")
	rootCmd.Version = config.Version
	rootCmd.SetVersionTemplate(`{{printf "copilot-proxy version %s\n" .Version}}`)
	rootCmd.AddCommand(newServeCmd(), newAuthCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var authRequired *oauth.AuthenticationRequiredError
	switch {
	case errors.As(err, &authRequired):
		return ExitCodeAuthRequired
	case errors.Is(err, deviceflow.ErrTimedOut),
		errors.Is(err, deviceflow.ErrCancelled),
		errors.Is(err, deviceflow.ErrRateLimited):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}
