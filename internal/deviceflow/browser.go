package deviceflow

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/dvcrn/copilot-proxy/internal/env"
)

// ErrNoBrowser is returned when the host has no way to open a browser.
var ErrNoBrowser = errors.New("no browser available")

// BrowserLauncher opens a URL for the user. Failures are never fatal to the
// flow; the verification URI and code are displayed instead.
type BrowserLauncher interface {
	Launch(url string) error
}

// BrowserFunc adapts a function to BrowserLauncher.
type BrowserFunc func(url string) error

// Launch calls f(url).
func (f BrowserFunc) Launch(url string) error {
	return f(url)
}

// SystemBrowser opens URLs with the platform's default handler.
type SystemBrowser struct{}

// Launch starts the platform opener without waiting for it to exit.
func (SystemBrowser) Launch(url string) error {
	var name string
	var args []string

	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		_, hasX := env.Get("DISPLAY")
		_, hasWayland := env.Get("WAYLAND_DISPLAY")
		if !hasX && !hasWayland {
			return ErrNoBrowser
		}
		name, args = "xdg-open", []string{url}
	case "darwin":
		name, args = "open", []string{url}
	case "windows":
		name, args = "cmd", []string{"/c", "start", url}
	default:
		return fmt.Errorf("unsupported platform %s: %w", runtime.GOOS, ErrNoBrowser)
	}

	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s not found: %w", name, ErrNoBrowser)
	}

	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	// Reap the opener in the background.
	go func() { _ = cmd.Wait() }()
	return nil
}
