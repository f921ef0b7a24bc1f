package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/dvcrn/copilot-proxy/internal/events"
	"github.com/dvcrn/copilot-proxy/internal/oauth"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage GitHub Copilot authentication",
	}
	cmd.AddCommand(newAuthLoginCmd(), newAuthStatusCmd(), newAuthLogoutCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with GitHub using the device flow",
		Long: `Authenticate with GitHub using the OAuth device flow.

A one-time code is shown; enter it at the verification page to grant
access. Press Ctrl+C to cancel.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(noBrowser)
			if err != nil {
				return err
			}
			return runLogin(cmd, a.auth)
		},
	}

	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "do not open the verification page in a browser")
	return cmd
}

func runLogin(cmd *cobra.Command, auth *oauth.Client) error {
	bus := auth.Events()
	sub := bus.Subscribe(16)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
	s.Suffix = " Starting GitHub device authorization..."
	s.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		renderEvents(cmd, s, sub)
	}()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	done := make(chan struct{})
	defer close(done)
	go forwardFirstInterrupt(interrupts, done, signal.Stop, bus.RequestCancel)

	ok, err := auth.TriggerOAuthFlow(cmd.Context())
	sub.Unsubscribe()
	wg.Wait()
	s.Stop()

	if !ok {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", text.FgRed.Sprint("✗"), err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Authenticated. Credentials saved to %s\n", text.FgGreen.Sprint("✓"), auth.CredentialsPath())
	return nil
}

// forwardFirstInterrupt turns the first Ctrl+C into a cancel request and
// releases the signal, so a second Ctrl+C ends the process even if the
// request was missed.
func forwardFirstInterrupt(interrupts chan os.Signal, done <-chan struct{}, release func(chan<- os.Signal), cancel func()) {
	select {
	case <-interrupts:
		release(interrupts)
		cancel()
	case <-done:
	}
}

// renderEvents drives the spinner from flow events until the subscription
// is closed.
func renderEvents(cmd *cobra.Command, s *spinner.Spinner, sub *events.Subscription) {
	for ev := range sub.C {
		switch ev.Kind {
		case events.KindDeviceAuthorization:
			s.Stop()
			fmt.Fprintf(cmd.OutOrStdout(), "\nOpen %s and enter the code %s\n\n",
				text.FgHiCyan.Sprint(ev.VerificationURI),
				text.Bold.Sprint(text.FgYellow.Sprint(ev.UserCode)))
			s.Start()
		case events.KindProgress:
			s.Lock()
			s.Suffix = " " + ev.Message
			s.Unlock()
		}
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored credential status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}

			st := a.auth.Status()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Credentials: %s\n", st.Path)
			switch {
			case !st.Authenticated:
				fmt.Fprintf(out, "  Status:    %s\n", text.FgYellow.Sprint("Not authenticated"))
				return &oauth.AuthenticationRequiredError{Reason: "no stored credentials"}
			case st.Valid:
				fmt.Fprintf(out, "  Status:    %s\n", text.FgGreen.Sprint("Authenticated"))
			default:
				fmt.Fprintf(out, "  Status:    %s\n", text.FgYellow.Sprint("Copilot token expired (refreshed on next request)"))
			}
			if st.CopilotTokenExpiresAt != nil {
				fmt.Fprintf(out, "  Expires:   %s\n", formatExpiry(*st.CopilotTokenExpiresAt))
			}
			if st.UpdatedAt != nil {
				fmt.Fprintf(out, "  Updated:   %s\n", st.UpdatedAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

func formatExpiry(t time.Time) string {
	d := time.Until(t).Round(time.Second)
	if d <= 0 {
		return text.FgYellow.Sprintf("expired %s ago", -d)
	}
	return text.FgGreen.Sprintf("in %s", d)
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true)
			if err != nil {
				return err
			}
			if err := a.auth.ClearCredentials(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Removed credentials from %s\n", text.FgGreen.Sprint("✓"), a.auth.CredentialsPath())
			return nil
		},
	}
}
