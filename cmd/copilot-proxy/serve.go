package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dvcrn/copilot-proxy/internal/server"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			if port == "" {
				port = a.cfg.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := server.NewServer(server.Options{
				Auth:         a.auth,
				Generator:    a.generator,
				AdminAPIKey:  a.cfg.AdminAPIKey,
				DefaultModel: a.cfg.DefaultModel,
			})
			return srv.Start(ctx, ":"+port)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "port to listen on (default 9877, or PORT)")
	return cmd
}
