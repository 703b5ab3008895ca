package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamware/boardcache/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the node",
	Long: `Run the node: serve artifacts over HTTP, accept invalidation signals on
the signal feed and, on a master, forward traffic to the slaves.

Stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	return srv.Run(ctx)
}
