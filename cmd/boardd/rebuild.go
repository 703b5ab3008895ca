package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/boardcache/internal/cluster"
)

var rebuildAddr string

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Start a full rebuild on a running node",
	Long: `Ask a running node to regenerate every artifact. The node answers as
soon as the rebuild starts; a request made while one is running is ignored.

Examples:
  boardd rebuild
  boardd rebuild --addr 10.0.0.2:8080`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := rebuildAddr
		if addr == "" {
			addr = localAddr(cfg.Address)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var env struct {
			Status string            `json:"status"`
			Data   map[string]string `json:"data"`
		}
		if err := cluster.PostJSON(ctx, "http://"+addr+"/.api/rebuild", struct{}{}, &env); err != nil {
			return err
		}
		fmt.Printf("rebuild %s id=%s\n", env.Status, env.Data["id"])
		return nil
	},
}

func init() {
	rebuildCmd.Flags().StringVar(&rebuildAddr, "addr", "", "node address (default: the configured listen address)")
	rootCmd.AddCommand(rebuildCmd)
}
