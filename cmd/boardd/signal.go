package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/boardcache/internal/invalidate"
)

var signalAddr string

var signalFlags struct {
	board   string
	thread  int64
	page    int
	catalog bool
	all     bool
}

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Send an invalidation signal to a running node",
	Long: `Send one invalidation signal over the node's signal feed.

Examples:
  boardd signal --board a --thread 5   # regenerate /a/res/5.html
  boardd signal --board a --page 2     # regenerate /a/2.html
  boardd signal --board a --catalog    # regenerate /a/catalog.html
  boardd signal --board a              # regenerate every page of /a/
  boardd signal --all                  # full rebuild`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sig := invalidate.Signal{
			Board:   signalFlags.board,
			Catalog: signalFlags.catalog,
			All:     signalFlags.all,
		}
		if cmd.Flags().Changed("thread") {
			sig.Thread = &signalFlags.thread
		}
		if cmd.Flags().Changed("page") {
			sig.Page = &signalFlags.page
		}
		if err := sig.Validate(); err != nil {
			return err
		}

		addr := signalAddr
		if addr == "" {
			addr = localAddr(cfg.SignalAddress)
		}
		if addr == "" {
			return errors.New("signal feed is disabled; pass --addr")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := invalidate.Send(ctx, addr, sig); err != nil {
			return err
		}
		fmt.Printf("sent %s\n", sig)
		return nil
	},
}

func init() {
	f := signalCmd.Flags()
	f.StringVar(&signalAddr, "addr", "", "signal feed address (default: the configured signalAddress)")
	f.StringVar(&signalFlags.board, "board", "", "board URI")
	f.Int64Var(&signalFlags.thread, "thread", 0, "thread id")
	f.IntVar(&signalFlags.page, "page", 0, "board page number")
	f.BoolVar(&signalFlags.catalog, "catalog", false, "regenerate the catalog")
	f.BoolVar(&signalFlags.all, "all", false, "full rebuild")
	rootCmd.AddCommand(signalCmd)
}
