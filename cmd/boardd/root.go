package main

import (
	"fmt"
	"log"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/dreamware/boardcache/internal/config"
)

var (
	configPath string
	cfg        config.Config
	logger     = log.New(os.Stdout, "[boardd] ", log.LstdFlags|log.Lmicroseconds)
)

var rootCmd = &cobra.Command{
	Use:   "boardd",
	Short: "Board page cache node",
	Long: `boardd pre-renders imageboard pages into an artifact store and serves
them, optionally as the master or a slave of a small cluster.

Without a subcommand it runs the node (same as "boardd serve").`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		var err error
		cfg, err = config.Load(configPath)
		return err
	},
	RunE: runServe,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("BOARDD_CONFIG"), "path to the YAML configuration file")
}

// localAddr turns a listen address into one a client on this host can dial.
func localAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
