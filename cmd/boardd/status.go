package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dreamware/boardcache/internal/cluster"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running node's cluster status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := statusAddr
		if addr == "" {
			addr = localAddr(cfg.Address)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var env struct {
			Status string         `json:"status"`
			Data   cluster.Status `json:"data"`
		}
		if err := cluster.GetJSON(ctx, "http://"+addr+"/.api/clusterStatus", &env); err != nil {
			return err
		}
		if env.Status != "ok" {
			return fmt.Errorf("node answered %q", env.Status)
		}
		printStatus(env.Data)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "node address (default: the configured listen address)")
	rootCmd.AddCommand(statusCmd)
}

func printStatus(st cluster.Status) {
	fmt.Printf("role:       %s\n", st.Role)
	if st.Master != "" {
		fmt.Printf("master:     %s\n", st.Master)
	}
	rebuilding := "no"
	if st.Rebuilding {
		rebuilding = "yes (" + st.RebuildID + ")"
	}
	fmt.Printf("rebuilding: %s\n", rebuilding)
	fmt.Printf("artifacts:  %s\n", humanize.Comma(int64(st.Artifacts)))
	fmt.Printf("cache:      %s, %s hits\n", st.CacheSize, humanize.Comma(int64(st.CacheHits)))

	if len(st.Slaves) == 0 {
		return
	}
	fmt.Println()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLAVE\tSTATUS\tFAILS\tLAST HEALTHY")
	for _, s := range st.Slaves {
		last := "never"
		if !s.LastHealthy.IsZero() {
			last = humanize.Time(s.LastHealthy)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Addr, s.Status, s.ConsecutiveFails, last)
	}
	tw.Flush()
}
