package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"dhlottery-backend/lib/scrapers/dhlottery/proxypool"
	"dhlottery-backend/lib/serviceutil"
)

var proxiesRefresh *bool

func init() {
	proxiesRefresh = proxiesCmd.Flags().Bool("refresh", false, "Scrape and validate fresh candidates first.")
	rootCmd.AddCommand(proxiesCmd)
}

var proxiesCmd = &cobra.Command{
	Use:   "proxies [--refresh]",
	Short: "Shows the proxy pool, optionally refreshing it from the public lists.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := readConfig()

		poolCfg := proxypool.Config{}
		if cfg.ProxyDBPath != "" {
			storage, err := proxypool.NewStorage(openProxyDB(cfg.ProxyDBPath))
			if err != nil {
				serviceutil.Fatal("open proxy storage", err)
			}
			poolCfg.Storage = storage
		}
		pool := proxypool.New(poolCfg)

		if *proxiesRefresh {
			if err := pool.Refresh(cmd.Context()); err != nil {
				return err
			}
		}

		candidates := pool.Snapshot()
		sort.Slice(candidates, func(i, j int) bool {
			return candidates[i].Score > candidates[j].Score
		})

		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Address", "Protocol", "Score", "OK", "Fail", "State"})
		for _, c := range candidates {
			t.AppendRow(table.Row{
				c.Address, c.Protocol, fmt.Sprintf("%.2f", c.Score),
				c.SuccessCount, c.FailureCount, c.State,
			})
		}
		t.Render()

		fmt.Printf("%d candidates, %d active\n", len(candidates), pool.Len())
		return nil
	},
}
