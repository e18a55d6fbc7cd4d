package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"dhlottery-backend/lib/scrapers/dhlottery"
)

var (
	buyAuto  *int
	buyLines *[]string
)

func init() {
	buyAuto = buy645Cmd.Flags().Int("auto", 0, "Number of auto-generated lines.")
	buyLines = buy645Cmd.Flags().StringArray("line", nil, "Manual line of 6 numbers, e.g. --line 3,11,15,29,35,44. Repeatable.")
	rootCmd.AddCommand(buy645Cmd)
	rootCmd.AddCommand(buy720Cmd)
}

func parseLine(raw string) (dhlottery.Lotto645Game, error) {
	var game dhlottery.Lotto645Game
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return game, fmt.Errorf("bad number %q in line %q", part, raw)
		}
		game.Numbers = append(game.Numbers, n)
	}
	return game, nil
}

var buy645Cmd = &cobra.Command{
	Use:   "buy645 [--auto <n>] [--line <n,n,n,n,n,n>]...",
	Short: "Buys a Lotto 6/45 ticket with up to five lines.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var games []dhlottery.Lotto645Game
		for i := 0; i < *buyAuto; i++ {
			games = append(games, dhlottery.Lotto645Game{})
		}
		for _, raw := range *buyLines {
			game, err := parseLine(raw)
			if err != nil {
				return err
			}
			games = append(games, game)
		}
		if len(games) == 0 {
			return fmt.Errorf("nothing to buy, pass --auto and/or --line")
		}

		client := createClient()
		receipt, err := client.BuyLotto645(cmd.Context(), games)
		if err != nil {
			return err
		}
		printJSON(receipt)
		return nil
	},
}

var buy720Cmd = &cobra.Command{
	Use:   "buy720",
	Short: "Buys one auto-selected Pension 720+ set (all five class slots).",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := createClient()
		receipt, err := client.BuyPension720Auto(cmd.Context())
		if err != nil {
			return err
		}
		printJSON(receipt)
		return nil
	},
}
