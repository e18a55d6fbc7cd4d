package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resultRound *int

func init() {
	resultRound = resultCmd.Flags().Int("round", 0, "Draw round, 0 means the latest. Only meaningful for pt720.")
	rootCmd.AddCommand(resultCmd)
}

var resultCmd = &cobra.Command{
	Use:   "result <lt645|pt720> [--round <n>]",
	Short: "Prints a published draw result.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := createClient()
		switch args[0] {
		case "lt645":
			result, err := client.FetchLotto645Result(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(result)
		case "pt720":
			result, err := client.FetchPension720Result(cmd.Context(), *resultRound)
			if err != nil {
				return err
			}
			printJSON(result)
		default:
			return fmt.Errorf("unknown game %q, expected lt645 or pt720", args[0])
		}
		return nil
	},
}

var (
	shopsRank   *int
	shopsRound  *int
	shopsRegion *string
)

func init() {
	shopsRank = shopsCmd.Flags().Int("rank", 1, "Winning rank to search for.")
	shopsRound = shopsCmd.Flags().Int("round", 0, "Draw round.")
	shopsRegion = shopsCmd.Flags().String("region", "", "Region filter, empty means nationwide.")
	rootCmd.AddCommand(shopsCmd)
}

var shopsCmd = &cobra.Command{
	Use:   "shops <lt645|pt720|scratch> [--rank <n>] [--round <n>] [--region <name>]",
	Short: "Lists shops that sold a winning ticket.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := createClient()
		shops, err := client.FetchWinningShops(cmd.Context(), args[0], *shopsRank, *shopsRound, *shopsRegion)
		if err != nil {
			return err
		}
		printJSON(shops)
		return nil
	},
}
