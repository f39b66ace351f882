package commands

import (
	"context"
	"fmt"

	"paulemploi-bot/internal/portal"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(situationCmd)
}

var situationCmd = &cobra.Command{
	Use:   "situation",
	Short: "Prints the situation document of the account.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		run(cmd, "situation", func(ctx context.Context, a *app) error {
			situation, err := withSession(ctx, a, "situation", func(ctx context.Context, client *portal.Client) (portal.Situation, error) {
				return client.Situation(ctx, true)
			})
			if err != nil {
				return err
			}
			out, err := situation.Indent()
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		})
	},
}
