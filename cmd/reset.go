package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/cadence/internal/engine"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all data of the selected user",
	RunE: func(cmd *cobra.Command, args []string) error {
		user := userFlag(cmd)
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("this deletes every record of %q; rerun with --yes to confirm", user)
		}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if err := e.ResetUser(ctx, user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted all data of %s.\n", user)
			return nil
		})
	},
}

func init() {
	resetCmd.Flags().Bool("yes", false, "Confirm the deletion")
}
