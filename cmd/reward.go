package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/cadence/internal/rewards"
)

var rewardCmd = &cobra.Command{
	Use:   "reward",
	Short: "Compute the points an activity would earn",
	RunE: func(cmd *cobra.Command, args []string) error {
		base, _ := cmd.Flags().GetInt("base")
		streakDays, _ := cmd.Flags().GetInt("streak")
		engagement, _ := cmd.Flags().GetInt("engagement")
		if base < 0 || streakDays < 0 || engagement < 0 {
			return fmt.Errorf("inputs must not be negative")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d\n", cfg.Reward.Compute(base, streakDays, engagement))
		if next := rewards.NextStreakThreshold(streakDays); next > 0 {
			fmt.Fprintf(out, "Next streak milestone at %d days\n", next)
		}
		return nil
	},
}

func init() {
	rewardCmd.Flags().Int("base", 0, "Base reward")
	rewardCmd.Flags().Int("streak", 0, "Current streak in days")
	rewardCmd.Flags().Int("engagement", 0, "Engagement magnitude")
}
