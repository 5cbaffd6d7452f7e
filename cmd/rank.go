package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/cadence/internal/engine"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Write leaderboard ranks to participations",
}

var rankRunCmd = &cobra.Command{
	Use:   "run [challenge]",
	Short: "Rank one challenge, or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				n, err := e.Ranking.RankChallenge(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Ranked %d participant(s) in %s\n", n, args[0])
				return nil
			}
			sum, err := e.Ranking.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Ranked %d participant(s) across %d challenge(s) in %s\n",
				sum.Ranked, sum.Challenges, sum.Duration)
			return nil
		})
	},
}

var rankScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Rank all challenges periodically until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if interval <= 0 {
				interval = e.RankInterval()
			}
			return e.Ranking.Start(ctx, interval)
		})
	},
}

func init() {
	rankScheduleCmd.Flags().Duration("interval", 0, "Ranking interval (defaults to leaderboard.interval)")
	rankCmd.AddCommand(rankRunCmd, rankScheduleCmd)
}
