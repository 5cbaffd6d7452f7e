package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/cadence/internal/challenge"
	"github.com/abhisek/cadence/internal/engine"
	"github.com/abhisek/cadence/internal/leaderboard"
	"github.com/abhisek/cadence/internal/record"
)

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Run challenges and their leaderboards",
}

var challengeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a challenge",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		nc := challenge.NewChallenge{}
		nc.ID, _ = f.GetString("id")
		nc.Title, _ = f.GetString("title")
		nc.BaseReward, _ = f.GetInt("base-reward")
		if f.Changed("allow-empty") {
			allow, _ := f.GetBool("allow-empty")
			nc.AllowEmptyCompletion = &allow
		}

		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			c, err := e.Challenges.CreateChallenge(ctx, nc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created challenge %s\n", c.ID)
			return nil
		})
	},
}

var challengeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List challenges",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			list, err := e.Challenges.ListChallenges(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No challenges.")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-30s  %6s\n", "ID", "Title", "Reward")
			fmt.Fprintln(out, strings.Repeat("─", 76))
			for _, c := range list {
				fmt.Fprintf(out, "%-36s  %-30s  %6d\n", c.ID, c.Title, c.BaseReward)
			}
			return nil
		})
	},
}

var challengeJoinCmd = &cobra.Command{
	Use:   "join <challenge>",
	Short: "Register the user for a challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := userFlag(cmd)
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			p, err := e.Challenges.Register(ctx, args[0], user)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s joined %s (%s)\n", user, p.ChallengeID, p.Status)
			return nil
		})
	},
}

var challengeProgressCmd = &cobra.Command{
	Use:   "progress <challenge> <score>",
	Short: "Report the user's current score",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid score %q: %w", args[1], err)
		}
		engagement, _ := cmd.Flags().GetInt("engagement")
		key := record.ParticipationKey{ChallengeID: args[0], UserID: userFlag(cmd)}

		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			p, err := e.Challenges.RecordProgress(ctx, key, challenge.Progress{Score: score, Engagement: engagement})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Score %d (best %d), %s\n", p.CurrentScore, p.BestScore, p.Status)
			return nil
		})
	},
}

var challengeCompleteCmd = &cobra.Command{
	Use:   "complete <challenge>",
	Short: "Complete the user's participation and collect the reward",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := record.ParticipationKey{ChallengeID: args[0], UserID: userFlag(cmd)}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			p, err := e.Challenges.Complete(ctx, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Completed with best score %d, +%d points\n", p.BestScore, p.RewardPoints)
			return nil
		})
	},
}

var challengeAbandonCmd = &cobra.Command{
	Use:   "abandon <challenge>",
	Short: "Abandon the user's participation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := record.ParticipationKey{ChallengeID: args[0], UserID: userFlag(cmd)}
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if _, err := e.Challenges.Abandon(ctx, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Abandoned %s\n", args[0])
			return nil
		})
	},
}

var challengeLeaderboardCmd = &cobra.Command{
	Use:   "leaderboard <challenge>",
	Short: "Show the challenge leaderboard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modeFlag, _ := cmd.Flags().GetString("mode")
		mode, err := leaderboard.ParseMode(modeFlag)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			entries, err := e.Challenges.Leaderboard(ctx, args[0], leaderboard.Options{Mode: mode, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No ranked participants.")
				return nil
			}

			fmt.Fprintf(out, "%4s  %-24s  %6s  %-10s  %s\n", "Rank", "User", "Score", "Status", "Reached")
			fmt.Fprintln(out, strings.Repeat("─", 70))
			for _, en := range entries {
				fmt.Fprintf(out, "%4d  %-24s  %6d  %-10s  %s\n",
					en.Rank, en.UserID, en.Score, en.Status, en.ReachedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		})
	},
}

var challengeStatsCmd = &cobra.Command{
	Use:   "stats <challenge>",
	Short: "Show participation statistics of a challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			st, err := e.Challenges.Stats(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Participants: %d (%d registered, %d active, %d completed, %d abandoned)\n",
				st.Participants, st.Registered, st.Active, st.Completed, st.Abandoned)
			fmt.Fprintf(out, "Completion:   %.1f%%\n", st.CompletionRate*100)
			fmt.Fprintf(out, "Scores:       avg %.1f, high %d\n", st.AverageScore, st.HighestScore)
			fmt.Fprintf(out, "Rewards paid: %d\n", st.RewardsPaid)
			return nil
		})
	},
}

func init() {
	cf := challengeCreateCmd.Flags()
	cf.String("id", "", "Challenge id (generated when empty)")
	cf.String("title", "", "Display title")
	cf.Int("base-reward", 10, "Points awarded on completion before bonuses")
	cf.Bool("allow-empty", false, "Allow completing without any progress")

	challengeProgressCmd.Flags().Int("engagement", 0, "Engagement magnitude recorded with the day's activity")
	challengeLeaderboardCmd.Flags().String("mode", "live", "Leaderboard mode: live or completed")
	challengeLeaderboardCmd.Flags().Int("limit", 10, "Maximum entries shown (0 = all)")

	challengeCmd.AddCommand(challengeCreateCmd, challengeListCmd, challengeJoinCmd,
		challengeProgressCmd, challengeCompleteCmd, challengeAbandonCmd,
		challengeLeaderboardCmd, challengeStatsCmd)
}
