package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/cadence/internal/engine"
	"github.com/abhisek/cadence/internal/leaderboard"
	"github.com/abhisek/cadence/internal/record"
	"github.com/abhisek/cadence/internal/rewards"
	"github.com/abhisek/cadence/internal/streak"
)

var streakCmd = &cobra.Command{
	Use:   "streak",
	Short: "Record activity days and inspect streaks",
}

var streakSeriesCmd = &cobra.Command{
	Use:   "series <id>",
	Short: "Create or update an activity series",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		title, _ := f.GetString("title")
		base, _ := f.GetInt("base-reward")
		allow, _ := f.GetBool("allow-makeup")
		maxDays, _ := f.GetInt("max-makeup-days")
		cost, _ := f.GetInt("makeup-cost")

		s := &record.Series{
			ID:               args[0],
			Title:            title,
			BaseReward:       base,
			AllowMakeup:      allow,
			MaxMakeupDays:    maxDays,
			MakeupCostPerDay: cost,
		}
		var err error
		if s.StartDate, err = dateFlag(cmd, "start"); err != nil {
			return err
		}
		if s.EndDate, err = dateFlag(cmd, "end"); err != nil {
			return err
		}

		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if err := e.Streaks.PutSeries(ctx, s); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved series %s\n", s.ID)
			return nil
		})
	},
}

var streakCheckinCmd = &cobra.Command{
	Use:   "checkin <series>",
	Short: "Record today's activity, or a past day with --date",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, err := dateFlag(cmd, "date")
		if err != nil {
			return err
		}
		engagement, _ := cmd.Flags().GetInt("engagement")
		maxCost, _ := cmd.Flags().GetInt("max-cost")
		user := userFlag(cmd)

		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			day, err := e.Streaks.RecordActivity(ctx, streak.Activity{
				UserID:      user,
				SeriesID:    args[0],
				Date:        date,
				AllowMakeup: !date.IsZero(),
				Engagement:  engagement,
				MaxCost:     maxCost,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked in %s: streak %d day(s), +%d points\n",
				record.FormatDate(day.ActivityDate), day.StreakDays, day.PointsEarned)
			if day.IsMakeup {
				fmt.Fprintf(out, "Makeup cost: %d\n", day.MakeupCost)
			}
			if rewards.IsMilestone(day.StreakDays) {
				fmt.Fprintf(out, "Milestone reached: %d days (%s)\n", day.StreakDays, rewards.StreakRarity(day.StreakDays))
			}
			return nil
		})
	},
}

var streakShowCmd = &cobra.Command{
	Use:   "show <series>",
	Short: "Show streak statistics and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := dateFlag(cmd, "from")
		if err != nil {
			return err
		}
		to, err := dateFlag(cmd, "to")
		if err != nil {
			return err
		}
		user := userFlag(cmd)

		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			st, err := e.Streaks.Stats(ctx, user, args[0])
			if err != nil {
				return err
			}
			days, err := e.Streaks.History(ctx, user, args[0], record.DateRange{From: from, To: to})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Current streak: %d day(s)\n", st.CurrentStreak)
			fmt.Fprintf(out, "Best streak:    %d day(s)\n", st.MaxStreak)
			fmt.Fprintf(out, "Next milestone: %d\n", st.NextMilestone)
			fmt.Fprintf(out, "Days:           %d (%d makeup, %d spent)\n", st.TotalDays, st.MakeupCount, st.MakeupSpent)
			fmt.Fprintf(out, "Points:         %d\n", st.TotalPoints)
			if len(days) == 0 {
				return nil
			}

			fmt.Fprintln(out)
			fmt.Fprintf(out, "%-10s  %6s  %6s  %s\n", "Date", "Streak", "Points", "Makeup")
			fmt.Fprintln(out, strings.Repeat("─", 36))
			for _, d := range days {
				makeup := ""
				if d.IsMakeup {
					makeup = fmt.Sprintf("yes (%d)", d.MakeupCost)
				}
				fmt.Fprintf(out, "%-10s  %6d  %6d  %s\n",
					record.FormatDate(d.ActivityDate), d.StreakDays, d.PointsEarned, makeup)
			}
			return nil
		})
	},
}

var streakLeaderboardCmd = &cobra.Command{
	Use:   "leaderboard [series]",
	Short: "Rank users of a series, or of every series when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		metricFlag, _ := cmd.Flags().GetString("metric")
		metric, err := leaderboard.ParseMetric(metricFlag)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		var seriesID string
		if len(args) == 1 {
			seriesID = args[0]
		}

		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			entries, err := e.Streaks.Leaderboard(ctx, seriesID, leaderboard.SeriesOptions{Metric: metric, Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No activity yet.")
				return nil
			}

			fmt.Fprintf(out, "%4s  %-24s  %8s  %s\n", "Rank", "User", metric, "Reached")
			fmt.Fprintln(out, strings.Repeat("─", 52))
			for _, en := range entries {
				fmt.Fprintf(out, "%4d  %-24s  %8d  %s\n",
					en.Rank, en.UserID, en.Score, record.FormatDate(en.ReachedAt))
			}
			return nil
		})
	},
}

// dateFlag parses a YYYY-MM-DD flag. An unset flag yields the zero time.
func dateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return time.Time{}, nil
	}
	d, err := record.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return d, nil
}

func init() {
	sf := streakSeriesCmd.Flags()
	sf.String("title", "", "Display title")
	sf.Int("base-reward", 5, "Points earned per day before bonuses")
	sf.Bool("allow-makeup", false, "Allow recording missed past days")
	sf.Int("max-makeup-days", 7, "How far back a makeup may reach (0 = no limit)")
	sf.Int("makeup-cost", 0, "Points charged per day reached back")
	sf.String("start", "", "First day of the series (YYYY-MM-DD)")
	sf.String("end", "", "Last day of the series (YYYY-MM-DD)")

	streakCheckinCmd.Flags().String("date", "", "Past day to make up (YYYY-MM-DD)")
	streakCheckinCmd.Flags().Int("engagement", 0, "Engagement magnitude of the activity")
	streakCheckinCmd.Flags().Int("max-cost", 0, "Refuse a makeup costing more than this (0 = no cap)")

	streakShowCmd.Flags().String("from", "", "First day of history shown (YYYY-MM-DD)")
	streakShowCmd.Flags().String("to", "", "Last day of history shown (YYYY-MM-DD)")

	streakLeaderboardCmd.Flags().String("metric", "points", "Ranking metric: points, streak or days")
	streakLeaderboardCmd.Flags().Int("limit", 10, "Maximum entries shown (0 = all)")

	streakCmd.AddCommand(streakSeriesCmd, streakCheckinCmd, streakShowCmd, streakLeaderboardCmd)
}
