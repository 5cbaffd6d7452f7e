package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/cadence/internal/engine"
	"github.com/abhisek/cadence/internal/record"
	"github.com/abhisek/cadence/internal/spacedrep"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Manage the vocabulary review schedule",
}

var reviewAddCmd = &cobra.Command{
	Use:   "add <item>...",
	Short: "Add items to the learning list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := userFlag(cmd)
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			for _, id := range args {
				_, err := e.Scheduler.AddItem(ctx, record.ItemKey{UserID: user, ItemID: id})
				if err != nil {
					return fmt.Errorf("add %q: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s\n", id)
			}
			return nil
		})
	},
}

var reviewAttemptCmd = &cobra.Command{
	Use:   "attempt <item>",
	Short: "Record an answer to an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		correct, _ := cmd.Flags().GetBool("correct")
		wrong, _ := cmd.Flags().GetBool("wrong")
		spent, _ := cmd.Flags().GetDuration("time")
		if correct == wrong {
			return fmt.Errorf("pass exactly one of --correct or --wrong")
		}

		user := userFlag(cmd)
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			res, err := e.Practice(ctx, engine.PracticeRequest{
				UserID:    user,
				ItemID:    args[0],
				Correct:   correct,
				TimeSpent: spent,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			it := res.Item
			fmt.Fprintf(out, "%s: %s, next review in %d day(s) (ease %.2f)\n",
				it.ItemID, it.MasteryLevel.DisplayName(), it.ReviewIntervalDays, it.EaseFactor)
			if res.Transition != nil {
				fmt.Fprintf(out, "Mastery %s -> %s\n", res.Transition.From, res.Transition.To)
			}
			if res.NewDay {
				fmt.Fprintf(out, "Study streak: %d day(s)\n", res.StreakDays)
			}
			fmt.Fprintf(out, "Points: %d\n", res.Points)
			return nil
		})
	},
}

var reviewDueCmd = &cobra.Command{
	Use:   "due",
	Short: "List items due for review",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		user := userFlag(cmd)
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			items, err := e.Scheduler.GetDueItems(ctx, user, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "Nothing due.")
				return nil
			}

			now := time.Now()
			fmt.Fprintf(out, "%-24s  %-10s  %8s  %-8s\n", "Item", "Level", "Interval", "Status")
			fmt.Fprintln(out, strings.Repeat("─", 58))
			for _, it := range items {
				fmt.Fprintf(out, "%-24s  %-10s  %8d  %-8s\n",
					it.ItemID, it.MasteryLevel, it.ReviewIntervalDays, spacedrep.Status(it, now))
			}
			fmt.Fprintf(out, "\n%d due\n", len(items))
			return nil
		})
	},
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every item with the days left until its next review",
	RunE: func(cmd *cobra.Command, args []string) error {
		user := userFlag(cmd)
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			rows, err := e.Scheduler.Schedule(ctx, user)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No items yet. Add some with 'cadence review add'.")
				return nil
			}

			fmt.Fprintf(out, "%-24s  %-10s  %8s  %-8s  %s\n", "Item", "Level", "Interval", "Status", "Next in")
			fmt.Fprintln(out, strings.Repeat("─", 68))
			for _, r := range rows {
				next := "now"
				switch {
				case r.Status == spacedrep.ReviewRetired:
					next = "-"
				case r.DaysUntil > 0:
					next = fmt.Sprintf("%dd", r.DaysUntil)
				}
				fmt.Fprintf(out, "%-24s  %-10s  %8d  %-8s  %s\n",
					r.Item.ItemID, r.Item.MasteryLevel, r.Item.ReviewIntervalDays, r.Status, next)
			}
			return nil
		})
	},
}

var reviewResetCmd = &cobra.Command{
	Use:   "reset <item>",
	Short: "Reset an item to the NEW state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := userFlag(cmd)
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if _, err := e.Scheduler.Reset(ctx, record.ItemKey{UserID: user, ItemID: args[0]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", args[0])
			return nil
		})
	},
}

var reviewExpertCmd = &cobra.Command{
	Use:   "expert <item>",
	Short: "Mark an item as mastered; it is never due again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := userFlag(cmd)
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if _, err := e.Scheduler.MarkExpert(ctx, record.ItemKey{UserID: user, ItemID: args[0]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s marked expert\n", args[0])
			return nil
		})
	},
}

var reviewRemoveCmd = &cobra.Command{
	Use:   "remove <item>",
	Short: "Remove an item from the learning list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user := userFlag(cmd)
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			if err := e.Scheduler.RemoveItem(ctx, record.ItemKey{UserID: user, ItemID: args[0]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		})
	},
}

var reviewStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show learning and study-streak statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		recent, _ := cmd.Flags().GetInt("recent")
		user := userFlag(cmd)
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			st, err := e.Stats(ctx, user, recent)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			l := st.Learning
			fmt.Fprintf(out, "Items:        %d (%d due now)\n", l.TotalItems, l.DueNow)
			fmt.Fprintf(out, "Attempts:     %d (%d correct, %d wrong)\n", l.TotalAttempts, l.CorrectCount, l.WrongCount)
			fmt.Fprintf(out, "Accuracy:     %.1f%%\n", l.AverageAccuracy*100)
			fmt.Fprintf(out, "Time spent:   %s\n", l.TimeSpent.Round(time.Second))
			for _, lvl := range record.AllLevels() {
				fmt.Fprintf(out, "  %-11s %d\n", lvl.DisplayName(), l.Distribution[lvl])
			}

			s := st.Study
			fmt.Fprintf(out, "Study streak: %d day(s), best %d, next milestone %d\n",
				s.CurrentStreak, s.MaxStreak, s.NextMilestone)
			fmt.Fprintf(out, "Study days:   %d, %d points\n", s.TotalDays, s.TotalPoints)

			if len(st.RecentAttempts) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, strings.Repeat("─", 60))
				for _, ev := range st.RecentAttempts {
					ok := "✓"
					if !ev.Correct {
						ok = "✗"
					}
					fmt.Fprintf(out, "%s  %-24s  %s  +%d\n",
						ev.CreatedAt.Local().Format("2006-01-02 15:04"), ev.ItemID, ok, ev.Points)
				}
			}
			return nil
		})
	},
}

func init() {
	reviewAttemptCmd.Flags().Bool("correct", false, "The answer was correct")
	reviewAttemptCmd.Flags().Bool("wrong", false, "The answer was wrong")
	reviewAttemptCmd.Flags().Duration("time", 0, "Time spent answering, e.g. 8s")
	reviewDueCmd.Flags().Int("limit", 20, "Maximum items listed (0 = all)")
	reviewStatsCmd.Flags().Int("recent", 10, "Number of recent attempts shown")

	reviewCmd.AddCommand(reviewAddCmd, reviewAttemptCmd, reviewDueCmd, reviewListCmd,
		reviewResetCmd, reviewExpertCmd, reviewRemoveCmd, reviewStatsCmd)
}
