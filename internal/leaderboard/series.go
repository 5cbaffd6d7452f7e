package leaderboard

import (
	"context"
	"fmt"

	"github.com/abhisek/cadence/internal/record"
)

// Metric selects what a series leaderboard ranks.
type Metric string

const (
	// MetricPoints ranks total points earned; ties go to the user whose
	// last activity came first.
	MetricPoints Metric = "points"
	// MetricStreak ranks the longest streak; ties go to the user who
	// reached it first.
	MetricStreak Metric = "streak"
	// MetricDays ranks the number of active days.
	MetricDays Metric = "days"
)

// ParseMetric converts a flag value to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricPoints, MetricStreak, MetricDays:
		return Metric(s), nil
	case "":
		return MetricPoints, nil
	}
	return "", fmt.Errorf("unknown leaderboard metric %q", s)
}

// SeriesOptions configures BuildSeriesLeaderboard.
type SeriesOptions struct {
	Metric Metric
	Limit  int
}

// BuildSeriesLeaderboard ranks per-user activity totals with the same
// ordering and dense ranking as BuildLeaderboard. Entries carry no
// participation id or status.
func BuildSeriesLeaderboard(ctx context.Context, totals []*record.SeriesTotal, opts SeriesOptions) ([]Entry, error) {
	metric := opts.Metric
	if metric == "" {
		metric = MetricPoints
	}

	entries := make([]Entry, 0, len(totals))
	for i, t := range totals {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		e := Entry{UserID: t.UserID, ReachedAt: t.LastDate}
		switch metric {
		case MetricStreak:
			e.Score, e.ReachedAt = t.MaxStreak, t.MaxStreakDate
		case MetricDays:
			e.Score = t.TotalDays
		default:
			e.Score = t.TotalPoints
		}
		entries = append(entries, e)
	}
	return rank(ctx, entries, opts.Limit)
}
