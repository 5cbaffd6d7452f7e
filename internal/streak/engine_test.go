package streak

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/cadence/internal/clock"
	"github.com/abhisek/cadence/internal/leaderboard"
	"github.com/abhisek/cadence/internal/record"
	"github.com/abhisek/cadence/internal/store"
)

var day0 = time.Date(2026, 5, 4, 20, 30, 0, 0, time.UTC)

func setup(t *testing.T, series *record.Series) (*Engine, *store.Memory, *clock.Fake) {
	t.Helper()
	mem := store.NewMemory()
	clk := clock.NewFake(day0)
	if series == nil {
		series = &record.Series{ID: "daily", BaseReward: 5, AllowMakeup: true, MakeupCostPerDay: 10}
	}
	require.NoError(t, mem.PutSeries(context.Background(), series))
	return NewEngine(mem, nil, clk, nil), mem, clk
}

func act(date time.Time) Activity {
	return Activity{UserID: "u1", SeriesID: "daily", Date: date, AllowMakeup: true}
}

func TestRecordActivity_ConsecutiveDays(t *testing.T) {
	e, _, clk := setup(t, nil)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		day, err := e.RecordActivity(ctx, Activity{UserID: "u1", SeriesID: "daily"})
		require.NoError(t, err)
		assert.Equal(t, want, day.StreakDays)
		assert.False(t, day.IsMakeup)
		clk.AdvanceDays(1)
	}
}

func TestRecordActivity_MakeupRecomputesLaterDays(t *testing.T) {
	e, mem, clk := setup(t, nil)
	ctx := context.Background()
	d := record.Day(day0)

	_, err := e.RecordActivity(ctx, act(d))
	require.NoError(t, err)

	clk.AdvanceDays(2)
	day2, err := e.RecordActivity(ctx, act(record.AddDays(d, 2)))
	require.NoError(t, err)
	require.Equal(t, 1, day2.StreakDays)

	makeup, err := e.RecordActivity(ctx, act(record.AddDays(d, 1)))
	require.NoError(t, err)
	assert.True(t, makeup.IsMakeup)
	assert.Equal(t, 2, makeup.StreakDays)
	assert.Equal(t, 10, makeup.MakeupCost)

	key := record.SeriesKey{UserID: "u1", SeriesID: "daily"}
	stored, err := mem.GetDay(ctx, key, record.AddDays(d, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, stored.StreakDays)
	// Points are awarded once and never recomputed.
	assert.Equal(t, day2.PointsEarned, stored.PointsEarned)

	cur, err := e.CurrentStreak(ctx, "u1", "daily", clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, cur)
}

func TestRecordActivity_MakeupStopsAtNextGap(t *testing.T) {
	e, mem, clk := setup(t, nil)
	ctx := context.Background()
	d := record.Day(day0)
	clk.AdvanceDays(10)

	// Days 0, 2, 3, 5, 6 exist; day 1 is filled in later.
	for _, off := range []int{0, 2, 3, 5, 6} {
		_, err := e.RecordActivity(ctx, act(record.AddDays(d, off)))
		require.NoError(t, err)
	}
	_, err := e.RecordActivity(ctx, act(record.AddDays(d, 1)))
	require.NoError(t, err)

	days, err := mem.RangeQuery(ctx, record.SeriesKey{UserID: "u1", SeriesID: "daily"}, record.DateRange{})
	require.NoError(t, err)
	var got []int
	for _, dd := range days {
		got = append(got, dd.StreakDays)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 1, 2}, got)
}

func TestRecompute(t *testing.T) {
	d := record.Day(day0)
	mk := func(off, streak int) *record.ActivityDay {
		return &record.ActivityDay{ActivityDate: record.AddDays(d, off), StreakDays: streak}
	}
	inserted := mk(1, 2)
	later := []*record.ActivityDay{mk(2, 1), mk(3, 2), mk(5, 1)}

	updated := Recompute(inserted, later)
	require.Len(t, updated, 2)
	assert.Equal(t, 3, updated[0].StreakDays)
	assert.Equal(t, 4, updated[1].StreakDays)
	// Inputs are not modified.
	assert.Equal(t, 1, later[0].StreakDays)

	assert.Empty(t, Recompute(inserted, []*record.ActivityDay{mk(4, 1)}))
}

func TestRecordActivity_Duplicate(t *testing.T) {
	e, mem, _ := setup(t, nil)
	ctx := context.Background()

	_, err := e.RecordActivity(ctx, act(time.Time{}))
	require.NoError(t, err)
	_, err = e.RecordActivity(ctx, act(time.Time{}))
	assert.ErrorIs(t, err, record.ErrAlreadyExists)

	st, err := mem.SeriesStats(ctx, record.SeriesKey{UserID: "u1", SeriesID: "daily"})
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalDays)
}

func TestRecordActivity_ConcurrentSameDay(t *testing.T) {
	e, _, _ := setup(t, nil)

	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.RecordActivity(context.Background(), act(time.Time{}))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, record.ErrAlreadyExists):
				dup.Add(1)
			default:
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(7), dup.Load())
}

func TestRecordActivity_Points(t *testing.T) {
	e, _, clk := setup(t, nil)
	ctx := context.Background()

	day, err := e.RecordActivity(ctx, Activity{UserID: "u1", SeriesID: "daily", Engagement: 35})
	require.NoError(t, err)
	// 5 base + 1 day * 2 + 35/10
	assert.Equal(t, 10, day.PointsEarned)

	clk.AdvanceDays(1)
	day, err = e.RecordActivity(ctx, Activity{UserID: "u1", SeriesID: "daily", Engagement: -5})
	require.NoError(t, err)
	assert.Equal(t, 9, day.PointsEarned)
	assert.Zero(t, day.Engagement)
}

func TestRecordActivity_UnknownSeries(t *testing.T) {
	e, _, _ := setup(t, nil)
	_, err := e.RecordActivity(context.Background(), Activity{UserID: "u1", SeriesID: "nope"})
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestRecordActivity_PolicyViolations(t *testing.T) {
	d := record.Day(day0)
	tests := []struct {
		name   string
		series record.Series
		act    Activity
	}{
		{
			name:   "future date",
			series: record.Series{ID: "daily", AllowMakeup: true},
			act:    act(record.AddDays(d, 1)),
		},
		{
			name:   "makeup not requested",
			series: record.Series{ID: "daily", AllowMakeup: true},
			act:    Activity{UserID: "u1", SeriesID: "daily", Date: record.AddDays(d, -1)},
		},
		{
			name:   "series disallows makeup",
			series: record.Series{ID: "daily"},
			act:    act(record.AddDays(d, -1)),
		},
		{
			name:   "too far back",
			series: record.Series{ID: "daily", AllowMakeup: true, MaxMakeupDays: 3},
			act:    act(record.AddDays(d, -4)),
		},
		{
			name:   "before window",
			series: record.Series{ID: "daily", AllowMakeup: true, StartDate: record.AddDays(d, -2)},
			act:    act(record.AddDays(d, -3)),
		},
		{
			name:   "today after window",
			series: record.Series{ID: "daily", EndDate: record.AddDays(d, -1)},
			act:    act(time.Time{}),
		},
		{
			name:   "cost above cap",
			series: record.Series{ID: "daily", AllowMakeup: true, MakeupCostPerDay: 10},
			act:    Activity{UserID: "u1", SeriesID: "daily", Date: record.AddDays(d, -3), AllowMakeup: true, MaxCost: 20},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.series
			e, mem, _ := setup(t, &s)
			_, err := e.RecordActivity(context.Background(), tt.act)
			assert.ErrorIs(t, err, record.ErrPolicyViolation)
			var pe *record.PolicyError
			assert.True(t, errors.As(err, &pe))

			st, err := mem.SeriesStats(context.Background(), record.SeriesKey{UserID: "u1", SeriesID: "daily"})
			require.NoError(t, err)
			assert.Zero(t, st.TotalDays)
		})
	}
}

func TestRecordActivity_MakeupWithinLimits(t *testing.T) {
	s := &record.Series{ID: "daily", AllowMakeup: true, MaxMakeupDays: 3, MakeupCostPerDay: 10}
	e, _, _ := setup(t, s)
	a := act(record.AddDays(record.Day(day0), -3))
	a.MaxCost = 30

	day, err := e.RecordActivity(context.Background(), a)
	require.NoError(t, err)
	assert.True(t, day.IsMakeup)
	assert.Equal(t, 30, day.MakeupCost)
}

func TestCurrentAndMaxStreak(t *testing.T) {
	e, _, clk := setup(t, nil)
	ctx := context.Background()
	d := record.Day(day0)

	for range 4 {
		_, err := e.RecordActivity(ctx, act(time.Time{}))
		require.NoError(t, err)
		clk.AdvanceDays(1)
	}
	// Last activity on d+3; clock now at d+4.
	cur, err := e.CurrentStreak(ctx, "u1", "daily", record.AddDays(d, 4))
	require.NoError(t, err)
	assert.Equal(t, 4, cur, "yesterday's activity keeps the streak alive")

	cur, err = e.CurrentStreak(ctx, "u1", "daily", record.AddDays(d, 5))
	require.NoError(t, err)
	assert.Zero(t, cur)

	cur, err = e.CurrentStreak(ctx, "u1", "daily", record.AddDays(d, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, cur)

	clk.AdvanceDays(3)
	_, err = e.RecordActivity(ctx, act(time.Time{}))
	require.NoError(t, err)

	cur, err = e.CurrentStreak(ctx, "u1", "daily", clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, cur)

	best, err := e.MaxStreak(ctx, "u1", "daily")
	require.NoError(t, err)
	assert.Equal(t, 4, best)

	cur, err = e.CurrentStreak(ctx, "nobody", "daily", clk.Now())
	require.NoError(t, err)
	assert.Zero(t, cur)
}

func TestEngine_Location(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	mem := store.NewMemory()
	require.NoError(t, mem.PutSeries(context.Background(), &record.Series{ID: "daily"}))
	// 20:30 UTC is already the next morning in Tokyo.
	e := NewEngine(mem, nil, clock.NewFake(day0), nil, WithLocation(tokyo))

	day, err := e.RecordActivity(context.Background(), Activity{UserID: "u1", SeriesID: "daily"})
	require.NoError(t, err)
	assert.Equal(t, "2026-05-05", record.FormatDate(day.ActivityDate))
}

func TestStats(t *testing.T) {
	e, _, clk := setup(t, nil)
	ctx := context.Background()
	d := record.Day(day0)

	_, err := e.RecordActivity(ctx, act(d))
	require.NoError(t, err)
	clk.AdvanceDays(2)
	_, err = e.RecordActivity(ctx, act(record.AddDays(d, 2)))
	require.NoError(t, err)
	_, err = e.RecordActivity(ctx, act(record.AddDays(d, 1)))
	require.NoError(t, err)

	st, err := e.Stats(ctx, "u1", "daily")
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalDays)
	assert.Equal(t, 1, st.MakeupCount)
	assert.Equal(t, 10, st.MakeupSpent)
	assert.Equal(t, 3, st.MaxStreak)
	assert.Equal(t, 3, st.CurrentStreak)
	assert.Equal(t, 5, st.NextMilestone)
}

func TestPutSeries_Validation(t *testing.T) {
	e, _, _ := setup(t, nil)
	ctx := context.Background()
	d := record.Day(day0)

	assert.Error(t, e.PutSeries(ctx, &record.Series{}))
	assert.Error(t, e.PutSeries(ctx, &record.Series{ID: "x", MaxMakeupDays: -1}))
	assert.Error(t, e.PutSeries(ctx, &record.Series{ID: "x", StartDate: d, EndDate: record.AddDays(d, -1)}))
	assert.NoError(t, e.PutSeries(ctx, &record.Series{ID: "x", StartDate: d, EndDate: d}))

	got, err := e.EnsureSeries(ctx, &record.Series{ID: "x", BaseReward: 99})
	require.NoError(t, err)
	assert.Zero(t, got.BaseReward, "existing series is kept")
}

func TestLeaderboard(t *testing.T) {
	e, mem, clk := setup(t, nil)
	ctx := context.Background()
	require.NoError(t, mem.PutSeries(ctx, &record.Series{ID: "other", BaseReward: 1}))

	checkin := func(user, series string) {
		t.Helper()
		_, err := e.RecordActivity(ctx, Activity{UserID: user, SeriesID: series})
		require.NoError(t, err)
	}
	checkin("amy", "daily")
	checkin("bob", "daily")
	checkin("bob", "other")
	clk.AdvanceDays(1)
	checkin("bob", "daily")
	clk.AdvanceDays(1)
	checkin("cat", "other")

	board, err := e.Leaderboard(ctx, "daily", leaderboard.SeriesOptions{Metric: leaderboard.MetricStreak})
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "bob", board[0].UserID)
	assert.Equal(t, 2, board[0].Score)
	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "amy", board[1].UserID)
	assert.Equal(t, 2, board[1].Rank)

	global, err := e.Leaderboard(ctx, "", leaderboard.SeriesOptions{Metric: leaderboard.MetricDays})
	require.NoError(t, err)
	require.Len(t, global, 3)
	assert.Equal(t, "bob", global[0].UserID)
	assert.Equal(t, 3, global[0].Score)
	assert.Equal(t, []int{1, 2, 2}, []int{global[0].Rank, global[1].Rank, global[2].Rank})
	assert.Equal(t, "amy", global[1].UserID, "amy's last day came before cat's")

	_, err = e.Leaderboard(ctx, "missing", leaderboard.SeriesOptions{})
	assert.ErrorIs(t, err, record.ErrNotFound)
}
