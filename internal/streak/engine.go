package streak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/cadence/internal/clock"
	"github.com/abhisek/cadence/internal/keylock"
	"github.com/abhisek/cadence/internal/leaderboard"
	"github.com/abhisek/cadence/internal/logger"
	"github.com/abhisek/cadence/internal/record"
	"github.com/abhisek/cadence/internal/rewards"
)

// Activity is one request to record a day of activity.
type Activity struct {
	UserID   string
	SeriesID string

	// Date is the calendar day being recorded. Zero means today.
	Date time.Time

	// AllowMakeup must be set to record a past day.
	AllowMakeup bool

	// Engagement is the event magnitude fed to the reward formula.
	Engagement int

	// MaxCost caps the makeup cost the caller accepts. Zero means no cap.
	MaxCost int
}

// Engine maintains consecutive-day streaks. All writes for one
// (user, series) pair run under one lock, so a makeup insert and the
// recomputation of every later day are atomic with respect to other
// activity in the same series.
type Engine struct {
	store  record.ActivityStore
	locker record.Locker
	clock  clock.Clock
	loc    *time.Location
	reward rewards.Policy
	log    *logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocation sets the zone used to decide which calendar day "now" is.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithRewardPolicy overrides the reward constants.
func WithRewardPolicy(p rewards.Policy) Option {
	return func(e *Engine) { e.reward = p }
}

// NewEngine creates a streak engine. A nil locker falls back to an
// in-process lock and a nil clock to the wall clock.
func NewEngine(store record.ActivityStore, locker record.Locker, clk clock.Clock, log *logger.Logger, opts ...Option) *Engine {
	if locker == nil {
		locker = keylock.NewMutex()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	e := &Engine{
		store:  store,
		locker: locker,
		clock:  clk,
		loc:    time.UTC,
		reward: rewards.DefaultPolicy(),
		log:    logger.OrNop(log).With("component", "streak"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Today returns the current calendar day in the engine's zone.
func (e *Engine) Today() time.Time {
	return record.Day(e.clock.Now().In(e.loc))
}

// RecordActivity records one day of activity and returns the new record.
//
// A past date is a makeup and must pass the series policy. Inserting a
// makeup into a gap rewrites the streak count of every later record that
// the gap affected, in date order, stopping at the first record that is
// already correct. Returns record.ErrAlreadyExists if the day is already
// recorded and a *record.PolicyError if the policy rejects it; nothing is
// written in either case.
func (e *Engine) RecordActivity(ctx context.Context, a Activity) (*record.ActivityDay, error) {
	series, err := e.store.GetSeries(ctx, a.SeriesID)
	if err != nil {
		return nil, fmt.Errorf("load series %q: %w", a.SeriesID, err)
	}

	today := e.Today()
	date := today
	if !a.Date.IsZero() {
		date = record.Day(a.Date)
	}

	cost, err := CheckPolicy(series, a, date, today)
	if err != nil {
		return nil, err
	}

	key := record.SeriesKey{UserID: a.UserID, SeriesID: a.SeriesID}
	unlock, err := e.locker.Lock(ctx, key.String())
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	defer unlock()

	if _, err := e.store.GetDay(ctx, key, date); err == nil {
		return nil, fmt.Errorf("%s on %s: %w", key, record.FormatDate(date), record.ErrAlreadyExists)
	} else if !errors.Is(err, record.ErrNotFound) {
		return nil, err
	}

	streak := 1
	prev, err := e.store.GetDay(ctx, key, record.AddDays(date, -1))
	switch {
	case err == nil:
		streak = prev.StreakDays + 1
	case !errors.Is(err, record.ErrNotFound):
		return nil, err
	}

	day := &record.ActivityDay{
		ID:           uuid.NewString(),
		UserID:       a.UserID,
		SeriesID:     a.SeriesID,
		ActivityDate: date,
		IsMakeup:     date.Before(today),
		MakeupCost:   cost,
		StreakDays:   streak,
		PointsEarned: e.reward.Compute(series.BaseReward, streak, a.Engagement),
		Engagement:   max(a.Engagement, 0),
		CreatedAt:    e.clock.Now(),
	}

	later, err := e.store.RangeQuery(ctx, key, record.DateRange{From: record.AddDays(date, 1)})
	if err != nil {
		return nil, err
	}
	updated := Recompute(day, later)

	if err := e.store.SaveDays(ctx, day, updated); err != nil {
		return nil, err
	}

	e.log.Debug("activity recorded",
		"user", a.UserID, "series", a.SeriesID, "date", record.FormatDate(date),
		"streak", streak, "makeup", day.IsMakeup, "points", day.PointsEarned)
	if day.IsMakeup {
		e.log.Info("makeup recorded",
			"user", a.UserID, "series", a.SeriesID, "date", record.FormatDate(date),
			"cost", cost, "recomputed", len(updated))
	}
	e.logMilestones(key, day, updated)

	return day, nil
}

// Recompute returns copies of the records in later (ascending by date)
// whose streak count changes now that inserted exists. It stops at the
// first record whose stored count is already correct, since nothing after
// it can change either.
func Recompute(inserted *record.ActivityDay, later []*record.ActivityDay) []*record.ActivityDay {
	var updated []*record.ActivityDay
	prevDate, prevStreak := inserted.ActivityDate, inserted.StreakDays
	for _, d := range later {
		want := 1
		if record.DaysBetween(prevDate, d.ActivityDate) == 1 {
			want = prevStreak + 1
		}
		if d.StreakDays == want {
			break
		}
		c := *d
		c.StreakDays = want
		updated = append(updated, &c)
		prevDate, prevStreak = d.ActivityDate, want
	}
	return updated
}

func (e *Engine) logMilestones(key record.SeriesKey, day *record.ActivityDay, updated []*record.ActivityDay) {
	streak := day.StreakDays
	if n := len(updated); n > 0 {
		streak = updated[n-1].StreakDays
	}
	if rewards.IsMilestone(streak) {
		e.log.Info("streak milestone",
			"user", key.UserID, "series", key.SeriesID,
			"streak", streak, "rarity", rewards.StreakRarity(streak))
	}
}

// CurrentStreak returns the live streak as of asOf: the count of the most
// recent record on or before asOf, provided that record is dated asOf or
// the day before. Otherwise the streak is broken and 0 is returned.
func (e *Engine) CurrentStreak(ctx context.Context, userID, seriesID string, asOf time.Time) (int, error) {
	key := record.SeriesKey{UserID: userID, SeriesID: seriesID}
	asOfDay := record.Day(asOf)
	latest, err := e.store.LatestDay(ctx, key, asOfDay)
	if errors.Is(err, record.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if record.DaysBetween(latest.ActivityDate, asOfDay) > 1 {
		return 0, nil
	}
	return latest.StreakDays, nil
}

// MaxStreak returns the best streak ever recorded for the pair.
func (e *Engine) MaxStreak(ctx context.Context, userID, seriesID string) (int, error) {
	return e.store.MaxStreak(ctx, record.SeriesKey{UserID: userID, SeriesID: seriesID})
}

// History returns the records of a pair within r in date order.
func (e *Engine) History(ctx context.Context, userID, seriesID string, r record.DateRange) ([]*record.ActivityDay, error) {
	return e.store.RangeQuery(ctx, record.SeriesKey{UserID: userID, SeriesID: seriesID}, r)
}

// Leaderboard ranks the users of a series by opts.Metric. An empty
// seriesID ranks totals across every series.
func (e *Engine) Leaderboard(ctx context.Context, seriesID string, opts leaderboard.SeriesOptions) ([]leaderboard.Entry, error) {
	if seriesID != "" {
		if _, err := e.store.GetSeries(ctx, seriesID); err != nil {
			return nil, fmt.Errorf("load series %q: %w", seriesID, err)
		}
	}
	totals, err := e.store.SeriesTotals(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	return leaderboard.BuildSeriesLeaderboard(ctx, totals, opts)
}

// Stats summarizes one user's history in a series.
type Stats struct {
	record.SeriesStats
	CurrentStreak int
	NextMilestone int
}

// Stats returns aggregate statistics, with the current streak evaluated
// for today.
func (e *Engine) Stats(ctx context.Context, userID, seriesID string) (*Stats, error) {
	key := record.SeriesKey{UserID: userID, SeriesID: seriesID}
	agg, err := e.store.SeriesStats(ctx, key)
	if err != nil {
		return nil, err
	}
	cur, err := e.CurrentStreak(ctx, userID, seriesID, e.Today())
	if err != nil {
		return nil, err
	}
	return &Stats{
		SeriesStats:   *agg,
		CurrentStreak: cur,
		NextMilestone: rewards.NextStreakThreshold(cur),
	}, nil
}

// EnsureSeries stores s unless a series with the same id already exists.
func (e *Engine) EnsureSeries(ctx context.Context, s *record.Series) (*record.Series, error) {
	existing, err := e.store.GetSeries(ctx, s.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, record.ErrNotFound) {
		return nil, err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = e.clock.Now()
	}
	if err := e.store.PutSeries(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// PutSeries creates or replaces a series definition.
func (e *Engine) PutSeries(ctx context.Context, s *record.Series) error {
	if s.ID == "" {
		return fmt.Errorf("series id is required")
	}
	if s.MaxMakeupDays < 0 || s.MakeupCostPerDay < 0 || s.BaseReward < 0 {
		return fmt.Errorf("series %q: negative policy value", s.ID)
	}
	if !s.StartDate.IsZero() && !s.EndDate.IsZero() && s.EndDate.Before(s.StartDate) {
		return fmt.Errorf("series %q: end date before start date", s.ID)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = e.clock.Now()
	}
	return e.store.PutSeries(ctx, s)
}
