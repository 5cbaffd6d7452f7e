// Package engine wires the scheduler, streak engine, challenge service and
// ranking job over one record store and runs the practice data flow:
// streak, then scheduling, then reward, then the attempt log.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/cadence/internal/challenge"
	"github.com/abhisek/cadence/internal/clock"
	"github.com/abhisek/cadence/internal/config"
	"github.com/abhisek/cadence/internal/keylock"
	"github.com/abhisek/cadence/internal/leaderboard"
	"github.com/abhisek/cadence/internal/logger"
	"github.com/abhisek/cadence/internal/mastery"
	"github.com/abhisek/cadence/internal/record"
	"github.com/abhisek/cadence/internal/retry"
	"github.com/abhisek/cadence/internal/rewards"
	"github.com/abhisek/cadence/internal/spacedrep"
	"github.com/abhisek/cadence/internal/streak"
)

// Store is everything the engine persists.
type Store interface {
	record.ItemStore
	record.ActivityStore
	record.ChallengeStore
	record.AttemptLog

	// DeleteUser removes every record owned by a user.
	DeleteUser(ctx context.Context, userID string) error
}

// Engine is the composition root of the domain services.
type Engine struct {
	Scheduler  *spacedrep.Scheduler
	Streaks    *streak.Engine
	Challenges *challenge.Service
	Ranking    *leaderboard.Job

	store    Store
	practice config.PracticeConfig
	reward   rewards.Policy
	interval time.Duration
	clock    clock.Clock
	log      *logger.Logger
}

// New builds an Engine. locker may be nil for a single-process setup and
// clk nil for the wall clock.
func New(st Store, cfg config.Config, locker record.Locker, clk clock.Clock, log *logger.Logger) *Engine {
	log = logger.OrNop(log)
	if locker == nil {
		locker = keylock.NewMutex()
	}
	if clk == nil {
		clk = clock.Real{}
	}

	retrier := retry.New(cfg.Retry).OnRetry(func(attempt int, wait time.Duration, err error) {
		log.Debug("retrying after conflict", "attempt", attempt, "wait", wait, "error", err)
	})

	streaks := streak.NewEngine(st, locker, clk, log,
		streak.WithLocation(cfg.Location),
		streak.WithRewardPolicy(cfg.Reward))
	reward := cfg.Reward

	return &Engine{
		Scheduler: spacedrep.NewScheduler(st, locker, retrier, clk, log),
		Streaks:   streaks,
		Challenges: challenge.NewService(st, streaks, challenge.Config{
			Locker:            locker,
			Retrier:           retrier,
			Clock:             clk,
			Reward:            &reward,
			Logger:            log,
			AllowEmptyDefault: cfg.Challenge.AllowEmptyCompletion,
		}),
		Ranking:  leaderboard.NewJob(st, cfg.Leaderboard.Concurrency, log),
		store:    st,
		practice: cfg.Practice,
		reward:   cfg.Reward,
		interval: cfg.Leaderboard.Interval,
		clock:    clk,
		log:      log.With("component", "engine"),
	}
}

// NewLocker returns the shared Redis lock when cfg.Addr is set, otherwise
// an in-process lock. The returned close function releases the connection.
func NewLocker(ctx context.Context, cfg config.RedisConfig) (record.Locker, func() error, error) {
	if cfg.Addr == "" {
		return keylock.NewMutex(), func() error { return nil }, nil
	}
	rc := keylock.DefaultRedisConfig()
	rc.Addr = cfg.Addr
	rc.Password = cfg.Password
	if cfg.LockTTL > 0 {
		rc.TTL = cfg.LockTTL
	}
	r, err := keylock.NewRedis(ctx, rc)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}

// RankInterval is the configured period of the ranking job.
func (e *Engine) RankInterval() time.Duration {
	if e.interval <= 0 {
		return time.Minute
	}
	return e.interval
}

// EnsurePracticeSeries creates the study-day series fed by Practice if it
// does not exist yet.
func (e *Engine) EnsurePracticeSeries(ctx context.Context) (*record.Series, error) {
	return e.Streaks.EnsureSeries(ctx, &record.Series{
		ID:         e.practice.SeriesID,
		Title:      "Daily study",
		BaseReward: e.practice.BaseReward,
	})
}

// PracticeRequest is one answered vocabulary item.
type PracticeRequest struct {
	UserID    string
	ItemID    string
	Correct   bool
	TimeSpent time.Duration
}

// PracticeResult is the outcome of Practice.
type PracticeResult struct {
	Item       *record.LearningItem
	Transition *mastery.StateTransition
	StreakDays int
	Points     int
	// NewDay is set when this attempt was the first of the day.
	NewDay bool
}

// Practice records one vocabulary attempt. The first attempt of a day
// extends the study streak; the attempt then updates the item's schedule
// and earns points from the streak and time spent. Wrong answers earn
// nothing.
//
// The study day is written first because it is idempotent: if scheduling
// fails afterwards, the day stays recorded and a retried attempt finds it
// already present instead of counting the day twice.
func (e *Engine) Practice(ctx context.Context, req PracticeRequest) (*PracticeResult, error) {
	series, err := e.EnsurePracticeSeries(ctx)
	if err != nil {
		return nil, err
	}

	res := &PracticeResult{}
	engagement := int(req.TimeSpent / time.Second)

	day, err := e.Streaks.RecordActivity(ctx, streak.Activity{
		UserID:     req.UserID,
		SeriesID:   series.ID,
		Engagement: engagement,
	})
	switch {
	case err == nil:
		res.NewDay = true
		res.StreakDays = day.StreakDays
	case errors.Is(err, record.ErrAlreadyExists):
		res.StreakDays, err = e.Streaks.CurrentStreak(ctx, req.UserID, series.ID, e.Streaks.Today())
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("record study day: %w", err)
	}

	key := record.ItemKey{UserID: req.UserID, ItemID: req.ItemID}
	sr, err := e.Scheduler.Practice(ctx, key, spacedrep.Attempt{Correct: req.Correct, TimeSpent: req.TimeSpent})
	if err != nil {
		return nil, err
	}
	res.Item = sr.Item
	res.Transition = sr.Transition

	if req.Correct {
		res.Points = e.reward.Compute(series.BaseReward, res.StreakDays, engagement)
	}

	ev := &record.AttemptEvent{
		UserID:       req.UserID,
		ItemID:       req.ItemID,
		Correct:      req.Correct,
		TimeSpent:    req.TimeSpent,
		MasteryFrom:  sr.Item.MasteryLevel,
		MasteryTo:    sr.Item.MasteryLevel,
		IntervalDays: sr.Item.ReviewIntervalDays,
		StreakDays:   res.StreakDays,
		Points:       res.Points,
		CreatedAt:    e.clock.Now(),
	}
	if sr.Transition != nil {
		ev.MasteryFrom = sr.Transition.From
	}
	if err := e.store.AppendAttempt(ctx, ev); err != nil {
		return nil, fmt.Errorf("append attempt: %w", err)
	}
	return res, nil
}

// UserStats combines a user's learning and study-streak statistics.
type UserStats struct {
	Learning       *spacedrep.Stats
	Study          *streak.Stats
	RecentAttempts []*record.AttemptEvent
}

// Stats returns statistics for userID, including the last recent attempts.
func (e *Engine) Stats(ctx context.Context, userID string, recent int) (*UserStats, error) {
	learning, err := e.Scheduler.Stats(ctx, userID)
	if err != nil {
		return nil, err
	}
	study, err := e.Streaks.Stats(ctx, userID, e.practice.SeriesID)
	if err != nil {
		return nil, err
	}
	attempts, err := e.store.ListAttempts(ctx, userID, recent)
	if err != nil {
		return nil, err
	}
	return &UserStats{Learning: learning, Study: study, RecentAttempts: attempts}, nil
}

// ResetUser deletes all of a user's records.
func (e *Engine) ResetUser(ctx context.Context, userID string) error {
	if err := e.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	e.log.Warn("user data reset", "user", userID)
	return nil
}
