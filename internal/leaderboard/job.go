package leaderboard

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/cadence/internal/logger"
	"github.com/abhisek/cadence/internal/record"
)

// Job recomputes and stores the live rank of every participation. It reads
// snapshots and writes only the derived rank column, so it never holds a
// participation lock.
type Job struct {
	store       record.ChallengeStore
	concurrency int
	log         *logger.Logger
}

// RunSummary reports one pass over all challenges.
type RunSummary struct {
	Challenges int
	Ranked     int
	Duration   time.Duration
}

// NewJob creates a ranking job processing up to concurrency challenges at
// once.
func NewJob(store record.ChallengeStore, concurrency int, log *logger.Logger) *Job {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Job{
		store:       store,
		concurrency: concurrency,
		log:         logger.OrNop(log).With("component", "leaderboard"),
	}
}

// RankChallenge ranks one challenge and returns how many participations
// received a rank.
func (j *Job) RankChallenge(ctx context.Context, challengeID string) (int, error) {
	parts, err := j.store.ListParticipations(ctx, challengeID)
	if err != nil {
		return 0, fmt.Errorf("list participations of %q: %w", challengeID, err)
	}
	entries, err := BuildLeaderboard(ctx, parts, Options{Mode: ModeLive})
	if err != nil {
		return 0, err
	}
	if err := j.store.SetRanks(ctx, challengeID, Ranks(entries)); err != nil {
		return 0, fmt.Errorf("store ranks of %q: %w", challengeID, err)
	}
	return len(entries), nil
}

// RunOnce ranks every challenge. The first failure cancels the remaining
// work and is returned.
func (j *Job) RunOnce(ctx context.Context) (RunSummary, error) {
	start := time.Now()
	challenges, err := j.store.ListChallenges(ctx)
	if err != nil {
		return RunSummary{}, fmt.Errorf("list challenges: %w", err)
	}

	var ranked atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for _, c := range challenges {
		g.Go(func() error {
			n, err := j.RankChallenge(gctx, c.ID)
			if err != nil {
				return err
			}
			ranked.Add(int64(n))
			return nil
		})
	}
	err = g.Wait()

	sum := RunSummary{Challenges: len(challenges), Ranked: int(ranked.Load()), Duration: time.Since(start)}
	if err != nil {
		j.log.Error("ranking run failed", "error", err)
		return sum, err
	}
	j.log.Info("ranking run finished",
		"challenges", sum.Challenges, "ranked", sum.Ranked, "duration", sum.Duration)
	return sum, nil
}

// Start runs RunOnce every interval until ctx is done. A run that is still
// going when the next one is due is not overlapped.
func (j *Job) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("ranking interval must be positive, got %s", interval)
	}
	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(interval).SingletonMode().Do(func() {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.log.Warn("scheduled ranking failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule ranking: %w", err)
	}

	j.log.Info("ranking scheduled", "interval", interval)
	s.StartAsync()
	<-ctx.Done()
	s.Stop()
	return nil
}
