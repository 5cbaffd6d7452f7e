// Package challenge runs the participation lifecycle of challenges:
// joining, progress updates, completion with rewards, and abandonment.
package challenge

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
	"github.com/abhisek/cadence/internal/retry"
	"github.com/abhisek/cadence/internal/rewards"
	"github.com/abhisek/cadence/internal/streak"
)

// Service manages challenges and participations. Every state change of a
// participation runs under that participation's lock and is saved with a
// version check.
type Service struct {
	store   record.ChallengeStore
	streaks *streak.Engine
	locker  record.Locker
	retrier *retry.Retrier
	clock   clock.Clock
	reward  rewards.Policy
	log     *logger.Logger

	// allowEmptyDefault applies to challenges created without an explicit
	// AllowEmptyCompletion.
	allowEmptyDefault bool
}

// Config holds the optional settings of a Service.
type Config struct {
	Locker            record.Locker
	Retrier           *retry.Retrier
	Clock             clock.Clock
	Reward            *rewards.Policy
	Logger            *logger.Logger
	AllowEmptyDefault bool
}

// NewService creates a challenge service. Challenge streaks are tracked by
// streaks in the series returned by record.ChallengeSeriesID.
func NewService(store record.ChallengeStore, streaks *streak.Engine, cfg Config) *Service {
	s := &Service{
		store:             store,
		streaks:           streaks,
		locker:            cfg.Locker,
		retrier:           cfg.Retrier,
		clock:             cfg.Clock,
		reward:            rewards.DefaultPolicy(),
		log:               logger.OrNop(cfg.Logger).With("component", "challenge"),
		allowEmptyDefault: cfg.AllowEmptyDefault,
	}
	if s.locker == nil {
		s.locker = keylock.NewMutex()
	}
	if s.retrier == nil {
		s.retrier = retry.New(retry.DefaultConfig())
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if cfg.Reward != nil {
		s.reward = *cfg.Reward
	}
	return s
}

// NewChallenge describes a challenge to create.
type NewChallenge struct {
	ID         string // generated when empty
	Title      string
	BaseReward int

	// AllowEmptyCompletion overrides the service default when set.
	AllowEmptyCompletion *bool
}

// CreateChallenge stores a new challenge and its activity series.
func (s *Service) CreateChallenge(ctx context.Context, nc NewChallenge) (*record.Challenge, error) {
	if nc.BaseReward < 0 {
		return nil, fmt.Errorf("challenge base reward must be non-negative, got %d", nc.BaseReward)
	}
	id := nc.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := s.store.GetChallenge(ctx, id); err == nil {
		return nil, fmt.Errorf("challenge %q: %w", id, record.ErrAlreadyExists)
	} else if !errors.Is(err, record.ErrNotFound) {
		return nil, err
	}

	allowEmpty := s.allowEmptyDefault
	if nc.AllowEmptyCompletion != nil {
		allowEmpty = *nc.AllowEmptyCompletion
	}
	c := &record.Challenge{
		ID:                   id,
		Title:                nc.Title,
		BaseReward:           nc.BaseReward,
		AllowEmptyCompletion: allowEmpty,
		CreatedAt:            s.clock.Now(),
	}
	if err := s.store.PutChallenge(ctx, c); err != nil {
		return nil, err
	}
	if _, err := s.streaks.EnsureSeries(ctx, &record.Series{
		ID:         c.SeriesID(),
		Title:      c.Title,
		BaseReward: c.BaseReward,
	}); err != nil {
		return nil, fmt.Errorf("create series for challenge %q: %w", id, err)
	}

	s.log.Info("challenge created", "challenge", id, "allow_empty_completion", allowEmpty)
	return c, nil
}

// GetChallenge returns a challenge by id.
func (s *Service) GetChallenge(ctx context.Context, id string) (*record.Challenge, error) {
	return s.store.GetChallenge(ctx, id)
}

// ListChallenges returns every challenge.
func (s *Service) ListChallenges(ctx context.Context) ([]*record.Challenge, error) {
	return s.store.ListChallenges(ctx)
}

// GetParticipation returns one participation.
func (s *Service) GetParticipation(ctx context.Context, key record.ParticipationKey) (*record.Participation, error) {
	return s.store.GetParticipation(ctx, key)
}

// Register joins userID to a challenge in the REGISTERED state. Returns
// record.ErrAlreadyExists if the user already joined.
func (s *Service) Register(ctx context.Context, challengeID, userID string) (*record.Participation, error) {
	if _, err := s.store.GetChallenge(ctx, challengeID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	p := &record.Participation{
		ID:             uuid.NewString(),
		ChallengeID:    challengeID,
		UserID:         userID,
		Status:         record.StatusRegistered,
		ScoreReachedAt: now,
		BestScoreAt:    now,
		JoinedAt:       now,
		LastActivityAt: now,
	}
	if err := s.store.PutParticipation(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("participant registered", "challenge", challengeID, "user", userID)
	return p, nil
}

// mutate runs fn on the current participation under its lock and saves the
// result, retrying on version conflicts.
func (s *Service) mutate(ctx context.Context, key record.ParticipationKey, fn func(c *record.Challenge, p *record.Participation, now time.Time) error) (*record.Participation, error) {
	c, err := s.store.GetChallenge(ctx, key.ChallengeID)
	if err != nil {
		return nil, err
	}

	var saved *record.Participation
	err = s.retrier.Do(ctx, func(ctx context.Context) error {
		unlock, err := s.locker.Lock(ctx, key.String())
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		defer unlock()

		p, err := s.store.GetParticipation(ctx, key)
		if err != nil {
			return err
		}
		if err := fn(c, p, s.clock.Now()); err != nil {
			return err
		}
		if err := s.store.PutParticipation(ctx, p); err != nil {
			return err
		}
		saved = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Progress is one progress update.
type Progress struct {
	Score      int // the participant's current score, not a delta
	Engagement int // magnitude recorded with the day's activity
}

// RecordProgress sets the participant's current score. The first update
// moves a REGISTERED participation to ACTIVE. Updates to a COMPLETED or
// ABANDONED participation are rejected. Each update also records the day
// in the challenge's activity series.
//
// The day is recorded before the participation is saved. Recording a day
// twice yields AlreadyExists, which is ignored, so a caller retrying after
// a failure never counts the same progress twice.
func (s *Service) RecordProgress(ctx context.Context, key record.ParticipationKey, pr Progress) (*record.Participation, error) {
	if pr.Score < 0 {
		return nil, fmt.Errorf("score must be non-negative, got %d", pr.Score)
	}

	cur, err := s.store.GetParticipation(ctx, key)
	if err != nil {
		return nil, err
	}
	if cur.Status.Terminal() {
		return nil, &record.TransitionError{From: cur.Status, To: record.StatusActive}
	}

	_, err = s.streaks.RecordActivity(ctx, streak.Activity{
		UserID:     key.UserID,
		SeriesID:   record.ChallengeSeriesID(key.ChallengeID),
		Engagement: pr.Engagement,
	})
	if err != nil && !errors.Is(err, record.ErrAlreadyExists) {
		return nil, fmt.Errorf("record challenge activity: %w", err)
	}

	var activated bool
	p, err := s.mutate(ctx, key, func(_ *record.Challenge, p *record.Participation, now time.Time) error {
		switch p.Status {
		case record.StatusActive:
		case record.StatusRegistered:
			p.Status = record.StatusActive
			activated = true
		default:
			return &record.TransitionError{From: p.Status, To: record.StatusActive}
		}

		if pr.Score != p.CurrentScore {
			p.CurrentScore = pr.Score
			p.ScoreReachedAt = now
		}
		if pr.Score > p.BestScore {
			p.BestScore = pr.Score
			p.BestScoreAt = now
		}
		p.ProgressCount++
		p.LastActivityAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if activated {
		s.log.Info("participation activated", "challenge", key.ChallengeID, "user", key.UserID)
	}
	return p, nil
}

// Complete finishes a participation and awards its reward:
// ComputeReward(challenge base reward, challenge streak, best score).
func (s *Service) Complete(ctx context.Context, key record.ParticipationKey) (*record.Participation, error) {
	streakDays, err := s.streaks.CurrentStreak(ctx, key.UserID, record.ChallengeSeriesID(key.ChallengeID), s.streaks.Today())
	if err != nil {
		return nil, err
	}

	p, err := s.mutate(ctx, key, func(c *record.Challenge, p *record.Participation, now time.Time) error {
		if err := CheckTransition(p.Status, record.StatusCompleted, c.AllowEmptyCompletion); err != nil {
			return err
		}
		p.Status = record.StatusCompleted
		p.RewardPoints = s.reward.Compute(c.BaseReward, streakDays, p.BestScore)
		p.CompletedAt = &now
		p.LastActivityAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("participation completed",
		"challenge", key.ChallengeID, "user", key.UserID,
		"best_score", p.BestScore, "streak", streakDays, "reward", p.RewardPoints)
	return p, nil
}

// Abandon withdraws a participation. Nothing is awarded.
func (s *Service) Abandon(ctx context.Context, key record.ParticipationKey) (*record.Participation, error) {
	p, err := s.mutate(ctx, key, func(c *record.Challenge, p *record.Participation, now time.Time) error {
		if err := CheckTransition(p.Status, record.StatusAbandoned, c.AllowEmptyCompletion); err != nil {
			return err
		}
		p.Status = record.StatusAbandoned
		p.RewardPoints = 0
		p.LastActivityAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("participation abandoned", "challenge", key.ChallengeID, "user", key.UserID)
	return p, nil
}

// AdvanceParticipationState moves a participation to status to, applying
// the side effects of that state.
func (s *Service) AdvanceParticipationState(ctx context.Context, key record.ParticipationKey, to record.ParticipationStatus) (*record.Participation, error) {
	switch to {
	case record.StatusCompleted:
		return s.Complete(ctx, key)
	case record.StatusAbandoned:
		return s.Abandon(ctx, key)
	case record.StatusActive:
		return s.mutate(ctx, key, func(c *record.Challenge, p *record.Participation, now time.Time) error {
			if err := CheckTransition(p.Status, to, c.AllowEmptyCompletion); err != nil {
				return err
			}
			p.Status = to
			p.LastActivityAt = now
			return nil
		})
	default:
		p, err := s.store.GetParticipation(ctx, key)
		if err != nil {
			return nil, err
		}
		return nil, &record.TransitionError{From: p.Status, To: to}
	}
}

// Leaderboard ranks a challenge's participations from a snapshot.
func (s *Service) Leaderboard(ctx context.Context, challengeID string, opts leaderboard.Options) ([]leaderboard.Entry, error) {
	if _, err := s.store.GetChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	parts, err := s.store.ListParticipations(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	return leaderboard.BuildLeaderboard(ctx, parts, opts)
}

// Stats summarizes a challenge.
type Stats struct {
	Participants   int
	Registered     int
	Active         int
	Completed      int
	Abandoned      int
	CompletionRate float64 // completed / participants
	AverageScore   float64 // mean current score
	HighestScore   int
	RewardsPaid    int
}

// Stats computes summary statistics for a challenge.
func (s *Service) Stats(ctx context.Context, challengeID string) (*Stats, error) {
	if _, err := s.store.GetChallenge(ctx, challengeID); err != nil {
		return nil, err
	}
	parts, err := s.store.ListParticipations(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	st := &Stats{Participants: len(parts)}
	var total int
	for _, p := range parts {
		switch p.Status {
		case record.StatusRegistered:
			st.Registered++
		case record.StatusActive:
			st.Active++
		case record.StatusCompleted:
			st.Completed++
		case record.StatusAbandoned:
			st.Abandoned++
		}
		total += p.CurrentScore
		st.HighestScore = max(st.HighestScore, p.CurrentScore)
		st.RewardsPaid += p.RewardPoints
	}
	if st.Participants > 0 {
		st.CompletionRate = float64(st.Completed) / float64(st.Participants)
		st.AverageScore = float64(total) / float64(st.Participants)
	}
	return st, nil
}
