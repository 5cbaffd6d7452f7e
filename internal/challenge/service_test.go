package challenge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/cadence/internal/clock"
	"github.com/abhisek/cadence/internal/keylock"
	"github.com/abhisek/cadence/internal/leaderboard"
	"github.com/abhisek/cadence/internal/record"
	"github.com/abhisek/cadence/internal/store"
	"github.com/abhisek/cadence/internal/streak"
)

var start = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc *Service
	mem *store.Memory
	clk *clock.Fake
}

func newFixture(t *testing.T, allowEmptyDefault bool) *fixture {
	t.Helper()
	mem := store.NewMemory()
	clk := clock.NewFake(start)
	streaks := streak.NewEngine(mem, nil, clk, nil)
	svc := NewService(mem, streaks, Config{Clock: clk, AllowEmptyDefault: allowEmptyDefault})
	return &fixture{svc: svc, mem: mem, clk: clk}
}

func (f *fixture) join(t *testing.T, challengeID, user string) record.ParticipationKey {
	t.Helper()
	_, err := f.svc.Register(context.Background(), challengeID, user)
	require.NoError(t, err)
	return record.ParticipationKey{ChallengeID: challengeID, UserID: user}
}

func TestCreateChallenge(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	c, err := f.svc.CreateChallenge(ctx, NewChallenge{ID: "spring", Title: "Spring", BaseReward: 10})
	require.NoError(t, err)
	assert.True(t, c.AllowEmptyCompletion, "service default applies")

	_, err = f.svc.CreateChallenge(ctx, NewChallenge{ID: "spring"})
	assert.ErrorIs(t, err, record.ErrAlreadyExists)

	no := false
	c, err = f.svc.CreateChallenge(ctx, NewChallenge{Title: "Anon", AllowEmptyCompletion: &no})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.AllowEmptyCompletion)

	series, err := f.mem.GetSeries(ctx, "challenge:spring")
	require.NoError(t, err)
	assert.Equal(t, 10, series.BaseReward)
}

func TestRegister(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "missing", "u1")
	assert.ErrorIs(t, err, record.ErrNotFound)

	_, err = f.svc.CreateChallenge(ctx, NewChallenge{ID: "c1"})
	require.NoError(t, err)
	p, err := f.svc.Register(ctx, "c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusRegistered, p.Status)
	assert.Nil(t, p.Rank)

	_, err = f.svc.Register(ctx, "c1", "u1")
	assert.ErrorIs(t, err, record.ErrAlreadyExists)
}

func TestRecordProgress_ActivatesAndTracksScores(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.svc.CreateChallenge(ctx, NewChallenge{ID: "c1"})
	require.NoError(t, err)
	key := f.join(t, "c1", "u1")

	f.clk.Advance(time.Minute)
	p, err := f.svc.RecordProgress(ctx, key, Progress{Score: 40})
	require.NoError(t, err)
	assert.Equal(t, record.StatusActive, p.Status)
	assert.Equal(t, 40, p.CurrentScore)
	assert.Equal(t, 40, p.BestScore)
	firstBest := p.BestScoreAt

	f.clk.Advance(time.Minute)
	p, err = f.svc.RecordProgress(ctx, key, Progress{Score: 25})
	require.NoError(t, err)
	assert.Equal(t, 25, p.CurrentScore)
	assert.Equal(t, 40, p.BestScore, "best never decreases")
	assert.Equal(t, firstBest, p.BestScoreAt)
	assert.Equal(t, f.clk.Now(), p.ScoreReachedAt)

	reached := p.ScoreReachedAt
	f.clk.Advance(time.Minute)
	p, err = f.svc.RecordProgress(ctx, key, Progress{Score: 25})
	require.NoError(t, err)
	assert.Equal(t, reached, p.ScoreReachedAt, "same score keeps its original timestamp")
	assert.Equal(t, 3, p.ProgressCount)

	streakDays, err := f.svc.streaks.CurrentStreak(ctx, "u1", "challenge:c1", f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, streakDays)

	_, err = f.svc.RecordProgress(ctx, key, Progress{Score: -1})
	assert.Error(t, err)
}

// flakyLocker fails the first n Lock calls, then hands out real locks.
type flakyLocker struct {
	mu    sync.Mutex
	fails int
	inner record.Locker
}

func (l *flakyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	if l.fails > 0 {
		l.fails--
		l.mu.Unlock()
		return nil, fmt.Errorf("lock %s timed out: %w", key, record.ErrConcurrentModification)
	}
	l.mu.Unlock()
	return l.inner.Lock(ctx, key)
}

func TestRecordProgress_ActivityFailureLeavesParticipationUntouched(t *testing.T) {
	mem := store.NewMemory()
	clk := clock.NewFake(start)
	locker := &flakyLocker{inner: keylock.NewMutex()}
	streaks := streak.NewEngine(mem, locker, clk, nil)
	svc := NewService(mem, streaks, Config{Clock: clk})
	ctx := context.Background()

	_, err := svc.CreateChallenge(ctx, NewChallenge{ID: "c1"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, "c1", "u1")
	require.NoError(t, err)
	key := record.ParticipationKey{ChallengeID: "c1", UserID: "u1"}

	locker.fails = 1
	_, err = svc.RecordProgress(ctx, key, Progress{Score: 30})
	require.ErrorIs(t, err, record.ErrConcurrentModification)

	p, err := mem.GetParticipation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, record.StatusRegistered, p.Status)
	assert.Zero(t, p.ProgressCount)
	assert.Zero(t, p.CurrentScore)

	p, err = svc.RecordProgress(ctx, key, Progress{Score: 30})
	require.NoError(t, err)
	assert.Equal(t, record.StatusActive, p.Status)
	assert.Equal(t, 1, p.ProgressCount, "the retried update counts once")
	assert.Equal(t, 30, p.CurrentScore)
}

func TestRecordProgress_TerminalRecordsNoActivity(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.svc.CreateChallenge(ctx, NewChallenge{ID: "c1"})
	require.NoError(t, err)
	key := f.join(t, "c1", "u1")
	_, err = f.svc.Abandon(ctx, key)
	require.NoError(t, err)

	_, err = f.svc.RecordProgress(ctx, key, Progress{Score: 10})
	assert.ErrorIs(t, err, record.ErrInvalidStateTransition)

	days, err := f.mem.RangeQuery(ctx, record.SeriesKey{UserID: "u1", SeriesID: "challenge:c1"}, record.DateRange{})
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestComplete_RewardUsesChallengeStreak(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.svc.CreateChallenge(ctx, NewChallenge{ID: "c1", BaseReward: 10})
	require.NoError(t, err)
	key := f.join(t, "c1", "u1")

	for _, score := range []int{30, 60, 120} {
		_, err := f.svc.RecordProgress(ctx, key, Progress{Score: score})
		require.NoError(t, err)
		f.clk.AdvanceDays(1)
	}

	p, err := f.svc.Complete(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, record.StatusCompleted, p.Status)
	require.NotNil(t, p.CompletedAt)
	// 10 base + min(3*2, 50) + min(120/10, 20)
	assert.Equal(t, 28, p.RewardPoints)

	_, err = f.svc.RecordProgress(ctx, key, Progress{Score: 200})
	assert.ErrorIs(t, err, record.ErrInvalidStateTransition)
	_, err = f.svc.AdvanceParticipationState(ctx, key, record.StatusActive)
	assert.ErrorIs(t, err, record.ErrInvalidStateTransition)
	_, err = f.svc.Abandon(ctx, key)
	assert.ErrorIs(t, err, record.ErrInvalidStateTransition)
}

func TestComplete_EmptyCompletionFlag(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, false)
	_, err := f.svc.CreateChallenge(ctx, NewChallenge{ID: "strict"})
	require.NoError(t, err)
	key := f.join(t, "strict", "u1")
	_, err = f.svc.Complete(ctx, key)
	var te *record.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, record.StatusRegistered, te.From)

	yes := true
	_, err = f.svc.CreateChallenge(ctx, NewChallenge{ID: "lenient", BaseReward: 5, AllowEmptyCompletion: &yes})
	require.NoError(t, err)
	key = f.join(t, "lenient", "u1")
	p, err := f.svc.AdvanceParticipationState(ctx, key, record.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, record.StatusCompleted, p.Status)
	assert.Equal(t, 5, p.RewardPoints)
}

func TestAbandon(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.svc.CreateChallenge(ctx, NewChallenge{ID: "c1", BaseReward: 10})
	require.NoError(t, err)

	key := f.join(t, "c1", "u1")
	p, err := f.svc.Abandon(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, record.StatusAbandoned, p.Status)
	assert.Zero(t, p.RewardPoints)

	_, err = f.svc.Complete(ctx, key)
	assert.ErrorIs(t, err, record.ErrInvalidStateTransition)

	_, err = f.svc.AdvanceParticipationState(ctx, key, record.StatusRegistered)
	assert.ErrorIs(t, err, record.ErrInvalidStateTransition)
}

func TestRecordProgress_ConcurrentUpdatesKeepBest(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.svc.CreateChallenge(ctx, NewChallenge{ID: "c1"})
	require.NoError(t, err)
	key := f.join(t, "c1", "u1")

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.RecordProgress(ctx, key, Progress{Score: i * 10})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := f.svc.GetParticipation(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 100, p.BestScore)
	assert.Equal(t, 10, p.ProgressCount)
	assert.GreaterOrEqual(t, p.BestScore, p.CurrentScore)
}

func TestLeaderboardAndStats(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.svc.CreateChallenge(ctx, NewChallenge{ID: "c1"})
	require.NoError(t, err)

	scores := map[string]int{"amy": 50, "bob": 50, "cat": 40}
	for _, u := range []string{"bob", "amy", "cat"} {
		key := f.join(t, "c1", u)
		f.clk.Advance(time.Second)
		_, err := f.svc.RecordProgress(ctx, key, Progress{Score: scores[u]})
		require.NoError(t, err)
	}
	quitter := f.join(t, "c1", "dan")
	_, err = f.svc.Abandon(ctx, quitter)
	require.NoError(t, err)

	entries, err := f.svc.Leaderboard(ctx, "c1", leaderboard.Options{Mode: leaderboard.ModeLive})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "bob", entries[0].UserID)
	assert.Equal(t, 1, entries[1].Rank)
	assert.Equal(t, 2, entries[2].Rank)

	_, err = f.svc.Leaderboard(ctx, "nope", leaderboard.Options{})
	assert.ErrorIs(t, err, record.ErrNotFound)

	st, err := f.svc.Stats(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 4, st.Participants)
	assert.Equal(t, 3, st.Active)
	assert.Equal(t, 1, st.Abandoned)
	assert.Equal(t, 50, st.HighestScore)
	assert.InDelta(t, 35.0, st.AverageScore, 1e-9)
}
