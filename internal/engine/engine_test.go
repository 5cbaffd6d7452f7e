package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/cadence/internal/clock"
	"github.com/abhisek/cadence/internal/config"
	"github.com/abhisek/cadence/internal/record"
	"github.com/abhisek/cadence/internal/store"
)

var now = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, *store.Memory, *clock.Fake) {
	t.Helper()
	cfg, err := config.FromViper(config.NewViper())
	require.NoError(t, err)
	cfg.Practice.BaseReward = 2

	mem := store.NewMemory()
	clk := clock.NewFake(now)
	return New(mem, cfg, nil, clk, nil), mem, clk
}

func TestPractice_FlowsThroughStreakSchedulerAndReward(t *testing.T) {
	e, mem, clk := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Practice(ctx, PracticeRequest{UserID: "u1", ItemID: "apple", Correct: true, TimeSpent: 40 * time.Second})
	require.NoError(t, err)
	assert.True(t, res.NewDay)
	assert.Equal(t, 1, res.StreakDays)
	assert.Equal(t, record.LevelLearning, res.Item.MasteryLevel)
	// 2 base + 1*2 streak + 40/10 engagement
	assert.Equal(t, 8, res.Points)

	res, err = e.Practice(ctx, PracticeRequest{UserID: "u1", ItemID: "pear", Correct: false})
	require.NoError(t, err)
	assert.False(t, res.NewDay)
	assert.Equal(t, 1, res.StreakDays)
	assert.Zero(t, res.Points)

	clk.AdvanceDays(1)
	res, err = e.Practice(ctx, PracticeRequest{UserID: "u1", ItemID: "apple", Correct: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.StreakDays)
	assert.Equal(t, record.LevelFamiliar, res.Item.MasteryLevel)
	require.NotNil(t, res.Transition)

	attempts, err := mem.ListAttempts(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	latest := attempts[0]
	assert.Equal(t, "apple", latest.ItemID)
	assert.Equal(t, record.LevelLearning, latest.MasteryFrom)
	assert.Equal(t, record.LevelFamiliar, latest.MasteryTo)
	assert.Equal(t, 2, latest.StreakDays)
}

func TestStatsAndReset(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	for _, item := range []string{"a", "b"} {
		_, err := e.Practice(ctx, PracticeRequest{UserID: "u1", ItemID: item, Correct: true})
		require.NoError(t, err)
	}

	st, err := e.Stats(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Learning.TotalItems)
	assert.Equal(t, 1, st.Study.TotalDays)
	assert.Equal(t, 1, st.Study.CurrentStreak)
	assert.Len(t, st.RecentAttempts, 1)

	require.NoError(t, e.ResetUser(ctx, "u1"))
	st, err = e.Stats(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Zero(t, st.Learning.TotalItems)
	assert.Zero(t, st.Study.TotalDays)
	assert.Empty(t, st.RecentAttempts)
}

func TestNewLocker_InProcessWithoutRedis(t *testing.T) {
	l, closeFn, err := NewLocker(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	defer closeFn()

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
}

// failingItems fails the next PutItem calls.
type failingItems struct {
	*store.Memory
	fails int
}

func (f *failingItems) PutItem(ctx context.Context, item *record.LearningItem) error {
	if f.fails > 0 {
		f.fails--
		return errors.New("disk full")
	}
	return f.Memory.PutItem(ctx, item)
}

func TestPractice_RetryAfterSchedulingFailureCountsDayOnce(t *testing.T) {
	cfg, err := config.FromViper(config.NewViper())
	require.NoError(t, err)
	st := &failingItems{Memory: store.NewMemory(), fails: 1}
	e := New(st, cfg, nil, clock.NewFake(now), nil)
	ctx := context.Background()
	req := PracticeRequest{UserID: "u1", ItemID: "apple", Correct: true}

	_, err = e.Practice(ctx, req)
	require.ErrorContains(t, err, "disk full")

	attempts, err := st.ListAttempts(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, attempts, "no attempt is logged for a failed schedule")

	res, err := e.Practice(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.NewDay, "the day was kept from the failed call")
	assert.Equal(t, 1, res.StreakDays)
	assert.Equal(t, 1, res.Item.StudyCount)

	stats, err := e.Stats(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Study.TotalDays)
}
