package spacedrep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/cadence/internal/clock"
	"github.com/abhisek/cadence/internal/record"
	"github.com/abhisek/cadence/internal/retry"
	"github.com/abhisek/cadence/internal/store"
)

// unlockedLocker never blocks, leaving the version check as the only guard.
type unlockedLocker struct{}

func (unlockedLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

func newTestScheduler(t *testing.T) (*Scheduler, *store.Memory, *clock.Fake) {
	t.Helper()
	mem := store.NewMemory()
	clk := clock.NewFake(t0)
	return NewScheduler(mem, nil, nil, clk, nil), mem, clk
}

func key(item string) record.ItemKey {
	return record.ItemKey{UserID: "u1", ItemID: item}
}

func TestScheduler_RecordAttemptRequiresItem(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	_, err := s.RecordAttempt(context.Background(), key("apple"), Attempt{Correct: true})
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestScheduler_AddThenAttempt(t *testing.T) {
	s, _, clk := newTestScheduler(t)
	ctx := context.Background()

	item, err := s.AddItem(ctx, key("apple"))
	require.NoError(t, err)
	assert.Equal(t, record.LevelNew, item.MasteryLevel)
	assert.Equal(t, int64(1), item.Version)

	_, err = s.AddItem(ctx, key("apple"))
	assert.ErrorIs(t, err, record.ErrAlreadyExists)

	res, err := s.RecordAttempt(ctx, key("apple"), Attempt{Correct: true})
	require.NoError(t, err)
	assert.Equal(t, record.LevelLearning, res.Item.MasteryLevel)
	require.NotNil(t, res.Transition)
	assert.Equal(t, record.LevelNew, res.Transition.From)
	assert.Equal(t, 3, res.Item.ReviewIntervalDays)
	assert.True(t, res.Item.NextReviewAt.Equal(clk.Now().AddDate(0, 0, 3)))

	stored, err := s.GetItem(ctx, key("apple"))
	require.NoError(t, err)
	assert.Equal(t, 1, stored.StudyCount)
	assert.Equal(t, int64(2), stored.Version)
}

func TestScheduler_PracticeCreatesOnFirstContact(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	res, err := s.Practice(context.Background(), key("pear"), Attempt{Correct: false})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Item.StudyCount)
	assert.Equal(t, 1, res.Item.WrongCount)
	assert.Equal(t, record.LevelLearning, res.Item.MasteryLevel)
}

func TestScheduler_DueOrdering(t *testing.T) {
	s, _, clk := newTestScheduler(t)
	ctx := context.Background()

	// "b" is attempted first so it falls due first.
	_, err := s.Practice(ctx, key("b"), Attempt{Correct: false}) // due t0+1
	require.NoError(t, err)
	clk.Advance(6 * time.Hour)
	_, err = s.Practice(ctx, key("a"), Attempt{Correct: false}) // due t0+1d6h
	require.NoError(t, err)
	_, err = s.Practice(ctx, key("c"), Attempt{Correct: true}) // due t0+3d6h
	require.NoError(t, err)
	_, err = s.AddItem(ctx, key("z")) // never scheduled
	require.NoError(t, err)

	clk.Set(t0.AddDate(0, 0, 2))
	due, err := s.GetDueItems(ctx, "u1", 10)
	require.NoError(t, err)

	var ids []string
	for _, it := range due {
		ids = append(ids, it.ItemID)
	}
	assert.Equal(t, []string{"z", "b", "a"}, ids)

	due, err = s.GetDueItems(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)

	due, err = s.GetDueItems(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestScheduler_ExpertNeverDue(t *testing.T) {
	s, _, clk := newTestScheduler(t)
	ctx := context.Background()

	for range 6 {
		res, err := s.Practice(ctx, key("apple"), Attempt{Correct: true})
		require.NoError(t, err)
		clk.Set(*res.Item.NextReviewAt)
	}
	item, err := s.GetItem(ctx, key("apple"))
	require.NoError(t, err)
	require.Equal(t, record.LevelExpert, item.MasteryLevel)

	clk.Set(t0.AddDate(10, 0, 0))
	due, err := s.GetDueItems(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestScheduler_MarkExpertAndReset(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.MarkExpert(ctx, key("apple"))
	assert.ErrorIs(t, err, record.ErrNotFound)

	_, err = s.Practice(ctx, key("apple"), Attempt{Correct: true})
	require.NoError(t, err)

	res, err := s.MarkExpert(ctx, key("apple"))
	require.NoError(t, err)
	assert.Equal(t, record.LevelExpert, res.Item.MasteryLevel)
	require.NotNil(t, res.Transition)
	assert.Equal(t, record.LevelLearning, res.Transition.From)

	res, err = s.Reset(ctx, key("apple"))
	require.NoError(t, err)
	assert.Equal(t, record.LevelNew, res.Item.MasteryLevel)
	assert.Zero(t, res.Item.StudyCount)
	assert.Nil(t, res.Item.NextReviewAt)

	due, err := s.GetDueItems(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestScheduler_RemoveItem(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.RemoveItem(ctx, key("apple")), record.ErrNotFound)
	_, err := s.AddItem(ctx, key("apple"))
	require.NoError(t, err)
	require.NoError(t, s.RemoveItem(ctx, key("apple")))
	_, err = s.GetItem(ctx, key("apple"))
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestScheduler_ConcurrentSubmitsAreNotLost(t *testing.T) {
	tests := []struct {
		name   string
		locker record.Locker
	}{
		{"keyed lock", nil},
		{"version check only", unlockedLocker{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := store.NewMemory()
			r := retry.New(retry.Config{MaxAttempts: 50, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2})
			s := NewScheduler(mem, tt.locker, r, clock.NewFake(t0), nil)

			const n = 10
			var wg sync.WaitGroup
			for i := range n {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Practice(context.Background(), key("apple"), Attempt{Correct: i%2 == 0})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			item, err := mem.GetItem(context.Background(), key("apple"))
			require.NoError(t, err)
			assert.Equal(t, n, item.StudyCount)
			assert.Equal(t, item.StudyCount, item.CorrectCount+item.WrongCount)
			assert.Equal(t, int64(n), item.Version)
		})
	}
}

func TestScheduler_Stats(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	_, _ = s.Practice(ctx, key("a"), Attempt{Correct: true, TimeSpent: time.Second})
	_, _ = s.Practice(ctx, key("a"), Attempt{Correct: false, TimeSpent: time.Second})
	_, _ = s.Practice(ctx, key("b"), Attempt{Correct: true})
	_, _ = s.AddItem(ctx, key("c"))

	st, err := s.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalItems)
	assert.Equal(t, 3, st.TotalAttempts)
	assert.Equal(t, 2, st.CorrectCount)
	assert.Equal(t, 1, st.WrongCount)
	assert.InDelta(t, 0.75, st.AverageAccuracy, 1e-9)
	assert.Equal(t, 2*time.Second, st.TimeSpent)
	assert.Equal(t, 2, st.Distribution[record.LevelLearning])
	assert.Equal(t, 1, st.Distribution[record.LevelNew])
	assert.Equal(t, 1, st.DueNow) // only the unscheduled one at t0
}

func TestScheduler_Schedule(t *testing.T) {
	s, _, clk := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.AddItem(ctx, key("apple"))
	require.NoError(t, err)
	_, err = s.Practice(ctx, key("pear"), Attempt{Correct: true})
	require.NoError(t, err)
	_, err = s.Practice(ctx, key("kiwi"), Attempt{Correct: true})
	require.NoError(t, err)
	_, err = s.MarkExpert(ctx, key("kiwi"))
	require.NoError(t, err)

	clk.Advance(24 * time.Hour)

	rows, err := s.Schedule(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "apple", rows[0].Item.ItemID)
	assert.Equal(t, ReviewDue, rows[0].Status)
	assert.Zero(t, rows[0].DaysUntil)

	assert.Equal(t, "pear", rows[1].Item.ItemID)
	assert.Equal(t, ReviewNotDue, rows[1].Status)
	assert.Equal(t, 2, rows[1].DaysUntil)

	assert.Equal(t, "kiwi", rows[2].Item.ItemID)
	assert.Equal(t, ReviewRetired, rows[2].Status)

	rows, err = s.Schedule(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, rows)
}
