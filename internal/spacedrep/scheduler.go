package spacedrep

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/abhisek/cadence/internal/clock"
	"github.com/abhisek/cadence/internal/keylock"
	"github.com/abhisek/cadence/internal/logger"
	"github.com/abhisek/cadence/internal/mastery"
	"github.com/abhisek/cadence/internal/record"
	"github.com/abhisek/cadence/internal/retry"
)

// Scheduler owns every write to learning items. Each read-modify-write runs
// under a per-item lock and is saved with an optimistic version check, so
// concurrent attempts for the same pair are serialized and none is lost.
type Scheduler struct {
	items   record.ItemStore
	locker  record.Locker
	retrier *retry.Retrier
	clock   clock.Clock
	log     *logger.Logger
}

// Result is the outcome of one attempt.
type Result struct {
	Item       *record.LearningItem
	Transition *mastery.StateTransition // nil when the level did not change
}

// NewScheduler creates a scheduler. Nil dependencies fall back to an
// in-process lock, the default retry policy, the wall clock and a no-op
// logger.
func NewScheduler(items record.ItemStore, locker record.Locker, retrier *retry.Retrier, clk clock.Clock, log *logger.Logger) *Scheduler {
	if locker == nil {
		locker = keylock.NewMutex()
	}
	if retrier == nil {
		retrier = retry.New(retry.DefaultConfig())
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scheduler{
		items:   items,
		locker:  locker,
		retrier: retrier,
		clock:   clk,
		log:     logger.OrNop(log).With("component", "scheduler"),
	}
}

// mutateFunc derives the next state of an item. cur is nil when the item
// does not exist yet and the caller asked for creation.
type mutateFunc func(cur *record.LearningItem, now time.Time) (*record.LearningItem, error)

// update runs fn under the item lock and persists its result, retrying on
// version conflicts.
func (s *Scheduler) update(ctx context.Context, key record.ItemKey, create bool, fn mutateFunc) (*record.LearningItem, error) {
	var saved *record.LearningItem
	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		unlock, err := s.locker.Lock(ctx, key.String())
		if err != nil {
			return fmt.Errorf("lock %s: %w", key, err)
		}
		defer unlock()

		cur, err := s.items.GetItem(ctx, key)
		if err != nil {
			if !create || !errors.Is(err, record.ErrNotFound) {
				return err
			}
			cur = nil
		}

		next, err := fn(cur, s.clock.Now())
		if err != nil {
			return err
		}
		if err := s.items.PutItem(ctx, next); err != nil {
			return err
		}
		saved = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Scheduler) attempt(ctx context.Context, key record.ItemKey, a Attempt, create bool) (*Result, error) {
	var transition *mastery.StateTransition
	item, err := s.update(ctx, key, create, func(cur *record.LearningItem, now time.Time) (*record.LearningItem, error) {
		if cur == nil {
			cur = record.NewLearningItem(key, now)
		}
		next, tr := Apply(cur, a, now)
		transition = tr
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	if transition != nil {
		s.log.Info("mastery transition",
			"user", key.UserID, "item", key.ItemID,
			"from", transition.From, "to", transition.To, "trigger", transition.Trigger)
	}
	s.log.Debug("attempt recorded",
		"user", key.UserID, "item", key.ItemID, "correct", a.Correct,
		"interval_days", item.ReviewIntervalDays, "ease", item.EaseFactor)

	return &Result{Item: item, Transition: transition}, nil
}

// RecordAttempt applies one attempt to an existing item. Returns
// record.ErrNotFound when the user has never added the item.
func (s *Scheduler) RecordAttempt(ctx context.Context, key record.ItemKey, a Attempt) (*Result, error) {
	return s.attempt(ctx, key, a, false)
}

// Practice applies one attempt, creating the item on first contact.
func (s *Scheduler) Practice(ctx context.Context, key record.ItemKey, a Attempt) (*Result, error) {
	return s.attempt(ctx, key, a, true)
}

// AddItem puts an item on the user's learning list in the NEW state.
// Returns record.ErrAlreadyExists if it is already there.
func (s *Scheduler) AddItem(ctx context.Context, key record.ItemKey) (*record.LearningItem, error) {
	return s.update(ctx, key, true, func(cur *record.LearningItem, now time.Time) (*record.LearningItem, error) {
		if cur != nil {
			return nil, fmt.Errorf("add %s: %w", key, record.ErrAlreadyExists)
		}
		return record.NewLearningItem(key, now), nil
	})
}

// RemoveItem deletes an item from the user's learning list.
func (s *Scheduler) RemoveItem(ctx context.Context, key record.ItemKey) error {
	unlock, err := s.locker.Lock(ctx, key.String())
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer unlock()
	return s.items.DeleteItem(ctx, key)
}

// Reset returns an item to the initial NEW state with all counters zeroed.
func (s *Scheduler) Reset(ctx context.Context, key record.ItemKey) (*Result, error) {
	var transition *mastery.StateTransition
	item, err := s.update(ctx, key, false, func(cur *record.LearningItem, _ time.Time) (*record.LearningItem, error) {
		transition = mastery.Transition(key.ItemID, cur.MasteryLevel, record.LevelNew, mastery.TriggerReset)
		return ResetState(cur), nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("item reset", "user", key.UserID, "item", key.ItemID)
	return &Result{Item: item, Transition: transition}, nil
}

// MarkExpert promotes an item straight to EXPERT, which retires it from the
// review queue. Scheduling fields are left as they are.
func (s *Scheduler) MarkExpert(ctx context.Context, key record.ItemKey) (*Result, error) {
	var transition *mastery.StateTransition
	item, err := s.update(ctx, key, false, func(cur *record.LearningItem, now time.Time) (*record.LearningItem, error) {
		next := cur.Clone()
		next.MasteryLevel = record.LevelExpert
		if next.FirstLearnedAt == nil {
			first := now
			next.FirstLearnedAt = &first
		}
		transition = mastery.Transition(key.ItemID, cur.MasteryLevel, record.LevelExpert, mastery.TriggerManual)
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	if transition != nil {
		s.log.Info("item marked expert", "user", key.UserID, "item", key.ItemID, "from", transition.From)
	}
	return &Result{Item: item, Transition: transition}, nil
}

// GetItem returns the stored state of one item.
func (s *Scheduler) GetItem(ctx context.Context, key record.ItemKey) (*record.LearningItem, error) {
	return s.items.GetItem(ctx, key)
}

// GetDueItems returns up to limit items due for review at the current time,
// most overdue first. Never-scheduled items come before everything else.
func (s *Scheduler) GetDueItems(ctx context.Context, userID string, limit int) ([]*record.LearningItem, error) {
	return s.items.DueItems(ctx, userID, s.clock.Now(), limit)
}

// Upcoming is one row of a user's review schedule.
type Upcoming struct {
	Item      *record.LearningItem
	Status    ReviewStatus
	DaysUntil int
}

// Schedule lists every item of userID with its review status and the days
// left until it is next due, soonest first. Retired items sort last.
func (s *Scheduler) Schedule(ctx context.Context, userID string) ([]Upcoming, error) {
	items, err := s.items.ListItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	out := make([]Upcoming, 0, len(items))
	for _, it := range items {
		out = append(out, Upcoming{Item: it, Status: Status(it, now), DaysUntil: DaysUntilReview(it, now)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Status == ReviewRetired, out[j].Status == ReviewRetired
		if ri != rj {
			return rj
		}
		if out[i].DaysUntil != out[j].DaysUntil {
			return out[i].DaysUntil < out[j].DaysUntil
		}
		return out[i].Item.ItemID < out[j].Item.ItemID
	})
	return out, nil
}

// Stats summarizes a user's learning list.
type Stats struct {
	TotalItems      int
	TotalAttempts   int
	CorrectCount    int
	WrongCount      int
	DueNow          int
	AverageAccuracy float64 // mean of per-item accuracy over attempted items
	TimeSpent       time.Duration
	Distribution    map[record.MasteryLevel]int
}

// Stats computes learning statistics for userID.
func (s *Scheduler) Stats(ctx context.Context, userID string) (*Stats, error) {
	items, err := s.items.ListItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	st := &Stats{
		TotalItems:   len(items),
		Distribution: mastery.Distribution(items),
	}

	var accSum float64
	var attempted int
	for _, it := range items {
		st.TotalAttempts += it.StudyCount
		st.CorrectCount += it.CorrectCount
		st.WrongCount += it.WrongCount
		st.TimeSpent += it.TimeSpent
		if it.IsDue(now) {
			st.DueNow++
		}
		if it.StudyCount > 0 {
			accSum += it.AccuracyRate()
			attempted++
		}
	}
	if attempted > 0 {
		st.AverageAccuracy = accSum / float64(attempted)
	}
	return st, nil
}
