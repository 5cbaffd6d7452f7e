package spacedrep

import (
	"math"
	"time"

	"github.com/abhisek/cadence/internal/mastery"
	"github.com/abhisek/cadence/internal/record"
)

// Ease factor bounds and adjustments. Two implementations using different
// values diverge on long attempt sequences, so these are part of the
// scheduling contract.
const (
	MinEase      = 1.3
	MaxEase      = record.InitialEase
	EaseBonus    = 0.05 // added after a correct answer, capped at MaxEase
	LapsePenalty = 0.20 // subtracted after a wrong answer, floored at MinEase
)

// MaxIntervalDays caps the review interval at roughly a century. Items
// keep being re-tested after EXPERT, and without a cap the interval
// overflows both the stored due time and int.
const MaxIntervalDays = 36500

// Attempt is one practice answer.
type Attempt struct {
	Correct   bool
	TimeSpent time.Duration
}

// Apply returns a copy of item updated for one attempt at now, plus the
// mastery transition it caused (nil if none). item is not modified.
//
// Correct: repetitionCount+1, interval = max(1, round(interval*ease)) using
// the ease before the bonus and capped at MaxIntervalDays, then ease += EaseBonus (capped).
// Wrong: repetitionCount = 0, interval = 1, ease -= LapsePenalty (floored).
// nextReviewAt = now + interval days in both cases.
func Apply(item *record.LearningItem, a Attempt, now time.Time) (*record.LearningItem, *mastery.StateTransition) {
	next := item.Clone()

	next.StudyCount++
	if a.TimeSpent > 0 {
		next.TimeSpent += a.TimeSpent
	}

	if a.Correct {
		next.CorrectCount++
		next.RepetitionCount++
		next.ReviewIntervalDays = NextInterval(item.ReviewIntervalDays, item.EaseFactor)
		next.EaseFactor = math.Min(clampEase(item.EaseFactor)+EaseBonus, MaxEase)
	} else {
		next.WrongCount++
		next.RepetitionCount = 0
		next.ReviewIntervalDays = record.InitialIntervalDays
		next.EaseFactor = math.Max(clampEase(item.EaseFactor)-LapsePenalty, MinEase)
	}

	due := now.AddDate(0, 0, next.ReviewIntervalDays)
	next.NextReviewAt = &due

	level, trigger := mastery.AfterAttempt(item.MasteryLevel, a.Correct, next.RepetitionCount)
	next.MasteryLevel = level

	reviewed := now
	next.LastReviewedAt = &reviewed
	if next.FirstLearnedAt == nil {
		first := now
		next.FirstLearnedAt = &first
	}

	return next, mastery.Transition(item.ItemID, item.MasteryLevel, level, trigger)
}

// NextInterval returns the interval after a correct answer, never below 1
// nor above MaxIntervalDays.
func NextInterval(intervalDays int, ease float64) int {
	if intervalDays < 1 {
		intervalDays = record.InitialIntervalDays
	}
	if intervalDays >= MaxIntervalDays {
		return MaxIntervalDays
	}
	n := math.Round(float64(intervalDays) * clampEase(ease))
	return int(math.Max(1, math.Min(n, MaxIntervalDays)))
}

// ResetState returns a copy of item back in the initial NEW state. Identity,
// creation time and version are kept.
func ResetState(item *record.LearningItem) *record.LearningItem {
	fresh := record.NewLearningItem(item.Key(), item.CreatedAt)
	fresh.Version = item.Version
	return fresh
}

func clampEase(ease float64) float64 {
	switch {
	case ease < MinEase:
		return MinEase
	case ease > MaxEase:
		return MaxEase
	default:
		return ease
	}
}
