package record

import (
	"fmt"
	"time"
)

// Initial scheduling values for an item on first contact or after a reset.
const (
	InitialIntervalDays = 1
	InitialEase         = 2.5
)

// ItemKey identifies one user's record for one learnable item.
type ItemKey struct {
	UserID string
	ItemID string
}

func (k ItemKey) String() string {
	return fmt.Sprintf("item:%s:%s", k.UserID, k.ItemID)
}

// LearningItem is the review state of a user x item pair.
type LearningItem struct {
	UserID string
	ItemID string

	MasteryLevel MasteryLevel

	StudyCount   int
	CorrectCount int
	WrongCount   int
	TimeSpent    time.Duration // aggregate only, never used for interval math

	ReviewIntervalDays int
	EaseFactor         float64
	RepetitionCount    int // consecutive correct reviews since the last lapse

	NextReviewAt   *time.Time // nil = never scheduled, treated as due
	LastReviewedAt *time.Time
	FirstLearnedAt *time.Time

	CreatedAt time.Time

	// Version is the optimistic concurrency token. Zero means the record
	// has never been stored.
	Version int64
}

// NewLearningItem returns a record in the initial NEW state.
func NewLearningItem(key ItemKey, now time.Time) *LearningItem {
	return &LearningItem{
		UserID:             key.UserID,
		ItemID:             key.ItemID,
		MasteryLevel:       LevelNew,
		ReviewIntervalDays: InitialIntervalDays,
		EaseFactor:         InitialEase,
		CreatedAt:          now,
	}
}

// Key returns the record's identity.
func (li *LearningItem) Key() ItemKey {
	return ItemKey{UserID: li.UserID, ItemID: li.ItemID}
}

// AccuracyRate returns CorrectCount / StudyCount, or 0 before any attempt.
func (li *LearningItem) AccuracyRate() float64 {
	if li.StudyCount == 0 {
		return 0
	}
	return float64(li.CorrectCount) / float64(li.StudyCount)
}

// IsDue reports whether the item belongs in the review queue at now.
// EXPERT items never do.
func (li *LearningItem) IsDue(now time.Time) bool {
	if li.MasteryLevel == LevelExpert {
		return false
	}
	return li.NextReviewAt == nil || !now.Before(*li.NextReviewAt)
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (li *LearningItem) Clone() *LearningItem {
	c := *li
	c.NextReviewAt = cloneTime(li.NextReviewAt)
	c.LastReviewedAt = cloneTime(li.LastReviewedAt)
	c.FirstLearnedAt = cloneTime(li.FirstLearnedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// AttemptEvent is one entry in the append-only practice log.
type AttemptEvent struct {
	ID           int64
	UserID       string
	ItemID       string
	Correct      bool
	TimeSpent    time.Duration
	MasteryFrom  MasteryLevel
	MasteryTo    MasteryLevel
	IntervalDays int
	StreakDays   int
	Points       int
	CreatedAt    time.Time
}
