package spacedrep

import (
	"math"
	"time"

	"github.com/abhisek/cadence/internal/record"
)

// ReviewStatus describes an item's review status for display.
type ReviewStatus string

const (
	ReviewNotDue  ReviewStatus = "not_due"
	ReviewDue     ReviewStatus = "due"
	ReviewOverdue ReviewStatus = "overdue"
	ReviewRetired ReviewStatus = "retired" // EXPERT, out of the queue
)

// OverdueDays returns how many days past due the item is. Returns 0 if not
// yet due or never scheduled.
func OverdueDays(item *record.LearningItem, now time.Time) float64 {
	if item.NextReviewAt == nil || now.Before(*item.NextReviewAt) {
		return 0
	}
	return now.Sub(*item.NextReviewAt).Hours() / 24.0
}

// Status returns the review status. An item counts as overdue once it has
// been due for longer than half its interval.
func Status(item *record.LearningItem, now time.Time) ReviewStatus {
	if item.MasteryLevel == record.LevelExpert {
		return ReviewRetired
	}
	if !item.IsDue(now) {
		return ReviewNotDue
	}
	grace := float64(max(item.ReviewIntervalDays, 1)) * 0.5
	if OverdueDays(item, now) > grace {
		return ReviewOverdue
	}
	return ReviewDue
}

// DaysUntilReview returns the number of days until the next review.
// Returns 0 if already due.
func DaysUntilReview(item *record.LearningItem, now time.Time) int {
	if item.IsDue(now) || item.NextReviewAt == nil {
		return 0
	}
	return int(math.Ceil(item.NextReviewAt.Sub(now).Hours() / 24.0))
}
