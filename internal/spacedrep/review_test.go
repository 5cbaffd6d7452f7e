package spacedrep

import (
	"testing"
	"time"

	"github.com/abhisek/cadence/internal/record"
)

func TestStatus(t *testing.T) {
	due := t0
	tests := []struct {
		name     string
		level    record.MasteryLevel
		interval int
		next     *time.Time
		now      time.Time
		want     ReviewStatus
	}{
		{"never scheduled", record.LevelNew, 1, nil, t0, ReviewDue},
		{"not yet", record.LevelLearning, 4, &due, t0.Add(-time.Hour), ReviewNotDue},
		{"exactly due", record.LevelLearning, 4, &due, t0, ReviewDue},
		{"within grace", record.LevelLearning, 4, &due, t0.AddDate(0, 0, 2), ReviewDue},
		{"overdue", record.LevelLearning, 4, &due, t0.AddDate(0, 0, 3), ReviewOverdue},
		{"expert", record.LevelExpert, 4, &due, t0.AddDate(0, 0, 30), ReviewRetired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := newItem()
			item.MasteryLevel = tt.level
			item.ReviewIntervalDays = tt.interval
			item.NextReviewAt = tt.next
			if got := Status(item, tt.now); got != tt.want {
				t.Errorf("Status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDaysUntilReview(t *testing.T) {
	item := newItem()
	next := t0.AddDate(0, 0, 3)
	item.NextReviewAt = &next

	if got := DaysUntilReview(item, t0); got != 3 {
		t.Errorf("DaysUntilReview = %d, want 3", got)
	}
	if got := DaysUntilReview(item, next); got != 0 {
		t.Errorf("DaysUntilReview at due = %d, want 0", got)
	}
	if got := OverdueDays(item, next.Add(36*time.Hour)); got != 1.5 {
		t.Errorf("OverdueDays = %v, want 1.5", got)
	}
}
