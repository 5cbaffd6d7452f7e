package record

import (
	"context"
	"time"
)

// ItemStore persists LearningItem records keyed by (user, item).
type ItemStore interface {
	// GetItem returns ErrNotFound when the pair has no record.
	GetItem(ctx context.Context, key ItemKey) (*LearningItem, error)

	// PutItem inserts a record with Version 0, or updates one whose stored
	// version equals item.Version. On success item.Version holds the new
	// version. A stale version or a racing insert yields
	// ErrConcurrentModification.
	PutItem(ctx context.Context, item *LearningItem) error

	// DeleteItem removes a record. Returns ErrNotFound if absent.
	DeleteItem(ctx context.Context, key ItemKey) error

	// DueItems returns the user's non-EXPERT records with NextReviewAt nil
	// or <= now, oldest due first, at most limit records (limit <= 0 means
	// no cap).
	DueItems(ctx context.Context, userID string, now time.Time, limit int) ([]*LearningItem, error)

	// ListItems returns all records of a user ordered by item id.
	ListItems(ctx context.Context, userID string) ([]*LearningItem, error)
}

// ActivityStore persists activity series and their per-day records.
type ActivityStore interface {
	GetSeries(ctx context.Context, id string) (*Series, error)
	// PutSeries creates or replaces a series definition.
	PutSeries(ctx context.Context, s *Series) error

	GetDay(ctx context.Context, key SeriesKey, date time.Time) (*ActivityDay, error)

	// RangeQuery returns the records of key within r, ordered by date.
	RangeQuery(ctx context.Context, key SeriesKey, r DateRange) ([]*ActivityDay, error)

	// LatestDay returns the most recent record dated on or before day.
	LatestDay(ctx context.Context, key SeriesKey, onOrBefore time.Time) (*ActivityDay, error)

	// MaxStreak returns the highest StreakDays ever stored, 0 if none.
	MaxStreak(ctx context.Context, key SeriesKey) (int, error)

	// SaveDays inserts created and rewrites StreakDays of updated in one
	// transaction. A duplicate date yields ErrAlreadyExists and nothing is
	// written.
	SaveDays(ctx context.Context, created *ActivityDay, updated []*ActivityDay) error

	SeriesStats(ctx context.Context, key SeriesKey) (*SeriesStats, error)

	// SeriesTotals returns one aggregate per user with activity in the
	// series, ordered by user id. An empty seriesID aggregates every series.
	SeriesTotals(ctx context.Context, seriesID string) ([]*SeriesTotal, error)
}

// ChallengeStore persists challenges and participations.
type ChallengeStore interface {
	GetChallenge(ctx context.Context, id string) (*Challenge, error)
	PutChallenge(ctx context.Context, c *Challenge) error
	ListChallenges(ctx context.Context) ([]*Challenge, error)

	GetParticipation(ctx context.Context, key ParticipationKey) (*Participation, error)

	// PutParticipation follows the same versioning contract as PutItem.
	// Inserting a second participation for the same key yields
	// ErrAlreadyExists.
	PutParticipation(ctx context.Context, p *Participation) error

	ListParticipations(ctx context.Context, challengeID string) ([]*Participation, error)

	// SetRanks writes ranks for a challenge in one transaction. Participations
	// missing from ranks get a nil rank. Versions are not bumped: ranks are
	// derived data.
	SetRanks(ctx context.Context, challengeID string, ranks map[string]int) error
}

// AttemptLog appends practice attempts.
type AttemptLog interface {
	AppendAttempt(ctx context.Context, ev *AttemptEvent) error
	ListAttempts(ctx context.Context, userID string, limit int) ([]*AttemptEvent, error)
}

// Locker provides mutual exclusion per key. The returned unlock function
// must be called exactly once; extra calls are no-ops.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
