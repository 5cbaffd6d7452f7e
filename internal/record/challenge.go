package record

import (
	"fmt"
	"time"
)

// ParticipationStatus is the lifecycle state of a challenge participation.
type ParticipationStatus string

const (
	StatusRegistered ParticipationStatus = "registered"
	StatusActive     ParticipationStatus = "active"
	StatusCompleted  ParticipationStatus = "completed"
	StatusAbandoned  ParticipationStatus = "abandoned"
)

// Terminal reports whether no transition may leave s.
func (s ParticipationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Valid reports whether s is a known status.
func (s ParticipationStatus) Valid() bool {
	switch s {
	case StatusRegistered, StatusActive, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

// Challenge is a competitive activity users join and score in.
type Challenge struct {
	ID         string
	Title      string
	BaseReward int

	// AllowEmptyCompletion permits REGISTERED -> COMPLETED without any
	// recorded progress.
	AllowEmptyCompletion bool

	CreatedAt time.Time
}

// SeriesID returns the activity series that tracks daily progress streaks
// for this challenge.
func (c *Challenge) SeriesID() string {
	return ChallengeSeriesID(c.ID)
}

// ChallengeSeriesID returns the activity series id of a challenge.
func ChallengeSeriesID(challengeID string) string {
	return "challenge:" + challengeID
}

// ParticipationKey identifies a user's participation in a challenge.
type ParticipationKey struct {
	ChallengeID string
	UserID      string
}

func (k ParticipationKey) String() string {
	return fmt.Sprintf("participation:%s:%s", k.ChallengeID, k.UserID)
}

// Participation is one user's standing in one challenge.
type Participation struct {
	ID          string
	ChallengeID string
	UserID      string

	Status ParticipationStatus

	CurrentScore   int
	BestScore      int
	ScoreReachedAt time.Time // first time CurrentScore reached its value
	BestScoreAt    time.Time // first time BestScore reached its value
	ProgressCount  int

	// Rank is written only by the ranking job.
	Rank *int

	RewardPoints int

	JoinedAt       time.Time
	LastActivityAt time.Time
	CompletedAt    *time.Time

	Version int64
}

// Key returns the participation's identity.
func (p *Participation) Key() ParticipationKey {
	return ParticipationKey{ChallengeID: p.ChallengeID, UserID: p.UserID}
}

// Clone returns a deep copy.
func (p *Participation) Clone() *Participation {
	c := *p
	if p.Rank != nil {
		r := *p.Rank
		c.Rank = &r
	}
	c.CompletedAt = cloneTime(p.CompletedAt)
	return &c
}
