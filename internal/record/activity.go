package record

import (
	"fmt"
	"time"
)

// SeriesKey identifies one user's activity history in one series.
type SeriesKey struct {
	UserID   string
	SeriesID string
}

func (k SeriesKey) String() string {
	return fmt.Sprintf("series:%s:%s", k.UserID, k.SeriesID)
}

// Series holds the streak and makeup policy of an activity series, such as
// a check-in campaign, a challenge or daily study.
type Series struct {
	ID    string
	Title string

	BaseReward int

	AllowMakeup      bool
	MaxMakeupDays    int // 0 = no day limit
	MakeupCostPerDay int

	// Active window; zero bounds are open.
	StartDate time.Time
	EndDate   time.Time

	CreatedAt time.Time
}

// Window returns the series' active window as a DateRange.
func (s *Series) Window() DateRange {
	return DateRange{From: s.StartDate, To: s.EndDate}
}

// ActivityDay is one user's activity in a series on one calendar day.
type ActivityDay struct {
	ID       string
	UserID   string
	SeriesID string

	ActivityDate time.Time // midnight UTC, see Day

	IsMakeup   bool
	MakeupCost int

	// StreakDays is the consecutive-day count as of this record. It only
	// changes when a makeup fills a gap before it.
	StreakDays   int
	PointsEarned int
	Engagement   int

	CreatedAt time.Time
}

// Key returns the (user, series) pair the record belongs to.
func (a *ActivityDay) Key() SeriesKey {
	return SeriesKey{UserID: a.UserID, SeriesID: a.SeriesID}
}

// SeriesStats aggregates a user's history in one series.
type SeriesStats struct {
	TotalDays   int
	TotalPoints int
	MakeupCount int
	MakeupSpent int
	MaxStreak   int
	FirstDate   *time.Time
	LastDate    *time.Time
}

// SeriesTotal aggregates one user's days in a series, or across every
// series for the global board.
type SeriesTotal struct {
	UserID      string
	TotalDays   int
	TotalPoints int
	MaxStreak   int
	// LastDate is the user's latest activity day.
	LastDate time.Time
	// MaxStreakDate is the first day on which MaxStreak was reached.
	MaxStreakDate time.Time
}
