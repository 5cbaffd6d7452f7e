package store

import (
	"context"
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/abhisek/cadence/internal/record"
)

const (
	seriesTable = "activity_series"
	daysTable   = "activity_days"
)

var seriesColumns = []string{
	"id", "title", "base_reward", "allow_makeup", "max_makeup_days",
	"makeup_cost_per_day", "start_date", "end_date", "created_at",
}

var dayColumns = []string{
	"id", "user_id", "series_id", "activity_date", "is_makeup", "makeup_cost",
	"streak_days", "points_earned", "engagement", "created_at",
}

type seriesRow struct {
	ID               string         `db:"id"`
	Title            string         `db:"title"`
	BaseReward       int            `db:"base_reward"`
	AllowMakeup      bool           `db:"allow_makeup"`
	MaxMakeupDays    int            `db:"max_makeup_days"`
	MakeupCostPerDay int            `db:"makeup_cost_per_day"`
	StartDate        sql.NullString `db:"start_date"`
	EndDate          sql.NullString `db:"end_date"`
	CreatedAt        int64          `db:"created_at"`
}

func (r *seriesRow) toRecord() (*record.Series, error) {
	start, err := fromNullDate(r.StartDate)
	if err != nil {
		return nil, errors.Wrapf(err, "series %q start date", r.ID)
	}
	end, err := fromNullDate(r.EndDate)
	if err != nil {
		return nil, errors.Wrapf(err, "series %q end date", r.ID)
	}
	return &record.Series{
		ID:               r.ID,
		Title:            r.Title,
		BaseReward:       r.BaseReward,
		AllowMakeup:      r.AllowMakeup,
		MaxMakeupDays:    r.MaxMakeupDays,
		MakeupCostPerDay: r.MakeupCostPerDay,
		StartDate:        start,
		EndDate:          end,
		CreatedAt:        fromNanos(r.CreatedAt),
	}, nil
}

type dayRow struct {
	ID           string `db:"id"`
	UserID       string `db:"user_id"`
	SeriesID     string `db:"series_id"`
	ActivityDate string `db:"activity_date"`
	IsMakeup     bool   `db:"is_makeup"`
	MakeupCost   int    `db:"makeup_cost"`
	StreakDays   int    `db:"streak_days"`
	PointsEarned int    `db:"points_earned"`
	Engagement   int    `db:"engagement"`
	CreatedAt    int64  `db:"created_at"`
}

func (r *dayRow) toRecord() (*record.ActivityDay, error) {
	date, err := record.ParseDate(r.ActivityDate)
	if err != nil {
		return nil, errors.Wrapf(err, "activity %s date", r.ID)
	}
	return &record.ActivityDay{
		ID:           r.ID,
		UserID:       r.UserID,
		SeriesID:     r.SeriesID,
		ActivityDate: date,
		IsMakeup:     r.IsMakeup,
		MakeupCost:   r.MakeupCost,
		StreakDays:   r.StreakDays,
		PointsEarned: r.PointsEarned,
		Engagement:   r.Engagement,
		CreatedAt:    fromNanos(r.CreatedAt),
	}, nil
}

func seriesKeyPredicate(key record.SeriesKey) *entsql.Predicate {
	return entsql.And(entsql.EQ("user_id", key.UserID), entsql.EQ("series_id", key.SeriesID))
}

func (s *Store) GetSeries(ctx context.Context, id string) (*record.Series, error) {
	query, args := selectFrom(seriesTable, seriesColumns...).Where(entsql.EQ("id", id)).Query()
	var row seriesRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(record.ErrNotFound, "series %q", id)
		}
		return nil, errors.Wrapf(err, "get series %q", id)
	}
	return row.toRecord()
}

func (s *Store) PutSeries(ctx context.Context, sr *record.Series) error {
	query, args := builder().Insert(seriesTable).
		Columns(seriesColumns...).
		Values(sr.ID, sr.Title, sr.BaseReward, boolInt(sr.AllowMakeup), sr.MaxMakeupDays,
			sr.MakeupCostPerDay, nullDate(sr.StartDate), nullDate(sr.EndDate), toNanos(sr.CreatedAt)).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()
	_, err := s.db.ExecContext(ctx, query, args...)
	return errors.Wrapf(err, "put series %q", sr.ID)
}

func (s *Store) GetDay(ctx context.Context, key record.SeriesKey, date time.Time) (*record.ActivityDay, error) {
	query, args := selectFrom(daysTable, dayColumns...).
		Where(entsql.And(seriesKeyPredicate(key), entsql.EQ("activity_date", record.FormatDate(date)))).
		Query()
	var row dayRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(record.ErrNotFound, "%s on %s", key, record.FormatDate(date))
		}
		return nil, errors.Wrapf(err, "get %s on %s", key, record.FormatDate(date))
	}
	return row.toRecord()
}

// RangeQuery compares dates as text, which orders correctly for the
// fixed-width YYYY-MM-DD layout.
func (s *Store) RangeQuery(ctx context.Context, key record.SeriesKey, r record.DateRange) ([]*record.ActivityDay, error) {
	preds := []*entsql.Predicate{seriesKeyPredicate(key)}
	if !r.From.IsZero() {
		preds = append(preds, entsql.GTE("activity_date", record.FormatDate(r.From)))
	}
	if !r.To.IsZero() {
		preds = append(preds, entsql.LTE("activity_date", record.FormatDate(r.To)))
	}
	sel := selectFrom(daysTable, dayColumns...).
		Where(entsql.And(preds...)).
		OrderBy(entsql.Asc("activity_date"))
	return s.queryDays(ctx, sel)
}

func (s *Store) LatestDay(ctx context.Context, key record.SeriesKey, onOrBefore time.Time) (*record.ActivityDay, error) {
	sel := selectFrom(daysTable, dayColumns...).
		Where(entsql.And(seriesKeyPredicate(key), entsql.LTE("activity_date", record.FormatDate(onOrBefore)))).
		OrderBy(entsql.Desc("activity_date")).
		Limit(1)
	days, err := s.queryDays(ctx, sel)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, errors.Wrapf(record.ErrNotFound, "%s has no activity on or before %s", key, record.FormatDate(onOrBefore))
	}
	return days[0], nil
}

func (s *Store) MaxStreak(ctx context.Context, key record.SeriesKey) (int, error) {
	query, args := selectFrom(daysTable, "COALESCE(MAX(streak_days), 0)").Where(seriesKeyPredicate(key)).Query()
	var best int
	err := s.db.GetContext(ctx, &best, query, args...)
	return best, errors.Wrapf(err, "max streak of %s", key)
}

func (s *Store) SaveDays(ctx context.Context, created *record.ActivityDay, updated []*record.ActivityDay) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		query, args := builder().Insert(daysTable).
			Columns(dayColumns...).
			Values(created.ID, created.UserID, created.SeriesID, record.FormatDate(created.ActivityDate),
				boolInt(created.IsMakeup), created.MakeupCost, created.StreakDays,
				created.PointsEarned, created.Engagement, toNanos(created.CreatedAt)).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return errors.Wrapf(record.ErrAlreadyExists, "%s on %s", created.Key(), record.FormatDate(created.ActivityDate))
			}
			return errors.Wrap(err, "insert activity day")
		}

		for _, d := range updated {
			query, args := builder().Update(daysTable).
				Set("streak_days", d.StreakDays).
				Where(entsql.And(seriesKeyPredicate(d.Key()), entsql.EQ("activity_date", record.FormatDate(d.ActivityDate)))).
				Query()
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return errors.Wrapf(err, "update streak of %s on %s", d.Key(), record.FormatDate(d.ActivityDate))
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return errors.Wrapf(record.ErrNotFound, "%s on %s", d.Key(), record.FormatDate(d.ActivityDate))
			}
		}
		return nil
	})
}

func (s *Store) SeriesStats(ctx context.Context, key record.SeriesKey) (*record.SeriesStats, error) {
	query, args := selectFrom(daysTable,
		"COUNT(*) AS total_days",
		"COALESCE(SUM(points_earned), 0) AS total_points",
		"COALESCE(SUM(is_makeup), 0) AS makeup_count",
		"COALESCE(SUM(makeup_cost), 0) AS makeup_spent",
		"COALESCE(MAX(streak_days), 0) AS max_streak",
		"MIN(activity_date) AS first_date",
		"MAX(activity_date) AS last_date",
	).Where(seriesKeyPredicate(key)).Query()

	var row struct {
		TotalDays   int            `db:"total_days"`
		TotalPoints int            `db:"total_points"`
		MakeupCount int            `db:"makeup_count"`
		MakeupSpent int            `db:"makeup_spent"`
		MaxStreak   int            `db:"max_streak"`
		FirstDate   sql.NullString `db:"first_date"`
		LastDate    sql.NullString `db:"last_date"`
	}
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, errors.Wrapf(err, "stats of %s", key)
	}

	st := &record.SeriesStats{
		TotalDays:   row.TotalDays,
		TotalPoints: row.TotalPoints,
		MakeupCount: row.MakeupCount,
		MakeupSpent: row.MakeupSpent,
		MaxStreak:   row.MaxStreak,
	}
	if row.FirstDate.Valid {
		first, err := record.ParseDate(row.FirstDate.String)
		if err != nil {
			return nil, errors.Wrap(err, "first date")
		}
		last, err := record.ParseDate(row.LastDate.String)
		if err != nil {
			return nil, errors.Wrap(err, "last date")
		}
		st.FirstDate, st.LastDate = &first, &last
	}
	return st, nil
}

func (s *Store) queryDays(ctx context.Context, sel *entsql.Selector) ([]*record.ActivityDay, error) {
	query, args := sel.Query()
	var rows []dayRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "query activity days")
	}
	out := make([]*record.ActivityDay, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) SeriesTotals(ctx context.Context, seriesID string) ([]*record.SeriesTotal, error) {
	totalsQ := selectFrom(daysTable,
		"user_id",
		"COUNT(*) AS total_days",
		"COALESCE(SUM(points_earned), 0) AS total_points",
		"MAX(streak_days) AS max_streak",
		"MAX(activity_date) AS last_date",
	)
	// Earliest date per (user, streak value); the row matching the user's
	// maximum gives MaxStreakDate.
	reachedQ := selectFrom(daysTable, "user_id", "streak_days", "MIN(activity_date) AS reached")
	if seriesID != "" {
		totalsQ.Where(entsql.EQ("series_id", seriesID))
		reachedQ.Where(entsql.EQ("series_id", seriesID))
	}

	var rows []struct {
		UserID      string `db:"user_id"`
		TotalDays   int    `db:"total_days"`
		TotalPoints int    `db:"total_points"`
		MaxStreak   int    `db:"max_streak"`
		LastDate    string `db:"last_date"`
	}
	query, args := totalsQ.GroupBy("user_id").OrderBy(entsql.Asc("user_id")).Query()
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(err, "totals of series %q", seriesID)
	}

	var reached []struct {
		UserID     string `db:"user_id"`
		StreakDays int    `db:"streak_days"`
		Reached    string `db:"reached"`
	}
	query, args = reachedQ.GroupBy("user_id", "streak_days").Query()
	if err := s.db.SelectContext(ctx, &reached, query, args...); err != nil {
		return nil, errors.Wrapf(err, "streak dates of series %q", seriesID)
	}
	reachedAt := make(map[string]map[int]string, len(rows))
	for _, r := range reached {
		if reachedAt[r.UserID] == nil {
			reachedAt[r.UserID] = make(map[int]string)
		}
		reachedAt[r.UserID][r.StreakDays] = r.Reached
	}

	out := make([]*record.SeriesTotal, 0, len(rows))
	for _, r := range rows {
		last, err := record.ParseDate(r.LastDate)
		if err != nil {
			return nil, errors.Wrapf(err, "last date of %q", r.UserID)
		}
		best, err := record.ParseDate(reachedAt[r.UserID][r.MaxStreak])
		if err != nil {
			return nil, errors.Wrapf(err, "max streak date of %q", r.UserID)
		}
		out = append(out, &record.SeriesTotal{
			UserID:        r.UserID,
			TotalDays:     r.TotalDays,
			TotalPoints:   r.TotalPoints,
			MaxStreak:     r.MaxStreak,
			LastDate:      last,
			MaxStreakDate: best,
		})
	}
	return out, nil
}
