package store

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/pkg/errors"

	"github.com/abhisek/cadence/internal/record"
)

const attemptsTable = "attempt_events"

type attemptRow struct {
	ID           int64  `db:"id"`
	UserID       string `db:"user_id"`
	ItemID       string `db:"item_id"`
	Correct      bool   `db:"correct"`
	TimeSpentMs  int64  `db:"time_spent_ms"`
	MasteryFrom  string `db:"mastery_from"`
	MasteryTo    string `db:"mastery_to"`
	IntervalDays int    `db:"interval_days"`
	StreakDays   int    `db:"streak_days"`
	Points       int    `db:"points"`
	CreatedAt    int64  `db:"created_at"`
}

func (s *Store) AppendAttempt(ctx context.Context, ev *record.AttemptEvent) error {
	query, args := builder().Insert(attemptsTable).
		Columns("user_id", "item_id", "correct", "time_spent_ms", "mastery_from", "mastery_to",
			"interval_days", "streak_days", "points", "created_at").
		Values(ev.UserID, ev.ItemID, boolInt(ev.Correct), ev.TimeSpent.Milliseconds(),
			string(ev.MasteryFrom), string(ev.MasteryTo), ev.IntervalDays, ev.StreakDays,
			ev.Points, toNanos(ev.CreatedAt)).
		Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "append attempt")
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// ListAttempts returns the user's attempts, newest first.
func (s *Store) ListAttempts(ctx context.Context, userID string, limit int) ([]*record.AttemptEvent, error) {
	sel := selectFrom(attemptsTable,
		"id", "user_id", "item_id", "correct", "time_spent_ms", "mastery_from", "mastery_to",
		"interval_days", "streak_days", "points", "created_at").
		Where(entsql.EQ("user_id", userID)).
		OrderBy(entsql.Desc("id"))
	if limit > 0 {
		sel.Limit(limit)
	}
	query, args := sel.Query()

	var rows []attemptRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(err, "list attempts of %q", userID)
	}
	out := make([]*record.AttemptEvent, len(rows))
	for i, r := range rows {
		out[i] = &record.AttemptEvent{
			ID:           r.ID,
			UserID:       r.UserID,
			ItemID:       r.ItemID,
			Correct:      r.Correct,
			TimeSpent:    time.Duration(r.TimeSpentMs) * time.Millisecond,
			MasteryFrom:  record.MasteryLevel(r.MasteryFrom),
			MasteryTo:    record.MasteryLevel(r.MasteryTo),
			IntervalDays: r.IntervalDays,
			StreakDays:   r.StreakDays,
			Points:       r.Points,
			CreatedAt:    fromNanos(r.CreatedAt),
		}
	}
	return out, nil
}
