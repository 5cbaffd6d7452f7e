package store

import (
	"context"
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/pkg/errors"

	"github.com/abhisek/cadence/internal/record"
)

const itemsTable = "learning_items"

var itemColumns = []string{
	"user_id", "item_id", "mastery_level",
	"study_count", "correct_count", "wrong_count", "time_spent_ms",
	"review_interval_days", "ease_factor", "repetition_count",
	"next_review_at", "last_reviewed_at", "first_learned_at",
	"created_at", "version",
}

type itemRow struct {
	UserID             string        `db:"user_id"`
	ItemID             string        `db:"item_id"`
	MasteryLevel       string        `db:"mastery_level"`
	StudyCount         int           `db:"study_count"`
	CorrectCount       int           `db:"correct_count"`
	WrongCount         int           `db:"wrong_count"`
	TimeSpentMs        int64         `db:"time_spent_ms"`
	ReviewIntervalDays int           `db:"review_interval_days"`
	EaseFactor         float64       `db:"ease_factor"`
	RepetitionCount    int           `db:"repetition_count"`
	NextReviewAt       sql.NullInt64 `db:"next_review_at"`
	LastReviewedAt     sql.NullInt64 `db:"last_reviewed_at"`
	FirstLearnedAt     sql.NullInt64 `db:"first_learned_at"`
	CreatedAt          int64         `db:"created_at"`
	Version            int64         `db:"version"`
}

func (r *itemRow) toRecord() *record.LearningItem {
	return &record.LearningItem{
		UserID:             r.UserID,
		ItemID:             r.ItemID,
		MasteryLevel:       record.MasteryLevel(r.MasteryLevel),
		StudyCount:         r.StudyCount,
		CorrectCount:       r.CorrectCount,
		WrongCount:         r.WrongCount,
		TimeSpent:          time.Duration(r.TimeSpentMs) * time.Millisecond,
		ReviewIntervalDays: r.ReviewIntervalDays,
		EaseFactor:         r.EaseFactor,
		RepetitionCount:    r.RepetitionCount,
		NextReviewAt:       fromNullNanos(r.NextReviewAt),
		LastReviewedAt:     fromNullNanos(r.LastReviewedAt),
		FirstLearnedAt:     fromNullNanos(r.FirstLearnedAt),
		CreatedAt:          fromNanos(r.CreatedAt),
		Version:            r.Version,
	}
}

func selectFrom(table string, columns ...string) *entsql.Selector {
	b := builder()
	return b.Select(columns...).From(b.Table(table))
}

func itemKeyPredicate(key record.ItemKey) *entsql.Predicate {
	return entsql.And(entsql.EQ("user_id", key.UserID), entsql.EQ("item_id", key.ItemID))
}

func (s *Store) GetItem(ctx context.Context, key record.ItemKey) (*record.LearningItem, error) {
	query, args := selectFrom(itemsTable, itemColumns...).Where(itemKeyPredicate(key)).Query()
	var row itemRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(record.ErrNotFound, "item %s", key)
		}
		return nil, errors.Wrapf(err, "get item %s", key)
	}
	return row.toRecord(), nil
}

func (s *Store) PutItem(ctx context.Context, item *record.LearningItem) error {
	key := item.Key()
	if err := checkStorable(item.NextReviewAt, item.LastReviewedAt, item.FirstLearnedAt, &item.CreatedAt); err != nil {
		return errors.Wrapf(err, "item %s", key)
	}
	next := item.Version + 1
	values := []any{
		item.UserID, item.ItemID, string(item.MasteryLevel),
		item.StudyCount, item.CorrectCount, item.WrongCount, item.TimeSpent.Milliseconds(),
		item.ReviewIntervalDays, item.EaseFactor, item.RepetitionCount,
		nullNanos(item.NextReviewAt), nullNanos(item.LastReviewedAt), nullNanos(item.FirstLearnedAt),
		toNanos(item.CreatedAt), next,
	}

	if item.Version == 0 {
		query, args := builder().Insert(itemsTable).Columns(itemColumns...).Values(values...).Query()
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return errors.Wrapf(record.ErrConcurrentModification, "item %s inserted concurrently", key)
			}
			return errors.Wrapf(err, "insert item %s", key)
		}
		item.Version = next
		return nil
	}

	upd := builder().Update(itemsTable)
	for i, col := range itemColumns[2:] {
		upd.Set(col, values[i+2])
	}
	query, args := upd.Where(entsql.And(itemKeyPredicate(key), entsql.EQ("version", item.Version))).Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update item %s", key)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(record.ErrConcurrentModification, "item %s is not at version %d", key, item.Version)
	}
	item.Version = next
	return nil
}

func (s *Store) DeleteItem(ctx context.Context, key record.ItemKey) error {
	query, args := builder().Delete(itemsTable).Where(itemKeyPredicate(key)).Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "delete item %s", key)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(record.ErrNotFound, "item %s", key)
	}
	return nil
}

// DueItems relies on SQLite ordering NULL before any value in ascending
// order, which puts never-scheduled items first.
func (s *Store) DueItems(ctx context.Context, userID string, now time.Time, limit int) ([]*record.LearningItem, error) {
	sel := selectFrom(itemsTable, itemColumns...).
		Where(entsql.And(
			entsql.EQ("user_id", userID),
			entsql.NEQ("mastery_level", string(record.LevelExpert)),
			entsql.Or(entsql.IsNull("next_review_at"), entsql.LTE("next_review_at", toNanos(now))),
		)).
		OrderBy(entsql.Asc("next_review_at"), entsql.Asc("item_id"))
	if limit > 0 {
		sel.Limit(limit)
	}
	return s.queryItems(ctx, sel)
}

func (s *Store) ListItems(ctx context.Context, userID string) ([]*record.LearningItem, error) {
	sel := selectFrom(itemsTable, itemColumns...).
		Where(entsql.EQ("user_id", userID)).
		OrderBy(entsql.Asc("item_id"))
	return s.queryItems(ctx, sel)
}

func (s *Store) queryItems(ctx context.Context, sel *entsql.Selector) ([]*record.LearningItem, error) {
	query, args := sel.Query()
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "query items")
	}
	out := make([]*record.LearningItem, len(rows))
	for i := range rows {
		out[i] = rows[i].toRecord()
	}
	return out, nil
}
