package store

import (
	"context"
	"database/sql"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/abhisek/cadence/internal/record"
)

const (
	challengesTable     = "challenges"
	participationsTable = "participations"
)

var challengeColumns = []string{"id", "title", "base_reward", "allow_empty_completion", "created_at"}

var participationColumns = []string{
	"id", "challenge_id", "user_id", "status",
	"current_score", "best_score", "score_reached_at", "best_score_at", "progress_count",
	"rank", "reward_points", "joined_at", "last_activity_at", "completed_at", "version",
}

type challengeRow struct {
	ID                   string `db:"id"`
	Title                string `db:"title"`
	BaseReward           int    `db:"base_reward"`
	AllowEmptyCompletion bool   `db:"allow_empty_completion"`
	CreatedAt            int64  `db:"created_at"`
}

func (r *challengeRow) toRecord() *record.Challenge {
	return &record.Challenge{
		ID:                   r.ID,
		Title:                r.Title,
		BaseReward:           r.BaseReward,
		AllowEmptyCompletion: r.AllowEmptyCompletion,
		CreatedAt:            fromNanos(r.CreatedAt),
	}
}

type participationRow struct {
	ID             string        `db:"id"`
	ChallengeID    string        `db:"challenge_id"`
	UserID         string        `db:"user_id"`
	Status         string        `db:"status"`
	CurrentScore   int           `db:"current_score"`
	BestScore      int           `db:"best_score"`
	ScoreReachedAt int64         `db:"score_reached_at"`
	BestScoreAt    int64         `db:"best_score_at"`
	ProgressCount  int           `db:"progress_count"`
	Rank           sql.NullInt64 `db:"rank"`
	RewardPoints   int           `db:"reward_points"`
	JoinedAt       int64         `db:"joined_at"`
	LastActivityAt int64         `db:"last_activity_at"`
	CompletedAt    sql.NullInt64 `db:"completed_at"`
	Version        int64         `db:"version"`
}

func (r *participationRow) toRecord() *record.Participation {
	p := &record.Participation{
		ID:             r.ID,
		ChallengeID:    r.ChallengeID,
		UserID:         r.UserID,
		Status:         record.ParticipationStatus(r.Status),
		CurrentScore:   r.CurrentScore,
		BestScore:      r.BestScore,
		ScoreReachedAt: fromNanos(r.ScoreReachedAt),
		BestScoreAt:    fromNanos(r.BestScoreAt),
		ProgressCount:  r.ProgressCount,
		RewardPoints:   r.RewardPoints,
		JoinedAt:       fromNanos(r.JoinedAt),
		LastActivityAt: fromNanos(r.LastActivityAt),
		CompletedAt:    fromNullNanos(r.CompletedAt),
		Version:        r.Version,
	}
	if r.Rank.Valid {
		rank := int(r.Rank.Int64)
		p.Rank = &rank
	}
	return p
}

func (s *Store) GetChallenge(ctx context.Context, id string) (*record.Challenge, error) {
	query, args := selectFrom(challengesTable, challengeColumns...).Where(entsql.EQ("id", id)).Query()
	var row challengeRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(record.ErrNotFound, "challenge %q", id)
		}
		return nil, errors.Wrapf(err, "get challenge %q", id)
	}
	return row.toRecord(), nil
}

func (s *Store) PutChallenge(ctx context.Context, c *record.Challenge) error {
	query, args := builder().Insert(challengesTable).
		Columns(challengeColumns...).
		Values(c.ID, c.Title, c.BaseReward, boolInt(c.AllowEmptyCompletion), toNanos(c.CreatedAt)).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
		Query()
	_, err := s.db.ExecContext(ctx, query, args...)
	return errors.Wrapf(err, "put challenge %q", c.ID)
}

func (s *Store) ListChallenges(ctx context.Context) ([]*record.Challenge, error) {
	query, args := selectFrom(challengesTable, challengeColumns...).OrderBy(entsql.Asc("id")).Query()
	var rows []challengeRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "list challenges")
	}
	out := make([]*record.Challenge, len(rows))
	for i := range rows {
		out[i] = rows[i].toRecord()
	}
	return out, nil
}

func participationKeyPredicate(key record.ParticipationKey) *entsql.Predicate {
	return entsql.And(entsql.EQ("challenge_id", key.ChallengeID), entsql.EQ("user_id", key.UserID))
}

func (s *Store) GetParticipation(ctx context.Context, key record.ParticipationKey) (*record.Participation, error) {
	query, args := selectFrom(participationsTable, participationColumns...).Where(participationKeyPredicate(key)).Query()
	var row participationRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(record.ErrNotFound, "%s", key)
		}
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return row.toRecord(), nil
}

func (s *Store) PutParticipation(ctx context.Context, p *record.Participation) error {
	key := p.Key()
	next := p.Version + 1
	rank := sql.NullInt64{}
	if p.Rank != nil {
		rank = sql.NullInt64{Int64: int64(*p.Rank), Valid: true}
	}
	values := []any{
		p.ID, p.ChallengeID, p.UserID, string(p.Status),
		p.CurrentScore, p.BestScore, toNanos(p.ScoreReachedAt), toNanos(p.BestScoreAt), p.ProgressCount,
		rank, p.RewardPoints, toNanos(p.JoinedAt), toNanos(p.LastActivityAt), nullNanos(p.CompletedAt), next,
	}

	if p.Version == 0 {
		query, args := builder().Insert(participationsTable).Columns(participationColumns...).Values(values...).Query()
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			if isUniqueViolation(err) {
				return errors.Wrapf(record.ErrAlreadyExists, "%s", key)
			}
			return errors.Wrapf(err, "insert %s", key)
		}
		p.Version = next
		return nil
	}

	// Identity columns and the job-owned rank are never rewritten here.
	upd := builder().Update(participationsTable)
	for i, col := range participationColumns {
		switch col {
		case "id", "challenge_id", "user_id", "rank":
			continue
		}
		upd.Set(col, values[i])
	}
	query, args := upd.Where(entsql.And(participationKeyPredicate(key), entsql.EQ("version", p.Version))).Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update %s", key)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(record.ErrConcurrentModification, "%s is not at version %d", key, p.Version)
	}
	p.Version = next
	return nil
}

func (s *Store) ListParticipations(ctx context.Context, challengeID string) ([]*record.Participation, error) {
	query, args := selectFrom(participationsTable, participationColumns...).
		Where(entsql.EQ("challenge_id", challengeID)).
		OrderBy(entsql.Asc("user_id")).
		Query()
	var rows []participationRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(err, "list participations of %q", challengeID)
	}
	out := make([]*record.Participation, len(rows))
	for i := range rows {
		out[i] = rows[i].toRecord()
	}
	return out, nil
}

func (s *Store) SetRanks(ctx context.Context, challengeID string, ranks map[string]int) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		query, args := builder().Update(participationsTable).
			SetNull("rank").
			Where(entsql.EQ("challenge_id", challengeID)).
			Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrapf(err, "clear ranks of %q", challengeID)
		}
		for id, rank := range ranks {
			query, args := builder().Update(participationsTable).
				Set("rank", rank).
				Where(entsql.And(entsql.EQ("id", id), entsql.EQ("challenge_id", challengeID))).
				Query()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return errors.Wrapf(err, "set rank of %s", id)
			}
		}
		return nil
	})
}
