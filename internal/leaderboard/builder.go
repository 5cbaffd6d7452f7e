// Package leaderboard ranks challenge participations.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/abhisek/cadence/internal/record"
)

// Mode selects which score a leaderboard ranks.
type Mode string

const (
	// ModeLive ranks current scores of everyone still in the challenge.
	ModeLive Mode = "live"
	// ModeCompleted ranks best scores of completed participations.
	ModeCompleted Mode = "completed"
)

// ParseMode converts a flag value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLive, ModeCompleted:
		return Mode(s), nil
	case "":
		return ModeLive, nil
	}
	return "", fmt.Errorf("unknown leaderboard mode %q", s)
}

// Options configures BuildLeaderboard.
type Options struct {
	Mode  Mode
	Limit int // entries returned after ranking; <= 0 means all
}

// Entry is one row of a leaderboard.
type Entry struct {
	Rank            int
	ParticipationID string
	UserID          string
	Score           int
	ReachedAt       time.Time
	Status          record.ParticipationStatus
}

// cancelCheckEvery is how many participations are processed between
// context checks.
const cancelCheckEvery = 64

// BuildLeaderboard ranks a snapshot of participations.
//
// Entries are ordered by score descending. Equal scores are ordered by who
// reached the score first, then by user id, and share a rank. Ranks are
// dense: [50, 50, 40] ranks as [1, 1, 2].
func BuildLeaderboard(ctx context.Context, participations []*record.Participation, opts Options) ([]Entry, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeLive
	}

	entries := make([]Entry, 0, len(participations))
	for i, p := range participations {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		e, ok := entryFor(p, mode)
		if ok {
			entries = append(entries, e)
		}
	}

	return rank(ctx, entries, opts.Limit)
}

// rank orders entries by score descending, then by who reached the score
// first, then by user id, and assigns dense ranks. limit applies after
// ranking.
func rank(ctx context.Context, entries []Entry, limit int) ([]Entry, error) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.ReachedAt.Equal(b.ReachedAt) {
			return a.ReachedAt.Before(b.ReachedAt)
		}
		return a.UserID < b.UserID
	})

	r := 0
	for i := range entries {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if i == 0 || entries[i].Score != entries[i-1].Score {
			r++
		}
		entries[i].Rank = r
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func entryFor(p *record.Participation, mode Mode) (Entry, bool) {
	e := Entry{ParticipationID: p.ID, UserID: p.UserID, Status: p.Status}
	switch mode {
	case ModeCompleted:
		if p.Status != record.StatusCompleted {
			return e, false
		}
		e.Score, e.ReachedAt = p.BestScore, p.BestScoreAt
	default:
		if p.Status == record.StatusAbandoned {
			return e, false
		}
		e.Score, e.ReachedAt = p.CurrentScore, p.ScoreReachedAt
	}
	return e, true
}

// Ranks maps participation ids to their rank.
func Ranks(entries []Entry) map[string]int {
	out := make(map[string]int, len(entries))
	for _, e := range entries {
		out[e.ParticipationID] = e.Rank
	}
	return out
}
