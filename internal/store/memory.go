package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/abhisek/cadence/internal/record"
)

// Memory is an in-process implementation of every record store. It holds
// copies, never the caller's pointers, and follows the same versioning and
// uniqueness contracts as the SQLite store.
type Memory struct {
	mu sync.Mutex

	items          map[record.ItemKey]*record.LearningItem
	series         map[string]*record.Series
	days           map[record.SeriesKey]map[string]*record.ActivityDay
	challenges     map[string]*record.Challenge
	participations map[record.ParticipationKey]*record.Participation
	attempts       []*record.AttemptEvent
}

var (
	_ record.ItemStore      = (*Memory)(nil)
	_ record.ActivityStore  = (*Memory)(nil)
	_ record.ChallengeStore = (*Memory)(nil)
	_ record.AttemptLog     = (*Memory)(nil)
)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		items:          make(map[record.ItemKey]*record.LearningItem),
		series:         make(map[string]*record.Series),
		days:           make(map[record.SeriesKey]map[string]*record.ActivityDay),
		challenges:     make(map[string]*record.Challenge),
		participations: make(map[record.ParticipationKey]*record.Participation),
	}
}

func (m *Memory) GetItem(_ context.Context, key record.ItemKey) (*record.LearningItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, errors.Wrapf(record.ErrNotFound, "item %s", key)
	}
	return it.Clone(), nil
}

func (m *Memory) PutItem(_ context.Context, item *record.LearningItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := item.Key()
	cur, ok := m.items[key]
	switch {
	case !ok && item.Version != 0:
		return errors.Wrapf(record.ErrConcurrentModification, "item %s was deleted", key)
	case ok && cur.Version != item.Version:
		return errors.Wrapf(record.ErrConcurrentModification, "item %s version %d, have %d", key, cur.Version, item.Version)
	}
	item.Version++
	m.items[key] = item.Clone()
	return nil
}

func (m *Memory) DeleteItem(_ context.Context, key record.ItemKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[key]; !ok {
		return errors.Wrapf(record.ErrNotFound, "item %s", key)
	}
	delete(m.items, key)
	return nil
}

func (m *Memory) DueItems(_ context.Context, userID string, now time.Time, limit int) ([]*record.LearningItem, error) {
	m.mu.Lock()
	var due []*record.LearningItem
	for k, it := range m.items {
		if k.UserID == userID && it.IsDue(now) {
			due = append(due, it.Clone())
		}
	}
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].NextReviewAt, due[j].NextReviewAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return due[i].ItemID < due[j].ItemID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) ListItems(_ context.Context, userID string) ([]*record.LearningItem, error) {
	m.mu.Lock()
	var out []*record.LearningItem
	for k, it := range m.items {
		if k.UserID == userID {
			out = append(out, it.Clone())
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

func (m *Memory) GetSeries(_ context.Context, id string) (*record.Series, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.series[id]
	if !ok {
		return nil, errors.Wrapf(record.ErrNotFound, "series %q", id)
	}
	c := *s
	return &c, nil
}

func (m *Memory) PutSeries(_ context.Context, s *record.Series) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.series[s.ID] = &c
	return nil
}

func (m *Memory) GetDay(_ context.Context, key record.SeriesKey, date time.Time) (*record.ActivityDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.days[key][record.FormatDate(date)]
	if !ok {
		return nil, errors.Wrapf(record.ErrNotFound, "%s on %s", key, record.FormatDate(date))
	}
	c := *d
	return &c, nil
}

// sortedDays returns copies of key's records in date order. Caller holds mu.
func (m *Memory) sortedDays(key record.SeriesKey) []*record.ActivityDay {
	out := make([]*record.ActivityDay, 0, len(m.days[key]))
	for _, d := range m.days[key] {
		c := *d
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivityDate.Before(out[j].ActivityDate) })
	return out
}

func (m *Memory) RangeQuery(_ context.Context, key record.SeriesKey, r record.DateRange) ([]*record.ActivityDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*record.ActivityDay
	for _, d := range m.sortedDays(key) {
		if r.Contains(d.ActivityDate) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) LatestDay(_ context.Context, key record.SeriesKey, onOrBefore time.Time) (*record.ActivityDay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := record.Day(onOrBefore)
	days := m.sortedDays(key)
	for i := len(days) - 1; i >= 0; i-- {
		if !days[i].ActivityDate.After(limit) {
			return days[i], nil
		}
	}
	return nil, errors.Wrapf(record.ErrNotFound, "%s has no activity on or before %s", key, record.FormatDate(limit))
}

func (m *Memory) MaxStreak(_ context.Context, key record.SeriesKey) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := 0
	for _, d := range m.days[key] {
		best = max(best, d.StreakDays)
	}
	return best, nil
}

func (m *Memory) SaveDays(_ context.Context, created *record.ActivityDay, updated []*record.ActivityDay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := created.Key()
	date := record.FormatDate(created.ActivityDate)
	if _, dup := m.days[key][date]; dup {
		return errors.Wrapf(record.ErrAlreadyExists, "%s on %s", key, date)
	}
	for _, u := range updated {
		if _, ok := m.days[u.Key()][record.FormatDate(u.ActivityDate)]; !ok {
			return errors.Wrapf(record.ErrNotFound, "%s on %s", u.Key(), record.FormatDate(u.ActivityDate))
		}
	}

	if m.days[key] == nil {
		m.days[key] = make(map[string]*record.ActivityDay)
	}
	c := *created
	m.days[key][date] = &c
	for _, u := range updated {
		m.days[u.Key()][record.FormatDate(u.ActivityDate)].StreakDays = u.StreakDays
	}
	return nil
}

func (m *Memory) SeriesStats(_ context.Context, key record.SeriesKey) (*record.SeriesStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &record.SeriesStats{}
	days := m.sortedDays(key)
	for _, d := range days {
		st.TotalDays++
		st.TotalPoints += d.PointsEarned
		st.MaxStreak = max(st.MaxStreak, d.StreakDays)
		if d.IsMakeup {
			st.MakeupCount++
			st.MakeupSpent += d.MakeupCost
		}
	}
	if len(days) > 0 {
		first, last := days[0].ActivityDate, days[len(days)-1].ActivityDate
		st.FirstDate, st.LastDate = &first, &last
	}
	return st, nil
}

func (m *Memory) SeriesTotals(_ context.Context, seriesID string) ([]*record.SeriesTotal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser := make(map[string]*record.SeriesTotal)
	for key := range m.days {
		if seriesID != "" && key.SeriesID != seriesID {
			continue
		}
		for _, d := range m.sortedDays(key) {
			t := byUser[key.UserID]
			if t == nil {
				t = &record.SeriesTotal{UserID: key.UserID}
				byUser[key.UserID] = t
			}
			t.TotalDays++
			t.TotalPoints += d.PointsEarned
			if d.ActivityDate.After(t.LastDate) {
				t.LastDate = d.ActivityDate
			}
			switch {
			case d.StreakDays > t.MaxStreak:
				t.MaxStreak, t.MaxStreakDate = d.StreakDays, d.ActivityDate
			case d.StreakDays == t.MaxStreak && d.ActivityDate.Before(t.MaxStreakDate):
				t.MaxStreakDate = d.ActivityDate
			}
		}
	}

	out := make([]*record.SeriesTotal, 0, len(byUser))
	for _, t := range byUser {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) GetChallenge(_ context.Context, id string) (*record.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok {
		return nil, errors.Wrapf(record.ErrNotFound, "challenge %q", id)
	}
	cc := *c
	return &cc, nil
}

func (m *Memory) PutChallenge(_ context.Context, c *record.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cc := *c
	m.challenges[c.ID] = &cc
	return nil
}

func (m *Memory) ListChallenges(_ context.Context) ([]*record.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*record.Challenge, 0, len(m.challenges))
	for _, c := range m.challenges {
		cc := *c
		out = append(out, &cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetParticipation(_ context.Context, key record.ParticipationKey) (*record.Participation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participations[key]
	if !ok {
		return nil, errors.Wrapf(record.ErrNotFound, "%s", key)
	}
	return p.Clone(), nil
}

func (m *Memory) PutParticipation(_ context.Context, p *record.Participation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := p.Key()
	cur, ok := m.participations[key]
	switch {
	case ok && p.Version == 0:
		return errors.Wrapf(record.ErrAlreadyExists, "%s", key)
	case !ok && p.Version != 0:
		return errors.Wrapf(record.ErrConcurrentModification, "%s was deleted", key)
	case ok && cur.Version != p.Version:
		return errors.Wrapf(record.ErrConcurrentModification, "%s version %d, have %d", key, cur.Version, p.Version)
	}
	p.Version++
	stored := p.Clone()
	if ok {
		// Rank belongs to the ranking job.
		stored.Rank = cur.Rank
	}
	m.participations[key] = stored
	return nil
}

func (m *Memory) ListParticipations(_ context.Context, challengeID string) ([]*record.Participation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*record.Participation
	for k, p := range m.participations {
		if k.ChallengeID == challengeID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) SetRanks(_ context.Context, challengeID string, ranks map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, p := range m.participations {
		if k.ChallengeID != challengeID {
			continue
		}
		if r, ok := ranks[p.ID]; ok {
			p.Rank = &r
		} else {
			p.Rank = nil
		}
	}
	return nil
}

func (m *Memory) AppendAttempt(_ context.Context, ev *record.AttemptEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.attempts) + 1)
	c := *ev
	m.attempts = append(m.attempts, &c)
	return nil
}

func (m *Memory) ListAttempts(_ context.Context, userID string, limit int) ([]*record.AttemptEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*record.AttemptEvent
	for i := len(m.attempts) - 1; i >= 0; i-- {
		if m.attempts[i].UserID != userID {
			continue
		}
		c := *m.attempts[i]
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DeleteUser removes every record owned by userID.
func (m *Memory) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.items {
		if k.UserID == userID {
			delete(m.items, k)
		}
	}
	for k := range m.days {
		if k.UserID == userID {
			delete(m.days, k)
		}
	}
	for k := range m.participations {
		if k.UserID == userID {
			delete(m.participations, k)
		}
	}
	kept := m.attempts[:0]
	for _, a := range m.attempts {
		if a.UserID != userID {
			kept = append(kept, a)
		}
	}
	m.attempts = kept
	return nil
}
