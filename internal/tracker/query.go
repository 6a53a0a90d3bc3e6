package tracker

import (
	"sort"
	"time"
)

// SumRange returns the user's total recorded time inside [from, to). An open
// session contributes its overlap as a virtual interval [start, now), so
// "time spent today" is accurate to the query instant without a write.
func (t *Tracker) SumRange(userID string, from, to, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sumRangeLocked(userID, from, to, now)
}

func (t *Tracker) sumRangeLocked(userID string, from, to, now time.Time) time.Duration {
	var total time.Duration
	for _, iv := range t.closed[userID] {
		total += iv.Overlap(from, to)
	}
	if s, ok := t.open[userID]; ok && now.After(s.Start) {
		live := Interval{Start: s.Start, End: now.UTC()}
		total += live.Overlap(from, to)
	}
	return total
}

// Roster aggregates all users over the weekly window [from, to), broken down
// into seven per-day buckets starting at from. Users with zero activity are
// omitted; rows are sorted by total descending, then by user ID for
// determinism.
func (t *Tracker) Roster(from, to, now time.Time) []RosterRow {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := make(map[string]struct{}, len(t.closed)+len(t.open))
	for uid := range t.closed {
		users[uid] = struct{}{}
	}
	for uid := range t.open {
		users[uid] = struct{}{}
	}

	rows := make([]RosterRow, 0, len(users))
	for uid := range users {
		row := RosterRow{UserID: uid}
		dayStart := from
		for i := 0; i < 7; i++ {
			dayEnd := dayStart.AddDate(0, 0, 1)
			if dayEnd.After(to) {
				dayEnd = to
			}
			row.PerDay[i] = t.sumRangeLocked(uid, dayStart, dayEnd, now)
			row.Total += row.PerDay[i]
			dayStart = dayEnd
		}
		if row.Total > 0 {
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Total != rows[j].Total {
			return rows[i].Total > rows[j].Total
		}
		return rows[i].UserID < rows[j].UserID
	})
	return rows
}

// OpenSession returns the user's open session, if any.
func (t *Tracker) OpenSession(userID string) (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.open[userID]
	return s, ok
}

// OpenSessions returns all open sessions, sorted by start time.
func (t *Tracker) OpenSessions() []Session {
	t.mu.Lock()
	sessions := make([]Session, 0, len(t.open))
	for _, s := range t.open {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].Start.Equal(sessions[j].Start) {
			return sessions[i].Start.Before(sessions[j].Start)
		}
		return sessions[i].UserID < sessions[j].UserID
	})
	return sessions
}
