package tracker

import (
	"context"
	"time"
)

// Interval is an immutable, completed span of recorded activity. Timestamps
// are stored UTC-normalized; Start is strictly before End.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the interval's length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Overlap returns the portion of the interval that falls inside [from, to).
func (iv Interval) Overlap(from, to time.Time) time.Duration {
	start := iv.Start
	if from.After(start) {
		start = from
	}
	end := iv.End
	if to.Before(end) {
		end = to
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}

// Session is a user's currently open, not-yet-closed activity span. Meta is
// display metadata owned by the transport layer; the tracker persists it
// verbatim and never interprets it.
type Session struct {
	UserID string            `json:"user_id"`
	Start  time.Time         `json:"start"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// Elapsed returns the time spent in the session as of now.
func (s Session) Elapsed(now time.Time) time.Duration {
	if now.Before(s.Start) {
		return 0
	}
	return now.Sub(s.Start)
}

// Snapshot is the durable state of the tracker: closed intervals and open
// sessions keyed by user, plus per-user auto-track flags.
type Snapshot struct {
	Closed    map[string][]Interval
	Open      map[string]Session
	AutoTrack map[string]bool
}

// RosterRow is one user's aggregate over a weekly window.
type RosterRow struct {
	UserID string
	PerDay [7]time.Duration
	Total  time.Duration
}

// Notifier is the outward chat-transport boundary. Calls are fire-and-forget:
// failures are logged by the tracker and retried on later cycles, never
// surfaced to the command path.
type Notifier interface {
	// SessionOpened announces a newly opened session. The transport keeps
	// any display handle it creates; handles are not persisted.
	SessionOpened(ctx context.Context, s Session) error

	// SessionClosed announces a closed session. admitted reports whether the
	// interval met the minimum duration and was recorded.
	SessionClosed(ctx context.Context, s Session, iv Interval, admitted bool) error

	// SessionRefreshed updates the live display for an open session. The
	// transport reconstructs a missing display handle lazily, e.g. after a
	// restart.
	SessionRefreshed(ctx context.Context, s Session, now time.Time) error
}

// Persister is the durable snapshot boundary. A Load with no prior snapshot
// returns an empty Snapshot, not an error.
type Persister interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}
