// Package tracker owns the per-user session state: the lifecycle state
// machine, the interval store with its overlap aggregation, and the retention
// pruner. All reads and mutations are serialized through one mutex; external
// I/O (snapshot writes, chat notifications) is dispatched on background
// goroutines after the in-memory mutation commits, so a slow store or
// transport never stalls a command.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/studyhall/attendance/internal/calendar"
	"github.com/studyhall/attendance/internal/metrics"
	"github.com/studyhall/attendance/internal/retry"
)

// Config holds tracker policy values.
type Config struct {
	// MinSessionDuration is the admission threshold: sessions shorter than
	// this are discarded on close instead of being recorded.
	MinSessionDuration time.Duration

	// RetentionWeeks controls the rolling retention horizon.
	RetentionWeeks int

	// PruneWeekday/PruneHour/PruneMinute define the local wall-clock moment
	// at which the weekly pruning pass fires.
	PruneWeekday time.Weekday
	PruneHour    int
	PruneMinute  int
}

// DefaultConfig mirrors the historical policy: 60 second admission floor,
// three week retention, pruning on Tuesday 04:00.
func DefaultConfig() Config {
	return Config{
		MinSessionDuration: 60 * time.Second,
		RetentionWeeks:     3,
		PruneWeekday:       time.Tuesday,
		PruneHour:          4,
		PruneMinute:        0,
	}
}

// Tracker is the single owner of the open-session and closed-session tables.
type Tracker struct {
	mu        sync.Mutex
	open      map[string]Session
	closed    map[string][]Interval
	autoTrack map[string]bool // absent means enabled

	lastPruneDay string // local date key of the last executed prune

	// Post-commit I/O runs on goroutines tracked by io. Each snapshot carries
	// a generation number; saveMu serializes store writes and savedGen keeps a
	// stale snapshot from overwriting a newer one.
	io       sync.WaitGroup
	saveMu   sync.Mutex
	savedGen uint64 // guarded by saveMu
	snapGen  uint64 // guarded by mu

	cfg       Config
	cal       *calendar.Calendar
	persister Persister
	notifier  Notifier
	metrics   *metrics.Metrics
	retryCfg  retry.Config
	logger    zerolog.Logger
}

// New creates a Tracker with empty state. Call Restore to load the persisted
// snapshot before serving traffic.
func New(cfg Config, cal *calendar.Calendar, persister Persister, notifier Notifier, m *metrics.Metrics, logger zerolog.Logger) *Tracker {
	return &Tracker{
		open:      make(map[string]Session),
		closed:    make(map[string][]Interval),
		autoTrack: make(map[string]bool),
		cfg:       cfg,
		cal:       cal,
		persister: persister,
		notifier:  notifier,
		metrics:   m,
		retryCfg:  retry.DefaultConfig(),
		logger:    logger.With().Str("component", "tracker").Logger(),
	}
}

// Restore loads the persisted snapshot. A missing or corrupt snapshot is not
// fatal: the tracker starts from the recoverable subset (or empty state).
// Reloaded open sessions keep their original start; their display handles are
// rebuilt lazily by the transport on the next refresh cycle.
func (t *Tracker) Restore(ctx context.Context) {
	snap, err := t.persister.Load(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("snapshot load failed, starting empty")
		if t.metrics != nil {
			t.metrics.RecordError("tracker", "snapshot_load")
		}
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if snap.Open != nil {
		t.open = snap.Open
	}
	if snap.Closed != nil {
		t.closed = snap.Closed
	}
	if snap.AutoTrack != nil {
		t.autoTrack = snap.AutoTrack
	}
	if t.metrics != nil {
		t.metrics.OpenSessions.Set(float64(len(t.open)))
	}
	t.logger.Info().
		Int("open_sessions", len(t.open)).
		Int("users_with_history", len(t.closed)).
		Msg("state restored from snapshot")
}

// Start opens a session for the user at now. It is a no-op when the user
// already has an open session (idempotent start) or has auto-tracking
// disabled. Returns true if a session was opened.
func (t *Tracker) Start(ctx context.Context, userID string, now time.Time, meta map[string]string) bool {
	t.mu.Lock()
	if _, exists := t.open[userID]; exists {
		t.mu.Unlock()
		return false
	}
	if !t.autoTrackLocked(userID) {
		t.mu.Unlock()
		t.logger.Debug().Str("user", userID).Msg("auto-track disabled, skipping open")
		return false
	}

	s := Session{UserID: userID, Start: now.UTC(), Meta: meta}
	t.open[userID] = s
	snap, gen := t.snapshotLocked()
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.SessionsOpened.Inc()
		t.metrics.OpenSessions.Set(float64(len(snap.Open)))
	}
	t.logger.Info().Str("user", userID).Time("start", s.Start).Msg("session opened")

	var notify func(context.Context) error
	if t.notifier != nil {
		notify = func(ctx context.Context) error { return t.notifier.SessionOpened(ctx, s) }
	}
	t.commitIO(userID, "opened", snap, gen, notify)
	return true
}

// Stop closes the user's open session at now. It is a no-op when the user has
// no open session (wasOpen false). The interval is recorded only if it meets
// the admission threshold; either way the open session is removed and state
// is persisted.
func (t *Tracker) Stop(ctx context.Context, userID string, now time.Time, reason string) (iv Interval, admitted, wasOpen bool) {
	t.mu.Lock()
	s, exists := t.open[userID]
	if !exists {
		t.mu.Unlock()
		return Interval{}, false, false
	}
	delete(t.open, userID)

	iv = Interval{Start: s.Start, End: now.UTC()}
	admitted = iv.Duration() >= t.cfg.MinSessionDuration
	if admitted {
		t.closed[userID] = append(t.closed[userID], iv)
	}
	snap, gen := t.snapshotLocked()
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordClose(admitted)
		t.metrics.OpenSessions.Set(float64(len(snap.Open)))
	}
	t.logger.Info().
		Str("user", userID).
		Str("reason", reason).
		Dur("duration", iv.Duration()).
		Bool("admitted", admitted).
		Msg("session closed")

	var notify func(context.Context) error
	if t.notifier != nil {
		notify = func(ctx context.Context) error { return t.notifier.SessionClosed(ctx, s, iv, admitted) }
	}
	t.commitIO(userID, "closed", snap, gen, notify)
	return iv, admitted, true
}

// Refresh updates the live display of every open session. It never mutates
// tracker state; a transport failure for one session is skipped and retried
// on the next cycle.
func (t *Tracker) Refresh(ctx context.Context, now time.Time) {
	if t.notifier == nil {
		return
	}

	t.mu.Lock()
	sessions := make([]Session, 0, len(t.open))
	for _, s := range t.open {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	for _, s := range sessions {
		if err := t.notifier.SessionRefreshed(ctx, s, now); err != nil {
			t.logger.Debug().Err(err).Str("user", s.UserID).Msg("refresh skipped")
			if t.metrics != nil {
				t.metrics.RecordError("notifier", "refreshed")
			}
		}
	}
}

// SetAutoTrack enables or disables automatic session tracking for the user.
func (t *Tracker) SetAutoTrack(ctx context.Context, userID string, enabled bool) {
	t.mu.Lock()
	t.autoTrack[userID] = enabled
	snap, gen := t.snapshotLocked()
	t.mu.Unlock()

	t.logger.Info().Str("user", userID).Bool("enabled", enabled).Msg("auto-track flag set")
	t.commitIO(userID, "", snap, gen, nil)
}

// AutoTrack reports whether tracking is enabled for the user. Defaults to true.
func (t *Tracker) AutoTrack(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.autoTrackLocked(userID)
}

func (t *Tracker) autoTrackLocked(userID string) bool {
	enabled, ok := t.autoTrack[userID]
	return !ok || enabled
}

// Flush synchronously writes a final snapshot, for shutdown. Background
// writes still in flight carry older generations and are skipped once this
// one lands.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	snap, gen := t.snapshotLocked()
	t.mu.Unlock()
	if t.persister == nil {
		return nil
	}
	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	if gen > t.savedGen {
		t.savedGen = gen
	}
	return t.persister.Save(ctx, snap)
}

// snapshotLocked deep-copies the current state and stamps it with the next
// snapshot generation. Callers must hold t.mu.
func (t *Tracker) snapshotLocked() (Snapshot, uint64) {
	snap := Snapshot{
		Closed:    make(map[string][]Interval, len(t.closed)),
		Open:      make(map[string]Session, len(t.open)),
		AutoTrack: make(map[string]bool, len(t.autoTrack)),
	}
	for uid, ivs := range t.closed {
		cp := make([]Interval, len(ivs))
		copy(cp, ivs)
		snap.Closed[uid] = cp
	}
	for uid, s := range t.open {
		snap.Open[uid] = s
	}
	for uid, v := range t.autoTrack {
		snap.AutoTrack[uid] = v
	}
	t.snapGen++
	return snap, t.snapGen
}

// commitIO runs the side effects of a committed mutation off the command
// path: the optional transport notification, then the snapshot write. The
// caller has already returned by the time these run; failures are logged and
// never surface, and the next mutation writes a fresh snapshot anyway.
func (t *Tracker) commitIO(userID, event string, snap Snapshot, gen uint64, notify func(context.Context) error) {
	if notify == nil && t.persister == nil {
		return
	}
	t.io.Add(1)
	go func() {
		defer t.io.Done()
		ctx := context.Background()
		if notify != nil {
			if err := notify(ctx); err != nil {
				t.logger.Warn().Err(err).Str("user", userID).Str("event", event).Msg("notification failed")
				if t.metrics != nil {
					t.metrics.RecordError("notifier", event)
				}
			}
		}
		t.save(ctx, snap, gen)
	}()
}

// save writes the snapshot with best-effort retry, unless a newer generation
// has already been handed to the store.
func (t *Tracker) save(ctx context.Context, snap Snapshot, gen uint64) {
	if t.persister == nil {
		return
	}
	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	if gen <= t.savedGen {
		return
	}
	t.savedGen = gen
	err := retry.Do(ctx, t.retryCfg, func(ctx context.Context) error {
		return t.persister.Save(ctx, snap)
	})
	if err != nil {
		t.logger.Error().Err(err).Msg("snapshot save failed")
		if t.metrics != nil {
			t.metrics.RecordError("tracker", "snapshot_save")
		}
	}
}
