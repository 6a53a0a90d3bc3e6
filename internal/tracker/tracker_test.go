package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhall/attendance/internal/calendar"
	aerrors "github.com/studyhall/attendance/internal/errors"
	"github.com/studyhall/attendance/internal/retry"
)

var kst = time.FixedZone("KST", 9*3600)

type fakePersister struct {
	mu      sync.Mutex
	saves   []Snapshot
	loadRes Snapshot
	loadErr error
	saveErr error
}

func (p *fakePersister) Save(_ context.Context, snap Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.saveErr != nil {
		return p.saveErr
	}
	p.saves = append(p.saves, snap)
	return nil
}

func (p *fakePersister) Load(_ context.Context) (Snapshot, error) {
	return p.loadRes, p.loadErr
}

func (p *fakePersister) saveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.saves)
}

type fakeNotifier struct {
	mu        sync.Mutex
	opened    []Session
	closed    []Interval
	admitted  []bool
	refreshed []Session
	err       error
}

func (n *fakeNotifier) SessionOpened(_ context.Context, s Session) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, s)
	return n.err
}

func (n *fakeNotifier) SessionClosed(_ context.Context, _ Session, iv Interval, admitted bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, iv)
	n.admitted = append(n.admitted, admitted)
	return n.err
}

func (n *fakeNotifier) SessionRefreshed(_ context.Context, s Session, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refreshed = append(n.refreshed, s)
	return n.err
}

func newTestTracker(t *testing.T) (*Tracker, *fakePersister, *fakeNotifier) {
	t.Helper()
	p := &fakePersister{}
	n := &fakeNotifier{}
	cfg := DefaultConfig()
	tr := New(cfg, calendar.New(kst), p, n, nil, zerolog.Nop())
	tr.retryCfg.MaxAttempts = 1
	return tr, p, n
}

func at(hour, min, sec int) time.Time {
	// Tuesday 2025-08-19 local.
	return time.Date(2025, 8, 19, hour, min, sec, 0, kst)
}

func TestStart_Idempotent(t *testing.T) {
	tr, _, n := newTestTracker(t)
	ctx := context.Background()

	t1 := at(9, 0, 0)
	assert.True(t, tr.Start(ctx, "u1", t1, nil))
	assert.False(t, tr.Start(ctx, "u1", at(9, 5, 0), nil))

	s, ok := tr.OpenSession("u1")
	require.True(t, ok)
	assert.True(t, s.Start.Equal(t1))

	tr.io.Wait()
	assert.Len(t, n.opened, 1)
}

func TestStart_AutoTrackDisabled(t *testing.T) {
	tr, _, n := newTestTracker(t)
	ctx := context.Background()

	tr.SetAutoTrack(ctx, "u1", false)
	assert.False(t, tr.AutoTrack("u1"))
	assert.False(t, tr.Start(ctx, "u1", at(9, 0, 0), nil))
	_, ok := tr.OpenSession("u1")
	assert.False(t, ok)
	tr.io.Wait()
	assert.Empty(t, n.opened)

	tr.SetAutoTrack(ctx, "u1", true)
	assert.True(t, tr.AutoTrack("u1"))
	assert.True(t, tr.Start(ctx, "u1", at(9, 1, 0), nil))
}

func TestAutoTrack_DefaultsEnabled(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	assert.True(t, tr.AutoTrack("never-seen"))
}

func TestStop_NoOpWhenNotOpen(t *testing.T) {
	tr, p, n := newTestTracker(t)

	_, admitted, wasOpen := tr.Stop(context.Background(), "u1", at(9, 0, 0), "button")
	assert.False(t, wasOpen)
	assert.False(t, admitted)
	assert.Empty(t, n.closed)
	assert.Zero(t, p.saveCount())
}

func TestStop_AdmissionBoundary(t *testing.T) {
	ctx := context.Background()

	// Exactly the minimum duration is admitted.
	tr, _, _ := newTestTracker(t)
	tr.Start(ctx, "u1", at(9, 0, 0), nil)
	iv, admitted, wasOpen := tr.Stop(ctx, "u1", at(9, 1, 0), "button")
	assert.True(t, wasOpen)
	assert.True(t, admitted)
	assert.Equal(t, 60*time.Second, iv.Duration())

	// One second less is discarded entirely.
	tr2, _, n2 := newTestTracker(t)
	tr2.Start(ctx, "u1", at(9, 0, 0), nil)
	_, admitted, wasOpen = tr2.Stop(ctx, "u1", at(9, 0, 59), "button")
	assert.True(t, wasOpen)
	assert.False(t, admitted)
	assert.Zero(t, tr2.SumRange("u1", at(0, 0, 0), at(23, 59, 59), at(10, 0, 0)))

	// The open session is gone either way, and a close notification fired.
	_, ok := tr2.OpenSession("u1")
	assert.False(t, ok)
	tr2.io.Wait()
	require.Len(t, n2.admitted, 1)
	assert.False(t, n2.admitted[0])
}

func TestSumRange_OverlapContributions(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	tr.Start(ctx, "u1", at(9, 0, 0), nil)
	tr.Stop(ctx, "u1", at(10, 0, 0), "button")

	now := at(12, 0, 0)
	tests := []struct {
		name     string
		from, to time.Time
		want     time.Duration
	}{
		{"full containment", at(8, 0, 0), at(11, 0, 0), time.Hour},
		{"clips start", at(9, 30, 0), at(11, 0, 0), 30 * time.Minute},
		{"clips end", at(8, 0, 0), at(9, 15, 0), 15 * time.Minute},
		{"clips both", at(9, 20, 0), at(9, 40, 0), 20 * time.Minute},
		{"disjoint before", at(7, 0, 0), at(8, 0, 0), 0},
		{"disjoint after", at(10, 0, 0), at(11, 0, 0), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.SumRange("u1", tt.from, tt.to, now))
		})
	}
}

func TestSumRange_DisjointDecomposition(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	tr.Start(ctx, "u1", at(9, 0, 0), nil)
	tr.Stop(ctx, "u1", at(10, 30, 0), "button")

	now := at(12, 0, 0)
	whole := tr.SumRange("u1", at(8, 0, 0), at(11, 0, 0), now)
	split := tr.SumRange("u1", at(8, 0, 0), at(9, 45, 0), now) +
		tr.SumRange("u1", at(9, 45, 0), at(11, 0, 0), now)
	assert.Equal(t, whole, split)
}

func TestSumRange_OpenSessionVirtualOverlap(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	start := at(10, 0, 0)
	tr.Start(ctx, "u1", start, nil)

	// Queried at 10:00:30 without any close event.
	now := at(10, 0, 30)
	got := tr.SumRange("u1", start, at(10, 0, 30), now)
	assert.Equal(t, 30*time.Second, got)
}

func TestSumRange_UnknownUser(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	assert.Zero(t, tr.SumRange("ghost", at(0, 0, 0), at(23, 0, 0), at(12, 0, 0)))
}

func TestPrune_Trichotomy(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	cutoff := at(12, 0, 0).UTC()
	past := Interval{Start: cutoff.Add(-2 * time.Hour), End: cutoff.Add(-time.Hour)}
	straddling := Interval{Start: cutoff.Add(-time.Hour), End: cutoff.Add(time.Hour)}
	future := Interval{Start: cutoff.Add(time.Hour), End: cutoff.Add(2 * time.Hour)}
	endsAtCutoff := Interval{Start: cutoff.Add(-time.Hour), End: cutoff}

	tr.mu.Lock()
	tr.closed["u1"] = []Interval{past, straddling, future, endsAtCutoff}
	tr.mu.Unlock()

	removed, trimmed := tr.Prune(ctx, cutoff)
	assert.Equal(t, 2, removed) // past and endsAtCutoff
	assert.Equal(t, 1, trimmed)

	tr.mu.Lock()
	kept := tr.closed["u1"]
	tr.mu.Unlock()
	require.Len(t, kept, 2)
	assert.Equal(t, Interval{Start: cutoff, End: straddling.End}, kept[0])
	assert.Equal(t, future, kept[1])
}

func TestPrune_Idempotent(t *testing.T) {
	tr, p, _ := newTestTracker(t)
	ctx := context.Background()

	cutoff := at(12, 0, 0).UTC()
	tr.mu.Lock()
	tr.closed["u1"] = []Interval{
		{Start: cutoff.Add(-2 * time.Hour), End: cutoff.Add(-time.Hour)},
		{Start: cutoff.Add(-time.Hour), End: cutoff.Add(time.Hour)},
	}
	tr.mu.Unlock()

	removed, trimmed := tr.Prune(ctx, cutoff)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, trimmed)
	tr.io.Wait()
	firstSaves := p.saveCount()
	assert.Equal(t, 1, firstSaves)

	// Second pass finds nothing to do and does not rewrite the snapshot.
	removed, trimmed = tr.Prune(ctx, cutoff)
	assert.Zero(t, removed)
	assert.Zero(t, trimmed)
	tr.io.Wait()
	assert.Equal(t, firstSaves, p.saveCount())
}

func TestPrune_DropsEmptiedUsers(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	cutoff := at(12, 0, 0).UTC()

	tr.mu.Lock()
	tr.closed["gone"] = []Interval{{Start: cutoff.Add(-2 * time.Hour), End: cutoff.Add(-time.Hour)}}
	tr.mu.Unlock()

	tr.Prune(context.Background(), cutoff)

	tr.mu.Lock()
	_, exists := tr.closed["gone"]
	tr.mu.Unlock()
	assert.False(t, exists)
}

func TestMaybePrune_GatedToConfiguredMoment(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	// Default schedule is Tuesday 04:00; 2025-08-19 is a Tuesday.
	assert.False(t, tr.MaybePrune(ctx, at(3, 59, 0)))
	assert.False(t, tr.MaybePrune(ctx, at(4, 1, 0)))
	// Wednesday 04:00 does not fire.
	wed := time.Date(2025, 8, 20, 4, 0, 0, 0, kst)
	assert.False(t, tr.MaybePrune(ctx, wed))

	assert.True(t, tr.MaybePrune(ctx, at(4, 0, 0)))
	// A jittered second fire within the same minute is deduplicated.
	assert.False(t, tr.MaybePrune(ctx, at(4, 0, 30)))
	// Next week's Tuesday fires again.
	nextTue := time.Date(2025, 8, 26, 4, 0, 0, 0, kst)
	assert.True(t, tr.MaybePrune(ctx, nextTue))
}

func TestMaybePrune_UsesRetentionCutoff(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	// Cutoff for Tuesday 2025-08-19 04:00 with 3 retention weeks is Monday
	// 2025-08-04 00:00 KST. An interval ending just before it is removed; one
	// starting right at it survives.
	cutoff := time.Date(2025, 8, 4, 0, 0, 0, 0, kst).UTC()
	tr.mu.Lock()
	tr.closed["u1"] = []Interval{
		{Start: cutoff.Add(-time.Hour), End: cutoff.Add(-time.Minute)},
		{Start: cutoff, End: cutoff.Add(time.Hour)},
	}
	tr.mu.Unlock()

	require.True(t, tr.MaybePrune(ctx, at(4, 0, 0)))

	tr.mu.Lock()
	kept := tr.closed["u1"]
	tr.mu.Unlock()
	require.Len(t, kept, 1)
	assert.True(t, kept[0].Start.Equal(cutoff))
}

func TestRoster_BucketsAndOrdering(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()
	cal := calendar.New(kst)

	// Tuesday: u1 works 4 hours, u2 works 1 hour. Wednesday: u2 works 30m.
	tr.Start(ctx, "u1", at(9, 0, 0), nil)
	tr.Stop(ctx, "u1", at(13, 0, 0), "button")
	tr.Start(ctx, "u2", at(9, 0, 0), nil)
	tr.Stop(ctx, "u2", at(10, 0, 0), "button")
	wed := time.Date(2025, 8, 20, 9, 0, 0, 0, kst)
	tr.Start(ctx, "u2", wed, nil)
	tr.Stop(ctx, "u2", wed.Add(30*time.Minute), "button")

	now := time.Date(2025, 8, 21, 0, 0, 0, 0, kst)
	from, to := cal.WeekBounds(now)
	rows := tr.Roster(from, to, now)

	require.Len(t, rows, 2)
	assert.Equal(t, "u1", rows[0].UserID)
	assert.Equal(t, 4*time.Hour, rows[0].Total)
	assert.Equal(t, 4*time.Hour, rows[0].PerDay[1]) // Tuesday bucket
	assert.Zero(t, rows[0].PerDay[0])

	assert.Equal(t, "u2", rows[1].UserID)
	assert.Equal(t, 90*time.Minute, rows[1].Total)
	assert.Equal(t, time.Hour, rows[1].PerDay[1])
	assert.Equal(t, 30*time.Minute, rows[1].PerDay[2])
}

func TestRoster_OmitsZeroActivityUsers(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()
	cal := calendar.New(kst)

	// Session discarded below the admission floor leaves no trace.
	tr.Start(ctx, "u1", at(9, 0, 0), nil)
	tr.Stop(ctx, "u1", at(9, 0, 45), "button")

	now := at(10, 0, 0)
	from, to := cal.WeekBounds(now)
	assert.Empty(t, tr.Roster(from, to, now))
}

func TestEndToEndScenario(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()
	cal := calendar.New(kst)

	// 45 second session: discarded.
	tr.Start(ctx, "u1", at(9, 0, 0), nil)
	_, admitted, _ := tr.Stop(ctx, "u1", at(9, 0, 45), "button")
	assert.False(t, admitted)

	now := at(9, 0, 50)
	dayFrom, dayTo := cal.DayBounds(now)
	assert.Zero(t, tr.SumRange("u1", dayFrom, dayTo, now))

	// 240 second session: admitted.
	tr.Start(ctx, "u1", at(9, 1, 0), nil)
	_, admitted, _ = tr.Stop(ctx, "u1", at(9, 5, 0), "button")
	assert.True(t, admitted)

	now = at(9, 6, 0)
	assert.Equal(t, 240*time.Second, tr.SumRange("u1", dayFrom, dayTo, now))

	weekFrom, weekTo := cal.WeekBounds(now)
	rows := tr.Roster(weekFrom, weekTo, now)
	require.Len(t, rows, 1)
	assert.Equal(t, "u1", rows[0].UserID)
	assert.Equal(t, 240*time.Second, rows[0].Total)
	assert.Equal(t, 240*time.Second, rows[0].PerDay[1]) // Tuesday
}

func TestRefresh_ReadOnlyAndToleratesFailures(t *testing.T) {
	tr, p, n := newTestTracker(t)
	ctx := context.Background()

	tr.Start(ctx, "u1", at(9, 0, 0), nil)
	tr.Start(ctx, "u2", at(9, 1, 0), nil)
	tr.io.Wait()
	savesBefore := p.saveCount()

	n.err = errors.New("message gone")
	tr.Refresh(ctx, at(9, 2, 0))
	assert.Len(t, n.refreshed, 2)

	// No mutation, no snapshot write.
	assert.Equal(t, savesBefore, p.saveCount())
	_, ok := tr.OpenSession("u1")
	assert.True(t, ok)

	// Next cycle retries the same sessions.
	n.err = nil
	tr.Refresh(ctx, at(9, 3, 0))
	assert.Len(t, n.refreshed, 4)
}

func TestNotifierFailure_DoesNotRollBackState(t *testing.T) {
	tr, p, n := newTestTracker(t)
	ctx := context.Background()

	n.err = errors.New("slack down")
	assert.True(t, tr.Start(ctx, "u1", at(9, 0, 0), nil))
	_, ok := tr.OpenSession("u1")
	assert.True(t, ok)
	tr.io.Wait()
	assert.Equal(t, 1, p.saveCount())
}

func TestPersistFailure_DoesNotBlockCommands(t *testing.T) {
	tr, p, _ := newTestTracker(t)
	// Full backoff schedule: a retryable store failure must burn its retries
	// off the command path.
	tr.retryCfg = retry.DefaultConfig()
	ctx := context.Background()

	p.saveErr = aerrors.NewStoreError("put", errors.New("disk full"))

	begin := time.Now()
	assert.True(t, tr.Start(ctx, "u1", at(9, 0, 0), nil))
	_, admitted, _ := tr.Stop(ctx, "u1", at(9, 2, 0), "button")
	elapsed := time.Since(begin)
	assert.True(t, admitted)
	assert.Less(t, elapsed, 200*time.Millisecond)

	// In-memory state survived both failed writes.
	now := at(9, 3, 0)
	assert.Equal(t, 120*time.Second, tr.SumRange("u1", at(9, 0, 0), at(9, 3, 0), now))
}

func TestSnapshotWrites_NewestWins(t *testing.T) {
	tr, p, _ := newTestTracker(t)
	ctx := context.Background()

	tr.Start(ctx, "u1", at(9, 0, 0), nil)
	tr.Stop(ctx, "u1", at(9, 2, 0), "button")
	tr.io.Wait()

	// Whatever the write interleaving, the last stored snapshot reflects the
	// final state: no open session, one recorded interval.
	require.NotZero(t, p.saveCount())
	p.mu.Lock()
	last := p.saves[len(p.saves)-1]
	p.mu.Unlock()
	assert.Empty(t, last.Open)
	require.Len(t, last.Closed["u1"], 1)
}

func TestRestore_FromSnapshot(t *testing.T) {
	p := &fakePersister{}
	start := at(8, 0, 0).UTC()
	p.loadRes = Snapshot{
		Open: map[string]Session{
			"u1": {UserID: "u1", Start: start, Meta: map[string]string{"channel": "C1"}},
		},
		Closed: map[string][]Interval{
			"u2": {{Start: start.Add(-2 * time.Hour), End: start.Add(-time.Hour)}},
		},
		AutoTrack: map[string]bool{"u3": false},
	}
	tr := New(DefaultConfig(), calendar.New(kst), p, &fakeNotifier{}, nil, zerolog.Nop())
	tr.Restore(context.Background())

	s, ok := tr.OpenSession("u1")
	require.True(t, ok)
	assert.True(t, s.Start.Equal(start))
	assert.Equal(t, "C1", s.Meta["channel"])

	assert.Equal(t, time.Hour, tr.SumRange("u2", start.Add(-3*time.Hour), start, at(9, 0, 0)))
	assert.False(t, tr.AutoTrack("u3"))
}

func TestRestore_LoadErrorStartsEmpty(t *testing.T) {
	p := &fakePersister{loadErr: errors.New("corrupt")}
	tr := New(DefaultConfig(), calendar.New(kst), p, &fakeNotifier{}, nil, zerolog.Nop())
	tr.Restore(context.Background())

	assert.Empty(t, tr.OpenSessions())
	assert.True(t, tr.Start(context.Background(), "u1", at(9, 0, 0), nil))
}

func TestOpenSessions_Sorted(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	tr.Start(ctx, "later", at(10, 0, 0), nil)
	tr.Start(ctx, "earlier", at(9, 0, 0), nil)

	sessions := tr.OpenSessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "earlier", sessions[0].UserID)
	assert.Equal(t, "later", sessions[1].UserID)
}

func TestFlush_WritesFinalSnapshot(t *testing.T) {
	tr, p, _ := newTestTracker(t)
	ctx := context.Background()

	tr.Start(ctx, "u1", at(9, 0, 0), nil)
	tr.io.Wait()
	before := p.saveCount()
	require.NoError(t, tr.Flush(ctx))
	require.Equal(t, before+1, p.saveCount())

	last := p.saves[len(p.saves)-1]
	_, ok := last.Open["u1"]
	assert.True(t, ok)
}
