package tracker

import (
	"context"
	"time"
)

// Prune rewrites the closed-sessions table against the cutoff: intervals
// ending at or before the cutoff are deleted, intervals straddling it are
// trimmed to [cutoff, end), later intervals are untouched. The snapshot is
// persisted only when something changed, so repeated pruning at the same
// cutoff is a cheap no-op.
func (t *Tracker) Prune(ctx context.Context, cutoff time.Time) (removed, trimmed int) {
	cutoff = cutoff.UTC()

	t.mu.Lock()
	for uid, ivs := range t.closed {
		kept := ivs[:0]
		for _, iv := range ivs {
			switch {
			case !iv.End.After(cutoff):
				removed++
			case iv.Start.Before(cutoff):
				kept = append(kept, Interval{Start: cutoff, End: iv.End})
				trimmed++
			default:
				kept = append(kept, iv)
			}
		}
		if len(kept) == 0 {
			delete(t.closed, uid)
		} else {
			t.closed[uid] = kept
		}
	}

	var snap Snapshot
	var gen uint64
	changed := removed > 0 || trimmed > 0
	if changed {
		snap, gen = t.snapshotLocked()
	}
	t.mu.Unlock()

	if changed {
		t.logger.Info().
			Time("cutoff", cutoff).
			Int("removed", removed).
			Int("trimmed", trimmed).
			Msg("retention prune completed")
		if t.metrics != nil {
			t.metrics.RecordPrune(removed, trimmed)
		}
		t.commitIO("", "", snap, gen, nil)
	}
	return removed, trimmed
}

// MaybePrune runs the weekly pruning pass if now matches the configured local
// wall-clock moment. A date-keyed marker guarantees at most one execution per
// eligible day even when the trigger fires multiple times within the same
// minute. The retention cutoff is re-derived on every call. Returns true if a
// prune ran.
func (t *Tracker) MaybePrune(ctx context.Context, now time.Time) bool {
	local := now.In(t.cal.Location())
	if local.Weekday() != t.cfg.PruneWeekday ||
		local.Hour() != t.cfg.PruneHour ||
		local.Minute() != t.cfg.PruneMinute {
		return false
	}

	key := t.cal.DateKey(now)
	t.mu.Lock()
	if t.lastPruneDay == key {
		t.mu.Unlock()
		return false
	}
	t.lastPruneDay = key
	t.mu.Unlock()

	cutoff := t.cal.RetentionCutoff(now, t.cfg.RetentionWeeks)
	t.Prune(ctx, cutoff)
	return true
}
