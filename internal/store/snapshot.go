package store

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	aerrors "github.com/studyhall/attendance/internal/errors"
	"github.com/studyhall/attendance/internal/tracker"
)

// Document keys for the persisted state layout: closed sessions and open
// sessions keyed by user, plus one optional per-user flags record.
const (
	keyClosedSessions = "closed_sessions"
	keyOpenSessions   = "open_sessions"
	keyAutoTrack      = "autotrack_flags"
)

// SnapshotStore adapts the document store to the tracker's Persister
// contract. It owns no business logic; it only serializes snapshots.
type SnapshotStore struct {
	store  *Store
	logger zerolog.Logger
}

// NewSnapshotStore creates a SnapshotStore over the given document store.
func NewSnapshotStore(s *Store, logger zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		store:  s,
		logger: logger.With().Str("component", "snapshot_store").Logger(),
	}
}

// Save writes the snapshot as three documents. Errors are wrapped as store
// errors so callers classify them as retryable.
func (ss *SnapshotStore) Save(ctx context.Context, snap tracker.Snapshot) error {
	if err := ss.store.Put(ctx, keyClosedSessions, snap.Closed); err != nil {
		return aerrors.NewStoreError("save", err)
	}
	if err := ss.store.Put(ctx, keyOpenSessions, snap.Open); err != nil {
		return aerrors.NewStoreError("save", err)
	}
	if err := ss.store.Put(ctx, keyAutoTrack, snap.AutoTrack); err != nil {
		return aerrors.NewStoreError("save", err)
	}
	return nil
}

// Load reads the persisted snapshot. Missing documents yield empty state, and
// malformed per-user entries are skipped individually rather than aborting
// the whole load.
func (ss *SnapshotStore) Load(ctx context.Context) (tracker.Snapshot, error) {
	snap := tracker.Snapshot{
		Closed:    make(map[string][]tracker.Interval),
		Open:      make(map[string]tracker.Session),
		AutoTrack: make(map[string]bool),
	}

	closedRaw, err := ss.loadRecords(ctx, keyClosedSessions)
	if err != nil {
		return snap, err
	}
	for uid, raw := range closedRaw {
		var ivs []tracker.Interval
		if err := json.Unmarshal(raw, &ivs); err != nil {
			ss.logger.Warn().Err(err).Str("user", uid).Msg("skipping malformed closed-sessions record")
			continue
		}
		kept := ivs[:0]
		for _, iv := range ivs {
			if !iv.Start.Before(iv.End) {
				ss.logger.Warn().Str("user", uid).Time("start", iv.Start).Msg("skipping inverted interval")
				continue
			}
			kept = append(kept, iv)
		}
		if len(kept) > 0 {
			snap.Closed[uid] = kept
		}
	}

	openRaw, err := ss.loadRecords(ctx, keyOpenSessions)
	if err != nil {
		return snap, err
	}
	for uid, raw := range openRaw {
		var s tracker.Session
		if err := json.Unmarshal(raw, &s); err != nil {
			ss.logger.Warn().Err(err).Str("user", uid).Msg("skipping malformed open-session record")
			continue
		}
		if s.Start.IsZero() {
			ss.logger.Warn().Str("user", uid).Msg("skipping open session without start")
			continue
		}
		if s.UserID == "" {
			s.UserID = uid
		}
		snap.Open[uid] = s
	}

	flagsRaw, err := ss.loadRecords(ctx, keyAutoTrack)
	if err != nil {
		return snap, err
	}
	for uid, raw := range flagsRaw {
		var enabled bool
		if err := json.Unmarshal(raw, &enabled); err != nil {
			ss.logger.Warn().Err(err).Str("user", uid).Msg("skipping malformed auto-track flag")
			continue
		}
		snap.AutoTrack[uid] = enabled
	}

	return snap, nil
}

// loadRecords reads one document as per-user raw records. A missing or
// entirely corrupt document is treated as empty, not as an error.
func (ss *SnapshotStore) loadRecords(ctx context.Context, key string) (map[string]json.RawMessage, error) {
	raw, ok, err := ss.store.GetRaw(ctx, key)
	if err != nil {
		return nil, aerrors.NewStoreError("load", err)
	}
	if !ok {
		return nil, nil
	}
	records := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &records); err != nil {
		ss.logger.Warn().Err(err).Str("key", key).Msg("document corrupt, treating as empty")
		return nil, nil
	}
	return records, nil
}
