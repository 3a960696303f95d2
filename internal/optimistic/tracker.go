// Package optimistic tracks the current actor's in-flight local writes
// between submission and backend resolution. A submitted record is
// immediately visible to the reconciliation engine (rendered pending) and is
// resolved exactly once: a second resolution for the same local id is a
// no-op. Creates that stay pending past a bounded interval are expired and
// treated as failed, never left pending indefinitely.
//
// The tracker is not safe for concurrent use on its own; the owning thread
// view serializes every call through its apply queue, which is the module's
// concurrency discipline for all merge inputs.
package optimistic

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

// Outcome carries the backend's verdict on one mutation.
type Outcome struct {
	// State is the terminal state: StateConfirmed or StateFailed.
	State domain.LifecycleState
	// ServerItem is the acknowledged item for confirmed creates; its ID is
	// the server-assigned id that supersedes the speculative one.
	ServerItem *domain.Item
}

// Tracker records pending/failed mutations for one thread view.
type Tracker struct {
	// PendingTimeout bounds how long a record may stay pending before
	// Expired reports it. Zero disables expiry.
	PendingTimeout time.Duration

	records   map[string]*domain.MutationRecord
	order     []string // insertion order, for stable snapshots
	abandoned bool
}

// New returns an empty tracker with the given pending timeout.
func New(pendingTimeout time.Duration) *Tracker {
	return &Tracker{
		PendingTimeout: pendingTimeout,
		records:        make(map[string]*domain.MutationRecord),
	}
}

// Submit registers a new mutation and returns its local id. The record
// enters StatePending and is immediately part of Records(). Submissions on
// an abandoned tracker are rejected with an empty id.
func (t *Tracker) Submit(rec domain.MutationRecord) string {
	if t.abandoned {
		return ""
	}
	if rec.LocalID == "" {
		rec.LocalID = uuid.NewString()
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now().UTC()
	}
	rec.State = domain.StatePending

	t.records[rec.LocalID] = &rec
	t.order = append(t.order, rec.LocalID)
	return rec.LocalID
}

// Resolve applies the backend outcome to a pending record. It returns the
// updated record and whether the resolution was applied. Resolutions for
// unknown or already-resolved records, or arriving after Abandon, are
// idempotent no-ops.
//
// A confirmed create learns its server-assigned id here; the caller is
// expected to upsert Outcome.ServerItem into the confirmed set and then
// Retire the record in the same apply step, so no duplicate ever renders.
// A failed delete is retired immediately: dropping the record un-hides the
// target (rollback). A failed create is retained in StateFailed so the UI
// can surface it for manual retry.
func (t *Tracker) Resolve(localID string, out Outcome) (domain.MutationRecord, bool) {
	if t.abandoned {
		return domain.MutationRecord{}, false
	}
	rec, ok := t.records[localID]
	if !ok || rec.State != domain.StatePending {
		return domain.MutationRecord{}, false
	}

	switch out.State {
	case domain.StateConfirmed:
		rec.State = domain.StateConfirmed
		if out.ServerItem != nil {
			rec.ServerID = out.ServerItem.ID
		}
	case domain.StateFailed:
		if rec.Op == domain.OpDelete {
			t.remove(localID)
			failed := *rec
			failed.State = domain.StateFailed
			return failed, true
		}
		rec.State = domain.StateFailed
	default:
		log.Warn().Str("local_id", localID).Str("state", string(out.State)).
			Msg("ignoring resolution with non-terminal state")
		return domain.MutationRecord{}, false
	}
	return *rec, true
}

// Reopen moves a failed create back to pending for a manual retry. It
// returns the refreshed record and whether the transition applied.
func (t *Tracker) Reopen(localID string, now time.Time) (domain.MutationRecord, bool) {
	if t.abandoned {
		return domain.MutationRecord{}, false
	}
	rec, ok := t.records[localID]
	if !ok || rec.State != domain.StateFailed || rec.Op != domain.OpCreate {
		return domain.MutationRecord{}, false
	}
	rec.State = domain.StatePending
	rec.SubmittedAt = now
	return *rec, true
}

// Retire removes a record entirely (after promotion, or when a failure has
// been fully surfaced). Unknown ids are ignored.
func (t *Tracker) Retire(localID string) {
	t.remove(localID)
}

// Get returns a copy of the record for localID.
func (t *Tracker) Get(localID string) (domain.MutationRecord, bool) {
	rec, ok := t.records[localID]
	if !ok {
		return domain.MutationRecord{}, false
	}
	return *rec, true
}

// Records returns a snapshot of all tracked records in submission order.
func (t *Tracker) Records() []domain.MutationRecord {
	out := make([]domain.MutationRecord, 0, len(t.order))
	for _, id := range t.order {
		if rec, ok := t.records[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// Failed returns the failed records retained for manual retry.
func (t *Tracker) Failed() []domain.MutationRecord {
	out := make([]domain.MutationRecord, 0, 2)
	for _, id := range t.order {
		if rec, ok := t.records[id]; ok && rec.State == domain.StateFailed {
			out = append(out, *rec)
		}
	}
	return out
}

// Expired returns the pending records whose age at now exceeds
// PendingTimeout. The caller resolves each as failed (timeout) on the apply
// queue; Expired itself does not change state.
func (t *Tracker) Expired(now time.Time) []domain.MutationRecord {
	if t.PendingTimeout <= 0 {
		return nil
	}
	var out []domain.MutationRecord
	for _, id := range t.order {
		rec, ok := t.records[id]
		if !ok || rec.State != domain.StatePending {
			continue
		}
		if now.Sub(rec.SubmittedAt) >= t.PendingTimeout {
			out = append(out, *rec)
		}
	}
	return out
}

// Abandon marks the tracker closed: unresolved mutations simply stop being
// rendered, and resolutions that arrive late are ignored. Called when the
// owning thread view closes.
func (t *Tracker) Abandon() {
	t.abandoned = true
	t.records = make(map[string]*domain.MutationRecord)
	t.order = nil
}

func (t *Tracker) remove(localID string) {
	if _, ok := t.records[localID]; !ok {
		return
	}
	delete(t.records, localID)
	for i, id := range t.order {
		if id == localID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}
