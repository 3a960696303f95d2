// Package merge implements the reconciliation algorithm that folds the three
// independently-arriving views of one thread — the confirmed set maintained
// by the item store, the tombstones left by deletions, and the optimistic
// tracker's pending records — into the single ordered, duplicate-free list
// handed to the UI.
//
// Reconcile is a pure function of its inputs: it performs no I/O, mutates
// nothing it was given, and identical inputs always yield an identical view.
// That purity is what makes duplicate realtime delivery and fetch/realtime
// races safe — replaying the same state simply reproduces the same answer.
package merge

import (
	"sort"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

// Inputs is a snapshot of the three merge sources for one thread.
//
// Confirmed holds the store's acknowledged items keyed by id. Tombstones
// holds ids whose deletion has been observed (locally or remotely) and not
// yet contradicted. Pending is the tracker's current record list; only
// records in StatePending contribute to the view.
type Inputs struct {
	Confirmed  map[string]domain.Item
	Tombstones map[string]struct{}
	Pending    []domain.MutationRecord
}

// Reconcile merges the snapshot into the rendered view:
//
//  1. Start from the confirmed set, dropping tombstoned ids.
//  2. Overlay pending creates as additional entries flagged pending — unless
//     a confirmed item with the record's final id already supersedes them
//     (server-assigned id echoed back on resolution, or the speculative id
//     itself already confirmed), which prevents transient duplicates of the
//     actor's own new item.
//  3. Hide the targets of pending deletes regardless of what the confirmed
//     set says; a failed delete leaves no pending record, so the target
//     simply reappears on the next merge (rollback).
//  4. Sort newest-first: CreatedAt descending, ties broken by id descending,
//     giving a total order independent of arrival order.
func Reconcile(in Inputs) []domain.Item {
	hidden := make(map[string]struct{})
	for _, rec := range in.Pending {
		if rec.Op == domain.OpDelete && rec.State == domain.StatePending {
			hidden[rec.TargetID] = struct{}{}
		}
	}

	view := make([]domain.Item, 0, len(in.Confirmed)+len(in.Pending))
	for id, it := range in.Confirmed {
		if _, dead := in.Tombstones[id]; dead {
			continue
		}
		if _, hide := hidden[id]; hide {
			continue
		}
		it.State = domain.StateConfirmed
		view = append(view, it)
	}

	for _, rec := range in.Pending {
		if rec.Op != domain.OpCreate || rec.State != domain.StatePending {
			continue
		}
		if rec.ServerID != "" {
			if _, ok := in.Confirmed[rec.ServerID]; ok {
				continue // promoted: confirmed copy already present
			}
		}
		if _, ok := in.Confirmed[rec.Item.ID]; ok {
			continue
		}
		it := rec.Item
		it.State = domain.StatePending
		view = append(view, it)
	}

	sort.Slice(view, func(i, j int) bool { return Before(view[i], view[j]) })
	return view
}

// Before reports whether a renders before b under the view's total order:
// newest first by CreatedAt, equal timestamps broken by id descending.
func Before(a, b domain.Item) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
