// Package domain – optimistic mutation records.
package domain

import "time"

// MutationOp enumerates the mutations an actor can submit.
type MutationOp string

const (
	// OpCreate appends a new item authored by the current actor.
	OpCreate MutationOp = "create"
	// OpDelete removes an item previously authored by the current actor.
	OpDelete MutationOp = "delete"
)

// MutationRecord tracks one in-flight local write from submission until the
// backend confirms or rejects it. A create record carries the full
// speculative Item (rendered immediately, flagged pending); a delete record
// carries only the id of the item being hidden.
//
// Exactly one resolution is applied per LocalID; later resolutions are
// no-ops. A confirmed create learns the server-assigned id through ServerID,
// which is how the merge detects that a fetched/pushed copy of "my own" item
// supersedes the speculative one.
type MutationRecord struct {
	LocalID     string
	Op          MutationOp
	Item        Item   // speculative item; creates only
	TargetID    string // id being removed; deletes only
	SubmittedAt time.Time
	State       LifecycleState
	ServerID    string
}
