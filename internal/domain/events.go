// Package domain – realtime change events.
package domain

// EventKind enumerates the remote change notifications a realtime channel
// delivers for a thread.
type EventKind string

const (
	// EventInserted announces a new item created by some actor.
	EventInserted EventKind = "inserted"
	// EventDeleted announces the removal of an item.
	EventDeleted EventKind = "deleted"
	// EventUpdated announces an in-place edit of an existing item.
	EventUpdated EventKind = "updated"
)

// ChangeEvent is one remote change for a thread. Delivery is at-least-once:
// consumers must tolerate the same event arriving twice or events for
// distinct items arriving out of order. Ordering is reconstructed solely
// from Item.CreatedAt/Item.ID, never from arrival order.
type ChangeEvent struct {
	Kind EventKind `json:"kind"`
	Item Item      `json:"item"`
}
