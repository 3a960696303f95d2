// Package domain defines the core entities of the client-side reconciliation
// engine: items, the locally cached pagination cursor, delete tombstones, and
// the records describing in-flight optimistic mutations. The cache-backed
// types are mapped with GORM and shared between the repository, store, and
// service layers.
package domain

import "time"

// LifecycleState describes where an item (or mutation) is in its life.
type LifecycleState string

const (
	// StateConfirmed marks an item acknowledged by the backend (arrived via
	// fetch, realtime delivery, or a confirmed resolution).
	StateConfirmed LifecycleState = "confirmed"
	// StatePending marks a speculative local item/mutation not yet
	// acknowledged by the backend.
	StatePending LifecycleState = "pending"
	// StateFailed marks a mutation the backend rejected or that timed out;
	// failed creates are retained for manual retry.
	StateFailed LifecycleState = "failed"
)

// Item is one entry of a thread's ordered collection (a comment, a chat
// message, or a feed entry). The id is the sole deduplication key: two items
// with the same ID are the same logical entity regardless of which source
// delivered them.
//
// Fields:
//   - ID: stable identifier (server-assigned for confirmed items, a local
//     UUID for speculative ones).
//   - ThreadID: owning thread; indexed for per-thread cache scans.
//   - AuthorID: identity of the author. May be empty when the backend did
//     not resolve authorship; the permission gate treats that as "unknown,
//     deny", never as a guess.
//   - Content: text content.
//   - CreatedAt: authoring timestamp; the primary ordering key.
//   - State: view-level lifecycle flag. Not persisted — the cache only ever
//     holds confirmed rows.
type Item struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	ThreadID  string         `json:"thread_id"  gorm:"type:char(36);not null;index:idx_thread_items,priority:1"`
	AuthorID  string         `json:"author_id"  gorm:"type:varchar(64)"`
	Content   string         `json:"content"    gorm:"type:text;not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"index:idx_thread_items,priority:2"`
	State     LifecycleState `json:"state"      gorm:"-"`
}

// TableName returns the cache table name for Item.
func (Item) TableName() string { return "items" }

// Tombstone records that an item id was deleted, so a stale historical page
// fetched later cannot resurrect it. A tombstone is cleared only by a
// contradicting realtime event (an Inserted/Updated for the same id).
// Tombstones are durable rows so the guarantee survives process restarts.
type Tombstone struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ThreadID  string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_thread_item,priority:1"`
	ItemID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_thread_item,priority:2"`
	DeletedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
}

// TableName implements the GORM tabler interface.
func (Tombstone) TableName() string { return "tombstones" }

// CursorState is the persisted pagination position of one thread: an opaque
// backend token plus a monotonic page counter. The cursor only ever moves
// forward as historical pages are fetched; realtime events never touch it,
// and a failed fetch leaves it unchanged so a retry is idempotent.
type CursorState struct {
	ThreadID  string    `gorm:"type:char(36);primaryKey"`
	Token     string    `gorm:"type:TEXT NOT NULL"`
	Page      int       `gorm:"type:INTEGER NOT NULL"`
	HasMore   bool      `gorm:"type:BOOLEAN NOT NULL"`
	UpdatedAt time.Time `gorm:"type:DATETIME NOT NULL"`
}

// TableName implements the GORM tabler interface.
func (CursorState) TableName() string { return "cursors" }
