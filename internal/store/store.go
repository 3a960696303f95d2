// Package store maintains the canonical confirmed collection of one thread:
// the id-keyed set of acknowledged items, the delete tombstones, and the
// monotonic pagination cursor. It is one of the three merge inputs; the
// other two (realtime tail and optimistic records) are folded in by
// internal/merge.
//
// A Store is owned by a single thread view and is only touched from that
// view's apply queue, so it carries no locking of its own. All state is
// mirrored into the SQLite cache (when one is configured) on a best-effort
// basis: cache write failures degrade persistence, never the live view.
package store

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-thread-sync/internal/backend"
	"github.com/tbourn/go-thread-sync/internal/domain"
	"github.com/tbourn/go-thread-sync/internal/repo"
)

// Store is the confirmed set and cursor of one thread.
type Store struct {
	threadID string
	db       *gorm.DB // optional cache; nil for memory-only operation

	items      map[string]domain.Item
	tombstones map[string]struct{}
	cursor     domain.CursorState

	fetchInFlight bool
}

// Open creates the store for a thread, warming items, tombstones, and the
// cursor from the cache so a reopened thread renders instantly while the
// first network page is still in flight.
func Open(db *gorm.DB, threadID string) (*Store, error) {
	s := &Store{
		threadID:   threadID,
		db:         db,
		items:      make(map[string]domain.Item),
		tombstones: make(map[string]struct{}),
		cursor:     domain.CursorState{ThreadID: threadID, HasMore: true},
	}
	if db == nil {
		return s, nil
	}

	cached, err := repo.ListThreadItems(db, threadID)
	if err != nil {
		return nil, fmt.Errorf("warm items: %w", err)
	}
	for _, it := range cached {
		s.items[it.ID] = it
	}

	dead, err := repo.ListTombstones(db, threadID)
	if err != nil {
		return nil, fmt.Errorf("warm tombstones: %w", err)
	}
	for _, id := range dead {
		s.tombstones[id] = struct{}{}
	}

	cs, err := repo.GetCursor(db, threadID)
	if err != nil {
		return nil, fmt.Errorf("warm cursor: %w", err)
	}
	if cs != nil {
		// Only the monotonic page counter is resumed. The token and HasMore
		// flag are reset so a reopened thread always refetches the newest
		// page: realtime covers the live session only, and anything created
		// while the client was offline is observable solely through a fresh
		// head fetch. The id-keyed upsert makes the refetch safe.
		s.cursor.Page = cs.Page
	}
	return s, nil
}

// ThreadID returns the thread this store serves.
func (s *Store) ThreadID() string { return s.threadID }

// Items exposes the confirmed set for merging. The returned map is the
// store's own; callers must treat it as read-only.
func (s *Store) Items() map[string]domain.Item { return s.items }

// Tombstones exposes the tombstoned ids for merging; read-only for callers.
func (s *Store) Tombstones() map[string]struct{} { return s.tombstones }

// Cursor returns the current opaque token and whether older pages remain.
func (s *Store) Cursor() (token string, hasMore bool) {
	return s.cursor.Token, s.cursor.HasMore
}

// BeginFetch marks a historical fetch in flight. It returns false when one
// is already running: fetches for the same cursor line are serialized, and
// concurrent LoadMore calls collapse into the one in-flight request.
func (s *Store) BeginFetch() bool {
	if s.fetchInFlight {
		return false
	}
	s.fetchInFlight = true
	return true
}

// EndFetch clears the in-flight marker, success or not. A failed fetch
// leaves the cursor untouched so the next LoadMore retries the same page.
func (s *Store) EndFetch() { s.fetchInFlight = false }

// ApplyPage folds a successfully fetched page into the confirmed set and
// advances the cursor. Items whose id carries a tombstone are dropped: a
// stale page can never resurrect a locally observed deletion.
func (s *Store) ApplyPage(p backend.Page) {
	kept := make([]domain.Item, 0, len(p.Items))
	for _, it := range p.Items {
		if _, dead := s.tombstones[it.ID]; dead {
			continue
		}
		it.ThreadID = s.threadID
		s.items[it.ID] = it
		kept = append(kept, it)
	}

	s.cursor.Token = p.NextCursor
	s.cursor.Page++
	s.cursor.HasMore = p.HasMore

	if s.db == nil {
		return
	}
	if err := repo.UpsertItems(s.db, kept); err != nil {
		log.Warn().Err(err).Str("thread_id", s.threadID).Msg("cache page write failed")
	}
	if err := repo.SaveCursor(s.db, s.cursor); err != nil {
		log.Warn().Err(err).Str("thread_id", s.threadID).Msg("cache cursor write failed")
	}
}

// ApplyEvent folds one realtime change into the confirmed set. Repeated or
// out-of-order delivery is safe: upserts are keyed by id and deletions are
// recorded as tombstones, so replaying an event reproduces the same state.
// An Inserted/Updated for a tombstoned id is a contradicting observation
// and clears the tombstone.
func (s *Store) ApplyEvent(ev domain.ChangeEvent) {
	switch ev.Kind {
	case domain.EventInserted, domain.EventUpdated:
		it := ev.Item
		it.ThreadID = s.threadID
		if _, dead := s.tombstones[it.ID]; dead {
			delete(s.tombstones, it.ID)
			if s.db != nil {
				if err := repo.ClearTombstone(s.db, s.threadID, it.ID); err != nil {
					log.Warn().Err(err).Str("item_id", it.ID).Msg("cache tombstone clear failed")
				}
			}
		}
		s.items[it.ID] = it
		if s.db != nil {
			if err := repo.UpsertItems(s.db, []domain.Item{it}); err != nil {
				log.Warn().Err(err).Str("item_id", it.ID).Msg("cache event write failed")
			}
		}
	case domain.EventDeleted:
		s.Remove(ev.Item.ID)
	default:
		log.Warn().Str("kind", string(ev.Kind)).Msg("ignoring unknown realtime event kind")
	}
}

// Upsert places one confirmed item into the set (used when a resolution
// echoes the server-assigned copy of an optimistic create).
func (s *Store) Upsert(it domain.Item) {
	it.ThreadID = s.threadID
	s.items[it.ID] = it
	if s.db != nil {
		if err := repo.UpsertItems(s.db, []domain.Item{it}); err != nil {
			log.Warn().Err(err).Str("item_id", it.ID).Msg("cache upsert failed")
		}
	}
}

// Remove deletes an id from the confirmed set and records a tombstone (used
// for confirmed local deletes and remote Deleted events alike).
func (s *Store) Remove(itemID string) {
	delete(s.items, itemID)
	s.tombstones[itemID] = struct{}{}
	if s.db != nil {
		if err := repo.DeleteItem(s.db, s.threadID, itemID); err != nil {
			log.Warn().Err(err).Str("item_id", itemID).Msg("cache delete failed")
		}
		if err := repo.PutTombstone(s.db, s.threadID, itemID); err != nil {
			log.Warn().Err(err).Str("item_id", itemID).Msg("cache tombstone write failed")
		}
	}
}
