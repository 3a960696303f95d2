// Package repo – repository functions for delete tombstones.
package repo

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

// PutTombstone records that itemID was deleted in threadID. Re-recording an
// existing tombstone is a no-op, so duplicate Deleted events are harmless.
func PutTombstone(db *gorm.DB, threadID, itemID string) error {
	ts := &domain.Tombstone{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		ItemID:    itemID,
		DeletedAt: time.Now().UTC(),
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}, {Name: "item_id"}},
		DoNothing: true,
	}).Create(ts).Error
}

// ClearTombstone removes a tombstone after a contradicting realtime event
// (an Inserted/Updated for the same id). Missing rows are not an error.
func ClearTombstone(db *gorm.DB, threadID, itemID string) error {
	return db.Where("thread_id = ? AND item_id = ?", threadID, itemID).
		Delete(&domain.Tombstone{}).Error
}

// ListTombstones returns the tombstoned item ids of a thread.
func ListTombstones(db *gorm.DB, threadID string) ([]string, error) {
	var out []string
	err := db.Model(&domain.Tombstone{}).
		Where("thread_id = ?", threadID).
		Order("deleted_at ASC").
		Pluck("item_id", &out).Error
	return out, err
}
