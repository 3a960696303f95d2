// Package repo – repository functions for cached items.
package repo

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

// UpsertItems writes confirmed items into the cache, replacing any existing
// row with the same id. Safe to call with overlapping pages or repeated
// realtime deliveries: the id is the sole deduplication key.
func UpsertItems(db *gorm.DB, items []domain.Item) error {
	if len(items) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"thread_id", "author_id", "content", "created_at"}),
	}).Create(&items).Error
}

// ListThreadItems returns the cached confirmed items of a thread ordered
// deterministically (CreatedAt DESC, ID DESC), matching the view order.
func ListThreadItems(db *gorm.DB, threadID string) ([]domain.Item, error) {
	var out []domain.Item
	err := db.
		Where("thread_id = ?", threadID).
		Order("created_at DESC, id DESC").
		Find(&out).Error
	return out, err
}

// DeleteItem removes a cached item row. Missing rows are not an error.
func DeleteItem(db *gorm.DB, threadID, itemID string) error {
	return db.Where("thread_id = ? AND id = ?", threadID, itemID).
		Delete(&domain.Item{}).Error
}

// CountThreadItems uses a raw COUNT so a missing table surfaces as an error
// (as tests expect).
func CountThreadItems(db *gorm.DB, threadID string) (int64, error) {
	var total int64
	err := db.Raw("SELECT COUNT(*) FROM items WHERE thread_id = ?", threadID).Scan(&total).Error
	return total, err
}
