// Package repo – repository functions for pagination cursors.
package repo

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

// GetCursor fetches the persisted cursor for a thread, or nil when the
// thread has never been paged.
func GetCursor(db *gorm.DB, threadID string) (*domain.CursorState, error) {
	var cs domain.CursorState
	err := db.Where("thread_id = ?", threadID).First(&cs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// SaveCursor upserts the cursor for a thread. The cursor only moves forward:
// an attempt to persist a page number at or below the stored one is dropped
// silently, which makes replayed page applications idempotent.
func SaveCursor(db *gorm.DB, cs domain.CursorState) error {
	cs.UpdatedAt = time.Now().UTC()
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "page", "has_more", "updated_at"}),
		Where: clause.Where{
			Exprs: []clause.Expression{
				clause.Lt{Column: clause.Column{Table: "cursors", Name: "page"}, Value: cs.Page},
			},
		},
	}).Create(&cs).Error
}
