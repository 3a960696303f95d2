package repo

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

// ---------- test helpers ----------

func newCacheDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:cache_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func item(id string, offset int) domain.Item {
	return domain.Item{
		ID:        id,
		ThreadID:  "t1",
		AuthorID:  "u1",
		Content:   "content-" + id,
		CreatedAt: base.Add(time.Duration(offset) * time.Second),
	}
}

// ---------- items ----------

func TestUpsertItems_InsertAndReplace(t *testing.T) {
	db := newCacheDB(t)

	if err := UpsertItems(db, []domain.Item{item("1", 10), item("2", 20)}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// overlapping page re-delivers id 2 with edited content
	edited := item("2", 20)
	edited.Content = "edited"
	if err := UpsertItems(db, []domain.Item{edited}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := ListThreadItems(db, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (no duplicate rows)", len(got))
	}
	if got[0].ID != "2" || got[0].Content != "edited" {
		t.Fatalf("got[0] = %+v, want edited id 2 first", got[0])
	}
}

func TestUpsertItems_EmptySliceNoOp(t *testing.T) {
	db := newCacheDB(t)
	if err := UpsertItems(db, nil); err != nil {
		t.Fatalf("empty upsert: %v", err)
	}
}

func TestListThreadItems_OrderAndScope(t *testing.T) {
	db := newCacheDB(t)
	other := item("x", 99)
	other.ThreadID = "t2"
	tie := item("b", 10)
	tie2 := item("a", 10)
	if err := UpsertItems(db, []domain.Item{item("1", 30), tie, tie2, other}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := ListThreadItems(db, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"1", "b", "a"}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("got[%d] = %q, want %q (full: %+v)", i, got[i].ID, id, got)
		}
	}
}

func TestDeleteItem_RemovesRow(t *testing.T) {
	db := newCacheDB(t)
	if err := UpsertItems(db, []domain.Item{item("1", 10)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := DeleteItem(db, "t1", "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := DeleteItem(db, "t1", "1"); err != nil {
		t.Fatalf("repeat delete must be a no-op: %v", err)
	}
	n, err := CountThreadItems(db, "t1")
	if err != nil || n != 0 {
		t.Fatalf("count = %d err=%v, want 0", n, err)
	}
}

func TestCountThreadItems_MissingTableErrors(t *testing.T) {
	dsn := fmt.Sprintf("file:cache_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := CountThreadItems(db, "t1"); err == nil {
		t.Fatalf("expected error for missing table")
	}
}

// ---------- tombstones ----------

func TestPutTombstone_IdempotentAndScoped(t *testing.T) {
	db := newCacheDB(t)

	if err := PutTombstone(db, "t1", "2"); err != nil {
		t.Fatalf("put: %v", err)
	}
	// duplicate Deleted event
	if err := PutTombstone(db, "t1", "2"); err != nil {
		t.Fatalf("duplicate put must be a no-op: %v", err)
	}
	if err := PutTombstone(db, "t2", "2"); err != nil {
		t.Fatalf("other thread: %v", err)
	}

	got, err := ListTombstones(db, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0] != "2" {
		t.Fatalf("tombstones = %v, want [2]", got)
	}
}

func TestClearTombstone(t *testing.T) {
	db := newCacheDB(t)
	if err := PutTombstone(db, "t1", "2"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := ClearTombstone(db, "t1", "2"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := ClearTombstone(db, "t1", "2"); err != nil {
		t.Fatalf("repeat clear must be a no-op: %v", err)
	}
	got, err := ListTombstones(db, "t1")
	if err != nil || len(got) != 0 {
		t.Fatalf("tombstones = %v err=%v, want empty", got, err)
	}
}

// ---------- cursors ----------

func TestCursor_RoundTripAndMonotonicity(t *testing.T) {
	db := newCacheDB(t)

	if cs, err := GetCursor(db, "t1"); err != nil || cs != nil {
		t.Fatalf("fresh thread: cs=%+v err=%v, want nil,nil", cs, err)
	}

	if err := SaveCursor(db, domain.CursorState{ThreadID: "t1", Token: "p1", Page: 1, HasMore: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := SaveCursor(db, domain.CursorState{ThreadID: "t1", Token: "p2", Page: 2, HasMore: false}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// replayed page application must not rewind
	if err := SaveCursor(db, domain.CursorState{ThreadID: "t1", Token: "p1", Page: 1, HasMore: true}); err != nil {
		t.Fatalf("replay: %v", err)
	}

	cs, err := GetCursor(db, "t1")
	if err != nil || cs == nil {
		t.Fatalf("get: cs=%+v err=%v", cs, err)
	}
	if cs.Token != "p2" || cs.Page != 2 || cs.HasMore {
		t.Fatalf("cursor = %+v, want page 2 token p2 has_more=false", cs)
	}
}
