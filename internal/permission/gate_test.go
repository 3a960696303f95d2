package permission

import (
	"testing"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

func TestCanMutate_CreateSelfAttributed(t *testing.T) {
	it := &domain.Item{ID: "l1", AuthorID: "u1", Content: "hi"}
	if !CanMutate("u1", domain.OpCreate, it) {
		t.Fatalf("self-attributed create must be allowed")
	}
}

func TestCanMutate_CreateAttributedToOther(t *testing.T) {
	it := &domain.Item{ID: "l1", AuthorID: "u2", Content: "hi"}
	if CanMutate("u1", domain.OpCreate, it) {
		t.Fatalf("create attributed to another actor must be denied")
	}
}

func TestCanMutate_DeleteOwnItem(t *testing.T) {
	it := &domain.Item{ID: "1", AuthorID: "u1"}
	if !CanMutate("u1", domain.OpDelete, it) {
		t.Fatalf("delete of own item must be allowed")
	}
}

func TestCanMutate_DeleteForeignItem(t *testing.T) {
	it := &domain.Item{ID: "1", AuthorID: "u2"}
	if CanMutate("u1", domain.OpDelete, it) {
		t.Fatalf("delete of foreign item must be denied")
	}
}

func TestCanMutate_DeleteUnknownAuthorDenied(t *testing.T) {
	if CanMutate("u1", domain.OpDelete, &domain.Item{ID: "1"}) {
		t.Fatalf("unresolved authorship must deny, not guess")
	}
	if CanMutate("u1", domain.OpDelete, &domain.Item{ID: "1", AuthorID: "   "}) {
		t.Fatalf("blank authorship must deny")
	}
	if CanMutate("u1", domain.OpDelete, nil) {
		t.Fatalf("nil target must deny")
	}
}

func TestCanMutate_EmptyActorDenied(t *testing.T) {
	it := &domain.Item{ID: "1", AuthorID: "u1"}
	if CanMutate("", domain.OpDelete, it) || CanMutate("  ", domain.OpCreate, it) {
		t.Fatalf("empty actor id must be denied")
	}
}

func TestCanMutate_UnknownOpDenied(t *testing.T) {
	it := &domain.Item{ID: "1", AuthorID: "u1"}
	if CanMutate("u1", domain.MutationOp("edit"), it) {
		t.Fatalf("unknown operation must be denied")
	}
}
