// Package permission decides whether the current actor may submit a given
// mutation. The gate is a pure function of actor identity and target-item
// authorship: it never performs network I/O, and it is consulted before a
// mutation is ever handed to the optimistic tracker, so a denial is a local,
// immediate rejection with no side effects.
//
// Authorship is a mandatory typed field resolved at the data boundary. When
// it cannot be established from data already held in memory the answer is
// "unknown, deny" — never a best-effort guess.
package permission

import (
	"strings"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

// CanMutate reports whether actorID may submit the given operation.
//
// Rules:
//   - Create: an actor may always create content attributed to themselves;
//     the speculative item's AuthorID must equal actorID.
//   - Delete: an actor may delete only items they authored (author-id
//     equality). A nil target or an item with unresolved authorship is
//     denied.
func CanMutate(actorID string, op domain.MutationOp, item *domain.Item) bool {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return false
	}

	switch op {
	case domain.OpCreate:
		return item != nil && item.AuthorID == actorID
	case domain.OpDelete:
		if item == nil || strings.TrimSpace(item.AuthorID) == "" {
			return false // authorship unknown: deny, never guess
		}
		return item.AuthorID == actorID
	default:
		return false
	}
}
