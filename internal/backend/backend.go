// Package backend defines the network collaborator the reconciliation
// engine consumes: a paged historical fetch plus create/delete submission
// endpoints, all keyed by thread id. The engine only ever sees this
// interface; HTTPClient in this package is the thin REST implementation
// against the managed backend.
package backend

import (
	"context"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

// Page is one slice of a thread's history.
//
// Fields:
//   - Items: the confirmed items of the page, any order (the engine sorts).
//   - NextCursor: opaque token addressing the next older page.
//   - HasMore: whether another page exists beyond NextCursor.
type Page struct {
	Items      []domain.Item `json:"items"`
	NextCursor string        `json:"next_cursor"`
	HasMore    bool          `json:"has_more"`
}

// Backend is the remote collaborator contract. All methods are blocking and
// honor context cancellation; retry/timeout policy is internal to the
// implementation (transport-level), not the engine's concern.
type Backend interface {
	// FetchPage returns the page addressed by cursor ("" for the newest
	// page). Fetching the same cursor twice returns the same logical page,
	// so a retry after a failure is idempotent.
	FetchPage(ctx context.Context, threadID, cursor string, limit int) (*Page, error)

	// CreateItem submits a speculative item and returns the acknowledged
	// item carrying the server-assigned id.
	CreateItem(ctx context.Context, threadID string, item domain.Item) (*domain.Item, error)

	// DeleteItem submits the removal of an item.
	DeleteItem(ctx context.Context, threadID, itemID string) error
}
