// Package realtime delivers the live tail of a thread: an unbounded
// sequence of remote change events pushed by other actors. Delivery is
// at-least-once and unordered between distinct items; consumers reconstruct
// ordering from item timestamps, never from arrival order.
//
// A subscription is a scoped resource: it owns a cancellation token, its
// Close is idempotent, and the owning thread view guarantees Close runs on
// every exit path so channels are never leaked.
package realtime

import (
	"context"
	"sync"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

// Handler consumes one change event. Handlers must be fast and non-blocking;
// the thread view's handler just posts the event to its apply queue.
type Handler func(domain.ChangeEvent)

// DropHandler is notified when the channel is lost for good (redial
// exhausted). The merged view is not corrupted by a drop — historical fetch
// remains authoritative for anything missed — so this is a degraded-freshness
// signal, not an error path.
type DropHandler func(err error)

// Subscriber opens realtime channels keyed by thread id.
type Subscriber interface {
	// Subscribe opens the channel for threadID and starts delivering events
	// to onEvent. onDrop may be nil.
	Subscribe(ctx context.Context, threadID string, onEvent Handler, onDrop DropHandler) (*Subscription, error)
}

// Subscription represents one open realtime channel.
type Subscription struct {
	threadID   string
	cancel     context.CancelFunc
	done       chan struct{}
	once       sync.Once
	finishOnce sync.Once
}

// NewSubscription builds the handle a Subscriber implementation hands back
// from Subscribe. The implementation must call Finish exactly when its
// delivery goroutine has fully stopped.
func NewSubscription(threadID string, cancel context.CancelFunc) *Subscription {
	return &Subscription{
		threadID: threadID,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Finish marks delivery as fully stopped, releasing Done waiters. Called by
// Subscriber implementations only; idempotent.
func (s *Subscription) Finish() {
	s.finishOnce.Do(func() { close(s.done) })
}

// ThreadID returns the thread this subscription serves.
func (s *Subscription) ThreadID() string { return s.threadID }

// Close cancels the channel. Safe to call any number of times from any
// goroutine; the first call wins and the rest are no-ops.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
}

// Done is closed once the delivery goroutine has fully exited. No events
// are delivered after Done is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }
