// Package services – ThreadView
//
// ThreadView is the single logical owner of one thread's reconciliation
// state. Every input change — a fetched page, a realtime event, a mutation
// submission or resolution, a timeout sweep — is posted as a closure to the
// view's apply queue and executed by one goroutine, so the merge inputs
// never see concurrent writers. Fetch, submit, and realtime delivery remain
// non-blocking and may be in flight simultaneously; only their results are
// serialized.

package services

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-thread-sync/internal/domain"
	"github.com/tbourn/go-thread-sync/internal/merge"
	"github.com/tbourn/go-thread-sync/internal/metrics"
	"github.com/tbourn/go-thread-sync/internal/optimistic"
	"github.com/tbourn/go-thread-sync/internal/permission"
	"github.com/tbourn/go-thread-sync/internal/realtime"
	"github.com/tbourn/go-thread-sync/internal/store"
)

// Notice is a non-fatal condition surfaced on the update stream: a failed
// fetch, a rolled-back submission, or a dropped realtime channel. The
// accompanying view is always the last-known-consistent merge; nothing is
// ever left partially applied.
type Notice struct {
	Err     error
	LocalID string // set for submission failures/timeouts
}

// ViewUpdate is one emission of the view's change stream.
type ViewUpdate struct {
	Items  []domain.Item
	Notice *Notice
}

// ThreadView is the merged, ordered view of one thread plus the operations
// the UI invokes against it. All exported methods are safe for concurrent
// use; internally they serialize through the apply queue.
type ThreadView struct {
	svc      *ThreadService
	threadID string
	actorID  string

	ctx      context.Context
	cancel   context.CancelFunc
	apply    chan func()
	loopDone chan struct{}
	updates  chan ViewUpdate

	store   *store.Store
	tracker *optimistic.Tracker
	sub     *realtime.Subscription

	// displacedNotices holds notices whose carrying update was discarded by
	// emit's backpressure policy; they ride out on later emissions so a slow
	// consumer may miss intermediate views but never a failure signal.
	// Touched only on the apply goroutine.
	displacedNotices []*Notice

	mu      sync.RWMutex
	current []domain.Item

	closeOnce sync.Once
}

// ThreadID returns the thread this view serves.
func (v *ThreadView) ThreadID() string { return v.threadID }

// Updates returns the change stream: every merge (and every notice) is
// published here. The channel is closed by Close. Slow consumers never
// block the engine; stale intermediate views are dropped in favor of newer
// ones.
func (v *ThreadView) Updates() <-chan ViewUpdate { return v.updates }

// Items returns a copy of the current merged view.
func (v *ThreadView) Items() []domain.Item {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.Item, len(v.current))
	copy(out, v.current)
	return out
}

// FailedMutations lists the failed creates retained for manual retry.
func (v *ThreadView) FailedMutations() []domain.MutationRecord {
	var out []domain.MutationRecord
	if err := v.do(func() { out = v.tracker.Failed() }); err != nil {
		return nil
	}
	return out
}

// LoadMore requests the next historical page. Concurrent calls collapse
// into the single in-flight fetch; when no further pages exist the call is
// a no-op. The result (or failure notice) arrives on the update stream.
func (v *ThreadView) LoadMore() error {
	tr := otel.Tracer("services/ThreadView")
	_, span := tr.Start(v.ctx, "LoadMore",
		trace.WithAttributes(attribute.String("thread.id", v.threadID)),
	)
	defer span.End()

	return v.post(func() {
		token, hasMore := v.store.Cursor()
		if !hasMore || !v.store.BeginFetch() {
			return
		}
		go v.fetchPage(token)
	})
}

func (v *ThreadView) fetchPage(token string) {
	page, err := v.svc.Backend.FetchPage(v.ctx, v.threadID, token, v.svc.pageSize())
	v.post(func() {
		v.store.EndFetch()
		if err != nil {
			metrics.FetchFailures.Inc()
			log.Warn().Err(err).Str("thread_id", v.threadID).Msg("page fetch failed, cursor unchanged")
			v.emit(v.remerge(), &Notice{Err: ErrFetchFailed})
			return
		}
		v.store.ApplyPage(*page)
		v.emit(v.remerge(), nil)
	})
}

// SubmitCreate submits a new item authored by the current actor. It returns
// immediately with the mutation's local id; the speculative item is already
// part of the merged view. Confirmation or rollback is observed on the
// update stream.
func (v *ThreadView) SubmitCreate(content string) (string, error) {
	tr := otel.Tracer("services/ThreadView")
	_, span := tr.Start(v.ctx, "SubmitCreate",
		trace.WithAttributes(
			attribute.String("thread.id", v.threadID),
			attribute.String("actor.id", v.actorID),
		),
	)
	defer span.End()

	content = strings.TrimSpace(norm.NFC.String(content))
	if content == "" {
		return "", ErrEmptyContent
	}
	if v.svc.MaxContentRunes > 0 && utf8.RuneCountInString(content) > v.svc.MaxContentRunes {
		return "", ErrContentTooLong
	}

	item := domain.Item{
		ID:        uuid.NewString(),
		ThreadID:  v.threadID,
		AuthorID:  v.actorID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	var localID string
	var rejected bool
	err := v.do(func() {
		if !permission.CanMutate(v.actorID, domain.OpCreate, &item) {
			rejected = true
			return
		}
		localID = v.tracker.Submit(domain.MutationRecord{Op: domain.OpCreate, Item: item})
		if localID == "" { // tracker already abandoned
			return
		}
		metrics.PendingMutations.Inc()
		v.emit(v.remerge(), nil)
		go v.dispatchCreate(localID, item)
	})
	if err != nil {
		return "", err
	}
	if rejected {
		return "", ErrSubmissionRejected
	}
	if localID == "" {
		return "", ErrViewClosed
	}
	return localID, nil
}

func (v *ThreadView) dispatchCreate(localID string, item domain.Item) {
	serverItem, err := v.svc.Backend.CreateItem(v.ctx, v.threadID, item)
	v.post(func() {
		if err != nil {
			if _, applied := v.tracker.Resolve(localID, optimistic.Outcome{State: domain.StateFailed}); applied {
				metrics.PendingMutations.Dec()
				metrics.Rollbacks.WithLabelValues("failed").Inc()
				v.emit(v.remerge(), &Notice{Err: ErrSubmissionFailed, LocalID: localID})
			}
			return
		}
		if _, applied := v.tracker.Resolve(localID, optimistic.Outcome{State: domain.StateConfirmed, ServerItem: serverItem}); applied {
			// Upsert and retire in the same apply step: the confirmed copy
			// replaces the speculative one with no duplicate window.
			v.store.Upsert(*serverItem)
			v.tracker.Retire(localID)
			metrics.PendingMutations.Dec()
			v.emit(v.remerge(), nil)
		}
	})
}

// SubmitDelete submits the removal of an item the actor authored. The gate
// is consulted before any record is created: a denial (including unknown
// authorship) returns ErrSubmissionRejected with no network attempt. On
// success the target is hidden immediately; rollback un-hides it.
func (v *ThreadView) SubmitDelete(itemID string) (string, error) {
	tr := otel.Tracer("services/ThreadView")
	_, span := tr.Start(v.ctx, "SubmitDelete",
		trace.WithAttributes(
			attribute.String("thread.id", v.threadID),
			attribute.String("item.id", itemID),
		),
	)
	defer span.End()

	var localID string
	var rejected bool
	err := v.do(func() {
		var target *domain.Item
		if it, ok := v.store.Items()[itemID]; ok {
			target = &it
		}
		if !permission.CanMutate(v.actorID, domain.OpDelete, target) {
			rejected = true
			return
		}
		localID = v.tracker.Submit(domain.MutationRecord{Op: domain.OpDelete, TargetID: itemID})
		if localID == "" { // tracker already abandoned
			return
		}
		metrics.PendingMutations.Inc()
		v.emit(v.remerge(), nil)
		go v.dispatchDelete(localID, itemID)
	})
	if err != nil {
		return "", err
	}
	if rejected {
		return "", ErrSubmissionRejected
	}
	if localID == "" {
		return "", ErrViewClosed
	}
	return localID, nil
}

func (v *ThreadView) dispatchDelete(localID, itemID string) {
	err := v.svc.Backend.DeleteItem(v.ctx, v.threadID, itemID)
	v.post(func() {
		if err != nil {
			if _, applied := v.tracker.Resolve(localID, optimistic.Outcome{State: domain.StateFailed}); applied {
				metrics.PendingMutations.Dec()
				metrics.Rollbacks.WithLabelValues("failed").Inc()
				v.emit(v.remerge(), &Notice{Err: ErrSubmissionFailed, LocalID: localID})
			}
			return
		}
		if _, applied := v.tracker.Resolve(localID, optimistic.Outcome{State: domain.StateConfirmed}); applied {
			v.store.Remove(itemID)
			v.tracker.Retire(localID)
			metrics.PendingMutations.Dec()
			v.emit(v.remerge(), nil)
		}
	})
}

// Retry resubmits a failed create identified by its local id.
func (v *ThreadView) Retry(localID string) error {
	var rec domain.MutationRecord
	var ok bool
	err := v.do(func() {
		rec, ok = v.tracker.Reopen(localID, time.Now().UTC())
		if !ok {
			return
		}
		metrics.PendingMutations.Inc()
		v.emit(v.remerge(), nil)
		go v.dispatchCreate(localID, rec.Item)
	})
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownMutation
	}
	return nil
}

// Close releases the realtime subscription, abandons unresolved local
// mutations, and closes the update stream. Idempotent; resolutions that
// arrive after Close are ignored.
func (v *ThreadView) Close() {
	v.closeOnce.Do(func() {
		if v.sub != nil {
			v.sub.Close()
		}
		// final apply step: settle the gauge and drop unresolved records
		v.do(func() {
			n := 0
			for _, rec := range v.tracker.Records() {
				if rec.State == domain.StatePending {
					n++
				}
			}
			metrics.PendingMutations.Sub(float64(n))
			v.tracker.Abandon()
		})
		v.cancel()
		<-v.loopDone
		close(v.updates)
	})
}

// ---------- apply queue ----------

func (v *ThreadView) loop() {
	defer close(v.loopDone)
	for {
		select {
		case fn := <-v.apply:
			fn()
		case <-v.ctx.Done():
			return
		}
	}
}

// post schedules fn on the apply queue; closures posted after Close are
// dropped (late resolutions, stray events).
func (v *ThreadView) post(fn func()) error {
	select {
	case v.apply <- fn:
		return nil
	case <-v.ctx.Done():
		return ErrViewClosed
	}
}

// do runs fn on the apply queue and waits for it to complete.
func (v *ThreadView) do(fn func()) error {
	done := make(chan struct{})
	if err := v.post(func() { fn(); close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-v.ctx.Done():
		return ErrViewClosed
	}
}

// ---------- merge inputs ----------

// onEvent is the realtime handler; it only posts, keeping delivery fast.
func (v *ThreadView) onEvent(ev domain.ChangeEvent) {
	v.post(func() {
		metrics.RealtimeEvents.WithLabelValues(string(ev.Kind)).Inc()
		v.store.ApplyEvent(ev)
		v.emit(v.remerge(), nil)
	})
}

// onDrop surfaces a lost realtime channel as degraded freshness.
func (v *ThreadView) onDrop(err error) {
	v.post(func() {
		log.Warn().Err(err).Str("thread_id", v.threadID).Msg("realtime channel dropped")
		v.emit(v.Items(), &Notice{Err: ErrSubscriptionDropped})
	})
}

// sweep periodically fails mutations that overstayed the pending timeout.
func (v *ThreadView) sweep(timeout time.Duration) {
	tick := timeout / sweepDivisor
	if tick < minSweepTick {
		tick = minSweepTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			v.post(func() {
				expired := v.tracker.Expired(time.Now().UTC())
				for _, rec := range expired {
					if _, applied := v.tracker.Resolve(rec.LocalID, optimistic.Outcome{State: domain.StateFailed}); applied {
						metrics.PendingMutations.Dec()
						metrics.Rollbacks.WithLabelValues("timeout").Inc()
						v.emit(v.remerge(), &Notice{Err: ErrSubmissionTimedOut, LocalID: rec.LocalID})
					}
				}
			})
		case <-v.ctx.Done():
			return
		}
	}
}

// remerge recomputes the merged view from the current inputs and stores it
// as the view snapshot. Runs only on the apply goroutine.
func (v *ThreadView) remerge() []domain.Item {
	metrics.Merges.Inc()
	view := merge.Reconcile(merge.Inputs{
		Confirmed:  v.store.Items(),
		Tombstones: v.store.Tombstones(),
		Pending:    v.tracker.Records(),
	})
	v.mu.Lock()
	v.current = view
	v.mu.Unlock()
	return view
}

// emit publishes an update without ever blocking the apply loop: when the
// buffer is full the oldest queued update is discarded, since only the
// newest merge matters to a renderer. Notices are never lost to that
// policy — one displaced from the queue is re-attached to a later update.
func (v *ThreadView) emit(items []domain.Item, n *Notice) {
	if n == nil && len(v.displacedNotices) > 0 {
		n = v.displacedNotices[0]
		v.displacedNotices = v.displacedNotices[1:]
	}
	u := ViewUpdate{Items: items, Notice: n}
	for {
		select {
		case v.updates <- u:
			return
		default:
			select {
			case old := <-v.updates:
				if old.Notice != nil {
					v.displacedNotices = append(v.displacedNotices, old.Notice)
				}
			default:
			}
		}
	}
}
