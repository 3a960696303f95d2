// Package services – ThreadService
//
// This file implements ThreadService, the entry point the UI layer uses to
// open per-thread views. Each open view owns its reconciliation state (item
// store, optimistic tracker, realtime subscription) and an apply queue that
// serializes every input change, per the engine's single-writer discipline.
// There is no ambient singleton: the service is injected, and each view's
// lifecycle is bounded by OpenThread/Close.
//
// Observability: public operations are OpenTelemetry-instrumented; spans
// include thread/actor identifiers.

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-thread-sync/internal/backend"
	"github.com/tbourn/go-thread-sync/internal/optimistic"
	"github.com/tbourn/go-thread-sync/internal/realtime"
	"github.com/tbourn/go-thread-sync/internal/store"
)

const (
	defaultPageSize       = 20
	defaultPendingTimeout = 30 * time.Second

	// sweepDivisor controls how often the pending-timeout sweeper runs
	// relative to the timeout itself.
	sweepDivisor = 4
	minSweepTick = time.Second
)

// ThreadService opens reconciled views over threads. All fields are
// collaborators injected by the caller; Cache may be nil for memory-only
// operation (tests, ephemeral sessions).
type ThreadService struct {
	Backend    backend.Backend
	Subscriber realtime.Subscriber
	Cache      *gorm.DB

	// PageSize is the historical fetch page size.
	PageSize int
	// PendingTimeout bounds how long an optimistic mutation may stay
	// pending before it is failed and surfaced for retry.
	PendingTimeout time.Duration
	// MaxContentRunes caps create content length; 0 disables the check.
	MaxContentRunes int
}

// OpenThread opens a view over threadID on behalf of actorID: it warms the
// confirmed set from the cache, subscribes to the realtime channel, starts
// the apply loop, and requests the first historical page. The returned view
// must be closed by the caller on every exit path.
func (s *ThreadService) OpenThread(ctx context.Context, threadID, actorID string) (*ThreadView, error) {
	tr := otel.Tracer("services/ThreadService")
	ctx, span := tr.Start(ctx, "OpenThread",
		trace.WithAttributes(
			attribute.String("thread.id", threadID),
			attribute.String("actor.id", actorID),
		),
	)
	defer span.End()

	st, err := store.Open(s.Cache, threadID)
	if err != nil {
		return nil, err
	}

	timeout := s.PendingTimeout
	if timeout <= 0 {
		timeout = defaultPendingTimeout
	}

	viewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	v := &ThreadView{
		svc:      s,
		threadID: threadID,
		actorID:  actorID,
		ctx:      viewCtx,
		cancel:   cancel,
		apply:    make(chan func(), 64),
		updates:  make(chan ViewUpdate, 16),
		loopDone: make(chan struct{}),
		store:    st,
		tracker:  optimistic.New(timeout),
	}

	var dropped bool
	if s.Subscriber != nil {
		sub, err := s.Subscriber.Subscribe(viewCtx, threadID, v.onEvent, v.onDrop)
		if err != nil {
			// Degraded-freshness open: history still works, so the view is
			// served without a live tail rather than failing outright.
			log.Warn().Err(err).Str("thread_id", threadID).Msg("opening thread without realtime channel")
			dropped = true
		} else {
			v.sub = sub
		}
	}

	go v.loop()
	go v.sweep(timeout)

	// publish the cache-warmed view, then request the first page; a view
	// opened without its live tail says so from the very first update
	v.post(func() {
		var n *Notice
		if dropped {
			n = &Notice{Err: ErrSubscriptionDropped}
		}
		v.emit(v.remerge(), n)
	})
	if err := v.LoadMore(); err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("initial page load not scheduled")
	}
	return v, nil
}

func (s *ThreadService) pageSize() int {
	if s.PageSize > 0 {
		return s.PageSize
	}
	return defaultPageSize
}
