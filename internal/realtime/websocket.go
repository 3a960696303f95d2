// Package realtime – WSSubscriber
//
// Websocket implementation of Subscriber against the managed backend's
// change feed. The read loop keeps the connection alive with ping/pong and
// redials with exponential backoff when the connection breaks; only after
// the redial budget is exhausted is the drop handler invoked.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	defaultRedialTries = 5
)

// WSSubscriber dials ws(s)://…/v1/threads/{id}/events.
type WSSubscriber struct {
	// BaseURL is the websocket origin, e.g. "ws://localhost:8080".
	BaseURL string
	// APIKey is sent as X-API-Key on the upgrade request when set.
	APIKey string
	// Dialer defaults to websocket.DefaultDialer when nil.
	Dialer *websocket.Dialer
	// RedialTries bounds reconnect attempts per outage.
	RedialTries uint
}

// Subscribe implements Subscriber. The initial dial is synchronous so the
// caller learns immediately whether the channel could be opened; later
// outages are handled by the internal redial loop.
func (s *WSSubscriber) Subscribe(ctx context.Context, threadID string, onEvent Handler, onDrop DropHandler) (*Subscription, error) {
	conn, err := s.dial(ctx, threadID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := NewSubscription(threadID, cancel)
	go s.run(ctx, sub, conn, threadID, onEvent, onDrop)
	return sub, nil
}

func (s *WSSubscriber) run(ctx context.Context, sub *Subscription, conn *websocket.Conn, threadID string, onEvent Handler, onDrop DropHandler) {
	defer sub.Finish()

	for {
		err := s.consume(ctx, conn, onEvent)
		if ctx.Err() != nil {
			return // closed by the owner, not an outage
		}
		log.Warn().Err(err).Str("thread_id", threadID).Msg("realtime channel interrupted, redialing")

		conn, err = s.redial(ctx, threadID)
		if err != nil {
			if ctx.Err() == nil && onDrop != nil {
				onDrop(err)
			}
			return
		}
	}
}

// consume reads events from one connection until it breaks. The spawned
// watcher closes the connection on context cancellation so ReadJSON
// unblocks promptly.
func (s *WSSubscriber) consume(ctx context.Context, conn *websocket.Conn, onEvent Handler) error {
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	for {
		var ev domain.ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		onEvent(ev)
	}
}

func (s *WSSubscriber) dial(ctx context.Context, threadID string) (*websocket.Conn, error) {
	d := s.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}

	var hdr http.Header
	if s.APIKey != "" {
		hdr = http.Header{"X-API-Key": []string{s.APIKey}}
	}

	u := fmt.Sprintf("%s/v1/threads/%s/events", s.BaseURL, url.PathEscape(threadID))
	conn, resp, err := d.DialContext(ctx, u, hdr)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", threadID, err)
	}
	return conn, nil
}

func (s *WSSubscriber) redial(ctx context.Context, threadID string) (*websocket.Conn, error) {
	tries := s.RedialTries
	if tries == 0 {
		tries = defaultRedialTries
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		return s.dial(ctx, threadID)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(tries))
}

var _ Subscriber = (*WSSubscriber)(nil)
