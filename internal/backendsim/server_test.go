package backendsim

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func startSim(t *testing.T, sim *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(sim.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func wsDial(t *testing.T, ts *httptest.Server, threadID string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/threads/" + threadID + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitSubs blocks until n feeds are registered for the thread; the server
// registers a feed shortly after the upgrade handshake completes.
func waitSubs(t *testing.T, sim *Server, threadID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sim.Subscribers(threadID) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("feed registration timed out")
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.ChangeEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev domain.ChangeEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestListItems_MalformedCursor(t *testing.T) {
	ts := startSim(t, New(""))

	resp, err := http.Get(ts.URL + "/v1/threads/t1/items?cursor=bogus")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreate_BroadcastsInserted(t *testing.T) {
	sim := New("")
	ts := startSim(t, sim)
	conn := wsDial(t, ts, "t1")
	waitSubs(t, sim, "t1", 1)

	body, _ := json.Marshal(map[string]any{
		"author_id":  "u1",
		"content":    "hello",
		"created_at": base,
	})
	resp, err := http.Post(ts.URL+"/v1/threads/t1/items", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var created domain.Item
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	ev := readEvent(t, conn)
	if ev.Kind != domain.EventInserted || ev.Item.ID != created.ID {
		t.Fatalf("event = %+v, want Inserted for %s", ev, created.ID)
	}
}

func TestDelete_BroadcastsDeletedWithEcho(t *testing.T) {
	sim := New("")
	sim.Seed("t1", domain.Item{ID: "a", AuthorID: "u1", Content: "x", CreatedAt: base})
	sim.EchoEvents = 2 // force at-least-once duplicates
	ts := startSim(t, sim)
	conn := wsDial(t, ts, "t1")
	waitSubs(t, sim, "t1", 1)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/threads/t1/items/a", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	for i := 0; i < 2; i++ {
		ev := readEvent(t, conn)
		if ev.Kind != domain.EventDeleted || ev.Item.ID != "a" {
			t.Fatalf("event %d = %+v, want duplicated Deleted for a", i, ev)
		}
	}
}

func TestBroadcast_ReachesAllSubscribers(t *testing.T) {
	sim := New("")
	ts := startSim(t, sim)
	c1 := wsDial(t, ts, "t1")
	c2 := wsDial(t, ts, "t1")

	ev := domain.ChangeEvent{
		Kind: domain.EventUpdated,
		Item: domain.Item{ID: "z", Content: "edited", CreatedAt: base},
	}

	waitSubs(t, sim, "t1", 2)
	sim.Broadcast("t1", ev)

	for i, conn := range []*websocket.Conn{c1, c2} {
		got := readEvent(t, conn)
		if got.Kind != domain.EventUpdated || got.Item.ID != "z" {
			t.Fatalf("subscriber %d got %+v", i, got)
		}
	}
}

func TestAuth_RejectsMissingKey(t *testing.T) {
	ts := startSim(t, New("sekret"))

	resp, err := http.Get(ts.URL + "/v1/threads/t1/items")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
