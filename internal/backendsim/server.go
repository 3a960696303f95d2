// Package backendsim is an in-process stand-in for the managed backend,
// used by integration-style tests and local development. It serves the same
// REST surface HTTPClient speaks (paged history, create, delete) plus the
// websocket change feed, backed by an in-memory per-thread collection.
//
// The simulator is deliberately small but wire-faithful: pagination walks
// the collection newest-first through opaque cursors, creates assign server
// ids and broadcast Inserted events, deletes broadcast Deleted events, and
// duplicate delivery can be forced to exercise consumer idempotency.
package backendsim

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

const (
	defaultLimit = 20
	maxLimit     = 100

	cursorPrefix = "off:"
)

// Server is the in-memory backend simulator. Construct with New, mount its
// Handler on an httptest.Server or a real listener.
type Server struct {
	apiKey string

	mu      sync.Mutex
	threads map[string][]domain.Item // newest-first
	subs    map[string]map[chan domain.ChangeEvent]struct{}
	nextID  int

	// EchoEvents > 1 delivers every broadcast that many times, letting tests
	// exercise at-least-once consumers.
	EchoEvents int
}

// New returns an empty simulator. apiKey may be "" to disable auth.
func New(apiKey string) *Server {
	return &Server{
		apiKey:  apiKey,
		threads: make(map[string][]domain.Item),
		subs:    make(map[string]map[chan domain.ChangeEvent]struct{}),
	}
}

// Seed installs confirmed items into a thread without broadcasting events.
func (s *Server) Seed(threadID string, items ...domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		it.ThreadID = threadID
		s.threads[threadID] = append(s.threads[threadID], it)
	}
	s.sortThread(threadID)
}

// Subscribers reports how many feeds are currently attached to the thread.
// Registration happens shortly after the upgrade handshake, so tests poll
// this before broadcasting.
func (s *Server) Subscribers(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[threadID])
}

// Broadcast pushes an arbitrary change event to every subscriber of the
// thread, bypassing the collection. Tests use it to simulate other actors.
func (s *Server) Broadcast(threadID string, ev domain.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(threadID, ev)
}

// Handler builds the HTTP surface: REST endpoints plus the websocket feed,
// wrapped in the usual transport middleware. The events route is excluded
// from gzip so the upgrade handshake is untouched.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "X-API-Key"},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{`.*/events$`})))
	r.Use(s.auth())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := r.Group("/v1")
	{
		v1.GET("/threads/:id/items", s.listItems)
		v1.POST("/threads/:id/items", s.createItem)
		v1.DELETE("/threads/:id/items/:itemID", s.deleteItem)
		v1.GET("/threads/:id/events", s.events)
	}
	return r
}

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.apiKey != "" && c.GetHeader("X-API-Key") != s.apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

// listItems serves one page, newest-first. The cursor is an opaque offset
// token; "" addresses the newest page. Fetching the same cursor twice
// returns the same logical page.
func (s *Server) listItems(c *gin.Context) {
	threadID := c.Param("id")

	offset, ok := decodeCursor(c.Query("cursor"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed cursor"})
		return
	}
	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed limit"})
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}

	s.mu.Lock()
	all := s.threads[threadID]
	var page []domain.Item
	if offset < len(all) {
		end := offset + limit
		if end > len(all) {
			end = len(all)
		}
		page = append(page, all[offset:end]...)
	}
	hasMore := offset+len(page) < len(all)
	s.mu.Unlock()

	out := gin.H{"items": page, "has_more": hasMore, "next_cursor": ""}
	if hasMore {
		out["next_cursor"] = encodeCursor(offset + len(page))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) createItem(c *gin.Context) {
	threadID := c.Param("id")

	var in struct {
		AuthorID  string    `json:"author_id"`
		Content   string    `json:"content"`
		CreatedAt time.Time `json:"created_at"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed body"})
		return
	}
	if strings.TrimSpace(in.Content) == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "empty content"})
		return
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.nextID++
	it := domain.Item{
		ID:        fmt.Sprintf("srv-%d", s.nextID),
		ThreadID:  threadID,
		AuthorID:  in.AuthorID,
		Content:   in.Content,
		CreatedAt: in.CreatedAt,
	}
	s.threads[threadID] = append(s.threads[threadID], it)
	s.sortThread(threadID)
	s.broadcastLocked(threadID, domain.ChangeEvent{Kind: domain.EventInserted, Item: it})
	s.mu.Unlock()

	c.JSON(http.StatusCreated, it)
}

func (s *Server) deleteItem(c *gin.Context) {
	threadID := c.Param("id")
	itemID := c.Param("itemID")

	s.mu.Lock()
	items := s.threads[threadID]
	idx := -1
	for i, it := range items {
		if it.ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		c.Status(http.StatusNotFound)
		return
	}
	deleted := items[idx]
	s.threads[threadID] = append(items[:idx], items[idx+1:]...)
	s.broadcastLocked(threadID, domain.ChangeEvent{Kind: domain.EventDeleted, Item: deleted})
	s.mu.Unlock()

	c.Status(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// events upgrades to a websocket and streams change events for the thread
// until the client goes away.
func (s *Server) events(c *gin.Context) {
	threadID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	feed := make(chan domain.ChangeEvent, 32)
	s.mu.Lock()
	if s.subs[threadID] == nil {
		s.subs[threadID] = make(map[chan domain.ChangeEvent]struct{})
	}
	s.subs[threadID][feed] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs[threadID], feed)
		s.mu.Unlock()
	}()

	// drain client frames so ping control messages are processed
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-feed:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (s *Server) broadcastLocked(threadID string, ev domain.ChangeEvent) {
	times := s.EchoEvents
	if times < 1 {
		times = 1
	}
	for feed := range s.subs[threadID] {
		for i := 0; i < times; i++ {
			select {
			case feed <- ev:
			default:
				log.Warn().Str("thread_id", threadID).Msg("simulator feed full, event dropped")
			}
		}
	}
}

func (s *Server) sortThread(threadID string) {
	items := s.threads[threadID]
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
}

func encodeCursor(offset int) string {
	return cursorPrefix + strconv.Itoa(offset)
}

func decodeCursor(token string) (int, bool) {
	if token == "" {
		return 0, true
	}
	raw, found := strings.CutPrefix(token, cursorPrefix)
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
