// Package backend – HTTPClient
//
// Thin REST client for the managed backend. Page fetches are idempotent
// GETs and are retried with exponential backoff; mutations are submitted
// exactly once and throttled through a client-side token bucket so a burst
// of optimistic writes cannot flood the backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

const (
	apiKeyHeader = "X-API-Key"

	defaultPageLimit   = 20
	defaultFetchTries  = 4
	defaultHTTPTimeout = 10 * time.Second
)

// HTTPClient implements Backend over the managed backend's REST API.
//
// Fields:
//   - BaseURL: scheme://host[:port] of the backend, no trailing slash.
//   - APIKey: optional key sent as X-API-Key.
//   - HTTP: underlying client; a sane default is installed when nil.
//   - Limiter: token bucket applied to mutations only (fetches are reads
//     and pace themselves through pagination).
//   - FetchTries: attempts per page fetch before giving up.
type HTTPClient struct {
	BaseURL    string
	APIKey     string
	HTTP       *http.Client
	Limiter    *rate.Limiter
	FetchTries uint
}

// NewHTTPClient returns a client with default timeout and throttle.
func NewHTTPClient(baseURL, apiKey string, rps float64, burst int) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		HTTP:       &http.Client{Timeout: defaultHTTPTimeout},
		Limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		FetchTries: defaultFetchTries,
	}
}

// FetchPage implements Backend. Transient failures (network errors, 5xx,
// 429) are retried with exponential backoff; other HTTP errors abort
// immediately. The cursor is never consumed on failure, so the caller's
// retry re-fetches the same page.
func (c *HTTPClient) FetchPage(ctx context.Context, threadID, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}

	u := fmt.Sprintf("%s/v1/threads/%s/items?cursor=%s&limit=%d",
		c.BaseURL, url.PathEscape(threadID), url.QueryEscape(cursor), limit)

	tries := c.FetchTries
	if tries == 0 {
		tries = defaultFetchTries
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, func() (*Page, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		c.authorize(req)

		resp, err := c.httpClient().Do(req)
		if err != nil {
			log.Debug().Err(err).Str("thread_id", threadID).Msg("page fetch attempt failed")
			return nil, err
		}
		defer resp.Body.Close()

		if retryable(resp.StatusCode) {
			io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("fetch page: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return nil, backoff.Permanent(fmt.Errorf("fetch page: status %d", resp.StatusCode))
		}

		var page Page
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("fetch page: decode: %w", err))
		}
		return &page, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(tries))
}

// CreateItem implements Backend. The speculative item's local id is not
// sent; the backend assigns the durable id and echoes the full item back.
func (c *HTTPClient) CreateItem(ctx context.Context, threadID string, item domain.Item) (*domain.Item, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]any{
		"author_id":  item.AuthorID,
		"content":    item.Content,
		"created_at": item.CreatedAt,
	})
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/v1/threads/%s/items", c.BaseURL, url.PathEscape(threadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("create item: status %d", resp.StatusCode)
	}

	var out domain.Item
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("create item: decode: %w", err)
	}
	return &out, nil
}

// DeleteItem implements Backend.
func (c *HTTPClient) DeleteItem(ctx context.Context, threadID, itemID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}

	u := fmt.Sprintf("%s/v1/threads/%s/items/%s",
		c.BaseURL, url.PathEscape(threadID), url.PathEscape(itemID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound:
		// deleting an already-deleted item is success from the view's side
		return nil
	default:
		return fmt.Errorf("delete item: status %d", resp.StatusCode)
	}
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set(apiKeyHeader, c.APIKey)
	}
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: defaultHTTPTimeout}
}

func (c *HTTPClient) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

// retryable reports whether an HTTP status is worth another attempt.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

var _ Backend = (*HTTPClient)(nil)
