// Package api implements the HTTP client for the match/chat backend. Every
// call carries the cookie-based session credential, so a single Client (and
// its cookie jar) must be shared by all controllers acting for one user.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/mbtilink/matchkit/internal/protocol"
)

// Config holds tunable parameters for the backend client.
type Config struct {
	BaseURL string        // e.g. "https://api.mbtilink.app"
	Timeout time.Duration // per-request timeout; 0 means no timeout
}

// DefaultConfig returns a Config with local-development defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080",
		Timeout: 0,
	}
}

// Client talks to the backend REST API. It is safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient creates a Client for the given configuration. The cookie jar is
// created here so the session cookie set at login is replayed on every
// subsequent call.
func NewClient(config Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(config.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: invalid base URL %q: %w", config.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api: unsupported scheme %q in base URL", base.Scheme)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("api: create cookie jar: %w", err)
	}

	return &Client{
		base: base,
		http: &http.Client{
			Jar:     jar,
			Timeout: config.Timeout,
		},
	}, nil
}

// StatusError is returned for any non-2xx response. The body is retained
// verbatim so callers can pattern-match business-rule rejections the backend
// only expresses as message text.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: unexpected status %d: %s", e.Code, e.Body)
}

// do issues one request and decodes the JSON response into out (skipped when
// out is nil or the response carries no JSON body).
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s response: %w", method, path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Matching
// ---------------------------------------------------------------------------

// RequestMatch submits one match attempt at the given breadth level.
func (c *Client) RequestMatch(ctx context.Context, req protocol.MatchRequest) (*protocol.MatchResponse, error) {
	var resp protocol.MatchResponse
	if err := c.do(ctx, http.MethodPost, "/match/request", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelMatch removes the user's entry from the server-side waiting queue.
func (c *Client) CancelMatch(ctx context.Context, userID, mbti string) error {
	body := protocol.CancelRequest{UserID: userID, MBTI: mbti}
	return c.do(ctx, http.MethodPost, "/match/cancel", body, nil)
}

// QueueCount returns the number of users currently waiting with the given
// MBTI code.
func (c *Client) QueueCount(ctx context.Context, mbti string) (int, error) {
	var resp protocol.QueueResponse
	if err := c.do(ctx, http.MethodGet, "/match/queue/"+url.PathEscape(mbti), nil, &resp); err != nil {
		return 0, err
	}
	return resp.WaitingCount, nil
}

// ---------------------------------------------------------------------------
// Chat rooms
// ---------------------------------------------------------------------------

// MyRooms lists the rooms the user belongs to, with unread counts and
// last-message previews.
func (c *Client) MyRooms(ctx context.Context, userID string) ([]protocol.RoomPreview, error) {
	var resp protocol.RoomListResponse
	path := "/chat/rooms/my?user_id=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Rooms, nil
}

// RoomMessages fetches the full message history of a room, oldest first.
func (c *Client) RoomMessages(ctx context.Context, roomID string) ([]protocol.StoredMessage, error) {
	var resp protocol.HistoryResponse
	if err := c.do(ctx, http.MethodGet, "/chat/"+url.PathEscape(roomID)+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// MarkRead clears the user's unread counter for a room.
func (c *Client) MarkRead(ctx context.Context, roomID, userID string) error {
	path := "/chat/" + url.PathEscape(roomID) + "/read?user_id=" + url.QueryEscape(userID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// LeaveRoom removes the user from a room.
func (c *Client) LeaveRoom(ctx context.Context, roomID, userID string) error {
	path := "/chat/" + url.PathEscape(roomID) + "/leave?user_id=" + url.QueryEscape(userID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// ---------------------------------------------------------------------------
// Moderation
// ---------------------------------------------------------------------------

// ReportMessage files an abuse report against a single message.
func (c *Client) ReportMessage(ctx context.Context, messageID string, req protocol.ReportRequest) error {
	return c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/report", req, nil)
}
