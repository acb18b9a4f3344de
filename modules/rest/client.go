// Package rest is the request/response half of the chat client. Every call
// returns a Result; failures are folded into it instead of returned as errors.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/example/chat-sync-client/auth"
	"github.com/example/chat-sync-client/domain/chat"
)

const maxBodySize = 4 << 20

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default traced client.
	HTTPClient *http.Client
}

// Result is the normalized outcome of a call and also the server's envelope.
type Result[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

// OK builds a successful result.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail builds a failed result.
func Fail[T any](format string, args ...any) Result[T] {
	return Result[T]{Message: fmt.Sprintf(format, args...)}
}

// Client talks to the chat REST API.
type Client struct {
	base   string
	tokens auth.TokenSource
	http   *http.Client
	logger *slog.Logger
}

// New creates a client for cfg.BaseURL. Requests carry the bearer token from
// tokens when one is available.
func New(cfg Config, tokens auth.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		tokens: tokens,
		http:   hc,
		logger: logger.With("component", "rest"),
	}
}

// GetRooms lists the rooms of the current user. No rooms is an empty slice.
func (c *Client) GetRooms(ctx context.Context) Result[[]chat.ChatRoom] {
	res := do[[]chat.ChatRoom](ctx, c, http.MethodGet, "/api/chat/rooms", nil)
	if res.Success && res.Data == nil {
		res.Data = []chat.ChatRoom{}
	}
	return res
}

// CreateOrGetRoom returns the direct room with otherUserID, creating it on
// first contact.
func (c *Client) CreateOrGetRoom(ctx context.Context, otherUserID string) Result[chat.ChatRoom] {
	if otherUserID == "" {
		return Fail[chat.ChatRoom]("other user id is required")
	}
	body := map[string]string{"otherUserId": otherUserID}
	return do[chat.ChatRoom](ctx, c, http.MethodPost, "/api/chat/rooms", body)
}

// GetMessages fetches one page of history for roomID.
func (c *Client) GetMessages(ctx context.Context, roomID string, page chat.Page) Result[[]chat.Message] {
	page = page.Normalize()
	q := url.Values{}
	q.Set("limit", strconv.Itoa(page.Limit))
	q.Set("offset", strconv.Itoa(page.Offset))

	res := do[[]chat.Message](ctx, c, http.MethodGet, roomPath(roomID, "messages")+"?"+q.Encode(), nil)
	if res.Success && res.Data == nil {
		res.Data = []chat.Message{}
	}
	return res
}

// SendMessage persists a message and returns it as stored.
func (c *Client) SendMessage(ctx context.Context, roomID string, d chat.Draft) Result[chat.Message] {
	if err := d.Validate(); err != nil {
		return Fail[chat.Message]("invalid message: %v", err)
	}
	return do[chat.Message](ctx, c, http.MethodPost, roomPath(roomID, "messages"), d)
}

// MarkMessagesAsRead marks every message in roomID read for the current user.
func (c *Client) MarkMessagesAsRead(ctx context.Context, roomID string) Result[struct{}] {
	res := do[json.RawMessage](ctx, c, http.MethodPut, roomPath(roomID, "read"), nil)
	return Result[struct{}]{Success: res.Success, Message: res.Message}
}

// GetUnreadCount returns the unread total across all rooms.
func (c *Client) GetUnreadCount(ctx context.Context) Result[int] {
	res := do[unreadCount](ctx, c, http.MethodGet, "/api/chat/unread-count", nil)
	return Result[int]{Success: res.Success, Message: res.Message, Data: int(res.Data)}
}

// unreadCount accepts a bare number or an object with a count field.
type unreadCount int

func (u *unreadCount) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*u = unreadCount(n)
		return nil
	}
	var obj struct {
		Count       *int `json:"count"`
		UnreadCount *int `json:"unreadCount"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	switch {
	case obj.UnreadCount != nil:
		*u = unreadCount(*obj.UnreadCount)
	case obj.Count != nil:
		*u = unreadCount(*obj.Count)
	}
	return nil
}

func roomPath(roomID, tail string) string {
	return "/api/chat/rooms/" + url.PathEscape(roomID) + "/" + tail
}

func do[T any](ctx context.Context, c *Client, method, path string, body any) Result[T] {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return Fail[T]("encode request: %v", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return Fail[T]("build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", "method", method, "path", path, "error", err)
		return Fail[T]("request failed: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Fail[T]("read response: %v", err)
	}

	var out Result[T]
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode >= http.StatusMultipleChoices {
		msg := out.Message
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.Debug("request rejected", "method", method, "path", path, "status", resp.StatusCode)
		return Result[T]{Message: msg}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return Result[T]{Success: true}
	}
	if decodeErr != nil {
		return Fail[T]("decode response: %v", decodeErr)
	}
	if !out.Success && out.Message == "" {
		out.Message = "request was not successful"
	}
	return out
}
