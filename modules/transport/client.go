// Package transport is the realtime half of the chat client: one WebSocket
// connection per authenticated session, imperative sends, and a typed event
// bus for everything the server pushes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/chat-sync-client/auth"
	"github.com/example/chat-sync-client/domain/chat"
)

var (
	ErrNoCredential   = errors.New("no access credential")
	ErrNotConnected   = errors.New("socket not connected")
	ErrSendBufferFull = errors.New("send buffer full")
	ErrUnauthorized   = errors.New("handshake rejected")
	ErrGaveUp         = errors.New("reconnect attempts exhausted")
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 512 * 1024
)

// Policy bounds automatic reconnection: up to MaxAttempts redials after a
// failure, Delay apart.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultPolicy is five attempts two seconds apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Delay: 2 * time.Second}
}

// Config configures a Client.
type Config struct {
	URL              string
	Policy           Policy
	HandshakeTimeout time.Duration
	SendBuffer       int
	// PingInterval enables keepalive pings; the read deadline is twice the
	// interval. Zero disables both.
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.Policy.Delay <= 0 {
		c.Policy.Delay = DefaultPolicy().Delay
	}
	if c.Policy.MaxAttempts < 0 {
		c.Policy.MaxAttempts = 0
	}
	return c
}

// Client owns at most one live socket. The zero value is not usable; call New.
type Client struct {
	cfg    Config
	tokens auth.TokenSource
	bus    *Bus
	logger *slog.Logger
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *connection
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a disconnected client.
func New(cfg Config, tokens auth.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		tokens: tokens,
		bus:    NewBus(logger),
		logger: logger.With("component", "transport"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Bus returns the bus inbound events are published on.
func (c *Client) Bus() *Bus { return c.bus }

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect starts a connection loop for the current credential, tearing down
// any existing one first. Failures are published as ErrorEvents; Connect
// itself never fails. The loop lives until Disconnect or until ctx is done.
//
// Connect and Disconnect wait for the previous loop to exit, so they must not
// be called from an event handler.
func (c *Client) Connect(ctx context.Context) {
	token, ok := "", false
	if c.tokens != nil {
		token, ok = c.tokens.Token()
	}
	if !ok {
		c.bus.Publish(ErrorEvent{Err: ErrNoCredential})
		return
	}

	c.Disconnect()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.run(runCtx, token, done)
}

// Disconnect closes the active connection and stops reconnecting. It is safe
// to call when nothing is connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *Client) run(ctx context.Context, token string, done chan struct{}) {
	defer close(done)

	failures := 0
	for {
		ws, err := c.dial(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			c.logger.Warn("dial failed", "attempt", failures, "error", err)
			c.bus.Publish(ErrorEvent{Err: err, Attempt: failures})
			if errors.Is(err, ErrUnauthorized) {
				return
			}
			if failures > c.cfg.Policy.MaxAttempts {
				c.bus.Publish(ErrorEvent{Err: ErrGaveUp, Attempt: failures})
				return
			}
			if !sleep(ctx, c.cfg.Policy.Delay) {
				return
			}
			continue
		}

		failures = 0
		conn := newConnection(ws, c.cfg.SendBuffer)
		c.setConn(conn)
		c.logger.Info("connected", "url", c.cfg.URL)
		c.bus.Publish(ConnectedEvent{})

		reason := conn.serve(ctx, c.cfg.PingInterval, c.dispatch)

		c.setConn(nil)
		c.logger.Info("disconnected", "reason", reason)
		c.bus.Publish(DisconnectedEvent{Reason: reason})

		if ctx.Err() != nil {
			return
		}
		if !sleep(ctx, c.cfg.Policy.Delay) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	ws.SetReadLimit(maxFrameSize)
	return ws, nil
}

func (c *Client) dispatch(frame []byte) {
	ev, err := Decode(frame)
	if err != nil {
		c.logger.Debug("dropping frame", "error", err)
		return
	}
	c.bus.Publish(ev)
}

func (c *Client) setConn(conn *connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) emit(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}
	return conn.enqueue(frame)
}

// JoinRoomByID joins an existing room and asks for its first history page.
func (c *Client) JoinRoomByID(roomID string, page chat.Page) error {
	page = page.Normalize()
	return c.emit(wireJoinRoom, JoinRequest{RoomID: roomID, Limit: page.Limit, Offset: page.Offset})
}

// JoinRoomByUser joins the direct room with userID; the server creates it if needed.
func (c *Client) JoinRoomByUser(userID string, page chat.Page) error {
	page = page.Normalize()
	return c.emit(wireJoinRoom, JoinRequest{UserID: userID, Limit: page.Limit, Offset: page.Offset})
}

// SendMessage submits a message. The result arrives later as a MessageSentEvent.
func (c *Client) SendMessage(roomID string, d chat.Draft) error {
	if err := d.Validate(); err != nil {
		return err
	}
	return c.emit(wireSendMessage, SendRequest{RoomID: roomID, Content: d.Content, Type: d.Type, FileURL: d.FileURL})
}

// MarkAsRead marks every message in roomID read for this session's user.
func (c *Client) MarkAsRead(roomID string) error {
	return c.emit(wireMarkAsRead, RoomRequest{RoomID: roomID})
}

// SendTyping tells the other participant this user is typing.
func (c *Client) SendTyping(roomID string) error {
	return c.emit(wireTyping, RoomRequest{RoomID: roomID})
}

// StopTyping clears the typing signal.
func (c *Client) StopTyping(roomID string) error {
	return c.emit(wireStopTyping, RoomRequest{RoomID: roomID})
}

// FetchMessages requests another history page over the socket.
func (c *Client) FetchMessages(roomID string, page chat.Page) error {
	page = page.Normalize()
	return c.emit(wireGetMessages, RoomRequest{RoomID: roomID, Limit: page.Limit, Offset: page.Offset})
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// connection pairs a socket with its outbound queue.
type connection struct {
	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newConnection(ws *websocket.Conn, buffer int) *connection {
	return &connection{
		ws:     ws,
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
}

func (cn *connection) enqueue(frame []byte) error {
	select {
	case <-cn.closed:
		return ErrNotConnected
	default:
	}
	select {
	case cn.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// serve runs the read loop until the socket fails or ctx is done, and returns
// the reason.
func (cn *connection) serve(ctx context.Context, ping time.Duration, dispatch func([]byte)) error {
	stop := context.AfterFunc(ctx, cn.close)
	defer stop()
	defer cn.close()

	if ping > 0 {
		_ = cn.ws.SetReadDeadline(time.Now().Add(2 * ping))
		cn.ws.SetPongHandler(func(string) error {
			return cn.ws.SetReadDeadline(time.Now().Add(2 * ping))
		})
	}
	go cn.writeLoop(ping)

	for {
		_, frame, err := cn.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		dispatch(frame)
	}
}

func (cn *connection) writeLoop(ping time.Duration) {
	var tick <-chan time.Time
	if ping > 0 {
		t := time.NewTicker(ping)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-cn.closed:
			return
		case frame := <-cn.send:
			_ = cn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				cn.close()
				return
			}
		case <-tick:
			if err := cn.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				cn.close()
				return
			}
		}
	}
}

func (cn *connection) close() {
	cn.once.Do(func() {
		close(cn.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = cn.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = cn.ws.Close()
	})
}
