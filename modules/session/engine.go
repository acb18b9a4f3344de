// Package session is the synchronization core of the chat client. An Engine
// owns the view state of one authenticated session and reconciles socket
// events and REST results into it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/chat-sync-client/domain/chat"
	"github.com/example/chat-sync-client/modules/rest"
	"github.com/example/chat-sync-client/modules/transport"
)

var (
	ErrNoRoomSelected = errors.New("no room selected")
	ErrInvalidMessage = errors.New("invalid message")
	ErrRequestFailed  = errors.New("request failed")
)

// Transport is the realtime channel the engine drives.
type Transport interface {
	Bus() *transport.Bus
	Connect(ctx context.Context)
	Disconnect()
	JoinRoomByID(roomID string, page chat.Page) error
	SendMessage(roomID string, d chat.Draft) error
	MarkAsRead(roomID string) error
	SendTyping(roomID string) error
	StopTyping(roomID string) error
}

// Backend is the request/response channel.
type Backend interface {
	GetRooms(ctx context.Context) rest.Result[[]chat.ChatRoom]
	CreateOrGetRoom(ctx context.Context, otherUserID string) rest.Result[chat.ChatRoom]
	GetMessages(ctx context.Context, roomID string, page chat.Page) rest.Result[[]chat.Message]
	SendMessage(ctx context.Context, roomID string, d chat.Draft) rest.Result[chat.Message]
	MarkMessagesAsRead(ctx context.Context, roomID string) rest.Result[struct{}]
	GetUnreadCount(ctx context.Context) rest.Result[int]
}

var (
	_ Transport = (*transport.Client)(nil)
	_ Backend   = (*rest.Client)(nil)
)

// ConnState is the socket state as the engine sees it.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// Options tunes an Engine. Zero durations take the defaults.
type Options struct {
	// UserID is the local user; messages from it are never toasted and
	// typing signals from it are ignored.
	UserID        string
	TypingTimeout time.Duration
	ReadMarkDelay time.Duration
	HistoryLimit  int
	Metrics       *Metrics
	Logger        *slog.Logger
	// OnChange, when set, receives a snapshot after every state change. It
	// is called without the engine lock held.
	OnChange func(Snapshot)
}

func (o Options) withDefaults() Options {
	if o.TypingTimeout <= 0 {
		o.TypingTimeout = 3 * time.Second
	}
	if o.ReadMarkDelay <= 0 {
		o.ReadMarkDelay = 500 * time.Millisecond
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = chat.DefaultPageLimit
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics(nil)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Snapshot is a copy of the engine state.
type Snapshot struct {
	UserID      string
	Rooms       []chat.ChatRoom
	CurrentRoom *chat.ChatRoom
	Messages    []chat.Message
	State       ConnState
	Typing      bool
	UnreadCount int
}

// Connected reports whether sends currently go over the socket.
func (s Snapshot) Connected() bool { return s.State == StateConnected }

// Engine is the single source of truth for rooms, the open room, its
// messages, connection state, typing and the unread total.
type Engine struct {
	transport Transport
	backend   Backend
	notifier  Notifier
	opts      Options
	metrics   *Metrics
	logger    *slog.Logger

	mu          sync.Mutex
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	subs        []*transport.Subscription
	rooms       []chat.ChatRoom
	current     *chat.ChatRoom
	messages    chat.MessageList
	state       ConnState
	typing      bool
	typingSeq   uint64
	typingTimer *time.Timer
	unread      int
	generation  uint64
	readTimer   *time.Timer

	wg sync.WaitGroup
}

// NewEngine wires an engine to its two channels. notifier may be nil.
func NewEngine(t Transport, b Backend, notifier Notifier, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		transport: t,
		backend:   b,
		notifier:  notifier,
		opts:      opts,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("component", "session"),
		state:     StateDisconnected,
		ctx:       context.Background(),
	}
}

// Start begins the session: it subscribes to the transport and connects.
// Calling Start on a running engine does nothing.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.state = StateConnecting
	bus := e.transport.Bus()
	e.subs = []*transport.Subscription{
		transport.On(bus, e.onConnected),
		transport.On(bus, e.onDisconnected),
		transport.On(bus, e.onError),
		transport.On(bus, e.onRoomJoined),
		transport.On(bus, e.onMessage),
		transport.On(bus, e.onMessageSent),
		transport.On(bus, e.onMessagesRead),
		transport.On(bus, e.onTyping),
		transport.On(bus, e.onStopTyping),
		transport.On(bus, e.onNotification),
	}
	runCtx := e.ctx
	e.mu.Unlock()

	e.changed()
	e.transport.Connect(runCtx)
}

// Stop ends the session: every subscription is removed, timers are
// cancelled, the socket is closed and background refreshes are awaited.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.cancel()
	for _, s := range e.subs {
		s.Off()
	}
	e.subs = nil
	e.stopTypingLocked()
	if e.readTimer != nil {
		e.readTimer.Stop()
		e.readTimer = nil
	}
	e.state = StateDisconnected
	e.mu.Unlock()

	e.transport.Disconnect()
	e.wg.Wait()
	e.changed()
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	s := Snapshot{
		UserID:      e.opts.UserID,
		Rooms:       append([]chat.ChatRoom(nil), e.rooms...),
		Messages:    e.messages.Items(),
		State:       e.state,
		Typing:      e.typing,
		UnreadCount: e.unread,
	}
	if e.current != nil {
		cur := *e.current
		s.CurrentRoom = &cur
	}
	return s
}

// SelectRoom opens room: the message list is cleared, history is loaded over
// REST, the socket joins the room when connected, and the room is marked
// read after ReadMarkDelay unless another room was selected meanwhile.
//
// A history page that resolves after a newer selection is discarded.
func (e *Engine) SelectRoom(ctx context.Context, room chat.ChatRoom) error {
	e.mu.Lock()
	e.generation++
	gen := e.generation
	cur := room
	e.current = &cur
	e.messages.Reset()
	e.stopTypingLocked()
	if e.readTimer != nil {
		e.readTimer.Stop()
		e.readTimer = nil
	}
	connected := e.state == StateConnected
	page := chat.Page{Limit: e.opts.HistoryLimit}
	e.mu.Unlock()
	e.changed()

	if connected {
		if err := e.transport.JoinRoomByID(room.ID, page); err != nil {
			e.logger.Warn("join over socket failed", "room", room.ID, "error", err)
		}
	}

	res := e.backend.GetMessages(ctx, room.ID, page)

	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		e.metrics.Stale.Inc()
		e.logger.Debug("discarding stale history", "room", room.ID)
		return nil
	}
	e.readTimer = time.AfterFunc(e.opts.ReadMarkDelay, func() {
		e.spawn(func(ctx context.Context) { e.markAfterSelect(ctx, gen, room.ID) })
	})
	if !res.Success {
		e.mu.Unlock()
		e.toast(ToastError, "Could not load messages", res.Message, room.ID)
		return fmt.Errorf("load messages: %w: %s", ErrRequestFailed, res.Message)
	}
	for _, m := range res.Data {
		e.appendLocked(m)
	}
	e.mu.Unlock()
	e.changed()
	return nil
}

func (e *Engine) markAfterSelect(ctx context.Context, gen uint64, roomID string) {
	e.mu.Lock()
	current := gen == e.generation
	e.mu.Unlock()
	if !current {
		return
	}
	if err := e.MarkRoomRead(ctx, roomID); err != nil {
		e.logger.Warn("read mark failed", "room", roomID, "error", err)
	}
}

// SendMessage sends d to the open room. Over the socket nothing is appended
// until the server echoes the message back; over REST the stored message is
// appended right away and the room list is refreshed.
func (e *Engine) SendMessage(ctx context.Context, d chat.Draft) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	e.mu.Lock()
	if e.current == nil {
		e.mu.Unlock()
		return ErrNoRoomSelected
	}
	roomID := e.current.ID
	connected := e.state == StateConnected
	e.mu.Unlock()

	if connected {
		err := e.transport.SendMessage(roomID, d)
		if err == nil {
			return nil
		}
		e.logger.Warn("socket send failed, using REST", "room", roomID, "error", err)
	}

	e.metrics.Fallback.Inc()
	res := e.backend.SendMessage(ctx, roomID, d)
	if !res.Success {
		e.toast(ToastError, "Message not sent", res.Message, roomID)
		return fmt.Errorf("send message: %w: %s", ErrRequestFailed, res.Message)
	}

	msg := res.Data
	if msg.RoomID == "" {
		msg.RoomID = roomID
	}
	e.mu.Lock()
	if e.current != nil && e.current.ID == roomID {
		e.appendLocked(msg)
	}
	e.mu.Unlock()
	e.changed()

	e.spawn(func(ctx context.Context) { _ = e.RefreshRooms(ctx) })
	return nil
}

// CreateChatRoom finds or creates the direct room with otherUserID,
// refreshes the room list and selects the room.
func (e *Engine) CreateChatRoom(ctx context.Context, otherUserID string) (chat.ChatRoom, error) {
	res := e.backend.CreateOrGetRoom(ctx, otherUserID)
	if !res.Success {
		e.toast(ToastError, "Could not open conversation", res.Message, "")
		return chat.ChatRoom{}, fmt.Errorf("create room: %w: %s", ErrRequestFailed, res.Message)
	}

	_ = e.RefreshRooms(ctx)

	room := chat.ChatRoom{ID: res.Data.ID, OtherUser: res.Data.OtherUser}
	return room, e.SelectRoom(ctx, room)
}

// MarkRoomRead zeroes the unread count of roomID locally and marks it read
// on the server, over the socket when connected and over REST otherwise.
func (e *Engine) MarkRoomRead(ctx context.Context, roomID string) error {
	e.mu.Lock()
	e.zeroUnreadLocked(roomID)
	connected := e.state == StateConnected
	e.mu.Unlock()
	e.changed()

	// The socket mark is applied asynchronously; the unread total is
	// refetched when our own messages_read receipt arrives.
	if connected {
		if err := e.transport.MarkAsRead(roomID); err == nil {
			return nil
		}
	}

	res := e.backend.MarkMessagesAsRead(ctx, roomID)
	if !res.Success {
		return fmt.Errorf("mark read: %w: %s", ErrRequestFailed, res.Message)
	}
	e.spawn(e.refreshUnread)
	return nil
}

// RefreshRooms replaces the room list with the server's.
func (e *Engine) RefreshRooms(ctx context.Context) error {
	res := e.backend.GetRooms(ctx)
	if !res.Success {
		if ctx.Err() == nil {
			e.toast(ToastError, "Could not load conversations", res.Message, "")
		}
		return fmt.Errorf("get rooms: %w: %s", ErrRequestFailed, res.Message)
	}

	e.mu.Lock()
	e.rooms = res.Data
	e.mu.Unlock()
	e.changed()
	return nil
}

// NotifyTyping tells the other participant of the open room that the local
// user is typing. Typing is realtime only.
func (e *Engine) NotifyTyping(ctx context.Context) error {
	roomID, err := e.currentRoomID()
	if err != nil {
		return err
	}
	return e.transport.SendTyping(roomID)
}

// StopTyping clears the local typing signal.
func (e *Engine) StopTyping(ctx context.Context) error {
	roomID, err := e.currentRoomID()
	if err != nil {
		return err
	}
	return e.transport.StopTyping(roomID)
}

func (e *Engine) currentRoomID() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return "", ErrNoRoomSelected
	}
	return e.current.ID, nil
}

// refresh reloads rooms and the unread total concurrently.
func (e *Engine) refresh(ctx context.Context) {
	var g errgroup.Group
	g.Go(func() error { return e.RefreshRooms(ctx) })
	g.Go(func() error {
		e.refreshUnread(ctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		e.logger.Debug("refresh incomplete", "error", err)
	}
}

func (e *Engine) refreshUnread(ctx context.Context) {
	res := e.backend.GetUnreadCount(ctx)
	if !res.Success {
		e.logger.Debug("unread count unavailable", "error", res.Message)
		return
	}
	e.mu.Lock()
	e.unread = res.Data
	e.mu.Unlock()
	e.changed()
}

// spawn runs fn in the background with the session context. Nothing is
// started once the engine has stopped.
func (e *Engine) spawn(fn func(ctx context.Context)) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	ctx := e.ctx
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		fn(ctx)
	}()
}

// appendLocked adds m under the de-duplication guard.
func (e *Engine) appendLocked(m chat.Message) {
	if m.Status == "" {
		m.Status = chat.StatusSent
	}
	if m.ID == "" {
		e.metrics.Invalid.Inc()
		e.logger.Warn("dropping message without id", "room", m.RoomID, "sender", m.SenderID)
		return
	}
	if e.messages.Append(m) {
		e.metrics.Appended.Inc()
	} else {
		e.metrics.Duplicates.Inc()
	}
}

func (e *Engine) zeroUnreadLocked(roomID string) {
	for i := range e.rooms {
		if e.rooms[i].ID == roomID {
			e.unread -= e.rooms[i].UnreadCount
			e.rooms[i].ZeroUnread()
		}
	}
	if e.unread < 0 {
		e.unread = 0
	}
	if e.current != nil && e.current.ID == roomID {
		e.current.ZeroUnread()
	}
}

func (e *Engine) stopTypingLocked() {
	e.typingSeq++
	e.typing = false
	if e.typingTimer != nil {
		e.typingTimer.Stop()
		e.typingTimer = nil
	}
}

func (e *Engine) isCurrentLocked(roomID string) bool {
	return e.current != nil && roomID != "" && e.current.ID == roomID
}

func (e *Engine) roomNameLocked(roomID string) string {
	for _, r := range e.rooms {
		if r.ID == roomID {
			return r.OtherUser.Name
		}
	}
	return ""
}

func (e *Engine) changed() {
	if e.opts.OnChange == nil {
		return
	}
	e.opts.OnChange(e.Snapshot())
}

func (e *Engine) toast(kind ToastKind, title, body, roomID string) {
	e.metrics.Toasts.WithLabelValues(string(kind)).Inc()
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(Toast{
		ID:     uuid.NewString(),
		Kind:   kind,
		Title:  title,
		Body:   body,
		RoomID: roomID,
		At:     time.Now(),
	})
}
