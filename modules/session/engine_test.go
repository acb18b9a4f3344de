package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/chat-sync-client/domain/chat"
	"github.com/example/chat-sync-client/modules/rest"
	"github.com/example/chat-sync-client/modules/transport"
)

const me = "u1"

// fakeTransport records outbound calls; tests drive inbound events through
// its bus.
type fakeTransport struct {
	bus *transport.Bus

	mu          sync.Mutex
	connects    int
	disconnects int
	joined      []string
	sent        []chat.Draft
	readMarks   []string
	typing      []string
	sendErr     error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{bus: transport.NewBus(nil)}
}

func (f *fakeTransport) Bus() *transport.Bus { return f.bus }

func (f *fakeTransport) Connect(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeTransport) JoinRoomByID(roomID string, _ chat.Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, roomID)
	return nil
}

func (f *fakeTransport) SendMessage(_ string, d chat.Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, d)
	return nil
}

func (f *fakeTransport) MarkAsRead(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readMarks = append(f.readMarks, roomID)
	return nil
}

func (f *fakeTransport) SendTyping(roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, roomID)
	return nil
}

func (f *fakeTransport) StopTyping(string) error { return nil }

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeBackend is an in-memory REST server.
type fakeBackend struct {
	mu        sync.Mutex
	rooms     []chat.ChatRoom
	history   map[string][]chat.Message
	gates     map[string]chan struct{}
	started   chan string
	byUser    map[string]chat.ChatRoom
	unread    int
	readMarks int
	failLoad  bool
	nextID    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		history: make(map[string][]chat.Message),
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 16),
		byUser:  make(map[string]chat.ChatRoom),
	}
}

func (b *fakeBackend) GetRooms(context.Context) rest.Result[[]chat.ChatRoom] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return rest.OK(append([]chat.ChatRoom{}, b.rooms...))
}

func (b *fakeBackend) CreateOrGetRoom(_ context.Context, otherUserID string) rest.Result[chat.ChatRoom] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.byUser[otherUserID]; ok {
		return rest.OK(r)
	}
	b.nextID++
	r := chat.ChatRoom{ID: fmt.Sprintf("room-%d", b.nextID), OtherUser: chat.Participant{ID: otherUserID, Name: "Other"}}
	b.byUser[otherUserID] = r
	b.rooms = append(b.rooms, r)
	return rest.OK(r)
}

func (b *fakeBackend) GetMessages(ctx context.Context, roomID string, _ chat.Page) rest.Result[[]chat.Message] {
	b.mu.Lock()
	gate := b.gates[roomID]
	fail := b.failLoad
	b.mu.Unlock()

	b.started <- roomID
	if gate != nil {
		<-gate
	}
	if fail {
		return rest.Fail[[]chat.Message]("history unavailable")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return rest.OK(append([]chat.Message{}, b.history[roomID]...))
}

func (b *fakeBackend) SendMessage(_ context.Context, roomID string, d chat.Draft) rest.Result[chat.Message] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return rest.OK(chat.NewTextMessage(fmt.Sprintf("srv-%d", b.nextID), roomID, me, d.Content, time.Now()))
}

func (b *fakeBackend) MarkMessagesAsRead(context.Context, string) rest.Result[struct{}] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readMarks++
	return rest.OK(struct{}{})
}

func (b *fakeBackend) GetUnreadCount(context.Context) rest.Result[int] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return rest.OK(b.unread)
}

type toastLog struct {
	mu     sync.Mutex
	toasts []Toast
}

func (l *toastLog) Notify(t Toast) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.toasts = append(l.toasts, t)
}

func (l *toastLog) all() []Toast {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Toast(nil), l.toasts...)
}

type harness struct {
	engine    *Engine
	transport *fakeTransport
	backend   *fakeBackend
	toasts    *toastLog
	metrics   *Metrics
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		backend:   newFakeBackend(),
		toasts:    &toastLog{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	opts.UserID = me
	opts.Metrics = h.metrics
	h.engine = NewEngine(h.transport, h.backend, h.toasts, opts)
	h.engine.Start(context.Background())
	t.Cleanup(h.engine.Stop)
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.transport.bus.Publish(transport.ConnectedEvent{})
	require.Equal(t, StateConnected, h.engine.Snapshot().State)
}

func ids(msgs []chat.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func msg(id, room, sender string) chat.Message {
	return chat.NewTextMessage(id, room, sender, "text "+id, time.Now())
}

func TestStartConnectsAndStopCleansUp(t *testing.T) {
	h := newHarness(t, Options{})
	assert.Equal(t, StateConnecting, h.engine.Snapshot().State)
	assert.Equal(t, 1, h.transport.connects)
	assert.Equal(t, 1, h.transport.bus.Len(transport.KindMessage))

	h.engine.Stop()
	h.engine.Stop()

	for _, k := range []transport.Kind{
		transport.KindConnected, transport.KindDisconnected, transport.KindError,
		transport.KindRoomJoined, transport.KindMessage, transport.KindMessageSent,
		transport.KindMessagesRead, transport.KindTyping, transport.KindStopTyping,
		transport.KindNotification,
	} {
		assert.Equal(t, 0, h.transport.bus.Len(k), k)
	}
	assert.Equal(t, 1, h.transport.disconnects)
	assert.Equal(t, StateDisconnected, h.engine.Snapshot().State)
}

func TestConnectedRefreshesRoomsAndUnread(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.rooms = []chat.ChatRoom{{ID: "r1", UnreadCount: 2}, {ID: "r2", UnreadCount: 1}}
	h.backend.unread = 3

	h.connect(t)

	require.Eventually(t, func() bool {
		s := h.engine.Snapshot()
		return len(s.Rooms) == 2 && s.UnreadCount == 3
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnectPreservesState(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.history["r1"] = []chat.Message{msg("m1", "r1", "u2")}
	h.connect(t)
	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1"}))

	h.transport.bus.Publish(transport.DisconnectedEvent{})

	s := h.engine.Snapshot()
	assert.Equal(t, StateDisconnected, s.State)
	assert.Equal(t, []string{"m1"}, ids(s.Messages))
	require.NotNil(t, s.CurrentRoom)
	assert.Equal(t, "r1", s.CurrentRoom.ID)
}

func TestNoDuplicateMessages(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.history["r1"] = []chat.Message{msg("m1", "r1", "u2")}
	h.connect(t)

	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1"}))
	assert.Equal(t, []string{"r1"}, h.transport.joined)

	m2 := msg("m2", "r1", me)
	bus := h.transport.bus
	bus.Publish(transport.MessageEvent{Channel: transport.ChannelRoom, Message: m2})
	bus.Publish(transport.MessageSentEvent{Message: m2})
	bus.Publish(transport.MessageEvent{Channel: transport.ChannelGeneric, Message: m2})
	bus.Publish(transport.RoomJoinedEvent{Room: chat.ChatRoom{ID: "r1"}, Messages: []chat.Message{msg("m1", "r1", "u2"), m2}})

	assert.Equal(t, []string{"m1", "m2"}, ids(h.engine.Snapshot().Messages))
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.Appended))
	assert.Equal(t, float64(4), testutil.ToFloat64(h.metrics.Duplicates))
}

func TestMessageWithoutIDNotCountedAsDuplicate(t *testing.T) {
	h := newHarness(t, Options{})
	h.connect(t)
	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1"}))

	h.transport.bus.Publish(transport.MessageEvent{Channel: transport.ChannelRoom, Message: msg("", "r1", "u2")})

	assert.Empty(t, h.engine.Snapshot().Messages)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Invalid))
	assert.Equal(t, float64(0), testutil.ToFloat64(h.metrics.Duplicates))
}

func TestStaleHistoryDiscarded(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.history["A"] = []chat.Message{msg("a1", "A", "u2")}
	h.backend.history["B"] = []chat.Message{msg("b1", "B", "u3")}
	gate := make(chan struct{})
	h.backend.gates["A"] = gate

	errA := make(chan error, 1)
	go func() { errA <- h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "A"}) }()
	require.Equal(t, "A", <-h.backend.started)

	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "B"}))
	require.Equal(t, "B", <-h.backend.started)

	close(gate)
	require.NoError(t, <-errA)

	s := h.engine.Snapshot()
	require.NotNil(t, s.CurrentRoom)
	assert.Equal(t, "B", s.CurrentRoom.ID)
	assert.Equal(t, []string{"b1"}, ids(s.Messages))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Stale))
}

func TestMarkRoomReadIdempotent(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.rooms = []chat.ChatRoom{{ID: "r1", UnreadCount: 3}, {ID: "r2", UnreadCount: 1}}
	require.NoError(t, h.engine.RefreshRooms(context.Background()))

	for i := 0; i < 2; i++ {
		require.NoError(t, h.engine.MarkRoomRead(context.Background(), "r1"))
		s := h.engine.Snapshot()
		assert.Equal(t, 0, s.Rooms[0].UnreadCount)
		assert.Equal(t, 1, s.Rooms[1].UnreadCount)
	}
	assert.Equal(t, 2, h.backend.readMarks)
}

func TestMarkRoomReadUsesSocketWhenConnected(t *testing.T) {
	h := newHarness(t, Options{})
	h.connect(t)

	require.NoError(t, h.engine.MarkRoomRead(context.Background(), "r1"))
	assert.Equal(t, []string{"r1"}, h.transport.readMarks)
	assert.Equal(t, 0, h.backend.readMarks)
}

func TestSocketReadMarkRefetchesUnreadOnReceipt(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.rooms = []chat.ChatRoom{{ID: "r1", UnreadCount: 5}, {ID: "r2", UnreadCount: 2}}
	h.backend.unread = 7
	h.connect(t)
	require.Eventually(t, func() bool {
		s := h.engine.Snapshot()
		return len(s.Rooms) == 2 && s.UnreadCount == 7
	}, time.Second, 5*time.Millisecond)

	// The server has not applied the mark yet and still reports 7.
	require.NoError(t, h.engine.MarkRoomRead(context.Background(), "r1"))
	assert.Equal(t, []string{"r1"}, h.transport.readMarks)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, h.engine.Snapshot().UnreadCount)

	// Meanwhile r2 received another message.
	h.backend.mu.Lock()
	h.backend.unread = 3
	h.backend.mu.Unlock()
	h.transport.bus.Publish(transport.MessagesReadEvent{RoomID: "r1", UserID: me})

	require.Eventually(t, func() bool {
		return h.engine.Snapshot().UnreadCount == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.engine.Snapshot().Rooms[0].UnreadCount)
}

func TestOwnReceiptForClosedRoomZeroesIt(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.rooms = []chat.ChatRoom{{ID: "r1", UnreadCount: 4}}
	require.NoError(t, h.engine.RefreshRooms(context.Background()))

	h.transport.bus.Publish(transport.MessagesReadEvent{RoomID: "r1", UserID: me})
	assert.Equal(t, 0, h.engine.Snapshot().Rooms[0].UnreadCount)

	h.transport.bus.Publish(transport.MessagesReadEvent{RoomID: "r1", UserID: "u2"})
	assert.Equal(t, 0, h.engine.Snapshot().Rooms[0].UnreadCount)
}

func TestSelectRoomMarksReadAfterDelay(t *testing.T) {
	h := newHarness(t, Options{ReadMarkDelay: 100 * time.Millisecond})
	h.backend.rooms = []chat.ChatRoom{{ID: "r1", UnreadCount: 5}}
	require.NoError(t, h.engine.RefreshRooms(context.Background()))

	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1", UnreadCount: 5}))
	assert.Equal(t, 5, h.engine.Snapshot().Rooms[0].UnreadCount)

	require.Eventually(t, func() bool {
		return h.engine.Snapshot().Rooms[0].UnreadCount == 0
	}, time.Second, 5*time.Millisecond)
}

func TestReadMarkDroppedOnRoomSwitch(t *testing.T) {
	h := newHarness(t, Options{ReadMarkDelay: 50 * time.Millisecond})
	h.backend.rooms = []chat.ChatRoom{{ID: "r1", UnreadCount: 5}, {ID: "r2", UnreadCount: 2}}
	require.NoError(t, h.engine.RefreshRooms(context.Background()))

	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1"}))
	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r2"}))

	require.Eventually(t, func() bool {
		return h.engine.Snapshot().Rooms[1].UnreadCount == 0
	}, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 5, h.engine.Snapshot().Rooms[0].UnreadCount)
}

func TestTypingAutoClears(t *testing.T) {
	h := newHarness(t, Options{TypingTimeout: 150 * time.Millisecond})
	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1"}))

	h.transport.bus.Publish(transport.TypingEvent{RoomID: "r1", UserID: "u2"})
	assert.True(t, h.engine.Snapshot().Typing)

	time.Sleep(75 * time.Millisecond)
	assert.True(t, h.engine.Snapshot().Typing)

	require.Eventually(t, func() bool { return !h.engine.Snapshot().Typing }, time.Second, 5*time.Millisecond)
}

func TestTypingRearmedAndStopped(t *testing.T) {
	h := newHarness(t, Options{TypingTimeout: 200 * time.Millisecond})
	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1"}))
	bus := h.transport.bus

	bus.Publish(transport.TypingEvent{RoomID: "r1", UserID: "u2"})
	time.Sleep(120 * time.Millisecond)
	bus.Publish(transport.TypingEvent{RoomID: "r1", UserID: "u2"})
	time.Sleep(120 * time.Millisecond)
	assert.True(t, h.engine.Snapshot().Typing, "second event re-arms the timer")

	bus.Publish(transport.StopTypingEvent{RoomID: "r1", UserID: "u2"})
	assert.False(t, h.engine.Snapshot().Typing)
}

func TestOwnStopTypingIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1"}))
	bus := h.transport.bus

	bus.Publish(transport.TypingEvent{RoomID: "r1", UserID: "u2"})
	bus.Publish(transport.StopTypingEvent{RoomID: "r1", UserID: me})
	assert.True(t, h.engine.Snapshot().Typing)

	bus.Publish(transport.StopTypingEvent{RoomID: "r1", UserID: "u2"})
	assert.False(t, h.engine.Snapshot().Typing)
}

func TestTypingIgnoredForOtherRoomAndSelf(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1"}))

	h.transport.bus.Publish(transport.TypingEvent{RoomID: "r2", UserID: "u2"})
	h.transport.bus.Publish(transport.TypingEvent{RoomID: "r1", UserID: me})
	assert.False(t, h.engine.Snapshot().Typing)
}

func TestFallbackSendAppendsImmediately(t *testing.T) {
	h := newHarness(t, Options{})
	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1"}))
	require.False(t, h.engine.Snapshot().Connected())

	require.NoError(t, h.engine.SendMessage(context.Background(), chat.TextDraft("hello")))

	s := h.engine.Snapshot()
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "hello", s.Messages[0].Content)
	assert.Equal(t, chat.StatusSent, s.Messages[0].Status)
	assert.Equal(t, 0, h.transport.sentCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Fallback))
}

func TestSocketSendWaitsForEcho(t *testing.T) {
	h := newHarness(t, Options{})
	h.connect(t)
	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1"}))

	require.NoError(t, h.engine.SendMessage(context.Background(), chat.TextDraft("hi")))
	assert.Equal(t, 1, h.transport.sentCount())
	assert.Empty(t, h.engine.Snapshot().Messages)

	h.transport.bus.Publish(transport.MessageSentEvent{Message: msg("m1", "r1", me)})
	assert.Equal(t, []string{"m1"}, ids(h.engine.Snapshot().Messages))
}

func TestSocketSendFailureFallsBackToREST(t *testing.T) {
	h := newHarness(t, Options{})
	h.connect(t)
	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1"}))
	h.transport.sendErr = transport.ErrSendBufferFull

	require.NoError(t, h.engine.SendMessage(context.Background(), chat.TextDraft("hi")))
	assert.Len(t, h.engine.Snapshot().Messages, 1)
}

func TestSendRequiresRoomAndValidDraft(t *testing.T) {
	h := newHarness(t, Options{})

	assert.ErrorIs(t, h.engine.SendMessage(context.Background(), chat.TextDraft("x")), ErrNoRoomSelected)
	assert.ErrorIs(t, h.engine.SendMessage(context.Background(), chat.TextDraft("")), ErrInvalidMessage)
	assert.ErrorIs(t, h.engine.NotifyTyping(context.Background()), ErrNoRoomSelected)
}

func TestCreateChatRoomIdempotent(t *testing.T) {
	h := newHarness(t, Options{})

	first, err := h.engine.CreateChatRoom(context.Background(), "u9")
	require.NoError(t, err)
	second, err := h.engine.CreateChatRoom(context.Background(), "u9")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	s := h.engine.Snapshot()
	require.NotNil(t, s.CurrentRoom)
	assert.Equal(t, first.ID, s.CurrentRoom.ID)
	assert.Equal(t, 0, s.CurrentRoom.UnreadCount)
	assert.Nil(t, s.CurrentRoom.LastMessage)
	assert.Len(t, s.Rooms, 1)
}

func TestMessageForOtherRoomToasts(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.rooms = []chat.ChatRoom{{ID: "r2", OtherUser: chat.Participant{ID: "u3", Name: "Carol"}}}
	require.NoError(t, h.engine.RefreshRooms(context.Background()))
	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1"}))

	h.transport.bus.Publish(transport.MessageEvent{Channel: transport.ChannelDirect, Message: msg("x1", "r2", "u3")})
	h.transport.bus.Publish(transport.MessageEvent{Channel: transport.ChannelDirect, Message: msg("x2", "r2", me)})

	assert.Empty(t, h.engine.Snapshot().Messages)
	toasts := h.toasts.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, ToastMessage, toasts[0].Kind)
	assert.Equal(t, "Carol", toasts[0].Title)
	assert.Equal(t, "r2", toasts[0].RoomID)
	assert.NotEmpty(t, toasts[0].ID)
}

func TestMessagesReadForOpenRoom(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.rooms = []chat.ChatRoom{{ID: "r1", UnreadCount: 2}, {ID: "r2", UnreadCount: 4}}
	h.backend.history["r1"] = []chat.Message{msg("m1", "r1", me)}
	require.NoError(t, h.engine.RefreshRooms(context.Background()))
	require.NoError(t, h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1", UnreadCount: 2}))

	h.transport.bus.Publish(transport.MessagesReadEvent{RoomID: "r2", UserID: "u2"})
	h.transport.bus.Publish(transport.MessagesReadEvent{RoomID: "r1", UserID: "u2"})
	h.transport.bus.Publish(transport.MessagesReadEvent{RoomID: "r1", UserID: "u2"})

	s := h.engine.Snapshot()
	assert.Equal(t, 0, s.Rooms[0].UnreadCount)
	assert.Equal(t, 4, s.Rooms[1].UnreadCount)
	assert.Equal(t, chat.StatusRead, s.Messages[0].Status)
}

func TestLoadFailureToastsAndReturnsError(t *testing.T) {
	h := newHarness(t, Options{})
	h.backend.failLoad = true

	err := h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1"})
	assert.ErrorIs(t, err, ErrRequestFailed)

	toasts := h.toasts.all()
	require.Len(t, toasts, 1)
	assert.Equal(t, ToastError, toasts[0].Kind)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Toasts.WithLabelValues("error")))
}

func TestLoadFailureStillMarksRead(t *testing.T) {
	h := newHarness(t, Options{ReadMarkDelay: 20 * time.Millisecond})
	h.backend.rooms = []chat.ChatRoom{{ID: "r1", UnreadCount: 3}}
	require.NoError(t, h.engine.RefreshRooms(context.Background()))
	h.backend.mu.Lock()
	h.backend.failLoad = true
	h.backend.mu.Unlock()

	err := h.engine.SelectRoom(context.Background(), chat.ChatRoom{ID: "r1", UnreadCount: 3})
	require.ErrorIs(t, err, ErrRequestFailed)

	require.Eventually(t, func() bool {
		h.backend.mu.Lock()
		defer h.backend.mu.Unlock()
		return h.backend.readMarks == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.engine.Snapshot().Rooms[0].UnreadCount)
}

func TestTerminalTransportErrorToasts(t *testing.T) {
	h := newHarness(t, Options{})

	h.transport.bus.Publish(transport.ErrorEvent{Err: fmt.Errorf("dial: refused"), Attempt: 1})
	assert.Empty(t, h.toasts.all())
	assert.Equal(t, StateConnecting, h.engine.Snapshot().State)

	h.transport.bus.Publish(transport.ErrorEvent{Err: transport.ErrGaveUp, Attempt: 6})
	assert.Len(t, h.toasts.all(), 1)
	assert.Equal(t, StateDisconnected, h.engine.Snapshot().State)
}
