// Package console is a line-oriented terminal front-end for a chat session.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/example/chat-sync-client/domain/chat"
	"github.com/example/chat-sync-client/modules/session"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoSession      = errors.New("session not started")
	ErrUsage          = errors.New("usage")
)

// Session is the part of the engine the console drives.
type Session interface {
	Snapshot() session.Snapshot
	SelectRoom(ctx context.Context, room chat.ChatRoom) error
	SendMessage(ctx context.Context, d chat.Draft) error
	CreateChatRoom(ctx context.Context, otherUserID string) (chat.ChatRoom, error)
	MarkRoomRead(ctx context.Context, roomID string) error
	RefreshRooms(ctx context.Context) error
	NotifyTyping(ctx context.Context) error
	StopTyping(ctx context.Context) error
}

var _ Session = (*session.Engine)(nil)

const help = `commands:
  /rooms              list conversations
  /open <roomId>      open a conversation
  /dm <userId>        open or start a conversation with a user
  /image <url> [text] send an image
  /file <url> [name]  send a file
  /typing, /stop      start or stop the typing signal
  /read               mark the open conversation read
  /state              show connection state
  /help               this text
anything else is sent as a message`

// Console executes commands against a session and renders its state.
type Console struct {
	session func() Session
	out     io.Writer

	mu       sync.Mutex
	roomID   string
	rendered int
	typing   bool
}

// New creates a console. source returns nil until the session has started.
func New(source func() Session, out io.Writer) *Console {
	return &Console{session: source, out: out}
}

// Execute runs one input line.
func (c *Console) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if line == "/help" {
		c.println(help)
		return nil
	}

	s := c.session()
	if s == nil {
		return ErrNoSession
	}
	if !strings.HasPrefix(line, "/") {
		return s.SendMessage(ctx, chat.TextDraft(line))
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/rooms":
		if err := s.RefreshRooms(ctx); err != nil {
			return err
		}
		c.printRooms(s.Snapshot())
		return nil
	case "/open":
		if arg == "" {
			return fmt.Errorf("%w: /open <roomId>", ErrUsage)
		}
		room := chat.ChatRoom{ID: arg}
		for _, r := range s.Snapshot().Rooms {
			if r.ID == arg {
				room = r
				break
			}
		}
		return s.SelectRoom(ctx, room)
	case "/dm":
		if arg == "" {
			return fmt.Errorf("%w: /dm <userId>", ErrUsage)
		}
		_, err := s.CreateChatRoom(ctx, arg)
		return err
	case "/image", "/file":
		url, text, _ := strings.Cut(arg, " ")
		if url == "" {
			return fmt.Errorf("%w: %s <url> [text]", ErrUsage, cmd)
		}
		d := chat.Draft{Type: chat.TypeImage, FileURL: url, Content: strings.TrimSpace(text)}
		if cmd == "/file" {
			d.Type = chat.TypeFile
		}
		return s.SendMessage(ctx, d)
	case "/typing":
		return s.NotifyTyping(ctx)
	case "/stop":
		return s.StopTyping(ctx)
	case "/read":
		snap := s.Snapshot()
		if snap.CurrentRoom == nil {
			return session.ErrNoRoomSelected
		}
		return s.MarkRoomRead(ctx, snap.CurrentRoom.ID)
	case "/state":
		snap := s.Snapshot()
		c.printf("state=%s rooms=%d unread=%d\n", snap.State, len(snap.Rooms), snap.UnreadCount)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd)
}

// Render prints what changed since the previous snapshot: new messages of
// the open room and the typing indicator.
func (c *Console) Render(s session.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	roomID := ""
	if s.CurrentRoom != nil {
		roomID = s.CurrentRoom.ID
	}
	if roomID != c.roomID || len(s.Messages) < c.rendered {
		c.roomID = roomID
		c.rendered = 0
		if s.CurrentRoom != nil {
			fmt.Fprintf(c.out, "-- %s --\n", roomTitle(*s.CurrentRoom))
		}
	}
	for _, m := range s.Messages[c.rendered:] {
		fmt.Fprintln(c.out, formatMessage(m, s.UserID))
	}
	c.rendered = len(s.Messages)

	if s.Typing != c.typing {
		c.typing = s.Typing
		if s.Typing {
			fmt.Fprintln(c.out, "  ... typing")
		}
	}
}

func (c *Console) printRooms(s session.Snapshot) {
	if len(s.Rooms) == 0 {
		c.println("no conversations")
		return
	}
	for _, r := range s.Rooms {
		line := fmt.Sprintf("  %s  %s", r.ID, roomTitle(r))
		if r.UnreadCount > 0 {
			line += fmt.Sprintf(" (%d unread)", r.UnreadCount)
		}
		if r.LastMessage != nil {
			line += ": " + r.LastMessage.Content
		}
		c.println(line)
	}
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

func roomTitle(r chat.ChatRoom) string {
	if r.OtherUser.Name != "" {
		return r.OtherUser.Name
	}
	if r.OtherUser.ID != "" {
		return r.OtherUser.ID
	}
	return r.ID
}

func formatMessage(m chat.Message, self string) string {
	who := m.SenderID
	if m.IsFrom(self) {
		who = "me"
	}
	body := m.Content
	if m.Type.HasAttachment() {
		body = strings.TrimSpace(fmt.Sprintf("[%s %s] %s", strings.ToLower(string(m.Type)), m.FileURL, m.Content))
	}
	line := fmt.Sprintf("  %s: %s", who, body)
	if m.Status == chat.StatusRead && m.IsFrom(self) {
		line += " (read)"
	}
	return line
}
