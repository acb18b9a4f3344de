package emulator

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/chat-sync-client/domain/chat"
)

// Store errors
var (
	ErrUserNotFound = errors.New("user not found")
	ErrRoomNotFound = errors.New("chat room not found")
	ErrNotMember    = errors.New("not a member of this chat room")
	ErrSelfRoom     = errors.New("cannot open a chat room with yourself")
)

// User is a registered chat user.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type room struct {
	id        string
	members   [2]string
	createdAt time.Time
}

func (r *room) other(userID string) (string, bool) {
	switch userID {
	case r.members[0]:
		return r.members[1], true
	case r.members[1]:
		return r.members[0], true
	}
	return "", false
}

// Store provides thread-safe storage for users, direct rooms, messages and
// per-user unread counters.
type Store struct {
	mu         sync.RWMutex
	users      map[string]*User
	rooms      map[string]*room
	pairs      map[[2]string]string      // ordered member pair -> roomID
	messages   map[string][]chat.Message // roomID -> messages, oldest first
	unread     map[string]map[string]int // roomID -> userID -> count
	maxHistory int
	now        func() time.Time
}

// NewStore creates an empty store keeping at most maxHistory messages per room.
func NewStore(maxHistory int) *Store {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Store{
		users:      make(map[string]*User),
		rooms:      make(map[string]*room),
		pairs:      make(map[[2]string]string),
		messages:   make(map[string][]chat.Message),
		unread:     make(map[string]map[string]int),
		maxHistory: maxHistory,
		now:        time.Now,
	}
}

// PutUser adds or replaces a user.
func (s *Store) PutUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u
	s.users[u.ID] = &cp
}

// GetUser returns a user by ID.
func (s *Store) GetUser(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// ListUsers returns all users ordered by name.
func (s *Store) ListUsers() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CreateOrGetRoom returns the direct room between userID and otherID,
// creating it on first use. The same room is returned for either ordering.
func (s *Store) CreateOrGetRoom(userID, otherID string) (chat.ChatRoom, bool, error) {
	if userID == otherID {
		return chat.ChatRoom{}, false, ErrSelfRoom
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[otherID]; !ok {
		return chat.ChatRoom{}, false, ErrUserNotFound
	}

	key := pairKey(userID, otherID)
	if id, ok := s.pairs[key]; ok {
		return s.projectLocked(s.rooms[id], userID), false, nil
	}

	r := &room{
		id:        uuid.New().String(),
		members:   [2]string{userID, otherID},
		createdAt: s.now(),
	}
	s.rooms[r.id] = r
	s.pairs[key] = r.id
	s.messages[r.id] = make([]chat.Message, 0)
	s.unread[r.id] = make(map[string]int)
	return s.projectLocked(r, userID), true, nil
}

// GetRoom returns the room as seen by userID.
func (s *Store) GetRoom(roomID, userID string) (chat.ChatRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.memberRoomLocked(roomID, userID)
	if err != nil {
		return chat.ChatRoom{}, err
	}
	return s.projectLocked(r, userID), nil
}

// ListRooms returns the rooms of userID, most recently active first.
func (s *Store) ListRooms(userID string) []chat.ChatRoom {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		room   chat.ChatRoom
		active time.Time
	}
	entries := make([]entry, 0)
	for _, r := range s.rooms {
		if _, ok := r.other(userID); !ok {
			continue
		}
		active := r.createdAt
		if msgs := s.messages[r.id]; len(msgs) > 0 {
			active = msgs[len(msgs)-1].Timestamp
		}
		entries = append(entries, entry{room: s.projectLocked(r, userID), active: active})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].active.After(entries[j].active) })

	out := make([]chat.ChatRoom, len(entries))
	for i, e := range entries {
		out[i] = e.room
	}
	return out
}

// Members returns the two members of a room.
func (s *Store) Members(roomID string) ([2]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return [2]string{}, false
	}
	return r.members, true
}

// AddMessage appends a message from senderID and bumps the other member's
// unread counter. It returns the stored message and the recipient.
func (s *Store) AddMessage(roomID, senderID string, d chat.Draft) (chat.Message, string, error) {
	if err := d.Validate(); err != nil {
		return chat.Message{}, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.memberRoomLocked(roomID, senderID)
	if err != nil {
		return chat.Message{}, "", err
	}
	recipient, _ := r.other(senderID)

	msg := chat.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		SenderID:  senderID,
		Type:      d.Type,
		Content:   d.Content,
		FileURL:   d.FileURL,
		Timestamp: s.now().UTC(),
	}

	msgs := append(s.messages[roomID], msg)
	if len(msgs) > s.maxHistory {
		msgs = msgs[len(msgs)-s.maxHistory:]
	}
	s.messages[roomID] = msgs
	s.unread[roomID][recipient]++
	return msg, recipient, nil
}

// GetMessages returns a page of history in chronological order. Offset counts
// back from the newest message, so offset 0 is the latest page.
func (s *Store) GetMessages(roomID, userID string, page chat.Page) ([]chat.Message, error) {
	page = page.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.memberRoomLocked(roomID, userID); err != nil {
		return nil, err
	}

	msgs := s.messages[roomID]
	end := len(msgs) - page.Offset
	if end <= 0 {
		return []chat.Message{}, nil
	}
	start := end - page.Limit
	if start < 0 {
		start = 0
	}
	out := make([]chat.Message, end-start)
	copy(out, msgs[start:end])
	return out, nil
}

// MarkRead clears the unread counter of userID in a room and returns how many
// messages it covered.
func (s *Store) MarkRead(roomID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.memberRoomLocked(roomID, userID); err != nil {
		return 0, err
	}
	n := s.unread[roomID][userID]
	delete(s.unread[roomID], userID)
	return n, nil
}

// UnreadCount is the total unread messages of userID across rooms.
func (s *Store) UnreadCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, counts := range s.unread {
		total += counts[userID]
	}
	return total
}

// Stats reports store sizes for health checks.
func (s *Store) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, msgs := range s.messages {
		total += len(msgs)
	}
	return map[string]any{
		"users":    len(s.users),
		"rooms":    len(s.rooms),
		"messages": total,
	}
}

func (s *Store) memberRoomLocked(roomID, userID string) (*room, error) {
	r, ok := s.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if _, ok := r.other(userID); !ok {
		return nil, ErrNotMember
	}
	return r, nil
}

func (s *Store) projectLocked(r *room, userID string) chat.ChatRoom {
	otherID, _ := r.other(userID)
	other := chat.Participant{ID: otherID, Name: otherID}
	if u, ok := s.users[otherID]; ok {
		other = chat.Participant{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
	}

	cr := chat.ChatRoom{
		ID:          r.id,
		OtherUser:   other,
		UnreadCount: s.unread[r.id][userID],
	}
	if msgs := s.messages[r.id]; len(msgs) > 0 {
		cr.LastMessage = msgs[len(msgs)-1].Summary()
	}
	return cr
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}
