package emulator

import (
	"log/slog"

	"github.com/example/chat-sync-client/domain/chat"
)

// Service applies chat operations to the store and fans the results out to
// connected users. REST and socket handlers share it.
type Service struct {
	store   *Store
	hub     *Hub
	metrics *metrics
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(store *Store, hub *Hub, m *metrics, logger *slog.Logger) *Service {
	return &Service{store: store, hub: hub, metrics: m, logger: logger}
}

// OpenRoom returns the direct room between userID and otherID. The other user
// is notified when the room is new.
func (s *Service) OpenRoom(userID, otherID string) (chat.ChatRoom, error) {
	room, created, err := s.store.CreateOrGetRoom(userID, otherID)
	if err != nil {
		return chat.ChatRoom{}, err
	}
	if created {
		s.metrics.roomsOpened.Inc()
		s.logger.Info("Room created", "room", room.ID, "by", userID, "with", otherID)

		title := userID
		if u, ok := s.store.GetUser(userID); ok {
			title = u.Name
		}
		s.hub.SendToUser(otherID, evNotification, notification{
			Type:  "room_created",
			Title: title,
			Body:  "started a conversation with you",
			Data:  map[string]string{"chatRoomId": room.ID},
		})
	}
	return room, nil
}

// History returns a page of a room's messages.
func (s *Service) History(roomID, userID string, page chat.Page) ([]chat.Message, error) {
	return s.store.GetMessages(roomID, userID, page)
}

// Send stores a message, confirms it to the sender's connections and
// delivers it to the recipient's.
func (s *Service) Send(roomID, senderID string, d chat.Draft, via string) (chat.Message, error) {
	msg, recipient, err := s.store.AddMessage(roomID, senderID, d)
	if err != nil {
		return chat.Message{}, err
	}
	s.metrics.messages.WithLabelValues(via).Inc()

	s.hub.SendToUser(senderID, evMessageSent, msg)
	s.hub.DeliverMessage(recipient, msg)
	return msg, nil
}

// MarkRead clears userID's unread counter and sends the read receipt to both
// members.
func (s *Service) MarkRead(roomID, userID string) (int, error) {
	n, err := s.store.MarkRead(roomID, userID)
	if err != nil {
		return 0, err
	}
	members, _ := s.store.Members(roomID)
	receipt := roomSignal{ChatRoomID: roomID, UserID: userID}
	for _, member := range members {
		s.hub.SendToUser(member, evMessagesRead, receipt)
	}
	return n, nil
}

// Typing relays a typing signal to the other member of the room.
func (s *Service) Typing(roomID, userID string, typing bool) error {
	room, err := s.store.GetRoom(roomID, userID)
	if err != nil {
		return err
	}
	event := evUserStopTyping
	if typing {
		event = evUserTyping
	}
	s.hub.SendToUser(room.OtherUser.ID, event, roomSignal{ChatRoomID: roomID, UserID: userID})
	return nil
}
