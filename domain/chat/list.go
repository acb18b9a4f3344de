package chat

// MessageList is the ordered message sequence of one room. Message ids are
// unique within the list; Append refuses an id it has already seen.
//
// MessageList is not safe for concurrent use.
type MessageList struct {
	items []Message
	index map[string]struct{}
}

// NewMessageList builds a list from msgs, dropping repeated ids.
func NewMessageList(msgs ...Message) *MessageList {
	l := &MessageList{
		items: make([]Message, 0, len(msgs)),
		index: make(map[string]struct{}, len(msgs)),
	}
	l.Merge(msgs)
	return l
}

// Append adds msg unless a message with the same id is already present.
// It reports whether msg was added.
func (l *MessageList) Append(msg Message) bool {
	if l.index == nil {
		l.index = make(map[string]struct{})
	}
	if msg.ID == "" {
		return false
	}
	if _, ok := l.index[msg.ID]; ok {
		return false
	}
	l.index[msg.ID] = struct{}{}
	l.items = append(l.items, msg)
	return true
}

// Merge appends every message of msgs under the same guard as Append and
// returns how many were added.
func (l *MessageList) Merge(msgs []Message) int {
	added := 0
	for _, m := range msgs {
		if l.Append(m) {
			added++
		}
	}
	return added
}

// Contains reports whether id is present.
func (l *MessageList) Contains(id string) bool {
	_, ok := l.index[id]
	return ok
}

// Len returns the number of messages.
func (l *MessageList) Len() int {
	return len(l.items)
}

// Items returns a copy of the messages in insertion order.
func (l *MessageList) Items() []Message {
	out := make([]Message, len(l.items))
	copy(out, l.items)
	return out
}

// MarkReadFrom sets StatusRead on every message authored by senderID and
// returns how many changed.
func (l *MessageList) MarkReadFrom(senderID string) int {
	n := 0
	for i := range l.items {
		if l.items[i].IsFrom(senderID) && l.items[i].Status != StatusRead {
			l.items[i].Status = StatusRead
			n++
		}
	}
	return n
}

// Reset empties the list.
func (l *MessageList) Reset() {
	l.items = l.items[:0]
	l.index = make(map[string]struct{})
}
