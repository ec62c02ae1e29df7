package domain

import "time"

const MaxMessageSize = 5000

// DeletedMarker replaces the content of a deleted message. The row itself
// is never removed so ordering and counts stay intact.
const DeletedMarker = "[deleted]"

const (
	MessageTypeText    = "text"
	MessageTypeSystem  = "system"
	MessageTypeDeleted = "deleted"
)

// MessageStatus tracks the local lifecycle of an entry in the cache.
// Persisted records are always StatusSent.
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Message Invariants:
//  1. Ordering: total order by (CreatedAt, ID), ID as lexicographic tie-break.
//  2. Immutability: fields never change after creation except ReadReceipts,
//     which only grows, and Content/Type on tombstoning.
//  3. ClientMsgID links an optimistic local entry to the authoritative record.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ClientMsgID    string
	Type           string
	Content        string
	CreatedAt      time.Time
	ReadReceipts   map[string]time.Time
	Status         MessageStatus
}

func NewMessage(
	id string,
	conversationID string,
	senderID string,
	clientMsgID string,
	msgType string,
	content string,
	now time.Time,
) (*Message, error) {

	if id == "" || conversationID == "" || senderID == "" {
		return nil, ErrInvalidInput
	}

	if content == "" {
		return nil, ErrEmptyContent
	}

	if len(content) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	if msgType == "" {
		msgType = MessageTypeText
	}

	return &Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		ClientMsgID:    clientMsgID,
		Type:           msgType,
		Content:        content,
		CreatedAt:      now,
		ReadReceipts:   make(map[string]time.Time),
		Status:         StatusSent,
	}, nil
}

// Less reports whether a sorts before b in the (CreatedAt, ID) total order.
func Less(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (m *Message) ReadBy(userID string) bool {
	_, ok := m.ReadReceipts[userID]
	return ok
}

// MarkRead sets the receipt for userID. A receipt timestamp may advance
// but never regresses below a previously recorded value.
func (m *Message) MarkRead(userID string, at time.Time) {
	if m.ReadReceipts == nil {
		m.ReadReceipts = make(map[string]time.Time)
	}
	if prev, ok := m.ReadReceipts[userID]; ok && at.Before(prev) {
		return
	}
	m.ReadReceipts[userID] = at
}

// Tombstone replaces the content with the deletion marker.
func (m *Message) Tombstone() {
	m.Content = DeletedMarker
	m.Type = MessageTypeDeleted
}

func (m *Message) Clone() *Message {
	cp := *m
	cp.ReadReceipts = make(map[string]time.Time, len(m.ReadReceipts))
	for k, v := range m.ReadReceipts {
		cp.ReadReceipts[k] = v
	}
	return &cp
}
