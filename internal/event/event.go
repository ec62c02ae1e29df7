// Package event defines the change-notification envelope carried over the
// stream between the store and every running instance. Records are explicit
// typed DTOs; the cache applies them with a field-level union-merge rather
// than patching arbitrary fields.
package event

import (
	"encoding/json"
	"time"

	"github.com/roomly/matchtalk/internal/domain"
)

type Table string

const (
	TableMatch        Table = "match"
	TableConversation Table = "conversation"
	TableMessage      Table = "message"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
)

// MatchRecord is a partial view of a match. Empty fields mean "not carried
// by this delta", never "cleared": the merge rule retains previously
// observed values.
type MatchRecord struct {
	ID             string     `json:"id"`
	ParticipantA   string     `json:"participant_a,omitempty"`
	ParticipantB   string     `json:"participant_b,omitempty"`
	CreatedAt      time.Time  `json:"created_at,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	InitiatedBy    string     `json:"initiated_by,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
}

type ConversationRecord struct {
	ID           string    `json:"id"`
	MatchID      string    `json:"match_id,omitempty"`
	ParticipantA string    `json:"participant_a,omitempty"`
	ParticipantB string    `json:"participant_b,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// MessageRecord doubles as the payload for both new messages and receipt
// fan-in. A receipt-only update carries ConversationID, ReadReceipts and
// the Read* fields with an empty Content.
type MessageRecord struct {
	ID             string               `json:"id,omitempty"`
	ConversationID string               `json:"conversation_id"`
	SenderID       string               `json:"sender_id,omitempty"`
	ClientMsgID    string               `json:"client_msg_id,omitempty"`
	Type           string               `json:"type,omitempty"`
	Content        string               `json:"content,omitempty"`
	CreatedAt      time.Time            `json:"created_at,omitempty"`
	ReadReceipts   map[string]time.Time `json:"read_receipts,omitempty"`

	// Receipt fan-in: ReadUserID read everything up to and including
	// (ReadUpToCreatedAt, ReadUpToID) at ReadAt. Empty ReadUpToID means
	// the whole conversation.
	ReadUserID        string    `json:"read_user_id,omitempty"`
	ReadUpToID        string    `json:"read_up_to_id,omitempty"`
	ReadUpToCreatedAt time.Time `json:"read_up_to_created_at,omitempty"`
	ReadAt            time.Time `json:"read_at,omitempty"`
}

type ChangeEvent struct {
	Table        Table               `json:"table"`
	Op           Op                  `json:"op"`
	OccurredAt   time.Time           `json:"occurred_at"`
	Match        *MatchRecord        `json:"match,omitempty"`
	Conversation *ConversationRecord `json:"conversation,omitempty"`
	Message      *MessageRecord      `json:"message,omitempty"`
}

func (e ChangeEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func Decode(payload []byte) (ChangeEvent, error) {
	var e ChangeEvent
	err := json.Unmarshal(payload, &e)
	return e, err
}

// ConversationID returns the conversation a delta belongs to, empty for
// match deltas without one.
func (e ChangeEvent) ConversationID() string {
	switch e.Table {
	case TableConversation:
		if e.Conversation != nil {
			return e.Conversation.ID
		}
	case TableMessage:
		if e.Message != nil {
			return e.Message.ConversationID
		}
	case TableMatch:
		if e.Match != nil {
			return e.Match.ConversationID
		}
	}
	return ""
}

func MatchInsert(m *domain.Match) ChangeEvent {
	return ChangeEvent{Table: TableMatch, Op: OpInsert, OccurredAt: time.Now().UTC(), Match: FromMatch(m)}
}

func MatchUpdate(m *domain.Match) ChangeEvent {
	return ChangeEvent{Table: TableMatch, Op: OpUpdate, OccurredAt: time.Now().UTC(), Match: FromMatch(m)}
}

func ConversationInsert(c *domain.Conversation) ChangeEvent {
	return ChangeEvent{Table: TableConversation, Op: OpInsert, OccurredAt: time.Now().UTC(), Conversation: FromConversation(c)}
}

func MessageInsert(m *domain.Message) ChangeEvent {
	return ChangeEvent{Table: TableMessage, Op: OpInsert, OccurredAt: time.Now().UTC(), Message: FromMessage(m)}
}

func MessageUpdate(m *domain.Message) ChangeEvent {
	return ChangeEvent{Table: TableMessage, Op: OpUpdate, OccurredAt: time.Now().UTC(), Message: FromMessage(m)}
}

// ReceiptUpdate builds the fan-in event for a markRead call.
func ReceiptUpdate(conversationID, userID, uptoID string, uptoCreatedAt, at time.Time) ChangeEvent {
	return ChangeEvent{
		Table:      TableMessage,
		Op:         OpUpdate,
		OccurredAt: time.Now().UTC(),
		Message: &MessageRecord{
			ConversationID:    conversationID,
			ReadUserID:        userID,
			ReadUpToID:        uptoID,
			ReadUpToCreatedAt: uptoCreatedAt,
			ReadAt:            at,
		},
	}
}

func FromMatch(m *domain.Match) *MatchRecord {
	return &MatchRecord{
		ID:             m.ID,
		ParticipantA:   m.ParticipantA,
		ParticipantB:   m.ParticipantB,
		CreatedAt:      m.CreatedAt,
		ConversationID: m.ConversationID,
		InitiatedBy:    m.InitiatedBy,
		LastMessageAt:  m.LastMessageAt,
	}
}

func FromConversation(c *domain.Conversation) *ConversationRecord {
	return &ConversationRecord{
		ID:           c.ID,
		MatchID:      c.MatchID,
		ParticipantA: c.ParticipantA,
		ParticipantB: c.ParticipantB,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func FromMessage(m *domain.Message) *MessageRecord {
	return &MessageRecord{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ClientMsgID:    m.ClientMsgID,
		Type:           m.Type,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		ReadReceipts:   m.ReadReceipts,
	}
}

func (r *MatchRecord) ToDomain() *domain.Match {
	return &domain.Match{
		ID:             r.ID,
		ParticipantA:   r.ParticipantA,
		ParticipantB:   r.ParticipantB,
		CreatedAt:      r.CreatedAt,
		ConversationID: r.ConversationID,
		InitiatedBy:    r.InitiatedBy,
		LastMessageAt:  r.LastMessageAt,
	}
}

func (r *ConversationRecord) ToDomain() *domain.Conversation {
	return &domain.Conversation{
		ID:           r.ID,
		MatchID:      r.MatchID,
		ParticipantA: r.ParticipantA,
		ParticipantB: r.ParticipantB,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (r *MessageRecord) ToDomain() *domain.Message {
	receipts := r.ReadReceipts
	if receipts == nil {
		receipts = make(map[string]time.Time)
	}
	return &domain.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		ClientMsgID:    r.ClientMsgID,
		Type:           r.Type,
		Content:        r.Content,
		CreatedAt:      r.CreatedAt,
		ReadReceipts:   receipts,
		Status:         domain.StatusSent,
	}
}

// IsReceipt reports whether this message record is a receipt fan-in rather
// than a message body.
func (r *MessageRecord) IsReceipt() bool {
	return r.ReadUserID != ""
}
