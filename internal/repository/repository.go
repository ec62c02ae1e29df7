package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roomly/matchtalk/internal/domain"
)

// Cursor addresses a position in a conversation's (CreatedAt, ID) total
// order. ListMessagesBefore returns messages strictly older than it.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

func (c Cursor) Encode() string {
	return fmt.Sprintf("%d:%s", c.CreatedAt.UnixNano(), c.ID)
}

func ParseCursor(s string) (Cursor, error) {
	nanos, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Cursor{}, domain.ErrInvalidInput
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return Cursor{}, domain.ErrInvalidInput
	}
	return Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// CursorFor returns the cursor addressing msg itself.
func CursorFor(msg *domain.Message) Cursor {
	return Cursor{CreatedAt: msg.CreatedAt, ID: msg.ID}
}

type OutboxRow struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Payload       []byte
}

// Store is the persistence boundary. Implementations translate backend
// failures into domain errors: missing rows become the NotFound
// sentinels, connection-level failures are wrapped via domain.Transient
// so the retry layer can tell them apart from bad requests.
type Store interface {
	GetMatch(ctx context.Context, tx *sql.Tx, matchID string) (*domain.Match, error)
	InsertMatch(ctx context.Context, tx *sql.Tx, m *domain.Match) error

	// CreateConversationIfAbsent performs the conditional insert keyed
	// uniquely by matchID. When another caller won the race the existing
	// row is returned with created=false; the caller must not touch
	// match.InitiatedBy in that case.
	CreateConversationIfAbsent(ctx context.Context, tx *sql.Tx, conv *domain.Conversation) (out *domain.Conversation, created bool, err error)

	// SetMatchConversation records the write-once conversation linkage.
	// It only succeeds for the race winner (conditional on the field
	// being unset) and reports whether the write landed.
	SetMatchConversation(ctx context.Context, tx *sql.Tx, matchID, conversationID, initiatorID string) (bool, error)

	GetConversation(ctx context.Context, tx *sql.Tx, conversationID string) (*domain.Conversation, error)
	GetConversationByMatch(ctx context.Context, tx *sql.Tx, matchID string) (*domain.Conversation, error)

	InsertMessage(ctx context.Context, tx *sql.Tx, msg *domain.Message) error
	GetMessage(ctx context.Context, tx *sql.Tx, messageID string) (*domain.Message, error)

	// GetMessageByClientID resolves a client message id to the ledger
	// row it already produced, so a retried send echoes the original
	// record instead of appending a duplicate.
	GetMessageByClientID(ctx context.Context, tx *sql.Tx, conversationID, senderID, clientMsgID string) (*domain.Message, error)
	MarkMessageDeleted(ctx context.Context, tx *sql.Tx, messageID string) error

	// MaxMessageTime returns the newest CreatedAt in the conversation,
	// zero when empty. Used to keep the append clock non-decreasing per
	// conversation under clock skew.
	MaxMessageTime(ctx context.Context, tx *sql.Tx, conversationID string) (time.Time, error)

	// ListMessagesBefore returns up to limit messages strictly older
	// than before (nil means newest), ordered oldest-first.
	ListMessagesBefore(ctx context.Context, conversationID string, before *Cursor, limit int) ([]*domain.Message, error)

	// MarkMessagesRead stamps userID's receipt on messages not sent by
	// userID up to and including upto (nil means all). Receipts only
	// advance, never regress.
	MarkMessagesRead(ctx context.Context, tx *sql.Tx, conversationID, userID string, upto *Cursor, at time.Time) error

	// UnreadCount derives the count from the ledger; there is no stored
	// counter to drift.
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)

	// TouchConversation advances conversation.UpdatedAt and
	// match.LastMessageAt after an append.
	TouchConversation(ctx context.Context, tx *sql.Tx, conversationID string, at time.Time) error

	InsertOutbox(ctx context.Context, tx *sql.Tx, aggregateType, aggregateID string, payload []byte) error
	FetchOutbox(ctx context.Context, limit int) ([]OutboxRow, error)
	MarkPublished(ctx context.Context, id int64) error
}
