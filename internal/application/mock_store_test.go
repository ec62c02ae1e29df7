package application

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/roomly/matchtalk/internal/domain"
	"github.com/roomly/matchtalk/internal/repository"
)

// nopTx satisfies tx.Transactor without a database: the mock store is
// already serialized by its own mutex.
type nopTx struct{}

func (nopTx) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return fn(ctx, nil)
}

type mockStore struct {
	mu          sync.Mutex
	matches     map[string]*domain.Match
	convs       map[string]*domain.Conversation
	convByMatch map[string]string
	msgs        map[string]*domain.Message
	outbox      []repository.OutboxRow

	// failAppends makes the next N InsertMessage calls fail transiently.
	failAppends int
	// hideClientLookups makes the next N GetMessageByClientID calls miss,
	// standing in for a concurrent writer committing between the dedup
	// lookup and the insert.
	hideClientLookups int
}

func newMockStore() *mockStore {
	return &mockStore{
		matches:     make(map[string]*domain.Match),
		convs:       make(map[string]*domain.Conversation),
		convByMatch: make(map[string]string),
		msgs:        make(map[string]*domain.Message),
	}
}

func (s *mockStore) seedMatch(id, a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[id] = &domain.Match{ID: id, ParticipantA: a, ParticipantB: b, CreatedAt: time.Now().UTC()}
}

func (s *mockStore) GetMatch(ctx context.Context, tx *sql.Tx, matchID string) (*domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok {
		return nil, domain.ErrMatchNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *mockStore) InsertMatch(ctx context.Context, tx *sql.Tx, m *domain.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.matches[m.ID]; !ok {
		cp := *m
		s.matches[m.ID] = &cp
	}
	return nil
}

func (s *mockStore) CreateConversationIfAbsent(ctx context.Context, tx *sql.Tx, conv *domain.Conversation) (*domain.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.convByMatch[conv.MatchID]; ok {
		cp := *s.convs[id]
		return &cp, false, nil
	}

	cp := *conv
	cp.UpdatedAt = cp.CreatedAt
	s.convs[cp.ID] = &cp
	s.convByMatch[cp.MatchID] = cp.ID
	out := cp
	return &out, true, nil
}

func (s *mockStore) SetMatchConversation(ctx context.Context, tx *sql.Tx, matchID, conversationID, initiatorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return false, domain.ErrMatchNotFound
	}
	if m.ConversationID != "" {
		return false, nil
	}
	m.ConversationID = conversationID
	m.InitiatedBy = initiatorID
	return true, nil
}

func (s *mockStore) GetConversation(ctx context.Context, tx *sql.Tx, conversationID string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[conversationID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *mockStore) GetConversationByMatch(ctx context.Context, tx *sql.Tx, matchID string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.convByMatch[matchID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	cp := *s.convs[id]
	return &cp, nil
}

func (s *mockStore) InsertMessage(ctx context.Context, tx *sql.Tx, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAppends > 0 {
		s.failAppends--
		return domain.Transient(errors.New("connection reset by peer"))
	}

	// Mirrors the unique index on (conversation_id, sender_id, client_msg_id).
	if msg.ClientMsgID != "" {
		for _, m := range s.msgs {
			if m.ConversationID == msg.ConversationID && m.SenderID == msg.SenderID && m.ClientMsgID == msg.ClientMsgID {
				return domain.ErrConflict
			}
		}
	}

	s.msgs[msg.ID] = msg.Clone()
	return nil
}

func (s *mockStore) GetMessageByClientID(ctx context.Context, tx *sql.Tx, conversationID, senderID, clientMsgID string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hideClientLookups > 0 {
		s.hideClientLookups--
		return nil, domain.ErrMessageNotFound
	}
	for _, m := range s.msgs {
		if m.ConversationID == conversationID && m.SenderID == senderID && m.ClientMsgID == clientMsgID {
			return m.Clone(), nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (s *mockStore) GetMessage(ctx context.Context, tx *sql.Tx, messageID string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return m.Clone(), nil
}

func (s *mockStore) MarkMessageDeleted(ctx context.Context, tx *sql.Tx, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageID]
	if !ok {
		return domain.ErrMessageNotFound
	}
	m.Tombstone()
	return nil
}

func (s *mockStore) MaxMessageTime(ctx context.Context, tx *sql.Tx, conversationID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max time.Time
	for _, m := range s.msgs {
		if m.ConversationID == conversationID && m.CreatedAt.After(max) {
			max = m.CreatedAt
		}
	}
	return max, nil
}

func (s *mockStore) sortedMessages(conversationID string) []*domain.Message {
	var out []*domain.Message
	for _, m := range s.msgs {
		if m.ConversationID == conversationID {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return domain.Less(out[i], out[j]) })
	return out
}

func (s *mockStore) ListMessagesBefore(ctx context.Context, conversationID string, before *repository.Cursor, limit int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	all := s.sortedMessages(conversationID)
	if before != nil {
		bound := &domain.Message{ID: before.ID, CreatedAt: before.CreatedAt}
		var older []*domain.Message
		for _, m := range all {
			if domain.Less(m, bound) {
				older = append(older, m)
			}
		}
		all = older
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *mockStore) MarkMessagesRead(ctx context.Context, tx *sql.Tx, conversationID, userID string, upto *repository.Cursor, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bound *domain.Message
	if upto != nil {
		bound = &domain.Message{ID: upto.ID, CreatedAt: upto.CreatedAt}
	}

	for _, m := range s.msgs {
		if m.ConversationID != conversationID || m.SenderID == userID {
			continue
		}
		if bound != nil && domain.Less(bound, m) {
			continue
		}
		m.MarkRead(userID, at)
	}
	return nil
}

func (s *mockStore) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.msgs {
		if m.ConversationID == conversationID && m.SenderID != userID && !m.ReadBy(userID) {
			n++
		}
	}
	return n, nil
}

func (s *mockStore) TouchConversation(ctx context.Context, tx *sql.Tx, conversationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.convs[conversationID]; ok && at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
	for _, m := range s.matches {
		if m.ConversationID == conversationID {
			if m.LastMessageAt == nil || at.After(*m.LastMessageAt) {
				t := at
				m.LastMessageAt = &t
			}
		}
	}
	return nil
}

func (s *mockStore) InsertOutbox(ctx context.Context, tx *sql.Tx, aggregateType, aggregateID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, repository.OutboxRow{
		ID:            int64(len(s.outbox) + 1),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payload,
	})
	return nil
}

func (s *mockStore) FetchOutbox(ctx context.Context, limit int) ([]repository.OutboxRow, error) {
	return nil, nil
}

func (s *mockStore) MarkPublished(ctx context.Context, id int64) error {
	return nil
}
