// Package cache holds the local read-through cache of matches,
// conversations and messages. It is a single logical resource: every
// mutation, whether from a user-initiated operation or from the sync
// bridge, goes through one mutex so concurrent writers never observe a
// partial merge.
//
// Updates are union-by-key, never wholesale replacement. A delta that
// lacks a field the cache already knows (a conversation id, an initiator)
// does not clear it, so a stale or partial record arriving after a newer
// local write loses nothing.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/roomly/matchtalk/internal/domain"
)

type Store struct {
	mu sync.Mutex

	matches       map[string]*domain.Match
	conversations map[string]*domain.Conversation
	convByMatch   map[string]string

	byID       map[string]map[string]*domain.Message
	ordered    map[string][]*domain.Message
	byClientID map[string]map[string]string
}

func New() *Store {
	return &Store{
		matches:       make(map[string]*domain.Match),
		conversations: make(map[string]*domain.Conversation),
		convByMatch:   make(map[string]string),
		byID:          make(map[string]map[string]*domain.Message),
		ordered:       make(map[string][]*domain.Message),
		byClientID:    make(map[string]map[string]string),
	}
}

// UpsertMatch merges the incoming match into the cache. Write-once fields
// (ConversationID, InitiatedBy) are only ever set, never cleared or
// reassigned; LastMessageAt only moves forward.
func (s *Store) UpsertMatch(in *domain.Match) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.matches[in.ID]
	if !ok {
		cp := *in
		s.matches[in.ID] = &cp
		return
	}

	if cur.ParticipantA == "" {
		cur.ParticipantA = in.ParticipantA
	}
	if cur.ParticipantB == "" {
		cur.ParticipantB = in.ParticipantB
	}
	if cur.CreatedAt.IsZero() {
		cur.CreatedAt = in.CreatedAt
	}
	if cur.ConversationID == "" {
		cur.ConversationID = in.ConversationID
	}
	if cur.InitiatedBy == "" {
		cur.InitiatedBy = in.InitiatedBy
	}
	if in.LastMessageAt != nil &&
		(cur.LastMessageAt == nil || in.LastMessageAt.After(*cur.LastMessageAt)) {
		t := *in.LastMessageAt
		cur.LastMessageAt = &t
	}
}

func (s *Store) Match(id string) (*domain.Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}

func (s *Store) UpsertConversation(in *domain.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.conversations[in.ID]
	if !ok {
		cp := *in
		s.conversations[in.ID] = &cp
		if cp.MatchID != "" {
			s.convByMatch[cp.MatchID] = cp.ID
		}
		return
	}

	if cur.MatchID == "" && in.MatchID != "" {
		cur.MatchID = in.MatchID
		s.convByMatch[in.MatchID] = cur.ID
	}
	if cur.ParticipantA == "" {
		cur.ParticipantA = in.ParticipantA
	}
	if cur.ParticipantB == "" {
		cur.ParticipantB = in.ParticipantB
	}
	if cur.CreatedAt.IsZero() {
		cur.CreatedAt = in.CreatedAt
	}
	if in.UpdatedAt.After(cur.UpdatedAt) {
		cur.UpdatedAt = in.UpdatedAt
	}
}

func (s *Store) Conversation(id string) (*domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

func (s *Store) ConversationByMatch(matchID string) (*domain.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.convByMatch[matchID]
	if !ok {
		return nil, false
	}
	c, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// PutOptimistic records a locally written message that has not been
// acknowledged by the store yet. The entry keeps its place in the ordered
// view until the authoritative record arrives and replaces it in place.
func (s *Store) PutOptimistic(msg *domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := msg.Clone()
	cp.Status = domain.StatusPending
	s.insertLocked(cp)

	if cp.ClientMsgID != "" {
		if s.byClientID[cp.ConversationID] == nil {
			s.byClientID[cp.ConversationID] = make(map[string]string)
		}
		s.byClientID[cp.ConversationID][cp.ClientMsgID] = cp.ID
	}
}

// UpsertMessage merges an authoritative message record. Duplicates by id
// are merged, not re-inserted. A record whose client id maps to an
// optimistic entry replaces that entry as an update to the same logical
// message, never a second insert.
func (s *Store) UpsertMessage(msg *domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	convID := msg.ConversationID

	if cur, ok := s.byID[convID][msg.ID]; ok {
		s.mergeMessageLocked(cur, msg)
		// A resend may have re-registered an optimistic entry under the
		// client id; point it back at the authoritative row.
		if msg.ClientMsgID != "" {
			if tmpID, ok := s.byClientID[convID][msg.ClientMsgID]; ok && tmpID != msg.ID {
				if tmp, exists := s.byID[convID][tmpID]; exists {
					s.removeLocked(tmp)
				}
				s.byClientID[convID][msg.ClientMsgID] = msg.ID
			}
		}
		return
	}

	if msg.ClientMsgID != "" {
		if tmpID, ok := s.byClientID[convID][msg.ClientMsgID]; ok {
			if tmp, exists := s.byID[convID][tmpID]; exists && tmpID != msg.ID {
				s.removeLocked(tmp)
			}
			s.byClientID[convID][msg.ClientMsgID] = msg.ID
		} else {
			if s.byClientID[convID] == nil {
				s.byClientID[convID] = make(map[string]string)
			}
			s.byClientID[convID][msg.ClientMsgID] = msg.ID
		}
	}

	cp := msg.Clone()
	cp.Status = domain.StatusSent
	s.insertLocked(cp)
}

func (s *Store) mergeMessageLocked(cur, in *domain.Message) {
	for user, at := range in.ReadReceipts {
		cur.MarkRead(user, at)
	}
	if in.Type == domain.MessageTypeDeleted && cur.Type != domain.MessageTypeDeleted {
		cur.Tombstone()
	}
	if cur.Status == domain.StatusPending && in.Status == domain.StatusSent {
		cur.Status = domain.StatusSent
	}
}

// MarkFailed flags the optimistic entry for clientMsgID. The entry is
// retained: dropping it is a presentation-layer decision.
func (s *Store) MarkFailed(conversationID, clientMsgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byClientID[conversationID][clientMsgID]
	if !ok {
		return
	}
	if msg, ok := s.byID[conversationID][id]; ok && msg.Status == domain.StatusPending {
		msg.Status = domain.StatusFailed
	}
}

// Messages returns the conversation's messages in (CreatedAt, ID) order.
func (s *Store) Messages(conversationID string) []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.ordered[conversationID]
	out := make([]*domain.Message, len(src))
	for i, m := range src {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) Message(conversationID, id string) (*domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[conversationID][id]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// UnreadCount derives the viewer's unread count from cached messages:
// acknowledged server records from the other participant without a read
// receipt for the viewer.
func (s *Store) UnreadCount(conversationID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.ordered[conversationID] {
		if m.SenderID == userID || m.Status != domain.StatusSent {
			continue
		}
		if !m.ReadBy(userID) {
			n++
		}
	}
	return n
}

// ApplyRead sets userID's receipt on every message not sent by userID up
// to and including the (uptoCreatedAt, uptoID) cursor. A zero cursor
// covers the whole conversation. Idempotent; receipts never regress.
func (s *Store) ApplyRead(conversationID, userID, uptoID string, uptoCreatedAt time.Time, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bounded := uptoID != ""
	bound := &domain.Message{ID: uptoID, CreatedAt: uptoCreatedAt}

	for _, m := range s.ordered[conversationID] {
		if bounded && domain.Less(bound, m) {
			break
		}
		if m.SenderID == userID {
			continue
		}
		m.MarkRead(userID, at)
	}
}

func (s *Store) insertLocked(msg *domain.Message) {
	convID := msg.ConversationID
	if s.byID[convID] == nil {
		s.byID[convID] = make(map[string]*domain.Message)
	}
	s.byID[convID][msg.ID] = msg

	list := s.ordered[convID]
	i := sort.Search(len(list), func(i int) bool {
		return !domain.Less(list[i], msg)
	})
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = msg
	s.ordered[convID] = list
}

func (s *Store) removeLocked(msg *domain.Message) {
	convID := msg.ConversationID
	delete(s.byID[convID], msg.ID)

	list := s.ordered[convID]
	for i, m := range list {
		if m.ID == msg.ID {
			s.ordered[convID] = append(list[:i], list[i+1:]...)
			return
		}
	}
}
