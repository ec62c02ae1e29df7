package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/roomly/matchtalk/internal/domain"
)

// UnreadCount derives the viewer's unread count from the ledger. The
// derived value is the source of truth; the cache-backed count used as a
// fallback is itself derived from cached messages, never an independent
// counter that can drift.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if err := conv.CanSend(userID); err != nil {
		return 0, err
	}

	var n int
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.store.UnreadCount(ctx, conversationID, userID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// CardState recomputes where the match surfaces for viewerID. Derived on
// demand from match, conversation and unread state; nothing is stored.
// When the store is unreachable past the retry budget the last-known-good
// cache serves the computation instead of failing the card.
func (s *Service) CardState(ctx context.Context, matchID, viewerID string) (domain.CardState, error) {
	m, err := s.match(ctx, matchID)
	if err != nil {
		return domain.CardState{}, err
	}
	if !m.HasParticipant(viewerID) {
		return domain.CardState{}, domain.ErrNotParticipant
	}

	var conv *domain.Conversation
	if m.HasConversation() {
		conv, err = s.conversation(ctx, m.ConversationID)
		if err != nil {
			if !errors.Is(err, domain.ErrRetryExhausted) {
				return domain.CardState{}, err
			}
			// Stale-but-available: fall back to whatever the cache holds.
			if cached, ok := s.cache.Conversation(m.ConversationID); ok {
				conv = cached
			} else {
				return domain.CardState{}, err
			}
		}
	}

	unread := 0
	if conv != nil {
		var n int
		cerr := s.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			n, err = s.store.UnreadCount(ctx, conv.ID, viewerID)
			return err
		})
		switch {
		case cerr == nil:
			unread = n
		case errors.Is(cerr, domain.ErrRetryExhausted):
			unread = s.cache.UnreadCount(conv.ID, viewerID)
			s.log.Warn("serving cached unread count",
				zap.String("conversation_id", conv.ID),
				zap.String("viewer_id", viewerID),
				zap.Error(cerr),
			)
		default:
			return domain.CardState{}, cerr
		}
	}

	return domain.PlaceCard(m, conv, unread, viewerID), nil
}
