// Package application implements the messaging core behind the
// presentation surface: conversation lifecycle, the message ledger, read
// state and per-viewer card placement. The store is the authority; the
// local cache is read-through and updated on the same path the sync
// bridge uses, so user writes and remote deltas interleave safely.
package application

import (
	"context"

	"go.uber.org/zap"

	"github.com/roomly/matchtalk/internal/cache"
	"github.com/roomly/matchtalk/internal/domain"
	"github.com/roomly/matchtalk/internal/event"
	"github.com/roomly/matchtalk/internal/repository"
	"github.com/roomly/matchtalk/internal/retry"
	"github.com/roomly/matchtalk/internal/subscription"
	"github.com/roomly/matchtalk/internal/tx"
)

type Service struct {
	store repository.Store
	tx    tx.Transactor
	cache *cache.Store
	hub   *subscription.Hub
	retry retry.Policy
	log   *zap.Logger
}

func New(
	store repository.Store,
	transactor tx.Transactor,
	localCache *cache.Store,
	hub *subscription.Hub,
	log *zap.Logger,
) *Service {
	return &Service{
		store: store,
		tx:    transactor,
		cache: localCache,
		hub:   hub,
		retry: retry.Default,
		log:   log,
	}
}

// Cache exposes the local cache for the sync bridge and transports.
func (s *Service) Cache() *cache.Store { return s.cache }

// Hub exposes the subscription hub for transports.
func (s *Service) Hub() *subscription.Hub { return s.hub }

// SubscribeConversation registers fn for deltas touching one conversation.
func (s *Service) SubscribeConversation(conversationID string, fn subscription.Handler) *subscription.Subscription {
	return s.hub.Subscribe(subscription.ConversationTopic(conversationID), fn)
}

// SubscribeUser registers fn for deltas touching any match or
// conversation the user participates in.
func (s *Service) SubscribeUser(userID string, fn subscription.Handler) *subscription.Subscription {
	return s.hub.Subscribe(subscription.UserTopic(userID), fn)
}

// conversation is the read-through lookup: cache first, then the store,
// filling the cache on a miss.
func (s *Service) conversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	if conversationID == "" {
		return nil, domain.ErrInvalidInput
	}

	if conv, ok := s.cache.Conversation(conversationID); ok {
		return conv, nil
	}

	var conv *domain.Conversation
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		conv, err = s.store.GetConversation(ctx, nil, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.UpsertConversation(conv)
	return conv, nil
}

func (s *Service) match(ctx context.Context, matchID string) (*domain.Match, error) {
	if matchID == "" {
		return nil, domain.ErrInvalidInput
	}

	if m, ok := s.cache.Match(matchID); ok {
		return m, nil
	}

	var m *domain.Match
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		m, err = s.store.GetMatch(ctx, nil, matchID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.UpsertMatch(m)
	return m, nil
}

// publish fans a delta out to the conversation topic and both
// participants' user topics.
func (s *Service) publish(ev event.ChangeEvent, participants [2]string) {
	if cid := ev.ConversationID(); cid != "" {
		s.hub.Publish(subscription.ConversationTopic(cid), ev)
	}
	for _, p := range participants {
		if p != "" {
			s.hub.Publish(subscription.UserTopic(p), ev)
		}
	}
}
