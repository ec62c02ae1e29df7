// Package bridge merges remote change-stream deltas into the local cache
// and fans them out to subscribers. Both this path and user-initiated
// writes funnel through the cache's single mutex, so interleaving them
// never loses an update. Deltas are applied in receive order per
// conversation; an out-of-order timestamp still lands in its correct
// position in the ordered view because insertion is by (CreatedAt, ID),
// not arrival.
package bridge

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/zap"

	"github.com/roomly/matchtalk/internal/cache"
	"github.com/roomly/matchtalk/internal/domain"
	"github.com/roomly/matchtalk/internal/event"
	"github.com/roomly/matchtalk/internal/observability"
	"github.com/roomly/matchtalk/internal/repository"
	"github.com/roomly/matchtalk/internal/subscription"
)

// Store is the slice of the persistence boundary the bridge needs for
// snapshot re-fetches after a dropped stream.
type Store interface {
	GetConversation(ctx context.Context, tx *sql.Tx, conversationID string) (*domain.Conversation, error)
	ListMessagesBefore(ctx context.Context, conversationID string, before *repository.Cursor, limit int) ([]*domain.Message, error)
}

// Fanout forwards a raw event to sibling instances (redis pub/sub).
type Fanout interface {
	Publish(ctx context.Context, payload []byte) error
}

type Bridge struct {
	cache  *cache.Store
	hub    *subscription.Hub
	store  Store
	fanout Fanout
	log    *zap.Logger

	mu      sync.Mutex
	tracked map[string]struct{}
}

func New(localCache *cache.Store, hub *subscription.Hub, store Store, fanout Fanout, log *zap.Logger) *Bridge {
	return &Bridge{
		cache:   localCache,
		hub:     hub,
		store:   store,
		fanout:  fanout,
		log:     log,
		tracked: make(map[string]struct{}),
	}
}

// Track marks a conversation for snapshot resync after reconnects.
func (b *Bridge) Track(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tracked[conversationID] = struct{}{}
}

// Untrack is safe to call while an event for the conversation is in
// flight; the event still merges into the cache (harmless) but the
// conversation is no longer resynced.
func (b *Bridge) Untrack(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tracked, conversationID)
}

func (b *Bridge) trackedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.tracked))
	for id := range b.tracked {
		out = append(out, id)
	}
	return out
}

// Handle consumes a raw event from the durable stream, merges it locally
// and forwards it to sibling instances.
func (b *Bridge) Handle(ctx context.Context, payload []byte) {
	ev, err := event.Decode(payload)
	if err != nil {
		b.log.Error("bridge: undecodable event", zap.Error(err))
		return
	}

	b.Apply(ev)

	if b.fanout != nil {
		if err := b.fanout.Publish(ctx, payload); err != nil {
			b.log.Error("bridge: fanout failed", zap.Error(err))
		}
	}
}

// HandleRemote consumes an event echoed by a sibling instance. Same
// merge, no re-fanout.
func (b *Bridge) HandleRemote(payload []byte) {
	ev, err := event.Decode(payload)
	if err != nil {
		b.log.Error("bridge: undecodable remote event", zap.Error(err))
		return
	}
	b.Apply(ev)
}

// Apply merges one delta into the cache with the union rule and notifies
// subscribers on the conversation and user topics it touches.
func (b *Bridge) Apply(ev event.ChangeEvent) {
	observability.SyncEventsAppliedTotal.WithLabelValues(string(ev.Table), string(ev.Op)).Inc()

	switch ev.Table {
	case event.TableMatch:
		if ev.Match == nil {
			return
		}
		b.cache.UpsertMatch(ev.Match.ToDomain())
		// Fan out with the merged view: the delta may be partial.
		if merged, ok := b.cache.Match(ev.Match.ID); ok {
			b.notifyUsers(ev, merged.ParticipantA, merged.ParticipantB)
		}

	case event.TableConversation:
		if ev.Conversation == nil {
			return
		}
		conv := ev.Conversation.ToDomain()
		b.cache.UpsertConversation(conv)
		b.Track(conv.ID)
		b.hub.Publish(subscription.ConversationTopic(conv.ID), ev)
		b.notifyUsers(ev, conv.ParticipantA, conv.ParticipantB)

	case event.TableMessage:
		if ev.Message == nil {
			return
		}
		convID := ev.Message.ConversationID
		if ev.Message.IsReceipt() {
			b.cache.ApplyRead(convID, ev.Message.ReadUserID,
				ev.Message.ReadUpToID, ev.Message.ReadUpToCreatedAt, ev.Message.ReadAt)
		} else {
			b.cache.UpsertMessage(ev.Message.ToDomain())
		}
		b.hub.Publish(subscription.ConversationTopic(convID), ev)
		if conv, ok := b.cache.Conversation(convID); ok {
			b.notifyUsers(ev, conv.ParticipantA, conv.ParticipantB)
		}
	}
}

func (b *Bridge) notifyUsers(ev event.ChangeEvent, users ...string) {
	for _, u := range users {
		if u != "" {
			b.hub.Publish(subscription.UserTopic(u), ev)
		}
	}
}

// Resync re-fetches a full snapshot for every tracked conversation and
// reconciles it with the same union rule the delta path uses, so no
// source (optimistic write or remote delta) is lost regardless of which
// arrived last.
func (b *Bridge) Resync(ctx context.Context) {
	observability.SyncResyncsTotal.Inc()

	for _, convID := range b.trackedIDs() {
		if err := b.resyncConversation(ctx, convID); err != nil {
			b.log.Warn("bridge: resync failed",
				zap.String("conversation_id", convID),
				zap.Error(err),
			)
		}
	}
}

func (b *Bridge) resyncConversation(ctx context.Context, conversationID string) error {
	conv, err := b.store.GetConversation(ctx, nil, conversationID)
	if err != nil {
		return err
	}
	b.cache.UpsertConversation(conv)

	msgs, err := b.store.ListMessagesBefore(ctx, conversationID, nil, 200)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		b.cache.UpsertMessage(m)
	}
	return nil
}
