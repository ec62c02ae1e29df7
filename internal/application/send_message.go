package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roomly/matchtalk/internal/domain"
	"github.com/roomly/matchtalk/internal/event"
	"github.com/roomly/matchtalk/internal/observability"
)

type SendMessageCommand struct {
	ConversationID string
	SenderID       string
	ClientMsgID    string
	Type           string
	Content        string
}

// SendMessage appends to the conversation's ledger. The assigned
// timestamp never moves backwards relative to the conversation, so a
// sender's consecutive messages cannot appear reordered under clock
// skew. When the command carries a client message id an optimistic cache
// entry is written first; on failure that entry is flagged, never
// dropped — retry or removal is the presentation layer's call. A resend
// carrying the same client message id echoes the original record rather
// than appending a second row.
func (s *Service) SendMessage(ctx context.Context, cmd SendMessageCommand) (*domain.Message, error) {
	if cmd.Content == "" {
		return nil, domain.ErrEmptyContent
	}
	if len(cmd.Content) > domain.MaxMessageSize {
		return nil, domain.ErrMessageTooLarge
	}

	conv, err := s.conversation(ctx, cmd.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := conv.CanSend(cmd.SenderID); err != nil {
		return nil, err
	}

	if cmd.ClientMsgID != "" {
		s.cache.PutOptimistic(&domain.Message{
			ID:             "tmp:" + cmd.ClientMsgID,
			ConversationID: conv.ID,
			SenderID:       cmd.SenderID,
			ClientMsgID:    cmd.ClientMsgID,
			Type:           cmd.Type,
			Content:        cmd.Content,
			CreatedAt:      time.Now().UTC(),
		})
	}

	var result *domain.Message

	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(ctx context.Context, dbtx *sql.Tx) error {
			// A retried send echoes the row the first attempt produced.
			if cmd.ClientMsgID != "" {
				existing, err := s.store.GetMessageByClientID(ctx, dbtx, conv.ID, cmd.SenderID, cmd.ClientMsgID)
				if err == nil {
					result = existing
					return nil
				}
				if !errors.Is(err, domain.ErrMessageNotFound) {
					return err
				}
			}

			maxSeen, err := s.store.MaxMessageTime(ctx, dbtx, conv.ID)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			if now.Before(maxSeen) {
				now = maxSeen
			}

			msg, err := domain.NewMessage(
				uuid.NewString(),
				conv.ID,
				cmd.SenderID,
				cmd.ClientMsgID,
				cmd.Type,
				cmd.Content,
				now,
			)
			if err != nil {
				return err
			}

			if err := s.store.InsertMessage(ctx, dbtx, msg); err != nil {
				return fmt.Errorf("failed to save message: %w", err)
			}
			if err := s.store.TouchConversation(ctx, dbtx, conv.ID, now); err != nil {
				return fmt.Errorf("failed to touch conversation: %w", err)
			}

			payload, err := event.MessageInsert(msg).Encode()
			if err != nil {
				return fmt.Errorf("failed to encode message event: %w", err)
			}
			// Keyed by conversation so a conversation's deltas stay on
			// one partition and keep their relative order downstream.
			if err := s.store.InsertOutbox(ctx, dbtx, "message", msg.ConversationID, payload); err != nil {
				return fmt.Errorf("failed to save outbox event: %w", err)
			}

			result = msg
			return nil
		})
	})
	// A concurrent duplicate that lost the dedup-index race still echoes
	// the row the winner committed.
	if errors.Is(err, domain.ErrConflict) && cmd.ClientMsgID != "" {
		err = s.retry.Do(ctx, func(ctx context.Context) error {
			var rerr error
			result, rerr = s.store.GetMessageByClientID(ctx, nil, conv.ID, cmd.SenderID, cmd.ClientMsgID)
			return rerr
		})
	}
	if err != nil {
		if cmd.ClientMsgID != "" {
			s.cache.MarkFailed(conv.ID, cmd.ClientMsgID)
		}
		s.log.Warn("send failed",
			zap.String("conversation_id", conv.ID),
			zap.String("sender_id", cmd.SenderID),
			zap.Error(err),
		)
		return nil, err
	}

	s.cache.UpsertMessage(result)
	s.cache.UpsertConversation(&domain.Conversation{ID: conv.ID, UpdatedAt: result.CreatedAt})
	// Merge the activity timestamp only into a match the cache already
	// holds: seeding a new entry here would plant a participant-less
	// record that later reads would trust as complete.
	if _, ok := s.cache.Match(conv.MatchID); ok {
		at := result.CreatedAt
		s.cache.UpsertMatch(&domain.Match{ID: conv.MatchID, LastMessageAt: &at})
	}

	observability.MessagesAppendedTotal.Inc()
	s.publish(event.MessageInsert(result), conv.Participants())

	return result, nil
}
