package application

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roomly/matchtalk/internal/domain"
	"github.com/roomly/matchtalk/internal/event"
)

// DeleteMessage tombstones a message: the content is replaced with a
// system marker and the row keeps its place in the order, so counts and
// pagination are unaffected. Only the sender may delete.
func (s *Service) DeleteMessage(ctx context.Context, conversationID, messageID, requesterID string) error {
	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := conv.CanSend(requesterID); err != nil {
		return err
	}

	var deleted *domain.Message

	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(ctx context.Context, dbtx *sql.Tx) error {
			msg, err := s.store.GetMessage(ctx, dbtx, messageID)
			if err != nil {
				return err
			}
			if msg.ConversationID != conversationID {
				return domain.ErrMessageNotFound
			}
			if msg.SenderID != requesterID {
				return domain.ErrNotSender
			}

			if err := s.store.MarkMessageDeleted(ctx, dbtx, messageID); err != nil {
				return err
			}
			msg.Tombstone()

			payload, err := event.MessageUpdate(msg).Encode()
			if err != nil {
				return fmt.Errorf("failed to encode message event: %w", err)
			}
			if err := s.store.InsertOutbox(ctx, dbtx, "message", msg.ConversationID, payload); err != nil {
				return fmt.Errorf("failed to save outbox event: %w", err)
			}

			deleted = msg
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.cache.UpsertMessage(deleted)
	s.publish(event.MessageUpdate(deleted), conv.Participants())
	return nil
}
