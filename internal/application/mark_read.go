package application

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roomly/matchtalk/internal/domain"
	"github.com/roomly/matchtalk/internal/event"
	"github.com/roomly/matchtalk/internal/repository"
)

// MarkRead stamps userID's read receipt on every message in the
// conversation not sent by userID, up to and including uptoMessageID
// (empty means all). Idempotent: re-applying may advance a receipt's
// timestamp but never regresses it.
func (s *Service) MarkRead(
	ctx context.Context,
	conversationID string,
	userID string,
	uptoMessageID string,
) error {

	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := conv.CanSend(userID); err != nil {
		return err
	}

	var upto *repository.Cursor
	if uptoMessageID != "" {
		var msg *domain.Message
		err := s.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			msg, err = s.store.GetMessage(ctx, nil, uptoMessageID)
			return err
		})
		if err != nil {
			return err
		}
		if msg.ConversationID != conversationID {
			return domain.ErrMessageNotFound
		}
		c := repository.CursorFor(msg)
		upto = &c
	}

	now := time.Now().UTC()

	err = s.retry.Do(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(ctx context.Context, dbtx *sql.Tx) error {
			if err := s.store.MarkMessagesRead(ctx, dbtx, conversationID, userID, upto, now); err != nil {
				return fmt.Errorf("failed to mark messages read: %w", err)
			}

			ev := receiptEvent(conversationID, userID, upto, now)
			payload, err := ev.Encode()
			if err != nil {
				return fmt.Errorf("failed to encode receipt event: %w", err)
			}
			return s.store.InsertOutbox(ctx, dbtx, "message", conversationID, payload)
		})
	})
	if err != nil {
		return err
	}

	if upto != nil {
		s.cache.ApplyRead(conversationID, userID, upto.ID, upto.CreatedAt, now)
	} else {
		s.cache.ApplyRead(conversationID, userID, "", time.Time{}, now)
	}

	s.publish(receiptEvent(conversationID, userID, upto, now), conv.Participants())
	return nil
}

func receiptEvent(conversationID, userID string, upto *repository.Cursor, at time.Time) event.ChangeEvent {
	if upto != nil {
		return event.ReceiptUpdate(conversationID, userID, upto.ID, upto.CreatedAt, at)
	}
	return event.ReceiptUpdate(conversationID, userID, "", time.Time{}, at)
}
