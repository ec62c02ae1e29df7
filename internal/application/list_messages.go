package application

import (
	"context"

	"github.com/roomly/matchtalk/internal/domain"
	"github.com/roomly/matchtalk/internal/repository"
)

// ListMessages returns a page of the conversation's ledger in
// (CreatedAt, ID) order, oldest-first. beforeCursor bounds the page to
// messages strictly older than the cursor; pagination walks backward in
// time by passing the cursor of the oldest message already seen.
func (s *Service) ListMessages(
	ctx context.Context,
	conversationID string,
	userID string,
	limit int,
	beforeCursor string,
) ([]*domain.Message, error) {

	conv, err := s.conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := conv.CanSend(userID); err != nil {
		return nil, err
	}

	var before *repository.Cursor
	if beforeCursor != "" {
		c, err := repository.ParseCursor(beforeCursor)
		if err != nil {
			return nil, err
		}
		before = &c
	}

	var msgs []*domain.Message
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		msgs, err = s.store.ListMessagesBefore(ctx, conversationID, before, limit)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Read-through fill so later cache consumers (unread derivation,
	// card placement) see the fetched page.
	for _, m := range msgs {
		s.cache.UpsertMessage(m)
	}

	return msgs, nil
}
