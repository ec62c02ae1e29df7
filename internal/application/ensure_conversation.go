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

// EnsureConversation returns the conversation for matchID, creating it if
// absent. Safe to call concurrently from both participants: the store's
// uniqueness constraint on matchID picks a single winner, losers re-read
// the winning row, and only the winner sets match.InitiatedBy. A lost
// race is never surfaced to the caller.
func (s *Service) EnsureConversation(
	ctx context.Context,
	matchID string,
	requestingUserID string,
) (*domain.Conversation, error) {

	if matchID == "" || requestingUserID == "" {
		return nil, domain.ErrInvalidInput
	}

	var (
		result  *domain.Conversation
		match   *domain.Match
		created bool
	)

	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(ctx context.Context, dbtx *sql.Tx) error {
			m, err := s.store.GetMatch(ctx, dbtx, matchID)
			if err != nil {
				return err
			}
			if !m.HasParticipant(requestingUserID) {
				return domain.ErrNotParticipant
			}

			// Fast path: the match already carries its write-once link.
			if m.HasConversation() {
				conv, err := s.store.GetConversation(ctx, dbtx, m.ConversationID)
				if err != nil {
					return err
				}
				result, match, created = conv, m, false
				return nil
			}

			now := time.Now().UTC()
			conv := &domain.Conversation{
				ID:           uuid.NewString(),
				MatchID:      matchID,
				ParticipantA: m.ParticipantA,
				ParticipantB: m.ParticipantB,
				CreatedAt:    now,
			}

			out, won, err := s.store.CreateConversationIfAbsent(ctx, dbtx, conv)
			if err != nil {
				return err
			}

			if won {
				landed, err := s.store.SetMatchConversation(ctx, dbtx, matchID, out.ID, requestingUserID)
				if err != nil {
					return err
				}
				if landed {
					m.ConversationID = out.ID
					m.InitiatedBy = requestingUserID
				} else {
					// Another writer linked the match first; keep its view.
					if m, err = s.store.GetMatch(ctx, dbtx, matchID); err != nil {
						return err
					}
				}

				convPayload, err := event.ConversationInsert(out).Encode()
				if err != nil {
					return fmt.Errorf("failed to encode conversation event: %w", err)
				}
				if err := s.store.InsertOutbox(ctx, dbtx, "conversation", out.ID, convPayload); err != nil {
					return fmt.Errorf("failed to save outbox event: %w", err)
				}

				matchPayload, err := event.MatchUpdate(m).Encode()
				if err != nil {
					return fmt.Errorf("failed to encode match event: %w", err)
				}
				if err := s.store.InsertOutbox(ctx, dbtx, "match", m.ID, matchPayload); err != nil {
					return fmt.Errorf("failed to save outbox event: %w", err)
				}
			} else {
				// Lost the race: the winner owns initiatedBy.
				m.ConversationID = out.ID
			}

			result, match, created = out, m, won
			return nil
		})
	})

	// A lost uniqueness race that escaped the conditional-insert path is
	// resolved by re-reading the winning row, never surfaced.
	if errors.Is(err, domain.ErrConflict) {
		err = s.retry.Do(ctx, func(ctx context.Context) error {
			var rerr error
			result, rerr = s.store.GetConversationByMatch(ctx, nil, matchID)
			if rerr != nil {
				return rerr
			}
			match, rerr = s.store.GetMatch(ctx, nil, matchID)
			return rerr
		})
	}
	if err != nil {
		return nil, err
	}

	s.cache.UpsertConversation(result)
	s.cache.UpsertMatch(match)

	if created {
		s.log.Info("conversation created",
			zap.String("match_id", matchID),
			zap.String("conversation_id", result.ID),
			zap.String("initiated_by", match.InitiatedBy),
		)
		observability.ConversationCreatesTotal.WithLabelValues("created").Inc()

		participants := result.Participants()
		s.publish(event.ConversationInsert(result), participants)
		s.publish(event.MatchUpdate(match), participants)
	} else {
		observability.ConversationCreatesTotal.WithLabelValues("existing").Inc()
	}

	return result, nil
}
