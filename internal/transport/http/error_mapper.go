package http

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/roomly/matchtalk/internal/domain"
	"github.com/roomly/matchtalk/internal/observability"
)

// DomainError maps application errors onto HTTP responses. Retry
// exhaustion surfaces as 503 so clients know the failure is on our side
// and temporary; conflict never reaches this mapper because the service
// layer resolves races internally.
func DomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrMatchNotFound):
		WriteError(w, http.StatusNotFound, "match_not_found", "match does not exist")
	case errors.Is(err, domain.ErrConversationNotFound):
		WriteError(w, http.StatusNotFound, "conversation_not_found", "conversation does not exist")
	case errors.Is(err, domain.ErrMessageNotFound):
		WriteError(w, http.StatusNotFound, "message_not_found", "message does not exist")
	case errors.Is(err, domain.ErrEmptyContent):
		WriteError(w, http.StatusBadRequest, "empty_content", "message content is required")
	case errors.Is(err, domain.ErrMessageTooLarge):
		WriteError(w, http.StatusBadRequest, "message_too_large", "message content exceeds the size limit")
	case errors.Is(err, domain.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, "invalid_input", "request is malformed")
	case errors.Is(err, domain.ErrNotParticipant):
		WriteError(w, http.StatusForbidden, "forbidden", "not a participant of this match")
	case errors.Is(err, domain.ErrNotSender):
		WriteError(w, http.StatusForbidden, "forbidden", "only the sender may delete a message")
	case errors.Is(err, domain.ErrRetryExhausted):
		observability.Log.Warn("request failed after retries", zap.Error(err))
		WriteError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		observability.Log.Error("internal error", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}
