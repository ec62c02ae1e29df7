package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roomly/matchtalk/internal/application"
	"github.com/roomly/matchtalk/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	requestTimeout  = 5 * time.Second
)

// Handler exposes the conversation lifecycle over HTTP JSON. Caller
// identity arrives in the X-User-ID header; authentication sits in front
// of this service and is not re-checked here.
type Handler struct {
	svc *application.Service
}

func NewHandler(svc *application.Service) *Handler {
	return &Handler{svc: svc}
}

func callerID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

type messageView struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversation_id"`
	SenderID       string               `json:"sender_id"`
	ClientMsgID    string               `json:"client_msg_id,omitempty"`
	Type           string               `json:"type"`
	Content        string               `json:"content"`
	CreatedAt      time.Time            `json:"created_at"`
	ReadReceipts   map[string]time.Time `json:"read_receipts,omitempty"`
}

func toMessageView(m *domain.Message) messageView {
	return messageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ClientMsgID:    m.ClientMsgID,
		Type:           m.Type,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		ReadReceipts:   m.ReadReceipts,
	}
}

// EnsureConversation POST /v1/matches/{matchID}/conversation
func (h *Handler) EnsureConversation(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "missing_user", "X-User-ID header is required")
		return
	}
	matchID := chi.URLParam(r, "matchID")

	ctx, cancel := ctxWithTimeout(r)
	defer cancel()

	conv, err := h.svc.EnsureConversation(ctx, matchID, userID)
	if err != nil {
		DomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conv.ID,
		"match_id":        conv.MatchID,
		"created_at":      conv.CreatedAt,
	})
}

// SendMessage POST /v1/conversations/{id}/messages
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "missing_user", "X-User-ID header is required")
		return
	}
	convID := chi.URLParam(r, "id")

	var req struct {
		ClientMsgID string `json:"client_msg_id"`
		Content     string `json:"content"`
		Type        string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json")
		return
	}

	msgType := req.Type
	if msgType == "" {
		msgType = domain.MessageTypeText
	}

	ctx, cancel := ctxWithTimeout(r)
	defer cancel()

	msg, err := h.svc.SendMessage(ctx, application.SendMessageCommand{
		ConversationID: convID,
		SenderID:       userID,
		ClientMsgID:    req.ClientMsgID,
		Type:           msgType,
		Content:        req.Content,
	})
	if err != nil {
		DomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, toMessageView(msg))
}

// ListMessages GET /v1/conversations/{id}/messages?limit=&before=
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "missing_user", "X-User-ID header is required")
		return
	}
	convID := chi.URLParam(r, "id")

	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		limit = n
	}

	ctx, cancel := ctxWithTimeout(r)
	defer cancel()

	msgs, err := h.svc.ListMessages(ctx, convID, userID, limit, r.URL.Query().Get("before"))
	if err != nil {
		DomainError(w, err)
		return
	}

	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, toMessageView(m))
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"messages": views})
}

// MarkRead POST /v1/conversations/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "missing_user", "X-User-ID header is required")
		return
	}
	convID := chi.URLParam(r, "id")

	var req struct {
		UptoMessageID string `json:"upto_message_id"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json")
			return
		}
	}

	ctx, cancel := ctxWithTimeout(r)
	defer cancel()

	if err := h.svc.MarkRead(ctx, convID, userID, req.UptoMessageID); err != nil {
		DomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DeleteMessage DELETE /v1/conversations/{id}/messages/{messageID}
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID := callerID(r)
	if userID == "" {
		WriteError(w, http.StatusBadRequest, "missing_user", "X-User-ID header is required")
		return
	}
	convID := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")

	ctx, cancel := ctxWithTimeout(r)
	defer cancel()

	if err := h.svc.DeleteMessage(ctx, convID, messageID, userID); err != nil {
		DomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CardState GET /v1/matches/{matchID}/card?viewer=
func (h *Handler) CardState(w http.ResponseWriter, r *http.Request) {
	viewer := r.URL.Query().Get("viewer")
	if viewer == "" {
		viewer = callerID(r)
	}
	if viewer == "" {
		WriteError(w, http.StatusBadRequest, "missing_viewer", "viewer query parameter is required")
		return
	}
	matchID := chi.URLParam(r, "matchID")

	ctx, cancel := ctxWithTimeout(r)
	defer cancel()

	cs, err := h.svc.CardState(ctx, matchID, viewer)
	if err != nil {
		DomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"location":     string(cs.Location),
		"badge":        cs.Badge,
		"unread_count": cs.UnreadCount,
	})
}

func ctxWithTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}
