package http

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/roomly/matchtalk/internal/observability"
)

func NewRouter(h *Handler, ws http.HandlerFunc, db *sql.DB, serviceName string) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.MetricsMiddleware(serviceName))

	r.Get("/health/live", observability.HealthLiveHandler)
	r.Get("/health/ready", observability.HealthReadyHandler(db))

	r.Route("/v1", func(v chi.Router) {
		v.Post("/matches/{matchID}/conversation", h.EnsureConversation)
		v.Get("/matches/{matchID}/card", h.CardState)

		v.Post("/conversations/{id}/messages", h.SendMessage)
		v.Get("/conversations/{id}/messages", h.ListMessages)
		v.Delete("/conversations/{id}/messages/{messageID}", h.DeleteMessage)
		v.Post("/conversations/{id}/read", h.MarkRead)

		v.Get("/ws", ws)
	})

	return otelhttp.NewHandler(r, serviceName)
}
