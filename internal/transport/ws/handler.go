package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/roomly/matchtalk/internal/application"
	"github.com/roomly/matchtalk/internal/event"
	"github.com/roomly/matchtalk/internal/observability"
	"github.com/roomly/matchtalk/internal/subscription"
)

// Handler upgrades GET /v1/ws?user=&device= and streams every change
// event touching the user's matches and conversations as JSON frames.
type Handler struct {
	registry *Registry
	svc      *application.Service
}

func NewHandler(registry *Registry, svc *application.Service) *Handler {
	return &Handler{registry: registry, svc: svc}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	deviceID := r.URL.Query().Get("device")

	if userID == "" || deviceID == "" {
		http.Error(w, "missing user or device", http.StatusBadRequest)
		return
	}

	log := observability.GetLogger(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("upgrade error", zap.Error(err))
		return
	}

	session := NewSession(uuid.NewString(), userID, deviceID, conn)
	h.registry.Add(session)
	session.Start()

	sub := h.svc.SubscribeUser(userID, func(ev event.ChangeEvent) {
		payload, err := ev.Encode()
		if err != nil {
			return
		}
		session.TrySend(payload)
	})

	observability.WebSocketConnectionsActive.WithLabelValues("matchtalk").Inc()
	log.Info("connected", zap.String("user_id", userID), zap.String("device_id", deviceID))

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.readLoop(session, sub)
}

// readLoop drains incoming frames to service ping/pong and close
// handshakes. Clients do not send application data over the socket.
func (h *Handler) readLoop(s *Session, sub *subscription.Subscription) {
	defer func() {
		sub.Unsubscribe()
		h.registry.Remove(s)
		s.Close()
		observability.WebSocketConnectionsActive.WithLabelValues("matchtalk").Dec()
		observability.Log.Info("disconnected",
			zap.String("user_id", s.UserID), zap.String("device_id", s.DeviceID))
	}()

	for {
		if _, _, err := s.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
