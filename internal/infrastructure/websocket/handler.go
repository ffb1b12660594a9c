package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"koi-auction/internal/domain"
	"koi-auction/pkg/logger"
)

const pongWait = 60 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is served from a different origin
	},
}

type NotificationHandler struct {
	connManager domain.ConnectionManager
	log         logger.Logger
}

func NewNotificationHandler(connManager domain.ConnectionManager, log logger.Logger) *NotificationHandler {
	return &NotificationHandler{
		connManager: connManager,
		log:         log,
	}
}

func (h *NotificationHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if userID == "" {
		http.Error(w, "user id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	wsConn := NewConnection(conn, userID, h.log)
	if err := h.connManager.RegisterConnection(userID, wsConn); err != nil {
		h.log.Error("Failed to register connection", "error", err)
		_ = conn.Close()
		return
	}

	go h.readLoop(wsConn)
}

// readLoop keeps the connection alive until the client goes away. Toasts only
// flow server to client; the client may ping.
func (h *NotificationHandler) readLoop(conn *Connection) {
	defer func() {
		_ = h.connManager.UnregisterConnection(conn.UserID(), conn.ID())
		_ = conn.conn.Close()
	}()

	_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg map[string]interface{}
		if err := conn.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("Connection closed unexpectedly", "user_id", conn.UserID(), "error", err)
			}
			return
		}
		_ = conn.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType, _ := msg["type"].(string); msgType == "ping" {
			if err := conn.Send(map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}
