package websocket

import (
	"context"

	"koi-auction/internal/domain"
)

// ToastMessage is the frame pushed to dashboard clients.
type ToastMessage struct {
	Type  string       `json:"type"`
	Toast domain.Toast `json:"toast"`
}

type WebSocketNotifier struct {
	connManager domain.ConnectionManager
}

func NewWebSocketNotifier(connManager domain.ConnectionManager) *WebSocketNotifier {
	return &WebSocketNotifier{connManager: connManager}
}

// Notify delivers toast to userID's open connections, or to everyone when userID is empty.
func (n *WebSocketNotifier) Notify(_ context.Context, userID string, toast domain.Toast) error {
	msg := ToastMessage{Type: "toast", Toast: toast}
	if userID == "" {
		return n.connManager.Broadcast(msg)
	}
	return n.connManager.NotifyUser(userID, msg)
}
