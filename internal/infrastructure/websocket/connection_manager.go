package websocket

import (
	"sync"

	"koi-auction/internal/domain"
	"koi-auction/pkg/logger"
)

type ConnectionManager struct {
	userConns map[string]map[string]domain.WebSocketConnection // userID -> connID -> connection
	mutex     sync.RWMutex
	log       logger.Logger
}

func NewConnectionManager(log logger.Logger) *ConnectionManager {
	return &ConnectionManager{
		userConns: make(map[string]map[string]domain.WebSocketConnection),
		log:       log,
	}
}

func (cm *ConnectionManager) RegisterConnection(userID string, conn domain.WebSocketConnection) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.userConns[userID] == nil {
		cm.userConns[userID] = make(map[string]domain.WebSocketConnection)
	}
	cm.userConns[userID][conn.ID()] = conn

	cm.log.Info("Connection registered", "user_id", userID, "conn_id", conn.ID())
	return nil
}

func (cm *ConnectionManager) UnregisterConnection(userID, connID string) error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if conns, exists := cm.userConns[userID]; exists {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(cm.userConns, userID)
		}
	}

	cm.log.Info("Connection unregistered", "user_id", userID, "conn_id", connID)
	return nil
}

func (cm *ConnectionManager) GetConnectionsForUser(userID string) []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var connections []domain.WebSocketConnection
	for _, conn := range cm.userConns[userID] {
		connections = append(connections, conn)
	}
	return connections
}

func (cm *ConnectionManager) allConnections() []domain.WebSocketConnection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var connections []domain.WebSocketConnection
	for _, conns := range cm.userConns {
		for _, conn := range conns {
			connections = append(connections, conn)
		}
	}
	return connections
}

func (cm *ConnectionManager) NotifyUser(userID string, message interface{}) error {
	for _, conn := range cm.GetConnectionsForUser(userID) {
		if err := conn.Send(message); err != nil {
			cm.log.Error("Failed to send message", "user_id", userID, "conn_id", conn.ID(), "error", err)
			// Continue to other connections
		}
	}
	return nil
}

func (cm *ConnectionManager) Broadcast(message interface{}) error {
	connections := cm.allConnections()
	cm.log.Debug("Broadcasting", "connections", len(connections))

	for _, conn := range connections {
		if err := conn.Send(message); err != nil {
			cm.log.Error("Failed to send message", "user_id", conn.UserID(), "conn_id", conn.ID(), "error", err)
		}
	}
	return nil
}

func (cm *ConnectionManager) CloseAll() error {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	for userID, conns := range cm.userConns {
		for connID, conn := range conns {
			if err := conn.Close(); err != nil {
				cm.log.Error("Failed to close connection", "user_id", userID, "conn_id", connID, "error", err)
			}
		}
	}
	cm.userConns = make(map[string]map[string]domain.WebSocketConnection)
	return nil
}
