package domain

import (
	"context"
)

// Remote API interfaces. The remote system is authoritative for both entities.
type AuctionAPI interface {
	ListAuctions(ctx context.Context) ([]Auction, error)
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
	UpdateAuction(ctx context.Context, auctionID string, update AuctionUpdate) (*Auction, error)
	DeleteAuction(ctx context.Context, auctionID string) error
	VerifyWinner(ctx context.Context, auctionID string) (*Auction, error)
}

type KoiAPI interface {
	ListKoi(ctx context.Context) ([]Koi, error)
	GetKoi(ctx context.Context, koiID string) (*Koi, error)
	UpdateKoiStatus(ctx context.Context, koiID string, status KoiStatus) (*Koi, error)
}

// Event interfaces
type EventSubscriber interface {
	SubscribeToEvents(ctx context.Context, handler EventHandler) error
}

type EventHandler func(event *RemoteEvent) error

type InvalidationPublisher interface {
	PublishInvalidation(ctx context.Context, origin string, keys []QueryKey) error
}

type InvalidationSubscriber interface {
	SubscribeToInvalidations(ctx context.Context, handler InvalidationHandler) error
}

type InvalidationHandler func(origin string, keys []QueryKey) error

// Notification interfaces
type Notifier interface {
	Notify(ctx context.Context, userID string, toast Toast) error
}

type ToastSubscriber interface {
	SubscribeToToasts(ctx context.Context, handler ToastHandler) error
}

type ToastHandler func(userID string, toast Toast) error

type AlertPublisher interface {
	PublishCompensationFailed(ctx context.Context, alert CompensationAlert) error
}

type AlertSubscriber interface {
	SubscribeToAlerts(ctx context.Context, handler AlertHandler) error
}

type AlertHandler func(alert CompensationAlert) error

// Leader election interface
type LeaderElection interface {
	BecomeLeader(ctx context.Context, instanceID string) (bool, error)
	IsLeader(ctx context.Context, instanceID string) (bool, error)
	ReleaseLeadership(ctx context.Context, instanceID string) error
}

// WebSocket interfaces
type WebSocketConnection interface {
	Send(message interface{}) error
	Close() error
	UserID() string
	ID() string
}

type ConnectionManager interface {
	RegisterConnection(userID string, conn WebSocketConnection) error
	UnregisterConnection(userID, connID string) error
	GetConnectionsForUser(userID string) []WebSocketConnection
	NotifyUser(userID string, message interface{}) error
	Broadcast(message interface{}) error
	CloseAll() error
}
