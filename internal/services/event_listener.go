package services

import (
	"context"
	"time"

	"koi-auction/internal/domain"
	"koi-auction/internal/querycache"
	"koi-auction/pkg/logger"
)

// EventListener turns pushes from the remote API and from peer gateways into
// cache invalidations.
type EventListener struct {
	cache    *querycache.Client
	notifier domain.Notifier
	log      logger.Logger
}

func NewEventListener(cache *querycache.Client, notifier domain.Notifier, log logger.Logger) *EventListener {
	return &EventListener{
		cache:    cache,
		notifier: notifier,
		log:      log,
	}
}

// KeysForEvent returns the queries a remote event makes stale.
func KeysForEvent(event *domain.RemoteEvent) []domain.QueryKey {
	var keys []domain.QueryKey
	switch event.Type {
	case domain.EventAuctionUpdated, domain.EventAuctionDeleted, domain.EventBidPlaced:
		keys = append(keys, domain.AllAuctionsKey())
		if event.AuctionID != "" {
			keys = append(keys, domain.AuctionKey(event.AuctionID))
		}
		if event.KoiID != "" {
			keys = append(keys, domain.KoiDataKey(), domain.KoiKey(event.KoiID))
		}
	case domain.EventKoiUpdated:
		keys = append(keys, domain.KoiDataKey())
		if event.KoiID != "" {
			keys = append(keys, domain.KoiKey(event.KoiID))
		}
	}
	return keys
}

// HandleRemoteEvent is the handler for the remote event stream.
func (l *EventListener) HandleRemoteEvent(event *domain.RemoteEvent) error {
	ctx := context.Background()

	if event.Type == domain.EventNotification {
		if l.notifier == nil || event.Message == "" {
			return nil
		}
		return l.notifier.Notify(ctx, event.UserID, domain.Toast{
			Level:   domain.ToastSuccess,
			Title:   "Notification",
			Message: event.Message,
			At:      time.Now(),
		})
	}

	keys := KeysForEvent(event)
	if len(keys) == 0 {
		l.log.Debug("Ignoring remote event", "type", event.Type)
		return nil
	}
	n, err := l.cache.Invalidate(ctx, keys...)
	if err != nil {
		return err
	}
	l.log.Debug("Invalidated queries from remote event", "type", event.Type, "count", n)
	return nil
}

// HandleInvalidation applies an invalidation published by another gateway.
func (l *EventListener) HandleInvalidation(origin string, keys []domain.QueryKey) error {
	return l.cache.ApplyRemoteInvalidation(context.Background(), origin, keys)
}
