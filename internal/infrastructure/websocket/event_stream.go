package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"koi-auction/internal/domain"
	"koi-auction/pkg/logger"
)

// RemoteEventStream follows the remote API's push channel and reconnects with
// exponential backoff when it drops.
type RemoteEventStream struct {
	url        string
	header     http.Header
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration
	log        logger.Logger
}

func NewRemoteEventStream(url, token string, log logger.Logger) *RemoteEventStream {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &RemoteEventStream{
		url:        url,
		header:     header,
		dialer:     websocket.DefaultDialer,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		log:        log,
	}
}

// SetBackoff overrides the reconnect delays.
func (s *RemoteEventStream) SetBackoff(min, max time.Duration) {
	s.minBackoff = min
	s.maxBackoff = max
}

// SubscribeToEvents blocks until ctx is done.
func (s *RemoteEventStream) SubscribeToEvents(ctx context.Context, handler domain.EventHandler) error {
	backoff := s.minBackoff
	for {
		connected, err := s.stream(ctx, handler)
		if ctx.Err() != nil {
			s.log.Info("Remote event stream stopped")
			return ctx.Err()
		}
		if connected {
			backoff = s.minBackoff
		}
		s.log.Warn("Remote event stream disconnected", "url", s.url, "retry_in", backoff, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *RemoteEventStream) stream(ctx context.Context, handler domain.EventHandler) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	s.log.Info("Connected to remote event stream", "url", s.url)

	// Unblock ReadJSON on shutdown.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var event domain.RemoteEvent
		if err := conn.ReadJSON(&event); err != nil {
			return true, err
		}
		if err := handler(&event); err != nil {
			s.log.Error("Failed to handle remote event", "type", event.Type, "auction_id", event.AuctionID, "error", err)
		}
	}
}
