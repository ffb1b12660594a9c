package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"koi-auction/internal/domain"
	"koi-auction/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	id, userID string
	mu         sync.Mutex
	sent       []interface{}
	fail       bool
	closed     bool
}

func (c *fakeConn) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, message)
	return nil
}

func (c *fakeConn) Close() error   { c.closed = true; return nil }
func (c *fakeConn) UserID() string { return c.userID }
func (c *fakeConn) ID() string     { return c.id }

func TestConnectionManager(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	a1 := &fakeConn{id: "c1", userID: "admin"}
	a2 := &fakeConn{id: "c2", userID: "admin", fail: true}
	s1 := &fakeConn{id: "c3", userID: "staff"}
	require.NoError(t, cm.RegisterConnection("admin", a1))
	require.NoError(t, cm.RegisterConnection("admin", a2))
	require.NoError(t, cm.RegisterConnection("staff", s1))

	notifier := NewWebSocketNotifier(cm)
	toast := domain.Toast{Level: domain.ToastSuccess, Message: "Auction cancelled"}

	require.NoError(t, notifier.Notify(context.Background(), "admin", toast))
	assert.Len(t, a1.sent, 1)
	assert.Empty(t, s1.sent)

	require.NoError(t, notifier.Notify(context.Background(), "", toast))
	assert.Len(t, a1.sent, 2)
	assert.Len(t, s1.sent, 1)

	require.NoError(t, cm.UnregisterConnection("admin", "c1"))
	assert.Len(t, cm.GetConnectionsForUser("admin"), 1)

	require.NoError(t, cm.CloseAll())
	assert.True(t, s1.closed)
	assert.Empty(t, cm.GetConnectionsForUser("staff"))
}

func TestNotificationHandlerDeliversToast(t *testing.T) {
	cm := NewConnectionManager(logger.NewNop())
	h := NewNotificationHandler(cm, logger.NewNop())
	r := mux.NewRouter()
	r.HandleFunc("/ws/notifications/{userID}", h.HandleConnection)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/notifications/admin-1"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool {
		return len(cm.GetConnectionsForUser("admin-1")) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, NewWebSocketNotifier(cm).Notify(context.Background(), "admin-1",
		domain.Toast{Level: domain.ToastError, Message: "Network error"}))

	var msg ToastMessage
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, client.ReadJSON(&msg))
	assert.Equal(t, "toast", msg.Type)
	assert.Equal(t, "Network error", msg.Toast.Message)

	require.NoError(t, client.WriteJSON(map[string]string{"type": "ping"}))
	var pong map[string]string
	require.NoError(t, client.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool {
		return len(cm.GetConnectionsForUser("admin-1")) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRemoteEventStreamReconnects(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		mu.Lock()
		dials++
		n := dials
		mu.Unlock()

		_ = conn.WriteJSON(domain.RemoteEvent{Type: domain.EventAuctionUpdated, AuctionID: "A1"})
		if n == 1 {
			return // drop the first connection
		}
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	stream := NewRemoteEventStream("ws"+strings.TrimPrefix(srv.URL, "http"), "", logger.NewNop())
	stream.SetBackoff(10*time.Millisecond, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan *domain.RemoteEvent, 4)
	done := make(chan error, 1)
	go func() {
		done <- stream.SubscribeToEvents(ctx, func(e *domain.RemoteEvent) error {
			events <- e
			return nil
		})
	}()

	for i := 0; i < 2; i++ {
		select {
		case e := <-events:
			assert.Equal(t, "A1", e.AuctionID)
		case <-time.After(2 * time.Second):
			t.Fatal("no event received")
		}
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
