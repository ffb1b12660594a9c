package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"koi-auction/pkg/logger"
	"koi-auction/pkg/utils"
)

const writeWait = 10 * time.Second

// Connection is one dashboard tab's push channel. Writes are serialized since
// gorilla connections allow a single concurrent writer.
type Connection struct {
	conn   *websocket.Conn
	id     string
	userID string
	log    logger.Logger

	writeMu sync.Mutex
}

func NewConnection(conn *websocket.Conn, userID string, log logger.Logger) *Connection {
	return &Connection{
		conn:   conn,
		id:     utils.GenerateID("conn"),
		userID: userID,
		log:    log,
	}
}

func (c *Connection) Send(message interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(message)
}

func (c *Connection) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

func (c *Connection) UserID() string {
	return c.userID
}

func (c *Connection) ID() string {
	return c.id
}
