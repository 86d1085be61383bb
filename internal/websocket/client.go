package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// sendBuffer is how many outbound frames a client may lag behind before the
// manager drops it.
const sendBuffer = 256

// Client is one websocket connection, opened by one device of a user.
type Client struct {
	ID       string
	UserID   string
	DeviceID string
	Conn     *websocket.Conn
	Manager  *Manager
	Send     chan []byte
}

func NewClient(id, userID, deviceID string, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		DeviceID: deviceID,
		Conn:     conn,
		Manager:  manager,
		Send:     make(chan []byte, sendBuffer),
	}
}

// ReadPump forwards inbound frames to the manager until the peer goes away
// or stops answering pings.
func (c *Client) ReadPump() {
	defer c.leave()

	if c.Manager.maxMessageSize > 0 {
		c.Conn.SetReadLimit(c.Manager.maxMessageSize)
	}
	c.extendReadDeadline()
	c.Conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		_, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Manager.log.Warnw("websocket read error", "client_id", c.ID, "device_id", c.DeviceID, "error", err)
			}
			return
		}

		select {
		case c.Manager.HandleMessage <- &ClientMessage{Client: c, Message: frame}:
		case <-c.Manager.done:
			return
		}
	}
}

func (c *Client) leave() {
	select {
	case c.Manager.Unregister <- c:
	case <-c.Manager.done:
	}
	c.Conn.Close()
}

func (c *Client) extendReadDeadline() {
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
}

// WritePump owns all writes to the connection. Each queued message goes out
// as its own frame; clients parse one JSON document per frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Manager.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.Send:
			if !ok {
				// the manager dropped us
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
	return c.Conn.WriteMessage(messageType, data)
}
