package ws

import (
	"net/netip"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bt-tracker/aquatrack/bittorrent"
	"github.com/bt-tracker/aquatrack/pkg/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBufferSize = 16
)

// Client is one WebSocket-connected peer: an announcing/scraping browser
// tab, identified by the peer_id it first announces with.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	peerID   bittorrent.PeerID
	addrPort netip.AddrPort
}

func newClient(hub *Hub, conn *websocket.Conn, peerID bittorrent.PeerID, addrPort netip.AddrPort) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		peerID:   peerID,
		addrPort: addrPort,
	}
}

// serve runs the client's read and write pumps until the connection
// closes, then deregisters it from the hub. firstFrame is the frame
// already consumed off the wire to learn the connection's peer_id, and is
// dispatched to the hub before the read loop resumes consuming new
// frames. serve blocks until both pumps have exited.
func (c *Client) serve(firstFrame []byte) {
	c.hub.register(c)
	defer c.hub.unregister(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump()
	}()

	c.hub.handleMessage(c, firstFrame)
	c.readPump()
	<-done
}

// readPump pumps frames from the connection to the hub for handling. It
// owns the connection's read deadline and is the only goroutine that
// calls conn.ReadMessage.
func (c *Client) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug("ws: read error", log.Err(err))
			}
			return
		}

		c.hub.handleMessage(c, message)
	}
}

// writePump pumps queued frames and periodic pings to the connection. It
// is the only goroutine that calls conn.WriteMessage, since gorilla's
// Conn forbids concurrent writers.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
