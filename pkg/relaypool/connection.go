package relaypool

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Status is the lifecycle state of one upstream relay connection
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusSubscribed   Status = "subscribed"
	StatusFailed       Status = "failed"
)

// connection tracks one relay endpoint. The websocket allows a single
// concurrent writer, so every outbound frame goes through writeMu.
type connection struct {
	url string

	mu        sync.Mutex
	status    Status
	conn      *websocket.Conn
	subID     string
	lastFrame time.Time
	// manual marks a graceful disconnect; the reconnect loop leaves it alone
	manual bool

	writeMu sync.Mutex
}

func newConnection(url string) *connection {
	return &connection{
		url:    url,
		status: StatusDisconnected,
	}
}

func (c *connection) getStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *connection) setStatus(status Status) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

func (c *connection) touch() {
	c.mu.Lock()
	c.lastFrame = time.Now()
	c.mu.Unlock()
}

func (c *connection) sinceLastFrame() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastFrame.IsZero() {
		return 0
	}
	return time.Since(c.lastFrame)
}

func (c *connection) setConn(ws *websocket.Conn, subID string) {
	c.mu.Lock()
	c.conn = ws
	c.subID = subID
	c.lastFrame = time.Now()
	c.mu.Unlock()
}

func (c *connection) getConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// closeConn tears down the socket if present and moves to the given status
func (c *connection) closeConn(status Status) {
	c.mu.Lock()
	ws := c.conn
	c.conn = nil
	c.status = status
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}

func (c *connection) setManual(manual bool) {
	c.mu.Lock()
	c.manual = manual
	c.mu.Unlock()
}

func (c *connection) isManual() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manual
}

// writeMessage serializes writers on the shared socket
func (c *connection) writeMessage(data []byte) error {
	ws := c.getConn()
	if ws == nil {
		return errNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, data)
}
