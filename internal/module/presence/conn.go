package presence

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// transport is the server side of one websocket connection. *websocket.Conn
// satisfies it; tests substitute an in-memory fake.
type transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one registered workspace connection. All writes go through the
// connection's mutex, so the broadcast path and the liveness sweeper never
// interleave frames.
type Conn struct {
	ws          transport
	workspaceID string
	clientID    string
	sendTimeout time.Duration

	mu       sync.Mutex
	userID   string
	username string
	role     string
	color    string
	alive    bool
	open     bool
}

func newConn(ws transport, workspaceID, clientID string, sendTimeout time.Duration) *Conn {
	return &Conn{
		ws:          ws,
		workspaceID: workspaceID,
		clientID:    clientID,
		sendTimeout: sendTimeout,
		alive:       true,
		open:        true,
	}
}

// WorkspaceID returns the workspace this connection was registered under.
func (c *Conn) WorkspaceID() string { return c.workspaceID }

// ClientID returns the identifier assigned at upgrade time.
func (c *Conn) ClientID() string { return c.clientID }

// Identify records the caller-asserted identity from a user_join.
func (c *Conn) Identify(userID, username, role, color string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.username = username
	c.role = role
	c.color = color
}

// Identified reports whether a user_join has been processed.
func (c *Conn) Identified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID != ""
}

// UserID returns the identity's user id, or "" before user_join.
func (c *Conn) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// User returns the identity as a UserInfo snapshot.
func (c *Conn) User() UserInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return UserInfo{ID: c.userID, Username: c.username, Role: c.role}
}

// MarkAlive flags the connection as responsive; called on any inbound traffic.
func (c *Conn) MarkAlive() {
	c.mu.Lock()
	c.alive = true
	c.mu.Unlock()
}

// Alive reports whether the connection responded since the last sweep, and
// clears the flag so the next sweep starts a fresh probe window.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.alive
	c.alive = false
	return was
}

// Open reports whether the transport is still writable.
func (c *Conn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// CloseTransport closes the underlying socket once. Safe to call repeatedly.
func (c *Conn) CloseTransport() {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return
	}
	c.open = false
	c.mu.Unlock()
	_ = c.ws.Close()
}

// Send writes one text frame under the connection's write deadline.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return websocket.ErrCloseSent
	}
	if c.sendTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.sendTimeout))
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// SendJSON marshals v and writes it as one text frame.
func (c *Conn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Ping sends a control-frame ping used by the liveness sweep.
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return websocket.ErrCloseSent
	}
	deadline := time.Now().Add(c.sendTimeout)
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

// CloseWith sends a close frame with the given status before terminating.
func (c *Conn) CloseWith(code int, reason string) {
	c.mu.Lock()
	if c.open {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.sendTimeout))
	}
	c.mu.Unlock()
	c.CloseTransport()
}
