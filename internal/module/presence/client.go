package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/schemastudio/server/internal/shared/logger"
)

// State is the client connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Client-local event names. Wire message types double as event names for
// everything that arrives from the hub.
const (
	EventConnected    = MessageType("connected")
	EventDisconnected = MessageType("disconnected")
)

// Identity is the caller-asserted identity a client joins a workspace with.
type Identity struct {
	ID       string
	Username string
	Role     string
	Color    string
}

// Handler receives one decoded hub envelope, or nil for the client-local
// connected/disconnected events. Handlers run on the client's read goroutine,
// so one event finishes dispatching before the next starts.
type Handler func(msg any)

// Subscription identifies one registered handler so it can be removed
// individually.
type Subscription struct {
	event MessageType
	id    int
}

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("presence: client is closed")

// Client maintains one collaboration connection for a workspace, dispatching
// hub envelopes to subscribers and exposing fire-and-forget senders.
type Client struct {
	baseURL string
	dialer  *websocket.Dialer
	log     *logger.Logger

	mu          sync.Mutex
	state       State
	identity    Identity
	workspaceID string
	conn        *websocket.Conn
	wmu         sync.Mutex
	handlers    map[MessageType]map[int]Handler
	nextSub     int
	onReconnect func()
	closed      bool
	gen         int
}

// NewClient builds a client for a hub at baseURL, e.g. "ws://localhost:5001".
func NewClient(baseURL string, log *logger.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		dialer:   websocket.DefaultDialer,
		log:      log,
		handlers: make(map[MessageType]map[int]Handler),
	}
}

// Initialize records the identity and workspace used by the next Connect.
func (c *Client) Initialize(id Identity, workspaceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id.Color == "" {
		id.Color = ColorFor(id.Username)
	}
	c.identity = id
	c.workspaceID = workspaceID
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the client currently holds a live connection.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// On registers a handler for an event and returns its subscription token.
func (c *Client) On(event MessageType, h Handler) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.handlers[event]
	if !ok {
		set = make(map[int]Handler)
		c.handlers[event] = set
	}
	c.nextSub++
	set[c.nextSub] = h
	return Subscription{event: event, id: c.nextSub}
}

// Off removes a single handler.
func (c *Client) Off(s Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.handlers[s.event]; ok {
		delete(set, s.id)
		if len(set) == 0 {
			delete(c.handlers, s.event)
		}
	}
}

// SetReconnect installs a hook invoked once per connection loss. The hook is
// not called after Close.
func (c *Client) SetReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = fn
}

// Connect dials the hub, announces the identity and starts the read loop.
// On failure the client returns to disconnected and emits the disconnected
// event.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("presence: connect while %s", c.state)
	}
	if c.workspaceID == "" {
		c.mu.Unlock()
		return errors.New("presence: client not initialized")
	}
	c.state = StateConnecting
	url := c.baseURL + "/ws/collaboration/" + c.workspaceID
	identity := c.identity
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.emit(EventDisconnected, nil)
		return fmt.Errorf("presence: dial %s: %w", url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.write(NewUserJoin(identity.ID, identity.Username, identity.Role, identity.Color))
	c.emit(EventConnected, nil)
	go c.readLoop(conn, gen)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen)
			return
		}

		event, msg, err := DecodeServer(data)
		if err != nil {
			var unknown *UnknownTypeError
			if errors.As(err, &unknown) {
				c.log.Warn("dropping unknown server message", "type", unknown.Type)
			} else {
				c.log.Warn("dropping malformed server message", "error", err)
			}
			continue
		}
		c.emit(event, msg)
	}
}

// handleClose performs the exactly-once transition out of connected for one
// connection generation. Stale generations (an old read loop racing a newer
// connection) are ignored.
func (c *Client) handleClose(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.conn = nil
	reconnect := c.onReconnect
	closed := c.closed
	c.mu.Unlock()

	c.emit(EventDisconnected, nil)
	if !closed && reconnect != nil {
		go reconnect()
	}
}

// SendCursorUpdate reports the local cursor position. It is fire and forget:
// a no-op while disconnected, and write errors surface through the read
// loop's close handling rather than here.
func (c *Client) SendCursorUpdate(pos Position, selection *Selection) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	identity := c.identity
	c.mu.Unlock()

	c.write(NewCursorUpdate(CursorPayload{
		UserID:    identity.ID,
		Username:  identity.Username,
		Position:  &pos,
		Color:     identity.Color,
		Role:      identity.Role,
		Selection: selection,
	}))
}

// SendSchemaChange relays a schema mutation to peers.
func (c *Client) SendSchemaChange(changeType string, data []byte) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	identity := c.identity
	c.mu.Unlock()

	c.write(NewSchemaChange(changeType, data, identity.ID, identity.Username))
}

// Send transmits an arbitrary envelope while connected.
func (c *Client) Send(msg Inbound) {
	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()
	if connected {
		c.write(msg)
	}
}

// Leave announces departure without tearing the client down.
func (c *Client) Leave() {
	c.mu.Lock()
	identity := c.identity
	connected := c.state == StateConnected
	c.mu.Unlock()
	if connected {
		c.write(NewUserLeave(identity.ID, identity.Username))
	}
}

// Close tears the client down: handlers are dropped, the transport is closed
// and no further events are delivered. The client cannot be reused.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.state = StateDisconnected
	conn := c.conn
	c.conn = nil
	c.handlers = make(map[MessageType]map[int]Handler)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Client) write(msg Inbound) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	c.wmu.Lock()
	err := conn.WriteJSON(msg)
	c.wmu.Unlock()
	if err != nil {
		c.log.Warn("send failed", "type", msg.Kind(), "error", err)
	}
}

func (c *Client) emit(event MessageType, msg any) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	set := c.handlers[event]
	handlers := make([]Handler, 0, len(set))
	for _, h := range set {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}
