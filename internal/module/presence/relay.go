package presence

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/schemastudio/server/internal/shared/logger"
)

// Relay is the unpartitioned fan-out endpoint behind /ws/portfolio-updates.
// Every frame a client sends is forwarded verbatim to every other client.
type Relay struct {
	upgrader    websocket.Upgrader
	log         *logger.Logger
	sendTimeout time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewRelay builds a relay.
func NewRelay(log *logger.Logger, sendTimeout time.Duration) *Relay {
	return &Relay{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:         log,
		sendTimeout: sendTimeout,
		clients:     make(map[*websocket.Conn]struct{}),
	}
}

// HandleUpdates upgrades GET /ws/portfolio-updates and pumps frames until the
// peer disconnects.
func (r *Relay) HandleUpdates(c *gin.Context) {
	ws, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.log.Error("relay upgrade failed", "error", err)
		return
	}

	r.mu.Lock()
	r.clients[ws] = struct{}{}
	count := len(r.clients)
	r.mu.Unlock()
	r.log.Info("relay client connected", "clients", count)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		r.broadcast(ws, msgType, data)
	}

	r.remove(ws)
}

// Count returns the number of connected relay clients.
func (r *Relay) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// broadcast forwards one frame to every peer. Writes happen under the relay
// mutex so concurrent senders never interleave frames on one connection.
func (r *Relay) broadcast(sender *websocket.Conn, msgType int, data []byte) {
	r.mu.Lock()
	var failed []*websocket.Conn
	for ws := range r.clients {
		if ws == sender {
			continue
		}
		_ = ws.SetWriteDeadline(time.Now().Add(r.sendTimeout))
		if err := ws.WriteMessage(msgType, data); err != nil {
			failed = append(failed, ws)
		}
	}
	r.mu.Unlock()

	for _, ws := range failed {
		r.remove(ws)
	}
}

func (r *Relay) remove(ws *websocket.Conn) {
	r.mu.Lock()
	_, present := r.clients[ws]
	delete(r.clients, ws)
	count := len(r.clients)
	r.mu.Unlock()

	if present {
		_ = ws.Close()
		r.log.Info("relay client disconnected", "clients", count)
	}
}

// Shutdown closes every relay client.
func (r *Relay) Shutdown() {
	r.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(r.clients))
	for ws := range r.clients {
		clients = append(clients, ws)
	}
	r.clients = make(map[*websocket.Conn]struct{})
	r.mu.Unlock()

	for _, ws := range clients {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(r.sendTimeout))
		_ = ws.Close()
	}
}
