package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/schemastudio/server/internal/shared/config"
	"github.com/schemastudio/server/internal/shared/logger"
	"github.com/schemastudio/server/internal/utils/metrics"
)

// Eviction reasons reported to metrics.
const (
	evictionSendFailed = "send_failed"
	evictionLiveness   = "liveness"
	evictionClosed     = "closed"
)

// Hub owns the workspace-partitioned connection registry, routes broadcasts
// and runs the liveness sweep. Identity is caller-asserted: the userId and
// username from user_join are trusted as sent, authentication lives upstream.
type Hub struct {
	cfg      config.PresenceConfig
	registry *Registry
	upgrader websocket.Upgrader
	log      *logger.Logger
	metrics  *metrics.Metrics
	cache    redis.UniversalClient
	now      func() time.Time
}

// NewHub builds a hub. metrics and cache may be nil.
func NewHub(cfg config.PresenceConfig, log *logger.Logger, m *metrics.Metrics, cache redis.UniversalClient) *Hub {
	return &Hub{
		cfg:      cfg,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser origins vary per deployment; access control is
			// enforced upstream of the hub.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     log,
		metrics: m,
		cache:   cache,
		now:     time.Now,
	}
}

// Registry exposes the connection registry for wiring and tests.
func (h *Hub) Registry() *Registry { return h.registry }

// HandleCollaboration upgrades GET /ws/collaboration/:workspaceId and serves
// the connection until the peer goes away.
func (h *Hub) HandleCollaboration(c *gin.Context) {
	workspaceID := c.Param("workspaceId")

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err, "workspace_id", workspaceID)
		return
	}

	if workspaceID == "" {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "workspace id required")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.SendTimeout))
		_ = ws.Close()
		return
	}

	h.serve(ws, workspaceID)
}

func (h *Hub) serve(ws *websocket.Conn, workspaceID string) {
	clientID := fmt.Sprintf("client_%d", h.now().UnixMilli())
	conn := newConn(ws, workspaceID, clientID, h.cfg.SendTimeout)

	ws.SetReadLimit(h.cfg.ReadLimit)
	ws.SetPongHandler(func(string) error {
		conn.MarkAlive()
		return nil
	})

	h.registry.Register(conn)
	h.metrics.SetConnections(workspaceID, h.registry.Count(workspaceID))
	h.log.Info("connection registered",
		"workspace_id", workspaceID,
		"client_id", clientID,
		"connections", h.registry.Count(workspaceID),
	)

	if err := conn.SendJSON(&ConnectionEstablished{
		Type:        MessageConnectionEstablished,
		ClientID:    clientID,
		WorkspaceID: workspaceID,
		Timestamp:   h.now(),
	}); err != nil {
		h.evict(conn, evictionSendFailed, false)
		return
	}
	h.sendCurrentUsers(conn)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		conn.MarkAlive()
		h.handleMessage(conn, data)
	}

	h.disconnect(conn)
}

// disconnect handles the read loop ending: identified peers get a user_left,
// then the connection is removed.
func (h *Hub) disconnect(conn *Conn) {
	if userID := conn.UserID(); userID != "" {
		h.Broadcast(conn.WorkspaceID(), NewUserLeft(userID), userID)
	}
	h.evict(conn, evictionClosed, false)
}

// evict removes one connection: unregister, terminate transport, update
// bookkeeping. Safe to call from the read loop and the sweeper concurrently.
func (h *Hub) evict(conn *Conn, reason string, notifyPeers bool) {
	if !h.registry.Unregister(conn) {
		conn.CloseTransport()
		return
	}

	if notifyPeers {
		if userID := conn.UserID(); userID != "" {
			h.Broadcast(conn.WorkspaceID(), NewUserLeft(userID), userID)
		}
	}
	conn.CloseTransport()

	h.metrics.RecordEviction(reason)
	h.metrics.SetConnections(conn.WorkspaceID(), h.registry.Count(conn.WorkspaceID()))
	h.snapshotUsers(conn.WorkspaceID())
	h.log.Info("connection removed",
		"workspace_id", conn.WorkspaceID(),
		"client_id", conn.ClientID(),
		"reason", reason,
		"connections", h.registry.Count(conn.WorkspaceID()),
	)
}

func (h *Hub) handleMessage(conn *Conn, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		var unknown *UnknownTypeError
		if errors.As(err, &unknown) {
			h.log.Warn("dropping unknown message type",
				"type", unknown.Type,
				"workspace_id", conn.WorkspaceID(),
			)
			return
		}
		h.log.Warn("rejecting malformed message", "error", err, "workspace_id", conn.WorkspaceID())
		h.sendError(conn, err.Error())
		return
	}

	h.metrics.RecordMessage(string(msg.Kind()))

	switch m := msg.(type) {
	case *UserJoin:
		h.handleUserJoin(conn, m)
	case *UserLeave:
		h.handleUserLeave(conn, m)
	case *CursorUpdate:
		h.handleCursorUpdate(conn, m)
	case *SchemaChange:
		m.Timestamp = h.now()
		h.Broadcast(conn.WorkspaceID(), m, m.UserID)
	case *UserSelection:
		h.Broadcast(conn.WorkspaceID(), &Relayed{Type: MessageUserSelection, Data: m.Data.Raw()}, m.Data.UserID)
	case *PresenceUpdate:
		h.Broadcast(conn.WorkspaceID(), &Relayed{Type: MessagePresenceUpdate, Data: m.Data.Raw()}, m.Data.UserID)
	case *MemberAdded:
		// Membership announcements go to every connection, sender included,
		// so the inviter's own roster refreshes too.
		h.Broadcast(conn.WorkspaceID(), &Relayed{Type: MessageMemberAdded, Data: m.Data.Raw()}, "")
	case *Ping:
		if err := conn.SendJSON(&Pong{Type: MessagePong}); err != nil {
			h.evict(conn, evictionSendFailed, false)
		}
	}
}

func (h *Hub) handleUserJoin(conn *Conn, m *UserJoin) {
	conn.Identify(m.UserID, m.Username, m.Role, m.Color)
	user := conn.User()
	user.JoinedAt = h.now()

	h.Broadcast(conn.WorkspaceID(), &UserJoined{Type: MessageUserJoined, User: user}, m.UserID)
	h.snapshotUsers(conn.WorkspaceID())
	h.log.Info("user joined workspace",
		"workspace_id", conn.WorkspaceID(),
		"user_id", m.UserID,
		"username", m.Username,
	)
}

func (h *Hub) handleUserLeave(conn *Conn, m *UserLeave) {
	h.Broadcast(conn.WorkspaceID(), NewUserLeft(m.UserID), m.UserID)
	h.snapshotUsers(conn.WorkspaceID())
	h.log.Info("user left workspace", "workspace_id", conn.WorkspaceID(), "user_id", m.UserID)
}

func (h *Hub) handleCursorUpdate(conn *Conn, m *CursorUpdate) {
	out := &CursorBroadcast{
		Type: MessageCursorUpdate,
		Data: CursorData{CursorPayload: *m.Cursor, Timestamp: h.now()},
	}
	h.Broadcast(conn.WorkspaceID(), out, m.Cursor.UserID)
}

// sendCurrentUsers tells a fresh connection who is already in the room. Sent
// only when at least one identified peer exists.
func (h *Hub) sendCurrentUsers(conn *Conn) {
	var users []UserInfo
	for _, peer := range h.registry.ConnectionsFor(conn.WorkspaceID()) {
		if peer == conn || !peer.Identified() {
			continue
		}
		users = append(users, peer.User())
	}
	if len(users) == 0 {
		return
	}
	if err := conn.SendJSON(&CurrentUsers{Type: MessageCurrentUsers, Users: users}); err != nil {
		h.evict(conn, evictionSendFailed, false)
	}
}

// Broadcast fans a message out to every open connection in the workspace,
// excluding the connection(s) identified as excludeUserID. A failed send
// evicts that connection without aborting the loop.
func (h *Hub) Broadcast(workspaceID string, msg any, excludeUserID string) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("broadcast marshal failed", "error", err, "workspace_id", workspaceID)
		return
	}

	h.metrics.RecordBroadcast()
	for _, conn := range h.registry.ConnectionsFor(workspaceID) {
		if excludeUserID != "" && conn.UserID() == excludeUserID {
			continue
		}
		if !conn.Open() {
			continue
		}
		if err := conn.Send(data); err != nil {
			h.log.Warn("broadcast send failed, evicting connection",
				"workspace_id", workspaceID,
				"client_id", conn.ClientID(),
				"error", err,
			)
			h.evict(conn, evictionSendFailed, false)
		}
	}
}

func (h *Hub) sendError(conn *Conn, message string) {
	if err := conn.SendJSON(NewErrorMessage(message)); err != nil {
		h.evict(conn, evictionSendFailed, false)
	}
}

// NotifyMembership broadcasts a hub-originated membership notification
// (member_added, member_approved, member_removed) to a whole workspace.
func (h *Hub) NotifyMembership(workspaceID string, kind MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("membership payload marshal failed", "error", err, "workspace_id", workspaceID)
		return
	}
	h.Broadcast(workspaceID, &Relayed{Type: kind, Data: data}, "")
}

// RunSweeper runs the liveness sweep at the configured interval until ctx is
// cancelled.
func (h *Hub) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep()
		}
	}
}

// Sweep is one liveness pass. Connections that stayed silent since the last
// pass are evicted with a synthetic user_left for their peers; survivors are
// probed with a ping whose pong re-arms them before the next pass.
func (h *Hub) Sweep() {
	for _, workspaceID := range h.registry.Workspaces() {
		for _, conn := range h.registry.ConnectionsFor(workspaceID) {
			if !conn.Open() {
				h.evict(conn, evictionClosed, false)
				continue
			}
			if !conn.Alive() {
				h.log.Info("evicting unresponsive connection",
					"workspace_id", workspaceID,
					"client_id", conn.ClientID(),
				)
				h.evict(conn, evictionLiveness, true)
				continue
			}
			if err := conn.Ping(); err != nil {
				h.evict(conn, evictionSendFailed, false)
			}
		}
	}
}

// Shutdown notifies every connection the hub is going away and closes them.
func (h *Hub) Shutdown() {
	for _, conn := range h.registry.All() {
		conn.CloseWith(websocket.CloseGoingAway, "server shutting down")
		h.registry.Unregister(conn)
	}
}

// snapshotUsers mirrors the workspace's identified users into Redis so other
// services can read presence without holding a socket. Best effort.
func (h *Hub) snapshotUsers(workspaceID string) {
	if h.cache == nil {
		return
	}

	var users []UserInfo
	for _, conn := range h.registry.ConnectionsFor(workspaceID) {
		if conn.Identified() {
			users = append(users, conn.User())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := fmt.Sprintf("presence:workspace:%s:users", workspaceID)
	if len(users) == 0 {
		if err := h.cache.Del(ctx, key).Err(); err != nil {
			h.log.Warn("presence snapshot delete failed", "error", err, "workspace_id", workspaceID)
		}
		return
	}

	data, err := json.Marshal(users)
	if err != nil {
		return
	}
	if err := h.cache.Set(ctx, key, data, h.cfg.SnapshotTTL).Err(); err != nil {
		h.log.Warn("presence snapshot write failed", "error", err, "workspace_id", workspaceID)
	}
}
