package presence

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schemastudio/server/internal/shared/config"
	"github.com/schemastudio/server/internal/shared/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Output: io.Discard})
}

func testPresenceConfig() config.PresenceConfig {
	return config.PresenceConfig{
		SweepInterval:    30 * time.Second,
		CursorStaleAfter: 30 * time.Second,
		SendTimeout:      time.Second,
		ReadLimit:        64 * 1024,
		SnapshotTTL:      2 * time.Minute,
	}
}

func newTestHub() *Hub {
	return NewHub(testPresenceConfig(), testLogger(), nil, nil)
}

// fakeTransport is an in-memory transport capturing every frame.
type fakeTransport struct {
	mu         sync.Mutex
	frames     [][]byte
	pings      int
	closed     bool
	failWrites bool
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return websocket.ErrCloseSent
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) WriteControl(msgType int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return websocket.ErrCloseSent
	}
	if msgType == websocket.PingMessage {
		f.pings++
	}
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) lastFrame() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

// ========== Integration over a real websocket ==========

func startHubServer(t *testing.T, hub *Hub) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws/collaboration/:workspaceId", hub.HandleCollaboration)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialHub(t *testing.T, baseURL, workspaceID string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(baseURL+"/ws/collaboration/"+workspaceID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) (MessageType, any) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	kind, msg, err := DecodeServer(data)
	require.NoError(t, err)
	return kind, msg
}

func sendEnvelope(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

// join identifies a connection and waits for a pong so the join is known to
// be processed before the test moves on.
func join(t *testing.T, ws *websocket.Conn, userID, username string) {
	t.Helper()
	sendEnvelope(t, ws, NewUserJoin(userID, username, "editor", ""))
	sendEnvelope(t, ws, &Ping{Type: MessagePing})
	kind, _ := readEnvelope(t, ws)
	require.Equal(t, MessagePong, kind)
}

func TestHubConnectionEstablished(t *testing.T) {
	url := startHubServer(t, newTestHub())
	ws := dialHub(t, url, "ws-1")

	kind, msg := readEnvelope(t, ws)
	require.Equal(t, MessageConnectionEstablished, kind)

	est := msg.(*ConnectionEstablished)
	assert.True(t, strings.HasPrefix(est.ClientID, "client_"))
	assert.Equal(t, "ws-1", est.WorkspaceID)
	assert.False(t, est.Timestamp.IsZero())
}

func TestHubCurrentUsersOnlyWithIdentifiedPeers(t *testing.T) {
	url := startHubServer(t, newTestHub())

	// First client gets no current_users frame: the next frame after the
	// handshake must answer its ping.
	first := dialHub(t, url, "ws-1")
	kind, _ := readEnvelope(t, first)
	require.Equal(t, MessageConnectionEstablished, kind)
	join(t, first, "u1", "alice")

	// Second client sees the identified peer.
	second := dialHub(t, url, "ws-1")
	kind, _ = readEnvelope(t, second)
	require.Equal(t, MessageConnectionEstablished, kind)

	kind, msg := readEnvelope(t, second)
	require.Equal(t, MessageCurrentUsers, kind)
	users := msg.(*CurrentUsers).Users
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
	assert.Equal(t, "alice", users[0].Username)
}

func TestHubJoinBroadcastExcludesSender(t *testing.T) {
	url := startHubServer(t, newTestHub())

	first := dialHub(t, url, "ws-1")
	readEnvelope(t, first) // connection_established
	join(t, first, "u1", "alice")

	second := dialHub(t, url, "ws-1")
	readEnvelope(t, second) // connection_established
	readEnvelope(t, second) // current_users
	join(t, second, "u2", "bob")

	// The peer hears about bob.
	kind, msg := readEnvelope(t, first)
	require.Equal(t, MessageUserJoined, kind)
	assert.Equal(t, "u2", msg.(*UserJoined).User.ID)

	// Bob never receives his own announcement: his next frame answers a ping.
	sendEnvelope(t, second, &Ping{Type: MessagePing})
	kind, _ = readEnvelope(t, second)
	assert.Equal(t, MessagePong, kind)
}

func TestHubCursorRelayStampsTimestamp(t *testing.T) {
	url := startHubServer(t, newTestHub())

	first := dialHub(t, url, "ws-1")
	readEnvelope(t, first)
	join(t, first, "u1", "alice")

	second := dialHub(t, url, "ws-1")
	readEnvelope(t, second)
	readEnvelope(t, second)
	join(t, second, "u2", "bob")
	readEnvelope(t, first) // bob's user_joined

	sendEnvelope(t, first, NewCursorUpdate(CursorPayload{
		UserID:   "u1",
		Username: "alice",
		Position: &Position{X: 120, Y: 80},
	}))

	kind, msg := readEnvelope(t, second)
	require.Equal(t, MessageCursorUpdate, kind)
	data := msg.(*CursorBroadcast).Data
	assert.Equal(t, "u1", data.UserID)
	assert.Equal(t, 120.0, data.Position.X)
	assert.False(t, data.Timestamp.IsZero(), "hub must stamp the relay time")
}

func TestHubSchemaChangeValidation(t *testing.T) {
	url := startHubServer(t, newTestHub())

	first := dialHub(t, url, "ws-1")
	readEnvelope(t, first)
	join(t, first, "u1", "alice")

	second := dialHub(t, url, "ws-1")
	readEnvelope(t, second)
	readEnvelope(t, second)
	join(t, second, "u2", "bob")
	readEnvelope(t, first) // bob's user_joined

	// Missing changeType: only the sender hears about it.
	sendEnvelope(t, second, map[string]any{"type": "schema_change", "data": map[string]any{"x": 1}})
	kind, msg := readEnvelope(t, second)
	require.Equal(t, MessageError, kind)
	assert.Contains(t, msg.(*ErrorMessage).Message, "changeType")

	// A valid change goes straight through; the invalid one was never relayed.
	sendEnvelope(t, second, NewSchemaChange("add_table", json.RawMessage(`{"tableId":"t1"}`), "u2", "bob"))
	kind, msg = readEnvelope(t, first)
	require.Equal(t, MessageSchemaChange, kind)
	change := msg.(*SchemaChange)
	assert.Equal(t, "add_table", change.ChangeType)
	assert.Equal(t, "u2", change.UserID)
	assert.False(t, change.Timestamp.IsZero())
}

func TestHubWorkspaceIsolation(t *testing.T) {
	url := startHubServer(t, newTestHub())

	first := dialHub(t, url, "ws-1")
	readEnvelope(t, first)
	join(t, first, "u1", "alice")

	other := dialHub(t, url, "ws-2")
	readEnvelope(t, other)
	join(t, other, "u9", "mallory")

	sendEnvelope(t, first, NewCursorUpdate(CursorPayload{
		UserID:   "u1",
		Position: &Position{X: 1, Y: 2},
	}))

	// The other workspace's next frame answers its ping, not alice's cursor.
	sendEnvelope(t, other, &Ping{Type: MessagePing})
	kind, _ := readEnvelope(t, other)
	assert.Equal(t, MessagePong, kind)
}

func TestHubUserLeaveBroadcast(t *testing.T) {
	url := startHubServer(t, newTestHub())

	first := dialHub(t, url, "ws-1")
	readEnvelope(t, first)
	join(t, first, "u1", "alice")

	second := dialHub(t, url, "ws-1")
	readEnvelope(t, second)
	readEnvelope(t, second)
	join(t, second, "u2", "bob")
	readEnvelope(t, first)

	sendEnvelope(t, second, NewUserLeave("u2", "bob"))

	kind, msg := readEnvelope(t, first)
	require.Equal(t, MessageUserLeft, kind)
	assert.Equal(t, "u2", msg.(*UserLeft).UserID)
}

func TestHubDisconnectBroadcastsUserLeft(t *testing.T) {
	url := startHubServer(t, newTestHub())

	first := dialHub(t, url, "ws-1")
	readEnvelope(t, first)
	join(t, first, "u1", "alice")

	second := dialHub(t, url, "ws-1")
	readEnvelope(t, second)
	readEnvelope(t, second)
	join(t, second, "u2", "bob")
	readEnvelope(t, first)

	require.NoError(t, second.Close())

	kind, msg := readEnvelope(t, first)
	require.Equal(t, MessageUserLeft, kind)
	assert.Equal(t, "u2", msg.(*UserLeft).UserID)
}

func TestHubUnknownTypeDropped(t *testing.T) {
	url := startHubServer(t, newTestHub())

	ws := dialHub(t, url, "ws-1")
	readEnvelope(t, ws)

	sendEnvelope(t, ws, map[string]any{"type": "emoji_reaction"})
	sendEnvelope(t, ws, &Ping{Type: MessagePing})

	// No error frame for the unknown type; the connection stays healthy.
	kind, _ := readEnvelope(t, ws)
	assert.Equal(t, MessagePong, kind)
}

func TestHubMalformedJSONGetsError(t *testing.T) {
	url := startHubServer(t, newTestHub())

	ws := dialHub(t, url, "ws-1")
	readEnvelope(t, ws)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	kind, _ := readEnvelope(t, ws)
	assert.Equal(t, MessageError, kind)
}

func TestHubRelayPayloadsVerbatim(t *testing.T) {
	url := startHubServer(t, newTestHub())

	first := dialHub(t, url, "ws-1")
	readEnvelope(t, first)
	join(t, first, "u1", "alice")

	second := dialHub(t, url, "ws-1")
	readEnvelope(t, second)
	readEnvelope(t, second)
	join(t, second, "u2", "bob")
	readEnvelope(t, first)

	sendEnvelope(t, second, map[string]any{
		"type": "user_selection",
		"data": map[string]any{"userId": "u2", "tableId": "t3", "extra": []int{1, 2}},
	})

	kind, msg := readEnvelope(t, first)
	require.Equal(t, MessageUserSelection, kind)
	assert.JSONEq(t, `{"userId":"u2","tableId":"t3","extra":[1,2]}`, string(msg.(*Relayed).Data))
}

// ========== Liveness sweep ==========

func TestSweepPingsThenEvicts(t *testing.T) {
	hub := newTestHub()

	silent := &fakeTransport{}
	conn := newConn(silent, "ws-1", "client_a", time.Second)
	conn.Identify("u1", "alice", "editor", "")
	hub.registry.Register(conn)

	peerWS := &fakeTransport{}
	peer := newConn(peerWS, "ws-1", "client_b", time.Second)
	peer.Identify("u2", "bob", "editor", "")
	peer.MarkAlive()
	hub.registry.Register(peer)

	// First pass: both are alive, both get probed, nobody is evicted.
	conn.MarkAlive()
	hub.Sweep()
	assert.Equal(t, 1, silent.pingCount())
	assert.Equal(t, 2, hub.registry.Count("ws-1"))

	// The silent connection never answers; the peer's pong re-arms it.
	peer.MarkAlive()
	hub.Sweep()

	assert.Equal(t, 1, hub.registry.Count("ws-1"))
	assert.True(t, silent.isClosed())
	assert.False(t, peerWS.isClosed())

	// The survivor was told via a synthetic user_left.
	kind, msg, err := DecodeServer(peerWS.lastFrame())
	require.NoError(t, err)
	require.Equal(t, MessageUserLeft, kind)
	assert.Equal(t, "u1", msg.(*UserLeft).UserID)
}

func TestSweepEvictsClosedTransports(t *testing.T) {
	hub := newTestHub()

	ws := &fakeTransport{}
	conn := newConn(ws, "ws-1", "client_a", time.Second)
	hub.registry.Register(conn)
	conn.CloseTransport()

	hub.Sweep()
	assert.Equal(t, 0, hub.registry.Count("ws-1"))
}

func TestBroadcastEvictsFailedSends(t *testing.T) {
	hub := newTestHub()

	broken := &fakeTransport{failWrites: true}
	conn := newConn(broken, "ws-1", "client_a", time.Second)
	conn.Identify("u1", "alice", "editor", "")
	hub.registry.Register(conn)

	healthy := &fakeTransport{}
	peer := newConn(healthy, "ws-1", "client_b", time.Second)
	peer.Identify("u2", "bob", "editor", "")
	hub.registry.Register(peer)

	hub.Broadcast("ws-1", NewUserLeft("u9"), "")

	// The failed send evicts only the broken connection; the loop continues.
	assert.Equal(t, 1, hub.registry.Count("ws-1"))
	assert.True(t, broken.isClosed())
	assert.NotNil(t, healthy.lastFrame())
}

func TestEvictIdempotent(t *testing.T) {
	hub := newTestHub()

	ws := &fakeTransport{}
	conn := newConn(ws, "ws-1", "client_a", time.Second)
	conn.Identify("u1", "alice", "editor", "")
	hub.registry.Register(conn)

	hub.evict(conn, evictionLiveness, true)
	hub.evict(conn, evictionLiveness, true)

	assert.Equal(t, 0, hub.registry.Count("ws-1"))
	assert.True(t, ws.isClosed())
}

func TestNotifyMembership(t *testing.T) {
	hub := newTestHub()

	ws := &fakeTransport{}
	conn := newConn(ws, "ws-1", "client_a", time.Second)
	conn.Identify("u1", "alice", "editor", "")
	hub.registry.Register(conn)

	hub.NotifyMembership("ws-1", MessageMemberApproved, MemberEvent{
		MemberID: "m1",
		Username: "bob",
		Role:     "editor",
	})

	kind, msg, err := DecodeServer(ws.lastFrame())
	require.NoError(t, err)
	require.Equal(t, MessageMemberApproved, kind)

	ev, ok := decodeMemberEvent(msg.(*Relayed).Data)
	require.True(t, ok)
	assert.Equal(t, "m1", ev.MemberID)
	assert.Equal(t, "bob", ev.Username)
}
