package presence

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startRelayServer(t *testing.T) (*Relay, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	relay := NewRelay(testLogger(), time.Second)
	router := gin.New()
	router.GET("/ws/portfolio-updates", relay.HandleUpdates)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return relay, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/portfolio-updates"
}

func TestRelayFanOutExcludesSender(t *testing.T) {
	relay, url := startRelayServer(t)

	a, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.Eventually(t, func() bool { return relay.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	payload := []byte(`{"event":"holdings_changed","portfolioId":"p1"}`)
	require.NoError(t, a.WriteMessage(websocket.TextMessage, payload))

	require.NoError(t, b.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, got, err := b.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// The sender hears nothing back.
	require.NoError(t, a.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = a.ReadMessage()
	assert.Error(t, err)
}

func TestRelayRemovesDisconnectedClients(t *testing.T) {
	relay, url := startRelayServer(t)

	a, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return relay.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return relay.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
