package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConn(workspaceID string) *Conn {
	return newConn(&fakeTransport{}, workspaceID, "client_test", time.Second)
}

func TestRegistryRegisterAndCount(t *testing.T) {
	r := NewRegistry()
	a := testConn("ws-1")
	b := testConn("ws-1")
	c := testConn("ws-2")

	r.Register(a)
	r.Register(b)
	r.Register(c)

	assert.Equal(t, 2, r.Count("ws-1"))
	assert.Equal(t, 1, r.Count("ws-2"))
	assert.Equal(t, 0, r.Count("ws-3"))
	assert.ElementsMatch(t, []string{"ws-1", "ws-2"}, r.Workspaces())
	assert.Len(t, r.All(), 3)
}

func TestRegistryPartitionIsolation(t *testing.T) {
	r := NewRegistry()
	a := testConn("ws-1")
	b := testConn("ws-2")
	r.Register(a)
	r.Register(b)

	conns := r.ConnectionsFor("ws-1")
	require.Len(t, conns, 1)
	assert.Same(t, a, conns[0])
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	a := testConn("ws-1")
	r.Register(a)

	assert.True(t, r.Unregister(a))
	assert.False(t, r.Unregister(a))
	assert.Equal(t, 0, r.Count("ws-1"))
}

func TestRegistryPrunesEmptyWorkspaces(t *testing.T) {
	r := NewRegistry()
	a := testConn("ws-1")
	r.Register(a)
	r.Unregister(a)

	assert.Empty(t, r.Workspaces())
}
