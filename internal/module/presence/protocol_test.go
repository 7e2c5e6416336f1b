package presence

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ========== Decode ==========

func TestDecodeUserJoin(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"user_join","userId":"u1","username":"alice","role":"owner","color":"#FF6B6B"}`))
	require.NoError(t, err)

	join, ok := msg.(*UserJoin)
	require.True(t, ok)
	assert.Equal(t, MessageUserJoin, join.Kind())
	assert.Equal(t, "u1", join.UserID)
	assert.Equal(t, "alice", join.Username)
	assert.Equal(t, "owner", join.Role)
}

func TestDecodeCursorUpdate(t *testing.T) {
	raw := `{"type":"cursor_update","cursor":{"userId":"u1","username":"alice","position":{"x":10.5,"y":20},"selection":{"tableId":"t1","columnId":"c2"}}}`
	msg, err := Decode([]byte(raw))
	require.NoError(t, err)

	cur, ok := msg.(*CursorUpdate)
	require.True(t, ok)
	assert.Equal(t, 10.5, cur.Cursor.Position.X)
	assert.Equal(t, 20.0, cur.Cursor.Position.Y)
	require.NotNil(t, cur.Cursor.Selection)
	assert.Equal(t, "t1", cur.Cursor.Selection.TableID)
}

func TestDecodeValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"user_join without userId", `{"type":"user_join","username":"alice"}`},
		{"user_join without username", `{"type":"user_join","userId":"u1"}`},
		{"user_leave without userId", `{"type":"user_leave"}`},
		{"cursor without payload", `{"type":"cursor_update"}`},
		{"cursor without userId", `{"type":"cursor_update","cursor":{"position":{"x":1,"y":2}}}`},
		{"cursor without position", `{"type":"cursor_update","cursor":{"userId":"u1"}}`},
		{"cursor with non-numeric position", `{"type":"cursor_update","cursor":{"userId":"u1","position":{"x":"left","y":2}}}`},
		{"cursor missing y", `{"type":"cursor_update","cursor":{"userId":"u1","position":{"x":1}}}`},
		{"schema_change without changeType", `{"type":"schema_change","data":{"a":1}}`},
		{"schema_change without data", `{"type":"schema_change","changeType":"add_table"}`},
		{"user_selection without data", `{"type":"user_selection"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"emoji_reaction","data":{}}`))

	var unknown *UnknownTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "emoji_reaction", unknown.Type)
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type":`))
	require.Error(t, err)

	var unknown *UnknownTypeError
	assert.False(t, errors.As(err, &unknown))
}

func TestDecodePing(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, MessagePing, msg.Kind())
}

// ========== Relay payloads ==========

func TestRelayDataRoundTrip(t *testing.T) {
	raw := `{"type":"user_selection","data":{"userId":"u1","tableId":"t9","nested":{"keep":"me"}}}`
	msg, err := Decode([]byte(raw))
	require.NoError(t, err)

	sel, ok := msg.(*UserSelection)
	require.True(t, ok)
	assert.Equal(t, "u1", sel.Data.UserID)

	// The relayed payload must be byte-identical to what the sender supplied.
	out, err := json.Marshal(&Relayed{Type: MessageUserSelection, Data: sel.Data.Raw()})
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestRelayDataWithoutUserID(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"presence_update","data":{"status":"away"}}`))
	require.NoError(t, err)

	pres, ok := msg.(*PresenceUpdate)
	require.True(t, ok)
	assert.Empty(t, pres.Data.UserID)
}

// ========== DecodeServer ==========

func TestDecodeServerConnectionEstablished(t *testing.T) {
	raw := `{"type":"connection_established","clientId":"client_17","workspaceId":"ws-1","timestamp":"2026-08-28T10:00:00Z"}`
	kind, msg, err := DecodeServer([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, MessageConnectionEstablished, kind)

	est, ok := msg.(*ConnectionEstablished)
	require.True(t, ok)
	assert.Equal(t, "client_17", est.ClientID)
	assert.Equal(t, "ws-1", est.WorkspaceID)
	assert.Equal(t, time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC), est.Timestamp)
}

func TestDecodeServerCursorBroadcast(t *testing.T) {
	raw := `{"type":"cursor_update","data":{"userId":"u1","position":{"x":3,"y":4},"timestamp":"2026-08-28T10:00:00Z"}}`
	kind, msg, err := DecodeServer([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, MessageCursorUpdate, kind)

	b, ok := msg.(*CursorBroadcast)
	require.True(t, ok)
	assert.Equal(t, "u1", b.Data.UserID)
	assert.False(t, b.Data.Timestamp.IsZero())
}

func TestDecodeServerUnknownType(t *testing.T) {
	_, _, err := DecodeServer([]byte(`{"type":"server_gossip"}`))

	var unknown *UnknownTypeError
	require.ErrorAs(t, err, &unknown)
}

func TestDecodeServerMembershipRelay(t *testing.T) {
	for _, typ := range []MessageType{MessageMemberAdded, MessageMemberApproved, MessageMemberRemoved} {
		raw := `{"type":"` + string(typ) + `","data":{"memberId":"m1","username":"bob"}}`
		kind, msg, err := DecodeServer([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, typ, kind)
		_, ok := msg.(*Relayed)
		assert.True(t, ok)
	}
}
