package presence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler() (*Reconciler, *time.Time) {
	r := NewReconciler(30*time.Second, testLogger())
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	clock := &now
	r.now = func() time.Time { return *clock }
	return r, clock
}

func cursorAt(userID string, x, y float64, ts time.Time) CursorData {
	return CursorData{
		CursorPayload: CursorPayload{
			UserID:   userID,
			Position: &Position{X: x, Y: y},
		},
		Timestamp: ts,
	}
}

// ========== Cursor state ==========

func TestReconcilerOneCursorPerUser(t *testing.T) {
	r, clock := newTestReconciler()

	r.applyCursor(cursorAt("u1", 10, 10, *clock))
	r.applyCursor(cursorAt("u1", 50, 60, clock.Add(time.Second)))

	cursors := r.LiveCursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, 50.0, cursors[0].Position.X)
	assert.Equal(t, 60.0, cursors[0].Position.Y)
}

func TestReconcilerIgnoresOutOfOrderUpdates(t *testing.T) {
	r, clock := newTestReconciler()

	r.applyCursor(cursorAt("u1", 50, 60, clock.Add(2*time.Second)))
	r.applyCursor(cursorAt("u1", 10, 10, *clock))

	cursors := r.LiveCursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, 50.0, cursors[0].Position.X, "an older update must not replace a newer one")
}

func TestReconcilerEqualTimestampReplaces(t *testing.T) {
	r, clock := newTestReconciler()

	r.applyCursor(cursorAt("u1", 10, 10, *clock))
	r.applyCursor(cursorAt("u1", 20, 20, *clock))

	cursors := r.LiveCursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, 20.0, cursors[0].Position.X)
}

func TestReconcilerStalenessAtReadTime(t *testing.T) {
	r, clock := newTestReconciler()

	r.applyCursor(cursorAt("u1", 10, 10, *clock))

	*clock = clock.Add(29*time.Second + 999*time.Millisecond)
	assert.Len(t, r.LiveCursors(), 1, "29.999s old is still live")

	*clock = clock.Add(time.Millisecond)
	assert.Empty(t, r.LiveCursors(), "30s old is stale")

	_, ok := r.Cursor("u1")
	assert.False(t, ok)
}

func TestReconcilerStaleCursorRevives(t *testing.T) {
	r, clock := newTestReconciler()

	r.applyCursor(cursorAt("u1", 10, 10, *clock))
	*clock = clock.Add(time.Minute)
	assert.Empty(t, r.LiveCursors())

	r.applyCursor(cursorAt("u1", 30, 40, *clock))
	cursors := r.LiveCursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, 30.0, cursors[0].Position.X)
}

func TestReconcilerClampsToViewport(t *testing.T) {
	r, clock := newTestReconciler()
	r.SetViewport(1920, 1080)

	r.applyCursor(cursorAt("u1", -50, 2000, *clock))

	cursors := r.LiveCursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, 0.0, cursors[0].Position.X)
	assert.Equal(t, 1080.0, cursors[0].Position.Y)
}

func TestReconcilerDropsInvalidCursor(t *testing.T) {
	r, clock := newTestReconciler()

	r.applyCursor(CursorData{
		CursorPayload: CursorPayload{UserID: ""},
		Timestamp:     *clock,
	})
	r.applyCursor(CursorData{
		CursorPayload: CursorPayload{UserID: "u1"},
		Timestamp:     *clock,
	})

	assert.Empty(t, r.LiveCursors())
}

// ========== Roster reconciliation ==========

func TestReconcilerProvisionalMemberOnJoin(t *testing.T) {
	r, _ := newTestReconciler()

	r.applyUserJoined(UserInfo{ID: "u1", Username: "alice"})

	members := r.TeamMembers()
	require.Len(t, members, 1)
	assert.Equal(t, defaultRole, members[0].Role)
	assert.Equal(t, StatusOnline, members[0].Status)
	assert.False(t, members[0].IsApproved)
	assert.NotEmpty(t, members[0].Color)
}

func TestReconcilerNoDuplicateOnRejoin(t *testing.T) {
	r, _ := newTestReconciler()

	r.applyUserJoined(UserInfo{ID: "u1", Username: "alice"})
	r.applyUserJoined(UserInfo{ID: "u1", Username: "alice"})

	assert.Len(t, r.TeamMembers(), 1)
}

func TestReconcilerMergesByIDThenUsername(t *testing.T) {
	r, _ := newTestReconciler()

	// Provisional record created from the live stream carries no member id.
	r.applyUserJoined(UserInfo{ID: "u1", Username: "alice"})

	// The membership record arrives keyed by a different id; the username
	// match must update the provisional entry instead of appending.
	r.ApplyMemberUpsert(MemberEvent{MemberID: "m1", Username: "alice", Role: "owner"}, false)

	members := r.TeamMembers()
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].Username)
	assert.Equal(t, "owner", members[0].Role)
}

func TestReconcilerMemberApproved(t *testing.T) {
	r, clock := newTestReconciler()

	r.ApplyMemberUpsert(MemberEvent{MemberID: "m1", Username: "bob"}, false)
	require.False(t, r.TeamMembers()[0].IsApproved)

	approvedAt := clock.Add(5 * time.Second)
	r.ApplyMemberUpsert(MemberEvent{MemberID: "m1", Username: "bob", ApprovedAt: approvedAt}, true)

	members := r.TeamMembers()
	require.Len(t, members, 1)
	assert.True(t, members[0].IsApproved)
	assert.Equal(t, approvedAt, members[0].ApprovedAt)
}

func TestReconcilerMemberApprovedUnseenAppends(t *testing.T) {
	r, _ := newTestReconciler()

	r.ApplyMemberUpsert(MemberEvent{MemberID: "m2", Username: "carol", Role: "viewer"}, true)

	members := r.TeamMembers()
	require.Len(t, members, 1)
	assert.True(t, members[0].IsApproved)
	assert.Equal(t, "viewer", members[0].Role)
}

func TestReconcilerMemberRemoved(t *testing.T) {
	r, clock := newTestReconciler()

	r.applyUserJoined(UserInfo{ID: "u1", Username: "alice"})
	r.applyCursor(cursorAt("u1", 1, 1, *clock))
	r.ApplyMemberRemoved(MemberEvent{MemberID: "u1"})

	assert.Empty(t, r.TeamMembers())
	assert.Empty(t, r.LiveCursors())
	assert.Zero(t, r.ActiveCount())
}

func TestReconcilerSeedAutoApproval(t *testing.T) {
	r, clock := newTestReconciler()

	r.SeedMembers([]TeamMember{
		{ID: "m1", Username: "alice", Role: "owner", JoinedAt: *clock},
		{ID: "m2", Username: "bob", Role: "editor", JoinedAt: clock.Add(-time.Hour)},
		{ID: "m3", Username: "carol", Role: "editor", JoinedAt: clock.Add(-500 * time.Millisecond)},
	})

	members := r.TeamMembers()
	require.Len(t, members, 3)
	byID := map[string]TeamMember{}
	for _, m := range members {
		byID[m.ID] = m
	}
	assert.True(t, byID["m1"].IsApproved, "owners are always approved")
	assert.True(t, byID["m2"].IsApproved, "old records are treated as approved")
	assert.False(t, byID["m3"].IsApproved, "fresh records await approval")
}

// ========== Presence status ==========

func TestReconcilerJoinCursorLeaveLifecycle(t *testing.T) {
	r, clock := newTestReconciler()

	r.applyUserJoined(UserInfo{ID: "u1", Username: "alice"})
	assert.Equal(t, 1, r.ActiveCount())

	r.applyCursor(cursorAt("u1", 5, 5, *clock))
	members := r.TeamMembers()
	require.Len(t, members, 1)
	assert.Equal(t, StatusOnline, members[0].Status)
	assert.Equal(t, "Editing schema", members[0].CurrentAction)
	assert.Len(t, r.LiveCursors(), 1)

	r.applyUserLeft("u1")
	members = r.TeamMembers()
	require.Len(t, members, 1, "the roster entry survives departure")
	assert.Equal(t, StatusOffline, members[0].Status)
	assert.Empty(t, r.LiveCursors(), "cursors do not survive departure")
	assert.Zero(t, r.ActiveCount())
}

func TestReconcilerPresenceUpdateAway(t *testing.T) {
	r, _ := newTestReconciler()

	r.applyUserJoined(UserInfo{ID: "u1", Username: "alice"})
	r.applyPresence(json.RawMessage(`{"userId":"u1","status":"away","currentAction":"Idle"}`))

	members := r.TeamMembers()
	require.Len(t, members, 1)
	assert.Equal(t, StatusAway, members[0].Status)
	assert.Equal(t, "Idle", members[0].CurrentAction)
}

func TestReconcilerResetOnDisconnect(t *testing.T) {
	r, clock := newTestReconciler()

	r.applyUserJoined(UserInfo{ID: "u1", Username: "alice"})
	r.applyCursor(cursorAt("u1", 5, 5, *clock))

	r.Apply(EventDisconnected, nil)

	assert.Empty(t, r.LiveCursors())
	assert.Zero(t, r.ActiveCount())
	assert.Len(t, r.TeamMembers(), 1, "membership survives a reconnect")
	assert.Equal(t, StatusOffline, r.TeamMembers()[0].Status)
}

func TestReconcilerCurrentUsersSeedsActiveSet(t *testing.T) {
	r, _ := newTestReconciler()

	r.Apply(MessageCurrentUsers, &CurrentUsers{
		Type: MessageCurrentUsers,
		Users: []UserInfo{
			{ID: "u1", Username: "alice", Role: "owner"},
			{ID: "u2", Username: "bob"},
		},
	})

	assert.Equal(t, 2, r.ActiveCount())
	assert.Len(t, r.TeamMembers(), 2)
}

func TestDecodeMemberEventShapes(t *testing.T) {
	flat, ok := decodeMemberEvent(json.RawMessage(`{"memberId":"m1","username":"bob"}`))
	require.True(t, ok)
	assert.Equal(t, "m1", flat.MemberID)

	wrapped, ok := decodeMemberEvent(json.RawMessage(`{"member":{"memberId":"m2","username":"carol"}}`))
	require.True(t, ok)
	assert.Equal(t, "m2", wrapped.MemberID)

	_, ok = decodeMemberEvent(json.RawMessage(`{"unrelated":true}`))
	assert.False(t, ok)
}
