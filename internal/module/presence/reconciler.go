package presence

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/schemastudio/server/internal/shared/logger"
)

// Status is a collaborator's presence status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// defaultRole is assigned to collaborators seen on the wire before their
// membership record arrives.
const defaultRole = "editor"

// CursorState is one remote collaborator's cursor as last observed.
type CursorState struct {
	UserID    string
	Username  string
	Position  Position
	Color     string
	Role      string
	Selection *Selection
	LastSeen  time.Time
}

// TeamMember is one entry of the reconciled roster: persisted membership
// merged with live presence.
type TeamMember struct {
	ID            string
	Username      string
	Role          string
	Status        Status
	JoinedAt      time.Time
	LastSeen      time.Time
	Color         string
	CurrentAction string
	IsApproved    bool
	ApprovedAt    time.Time
}

// MemberEvent is the membership payload carried by member_added,
// member_approved and member_removed notifications.
type MemberEvent struct {
	MemberID   string    `json:"memberId"`
	Username   string    `json:"username"`
	Role       string    `json:"role,omitempty"`
	JoinedAt   time.Time `json:"joinedAt,omitzero"`
	ApprovedAt time.Time `json:"approvedAt,omitzero"`
}

// presencePayload is the body of a relayed presence_update.
type presencePayload struct {
	UserID        string `json:"userId"`
	Username      string `json:"username,omitempty"`
	Status        Status `json:"status,omitempty"`
	CurrentAction string `json:"currentAction,omitempty"`
}

// Reconciler folds the hub's event stream into the authoritative local view
// of cursors and the team roster. Cursor staleness is evaluated when the
// state is read, not when events arrive, so a quiet stream still decays.
type Reconciler struct {
	staleAfter time.Duration
	log        *logger.Logger

	mu        sync.RWMutex
	cursors   map[string]CursorState
	members   []TeamMember
	active    map[string]struct{}
	viewportW float64
	viewportH float64
	now       func() time.Time

	client *Client
	subs   []Subscription
}

// NewReconciler builds a reconciler. Cursors older than staleAfter are
// excluded from reads.
func NewReconciler(staleAfter time.Duration, log *logger.Logger) *Reconciler {
	return &Reconciler{
		staleAfter: staleAfter,
		log:        log,
		cursors:    make(map[string]CursorState),
		active:     make(map[string]struct{}),
		now:        time.Now,
	}
}

// SetViewport sets the bounds cursors are clamped into before storage.
// A zero size disables clamping.
func (r *Reconciler) SetViewport(w, h float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewportW, r.viewportH = w, h
}

// Bind subscribes the reconciler to a client's event stream.
func (r *Reconciler) Bind(c *Client) {
	r.mu.Lock()
	r.client = c
	r.mu.Unlock()

	for _, event := range []MessageType{
		MessageCursorUpdate,
		MessageUserJoined,
		MessageUserLeft,
		MessageCurrentUsers,
		MessagePresenceUpdate,
		MessageMemberAdded,
		MessageMemberApproved,
		MessageMemberRemoved,
		EventDisconnected,
	} {
		event := event
		sub := c.On(event, func(msg any) { r.Apply(event, msg) })
		r.mu.Lock()
		r.subs = append(r.subs, sub)
		r.mu.Unlock()
	}
}

// Unbind removes every subscription installed by Bind.
func (r *Reconciler) Unbind() {
	r.mu.Lock()
	client := r.client
	subs := r.subs
	r.subs = nil
	r.client = nil
	r.mu.Unlock()

	if client == nil {
		return
	}
	for _, sub := range subs {
		client.Off(sub)
	}
}

// Apply folds one event into the state. It accepts the payload types produced
// by DecodeServer and ignores anything else.
func (r *Reconciler) Apply(event MessageType, msg any) {
	switch event {
	case MessageCursorUpdate:
		if m, ok := msg.(*CursorBroadcast); ok {
			r.applyCursor(m.Data)
		}
	case MessageUserJoined:
		if m, ok := msg.(*UserJoined); ok {
			r.applyUserJoined(m.User)
		}
	case MessageUserLeft:
		if m, ok := msg.(*UserLeft); ok {
			r.applyUserLeft(m.UserID)
		}
	case MessageCurrentUsers:
		if m, ok := msg.(*CurrentUsers); ok {
			for _, user := range m.Users {
				r.applyUserJoined(user)
			}
		}
	case MessagePresenceUpdate:
		if m, ok := msg.(*Relayed); ok {
			r.applyPresence(m.Data)
		}
	case MessageMemberAdded, MessageMemberApproved:
		if m, ok := msg.(*Relayed); ok {
			if ev, ok := decodeMemberEvent(m.Data); ok {
				r.ApplyMemberUpsert(ev, event == MessageMemberApproved)
			}
		}
	case MessageMemberRemoved:
		if m, ok := msg.(*Relayed); ok {
			if ev, ok := decodeMemberEvent(m.Data); ok {
				r.ApplyMemberRemoved(ev)
			}
		}
	case EventDisconnected:
		r.Reset()
	}
}

func (r *Reconciler) applyCursor(data CursorData) {
	if err := data.Validate(); err != nil {
		r.log.Warn("dropping invalid cursor payload", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	lastSeen := data.Timestamp
	if lastSeen.IsZero() {
		lastSeen = r.now()
	}
	if existing, ok := r.cursors[data.UserID]; ok && lastSeen.Before(existing.LastSeen) {
		return
	}

	pos := *data.Position
	if r.viewportW > 0 {
		pos.X = clamp(pos.X, 0, r.viewportW)
	}
	if r.viewportH > 0 {
		pos.Y = clamp(pos.Y, 0, r.viewportH)
	}

	r.cursors[data.UserID] = CursorState{
		UserID:    data.UserID,
		Username:  data.Username,
		Position:  pos,
		Color:     data.Color,
		Role:      data.Role,
		Selection: data.Selection,
		LastSeen:  lastSeen,
	}
	r.active[data.UserID] = struct{}{}
	r.touchMemberLocked(data.UserID, data.Username, "Editing schema", lastSeen)
}

func (r *Reconciler) applyUserJoined(user UserInfo) {
	if user.ID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.active[user.ID] = struct{}{}
	if i := r.findMemberLocked(user.ID, user.Username); i >= 0 {
		r.members[i].LastSeen = r.now()
		r.members[i].CurrentAction = "Joined workspace"
		return
	}

	role := user.Role
	if role == "" {
		role = defaultRole
	}
	joinedAt := user.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = r.now()
	}
	r.members = append(r.members, TeamMember{
		ID:            user.ID,
		Username:      user.Username,
		Role:          role,
		JoinedAt:      joinedAt,
		LastSeen:      r.now(),
		Color:         ColorFor(user.Username),
		CurrentAction: "Joined workspace",
	})
}

func (r *Reconciler) applyUserLeft(userID string) {
	if userID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.cursors, userID)
	delete(r.active, userID)
	for i := range r.members {
		if r.members[i].ID == userID {
			r.members[i].LastSeen = r.now()
			r.members[i].CurrentAction = "Left workspace"
			break
		}
	}
}

func (r *Reconciler) applyPresence(data json.RawMessage) {
	var p presencePayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" {
		r.log.Warn("dropping invalid presence payload", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch p.Status {
	case StatusOnline, StatusAway:
		r.active[p.UserID] = struct{}{}
	case StatusOffline:
		delete(r.active, p.UserID)
	}
	if i := r.findMemberLocked(p.UserID, p.Username); i >= 0 {
		if p.Status != "" {
			r.members[i].Status = p.Status
		}
		if p.CurrentAction != "" {
			r.members[i].CurrentAction = p.CurrentAction
		}
		r.members[i].LastSeen = r.now()
	}
}

// ApplyMemberUpsert merges one membership record into the roster, matching
// by id first and username second. Approved records always mark the member
// approved; added records leave prior approval intact.
func (r *Reconciler) ApplyMemberUpsert(ev MemberEvent, approved bool) {
	if ev.MemberID == "" && ev.Username == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.findMemberLocked(ev.MemberID, ev.Username); i >= 0 {
		m := &r.members[i]
		if ev.MemberID != "" {
			m.ID = ev.MemberID
		}
		if ev.Username != "" {
			m.Username = ev.Username
		}
		if ev.Role != "" {
			m.Role = ev.Role
		}
		if approved {
			m.IsApproved = true
			m.ApprovedAt = r.eventTime(ev.ApprovedAt)
		}
		m.LastSeen = r.now()
		return
	}

	role := ev.Role
	if role == "" {
		role = defaultRole
	}
	member := TeamMember{
		ID:         ev.MemberID,
		Username:   ev.Username,
		Role:       role,
		JoinedAt:   r.eventTime(ev.JoinedAt),
		LastSeen:   r.now(),
		Color:      ColorFor(ev.Username),
		IsApproved: approved,
	}
	if approved {
		member.ApprovedAt = r.eventTime(ev.ApprovedAt)
	}
	r.members = append(r.members, member)
}

// ApplyMemberRemoved drops a member from the roster and the active set.
func (r *Reconciler) ApplyMemberRemoved(ev MemberEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.findMemberLocked(ev.MemberID, ev.Username)
	if i < 0 {
		return
	}
	delete(r.active, r.members[i].ID)
	delete(r.cursors, r.members[i].ID)
	r.members = append(r.members[:i], r.members[i+1:]...)
}

// SeedMembers loads the persisted roster, typically fetched over REST before
// connecting. Members are approved when owners, explicitly flagged, or when
// their joinedAt is at least a second old; anything younger is treated as a
// provisional record still awaiting approval.
func (r *Reconciler) SeedMembers(members []TeamMember) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, m := range members {
		if m.Color == "" {
			m.Color = ColorFor(m.Username)
		}
		if !m.IsApproved {
			m.IsApproved = m.Role == "owner" || now.Sub(m.JoinedAt) >= time.Second
		}
		if i := r.findMemberLocked(m.ID, m.Username); i >= 0 {
			existing := r.members[i]
			m.Status = existing.Status
			m.CurrentAction = existing.CurrentAction
			if existing.LastSeen.After(m.LastSeen) {
				m.LastSeen = existing.LastSeen
			}
			r.members[i] = m
			continue
		}
		r.members = append(r.members, m)
	}
}

// Reset clears live state while keeping the roster, used when the connection
// drops. Membership survives a reconnect; cursors do not.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors = make(map[string]CursorState)
	r.active = make(map[string]struct{})
}

// LiveCursors returns the non-stale cursors, ordered by user id.
func (r *Reconciler) LiveCursors() []CursorState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	out := make([]CursorState, 0, len(r.cursors))
	for _, c := range r.cursors {
		if now.Sub(c.LastSeen) < r.staleAfter {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Cursor returns one user's cursor if present and fresh.
func (r *Reconciler) Cursor(userID string) (CursorState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.cursors[userID]
	if !ok || r.now().Sub(c.LastSeen) >= r.staleAfter {
		return CursorState{}, false
	}
	return c, true
}

// TeamMembers returns the roster with presence folded in: members in the
// active set read as online unless an away status was reported, everyone
// else reads as offline.
func (r *Reconciler) TeamMembers() []TeamMember {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TeamMember, len(r.members))
	copy(out, r.members)
	for i := range out {
		if _, ok := r.active[out[i].ID]; ok {
			if out[i].Status != StatusAway {
				out[i].Status = StatusOnline
			}
		} else {
			out[i].Status = StatusOffline
		}
	}
	return out
}

// ActiveCount returns the number of users currently marked active.
func (r *Reconciler) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// touchMemberLocked updates live fields on the member matching the user, if
// one exists. Callers hold r.mu.
func (r *Reconciler) touchMemberLocked(userID, username, action string, seen time.Time) {
	if i := r.findMemberLocked(userID, username); i >= 0 {
		r.members[i].CurrentAction = action
		if seen.After(r.members[i].LastSeen) {
			r.members[i].LastSeen = seen
		}
	}
}

// findMemberLocked matches by id first, then by username. Callers hold r.mu.
func (r *Reconciler) findMemberLocked(id, username string) int {
	if id != "" {
		for i := range r.members {
			if r.members[i].ID == id {
				return i
			}
		}
	}
	if username != "" {
		for i := range r.members {
			if r.members[i].Username == username {
				return i
			}
		}
	}
	return -1
}

func (r *Reconciler) eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return r.now()
	}
	return t
}

// decodeMemberEvent accepts both the flat payload the hub originates and the
// {"member": {...}} wrapper relayed from peers.
func decodeMemberEvent(data json.RawMessage) (MemberEvent, bool) {
	var wrapped struct {
		Member *MemberEvent `json:"member"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Member != nil {
		return *wrapped.Member, true
	}
	var ev MemberEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return MemberEvent{}, false
	}
	return ev, ev.MemberID != "" || ev.Username != ""
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
