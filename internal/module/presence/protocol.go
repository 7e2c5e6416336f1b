package presence

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// MessageType identifies one envelope variant on the collaboration wire.
// The set is closed: decoding rejects anything else, and unknown types are
// dropped by the caller rather than treated as fatal.
type MessageType string

const (
	// Client → hub.
	MessageUserJoin  MessageType = "user_join"
	MessageUserLeave MessageType = "user_leave"

	// Hub → clients.
	MessageUserJoined            MessageType = "user_joined"
	MessageUserLeft              MessageType = "user_left"
	MessageError                 MessageType = "error"
	MessagePong                  MessageType = "pong"
	MessageConnectionEstablished MessageType = "connection_established"
	MessageCurrentUsers          MessageType = "current_users"

	// Bidirectional.
	MessageCursorUpdate   MessageType = "cursor_update"
	MessageSchemaChange   MessageType = "schema_change"
	MessageUserSelection  MessageType = "user_selection"
	MessagePresenceUpdate MessageType = "presence_update"
	MessageMemberAdded    MessageType = "member_added"
	MessageMemberApproved MessageType = "member_approved"
	MessageMemberRemoved  MessageType = "member_removed"
	MessagePing           MessageType = "ping"
)

// UnknownTypeError reports an envelope whose type is outside the closed set.
// Callers log and drop these instead of answering with an error envelope.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// ValidationError reports an envelope that parsed but is missing required
// fields or carries values of the wrong shape.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Position is a cursor position in viewport coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UnmarshalJSON requires both coordinates to be present and numeric.
func (p *Position) UnmarshalJSON(data []byte) error {
	var aux struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.X == nil || aux.Y == nil {
		return invalid("position requires numeric x and y")
	}
	p.X, p.Y = *aux.X, *aux.Y
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Selection identifies the table (and optionally column) a user is editing.
type Selection struct {
	TableID  string `json:"tableId"`
	ColumnID string `json:"columnId,omitempty"`
}

// CursorPayload is the cursor state one client reports for itself.
type CursorPayload struct {
	UserID    string     `json:"userId"`
	Username  string     `json:"username,omitempty"`
	Position  *Position  `json:"position"`
	Color     string     `json:"color,omitempty"`
	Role      string     `json:"role,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
}

// Validate checks the payload's required fields.
func (p *CursorPayload) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return invalid("cursor requires a non-empty userId")
	}
	if p.Position == nil {
		return invalid("cursor requires a position")
	}
	if !finite(p.Position.X) || !finite(p.Position.Y) {
		return invalid("cursor position must be finite")
	}
	return nil
}

// CursorData is the hub-stamped cursor record broadcast to peers.
type CursorData struct {
	CursorPayload
	Timestamp time.Time `json:"timestamp"`
}

// UserInfo describes one identified user in a workspace.
type UserInfo struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt,omitzero"`
}

// RelayData is an opaque payload relayed verbatim; only the sender's userId
// is pulled out for broadcast exclusion.
type RelayData struct {
	UserID string
	raw    json.RawMessage
}

// UnmarshalJSON keeps the raw bytes and extracts userId when present.
func (d *RelayData) UnmarshalJSON(data []byte) error {
	var aux struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d.UserID = aux.UserID
	d.raw = append(d.raw[:0], data...)
	return nil
}

// MarshalJSON emits the payload exactly as received.
func (d RelayData) MarshalJSON() ([]byte, error) {
	if len(d.raw) == 0 {
		return []byte("null"), nil
	}
	return d.raw, nil
}

// Raw returns the verbatim payload bytes.
func (d RelayData) Raw() json.RawMessage {
	return d.raw
}

// Inbound is one decoded client → hub envelope.
type Inbound interface {
	Kind() MessageType
	Validate() error
}

// UserJoin announces a connection's identity.
type UserJoin struct {
	Type     MessageType `json:"type"`
	UserID   string      `json:"userId"`
	Username string      `json:"username"`
	Role     string      `json:"role,omitempty"`
	Color    string      `json:"color,omitempty"`
}

// NewUserJoin builds a user_join envelope.
func NewUserJoin(userID, username, role, color string) *UserJoin {
	return &UserJoin{Type: MessageUserJoin, UserID: userID, Username: username, Role: role, Color: color}
}

func (m *UserJoin) Kind() MessageType { return MessageUserJoin }

func (m *UserJoin) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return invalid("user_join requires userId")
	}
	if strings.TrimSpace(m.Username) == "" {
		return invalid("user_join requires username")
	}
	return nil
}

// UserLeave is an explicit departure.
type UserLeave struct {
	Type     MessageType `json:"type"`
	UserID   string      `json:"userId"`
	Username string      `json:"username,omitempty"`
}

// NewUserLeave builds a user_leave envelope.
func NewUserLeave(userID, username string) *UserLeave {
	return &UserLeave{Type: MessageUserLeave, UserID: userID, Username: username}
}

func (m *UserLeave) Kind() MessageType { return MessageUserLeave }

func (m *UserLeave) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return invalid("user_leave requires userId")
	}
	return nil
}

// CursorUpdate carries one client's cursor state.
type CursorUpdate struct {
	Type   MessageType    `json:"type"`
	Cursor *CursorPayload `json:"cursor"`
}

// NewCursorUpdate builds a cursor_update envelope.
func NewCursorUpdate(cursor CursorPayload) *CursorUpdate {
	return &CursorUpdate{Type: MessageCursorUpdate, Cursor: &cursor}
}

func (m *CursorUpdate) Kind() MessageType { return MessageCursorUpdate }

func (m *CursorUpdate) Validate() error {
	if m.Cursor == nil {
		return invalid("cursor_update requires a cursor payload")
	}
	return m.Cursor.Validate()
}

// SchemaChange is an opaque schema mutation relayed to peers.
type SchemaChange struct {
	Type       MessageType     `json:"type"`
	ChangeType string          `json:"changeType"`
	Data       json.RawMessage `json:"data"`
	UserID     string          `json:"userId,omitempty"`
	Username   string          `json:"username,omitempty"`
	Timestamp  time.Time       `json:"timestamp,omitzero"`
}

// NewSchemaChange builds a schema_change envelope.
func NewSchemaChange(changeType string, data json.RawMessage, userID, username string) *SchemaChange {
	return &SchemaChange{
		Type:       MessageSchemaChange,
		ChangeType: changeType,
		Data:       data,
		UserID:     userID,
		Username:   username,
	}
}

func (m *SchemaChange) Kind() MessageType { return MessageSchemaChange }

func (m *SchemaChange) Validate() error {
	if m.ChangeType == "" || len(m.Data) == 0 {
		return invalid("invalid schema_change format, expected changeType and data")
	}
	return nil
}

// UserSelection relays a selection payload, sender excluded.
type UserSelection struct {
	Type MessageType `json:"type"`
	Data RelayData   `json:"data"`
}

func (m *UserSelection) Kind() MessageType { return MessageUserSelection }

func (m *UserSelection) Validate() error {
	if len(m.Data.raw) == 0 {
		return invalid("user_selection requires data")
	}
	return nil
}

// PresenceUpdate relays a presence payload, sender excluded.
type PresenceUpdate struct {
	Type MessageType `json:"type"`
	Data RelayData   `json:"data"`
}

func (m *PresenceUpdate) Kind() MessageType { return MessagePresenceUpdate }

func (m *PresenceUpdate) Validate() error {
	if len(m.Data.raw) == 0 {
		return invalid("presence_update requires data")
	}
	return nil
}

// MemberAdded relays a membership payload to every connection, sender included.
type MemberAdded struct {
	Type MessageType `json:"type"`
	Data RelayData   `json:"data"`
}

func (m *MemberAdded) Kind() MessageType { return MessageMemberAdded }

func (m *MemberAdded) Validate() error {
	if len(m.Data.raw) == 0 {
		return invalid("member_added requires data")
	}
	return nil
}

// Ping is a liveness probe answered immediately with pong.
type Ping struct {
	Type MessageType `json:"type"`
}

func (m *Ping) Kind() MessageType { return MessagePing }

func (m *Ping) Validate() error { return nil }

// Decode parses one client → hub frame into its typed variant and validates
// the variant's required fields. An unrecognised type yields *UnknownTypeError;
// anything else wrong yields *ValidationError or the JSON error.
func Decode(data []byte) (Inbound, error) {
	var probe struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	var msg Inbound
	switch probe.Type {
	case MessageUserJoin:
		msg = &UserJoin{}
	case MessageUserLeave:
		msg = &UserLeave{}
	case MessageCursorUpdate:
		msg = &CursorUpdate{}
	case MessageSchemaChange:
		msg = &SchemaChange{}
	case MessageUserSelection:
		msg = &UserSelection{}
	case MessagePresenceUpdate:
		msg = &PresenceUpdate{}
	case MessageMemberAdded:
		msg = &MemberAdded{}
	case MessagePing:
		msg = &Ping{}
	default:
		return nil, &UnknownTypeError{Type: string(probe.Type)}
	}

	if err := json.Unmarshal(data, msg); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return nil, ve
		}
		return nil, fmt.Errorf("malformed %s envelope: %w", probe.Type, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// --- Hub → client envelopes -------------------------------------------------

// ConnectionEstablished is sent once on a successful upgrade.
type ConnectionEstablished struct {
	Type        MessageType `json:"type"`
	ClientID    string      `json:"clientId"`
	WorkspaceID string      `json:"workspaceId"`
	Timestamp   time.Time   `json:"timestamp"`
}

// CurrentUsers lists the identified peers already in the workspace.
type CurrentUsers struct {
	Type  MessageType `json:"type"`
	Users []UserInfo  `json:"users"`
}

// UserJoined is the peer announcement echoed for a user_join.
type UserJoined struct {
	Type MessageType `json:"type"`
	User UserInfo    `json:"user"`
}

// UserLeft is a peer departure, explicit or by eviction.
type UserLeft struct {
	Type   MessageType `json:"type"`
	UserID string      `json:"userId"`
}

// NewUserLeft builds a user_left envelope.
func NewUserLeft(userID string) *UserLeft {
	return &UserLeft{Type: MessageUserLeft, UserID: userID}
}

// CursorBroadcast is the relayed cursor_update, stamped by the hub.
type CursorBroadcast struct {
	Type MessageType `json:"type"`
	Data CursorData  `json:"data"`
}

// Relayed is a verbatim payload relay (user_selection, presence_update,
// member_added and the membership notifications originated by the hub).
type Relayed struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ErrorMessage reports malformed input or an unsupported operation.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// NewErrorMessage builds an error envelope.
func NewErrorMessage(message string) *ErrorMessage {
	return &ErrorMessage{Type: MessageError, Message: message}
}

// Pong answers a protocol-level ping.
type Pong struct {
	Type MessageType `json:"type"`
}

// DecodeServer parses one hub → client frame. It returns the envelope type
// and the typed payload. Unknown types yield *UnknownTypeError so the client
// can log and drop them.
func DecodeServer(data []byte) (MessageType, any, error) {
	var probe struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", nil, fmt.Errorf("malformed envelope: %w", err)
	}

	var msg any
	switch probe.Type {
	case MessageConnectionEstablished:
		msg = &ConnectionEstablished{}
	case MessageCurrentUsers:
		msg = &CurrentUsers{}
	case MessageUserJoined:
		msg = &UserJoined{}
	case MessageUserLeft:
		msg = &UserLeft{}
	case MessageCursorUpdate:
		msg = &CursorBroadcast{}
	case MessageSchemaChange:
		msg = &SchemaChange{}
	case MessageUserSelection, MessagePresenceUpdate, MessageMemberAdded,
		MessageMemberApproved, MessageMemberRemoved:
		msg = &Relayed{}
	case MessageError:
		msg = &ErrorMessage{}
	case MessagePong:
		msg = &Pong{}
	default:
		return "", nil, &UnknownTypeError{Type: string(probe.Type)}
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return "", nil, fmt.Errorf("malformed %s envelope: %w", probe.Type, err)
	}
	return probe.Type, msg, nil
}
