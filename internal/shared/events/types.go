package events

import (
	"time"

	"github.com/google/uuid"
)

// Collaboration event type constants.
const (
	MemberAddedType    = "MemberAdded"
	MemberApprovedType = "MemberApproved"
	MemberRemovedType  = "MemberRemoved"
	InvitationSentType = "InvitationSent"
)

// MemberAddedEvent is emitted when a member joins a workspace's persisted
// membership, either directly or by accepting an invitation.
type MemberAddedEvent struct {
	BaseEvent

	// WorkspaceID is the workspace the member was added to.
	WorkspaceID string `json:"workspace_id"`

	// MemberID is the unique identifier of the member.
	MemberID uuid.UUID `json:"member_id"`

	// Username is the member's display name.
	Username string `json:"username"`

	// Role is the member's role (owner, editor, viewer).
	Role string `json:"role"`

	// JoinedAt is when the member joined.
	JoinedAt time.Time `json:"joined_at"`
}

// NewMemberAddedEvent creates a new MemberAddedEvent.
func NewMemberAddedEvent(workspaceID string, memberID uuid.UUID, username, role string, joinedAt time.Time) *MemberAddedEvent {
	return &MemberAddedEvent{
		BaseEvent:   NewBaseEvent(MemberAddedType, memberID, "Member"),
		WorkspaceID: workspaceID,
		MemberID:    memberID,
		Username:    username,
		Role:        role,
		JoinedAt:    joinedAt,
	}
}

// MemberApprovedEvent is emitted when a pending member is approved.
type MemberApprovedEvent struct {
	BaseEvent

	// WorkspaceID is the workspace the member belongs to.
	WorkspaceID string `json:"workspace_id"`

	// MemberID is the unique identifier of the member.
	MemberID uuid.UUID `json:"member_id"`

	// Username is the member's display name.
	Username string `json:"username"`

	// Role is the member's role.
	Role string `json:"role"`

	// ApprovedAt is when the approval happened.
	ApprovedAt time.Time `json:"approved_at"`
}

// NewMemberApprovedEvent creates a new MemberApprovedEvent.
func NewMemberApprovedEvent(workspaceID string, memberID uuid.UUID, username, role string, approvedAt time.Time) *MemberApprovedEvent {
	return &MemberApprovedEvent{
		BaseEvent:   NewBaseEvent(MemberApprovedType, memberID, "Member"),
		WorkspaceID: workspaceID,
		MemberID:    memberID,
		Username:    username,
		Role:        role,
		ApprovedAt:  approvedAt,
	}
}

// MemberRemovedEvent is emitted when a member is removed from a workspace.
type MemberRemovedEvent struct {
	BaseEvent

	// WorkspaceID is the workspace the member was removed from.
	WorkspaceID string `json:"workspace_id"`

	// MemberID is the unique identifier of the member.
	MemberID uuid.UUID `json:"member_id"`

	// Username is the member's display name.
	Username string `json:"username"`
}

// NewMemberRemovedEvent creates a new MemberRemovedEvent.
func NewMemberRemovedEvent(workspaceID string, memberID uuid.UUID, username string) *MemberRemovedEvent {
	return &MemberRemovedEvent{
		BaseEvent:   NewBaseEvent(MemberRemovedType, memberID, "Member"),
		WorkspaceID: workspaceID,
		MemberID:    memberID,
		Username:    username,
	}
}

// InvitationSentEvent is emitted when a workspace invitation is created.
type InvitationSentEvent struct {
	BaseEvent

	// WorkspaceID is the workspace the invitation is for.
	WorkspaceID string `json:"workspace_id"`

	// InvitationID is the unique identifier of the invitation.
	InvitationID uuid.UUID `json:"invitation_id"`

	// InviteeUsername is the invited user's name.
	InviteeUsername string `json:"invitee_username"`

	// Role is the role the invitee will receive.
	Role string `json:"role"`
}

// NewInvitationSentEvent creates a new InvitationSentEvent.
func NewInvitationSentEvent(workspaceID string, invitationID uuid.UUID, inviteeUsername, role string) *InvitationSentEvent {
	return &InvitationSentEvent{
		BaseEvent:       NewBaseEvent(InvitationSentType, invitationID, "Invitation"),
		WorkspaceID:     workspaceID,
		InvitationID:    invitationID,
		InviteeUsername: inviteeUsername,
		Role:            role,
	}
}
