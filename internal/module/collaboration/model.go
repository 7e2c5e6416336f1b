package collaboration

import (
	"time"

	"github.com/google/uuid"
)

// WorkspaceStatus represents the status of a workspace.
type WorkspaceStatus string

const (
	WorkspaceStatusActive  WorkspaceStatus = "active"
	WorkspaceStatusDeleted WorkspaceStatus = "deleted"
)

// Role represents a workspace member's role.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// InvitationStatus represents the status of an invitation.
type InvitationStatus string

const (
	InvitationStatusPending  InvitationStatus = "pending"
	InvitationStatusAccepted InvitationStatus = "accepted"
	InvitationStatusRejected InvitationStatus = "rejected"
	InvitationStatusRevoked  InvitationStatus = "revoked"
	InvitationStatusExpired  InvitationStatus = "expired"
)

// Workspace represents a schema-editing workspace. The ID is the opaque
// identifier clients use in collaboration URLs.
type Workspace struct {
	ID          string          `json:"id" gorm:"primaryKey"`
	OwnerID     uuid.UUID       `json:"owner_id" gorm:"type:uuid;not null"`
	Name        string          `json:"name" gorm:"not null"`
	Description string          `json:"description,omitempty"`
	Status      WorkspaceStatus `json:"status" gorm:"not null;default:active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// Relations (not loaded by default)
	Members []Member `json:"members,omitempty" gorm:"foreignKey:WorkspaceID"`
}

// TableName returns the database table name.
func (Workspace) TableName() string {
	return "workspaces"
}

// IsActive returns true if the workspace is active.
func (w *Workspace) IsActive() bool {
	return w.Status == WorkspaceStatusActive
}

// Member represents a workspace member.
type Member struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	WorkspaceID string     `json:"workspace_id" gorm:"not null;index"`
	Username    string     `json:"username" gorm:"not null"`
	Role        Role       `json:"role" gorm:"not null;default:editor"`
	IsApproved  bool       `json:"is_approved" gorm:"not null;default:false"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	JoinedAt    time.Time  `json:"joined_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	InvitedBy   string     `json:"invited_by,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name.
func (Member) TableName() string {
	return "workspace_members"
}

// IsExpired returns true if the membership has lapsed.
func (m *Member) IsExpired() bool {
	return m.ExpiresAt != nil && time.Now().After(*m.ExpiresAt)
}

// Invitation represents a workspace invitation.
type Invitation struct {
	ID              uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	WorkspaceID     string           `json:"workspace_id" gorm:"not null;index"`
	InviterUsername string           `json:"inviter_username" gorm:"not null"`
	InviteeUsername string           `json:"invitee_username" gorm:"not null"`
	Role            Role             `json:"role" gorm:"not null;default:editor"`
	Token           string           `json:"-" gorm:"not null"`
	Status          InvitationStatus `json:"status" gorm:"not null;default:pending"`
	ExpiresAt       time.Time        `json:"expires_at" gorm:"not null"`
	CreatedAt       time.Time        `json:"created_at"`
	AcceptedAt      *time.Time       `json:"accepted_at,omitempty"`

	// Relations (for response)
	Workspace *Workspace `json:"workspace,omitempty" gorm:"foreignKey:WorkspaceID"`
}

// TableName returns the database table name.
func (Invitation) TableName() string {
	return "workspace_invitations"
}

// IsExpired returns true if the invitation has expired.
func (i *Invitation) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// IsPending returns true if the invitation is still pending.
func (i *Invitation) IsPending() bool {
	return i.Status == InvitationStatusPending
}
