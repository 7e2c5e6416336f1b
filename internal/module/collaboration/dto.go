package collaboration

import (
	"time"

	"github.com/google/uuid"
)

// CreateWorkspaceRequest represents a request to create a workspace.
type CreateWorkspaceRequest struct {
	ID          string `json:"id" binding:"omitempty,max=64"`
	Name        string `json:"name" binding:"required,min=1,max=100"`
	Description string `json:"description" binding:"max=500"`
}

// WorkspaceResponse represents a workspace in API responses.
type WorkspaceResponse struct {
	ID          string    `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ToResponse converts a Workspace to WorkspaceResponse.
func (w *Workspace) ToResponse(memberCount int) *WorkspaceResponse {
	return &WorkspaceResponse{
		ID:          w.ID,
		OwnerID:     w.OwnerID,
		Name:        w.Name,
		Description: w.Description,
		MemberCount: memberCount,
		CreatedAt:   w.CreatedAt,
		UpdatedAt:   w.UpdatedAt,
	}
}

// AddMemberRequest represents a request to add a member directly.
type AddMemberRequest struct {
	Username  string     `json:"username" binding:"required,min=1,max=100"`
	Role      Role       `json:"role" binding:"omitempty,oneof=editor viewer"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// UpdateMemberRoleRequest represents a request to update a member's role.
type UpdateMemberRoleRequest struct {
	Role Role `json:"role" binding:"required,oneof=editor viewer"`
}

// MemberResponse represents a workspace member in API responses.
type MemberResponse struct {
	ID         uuid.UUID  `json:"id"`
	Username   string     `json:"username"`
	Role       Role       `json:"role"`
	IsApproved bool       `json:"is_approved"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	JoinedAt   time.Time  `json:"joined_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	InvitedBy  string     `json:"invited_by,omitempty"`
}

// ToResponse converts a Member to MemberResponse.
func (m *Member) ToResponse() *MemberResponse {
	return &MemberResponse{
		ID:         m.ID,
		Username:   m.Username,
		Role:       m.Role,
		IsApproved: m.IsApproved,
		ApprovedAt: m.ApprovedAt,
		JoinedAt:   m.JoinedAt,
		ExpiresAt:  m.ExpiresAt,
		InvitedBy:  m.InvitedBy,
	}
}

// InviteRequest represents a request to invite a user.
type InviteRequest struct {
	Username string `json:"username" binding:"required,min=1,max=100"`
	Role     Role   `json:"role" binding:"required,oneof=editor viewer"`
}

// InvitationResponse represents an invitation in API responses.
type InvitationResponse struct {
	ID              uuid.UUID        `json:"id"`
	WorkspaceID     string           `json:"workspace_id"`
	WorkspaceName   string           `json:"workspace_name,omitempty"`
	InviterUsername string           `json:"inviter_username"`
	InviteeUsername string           `json:"invitee_username"`
	Role            Role             `json:"role"`
	Status          InvitationStatus `json:"status"`
	ExpiresAt       time.Time        `json:"expires_at"`
	CreatedAt       time.Time        `json:"created_at"`
	AcceptedAt      *time.Time       `json:"accepted_at,omitempty"`

	// Token is included only when creating the invitation
	Token     string `json:"token,omitempty"`
	AcceptURL string `json:"accept_url,omitempty"`
}

// ToResponse converts an Invitation to InvitationResponse.
func (i *Invitation) ToResponse(includeToken bool, baseURL string) *InvitationResponse {
	resp := &InvitationResponse{
		ID:              i.ID,
		WorkspaceID:     i.WorkspaceID,
		InviterUsername: i.InviterUsername,
		InviteeUsername: i.InviteeUsername,
		Role:            i.Role,
		Status:          i.Status,
		ExpiresAt:       i.ExpiresAt,
		CreatedAt:       i.CreatedAt,
		AcceptedAt:      i.AcceptedAt,
	}

	if i.Workspace != nil {
		resp.WorkspaceName = i.Workspace.Name
	}

	if includeToken {
		resp.Token = i.Token
		if baseURL != "" {
			resp.AcceptURL = baseURL + "/invitations/" + i.Token + "/accept"
		}
	}

	return resp
}

// ListWorkspacesQuery represents query parameters for listing workspaces.
type ListWorkspacesQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

// ListInvitationsQuery represents query parameters for listing invitations.
type ListInvitationsQuery struct {
	Status InvitationStatus `form:"status" binding:"omitempty,oneof=pending accepted rejected revoked expired"`
	Limit  int              `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int              `form:"offset" binding:"omitempty,min=0"`
}
