package collaboration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines the interface for collaboration data access.
type Repository interface {
	// Workspace operations
	CreateWorkspace(ctx context.Context, workspace *Workspace) error
	GetWorkspaceByID(ctx context.Context, id string) (*Workspace, error)
	ListWorkspacesByMember(ctx context.Context, username string, limit, offset int) ([]*Workspace, error)
	UpdateWorkspace(ctx context.Context, workspace *Workspace) error
	DeleteWorkspace(ctx context.Context, id string) error

	// Member operations
	AddMember(ctx context.Context, member *Member) error
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	GetMemberByUsername(ctx context.Context, workspaceID, username string) (*Member, error)
	ListMembers(ctx context.Context, workspaceID string) ([]*Member, error)
	UpdateMemberRole(ctx context.Context, id uuid.UUID, role Role) error
	ApproveMember(ctx context.Context, id uuid.UUID, approvedAt time.Time) error
	RemoveMember(ctx context.Context, id uuid.UUID) error
	CountMembers(ctx context.Context, workspaceID string) (int, error)

	// Invitation operations
	CreateInvitation(ctx context.Context, invitation *Invitation) error
	GetInvitationByID(ctx context.Context, id uuid.UUID) (*Invitation, error)
	GetInvitationByToken(ctx context.Context, token string) (*Invitation, error)
	GetPendingInvitation(ctx context.Context, workspaceID, inviteeUsername string) (*Invitation, error)
	ListInvitationsByWorkspace(ctx context.Context, workspaceID string, status *InvitationStatus, limit, offset int) ([]*Invitation, error)
	UpdateInvitationStatus(ctx context.Context, id uuid.UUID, status InvitationStatus) error
	CancelPendingInvitations(ctx context.Context, workspaceID string) error

	// Transaction support
	WithTx(tx *gorm.DB) Repository
	BeginTx(ctx context.Context) (*gorm.DB, error)
}

// repository implements Repository using GORM.
type repository struct {
	db *gorm.DB
}

// NewRepository creates a new collaboration repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// WithTx returns a new repository with the given transaction.
func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx}
}

// BeginTx starts a new transaction.
func (r *repository) BeginTx(ctx context.Context) (*gorm.DB, error) {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return tx, nil
}

// CreateWorkspace creates a new workspace.
func (r *repository) CreateWorkspace(ctx context.Context, workspace *Workspace) error {
	return r.db.WithContext(ctx).Create(workspace).Error
}

// GetWorkspaceByID retrieves an active workspace by ID.
func (r *repository) GetWorkspaceByID(ctx context.Context, id string) (*Workspace, error) {
	var workspace Workspace
	err := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, WorkspaceStatusActive).
		First(&workspace).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkspaceNotFound
		}
		return nil, err
	}
	return &workspace, nil
}

// ListWorkspacesByMember lists active workspaces a user belongs to.
func (r *repository) ListWorkspacesByMember(ctx context.Context, username string, limit, offset int) ([]*Workspace, error) {
	if limit <= 0 {
		limit = 20
	}

	var workspaces []*Workspace
	err := r.db.WithContext(ctx).
		Joins("JOIN workspace_members ON workspace_members.workspace_id = workspaces.id").
		Where("workspace_members.username = ? AND workspaces.status = ?", username, WorkspaceStatusActive).
		Order("workspaces.created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&workspaces).Error
	if err != nil {
		return nil, err
	}
	return workspaces, nil
}

// UpdateWorkspace updates a workspace.
func (r *repository) UpdateWorkspace(ctx context.Context, workspace *Workspace) error {
	return r.db.WithContext(ctx).Save(workspace).Error
}

// DeleteWorkspace soft-deletes a workspace.
func (r *repository) DeleteWorkspace(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&Workspace{}).
		Where("id = ?", id).
		Update("status", WorkspaceStatusDeleted).Error
}

// AddMember adds a member to a workspace.
func (r *repository) AddMember(ctx context.Context, member *Member) error {
	return r.db.WithContext(ctx).Create(member).Error
}

// GetMember retrieves a member by ID.
func (r *repository) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	var member Member
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

// GetMemberByUsername retrieves a workspace member by username.
func (r *repository) GetMemberByUsername(ctx context.Context, workspaceID, username string) (*Member, error) {
	var member Member
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND username = ?", workspaceID, username).
		First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

// ListMembers lists members of a workspace whose membership has not lapsed.
func (r *repository) ListMembers(ctx context.Context, workspaceID string) ([]*Member, error) {
	var members []*Member
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND (expires_at IS NULL OR expires_at > NOW())", workspaceID).
		Order("joined_at ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

// UpdateMemberRole updates a member's role.
func (r *repository) UpdateMemberRole(ctx context.Context, id uuid.UUID, role Role) error {
	result := r.db.WithContext(ctx).
		Model(&Member{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"role": role, "updated_at": gorm.Expr("NOW()")})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// ApproveMember marks a member as approved.
func (r *repository) ApproveMember(ctx context.Context, id uuid.UUID, approvedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&Member{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_approved": true, "approved_at": approvedAt})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// RemoveMember removes a member from a workspace.
func (r *repository) RemoveMember(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&Member{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// CountMembers counts the members in a workspace.
func (r *repository) CountMembers(ctx context.Context, workspaceID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Member{}).
		Where("workspace_id = ?", workspaceID).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// CreateInvitation creates a new invitation.
func (r *repository) CreateInvitation(ctx context.Context, invitation *Invitation) error {
	return r.db.WithContext(ctx).Create(invitation).Error
}

// GetInvitationByID retrieves an invitation by ID.
func (r *repository) GetInvitationByID(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	var invitation Invitation
	err := r.db.WithContext(ctx).
		Preload("Workspace").
		Where("id = ?", id).
		First(&invitation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}
	return &invitation, nil
}

// GetInvitationByToken retrieves an invitation by token.
func (r *repository) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	var invitation Invitation
	err := r.db.WithContext(ctx).
		Preload("Workspace").
		Where("token = ?", token).
		First(&invitation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvitationNotFound
		}
		return nil, err
	}
	return &invitation, nil
}

// GetPendingInvitation retrieves a pending invitation for a workspace and invitee.
func (r *repository) GetPendingInvitation(ctx context.Context, workspaceID, inviteeUsername string) (*Invitation, error) {
	var invitation Invitation
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND invitee_username = ? AND status = ?", workspaceID, inviteeUsername, InvitationStatusPending).
		First(&invitation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // Not found is not an error here
		}
		return nil, err
	}
	return &invitation, nil
}

// ListInvitationsByWorkspace lists invitations for a workspace.
func (r *repository) ListInvitationsByWorkspace(ctx context.Context, workspaceID string, status *InvitationStatus, limit, offset int) ([]*Invitation, error) {
	if limit <= 0 {
		limit = 20
	}

	query := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID)

	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var invitations []*Invitation
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&invitations).Error
	if err != nil {
		return nil, err
	}
	return invitations, nil
}

// UpdateInvitationStatus updates an invitation's status.
func (r *repository) UpdateInvitationStatus(ctx context.Context, id uuid.UUID, status InvitationStatus) error {
	updates := map[string]interface{}{"status": status}
	if status == InvitationStatusAccepted {
		updates["accepted_at"] = gorm.Expr("NOW()")
	}

	result := r.db.WithContext(ctx).
		Model(&Invitation{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInvitationNotFound
	}
	return nil
}

// CancelPendingInvitations revokes all pending invitations for a workspace.
func (r *repository) CancelPendingInvitations(ctx context.Context, workspaceID string) error {
	return r.db.WithContext(ctx).
		Model(&Invitation{}).
		Where("workspace_id = ? AND status = ?", workspaceID, InvitationStatusPending).
		Update("status", InvitationStatusRevoked).Error
}
