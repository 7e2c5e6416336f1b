package collaboration

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/schemastudio/server/internal/shared/events"
)

// Service provides collaboration business logic. Mutations to the persisted
// membership publish domain events so the presence hub can fan the change out
// to connected editors.
type Service struct {
	repo   Repository
	bus    *events.Bus
	logger *zap.Logger
}

// NewService creates a new collaboration service.
func NewService(repo Repository, bus *events.Bus, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		bus:    bus,
		logger: logger,
	}
}

// ========== Workspace Operations ==========

// CreateWorkspace creates a new workspace with its owner as the first member.
func (s *Service) CreateWorkspace(ctx context.Context, ownerID uuid.UUID, ownerUsername string, req *CreateWorkspaceRequest) (*Workspace, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	existing, err := s.repo.GetWorkspaceByID(ctx, id)
	if err != nil && err != ErrWorkspaceNotFound {
		return nil, err
	}
	if existing != nil {
		return nil, ErrWorkspaceAlreadyExists
	}

	// Start transaction
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txRepo := s.repo.WithTx(tx)

	workspace := &Workspace{
		ID:          id,
		OwnerID:     ownerID,
		Name:        req.Name,
		Description: req.Description,
		Status:      WorkspaceStatusActive,
	}

	if err := txRepo.CreateWorkspace(ctx, workspace); err != nil {
		return nil, err
	}

	// The owner is a member from the start, approved by definition.
	now := time.Now()
	owner := &Member{
		ID:          uuid.New(),
		WorkspaceID: workspace.ID,
		Username:    ownerUsername,
		Role:        RoleOwner,
		IsApproved:  true,
		ApprovedAt:  &now,
		JoinedAt:    now,
	}

	if err := txRepo.AddMember(ctx, owner); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.bus.Publish(events.NewMemberAddedEvent(workspace.ID, owner.ID, owner.Username, string(owner.Role), owner.JoinedAt))

	s.logger.Info("workspace created",
		zap.String("workspace_id", workspace.ID),
		zap.String("owner_id", ownerID.String()),
		zap.String("name", workspace.Name),
	)

	return workspace, nil
}

// GetWorkspace retrieves a workspace by ID.
func (s *Service) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	return s.repo.GetWorkspaceByID(ctx, id)
}

// ListMyWorkspaces lists workspaces the user belongs to.
func (s *Service) ListMyWorkspaces(ctx context.Context, username string, limit, offset int) ([]*Workspace, error) {
	return s.repo.ListWorkspacesByMember(ctx, username, limit, offset)
}

// DeleteWorkspace soft-deletes a workspace and revokes its pending invitations.
func (s *Service) DeleteWorkspace(ctx context.Context, workspaceID, requesterUsername string) error {
	requester, err := s.requesterMember(ctx, workspaceID, requesterUsername)
	if err != nil {
		return err
	}

	if !requester.Role.HasPermission(PermDeleteWorkspace) {
		return ErrOnlyOwnerCanDelete
	}

	// Start transaction
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	txRepo := s.repo.WithTx(tx)

	if err := txRepo.CancelPendingInvitations(ctx, workspaceID); err != nil {
		return err
	}

	if err := txRepo.DeleteWorkspace(ctx, workspaceID); err != nil {
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	s.logger.Info("workspace deleted",
		zap.String("workspace_id", workspaceID),
		zap.String("deleted_by", requesterUsername),
	)

	return nil
}

// ========== Member Operations ==========

// ListMembers lists the workspace's members.
func (s *Service) ListMembers(ctx context.Context, workspaceID, requesterUsername string) ([]*Member, error) {
	if _, err := s.requesterMember(ctx, workspaceID, requesterUsername); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, workspaceID)
}

// AddMember adds a member directly. The record starts unapproved unless the
// owner adds it, mirroring the approval flow invitations go through.
func (s *Service) AddMember(ctx context.Context, workspaceID, requesterUsername string, req *AddMemberRequest) (*Member, error) {
	requester, err := s.requesterMember(ctx, workspaceID, requesterUsername)
	if err != nil {
		return nil, err
	}

	if !requester.Role.HasPermission(PermInvite) {
		return nil, ErrInsufficientPermission
	}

	role := req.Role
	if role == "" {
		role = RoleEditor
	}
	if !IsValidInviteRole(role) {
		return nil, ErrInvalidRole
	}

	username := strings.TrimSpace(req.Username)
	if existing, err := s.repo.GetMemberByUsername(ctx, workspaceID, username); err == nil && existing != nil {
		return nil, ErrAlreadyMember
	} else if err != nil && err != ErrMemberNotFound {
		return nil, err
	}

	member := &Member{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Username:    username,
		Role:        role,
		JoinedAt:    time.Now(),
		ExpiresAt:   req.ExpiresAt,
		InvitedBy:   requesterUsername,
	}

	if err := s.repo.AddMember(ctx, member); err != nil {
		return nil, err
	}

	s.bus.Publish(events.NewMemberAddedEvent(workspaceID, member.ID, member.Username, string(member.Role), member.JoinedAt))

	s.logger.Info("member added",
		zap.String("workspace_id", workspaceID),
		zap.String("member_id", member.ID.String()),
		zap.String("username", member.Username),
		zap.String("added_by", requesterUsername),
	)

	return member, nil
}

// ApproveMember marks a pending member as approved.
func (s *Service) ApproveMember(ctx context.Context, workspaceID string, memberID uuid.UUID, requesterUsername string) (*Member, error) {
	requester, err := s.requesterMember(ctx, workspaceID, requesterUsername)
	if err != nil {
		return nil, err
	}

	if !requester.Role.HasPermission(PermApproveMember) {
		return nil, ErrInsufficientPermission
	}

	member, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if member.WorkspaceID != workspaceID {
		return nil, ErrMemberNotFound
	}

	approvedAt := time.Now()
	if err := s.repo.ApproveMember(ctx, memberID, approvedAt); err != nil {
		return nil, err
	}
	member.IsApproved = true
	member.ApprovedAt = &approvedAt

	s.bus.Publish(events.NewMemberApprovedEvent(workspaceID, member.ID, member.Username, string(member.Role), approvedAt))

	s.logger.Info("member approved",
		zap.String("workspace_id", workspaceID),
		zap.String("member_id", memberID.String()),
		zap.String("approved_by", requesterUsername),
	)

	return member, nil
}

// UpdateMemberRole updates a member's role.
func (s *Service) UpdateMemberRole(ctx context.Context, workspaceID string, memberID uuid.UUID, requesterUsername string, newRole Role) error {
	requester, err := s.requesterMember(ctx, workspaceID, requesterUsername)
	if err != nil {
		return err
	}

	if !requester.Role.HasPermission(PermUpdateRole) {
		return ErrInsufficientPermission
	}

	target, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	if target.WorkspaceID != workspaceID {
		return ErrMemberNotFound
	}

	// Ownership never moves through role updates.
	if target.Role == RoleOwner {
		return ErrCannotChangeOwner
	}

	if !requester.Role.CanAssign(newRole) {
		return ErrInvalidRole
	}

	return s.repo.UpdateMemberRole(ctx, memberID, newRole)
}

// RemoveMember removes a member from a workspace. Members may remove
// themselves; removing anyone else requires the owner.
func (s *Service) RemoveMember(ctx context.Context, workspaceID string, memberID uuid.UUID, requesterUsername string) error {
	target, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	if target.WorkspaceID != workspaceID {
		return ErrMemberNotFound
	}

	if target.Role == RoleOwner {
		return ErrCannotRemoveOwner
	}

	if target.Username != requesterUsername {
		requester, err := s.requesterMember(ctx, workspaceID, requesterUsername)
		if err != nil {
			return err
		}
		if !requester.Role.HasPermission(PermRemoveMember) {
			return ErrInsufficientPermission
		}
	}

	if err := s.repo.RemoveMember(ctx, memberID); err != nil {
		return err
	}

	s.bus.Publish(events.NewMemberRemovedEvent(workspaceID, target.ID, target.Username))

	s.logger.Info("member removed",
		zap.String("workspace_id", workspaceID),
		zap.String("member_id", memberID.String()),
		zap.String("removed_by", requesterUsername),
	)

	return nil
}

// ========== Invitation Operations ==========

// SendInvitation creates an invitation to join a workspace.
func (s *Service) SendInvitation(ctx context.Context, workspaceID, inviterUsername string, req *InviteRequest) (*Invitation, error) {
	inviter, err := s.requesterMember(ctx, workspaceID, inviterUsername)
	if err != nil {
		return nil, err
	}

	if !inviter.Role.HasPermission(PermInvite) {
		return nil, ErrInsufficientPermission
	}

	if !IsValidInviteRole(req.Role) {
		return nil, ErrInvalidRole
	}

	workspace, err := s.repo.GetWorkspaceByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	invitee := strings.TrimSpace(req.Username)

	if existing, err := s.repo.GetMemberByUsername(ctx, workspaceID, invitee); err == nil && existing != nil {
		return nil, ErrAlreadyMember
	} else if err != nil && err != ErrMemberNotFound {
		return nil, err
	}

	pending, err := s.repo.GetPendingInvitation(ctx, workspaceID, invitee)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, ErrInvitationAlreadyPending
	}

	token, err := generateSecureToken(32)
	if err != nil {
		return nil, err
	}

	invitation := &Invitation{
		ID:              uuid.New(),
		WorkspaceID:     workspaceID,
		InviterUsername: inviterUsername,
		InviteeUsername: invitee,
		Role:            req.Role,
		Token:           token,
		Status:          InvitationStatusPending,
		ExpiresAt:       time.Now().Add(7 * 24 * time.Hour), // 7 days
	}

	if err := s.repo.CreateInvitation(ctx, invitation); err != nil {
		return nil, err
	}

	invitation.Workspace = workspace

	s.bus.Publish(events.NewInvitationSentEvent(workspaceID, invitation.ID, invitee, string(req.Role)))

	s.logger.Info("invitation sent",
		zap.String("invitation_id", invitation.ID.String()),
		zap.String("workspace_id", workspaceID),
		zap.String("invitee", invitee),
	)

	return invitation, nil
}

// ListInvitations lists invitations for a workspace.
func (s *Service) ListInvitations(ctx context.Context, workspaceID, requesterUsername string, status *InvitationStatus, limit, offset int) ([]*Invitation, error) {
	requester, err := s.requesterMember(ctx, workspaceID, requesterUsername)
	if err != nil {
		return nil, err
	}

	if !requester.Role.HasPermission(PermInvite) {
		return nil, ErrInsufficientPermission
	}

	return s.repo.ListInvitationsByWorkspace(ctx, workspaceID, status, limit, offset)
}

// AcceptInvitation accepts an invitation, adding the invitee as an approved
// member in one transaction.
func (s *Service) AcceptInvitation(ctx context.Context, token, username string) (*Member, error) {
	invitation, err := s.repo.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(invitation.InviteeUsername, username) {
		return nil, ErrInvitationNotForYou
	}

	if !invitation.IsPending() {
		return nil, ErrInvitationAlreadyProcessed
	}

	if invitation.IsExpired() {
		_ = s.repo.UpdateInvitationStatus(ctx, invitation.ID, InvitationStatusExpired)
		return nil, ErrInvitationExpired
	}

	// Start transaction
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txRepo := s.repo.WithTx(tx)

	now := time.Now()
	member := &Member{
		ID:          uuid.New(),
		WorkspaceID: invitation.WorkspaceID,
		Username:    invitation.InviteeUsername,
		Role:        invitation.Role,
		IsApproved:  true,
		ApprovedAt:  &now,
		JoinedAt:    now,
		InvitedBy:   invitation.InviterUsername,
	}

	if err := txRepo.AddMember(ctx, member); err != nil {
		return nil, err
	}

	if err := txRepo.UpdateInvitationStatus(ctx, invitation.ID, InvitationStatusAccepted); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	s.bus.Publish(events.NewMemberAddedEvent(member.WorkspaceID, member.ID, member.Username, string(member.Role), member.JoinedAt))
	s.bus.Publish(events.NewMemberApprovedEvent(member.WorkspaceID, member.ID, member.Username, string(member.Role), now))

	s.logger.Info("invitation accepted",
		zap.String("invitation_id", invitation.ID.String()),
		zap.String("workspace_id", member.WorkspaceID),
		zap.String("username", member.Username),
	)

	return member, nil
}

// RejectInvitation rejects an invitation.
func (s *Service) RejectInvitation(ctx context.Context, token, username string) error {
	invitation, err := s.repo.GetInvitationByToken(ctx, token)
	if err != nil {
		return err
	}

	if !strings.EqualFold(invitation.InviteeUsername, username) {
		return ErrInvitationNotForYou
	}

	if !invitation.IsPending() {
		return ErrInvitationAlreadyProcessed
	}

	return s.repo.UpdateInvitationStatus(ctx, invitation.ID, InvitationStatusRejected)
}

// RevokeInvitation revokes a pending invitation.
func (s *Service) RevokeInvitation(ctx context.Context, invitationID uuid.UUID, requesterUsername string) error {
	invitation, err := s.repo.GetInvitationByID(ctx, invitationID)
	if err != nil {
		return err
	}

	requester, err := s.requesterMember(ctx, invitation.WorkspaceID, requesterUsername)
	if err != nil {
		return err
	}

	if !requester.Role.HasPermission(PermInvite) {
		return ErrInsufficientPermission
	}

	if !invitation.IsPending() {
		return ErrCannotRevokeProcessed
	}

	return s.repo.UpdateInvitationStatus(ctx, invitationID, InvitationStatusRevoked)
}

// ========== Helper Functions ==========

// requesterMember resolves the requester's membership, translating a missing
// record into a permission error.
func (s *Service) requesterMember(ctx context.Context, workspaceID, username string) (*Member, error) {
	member, err := s.repo.GetMemberByUsername(ctx, workspaceID, username)
	if err != nil {
		if err == ErrMemberNotFound {
			return nil, ErrInsufficientPermission
		}
		return nil, err
	}
	if member.IsExpired() {
		return nil, ErrInsufficientPermission
	}
	return member, nil
}

// generateSecureToken generates a cryptographically secure random token.
func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes)[:length+10], nil
}
