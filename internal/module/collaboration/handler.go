package collaboration

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/schemastudio/server/internal/shared/response"
)

// Identity headers. Authentication happens upstream; the gateway forwards the
// authenticated identity the same way the websocket hub trusts user_join.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUsername = "X-Username"
)

// Handler handles HTTP requests for collaboration.
type Handler struct {
	service *Service
	baseURL string
}

// NewHandler creates a new collaboration handler.
func NewHandler(service *Service, baseURL string) *Handler {
	return &Handler{
		service: service,
		baseURL: baseURL,
	}
}

// RegisterRoutes registers collaboration routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	workspaces := r.Group("/workspaces")
	{
		workspaces.POST("", h.CreateWorkspace)
		workspaces.GET("", h.ListMyWorkspaces)
		workspaces.GET("/:workspaceId", h.GetWorkspace)
		workspaces.DELETE("/:workspaceId", h.DeleteWorkspace)

		// Members
		workspaces.GET("/:workspaceId/members", h.ListMembers)
		workspaces.POST("/:workspaceId/members", h.AddMember)
		workspaces.POST("/:workspaceId/members/:memberId/approve", h.ApproveMember)
		workspaces.PATCH("/:workspaceId/members/:memberId", h.UpdateMemberRole)
		workspaces.DELETE("/:workspaceId/members/:memberId", h.RemoveMember)

		// Workspace invitations
		workspaces.POST("/:workspaceId/invitations", h.SendInvitation)
		workspaces.GET("/:workspaceId/invitations", h.ListInvitations)
	}

	invitations := r.Group("/invitations")
	{
		invitations.POST("/:token/accept", h.AcceptInvitation)
		invitations.POST("/:token/reject", h.RejectInvitation)
		invitations.DELETE("/:id", h.RevokeInvitation)
	}
}

// ========== Workspace Handlers ==========

// CreateWorkspace handles workspace creation.
func (h *Handler) CreateWorkspace(c *gin.Context) {
	userID, username, ok := h.requireIdentity(c)
	if !ok {
		return
	}

	var req CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	workspace, err := h.service.CreateWorkspace(c.Request.Context(), userID, username, &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, workspace.ToResponse(1))
}

// GetWorkspace handles getting a workspace.
func (h *Handler) GetWorkspace(c *gin.Context) {
	workspaceID := c.Param("workspaceId")

	workspace, err := h.service.GetWorkspace(c.Request.Context(), workspaceID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	memberCount, _ := h.service.repo.CountMembers(c.Request.Context(), workspace.ID)
	c.JSON(http.StatusOK, workspace.ToResponse(memberCount))
}

// ListMyWorkspaces handles listing workspaces the user belongs to.
func (h *Handler) ListMyWorkspaces(c *gin.Context) {
	_, username, ok := h.requireIdentity(c)
	if !ok {
		return
	}

	var query ListWorkspacesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	workspaces, err := h.service.ListMyWorkspaces(c.Request.Context(), username, query.Limit, query.Offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	responses := make([]*WorkspaceResponse, len(workspaces))
	for i, workspace := range workspaces {
		memberCount, _ := h.service.repo.CountMembers(c.Request.Context(), workspace.ID)
		responses[i] = workspace.ToResponse(memberCount)
	}

	c.JSON(http.StatusOK, gin.H{"workspaces": responses})
}

// DeleteWorkspace handles deleting a workspace.
func (h *Handler) DeleteWorkspace(c *gin.Context) {
	_, username, ok := h.requireIdentity(c)
	if !ok {
		return
	}

	if err := h.service.DeleteWorkspace(c.Request.Context(), c.Param("workspaceId"), username); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ========== Member Handlers ==========

// ListMembers handles listing workspace members.
func (h *Handler) ListMembers(c *gin.Context) {
	_, username, ok := h.requireIdentity(c)
	if !ok {
		return
	}

	members, err := h.service.ListMembers(c.Request.Context(), c.Param("workspaceId"), username)
	if err != nil {
		h.handleError(c, err)
		return
	}

	responses := make([]*MemberResponse, len(members))
	for i, member := range members {
		responses[i] = member.ToResponse()
	}

	c.JSON(http.StatusOK, gin.H{"members": responses})
}

// AddMember handles adding a member directly.
func (h *Handler) AddMember(c *gin.Context) {
	_, username, ok := h.requireIdentity(c)
	if !ok {
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	member, err := h.service.AddMember(c.Request.Context(), c.Param("workspaceId"), username, &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, member.ToResponse())
}

// ApproveMember handles approving a pending member.
func (h *Handler) ApproveMember(c *gin.Context) {
	_, username, ok := h.requireIdentity(c)
	if !ok {
		return
	}

	memberID, ok := h.parseMemberID(c)
	if !ok {
		return
	}

	member, err := h.service.ApproveMember(c.Request.Context(), c.Param("workspaceId"), memberID, username)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, member.ToResponse())
}

// UpdateMemberRole handles updating a member's role.
func (h *Handler) UpdateMemberRole(c *gin.Context) {
	_, username, ok := h.requireIdentity(c)
	if !ok {
		return
	}

	memberID, ok := h.parseMemberID(c)
	if !ok {
		return
	}

	var req UpdateMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.service.UpdateMemberRole(c.Request.Context(), c.Param("workspaceId"), memberID, username, req.Role); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// RemoveMember handles removing a member.
func (h *Handler) RemoveMember(c *gin.Context) {
	_, username, ok := h.requireIdentity(c)
	if !ok {
		return
	}

	memberID, ok := h.parseMemberID(c)
	if !ok {
		return
	}

	if err := h.service.RemoveMember(c.Request.Context(), c.Param("workspaceId"), memberID, username); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// ========== Invitation Handlers ==========

// SendInvitation handles sending an invitation.
func (h *Handler) SendInvitation(c *gin.Context) {
	_, username, ok := h.requireIdentity(c)
	if !ok {
		return
	}

	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	invitation, err := h.service.SendInvitation(c.Request.Context(), c.Param("workspaceId"), username, &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, invitation.ToResponse(true, h.baseURL))
}

// ListInvitations handles listing a workspace's invitations.
func (h *Handler) ListInvitations(c *gin.Context) {
	_, username, ok := h.requireIdentity(c)
	if !ok {
		return
	}

	var query ListInvitationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var status *InvitationStatus
	if query.Status != "" {
		status = &query.Status
	}

	invitations, err := h.service.ListInvitations(c.Request.Context(), c.Param("workspaceId"), username, status, query.Limit, query.Offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	responses := make([]*InvitationResponse, len(invitations))
	for i, invitation := range invitations {
		responses[i] = invitation.ToResponse(false, "")
	}

	c.JSON(http.StatusOK, gin.H{"invitations": responses})
}

// AcceptInvitation handles accepting an invitation.
func (h *Handler) AcceptInvitation(c *gin.Context) {
	_, username, ok := h.requireIdentity(c)
	if !ok {
		return
	}

	member, err := h.service.AcceptInvitation(c.Request.Context(), c.Param("token"), username)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, member.ToResponse())
}

// RejectInvitation handles rejecting an invitation.
func (h *Handler) RejectInvitation(c *gin.Context) {
	_, username, ok := h.requireIdentity(c)
	if !ok {
		return
	}

	if err := h.service.RejectInvitation(c.Request.Context(), c.Param("token"), username); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// RevokeInvitation handles revoking a pending invitation.
func (h *Handler) RevokeInvitation(c *gin.Context) {
	_, username, ok := h.requireIdentity(c)
	if !ok {
		return
	}

	invitationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid invitation id")
		return
	}

	if err := h.service.RevokeInvitation(c.Request.Context(), invitationID, username); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// ========== Helper Methods ==========

// requireIdentity extracts the forwarded identity headers.
func (h *Handler) requireIdentity(c *gin.Context) (uuid.UUID, string, bool) {
	username := c.GetHeader(HeaderUsername)
	if username == "" {
		response.Unauthorized(c, "missing identity")
		return uuid.Nil, "", false
	}

	idHeader := c.GetHeader(HeaderUserID)
	if idHeader == "" {
		response.Unauthorized(c, "missing identity")
		return uuid.Nil, "", false
	}

	userID, err := uuid.Parse(idHeader)
	if err != nil {
		response.Unauthorized(c, "invalid user id")
		return uuid.Nil, "", false
	}

	return userID, username, true
}

// parseMemberID parses the memberId path parameter.
func (h *Handler) parseMemberID(c *gin.Context) (uuid.UUID, bool) {
	memberID, err := uuid.Parse(c.Param("memberId"))
	if err != nil {
		response.BadRequest(c, "invalid member id")
		return uuid.Nil, false
	}
	return memberID, true
}

// errorMappings maps service errors to HTTP responses.
var errorMappings = []response.ErrorMapping{
	{Err: ErrWorkspaceNotFound, Status: http.StatusNotFound, Message: "workspace_not_found"},
	{Err: ErrWorkspaceAlreadyExists, Status: http.StatusConflict, Message: "workspace_already_exists"},
	{Err: ErrMemberNotFound, Status: http.StatusNotFound, Message: "member_not_found"},
	{Err: ErrAlreadyMember, Status: http.StatusConflict, Message: "user_already_member"},
	{Err: ErrCannotChangeOwner, Status: http.StatusForbidden, Message: "cannot_change_owner_role"},
	{Err: ErrCannotRemoveOwner, Status: http.StatusForbidden, Message: "cannot_remove_owner"},
	{Err: ErrOnlyOwnerCanDelete, Status: http.StatusForbidden, Message: "only_owner_can_delete"},
	{Err: ErrInsufficientPermission, Status: http.StatusForbidden, Message: "insufficient_permission"},
	{Err: ErrInvalidRole, Status: http.StatusBadRequest, Message: "invalid_role"},
	{Err: ErrInvitationNotFound, Status: http.StatusNotFound, Message: "invitation_not_found"},
	{Err: ErrInvitationExpired, Status: http.StatusGone, Message: "invitation_expired"},
	{Err: ErrInvitationAlreadyProcessed, Status: http.StatusGone, Message: "invitation_already_processed"},
	{Err: ErrInvitationAlreadyPending, Status: http.StatusConflict, Message: "invitation_already_pending"},
	{Err: ErrInvitationNotForYou, Status: http.StatusForbidden, Message: "invitation_not_for_you"},
	{Err: ErrCannotRevokeProcessed, Status: http.StatusBadRequest, Message: "cannot_revoke_processed_invitation"},
}

// handleError maps service errors to HTTP responses.
func (h *Handler) handleError(c *gin.Context, err error) {
	response.HandleErrorWithDefault(c, err, errorMappings)
}
