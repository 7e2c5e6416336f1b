package collaboration

import "errors"

// Domain errors for the collaboration module.
var (
	ErrWorkspaceNotFound          = errors.New("workspace not found")
	ErrWorkspaceAlreadyExists     = errors.New("workspace already exists")
	ErrMemberNotFound             = errors.New("member not found")
	ErrAlreadyMember              = errors.New("user is already a member")
	ErrMemberNotApproved          = errors.New("member is not approved")
	ErrCannotChangeOwner          = errors.New("cannot change the owner's role")
	ErrCannotRemoveOwner          = errors.New("cannot remove the workspace owner")
	ErrOnlyOwnerCanDelete         = errors.New("only the owner can delete the workspace")
	ErrInsufficientPermission     = errors.New("insufficient permission")
	ErrInvalidRole                = errors.New("invalid role")
	ErrInvitationNotFound         = errors.New("invitation not found")
	ErrInvitationExpired          = errors.New("invitation has expired")
	ErrInvitationAlreadyProcessed = errors.New("invitation already processed")
	ErrInvitationAlreadyPending   = errors.New("an invitation is already pending")
	ErrInvitationNotForYou        = errors.New("invitation is for a different user")
	ErrCannotRevokeProcessed      = errors.New("cannot revoke a processed invitation")
)
