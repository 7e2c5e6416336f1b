package collaboration

// Permission represents an action that can be performed in a workspace.
type Permission int

const (
	PermView Permission = iota
	PermEditSchema
	PermInvite
	PermApproveMember
	PermRemoveMember
	PermUpdateRole
	PermUpdateWorkspace
	PermDeleteWorkspace
)

// roleLevel maps roles to their hierarchy level (higher = more permissions).
var roleLevel = map[Role]int{
	RoleOwner:  100,
	RoleEditor: 50,
	RoleViewer: 25,
}

// Level returns the hierarchy level of the role.
func (r Role) Level() int {
	if level, ok := roleLevel[r]; ok {
		return level
	}
	return 0
}

// IsAtLeast checks if this role has at least the same level as another role.
func (r Role) IsAtLeast(other Role) bool {
	return r.Level() >= other.Level()
}

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	default:
		return false
	}
}

// CanAssign checks if a role can assign another role to members.
func (r Role) CanAssign(target Role) bool {
	// Only the owner manages roles, and ownership is never reassigned.
	if r == RoleOwner {
		return target == RoleEditor || target == RoleViewer
	}
	return false
}

// HasPermission checks if a role has a specific permission.
func (r Role) HasPermission(perm Permission) bool {
	switch perm {
	case PermView:
		return true // All roles can view

	case PermEditSchema:
		return r == RoleOwner || r == RoleEditor

	case PermInvite:
		return r == RoleOwner

	case PermApproveMember:
		return r == RoleOwner

	case PermRemoveMember:
		return r == RoleOwner

	case PermUpdateRole:
		return r == RoleOwner

	case PermUpdateWorkspace:
		return r == RoleOwner

	case PermDeleteWorkspace:
		return r == RoleOwner

	default:
		return false
	}
}

// ValidInviteRoles returns the roles that can be assigned via invitation.
// Owner role cannot be assigned via invitation.
func ValidInviteRoles() []Role {
	return []Role{RoleEditor, RoleViewer}
}

// IsValidInviteRole checks if a role can be assigned via invitation.
func IsValidInviteRole(r Role) bool {
	for _, valid := range ValidInviteRoles() {
		if r == valid {
			return true
		}
	}
	return false
}
