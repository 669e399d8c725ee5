package authz

import "time"

// Role is a named grouping of permissions. System roles are seeded at
// startup and cannot be edited; custom roles are managed by administrators.
type Role struct {
	Name                      string       `json:"name"`
	Description               string       `json:"description"`
	Permissions               []Permission `json:"permissions"`
	IsSystem                  bool         `json:"is_system"`
	AllowMultiBranch          bool         `json:"allow_multi_branch"`
	BranchSpecificPermissions bool         `json:"branch_specific_permissions"`
	CreatedAt                 time.Time    `json:"created_at"`
	UpdatedAt                 time.Time    `json:"updated_at"`
}

// BranchRoleAssignment is one user's role at one branch for one time window.
// For a given (user, branch) at most one assignment is active at any instant.
type BranchRoleAssignment struct {
	BranchID    string       `json:"branch_id"`
	Role        string       `json:"role"`
	Permissions []Permission `json:"permissions"`
	// Custom marks that Permissions was supplied explicitly at assignment
	// time rather than copied from the role's defaults.
	Custom    bool       `json:"custom,omitempty"`
	IsActive  bool       `json:"is_active"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// EligibleAt reports whether the assignment grants access at the given
// instant. EndDate bounds validity without requiring early deactivation.
func (a BranchRoleAssignment) EligibleAt(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if !a.StartDate.IsZero() && a.StartDate.After(now) {
		return false
	}
	if a.EndDate != nil && a.EndDate.Before(now) {
		return false
	}
	return true
}

// UserRoleMapping is the system of record for a user's role assignments.
// Created lazily on first assignment and never hard-deleted; prior
// assignments are deactivated, not removed.
type UserRoleMapping struct {
	UserID               string                 `json:"user_id"`
	Roles                []BranchRoleAssignment `json:"roles"`
	DefaultBranchID      string                 `json:"default_branch_id,omitempty"`
	IsMultiBranchEnabled bool                   `json:"is_multi_branch_enabled"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

// ActiveAssignment returns the eligible assignment for branchID, if any.
func (m *UserRoleMapping) ActiveAssignment(branchID string, now time.Time) *BranchRoleAssignment {
	for i := range m.Roles {
		a := &m.Roles[i]
		if a.BranchID == branchID && a.EligibleAt(now) {
			return a
		}
	}
	return nil
}

// RoleHistoryEntry is an append-only audit record of a role change. It is
// never read back into authorization decisions.
type RoleHistoryEntry struct {
	UserID              string       `json:"user_id"`
	Action              string       `json:"action"`
	PreviousRole        string       `json:"previous_role,omitempty"`
	NewRole             string       `json:"new_role"`
	BranchID            string       `json:"branch_id,omitempty"`
	PreviousPermissions []Permission `json:"previous_permissions,omitempty"`
	NewPermissions      []Permission `json:"new_permissions"`
	Timestamp           time.Time    `json:"timestamp"`
	Type                string       `json:"type"`
}

// History entry actions.
const (
	HistoryActionAssign     = "assign_role"
	HistoryActionAdminSetup = "setup_administrator"

	HistoryTypeAssignment = "assignment"
	HistoryTypeBootstrap  = "bootstrap"
)

// RoleDefinitionChange records one edit to a custom role's definition.
type RoleDefinitionChange struct {
	RoleName            string       `json:"role_name"`
	Editor              string       `json:"editor,omitempty"`
	PreviousPermissions []Permission `json:"previous_permissions"`
	NewPermissions      []Permission `json:"new_permissions"`
	Description         string       `json:"description,omitempty"`
	Timestamp           time.Time    `json:"timestamp"`
}

// Resolution is the effective role and permission set for a user in a
// branch context.
type Resolution struct {
	Role        string       `json:"role"`
	Permissions []Permission `json:"permissions"`
	BranchID    string       `json:"branch_id,omitempty"`
}
