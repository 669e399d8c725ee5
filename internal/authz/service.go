package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pawsuite/pawsuite/internal/identity"
)

// Service mutates role assignments and role definitions. It keeps the
// user-role mapping store (the system of record) and the identity provider's
// claims in step; the store write is the durability point and claims
// convergence is best-effort, repaired by the Synchronizer.
type Service struct {
	repo     Repository
	provider identity.Provider
	resolver *Resolver
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, provider identity.Provider, resolver *Resolver, logger *slog.Logger) *Service {
	return &Service{repo: repo, provider: provider, resolver: resolver, logger: logger}
}

// AssignOptions carries the optional parameters of a role assignment.
type AssignOptions struct {
	BranchID             string
	CustomPermissions    []string
	IsMultiBranchEnabled *bool
	StartDate            time.Time
	EndDate              *time.Time
}

// AssignRole gives userID the named role at a branch. Any prior active
// assignment for the same branch is deactivated, never deleted, so the
// full lineage stays reconstructable from the mapping alone. Callers must
// serialize assignments per user; the deactivate-then-append sequence is a
// read-modify-write on a single document.
func (s *Service) AssignRole(ctx context.Context, userID, roleName string, opts AssignOptions) (*Resolution, error) {
	role, err := s.repo.GetRole(ctx, roleName)
	if err != nil {
		return nil, err
	}
	if _, err := s.provider.GetUser(ctx, userID); err != nil {
		return nil, remapIdentityErr(err)
	}

	perms := role.Permissions
	custom := false
	if len(opts.CustomPermissions) > 0 {
		perms = ValidatePermissions(opts.CustomPermissions)
		custom = true
	}

	mapping, err := s.repo.GetUserRoles(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		mapping = &UserRoleMapping{UserID: userID}
	}

	branchID := opts.BranchID
	if branchID == "" {
		branchID = mapping.DefaultBranchID
	}
	if branchID == "" {
		branchID = "main"
	}

	var previousRole string
	var previousPerms []Permission
	for i := range mapping.Roles {
		a := &mapping.Roles[i]
		if a.BranchID == branchID && a.IsActive {
			previousRole = a.Role
			previousPerms = a.Permissions
			a.IsActive = false
		}
	}

	start := opts.StartDate
	if start.IsZero() {
		start = time.Now().UTC()
	}
	mapping.Roles = append(mapping.Roles, BranchRoleAssignment{
		BranchID:    branchID,
		Role:        roleName,
		Permissions: perms,
		Custom:      custom,
		IsActive:    true,
		StartDate:   start,
		EndDate:     opts.EndDate,
	})
	if mapping.DefaultBranchID == "" {
		mapping.DefaultBranchID = branchID
	}
	if opts.IsMultiBranchEnabled != nil {
		mapping.IsMultiBranchEnabled = *opts.IsMultiBranchEnabled && role.AllowMultiBranch
	}
	mapping.UpdatedAt = time.Now().UTC()

	// Durability point. Everything after this is best-effort.
	if err := s.repo.SaveUserRoles(ctx, mapping); err != nil {
		return nil, err
	}

	if _, err := s.repo.AppendHistory(ctx, RoleHistoryEntry{
		UserID:              userID,
		Action:              HistoryActionAssign,
		PreviousRole:        previousRole,
		NewRole:             roleName,
		BranchID:            branchID,
		PreviousPermissions: previousPerms,
		NewPermissions:      perms,
		Timestamp:           time.Now().UTC(),
		Type:                HistoryTypeAssignment,
	}); err != nil && s.logger != nil {
		s.logger.Warn("assign role: history append failed",
			slog.String("user_id", userID), slog.Any("error", err))
	}

	// Claims mirror only the currently active view, never the history.
	if err := s.provider.SetClaims(ctx, userID, identity.Claims{
		Role:        roleName,
		Permissions: PermissionStrings(perms),
		BranchID:    branchID,
		UpdatedAt:   time.Now().UTC(),
	}); err != nil && s.logger != nil {
		// Left for the Synchronizer to repair; never roll back the store.
		s.logger.Warn("assign role: claims update failed, store remains authoritative",
			slog.String("user_id", userID), slog.Any("error", err))
	}

	return &Resolution{Role: roleName, Permissions: perms, BranchID: branchID}, nil
}

// CreateRoleDefinition adds a custom role to the catalog.
func (s *Service) CreateRoleDefinition(ctx context.Context, name, description string, permissions []string) (*Role, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil, errors.New("authz: role name required")
	}
	if _, err := s.repo.GetRole(ctx, name); err == nil {
		return nil, fmt.Errorf("authz: role %q already exists", name)
	} else if !errors.Is(err, ErrRoleNotFound) {
		return nil, err
	}
	perms := ValidatePermissions(permissions)
	if len(perms) == 0 {
		return nil, fmt.Errorf("%w: no known permissions in %v", ErrInvalidPermission, permissions)
	}
	now := time.Now().UTC()
	role := &Role{
		Name:        name,
		Description: strings.TrimSpace(description),
		Permissions: perms,
		IsSystem:    false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.SaveRole(ctx, role); err != nil {
		return nil, err
	}
	if _, err := s.repo.AppendDefinitionChange(ctx, RoleDefinitionChange{
		RoleName:       name,
		NewPermissions: role.Permissions,
		Description:    "created",
		Timestamp:      now,
	}); err != nil && s.logger != nil {
		s.logger.Warn("create role: definition history append failed",
			slog.String("role", name), slog.Any("error", err))
	}
	return role, nil
}

// UpdateRoleDefinition replaces a custom role's permission set. System roles
// are immutable; editors tolerate up to one cache TTL of staleness in
// already-cached resolutions.
func (s *Service) UpdateRoleDefinition(ctx context.Context, roleName string, permissions []string, description *string) (*Role, error) {
	role, err := s.repo.GetRole(ctx, roleName)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, ErrSystemRoleImmutable
	}

	perms := ValidatePermissions(permissions)
	if len(perms) == 0 {
		return nil, fmt.Errorf("%w: no known permissions in %v", ErrInvalidPermission, permissions)
	}

	previous := role.Permissions
	role.Permissions = perms
	if description != nil {
		role.Description = strings.TrimSpace(*description)
	}
	role.UpdatedAt = time.Now().UTC()

	if err := s.repo.SaveRole(ctx, role); err != nil {
		return nil, err
	}
	if _, err := s.repo.AppendDefinitionChange(ctx, RoleDefinitionChange{
		RoleName:            roleName,
		PreviousPermissions: previous,
		NewPermissions:      role.Permissions,
		Description:         role.Description,
		Timestamp:           role.UpdatedAt,
	}); err != nil && s.logger != nil {
		s.logger.Warn("update role: definition history append failed",
			slog.String("role", roleName), slog.Any("error", err))
	}
	return role, nil
}

// GetRoleDefinitions returns every role in the catalog keyed by name.
func (s *Service) GetRoleDefinitions(ctx context.Context) (map[string]Role, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Role, len(roles))
	for _, role := range roles {
		out[role.Name] = role
	}
	return out, nil
}

// UserWithRole pairs an identity with its resolved role.
type UserWithRole struct {
	User       identity.User `json:"user"`
	Resolution Resolution    `json:"resolution"`
}

// UserList is one page of the administrative user enumeration.
type UserList struct {
	Users         []UserWithRole `json:"users"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

// ListUsersWithRoles enumerates identities one page at a time, resolving
// each user's effective role at their default branch.
func (s *Service) ListUsersWithRoles(ctx context.Context, pageSize int, pageToken string) (*UserList, error) {
	page, err := s.provider.ListUsers(ctx, pageSize, pageToken)
	if err != nil {
		return nil, remapIdentityErr(err)
	}
	out := &UserList{
		Users:         make([]UserWithRole, 0, len(page.Users)),
		NextPageToken: page.NextPageToken,
	}
	for _, user := range page.Users {
		res, err := s.resolver.Resolve(ctx, user.ID, "")
		if err != nil {
			return nil, err
		}
		out.Users = append(out.Users, UserWithRole{User: user, Resolution: *res})
	}
	return out, nil
}

func remapIdentityErr(err error) error {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, identity.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	default:
		return err
	}
}
