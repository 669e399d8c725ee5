package authz

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"
)

// Resolver computes a user's effective role and permission set for a branch
// context. It reads the user-role mapping store directly (never cached) and
// the role catalog through the permission cache.
type Resolver struct {
	repo   Repository
	cache  *PermissionCache
	logger *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(repo Repository, cache *PermissionCache, logger *slog.Logger) *Resolver {
	return &Resolver{repo: repo, cache: cache, logger: logger}
}

// Resolve returns the effective role for userID in the given branch context.
// Precedence: the active assignment at the requested branch, then the
// default branch, then the remaining active assignment with the lowest
// branch ID, then the least-privilege system default. Store failures degrade
// to the default role rather than erroring, so outages fail closed for
// ordinary users.
func (r *Resolver) Resolve(ctx context.Context, userID, branchID string) (*Resolution, error) {
	now := time.Now().UTC()

	mapping, err := r.repo.GetUserRoles(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) && r.logger != nil {
			r.logger.Warn("resolve: user role lookup failed, using default role",
				slog.String("user_id", userID), slog.Any("error", err))
		}
		return r.defaultResolution(ctx, branchID), nil
	}

	assignment := r.pickAssignment(mapping, branchID, now)
	if assignment == nil {
		return r.defaultResolution(ctx, branchID), nil
	}

	perms, err := r.rolePermissions(ctx, assignment)
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("resolve: role permission lookup failed, using assignment snapshot",
				slog.String("role", assignment.Role), slog.Any("error", err))
		}
		perms = assignment.Permissions
	}
	return &Resolution{
		Role:        assignment.Role,
		Permissions: perms,
		BranchID:    assignment.BranchID,
	}, nil
}

func (r *Resolver) pickAssignment(mapping *UserRoleMapping, branchID string, now time.Time) *BranchRoleAssignment {
	if branchID != "" {
		if a := mapping.ActiveAssignment(branchID, now); a != nil {
			return a
		}
	}
	if mapping.DefaultBranchID != "" && mapping.DefaultBranchID != branchID {
		if a := mapping.ActiveAssignment(mapping.DefaultBranchID, now); a != nil {
			return a
		}
	}
	// Lowest branch ID keeps resolution deterministic.
	var candidates []*BranchRoleAssignment
	for i := range mapping.Roles {
		a := &mapping.Roles[i]
		if a.EligibleAt(now) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].BranchID < candidates[j].BranchID
	})
	return candidates[0]
}

// rolePermissions returns the permission set to grant for an assignment.
// Custom grants are honoured as written; otherwise the role's current
// definition wins, read through the cache (staleness bounded by its TTL).
func (r *Resolver) rolePermissions(ctx context.Context, assignment *BranchRoleAssignment) ([]Permission, error) {
	if assignment.Custom {
		return assignment.Permissions, nil
	}
	return r.cache.Permissions(ctx, assignment.Role, func(ctx context.Context) ([]Permission, error) {
		role, err := r.repo.GetRole(ctx, assignment.Role)
		if err != nil {
			if def, ok := SystemRoleDefault(assignment.Role); ok {
				return def.Permissions, nil
			}
			return nil, err
		}
		return role.Permissions, nil
	})
}

// defaultResolution is the fail-safe, least-privilege answer.
func (r *Resolver) defaultResolution(ctx context.Context, branchID string) *Resolution {
	perms, err := r.cache.Permissions(ctx, DefaultRole, func(ctx context.Context) ([]Permission, error) {
		role, err := r.repo.GetRole(ctx, DefaultRole)
		if err != nil {
			return DefaultRolePermissions(), nil
		}
		return role.Permissions, nil
	})
	if err != nil || len(perms) == 0 {
		perms = DefaultRolePermissions()
	}
	return &Resolution{Role: DefaultRole, Permissions: perms, BranchID: branchID}
}
