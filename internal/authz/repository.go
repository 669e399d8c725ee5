package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pawsuite/pawsuite/internal/docstore"
)

// Logical store paths.
const (
	rolesPrefix           = "roles/"
	userRolesPrefix       = "user-roles/"
	roleHistoryPrefix     = "role-history/"
	roleDefinitionsPrefix = "role-definitions/"
)

// Repository defines persistence for the authorization core.
type Repository interface {
	GetRole(ctx context.Context, name string) (*Role, error)
	SaveRole(ctx context.Context, role *Role) error
	ListRoles(ctx context.Context) ([]Role, error)
	GetUserRoles(ctx context.Context, userID string) (*UserRoleMapping, error)
	SaveUserRoles(ctx context.Context, mapping *UserRoleMapping) error
	AppendHistory(ctx context.Context, entry RoleHistoryEntry) (string, error)
	AppendDefinitionChange(ctx context.Context, change RoleDefinitionChange) (string, error)
}

// StoreRepository implements Repository over the keyed document store.
type StoreRepository struct {
	store docstore.Store
}

// NewRepository constructs a document-store backed repository.
func NewRepository(store docstore.Store) *StoreRepository {
	return &StoreRepository{store: store}
}

var _ Repository = (*StoreRepository)(nil)

// GetRole fetches a role document by name.
func (r *StoreRepository) GetRole(ctx context.Context, name string) (*Role, error) {
	var role Role
	if err := r.store.Get(ctx, rolesPrefix+name, &role); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, remapStoreErr(err)
	}
	return &role, nil
}

// SaveRole writes the full role document.
func (r *StoreRepository) SaveRole(ctx context.Context, role *Role) error {
	if err := r.store.Set(ctx, rolesPrefix+role.Name, role, false); err != nil {
		return remapStoreErr(err)
	}
	return nil
}

// ListRoles returns every role document.
func (r *StoreRepository) ListRoles(ctx context.Context) ([]Role, error) {
	docs, err := r.store.List(ctx, rolesPrefix)
	if err != nil {
		return nil, remapStoreErr(err)
	}
	roles := make([]Role, 0, len(docs))
	for path, raw := range docs {
		var role Role
		if err := json.Unmarshal(raw, &role); err != nil {
			return nil, fmt.Errorf("authz: decode role %s: %w", path, err)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// GetUserRoles fetches the role mapping for a user. Returns ErrUserNotFound
// when the user has never been assigned a role.
func (r *StoreRepository) GetUserRoles(ctx context.Context, userID string) (*UserRoleMapping, error) {
	var mapping UserRoleMapping
	if err := r.store.Get(ctx, userRolesPrefix+userID, &mapping); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, remapStoreErr(err)
	}
	return &mapping, nil
}

// SaveUserRoles writes the full mapping document for a user.
func (r *StoreRepository) SaveUserRoles(ctx context.Context, mapping *UserRoleMapping) error {
	if err := r.store.Set(ctx, userRolesPrefix+mapping.UserID, mapping, false); err != nil {
		return remapStoreErr(err)
	}
	return nil
}

// AppendHistory pushes an audit entry onto the user's role history log.
func (r *StoreRepository) AppendHistory(ctx context.Context, entry RoleHistoryEntry) (string, error) {
	id, err := r.store.Push(ctx, roleHistoryPrefix+entry.UserID, entry)
	if err != nil {
		return "", remapStoreErr(err)
	}
	return id, nil
}

// AppendDefinitionChange pushes a definition-change entry onto the role's
// own history sub-log.
func (r *StoreRepository) AppendDefinitionChange(ctx context.Context, change RoleDefinitionChange) (string, error) {
	path := roleDefinitionsPrefix + change.RoleName + "/history"
	id, err := r.store.Push(ctx, path, change)
	if err != nil {
		return "", remapStoreErr(err)
	}
	return id, nil
}

func remapStoreErr(err error) error {
	if errors.Is(err, docstore.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return err
}
