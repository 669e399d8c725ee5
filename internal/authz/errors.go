package authz

import "errors"

var (
	// ErrInvalidPermission indicates an unknown permission token.
	ErrInvalidPermission = errors.New("authz: invalid permission")
	// ErrRoleNotFound indicates the named role does not exist.
	ErrRoleNotFound = errors.New("authz: role not found")
	// ErrUserNotFound indicates the user does not exist at the identity
	// provider or has no role record.
	ErrUserNotFound = errors.New("authz: user not found")
	// ErrSystemRoleImmutable indicates an attempt to edit a system role.
	ErrSystemRoleImmutable = errors.New("authz: system role cannot be modified")
	// ErrSyncDrift indicates detected but unrepaired divergence between
	// claims and the role store.
	ErrSyncDrift = errors.New("authz: claims drift detected")
	// ErrRemoteUnavailable indicates the store or the identity provider
	// could not be reached.
	ErrRemoteUnavailable = errors.New("authz: remote authority unavailable")
)
