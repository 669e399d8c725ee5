// Package identity abstracts the hosted authentication service that owns
// user credentials. The rest of the application treats it as a remote
// authority that can attach a small claims payload to each user.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the user does not exist at the provider.
	ErrNotFound = errors.New("identity: user not found")
	// ErrUnavailable indicates the provider could not be reached.
	ErrUnavailable = errors.New("identity: provider unavailable")
	// ErrCredentialsMissing indicates the provider client was constructed
	// without the credentials it needs.
	ErrCredentialsMissing = errors.New("identity: provider credentials missing")
)

// User is an identity record as the provider reports it.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Claims is the authorization payload attached to a user's credential. It is
// a derived cache of the role store and is always subordinate to it.
type Claims struct {
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	BranchID    string    `json:"branch_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Equal reports whether two claims payloads grant the same authorization,
// ignoring the update timestamp.
func (c Claims) Equal(other Claims) bool {
	if c.Role != other.Role || c.BranchID != other.BranchID {
		return false
	}
	if len(c.Permissions) != len(other.Permissions) {
		return false
	}
	seen := make(map[string]struct{}, len(c.Permissions))
	for _, p := range c.Permissions {
		seen[p] = struct{}{}
	}
	for _, p := range other.Permissions {
		if _, ok := seen[p]; !ok {
			return false
		}
	}
	return true
}

// Page is one page of a user enumeration.
type Page struct {
	Users         []User
	NextPageToken string
}

// Provider is the remote identity authority.
type Provider interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, email, password string) (*User, error)
	GetClaims(ctx context.Context, id string) (*Claims, error)
	SetClaims(ctx context.Context, id string, claims Claims) error
	RevokeCredentials(ctx context.Context, id string) error
	ListUsers(ctx context.Context, pageSize int, pageToken string) (*Page, error)
}
