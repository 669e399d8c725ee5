package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// LocalProvider is an in-process identity provider for development and
// tests. It stores bcrypt password hashes and keeps claims in memory, so
// nothing survives a restart.
type LocalProvider struct {
	mu     sync.RWMutex
	users  map[string]*localUser
	claims map[string]Claims
}

type localUser struct {
	user         User
	passwordHash []byte
}

// NewLocalProvider constructs an empty local provider.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{
		users:  make(map[string]*localUser),
		claims: make(map[string]Claims),
	}
}

var _ Provider = (*LocalProvider)(nil)

func (p *LocalProvider) GetUser(ctx context.Context, id string) (*User, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	user := u.user
	return &user, nil
}

func (p *LocalProvider) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, u := range p.users {
		if strings.ToLower(u.user.Email) == email {
			user := u.user
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

func (p *LocalProvider) CreateUser(ctx context.Context, email, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	user := User{
		ID:        uuid.NewString(),
		Email:     strings.TrimSpace(email),
		CreatedAt: time.Now().UTC(),
	}
	p.users[user.ID] = &localUser{user: user, passwordHash: hash}
	out := user
	return &out, nil
}

// VerifyPassword checks a password against the stored hash. Development
// sign-in helper, unused in deployed configurations.
func (p *LocalProvider) VerifyPassword(ctx context.Context, email, password string) (*User, error) {
	user, err := p.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	hash := p.users[user.ID].passwordHash
	p.mu.RUnlock()
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return nil, ErrNotFound
	}
	return user, nil
}

func (p *LocalProvider) GetClaims(ctx context.Context, id string) (*Claims, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.users[id]; !ok {
		return nil, ErrNotFound
	}
	claims, ok := p.claims[id]
	if !ok {
		return &Claims{}, nil
	}
	out := claims
	return &out, nil
}

func (p *LocalProvider) SetClaims(ctx context.Context, id string, claims Claims) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[id]; !ok {
		return ErrNotFound
	}
	p.claims[id] = claims
	return nil
}

func (p *LocalProvider) RevokeCredentials(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[id]; !ok {
		return ErrNotFound
	}
	// Nothing to invalidate locally; issued credentials live only in the
	// hosted service.
	return nil
}

// ListUsers pages through users ordered by email. The page token is the
// email of the last user on the previous page, which keeps enumeration
// restartable from any boundary.
func (p *LocalProvider) ListUsers(ctx context.Context, pageSize int, pageToken string) (*Page, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	p.mu.RLock()
	all := make([]User, 0, len(p.users))
	for _, u := range p.users {
		all = append(all, u.user)
	}
	p.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Email < all[j].Email })

	start := 0
	if pageToken != "" {
		for i, u := range all {
			if u.Email > pageToken {
				start = i
				break
			}
			start = i + 1
		}
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	page := &Page{Users: all[start:end]}
	if end < len(all) {
		page.NextPageToken = all[end-1].Email
	}
	return page, nil
}
