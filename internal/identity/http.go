package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPProvider talks to the hosted identity service over its admin REST API.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider constructs a client for the hosted identity service.
func NewHTTPProvider(baseURL, apiKey string) (*HTTPProvider, error) {
	if baseURL == "" || apiKey == "" {
		return nil, ErrCredentialsMissing
	}
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

var _ Provider = (*HTTPProvider)(nil)

// Ping checks if the remote identity service is available.
func (p *HTTPProvider) Ping(ctx context.Context) error {
	var out struct{}
	return p.do(ctx, http.MethodGet, "/v1/health", nil, &out)
}

// GetUser fetches a user by ID.
func (p *HTTPProvider) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := p.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail fetches a user by email address.
func (p *HTTPProvider) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	path := "/v1/users:lookup?email=" + url.QueryEscape(email)
	if err := p.do(ctx, http.MethodGet, path, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser provisions a new identity record.
func (p *HTTPProvider) CreateUser(ctx context.Context, email, password string) (*User, error) {
	body := map[string]string{"email": email, "password": password}
	var user User
	if err := p.do(ctx, http.MethodPost, "/v1/users", body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetClaims reads the claims payload attached to a user's credential.
func (p *HTTPProvider) GetClaims(ctx context.Context, id string) (*Claims, error) {
	var claims Claims
	if err := p.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(id)+"/claims", nil, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// SetClaims replaces the claims payload attached to a user's credential.
func (p *HTTPProvider) SetClaims(ctx context.Context, id string, claims Claims) error {
	var out struct{}
	return p.do(ctx, http.MethodPut, "/v1/users/"+url.PathEscape(id)+"/claims", claims, &out)
}

// RevokeCredentials invalidates the user's issued credentials, forcing a
// fresh sign-in that picks up current claims.
func (p *HTTPProvider) RevokeCredentials(ctx context.Context, id string) error {
	var out struct{}
	return p.do(ctx, http.MethodPost, "/v1/users/"+url.PathEscape(id)+"/revoke", nil, &out)
}

// ListUsers enumerates users one page at a time.
func (p *HTTPProvider) ListUsers(ctx context.Context, pageSize int, pageToken string) (*Page, error) {
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(pageSize))
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	var page struct {
		Users         []User `json:"users"`
		NextPageToken string `json:"next_page_token"`
	}
	if err := p.do(ctx, http.MethodGet, "/v1/users?"+q.Encode(), nil, &page); err != nil {
		return nil, err
	}
	return &Page{Users: page.Users, NextPageToken: page.NextPageToken}, nil
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, body, dest any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("identity: encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: provider rejected credentials (status %d)", ErrCredentialsMissing, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: provider returned status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("identity: provider returned status %d", resp.StatusCode)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil && err != io.EOF {
		return fmt.Errorf("identity: decode response: %w", err)
	}
	return nil
}
