package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pawsuite/pawsuite/internal/identity"
)

// SeederConfig tunes bootstrap behaviour.
type SeederConfig struct {
	// MaxAttempts bounds seeding retries against a flaky store.
	MaxAttempts int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
	// ApprovedDomain restricts administrator emails outside development.
	ApprovedDomain string
	// Development relaxes the administrator domain check.
	Development bool
}

// Seeder idempotently provisions the role catalog and the initial
// administrator. It holds no process-lifetime state: the composition root
// invokes it once per start and re-running is always safe.
type Seeder struct {
	repo     Repository
	provider identity.Provider
	service  *Service
	logger   *slog.Logger
	cfg      SeederConfig
}

// NewSeeder constructs a Seeder.
func NewSeeder(repo Repository, provider identity.Provider, service *Service, logger *slog.Logger, cfg SeederConfig) *Seeder {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Seeder{repo: repo, provider: provider, service: service, logger: logger, cfg: cfg}
}

// EnsureSystemRoles read-or-creates every system role document. Existing
// system role records are healed back to the catalog defaults (manual edits
// do not survive a restart) while createdAt is preserved. Safe to run
// concurrently at every process start; system role definitions are static so
// last writer wins.
func (s *Seeder) EnsureSystemRoles(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		lastErr = s.ensureOnce(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrRemoteUnavailable) {
			return lastErr
		}
		if attempt < s.cfg.MaxAttempts {
			if s.logger != nil {
				s.logger.Warn("seed roles: store unavailable, retrying",
					slog.Int("attempt", attempt), slog.Any("error", lastErr))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.RetryDelay):
			}
		}
	}
	return fmt.Errorf("authz: seeding failed after %d attempts: %w", s.cfg.MaxAttempts, lastErr)
}

func (s *Seeder) ensureOnce(ctx context.Context) error {
	for _, def := range SystemRoles() {
		existing, err := s.repo.GetRole(ctx, def.Name)
		switch {
		case errors.Is(err, ErrRoleNotFound):
			now := time.Now().UTC()
			def.CreatedAt = now
			def.UpdatedAt = now
			if err := s.repo.SaveRole(ctx, &def); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if systemRoleMatches(existing, def) {
				continue
			}
			def.CreatedAt = existing.CreatedAt
			def.UpdatedAt = time.Now().UTC()
			if err := s.repo.SaveRole(ctx, &def); err != nil {
				return err
			}
			if s.logger != nil {
				s.logger.Info("seed roles: healed drifted system role",
					slog.String("role", def.Name))
			}
		}
	}
	return nil
}

// systemRoleMatches reports whether the stored record already equals the
// catalog default, so a second seeding run writes nothing.
func systemRoleMatches(stored *Role, def Role) bool {
	return stored.IsSystem &&
		stored.Description == def.Description &&
		stored.AllowMultiBranch == def.AllowMultiBranch &&
		stored.BranchSpecificPermissions == def.BranchSpecificPermissions &&
		permissionsEqual(stored.Permissions, def.Permissions)
}

// SetupAdministrator creates-or-finds an identity for email and grants it
// the full permission set, wildcard included. Emails outside the approved
// domain are rejected unless running in development.
func (s *Seeder) SetupAdministrator(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil
	}
	if !s.cfg.Development && s.cfg.ApprovedDomain != "" &&
		!strings.HasSuffix(strings.ToLower(email), "@"+strings.ToLower(s.cfg.ApprovedDomain)) {
		return fmt.Errorf("authz: administrator email %q outside approved domain %q", email, s.cfg.ApprovedDomain)
	}

	user, err := s.provider.GetUserByEmail(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		user, err = s.provider.CreateUser(ctx, email, uuid.NewString())
		if err != nil {
			return remapIdentityErr(err)
		}
		if s.logger != nil {
			s.logger.Info("seed admin: created administrator identity, password reset required",
				slog.String("email", email))
		}
	} else if err != nil {
		return remapIdentityErr(err)
	}

	// Already provisioned: a second run must not rewrite anything.
	if mapping, err := s.repo.GetUserRoles(ctx, user.ID); err == nil {
		if a := mapping.ActiveAssignment(mapping.DefaultBranchID, time.Now().UTC()); a != nil && a.Role == RoleAdmin {
			return nil
		}
	}

	if _, err := s.service.AssignRole(ctx, user.ID, RoleAdmin, AssignOptions{
		CustomPermissions: PermissionStrings(AllPermissions()),
	}); err != nil {
		return err
	}
	if _, err := s.repo.AppendHistory(ctx, RoleHistoryEntry{
		UserID:         user.ID,
		Action:         HistoryActionAdminSetup,
		NewRole:        RoleAdmin,
		NewPermissions: AllPermissions(),
		Timestamp:      time.Now().UTC(),
		Type:           HistoryTypeBootstrap,
	}); err != nil && s.logger != nil {
		s.logger.Warn("seed admin: history append failed", slog.Any("error", err))
	}
	return nil
}
