package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pawsuite/pawsuite/internal/identity"
)

// Synchronizer reconciles the identity provider's claims with the role
// store. The store is the system of record; claims are a derived cache, so
// on divergence the store always wins.
type Synchronizer struct {
	provider    identity.Provider
	resolver    *Resolver
	logger      *slog.Logger
	pageSize    int
	concurrency int
}

// NewSynchronizer constructs a Synchronizer.
func NewSynchronizer(provider identity.Provider, resolver *Resolver, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		provider:    provider,
		resolver:    resolver,
		logger:      logger,
		pageSize:    100,
		concurrency: 8,
	}
}

// SetPageSize overrides the enumeration page size for bulk sweeps.
func (s *Synchronizer) SetPageSize(n int) {
	if n > 0 {
		s.pageSize = n
	}
}

// SyncOne repairs one user's claims to match the store. Returns true when a
// write was needed; a consistent user is a no-op.
func (s *Synchronizer) SyncOne(ctx context.Context, userID string) (bool, error) {
	want, current, err := s.compare(ctx, userID)
	if err != nil {
		return false, err
	}
	if current != nil && current.Equal(*want) {
		return false, nil
	}
	if err := s.provider.SetClaims(ctx, userID, *want); err != nil {
		return false, remapIdentityErr(err)
	}
	// A downgrade leaves already-issued credentials over-privileged until
	// they are reissued, so force a fresh sign-in.
	if current != nil && grantsBeyond(current.Permissions, want.Permissions) {
		if err := s.provider.RevokeCredentials(ctx, userID); err != nil && s.logger != nil {
			s.logger.Warn("sync: credential revocation failed",
				slog.String("user_id", userID), slog.Any("error", err))
		}
	}
	return true, nil
}

// CheckOne reports drift without repairing it.
func (s *Synchronizer) CheckOne(ctx context.Context, userID string) error {
	want, current, err := s.compare(ctx, userID)
	if err != nil {
		return err
	}
	if current == nil || !current.Equal(*want) {
		return fmt.Errorf("%w: user %s", ErrSyncDrift, userID)
	}
	return nil
}

func (s *Synchronizer) compare(ctx context.Context, userID string) (want, current *identity.Claims, err error) {
	res, err := s.resolver.Resolve(ctx, userID, "")
	if err != nil {
		return nil, nil, err
	}
	claims, err := s.provider.GetClaims(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, remapIdentityErr(err)
	}
	want = &identity.Claims{
		Role:        res.Role,
		Permissions: PermissionStrings(res.Permissions),
		BranchID:    res.BranchID,
		UpdatedAt:   time.Now().UTC(),
	}
	return want, claims, nil
}

// SyncReport summarises a bulk reconciliation run.
type SyncReport struct {
	Scanned       int    `json:"scanned"`
	Repaired      int    `json:"repaired"`
	Failed        int    `json:"failed"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// SyncAll walks every identity in pages and reconciles each one. Each
// per-user sync is independently idempotent, so a run is restartable from
// any page boundary: on failure the report carries the token to resume
// from. Individual user failures are counted, logged and skipped rather
// than aborting the sweep.
func (s *Synchronizer) SyncAll(ctx context.Context, pageToken string) (*SyncReport, error) {
	report := &SyncReport{}
	var scanned, repaired, failed atomic.Int64

	for {
		page, err := s.provider.ListUsers(ctx, s.pageSize, pageToken)
		if err != nil {
			report.NextPageToken = pageToken
			s.fill(report, &scanned, &repaired, &failed)
			return report, remapIdentityErr(err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.concurrency)
		for _, user := range page.Users {
			g.Go(func() error {
				scanned.Add(1)
				didWrite, err := s.SyncOne(gctx, user.ID)
				if err != nil {
					failed.Add(1)
					if s.logger != nil {
						s.logger.Warn("sync: user reconciliation failed",
							slog.String("user_id", user.ID), slog.Any("error", err))
					}
					return nil
				}
				if didWrite {
					repaired.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			report.NextPageToken = pageToken
			s.fill(report, &scanned, &repaired, &failed)
			return report, err
		}

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	s.fill(report, &scanned, &repaired, &failed)
	return report, nil
}

func (s *Synchronizer) fill(report *SyncReport, scanned, repaired, failed *atomic.Int64) {
	report.Scanned = int(scanned.Load())
	report.Repaired = int(repaired.Load())
	report.Failed = int(failed.Load())
}

// grantsBeyond reports whether previous grants anything absent from next.
func grantsBeyond(previous, next []string) bool {
	granted := make(map[string]struct{}, len(next))
	for _, p := range next {
		granted[p] = struct{}{}
	}
	if _, ok := granted[string(PermAll)]; ok {
		return false
	}
	for _, p := range previous {
		if _, ok := granted[p]; !ok {
			return true
		}
	}
	return false
}
