// Package service orchestrates tenant lifecycle management. Create, Suspend,
// Reactivate, UpdateSettings and List require a super-admin actor; the
// lookups Get, GetBySlug, ListAll and IsTenantActive take no actor.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"bima/internal/audit"
	identitymodels "bima/internal/identity/models"
	"bima/internal/tenant/models"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/platform/sentinel"
	"bima/pkg/platform/tx"
	"bima/pkg/requestcontext"
)

// Store is the persistence surface the service needs.
type Store interface {
	Create(ctx context.Context, t *models.Tenant) error
	FindByID(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	Update(ctx context.Context, t *models.Tenant) error
	List(ctx context.Context) ([]*models.Tenant, error)
}

// Service implements tenant operations.
type Service struct {
	tenants  Store
	recorder *audit.Recorder
	runner   tx.Runner
	logger   *slog.Logger
}

// New builds the tenant service.
func New(tenants Store, recorder *audit.Recorder, runner tx.Runner, logger *slog.Logger) *Service {
	return &Service{tenants: tenants, recorder: recorder, runner: runner, logger: logger}
}

func requireSuperAdmin(actor *identitymodels.User) error {
	if actor == nil {
		return domainerrors.New(domainerrors.CodeUnauthenticated, "authentication required")
	}
	if !actor.IsSuperAdmin() {
		return domainerrors.New(domainerrors.CodeForbidden, "tenant management requires super admin")
	}
	return nil
}

// Create registers a new tenant.
func (s *Service) Create(ctx context.Context, actor *identitymodels.User, name, slug, contactEmail string) (*models.Tenant, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	slug = strings.ToLower(strings.TrimSpace(slug))

	var tenant *models.Tenant
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		t, err := models.New(id.NewTenantID(), name, slug, contactEmail, requestcontext.Now(txCtx))
		if err != nil {
			return err
		}
		if err := s.tenants.Create(txCtx, t); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return domainerrors.New(domainerrors.CodeConflict, "tenant slug must be unique")
			}
			return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to create tenant")
		}
		if err := s.recorder.Record(txCtx, audit.Entry{
			TenantID:   &t.ID,
			EntityKind: "tenant",
			EntityID:   t.ID.String(),
			Action:     audit.ActionCreate,
			After:      audit.Snapshot(t),
		}); err != nil {
			return err
		}
		tenant = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// Suspend transitions a tenant to suspended; its users can no longer log in.
func (s *Service) Suspend(ctx context.Context, actor *identitymodels.User, tenantID id.TenantID) (*models.Tenant, error) {
	return s.transition(ctx, actor, tenantID, func(t *models.Tenant) error {
		return t.Suspend(requestcontext.Now(ctx))
	}, "tenant_suspended")
}

// Reactivate transitions a suspended tenant back to active.
func (s *Service) Reactivate(ctx context.Context, actor *identitymodels.User, tenantID id.TenantID) (*models.Tenant, error) {
	return s.transition(ctx, actor, tenantID, func(t *models.Tenant) error {
		return t.Reactivate(requestcontext.Now(ctx))
	}, "tenant_reactivated")
}

func (s *Service) transition(ctx context.Context, actor *identitymodels.User, tenantID id.TenantID, apply func(*models.Tenant) error, reason string) (*models.Tenant, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	var tenant *models.Tenant
	err := s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		t, err := s.tenants.FindByID(txCtx, tenantID)
		if err != nil {
			return wrapTenantErr(err)
		}
		before := audit.Snapshot(t)
		if err := apply(t); err != nil {
			return err
		}
		if err := s.tenants.Update(txCtx, t); err != nil {
			return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to update tenant")
		}
		if err := s.recorder.Record(txCtx, audit.Entry{
			TenantID:   &t.ID,
			EntityKind: "tenant",
			EntityID:   t.ID.String(),
			Action:     audit.ActionTransition,
			Before:     before,
			After:      audit.Snapshot(t),
			Reason:     reason,
		}); err != nil {
			return err
		}
		tenant = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tenant, nil
}

// UpdateSettings replaces the tenant's typed settings.
func (s *Service) UpdateSettings(ctx context.Context, actor *identitymodels.User, tenantID id.TenantID, settings tenantctx.Settings) (*models.Tenant, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	if settings.ExpiryReminderDays <= 0 {
		return nil, domainerrors.NewValidation("expiry_reminder_days", "must be positive")
	}
	if settings.RenewalGapDays < 0 {
		return nil, domainerrors.NewValidation("renewal_gap_days", "cannot be negative")
	}
	return s.transition(ctx, actor, tenantID, func(t *models.Tenant) error {
		t.Settings = settings
		t.UpdatedAt = requestcontext.Now(ctx)
		return nil
	}, "tenant_settings_updated")
}

// Get loads a tenant by id.
func (s *Service) Get(ctx context.Context, tenantID id.TenantID) (*models.Tenant, error) {
	t, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		return nil, wrapTenantErr(err)
	}
	return t, nil
}

// GetBySlug loads a tenant by its URL slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	t, err := s.tenants.FindBySlug(ctx, slug)
	if err != nil {
		return nil, wrapTenantErr(err)
	}
	return t, nil
}

// List returns all tenants (super admin only).
func (s *Service) List(ctx context.Context, actor *identitymodels.User) ([]*models.Tenant, error) {
	if err := requireSuperAdmin(actor); err != nil {
		return nil, err
	}
	return s.tenants.List(ctx)
}

// ListAll enumerates tenants without an actor check. Internal use only:
// the reconciler iterates tenants from a background context.
func (s *Service) ListAll(ctx context.Context) ([]*models.Tenant, error) {
	return s.tenants.List(ctx)
}

// IsTenantActive satisfies the identity service's TenantChecker.
func (s *Service) IsTenantActive(ctx context.Context, tenantID id.TenantID) (bool, error) {
	t, err := s.tenants.FindByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return t.IsActive(), nil
}

func wrapTenantErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return domainerrors.New(domainerrors.CodeNotFound, "tenant not found")
	}
	return domainerrors.Wrap(err, domainerrors.CodeInternal, "tenant store failure")
}
