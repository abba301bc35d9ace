package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bima/internal/audit"
	identitymodels "bima/internal/identity/models"
	"bima/internal/platform/logger"
	"bima/internal/tenant/service"
	tenantstore "bima/internal/tenant/store"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/platform/tx"
	"bima/pkg/requestcontext"
)

type TenantServiceSuite struct {
	suite.Suite
	svc   *service.Service
	super *identitymodels.User
	admin *identitymodels.User
	ctx   context.Context
}

func TestTenantServiceSuite(t *testing.T) {
	suite.Run(t, new(TenantServiceSuite))
}

func (s *TenantServiceSuite) SetupTest() {
	log := logger.New()
	recorder := audit.NewRecorder(audit.NewInMemoryStore(), log)
	s.svc = service.New(tenantstore.NewInMemory(), recorder, tx.NopRunner{}, log)

	now := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), now)

	var err error
	s.super, err = identitymodels.NewUser(id.NewUserID(), "root@bima.tz", "h", identitymodels.RoleSuperAdmin, nil, now)
	s.Require().NoError(err)
	tid := id.NewTenantID()
	s.admin, err = identitymodels.NewUser(id.NewUserID(), "admin@acme.tz", "h", identitymodels.RoleAdmin, &tid, now)
	s.Require().NoError(err)
}

func (s *TenantServiceSuite) TestCreate() {
	s.Run("super admin creates tenant", func() {
		tenant, err := s.svc.Create(s.ctx, s.super, "Acme Insurance", "acme", "ops@acme.tz")
		s.Require().NoError(err)
		s.Equal("acme", tenant.Slug)
		s.True(tenant.IsActive())
		s.Equal(tenantctx.DefaultExpiryReminderDays, tenant.Settings.ExpiryReminderDays)
	})

	s.Run("duplicate slug conflicts", func() {
		_, err := s.svc.Create(s.ctx, s.super, "Acme Clone", "acme", "ops@clone.tz")
		s.True(domainerrors.HasCode(err, domainerrors.CodeConflict))
	})

	s.Run("tenant admin cannot create tenants", func() {
		_, err := s.svc.Create(s.ctx, s.admin, "Rogue", "rogue", "x@y.tz")
		s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden))
	})

	s.Run("bad slug is rejected", func() {
		_, err := s.svc.Create(s.ctx, s.super, "Bad Slug", "Bad Slug!", "x@y.tz")
		s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
	})
}

func (s *TenantServiceSuite) TestSuspendAndReactivate() {
	tenant, err := s.svc.Create(s.ctx, s.super, "Acme Insurance", "acme", "ops@acme.tz")
	s.Require().NoError(err)

	suspended, err := s.svc.Suspend(s.ctx, s.super, tenant.ID)
	s.Require().NoError(err)
	s.False(suspended.IsActive())

	active, err := s.svc.IsTenantActive(s.ctx, tenant.ID)
	s.Require().NoError(err)
	s.False(active)

	_, err = s.svc.Suspend(s.ctx, s.super, tenant.ID)
	s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))

	reactivated, err := s.svc.Reactivate(s.ctx, s.super, tenant.ID)
	s.Require().NoError(err)
	s.True(reactivated.IsActive())
}

func (s *TenantServiceSuite) TestUpdateSettings() {
	tenant, err := s.svc.Create(s.ctx, s.super, "Acme Insurance", "acme", "ops@acme.tz")
	s.Require().NoError(err)

	updated, err := s.svc.UpdateSettings(s.ctx, s.super, tenant.ID, tenantctx.Settings{
		ExpiryReminderDays:  14,
		RequiredPermitTypes: []string{tenantctx.PermitTypeLATRA},
		RenewalGapDays:      1,
	})
	s.Require().NoError(err)
	s.Equal(14, updated.Settings.ExpiryReminderDays)
	s.Equal([]string{tenantctx.PermitTypeLATRA}, updated.Settings.RequiredPermitTypes)

	_, err = s.svc.UpdateSettings(s.ctx, s.super, tenant.ID, tenantctx.Settings{ExpiryReminderDays: 0})
	s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
}
