package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"bima/internal/audit"
	"bima/internal/identity"
	identitymodels "bima/internal/identity/models"
	"bima/internal/identity/service"
	identitystore "bima/internal/identity/store"
	"bima/internal/platform/logger"
	"bima/internal/platform/metrics"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/requestcontext"
)

type tenantChecker struct {
	inactive map[id.TenantID]bool
}

func (c *tenantChecker) IsTenantActive(ctx context.Context, tenantID id.TenantID) (bool, error) {
	return !c.inactive[tenantID], nil
}

type IdentitySuite struct {
	suite.Suite
	users      *identitystore.InMemory
	auditStore *audit.InMemoryStore
	checker    *tenantChecker
	svc        *service.Service
	tenantID   id.TenantID
	now        time.Time
	ctx        context.Context
}

func TestIdentitySuite(t *testing.T) {
	suite.Run(t, new(IdentitySuite))
}

func (s *IdentitySuite) SetupTest() {
	log := logger.New()
	m := metrics.NewWith(prometheus.NewRegistry())
	s.users = identitystore.NewInMemory()
	s.auditStore = audit.NewInMemoryStore()
	s.checker = &tenantChecker{inactive: map[id.TenantID]bool{}}
	recorder := audit.NewRecorder(s.auditStore, log)

	var err error
	s.svc, err = service.New(s.users, s.checker, recorder, log, m)
	s.Require().NoError(err)

	s.tenantID = id.NewTenantID()
	s.now = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *IdentitySuite) seedUser(email, password string, role identitymodels.Role, tenantID *id.TenantID) *identitymodels.User {
	hash, err := identity.HashPassword(password)
	s.Require().NoError(err)
	u, err := identitymodels.NewUser(id.NewUserID(), email, hash, role, tenantID, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.users.Create(s.ctx, u))
	return u
}

func (s *IdentitySuite) TestAuthenticate() {
	s.seedUser("agent@acme.tz", "correct-horse-battery", identitymodels.RoleAgent, &s.tenantID)

	s.Run("valid credentials succeed", func() {
		u, err := s.svc.Authenticate(s.ctx, "agent@acme.tz", "correct-horse-battery")
		s.Require().NoError(err)
		s.Equal("agent@acme.tz", u.Email)
	})

	s.Run("wrong password is uniform unauthenticated", func() {
		_, err := s.svc.Authenticate(s.ctx, "agent@acme.tz", "wrong")
		s.True(domainerrors.HasCode(err, domainerrors.CodeUnauthenticated))
	})

	s.Run("unknown email is uniform unauthenticated", func() {
		_, err := s.svc.Authenticate(s.ctx, "nobody@acme.tz", "whatever")
		s.True(domainerrors.HasCode(err, domainerrors.CodeUnauthenticated))
	})
}

func (s *IdentitySuite) TestLockoutAfterRepeatedFailures() {
	u := s.seedUser("agent@acme.tz", "correct-horse-battery", identitymodels.RoleAgent, &s.tenantID)

	for range 5 {
		_, err := s.svc.Authenticate(s.ctx, "agent@acme.tz", "wrong")
		s.True(domainerrors.HasCode(err, domainerrors.CodeUnauthenticated))
	}

	// Even the right password bounces while locked.
	_, err := s.svc.Authenticate(s.ctx, "agent@acme.tz", "correct-horse-battery")
	s.True(domainerrors.HasCode(err, domainerrors.CodeLocked))

	// The lock expires after its window; success clears the counters.
	later := requestcontext.WithTime(context.Background(), s.now.Add(16*time.Minute))
	logged, err := s.svc.Authenticate(later, "agent@acme.tz", "correct-horse-battery")
	s.Require().NoError(err)
	s.Equal(u.ID, logged.ID)

	stored, err := s.users.FindByID(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Zero(stored.FailedLoginCount)
	s.Nil(stored.LockedUntil)
}

func (s *IdentitySuite) TestSuspendedTenantBlocksLogin() {
	s.seedUser("agent@acme.tz", "correct-horse-battery", identitymodels.RoleAgent, &s.tenantID)
	s.checker.inactive[s.tenantID] = true

	_, err := s.svc.Authenticate(s.ctx, "agent@acme.tz", "correct-horse-battery")
	s.True(domainerrors.HasCode(err, domainerrors.CodeUnauthenticated))
}

func (s *IdentitySuite) TestAuthorizeMatrix() {
	admin := s.seedUser("admin@acme.tz", "password-long-enough", identitymodels.RoleAdmin, &s.tenantID)
	manager := s.seedUser("mgr@acme.tz", "password-long-enough", identitymodels.RoleManager, &s.tenantID)
	agent := s.seedUser("agt@acme.tz", "password-long-enough", identitymodels.RoleAgent, &s.tenantID)
	super := s.seedUser("root@bima.tz", "password-long-enough", identitymodels.RoleSuperAdmin, nil)

	cases := []struct {
		user *identitymodels.User
		op   identitymodels.Operation
		ok   bool
	}{
		{super, identitymodels.OpManageTenants, true},
		{admin, identitymodels.OpManageTenants, false},
		{agent, identitymodels.OpWriteCustomer, true},
		{agent, identitymodels.OpRecordPayment, true},
		{agent, identitymodels.OpVerifyPayment, false},
		{agent, identitymodels.OpActivateRecord, false},
		{manager, identitymodels.OpActivateRecord, true},
		{manager, identitymodels.OpCancelRecord, true},
		{manager, identitymodels.OpDefineDynamicField, false},
		{admin, identitymodels.OpDefineDynamicField, true},
		{agent, identitymodels.OpViewReports, true},
	}
	for _, tc := range cases {
		err := s.svc.Authorize(s.ctx, tc.user, tc.op)
		if tc.ok {
			s.NoError(err, "%s should allow %s", tc.user.Role, tc.op)
		} else {
			s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden), "%s should deny %s", tc.user.Role, tc.op)
		}
	}
}

// TestSuperAdminBusinessWriteIsSecurityEvent: the violation is denied and
// leaves an audited rejection.
func (s *IdentitySuite) TestSuperAdminBusinessWriteIsSecurityEvent() {
	super := s.seedUser("root@bima.tz", "password-long-enough", identitymodels.RoleSuperAdmin, nil)

	err := s.svc.Authorize(s.ctx, super, identitymodels.OpWriteVehicle)
	s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden))

	entries := s.auditStore.All()
	s.Require().Len(entries, 1)
	last := entries[0]
	s.Equal(audit.OutcomeRejected, last.Outcome)
	s.Contains(last.Reason, "super_admin_business_write")
}

func (s *IdentitySuite) TestUserInvariants() {
	s.Run("super admin with tenant is rejected", func() {
		_, err := identitymodels.NewUser(id.NewUserID(), "x@y.tz", "h", identitymodels.RoleSuperAdmin, &s.tenantID, s.now)
		s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
	})
	s.Run("tenant user without tenant is rejected", func() {
		_, err := identitymodels.NewUser(id.NewUserID(), "x@y.tz", "h", identitymodels.RoleAgent, nil, s.now)
		s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
	})
}

func (s *IdentitySuite) TestPasswordReset() {
	super := s.seedUser("root@bima.tz", "password-long-enough", identitymodels.RoleSuperAdmin, nil)
	admin := s.seedUser("admin@acme.tz", "password-long-enough", identitymodels.RoleAdmin, &s.tenantID)
	agent := s.seedUser("agt@acme.tz", "password-long-enough", identitymodels.RoleAgent, &s.tenantID)

	tokens := service.NewResetTokens("test-secret", 30*time.Minute)

	s.Run("only tenant admins are resettable", func() {
		_, err := s.svc.IssuePasswordReset(s.ctx, super, tokens, agent.ID)
		s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden))
	})

	s.Run("issue and consume", func() {
		token, err := s.svc.IssuePasswordReset(s.ctx, super, tokens, admin.ID)
		s.Require().NoError(err)

		s.Require().NoError(s.svc.ConsumePasswordReset(s.ctx, tokens, token, "brand-new-password"))

		_, err = s.svc.Authenticate(s.ctx, "admin@acme.tz", "brand-new-password")
		s.Require().NoError(err)
	})

	s.Run("expired token is rejected", func() {
		token, err := s.svc.IssuePasswordReset(s.ctx, super, tokens, admin.ID)
		s.Require().NoError(err)

		later := requestcontext.WithTime(context.Background(), s.now.Add(time.Hour))
		err = s.svc.ConsumePasswordReset(later, tokens, token, "another-new-password")
		s.True(domainerrors.HasCode(err, domainerrors.CodeUnauthenticated))
	})

	s.Run("non super admin cannot issue", func() {
		_, err := s.svc.IssuePasswordReset(s.ctx, admin, tokens, admin.ID)
		s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden))
	})
}
