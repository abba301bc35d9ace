package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"bima/internal/audit"
	"bima/internal/compliance/engine"
	"bima/internal/compliance/models"
	compliancestore "bima/internal/compliance/store"
	"bima/internal/history"
	identitymodels "bima/internal/identity/models"
	identityservice "bima/internal/identity/service"
	identitystore "bima/internal/identity/store"
	"bima/internal/platform/logger"
	"bima/internal/platform/metrics"
	"bima/internal/tenantctx"
	"bima/mocks"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/platform/tx"
	"bima/pkg/testutil"
)

type alwaysActiveTenants struct{}

func (alwaysActiveTenants) IsTenantActive(ctx context.Context, tenantID id.TenantID) (bool, error) {
	return true, nil
}

type EngineSuite struct {
	suite.Suite
	store      *compliancestore.InMemory
	auditStore *audit.InMemoryStore
	histStore  *history.InMemoryStore
	notifier   *mocks.MockNotifier
	engine     *engine.Engine
	tenant     tenantctx.ActiveTenant
	admin      *identitymodels.User
	manager    *identitymodels.User
	agent      *identitymodels.User
	vehicleID  id.VehicleID
	now        time.Time
	ctx        context.Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	log := logger.New()
	m := metrics.NewWith(prometheus.NewRegistry())
	s.store = compliancestore.NewInMemory()
	s.auditStore = audit.NewInMemoryStore()
	s.histStore = history.NewInMemoryStore()
	recorder := audit.NewRecorder(s.auditStore, log)
	snaps := history.NewSnapshotter(s.histStore)

	identity, err := identityservice.New(identitystore.NewInMemory(), alwaysActiveTenants{}, recorder, log, m)
	s.Require().NoError(err)

	ctrl := gomock.NewController(s.T())
	s.notifier = mocks.NewMockNotifier(ctrl)

	s.engine = engine.New(s.store, identity, recorder, snaps, tx.NopRunner{}, s.notifier, log, m)

	s.tenant = testutil.NewTenant("acme")
	s.now = testutil.Date(s.T(), "2025-01-15")
	s.ctx = testutil.Context(s.tenant, s.now)
	s.vehicleID = id.NewVehicleID()

	tid := s.tenant.ID
	s.admin = s.newUser("admin@acme.tz", identitymodels.RoleAdmin, &tid)
	s.manager = s.newUser("manager@acme.tz", identitymodels.RoleManager, &tid)
	s.agent = s.newUser("agent@acme.tz", identitymodels.RoleAgent, &tid)
}

func (s *EngineSuite) newUser(email string, role identitymodels.Role, tenantID *id.TenantID) *identitymodels.User {
	u, err := identitymodels.NewUser(id.NewUserID(), email, "x", role, tenantID, s.now)
	s.Require().NoError(err)
	return u
}

func (s *EngineSuite) newPolicy(start, end string, premium id.Money) *models.Policy {
	p, err := models.NewPolicy(s.tenant.ID, s.vehicleID, "POL-2025-ACME-00001",
		testutil.Date(s.T(), start), testutil.Date(s.T(), end), premium, s.now)
	s.Require().NoError(err)
	p.PolicyNumber = "POL-2025-ACME-" + p.ID.String()[:5]
	s.Require().NoError(s.store.CreatePolicy(s.ctx, p))
	return p
}

func (s *EngineSuite) payVerified(policyID id.PolicyID, amount id.Money) {
	payment, err := models.NewPayment(s.tenant.ID, policyID, amount, "MPESA", s.now, s.now)
	s.Require().NoError(err)
	s.Require().NoError(payment.Verify(s.admin.ID, s.now))
	s.Require().NoError(s.store.CreatePayment(s.ctx, payment))
}

// TestHappyActivation covers the full-payment activation path.
func (s *EngineSuite) TestHappyActivation() {
	p := s.newPolicy("2025-01-01", "2025-12-31", 1_000_000_00)
	s.payVerified(p.ID, 1_000_000_00)

	rec, err := s.engine.Activate(s.ctx, s.manager, models.KindPolicy, p.ID.String())
	s.Require().NoError(err)
	s.Equal(models.StatusActive, rec.Life().Status)
	s.Require().NotNil(rec.Life().ActivatedAt)
	s.Equal(s.now, *rec.Life().ActivatedAt)

	entries, err := s.auditStore.ListByEntity(s.ctx, "policy", p.ID.String())
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionTransition, entries[0].Action)
	s.Equal(audit.OutcomeApplied, entries[0].Outcome)

	snapshots, err := s.histStore.ListByEntity(s.ctx, "policy", p.ID.String())
	s.Require().NoError(err)
	s.Require().Len(snapshots, 1)
}

// TestUnderpaymentBlocksActivation: partial payment never activates, and the
// rejected attempt is audited.
func (s *EngineSuite) TestUnderpaymentBlocksActivation() {
	p := s.newPolicy("2025-01-01", "2025-12-31", 1_000_000_00)
	s.payVerified(p.ID, 500_000_00)

	_, err := s.engine.Activate(s.ctx, s.manager, models.KindPolicy, p.ID.String())
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodePaymentIncomplete))

	reloaded, err := s.store.GetPolicy(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDraft, reloaded.Status, "status must be unchanged")

	entries, err := s.auditStore.ListByEntity(s.ctx, "policy", p.ID.String())
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionTransition, entries[0].Action)
	s.Equal(audit.OutcomeRejected, entries[0].Outcome)
}

// TestUnverifiedPaymentsDoNotCount: only verified ledger entries satisfy the
// payment guard.
func (s *EngineSuite) TestUnverifiedPaymentsDoNotCount() {
	p := s.newPolicy("2025-01-01", "2025-12-31", 1_000_000_00)
	payment, err := models.NewPayment(s.tenant.ID, p.ID, 1_000_000_00, "CASH", s.now, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreatePayment(s.ctx, payment))

	_, err = s.engine.Activate(s.ctx, s.manager, models.KindPolicy, p.ID.String())
	s.True(domainerrors.HasCode(err, domainerrors.CodePaymentIncomplete))
}

// TestOverlapRejected: a second activation on the same vehicle fails and the
// first active policy survives.
func (s *EngineSuite) TestOverlapRejected() {
	p1 := s.newPolicy("2025-01-01", "2025-12-31", 1_000_000_00)
	s.payVerified(p1.ID, 1_000_000_00)
	_, err := s.engine.Activate(s.ctx, s.manager, models.KindPolicy, p1.ID.String())
	s.Require().NoError(err)

	p2 := s.newPolicy("2025-06-01", "2026-05-31", 1_000_000_00)
	s.payVerified(p2.ID, 1_000_000_00)
	_, err = s.engine.Activate(s.ctx, s.manager, models.KindPolicy, p2.ID.String())
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeOverlap))

	reloaded1, err := s.store.GetPolicy(s.ctx, p1.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, reloaded1.Status)
	reloaded2, err := s.store.GetPolicy(s.ctx, p2.ID)
	s.Require().NoError(err)
	s.NotEqual(models.StatusActive, reloaded2.Status)
}

// TestParallelActivationSingleWinner: racing activations of two policies on
// one vehicle produce exactly one active policy.
func (s *EngineSuite) TestParallelActivationSingleWinner() {
	p1 := s.newPolicy("2025-01-01", "2025-12-31", 1_000_000_00)
	p2 := s.newPolicy("2025-01-01", "2025-12-31", 1_000_000_00)
	s.payVerified(p1.ID, 1_000_000_00)
	s.payVerified(p2.ID, 1_000_000_00)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, p := range []*models.Policy{p1, p2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.engine.Activate(s.ctx, s.manager, models.KindPolicy, p.ID.String())
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			s.True(domainerrors.HasCode(err, domainerrors.CodeOverlap))
		}
	}
	s.Equal(1, succeeded, "exactly one activation must win")
}

// TestPermitOverlapPerType: permits conflict per (vehicle, permit_type),
// not per vehicle.
func (s *EngineSuite) TestPermitOverlapPerType() {
	newPermit := func(permitType string) *models.Permit {
		p, err := models.NewPermit(s.tenant.ID, s.vehicleID, permitType, "REF-"+permitType, "LATRA",
			testutil.Date(s.T(), "2025-01-01"), testutil.Date(s.T(), "2025-12-31"), s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.store.CreatePermit(s.ctx, p))
		return p
	}

	latra := newPermit("latra_license")
	route := newPermit("route_permit")
	latra2 := newPermit("latra_license")

	_, err := s.engine.Activate(s.ctx, s.manager, models.KindPermit, latra.ID.String())
	s.Require().NoError(err)
	_, err = s.engine.Activate(s.ctx, s.manager, models.KindPermit, route.ID.String())
	s.Require().NoError(err, "different permit type may coexist")
	_, err = s.engine.Activate(s.ctx, s.manager, models.KindPermit, latra2.ID.String())
	s.True(domainerrors.HasCode(err, domainerrors.CodeOverlap))
}

// TestAgentCannotActivate: the role matrix gates activation to admin and
// manager.
func (s *EngineSuite) TestAgentCannotActivate() {
	p := s.newPolicy("2025-01-01", "2025-12-31", 1_000_000_00)
	s.payVerified(p.ID, 1_000_000_00)

	_, err := s.engine.Activate(s.ctx, s.agent, models.KindPolicy, p.ID.String())
	s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden))

	// Permission-guard failures are audited like any other rejection.
	entries, err := s.auditStore.ListByEntity(s.ctx, "policy", p.ID.String())
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(audit.OutcomeRejected, entries[0].Outcome)
	s.Contains(entries[0].Reason, "unauthorized")
}

// TestCancelFreezesRecord covers cancellation plus the immutability that
// follows.
func (s *EngineSuite) TestCancelFreezesRecord() {
	p := s.newPolicy("2025-01-01", "2025-12-31", 1_000_000_00)
	s.payVerified(p.ID, 1_000_000_00)
	_, err := s.engine.Activate(s.ctx, s.manager, models.KindPolicy, p.ID.String())
	s.Require().NoError(err)

	s.notifier.EXPECT().
		NotifyCancellation(gomock.Any(), gomock.Any(), models.ReasonCustomerRequest).
		Return(nil)

	rec, err := s.engine.Cancel(s.ctx, s.admin, models.KindPolicy, p.ID.String(), models.ReasonCustomerRequest, "sold abroad")
	s.Require().NoError(err)
	s.Equal(models.StatusCancelled, rec.Life().Status)
	s.Require().NotNil(rec.Life().CancelledBy)
	s.Equal(s.admin.ID, *rec.Life().CancelledBy)

	// Edits on the frozen record are rejected.
	_, err = s.engine.EditPolicy(s.ctx, s.admin, p.ID, func(p *models.Policy) error {
		p.PremiumAmount = 2_000_000_00
		return nil
	})
	s.True(domainerrors.HasCode(err, domainerrors.CodeImmutable))

	// A second cancel is an invalid transition, not duplicate state.
	_, err = s.engine.Cancel(s.ctx, s.admin, models.KindPolicy, p.ID.String(), models.ReasonOther, "")
	s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))

	// History shows the pre-cancel snapshot.
	snapshots, err := s.histStore.ListByEntity(s.ctx, "policy", p.ID.String())
	s.Require().NoError(err)
	s.Require().Len(snapshots, 2, "activation and cancellation snapshots")
}

// TestCancelReasonVocabulary: non_payment is a policy reason only.
func (s *EngineSuite) TestCancelReasonVocabulary() {
	permit, err := models.NewPermit(s.tenant.ID, s.vehicleID, "route_permit", "REF-1", "LATRA",
		testutil.Date(s.T(), "2025-01-01"), testutil.Date(s.T(), "2025-12-31"), s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreatePermit(s.ctx, permit))

	_, err = s.engine.Cancel(s.ctx, s.admin, models.KindPermit, permit.ID.String(), models.ReasonNonPayment, "")
	s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
}

// TestExpireGuards: only active records past end_date expire.
func (s *EngineSuite) TestExpireGuards() {
	p := s.newPolicy("2025-01-01", "2025-02-28", 1_000_000_00)
	s.payVerified(p.ID, 1_000_000_00)
	_, err := s.engine.Activate(s.ctx, s.manager, models.KindPolicy, p.ID.String())
	s.Require().NoError(err)

	// Too early.
	_, err = s.engine.Expire(s.ctx, models.KindPolicy, p.ID.String())
	s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))

	// After end_date.
	later := testutil.Context(s.tenant, testutil.Date(s.T(), "2025-03-01"))
	rec, err := s.engine.Expire(later, models.KindPolicy, p.ID.String())
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, rec.Life().Status)

	// Expiring twice is an invalid transition.
	_, err = s.engine.Expire(later, models.KindPolicy, p.ID.String())
	s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))
}

// TestRequestActivation moves a draft policy into pending_payment.
func (s *EngineSuite) TestRequestActivation() {
	p := s.newPolicy("2025-01-01", "2025-12-31", 1_000_000_00)

	out, err := s.engine.RequestActivation(s.ctx, s.agent, p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusPendingPayment, out.Status)

	_, err = s.engine.RequestActivation(s.ctx, s.agent, p.ID)
	s.True(domainerrors.HasCode(err, domainerrors.CodeInvalidTransition))
}

// TestEditDraft: drafts stay editable and edits are snapshotted.
func (s *EngineSuite) TestEditDraft() {
	p := s.newPolicy("2025-01-01", "2025-12-31", 1_000_000_00)

	out, err := s.engine.EditPolicy(s.ctx, s.agent, p.ID, func(p *models.Policy) error {
		p.PremiumAmount = 1_500_000_00
		return nil
	})
	s.Require().NoError(err)
	s.Equal(id.Money(1_500_000_00), out.PremiumAmount)

	snapshots, err := s.histStore.ListByEntity(s.ctx, "policy", p.ID.String())
	s.Require().NoError(err)
	s.Len(snapshots, 1)
}
