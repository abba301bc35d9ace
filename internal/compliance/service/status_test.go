package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"bima/internal/audit"
	"bima/internal/compliance/models"
	"bima/internal/compliance/service"
	compliancestore "bima/internal/compliance/store"
	"bima/internal/history"
	identitymodels "bima/internal/identity/models"
	identityservice "bima/internal/identity/service"
	identitystore "bima/internal/identity/store"
	"bima/internal/platform/logger"
	"bima/internal/platform/metrics"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/platform/tx"
	"bima/pkg/testutil"
)

type stubVehicles struct {
	ids map[id.VehicleID]bool
}

func (s *stubVehicles) VehicleExists(ctx context.Context, vehicleID id.VehicleID) error {
	if !s.ids[vehicleID] {
		return domainerrors.New(domainerrors.CodeNotFound, "vehicle not found")
	}
	return nil
}

func (s *stubVehicles) ListVehicleIDs(ctx context.Context) ([]id.VehicleID, error) {
	var out []id.VehicleID
	for v := range s.ids {
		out = append(out, v)
	}
	return out, nil
}

type alwaysActiveTenants struct{}

func (alwaysActiveTenants) IsTenantActive(ctx context.Context, tenantID id.TenantID) (bool, error) {
	return true, nil
}

type StatusSuite struct {
	suite.Suite
	store    *compliancestore.InMemory
	vehicles *stubVehicles
	svc      *service.Service
	admin    *identitymodels.User
	tenant   tenantctx.ActiveTenant
	vehicle  id.VehicleID
	now      time.Time
	ctx      context.Context
}

func TestStatusSuite(t *testing.T) {
	suite.Run(t, new(StatusSuite))
}

func (s *StatusSuite) SetupTest() {
	log := logger.New()
	m := metrics.NewWith(prometheus.NewRegistry())
	s.store = compliancestore.NewInMemory()
	recorder := audit.NewRecorder(audit.NewInMemoryStore(), log)
	snaps := history.NewSnapshotter(history.NewInMemoryStore())
	identity, err := identityservice.New(identitystore.NewInMemory(), alwaysActiveTenants{}, recorder, log, m)
	s.Require().NoError(err)

	s.vehicle = id.NewVehicleID()
	s.vehicles = &stubVehicles{ids: map[id.VehicleID]bool{s.vehicle: true}}
	s.svc = service.New(s.store, s.vehicles, identity, recorder, snaps, tx.NopRunner{}, log)

	s.tenant = testutil.NewTenant("acme")
	s.now = testutil.Date(s.T(), "2025-01-10")
	s.ctx = testutil.Context(s.tenant, s.now)

	tid := s.tenant.ID
	s.admin, err = identitymodels.NewUser(id.NewUserID(), "admin@acme.tz", "x", identitymodels.RoleAdmin, &tid, s.now)
	s.Require().NoError(err)
}

// activePolicy seeds an active policy activated at activatedAt.
func (s *StatusSuite) activePolicy(start, end, activatedAt string) *models.Policy {
	p, err := models.NewPolicy(s.tenant.ID, s.vehicle, "POL-"+start+end,
		testutil.Date(s.T(), start), testutil.Date(s.T(), end), 1_000_000_00, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreatePolicy(s.ctx, p))
	at := testutil.Date(s.T(), activatedAt)
	p.Status = models.StatusActive
	p.ActivatedAt = &at
	s.Require().NoError(s.store.SaveTransition(s.ctx, p, at))
	return p
}

func (s *StatusSuite) statusAt(asOf string, riskWindow int) *service.VehicleCompliance {
	result, err := s.svc.VehicleStatus(s.ctx, s.vehicle, testutil.Date(s.T(), asOf), riskWindow)
	s.Require().NoError(err)
	return result
}

// TestCompliantMidTerm mirrors the happy-path scenario: a fully active
// policy keeps the vehicle compliant mid-term.
func (s *StatusSuite) TestCompliantMidTerm() {
	s.activePolicy("2025-01-01", "2025-12-31", "2025-01-10")
	result := s.statusAt("2025-06-01", 30)
	s.Equal(service.StatusCompliant, result.Status)
	s.Empty(result.Issues)
	s.Empty(result.Expiring)
}

// TestNoInsurance: a vehicle with no in-force policy is non-compliant.
func (s *StatusSuite) TestNoInsurance() {
	result := s.statusAt("2025-06-01", 30)
	s.Equal(service.StatusNonCompliant, result.Status)
	s.Contains(result.Issues, "no active insurance")
}

// TestAtRiskNearExpiry: an active record inside the risk window downgrades
// the vehicle to at_risk.
func (s *StatusSuite) TestAtRiskNearExpiry() {
	s.activePolicy("2025-01-01", "2025-12-31", "2025-01-10")
	result := s.statusAt("2025-12-15", 30)
	s.Equal(service.StatusAtRisk, result.Status)
	s.Require().Len(result.Expiring, 1)
	s.Equal(models.KindPolicy, result.Expiring[0].Kind)
}

// TestRequiredPermitMissing: tenants that require LATRA are non-compliant
// without an active latra_license permit.
func (s *StatusSuite) TestRequiredPermitMissing() {
	s.tenant.Settings.RequiredPermitTypes = []string{tenantctx.PermitTypeLATRA}
	s.ctx = testutil.Context(s.tenant, s.now)

	s.activePolicy("2025-01-01", "2025-12-31", "2025-01-10")
	result := s.statusAt("2025-06-01", 30)
	s.Equal(service.StatusNonCompliant, result.Status)
	s.Contains(result.Issues, "no active latra_license permit")
}

// TestFutureStartNotInForce: an activated policy whose start_date is ahead
// does not count until the start date arrives.
func (s *StatusSuite) TestFutureStartNotInForce() {
	s.activePolicy("2025-03-01", "2026-02-28", "2025-01-10")

	before := s.statusAt("2025-02-01", 30)
	s.Equal(service.StatusNonCompliant, before.Status)

	after := s.statusAt("2025-03-15", 30)
	s.Equal(service.StatusCompliant, after.Status)
}

// TestTimeTravel: a policy cancelled later still counts at a date inside
// its active window, so historical answers stay stable.
func (s *StatusSuite) TestTimeTravel() {
	p := s.activePolicy("2025-01-01", "2025-12-31", "2025-01-10")

	cancelledAt := testutil.Date(s.T(), "2025-07-01")
	p.Status = models.StatusCancelled
	p.CancelledAt = &cancelledAt
	s.Require().NoError(s.store.SaveTransition(s.ctx, p, cancelledAt))

	during := s.statusAt("2025-06-01", 30)
	s.Equal(service.StatusCompliant, during.Status)

	after := s.statusAt("2025-08-01", 30)
	s.Equal(service.StatusNonCompliant, after.Status)
}

// TestTenantSummary aggregates per-vehicle statuses.
func (s *StatusSuite) TestTenantSummary() {
	uncovered := id.NewVehicleID()
	s.vehicles.ids[uncovered] = true
	s.activePolicy("2025-01-01", "2025-12-31", "2025-01-10")

	summary, err := s.svc.TenantSummary(s.ctx, testutil.Date(s.T(), "2025-06-01"))
	s.Require().NoError(err)
	s.Equal(2, summary.Total)
	s.Equal(1, summary.Compliant)
	s.Equal(0, summary.AtRisk)
	s.Equal(1, summary.NonCompliant)
}

// TestRenewalDraftsGaplessSuccessor: the successor begins the day after the
// predecessor ends and carries the premium forward.
func (s *StatusSuite) TestRenewalDraftsGaplessSuccessor() {
	p := s.activePolicy("2025-01-01", "2025-12-31", "2025-01-10")

	successor, err := s.svc.RenewPolicy(s.ctx, s.admin, p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusDraft, successor.Status)
	s.Equal(testutil.Date(s.T(), "2026-01-01"), successor.Start)
	s.Equal(p.PremiumAmount, successor.PremiumAmount)
	s.Equal(p.VehicleID, successor.VehicleID)
}
