//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bima/internal/compliance/models"
	compliancestore "bima/internal/compliance/store"
	tenantmodels "bima/internal/tenant/models"
	tenantstore "bima/internal/tenant/store"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
	"bima/pkg/testutil"
	"bima/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *compliancestore.Postgres
	tenant   *tenantmodels.Tenant
	vehicle  id.VehicleID
	now      time.Time
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetPostgres(s.T())
	s.store = compliancestore.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx,
		"payments", "policies", "permits", "vehicles", "customers", "tenants"))

	s.now = testutil.Date(s.T(), "2025-01-15")
	var err error
	s.tenant, err = tenantmodels.New(id.NewTenantID(), "Acme Insurance", "acme", "ops@acme.tz", s.now)
	s.Require().NoError(err)
	s.Require().NoError(tenantstore.NewPostgres(s.postgres.DB).Create(ctx, s.tenant))

	s.vehicle = id.NewVehicleID()
	s.ctx = testutil.Context(s.tenant.ActiveTenant(), s.now)

	_, err = s.postgres.DB.ExecContext(ctx, `
		INSERT INTO vehicles (id, tenant_id, registration_plate, vehicle_type, status, created_at, updated_at)
		VALUES ($1, $2, 'T123ABC', 'car', 'active', $3, $3)
	`, s.vehicle.String(), s.tenant.ID.String(), s.now)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newPolicy(number string) *models.Policy {
	p, err := models.NewPolicy(s.tenant.ID, s.vehicle, number,
		testutil.Date(s.T(), "2025-01-01"), testutil.Date(s.T(), "2025-12-31"), 1_000_000_00, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreatePolicy(s.ctx, p))
	return p
}

func (s *PostgresStoreSuite) activate(p *models.Policy) error {
	at := s.now
	p.Status = models.StatusActive
	p.ActivatedAt = &at
	return s.store.SaveTransition(s.ctx, p, at)
}

// TestRoundTrip verifies the scan path preserves every lifecycle field.
func (s *PostgresStoreSuite) TestRoundTrip() {
	p := s.newPolicy("POL-2025-ACME-00001")
	s.Require().NoError(s.activate(p))

	got, err := s.store.GetPolicy(s.ctx, p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusActive, got.Status)
	s.Require().NotNil(got.ActivatedAt)
	s.Equal(p.PremiumAmount, got.PremiumAmount)
	s.Equal("POL-2025-ACME-00001", got.PolicyNumber)
}

// TestPartialUniqueIndexBlocksSecondActive: the database, not application
// code, is the authority on the single-active invariant.
func (s *PostgresStoreSuite) TestPartialUniqueIndexBlocksSecondActive() {
	p1 := s.newPolicy("POL-2025-ACME-00001")
	p2 := s.newPolicy("POL-2025-ACME-00002")

	s.Require().NoError(s.activate(p1))
	s.Require().ErrorIs(s.activate(p2), sentinel.ErrConflict)

	// After the first expires, the slot frees up.
	p1.Status = models.StatusExpired
	s.Require().NoError(s.store.SaveTransition(s.ctx, p1, s.now))
	s.Require().NoError(s.activate(p2))
}

// TestParallelActivationRace: many goroutines race to activate policies on
// the same vehicle; the index lets exactly one through.
func (s *PostgresStoreSuite) TestParallelActivationRace() {
	const contenders = 8
	policies := make([]*models.Policy, contenders)
	for i := range policies {
		policies[i] = s.newPolicy(models.FormatPolicyNumber(2025, "acme", i+1))
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i, p := range policies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.activate(p)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			s.Require().ErrorIs(err, sentinel.ErrConflict)
		}
	}
	s.Equal(1, winners)
}

// TestCrossTenantReadsNotFound: rows from another tenant are invisible.
func (s *PostgresStoreSuite) TestCrossTenantReadsNotFound() {
	p := s.newPolicy("POL-2025-ACME-00001")

	other, err := tenantmodels.New(id.NewTenantID(), "Globex", "globex", "ops@globex.tz", s.now)
	s.Require().NoError(err)
	s.Require().NoError(tenantstore.NewPostgres(s.postgres.DB).Create(context.Background(), other))

	otherCtx := testutil.Context(other.ActiveTenant(), s.now)
	_, err = s.store.GetPolicy(otherCtx, p.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// TestPermitIndexPerType: permits conflict per type, not per vehicle.
func (s *PostgresStoreSuite) TestPermitIndexPerType() {
	mk := func(permitType, ref string) *models.Permit {
		p, err := models.NewPermit(s.tenant.ID, s.vehicle, permitType, ref, "LATRA",
			testutil.Date(s.T(), "2025-01-01"), testutil.Date(s.T(), "2025-12-31"), s.now)
		s.Require().NoError(err)
		s.Require().NoError(s.store.CreatePermit(s.ctx, p))
		at := s.now
		p.Status = models.StatusActive
		p.ActivatedAt = &at
		return p
	}

	latra := mk("latra_license", "L-1")
	route := mk("route_permit", "R-1")
	latra2 := mk("latra_license", "L-2")

	s.Require().NoError(s.store.SaveTransition(s.ctx, latra, s.now))
	s.Require().NoError(s.store.SaveTransition(s.ctx, route, s.now))
	s.Require().ErrorIs(s.store.SaveTransition(s.ctx, latra2, s.now), sentinel.ErrConflict)
}

// TestSweepQueries: expiry and reminder windows pick the right rows.
func (s *PostgresStoreSuite) TestSweepQueries() {
	past := s.newPolicy("POL-2025-ACME-00001")
	past.End = testutil.Date(s.T(), "2025-02-28")
	s.Require().NoError(s.store.UpdatePolicyDraft(s.ctx, past))
	s.Require().NoError(s.activate(past))

	later := testutil.Date(s.T(), "2025-03-10")
	expired, err := s.store.ListExpiredActive(testutil.Context(s.tenant.ActiveTenant(), later), later)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal(past.ID.String(), expired[0].RecordID())

	expiring, err := s.store.ListExpiringActive(s.ctx, s.now, s.now.AddDate(0, 2, 0))
	s.Require().NoError(err)
	s.Require().Len(expiring, 1)
}
