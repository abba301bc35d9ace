package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bima/internal/fleet/models"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/platform/sentinel"
	"bima/pkg/testutil"
)

type FleetStoreSuite struct {
	suite.Suite
	store *InMemory
	now   time.Time
	ctxA  context.Context
	ctxB  context.Context
	tenA  id.TenantID
}

func TestFleetStoreSuite(t *testing.T) {
	suite.Run(t, new(FleetStoreSuite))
}

func (s *FleetStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.now = testutil.Date(s.T(), "2025-03-01")
	tenantA := testutil.NewTenant("acme")
	tenantB := testutil.NewTenant("globex")
	s.tenA = tenantA.ID
	s.ctxA = testutil.Context(tenantA, s.now)
	s.ctxB = testutil.Context(tenantB, s.now)
}

func (s *FleetStoreSuite) newCustomer(ctx context.Context, name string) *models.Customer {
	c, err := models.NewCustomer(s.tenA, models.CustomerIndividual, name, "", "", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.CreateCustomer(ctx, c))
	return c
}

// TestTenantIsolation: another tenant's rows are invisible, and a direct
// lookup by id reads as not-found rather than forbidden.
func (s *FleetStoreSuite) TestTenantIsolation() {
	c1 := s.newCustomer(s.ctxA, "Juma Transport Ltd")

	list, err := s.store.ListCustomers(s.ctxB, id.Page{})
	s.Require().NoError(err)
	s.Empty(list, "tenant B must not see tenant A customers")

	_, err = s.store.GetCustomer(s.ctxB, c1.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)

	found, err := s.store.GetCustomer(s.ctxA, c1.ID)
	s.Require().NoError(err)
	s.Equal(c1.DisplayName, found.DisplayName)
}

// TestUnboundContextRejected: every operation without a tenant binding is a
// hard error.
func (s *FleetStoreSuite) TestUnboundContextRejected() {
	c, err := models.NewCustomer(s.tenA, models.CustomerIndividual, "Orphan", "", "", s.now)
	s.Require().NoError(err)

	err = s.store.CreateCustomer(context.Background(), c)
	s.True(domainerrors.HasCode(err, domainerrors.CodeTenantUnbound))

	_, err = s.store.ListCustomers(context.Background(), id.Page{})
	s.True(domainerrors.HasCode(err, domainerrors.CodeTenantUnbound))
}

// TestPlateUniquePerTenant: the same plate may exist in two tenants but not
// twice in one.
func (s *FleetStoreSuite) TestPlateUniquePerTenant() {
	mk := func(ctx context.Context) error {
		v, err := models.NewVehicle(s.tenA, "T123ABC", models.VehicleCar, "commercial", s.now)
		s.Require().NoError(err)
		return s.store.CreateVehicle(ctx, v)
	}
	s.Require().NoError(mk(s.ctxA))
	s.Require().ErrorIs(mk(s.ctxA), sentinel.ErrConflict)
	s.Require().NoError(mk(s.ctxB), "other tenant may reuse the plate")
}

// TestOwnershipTransfer: transfers close the open interval; at most one row
// per vehicle stays current.
func (s *FleetStoreSuite) TestOwnershipTransfer() {
	first := s.newCustomer(s.ctxA, "First Owner")
	second := s.newCustomer(s.ctxA, "Second Owner")
	vehicleID := id.NewVehicleID()

	_, err := s.store.TransferOwnership(s.ctxA, vehicleID, first.ID, s.now)
	s.Require().NoError(err)

	later := s.now.AddDate(0, 2, 0)
	_, err = s.store.TransferOwnership(s.ctxA, vehicleID, second.ID, later)
	s.Require().NoError(err)

	current, err := s.store.CurrentOwnership(s.ctxA, vehicleID)
	s.Require().NoError(err)
	s.Equal(second.ID, current.CustomerID)
	s.Nil(current.ToTS)

	history, err := s.store.ListOwnerships(s.ctxA, vehicleID)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Require().NotNil(history[0].ToTS, "prior interval must be closed")
	s.Equal(later, *history[0].ToTS)
}
