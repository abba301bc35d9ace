package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"bima/internal/fleet/models"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
)

// InMemory is the test double for the fleet store. It enforces the same
// tenant scoping and uniqueness rules as the postgres store so service and
// engine tests exercise real behavior.
type InMemory struct {
	mu         sync.RWMutex
	customers  map[id.CustomerID]*models.Customer
	vehicles   map[id.VehicleID]*models.Vehicle
	ownerships map[id.OwnershipID]*models.Ownership
}

// NewInMemory builds an empty in-memory fleet store.
func NewInMemory() *InMemory {
	return &InMemory{
		customers:  make(map[id.CustomerID]*models.Customer),
		vehicles:   make(map[id.VehicleID]*models.Vehicle),
		ownerships: make(map[id.OwnershipID]*models.Ownership),
	}
}

// --- customers ---

func (s *InMemory) CreateCustomer(ctx context.Context, c *models.Customer) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.TenantID = tenant.ID
	s.customers[c.ID] = &cp
	return nil
}

func (s *InMemory) GetCustomer(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[customerID]
	if !ok || c.DeletedAt != nil || c.TenantID != tenant.ID {
		return nil, sentinel.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *InMemory) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.customers[c.ID]
	if !ok || existing.TenantID != tenant.ID || existing.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	cp := *c
	cp.TenantID = tenant.ID
	s.customers[c.ID] = &cp
	return nil
}

func (s *InMemory) SoftDeleteCustomer(ctx context.Context, customerID id.CustomerID, at time.Time) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[customerID]
	if !ok || c.TenantID != tenant.ID || c.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	c.DeletedAt = &at
	return nil
}

func (s *InMemory) ListCustomers(ctx context.Context, page id.Page) ([]*models.Customer, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Customer
	for _, c := range s.customers {
		if c.TenantID == tenant.ID && c.DeletedAt == nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, page), nil
}

// --- vehicles ---

func (s *InMemory) CreateVehicle(ctx context.Context, v *models.Vehicle) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.vehicles {
		if existing.TenantID == tenant.ID && existing.DeletedAt == nil &&
			strings.EqualFold(existing.RegistrationPlate, v.RegistrationPlate) {
			return sentinel.ErrConflict
		}
	}
	cp := *v
	cp.TenantID = tenant.ID
	s.vehicles[v.ID] = &cp
	return nil
}

func (s *InMemory) GetVehicle(ctx context.Context, vehicleID id.VehicleID) (*models.Vehicle, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[vehicleID]
	if !ok || v.DeletedAt != nil || v.TenantID != tenant.ID {
		return nil, sentinel.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *InMemory) UpdateVehicle(ctx context.Context, v *models.Vehicle) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.vehicles[v.ID]
	if !ok || existing.TenantID != tenant.ID || existing.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	cp := *v
	cp.TenantID = tenant.ID
	s.vehicles[v.ID] = &cp
	return nil
}

// VehicleFilter narrows vehicle listings.
type VehicleFilter struct {
	Status      models.VehicleStatus
	VehicleType models.VehicleType
}

func (s *InMemory) ListVehicles(ctx context.Context, filter VehicleFilter, page id.Page) ([]*models.Vehicle, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Vehicle
	for _, v := range s.vehicles {
		if v.TenantID != tenant.ID || v.DeletedAt != nil {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.VehicleType != "" && v.VehicleType != filter.VehicleType {
			continue
		}
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, page), nil
}

func (s *InMemory) ListVehicleIDs(ctx context.Context) ([]id.VehicleID, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.VehicleID
	for _, v := range s.vehicles {
		if v.TenantID == tenant.ID && v.DeletedAt == nil {
			out = append(out, v.ID)
		}
	}
	return out, nil
}

// --- ownership ---

// CurrentOwnership returns the open interval for the vehicle, if any.
func (s *InMemory) CurrentOwnership(ctx context.Context, vehicleID id.VehicleID) (*models.Ownership, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.ownerships {
		if o.TenantID == tenant.ID && o.VehicleID == vehicleID && o.ToTS == nil {
			cp := *o
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// TransferOwnership closes the current interval (if any) and opens a new one
// atomically under the store lock.
func (s *InMemory) TransferOwnership(ctx context.Context, vehicleID id.VehicleID, customerID id.CustomerID, at time.Time) (*models.Ownership, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.ownerships {
		if o.TenantID == tenant.ID && o.VehicleID == vehicleID && o.ToTS == nil {
			t := at
			o.ToTS = &t
		}
	}
	next := &models.Ownership{
		ID:         id.NewOwnershipID(),
		TenantID:   tenant.ID,
		VehicleID:  vehicleID,
		CustomerID: customerID,
		FromTS:     at,
		CreatedAt:  at,
	}
	s.ownerships[next.ID] = next
	cp := *next
	return &cp, nil
}

func (s *InMemory) ListOwnerships(ctx context.Context, vehicleID id.VehicleID) ([]*models.Ownership, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Ownership
	for _, o := range s.ownerships {
		if o.TenantID == tenant.ID && o.VehicleID == vehicleID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FromTS.Before(out[j].FromTS) })
	return out, nil
}

func paginate[T any](in []*T, page id.Page) []*T {
	page = page.Normalize()
	start := page.Offset()
	if start >= len(in) {
		return nil
	}
	end := start + page.Size
	if end > len(in) {
		end = len(in)
	}
	return in[start:end]
}
