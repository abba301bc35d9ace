// Package store persists compliance records and the payment ledger. The
// in-memory variant enforces the same single-active invariant as the
// postgres partial unique indexes, so engine tests exercise real conflicts.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"bima/internal/compliance/models"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	"bima/pkg/platform/sentinel"
)

// InMemory is the test double for the compliance store.
type InMemory struct {
	mu       sync.Mutex
	policies map[id.PolicyID]*models.Policy
	permits  map[id.PermitID]*models.Permit
	payments map[id.PaymentID]*models.Payment
}

// NewInMemory builds an empty in-memory compliance store.
func NewInMemory() *InMemory {
	return &InMemory{
		policies: make(map[id.PolicyID]*models.Policy),
		permits:  make(map[id.PermitID]*models.Permit),
		payments: make(map[id.PaymentID]*models.Payment),
	}
}

// --- policies ---

func (s *InMemory) CreatePolicy(ctx context.Context, p *models.Policy) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.policies {
		if existing.TenantID == tenant.ID && existing.DeletedAt == nil && existing.PolicyNumber == p.PolicyNumber {
			return sentinel.ErrConflict
		}
	}
	cp := *p
	cp.TenantID = tenant.ID
	s.policies[p.ID] = &cp
	return nil
}

func (s *InMemory) GetPolicy(ctx context.Context, policyID id.PolicyID) (*models.Policy, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[policyID]
	if !ok || p.DeletedAt != nil || p.TenantID != tenant.ID {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemory) UpdatePolicyDraft(ctx context.Context, p *models.Policy) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.policies[p.ID]
	if !ok || existing.TenantID != tenant.ID || existing.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	cp := *p
	cp.TenantID = tenant.ID
	s.policies[p.ID] = &cp
	return nil
}

func (s *InMemory) ListPoliciesByVehicle(ctx context.Context, vehicleID id.VehicleID) ([]*models.Policy, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Policy
	for _, p := range s.policies {
		if p.TenantID == tenant.ID && p.DeletedAt == nil && p.VehicleID == vehicleID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// NextPolicySequence returns the next per-tenant sequence for the year.
func (s *InMemory) NextPolicySequence(ctx context.Context, year int) (int, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, p := range s.policies {
		if p.TenantID == tenant.ID && p.CreatedAt.Year() == year {
			count++
		}
	}
	return count + 1, nil
}

// --- permits ---

func (s *InMemory) CreatePermit(ctx context.Context, p *models.Permit) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.TenantID = tenant.ID
	s.permits[p.ID] = &cp
	return nil
}

func (s *InMemory) GetPermit(ctx context.Context, permitID id.PermitID) (*models.Permit, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permits[permitID]
	if !ok || p.DeletedAt != nil || p.TenantID != tenant.ID {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemory) UpdatePermitDraft(ctx context.Context, p *models.Permit) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.permits[p.ID]
	if !ok || existing.TenantID != tenant.ID || existing.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	cp := *p
	cp.TenantID = tenant.ID
	s.permits[p.ID] = &cp
	return nil
}

func (s *InMemory) ListPermitsByVehicle(ctx context.Context, vehicleID id.VehicleID) ([]*models.Permit, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Permit
	for _, p := range s.permits {
		if p.TenantID == tenant.ID && p.DeletedAt == nil && p.VehicleID == vehicleID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListAllPolicies returns every live policy in the active tenant.
func (s *InMemory) ListAllPolicies(ctx context.Context) ([]*models.Policy, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Policy
	for _, p := range s.policies {
		if p.TenantID == tenant.ID && p.DeletedAt == nil {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListAllPermits returns every live permit in the active tenant.
func (s *InMemory) ListAllPermits(ctx context.Context) ([]*models.Permit, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Permit
	for _, p := range s.permits {
		if p.TenantID == tenant.ID && p.DeletedAt == nil {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- transitions ---

// Get loads a record of either kind by its raw id.
func (s *InMemory) Get(ctx context.Context, kind models.Kind, rawID string) (models.Record, error) {
	switch kind {
	case models.KindPolicy:
		pid, err := id.ParsePolicyID(rawID)
		if err != nil {
			return nil, err
		}
		return s.GetPolicy(ctx, pid)
	case models.KindPermit:
		pid, err := id.ParsePermitID(rawID)
		if err != nil {
			return nil, err
		}
		return s.GetPermit(ctx, pid)
	}
	return nil, sentinel.ErrNotFound
}

// SaveTransition persists the record's lifecycle fields. Activations that
// would produce a second active record for the same (vehicle, conflict key)
// fail with sentinel.ErrConflict, mirroring the postgres partial unique
// index.
func (s *InMemory) SaveTransition(ctx context.Context, rec models.Record, at time.Time) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Life().Status == models.StatusActive {
		if s.hasOtherActiveLocked(tenant.ID, rec) {
			return sentinel.ErrConflict
		}
	}

	switch r := rec.(type) {
	case *models.Policy:
		existing, ok := s.policies[r.ID]
		if !ok || existing.TenantID != tenant.ID || existing.DeletedAt != nil {
			return sentinel.ErrNotFound
		}
		cp := *r
		cp.TenantID = tenant.ID
		cp.UpdatedAt = at
		s.policies[r.ID] = &cp
	case *models.Permit:
		existing, ok := s.permits[r.ID]
		if !ok || existing.TenantID != tenant.ID || existing.DeletedAt != nil {
			return sentinel.ErrNotFound
		}
		cp := *r
		cp.TenantID = tenant.ID
		cp.UpdatedAt = at
		s.permits[r.ID] = &cp
	default:
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *InMemory) hasOtherActiveLocked(tenantID id.TenantID, rec models.Record) bool {
	switch rec.RecordKind() {
	case models.KindPolicy:
		for _, p := range s.policies {
			if p.TenantID == tenantID && p.DeletedAt == nil &&
				p.VehicleID == rec.RecordVehicleID() && p.Status == models.StatusActive &&
				p.ID.String() != rec.RecordID() {
				return true
			}
		}
	case models.KindPermit:
		for _, p := range s.permits {
			if p.TenantID == tenantID && p.DeletedAt == nil &&
				p.VehicleID == rec.RecordVehicleID() && p.Status == models.StatusActive &&
				p.PermitType == rec.ConflictKey() && p.ID.String() != rec.RecordID() {
				return true
			}
		}
	}
	return false
}

// ListExpiredActive returns active records whose end_date precedes today.
func (s *InMemory) ListExpiredActive(ctx context.Context, today time.Time) ([]models.Record, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	today = models.DateOnly(today)
	var out []models.Record
	for _, p := range s.policies {
		if p.TenantID == tenant.ID && p.DeletedAt == nil && p.Status == models.StatusActive && models.DateOnly(p.End).Before(today) {
			cp := *p
			out = append(out, &cp)
		}
	}
	for _, p := range s.permits {
		if p.TenantID == tenant.ID && p.DeletedAt == nil && p.Status == models.StatusActive && models.DateOnly(p.End).Before(today) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListExpiringActive returns active records with end_date within [today, until].
func (s *InMemory) ListExpiringActive(ctx context.Context, today, until time.Time) ([]models.Record, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	today = models.DateOnly(today)
	until = models.DateOnly(until)
	inRange := func(end time.Time) bool {
		end = models.DateOnly(end)
		return !end.Before(today) && !end.After(until)
	}
	var out []models.Record
	for _, p := range s.policies {
		if p.TenantID == tenant.ID && p.DeletedAt == nil && p.Status == models.StatusActive && inRange(p.End) {
			cp := *p
			out = append(out, &cp)
		}
	}
	for _, p := range s.permits {
		if p.TenantID == tenant.ID && p.DeletedAt == nil && p.Status == models.StatusActive && inRange(p.End) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- payments ---

func (s *InMemory) CreatePayment(ctx context.Context, p *models.Payment) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.TenantID = tenant.ID
	s.payments[p.ID] = &cp
	return nil
}

func (s *InMemory) GetPayment(ctx context.Context, paymentID id.PaymentID) (*models.Payment, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok || p.DeletedAt != nil || p.TenantID != tenant.ID {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemory) UpdatePayment(ctx context.Context, p *models.Payment) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.payments[p.ID]
	if !ok || existing.TenantID != tenant.ID || existing.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	cp := *p
	cp.TenantID = tenant.ID
	s.payments[p.ID] = &cp
	return nil
}

func (s *InMemory) ListPaymentsByPolicy(ctx context.Context, policyID id.PolicyID) ([]*models.Payment, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Payment
	for _, p := range s.payments {
		if p.TenantID == tenant.ID && p.DeletedAt == nil && p.PolicyID == policyID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

// SumVerifiedPayments totals the verified ledger entries for a policy.
func (s *InMemory) SumVerifiedPayments(ctx context.Context, policyID id.PolicyID) (id.Money, error) {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var total id.Money
	for _, p := range s.payments {
		if p.TenantID == tenant.ID && p.DeletedAt == nil && p.PolicyID == policyID && p.IsVerified() {
			total += p.Amount
		}
	}
	return total, nil
}
