// Package service implements customer, vehicle, and ownership operations.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bima/internal/audit"
	"bima/internal/fleet/models"
	"bima/internal/fleet/store"
	"bima/internal/history"
	identitymodels "bima/internal/identity/models"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/platform/sentinel"
	"bima/pkg/platform/tx"
	"bima/pkg/requestcontext"
)

// Store is the persistence surface the service needs.
type Store interface {
	CreateCustomer(ctx context.Context, c *models.Customer) error
	GetCustomer(ctx context.Context, customerID id.CustomerID) (*models.Customer, error)
	UpdateCustomer(ctx context.Context, c *models.Customer) error
	SoftDeleteCustomer(ctx context.Context, customerID id.CustomerID, at time.Time) error
	ListCustomers(ctx context.Context, page id.Page) ([]*models.Customer, error)

	CreateVehicle(ctx context.Context, v *models.Vehicle) error
	GetVehicle(ctx context.Context, vehicleID id.VehicleID) (*models.Vehicle, error)
	UpdateVehicle(ctx context.Context, v *models.Vehicle) error
	ListVehicles(ctx context.Context, filter store.VehicleFilter, page id.Page) ([]*models.Vehicle, error)
	ListVehicleIDs(ctx context.Context) ([]id.VehicleID, error)

	CurrentOwnership(ctx context.Context, vehicleID id.VehicleID) (*models.Ownership, error)
	TransferOwnership(ctx context.Context, vehicleID id.VehicleID, customerID id.CustomerID, at time.Time) (*models.Ownership, error)
	ListOwnerships(ctx context.Context, vehicleID id.VehicleID) ([]*models.Ownership, error)
}

// Authorizer checks the role matrix.
type Authorizer interface {
	Authorize(ctx context.Context, user *identitymodels.User, op identitymodels.Operation) error
}

// Service implements fleet operations.
type Service struct {
	store    Store
	authz    Authorizer
	recorder *audit.Recorder
	snaps    *history.Snapshotter
	runner   tx.Runner
	logger   *slog.Logger
}

// New builds the fleet service.
func New(store Store, authz Authorizer, recorder *audit.Recorder, snaps *history.Snapshotter, runner tx.Runner, logger *slog.Logger) *Service {
	return &Service{store: store, authz: authz, recorder: recorder, snaps: snaps, runner: runner, logger: logger}
}

// --- customers ---

// CreateCustomer registers a customer.
func (s *Service) CreateCustomer(ctx context.Context, actor *identitymodels.User, kind models.CustomerKind, displayName, email, phone string) (*models.Customer, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpWriteCustomer); err != nil {
		return nil, err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	customer, err := models.NewCustomer(tenant.ID, kind, displayName, email, phone, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.CreateCustomer(txCtx, customer); err != nil {
			return wrapStoreErr(err)
		}
		return s.recordCreate(txCtx, tenant.ID, "customer", customer.ID.String(), customer)
	})
	if err != nil {
		return nil, err
	}
	return customer, nil
}

// UpdateCustomer applies a patch to a customer.
func (s *Service) UpdateCustomer(ctx context.Context, actor *identitymodels.User, customerID id.CustomerID, patch func(*models.Customer) error) (*models.Customer, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpWriteCustomer); err != nil {
		return nil, err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	var out *models.Customer
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		customer, err := s.store.GetCustomer(txCtx, customerID)
		if err != nil {
			return wrapStoreErr(err)
		}
		before := audit.Snapshot(customer)
		if err := patch(customer); err != nil {
			return err
		}
		customer.UpdatedAt = requestcontext.Now(txCtx)
		if err := s.store.UpdateCustomer(txCtx, customer); err != nil {
			return wrapStoreErr(err)
		}
		if err := s.recorder.Record(txCtx, audit.Entry{
			TenantID:   &tenant.ID,
			EntityKind: "customer",
			EntityID:   customer.ID.String(),
			Action:     audit.ActionUpdate,
			Before:     before,
			After:      audit.Snapshot(customer),
		}); err != nil {
			return err
		}
		if err := s.snaps.Snapshot(txCtx, &tenant.ID, "customer", customer.ID.String(), customer); err != nil {
			return err
		}
		out = customer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteCustomer soft-deletes a customer; history is preserved.
func (s *Service) DeleteCustomer(ctx context.Context, actor *identitymodels.User, customerID id.CustomerID) error {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpWriteCustomer); err != nil {
		return err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	return s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		customer, err := s.store.GetCustomer(txCtx, customerID)
		if err != nil {
			return wrapStoreErr(err)
		}
		now := requestcontext.Now(txCtx)
		if err := s.store.SoftDeleteCustomer(txCtx, customerID, now); err != nil {
			return wrapStoreErr(err)
		}
		return s.recorder.Record(txCtx, audit.Entry{
			TenantID:   &tenant.ID,
			EntityKind: "customer",
			EntityID:   customerID.String(),
			Action:     audit.ActionSoftDelete,
			Before:     audit.Snapshot(customer),
		})
	})
}

// GetCustomer loads a customer.
func (s *Service) GetCustomer(ctx context.Context, customerID id.CustomerID) (*models.Customer, error) {
	c, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return c, nil
}

// ListCustomers pages through the tenant's customers.
func (s *Service) ListCustomers(ctx context.Context, page id.Page) ([]*models.Customer, error) {
	out, err := s.store.ListCustomers(ctx, page)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return out, nil
}

// --- vehicles ---

// VehicleInput carries the attributes for a new vehicle.
type VehicleInput struct {
	RegistrationPlate string
	ChassisNumber     string
	EngineNumber      string
	VehicleType       models.VehicleType
	UsageCategory     string
	OwnerID           id.CustomerID
}

// CreateVehicle registers a vehicle and its initial ownership.
func (s *Service) CreateVehicle(ctx context.Context, actor *identitymodels.User, in VehicleInput) (*models.Vehicle, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpWriteVehicle); err != nil {
		return nil, err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	if in.OwnerID.IsNil() {
		return nil, domainerrors.NewValidation("owner_id", "vehicle requires an owner")
	}
	if _, err := s.store.GetCustomer(ctx, in.OwnerID); err != nil {
		return nil, wrapStoreErr(err)
	}

	var out *models.Vehicle
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		now := requestcontext.Now(txCtx)
		vehicle, err := models.NewVehicle(tenant.ID, in.RegistrationPlate, in.VehicleType, in.UsageCategory, now)
		if err != nil {
			return err
		}
		vehicle.ChassisNumber = in.ChassisNumber
		vehicle.EngineNumber = in.EngineNumber
		if err := s.store.CreateVehicle(txCtx, vehicle); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return domainerrors.New(domainerrors.CodeConflict, "registration plate already exists in this fleet")
			}
			return wrapStoreErr(err)
		}
		if _, err := s.store.TransferOwnership(txCtx, vehicle.ID, in.OwnerID, now); err != nil {
			return wrapStoreErr(err)
		}
		if err := s.recordCreate(txCtx, tenant.ID, "vehicle", vehicle.ID.String(), vehicle); err != nil {
			return err
		}
		out = vehicle
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateVehicle applies a patch to a vehicle.
func (s *Service) UpdateVehicle(ctx context.Context, actor *identitymodels.User, vehicleID id.VehicleID, patch func(*models.Vehicle) error) (*models.Vehicle, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpWriteVehicle); err != nil {
		return nil, err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	var out *models.Vehicle
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		vehicle, err := s.store.GetVehicle(txCtx, vehicleID)
		if err != nil {
			return wrapStoreErr(err)
		}
		before := audit.Snapshot(vehicle)
		if err := patch(vehicle); err != nil {
			return err
		}
		vehicle.UpdatedAt = requestcontext.Now(txCtx)
		if err := s.store.UpdateVehicle(txCtx, vehicle); err != nil {
			return wrapStoreErr(err)
		}
		if err := s.recorder.Record(txCtx, audit.Entry{
			TenantID:   &tenant.ID,
			EntityKind: "vehicle",
			EntityID:   vehicle.ID.String(),
			Action:     audit.ActionUpdate,
			Before:     before,
			After:      audit.Snapshot(vehicle),
		}); err != nil {
			return err
		}
		if err := s.snaps.Snapshot(txCtx, &tenant.ID, "vehicle", vehicle.ID.String(), vehicle); err != nil {
			return err
		}
		out = vehicle
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetVehicle loads a vehicle.
func (s *Service) GetVehicle(ctx context.Context, vehicleID id.VehicleID) (*models.Vehicle, error) {
	v, err := s.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return v, nil
}

// ListVehicles pages through the tenant's vehicles.
func (s *Service) ListVehicles(ctx context.Context, filter store.VehicleFilter, page id.Page) ([]*models.Vehicle, error) {
	out, err := s.store.ListVehicles(ctx, filter, page)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return out, nil
}

// TransferOwnership closes the current interval and opens one for the new
// owner. Prior intervals stay immutable.
func (s *Service) TransferOwnership(ctx context.Context, actor *identitymodels.User, vehicleID id.VehicleID, newOwnerID id.CustomerID) (*models.Ownership, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpWriteVehicle); err != nil {
		return nil, err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetVehicle(ctx, vehicleID); err != nil {
		return nil, wrapStoreErr(err)
	}
	if _, err := s.store.GetCustomer(ctx, newOwnerID); err != nil {
		return nil, wrapStoreErr(err)
	}
	var out *models.Ownership
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		now := requestcontext.Now(txCtx)
		ownership, err := s.store.TransferOwnership(txCtx, vehicleID, newOwnerID, now)
		if err != nil {
			return wrapStoreErr(err)
		}
		if err := s.recordCreate(txCtx, tenant.ID, "ownership", ownership.ID.String(), ownership); err != nil {
			return err
		}
		out = ownership
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OwnershipHistory lists a vehicle's ownership intervals oldest first.
func (s *Service) OwnershipHistory(ctx context.Context, vehicleID id.VehicleID) ([]*models.Ownership, error) {
	out, err := s.store.ListOwnerships(ctx, vehicleID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return out, nil
}

// VehicleExists satisfies the compliance service's VehicleChecker.
func (s *Service) VehicleExists(ctx context.Context, vehicleID id.VehicleID) error {
	_, err := s.store.GetVehicle(ctx, vehicleID)
	return wrapStoreErr(err)
}

// ListVehicleIDs satisfies the compliance service's VehicleChecker.
func (s *Service) ListVehicleIDs(ctx context.Context) ([]id.VehicleID, error) {
	ids, err := s.store.ListVehicleIDs(ctx)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return ids, nil
}

func (s *Service) recordCreate(ctx context.Context, tenantID id.TenantID, kind, entityID string, entity any) error {
	if err := s.recorder.Record(ctx, audit.Entry{
		TenantID:   &tenantID,
		EntityKind: kind,
		EntityID:   entityID,
		Action:     audit.ActionCreate,
		After:      audit.Snapshot(entity),
	}); err != nil {
		return err
	}
	return s.snaps.Snapshot(ctx, &tenantID, kind, entityID, entity)
}

func wrapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return domainerrors.New(domainerrors.CodeNotFound, "record not found")
	case errors.Is(err, sentinel.ErrConflict):
		return domainerrors.New(domainerrors.CodeConflict, "concurrent modification detected")
	default:
		if domainerrors.CodeOf(err) != domainerrors.CodeInternal {
			return err
		}
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "fleet store failure")
	}
}
