// Package service exposes the compliance operations built on the lifecycle
// engine: draft creation, renewal, the payment ledger, and the per-vehicle
// and per-tenant compliance status computation.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"bima/internal/audit"
	"bima/internal/compliance/models"
	"bima/internal/history"
	identitymodels "bima/internal/identity/models"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/platform/sentinel"
	"bima/pkg/platform/tx"
	"bima/pkg/requestcontext"
)

// Store is the persistence surface the service needs beyond the engine's.
type Store interface {
	CreatePolicy(ctx context.Context, p *models.Policy) error
	GetPolicy(ctx context.Context, policyID id.PolicyID) (*models.Policy, error)
	ListPoliciesByVehicle(ctx context.Context, vehicleID id.VehicleID) ([]*models.Policy, error)
	NextPolicySequence(ctx context.Context, year int) (int, error)
	CreatePermit(ctx context.Context, p *models.Permit) error
	GetPermit(ctx context.Context, permitID id.PermitID) (*models.Permit, error)
	ListPermitsByVehicle(ctx context.Context, vehicleID id.VehicleID) ([]*models.Permit, error)
	ListAllPolicies(ctx context.Context) ([]*models.Policy, error)
	ListAllPermits(ctx context.Context) ([]*models.Permit, error)
	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, paymentID id.PaymentID) (*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment) error
	ListPaymentsByPolicy(ctx context.Context, policyID id.PolicyID) ([]*models.Payment, error)
	SumVerifiedPayments(ctx context.Context, policyID id.PolicyID) (id.Money, error)
}

// VehicleChecker confirms the target vehicle exists in the active tenant.
type VehicleChecker interface {
	VehicleExists(ctx context.Context, vehicleID id.VehicleID) error
	ListVehicleIDs(ctx context.Context) ([]id.VehicleID, error)
}

// Authorizer checks the role matrix.
type Authorizer interface {
	Authorize(ctx context.Context, user *identitymodels.User, op identitymodels.Operation) error
}

// Service implements compliance operations.
type Service struct {
	store    Store
	vehicles VehicleChecker
	authz    Authorizer
	recorder *audit.Recorder
	snaps    *history.Snapshotter
	runner   tx.Runner
	logger   *slog.Logger
}

// New builds the compliance service.
func New(store Store, vehicles VehicleChecker, authz Authorizer, recorder *audit.Recorder, snaps *history.Snapshotter, runner tx.Runner, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		vehicles: vehicles,
		authz:    authz,
		recorder: recorder,
		snaps:    snaps,
		runner:   runner,
		logger:   logger,
	}
}

// PolicyDraftInput carries the attributes for a new policy draft.
type PolicyDraftInput struct {
	VehicleID      id.VehicleID
	Start, End     time.Time
	PremiumAmount  id.Money
	CoverageAmount id.Money
	PolicyType     string
	Notes          string
}

// CreatePolicyDraft creates a draft policy with a generated policy number.
func (s *Service) CreatePolicyDraft(ctx context.Context, actor *identitymodels.User, in PolicyDraftInput) (*models.Policy, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpCreateDraft); err != nil {
		return nil, err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.vehicles.VehicleExists(ctx, in.VehicleID); err != nil {
		return nil, err
	}

	var out *models.Policy
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		now := requestcontext.Now(txCtx)
		seq, err := s.store.NextPolicySequence(txCtx, now.Year())
		if err != nil {
			return wrapStoreErr(err)
		}
		number := models.FormatPolicyNumber(now.Year(), tenant.Slug, seq)
		policy, err := models.NewPolicy(tenant.ID, in.VehicleID, number, in.Start, in.End, in.PremiumAmount, now)
		if err != nil {
			return err
		}
		policy.CoverageAmount = in.CoverageAmount
		policy.PolicyType = in.PolicyType
		policy.Notes = in.Notes
		if err := s.store.CreatePolicy(txCtx, policy); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return domainerrors.New(domainerrors.CodeConflict, "policy number collision, retry")
			}
			return wrapStoreErr(err)
		}
		if err := s.recordCreate(txCtx, tenant.ID, string(models.KindPolicy), policy.ID.String(), policy); err != nil {
			return err
		}
		out = policy
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PermitDraftInput carries the attributes for a new permit draft.
type PermitDraftInput struct {
	VehicleID        id.VehicleID
	PermitType       string
	ReferenceNumber  string
	IssuingAuthority string
	Route            string
	Start, End       time.Time
}

// CreatePermitDraft creates a draft permit (LATRA records included).
func (s *Service) CreatePermitDraft(ctx context.Context, actor *identitymodels.User, in PermitDraftInput) (*models.Permit, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpCreateDraft); err != nil {
		return nil, err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.vehicles.VehicleExists(ctx, in.VehicleID); err != nil {
		return nil, err
	}

	var out *models.Permit
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		now := requestcontext.Now(txCtx)
		permit, err := models.NewPermit(tenant.ID, in.VehicleID, in.PermitType, in.ReferenceNumber, in.IssuingAuthority, in.Start, in.End, now)
		if err != nil {
			return err
		}
		permit.Route = in.Route
		if err := s.store.CreatePermit(txCtx, permit); err != nil {
			return wrapStoreErr(err)
		}
		if err := s.recordCreate(txCtx, tenant.ID, string(models.KindPermit), permit.ID.String(), permit); err != nil {
			return err
		}
		out = permit
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RenewPolicy drafts a successor whose coverage begins at the predecessor's
// end plus the tenant's renewal gap. The predecessor is left to expire
// naturally; the successor activates only after it has.
func (s *Service) RenewPolicy(ctx context.Context, actor *identitymodels.User, policyID id.PolicyID) (*models.Policy, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpCreateDraft); err != nil {
		return nil, err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	pred, err := s.store.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if pred.Status == models.StatusCancelled {
		return nil, domainerrors.New(domainerrors.CodeInvalidTransition, "cancelled policies cannot be renewed")
	}
	gap := tenant.Settings.RenewalGapDays
	if gap < 1 {
		gap = 1
	}
	start := models.DateOnly(pred.End).AddDate(0, 0, gap)
	end := start.AddDate(0, 0, int(models.DateOnly(pred.End).Sub(models.DateOnly(pred.Start)).Hours()/24))
	return s.CreatePolicyDraft(ctx, actor, PolicyDraftInput{
		VehicleID:      pred.VehicleID,
		Start:          start,
		End:            end,
		PremiumAmount:  pred.PremiumAmount,
		CoverageAmount: pred.CoverageAmount,
		PolicyType:     pred.PolicyType,
		Notes:          "renewal of " + pred.PolicyNumber,
	})
}

// RecordPayment appends an unverified ledger entry for a policy.
func (s *Service) RecordPayment(ctx context.Context, actor *identitymodels.User, policyID id.PolicyID, amount id.Money, reference string, receivedAt time.Time) (*models.Payment, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpRecordPayment); err != nil {
		return nil, err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	policy, err := s.store.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if policy.IsTerminal() {
		return nil, domainerrors.New(domainerrors.CodeInvalidTransition, "cannot record payments against a closed policy")
	}

	var out *models.Payment
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		now := requestcontext.Now(txCtx)
		payment, err := models.NewPayment(tenant.ID, policyID, amount, reference, receivedAt, now)
		if err != nil {
			return err
		}
		if err := s.store.CreatePayment(txCtx, payment); err != nil {
			return wrapStoreErr(err)
		}
		if err := s.recordCreate(txCtx, tenant.ID, "payment", payment.ID.String(), payment); err != nil {
			return err
		}
		out = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VerifyPayment marks a ledger entry verified; only verified entries count
// toward activation.
func (s *Service) VerifyPayment(ctx context.Context, actor *identitymodels.User, paymentID id.PaymentID) (*models.Payment, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpVerifyPayment); err != nil {
		return nil, err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}

	var out *models.Payment
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		payment, err := s.store.GetPayment(txCtx, paymentID)
		if err != nil {
			return wrapStoreErr(err)
		}
		before := audit.Snapshot(payment)
		now := requestcontext.Now(txCtx)
		if err := payment.Verify(actor.ID, now); err != nil {
			return err
		}
		if err := s.store.UpdatePayment(txCtx, payment); err != nil {
			return wrapStoreErr(err)
		}
		if err := s.recorder.Record(txCtx, audit.Entry{
			TenantID:   &tenant.ID,
			EntityKind: "payment",
			EntityID:   payment.ID.String(),
			Action:     audit.ActionUpdate,
			Before:     before,
			After:      audit.Snapshot(payment),
			Reason:     "payment_verified",
		}); err != nil {
			return err
		}
		if err := s.snaps.Snapshot(txCtx, &tenant.ID, "payment", payment.ID.String(), payment); err != nil {
			return err
		}
		out = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
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
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "compliance store failure")
	}
}
