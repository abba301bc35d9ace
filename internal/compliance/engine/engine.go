// Package engine implements the immutable state machine for policies and
// permits: draft → (pending_payment) → active → cancelled | expired.
//
// Guard evaluation order on activation is fixed and each failure has a
// distinct error code: authorization, payment (policies), date window,
// single-active conflict. The single-active invariant is never checked
// read-then-write: the store's conflict detection (partial unique index, or
// the in-memory mutex) is the authority, so parallel activations cannot both
// win.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"bima/internal/audit"
	"bima/internal/compliance/models"
	"bima/internal/history"
	identitymodels "bima/internal/identity/models"
	"bima/internal/platform/metrics"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/platform/sentinel"
	"bima/pkg/platform/tx"
	"bima/pkg/requestcontext"
)

// Store is the persistence surface the engine needs.
type Store interface {
	Get(ctx context.Context, kind models.Kind, rawID string) (models.Record, error)
	// SaveTransition persists lifecycle fields; sentinel.ErrConflict means
	// the activation lost the single-active race.
	SaveTransition(ctx context.Context, rec models.Record, at time.Time) error
	SumVerifiedPayments(ctx context.Context, policyID id.PolicyID) (id.Money, error)
	UpdatePolicyDraft(ctx context.Context, p *models.Policy) error
	UpdatePermitDraft(ctx context.Context, p *models.Permit) error
}

// Authorizer checks the role matrix.
type Authorizer interface {
	Authorize(ctx context.Context, user *identitymodels.User, op identitymodels.Operation) error
}

//go:generate mockgen -destination=../../../mocks/notifier_mock.go -package=mocks bima/internal/compliance/engine Notifier

// Notifier enqueues in-app notifications for lifecycle events.
type Notifier interface {
	NotifyCancellation(ctx context.Context, rec models.Record, reason models.CancellationReason) error
}

// Engine applies lifecycle transitions.
type Engine struct {
	store    Store
	authz    Authorizer
	recorder *audit.Recorder
	snaps    *history.Snapshotter
	runner   tx.Runner
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// New builds the engine.
func New(store Store, authz Authorizer, recorder *audit.Recorder, snaps *history.Snapshotter, runner tx.Runner, notifier Notifier, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:    store,
		authz:    authz,
		recorder: recorder,
		snaps:    snaps,
		runner:   runner,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		tracer:   otel.Tracer("bima/lifecycle"),
	}
}

// RequestActivation moves a draft policy to pending_payment. Policy-only:
// permits activate straight from draft.
func (e *Engine) RequestActivation(ctx context.Context, actor *identitymodels.User, policyID id.PolicyID) (*models.Policy, error) {
	if err := e.authz.Authorize(ctx, actor, identitymodels.OpEditDraft); err != nil {
		return nil, err
	}
	var out *models.Policy
	err := e.runner.RunInTx(ctx, func(txCtx context.Context) error {
		rec, err := e.store.Get(txCtx, models.KindPolicy, policyID.String())
		if err != nil {
			return wrapStoreErr(err)
		}
		policy := rec.(*models.Policy)
		if policy.Status != models.StatusDraft {
			return domainerrors.Newf(domainerrors.CodeInvalidTransition, "cannot request activation from %s", policy.Status)
		}
		before := audit.Snapshot(policy)
		policy.Status = models.StatusPendingPayment
		now := requestcontext.Now(txCtx)
		if err := e.store.SaveTransition(txCtx, policy, now); err != nil {
			return wrapStoreErr(err)
		}
		if err := e.recordTransition(txCtx, policy, before, "request_activation"); err != nil {
			return err
		}
		out = policy
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.Transitions.WithLabelValues(string(models.KindPolicy), "request_activation").Inc()
	return out, nil
}

// Activate transitions a record to active.
//
// Guards, in order, each with a distinct error:
//  1. actor role admin|manager
//  2. policies: verified payments cover the premium (ErrPaymentIncomplete)
//  3. end_date is after today (validation)
//  4. no conflicting active record (ErrOverlap, detected at the store when
//     the transition is saved)
//
// A record that fails both of the last two guards reports the date error.
//
// A record whose start_date is still in the future activates immediately;
// the compliance service treats it as not in force until start_date.
func (e *Engine) Activate(ctx context.Context, actor *identitymodels.User, kind models.Kind, rawID string) (models.Record, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.activate",
		trace.WithAttributes(attribute.String("record.kind", string(kind)), attribute.String("record.id", rawID)))
	defer span.End()

	if err := e.authz.Authorize(ctx, actor, identitymodels.OpActivateRecord); err != nil {
		e.recorder.RecordRejection(ctx, tenantFromCtx(ctx), string(kind), rawID, "unauthorized:activate")
		return nil, err
	}

	// Guard rejections are audited outside the transaction: the rollback
	// must not erase the rejection entry.
	var (
		out       models.Record
		rejected  models.Record
		rejectWhy string
	)
	err := e.runner.RunInTx(ctx, func(txCtx context.Context) error {
		rec, err := e.store.Get(txCtx, kind, rawID)
		if err != nil {
			return wrapStoreErr(err)
		}
		l := rec.Life()
		if l.Status != models.StatusDraft && l.Status != models.StatusPendingPayment {
			rejected, rejectWhy = rec, "activate_from_"+string(l.Status)
			return domainerrors.Newf(domainerrors.CodeInvalidTransition, "cannot activate record with status %s", l.Status)
		}

		now := requestcontext.Now(txCtx)
		if policy, ok := rec.(*models.Policy); ok {
			total, err := e.store.SumVerifiedPayments(txCtx, policy.ID)
			if err != nil {
				return wrapStoreErr(err)
			}
			if !policy.IsFullyPaid(total) {
				rejected, rejectWhy = rec, "payment_incomplete"
				e.metrics.TransitionsRejected.WithLabelValues(string(kind), "payment_incomplete").Inc()
				return domainerrors.New(domainerrors.CodePaymentIncomplete, "policy must be fully paid before activation")
			}
		}

		// Contract: end_date > today. A record whose coverage ends today or
		// earlier has nothing left to activate.
		if !models.DateOnly(rec.EndDate()).After(models.DateOnly(now)) {
			rejected, rejectWhy = rec, "end_date_passed"
			return domainerrors.NewValidation("end_date", "coverage window has already ended")
		}

		before := audit.Snapshot(rec)
		l.Status = models.StatusActive
		activatedAt := now
		l.ActivatedAt = &activatedAt
		if err := e.store.SaveTransition(txCtx, rec, now); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				rejected, rejectWhy = rec, "overlap"
				e.metrics.TransitionsRejected.WithLabelValues(string(kind), "overlap").Inc()
				return domainerrors.New(domainerrors.CodeOverlap, "vehicle already has an active record in this category")
			}
			return wrapStoreErr(err)
		}
		if err := e.recordTransition(txCtx, rec, before, "activate"); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		if rejected != nil {
			e.rejectTransition(ctx, rejected, rejectWhy)
		}
		return nil, err
	}
	e.metrics.Transitions.WithLabelValues(string(kind), "activate").Inc()
	return out, nil
}

// Cancel closes a record permanently with a controlled reason.
func (e *Engine) Cancel(ctx context.Context, actor *identitymodels.User, kind models.Kind, rawID string, reason models.CancellationReason, note string) (models.Record, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.cancel",
		trace.WithAttributes(attribute.String("record.kind", string(kind)), attribute.String("record.id", rawID)))
	defer span.End()

	if err := e.authz.Authorize(ctx, actor, identitymodels.OpCancelRecord); err != nil {
		e.recorder.RecordRejection(ctx, tenantFromCtx(ctx), string(kind), rawID, "unauthorized:cancel")
		return nil, err
	}
	if !models.ValidReason(kind, reason) {
		return nil, domainerrors.NewValidation("cancellation_reason", "not a valid reason for this record kind")
	}

	var (
		out       models.Record
		rejected  models.Record
		rejectWhy string
	)
	err := e.runner.RunInTx(ctx, func(txCtx context.Context) error {
		rec, err := e.store.Get(txCtx, kind, rawID)
		if err != nil {
			return wrapStoreErr(err)
		}
		l := rec.Life()
		switch l.Status {
		case models.StatusDraft, models.StatusPendingPayment, models.StatusActive:
			// cancellable
		default:
			rejected, rejectWhy = rec, "cancel_from_"+string(l.Status)
			return domainerrors.Newf(domainerrors.CodeInvalidTransition, "cannot cancel record with status %s", l.Status)
		}

		now := requestcontext.Now(txCtx)
		before := audit.Snapshot(rec)
		l.Status = models.StatusCancelled
		cancelledAt := now
		l.CancelledAt = &cancelledAt
		l.CancelledBy = &actor.ID
		r := reason
		l.CancellationReason = &r
		l.CancellationNote = note
		if err := e.store.SaveTransition(txCtx, rec, now); err != nil {
			return wrapStoreErr(err)
		}
		if err := e.recordTransition(txCtx, rec, before, "cancel:"+string(reason)); err != nil {
			return err
		}
		if err := e.notifier.NotifyCancellation(txCtx, rec, reason); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		if rejected != nil {
			e.rejectTransition(ctx, rejected, rejectWhy)
		}
		return nil, err
	}
	e.metrics.Transitions.WithLabelValues(string(kind), "cancel").Inc()
	return out, nil
}

// Expire marks an active record expired. Background use: no actor guard, but
// only records whose end_date has passed are eligible.
func (e *Engine) Expire(ctx context.Context, kind models.Kind, rawID string) (models.Record, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.expire",
		trace.WithAttributes(attribute.String("record.kind", string(kind)), attribute.String("record.id", rawID)))
	defer span.End()

	var out models.Record
	err := e.runner.RunInTx(ctx, func(txCtx context.Context) error {
		rec, err := e.store.Get(txCtx, kind, rawID)
		if err != nil {
			return wrapStoreErr(err)
		}
		l := rec.Life()
		if l.Status != models.StatusActive {
			return domainerrors.Newf(domainerrors.CodeInvalidTransition, "only active records can expire, got %s", l.Status)
		}
		now := requestcontext.Now(txCtx)
		if !models.DateOnly(now).After(models.DateOnly(rec.EndDate())) {
			return domainerrors.NewValidation("end_date", "record has not reached its end date")
		}
		before := audit.Snapshot(rec)
		l.Status = models.StatusExpired
		if err := e.store.SaveTransition(txCtx, rec, now); err != nil {
			return wrapStoreErr(err)
		}
		if err := e.recordTransition(txCtx, rec, before, "expire"); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.Transitions.WithLabelValues(string(kind), "expire").Inc()
	return out, nil
}

// EditPolicy applies a patch to a mutable policy. Any edit attempt on an
// immutable record fails with the immutability code.
func (e *Engine) EditPolicy(ctx context.Context, actor *identitymodels.User, policyID id.PolicyID, patch func(*models.Policy) error) (*models.Policy, error) {
	if err := e.authz.Authorize(ctx, actor, identitymodels.OpEditDraft); err != nil {
		return nil, err
	}
	var out *models.Policy
	err := e.runner.RunInTx(ctx, func(txCtx context.Context) error {
		rec, err := e.store.Get(txCtx, models.KindPolicy, policyID.String())
		if err != nil {
			return wrapStoreErr(err)
		}
		policy := rec.(*models.Policy)
		if policy.IsImmutable() {
			return domainerrors.New(domainerrors.CodeImmutable, "policy is immutable once active, cancelled, or expired")
		}
		before := audit.Snapshot(policy)
		if err := patch(policy); err != nil {
			return err
		}
		if err := models.ValidateDates(policy.Start, policy.End); err != nil {
			return err
		}
		now := requestcontext.Now(txCtx)
		policy.UpdatedAt = now
		if err := e.store.UpdatePolicyDraft(txCtx, policy); err != nil {
			return wrapStoreErr(err)
		}
		if err := e.recorder.Record(txCtx, audit.Entry{
			TenantID:   recTenant(policy),
			EntityKind: string(models.KindPolicy),
			EntityID:   policy.ID.String(),
			Action:     audit.ActionUpdate,
			Before:     before,
			After:      audit.Snapshot(policy),
		}); err != nil {
			return err
		}
		if err := e.snaps.Snapshot(txCtx, recTenant(policy), string(models.KindPolicy), policy.ID.String(), policy); err != nil {
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

// EditPermit applies a patch to a mutable permit.
func (e *Engine) EditPermit(ctx context.Context, actor *identitymodels.User, permitID id.PermitID, patch func(*models.Permit) error) (*models.Permit, error) {
	if err := e.authz.Authorize(ctx, actor, identitymodels.OpEditDraft); err != nil {
		return nil, err
	}
	var out *models.Permit
	err := e.runner.RunInTx(ctx, func(txCtx context.Context) error {
		rec, err := e.store.Get(txCtx, models.KindPermit, permitID.String())
		if err != nil {
			return wrapStoreErr(err)
		}
		permit := rec.(*models.Permit)
		if permit.IsImmutable() {
			return domainerrors.New(domainerrors.CodeImmutable, "permit is immutable once active, cancelled, or expired")
		}
		before := audit.Snapshot(permit)
		if err := patch(permit); err != nil {
			return err
		}
		if err := models.ValidateDates(permit.Start, permit.End); err != nil {
			return err
		}
		now := requestcontext.Now(txCtx)
		permit.UpdatedAt = now
		if err := e.store.UpdatePermitDraft(txCtx, permit); err != nil {
			return wrapStoreErr(err)
		}
		if err := e.recorder.Record(txCtx, audit.Entry{
			TenantID:   recTenant(permit),
			EntityKind: string(models.KindPermit),
			EntityID:   permit.ID.String(),
			Action:     audit.ActionUpdate,
			Before:     before,
			After:      audit.Snapshot(permit),
		}); err != nil {
			return err
		}
		if err := e.snaps.Snapshot(txCtx, recTenant(permit), string(models.KindPermit), permit.ID.String(), permit); err != nil {
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

// --- shared effects ---

func (e *Engine) recordTransition(ctx context.Context, rec models.Record, before []byte, reason string) error {
	if err := e.recorder.Record(ctx, audit.Entry{
		TenantID:   recTenant(rec),
		EntityKind: string(rec.RecordKind()),
		EntityID:   rec.RecordID(),
		Action:     audit.ActionTransition,
		Before:     before,
		After:      audit.Snapshot(rec),
		Reason:     reason,
	}); err != nil {
		return err
	}
	return e.snaps.Snapshot(ctx, recTenant(rec), string(rec.RecordKind()), rec.RecordID(), rec)
}

func (e *Engine) rejectTransition(ctx context.Context, rec models.Record, reason string) {
	e.recorder.RecordRejection(ctx, recTenant(rec), string(rec.RecordKind()), rec.RecordID(), reason)
}

func recTenant(rec models.Record) *id.TenantID {
	t := rec.RecordTenantID()
	return &t
}

func tenantFromCtx(ctx context.Context) *id.TenantID {
	if t, ok := tenantctx.From(ctx); ok {
		return &t.ID
	}
	return nil
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
