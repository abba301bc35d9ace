// Package reconciler runs the recurring sweep that expires past-end records
// and enqueues expiry reminders. The sweep is idempotent: every expiry is
// its own transaction through the lifecycle engine, and reminders dedupe on
// (tenant, entity, cycle date, kind), so running twice in one day changes
// nothing.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"bima/internal/compliance/models"
	identitymodels "bima/internal/identity/models"
	"bima/internal/notification"
	"bima/internal/platform/metrics"
	tenantmodels "bima/internal/tenant/models"
	"bima/internal/tenantctx"
	"bima/pkg/requestcontext"
)

// Engine is the slice of the lifecycle engine the sweep needs.
type Engine interface {
	Expire(ctx context.Context, kind models.Kind, rawID string) (models.Record, error)
}

// RecordSweeper finds the records a sweep acts on. Tenant-scoped via ctx.
type RecordSweeper interface {
	ListExpiredActive(ctx context.Context, today time.Time) ([]models.Record, error)
	ListExpiringActive(ctx context.Context, today, until time.Time) ([]models.Record, error)
}

// TenantLister enumerates tenants for the sweep.
type TenantLister interface {
	List(ctx context.Context) ([]*tenantmodels.Tenant, error)
}

// Locker serializes sweeps across replicas. TryLock returns false when
// another replica holds the cycle lock.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// NopLocker always acquires; used in single-process deployments and tests.
type NopLocker struct{}

func (NopLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (NopLocker) Unlock(ctx context.Context, key string) error { return nil }

// Reconciler drives the daily sweep.
type Reconciler struct {
	tenants       TenantLister
	records       RecordSweeper
	engine        Engine
	notifications *notification.Service
	locker        Locker
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer
	interval      time.Duration
	// tenantConcurrency bounds the errgroup fan-out across tenants.
	tenantConcurrency int
}

// New builds the reconciler.
func New(tenants TenantLister, records RecordSweeper, engine Engine, notifications *notification.Service, locker Locker, logger *slog.Logger, m *metrics.Metrics, interval time.Duration) *Reconciler {
	if locker == nil {
		locker = NopLocker{}
	}
	return &Reconciler{
		tenants:           tenants,
		records:           records,
		engine:            engine,
		notifications:     notifications,
		locker:            locker,
		logger:            logger,
		metrics:           m,
		tracer:            otel.Tracer("bima/reconciler"),
		interval:          interval,
		tenantConcurrency: 4,
	}
}

// Run sweeps immediately, then on every interval tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.SweepAll(ctx); err != nil {
		r.logger.ErrorContext(ctx, "reconciler sweep failed", "error", err)
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.SweepAll(ctx); err != nil {
				r.logger.ErrorContext(ctx, "reconciler sweep failed", "error", err)
			}
		}
	}
}

// SweepAll processes every tenant once. Per-tenant failures are logged and
// do not stop the other tenants; the next cycle retries.
func (r *Reconciler) SweepAll(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "reconciler.sweep_all")
	defer span.End()

	today := models.DateOnly(requestcontext.Now(ctx))
	lockKey := "reconciler:" + today.Format("2006-01-02")
	acquired, err := r.locker.TryLock(ctx, lockKey, r.interval)
	if err != nil {
		return fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !acquired {
		r.logger.InfoContext(ctx, "sweep already running elsewhere, skipping", "lock", lockKey)
		return nil
	}
	defer func() {
		if err := r.locker.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
			r.logger.WarnContext(ctx, "failed to release sweep lock", "error", err)
		}
	}()

	tenants, err := r.tenants.List(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.tenantConcurrency)
	for _, t := range tenants {
		if !t.IsActive() {
			continue
		}
		g.Go(func() error {
			if err := r.SweepTenant(gctx, t); err != nil {
				r.logger.ErrorContext(gctx, "tenant sweep failed",
					"tenant", t.Slug, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.metrics.ReconcilerSweeps.Inc()
	return nil
}

// SweepTenant expires past-end records and enqueues reminders for one
// tenant. Each expiry is its own transaction: cancellation mid-sweep leaves
// the store consistent and the next cycle picks up where this one stopped.
func (r *Reconciler) SweepTenant(ctx context.Context, t *tenantmodels.Tenant) error {
	ctx, span := r.tracer.Start(ctx, "reconciler.sweep_tenant",
		trace.WithAttributes(attribute.String("tenant.slug", t.Slug)))
	defer span.End()

	ctx = tenantctx.With(ctx, t.ActiveTenant())
	today := models.DateOnly(requestcontext.Now(ctx))

	expired, err := r.records.ListExpiredActive(ctx, today)
	if err != nil {
		return fmt.Errorf("list expired records: %w", err)
	}
	for _, rec := range expired {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.engine.Expire(ctx, rec.RecordKind(), rec.RecordID()); err != nil {
			// Another replica may have expired it between list and act.
			r.logger.WarnContext(ctx, "expire transition skipped",
				"kind", string(rec.RecordKind()), "id", rec.RecordID(), "error", err)
			continue
		}
		r.metrics.ReconcilerExpired.Inc()
	}

	reminderDays := t.Settings.ExpiryReminderDays
	if reminderDays <= 0 {
		reminderDays = tenantctx.DefaultExpiryReminderDays
	}
	expiring, err := r.records.ListExpiringActive(ctx, today, today.AddDate(0, 0, reminderDays))
	if err != nil {
		return fmt.Errorf("list expiring records: %w", err)
	}
	for _, rec := range expiring {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.enqueueReminder(ctx, rec, today); err != nil {
			r.logger.WarnContext(ctx, "expiry reminder skipped",
				"kind", string(rec.RecordKind()), "id", rec.RecordID(), "error", err)
			continue
		}
	}
	return nil
}

func (r *Reconciler) enqueueReminder(ctx context.Context, rec models.Record, cycleDate time.Time) error {
	kind := notification.KindPolicyExpiry
	if rec.RecordKind() == models.KindPermit {
		kind = notification.KindPermitExpiry
	}
	daysLeft := int(models.DateOnly(rec.EndDate()).Sub(cycleDate).Hours() / 24)
	priority := notification.PriorityLow
	switch {
	case daysLeft <= 7:
		priority = notification.PriorityHigh
	case daysLeft <= 15:
		priority = notification.PriorityMedium
	}
	dedupe := fmt.Sprintf("%s:%s:%s:%s",
		rec.RecordTenantID().String(), rec.RecordID(), cycleDate.Format("2006-01-02"), kind)
	err := r.notifications.Enqueue(ctx,
		kind,
		priority,
		[]identitymodels.Role{identitymodels.RoleAdmin, identitymodels.RoleManager},
		fmt.Sprintf("%s expiring in %d days", rec.RecordKind(), daysLeft),
		fmt.Sprintf("%s %s expires on %s", rec.RecordKind(), rec.RecordID(), models.DateOnly(rec.EndDate()).Format("2006-01-02")),
		map[string]string{"kind": string(rec.RecordKind()), "id": rec.RecordID()},
		dedupe,
	)
	if err != nil {
		return err
	}
	r.metrics.ReconcilerReminders.Inc()
	return nil
}
