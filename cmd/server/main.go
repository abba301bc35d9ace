// Command server runs the compliance platform API, the background
// reconciler, and the audit outbox worker. main wires dependencies and keeps
// the lifecycle small; business logic lives in the internal services.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"bima/internal/audit"
	complianceengine "bima/internal/compliance/engine"
	complianceservice "bima/internal/compliance/service"
	compliancestore "bima/internal/compliance/store"
	"bima/internal/dynamicfield"
	fleetservice "bima/internal/fleet/service"
	fleetstore "bima/internal/fleet/store"
	"bima/internal/history"
	identityservice "bima/internal/identity/service"
	identitystore "bima/internal/identity/store"
	"bima/internal/notification"
	"bima/internal/platform/config"
	"bima/internal/platform/httpserver"
	"bima/internal/platform/logger"
	"bima/internal/platform/metrics"
	"bima/internal/platform/postgres"
	platformredis "bima/internal/platform/redis"
	"bima/internal/reconciler"
	"bima/internal/report"
	"bima/internal/session"
	tenantmodels "bima/internal/tenant/models"
	tenantservice "bima/internal/tenant/service"
	tenantstore "bima/internal/tenant/store"
	httptransport "bima/internal/transport/http"
	"bima/pkg/platform/tx"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()
	runner := tx.NewSQLRunner(db)

	// Audit and history share every mutation's transaction.
	auditStore := audit.NewPostgresStore(db)
	recorder := audit.NewRecorder(auditStore, log)
	snaps := history.NewSnapshotter(history.NewPostgresStore(db))

	// Platform services.
	tenants := tenantservice.New(tenantstore.NewPostgres(db), recorder, runner, log)
	identity, err := identityservice.New(identitystore.NewPostgres(db), tenants, recorder, log, m)
	if err != nil {
		log.Error("identity service init failed", "error", err)
		os.Exit(1)
	}
	resetTokens := identityservice.NewResetTokens(cfg.SessionSecret, cfg.ResetTokenTTL)

	var sessionStore session.Store = session.NewInMemoryStore()
	if redisClient != nil {
		sessionStore = session.NewRedisStore(redisClient)
	}
	sessions := session.NewManager(sessionStore, cfg.SessionSecret, cfg.SessionTTL)

	// Domain services.
	fleet := fleetservice.New(fleetstore.NewPostgres(db), identity, recorder, snaps, runner, log)
	records := compliancestore.NewPostgres(db)
	notifications := notification.New(notification.NewPostgresStore(db), identity, log, m)
	engine := complianceengine.New(records, identity, recorder, snaps, runner,
		notification.NewLifecycleNotifier(notifications), log, m)
	compliance := complianceservice.New(records, fleet, identity, recorder, snaps, runner, log)
	fields := dynamicfield.New(dynamicfield.NewPostgresStore(db), identity, recorder, runner, log)
	reports := report.New(records, fleetstore.NewPostgres(db), compliance, identity)

	// Background reconciler.
	var locker reconciler.Locker = reconciler.NopLocker{}
	if redisClient != nil {
		locker = reconciler.NewRedisLocker(redisClient)
	}
	sweeper := reconciler.New(tenantLister{tenants}, records, engine, notifications, locker, log, m, cfg.ReconcilerInterval)
	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("reconciler stopped", "error", err)
		}
	}()

	// Audit outbox worker (optional, needs a broker).
	var producer *kgo.Client
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = kgo.NewClient(kgo.SeedBrokers(cfg.KafkaBrokers...))
		if err != nil {
			log.Error("kafka unavailable", "error", err)
			os.Exit(1)
		}
		defer producer.Close()
		if err := audit.EnsureTopic(ctx, producer, cfg.AuditTopic); err != nil {
			log.Error("audit topic setup failed", "error", err)
			os.Exit(1)
		}
	}
	outbox := audit.NewOutboxWorker(db, producerOrNil(producer), cfg.AuditTopic, log, m)
	go func() {
		if err := outbox.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("outbox worker stopped", "error", err)
		}
	}()

	// HTTP.
	handler := httptransport.NewHandler(identity, resetTokens, tenants, sessions,
		fleet, compliance, engine, fields, notifications, reports, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, m))

	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// tenantLister narrows the tenant service to the reconciler's port without
// exposing the super-admin surface.
type tenantLister struct {
	svc *tenantservice.Service
}

func (l tenantLister) List(ctx context.Context) ([]*tenantmodels.Tenant, error) {
	return l.svc.ListAll(ctx)
}

func producerOrNil(c *kgo.Client) audit.Producer {
	if c == nil {
		return nil
	}
	return c
}
