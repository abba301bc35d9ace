package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"bima/internal/platform/metrics"
)

// Producer is the slice of the Kafka client the outbox worker needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// OutboxWorker drains the outbox table to the audit topic. The database row
// is the source of truth until the broker acknowledges the publish; rows are
// deleted only after a successful produce, so delivery is at-least-once and
// consumers dedupe on the entry id.
type OutboxWorker struct {
	db       *sql.DB
	producer Producer
	topic    string
	interval time.Duration
	batch    int
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewOutboxWorker builds the worker. producer may be nil when Kafka is not
// configured; Run then exits immediately and rows accumulate in the outbox.
func NewOutboxWorker(db *sql.DB, producer Producer, topic string, logger *slog.Logger, m *metrics.Metrics) *OutboxWorker {
	return &OutboxWorker{
		db:       db,
		producer: producer,
		topic:    topic,
		interval: 5 * time.Second,
		batch:    100,
		logger:   logger,
		metrics:  m,
	}
}

// EnsureTopic creates the audit topic if it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, 3, -1, nil, topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create audit topic: %w", resp.Err)
	}
	return nil
}

// Run drains the outbox until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) error {
	if w.producer == nil {
		w.logger.InfoContext(ctx, "audit outbox worker disabled: no broker configured")
		return nil
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drainOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

type outboxRow struct {
	id          string
	aggregateID string
	payload     []byte
}

func (w *OutboxWorker) drainOnce(ctx context.Context) error {
	rows, err := w.db.QueryContext(ctx, `
		SELECT id, aggregate_id, payload
		FROM outbox
		ORDER BY created_at
		LIMIT $1
	`, w.batch)
	if err != nil {
		return fmt.Errorf("select outbox batch: %w", err)
	}
	var pending []outboxRow
	for rows.Next() {
		var r outboxRow
		if err := rows.Scan(&r.id, &r.aggregateID, &r.payload); err != nil {
			rows.Close()
			return fmt.Errorf("scan outbox row: %w", err)
		}
		pending = append(pending, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range pending {
		record := &kgo.Record{
			Topic: w.topic,
			Key:   []byte(r.aggregateID),
			Value: r.payload,
		}
		if err := w.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
			w.metrics.OutboxPublishErrors.Inc()
			return fmt.Errorf("produce outbox row %s: %w", r.id, err)
		}
		if _, err := w.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = $1`, r.id); err != nil {
			return fmt.Errorf("delete published outbox row: %w", err)
		}
		w.metrics.OutboxPublished.Inc()
	}
	return nil
}
