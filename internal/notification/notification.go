// Package notification buffers in-app notifications. The core only records
// intent; delivery adapters (email, SMS, push) consume these rows externally.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	identitymodels "bima/internal/identity/models"
	"bima/internal/platform/metrics"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/platform/sentinel"
	"bima/pkg/requestcontext"
)

// Kind classifies the notification.
type Kind string

const (
	KindPolicyExpiry  Kind = "policy_expiry"
	KindPermitExpiry  Kind = "permit_expiry"
	KindCancellation  Kind = "cancellation"
	KindPaymentReview Kind = "payment_verification_request"
	KindSystem        Kind = "system_announcement"
)

// Priority orders the inbox.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Notification is one in-app inbox row.
type Notification struct {
	ID        id.NotificationID `json:"id"`
	TenantID  id.TenantID       `json:"tenant_id"`
	UserID    id.UserID         `json:"user_id"`
	Kind      Kind              `json:"kind"`
	Priority  Priority          `json:"priority"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	DedupeKey string            `json:"-"`
	ReadAt    *time.Time        `json:"read_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store persists notifications. Insert honors the dedupe key: a second row
// with the same key is silently dropped.
type Store interface {
	Insert(ctx context.Context, n *Notification) (inserted bool, err error)
	ListByUser(ctx context.Context, userID id.UserID, unreadOnly bool, page id.Page) ([]*Notification, error)
	MarkRead(ctx context.Context, notificationID id.NotificationID, userID id.UserID, at time.Time) error
}

// RecipientLister resolves role-based recipient sets.
type RecipientLister interface {
	ListRecipients(ctx context.Context, tenantID id.TenantID, roles []identitymodels.Role) ([]*identitymodels.User, error)
}

// Service enqueues and reads notifications.
type Service struct {
	store      Store
	recipients RecipientLister
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New builds the notification service.
func New(store Store, recipients RecipientLister, logger *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{store: store, recipients: recipients, logger: logger, metrics: m}
}

// Enqueue appends one notification per recipient role holder. dedupeKey is
// per-recipient-suffixed so each user gets at most one copy per cycle.
func (s *Service) Enqueue(ctx context.Context, kind Kind, priority Priority, roles []identitymodels.Role, title, message string, payload any, dedupeKey string) error {
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}
	users, err := s.recipients.ListRecipients(ctx, tenant.ID, roles)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to resolve recipients")
	}
	var raw json.RawMessage
	if payload != nil {
		raw, err = json.Marshal(payload)
		if err != nil {
			return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to marshal notification payload")
		}
	}
	now := requestcontext.Now(ctx)
	for _, u := range users {
		n := &Notification{
			ID:        id.NewNotificationID(),
			TenantID:  tenant.ID,
			UserID:    u.ID,
			Kind:      kind,
			Priority:  priority,
			Title:     title,
			Message:   message,
			Payload:   raw,
			DedupeKey: fmt.Sprintf("%s:%s", dedupeKey, u.ID.String()),
			CreatedAt: now,
		}
		inserted, err := s.store.Insert(ctx, n)
		if err != nil {
			return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to enqueue notification")
		}
		if inserted {
			s.metrics.NotificationsQueued.Inc()
		}
	}
	return nil
}

// Inbox lists a user's notifications.
func (s *Service) Inbox(ctx context.Context, userID id.UserID, unreadOnly bool, page id.Page) ([]*Notification, error) {
	out, err := s.store.ListByUser(ctx, userID, unreadOnly, page)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to list notifications")
	}
	return out, nil
}

// MarkRead stamps read_at on one of the user's notifications.
func (s *Service) MarkRead(ctx context.Context, notificationID id.NotificationID, userID id.UserID) error {
	err := s.store.MarkRead(ctx, notificationID, userID, requestcontext.Now(ctx))
	if errors.Is(err, sentinel.ErrNotFound) {
		return domainerrors.New(domainerrors.CodeNotFound, "notification not found")
	}
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to mark notification read")
	}
	return nil
}
