package notification

import (
	"context"
	"fmt"

	compliancemodels "bima/internal/compliance/models"
	identitymodels "bima/internal/identity/models"
)

// LifecycleNotifier adapts the notification service to the lifecycle
// engine's Notifier port. Cancellations go to every admin and manager in the
// tenant.
type LifecycleNotifier struct {
	svc *Service
}

// NewLifecycleNotifier builds the adapter.
func NewLifecycleNotifier(svc *Service) *LifecycleNotifier {
	return &LifecycleNotifier{svc: svc}
}

// NotifyCancellation enqueues the cancellation notice.
func (n *LifecycleNotifier) NotifyCancellation(ctx context.Context, rec compliancemodels.Record, reason compliancemodels.CancellationReason) error {
	title := fmt.Sprintf("%s cancelled", rec.RecordKind())
	message := fmt.Sprintf("%s %s was cancelled (%s)", rec.RecordKind(), rec.RecordID(), reason)
	dedupe := fmt.Sprintf("%s:%s:cancelled", rec.RecordKind(), rec.RecordID())
	return n.svc.Enqueue(ctx,
		KindCancellation,
		PriorityHigh,
		[]identitymodels.Role{identitymodels.RoleAdmin, identitymodels.RoleManager},
		title, message,
		map[string]string{
			"kind":   string(rec.RecordKind()),
			"id":     rec.RecordID(),
			"reason": string(reason),
		},
		dedupe,
	)
}
