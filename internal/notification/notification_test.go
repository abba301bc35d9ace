package notification_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	identitymodels "bima/internal/identity/models"
	identitystore "bima/internal/identity/store"
	"bima/internal/notification"
	"bima/internal/platform/logger"
	"bima/internal/platform/metrics"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	"bima/pkg/testutil"
)

type recipientsFromStore struct {
	store *identitystore.InMemory
}

func (r recipientsFromStore) ListRecipients(ctx context.Context, tenantID id.TenantID, roles []identitymodels.Role) ([]*identitymodels.User, error) {
	return r.store.ListByTenantRoles(ctx, tenantID, roles)
}

type NotificationSuite struct {
	suite.Suite
	store  *notification.InMemoryStore
	users  *identitystore.InMemory
	svc    *notification.Service
	tenant tenantctx.ActiveTenant
	admin  *identitymodels.User
	agent  *identitymodels.User
	ctx    context.Context
}

func TestNotificationSuite(t *testing.T) {
	suite.Run(t, new(NotificationSuite))
}

func (s *NotificationSuite) SetupTest() {
	log := logger.New()
	m := metrics.NewWith(prometheus.NewRegistry())
	s.store = notification.NewInMemoryStore()
	s.users = identitystore.NewInMemory()
	s.svc = notification.New(s.store, recipientsFromStore{s.users}, log, m)

	s.tenant = testutil.NewTenant("acme")
	s.ctx = testutil.Context(s.tenant, time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC))

	tid := s.tenant.ID
	var err error
	s.admin, err = identitymodels.NewUser(id.NewUserID(), "admin@acme.tz", "h", identitymodels.RoleAdmin, &tid, time.Now())
	s.Require().NoError(err)
	s.agent, err = identitymodels.NewUser(id.NewUserID(), "agent@acme.tz", "h", identitymodels.RoleAgent, &tid, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.users.Create(context.Background(), s.admin))
	s.Require().NoError(s.users.Create(context.Background(), s.agent))
}

// TestRoleTargeting: only holders of the requested roles receive rows.
func (s *NotificationSuite) TestRoleTargeting() {
	err := s.svc.Enqueue(s.ctx, notification.KindCancellation, notification.PriorityHigh,
		[]identitymodels.Role{identitymodels.RoleAdmin}, "title", "message", nil, "cancel:1")
	s.Require().NoError(err)

	all := s.store.All()
	s.Require().Len(all, 1)
	s.Equal(s.admin.ID, all[0].UserID)
}

// TestDedupe: re-enqueueing with the same key inserts nothing new.
func (s *NotificationSuite) TestDedupe() {
	roles := []identitymodels.Role{identitymodels.RoleAdmin}
	s.Require().NoError(s.svc.Enqueue(s.ctx, notification.KindPolicyExpiry, notification.PriorityMedium, roles, "t", "m", nil, "expiry:p1:2025-07-01"))
	s.Require().NoError(s.svc.Enqueue(s.ctx, notification.KindPolicyExpiry, notification.PriorityMedium, roles, "t", "m", nil, "expiry:p1:2025-07-01"))
	s.Len(s.store.All(), 1)

	// A new cycle date is a new key.
	s.Require().NoError(s.svc.Enqueue(s.ctx, notification.KindPolicyExpiry, notification.PriorityMedium, roles, "t", "m", nil, "expiry:p1:2025-07-02"))
	s.Len(s.store.All(), 2)
}

// TestInboxAndRead: listing and read marking are per user.
func (s *NotificationSuite) TestInboxAndRead() {
	roles := []identitymodels.Role{identitymodels.RoleAdmin, identitymodels.RoleAgent}
	s.Require().NoError(s.svc.Enqueue(s.ctx, notification.KindSystem, notification.PriorityLow, roles, "t", "m", nil, "sys:1"))

	inbox, err := s.svc.Inbox(s.ctx, s.admin.ID, true, id.Page{})
	s.Require().NoError(err)
	s.Require().Len(inbox, 1)

	s.Require().NoError(s.svc.MarkRead(s.ctx, inbox[0].ID, s.admin.ID))

	unread, err := s.svc.Inbox(s.ctx, s.admin.ID, true, id.Page{})
	s.Require().NoError(err)
	s.Empty(unread)

	// The agent's copy is untouched.
	agentInbox, err := s.svc.Inbox(s.ctx, s.agent.ID, true, id.Page{})
	s.Require().NoError(err)
	s.Len(agentInbox, 1)
}
