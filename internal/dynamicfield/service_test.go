package dynamicfield_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"bima/internal/audit"
	"bima/internal/dynamicfield"
	identitymodels "bima/internal/identity/models"
	identityservice "bima/internal/identity/service"
	identitystore "bima/internal/identity/store"
	"bima/internal/platform/logger"
	"bima/internal/platform/metrics"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/platform/tx"
	"bima/pkg/testutil"
)

type alwaysActiveTenants struct{}

func (alwaysActiveTenants) IsTenantActive(ctx context.Context, tenantID id.TenantID) (bool, error) {
	return true, nil
}

type DynamicFieldSuite struct {
	suite.Suite
	svc    *dynamicfield.Service
	store  *dynamicfield.InMemoryStore
	admin  *identitymodels.User
	agent  *identitymodels.User
	tenant tenantctx.ActiveTenant
	ctx    context.Context
}

func TestDynamicFieldSuite(t *testing.T) {
	suite.Run(t, new(DynamicFieldSuite))
}

func (s *DynamicFieldSuite) SetupTest() {
	log := logger.New()
	m := metrics.NewWith(prometheus.NewRegistry())
	recorder := audit.NewRecorder(audit.NewInMemoryStore(), log)
	identity, err := identityservice.New(identitystore.NewInMemory(), alwaysActiveTenants{}, recorder, log, m)
	s.Require().NoError(err)

	s.store = dynamicfield.NewInMemoryStore()
	s.svc = dynamicfield.New(s.store, identity, recorder, tx.NopRunner{}, log)

	s.tenant = testutil.NewTenant("acme")
	s.ctx = testutil.Context(s.tenant, time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC))

	tid := s.tenant.ID
	s.admin, err = identitymodels.NewUser(id.NewUserID(), "admin@acme.tz", "h", identitymodels.RoleAdmin, &tid, time.Now())
	s.Require().NoError(err)
	s.agent, err = identitymodels.NewUser(id.NewUserID(), "agent@acme.tz", "h", identitymodels.RoleAgent, &tid, time.Now())
	s.Require().NoError(err)
}

func (s *DynamicFieldSuite) define(kind dynamicfield.EntityKind, key string, dt dynamicfield.DataType, choices []string, required bool) *dynamicfield.Definition {
	def, err := s.svc.Define(s.ctx, s.admin, kind, key, key, dt, choices, required, 0)
	s.Require().NoError(err)
	return def
}

func (s *DynamicFieldSuite) TestDefineRestrictedToAdmin() {
	_, err := s.svc.Define(s.ctx, s.agent, dynamicfield.EntityCustomer, "Region", "agent_region",
		dynamicfield.TypeChoice, []string{"North", "South"}, false, 0)
	s.True(domainerrors.HasCode(err, domainerrors.CodeForbidden))
}

func (s *DynamicFieldSuite) TestDuplicateKeyRejected() {
	s.define(dynamicfield.EntityCustomer, "agent_region", dynamicfield.TypeChoice, []string{"North"}, false)
	_, err := s.svc.Define(s.ctx, s.admin, dynamicfield.EntityCustomer, "Region", "agent_region",
		dynamicfield.TypeChoice, []string{"North"}, false, 0)
	s.True(domainerrors.HasCode(err, domainerrors.CodeConflict))
}

func (s *DynamicFieldSuite) TestValueValidation() {
	s.define(dynamicfield.EntityCustomer, "agent_region", dynamicfield.TypeChoice, []string{"North", "South"}, false)
	s.define(dynamicfield.EntityCustomer, "fleet_size", dynamicfield.TypeNumber, nil, false)
	s.define(dynamicfield.EntityCustomer, "onboarded_on", dynamicfield.TypeDate, nil, false)
	s.define(dynamicfield.EntityCustomer, "vip", dynamicfield.TypeBoolean, nil, false)
	entity := id.NewCustomerID().String()

	s.Run("valid values accepted", func() {
		err := s.svc.SetValues(s.ctx, s.agent, dynamicfield.EntityCustomer, entity, map[string]any{
			"agent_region": "North",
			"fleet_size":   float64(12),
			"onboarded_on": "2025-01-15",
			"vip":          true,
		})
		s.Require().NoError(err)
		values, err := s.svc.Values(s.ctx, dynamicfield.EntityCustomer, entity)
		s.Require().NoError(err)
		s.Len(values, 4)
	})

	s.Run("choice outside vocabulary rejected", func() {
		err := s.svc.SetValues(s.ctx, s.agent, dynamicfield.EntityCustomer, entity, map[string]any{
			"agent_region": "West",
		})
		s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
	})

	s.Run("bad date rejected", func() {
		err := s.svc.SetValues(s.ctx, s.agent, dynamicfield.EntityCustomer, entity, map[string]any{
			"onboarded_on": "15/01/2025",
		})
		s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
	})

	s.Run("unknown key rejected", func() {
		err := s.svc.SetValues(s.ctx, s.agent, dynamicfield.EntityCustomer, entity, map[string]any{
			"mystery": "value",
		})
		s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
	})
}

func (s *DynamicFieldSuite) TestRequiredFieldEnforced() {
	s.define(dynamicfield.EntityVehicle, "depot", dynamicfield.TypeText, nil, true)
	entity := id.NewVehicleID().String()

	err := s.svc.SetValues(s.ctx, s.agent, dynamicfield.EntityVehicle, entity, map[string]any{})
	s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))

	s.Require().NoError(s.svc.SetValues(s.ctx, s.agent, dynamicfield.EntityVehicle, entity, map[string]any{
		"depot": "Dar es Salaam",
	}))
}

// TestDeactivatedFieldRetainedButNotRequired: existing values stay readable;
// new writes neither accept nor require the field.
func (s *DynamicFieldSuite) TestDeactivatedFieldRetainedButNotRequired() {
	def := s.define(dynamicfield.EntityVehicle, "depot", dynamicfield.TypeText, nil, true)
	entity := id.NewVehicleID().String()
	s.Require().NoError(s.svc.SetValues(s.ctx, s.agent, dynamicfield.EntityVehicle, entity, map[string]any{
		"depot": "Mwanza",
	}))

	_, err := s.svc.Deactivate(s.ctx, s.admin, def.ID)
	s.Require().NoError(err)

	// New write without the deactivated required field succeeds.
	other := id.NewVehicleID().String()
	s.Require().NoError(s.svc.SetValues(s.ctx, s.agent, dynamicfield.EntityVehicle, other, map[string]any{}))

	// And the old value is retained.
	values, err := s.svc.Values(s.ctx, dynamicfield.EntityVehicle, entity)
	s.Require().NoError(err)
	s.Require().Len(values, 1)
	s.Equal("Mwanza", *values[0].Text)
}

func (s *DynamicFieldSuite) TestFindEntitiesByFieldValue() {
	s.define(dynamicfield.EntityCustomer, "agent_region", dynamicfield.TypeChoice, []string{"North", "South"}, false)
	north := id.NewCustomerID().String()
	south := id.NewCustomerID().String()
	s.Require().NoError(s.svc.SetValues(s.ctx, s.agent, dynamicfield.EntityCustomer, north, map[string]any{"agent_region": "North"}))
	s.Require().NoError(s.svc.SetValues(s.ctx, s.agent, dynamicfield.EntityCustomer, south, map[string]any{"agent_region": "South"}))

	ids, err := s.svc.FindEntities(s.ctx, dynamicfield.EntityCustomer, "agent_region", "North")
	s.Require().NoError(err)
	s.Equal([]string{north}, ids)
}

func (s *DynamicFieldSuite) TestTextLengthBound() {
	s.define(dynamicfield.EntityCustomer, "note", dynamicfield.TypeText, nil, false)
	long := make([]byte, 1025)
	for i := range long {
		long[i] = 'a'
	}
	err := s.svc.SetValues(s.ctx, s.agent, dynamicfield.EntityCustomer, id.NewCustomerID().String(), map[string]any{
		"note": string(long),
	})
	s.True(domainerrors.HasCode(err, domainerrors.CodeValidation))
}
