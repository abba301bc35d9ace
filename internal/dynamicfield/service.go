package dynamicfield

import (
	"context"
	"errors"
	"log/slog"

	"bima/internal/audit"
	identitymodels "bima/internal/identity/models"
	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/platform/sentinel"
	"bima/pkg/platform/tx"
	"bima/pkg/requestcontext"
)

// Store persists definitions and values.
type Store interface {
	CreateDefinition(ctx context.Context, d *Definition) error
	GetDefinition(ctx context.Context, defID id.FieldDefinitionID) (*Definition, error)
	UpdateDefinition(ctx context.Context, d *Definition) error
	ListDefinitions(ctx context.Context, entityKind EntityKind, activeOnly bool) ([]*Definition, error)
	UpsertValue(ctx context.Context, v *Value) error
	ListValues(ctx context.Context, entityKind EntityKind, entityID string) ([]*Value, error)
	// EntityIDsWhere returns entity ids whose value for the definition
	// matches the given text/choice needle. Backed by the typed columns.
	EntityIDsWhere(ctx context.Context, defID id.FieldDefinitionID, needle string) ([]string, error)
}

// Authorizer checks the role matrix.
type Authorizer interface {
	Authorize(ctx context.Context, user *identitymodels.User, op identitymodels.Operation) error
}

// Service implements dynamic field operations.
type Service struct {
	store    Store
	authz    Authorizer
	recorder *audit.Recorder
	runner   tx.Runner
	logger   *slog.Logger
}

// New builds the dynamic field service.
func New(store Store, authz Authorizer, recorder *audit.Recorder, runner tx.Runner, logger *slog.Logger) *Service {
	return &Service{store: store, authz: authz, recorder: recorder, runner: runner, logger: logger}
}

// Define creates a field definition. Admin only.
func (s *Service) Define(ctx context.Context, actor *identitymodels.User, entityKind EntityKind, name, key string, dataType DataType, choices []string, required bool, order int) (*Definition, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpDefineDynamicField); err != nil {
		return nil, err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	def, err := NewDefinition(tenant.ID, entityKind, name, key, dataType, choices, required, order, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.CreateDefinition(txCtx, def); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return domainerrors.New(domainerrors.CodeConflict, "field key already defined for this entity kind")
			}
			return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to create field definition")
		}
		return s.recorder.Record(txCtx, audit.Entry{
			TenantID:   &tenant.ID,
			EntityKind: "field_definition",
			EntityID:   def.ID.String(),
			Action:     audit.ActionCreate,
			After:      audit.Snapshot(def),
		})
	})
	if err != nil {
		return nil, err
	}
	return def, nil
}

// Deactivate hides a definition for new records. Existing values are
// retained and stay valid; new writes no longer require the field.
func (s *Service) Deactivate(ctx context.Context, actor *identitymodels.User, defID id.FieldDefinitionID) (*Definition, error) {
	if err := s.authz.Authorize(ctx, actor, identitymodels.OpDefineDynamicField); err != nil {
		return nil, err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return nil, err
	}
	var out *Definition
	err = s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		def, err := s.store.GetDefinition(txCtx, defID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return domainerrors.New(domainerrors.CodeNotFound, "field definition not found")
			}
			return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to load field definition")
		}
		before := audit.Snapshot(def)
		def.IsActive = false
		def.UpdatedAt = requestcontext.Now(txCtx)
		if err := s.store.UpdateDefinition(txCtx, def); err != nil {
			return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to update field definition")
		}
		if err := s.recorder.Record(txCtx, audit.Entry{
			TenantID:   &tenant.ID,
			EntityKind: "field_definition",
			EntityID:   def.ID.String(),
			Action:     audit.ActionUpdate,
			Before:     before,
			After:      audit.Snapshot(def),
			Reason:     "field_deactivated",
		}); err != nil {
			return err
		}
		out = def
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetValues validates and writes the supplied values for one entity.
// Required active definitions must be present in the map; deactivated
// definitions are not required, and a value for one (or for an unknown key)
// is rejected.
func (s *Service) SetValues(ctx context.Context, actor *identitymodels.User, entityKind EntityKind, entityID string, values map[string]any) error {
	op := identitymodels.OpWriteCustomer
	switch entityKind {
	case EntityVehicle:
		op = identitymodels.OpWriteVehicle
	case EntityPolicy:
		op = identitymodels.OpEditDraft
	}
	if err := s.authz.Authorize(ctx, actor, op); err != nil {
		return err
	}
	tenant, err := tenantctx.Require(ctx)
	if err != nil {
		return err
	}

	defs, err := s.store.ListDefinitions(ctx, entityKind, true)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to list field definitions")
	}
	byKey := make(map[string]*Definition, len(defs))
	for _, d := range defs {
		byKey[d.Key] = d
	}
	for key := range values {
		if _, ok := byKey[key]; !ok {
			return domainerrors.NewValidation(key, "unknown or inactive field")
		}
	}
	for _, d := range defs {
		if d.Required {
			if _, ok := values[d.Key]; !ok {
				return domainerrors.NewValidation(d.Key, "field is required")
			}
		}
	}

	now := requestcontext.Now(ctx)
	return s.runner.RunInTx(ctx, func(txCtx context.Context) error {
		for key, raw := range values {
			def := byKey[key]
			v, err := BindValue(def, entityID, raw, now)
			if err != nil {
				return err
			}
			if err := s.store.UpsertValue(txCtx, v); err != nil {
				return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to write field value")
			}
		}
		return s.recorder.Record(txCtx, audit.Entry{
			TenantID:   &tenant.ID,
			EntityKind: string(entityKind) + "_fields",
			EntityID:   entityID,
			Action:     audit.ActionUpdate,
			After:      audit.Snapshot(values),
		})
	})
}

// Values returns the stored values for one entity.
func (s *Service) Values(ctx context.Context, entityKind EntityKind, entityID string) ([]*Value, error) {
	vals, err := s.store.ListValues(ctx, entityKind, entityID)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to list field values")
	}
	return vals, nil
}

// Definitions lists the definitions for an entity kind.
func (s *Service) Definitions(ctx context.Context, entityKind EntityKind, activeOnly bool) ([]*Definition, error) {
	defs, err := s.store.ListDefinitions(ctx, entityKind, activeOnly)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to list field definitions")
	}
	return defs, nil
}

// FindEntities answers "entities where field <key> equals <needle>" using
// the indexed typed columns.
func (s *Service) FindEntities(ctx context.Context, entityKind EntityKind, key, needle string) ([]string, error) {
	defs, err := s.store.ListDefinitions(ctx, entityKind, false)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to list field definitions")
	}
	for _, d := range defs {
		if d.Key == key {
			ids, err := s.store.EntityIDsWhere(ctx, d.ID, needle)
			if err != nil {
				return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "field query failed")
			}
			return ids, nil
		}
	}
	return nil, domainerrors.NewValidation(key, "unknown field")
}
