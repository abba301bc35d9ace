// Package dynamicfield implements typed, queryable per-tenant custom fields
// on customers, vehicles, and policies. Values land in one typed column per
// data type, never a free-form blob, so they stay indexable.
package dynamicfield

import (
	"regexp"
	"slices"
	"strings"
	"time"

	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

// EntityKind names the entity family a definition attaches to.
type EntityKind string

const (
	EntityCustomer EntityKind = "customer"
	EntityVehicle  EntityKind = "vehicle"
	EntityPolicy   EntityKind = "policy"
)

// DataType is the value type of a definition.
type DataType string

const (
	TypeText    DataType = "text"
	TypeNumber  DataType = "number"
	TypeDate    DataType = "date"
	TypeBoolean DataType = "boolean"
	TypeChoice  DataType = "choice"
)

const maxTextLength = 1024

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Definition describes one custom field.
type Definition struct {
	ID         id.FieldDefinitionID `json:"id"`
	TenantID   id.TenantID          `json:"tenant_id"`
	EntityKind EntityKind           `json:"entity_kind"`
	Name       string               `json:"name"`
	Key        string               `json:"key"`
	DataType   DataType             `json:"data_type"`
	Choices    []string             `json:"choices,omitempty"`
	Required   bool                 `json:"required"`
	Order      int                  `json:"order"`
	IsActive   bool                 `json:"is_active"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// NewDefinition validates and constructs a definition.
func NewDefinition(tenantID id.TenantID, entityKind EntityKind, name, key string, dataType DataType, choices []string, required bool, order int, now time.Time) (*Definition, error) {
	switch entityKind {
	case EntityCustomer, EntityVehicle, EntityPolicy:
	default:
		return nil, domainerrors.NewValidation("entity_kind", "must be customer, vehicle, or policy")
	}
	if strings.TrimSpace(name) == "" {
		return nil, domainerrors.NewValidation("name", "cannot be empty")
	}
	if !keyPattern.MatchString(key) {
		return nil, domainerrors.NewValidation("key", "must be snake_case starting with a letter")
	}
	switch dataType {
	case TypeText, TypeNumber, TypeDate, TypeBoolean:
		if len(choices) > 0 {
			return nil, domainerrors.NewValidation("choices", "only choice fields take choices")
		}
	case TypeChoice:
		if len(choices) == 0 {
			return nil, domainerrors.NewValidation("choices", "choice fields require at least one choice")
		}
	default:
		return nil, domainerrors.NewValidation("data_type", "unknown data type")
	}
	return &Definition{
		ID:         id.NewFieldDefinitionID(),
		TenantID:   tenantID,
		EntityKind: entityKind,
		Name:       strings.TrimSpace(name),
		Key:        key,
		DataType:   dataType,
		Choices:    choices,
		Required:   required,
		Order:      order,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Value is one typed value bound to (definition, entity). Exactly one typed
// column is set, matching the definition's data type.
type Value struct {
	DefinitionID id.FieldDefinitionID `json:"definition_id"`
	TenantID     id.TenantID          `json:"tenant_id"`
	EntityKind   EntityKind           `json:"entity_kind"`
	EntityID     string               `json:"entity_id"`
	Text         *string              `json:"value_text,omitempty"`
	Number       *float64             `json:"value_number,omitempty"`
	Date         *time.Time           `json:"value_date,omitempty"`
	Bool         *bool                `json:"value_bool,omitempty"`
	Choice       *string              `json:"value_choice,omitempty"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// BindValue validates raw wire input against the definition and produces the
// typed value row.
func BindValue(def *Definition, entityID string, raw any, now time.Time) (*Value, error) {
	v := &Value{
		DefinitionID: def.ID,
		TenantID:     def.TenantID,
		EntityKind:   def.EntityKind,
		EntityID:     entityID,
		UpdatedAt:    now,
	}
	switch def.DataType {
	case TypeText:
		s, ok := raw.(string)
		if !ok {
			return nil, domainerrors.NewValidation(def.Key, "expected a string")
		}
		if len([]rune(s)) > maxTextLength {
			return nil, domainerrors.NewValidation(def.Key, "text exceeds 1024 characters")
		}
		v.Text = &s
	case TypeNumber:
		n, ok := raw.(float64)
		if !ok {
			return nil, domainerrors.NewValidation(def.Key, "expected a number")
		}
		v.Number = &n
	case TypeDate:
		s, ok := raw.(string)
		if !ok {
			return nil, domainerrors.NewValidation(def.Key, "expected an ISO-8601 date string")
		}
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, domainerrors.NewValidation(def.Key, "expected an ISO-8601 date (YYYY-MM-DD)")
		}
		v.Date = &d
	case TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, domainerrors.NewValidation(def.Key, "expected true or false")
		}
		v.Bool = &b
	case TypeChoice:
		s, ok := raw.(string)
		if !ok {
			return nil, domainerrors.NewValidation(def.Key, "expected a string choice")
		}
		if !slices.Contains(def.Choices, s) {
			return nil, domainerrors.NewValidation(def.Key, "not one of the defined choices")
		}
		v.Choice = &s
	}
	return v, nil
}
