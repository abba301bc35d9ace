// Package domain defines typed identifiers and shared value types used across
// the platform.
//
// IDs are distinct named types over uuid.UUID so that tenant, user, and
// entity identifiers cannot be swapped by accident. Construct them via the
// Parse* functions at trust boundaries; direct casting bypasses validation.
package domain

import (
	"github.com/google/uuid"

	domainerrors "bima/pkg/domain-errors"
)

type (
	// TenantID identifies an insurance organization, the isolation boundary.
	TenantID uuid.UUID
	// UserID identifies a platform or tenant user.
	UserID uuid.UUID
	// CustomerID identifies a vehicle-owning customer.
	CustomerID uuid.UUID
	// VehicleID identifies the root compliance aggregate.
	VehicleID uuid.UUID
	// PolicyID identifies an insurance policy.
	PolicyID uuid.UUID
	// PermitID identifies a regulatory permit (including LATRA records).
	PermitID uuid.UUID
	// PaymentID identifies a payment ledger entry.
	PaymentID uuid.UUID
	// OwnershipID identifies one vehicle ownership interval.
	OwnershipID uuid.UUID
	// FieldDefinitionID identifies a dynamic field definition.
	FieldDefinitionID uuid.UUID
	// NotificationID identifies an in-app notification row.
	NotificationID uuid.UUID
)

func (id TenantID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool            { return uuid.UUID(id) == uuid.Nil }
func (id CustomerID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id VehicleID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id PolicyID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id PermitID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }
func (id PaymentID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id OwnershipID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id FieldDefinitionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id NotificationID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func (id TenantID) String() string          { return uuid.UUID(id).String() }
func (id UserID) String() string            { return uuid.UUID(id).String() }
func (id CustomerID) String() string        { return uuid.UUID(id).String() }
func (id VehicleID) String() string         { return uuid.UUID(id).String() }
func (id PolicyID) String() string          { return uuid.UUID(id).String() }
func (id PermitID) String() string          { return uuid.UUID(id).String() }
func (id PaymentID) String() string         { return uuid.UUID(id).String() }
func (id OwnershipID) String() string       { return uuid.UUID(id).String() }
func (id FieldDefinitionID) String() string { return uuid.UUID(id).String() }
func (id NotificationID) String() string    { return uuid.UUID(id).String() }

// Text encodings, JSON included, use the canonical UUID string.
func (id TenantID) MarshalText() ([]byte, error)          { return uuid.UUID(id).MarshalText() }
func (id UserID) MarshalText() ([]byte, error)            { return uuid.UUID(id).MarshalText() }
func (id CustomerID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id VehicleID) MarshalText() ([]byte, error)         { return uuid.UUID(id).MarshalText() }
func (id PolicyID) MarshalText() ([]byte, error)          { return uuid.UUID(id).MarshalText() }
func (id PermitID) MarshalText() ([]byte, error)          { return uuid.UUID(id).MarshalText() }
func (id PaymentID) MarshalText() ([]byte, error)         { return uuid.UUID(id).MarshalText() }
func (id OwnershipID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id FieldDefinitionID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id NotificationID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id *TenantID) UnmarshalText(b []byte) error         { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *UserID) UnmarshalText(b []byte) error           { return (*uuid.UUID)(id).UnmarshalText(b) }

// NewTenantID allocates a fresh tenant identifier.
func NewTenantID() TenantID { return TenantID(uuid.New()) }

// NewUserID allocates a fresh user identifier.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewCustomerID allocates a fresh customer identifier.
func NewCustomerID() CustomerID { return CustomerID(uuid.New()) }

// NewVehicleID allocates a fresh vehicle identifier.
func NewVehicleID() VehicleID { return VehicleID(uuid.New()) }

// NewPolicyID allocates a fresh policy identifier.
func NewPolicyID() PolicyID { return PolicyID(uuid.New()) }

// NewPermitID allocates a fresh permit identifier.
func NewPermitID() PermitID { return PermitID(uuid.New()) }

// NewPaymentID allocates a fresh payment identifier.
func NewPaymentID() PaymentID { return PaymentID(uuid.New()) }

// NewOwnershipID allocates a fresh ownership identifier.
func NewOwnershipID() OwnershipID { return OwnershipID(uuid.New()) }

// NewFieldDefinitionID allocates a fresh field definition identifier.
func NewFieldDefinitionID() FieldDefinitionID { return FieldDefinitionID(uuid.New()) }

// NewNotificationID allocates a fresh notification identifier.
func NewNotificationID() NotificationID { return NotificationID(uuid.New()) }

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, domainerrors.New(domainerrors.CodeValidation, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, domainerrors.New(domainerrors.CodeValidation, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, domainerrors.New(domainerrors.CodeValidation, "id cannot be the nil UUID")
	}
	return u, nil
}

// ParseTenantID validates external input into a TenantID.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s)
	return TenantID(u), err
}

// ParseUserID validates external input into a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID(u), err
}

// ParseCustomerID validates external input into a CustomerID.
func ParseCustomerID(s string) (CustomerID, error) {
	u, err := parseUUID(s)
	return CustomerID(u), err
}

// ParseVehicleID validates external input into a VehicleID.
func ParseVehicleID(s string) (VehicleID, error) {
	u, err := parseUUID(s)
	return VehicleID(u), err
}

// ParsePolicyID validates external input into a PolicyID.
func ParsePolicyID(s string) (PolicyID, error) {
	u, err := parseUUID(s)
	return PolicyID(u), err
}

// ParsePermitID validates external input into a PermitID.
func ParsePermitID(s string) (PermitID, error) {
	u, err := parseUUID(s)
	return PermitID(u), err
}

// ParsePaymentID validates external input into a PaymentID.
func ParsePaymentID(s string) (PaymentID, error) {
	u, err := parseUUID(s)
	return PaymentID(u), err
}

// ParseOwnershipID validates external input into an OwnershipID.
func ParseOwnershipID(s string) (OwnershipID, error) {
	u, err := parseUUID(s)
	return OwnershipID(u), err
}

// ParseFieldDefinitionID validates external input into a FieldDefinitionID.
func ParseFieldDefinitionID(s string) (FieldDefinitionID, error) {
	u, err := parseUUID(s)
	return FieldDefinitionID(u), err
}

// ParseNotificationID validates external input into a NotificationID.
func ParseNotificationID(s string) (NotificationID, error) {
	u, err := parseUUID(s)
	return NotificationID(u), err
}
