package models

import (
	"strings"
	"time"

	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

// VehicleType classifies a vehicle. The set is extensible per deployment;
// these are the values every tenant starts with.
type VehicleType string

const (
	VehicleMotorcycle   VehicleType = "motorcycle"
	VehicleThreeWheeler VehicleType = "three_wheeler" // bajaji
	VehicleCar          VehicleType = "car"
)

// VehicleStatus is the operational state of a vehicle.
type VehicleStatus string

const (
	VehicleActive    VehicleStatus = "active"
	VehicleSuspended VehicleStatus = "suspended"
	VehicleRetired   VehicleStatus = "retired"
)

// Vehicle is the root compliance aggregate. Policies, permits, and ownership
// rows reference it; it owns no other aggregate.
type Vehicle struct {
	ID                id.VehicleID  `json:"id"`
	TenantID          id.TenantID   `json:"tenant_id"`
	RegistrationPlate string        `json:"registration_plate"`
	ChassisNumber     string        `json:"chassis_number,omitempty"`
	EngineNumber      string        `json:"engine_number,omitempty"`
	VehicleType       VehicleType   `json:"vehicle_type"`
	UsageCategory     string        `json:"usage_category,omitempty"`
	Status            VehicleStatus `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
	DeletedAt         *time.Time    `json:"deleted_at,omitempty"`
}

// NewVehicle validates and constructs a vehicle.
func NewVehicle(tenantID id.TenantID, plate string, vehicleType VehicleType, usageCategory string, now time.Time) (*Vehicle, error) {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	if plate == "" {
		return nil, domainerrors.NewValidation("registration_plate", "cannot be empty")
	}
	if vehicleType == "" {
		return nil, domainerrors.NewValidation("vehicle_type", "cannot be empty")
	}
	return &Vehicle{
		ID:                id.NewVehicleID(),
		TenantID:          tenantID,
		RegistrationPlate: plate,
		VehicleType:       vehicleType,
		UsageCategory:     usageCategory,
		Status:            VehicleActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Ownership links a vehicle to its owner for an interval. At most one row
// per vehicle has ToTS == nil (the current owner).
type Ownership struct {
	ID         id.OwnershipID `json:"id"`
	TenantID   id.TenantID    `json:"tenant_id"`
	VehicleID  id.VehicleID   `json:"vehicle_id"`
	CustomerID id.CustomerID  `json:"customer_id"`
	FromTS     time.Time      `json:"from_ts"`
	ToTS       *time.Time     `json:"to_ts,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
