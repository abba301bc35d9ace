// Package models defines users, roles, and the authority model.
package models

import (
	"strings"
	"time"

	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

// Role is a user's role. Tenant users carry admin, manager, or agent;
// super_admin is the platform owner and never belongs to a tenant.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleAgent      Role = "agent"
)

var validRoles = map[Role]bool{
	RoleSuperAdmin: true,
	RoleAdmin:      true,
	RoleManager:    true,
	RoleAgent:      true,
}

// ParseRole validates external input into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !validRoles[r] {
		return "", domainerrors.NewValidation("role", "unknown role")
	}
	return r, nil
}

// UserStatus is the account state.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User is an authenticated actor.
//
// Invariant: Role==RoleSuperAdmin ⇔ TenantID==nil. Enforced at construction
// and by a database check constraint.
type User struct {
	ID                 id.UserID    `json:"id"`
	Email              string       `json:"email"`
	PasswordHash       string       `json:"-"`
	Role               Role         `json:"role"`
	TenantID           *id.TenantID `json:"tenant_id,omitempty"`
	Status             UserStatus   `json:"status"`
	FailedLoginCount   int          `json:"-"`
	LockedUntil        *time.Time   `json:"-"`
	MustChangePassword bool         `json:"must_change_password"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	DeletedAt          *time.Time   `json:"-"`
}

// NewUser validates and constructs a user. passwordHash must already be an
// encoded argon2id hash.
func NewUser(userID id.UserID, email, passwordHash string, role Role, tenantID *id.TenantID, now time.Time) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domainerrors.NewValidation("email", "must be a valid email address")
	}
	if !validRoles[role] {
		return nil, domainerrors.NewValidation("role", "unknown role")
	}
	if role == RoleSuperAdmin && tenantID != nil {
		return nil, domainerrors.NewValidation("tenant_id", "super admin cannot belong to a tenant")
	}
	if role != RoleSuperAdmin && (tenantID == nil || tenantID.IsNil()) {
		return nil, domainerrors.NewValidation("tenant_id", "tenant users require a tenant")
	}
	return &User{
		ID:           userID,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		TenantID:     tenantID,
		Status:       UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// IsSuperAdmin reports whether the user is the platform owner.
func (u *User) IsSuperAdmin() bool { return u.Role == RoleSuperAdmin }

// IsLockedAt reports whether the account is hard-locked at t.
func (u *User) IsLockedAt(t time.Time) bool {
	return u.LockedUntil != nil && t.Before(*u.LockedUntil)
}
