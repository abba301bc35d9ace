// Package service implements authentication and authorization.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"bima/internal/audit"
	"bima/internal/identity"
	"bima/internal/identity/models"
	"bima/internal/platform/metrics"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/platform/sentinel"
	"bima/pkg/requestcontext"
)

// Lockout policy: after lockoutThreshold failed attempts the account is
// hard-locked for lockDuration. Failures are counted without a time window;
// only a successful login or a password reset clears the count, so after a
// lock expires the next failure locks the account again.
const (
	lockoutThreshold = 5
	lockDuration     = 15 * time.Minute
)

// UserStore is the persistence surface the service needs.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, u *models.User) error
	ListByTenantRoles(ctx context.Context, tenantID id.TenantID, roles []models.Role) ([]*models.User, error)
	// RecordLoginFailure atomically increments the failure counter, applying
	// the hard lock when the threshold is reached.
	RecordLoginFailure(ctx context.Context, userID id.UserID, threshold int, lockedUntil time.Time) (*models.User, error)
	ClearLoginFailures(ctx context.Context, userID id.UserID) error
}

// TenantChecker reports whether a tenant may operate; suspended tenants
// cannot authenticate.
type TenantChecker interface {
	IsTenantActive(ctx context.Context, tenantID id.TenantID) (bool, error)
}

// Service implements identity operations.
type Service struct {
	users    UserStore
	tenants  TenantChecker
	recorder *audit.Recorder
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// decoyHash keeps unknown-email failures on the same argon2 code path
	// as wrong-password failures so response timing does not reveal which
	// emails exist.
	decoyHash string
}

// New builds the identity service.
func New(users UserStore, tenants TenantChecker, recorder *audit.Recorder, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	decoy, err := identity.HashPassword("decoy-password-never-matches")
	if err != nil {
		return nil, err
	}
	return &Service{
		users:     users,
		tenants:   tenants,
		recorder:  recorder,
		logger:    logger,
		metrics:   m,
		decoyHash: decoy,
	}, nil
}

// Authenticate verifies email and password. Failures are uniform
// (CodeUnauthenticated) except for a locked account, which reports
// CodeLocked so the UI can show a retry-after hint.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	now := requestcontext.Now(ctx)

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			identity.VerifyPassword(password, s.decoyHash)
			s.metrics.LoginFailures.Inc()
			return nil, domainerrors.New(domainerrors.CodeUnauthenticated, "invalid credentials")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to load user")
	}

	if user.IsLockedAt(now) {
		identity.VerifyPassword(password, s.decoyHash)
		return nil, domainerrors.New(domainerrors.CodeLocked, "account is temporarily locked")
	}
	if user.Status != models.UserStatusActive {
		identity.VerifyPassword(password, s.decoyHash)
		return nil, domainerrors.New(domainerrors.CodeUnauthenticated, "invalid credentials")
	}
	if user.TenantID != nil {
		active, err := s.tenants.IsTenantActive(ctx, *user.TenantID)
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to check tenant status")
		}
		if !active {
			identity.VerifyPassword(password, s.decoyHash)
			return nil, domainerrors.New(domainerrors.CodeUnauthenticated, "invalid credentials")
		}
	}

	if !identity.VerifyPassword(password, user.PasswordHash) {
		s.metrics.LoginFailures.Inc()
		updated, err := s.users.RecordLoginFailure(ctx, user.ID, lockoutThreshold, now.Add(lockDuration))
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to record login failure", "error", err)
		} else if updated.LockedUntil != nil {
			s.logger.WarnContext(ctx, "account hard-locked after repeated failures",
				"user_id", user.ID.String(), "locked_until", *updated.LockedUntil)
		}
		return nil, domainerrors.New(domainerrors.CodeUnauthenticated, "invalid credentials")
	}

	if user.FailedLoginCount > 0 || user.LockedUntil != nil {
		if err := s.users.ClearLoginFailures(ctx, user.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to clear login failures", "error", err)
		}
		user.FailedLoginCount = 0
		user.LockedUntil = nil
	}
	return user, nil
}

// Authorize checks the role matrix for the operation. A super-admin attempt
// at a business write is a logged security event and an audited rejection.
func (s *Service) Authorize(ctx context.Context, user *models.User, op models.Operation) error {
	if user == nil {
		return domainerrors.New(domainerrors.CodeUnauthenticated, "authentication required")
	}
	if user.IsSuperAdmin() && op.IsBusinessWrite() {
		s.metrics.SecurityEvents.Inc()
		s.logger.WarnContext(ctx, "super admin attempted business write",
			"user_id", user.ID.String(), "operation", string(op))
		s.recorder.RecordRejection(ctx, nil, "user", user.ID.String(),
			"super_admin_business_write:"+string(op))
		return domainerrors.New(domainerrors.CodeForbidden, "super admin cannot modify business data")
	}
	if allowedRoles(op)[user.Role] {
		return nil
	}
	return domainerrors.Newf(domainerrors.CodeForbidden, "role %s may not perform %s", user.Role, op)
}

// allowedRoles is the §4.2 role matrix.
func allowedRoles(op models.Operation) map[models.Role]bool {
	switch op {
	case models.OpManageTenants, models.OpResetTenantAdmin:
		return map[models.Role]bool{models.RoleSuperAdmin: true}
	case models.OpWriteCustomer, models.OpWriteVehicle, models.OpCreateDraft, models.OpEditDraft, models.OpRecordPayment:
		return map[models.Role]bool{models.RoleAdmin: true, models.RoleManager: true, models.RoleAgent: true}
	case models.OpVerifyPayment, models.OpActivateRecord, models.OpCancelRecord:
		return map[models.Role]bool{models.RoleAdmin: true, models.RoleManager: true}
	case models.OpViewReports, models.OpReadBusinessData:
		return map[models.Role]bool{models.RoleAdmin: true, models.RoleManager: true, models.RoleAgent: true}
	case models.OpDefineDynamicField:
		return map[models.Role]bool{models.RoleAdmin: true}
	default:
		return nil
	}
}

// CreateUser registers a tenant user (or a super admin when tenantID is nil).
func (s *Service) CreateUser(ctx context.Context, email, password string, role models.Role, tenantID *id.TenantID) (*models.User, error) {
	if len(password) < 10 {
		return nil, domainerrors.NewValidation("password", "must be at least 10 characters")
	}
	hash, err := identity.HashPassword(password)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to hash password")
	}
	user, err := models.NewUser(id.NewUserID(), email, hash, role, tenantID, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, domainerrors.New(domainerrors.CodeConflict, "email is already registered")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to create user")
	}
	if err := s.recorder.Record(ctx, audit.Entry{
		TenantID:   tenantID,
		EntityKind: "user",
		EntityID:   user.ID.String(),
		Action:     audit.ActionCreate,
		After:      audit.Snapshot(user),
	}); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser loads a user by id.
func (s *Service) GetUser(ctx context.Context, userID id.UserID) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domainerrors.New(domainerrors.CodeNotFound, "user not found")
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to load user")
	}
	return user, nil
}

// ListRecipients returns the tenant users holding any of the given roles.
func (s *Service) ListRecipients(ctx context.Context, tenantID id.TenantID, roles []models.Role) ([]*models.User, error) {
	users, err := s.users.ListByTenantRoles(ctx, tenantID, roles)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to list users")
	}
	return users, nil
}
