package service

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"bima/internal/audit"
	"bima/internal/identity"
	"bima/internal/identity/models"
	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
	"bima/pkg/requestcontext"
)

// ResetTokens issues and consumes short-lived password reset tokens.
// A super admin issues one for a tenant admin; consuming it replaces the
// hash, clears must_change_password and resets the lockout state.
type ResetTokens struct {
	secret []byte
	ttl    time.Duration
}

// NewResetTokens builds the token helper.
func NewResetTokens(secret string, ttl time.Duration) *ResetTokens {
	return &ResetTokens{secret: []byte(secret), ttl: ttl}
}

type resetClaims struct {
	jwt.RegisteredClaims
	Purpose string `json:"purpose"`
}

const resetPurpose = "password_reset"

// Issue signs a reset token for the user.
func (r *ResetTokens) Issue(userID id.UserID, now time.Time) (string, error) {
	claims := resetClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(r.ttl)),
		},
		Purpose: resetPurpose,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to sign reset token")
	}
	return signed, nil
}

// Verify validates a reset token and returns the subject user id.
func (r *ResetTokens) Verify(tokenString string, now time.Time) (id.UserID, error) {
	var claims resetClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return r.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil || !token.Valid || claims.Purpose != resetPurpose {
		return id.UserID{}, domainerrors.New(domainerrors.CodeUnauthenticated, "invalid or expired reset token")
	}
	return id.ParseUserID(claims.Subject)
}

// IssuePasswordReset lets a super admin issue a reset token for a tenant
// admin (§4.2: reset a tenant admin's password is super-admin only).
func (s *Service) IssuePasswordReset(ctx context.Context, actor *models.User, tokens *ResetTokens, targetID id.UserID) (string, error) {
	if err := s.Authorize(ctx, actor, models.OpResetTenantAdmin); err != nil {
		return "", err
	}
	target, err := s.GetUser(ctx, targetID)
	if err != nil {
		return "", err
	}
	if target.Role != models.RoleAdmin {
		return "", domainerrors.New(domainerrors.CodeForbidden, "reset tokens may only be issued for tenant admins")
	}
	token, err := tokens.Issue(target.ID, requestcontext.Now(ctx))
	if err != nil {
		return "", err
	}
	if err := s.recorder.Record(ctx, audit.Entry{
		TenantID:   target.TenantID,
		EntityKind: "user",
		EntityID:   target.ID.String(),
		Action:     audit.ActionUpdate,
		Reason:     "password_reset_issued",
	}); err != nil {
		return "", err
	}
	return token, nil
}

// ConsumePasswordReset sets a new password from a valid reset token.
func (s *Service) ConsumePasswordReset(ctx context.Context, tokens *ResetTokens, tokenString, newPassword string) error {
	now := requestcontext.Now(ctx)
	userID, err := tokens.Verify(tokenString, now)
	if err != nil {
		return err
	}
	if len(newPassword) < 10 {
		return domainerrors.NewValidation("password", "must be at least 10 characters")
	}
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	hash, err := identity.HashPassword(newPassword)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to hash password")
	}
	user.PasswordHash = hash
	user.MustChangePassword = false
	user.FailedLoginCount = 0
	user.LockedUntil = nil
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "failed to update password")
	}
	return s.recorder.Record(ctx, audit.Entry{
		TenantID:   user.TenantID,
		EntityKind: "user",
		EntityID:   user.ID.String(),
		Action:     audit.ActionUpdate,
		Reason:     "password_reset_consumed",
	})
}
