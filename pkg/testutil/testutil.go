// Package testutil holds small helpers shared by test suites.
package testutil

import (
	"context"
	"testing"
	"time"

	"bima/internal/tenantctx"
	id "bima/pkg/domain"
	"bima/pkg/requestcontext"
)

// Date parses a YYYY-MM-DD literal, failing the test on a typo.
func Date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("bad date literal %q: %v", s, err)
	}
	return d
}

// NewTenant builds an ActiveTenant with default settings.
func NewTenant(slug string) tenantctx.ActiveTenant {
	return tenantctx.ActiveTenant{
		ID:       id.NewTenantID(),
		Slug:     slug,
		Name:     slug,
		Settings: tenantctx.DefaultSettings(),
	}
}

// Context binds the tenant and pins the clock.
func Context(tenant tenantctx.ActiveTenant, now time.Time) context.Context {
	ctx := tenantctx.With(context.Background(), tenant)
	return requestcontext.WithTime(ctx, now)
}
