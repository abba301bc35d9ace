package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "bima/pkg/domain"
	domainerrors "bima/pkg/domain-errors"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func activePolicy(t *testing.T, start, end, activated string) *Policy {
	p, err := NewPolicy(id.NewTenantID(), id.NewVehicleID(), "POL-1",
		date(t, start), date(t, end), 100, date(t, start))
	require.NoError(t, err)
	at := date(t, activated)
	p.Status = StatusActive
	p.ActivatedAt = &at
	return p
}

func TestActiveWindow(t *testing.T) {
	t.Run("still active is open ended", func(t *testing.T) {
		p := activePolicy(t, "2025-01-01", "2025-12-31", "2025-01-05")
		from, to, ok := ActiveWindow(p)
		require.True(t, ok)
		assert.Equal(t, date(t, "2025-01-05"), from)
		assert.Nil(t, to)
	})

	t.Run("cancelled closes at cancellation", func(t *testing.T) {
		p := activePolicy(t, "2025-01-01", "2025-12-31", "2025-01-05")
		cancelled := date(t, "2025-06-15")
		p.Status = StatusCancelled
		p.CancelledAt = &cancelled

		assert.True(t, IsActiveAt(p, date(t, "2025-03-01")))
		assert.False(t, IsActiveAt(p, date(t, "2025-06-15")), "window is half open")
		assert.False(t, IsActiveAt(p, date(t, "2025-07-01")))
	})

	t.Run("expired closes at end of end date", func(t *testing.T) {
		p := activePolicy(t, "2025-01-01", "2025-06-30", "2025-01-05")
		p.Status = StatusExpired

		assert.True(t, IsActiveAt(p, date(t, "2025-06-30")))
		assert.False(t, IsActiveAt(p, date(t, "2025-07-01")))
	})

	t.Run("never activated has no window", func(t *testing.T) {
		p, err := NewPolicy(id.NewTenantID(), id.NewVehicleID(), "POL-2",
			date(t, "2025-01-01"), date(t, "2025-12-31"), 100, date(t, "2025-01-01"))
		require.NoError(t, err)
		assert.False(t, IsActiveAt(p, date(t, "2025-06-01")))
	})

	t.Run("before activation is inactive", func(t *testing.T) {
		p := activePolicy(t, "2025-01-01", "2025-12-31", "2025-02-01")
		assert.False(t, IsActiveAt(p, date(t, "2025-01-15")))
	})
}

func TestImmutability(t *testing.T) {
	cases := []struct {
		status    Status
		immutable bool
	}{
		{StatusDraft, false},
		{StatusPendingPayment, false},
		{StatusActive, true},
		{StatusCancelled, true},
		{StatusExpired, true},
	}
	for _, tc := range cases {
		l := Lifecycle{Status: tc.status}
		assert.Equal(t, tc.immutable, l.IsImmutable(), string(tc.status))
	}
}

func TestCancellationReasonVocabulary(t *testing.T) {
	assert.True(t, ValidReason(KindPolicy, ReasonNonPayment))
	assert.False(t, ValidReason(KindPermit, ReasonNonPayment))
	assert.True(t, ValidReason(KindPermit, ReasonExpiredEarly))
	assert.False(t, ValidReason(KindPolicy, ReasonExpiredEarly))
	assert.True(t, ValidReason(KindPolicy, ReasonOther))
	assert.False(t, ValidReason(KindPolicy, CancellationReason("whim")))
}

func TestPolicyValidation(t *testing.T) {
	t.Run("end before start rejected", func(t *testing.T) {
		_, err := NewPolicy(id.NewTenantID(), id.NewVehicleID(), "POL-1",
			date(t, "2025-12-31"), date(t, "2025-01-01"), 100, time.Now())
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeValidation))
	})
	t.Run("zero premium rejected", func(t *testing.T) {
		_, err := NewPolicy(id.NewTenantID(), id.NewVehicleID(), "POL-1",
			date(t, "2025-01-01"), date(t, "2025-12-31"), 0, time.Now())
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeValidation))
	})
}

func TestFormatPolicyNumber(t *testing.T) {
	assert.Equal(t, "POL-2025-ACME-00007", FormatPolicyNumber(2025, "acme", 7))
}

func TestIsFullyPaid(t *testing.T) {
	p := activePolicy(t, "2025-01-01", "2025-12-31", "2025-01-05")
	p.PremiumAmount = 1000

	assert.False(t, p.IsFullyPaid(999))
	assert.True(t, p.IsFullyPaid(1000))
	assert.True(t, p.IsFullyPaid(1500))
}
