package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "bima/pkg/domain-errors"
)

// TestParseID_Invariants validates the parsing contract: IDs must be valid,
// non-empty, non-nil UUIDs. Parse* functions guard trust boundaries; direct
// casting bypasses validation on purpose.
func TestParseID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseTenantID("")
		require.Error(t, err)
		assert.True(t, domainerrors.HasCode(err, domainerrors.CodeValidation))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseTenantID("not-a-uuid")
		require.Error(t, err)
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseTenantID(uuid.Nil.String())
		require.Error(t, err)
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		parsed, err := ParseTenantID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, TenantID(valid), parsed)
	})
}

// TestParseID_HostileInput: trust boundary parsers must reject attack
// shapes without panicking.
func TestParseID_HostileInput(t *testing.T) {
	inputs := []string{
		"'; DROP TABLE policies;--",
		"../../../etc/passwd",
		strings.Repeat("a", 1000),
		"550e8400\x00-e29b-41d4-a716-446655440000",
	}
	for _, input := range inputs {
		_, err := ParseVehicleID(input)
		assert.Error(t, err, input)
	}
}

// TestAllIDTypes_ConsistentBehavior: every ID type validates identically.
func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	valid := uuid.New().String()

	_, errUser := ParseUserID(valid)
	_, errVehicle := ParseVehicleID(valid)
	_, errPolicy := ParsePolicyID(valid)
	_, errPermit := ParsePermitID(valid)
	_, errPayment := ParsePaymentID(valid)
	require.NoError(t, errUser)
	require.NoError(t, errVehicle)
	require.NoError(t, errPolicy)
	require.NoError(t, errPermit)
	require.NoError(t, errPayment)

	for _, bad := range []string{"", "nope", uuid.Nil.String()} {
		_, errUser := ParseUserID(bad)
		_, errPolicy := ParsePolicyID(bad)
		require.Error(t, errUser, bad)
		require.Error(t, errPolicy, bad)
	}
}

func TestMoney(t *testing.T) {
	t.Run("positive amounts parse", func(t *testing.T) {
		m, err := ParseMoney(1_000_000_00)
		require.NoError(t, err)
		assert.Equal(t, "1000000.00", m.String())
	})
	t.Run("zero and negative rejected", func(t *testing.T) {
		_, err := ParseMoney(0)
		require.Error(t, err)
		_, err = ParseMoney(-5)
		require.Error(t, err)
	})
}
