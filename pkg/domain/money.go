package domain

import (
	"fmt"

	domainerrors "bima/pkg/domain-errors"
)

// Money is a monetary amount in minor units (TZS cents). The payment ledger
// never uses floating point.
type Money int64

// ParseMoney validates an amount received on the wire (minor units).
func ParseMoney(v int64) (Money, error) {
	if v <= 0 {
		return 0, domainerrors.New(domainerrors.CodeValidation, "amount must be positive")
	}
	return Money(v), nil
}

// String renders the amount as major.minor, e.g. "1000000.00".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
