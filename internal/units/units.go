package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point scale of the native asset.
const Decimals = 7

// PerUnit is the number of base units in one display unit.
const PerUnit = 10_000_000

// Precisions used when presenting amounts.
const (
	DisplayPrecision = 2
	FullPrecision    = Decimals
)

// ErrInvalidAmount is returned when a display string is not a non-negative finite number.
var ErrInvalidAmount = errors.New("invalid amount")

// Amount is a non-negative quantity expressed in base units.
type Amount uint64

// ToBase parses a display amount and converts it to base units, truncating
// anything below base-unit resolution.
func ToBase(display string) (Amount, error) {
	raw := strings.TrimSpace(display)
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, display)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, display)
	}
	base := d.Shift(Decimals).Truncate(0).BigInt()
	if !base.IsUint64() {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, display)
	}
	return Amount(base.Uint64()), nil
}

// ToDisplay formats base units as a display amount with the given number of
// decimal places.
func ToDisplay(base Amount, precision int) string {
	if precision < 0 {
		precision = 0
	}
	return base.Decimal().StringFixed(int32(precision))
}

// Decimal returns the amount in display units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.BigInt(), -Decimals)
}

// BigInt returns the amount in base units.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(a))
}

func (a Amount) String() string {
	return ToDisplay(a, FullPrecision)
}

// FromBigInt narrows a contract integer to an Amount. Negative or oversized
// values are rejected.
func FromBigInt(v *big.Int) (Amount, error) {
	if v == nil {
		return 0, nil
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s not representable", ErrInvalidAmount, v.String())
	}
	return Amount(v.Uint64()), nil
}
