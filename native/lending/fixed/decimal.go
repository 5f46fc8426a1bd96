package fixed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

const expDecimals = 18

var ErrInvalidDecimal = errors.New("fixed: invalid decimal")

// ParseExp converts a human decimal such as "0.75" or "1.08" into an Exp
// mantissa. Digits beyond 18 decimal places are truncated.
func ParseExp(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Zero(), nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecimal, raw)
	}
	return FromDecimal(value)
}

// FromDecimal scales a decimal by 1e18 into an Exp mantissa.
func FromDecimal(value decimal.Decimal) (*uint256.Int, error) {
	if value.IsNegative() {
		return nil, fmt.Errorf("%w: negative value %s", ErrInvalidDecimal, value.String())
	}
	scaled := value.Shift(expDecimals).Truncate(0)
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// ParseAmount parses a base-10 integer quantity.
func ParseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidDecimal)
	}
	out, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDecimal, raw)
	}
	return out, nil
}

// ToDecimal converts an Exp mantissa into a decimal value.
func ToDecimal(v *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(Copy(v).ToBig(), -expDecimals)
}

// DoubleToDecimal converts a Double mantissa into a decimal value.
func DoubleToDecimal(v *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(Copy(v).ToBig(), -2*expDecimals)
}

// Format renders an Exp mantissa as a decimal string.
func Format(v *uint256.Int) string {
	return ToDecimal(v).String()
}
