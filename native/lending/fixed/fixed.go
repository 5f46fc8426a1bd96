// Package fixed implements the mantissa arithmetic shared by the lending
// ledger. Values are unsigned 256-bit integers scaled by 1e18 (Exp) or 1e36
// (Double). Every operation is overflow checked.
package fixed

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrOverflow       = errors.New("fixed: math overflow")
	ErrUnderflow      = errors.New("fixed: math underflow")
	ErrDivisionByZero = errors.New("fixed: division by zero")
)

var (
	expScale    = uint256.NewInt(1_000_000_000_000_000_000)
	halfExp     = uint256.NewInt(500_000_000_000_000_000)
	doubleScale = new(uint256.Int).Mul(expScale, expScale)
)

// One returns 1.0 as an Exp mantissa.
func One() *uint256.Int { return new(uint256.Int).Set(expScale) }

// DoubleOne returns 1.0 as a Double mantissa.
func DoubleOne() *uint256.Int { return new(uint256.Int).Set(doubleScale) }

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// Scaled returns v * 1e18, i.e. the integer v expressed as an Exp.
func Scaled(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), expScale)
}

// Copy returns a copy of v, treating nil as zero.
func Copy(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func Add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(Copy(a), Copy(b))
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(Copy(a), Copy(b))
	if underflow {
		return nil, ErrUnderflow
	}
	return out, nil
}

func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(Copy(a), Copy(b))
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b == nil || b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(Copy(a), b), nil
}

// MulExp multiplies a by the Exp b and truncates, returning a*b/1e18. When a
// is itself an Exp the result is an Exp; when a is a plain quantity the result
// is a plain quantity.
func MulExp(a, b *uint256.Int) (*uint256.Int, error) {
	product, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	return product.Div(product, expScale), nil
}

// MulExpAdd returns a*b/1e18 + addend.
func MulExpAdd(a, b, addend *uint256.Int) (*uint256.Int, error) {
	product, err := MulExp(a, b)
	if err != nil {
		return nil, err
	}
	return Add(product, addend)
}

// DivExp divides a by the Exp b, returning a*1e18/b.
func DivExp(a, b *uint256.Int) (*uint256.Int, error) {
	scaled, err := Mul(a, expScale)
	if err != nil {
		return nil, err
	}
	return Div(scaled, b)
}

// MulDouble returns a*b/1e36 where b is a Double.
func MulDouble(a, b *uint256.Int) (*uint256.Int, error) {
	product, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	return product.Div(product, doubleScale), nil
}

// Fraction returns a/b as a Double.
func Fraction(a, b *uint256.Int) (*uint256.Int, error) {
	scaled, err := Mul(a, doubleScale)
	if err != nil {
		return nil, err
	}
	return Div(scaled, b)
}

// MulExpRound is MulExp with half-up rounding.
func MulExpRound(a, b *uint256.Int) (*uint256.Int, error) {
	product, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	product, err = Add(product, halfExp)
	if err != nil {
		return nil, err
	}
	return product.Div(product, expScale), nil
}

func Min(a, b *uint256.Int) *uint256.Int {
	if Copy(a).Lt(Copy(b)) {
		return Copy(a)
	}
	return Copy(b)
}

// IsMath reports whether err belongs to the arithmetic failure family.
func IsMath(err error) bool {
	return errors.Is(err, ErrOverflow) || errors.Is(err, ErrUnderflow) || errors.Is(err, ErrDivisionByZero)
}
