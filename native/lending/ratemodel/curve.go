// Package ratemodel maps pool utilisation onto per-period borrow and supply
// rates.
package ratemodel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"moneymarket/native/lending/fixed"
)

// DefaultPeriodsPerYear assumes one accrual period every 15 seconds.
const DefaultPeriodsPerYear uint64 = 2_102_400

const (
	KindJump   = "jump"
	KindLinear = "linear"
)

var ErrInvalidCurve = errors.New("ratemodel: invalid curve")

// Curve is a utilisation based interest rate model. Rates are Exp mantissas
// expressed per accrual period.
type Curve interface {
	BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error)
	SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error)
	AnnualBorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error)
}

// Spec is the persisted description of a curve. Coefficients are annual Exp
// mantissas.
type Spec struct {
	Kind           string
	BaseRate       *uint256.Int
	Slope1         *uint256.Int
	Slope2         *uint256.Int
	Kink           *uint256.Int
	PeriodsPerYear uint64
}

// Clone returns a deep copy of the spec.
func (s Spec) Clone() Spec {
	return Spec{
		Kind:           s.Kind,
		BaseRate:       fixed.Copy(s.BaseRate),
		Slope1:         fixed.Copy(s.Slope1),
		Slope2:         fixed.Copy(s.Slope2),
		Kink:           fixed.Copy(s.Kink),
		PeriodsPerYear: s.PeriodsPerYear,
	}
}

// Validate checks the coefficient bounds. A jump curve needs a kink in (0, 1]
// and a second slope at least as steep as the first.
func (s Spec) Validate() error {
	if s.PeriodsPerYear == 0 {
		return fmt.Errorf("%w: periods per year must be positive", ErrInvalidCurve)
	}
	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case KindLinear:
		return nil
	case KindJump, "":
		kink := fixed.Copy(s.Kink)
		if kink.IsZero() || kink.Gt(fixed.One()) {
			return fmt.Errorf("%w: kink must be within (0, 1]", ErrInvalidCurve)
		}
		if fixed.Copy(s.Slope2).Lt(fixed.Copy(s.Slope1)) {
			return fmt.Errorf("%w: jump slope below normal slope", ErrInvalidCurve)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCurve, s.Kind)
	}
}

// Curve instantiates the model described by the spec.
func (s Spec) Curve() (Curve, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if strings.EqualFold(strings.TrimSpace(s.Kind), KindLinear) {
		return &Linear{
			BaseRate:       fixed.Copy(s.BaseRate),
			Slope:          fixed.Copy(s.Slope1),
			PeriodsPerYear: s.PeriodsPerYear,
		}, nil
	}
	return &JumpRate{
		BaseRate:       fixed.Copy(s.BaseRate),
		Slope1:         fixed.Copy(s.Slope1),
		Slope2:         fixed.Copy(s.Slope2),
		Kink:           fixed.Copy(s.Kink),
		PeriodsPerYear: s.PeriodsPerYear,
	}, nil
}

// Utilization computes borrows / (cash + borrows - reserves). It is zero when
// nothing is borrowed.
func Utilization(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	if borrows == nil || borrows.IsZero() {
		return fixed.Zero(), nil
	}
	total, err := fixed.Add(cash, borrows)
	if err != nil {
		return nil, err
	}
	total, err = fixed.Sub(total, reserves)
	if err != nil {
		return nil, err
	}
	return fixed.DivExp(borrows, total)
}

func perPeriod(annual *uint256.Int, periods uint64) (*uint256.Int, error) {
	if periods == 0 {
		return nil, fixed.ErrDivisionByZero
	}
	return fixed.Div(annual, uint256.NewInt(periods))
}

func supplyRate(c Curve, cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error) {
	oneMinusReserveFactor, err := fixed.Sub(fixed.One(), reserveFactor)
	if err != nil {
		return nil, err
	}
	borrowRate, err := c.BorrowRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	rateToPool, err := fixed.MulExp(borrowRate, oneMinusReserveFactor)
	if err != nil {
		return nil, err
	}
	util, err := Utilization(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	return fixed.MulExp(util, rateToPool)
}
