package ratemodel

import (
	"github.com/holiman/uint256"

	"moneymarket/native/lending/fixed"
)

// JumpRate is a piecewise linear curve that steepens past the kink.
type JumpRate struct {
	BaseRate       *uint256.Int
	Slope1         *uint256.Int
	Slope2         *uint256.Int
	Kink           *uint256.Int
	PeriodsPerYear uint64
}

// NewJumpRate builds a jump curve from annual decimal coefficients such as
// "0.02" for a 2% base rate.
func NewJumpRate(baseRate, slope1, slope2, kink string) (*JumpRate, error) {
	spec, err := ParseSpec(KindJump, baseRate, slope1, slope2, kink, DefaultPeriodsPerYear)
	if err != nil {
		return nil, err
	}
	curve, err := spec.Curve()
	if err != nil {
		return nil, err
	}
	return curve.(*JumpRate), nil
}

func (m *JumpRate) AnnualBorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	util, err := Utilization(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	if !util.Gt(m.Kink) {
		return fixed.MulExpAdd(util, m.Slope1, m.BaseRate)
	}
	normal, err := fixed.MulExpAdd(m.Kink, m.Slope1, m.BaseRate)
	if err != nil {
		return nil, err
	}
	excess, err := fixed.Sub(util, m.Kink)
	if err != nil {
		return nil, err
	}
	return fixed.MulExpAdd(excess, m.Slope2, normal)
}

func (m *JumpRate) BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	annual, err := m.AnnualBorrowRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	return perPeriod(annual, m.PeriodsPerYear)
}

func (m *JumpRate) SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error) {
	return supplyRate(m, cash, borrows, reserves, reserveFactor)
}

// Spec returns the persisted description of the curve.
func (m *JumpRate) Spec() Spec {
	return Spec{
		Kind:           KindJump,
		BaseRate:       fixed.Copy(m.BaseRate),
		Slope1:         fixed.Copy(m.Slope1),
		Slope2:         fixed.Copy(m.Slope2),
		Kink:           fixed.Copy(m.Kink),
		PeriodsPerYear: m.PeriodsPerYear,
	}
}
