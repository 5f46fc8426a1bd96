package ratemodel

import (
	"github.com/holiman/uint256"

	"moneymarket/native/lending/fixed"
)

// Linear is the single slope curve: base + u*slope.
type Linear struct {
	BaseRate       *uint256.Int
	Slope          *uint256.Int
	PeriodsPerYear uint64
}

func (m *Linear) AnnualBorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	util, err := Utilization(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	return fixed.MulExpAdd(util, m.Slope, m.BaseRate)
}

func (m *Linear) BorrowRate(cash, borrows, reserves *uint256.Int) (*uint256.Int, error) {
	annual, err := m.AnnualBorrowRate(cash, borrows, reserves)
	if err != nil {
		return nil, err
	}
	return perPeriod(annual, m.PeriodsPerYear)
}

func (m *Linear) SupplyRate(cash, borrows, reserves, reserveFactor *uint256.Int) (*uint256.Int, error) {
	return supplyRate(m, cash, borrows, reserves, reserveFactor)
}

func (m *Linear) Spec() Spec {
	return Spec{
		Kind:           KindLinear,
		BaseRate:       fixed.Copy(m.BaseRate),
		Slope1:         fixed.Copy(m.Slope),
		Slope2:         fixed.Zero(),
		Kink:           fixed.Zero(),
		PeriodsPerYear: m.PeriodsPerYear,
	}
}
