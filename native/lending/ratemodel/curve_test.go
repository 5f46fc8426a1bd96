package ratemodel

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"moneymarket/native/lending/fixed"
)

func mustJump(t *testing.T) *JumpRate {
	t.Helper()
	curve, err := NewJumpRate("0.02", "0.45", "5", "0.8")
	if err != nil {
		t.Fatalf("new jump rate: %v", err)
	}
	return curve
}

func TestAnnualRateAtLowUtilization(t *testing.T) {
	curve := mustJump(t)
	rate, err := curve.AnnualBorrowRate(uint256.NewInt(500), uint256.NewInt(100), fixed.Zero())
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	got := fixed.ToDecimal(rate)
	want := decimal.RequireFromString("0.095")
	if got.Sub(want).Abs().GreaterThan(decimal.RequireFromString("0.000000000001")) {
		t.Fatalf("unexpected annual rate: got %s want %s", got, want)
	}
	perPeriod, err := curve.BorrowRate(uint256.NewInt(500), uint256.NewInt(100), fixed.Zero())
	if err != nil {
		t.Fatalf("per period rate: %v", err)
	}
	expected := new(uint256.Int).Div(rate, uint256.NewInt(DefaultPeriodsPerYear))
	if !perPeriod.Eq(expected) {
		t.Fatalf("unexpected per period rate: got %s want %s", perPeriod.Dec(), expected.Dec())
	}
}

func TestUtilizationZeroWithoutBorrows(t *testing.T) {
	util, err := Utilization(uint256.NewInt(0), uint256.NewInt(0), uint256.NewInt(0))
	if err != nil {
		t.Fatalf("utilization: %v", err)
	}
	if !util.IsZero() {
		t.Fatalf("expected zero utilization, got %s", util.Dec())
	}
	curve := mustJump(t)
	rate, err := curve.AnnualBorrowRate(uint256.NewInt(1000), fixed.Zero(), fixed.Zero())
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if !rate.Eq(curve.BaseRate) {
		t.Fatalf("expected base rate at zero utilization, got %s", rate.Dec())
	}
}

func TestBorrowRateMonotonic(t *testing.T) {
	curve := mustJump(t)
	total := uint64(10_000)
	var previous *uint256.Int
	for borrows := uint64(0); borrows <= total; borrows += 7 {
		rate, err := curve.BorrowRate(uint256.NewInt(total-borrows), uint256.NewInt(borrows), fixed.Zero())
		if err != nil {
			t.Fatalf("borrow rate at %d: %v", borrows, err)
		}
		if previous != nil && rate.Lt(previous) {
			t.Fatalf("rate decreased at borrows=%d: %s < %s", borrows, rate.Dec(), previous.Dec())
		}
		previous = rate
	}
}

func TestBorrowRateContinuousAtKink(t *testing.T) {
	curve := mustJump(t)
	total := fixed.One()
	kinkBorrows := fixed.Copy(curve.Kink)
	rateAt := func(borrows *uint256.Int) *uint256.Int {
		cash := new(uint256.Int).Sub(total, borrows)
		rate, err := curve.AnnualBorrowRate(cash, borrows, fixed.Zero())
		if err != nil {
			t.Fatalf("borrow rate: %v", err)
		}
		return rate
	}
	atKink := rateAt(kinkBorrows)
	above := rateAt(new(uint256.Int).AddUint64(kinkBorrows, 1))
	below := rateAt(new(uint256.Int).SubUint64(kinkBorrows, 1))
	if above.Lt(atKink) || atKink.Lt(below) {
		t.Fatalf("rates not ordered around kink: %s %s %s", below.Dec(), atKink.Dec(), above.Dec())
	}
	if new(uint256.Int).Sub(above, atKink).Uint64() > 10 || new(uint256.Int).Sub(atKink, below).Uint64() > 10 {
		t.Fatalf("discontinuity at kink: %s %s %s", below.Dec(), atKink.Dec(), above.Dec())
	}
}

func TestSupplyRate(t *testing.T) {
	curve := mustJump(t)
	reserveFactor, _ := fixed.ParseExp("0.1")
	cash, borrows := uint256.NewInt(500), uint256.NewInt(500)
	supply, err := curve.SupplyRate(cash, borrows, fixed.Zero(), reserveFactor)
	if err != nil {
		t.Fatalf("supply rate: %v", err)
	}
	borrow, _ := curve.BorrowRate(cash, borrows, fixed.Zero())
	toPool, _ := fixed.MulExp(borrow, mustExp(t, "0.9"))
	want, _ := fixed.MulExp(mustExp(t, "0.5"), toPool)
	if !supply.Eq(want) {
		t.Fatalf("unexpected supply rate: got %s want %s", supply.Dec(), want.Dec())
	}
	if _, err := curve.SupplyRate(cash, borrows, fixed.Zero(), mustExp(t, "1.5")); !errors.Is(err, fixed.ErrUnderflow) {
		t.Fatalf("expected underflow for reserve factor above one, got %v", err)
	}
}

func TestLinearCurveAndSpecRoundTrip(t *testing.T) {
	spec, err := ParseSpec("linear", "0.05", "0.12", "", "", 0)
	if err != nil {
		t.Fatalf("parse spec: %v", err)
	}
	curve, err := spec.Curve()
	if err != nil {
		t.Fatalf("curve: %v", err)
	}
	if _, ok := curve.(*Linear); !ok {
		t.Fatalf("expected linear curve, got %T", curve)
	}
	rate, err := curve.AnnualBorrowRate(uint256.NewInt(50), uint256.NewInt(50), fixed.Zero())
	if err != nil {
		t.Fatalf("borrow rate: %v", err)
	}
	if fixed.Format(rate) != "0.11" {
		t.Fatalf("unexpected linear rate: %s", fixed.Format(rate))
	}
	if _, err := ParseSpec("jump", "0.02", "0.5", "0.1", "0.8", 0); !errors.Is(err, ErrInvalidCurve) {
		t.Fatalf("expected invalid curve for shallow jump slope, got %v", err)
	}
}

func mustExp(t *testing.T, raw string) *uint256.Int {
	t.Helper()
	v, err := fixed.ParseExp(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return v
}
