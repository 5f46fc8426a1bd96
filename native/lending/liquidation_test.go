package lending_test

import (
	"testing"

	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/native/lending"
	nativecommon "moneymarket/native/common"
	"moneymarket/native/lending/fixed"
)

func TestSeizeSharesClosedForm(t *testing.T) {
	h := newHarness(t)
	h.list(t, "borrowed", "0", "0.00000002")
	h.list(t, "collateral", "0.5", "1")

	repay := fixed.One()
	seize, err := h.engine.SeizeShares("borrowed", "collateral", repay)
	if err != nil {
		t.Fatalf("seize shares: %v", err)
	}
	want := uint256.NewInt(21_600_000_000)
	if !seize.Eq(want) {
		t.Fatalf("seize shares: got %s, want %s", seize, want)
	}
}

func TestSeizeSharesValueMatchesIncentive(t *testing.T) {
	h := newHarness(t)
	h.list(t, "borrowed", "0", "3.7")
	h.list(t, "collateral", "0.5", "1250.25")
	h.mint(t, alice, "collateral", 1_000_000_000_000)

	for _, repay := range []uint64{1, 977, 1_000_000, 123_456_789_000} {
		seize, err := h.engine.SeizeShares("borrowed", "collateral", units(repay))
		if err != nil {
			t.Fatalf("seize shares: %v", err)
		}
		rate, _ := h.engine.ExchangeRateStored("collateral")
		collateralValue := fixed.ToDecimal(seize).Mul(fixed.ToDecimal(rate)).Mul(fixed.ToDecimal(mustExp(t, "1250.25")))
		repayValue := fixed.ToDecimal(units(repay)).Mul(fixed.ToDecimal(mustExp(t, "1.08"))).Mul(fixed.ToDecimal(mustExp(t, "3.7")))
		diff := repayValue.Sub(collateralValue).Abs()
		// One seized share is worth rate * price of the collateral.
		slack := fixed.ToDecimal(rate).Mul(fixed.ToDecimal(mustExp(t, "1250.25"))).Mul(fixed.ToDecimal(units(2)))
		if diff.GreaterThan(slack) {
			t.Fatalf("repay %d: collateral value %s, repay value %s", repay, collateralValue, repayValue)
		}
	}
}

// liquidationFixture leaves alice borrowing 400k usd against 1M eth at a
// collateral factor of 0.5 with the eth price halved, so she is 150k short.
func liquidationFixture(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	h.list(t, "eth", "0.5", "1")
	h.list(t, "usd", "0", "1")
	h.mint(t, alice, "eth", 1_000_000)
	h.mint(t, bob, "usd", 1_000_000)
	h.enter(t, alice, "eth")
	if err := h.engine.Borrow(alice, "usd", units(400_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return h
}

func TestLiquidateBorrow(t *testing.T) {
	h := liquidationFixture(t)

	_, err := h.engine.LiquidateBorrow(carol, alice, "usd", "eth", units(100_000))
	expectErr(t, err, lending.ErrInsufficientShortfall)
	expectErr(t, err, lending.ErrInvalidParameter)
	if got := lending.Code(err); got != "INSUFFICIENT_SHORTFALL" {
		t.Fatalf("unexpected code %q", got)
	}

	h.oracle.SetPrice("eth", mustExp(t, "0.5"))
	liq, err := h.engine.AccountLiquidity(alice)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	expectUint(t, "shortfall", liq.Shortfall, 150_000)

	_, err = h.engine.LiquidateBorrow(alice, alice, "usd", "eth", units(100_000))
	expectErr(t, err, lending.ErrLiquidateSelf)
	_, err = h.engine.LiquidateBorrow(carol, alice, "usd", "eth", units(200_001))
	expectErr(t, err, lending.ErrTooMuchRepay)
	if lending.Code(err) != "TOO_MUCH_REPAY" {
		t.Fatalf("unexpected code %q", lending.Code(err))
	}

	preview, err := h.engine.SeizeShares("usd", "eth", units(100_000))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	seized, err := h.engine.LiquidateBorrow(carol, alice, "usd", "eth", units(100_000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	expectUint(t, "seized", seized, 216_000)
	if !seized.Eq(preview) {
		t.Fatalf("seized %s differs from preview %s", seized, preview)
	}

	// 2.8% of the seized shares become reserves.
	expectUint(t, "borrower shares", h.shares(t, alice, "eth"), 784_000)
	expectUint(t, "liquidator shares", h.shares(t, carol, "eth"), 209_952)
	eth := h.pool(t, "eth")
	expectUint(t, "reserves", eth.TotalReserves, 6_048)
	expectUint(t, "total shares", eth.TotalShares, 993_952)
	if err := h.engine.CheckPoolInvariant("eth"); err != nil {
		t.Fatalf("invariant: %v", err)
	}
	balance, _ := h.engine.BorrowBalanceStored(alice, "usd")
	expectUint(t, "remaining borrow", balance, 300_000)

	var liquidated *events.Liquidated
	for _, ev := range h.recorder.Events() {
		if l, ok := ev.(events.Liquidated); ok {
			liquidated = &l
		}
	}
	if liquidated == nil || liquidated.BorrowedPool != "usd" || liquidated.CollateralPool != "eth" {
		t.Fatalf("missing liquidation event: %#v", liquidated)
	}
	expectUint(t, "protocol shares", liquidated.ProtocolShares, 6_048)
}

func TestLiquidationSeizePause(t *testing.T) {
	h := liquidationFixture(t)
	h.oracle.SetPrice("eth", mustExp(t, "0.5"))
	if err := h.engine.SetActionPaused(admin, "", nativecommon.ActionSeize, true); err != nil {
		t.Fatalf("pause seize: %v", err)
	}
	_, err := h.engine.LiquidateBorrow(carol, alice, "usd", "eth", units(100_000))
	expectErr(t, err, lending.ErrPaused)
	balance, _ := h.engine.BorrowBalanceStored(alice, "usd")
	expectUint(t, "borrow untouched", balance, 400_000)
}

func TestLiquidationNeedsEnoughCollateral(t *testing.T) {
	h := liquidationFixture(t)
	h.oracle.SetPrice("eth", mustExp(t, "0.1"))
	// 200k repaid buys 2.16M eth shares, more than alice holds.
	_, err := h.engine.LiquidateBorrow(carol, alice, "usd", "eth", units(200_000))
	expectErr(t, err, lending.ErrInsufficientBalance)
}

func TestMigrateDeprecatedMarket(t *testing.T) {
	h := newHarness(t)
	h.oracle.SetPrice("usd-old", mustExp(t, "1"))
	h.oracle.SetPrice("usd", mustExp(t, "1"))
	for _, id := range []string{"usd-old", "usd"} {
		err := h.engine.ListMarket(admin, lending.MarketConfig{
			ID:               id,
			Underlying:       "USD",
			CollateralFactor: mustExp(t, "0.8"),
			ReserveFactor:    mustExp(t, "0.1"),
			RateModel:        testRateModel(t),
		})
		if err != nil {
			t.Fatalf("list %s: %v", id, err)
		}
	}
	h.list(t, "eth", "0.5", "1")
	h.mint(t, alice, "usd-old", 1_000_000)
	h.enter(t, alice, "usd-old")

	_, err := h.engine.MigrateDeprecatedMarket(alice, alice, "usd-old", "usd")
	expectErr(t, err, lending.ErrMarketNotDeprecated)
	if err := h.engine.DeprecateMarket(alice, "usd-old"); err == nil {
		t.Fatalf("non-admin must not deprecate")
	}
	if err := h.engine.DeprecateMarket(admin, "usd-old"); err != nil {
		t.Fatalf("deprecate: %v", err)
	}
	deprecated, _ := h.engine.IsDeprecated("usd-old")
	if !deprecated {
		t.Fatalf("market should be deprecated")
	}
	err = h.engine.Borrow(alice, "usd-old", units(1))
	expectErr(t, err, lending.ErrPaused)

	_, err = h.engine.MigrateDeprecatedMarket(bob, alice, "usd-old", "usd")
	expectErr(t, err, lending.ErrUnauthorized)
	_, err = h.engine.MigrateDeprecatedMarket(alice, alice, "usd-old", "eth")
	expectErr(t, err, lending.ErrInvalidParameter)

	minted, err := h.engine.MigrateDeprecatedMarket(alice, alice, "usd-old", "usd")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	// 2.8% of the old balance stays behind as reserves of the old pool.
	expectUint(t, "migrated shares", minted, 972_000)
	expectUint(t, "old shares", h.shares(t, alice, "usd-old"), 0)
	old := h.pool(t, "usd-old")
	expectUint(t, "old cash", old.Cash, 28_000)
	expectUint(t, "old reserves", old.TotalReserves, 28_000)
	expectUint(t, "old total shares", old.TotalShares, 0)
	expectUint(t, "new cash", h.pool(t, "usd").Cash, 972_000)
	membership, _ := h.engine.Membership(alice)
	if len(membership) != 1 || membership[0] != "usd" {
		t.Fatalf("membership should follow the balance, got %v", membership)
	}
}
