package lending_test

import (
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"moneymarket/core/events"
	"moneymarket/native/lending"
	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/ratemodel"
)

func TestAccountLiquidityScenarios(t *testing.T) {
	h := newHarness(t)
	h.list(t, "collateral", "0.5", "1")
	h.list(t, "debt", "0", "1")
	h.mint(t, alice, "collateral", 1_000_000)
	h.enter(t, alice, "collateral")

	liq, err := h.engine.AccountLiquidity(alice)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	expectUint(t, "liquidity", liq.Liquidity, 500_000)
	expectUint(t, "shortfall", liq.Shortfall, 0)

	liq, err = h.engine.HypotheticalAccountLiquidity(alice, "debt", fixed.Zero(), units(500_001))
	if err != nil {
		t.Fatalf("hypothetical liquidity: %v", err)
	}
	expectUint(t, "hypothetical liquidity", liq.Liquidity, 0)
	expectUint(t, "hypothetical shortfall", liq.Shortfall, 1)

	membership, err := h.engine.Membership(alice)
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if len(membership) != 1 || membership[0] != "collateral" {
		t.Fatalf("hypothetical evaluation must not enter markets, got %v", membership)
	}
}

func TestHypotheticalRedeemOnlyCountsEnteredPools(t *testing.T) {
	h := newHarness(t)
	h.list(t, "collateral", "0.5", "1")
	h.list(t, "idle", "0.5", "1")
	h.mint(t, alice, "collateral", 1_000)
	h.mint(t, alice, "idle", 1_000)
	h.enter(t, alice, "collateral")

	liq, err := h.engine.HypotheticalAccountLiquidity(alice, "idle", units(1_000), fixed.Zero())
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	expectUint(t, "liquidity", liq.Liquidity, 500)

	liq, err = h.engine.HypotheticalAccountLiquidity(alice, "collateral", units(400), fixed.Zero())
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	expectUint(t, "liquidity after redeem", liq.Liquidity, 300)
}

func TestLiquidityRequiresPrice(t *testing.T) {
	h := newHarness(t)
	h.list(t, "collateral", "0.5", "1")
	h.mint(t, alice, "collateral", 1_000)
	h.enter(t, alice, "collateral")
	h.oracle.SetPrice("collateral", nil)

	_, err := h.engine.AccountLiquidity(alice)
	expectErr(t, err, lending.ErrPriceError)
	if got := lending.Code(err); got != "PRICE_ERROR" {
		t.Fatalf("unexpected code %q", got)
	}
}

func TestMintRedeemRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.list(t, "usd", "0.8", "1")
	settlement := newSettlement()
	h.engine.SetSettlement(settlement)

	shares, err := h.engine.Mint(alice, "usd", units(5_000))
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	expectUint(t, "minted shares", shares, 5_000)
	if settlement.collected[alice] != 5_000 {
		t.Fatalf("expected 5000 collected, got %d", settlement.collected[alice])
	}

	burned, err := h.engine.RedeemUnderlying(alice, "usd", units(2_000))
	if err != nil {
		t.Fatalf("redeem underlying: %v", err)
	}
	expectUint(t, "burned shares", burned, 2_000)
	paid, err := h.engine.Redeem(alice, "usd", units(3_000))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	expectUint(t, "paid", paid, 3_000)
	if settlement.paid[alice] != 5_000 {
		t.Fatalf("expected 5000 paid, got %d", settlement.paid[alice])
	}
	p := h.pool(t, "usd")
	expectUint(t, "cash", p.Cash, 0)
	expectUint(t, "total shares", p.TotalShares, 0)

	_, err = h.engine.Redeem(alice, "usd", units(1))
	expectErr(t, err, lending.ErrInsufficientBalance)
	_, err = h.engine.Mint(alice, "usd", units(0))
	expectErr(t, err, lending.ErrInvalidAmount)
	_, err = h.engine.Mint(alice, "unknown", units(1))
	expectErr(t, err, lending.ErrMarketNotListed)
}

func TestBorrowAndRepay(t *testing.T) {
	h := newHarness(t)
	h.list(t, "eth", "0.5", "1")
	h.list(t, "usd", "0", "1")
	h.mint(t, alice, "eth", 1_000_000)
	h.mint(t, bob, "usd", 1_000_000)
	h.enter(t, alice, "eth")

	err := h.engine.Borrow(alice, "usd", units(500_001))
	expectErr(t, err, lending.ErrShortfall)
	if err := h.engine.Borrow(alice, "usd", units(400_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	membership, _ := h.engine.Membership(alice)
	if len(membership) != 2 || membership[1] != "usd" {
		t.Fatalf("borrow should enter the borrowed market, got %v", membership)
	}
	expectUint(t, "cash", h.pool(t, "usd").Cash, 600_000)

	err = h.engine.Borrow(carol, "usd", units(700_000))
	expectErr(t, err, lending.ErrShortfall)
	h.mint(t, carol, "eth", 10_000_000)
	h.enter(t, carol, "eth")
	err = h.engine.Borrow(carol, "usd", units(700_000))
	expectErr(t, err, lending.ErrInsufficientCash)

	h.engine.SetBlockHeight(1_000)
	balance, err := h.engine.BorrowBalanceCurrent(alice, "usd")
	if err != nil {
		t.Fatalf("borrow balance: %v", err)
	}
	if !balance.Gt(units(400_000)) {
		t.Fatalf("interest should accrue, balance %s", balance)
	}

	applied, err := h.engine.RepayBorrowBehalf(bob, alice, "usd", units(10_000_000))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if !applied.Eq(balance) {
		t.Fatalf("repay should cap at balance %s, applied %s", balance, applied)
	}
	remaining, err := h.engine.BorrowBalanceStored(alice, "usd")
	if err != nil {
		t.Fatalf("borrow balance stored: %v", err)
	}
	expectUint(t, "remaining", remaining, 0)
	if err := h.engine.CheckPoolInvariant("usd"); err != nil {
		t.Fatalf("invariant: %v", err)
	}
}

func TestAccrueInterestIdempotent(t *testing.T) {
	h := newHarness(t)
	h.list(t, "eth", "0.5", "1")
	h.list(t, "usd", "0", "1")
	h.mint(t, alice, "eth", 1_000_000_000)
	h.mint(t, bob, "usd", 1_000_000_000)
	h.enter(t, alice, "eth")
	if err := h.engine.Borrow(alice, "usd", units(300_000_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	h.engine.SetBlockHeight(50_000)
	if err := h.engine.AccrueInterest("usd"); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	first := h.pool(t, "usd")
	if !first.BorrowIndex.Gt(fixed.One()) {
		t.Fatalf("borrow index should grow, got %s", first.BorrowIndex)
	}
	if first.TotalReserves.IsZero() {
		t.Fatalf("reserves should accrue")
	}
	commits := h.store.Commits()
	if err := h.engine.AccrueInterest("usd"); err != nil {
		t.Fatalf("second accrue: %v", err)
	}
	second := h.pool(t, "usd")
	if !second.BorrowIndex.Eq(first.BorrowIndex) || !second.TotalBorrows.Eq(first.TotalBorrows) || !second.TotalReserves.Eq(first.TotalReserves) {
		t.Fatalf("second accrual at the same period changed state")
	}
	if h.store.Commits() != commits {
		t.Fatalf("second accrual should not write")
	}

	h.engine.SetBlockHeight(10)
	err := h.engine.AccrueInterest("usd")
	expectErr(t, err, lending.ErrMathUnderflow)
	if !lending.IsFatal(err) {
		t.Fatalf("regressed period should be fatal")
	}
}

func TestPoolInvariantRandomSequence(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		h := newHarness(t)
		h.list(t, "eth", "0.6", "1")
		h.list(t, "usd", "0.6", "1")
		rng := rand.New(rand.NewSource(seed))
		accounts := []common.Address{alice, bob, carol}
		for _, account := range accounts {
			h.mint(t, account, "eth", 10_000_000)
			h.enter(t, account, "eth", "usd")
		}
		h.mint(t, admin, "usd", 50_000_000)

		height := uint64(0)
		for step := 0; step < 200; step++ {
			height += uint64(rng.Intn(5_000))
			h.engine.SetBlockHeight(height)
			account := accounts[rng.Intn(len(accounts))]
			amount := units(uint64(rng.Intn(2_000_000) + 1))
			var err error
			switch rng.Intn(5) {
			case 0:
				_, err = h.engine.Mint(account, "usd", amount)
			case 1:
				_, err = h.engine.RedeemUnderlying(account, "usd", amount)
			case 2:
				err = h.engine.Borrow(account, "usd", amount)
			case 3:
				_, err = h.engine.RepayBorrow(account, "usd", amount)
			case 4:
				_, err = h.engine.Redeem(account, "eth", amount)
			}
			if err != nil && lending.IsFatal(err) {
				t.Fatalf("seed %d step %d: fatal error %v", seed, step, err)
			}
			if err := h.engine.AccrueInterest("usd"); err != nil {
				t.Fatalf("seed %d step %d: accrue: %v", seed, step, err)
			}
			for _, id := range []string{"eth", "usd"} {
				if err := h.engine.CheckPoolInvariant(id); err != nil {
					t.Fatalf("seed %d step %d: %v", seed, step, err)
				}
			}
		}
	}
}

func TestFailedSettlementRollsBack(t *testing.T) {
	h := newHarness(t)
	h.list(t, "usd", "0.8", "1")
	settlement := newSettlement()
	settlement.failCollect = true
	h.engine.SetSettlement(settlement)
	before := len(h.recorder.Events())
	commits := h.store.Commits()

	if _, err := h.engine.Mint(alice, "usd", units(1_000)); err == nil {
		t.Fatalf("expected settlement failure")
	}
	p := h.pool(t, "usd")
	expectUint(t, "cash", p.Cash, 0)
	expectUint(t, "shares", h.shares(t, alice, "usd"), 0)
	if h.store.Commits() != commits {
		t.Fatalf("failed operation must not commit")
	}
	if len(h.recorder.Events()) != before {
		t.Fatalf("failed operation must not emit events")
	}

	settlement.failCollect = false
	h.mint(t, alice, "usd", 1_000)
	settlement.failPay = true
	if _, err := h.engine.Redeem(alice, "usd", units(400)); err == nil {
		t.Fatalf("expected payout failure")
	}
	expectUint(t, "shares after failed redeem", h.shares(t, alice, "usd"), 1_000)
}

func TestEventsFollowCommit(t *testing.T) {
	h := newHarness(t)
	h.list(t, "usd", "0.8", "1")
	h.mint(t, alice, "usd", 1_000)
	types := h.recorder.Types()
	if types[len(types)-1] != events.TypeMint {
		t.Fatalf("expected mint event last, got %v", types)
	}
	minted, ok := h.recorder.Events()[len(types)-1].(events.Minted)
	if !ok || minted.Account != alice || !minted.Shares.Eq(units(1_000)) {
		t.Fatalf("unexpected mint event %#v", h.recorder.Events()[len(types)-1])
	}
}

func TestTransferShares(t *testing.T) {
	h := newHarness(t)
	h.list(t, "eth", "0.5", "1")
	h.list(t, "usd", "0", "1")
	h.mint(t, alice, "eth", 1_000)
	h.mint(t, bob, "usd", 1_000)
	h.enter(t, alice, "eth")
	if err := h.engine.Borrow(alice, "usd", units(400)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	err := h.engine.Transfer(alice, carol, "eth", units(210))
	expectErr(t, err, lending.ErrShortfall)
	if err := h.engine.Transfer(alice, carol, "eth", units(200)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	expectUint(t, "carol shares", h.shares(t, carol, "eth"), 200)
	err = h.engine.Transfer(alice, alice, "eth", units(1))
	expectErr(t, err, lending.ErrInvalidParameter)
}

func TestReserves(t *testing.T) {
	h := newHarness(t)
	h.list(t, "usd", "0.5", "1")
	err := h.engine.AddReserves(alice, "usd", units(100))
	expectErr(t, err, lending.ErrUnauthorized)
	if err := h.engine.AddReserves(admin, "usd", units(100)); err != nil {
		t.Fatalf("add reserves: %v", err)
	}
	err = h.engine.ReduceReserves(admin, "usd", units(101))
	expectErr(t, err, lending.ErrInsufficientCash)
	if err := h.engine.ReduceReserves(admin, "usd", units(60)); err != nil {
		t.Fatalf("reduce reserves: %v", err)
	}
	p := h.pool(t, "usd")
	expectUint(t, "reserves", p.TotalReserves, 40)
	expectUint(t, "cash", p.Cash, 40)
}

func TestRatesReflectUtilisation(t *testing.T) {
	h := newHarness(t)
	h.list(t, "eth", "0.5", "1")
	h.list(t, "usd", "0", "1")
	borrowRate, supplyRate, err := h.engine.Rates("usd")
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if !supplyRate.IsZero() || borrowRate.IsZero() {
		t.Fatalf("idle pool: borrow %s supply %s", borrowRate, supplyRate)
	}
	h.mint(t, alice, "eth", 1_000_000)
	h.mint(t, bob, "usd", 1_000_000)
	h.enter(t, alice, "eth")
	if err := h.engine.Borrow(alice, "usd", units(400_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	busyBorrow, busySupply, err := h.engine.Rates("usd")
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if !busyBorrow.Gt(borrowRate) || busySupply.IsZero() || !busySupply.Lt(busyBorrow) {
		t.Fatalf("busy pool: borrow %s supply %s", busyBorrow, busySupply)
	}
}

func TestExchangeRateGrowsWithInterest(t *testing.T) {
	h := newHarness(t)
	h.list(t, "eth", "0.5", "1")
	h.list(t, "usd", "0", "1")
	h.mint(t, alice, "eth", 1_000_000_000)
	h.mint(t, bob, "usd", 1_000_000_000)
	h.enter(t, alice, "eth")
	if err := h.engine.Borrow(alice, "usd", units(400_000_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	stored, _ := h.engine.ExchangeRateStored("usd")
	if !stored.Eq(fixed.One()) {
		t.Fatalf("initial exchange rate %s", stored)
	}
	h.engine.SetBlockHeight(100_000)
	current, err := h.engine.ExchangeRateCurrent("usd")
	if err != nil {
		t.Fatalf("exchange rate: %v", err)
	}
	if !current.Gt(stored) {
		t.Fatalf("exchange rate should grow, %s <= %s", current, stored)
	}
	paid, err := h.engine.Redeem(bob, "usd", units(1_000))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !paid.Gt(units(1_000)) {
		t.Fatalf("supplier should earn interest, paid %s", paid)
	}
}

func TestBorrowValuesDebtInOtherPoolsAtCurrentIndex(t *testing.T) {
	h := newHarness(t)
	h.list(t, "usd", "0.5", "1")
	h.list(t, "eth", "0", "1")
	h.mint(t, alice, "usd", 1_000_000)
	h.enter(t, alice, "usd")
	h.mint(t, bob, "eth", 1_000_000)
	if err := h.engine.Borrow(alice, "eth", units(400_000)); err != nil {
		t.Fatalf("borrow eth: %v", err)
	}

	// A year of interest on eth at 40% utilisation: 400,000 grows to 480,000.
	h.engine.SetBlockHeight(ratemodel.DefaultPeriodsPerYear)
	liq, err := h.engine.AccountLiquidity(alice)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if liq.Liquidity.IsZero() || !liq.Liquidity.Lt(units(90_000)) {
		t.Fatalf("unexpected liquidity before borrow: %s", liq.Liquidity.Dec())
	}

	err = h.engine.Borrow(alice, "usd", units(90_000))
	expectErr(t, err, lending.ErrShortfall)
	if stale := h.pool(t, "eth"); stale.LastAccrual != 0 {
		t.Fatalf("rejected borrow must not persist accrual, got period %d", stale.LastAccrual)
	}

	_, err = h.engine.Redeem(alice, "usd", units(100_000))
	expectErr(t, err, lending.ErrShortfall)
	err = h.engine.Transfer(alice, carol, "usd", units(100_000))
	expectErr(t, err, lending.ErrShortfall)

	liq, err = h.engine.AccountLiquidity(alice)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	expectUint(t, "shortfall after rejected borrow", liq.Shortfall, 0)

	if err := h.engine.Borrow(alice, "usd", units(10_000)); err != nil {
		t.Fatalf("borrow within accrued liquidity: %v", err)
	}
	liq, err = h.engine.AccountLiquidity(alice)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	expectUint(t, "shortfall after borrow", liq.Shortfall, 0)
}
