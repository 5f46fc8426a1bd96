package lending_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "moneymarket/native/common"
	"moneymarket/native/lending"
	"moneymarket/native/lending/fixed"
)

func TestInitializeOnce(t *testing.T) {
	h := newHarness(t)
	err := h.engine.Initialize(admin, mustExp(t, "0.5"), mustExp(t, "1.08"))
	expectErr(t, err, lending.ErrInvalidParameter)

	fresh := lending.NewEngine(lending.NewMemoryStore(), lending.NewSimplePriceOracle())
	_, err = fresh.Mint(alice, "usd", units(1))
	expectErr(t, err, lending.ErrNotInitialized)
	err = fresh.Initialize(admin, mustExp(t, "0.95"), mustExp(t, "1.08"))
	expectErr(t, err, lending.ErrInvalidParameter)
	err = fresh.Initialize(admin, mustExp(t, "0.5"), mustExp(t, "1"))
	expectErr(t, err, lending.ErrInvalidParameter)
}

func TestListMarket(t *testing.T) {
	h := newHarness(t)
	h.list(t, "usd", "0.8", "1")

	err := h.engine.ListMarket(admin, lending.MarketConfig{ID: "usd", RateModel: testRateModel(t)})
	expectErr(t, err, lending.ErrMarketAlreadyListed)
	err = h.engine.ListMarket(alice, lending.MarketConfig{ID: "eth", RateModel: testRateModel(t)})
	expectErr(t, err, lending.ErrUnauthorized)
	err = h.engine.ListMarket(admin, lending.MarketConfig{ID: "eth", CollateralFactor: mustExp(t, "0.5"), RateModel: testRateModel(t)})
	expectErr(t, err, lending.ErrPriceError)
	h.oracle.SetPrice("eth", mustExp(t, "2000"))
	err = h.engine.ListMarket(admin, lending.MarketConfig{ID: "eth", CollateralFactor: mustExp(t, "0.91"), RateModel: testRateModel(t)})
	expectErr(t, err, lending.ErrInvalidParameter)

	markets, err := h.engine.Markets()
	if err != nil {
		t.Fatalf("markets: %v", err)
	}
	if len(markets) != 1 || markets[0] != "usd" {
		t.Fatalf("unexpected markets %v", markets)
	}
	p := h.pool(t, "usd")
	if !p.ProtocolSeizeShare.Eq(lending.DefaultProtocolSeizeShare) {
		t.Fatalf("default protocol seize share not applied: %s", p.ProtocolSeizeShare)
	}
	if !p.BorrowIndex.Eq(fixed.One()) {
		t.Fatalf("borrow index should start at one")
	}
}

func TestPauseGuardianCanOnlyPause(t *testing.T) {
	h := newHarness(t)
	h.list(t, "usd", "0.8", "1")
	if err := h.engine.SetPauseGuardian(admin, guardian); err != nil {
		t.Fatalf("set guardian: %v", err)
	}

	if err := h.engine.SetActionPaused(guardian, "usd", nativecommon.ActionMint, true); err != nil {
		t.Fatalf("guardian pause: %v", err)
	}
	_, err := h.engine.Mint(alice, "usd", units(10))
	expectErr(t, err, lending.ErrPaused)

	err = h.engine.SetActionPaused(guardian, "usd", nativecommon.ActionMint, false)
	expectErr(t, err, lending.ErrUnauthorized)
	err = h.engine.SetActionPaused(alice, "usd", nativecommon.ActionBorrow, true)
	expectErr(t, err, lending.ErrUnauthorized)
	err = h.engine.SetCollateralFactor(guardian, "usd", mustExp(t, "0.1"))
	expectErr(t, err, lending.ErrUnauthorized)
	err = h.engine.SetActionPaused(admin, "", nativecommon.ActionMint, true)
	expectErr(t, err, lending.ErrInvalidParameter)

	if err := h.engine.SetActionPaused(admin, "usd", nativecommon.ActionMint, false); err != nil {
		t.Fatalf("admin unpause: %v", err)
	}
	h.mint(t, alice, "usd", 10)

	if err := h.engine.SetActionPaused(guardian, "", nativecommon.ActionTransfer, true); err != nil {
		t.Fatalf("guardian global pause: %v", err)
	}
	err = h.engine.Transfer(alice, bob, "usd", units(1))
	expectErr(t, err, lending.ErrPaused)
	// Redeem is never pausable.
	if _, err := h.engine.Redeem(alice, "usd", units(5)); err != nil {
		t.Fatalf("redeem while transfers paused: %v", err)
	}
}

func TestTwoPhaseAdminHandoff(t *testing.T) {
	h := newHarness(t)
	err := h.engine.ProposeAdmin(alice, bob)
	expectErr(t, err, lending.ErrUnauthorized)
	err = h.engine.AcceptAdmin(bob)
	expectErr(t, err, lending.ErrUnauthorized)

	if err := h.engine.ProposeAdmin(admin, bob); err != nil {
		t.Fatalf("propose: %v", err)
	}
	err = h.engine.AcceptAdmin(carol)
	expectErr(t, err, lending.ErrUnauthorized)
	params, _ := h.engine.Params()
	if params.Admin.Current != admin || params.Admin.Pending != bob {
		t.Fatalf("unexpected admin state %+v", params.Admin)
	}
	if err := h.engine.AcceptAdmin(bob); err != nil {
		t.Fatalf("accept: %v", err)
	}
	params, _ = h.engine.Params()
	if params.Admin.Current != bob || params.Admin.Pending != (common.Address{}) {
		t.Fatalf("unexpected admin state %+v", params.Admin)
	}
	err = h.engine.SetMaxAssets(admin, 3)
	expectErr(t, err, lending.ErrUnauthorized)
	if err := h.engine.SetMaxAssets(bob, 3); err != nil {
		t.Fatalf("new admin: %v", err)
	}
}

func TestBorrowCaps(t *testing.T) {
	h := newHarness(t)
	h.list(t, "eth", "0.5", "1")
	h.list(t, "usd", "0", "1")
	h.mint(t, alice, "eth", 1_000_000)
	h.mint(t, bob, "usd", 1_000_000)
	h.enter(t, alice, "eth")

	capGuardian := carol
	err := h.engine.SetBorrowCaps(capGuardian, []string{"usd"}, []*uint256.Int{units(100)})
	expectErr(t, err, lending.ErrUnauthorized)
	if err := h.engine.SetBorrowCapGuardian(admin, capGuardian); err != nil {
		t.Fatalf("cap guardian: %v", err)
	}
	if err := h.engine.SetBorrowCaps(capGuardian, []string{"usd"}, []*uint256.Int{units(100)}); err != nil {
		t.Fatalf("set caps: %v", err)
	}
	err = h.engine.SetBorrowCaps(admin, []string{"usd", "eth"}, []*uint256.Int{units(1)})
	expectErr(t, err, lending.ErrInvalidParameter)

	if err := h.engine.Borrow(alice, "usd", units(100)); err != nil {
		t.Fatalf("borrow up to cap: %v", err)
	}
	err = h.engine.Borrow(alice, "usd", units(1))
	expectErr(t, err, lending.ErrBorrowCapExceeded)

	if err := h.engine.SetBorrowCaps(admin, []string{"usd"}, []*uint256.Int{fixed.Zero()}); err != nil {
		t.Fatalf("clear cap: %v", err)
	}
	if err := h.engine.Borrow(alice, "usd", units(1)); err != nil {
		t.Fatalf("uncapped borrow: %v", err)
	}
}

func TestEnterAndExitMarkets(t *testing.T) {
	h := newHarness(t)
	h.list(t, "eth", "0.5", "1")
	h.list(t, "btc", "0.5", "1")
	h.list(t, "usd", "0", "1")
	if err := h.engine.SetMaxAssets(admin, 2); err != nil {
		t.Fatalf("max assets: %v", err)
	}
	err := h.engine.EnterMarkets(alice, []string{"eth", "btc", "usd"})
	expectErr(t, err, lending.ErrTooManyAssets)
	membership, _ := h.engine.Membership(alice)
	if len(membership) != 0 {
		t.Fatalf("failed enter must be atomic, got %v", membership)
	}
	err = h.engine.EnterMarkets(alice, []string{"eth", "missing"})
	expectErr(t, err, lending.ErrMarketNotListed)

	h.enter(t, alice, "eth", "eth")
	h.mint(t, alice, "eth", 1_000)
	h.mint(t, bob, "usd", 1_000)
	if err := h.engine.Borrow(alice, "usd", units(300)); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	err = h.engine.ExitMarket(alice, "usd")
	expectErr(t, err, lending.ErrNonzeroBorrowBalance)
	expectErr(t, err, lending.ErrInvalidParameter)
	if got := lending.Code(err); got != "NONZERO_BORROW_BALANCE" {
		t.Fatalf("unexpected code %q", got)
	}
	err = h.engine.ExitMarket(alice, "eth")
	expectErr(t, err, lending.ErrShortfall)

	if _, err := h.engine.RepayBorrow(alice, "usd", units(300)); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := h.engine.ExitMarket(alice, "eth"); err != nil {
		t.Fatalf("exit: %v", err)
	}
	if err := h.engine.ExitMarket(alice, "usd"); err != nil {
		t.Fatalf("exit usd: %v", err)
	}
	membership, _ = h.engine.Membership(alice)
	if len(membership) != 0 {
		t.Fatalf("expected no markets, got %v", membership)
	}
}

func TestSetCollateralFactorNeedsPrice(t *testing.T) {
	h := newHarness(t)
	h.list(t, "usd", "0", "1")
	h.oracle.SetPrice("usd", nil)
	err := h.engine.SetCollateralFactor(admin, "usd", mustExp(t, "0.5"))
	expectErr(t, err, lending.ErrPriceError)
	h.oracle.SetPrice("usd", mustExp(t, "1"))
	err = h.engine.SetCollateralFactor(admin, "usd", mustExp(t, "0.95"))
	expectErr(t, err, lending.ErrInvalidParameter)
	if err := h.engine.SetCollateralFactor(admin, "usd", mustExp(t, "0.75")); err != nil {
		t.Fatalf("set collateral factor: %v", err)
	}
	if got := fixed.Format(h.pool(t, "usd").CollateralFactor); got != "0.75" {
		t.Fatalf("collateral factor %s", got)
	}
	err = h.engine.SetReserveFactor(admin, "usd", mustExp(t, "1.1"))
	expectErr(t, err, lending.ErrInvalidParameter)
	err = h.engine.SetCloseFactor(admin, mustExp(t, "0.01"))
	expectErr(t, err, lending.ErrInvalidParameter)
	err = h.engine.SetLiquidationIncentive(admin, mustExp(t, "1.6"))
	expectErr(t, err, lending.ErrInvalidParameter)
	if err := h.engine.SetLiquidationIncentive(admin, mustExp(t, "1.1")); err != nil {
		t.Fatalf("incentive: %v", err)
	}
}

func TestUpdatePriceOracle(t *testing.T) {
	h := newHarness(t)
	h.list(t, "usd", "0.5", "1")
	replacement := lending.NewSimplePriceOracle()
	err := h.engine.UpdatePriceOracle(alice, replacement)
	expectErr(t, err, lending.ErrUnauthorized)
	if err := h.engine.UpdatePriceOracle(admin, replacement); err != nil {
		t.Fatalf("update oracle: %v", err)
	}
	h.mint(t, alice, "usd", 100)
	h.enter(t, alice, "usd")
	_, err = h.engine.AccountLiquidity(alice)
	expectErr(t, err, lending.ErrPriceError)
}

func TestParamsVersionMigration(t *testing.T) {
	store := lending.NewMemoryStore()
	spec := testRateModel(t)
	err := store.Commit(&lending.ChangeSet{
		Params: &lending.Params{
			Version:              1,
			Admin:                lending.AdminState{Current: admin},
			CloseFactor:          mustExp(t, "0.5"),
			LiquidationIncentive: mustExp(t, "1.08"),
			Markets:              []string{"usd"},
		},
		Pools: []*lending.Pool{{
			ID:               "usd",
			Underlying:       "usd",
			BorrowIndex:      fixed.One(),
			CollateralFactor: mustExp(t, "0.5"),
			RateModel:        spec,
			Listed:           true,
		}},
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	oracle := lending.NewSimplePriceOracle()
	oracle.SetPrice("usd", mustExp(t, "1"))
	engine := lending.NewEngine(store, oracle)

	_, err = engine.Mint(alice, "usd", units(100))
	expectErr(t, err, lending.ErrParamsVersion)
	err = engine.MigrateParams(alice)
	expectErr(t, err, lending.ErrUnauthorized)
	if err := engine.MigrateParams(admin); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	err = engine.MigrateParams(admin)
	expectErr(t, err, lending.ErrAlreadyMigrated)

	p, err := engine.Pool("usd")
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if !p.ProtocolSeizeShare.Eq(lending.DefaultProtocolSeizeShare) || !p.InitialExchangeRate.Eq(fixed.One()) {
		t.Fatalf("migration defaults missing: %+v", p)
	}
	if _, err := engine.Mint(alice, "usd", units(100)); err != nil {
		t.Fatalf("mint after migration: %v", err)
	}
}

type legacyRiskEngine struct{ lending.RiskEngine }

func (legacyRiskEngine) Version() uint32 { return 1 }

func TestRiskEngineVersionMismatch(t *testing.T) {
	h := newHarness(t)
	h.list(t, "usd", "0.5", "1")
	h.engine.SetRiskEngine(legacyRiskEngine{lending.DefaultRiskEngine()})
	_, err := h.engine.Mint(alice, "usd", units(1))
	expectErr(t, err, lending.ErrParamsVersion)
	h.engine.SetRiskEngine(lending.DefaultRiskEngine())
	h.mint(t, alice, "usd", 1)
}
