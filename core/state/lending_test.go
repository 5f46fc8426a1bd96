package state

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/native/lending"
	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/ratemodel"
	"moneymarket/storage"
)

var (
	testAdmin = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testAlice = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func mustExp(t *testing.T, raw string) *uint256.Int {
	t.Helper()
	v, err := fixed.ParseExp(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return v
}

func seedEngine(t *testing.T, store lending.Store) *lending.Engine {
	t.Helper()
	oracle := lending.NewSimplePriceOracle()
	oracle.SetPrice("usd", fixed.One())
	engine := lending.NewEngine(store, oracle)
	if err := engine.Initialize(testAdmin, mustExp(t, "0.5"), mustExp(t, "1.08")); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	spec, err := ratemodel.ParseSpec(ratemodel.KindJump, "0.02", "0.45", "3", "0.8", 0)
	if err != nil {
		t.Fatalf("rate model: %v", err)
	}
	err = engine.ListMarket(testAdmin, lending.MarketConfig{
		ID:               "usd",
		Underlying:       "USD",
		CollateralFactor: mustExp(t, "0.8"),
		ReserveFactor:    mustExp(t, "0.1"),
		BorrowCap:        uint256.NewInt(1_000_000),
		RateModel:        spec,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := engine.Mint(testAlice, "usd", uint256.NewInt(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := engine.EnterMarkets(testAlice, []string{"usd"}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := engine.Borrow(testAlice, "usd", uint256.NewInt(2_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return engine
}

func TestLendingStoreMissingRecords(t *testing.T) {
	store := NewLendingStore(storage.NewMemDB())
	params, err := store.LoadParams()
	if err != nil || params != nil {
		t.Fatalf("expected no params, got %+v, %v", params, err)
	}
	pool, err := store.LoadPool("usd")
	if err != nil || pool != nil {
		t.Fatalf("expected no pool, got %+v, %v", pool, err)
	}
	position, err := store.LoadPosition(testAlice, "usd")
	if err != nil || position != nil {
		t.Fatalf("expected no position, got %+v, %v", position, err)
	}
	membership, err := store.LoadMembership(testAlice)
	if err != nil || membership != nil {
		t.Fatalf("expected no membership, got %+v, %v", membership, err)
	}
}

func TestLendingStoreRoundTrip(t *testing.T) {
	store := NewLendingStore(storage.NewMemDB())
	seedEngine(t, store)

	params, err := store.LoadParams()
	if err != nil {
		t.Fatalf("load params: %v", err)
	}
	if params.Version != lending.CurrentParamsVersion || params.Admin.Current != testAdmin {
		t.Fatalf("unexpected params %+v", params)
	}
	if len(params.Markets) != 1 || params.Markets[0] != "usd" {
		t.Fatalf("unexpected markets %v", params.Markets)
	}
	pool, err := store.LoadPool("usd")
	if err != nil {
		t.Fatalf("load pool: %v", err)
	}
	if !pool.Listed || pool.Underlying != "USD" || pool.RateModel.Kind != ratemodel.KindJump {
		t.Fatalf("unexpected pool %+v", pool)
	}
	if !pool.Cash.Eq(uint256.NewInt(8_000)) || !pool.TotalBorrows.Eq(uint256.NewInt(2_000)) {
		t.Fatalf("unexpected balances cash=%s borrows=%s", pool.Cash, pool.TotalBorrows)
	}
	if !pool.BorrowCap.Eq(uint256.NewInt(1_000_000)) {
		t.Fatalf("borrow cap lost: %s", pool.BorrowCap)
	}
	position, err := store.LoadPosition(testAlice, "usd")
	if err != nil {
		t.Fatalf("load position: %v", err)
	}
	if !position.Shares.Eq(uint256.NewInt(10_000)) || !position.BorrowPrincipal.Eq(uint256.NewInt(2_000)) {
		t.Fatalf("unexpected position %+v", position)
	}
	membership, err := store.LoadMembership(testAlice)
	if err != nil {
		t.Fatalf("load membership: %v", err)
	}
	if !membership.Contains("usd") {
		t.Fatalf("membership lost: %+v", membership)
	}
	market, err := store.LoadRewardMarket("usd")
	if err != nil {
		t.Fatalf("load reward market: %v", err)
	}
	if !market.SupplyIndex.Eq(fixed.DoubleOne()) {
		t.Fatalf("reward index not initialised: %s", market.SupplyIndex)
	}
}

func TestLendingStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	seedEngine(t, NewLendingStore(db))
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	engine := lending.NewEngine(NewLendingStore(reopened), nil)
	engine.SetBlockHeight(1_000)
	balance, err := engine.BorrowBalanceCurrent(testAlice, "usd")
	if err != nil {
		t.Fatalf("borrow balance: %v", err)
	}
	if !balance.Gt(uint256.NewInt(2_000)) {
		t.Fatalf("interest should accrue after reopen, got %s", balance)
	}
	if err := engine.CheckPoolInvariant("usd"); err != nil {
		t.Fatalf("invariant: %v", err)
	}
}

func TestLendingKeysAreDistinct(t *testing.T) {
	keys := map[string]string{}
	add := func(name string, key []byte) {
		if prev, ok := keys[string(key)]; ok {
			t.Fatalf("%s collides with %s", name, prev)
		}
		keys[string(key)] = name
	}
	add("pool ab", lendingPoolKey("ab"))
	add("reward market ab", lendingRewardMarketKey("ab"))
	add("position", lendingPositionKey(testAlice, "usd"))
	add("snapshot", lendingRewardSnapshotKey(testAlice, "usd"))
	add("membership", lendingMembershipKey(testAlice))
	add("reward account", lendingRewardAccountKey(testAlice))
	add("params", lendingParamsKey)
}
