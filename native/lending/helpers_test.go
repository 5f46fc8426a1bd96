package lending_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/native/lending"
	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/ratemodel"
)

var (
	admin    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	guardian = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol    = common.HexToAddress("0x00000000000000000000000000000000000000b3")
)

func mustExp(t *testing.T, raw string) *uint256.Int {
	t.Helper()
	v, err := fixed.ParseExp(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return v
}

func units(v uint64) *uint256.Int { return uint256.NewInt(v) }

type harness struct {
	engine   *lending.Engine
	store    *lending.MemoryStore
	oracle   *lending.SimplePriceOracle
	recorder *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := lending.NewMemoryStore()
	oracle := lending.NewSimplePriceOracle()
	engine := lending.NewEngine(store, oracle)
	recorder := &events.Recorder{}
	engine.SetEmitter(recorder)
	if err := engine.Initialize(admin, mustExp(t, "0.5"), mustExp(t, "1.08")); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return &harness{engine: engine, store: store, oracle: oracle, recorder: recorder}
}

func testRateModel(t *testing.T) ratemodel.Spec {
	t.Helper()
	spec, err := ratemodel.ParseSpec(ratemodel.KindJump, "0.02", "0.45", "3", "0.8", 0)
	if err != nil {
		t.Fatalf("rate model: %v", err)
	}
	return spec
}

// list prices and lists a pool whose underlying shares its id.
func (h *harness) list(t *testing.T, id, collateralFactor, price string) {
	t.Helper()
	h.oracle.SetPrice(id, mustExp(t, price))
	cfg := lending.MarketConfig{
		ID:               id,
		Underlying:       id,
		CollateralFactor: mustExp(t, collateralFactor),
		ReserveFactor:    mustExp(t, "0.1"),
		RateModel:        testRateModel(t),
	}
	if err := h.engine.ListMarket(admin, cfg); err != nil {
		t.Fatalf("list %s: %v", id, err)
	}
}

func (h *harness) mint(t *testing.T, account common.Address, pool string, amount uint64) {
	t.Helper()
	if _, err := h.engine.Mint(account, pool, units(amount)); err != nil {
		t.Fatalf("mint %d into %s: %v", amount, pool, err)
	}
}

func (h *harness) enter(t *testing.T, account common.Address, pools ...string) {
	t.Helper()
	if err := h.engine.EnterMarkets(account, pools); err != nil {
		t.Fatalf("enter %v: %v", pools, err)
	}
}

func (h *harness) pool(t *testing.T, id string) *lending.Pool {
	t.Helper()
	p, err := h.engine.Pool(id)
	if err != nil {
		t.Fatalf("pool %s: %v", id, err)
	}
	return p
}

func (h *harness) shares(t *testing.T, account common.Address, pool string) *uint256.Int {
	t.Helper()
	position, err := h.engine.Position(account, pool)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	return position.Shares
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func expectUint(t *testing.T, name string, got *uint256.Int, want uint64) {
	t.Helper()
	if got == nil || !got.Eq(units(want)) {
		t.Fatalf("%s: got %v, want %d", name, got, want)
	}
}

type failingSettlement struct {
	failCollect bool
	failPay     bool
	collected   map[common.Address]uint64
	paid        map[common.Address]uint64
}

func newSettlement() *failingSettlement {
	return &failingSettlement{collected: make(map[common.Address]uint64), paid: make(map[common.Address]uint64)}
}

func (s *failingSettlement) Collect(from common.Address, _ string, amount *uint256.Int) error {
	if s.failCollect {
		return errors.New("transfer rejected")
	}
	s.collected[from] += amount.Uint64()
	return nil
}

func (s *failingSettlement) Pay(to common.Address, _ string, amount *uint256.Int) error {
	if s.failPay {
		return errors.New("payout rejected")
	}
	s.paid[to] += amount.Uint64()
	return nil
}

type memTreasury struct {
	balance *uint256.Int
	paid    map[common.Address]*uint256.Int
}

func newTreasury(balance uint64) *memTreasury {
	return &memTreasury{balance: units(balance), paid: make(map[common.Address]*uint256.Int)}
}

func (m *memTreasury) Balance() *uint256.Int { return new(uint256.Int).Set(m.balance) }

func (m *memTreasury) Pay(to common.Address, amount *uint256.Int) error {
	if m.balance.Lt(amount) {
		return errors.New("treasury drained")
	}
	m.balance.Sub(m.balance, amount)
	prev := m.paid[to]
	if prev == nil {
		prev = new(uint256.Int)
	}
	m.paid[to] = new(uint256.Int).Add(prev, amount)
	return nil
}
