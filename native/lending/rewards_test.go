package lending_test

import (
	"testing"

	"moneymarket/native/lending"
	"moneymarket/native/lending/rewards"
)

func TestSupplyRewardsAccrueAndClaim(t *testing.T) {
	h := newHarness(t)
	h.list(t, "eth", "0.5", "1")
	treasury := newTreasury(10_000)
	h.engine.SetTreasury(treasury)
	if err := h.engine.SetRewardSpeeds(admin, "eth", units(10), units(0)); err != nil {
		t.Fatalf("speeds: %v", err)
	}
	err := h.engine.SetRewardSpeeds(alice, "eth", units(10), units(0))
	expectErr(t, err, lending.ErrUnauthorized)

	h.mint(t, alice, "eth", 1_000)
	h.engine.SetBlockHeight(100)
	h.mint(t, bob, "eth", 1_000)
	h.engine.SetBlockHeight(200)

	paid, err := h.engine.ClaimRewards(alice, []string{"eth"}, false, true)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectUint(t, "alice payout", paid, 1_500)
	paid, err = h.engine.ClaimRewards(bob, []string{"eth"}, false, true)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectUint(t, "bob payout", paid, 500)
	expectUint(t, "treasury", treasury.Balance(), 8_000)

	// A second claim in the same period finds nothing new.
	paid, err = h.engine.ClaimRewards(alice, []string{"eth"}, false, true)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectUint(t, "repeat payout", paid, 0)
}

func TestBorrowRewardsAndInsufficientTreasury(t *testing.T) {
	h := newHarness(t)
	h.list(t, "eth", "0.5", "1")
	h.list(t, "usd", "0", "1")
	treasury := newTreasury(100)
	h.engine.SetTreasury(treasury)
	h.mint(t, alice, "eth", 1_000_000)
	h.mint(t, bob, "usd", 1_000_000)
	h.enter(t, alice, "eth")
	if err := h.engine.SetRewardSpeeds(admin, "usd", units(0), units(5)); err != nil {
		t.Fatalf("speeds: %v", err)
	}
	if err := h.engine.Borrow(alice, "usd", units(100_000)); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	h.engine.SetBlockHeight(100)

	paid, err := h.engine.ClaimRewards(alice, []string{"usd"}, true, false)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	expectUint(t, "payout while treasury short", paid, 0)
	accrued, err := h.engine.RewardAccrued(alice)
	if err != nil {
		t.Fatalf("accrued: %v", err)
	}
	// Interest accrues at the same rate as the market borrow index, so the
	// only borrower earns the whole emission up to rounding.
	if accrued.Uint64() < 499 || accrued.Uint64() > 500 {
		t.Fatalf("accrued %s, want about 500", accrued)
	}

	treasury.balance = units(1_000)
	paid, err = h.engine.ClaimRewards(alice, nil, false, false)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !paid.Eq(accrued) {
		t.Fatalf("paid %s, want %s", paid, accrued)
	}
}

func TestContributorAndGrant(t *testing.T) {
	h := newHarness(t)
	treasury := newTreasury(1_000)
	h.engine.SetTreasury(treasury)
	if err := h.engine.SetContributorSpeed(admin, carol, units(3)); err != nil {
		t.Fatalf("contributor speed: %v", err)
	}
	h.engine.SetBlockHeight(10)
	if err := h.engine.UpdateContributorRewards(carol); err != nil {
		t.Fatalf("update contributor: %v", err)
	}
	accrued, _ := h.engine.RewardAccrued(carol)
	expectUint(t, "contributor accrued", accrued, 30)

	err := h.engine.GrantReward(admin, bob, units(2_000))
	expectErr(t, err, rewards.ErrInsufficientRewards)
	err = h.engine.GrantReward(carol, bob, units(10))
	expectErr(t, err, lending.ErrUnauthorized)
	if err := h.engine.GrantReward(admin, bob, units(400)); err != nil {
		t.Fatalf("grant: %v", err)
	}
	expectUint(t, "treasury after grant", treasury.Balance(), 600)
	expectUint(t, "bob grant", treasury.paid[bob], 400)
}
