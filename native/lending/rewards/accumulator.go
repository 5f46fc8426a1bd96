// Package rewards distributes an incentive token across pool suppliers and
// borrowers using lazily advanced per-pool indices.
package rewards

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/native/lending/fixed"
)

var ErrInsufficientRewards = errors.New("rewards: insufficient reward balance")

// Side distinguishes the supply and borrow indices of a pool.
type Side string

const (
	SideSupply Side = "supply"
	SideBorrow Side = "borrow"
)

// Accumulator advances reward indices and credits accounts. It holds no state
// of its own; every call reads and writes through the supplied State.
type Accumulator struct{}

// InitMarket seeds the pool indices at 1.0 when they have never been set.
func (Accumulator) InitMarket(st State, pool string, now uint64) error {
	m, err := st.RewardMarket(pool)
	if err != nil {
		return err
	}
	if ensureIndices(m, now) {
		return st.PutRewardMarket(m)
	}
	return nil
}

func ensureIndices(m *Market, now uint64) bool {
	changed := false
	if m.SupplyIndex == nil || m.SupplyIndex.IsZero() {
		m.SupplyIndex = fixed.DoubleOne()
		m.SupplyUpdated = now
		changed = true
	}
	if m.BorrowIndex == nil || m.BorrowIndex.IsZero() {
		m.BorrowIndex = fixed.DoubleOne()
		m.BorrowUpdated = now
		changed = true
	}
	if m.SupplySpeed == nil {
		m.SupplySpeed = fixed.Zero()
	}
	if m.BorrowSpeed == nil {
		m.BorrowSpeed = fixed.Zero()
	}
	return changed
}

// advance returns index + speed*elapsed/total. Emissions during periods with a
// zero total are dropped.
func advance(index, speed, total *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	if elapsed == 0 || speed.IsZero() || total.IsZero() {
		return fixed.Copy(index), nil
	}
	emitted, err := fixed.Mul(speed, uint256.NewInt(elapsed))
	if err != nil {
		return nil, err
	}
	ratio, err := fixed.Fraction(emitted, total)
	if err != nil {
		return nil, err
	}
	return fixed.Add(index, ratio)
}

func elapsedSince(updated, now uint64) (uint64, error) {
	if now < updated {
		return 0, fixed.ErrUnderflow
	}
	return now - updated, nil
}

// UpdateSupplyIndex advances the supply index of pool to now using the
// pre-mutation share total.
func (Accumulator) UpdateSupplyIndex(st State, pool string, totalShares *uint256.Int, now uint64) error {
	m, err := st.RewardMarket(pool)
	if err != nil {
		return err
	}
	ensureIndices(m, now)
	elapsed, err := elapsedSince(m.SupplyUpdated, now)
	if err != nil {
		return err
	}
	if elapsed == 0 {
		return st.PutRewardMarket(m)
	}
	m.SupplyIndex, err = advance(m.SupplyIndex, m.SupplySpeed, fixed.Copy(totalShares), elapsed)
	if err != nil {
		return err
	}
	m.SupplyUpdated = now
	return st.PutRewardMarket(m)
}

// UpdateBorrowIndex advances the borrow index of pool to now. Borrows are
// normalised by the pool borrow index so interest accrual does not dilute
// the emission rate.
func (Accumulator) UpdateBorrowIndex(st State, pool string, totalBorrows, marketBorrowIndex *uint256.Int, now uint64) error {
	m, err := st.RewardMarket(pool)
	if err != nil {
		return err
	}
	ensureIndices(m, now)
	elapsed, err := elapsedSince(m.BorrowUpdated, now)
	if err != nil {
		return err
	}
	if elapsed == 0 {
		return st.PutRewardMarket(m)
	}
	normalised, err := fixed.DivExp(totalBorrows, marketBorrowIndex)
	if err != nil {
		return err
	}
	m.BorrowIndex, err = advance(m.BorrowIndex, m.BorrowSpeed, normalised, elapsed)
	if err != nil {
		return err
	}
	m.BorrowUpdated = now
	return st.PutRewardMarket(m)
}

// DistributeSupplier credits account for holding shares since its last
// snapshot and moves the snapshot to the current index. It must run before the
// share balance changes.
func (Accumulator) DistributeSupplier(st State, pool string, account common.Address, shares *uint256.Int) (*uint256.Int, error) {
	m, err := st.RewardMarket(pool)
	if err != nil {
		return nil, err
	}
	snap, err := st.RewardSnapshot(account, pool)
	if err != nil {
		return nil, err
	}
	delta, err := credit(st, account, shares, m.SupplyIndex, snap.SupplyIndex)
	if err != nil {
		return nil, err
	}
	snap.SupplyIndex = fixed.Copy(m.SupplyIndex)
	if err := st.PutRewardSnapshot(snap); err != nil {
		return nil, err
	}
	return delta, nil
}

// DistributeBorrower credits account for its normalised borrow since its last
// snapshot.
func (Accumulator) DistributeBorrower(st State, pool string, account common.Address, borrowBalance, marketBorrowIndex *uint256.Int) (*uint256.Int, error) {
	m, err := st.RewardMarket(pool)
	if err != nil {
		return nil, err
	}
	snap, err := st.RewardSnapshot(account, pool)
	if err != nil {
		return nil, err
	}
	normalised, err := fixed.DivExp(borrowBalance, marketBorrowIndex)
	if err != nil {
		return nil, err
	}
	delta, err := credit(st, account, normalised, m.BorrowIndex, snap.BorrowIndex)
	if err != nil {
		return nil, err
	}
	snap.BorrowIndex = fixed.Copy(m.BorrowIndex)
	if err := st.PutRewardSnapshot(snap); err != nil {
		return nil, err
	}
	return delta, nil
}

func credit(st State, account common.Address, balance, index, snapshot *uint256.Int) (*uint256.Int, error) {
	// Accounts first seen after listing accrue from the initial index; their
	// balance was zero until this call so the credit is zero as well.
	from := fixed.Copy(snapshot)
	if from.IsZero() {
		from = fixed.DoubleOne()
	}
	if index == nil || !index.Gt(from) {
		return fixed.Zero(), nil
	}
	deltaIndex, err := fixed.Sub(index, from)
	if err != nil {
		return nil, err
	}
	delta, err := fixed.MulDouble(balance, deltaIndex)
	if err != nil {
		return nil, err
	}
	if delta.IsZero() {
		return delta, nil
	}
	acct, err := st.RewardAccount(account)
	if err != nil {
		return nil, err
	}
	acct.Accrued, err = fixed.Add(acct.Accrued, delta)
	if err != nil {
		return nil, err
	}
	return delta, st.PutRewardAccount(acct)
}

// SetSpeeds replaces the emission speeds of a pool. Callers advance both
// indices first so the old speed applies up to now.
func (Accumulator) SetSpeeds(st State, pool string, supplySpeed, borrowSpeed *uint256.Int, now uint64) error {
	m, err := st.RewardMarket(pool)
	if err != nil {
		return err
	}
	ensureIndices(m, now)
	m.SupplySpeed = fixed.Copy(supplySpeed)
	m.BorrowSpeed = fixed.Copy(borrowSpeed)
	return st.PutRewardMarket(m)
}

// UpdateContributor credits the fixed per-period stream of a contributor.
func (Accumulator) UpdateContributor(st State, account common.Address, now uint64) error {
	acct, err := st.RewardAccount(account)
	if err != nil {
		return err
	}
	elapsed, err := elapsedSince(acct.ContributorUpdated, now)
	if err != nil {
		return err
	}
	speed := fixed.Copy(acct.ContributorSpeed)
	if elapsed == 0 || speed.IsZero() {
		if acct.ContributorUpdated != now {
			acct.ContributorUpdated = now
			return st.PutRewardAccount(acct)
		}
		return nil
	}
	earned, err := fixed.Mul(speed, uint256.NewInt(elapsed))
	if err != nil {
		return err
	}
	acct.Accrued, err = fixed.Add(acct.Accrued, earned)
	if err != nil {
		return err
	}
	acct.ContributorUpdated = now
	return st.PutRewardAccount(acct)
}

// SetContributorSpeed settles the contributor up to now and installs the new
// speed.
func (a Accumulator) SetContributorSpeed(st State, account common.Address, speed *uint256.Int, now uint64) error {
	if err := a.UpdateContributor(st, account, now); err != nil {
		return err
	}
	acct, err := st.RewardAccount(account)
	if err != nil {
		return err
	}
	acct.ContributorSpeed = fixed.Copy(speed)
	acct.ContributorUpdated = now
	return st.PutRewardAccount(acct)
}

// Claim zeroes the accrued balance of account when available covers it and
// returns the amount the caller must pay out. Otherwise nothing changes and
// the returned amount is zero.
func (Accumulator) Claim(st State, account common.Address, available *uint256.Int) (*uint256.Int, error) {
	acct, err := st.RewardAccount(account)
	if err != nil {
		return nil, err
	}
	accrued := fixed.Copy(acct.Accrued)
	if accrued.IsZero() || accrued.Gt(fixed.Copy(available)) {
		return fixed.Zero(), nil
	}
	acct.Accrued = fixed.Zero()
	if err := st.PutRewardAccount(acct); err != nil {
		return nil, err
	}
	return accrued, nil
}
