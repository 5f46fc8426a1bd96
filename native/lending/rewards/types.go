package rewards

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/native/lending/fixed"
)

// Market tracks the reward indices of one pool. Indices are Double mantissas
// that start at 1.0 and only grow.
type Market struct {
	Pool          string
	SupplyIndex   *uint256.Int
	SupplyUpdated uint64
	SupplySpeed   *uint256.Int
	BorrowIndex   *uint256.Int
	BorrowUpdated uint64
	BorrowSpeed   *uint256.Int
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	return &Market{
		Pool:          m.Pool,
		SupplyIndex:   fixed.Copy(m.SupplyIndex),
		SupplyUpdated: m.SupplyUpdated,
		SupplySpeed:   fixed.Copy(m.SupplySpeed),
		BorrowIndex:   fixed.Copy(m.BorrowIndex),
		BorrowUpdated: m.BorrowUpdated,
		BorrowSpeed:   fixed.Copy(m.BorrowSpeed),
	}
}

// Snapshot holds the pool indices an account last accrued against.
type Snapshot struct {
	Account     common.Address
	Pool        string
	SupplyIndex *uint256.Int
	BorrowIndex *uint256.Int
}

func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	return &Snapshot{
		Account:     s.Account,
		Pool:        s.Pool,
		SupplyIndex: fixed.Copy(s.SupplyIndex),
		BorrowIndex: fixed.Copy(s.BorrowIndex),
	}
}

// Account carries the unclaimed reward balance and the optional contributor
// stream of a single address.
type Account struct {
	Address            common.Address
	Accrued            *uint256.Int
	ContributorSpeed   *uint256.Int
	ContributorUpdated uint64
}

func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	return &Account{
		Address:            a.Address,
		Accrued:            fixed.Copy(a.Accrued),
		ContributorSpeed:   fixed.Copy(a.ContributorSpeed),
		ContributorUpdated: a.ContributorUpdated,
	}
}

// State is the storage surface the accumulator reads and writes. Getters never
// return nil: missing records come back zero valued with their keys set.
type State interface {
	RewardMarket(pool string) (*Market, error)
	PutRewardMarket(m *Market) error
	RewardSnapshot(account common.Address, pool string) (*Snapshot, error)
	PutRewardSnapshot(s *Snapshot) error
	RewardAccount(account common.Address) (*Account, error)
	PutRewardAccount(a *Account) error
}

// Treasury is the external holder of the reward token.
type Treasury interface {
	Balance() *uint256.Int
	Pay(to common.Address, amount *uint256.Int) error
}
