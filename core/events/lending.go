package events

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	TypeInterestAccrued   = "lending.accrue"
	TypeMint              = "lending.mint"
	TypeRedeem            = "lending.redeem"
	TypeBorrow            = "lending.borrow"
	TypeRepay             = "lending.repay"
	TypeLiquidate         = "lending.liquidate"
	TypeTransfer          = "lending.transfer"
	TypeReservesAdded     = "lending.reserves.added"
	TypeReservesReduced   = "lending.reserves.reduced"
	TypeMarketListed      = "lending.market.listed"
	TypeMarketEntered     = "lending.market.entered"
	TypeMarketExited      = "lending.market.exited"
	TypeMarketMigrated    = "lending.market.migrated"
	TypeParameterChanged  = "lending.parameter.changed"
	TypeAdminProposed     = "lending.admin.proposed"
	TypeAdminAccepted     = "lending.admin.accepted"
	TypePauseChanged      = "lending.pause"
	TypeRewardDistributed = "rewards.distributed"
	TypeRewardClaimed     = "rewards.claimed"
	TypeRewardGranted     = "rewards.granted"
)

func amount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func address(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

// InterestAccrued is emitted when a pool compounds interest.
type InterestAccrued struct {
	Pool          string
	CashPrior     *uint256.Int
	Interest      *uint256.Int
	BorrowIndex   *uint256.Int
	TotalBorrows  *uint256.Int
	TotalReserves *uint256.Int
	Height        uint64
}

func (InterestAccrued) EventType() string { return TypeInterestAccrued }

func (e InterestAccrued) Attributes() map[string]string {
	return map[string]string{
		"pool":          e.Pool,
		"cashPrior":     amount(e.CashPrior),
		"interest":      amount(e.Interest),
		"borrowIndex":   amount(e.BorrowIndex),
		"totalBorrows":  amount(e.TotalBorrows),
		"totalReserves": amount(e.TotalReserves),
		"height":        strconv.FormatUint(e.Height, 10),
	}
}

// Minted records a deposit of underlying in exchange for pool shares.
type Minted struct {
	Pool    string
	Account common.Address
	Amount  *uint256.Int
	Shares  *uint256.Int
}

func (Minted) EventType() string { return TypeMint }

func (e Minted) Attributes() map[string]string {
	return map[string]string{
		"pool":    e.Pool,
		"account": address(e.Account),
		"amount":  amount(e.Amount),
		"shares":  amount(e.Shares),
	}
}

// Redeemed records shares burned for underlying.
type Redeemed struct {
	Pool    string
	Account common.Address
	Amount  *uint256.Int
	Shares  *uint256.Int
}

func (Redeemed) EventType() string { return TypeRedeem }

func (e Redeemed) Attributes() map[string]string {
	return map[string]string{
		"pool":    e.Pool,
		"account": address(e.Account),
		"amount":  amount(e.Amount),
		"shares":  amount(e.Shares),
	}
}

// Borrowed records a new loan.
type Borrowed struct {
	Pool           string
	Account        common.Address
	Amount         *uint256.Int
	AccountBorrows *uint256.Int
	TotalBorrows   *uint256.Int
}

func (Borrowed) EventType() string { return TypeBorrow }

func (e Borrowed) Attributes() map[string]string {
	return map[string]string{
		"pool":           e.Pool,
		"account":        address(e.Account),
		"amount":         amount(e.Amount),
		"accountBorrows": amount(e.AccountBorrows),
		"totalBorrows":   amount(e.TotalBorrows),
	}
}

// Repaid records a repayment, possibly made on behalf of another account.
type Repaid struct {
	Pool           string
	Payer          common.Address
	Borrower       common.Address
	Amount         *uint256.Int
	AccountBorrows *uint256.Int
	TotalBorrows   *uint256.Int
}

func (Repaid) EventType() string { return TypeRepay }

func (e Repaid) Attributes() map[string]string {
	return map[string]string{
		"pool":           e.Pool,
		"payer":          address(e.Payer),
		"borrower":       address(e.Borrower),
		"amount":         amount(e.Amount),
		"accountBorrows": amount(e.AccountBorrows),
		"totalBorrows":   amount(e.TotalBorrows),
	}
}

// Liquidated records a completed liquidation across two pools.
type Liquidated struct {
	BorrowedPool   string
	CollateralPool string
	Liquidator     common.Address
	Borrower       common.Address
	RepayAmount    *uint256.Int
	SeizedShares   *uint256.Int
	ProtocolShares *uint256.Int
}

func (Liquidated) EventType() string { return TypeLiquidate }

func (e Liquidated) Attributes() map[string]string {
	return map[string]string{
		"borrowedPool":   e.BorrowedPool,
		"collateralPool": e.CollateralPool,
		"liquidator":     address(e.Liquidator),
		"borrower":       address(e.Borrower),
		"repayAmount":    amount(e.RepayAmount),
		"seizedShares":   amount(e.SeizedShares),
		"protocolShares": amount(e.ProtocolShares),
	}
}

// SharesTransferred records a share transfer between two accounts.
type SharesTransferred struct {
	Pool   string
	From   common.Address
	To     common.Address
	Shares *uint256.Int
}

func (SharesTransferred) EventType() string { return TypeTransfer }

func (e SharesTransferred) Attributes() map[string]string {
	return map[string]string{
		"pool":   e.Pool,
		"from":   address(e.From),
		"to":     address(e.To),
		"shares": amount(e.Shares),
	}
}

// ReservesChanged is emitted for both reserve additions and reductions.
type ReservesChanged struct {
	Pool          string
	Account       common.Address
	Amount        *uint256.Int
	TotalReserves *uint256.Int
	Reduced       bool
}

func (e ReservesChanged) EventType() string {
	if e.Reduced {
		return TypeReservesReduced
	}
	return TypeReservesAdded
}

func (e ReservesChanged) Attributes() map[string]string {
	return map[string]string{
		"pool":          e.Pool,
		"account":       address(e.Account),
		"amount":        amount(e.Amount),
		"totalReserves": amount(e.TotalReserves),
	}
}

// MarketListed announces a new pool.
type MarketListed struct {
	Pool       string
	Underlying string
}

func (MarketListed) EventType() string { return TypeMarketListed }

func (e MarketListed) Attributes() map[string]string {
	return map[string]string{"pool": e.Pool, "underlying": e.Underlying}
}

// MembershipChanged covers enter and exit of a collateral pool.
type MembershipChanged struct {
	Pool    string
	Account common.Address
	Entered bool
}

func (e MembershipChanged) EventType() string {
	if e.Entered {
		return TypeMarketEntered
	}
	return TypeMarketExited
}

func (e MembershipChanged) Attributes() map[string]string {
	return map[string]string{"pool": e.Pool, "account": address(e.Account)}
}

// MarketMigrated records a position moved out of a deprecated pool.
type MarketMigrated struct {
	From      string
	To        string
	Account   common.Address
	Shares    *uint256.Int
	Amount    *uint256.Int
	NewShares *uint256.Int
}

func (MarketMigrated) EventType() string { return TypeMarketMigrated }

func (e MarketMigrated) Attributes() map[string]string {
	return map[string]string{
		"from":      e.From,
		"to":        e.To,
		"account":   address(e.Account),
		"shares":    amount(e.Shares),
		"amount":    amount(e.Amount),
		"newShares": amount(e.NewShares),
	}
}

// ParameterChanged records an admin parameter update. Pool is empty for
// engine wide parameters.
type ParameterChanged struct {
	Name     string
	Pool     string
	OldValue string
	NewValue string
}

func (ParameterChanged) EventType() string { return TypeParameterChanged }

func (e ParameterChanged) Attributes() map[string]string {
	return map[string]string{
		"name":     e.Name,
		"pool":     e.Pool,
		"oldValue": strings.TrimSpace(e.OldValue),
		"newValue": strings.TrimSpace(e.NewValue),
	}
}

// AdminChanged covers both halves of the admin handoff.
type AdminChanged struct {
	Current  common.Address
	Pending  common.Address
	Accepted bool
}

func (e AdminChanged) EventType() string {
	if e.Accepted {
		return TypeAdminAccepted
	}
	return TypeAdminProposed
}

func (e AdminChanged) Attributes() map[string]string {
	return map[string]string{"current": address(e.Current), "pending": address(e.Pending)}
}

// PauseChanged records a pause flag toggle. Pool is empty for global flags.
type PauseChanged struct {
	Pool   string
	Action string
	Paused bool
	By     common.Address
}

func (PauseChanged) EventType() string { return TypePauseChanged }

func (e PauseChanged) Attributes() map[string]string {
	return map[string]string{
		"pool":   e.Pool,
		"action": e.Action,
		"paused": strconv.FormatBool(e.Paused),
		"by":     address(e.By),
	}
}

// RewardDistributed records reward accrual credited to an account.
type RewardDistributed struct {
	Pool    string
	Account common.Address
	Side    string
	Delta   *uint256.Int
	Index   *uint256.Int
}

func (RewardDistributed) EventType() string { return TypeRewardDistributed }

func (e RewardDistributed) Attributes() map[string]string {
	return map[string]string{
		"pool":    e.Pool,
		"account": address(e.Account),
		"side":    e.Side,
		"delta":   amount(e.Delta),
		"index":   amount(e.Index),
	}
}

// RewardPaid covers claims and admin grants.
type RewardPaid struct {
	Account common.Address
	Amount  *uint256.Int
	Granted bool
}

func (e RewardPaid) EventType() string {
	if e.Granted {
		return TypeRewardGranted
	}
	return TypeRewardClaimed
}

func (e RewardPaid) Attributes() map[string]string {
	return map[string]string{"account": address(e.Account), "amount": amount(e.Amount)}
}
