package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/ratemodel"
)

// Pool captures the accounting state of one lending market. Quantities are
// denominated in the smallest unit of the underlying asset; factors and
// indices are 1e18 scaled mantissas.
type Pool struct {
	// ID is the registry key of the pool.
	ID string
	// Underlying names the asset held by the pool.
	Underlying string
	// Cash is the underlying currently held and available for withdrawal or
	// borrowing.
	Cash *uint256.Int
	// TotalBorrows is the outstanding debt including accrued interest as of
	// LastAccrual.
	TotalBorrows *uint256.Int
	// TotalReserves is the share of accrued interest retained by the
	// protocol.
	TotalReserves *uint256.Int
	// TotalShares is the number of pool shares in circulation.
	TotalShares *uint256.Int
	// BorrowIndex compounds borrower debt. It starts at 1.0 and never
	// decreases.
	BorrowIndex *uint256.Int
	// LastAccrual is the period at which interest was last accrued.
	LastAccrual uint64
	// InitialExchangeRate prices shares while none are outstanding.
	InitialExchangeRate *uint256.Int
	// CollateralFactor is the fraction of supplied value that counts towards
	// borrowing power.
	CollateralFactor *uint256.Int
	// ReserveFactor is the fraction of accrued interest routed to reserves.
	ReserveFactor *uint256.Int
	// ProtocolSeizeShare is the fraction of seized shares converted into
	// reserves instead of being paid to the liquidator.
	ProtocolSeizeShare *uint256.Int
	// BorrowCap bounds TotalBorrows. Zero means unlimited.
	BorrowCap *uint256.Int
	// RateModel describes the interest rate curve of the pool.
	RateModel ratemodel.Spec
	// Listed is set once by the admin and never cleared.
	Listed bool

	MintPaused     bool
	BorrowPaused   bool
	TransferPaused bool
	SeizePaused    bool
}

// Clone returns a deep copy of the pool with nil quantities replaced by zero.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Cash = fixed.Copy(p.Cash)
	clone.TotalBorrows = fixed.Copy(p.TotalBorrows)
	clone.TotalReserves = fixed.Copy(p.TotalReserves)
	clone.TotalShares = fixed.Copy(p.TotalShares)
	clone.BorrowIndex = fixed.Copy(p.BorrowIndex)
	clone.InitialExchangeRate = fixed.Copy(p.InitialExchangeRate)
	clone.CollateralFactor = fixed.Copy(p.CollateralFactor)
	clone.ReserveFactor = fixed.Copy(p.ReserveFactor)
	clone.ProtocolSeizeShare = fixed.Copy(p.ProtocolSeizeShare)
	clone.BorrowCap = fixed.Copy(p.BorrowCap)
	clone.RateModel = p.RateModel.Clone()
	return &clone
}

// Deprecated reports whether the pool has been wound down: no collateral
// value, borrowing paused and every unit of interest kept as reserves.
func (p *Pool) Deprecated() bool {
	return p != nil &&
		fixed.Copy(p.CollateralFactor).IsZero() &&
		p.BorrowPaused &&
		fixed.Copy(p.ReserveFactor).Eq(fixed.One())
}

// Position is the Account-Pool record: share balance plus borrow snapshot.
type Position struct {
	Account common.Address
	Pool    string
	// Shares is the pool share balance of the account.
	Shares *uint256.Int
	// BorrowPrincipal is the debt as of the last balance change, including
	// interest accrued up to that point.
	BorrowPrincipal *uint256.Int
	// BorrowIndex is the pool borrow index captured with BorrowPrincipal.
	BorrowIndex *uint256.Int
}

func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{
		Account:         p.Account,
		Pool:            p.Pool,
		Shares:          fixed.Copy(p.Shares),
		BorrowPrincipal: fixed.Copy(p.BorrowPrincipal),
		BorrowIndex:     fixed.Copy(p.BorrowIndex),
	}
}

// Membership lists the pools an account has entered as collateral, in entry
// order.
type Membership struct {
	Account common.Address
	Pools   []string
}

func (m *Membership) Clone() *Membership {
	if m == nil {
		return nil
	}
	pools := make([]string, len(m.Pools))
	copy(pools, m.Pools)
	return &Membership{Account: m.Account, Pools: pools}
}

// Contains reports whether pool has been entered.
func (m *Membership) Contains(pool string) bool {
	if m == nil {
		return false
	}
	for _, id := range m.Pools {
		if id == pool {
			return true
		}
	}
	return false
}

// AdminState holds the current admin and the candidate of a pending handoff.
type AdminState struct {
	Current common.Address
	Pending common.Address
}

// Params are the engine wide risk parameters and role assignments.
type Params struct {
	// Version tracks the stored layout; see MigrateParams.
	Version uint32
	Admin   AdminState
	// Guardian may pause actions but never unpause them.
	Guardian common.Address
	// BorrowCapGuardian may adjust borrow caps alongside the admin.
	BorrowCapGuardian common.Address
	// CloseFactor bounds the fraction of a borrow repayable in one
	// liquidation.
	CloseFactor *uint256.Int
	// LiquidationIncentive is the collateral bonus paid to liquidators.
	LiquidationIncentive *uint256.Int
	// MaxAssets limits how many pools an account may enter. Zero means
	// unlimited.
	MaxAssets      uint64
	TransferPaused bool
	SeizePaused    bool
	// Markets lists every listed pool in listing order.
	Markets []string
}

func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := *p
	clone.CloseFactor = fixed.Copy(p.CloseFactor)
	clone.LiquidationIncentive = fixed.Copy(p.LiquidationIncentive)
	clone.Markets = make([]string, len(p.Markets))
	copy(clone.Markets, p.Markets)
	return &clone
}

// Liquidity is the result of an account solvency evaluation. At most one of
// the two values is non-zero.
type Liquidity struct {
	Liquidity *uint256.Int
	Shortfall *uint256.Int
}

// MarketConfig carries the parameters supplied when listing a pool.
type MarketConfig struct {
	ID                  string
	Underlying          string
	CollateralFactor    *uint256.Int
	ReserveFactor       *uint256.Int
	ProtocolSeizeShare  *uint256.Int
	InitialExchangeRate *uint256.Int
	BorrowCap           *uint256.Int
	RateModel           ratemodel.Spec
}
