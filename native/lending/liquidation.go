package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/native/lending/fixed"
)

// LiquidateBorrow repays up to closeFactor of the borrow of an account in
// shortfall and transfers the matching collateral shares, plus the
// liquidation incentive, to the liquidator. The seized share count is
// returned.
func (e *Engine) LiquidateBorrow(liquidator, borrower common.Address, borrowedPool, collateralPool string, repayAmount *uint256.Int) (*uint256.Int, error) {
	var seized *uint256.Int
	err := e.execute(func(tx *journal) error {
		if err := requirePositive(repayAmount); err != nil {
			return err
		}
		if liquidator == borrower {
			return ErrLiquidateSelf
		}
		borrowed, err := e.accrue(tx, borrowedPool)
		if err != nil {
			return err
		}
		collateral, err := e.accrue(tx, collateralPool)
		if err != nil {
			return err
		}
		if err := e.accrueEntered(tx, borrower); err != nil {
			return err
		}
		if err := e.risk.LiquidateAllowed(tx, borrowedPool, collateralPool, liquidator, borrower, repayAmount); err != nil {
			return err
		}
		applied, err := e.repay(tx, liquidator, borrower, borrowed, repayAmount)
		if err != nil {
			return err
		}
		shares, err := e.risk.SeizeShares(tx, borrowedPool, collateralPool, applied)
		if err != nil {
			return err
		}
		position, err := tx.Position(borrower, collateralPool)
		if err != nil {
			return err
		}
		if position.Shares.Lt(shares) {
			return fmt.Errorf("%w: seize %s exceeds collateral %s", ErrInsufficientBalance, shares.Dec(), position.Shares.Dec())
		}
		protocolShares, err := e.seize(tx, collateral, borrowedPool, liquidator, borrower, shares)
		if err != nil {
			return err
		}
		seized = shares
		tx.emit(events.Liquidated{
			BorrowedPool:   borrowedPool,
			CollateralPool: collateralPool,
			Liquidator:     liquidator,
			Borrower:       borrower,
			RepayAmount:    fixed.Copy(applied),
			SeizedShares:   fixed.Copy(shares),
			ProtocolShares: protocolShares,
		})
		return nil
	})
	return seized, err
}

// seize moves shares of collateral from borrower to liquidator. The protocol
// seize share is burned and its underlying value added to reserves.
func (e *Engine) seize(tx *journal, collateral *Pool, borrowedPool string, liquidator, borrower common.Address, shares *uint256.Int) (*uint256.Int, error) {
	if err := e.risk.SeizeAllowed(tx, collateral.ID, borrowedPool, liquidator, borrower, shares); err != nil {
		return nil, err
	}
	if err := e.distributeSupplier(tx, collateral, borrower); err != nil {
		return nil, err
	}
	if err := e.distributeSupplier(tx, collateral, liquidator); err != nil {
		return nil, err
	}
	protocolShares, liquidatorShares, err := e.takeProtocolShare(tx, collateral, borrower, shares)
	if err != nil {
		return nil, err
	}
	from, err := tx.Position(borrower, collateral.ID)
	if err != nil {
		return nil, err
	}
	to, err := tx.Position(liquidator, collateral.ID)
	if err != nil {
		return nil, err
	}
	if from.Shares, err = fixed.Sub(from.Shares, liquidatorShares); err != nil {
		return nil, err
	}
	if to.Shares, err = fixed.Add(to.Shares, liquidatorShares); err != nil {
		return nil, err
	}
	tx.putPosition(from)
	tx.putPosition(to)
	return protocolShares, nil
}

// takeProtocolShare burns the ProtocolSeizeShare part of shares from the
// position of account and books its underlying value as reserves. The
// exchange rate is unchanged. It returns the burned and the remaining shares.
func (e *Engine) takeProtocolShare(tx *journal, pool *Pool, account common.Address, shares *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	protocolShares, err := fixed.MulExp(shares, pool.ProtocolSeizeShare)
	if err != nil {
		return nil, nil, err
	}
	remaining, err := fixed.Sub(shares, protocolShares)
	if err != nil {
		return nil, nil, err
	}
	if protocolShares.IsZero() {
		return protocolShares, remaining, nil
	}
	rate, err := exchangeRateStored(pool)
	if err != nil {
		return nil, nil, err
	}
	protocolAmount, err := fixed.MulExp(rate, protocolShares)
	if err != nil {
		return nil, nil, err
	}
	reserves, err := fixed.Add(pool.TotalReserves, protocolAmount)
	if err != nil {
		return nil, nil, err
	}
	totalShares, err := fixed.Sub(pool.TotalShares, protocolShares)
	if err != nil {
		return nil, nil, err
	}
	position, err := tx.Position(account, pool.ID)
	if err != nil {
		return nil, nil, err
	}
	if position.Shares, err = fixed.Sub(position.Shares, protocolShares); err != nil {
		return nil, nil, err
	}
	pool.TotalReserves, pool.TotalShares = reserves, totalShares
	tx.putPool(pool)
	tx.putPosition(position)
	if !protocolAmount.IsZero() {
		tx.emit(events.ReservesChanged{Pool: pool.ID, Account: account, Amount: fixed.Copy(protocolAmount), TotalReserves: fixed.Copy(reserves)})
	}
	return protocolShares, remaining, nil
}

// MigrateDeprecatedMarket moves the whole share balance of account from a
// deprecated pool into another pool of the same underlying. The source
// pool keeps its ProtocolSeizeShare of the balance as reserves, the rest is
// redeemed and supplied to the target. Collateral membership follows the
// balance. The caller must be the account or the admin.
func (e *Engine) MigrateDeprecatedMarket(caller, account common.Address, from, to string) (*uint256.Int, error) {
	var minted *uint256.Int
	err := e.execute(func(tx *journal) error {
		if caller != account {
			if err := requireAdmin(tx, caller); err != nil {
				return err
			}
		}
		if from == to {
			return fmt.Errorf("%w: migration into the same market", ErrInvalidParameter)
		}
		source, err := e.accrue(tx, from)
		if err != nil {
			return err
		}
		if !source.Deprecated() {
			return fmt.Errorf("%w: %s", ErrMarketNotDeprecated, from)
		}
		target, err := e.accrue(tx, to)
		if err != nil {
			return err
		}
		if source.Underlying != target.Underlying {
			return fmt.Errorf("%w: underlying %s differs from %s", ErrInvalidParameter, source.Underlying, target.Underlying)
		}
		position, err := tx.Position(account, from)
		if err != nil {
			return err
		}
		shares := fixed.Copy(position.Shares)
		if shares.IsZero() {
			return fmt.Errorf("%w: no shares in %s", ErrInvalidAmount, from)
		}
		if err := e.distributeSupplier(tx, source, account); err != nil {
			return err
		}
		_, remaining, err := e.takeProtocolShare(tx, source, account, shares)
		if err != nil {
			return err
		}
		amount, _, err := e.redeem(tx, account, from, remaining, nil, false)
		if err != nil {
			return err
		}
		if minted, err = e.mint(tx, account, to, amount, false); err != nil {
			return err
		}
		if err := e.carryMembership(tx, account, from, to); err != nil {
			return err
		}
		tx.emit(events.MarketMigrated{From: from, To: to, Account: account, Shares: shares, Amount: fixed.Copy(amount), NewShares: fixed.Copy(minted)})
		return nil
	})
	return minted, err
}

// carryMembership swaps from for to in the collateral set of account when
// from was entered.
func (e *Engine) carryMembership(tx *journal, account common.Address, from, to string) error {
	m, err := tx.Membership(account)
	if err != nil {
		return err
	}
	if !m.Contains(from) {
		return nil
	}
	next := &Membership{Account: account}
	for _, id := range m.Pools {
		if id != from {
			next.Pools = append(next.Pools, id)
		}
	}
	tx.putMembership(next)
	tx.emit(events.MembershipChanged{Pool: from, Account: account, Entered: false})
	return e.enterMarket(tx, account, to)
}
