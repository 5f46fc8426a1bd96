package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"moneymarket/core/events"
	"moneymarket/native/lending/fixed"
)

// EnterMarkets adds pools to the collateral set of account. Pools already
// entered are skipped. Either every pool is entered or none is.
func (e *Engine) EnterMarkets(account common.Address, pools []string) error {
	return e.execute(func(tx *journal) error {
		for _, pool := range pools {
			if err := e.enterMarket(tx, account, pool); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) enterMarket(tx *journal, account common.Address, pool string) error {
	if _, err := tx.Pool(pool); err != nil {
		return err
	}
	m, err := tx.Membership(account)
	if err != nil {
		return err
	}
	if m.Contains(pool) {
		return nil
	}
	params, err := tx.Params()
	if err != nil {
		return err
	}
	if params.MaxAssets > 0 && uint64(len(m.Pools)) >= params.MaxAssets {
		return fmt.Errorf("%w: limit %d", ErrTooManyAssets, params.MaxAssets)
	}
	next := m.Clone()
	next.Pools = append(next.Pools, pool)
	tx.putMembership(next)
	tx.emit(events.MembershipChanged{Pool: pool, Account: account, Entered: true})
	return nil
}

// ExitMarket removes pool from the collateral set of account. The account
// must have no borrow in the pool and must stay solvent without the pool's
// collateral.
func (e *Engine) ExitMarket(account common.Address, pool string) error {
	return e.execute(func(tx *journal) error {
		p, err := tx.Pool(pool)
		if err != nil {
			return err
		}
		position, err := tx.Position(account, pool)
		if err != nil {
			return err
		}
		balance, err := borrowBalanceStored(p, position)
		if err != nil {
			return err
		}
		if !balance.IsZero() {
			return fmt.Errorf("%w: %s owes %s in %s", ErrNonzeroBorrowBalance, account.Hex(), balance.Dec(), pool)
		}
		m, err := tx.Membership(account)
		if err != nil {
			return err
		}
		if !m.Contains(pool) {
			return nil
		}
		if err := e.accrueEntered(tx, account); err != nil {
			return err
		}
		if err := e.risk.RedeemAllowed(tx, pool, account, fixed.Copy(position.Shares)); err != nil {
			return err
		}
		next := &Membership{Account: account}
		for _, id := range m.Pools {
			if id != pool {
				next.Pools = append(next.Pools, id)
			}
		}
		tx.putMembership(next)
		tx.emit(events.MembershipChanged{Pool: pool, Account: account, Entered: false})
		return nil
	})
}
