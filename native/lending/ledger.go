package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/native/lending/fixed"
)

// Mint deposits amount of the pool underlying and credits the minter with
// amount / exchangeRate shares.
func (e *Engine) Mint(minter common.Address, pool string, amount *uint256.Int) (*uint256.Int, error) {
	var minted *uint256.Int
	err := e.execute(func(tx *journal) error {
		shares, err := e.mint(tx, minter, pool, amount, true)
		minted = shares
		return err
	})
	return minted, err
}

// mint credits shares for amount. settle is false when the underlying is
// already held by the engine, as in a market migration.
func (e *Engine) mint(tx *journal, minter common.Address, pool string, amount *uint256.Int, settle bool) (*uint256.Int, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	p, err := e.accrue(tx, pool)
	if err != nil {
		return nil, err
	}
	if err := e.risk.MintAllowed(tx, pool, minter, amount); err != nil {
		return nil, err
	}
	rate, err := exchangeRateStored(p)
	if err != nil {
		return nil, err
	}
	shares, err := fixed.DivExp(amount, rate)
	if err != nil {
		return nil, err
	}
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: amount below one share", ErrInvalidAmount)
	}
	if err := e.distributeSupplier(tx, p, minter); err != nil {
		return nil, err
	}
	position, err := tx.Position(minter, pool)
	if err != nil {
		return nil, err
	}
	cash, err := fixed.Add(p.Cash, amount)
	if err != nil {
		return nil, err
	}
	totalShares, err := fixed.Add(p.TotalShares, shares)
	if err != nil {
		return nil, err
	}
	balance, err := fixed.Add(position.Shares, shares)
	if err != nil {
		return nil, err
	}
	p.Cash, p.TotalShares, position.Shares = cash, totalShares, balance
	tx.putPool(p)
	tx.putPosition(position)
	if settle {
		e.collect(tx, minter, p.Underlying, amount)
	}
	tx.emit(events.Minted{Pool: pool, Account: minter, Amount: fixed.Copy(amount), Shares: fixed.Copy(shares)})
	return shares, nil
}

// Redeem burns shares and pays out their underlying value.
func (e *Engine) Redeem(redeemer common.Address, pool string, shares *uint256.Int) (*uint256.Int, error) {
	var paid *uint256.Int
	err := e.execute(func(tx *journal) error {
		if err := requirePositive(shares); err != nil {
			return err
		}
		var err error
		paid, _, err = e.redeem(tx, redeemer, pool, shares, nil, true)
		return err
	})
	return paid, err
}

// RedeemUnderlying burns however many shares are worth amount and pays amount
// out.
func (e *Engine) RedeemUnderlying(redeemer common.Address, pool string, amount *uint256.Int) (*uint256.Int, error) {
	var burned *uint256.Int
	err := e.execute(func(tx *journal) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		var err error
		_, burned, err = e.redeem(tx, redeemer, pool, nil, amount, true)
		return err
	})
	return burned, err
}

// redeem takes exactly one of sharesIn and amountIn.
func (e *Engine) redeem(tx *journal, redeemer common.Address, pool string, sharesIn, amountIn *uint256.Int, settle bool) (amount, shares *uint256.Int, err error) {
	p, err := e.accrue(tx, pool)
	if err != nil {
		return nil, nil, err
	}
	rate, err := exchangeRateStored(p)
	if err != nil {
		return nil, nil, err
	}
	if sharesIn != nil {
		shares = fixed.Copy(sharesIn)
		if amount, err = fixed.MulExp(shares, rate); err != nil {
			return nil, nil, err
		}
	} else {
		amount = fixed.Copy(amountIn)
		if shares, err = fixed.DivExp(amount, rate); err != nil {
			return nil, nil, err
		}
	}
	if shares.IsZero() && !amount.IsZero() {
		return nil, nil, fmt.Errorf("%w: redeeming %s underlying for zero shares", ErrInvalidAmount, amount.Dec())
	}
	position, err := tx.Position(redeemer, pool)
	if err != nil {
		return nil, nil, err
	}
	if position.Shares.Lt(shares) {
		return nil, nil, fmt.Errorf("%w: have %s shares, need %s", ErrInsufficientBalance, position.Shares.Dec(), shares.Dec())
	}
	if err := e.accrueEntered(tx, redeemer); err != nil {
		return nil, nil, err
	}
	if err := e.risk.RedeemAllowed(tx, pool, redeemer, shares); err != nil {
		return nil, nil, err
	}
	if p.Cash.Lt(amount) {
		return nil, nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientCash, p.Cash.Dec(), amount.Dec())
	}
	if err := e.distributeSupplier(tx, p, redeemer); err != nil {
		return nil, nil, err
	}
	totalShares, err := fixed.Sub(p.TotalShares, shares)
	if err != nil {
		return nil, nil, err
	}
	cash, err := fixed.Sub(p.Cash, amount)
	if err != nil {
		return nil, nil, err
	}
	balance, err := fixed.Sub(position.Shares, shares)
	if err != nil {
		return nil, nil, err
	}
	p.Cash, p.TotalShares, position.Shares = cash, totalShares, balance
	tx.putPool(p)
	tx.putPosition(position)
	if settle {
		e.pay(tx, redeemer, p.Underlying, amount)
	}
	tx.emit(events.Redeemed{Pool: pool, Account: redeemer, Amount: fixed.Copy(amount), Shares: fixed.Copy(shares)})
	return amount, shares, nil
}

// Borrow lends amount of the pool underlying to borrower. A borrower is
// entered into the pool's collateral set if it was not already.
func (e *Engine) Borrow(borrower common.Address, pool string, amount *uint256.Int) error {
	return e.execute(func(tx *journal) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		p, err := e.accrue(tx, pool)
		if err != nil {
			return err
		}
		membership, err := tx.Membership(borrower)
		if err != nil {
			return err
		}
		if !membership.Contains(pool) {
			if err := e.enterMarket(tx, borrower, pool); err != nil {
				return err
			}
		}
		if err := e.accrueEntered(tx, borrower); err != nil {
			return err
		}
		if err := e.risk.BorrowAllowed(tx, pool, borrower, amount); err != nil {
			return err
		}
		if p.Cash.Lt(amount) {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientCash, p.Cash.Dec(), amount.Dec())
		}
		if err := e.distributeBorrower(tx, p, borrower); err != nil {
			return err
		}
		position, err := tx.Position(borrower, pool)
		if err != nil {
			return err
		}
		accountBorrows, err := borrowBalanceStored(p, position)
		if err != nil {
			return err
		}
		if accountBorrows, err = fixed.Add(accountBorrows, amount); err != nil {
			return err
		}
		totalBorrows, err := fixed.Add(p.TotalBorrows, amount)
		if err != nil {
			return err
		}
		cash, err := fixed.Sub(p.Cash, amount)
		if err != nil {
			return err
		}
		position.BorrowPrincipal = accountBorrows
		position.BorrowIndex = fixed.Copy(p.BorrowIndex)
		p.TotalBorrows, p.Cash = totalBorrows, cash
		tx.putPool(p)
		tx.putPosition(position)
		e.pay(tx, borrower, p.Underlying, amount)
		tx.emit(events.Borrowed{
			Pool:           pool,
			Account:        borrower,
			Amount:         fixed.Copy(amount),
			AccountBorrows: fixed.Copy(accountBorrows),
			TotalBorrows:   fixed.Copy(totalBorrows),
		})
		return nil
	})
}

// RepayBorrow repays the caller's own borrow. The applied amount is capped at
// the accrued balance and returned.
func (e *Engine) RepayBorrow(borrower common.Address, pool string, amount *uint256.Int) (*uint256.Int, error) {
	return e.RepayBorrowBehalf(borrower, borrower, pool, amount)
}

// RepayBorrowBehalf repays the borrow of borrower with funds from payer.
func (e *Engine) RepayBorrowBehalf(payer, borrower common.Address, pool string, amount *uint256.Int) (*uint256.Int, error) {
	var applied *uint256.Int
	err := e.execute(func(tx *journal) error {
		if err := requirePositive(amount); err != nil {
			return err
		}
		p, err := e.accrue(tx, pool)
		if err != nil {
			return err
		}
		applied, err = e.repay(tx, payer, borrower, p, amount)
		return err
	})
	return applied, err
}

func (e *Engine) repay(tx *journal, payer, borrower common.Address, p *Pool, amount *uint256.Int) (*uint256.Int, error) {
	if err := e.risk.RepayAllowed(tx, p.ID, payer, borrower, amount); err != nil {
		return nil, err
	}
	if err := e.distributeBorrower(tx, p, borrower); err != nil {
		return nil, err
	}
	position, err := tx.Position(borrower, p.ID)
	if err != nil {
		return nil, err
	}
	balance, err := borrowBalanceStored(p, position)
	if err != nil {
		return nil, err
	}
	applied := fixed.Min(amount, balance)
	remaining, err := fixed.Sub(balance, applied)
	if err != nil {
		return nil, err
	}
	// Per-account rounding can leave the sum of balances a few units above
	// TotalBorrows.
	totalBorrows := fixed.Zero()
	if p.TotalBorrows.Gt(applied) {
		totalBorrows = new(uint256.Int).Sub(p.TotalBorrows, applied)
	}
	cash, err := fixed.Add(p.Cash, applied)
	if err != nil {
		return nil, err
	}
	position.BorrowPrincipal = remaining
	position.BorrowIndex = fixed.Copy(p.BorrowIndex)
	p.TotalBorrows, p.Cash = totalBorrows, cash
	tx.putPool(p)
	tx.putPosition(position)
	e.collect(tx, payer, p.Underlying, applied)
	tx.emit(events.Repaid{
		Pool:           p.ID,
		Payer:          payer,
		Borrower:       borrower,
		Amount:         fixed.Copy(applied),
		AccountBorrows: fixed.Copy(remaining),
		TotalBorrows:   fixed.Copy(totalBorrows),
	})
	return applied, nil
}

// Transfer moves pool shares between two accounts. The sender must stay
// solvent without them.
func (e *Engine) Transfer(src, dst common.Address, pool string, shares *uint256.Int) error {
	return e.execute(func(tx *journal) error {
		if err := requirePositive(shares); err != nil {
			return err
		}
		if src == dst {
			return fmt.Errorf("%w: transfer to self", ErrInvalidParameter)
		}
		p, err := e.accrue(tx, pool)
		if err != nil {
			return err
		}
		from, err := tx.Position(src, pool)
		if err != nil {
			return err
		}
		if from.Shares.Lt(shares) {
			return fmt.Errorf("%w: have %s shares, need %s", ErrInsufficientBalance, from.Shares.Dec(), shares.Dec())
		}
		if err := e.accrueEntered(tx, src); err != nil {
			return err
		}
		if err := e.risk.TransferAllowed(tx, pool, src, dst, shares); err != nil {
			return err
		}
		if err := e.distributeSupplier(tx, p, src); err != nil {
			return err
		}
		if err := e.distributeSupplier(tx, p, dst); err != nil {
			return err
		}
		to, err := tx.Position(dst, pool)
		if err != nil {
			return err
		}
		if from.Shares, err = fixed.Sub(from.Shares, shares); err != nil {
			return err
		}
		if to.Shares, err = fixed.Add(to.Shares, shares); err != nil {
			return err
		}
		tx.putPosition(from)
		tx.putPosition(to)
		tx.emit(events.SharesTransferred{Pool: pool, From: src, To: dst, Shares: fixed.Copy(shares)})
		return nil
	})
}

// AddReserves moves admin funds into the pool as reserves.
func (e *Engine) AddReserves(caller common.Address, pool string, amount *uint256.Int) error {
	return e.execute(func(tx *journal) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		p, err := e.accrue(tx, pool)
		if err != nil {
			return err
		}
		cash, err := fixed.Add(p.Cash, amount)
		if err != nil {
			return err
		}
		reserves, err := fixed.Add(p.TotalReserves, amount)
		if err != nil {
			return err
		}
		p.Cash, p.TotalReserves = cash, reserves
		tx.putPool(p)
		e.collect(tx, caller, p.Underlying, amount)
		tx.emit(events.ReservesChanged{Pool: pool, Account: caller, Amount: fixed.Copy(amount), TotalReserves: fixed.Copy(reserves)})
		return nil
	})
}

// ReduceReserves pays reserves out to the admin.
func (e *Engine) ReduceReserves(caller common.Address, pool string, amount *uint256.Int) error {
	return e.execute(func(tx *journal) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		p, err := e.accrue(tx, pool)
		if err != nil {
			return err
		}
		if p.Cash.Lt(amount) {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientCash, p.Cash.Dec(), amount.Dec())
		}
		if p.TotalReserves.Lt(amount) {
			return fmt.Errorf("%w: reserves %s below %s", ErrInsufficientBalance, p.TotalReserves.Dec(), amount.Dec())
		}
		p.Cash = new(uint256.Int).Sub(p.Cash, amount)
		p.TotalReserves = new(uint256.Int).Sub(p.TotalReserves, amount)
		tx.putPool(p)
		e.pay(tx, caller, p.Underlying, amount)
		tx.emit(events.ReservesChanged{Pool: pool, Account: caller, Amount: fixed.Copy(amount), TotalReserves: fixed.Copy(p.TotalReserves), Reduced: true})
		return nil
	})
}
