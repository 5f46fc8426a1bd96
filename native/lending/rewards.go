package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/rewards"
)

// distributeSupplier advances the supply index of p and credits account for
// its current share balance. It must run before the balance changes.
func (e *Engine) distributeSupplier(tx *journal, p *Pool, account common.Address) error {
	if err := e.rewards.UpdateSupplyIndex(tx, p.ID, p.TotalShares, e.height); err != nil {
		return err
	}
	position, err := tx.Position(account, p.ID)
	if err != nil {
		return err
	}
	delta, err := e.rewards.DistributeSupplier(tx, p.ID, account, position.Shares)
	if err != nil {
		return err
	}
	return e.emitDistribution(tx, p.ID, account, rewards.SideSupply, delta)
}

// distributeBorrower is the borrow side counterpart of distributeSupplier. p
// must already be accrued.
func (e *Engine) distributeBorrower(tx *journal, p *Pool, account common.Address) error {
	if err := e.rewards.UpdateBorrowIndex(tx, p.ID, p.TotalBorrows, p.BorrowIndex, e.height); err != nil {
		return err
	}
	position, err := tx.Position(account, p.ID)
	if err != nil {
		return err
	}
	balance, err := borrowBalanceStored(p, position)
	if err != nil {
		return err
	}
	delta, err := e.rewards.DistributeBorrower(tx, p.ID, account, balance, p.BorrowIndex)
	if err != nil {
		return err
	}
	return e.emitDistribution(tx, p.ID, account, rewards.SideBorrow, delta)
}

func (e *Engine) emitDistribution(tx *journal, pool string, account common.Address, side rewards.Side, delta *uint256.Int) error {
	if delta == nil || delta.IsZero() {
		return nil
	}
	m, err := tx.RewardMarket(pool)
	if err != nil {
		return err
	}
	index := m.SupplyIndex
	if side == rewards.SideBorrow {
		index = m.BorrowIndex
	}
	tx.emit(events.RewardDistributed{Pool: pool, Account: account, Side: string(side), Delta: fixed.Copy(delta), Index: fixed.Copy(index)})
	return nil
}

// SetRewardSpeeds changes the per-period emission of pool. Both indices are
// brought up to date first so the previous speeds apply until now.
func (e *Engine) SetRewardSpeeds(caller common.Address, pool string, supplySpeed, borrowSpeed *uint256.Int) error {
	return e.execute(func(tx *journal) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		p, err := e.accrue(tx, pool)
		if err != nil {
			return err
		}
		if err := e.rewards.UpdateSupplyIndex(tx, pool, p.TotalShares, e.height); err != nil {
			return err
		}
		if err := e.rewards.UpdateBorrowIndex(tx, pool, p.TotalBorrows, p.BorrowIndex, e.height); err != nil {
			return err
		}
		m, err := tx.RewardMarket(pool)
		if err != nil {
			return err
		}
		oldSupply, oldBorrow := fixed.Copy(m.SupplySpeed), fixed.Copy(m.BorrowSpeed)
		if err := e.rewards.SetSpeeds(tx, pool, fixed.Copy(supplySpeed), fixed.Copy(borrowSpeed), e.height); err != nil {
			return err
		}
		tx.emit(events.ParameterChanged{Name: "reward_supply_speed", Pool: pool, OldValue: oldSupply.Dec(), NewValue: fixed.Copy(supplySpeed).Dec()})
		tx.emit(events.ParameterChanged{Name: "reward_borrow_speed", Pool: pool, OldValue: oldBorrow.Dec(), NewValue: fixed.Copy(borrowSpeed).Dec()})
		return nil
	})
}

// SetContributorSpeed assigns a fixed per-period reward stream to account.
func (e *Engine) SetContributorSpeed(caller, account common.Address, speed *uint256.Int) error {
	return e.execute(func(tx *journal) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		return e.rewards.SetContributorSpeed(tx, account, fixed.Copy(speed), e.height)
	})
}

// UpdateContributorRewards credits the contributor stream of account up to
// the current period.
func (e *Engine) UpdateContributorRewards(account common.Address) error {
	return e.execute(func(tx *journal) error {
		return e.rewards.UpdateContributor(tx, account, e.height)
	})
}

// ClaimRewards settles holder in every listed pool of pools and pays out the
// accrued balance when the treasury can cover it. The paid amount is
// returned; zero means the balance stays accrued.
func (e *Engine) ClaimRewards(holder common.Address, pools []string, borrowers, suppliers bool) (*uint256.Int, error) {
	var paid *uint256.Int
	err := e.execute(func(tx *journal) error {
		for _, id := range pools {
			p, err := e.accrue(tx, id)
			if err != nil {
				return err
			}
			if borrowers {
				if err := e.distributeBorrower(tx, p, holder); err != nil {
					return err
				}
			}
			if suppliers {
				if err := e.distributeSupplier(tx, p, holder); err != nil {
					return err
				}
			}
		}
		if err := e.rewards.UpdateContributor(tx, holder, e.height); err != nil {
			return err
		}
		available := fixed.Zero()
		if e.treasury != nil {
			available = fixed.Copy(e.treasury.Balance())
		}
		amount, err := e.rewards.Claim(tx, holder, available)
		if err != nil {
			return err
		}
		paid = amount
		if amount.IsZero() {
			return nil
		}
		treasury := e.treasury
		tx.interact(func() error { return treasury.Pay(holder, amount) })
		tx.emit(events.RewardPaid{Account: holder, Amount: fixed.Copy(amount)})
		return nil
	})
	return paid, err
}

// GrantReward pays amount from the treasury to recipient outside the index
// accounting.
func (e *Engine) GrantReward(caller, recipient common.Address, amount *uint256.Int) error {
	return e.execute(func(tx *journal) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		if err := requirePositive(amount); err != nil {
			return err
		}
		if e.treasury == nil || e.treasury.Balance() == nil || e.treasury.Balance().Lt(amount) {
			return rewards.ErrInsufficientRewards
		}
		treasury, amount := e.treasury, fixed.Copy(amount)
		tx.interact(func() error { return treasury.Pay(recipient, amount) })
		tx.emit(events.RewardPaid{Account: recipient, Amount: fixed.Copy(amount), Granted: true})
		return nil
	})
}

// RewardAccrued returns the unclaimed reward balance of account as last
// settled.
func (e *Engine) RewardAccrued(account common.Address) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(func(tx *journal) error {
		acct, err := tx.RewardAccount(account)
		if err != nil {
			return err
		}
		out = fixed.Copy(acct.Accrued)
		return nil
	})
	return out, err
}

// RewardMarket returns the reward indices and speeds of pool.
func (e *Engine) RewardMarket(pool string) (*rewards.Market, error) {
	var out *rewards.Market
	err := e.view(func(tx *journal) error {
		if _, err := tx.Pool(pool); err != nil {
			return err
		}
		m, err := tx.RewardMarket(pool)
		if err != nil {
			return err
		}
		out = m.Clone()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reward market: %w", err)
	}
	return out, nil
}
