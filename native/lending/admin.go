package lending

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/core/events"
	nativecommon "moneymarket/native/common"
	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/ratemodel"
)

var (
	// collateralFactorMax bounds collateral factors at 0.9.
	collateralFactorMax = uint256.NewInt(900_000_000_000_000_000)
	closeFactorMin      = uint256.NewInt(50_000_000_000_000_000)
	closeFactorMax      = uint256.NewInt(900_000_000_000_000_000)
	incentiveMax        = uint256.NewInt(1_500_000_000_000_000_000)
	// DefaultProtocolSeizeShare routes 2.8% of seized collateral to reserves.
	DefaultProtocolSeizeShare = uint256.NewInt(28_000_000_000_000_000)
)

func requireAdmin(tx *journal, caller common.Address) error {
	params, err := tx.Params()
	if err != nil {
		return err
	}
	if caller != params.Admin.Current {
		return fmt.Errorf("%w: %s is not admin", ErrUnauthorized, caller.Hex())
	}
	return nil
}

func validateCloseFactor(v *uint256.Int) error {
	if v == nil || v.Lt(closeFactorMin) || v.Gt(closeFactorMax) {
		return fmt.Errorf("%w: close factor %s outside [0.05, 0.9]", ErrInvalidParameter, fixed.Format(v))
	}
	return nil
}

func validateIncentive(v *uint256.Int) error {
	if v == nil || !v.Gt(fixed.One()) || v.Gt(incentiveMax) {
		return fmt.Errorf("%w: liquidation incentive %s outside (1, 1.5]", ErrInvalidParameter, fixed.Format(v))
	}
	return nil
}

func validateFraction(name string, v *uint256.Int) error {
	if fixed.Copy(v).Gt(fixed.One()) {
		return fmt.Errorf("%w: %s %s above 1", ErrInvalidParameter, name, fixed.Format(v))
	}
	return nil
}

// Initialize stores the first params record. It can run only once.
func (e *Engine) Initialize(admin common.Address, closeFactor, liquidationIncentive *uint256.Int) error {
	return e.run(false, func(tx *journal) error {
		existing, err := tx.loadParams()
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: already initialised", ErrInvalidParameter)
		}
		if admin == (common.Address{}) {
			return fmt.Errorf("%w: admin address required", ErrInvalidParameter)
		}
		if err := validateCloseFactor(closeFactor); err != nil {
			return err
		}
		if err := validateIncentive(liquidationIncentive); err != nil {
			return err
		}
		tx.putParams(&Params{
			Version:              e.risk.Version(),
			Admin:                AdminState{Current: admin},
			CloseFactor:          fixed.Copy(closeFactor),
			LiquidationIncentive: fixed.Copy(liquidationIncentive),
		})
		tx.emit(events.AdminChanged{Current: admin, Accepted: true})
		return nil
	})
}

// ListMarket registers a new pool. Listing is permanent.
func (e *Engine) ListMarket(caller common.Address, cfg MarketConfig) error {
	return e.execute(func(tx *journal) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		id := strings.TrimSpace(cfg.ID)
		if id == "" {
			return fmt.Errorf("%w: market id required", ErrInvalidParameter)
		}
		existing, err := tx.rawPool(id)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", ErrMarketAlreadyListed, id)
		}
		spec := cfg.RateModel.Clone()
		if spec.PeriodsPerYear == 0 {
			spec.PeriodsPerYear = ratemodel.DefaultPeriodsPerYear
		}
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
		if fixed.Copy(cfg.CollateralFactor).Gt(collateralFactorMax) {
			return fmt.Errorf("%w: collateral factor above 0.9", ErrInvalidParameter)
		}
		if err := validateFraction("reserve factor", cfg.ReserveFactor); err != nil {
			return err
		}
		seizeShare := DefaultProtocolSeizeShare
		if cfg.ProtocolSeizeShare != nil {
			seizeShare = cfg.ProtocolSeizeShare
		}
		if err := validateFraction("protocol seize share", seizeShare); err != nil {
			return err
		}
		initialRate := fixed.Copy(cfg.InitialExchangeRate)
		if initialRate.IsZero() {
			initialRate = fixed.One()
		}
		if !fixed.Copy(cfg.CollateralFactor).IsZero() {
			if _, err := tx.Price(id); err != nil {
				return err
			}
		}
		tx.putPool(&Pool{
			ID:                  id,
			Underlying:          cfg.Underlying,
			Cash:                fixed.Zero(),
			TotalBorrows:        fixed.Zero(),
			TotalReserves:       fixed.Zero(),
			TotalShares:         fixed.Zero(),
			BorrowIndex:         fixed.One(),
			LastAccrual:         e.height,
			InitialExchangeRate: initialRate,
			CollateralFactor:    fixed.Copy(cfg.CollateralFactor),
			ReserveFactor:       fixed.Copy(cfg.ReserveFactor),
			ProtocolSeizeShare:  fixed.Copy(seizeShare),
			BorrowCap:           fixed.Copy(cfg.BorrowCap),
			RateModel:           spec,
			Listed:              true,
		})
		if err := e.rewards.InitMarket(tx, id, e.height); err != nil {
			return err
		}
		params, err := tx.Params()
		if err != nil {
			return err
		}
		next := params.Clone()
		next.Markets = append(next.Markets, id)
		tx.putParams(next)
		tx.emit(events.MarketListed{Pool: id, Underlying: cfg.Underlying})
		return nil
	})
}

// updatePool runs fn against an accrued pool on behalf of the admin and
// records the change of one named parameter.
func (e *Engine) updatePool(caller common.Address, pool, name string, fn func(tx *journal, p *Pool) (old, next string, err error)) error {
	return e.execute(func(tx *journal) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		p, err := e.accrue(tx, pool)
		if err != nil {
			return err
		}
		old, next, err := fn(tx, p)
		if err != nil {
			return err
		}
		tx.putPool(p)
		tx.emit(events.ParameterChanged{Name: name, Pool: pool, OldValue: old, NewValue: next})
		return nil
	})
}

// SetCollateralFactor changes the share of pool collateral counted towards
// borrowing power. A non-zero factor requires a price.
func (e *Engine) SetCollateralFactor(caller common.Address, pool string, factor *uint256.Int) error {
	return e.updatePool(caller, pool, "collateral_factor", func(tx *journal, p *Pool) (string, string, error) {
		factor := fixed.Copy(factor)
		if factor.Gt(collateralFactorMax) {
			return "", "", fmt.Errorf("%w: collateral factor above 0.9", ErrInvalidParameter)
		}
		if !factor.IsZero() {
			if _, err := tx.Price(pool); err != nil {
				return "", "", err
			}
		}
		old := fixed.Format(p.CollateralFactor)
		p.CollateralFactor = factor
		return old, fixed.Format(factor), nil
	})
}

// SetReserveFactor changes the share of interest routed to reserves. Interest
// up to now is accrued under the previous factor.
func (e *Engine) SetReserveFactor(caller common.Address, pool string, factor *uint256.Int) error {
	return e.updatePool(caller, pool, "reserve_factor", func(_ *journal, p *Pool) (string, string, error) {
		if err := validateFraction("reserve factor", factor); err != nil {
			return "", "", err
		}
		old := fixed.Format(p.ReserveFactor)
		p.ReserveFactor = fixed.Copy(factor)
		return old, fixed.Format(factor), nil
	})
}

// SetInterestRateModel replaces the rate curve of pool after accruing under
// the previous one.
func (e *Engine) SetInterestRateModel(caller common.Address, pool string, spec ratemodel.Spec) error {
	return e.updatePool(caller, pool, "interest_rate_model", func(_ *journal, p *Pool) (string, string, error) {
		spec := spec.Clone()
		if spec.PeriodsPerYear == 0 {
			spec.PeriodsPerYear = ratemodel.DefaultPeriodsPerYear
		}
		if err := spec.Validate(); err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
		old := p.RateModel.Kind
		p.RateModel = spec
		return old, spec.Kind, nil
	})
}

// SetProtocolSeizeShare changes the fraction of seized collateral kept as
// reserves.
func (e *Engine) SetProtocolSeizeShare(caller common.Address, pool string, share *uint256.Int) error {
	return e.updatePool(caller, pool, "protocol_seize_share", func(_ *journal, p *Pool) (string, string, error) {
		if err := validateFraction("protocol seize share", share); err != nil {
			return "", "", err
		}
		old := fixed.Format(p.ProtocolSeizeShare)
		p.ProtocolSeizeShare = fixed.Copy(share)
		return old, fixed.Format(share), nil
	})
}

// DeprecateMarket freezes pool for new borrowing: zero collateral factor,
// borrowing paused and every unit of interest kept as reserves. Deprecation
// enables MigrateDeprecatedMarket.
func (e *Engine) DeprecateMarket(caller common.Address, pool string) error {
	return e.updatePool(caller, pool, "deprecated", func(_ *journal, p *Pool) (string, string, error) {
		old := fmt.Sprint(p.Deprecated())
		p.CollateralFactor = fixed.Zero()
		p.ReserveFactor = fixed.One()
		p.BorrowPaused = true
		return old, "true", nil
	})
}

// updateParams runs fn against a copy of the params on behalf of the admin.
func (e *Engine) updateParams(caller common.Address, name string, fn func(p *Params) (old, next string, err error)) error {
	return e.execute(func(tx *journal) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		params, err := tx.Params()
		if err != nil {
			return err
		}
		next := params.Clone()
		oldValue, newValue, err := fn(next)
		if err != nil {
			return err
		}
		tx.putParams(next)
		tx.emit(events.ParameterChanged{Name: name, OldValue: oldValue, NewValue: newValue})
		return nil
	})
}

func (e *Engine) SetCloseFactor(caller common.Address, factor *uint256.Int) error {
	return e.updateParams(caller, "close_factor", func(p *Params) (string, string, error) {
		if err := validateCloseFactor(factor); err != nil {
			return "", "", err
		}
		old := fixed.Format(p.CloseFactor)
		p.CloseFactor = fixed.Copy(factor)
		return old, fixed.Format(factor), nil
	})
}

func (e *Engine) SetLiquidationIncentive(caller common.Address, incentive *uint256.Int) error {
	return e.updateParams(caller, "liquidation_incentive", func(p *Params) (string, string, error) {
		if err := validateIncentive(incentive); err != nil {
			return "", "", err
		}
		old := fixed.Format(p.LiquidationIncentive)
		p.LiquidationIncentive = fixed.Copy(incentive)
		return old, fixed.Format(incentive), nil
	})
}

// SetMaxAssets limits how many pools one account may enter. Zero removes the
// limit.
func (e *Engine) SetMaxAssets(caller common.Address, limit uint64) error {
	return e.updateParams(caller, "max_assets", func(p *Params) (string, string, error) {
		old := fmt.Sprint(p.MaxAssets)
		p.MaxAssets = limit
		return old, fmt.Sprint(limit), nil
	})
}

func (e *Engine) SetPauseGuardian(caller, guardian common.Address) error {
	return e.updateParams(caller, "pause_guardian", func(p *Params) (string, string, error) {
		old := p.Guardian.Hex()
		p.Guardian = guardian
		return old, guardian.Hex(), nil
	})
}

func (e *Engine) SetBorrowCapGuardian(caller, guardian common.Address) error {
	return e.updateParams(caller, "borrow_cap_guardian", func(p *Params) (string, string, error) {
		old := p.BorrowCapGuardian.Hex()
		p.BorrowCapGuardian = guardian
		return old, guardian.Hex(), nil
	})
}

// UpdatePriceOracle swaps the oracle consulted by subsequent operations.
func (e *Engine) UpdatePriceOracle(caller common.Address, oracle PriceOracle) error {
	if oracle == nil {
		return fmt.Errorf("%w: oracle required", ErrInvalidParameter)
	}
	err := e.execute(func(tx *journal) error {
		if err := requireAdmin(tx, caller); err != nil {
			return err
		}
		tx.emit(events.ParameterChanged{Name: "price_oracle", OldValue: fmt.Sprintf("%T", e.oracle), NewValue: fmt.Sprintf("%T", oracle)})
		return nil
	})
	if err != nil {
		return err
	}
	e.oracle = oracle
	return nil
}

// SetBorrowCaps assigns per-pool borrow caps. The admin and the borrow cap
// guardian may call it. A zero cap removes the limit.
func (e *Engine) SetBorrowCaps(caller common.Address, pools []string, caps []*uint256.Int) error {
	return e.execute(func(tx *journal) error {
		params, err := tx.Params()
		if err != nil {
			return err
		}
		if caller != params.Admin.Current && (params.BorrowCapGuardian == (common.Address{}) || caller != params.BorrowCapGuardian) {
			return fmt.Errorf("%w: %s may not set borrow caps", ErrUnauthorized, caller.Hex())
		}
		if len(pools) == 0 || len(pools) != len(caps) {
			return fmt.Errorf("%w: %d pools for %d caps", ErrInvalidParameter, len(pools), len(caps))
		}
		for i, id := range pools {
			p, err := tx.Pool(id)
			if err != nil {
				return err
			}
			old := fixed.Copy(p.BorrowCap).Dec()
			p.BorrowCap = fixed.Copy(caps[i])
			tx.putPool(p)
			tx.emit(events.ParameterChanged{Name: "borrow_cap", Pool: id, OldValue: old, NewValue: p.BorrowCap.Dec()})
		}
		return nil
	})
}

// SetActionPaused toggles a pause flag. Mint and borrow are paused per pool;
// transfer and seize are paused globally when pool is empty. The guardian may
// only pause; unpausing needs the admin.
func (e *Engine) SetActionPaused(caller common.Address, pool string, action nativecommon.Action, paused bool) error {
	return e.execute(func(tx *journal) error {
		if !action.Valid() {
			return fmt.Errorf("%w: unknown action %q", ErrInvalidParameter, action)
		}
		params, err := tx.Params()
		if err != nil {
			return err
		}
		isAdmin := caller == params.Admin.Current
		isGuardian := params.Guardian != (common.Address{}) && caller == params.Guardian
		if !isAdmin && !(isGuardian && paused) {
			return fmt.Errorf("%w: %s may not set %s paused=%t", ErrUnauthorized, caller.Hex(), action, paused)
		}
		if pool == "" {
			next := params.Clone()
			switch action {
			case nativecommon.ActionTransfer:
				next.TransferPaused = paused
			case nativecommon.ActionSeize:
				next.SeizePaused = paused
			default:
				return fmt.Errorf("%w: %s can only be paused per market", ErrInvalidParameter, action)
			}
			tx.putParams(next)
		} else {
			p, err := tx.Pool(pool)
			if err != nil {
				return err
			}
			switch action {
			case nativecommon.ActionMint:
				p.MintPaused = paused
			case nativecommon.ActionBorrow:
				p.BorrowPaused = paused
			case nativecommon.ActionTransfer:
				p.TransferPaused = paused
			case nativecommon.ActionSeize:
				p.SeizePaused = paused
			}
			tx.putPool(p)
		}
		tx.emit(events.PauseChanged{Pool: pool, Action: string(action), Paused: paused, By: caller})
		return nil
	})
}

// ProposeAdmin starts a two-phase admin handoff. The candidate takes over only
// after calling AcceptAdmin. Proposing the zero address cancels a pending
// handoff.
func (e *Engine) ProposeAdmin(caller, candidate common.Address) error {
	return e.updateAdmin(func(params *Params) error {
		if caller != params.Admin.Current {
			return fmt.Errorf("%w: %s is not admin", ErrUnauthorized, caller.Hex())
		}
		params.Admin.Pending = candidate
		return nil
	}, false)
}

// AcceptAdmin completes a handoff. Only the pending candidate may call it.
func (e *Engine) AcceptAdmin(caller common.Address) error {
	return e.updateAdmin(func(params *Params) error {
		if params.Admin.Pending == (common.Address{}) || caller != params.Admin.Pending {
			return fmt.Errorf("%w: %s is not the pending admin", ErrUnauthorized, caller.Hex())
		}
		params.Admin = AdminState{Current: caller}
		return nil
	}, true)
}

func (e *Engine) updateAdmin(fn func(*Params) error, accepted bool) error {
	return e.execute(func(tx *journal) error {
		params, err := tx.Params()
		if err != nil {
			return err
		}
		next := params.Clone()
		if err := fn(next); err != nil {
			return err
		}
		tx.putParams(next)
		tx.emit(events.AdminChanged{Current: next.Admin.Current, Pending: next.Admin.Pending, Accepted: accepted})
		return nil
	})
}

// IsDeprecated reports whether pool has been wound down.
func (e *Engine) IsDeprecated(pool string) (bool, error) {
	p, err := e.Pool(pool)
	if err != nil {
		return false, err
	}
	return p.Deprecated(), nil
}
