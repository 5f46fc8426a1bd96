package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "moneymarket/native/common"
	"moneymarket/native/lending/fixed"
)

// RiskEngine authorises ledger actions against the cross-pool position of an
// account. Implementations are versioned; the engine refuses to run one whose
// Version differs from the stored params version.
type RiskEngine interface {
	Version() uint32
	MintAllowed(v View, pool string, minter common.Address, amount *uint256.Int) error
	RedeemAllowed(v View, pool string, redeemer common.Address, shares *uint256.Int) error
	BorrowAllowed(v View, pool string, borrower common.Address, amount *uint256.Int) error
	RepayAllowed(v View, pool string, payer, borrower common.Address, amount *uint256.Int) error
	LiquidateAllowed(v View, borrowedPool, collateralPool string, liquidator, borrower common.Address, repayAmount *uint256.Int) error
	SeizeAllowed(v View, collateralPool, borrowedPool string, liquidator, borrower common.Address, shares *uint256.Int) error
	TransferAllowed(v View, pool string, src, dst common.Address, shares *uint256.Int) error
	HypotheticalLiquidity(v View, account common.Address, pool string, redeemShares, borrowAmount *uint256.Int) (Liquidity, error)
	SeizeShares(v View, borrowedPool, collateralPool string, repayAmount *uint256.Int) (*uint256.Int, error)
}

// CurrentParamsVersion is the params layout understood by the default risk
// engine.
const CurrentParamsVersion uint32 = 2

// DefaultRiskEngine returns the risk engine compiled into this build.
func DefaultRiskEngine() RiskEngine { return riskEngineV2{} }

type riskEngineV2 struct{}

func (riskEngineV2) Version() uint32 { return CurrentParamsVersion }

func (riskEngineV2) MintAllowed(v View, pool string, _ common.Address, _ *uint256.Int) error {
	if _, err := v.Pool(pool); err != nil {
		return err
	}
	return nativecommon.Guard(v, pool, nativecommon.ActionMint)
}

func (r riskEngineV2) RedeemAllowed(v View, pool string, redeemer common.Address, shares *uint256.Int) error {
	if _, err := v.Pool(pool); err != nil {
		return err
	}
	membership, err := v.Membership(redeemer)
	if err != nil {
		return err
	}
	// Shares outside the collateral set never back a borrow.
	if !membership.Contains(pool) {
		return nil
	}
	liq, err := r.HypotheticalLiquidity(v, redeemer, pool, shares, fixed.Zero())
	if err != nil {
		return err
	}
	if !liq.Shortfall.IsZero() {
		return fmt.Errorf("%w: shortfall %s", ErrShortfall, liq.Shortfall.Dec())
	}
	return nil
}

func (r riskEngineV2) BorrowAllowed(v View, pool string, borrower common.Address, amount *uint256.Int) error {
	p, err := v.Pool(pool)
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(v, pool, nativecommon.ActionBorrow); err != nil {
		return err
	}
	if _, err := v.Price(pool); err != nil {
		return err
	}
	if borrowCap := fixed.Copy(p.BorrowCap); !borrowCap.IsZero() {
		next, err := fixed.Add(p.TotalBorrows, amount)
		if err != nil {
			return err
		}
		if next.Gt(borrowCap) {
			return fmt.Errorf("%w: %s > %s", ErrBorrowCapExceeded, next.Dec(), borrowCap.Dec())
		}
	}
	liq, err := r.HypotheticalLiquidity(v, borrower, pool, fixed.Zero(), amount)
	if err != nil {
		return err
	}
	if !liq.Shortfall.IsZero() {
		return fmt.Errorf("%w: shortfall %s", ErrShortfall, liq.Shortfall.Dec())
	}
	return nil
}

func (riskEngineV2) RepayAllowed(v View, pool string, _, _ common.Address, _ *uint256.Int) error {
	_, err := v.Pool(pool)
	return err
}

func (r riskEngineV2) LiquidateAllowed(v View, borrowedPool, collateralPool string, _, borrower common.Address, repayAmount *uint256.Int) error {
	borrowed, err := v.Pool(borrowedPool)
	if err != nil {
		return err
	}
	if _, err := v.Pool(collateralPool); err != nil {
		return err
	}
	liq, err := r.HypotheticalLiquidity(v, borrower, "", fixed.Zero(), fixed.Zero())
	if err != nil {
		return err
	}
	if liq.Shortfall.IsZero() {
		return ErrInsufficientShortfall
	}
	params, err := v.Params()
	if err != nil {
		return err
	}
	position, err := v.Position(borrower, borrowedPool)
	if err != nil {
		return err
	}
	balance, err := borrowBalanceStored(borrowed, position)
	if err != nil {
		return err
	}
	maxClose, err := fixed.MulExp(balance, params.CloseFactor)
	if err != nil {
		return err
	}
	if repayAmount.Gt(maxClose) {
		return fmt.Errorf("%w: %s > %s", ErrTooMuchRepay, repayAmount.Dec(), maxClose.Dec())
	}
	return nil
}

func (riskEngineV2) SeizeAllowed(v View, collateralPool, borrowedPool string, _, _ common.Address, _ *uint256.Int) error {
	if err := nativecommon.Guard(v, collateralPool, nativecommon.ActionSeize); err != nil {
		return err
	}
	if _, err := v.Pool(collateralPool); err != nil {
		return err
	}
	_, err := v.Pool(borrowedPool)
	return err
}

func (r riskEngineV2) TransferAllowed(v View, pool string, src, _ common.Address, shares *uint256.Int) error {
	if err := nativecommon.Guard(v, pool, nativecommon.ActionTransfer); err != nil {
		return err
	}
	return r.RedeemAllowed(v, pool, src, shares)
}

// HypotheticalLiquidity values every entered pool at its stored exchange rate
// and borrow index, then applies the redeem and borrow deltas to pool. A
// borrow in a pool outside the collateral set is still counted.
func (riskEngineV2) HypotheticalLiquidity(v View, account common.Address, pool string, redeemShares, borrowAmount *uint256.Int) (Liquidity, error) {
	membership, err := v.Membership(account)
	if err != nil {
		return Liquidity{}, err
	}
	pools := append([]string(nil), membership.Pools...)
	modifyEntered := membership.Contains(pool)
	if pool != "" && !modifyEntered && !fixed.Copy(borrowAmount).IsZero() {
		pools = append(pools, pool)
	}

	sumCollateral, sumBorrow := fixed.Zero(), fixed.Zero()
	for _, id := range pools {
		p, err := v.Pool(id)
		if err != nil {
			return Liquidity{}, err
		}
		position, err := v.Position(account, id)
		if err != nil {
			return Liquidity{}, err
		}
		price, err := v.Price(id)
		if err != nil {
			return Liquidity{}, err
		}
		rate, err := exchangeRateStored(p)
		if err != nil {
			return Liquidity{}, err
		}
		borrowBalance, err := borrowBalanceStored(p, position)
		if err != nil {
			return Liquidity{}, err
		}
		collateralFactor := fixed.Copy(p.CollateralFactor)
		if !membership.Contains(id) {
			collateralFactor = fixed.Zero()
		}
		tokensToDenom, err := fixed.MulExp(collateralFactor, rate)
		if err != nil {
			return Liquidity{}, err
		}
		if tokensToDenom, err = fixed.MulExp(tokensToDenom, price); err != nil {
			return Liquidity{}, err
		}
		if sumCollateral, err = fixed.MulExpAdd(position.Shares, tokensToDenom, sumCollateral); err != nil {
			return Liquidity{}, err
		}
		if sumBorrow, err = fixed.MulExpAdd(borrowBalance, price, sumBorrow); err != nil {
			return Liquidity{}, err
		}
		if id != pool {
			continue
		}
		if modifyEntered {
			if sumBorrow, err = fixed.MulExpAdd(fixed.Copy(redeemShares), tokensToDenom, sumBorrow); err != nil {
				return Liquidity{}, err
			}
		}
		if sumBorrow, err = fixed.MulExpAdd(fixed.Copy(borrowAmount), price, sumBorrow); err != nil {
			return Liquidity{}, err
		}
	}
	if sumCollateral.Gt(sumBorrow) {
		return Liquidity{Liquidity: new(uint256.Int).Sub(sumCollateral, sumBorrow), Shortfall: fixed.Zero()}, nil
	}
	return Liquidity{Liquidity: fixed.Zero(), Shortfall: new(uint256.Int).Sub(sumBorrow, sumCollateral)}, nil
}

// SeizeShares converts a repaid amount of the borrowed asset into collateral
// pool shares:
//
//	seize = repay * incentive * priceBorrowed / (priceCollateral * exchangeRate)
func (riskEngineV2) SeizeShares(v View, borrowedPool, collateralPool string, repayAmount *uint256.Int) (*uint256.Int, error) {
	params, err := v.Params()
	if err != nil {
		return nil, err
	}
	priceBorrowed, err := v.Price(borrowedPool)
	if err != nil {
		return nil, err
	}
	priceCollateral, err := v.Price(collateralPool)
	if err != nil {
		return nil, err
	}
	collateral, err := v.Pool(collateralPool)
	if err != nil {
		return nil, err
	}
	rate, err := exchangeRateStored(collateral)
	if err != nil {
		return nil, err
	}
	numerator, err := fixed.MulExp(params.LiquidationIncentive, priceBorrowed)
	if err != nil {
		return nil, err
	}
	denominator, err := fixed.MulExp(priceCollateral, rate)
	if err != nil {
		return nil, err
	}
	ratio, err := fixed.DivExp(numerator, denominator)
	if err != nil {
		return nil, err
	}
	return fixed.MulExp(ratio, repayAmount)
}

// exchangeRateStored is (cash + borrows - reserves) / shares, or the initial
// rate while no shares exist.
func exchangeRateStored(p *Pool) (*uint256.Int, error) {
	if fixed.Copy(p.TotalShares).IsZero() {
		rate := fixed.Copy(p.InitialExchangeRate)
		if rate.IsZero() {
			rate = fixed.One()
		}
		return rate, nil
	}
	underlying, err := fixed.Add(p.Cash, p.TotalBorrows)
	if err != nil {
		return nil, err
	}
	if underlying, err = fixed.Sub(underlying, p.TotalReserves); err != nil {
		return nil, err
	}
	return fixed.DivExp(underlying, p.TotalShares)
}

// borrowBalanceStored scales the snapshot principal to the pool borrow index.
func borrowBalanceStored(p *Pool, position *Position) (*uint256.Int, error) {
	principal := fixed.Copy(position.BorrowPrincipal)
	if principal.IsZero() {
		return principal, nil
	}
	scaled, err := fixed.Mul(principal, p.BorrowIndex)
	if err != nil {
		return nil, err
	}
	return fixed.Div(scaled, position.BorrowIndex)
}
