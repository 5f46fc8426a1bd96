package lending

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/core/events"
	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/rewards"
)

var errNilStore = errors.New("lending engine: store not configured")

// maxBorrowRate is the per-period ceiling above which accrual refuses to run
// (0.0005% per period).
var maxBorrowRate = uint256.NewInt(5_000_000_000_000)

// Settlement moves underlying assets in and out of the pools. It is an
// external collaborator: the engine calls it only after every check and state
// change of an operation has completed, and discards the operation if it
// fails.
type Settlement interface {
	Collect(from common.Address, underlying string, amount *uint256.Int) error
	Pay(to common.Address, underlying string, amount *uint256.Int) error
}

// Engine runs the pool ledger and the risk engine over a Store. It is not safe
// for concurrent use; callers serialise operations.
type Engine struct {
	store      Store
	oracle     PriceOracle
	risk       RiskEngine
	rewards    rewards.Accumulator
	treasury   rewards.Treasury
	settlement Settlement
	emitter    events.Emitter
	height     uint64
}

// NewEngine constructs an engine over store priced by oracle.
func NewEngine(store Store, oracle PriceOracle) *Engine {
	return &Engine{
		store:   store,
		oracle:  oracle,
		risk:    DefaultRiskEngine(),
		emitter: events.NoopEmitter{},
	}
}

// SetBlockHeight records the period used as "now" by subsequent operations.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.height = height
}

// BlockHeight returns the current period.
func (e *Engine) BlockHeight() uint64 {
	if e == nil {
		return 0
	}
	return e.height
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetTreasury(t rewards.Treasury) {
	if e == nil {
		return
	}
	e.treasury = t
}

func (e *Engine) SetSettlement(s Settlement) {
	if e == nil {
		return
	}
	e.settlement = s
}

// SetRiskEngine swaps the risk engine implementation. The stored params must
// carry the matching version for operations to run.
func (e *Engine) SetRiskEngine(r RiskEngine) {
	if e == nil || r == nil {
		return
	}
	e.risk = r
}

func (e *Engine) begin() *journal {
	return newJournal(e.store, e.oracle)
}

// execute runs fn inside a journal and commits the write set only when fn,
// then every queued interaction, succeed. Events are emitted after commit.
func (e *Engine) execute(fn func(tx *journal) error) error {
	return e.run(true, fn)
}

func (e *Engine) run(checkVersion bool, fn func(tx *journal) error) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	tx := e.begin()
	if checkVersion {
		params, err := tx.Params()
		if err != nil {
			return err
		}
		if params.Version != e.risk.Version() {
			return fmt.Errorf("%w: stored %d, engine %d", ErrParamsVersion, params.Version, e.risk.Version())
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	for _, interaction := range tx.interactions {
		if err := interaction(); err != nil {
			return err
		}
	}
	if err := e.store.Commit(tx.changes()); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	for _, ev := range tx.events {
		e.emitter.Emit(ev)
	}
	return nil
}

// view runs fn against a scratch journal that is never committed.
func (e *Engine) view(fn func(tx *journal) error) error {
	if e == nil || e.store == nil {
		return errNilStore
	}
	return fn(e.begin())
}

func requirePositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

func (e *Engine) collect(tx *journal, from common.Address, underlying string, amount *uint256.Int) {
	if e.settlement == nil || amount.IsZero() {
		return
	}
	amount = fixed.Copy(amount)
	tx.interact(func() error { return e.settlement.Collect(from, underlying, amount) })
}

func (e *Engine) pay(tx *journal, to common.Address, underlying string, amount *uint256.Int) {
	if e.settlement == nil || amount.IsZero() {
		return
	}
	amount = fixed.Copy(amount)
	tx.interact(func() error { return e.settlement.Pay(to, underlying, amount) })
}

// accrue compounds interest on pool up to the current period. It is a no-op
// when the pool has already accrued at this period.
func (e *Engine) accrue(tx *journal, id string) (*Pool, error) {
	p, err := tx.Pool(id)
	if err != nil {
		return nil, err
	}
	if p.LastAccrual == e.height {
		return p, nil
	}
	if e.height < p.LastAccrual {
		return nil, fmt.Errorf("%w: accrual period regressed from %d to %d", ErrMathUnderflow, p.LastAccrual, e.height)
	}
	curve, err := p.RateModel.Curve()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	rate, err := curve.BorrowRate(p.Cash, p.TotalBorrows, p.TotalReserves)
	if err != nil {
		return nil, err
	}
	if rate.Gt(maxBorrowRate) {
		return nil, fmt.Errorf("%w: %s", ErrBorrowRateTooHigh, rate.Dec())
	}
	factor, err := fixed.Mul(rate, uint256.NewInt(e.height-p.LastAccrual))
	if err != nil {
		return nil, err
	}
	interest, err := fixed.MulExp(factor, p.TotalBorrows)
	if err != nil {
		return nil, err
	}
	totalBorrows, err := fixed.Add(interest, p.TotalBorrows)
	if err != nil {
		return nil, err
	}
	totalReserves, err := fixed.MulExpAdd(interest, p.ReserveFactor, p.TotalReserves)
	if err != nil {
		return nil, err
	}
	borrowIndex, err := fixed.MulExpAdd(factor, p.BorrowIndex, p.BorrowIndex)
	if err != nil {
		return nil, err
	}

	p.TotalBorrows = totalBorrows
	p.TotalReserves = totalReserves
	p.BorrowIndex = borrowIndex
	p.LastAccrual = e.height
	tx.putPool(p)
	tx.emit(events.InterestAccrued{
		Pool:          p.ID,
		CashPrior:     fixed.Copy(p.Cash),
		Interest:      interest,
		BorrowIndex:   fixed.Copy(borrowIndex),
		TotalBorrows:  fixed.Copy(totalBorrows),
		TotalReserves: fixed.Copy(totalReserves),
		Height:        e.height,
	})
	return p, nil
}

// accrueEntered accrues every pool in the collateral set of account. Callers
// run it before any liquidity check so that debt in other pools is valued at
// the current borrow index.
func (e *Engine) accrueEntered(tx *journal, account common.Address) error {
	m, err := tx.Membership(account)
	if err != nil {
		return err
	}
	for _, id := range m.Pools {
		if _, err := e.accrue(tx, id); err != nil {
			return err
		}
	}
	return nil
}

// AccrueInterest compounds interest on pool up to the current period.
func (e *Engine) AccrueInterest(pool string) error {
	return e.execute(func(tx *journal) error {
		_, err := e.accrue(tx, pool)
		return err
	})
}

// Params returns the stored engine parameters.
func (e *Engine) Params() (*Params, error) {
	var out *Params
	err := e.view(func(tx *journal) error {
		params, err := tx.Params()
		if err != nil {
			return err
		}
		out = params.Clone()
		return nil
	})
	return out, err
}

// Markets lists every listed pool id in listing order.
func (e *Engine) Markets() ([]string, error) {
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	return params.Markets, nil
}

// Pool returns the stored pool record without accruing.
func (e *Engine) Pool(id string) (*Pool, error) {
	var out *Pool
	err := e.view(func(tx *journal) error {
		p, err := tx.Pool(id)
		if err != nil {
			return err
		}
		out = p.Clone()
		return nil
	})
	return out, err
}

// PoolCurrent returns the pool as it would look after accruing to the current
// period. Nothing is written.
func (e *Engine) PoolCurrent(id string) (*Pool, error) {
	var out *Pool
	err := e.view(func(tx *journal) error {
		p, err := e.accrue(tx, id)
		if err != nil {
			return err
		}
		out = p.Clone()
		return nil
	})
	return out, err
}

// ExchangeRateStored returns the exchange rate as of the last accrual.
func (e *Engine) ExchangeRateStored(pool string) (*uint256.Int, error) {
	p, err := e.Pool(pool)
	if err != nil {
		return nil, err
	}
	return exchangeRateStored(p)
}

// ExchangeRateCurrent accrues interest and returns the resulting exchange
// rate.
func (e *Engine) ExchangeRateCurrent(pool string) (*uint256.Int, error) {
	var rate *uint256.Int
	err := e.execute(func(tx *journal) error {
		p, err := e.accrue(tx, pool)
		if err != nil {
			return err
		}
		rate, err = exchangeRateStored(p)
		return err
	})
	return rate, err
}

// Position returns the Account-Pool record of account in pool.
func (e *Engine) Position(account common.Address, pool string) (*Position, error) {
	var out *Position
	err := e.view(func(tx *journal) error {
		if _, err := tx.Pool(pool); err != nil {
			return err
		}
		position, err := tx.Position(account, pool)
		if err != nil {
			return err
		}
		out = position.Clone()
		return nil
	})
	return out, err
}

// BorrowBalanceStored scales the account borrow snapshot to the stored pool
// borrow index.
func (e *Engine) BorrowBalanceStored(account common.Address, pool string) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(func(tx *journal) error {
		p, err := tx.Pool(pool)
		if err != nil {
			return err
		}
		position, err := tx.Position(account, pool)
		if err != nil {
			return err
		}
		out, err = borrowBalanceStored(p, position)
		return err
	})
	return out, err
}

// BorrowBalanceCurrent accrues interest and returns the account borrow
// balance.
func (e *Engine) BorrowBalanceCurrent(account common.Address, pool string) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.execute(func(tx *journal) error {
		p, err := e.accrue(tx, pool)
		if err != nil {
			return err
		}
		position, err := tx.Position(account, pool)
		if err != nil {
			return err
		}
		out, err = borrowBalanceStored(p, position)
		return err
	})
	return out, err
}

// Membership returns the pools account has entered.
func (e *Engine) Membership(account common.Address) ([]string, error) {
	var out []string
	err := e.view(func(tx *journal) error {
		m, err := tx.Membership(account)
		if err != nil {
			return err
		}
		out = append(out, m.Pools...)
		return nil
	})
	return out, err
}

// AccountLiquidity evaluates the account against every entered pool accrued to
// the current period.
func (e *Engine) AccountLiquidity(account common.Address) (Liquidity, error) {
	return e.HypotheticalAccountLiquidity(account, "", fixed.Zero(), fixed.Zero())
}

// HypotheticalAccountLiquidity evaluates the account as if it redeemed
// redeemShares and borrowed borrowAmount in pool. Nothing is written.
func (e *Engine) HypotheticalAccountLiquidity(account common.Address, pool string, redeemShares, borrowAmount *uint256.Int) (Liquidity, error) {
	var out Liquidity
	err := e.view(func(tx *journal) error {
		m, err := tx.Membership(account)
		if err != nil {
			return err
		}
		for _, id := range m.Pools {
			if _, err := e.accrue(tx, id); err != nil {
				return err
			}
		}
		if pool != "" && !m.Contains(pool) {
			if _, err := e.accrue(tx, pool); err != nil {
				return err
			}
		}
		out, err = e.risk.HypotheticalLiquidity(tx, account, pool, redeemShares, borrowAmount)
		return err
	})
	return out, err
}

// SeizeShares previews the collateral shares a liquidation repaying
// repayAmount of borrowedPool would seize.
func (e *Engine) SeizeShares(borrowedPool, collateralPool string, repayAmount *uint256.Int) (*uint256.Int, error) {
	var out *uint256.Int
	err := e.view(func(tx *journal) error {
		var err error
		out, err = e.risk.SeizeShares(tx, borrowedPool, collateralPool, repayAmount)
		return err
	})
	return out, err
}

// Rates returns the per-period borrow and supply rates of pool at its stored
// state.
func (e *Engine) Rates(pool string) (borrowRate, supplyRate *uint256.Int, err error) {
	p, err := e.Pool(pool)
	if err != nil {
		return nil, nil, err
	}
	curve, err := p.RateModel.Curve()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	if borrowRate, err = curve.BorrowRate(p.Cash, p.TotalBorrows, p.TotalReserves); err != nil {
		return nil, nil, err
	}
	if supplyRate, err = curve.SupplyRate(p.Cash, p.TotalBorrows, p.TotalReserves, p.ReserveFactor); err != nil {
		return nil, nil, err
	}
	return borrowRate, supplyRate, nil
}
