package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"moneymarket/native/lending/fixed"
)

// invariantTolerance is the relative slack, 1e-8, allowed between pool assets
// and outstanding shares valued at the exchange rate.
var invariantTolerance = uint256.NewInt(100_000_000)

// CheckPoolInvariant verifies that cash + borrows - reserves matches
// totalShares * exchangeRate for pool accrued to the current period. Nothing
// is written.
func (e *Engine) CheckPoolInvariant(pool string) error {
	p, err := e.PoolCurrent(pool)
	if err != nil {
		return err
	}
	return checkPool(p)
}

func checkPool(p *Pool) error {
	if fixed.Copy(p.BorrowIndex).Lt(fixed.One()) {
		return fmt.Errorf("%w: %s borrow index %s below 1", ErrInvariantViolated, p.ID, fixed.Format(p.BorrowIndex))
	}
	underlying, err := fixed.Add(p.Cash, p.TotalBorrows)
	if err != nil {
		return err
	}
	if underlying.Lt(fixed.Copy(p.TotalReserves)) {
		return fmt.Errorf("%w: %s reserves %s exceed assets %s", ErrInvariantViolated, p.ID, p.TotalReserves.Dec(), underlying.Dec())
	}
	underlying.Sub(underlying, p.TotalReserves)
	if fixed.Copy(p.TotalShares).IsZero() {
		return nil
	}
	rate, err := exchangeRateStored(p)
	if err != nil {
		return err
	}
	valued, err := fixed.MulExp(p.TotalShares, rate)
	if err != nil {
		return err
	}
	diff := new(uint256.Int)
	if valued.Gt(underlying) {
		diff.Sub(valued, underlying)
	} else {
		diff.Sub(underlying, valued)
	}
	// Truncation loses at most one unit per 1e18 shares plus one.
	slack := new(uint256.Int).Div(underlying, invariantTolerance)
	slack.Add(slack, new(uint256.Int).Div(p.TotalShares, fixed.One()))
	slack.AddUint64(slack, 1)
	if diff.Gt(slack) {
		return fmt.Errorf("%w: %s assets %s, shares valued at %s", ErrInvariantViolated, p.ID, underlying.Dec(), valued.Dec())
	}
	return nil
}
