package lending

import (
	"sync"

	"github.com/holiman/uint256"

	"moneymarket/native/lending/fixed"
)

// PriceOracle quotes the value of one unit of a pool's underlying as a 1e18
// mantissa in a common unit. ok is false when no quote is available.
type PriceOracle interface {
	UnderlyingPrice(pool string) (price *uint256.Int, ok bool)
}

// SimplePriceOracle is an in-memory oracle whose prices are set explicitly.
type SimplePriceOracle struct {
	mu     sync.RWMutex
	prices map[string]*uint256.Int
}

func NewSimplePriceOracle() *SimplePriceOracle {
	return &SimplePriceOracle{prices: make(map[string]*uint256.Int)}
}

// SetPrice installs a price. A nil or zero price removes the quote.
func (o *SimplePriceOracle) SetPrice(pool string, price *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if price == nil || price.IsZero() {
		delete(o.prices, pool)
		return
	}
	o.prices[pool] = fixed.Copy(price)
}

func (o *SimplePriceOracle) UnderlyingPrice(pool string) (*uint256.Int, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[pool]
	if !ok {
		return nil, false
	}
	return fixed.Copy(price), true
}
