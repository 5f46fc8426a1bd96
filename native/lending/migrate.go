package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"moneymarket/core/events"
	"moneymarket/native/lending/fixed"
)

// MigrateParams upgrades stored version 1 params to the layout of the compiled
// risk engine. Version 1 predates the protocol seize share and borrow caps;
// every listed pool receives the defaults for both. The call is one-time.
func (e *Engine) MigrateParams(caller common.Address) error {
	return e.run(false, func(tx *journal) error {
		params, err := tx.Params()
		if err != nil {
			return err
		}
		if caller != params.Admin.Current {
			return fmt.Errorf("%w: %s is not admin", ErrUnauthorized, caller.Hex())
		}
		target := e.risk.Version()
		switch {
		case params.Version == target:
			return ErrAlreadyMigrated
		case params.Version != 1 || target != CurrentParamsVersion:
			return fmt.Errorf("%w: no migration from %d to %d", ErrParamsVersion, params.Version, target)
		}
		for _, id := range params.Markets {
			p, err := tx.Pool(id)
			if err != nil {
				return err
			}
			p.ProtocolSeizeShare = fixed.Copy(DefaultProtocolSeizeShare)
			p.BorrowCap = fixed.Zero()
			if fixed.Copy(p.InitialExchangeRate).IsZero() {
				p.InitialExchangeRate = fixed.One()
			}
			tx.putPool(p)
			if err := e.rewards.InitMarket(tx, id, e.height); err != nil {
				return err
			}
		}
		next := params.Clone()
		next.Version = target
		tx.putParams(next)
		tx.emit(events.ParameterChanged{Name: "params_version", OldValue: fmt.Sprint(params.Version), NewValue: fmt.Sprint(target)})
		return nil
	})
}
