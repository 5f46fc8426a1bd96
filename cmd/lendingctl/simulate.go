package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"moneymarket/native/lending"
	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/ratemodel"
)

// simConfig drives a randomized run against an in-memory ledger.
type simConfig struct {
	Seed     int64
	Steps    int
	Accounts int
}

// simReport counts what a run did. Rejected operations are business rule
// failures and are expected; any fatal error aborts the run.
type simReport struct {
	Applied      map[string]int
	Rejected     map[string]int
	Liquidations int
	FinalHeight  uint64
}

func simulateCmd() *cobra.Command {
	cfg := simConfig{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "run random operations against an in-memory ledger and check pool invariants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			report, err := runSimulation(cfg)
			if err != nil {
				return err
			}
			report.print(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(&cfg.Steps, "steps", 1000, "operations to run")
	cmd.Flags().IntVar(&cfg.Accounts, "accounts", 5, "number of simulated accounts")
	return cmd
}

var simAdmin = common.HexToAddress("0x0000000000000000000000000000000000000a11")

func simAccount(i int) common.Address {
	return common.BigToAddress(uint256.NewInt(uint64(0x1000 + i)).ToBig())
}

func newSimEngine() (*lending.Engine, *lending.SimplePriceOracle, error) {
	oracle := lending.NewSimplePriceOracle()
	engine := lending.NewEngine(lending.NewMemoryStore(), oracle)
	closeFactor, _ := fixed.ParseExp("0.5")
	incentive, _ := fixed.ParseExp("1.08")
	if err := engine.Initialize(simAdmin, closeFactor, incentive); err != nil {
		return nil, nil, err
	}
	markets := []struct {
		id, cf, price string
	}{{"usd", "0.8", "1"}, {"eth", "0.7", "2000"}}
	for _, m := range markets {
		price, _ := fixed.ParseExp(m.price)
		oracle.SetPrice(m.id, price)
		cf, _ := fixed.ParseExp(m.cf)
		rf, _ := fixed.ParseExp("0.1")
		curve, err := ratemodel.ParseSpec(ratemodel.KindJump, "0.02", "0.2", "2", "0.8", 0)
		if err != nil {
			return nil, nil, err
		}
		if err := engine.ListMarket(simAdmin, lending.MarketConfig{
			ID:               m.id,
			Underlying:       m.id,
			CollateralFactor: cf,
			ReserveFactor:    rf,
			RateModel:        curve,
		}); err != nil {
			return nil, nil, fmt.Errorf("list %s: %w", m.id, err)
		}
	}
	return engine, oracle, nil
}

func runSimulation(cfg simConfig) (*simReport, error) {
	if cfg.Steps <= 0 || cfg.Accounts <= 0 {
		return nil, errors.New("steps and accounts must be positive")
	}
	engine, oracle, err := newSimEngine()
	if err != nil {
		return nil, err
	}
	pools := []string{"usd", "eth"}
	rng := rand.New(rand.NewSource(cfg.Seed))
	report := &simReport{Applied: map[string]int{}, Rejected: map[string]int{}}
	height := uint64(1)
	engine.SetBlockHeight(height)

	record := func(op string, err error) error {
		switch {
		case err == nil:
			report.Applied[op]++
		case lending.IsFatal(err):
			return fmt.Errorf("%s: %w", op, err)
		default:
			report.Rejected[op]++
		}
		return nil
	}

	for step := 0; step < cfg.Steps; step++ {
		account := simAccount(rng.Intn(cfg.Accounts))
		pool := pools[rng.Intn(len(pools))]
		amount := uint256.NewInt(uint64(rng.Intn(10_000) + 1))
		var opErr error
		var op string
		switch rng.Intn(9) {
		case 0, 1:
			op = "mint"
			_, opErr = engine.Mint(account, pool, amount)
		case 2:
			op = "enter"
			opErr = engine.EnterMarkets(account, []string{pool})
		case 3:
			op = "redeem"
			_, opErr = engine.RedeemUnderlying(account, pool, amount)
		case 4, 5:
			op = "borrow"
			opErr = engine.Borrow(account, pool, amount)
		case 6:
			op = "repay"
			_, opErr = engine.RepayBorrow(account, pool, amount)
		case 7:
			op = "advance"
			height += uint64(rng.Intn(50) + 1)
			engine.SetBlockHeight(height)
		case 8:
			op = "shock"
			// Move eth by up to 10% either way.
			price, _ := oracle.UnderlyingPrice("eth")
			move := uint256.NewInt(uint64(900 + rng.Intn(201)))
			shocked, err := fixed.Mul(price, move)
			if err == nil {
				shocked, err = fixed.Div(shocked, uint256.NewInt(1000))
			}
			if err == nil {
				oracle.SetPrice("eth", shocked)
			}
			opErr = err
		}
		if err := record(op, opErr); err != nil {
			return report, fmt.Errorf("step %d: %w", step, err)
		}
		liquidated, err := liquidateUnderwater(engine, cfg.Accounts, pools)
		report.Liquidations += liquidated
		if err != nil {
			return report, fmt.Errorf("step %d: %w", step, err)
		}
		for _, id := range pools {
			if err := engine.CheckPoolInvariant(id); err != nil {
				return report, fmt.Errorf("step %d: %w", step, err)
			}
		}
	}
	report.FinalHeight = height
	return report, nil
}

// liquidateUnderwater has the last simulated account liquidate every other
// account in shortfall, repaying half of its largest debt.
func liquidateUnderwater(engine *lending.Engine, accounts int, pools []string) (int, error) {
	liquidator := simAccount(accounts)
	count := 0
	for i := 0; i < accounts; i++ {
		borrower := simAccount(i)
		liq, err := engine.AccountLiquidity(borrower)
		if err != nil {
			if lending.IsFatal(err) {
				return count, err
			}
			continue
		}
		if liq.Shortfall.IsZero() {
			continue
		}
		for _, borrowed := range pools {
			debt, err := engine.BorrowBalanceCurrent(borrower, borrowed)
			if err != nil {
				return count, err
			}
			if debt.IsZero() {
				continue
			}
			repay := new(uint256.Int).Rsh(debt, 1)
			if repay.IsZero() {
				continue
			}
			for _, collateral := range pools {
				_, err := engine.LiquidateBorrow(liquidator, borrower, borrowed, collateral, repay)
				if err == nil {
					count++
					break
				}
				if lending.IsFatal(err) {
					return count, err
				}
			}
		}
	}
	return count, nil
}

func (r *simReport) print(out io.Writer, cfg simConfig) {
	fmt.Fprintf(out, "seed %d: %d steps over %d accounts, final period %d\n", cfg.Seed, cfg.Steps, cfg.Accounts, r.FinalHeight)
	for _, op := range []string{"mint", "enter", "redeem", "borrow", "repay", "advance", "shock"} {
		fmt.Fprintf(out, "  %-8s applied %d rejected %d\n", op, r.Applied[op], r.Rejected[op])
	}
	fmt.Fprintf(out, "  liquidations %d\n", r.Liquidations)
	fmt.Fprintln(out, "pool invariants held")
}
