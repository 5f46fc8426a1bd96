package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"moneymarket/native/lending"
	"moneymarket/native/lending/fixed"
)

func initCmd(opts *options) *cobra.Command {
	var genesisPath string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "apply a genesis file to an empty ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			genesis, err := lending.LoadGenesis(genesisPath)
			if err != nil {
				return err
			}
			return withLedger(opts, func(l *ledger) error {
				if _, err := l.engine.Params(); err == nil {
					return errors.New("ledger already initialised")
				} else if !errors.Is(err, lending.ErrNotInitialized) {
					return err
				}
				if err := genesis.ApplyGenesis(l.engine, l.oracle); err != nil {
					return fmt.Errorf("apply genesis: %w", err)
				}
				for _, m := range genesis.Markets {
					if price, ok := l.oracle.UnderlyingPrice(m.ID); ok {
						if err := l.bolt.SavePrice(m.ID, price); err != nil {
							return fmt.Errorf("persist %s price: %w", m.ID, err)
						}
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "initialised ledger with %d markets\n", len(genesis.Markets))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&genesisPath, "genesis", "genesis.toml", "genesis TOML file")
	return cmd
}

func poolCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "pool [id]",
		Short: "show one pool or every listed pool",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return withLedger(opts, func(l *ledger) error {
				ids := args
				if len(ids) == 0 {
					markets, err := l.engine.Markets()
					if err != nil {
						return err
					}
					ids = markets
				}
				return printPools(cmd.OutOrStdout(), l.engine, ids)
			})
		},
	}
}

func printPools(out io.Writer, engine *lending.Engine, ids []string) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POOL\tCASH\tBORROWS\tRESERVES\tSHARES\tEXCHANGE RATE\tBORROW APR\tSUPPLY APR\tPAUSED")
	for _, id := range ids {
		p, err := engine.PoolCurrent(id)
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		rate, err := engine.ExchangeRateCurrent(id)
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		borrowRate, supplyRate, err := engine.Rates(id)
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Cash.Dec(), p.TotalBorrows.Dec(), p.TotalReserves.Dec(), p.TotalShares.Dec(),
			fixed.Format(rate), annual(borrowRate, p.RateModel.PeriodsPerYear), annual(supplyRate, p.RateModel.PeriodsPerYear),
			pausedFlags(p))
	}
	return tw.Flush()
}

func annual(perPeriod *uint256.Int, periods uint64) string {
	v, err := fixed.Mul(perPeriod, uint256.NewInt(periods))
	if err != nil {
		return "overflow"
	}
	return fixed.ToDecimal(v).StringFixed(4)
}

func pausedFlags(p *lending.Pool) string {
	flags := ""
	for _, f := range []struct {
		on   bool
		name string
	}{{p.MintPaused, "mint"}, {p.BorrowPaused, "borrow"}, {p.TransferPaused, "transfer"}, {p.SeizePaused, "seize"}} {
		if !f.on {
			continue
		}
		if flags != "" {
			flags += ","
		}
		flags += f.name
	}
	if flags == "" {
		return "-"
	}
	return flags
}

func accountArg(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", raw)
	}
	return common.HexToAddress(raw), nil
}

func accountCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "account <address>",
		Short: "show the positions held by an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			account, err := accountArg(args[0])
			if err != nil {
				return err
			}
			return withLedger(opts, func(l *ledger) error {
				return printPositions(cmd.OutOrStdout(), l.engine, account)
			})
		},
	}
}

func printPositions(out io.Writer, engine *lending.Engine, account common.Address) error {
	markets, err := engine.Markets()
	if err != nil {
		return err
	}
	entered, err := engine.Membership(account)
	if err != nil {
		return err
	}
	in := make(map[string]bool, len(entered))
	for _, id := range entered {
		in[id] = true
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POOL\tENTERED\tSHARES\tUNDERLYING\tBORROWED")
	for _, id := range markets {
		position, err := engine.Position(account, id)
		if err != nil {
			return err
		}
		borrowed, err := engine.BorrowBalanceCurrent(account, id)
		if err != nil {
			return err
		}
		if !in[id] && position.Shares.IsZero() && borrowed.IsZero() {
			continue
		}
		rate, err := engine.ExchangeRateCurrent(id)
		if err != nil {
			return err
		}
		underlying, err := fixed.MulExp(position.Shares, rate)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", id, in[id], position.Shares.Dec(), underlying.Dec(), borrowed.Dec())
	}
	accrued, err := engine.RewardAccrued(account)
	if err != nil {
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "rewards accrued: %s\n", accrued.Dec())
	return nil
}

func liquidityCmd(opts *options) *cobra.Command {
	var (
		pool         string
		redeemShares string
		borrowAmount string
	)
	cmd := &cobra.Command{
		Use:   "liquidity <address>",
		Short: "show account liquidity, optionally after a hypothetical redeem or borrow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			account, err := accountArg(args[0])
			if err != nil {
				return err
			}
			redeem, err := optionalAmount(redeemShares)
			if err != nil {
				return fmt.Errorf("redeem-shares: %w", err)
			}
			borrow, err := optionalAmount(borrowAmount)
			if err != nil {
				return fmt.Errorf("borrow-amount: %w", err)
			}
			if pool == "" && (!redeem.IsZero() || !borrow.IsZero()) {
				return errors.New("--pool is required with a hypothetical change")
			}
			return withLedger(opts, func(l *ledger) error {
				var liq lending.Liquidity
				if pool == "" {
					liq, err = l.engine.AccountLiquidity(account)
				} else {
					liq, err = l.engine.HypotheticalAccountLiquidity(account, pool, redeem, borrow)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "liquidity: %s\nshortfall: %s\n", liq.Liquidity.Dec(), liq.Shortfall.Dec())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "pool for the hypothetical change")
	cmd.Flags().StringVar(&redeemShares, "redeem-shares", "", "shares redeemed in the hypothetical")
	cmd.Flags().StringVar(&borrowAmount, "borrow-amount", "", "amount borrowed in the hypothetical")
	return cmd
}

func optionalAmount(raw string) (*uint256.Int, error) {
	if raw == "" {
		return new(uint256.Int), nil
	}
	return fixed.ParseAmount(raw)
}

func accrueCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "accrue <pool>",
		Short: "accrue interest on a pool up to --height",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			return withLedger(opts, func(l *ledger) error {
				if err := l.engine.AccrueInterest(args[0]); err != nil {
					return err
				}
				p, err := l.engine.Pool(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s accrued to period %d: borrows %s reserves %s\n",
					p.ID, p.LastAccrual, p.TotalBorrows.Dec(), p.TotalReserves.Dec())
				return nil
			})
		},
	}
}
