package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"moneymarket/core/state"
	"moneymarket/native/lending"
	"moneymarket/services/lendingd/store"
	"moneymarket/storage"
)

type options struct {
	dataDir string
	store   string
	height  uint64
}

func (o *options) storePath() string {
	if o.store != "" {
		return o.store
	}
	return filepath.Join(o.dataDir, "lendingd.db")
}

func rootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "lendingctl",
		Short:         "offline operator tool for the lendingd ledger",
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "./data", "lendingd data directory")
	cmd.PersistentFlags().StringVar(&opts.store, "store", "", "bbolt store holding posted prices (default <data-dir>/lendingd.db)")
	cmd.PersistentFlags().Uint64Var(&opts.height, "height", 0, "ledger period used for interest accrual")

	cmd.AddCommand(initCmd(opts))
	cmd.AddCommand(poolCmd(opts))
	cmd.AddCommand(accountCmd(opts))
	cmd.AddCommand(liquidityCmd(opts))
	cmd.AddCommand(accrueCmd(opts))
	cmd.AddCommand(simulateCmd())
	return cmd
}

// ledger bundles an engine opened over the on-disk data directory. The
// daemon must not be running: both stores hold exclusive file locks.
type ledger struct {
	engine *lending.Engine
	oracle *lending.SimplePriceOracle
	bolt   *store.Bolt
	db     *storage.LevelDB
}

func openLedger(opts *options) (*ledger, error) {
	if err := os.MkdirAll(opts.dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(opts.dataDir, "ledger"))
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	bolt, err := store.OpenBolt(opts.storePath(), nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	oracle := lending.NewSimplePriceOracle()
	if _, err := bolt.LoadPrices(oracle); err != nil {
		_ = bolt.Close()
		_ = db.Close()
		return nil, fmt.Errorf("load prices: %w", err)
	}
	engine := lending.NewEngine(state.NewLendingStore(db), oracle)
	engine.SetTreasury(bolt.Treasury())
	engine.SetBlockHeight(opts.height)
	return &ledger{engine: engine, oracle: oracle, bolt: bolt, db: db}, nil
}

func (l *ledger) Close() error {
	return errors.Join(l.bolt.Close(), l.db.Close())
}

// withLedger opens the ledger for the duration of fn.
func withLedger(opts *options, fn func(l *ledger) error) error {
	l, err := openLedger(opts)
	if err != nil {
		return err
	}
	defer l.Close()
	return fn(l)
}
