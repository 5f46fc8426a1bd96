package lending

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/ratemodel"
)

// GenesisConfig describes the initial engine state. Factors and rates are
// decimal strings ("0.75"); amounts are integer strings in base units.
type GenesisConfig struct {
	Admin                string          `toml:"Admin"`
	Guardian             string          `toml:"Guardian"`
	BorrowCapGuardian    string          `toml:"BorrowCapGuardian"`
	CloseFactor          string          `toml:"CloseFactor"`
	LiquidationIncentive string          `toml:"LiquidationIncentive"`
	MaxAssets            uint64          `toml:"MaxAssets"`
	Markets              []MarketGenesis `toml:"market"`
}

// MarketGenesis lists one pool at genesis.
type MarketGenesis struct {
	ID                  string           `toml:"ID"`
	Underlying          string           `toml:"Underlying"`
	Price               string           `toml:"Price"`
	CollateralFactor    string           `toml:"CollateralFactor"`
	ReserveFactor       string           `toml:"ReserveFactor"`
	ProtocolSeizeShare  string           `toml:"ProtocolSeizeShare"`
	InitialExchangeRate string           `toml:"InitialExchangeRate"`
	BorrowCap           string           `toml:"BorrowCap"`
	SupplySpeed         string           `toml:"SupplySpeed"`
	BorrowSpeed         string           `toml:"BorrowSpeed"`
	RateModel           RateModelGenesis `toml:"rate_model"`
}

// RateModelGenesis carries annual curve coefficients.
type RateModelGenesis struct {
	Kind           string `toml:"Kind"`
	BaseRate       string `toml:"BaseRate"`
	Slope1         string `toml:"Slope1"`
	Slope2         string `toml:"Slope2"`
	Kink           string `toml:"Kink"`
	PeriodsPerYear uint64 `toml:"PeriodsPerYear"`
}

// LoadGenesis decodes a TOML genesis file. Unknown keys are rejected.
func LoadGenesis(path string) (*GenesisConfig, error) {
	cfg := &GenesisConfig{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode genesis %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("genesis %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnsureDefaults fills unset fields.
func (c *GenesisConfig) EnsureDefaults() {
	if strings.TrimSpace(c.CloseFactor) == "" {
		c.CloseFactor = "0.5"
	}
	if strings.TrimSpace(c.LiquidationIncentive) == "" {
		c.LiquidationIncentive = "1.08"
	}
	for i := range c.Markets {
		m := &c.Markets[i]
		if strings.TrimSpace(m.Underlying) == "" {
			m.Underlying = m.ID
		}
		if strings.TrimSpace(m.RateModel.Kind) == "" {
			m.RateModel.Kind = ratemodel.KindJump
		}
		if m.RateModel.PeriodsPerYear == 0 {
			m.RateModel.PeriodsPerYear = ratemodel.DefaultPeriodsPerYear
		}
	}
}

// Validate checks the addresses and parses every number once.
func (c *GenesisConfig) Validate() error {
	if !common.IsHexAddress(c.Admin) {
		return fmt.Errorf("%w: admin %q is not a hex address", ErrInvalidParameter, c.Admin)
	}
	for name, addr := range map[string]string{"guardian": c.Guardian, "borrow cap guardian": c.BorrowCapGuardian} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %s %q is not a hex address", ErrInvalidParameter, name, addr)
		}
	}
	closeFactor, err := fixed.ParseExp(c.CloseFactor)
	if err != nil {
		return fmt.Errorf("close factor: %w", err)
	}
	if err := validateCloseFactor(closeFactor); err != nil {
		return err
	}
	incentive, err := fixed.ParseExp(c.LiquidationIncentive)
	if err != nil {
		return fmt.Errorf("liquidation incentive: %w", err)
	}
	if err := validateIncentive(incentive); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Markets))
	for _, m := range c.Markets {
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: %s", ErrMarketAlreadyListed, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	if _, err := c.MarketConfigs(); err != nil {
		return err
	}
	return nil
}

func parseOptionalExp(field, raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, err := fixed.ParseExp(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func parseOptionalAmount(field, raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return fixed.Zero(), nil
	}
	v, err := fixed.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

// MarketConfigs converts the genesis markets into listing parameters.
func (c *GenesisConfig) MarketConfigs() ([]MarketConfig, error) {
	out := make([]MarketConfig, 0, len(c.Markets))
	for _, m := range c.Markets {
		if strings.TrimSpace(m.ID) == "" {
			return nil, fmt.Errorf("%w: market id required", ErrInvalidParameter)
		}
		cfg := MarketConfig{ID: m.ID, Underlying: m.Underlying}
		var err error
		if cfg.CollateralFactor, err = parseOptionalExp(m.ID+" collateral factor", m.CollateralFactor); err != nil {
			return nil, err
		}
		if cfg.ReserveFactor, err = parseOptionalExp(m.ID+" reserve factor", m.ReserveFactor); err != nil {
			return nil, err
		}
		if cfg.ProtocolSeizeShare, err = parseOptionalExp(m.ID+" protocol seize share", m.ProtocolSeizeShare); err != nil {
			return nil, err
		}
		if cfg.InitialExchangeRate, err = parseOptionalExp(m.ID+" initial exchange rate", m.InitialExchangeRate); err != nil {
			return nil, err
		}
		if cfg.BorrowCap, err = parseOptionalAmount(m.ID+" borrow cap", m.BorrowCap); err != nil {
			return nil, err
		}
		rm := m.RateModel
		if cfg.RateModel, err = ratemodel.ParseSpec(rm.Kind, rm.BaseRate, rm.Slope1, rm.Slope2, rm.Kink, rm.PeriodsPerYear); err != nil {
			return nil, fmt.Errorf("%s rate model: %w", m.ID, err)
		}
		if fixed.Copy(cfg.CollateralFactor).Gt(collateralFactorMax) {
			return nil, fmt.Errorf("%w: %s collateral factor above 0.9", ErrInvalidParameter, m.ID)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// ApplyGenesis initialises engine from the config. Prices are loaded into
// oracle when it is non-nil, ahead of listing.
func (c *GenesisConfig) ApplyGenesis(engine *Engine, oracle *SimplePriceOracle) error {
	if err := c.Validate(); err != nil {
		return err
	}
	admin := common.HexToAddress(c.Admin)
	closeFactor, _ := fixed.ParseExp(c.CloseFactor)
	incentive, _ := fixed.ParseExp(c.LiquidationIncentive)
	if oracle != nil {
		for _, m := range c.Markets {
			if strings.TrimSpace(m.Price) == "" {
				continue
			}
			price, err := fixed.ParseExp(m.Price)
			if err != nil {
				return fmt.Errorf("%s price: %w", m.ID, err)
			}
			oracle.SetPrice(m.ID, price)
		}
	}
	if err := engine.Initialize(admin, closeFactor, incentive); err != nil {
		return err
	}
	if c.Guardian != "" {
		if err := engine.SetPauseGuardian(admin, common.HexToAddress(c.Guardian)); err != nil {
			return err
		}
	}
	if c.BorrowCapGuardian != "" {
		if err := engine.SetBorrowCapGuardian(admin, common.HexToAddress(c.BorrowCapGuardian)); err != nil {
			return err
		}
	}
	if c.MaxAssets > 0 {
		if err := engine.SetMaxAssets(admin, c.MaxAssets); err != nil {
			return err
		}
	}
	markets, err := c.MarketConfigs()
	if err != nil {
		return err
	}
	for i, cfg := range markets {
		if err := engine.ListMarket(admin, cfg); err != nil {
			return fmt.Errorf("list %s: %w", cfg.ID, err)
		}
		supply, err := parseOptionalAmount(cfg.ID+" supply speed", c.Markets[i].SupplySpeed)
		if err != nil {
			return err
		}
		borrow, err := parseOptionalAmount(cfg.ID+" borrow speed", c.Markets[i].BorrowSpeed)
		if err != nil {
			return err
		}
		if supply.IsZero() && borrow.IsZero() {
			continue
		}
		if err := engine.SetRewardSpeeds(admin, cfg.ID, supply, borrow); err != nil {
			return err
		}
	}
	return nil
}
