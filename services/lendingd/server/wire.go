package server

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"moneymarket/native/lending"
	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/ratemodel"
)

// Amounts travel as base-10 integer strings; factors and rates as decimal
// strings ("0.75").

type amountRequest struct {
	Amount string `json:"amount"`
}

type sharesRequest struct {
	Shares string `json:"shares"`
}

type repayBehalfRequest struct {
	Borrower string `json:"borrower"`
	Amount   string `json:"amount"`
}

type transferRequest struct {
	To     string `json:"to"`
	Shares string `json:"shares"`
}

type liquidateRequest struct {
	Borrower       string `json:"borrower"`
	BorrowedPool   string `json:"borrowedPool"`
	CollateralPool string `json:"collateralPool"`
	RepayAmount    string `json:"repayAmount"`
}

type marketsRequest struct {
	Pools []string `json:"pools"`
}

type exitRequest struct {
	Pool string `json:"pool"`
}

type migrateRequest struct {
	Account string `json:"account,omitempty"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type claimRequest struct {
	Pools     []string `json:"pools,omitempty"`
	Borrowers *bool    `json:"borrowers,omitempty"`
	Suppliers *bool    `json:"suppliers,omitempty"`
}

type rateModelRequest struct {
	Kind           string `json:"kind"`
	BaseRate       string `json:"baseRate"`
	Slope1         string `json:"slope1"`
	Slope2         string `json:"slope2"`
	Kink           string `json:"kink"`
	PeriodsPerYear uint64 `json:"periodsPerYear,omitempty"`
}

func (r rateModelRequest) spec() (ratemodel.Spec, error) {
	return ratemodel.ParseSpec(r.Kind, r.BaseRate, r.Slope1, r.Slope2, r.Kink, r.PeriodsPerYear)
}

type listMarketRequest struct {
	ID                  string           `json:"id"`
	Underlying          string           `json:"underlying"`
	CollateralFactor    string           `json:"collateralFactor"`
	ReserveFactor       string           `json:"reserveFactor"`
	ProtocolSeizeShare  string           `json:"protocolSeizeShare,omitempty"`
	InitialExchangeRate string           `json:"initialExchangeRate,omitempty"`
	BorrowCap           string           `json:"borrowCap,omitempty"`
	RateModel           rateModelRequest `json:"rateModel"`
}

func (r listMarketRequest) config() (lending.MarketConfig, error) {
	cfg := lending.MarketConfig{ID: strings.TrimSpace(r.ID), Underlying: strings.TrimSpace(r.Underlying)}
	if cfg.Underlying == "" {
		cfg.Underlying = cfg.ID
	}
	var err error
	if cfg.CollateralFactor, err = parseFactor("collateralFactor", r.CollateralFactor); err != nil {
		return cfg, err
	}
	if cfg.ReserveFactor, err = parseFactor("reserveFactor", r.ReserveFactor); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(r.ProtocolSeizeShare) != "" {
		if cfg.ProtocolSeizeShare, err = parseFactor("protocolSeizeShare", r.ProtocolSeizeShare); err != nil {
			return cfg, err
		}
	}
	if cfg.InitialExchangeRate, err = parseFactor("initialExchangeRate", r.InitialExchangeRate); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(r.BorrowCap) != "" {
		if cfg.BorrowCap, err = parseAmount("borrowCap", r.BorrowCap); err != nil {
			return cfg, err
		}
	}
	if cfg.RateModel, err = r.RateModel.spec(); err != nil {
		return cfg, fmt.Errorf("rateModel: %w", err)
	}
	return cfg, nil
}

type factorRequest struct {
	Value string `json:"value"`
}

type speedsRequest struct {
	Supply string `json:"supply"`
	Borrow string `json:"borrow"`
}

type priceRequest struct {
	Price string `json:"price"`
}

type borrowCapsRequest struct {
	Pools []string `json:"pools"`
	Caps  []string `json:"caps"`
}

type pauseRequest struct {
	Pool   string `json:"pool,omitempty"`
	Action string `json:"action"`
	Paused bool   `json:"paused"`
}

type maxAssetsRequest struct {
	Limit uint64 `json:"limit"`
}

type addressRequest struct {
	Address string `json:"address"`
}

type contributorRequest struct {
	Account string `json:"account"`
	Speed   string `json:"speed"`
}

type grantRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

type emptyRequest struct{}

type statusResponse struct {
	Status string `json:"status"`
}

var okResponse = statusResponse{Status: "ok"}

type sharesResponse struct {
	Shares string `json:"shares"`
}

type amountResponse struct {
	Amount string `json:"amount"`
}

type liquidationResponse struct {
	SeizedShares string `json:"seizedShares"`
}

type mintedResponse struct {
	Minted string `json:"minted"`
}

type claimResponse struct {
	Claimed string `json:"claimed"`
}

type liquidityResponse struct {
	Liquidity string `json:"liquidity"`
	Shortfall string `json:"shortfall"`
}

type positionResponse struct {
	Pool              string `json:"pool"`
	Entered           bool   `json:"entered"`
	Shares            string `json:"shares"`
	UnderlyingBalance string `json:"underlyingBalance"`
	BorrowBalance     string `json:"borrowBalance"`
}

type positionsResponse struct {
	Account   string             `json:"account"`
	Positions []positionResponse `json:"positions"`
}

type rewardsResponse struct {
	Account  string `json:"account"`
	Accrued  string `json:"accrued"`
	Treasury string `json:"treasury"`
}

type rateModelResponse struct {
	Kind           string `json:"kind"`
	BaseRate       string `json:"baseRate"`
	Slope1         string `json:"slope1"`
	Slope2         string `json:"slope2"`
	Kink           string `json:"kink"`
	PeriodsPerYear uint64 `json:"periodsPerYear"`
}

type poolResponse struct {
	ID                  string            `json:"id"`
	Underlying          string            `json:"underlying"`
	Cash                string            `json:"cash"`
	TotalBorrows        string            `json:"totalBorrows"`
	TotalReserves       string            `json:"totalReserves"`
	TotalShares         string            `json:"totalShares"`
	BorrowIndex         string            `json:"borrowIndex"`
	ExchangeRate        string            `json:"exchangeRate"`
	Utilization         string            `json:"utilization"`
	BorrowRatePerPeriod string            `json:"borrowRatePerPeriod"`
	SupplyRatePerPeriod string            `json:"supplyRatePerPeriod"`
	BorrowRateAnnual    string            `json:"borrowRateAnnual"`
	SupplyRateAnnual    string            `json:"supplyRateAnnual"`
	CollateralFactor    string            `json:"collateralFactor"`
	ReserveFactor       string            `json:"reserveFactor"`
	ProtocolSeizeShare  string            `json:"protocolSeizeShare"`
	BorrowCap           string            `json:"borrowCap"`
	Price               string            `json:"price,omitempty"`
	LastAccrual         uint64            `json:"lastAccrual"`
	MintPaused          bool              `json:"mintPaused"`
	BorrowPaused        bool              `json:"borrowPaused"`
	TransferPaused      bool              `json:"transferPaused"`
	SeizePaused         bool              `json:"seizePaused"`
	Deprecated          bool              `json:"deprecated"`
	RateModel           rateModelResponse `json:"rateModel"`

	cashF, borrowsF, reservesF, utilizationF float64
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	v, err := fixed.ParseAmount(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func parseFactor(field, raw string) (*uint256.Int, error) {
	v, err := fixed.ParseExp(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s must be a hex address", field)
	}
	return common.HexToAddress(trimmed), nil
}

func dec(v *uint256.Int) string {
	return fixed.Copy(v).Dec()
}

func units(v *uint256.Int) float64 {
	return decimal.NewFromBigInt(fixed.Copy(v).ToBig(), 0).InexactFloat64()
}
