package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"moneymarket/native/lending"
	"moneymarket/native/lending/fixed"
	"moneymarket/native/lending/ratemodel"
	"moneymarket/services/lendingd/middleware"
)

// poolView renders pool as accrued to the current period. Callers hold mu.
func (s *Server) poolView(id string) (poolResponse, error) {
	p, err := s.engine.PoolCurrent(id)
	if err != nil {
		return poolResponse{}, err
	}
	exchangeRate, err := s.engine.ExchangeRateCurrent(id)
	if err != nil {
		return poolResponse{}, err
	}
	curve, err := p.RateModel.Curve()
	if err != nil {
		return poolResponse{}, err
	}
	utilization, err := ratemodel.Utilization(p.Cash, p.TotalBorrows, p.TotalReserves)
	if err != nil {
		return poolResponse{}, err
	}
	borrowRate, err := curve.BorrowRate(p.Cash, p.TotalBorrows, p.TotalReserves)
	if err != nil {
		return poolResponse{}, err
	}
	supplyRate, err := curve.SupplyRate(p.Cash, p.TotalBorrows, p.TotalReserves, p.ReserveFactor)
	if err != nil {
		return poolResponse{}, err
	}
	annualBorrow, err := curve.AnnualBorrowRate(p.Cash, p.TotalBorrows, p.TotalReserves)
	if err != nil {
		return poolResponse{}, err
	}
	annualSupply, err := fixed.Mul(supplyRate, uint256.NewInt(p.RateModel.PeriodsPerYear))
	if err != nil {
		return poolResponse{}, err
	}
	view := poolResponse{
		ID:                  p.ID,
		Underlying:          p.Underlying,
		Cash:                dec(p.Cash),
		TotalBorrows:        dec(p.TotalBorrows),
		TotalReserves:       dec(p.TotalReserves),
		TotalShares:         dec(p.TotalShares),
		BorrowIndex:         fixed.Format(p.BorrowIndex),
		ExchangeRate:        fixed.Format(exchangeRate),
		Utilization:         fixed.Format(utilization),
		BorrowRatePerPeriod: fixed.Format(borrowRate),
		SupplyRatePerPeriod: fixed.Format(supplyRate),
		BorrowRateAnnual:    fixed.Format(annualBorrow),
		SupplyRateAnnual:    fixed.Format(annualSupply),
		CollateralFactor:    fixed.Format(p.CollateralFactor),
		ReserveFactor:       fixed.Format(p.ReserveFactor),
		ProtocolSeizeShare:  fixed.Format(p.ProtocolSeizeShare),
		BorrowCap:           dec(p.BorrowCap),
		LastAccrual:         p.LastAccrual,
		MintPaused:          p.MintPaused,
		BorrowPaused:        p.BorrowPaused,
		TransferPaused:      p.TransferPaused,
		SeizePaused:         p.SeizePaused,
		Deprecated:          p.Deprecated(),
		RateModel: rateModelResponse{
			Kind:           p.RateModel.Kind,
			BaseRate:       fixed.Format(p.RateModel.BaseRate),
			Slope1:         fixed.Format(p.RateModel.Slope1),
			Slope2:         fixed.Format(p.RateModel.Slope2),
			Kink:           fixed.Format(p.RateModel.Kink),
			PeriodsPerYear: p.RateModel.PeriodsPerYear,
		},
		cashF:        units(p.Cash),
		borrowsF:     units(p.TotalBorrows),
		reservesF:    units(p.TotalReserves),
		utilizationF: fixed.ToDecimal(utilization).InexactFloat64(),
	}
	if price, ok := s.oracle.UnderlyingPrice(id); ok {
		view.Price = fixed.Format(price)
	}
	return view, nil
}

func (s *Server) handleListPools(w http.ResponseWriter, _ *http.Request) {
	s.read(w, func() (any, error) {
		markets, err := s.engine.Markets()
		if err != nil {
			return nil, err
		}
		out := make([]poolResponse, 0, len(markets))
		for _, id := range markets {
			view, err := s.poolView(id)
			if err != nil {
				return nil, err
			}
			out = append(out, view)
		}
		return out, nil
	})
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	pool := poolParam(r)
	s.read(w, func() (any, error) {
		return s.poolView(pool)
	})
}

func accountParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return common.Address{}, false
	}
	return account, true
}

// handleLiquidity reports current liquidity, or a hypothetical one when the
// pool query parameter is present together with redeemShares and/or
// borrowAmount.
func (s *Server) handleLiquidity(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	pool := strings.TrimSpace(query.Get("pool"))
	redeem, borrow := fixed.Zero(), fixed.Zero()
	var err error
	if raw := query.Get("redeemShares"); raw != "" {
		if redeem, err = parseAmount("redeemShares", raw); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	if raw := query.Get("borrowAmount"); raw != "" {
		if borrow, err = parseAmount("borrowAmount", raw); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	s.read(w, func() (any, error) {
		var liq lending.Liquidity
		var err error
		if pool == "" {
			liq, err = s.engine.AccountLiquidity(account)
		} else {
			liq, err = s.engine.HypotheticalAccountLiquidity(account, pool, redeem, borrow)
		}
		if err != nil {
			return nil, err
		}
		return liquidityResponse{Liquidity: dec(liq.Liquidity), Shortfall: dec(liq.Shortfall)}, nil
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	s.read(w, func() (any, error) {
		markets, err := s.engine.Markets()
		if err != nil {
			return nil, err
		}
		membership, err := s.engine.Membership(account)
		if err != nil {
			return nil, err
		}
		entered := make(map[string]bool, len(membership))
		for _, pool := range membership {
			entered[pool] = true
		}
		out := positionsResponse{Account: account.Hex(), Positions: []positionResponse{}}
		for _, pool := range markets {
			position, err := s.engine.Position(account, pool)
			if err != nil {
				return nil, err
			}
			borrowed, err := s.engine.BorrowBalanceCurrent(account, pool)
			if err != nil {
				return nil, err
			}
			if !entered[pool] && fixed.Copy(position.Shares).IsZero() && borrowed.IsZero() {
				continue
			}
			rate, err := s.engine.ExchangeRateCurrent(pool)
			if err != nil {
				return nil, err
			}
			underlying, err := fixed.MulExp(fixed.Copy(position.Shares), rate)
			if err != nil {
				return nil, err
			}
			out.Positions = append(out.Positions, positionResponse{
				Pool:              pool,
				Entered:           entered[pool],
				Shares:            dec(position.Shares),
				UnderlyingBalance: dec(underlying),
				BorrowBalance:     dec(borrowed),
			})
		}
		return out, nil
	})
}

func (s *Server) handleRewards(w http.ResponseWriter, r *http.Request) {
	account, ok := accountParam(w, r)
	if !ok {
		return
	}
	s.read(w, func() (any, error) {
		accrued, err := s.engine.RewardAccrued(account)
		if err != nil {
			return nil, err
		}
		return rewardsResponse{
			Account:  account.Hex(),
			Accrued:  dec(accrued),
			Treasury: dec(s.bolt.Treasury().Balance()),
		}, nil
	})
}

// handleAudit lists the caller's recent write calls.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotFound, "AUDIT_DISABLED", "audit log not configured")
		return
	}
	caller, _ := middleware.Caller(r.Context())
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.audit.Recent(r.Context(), caller.Hex(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
