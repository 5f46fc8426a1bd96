package server

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"moneymarket/native/lending/fixed"
)

func poolParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "pool"))
}

func (s *Server) handleAccrue(w http.ResponseWriter, r *http.Request) {
	pool := poolParam(r)
	withBody(s, w, r, func(*emptyRequest) (call, error) {
		return call{operation: "accrue", pool: pool, run: func(common.Address) (any, error) {
			return okResponse, s.engine.AccrueInterest(pool)
		}}, nil
	})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	pool := poolParam(r)
	withBody(s, w, r, func(req *amountRequest) (call, error) {
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return call{}, err
		}
		return call{operation: "mint", pool: pool, run: func(caller common.Address) (any, error) {
			shares, err := s.engine.Mint(caller, pool, amount)
			if err != nil {
				return nil, err
			}
			return sharesResponse{Shares: dec(shares)}, nil
		}}, nil
	})
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	pool := poolParam(r)
	withBody(s, w, r, func(req *sharesRequest) (call, error) {
		shares, err := parseAmount("shares", req.Shares)
		if err != nil {
			return call{}, err
		}
		return call{operation: "redeem", pool: pool, run: func(caller common.Address) (any, error) {
			amount, err := s.engine.Redeem(caller, pool, shares)
			if err != nil {
				return nil, err
			}
			return amountResponse{Amount: dec(amount)}, nil
		}}, nil
	})
}

func (s *Server) handleRedeemUnderlying(w http.ResponseWriter, r *http.Request) {
	pool := poolParam(r)
	withBody(s, w, r, func(req *amountRequest) (call, error) {
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return call{}, err
		}
		return call{operation: "redeem_underlying", pool: pool, run: func(caller common.Address) (any, error) {
			shares, err := s.engine.RedeemUnderlying(caller, pool, amount)
			if err != nil {
				return nil, err
			}
			return sharesResponse{Shares: dec(shares)}, nil
		}}, nil
	})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	pool := poolParam(r)
	withBody(s, w, r, func(req *amountRequest) (call, error) {
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return call{}, err
		}
		return call{operation: "borrow", pool: pool, run: func(caller common.Address) (any, error) {
			if err := s.engine.Borrow(caller, pool, amount); err != nil {
				return nil, err
			}
			return amountResponse{Amount: dec(amount)}, nil
		}}, nil
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	pool := poolParam(r)
	withBody(s, w, r, func(req *amountRequest) (call, error) {
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return call{}, err
		}
		return call{operation: "repay", pool: pool, run: func(caller common.Address) (any, error) {
			applied, err := s.engine.RepayBorrow(caller, pool, amount)
			if err != nil {
				return nil, err
			}
			return amountResponse{Amount: dec(applied)}, nil
		}}, nil
	})
}

func (s *Server) handleRepayBehalf(w http.ResponseWriter, r *http.Request) {
	pool := poolParam(r)
	withBody(s, w, r, func(req *repayBehalfRequest) (call, error) {
		borrower, err := parseAddress("borrower", req.Borrower)
		if err != nil {
			return call{}, err
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return call{}, err
		}
		return call{operation: "repay_behalf", pool: pool, run: func(caller common.Address) (any, error) {
			applied, err := s.engine.RepayBorrowBehalf(caller, borrower, pool, amount)
			if err != nil {
				return nil, err
			}
			return amountResponse{Amount: dec(applied)}, nil
		}}, nil
	})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	pool := poolParam(r)
	withBody(s, w, r, func(req *transferRequest) (call, error) {
		to, err := parseAddress("to", req.To)
		if err != nil {
			return call{}, err
		}
		shares, err := parseAmount("shares", req.Shares)
		if err != nil {
			return call{}, err
		}
		return call{operation: "transfer", pool: pool, run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.Transfer(caller, to, pool, shares)
		}}, nil
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(req *liquidateRequest) (call, error) {
		borrower, err := parseAddress("borrower", req.Borrower)
		if err != nil {
			return call{}, err
		}
		repay, err := parseAmount("repayAmount", req.RepayAmount)
		if err != nil {
			return call{}, err
		}
		borrowed := strings.TrimSpace(req.BorrowedPool)
		collateral := strings.TrimSpace(req.CollateralPool)
		return call{operation: "liquidate", pool: borrowed, run: func(caller common.Address) (any, error) {
			seized, err := s.engine.LiquidateBorrow(caller, borrower, borrowed, collateral, repay)
			if err != nil {
				return nil, err
			}
			s.publishPool(collateral)
			return liquidationResponse{SeizedShares: dec(seized)}, nil
		}}, nil
	})
}

func (s *Server) handleEnterMarkets(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(req *marketsRequest) (call, error) {
		pools := req.Pools
		return call{operation: "enter_markets", run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.EnterMarkets(caller, pools)
		}}, nil
	})
}

func (s *Server) handleExitMarket(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(req *exitRequest) (call, error) {
		pool := strings.TrimSpace(req.Pool)
		return call{operation: "exit_market", pool: pool, run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.ExitMarket(caller, pool)
		}}, nil
	})
}

func (s *Server) handleMigrateDeprecated(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(req *migrateRequest) (call, error) {
		var account common.Address
		explicit := strings.TrimSpace(req.Account) != ""
		if explicit {
			parsed, err := parseAddress("account", req.Account)
			if err != nil {
				return call{}, err
			}
			account = parsed
		}
		from := strings.TrimSpace(req.From)
		to := strings.TrimSpace(req.To)
		return call{operation: "migrate_deprecated", pool: from, run: func(caller common.Address) (any, error) {
			target := account
			if !explicit {
				target = caller
			}
			minted, err := s.engine.MigrateDeprecatedMarket(caller, target, from, to)
			if err != nil {
				return nil, err
			}
			s.publishPool(to)
			return mintedResponse{Minted: dec(minted)}, nil
		}}, nil
	})
}

func (s *Server) handleClaimRewards(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(req *claimRequest) (call, error) {
		borrowers := req.Borrowers == nil || *req.Borrowers
		suppliers := req.Suppliers == nil || *req.Suppliers
		pools := req.Pools
		return call{operation: "claim_rewards", run: func(caller common.Address) (any, error) {
			if len(pools) == 0 {
				markets, err := s.engine.Markets()
				if err != nil {
					return nil, err
				}
				pools = markets
			}
			claimed, err := s.engine.ClaimRewards(caller, pools, borrowers, suppliers)
			if err != nil {
				return nil, err
			}
			return claimResponse{Claimed: dec(claimed)}, nil
		}}, nil
	})
}

func (s *Server) handleUpdateContributor(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(*emptyRequest) (call, error) {
		account, err := parseAddress("account", chi.URLParam(r, "account"))
		if err != nil {
			return call{}, err
		}
		return call{operation: "update_contributor", run: func(common.Address) (any, error) {
			if err := s.engine.UpdateContributorRewards(account); err != nil {
				return nil, err
			}
			accrued, err := s.engine.RewardAccrued(account)
			if err != nil {
				return nil, err
			}
			return amountResponse{Amount: dec(fixed.Copy(accrued))}, nil
		}}, nil
	})
}
