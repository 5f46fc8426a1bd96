package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "moneymarket/native/common"
	"moneymarket/native/lending"
)

func (s *Server) handleListMarket(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(req *listMarketRequest) (call, error) {
		cfg, err := req.config()
		if err != nil {
			return call{}, err
		}
		return call{operation: "list_market", pool: cfg.ID, run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.ListMarket(caller, cfg)
		}}, nil
	})
}

// factorSetter adapts a pool-scoped setter taking one decimal value.
func (s *Server) factorSetter(operation string, set func(caller common.Address, pool string, v *uint256.Int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pool := poolParam(r)
		withBody(s, w, r, func(req *factorRequest) (call, error) {
			v, err := parseFactor("value", req.Value)
			if err != nil {
				return call{}, err
			}
			return call{operation: operation, pool: pool, run: func(caller common.Address) (any, error) {
				return okResponse, set(caller, pool, v)
			}}, nil
		})
	}
}

func (s *Server) handleSetCollateralFactor(w http.ResponseWriter, r *http.Request) {
	s.factorSetter("set_collateral_factor", s.engine.SetCollateralFactor)(w, r)
}

func (s *Server) handleSetReserveFactor(w http.ResponseWriter, r *http.Request) {
	s.factorSetter("set_reserve_factor", s.engine.SetReserveFactor)(w, r)
}

func (s *Server) handleSetProtocolSeizeShare(w http.ResponseWriter, r *http.Request) {
	s.factorSetter("set_protocol_seize_share", s.engine.SetProtocolSeizeShare)(w, r)
}

func (s *Server) handleSetRateModel(w http.ResponseWriter, r *http.Request) {
	pool := poolParam(r)
	withBody(s, w, r, func(req *rateModelRequest) (call, error) {
		spec, err := req.spec()
		if err != nil {
			return call{}, err
		}
		return call{operation: "set_rate_model", pool: pool, run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.SetInterestRateModel(caller, pool, spec)
		}}, nil
	})
}

func (s *Server) handleDeprecate(w http.ResponseWriter, r *http.Request) {
	pool := poolParam(r)
	withBody(s, w, r, func(*emptyRequest) (call, error) {
		return call{operation: "deprecate_market", pool: pool, run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.DeprecateMarket(caller, pool)
		}}, nil
	})
}

func (s *Server) reservesHandler(operation string, apply func(caller common.Address, pool string, amount *uint256.Int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pool := poolParam(r)
		withBody(s, w, r, func(req *amountRequest) (call, error) {
			amount, err := parseAmount("amount", req.Amount)
			if err != nil {
				return call{}, err
			}
			return call{operation: operation, pool: pool, run: func(caller common.Address) (any, error) {
				return okResponse, apply(caller, pool, amount)
			}}, nil
		})
	}
}

func (s *Server) handleAddReserves(w http.ResponseWriter, r *http.Request) {
	s.reservesHandler("add_reserves", s.engine.AddReserves)(w, r)
}

func (s *Server) handleReduceReserves(w http.ResponseWriter, r *http.Request) {
	s.reservesHandler("reduce_reserves", s.engine.ReduceReserves)(w, r)
}

func (s *Server) handleSetRewardSpeeds(w http.ResponseWriter, r *http.Request) {
	pool := poolParam(r)
	withBody(s, w, r, func(req *speedsRequest) (call, error) {
		supply, err := parseAmount("supply", req.Supply)
		if err != nil {
			return call{}, err
		}
		borrow, err := parseAmount("borrow", req.Borrow)
		if err != nil {
			return call{}, err
		}
		return call{operation: "set_reward_speeds", pool: pool, run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.SetRewardSpeeds(caller, pool, supply, borrow)
		}}, nil
	})
}

// handleSetPrice posts a price to the in-process oracle. Only the admin may
// post; a zero price withdraws the quote.
func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	pool := poolParam(r)
	withBody(s, w, r, func(req *priceRequest) (call, error) {
		price, err := parseFactor("price", req.Price)
		if err != nil {
			return call{}, err
		}
		return call{operation: "set_price", pool: pool, run: func(caller common.Address) (any, error) {
			params, err := s.engine.Params()
			if err != nil {
				return nil, err
			}
			if caller != params.Admin.Current {
				return nil, fmt.Errorf("%w: %s is not admin", lending.ErrUnauthorized, caller.Hex())
			}
			if err := s.bolt.SavePrice(pool, price); err != nil {
				return nil, err
			}
			s.oracle.SetPrice(pool, price)
			return okResponse, nil
		}}, nil
	})
}

func (s *Server) handleSetBorrowCaps(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(req *borrowCapsRequest) (call, error) {
		if len(req.Pools) != len(req.Caps) {
			return call{}, fmt.Errorf("pools and caps must have the same length")
		}
		caps := make([]*uint256.Int, len(req.Caps))
		for i, raw := range req.Caps {
			v, err := parseAmount(fmt.Sprintf("caps[%d]", i), raw)
			if err != nil {
				return call{}, err
			}
			caps[i] = v
		}
		pools := req.Pools
		return call{operation: "set_borrow_caps", run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.SetBorrowCaps(caller, pools, caps)
		}}, nil
	})
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(req *pauseRequest) (call, error) {
		action := nativecommon.Action(strings.ToLower(strings.TrimSpace(req.Action)))
		if !action.Valid() {
			return call{}, fmt.Errorf("unknown action %q", req.Action)
		}
		pool := strings.TrimSpace(req.Pool)
		paused := req.Paused
		return call{operation: "set_paused", pool: pool, run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.SetActionPaused(caller, pool, action, paused)
		}}, nil
	})
}

func (s *Server) paramSetter(operation string, set func(caller common.Address, v *uint256.Int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		withBody(s, w, r, func(req *factorRequest) (call, error) {
			v, err := parseFactor("value", req.Value)
			if err != nil {
				return call{}, err
			}
			return call{operation: operation, run: func(caller common.Address) (any, error) {
				return okResponse, set(caller, v)
			}}, nil
		})
	}
}

func (s *Server) handleSetCloseFactor(w http.ResponseWriter, r *http.Request) {
	s.paramSetter("set_close_factor", s.engine.SetCloseFactor)(w, r)
}

func (s *Server) handleSetLiquidationIncentive(w http.ResponseWriter, r *http.Request) {
	s.paramSetter("set_liquidation_incentive", s.engine.SetLiquidationIncentive)(w, r)
}

func (s *Server) handleSetMaxAssets(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(req *maxAssetsRequest) (call, error) {
		limit := req.Limit
		return call{operation: "set_max_assets", run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.SetMaxAssets(caller, limit)
		}}, nil
	})
}

func (s *Server) addressSetter(operation string, set func(caller, target common.Address) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		withBody(s, w, r, func(req *addressRequest) (call, error) {
			target, err := parseAddress("address", req.Address)
			if err != nil {
				return call{}, err
			}
			return call{operation: operation, run: func(caller common.Address) (any, error) {
				return okResponse, set(caller, target)
			}}, nil
		})
	}
}

func (s *Server) handleSetGuardian(w http.ResponseWriter, r *http.Request) {
	s.addressSetter("set_pause_guardian", s.engine.SetPauseGuardian)(w, r)
}

func (s *Server) handleSetBorrowCapGuardian(w http.ResponseWriter, r *http.Request) {
	s.addressSetter("set_borrow_cap_guardian", s.engine.SetBorrowCapGuardian)(w, r)
}

func (s *Server) handleProposeAdmin(w http.ResponseWriter, r *http.Request) {
	s.addressSetter("propose_admin", s.engine.ProposeAdmin)(w, r)
}

func (s *Server) handleAcceptAdmin(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(*emptyRequest) (call, error) {
		return call{operation: "accept_admin", run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.AcceptAdmin(caller)
		}}, nil
	})
}

func (s *Server) handleSetContributorSpeed(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(req *contributorRequest) (call, error) {
		account, err := parseAddress("account", req.Account)
		if err != nil {
			return call{}, err
		}
		speed, err := parseAmount("speed", req.Speed)
		if err != nil {
			return call{}, err
		}
		return call{operation: "set_contributor_speed", run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.SetContributorSpeed(caller, account, speed)
		}}, nil
	})
}

func (s *Server) handleGrantReward(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(req *grantRequest) (call, error) {
		recipient, err := parseAddress("recipient", req.Recipient)
		if err != nil {
			return call{}, err
		}
		amount, err := parseAmount("amount", req.Amount)
		if err != nil {
			return call{}, err
		}
		return call{operation: "grant_reward", run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.GrantReward(caller, recipient, amount)
		}}, nil
	})
}

func (s *Server) handleMigrateParams(w http.ResponseWriter, r *http.Request) {
	withBody(s, w, r, func(*emptyRequest) (call, error) {
		return call{operation: "migrate_params", run: func(caller common.Address) (any, error) {
			return okResponse, s.engine.MigrateParams(caller)
		}}, nil
	})
}
