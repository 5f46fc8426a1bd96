package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"moneymarket/native/lending"
	"moneymarket/observability/metrics"
	telemetry "moneymarket/observability/otel"
	"moneymarket/services/lendingd/middleware"
	"moneymarket/services/lendingd/store"
)

const (
	headerIdempotency = "Idempotency-Key"
	headerReplay      = "Idempotent-Replay"
	maxBodyBytes      = 1 << 20
	defaultIdemTTL    = 24 * time.Hour
)

// Config wires the daemon's collaborators.
type Config struct {
	// Height maps wall-clock time to the ledger period.
	Height         func(time.Time) uint64
	IdempotencyTTL time.Duration
	Auth           middleware.AuthConfig
	RateLimit      middleware.RateLimit
	ServiceName    string
	// Gatherer backs /metrics. Nil means the default registry.
	Gatherer prometheus.Gatherer
}

// Server exposes the lending engine over HTTP. Every engine call, read or
// write, holds mu so that setting the block height and running the operation
// happen as one step. Writes also hold it across the idempotency lookup and
// store.
type Server struct {
	engine  *lending.Engine
	oracle  *lending.SimplePriceOracle
	bolt    *store.Bolt
	audit   *store.Audit
	metrics *metrics.LendingMetrics
	ledger  *telemetry.Ledger
	logger  *slog.Logger

	cfg        Config
	mu         sync.Mutex
	lastHeight uint64
	nowFn      func() time.Time
}

// New constructs the server. audit, m and ledger may be nil.
func New(engine *lending.Engine, oracle *lending.SimplePriceOracle, bolt *store.Bolt, audit *store.Audit,
	m *metrics.LendingMetrics, ledger *telemetry.Ledger, logger *slog.Logger, cfg Config) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine required")
	}
	if oracle == nil {
		return nil, errors.New("price oracle required")
	}
	if bolt == nil {
		return nil, errors.New("bolt store required")
	}
	if cfg.Height == nil {
		return nil, errors.New("height function required")
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdemTTL
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lendingd"
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		oracle:  oracle,
		bolt:    bolt,
		audit:   audit,
		metrics: m,
		ledger:  ledger,
		logger:  logger,
		cfg:     cfg,
		nowFn:   time.Now,
	}, nil
}

// Height returns the last period applied to the engine.
func (s *Server) Height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeight
}

// Handler builds the router with tracing around every route.
func (s *Server) Handler() http.Handler {
	auth := middleware.NewAuthenticator(s.cfg.Auth, s.logger)
	limiter := middleware.NewRateLimiter(s.cfg.RateLimit)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(limiter.Middleware)

		r.Get("/pools", s.handleListPools)
		r.Get("/pools/{pool}", s.handleGetPool)
		r.Post("/pools/{pool}/accrue", s.handleAccrue)
		r.Post("/pools/{pool}/mint", s.handleMint)
		r.Post("/pools/{pool}/redeem", s.handleRedeem)
		r.Post("/pools/{pool}/redeem-underlying", s.handleRedeemUnderlying)
		r.Post("/pools/{pool}/borrow", s.handleBorrow)
		r.Post("/pools/{pool}/repay", s.handleRepay)
		r.Post("/pools/{pool}/repay-behalf", s.handleRepayBehalf)
		r.Post("/pools/{pool}/transfer", s.handleTransfer)

		r.Get("/accounts/{account}/liquidity", s.handleLiquidity)
		r.Get("/accounts/{account}/positions", s.handlePositions)
		r.Get("/accounts/{account}/rewards", s.handleRewards)
		r.Get("/audit", s.handleAudit)

		r.Post("/liquidations", s.handleLiquidate)
		r.Post("/markets/enter", s.handleEnterMarkets)
		r.Post("/markets/exit", s.handleExitMarket)
		r.Post("/markets/migrate", s.handleMigrateDeprecated)
		r.Post("/rewards/claim", s.handleClaimRewards)
		r.Post("/rewards/contributors/{account}/update", s.handleUpdateContributor)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/markets", s.handleListMarket)
			r.Post("/pools/{pool}/collateral-factor", s.handleSetCollateralFactor)
			r.Post("/pools/{pool}/reserve-factor", s.handleSetReserveFactor)
			r.Post("/pools/{pool}/rate-model", s.handleSetRateModel)
			r.Post("/pools/{pool}/protocol-seize-share", s.handleSetProtocolSeizeShare)
			r.Post("/pools/{pool}/deprecate", s.handleDeprecate)
			r.Post("/pools/{pool}/reserves/add", s.handleAddReserves)
			r.Post("/pools/{pool}/reserves/reduce", s.handleReduceReserves)
			r.Post("/pools/{pool}/reward-speeds", s.handleSetRewardSpeeds)
			r.Post("/pools/{pool}/price", s.handleSetPrice)
			r.Post("/borrow-caps", s.handleSetBorrowCaps)
			r.Post("/pause", s.handleSetPaused)
			r.Post("/close-factor", s.handleSetCloseFactor)
			r.Post("/liquidation-incentive", s.handleSetLiquidationIncentive)
			r.Post("/max-assets", s.handleSetMaxAssets)
			r.Post("/guardian", s.handleSetGuardian)
			r.Post("/borrow-cap-guardian", s.handleSetBorrowCapGuardian)
			r.Post("/propose", s.handleProposeAdmin)
			r.Post("/accept", s.handleAcceptAdmin)
			r.Post("/contributors", s.handleSetContributorSpeed)
			r.Post("/grants", s.handleGrantReward)
			r.Post("/migrate-params", s.handleMigrateParams)
		})
	})
	return otelhttp.NewHandler(r, s.cfg.ServiceName)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "height": s.Height()})
}

// advance moves the engine to the period for now. Periods never move
// backwards even when the wall clock does. Callers hold mu.
func (s *Server) advance() uint64 {
	height := s.cfg.Height(s.nowFn())
	if height < s.lastHeight {
		height = s.lastHeight
	}
	s.lastHeight = height
	s.engine.SetBlockHeight(height)
	s.metrics.SetHeight(height)
	return height
}

// call describes one state-changing request.
type call struct {
	operation string
	pool      string
	// run executes against the engine while mu is held.
	run func(caller common.Address) (any, error)
}

// write runs c under the engine lock, replaying or caching the response when
// the request carries an Idempotency-Key, and records the outcome in the audit
// log. The key lookup, the engine call and the cached response share one
// critical section so concurrent retries of a key execute once.
func (s *Server) write(w http.ResponseWriter, r *http.Request, body []byte, c call) {
	caller, ok := middleware.Caller(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
		return
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotency))

	ctx, finish := s.ledger.Start(r.Context(), c.operation, c.pool)
	start := time.Now()

	s.mu.Lock()
	if key != "" {
		record, found, err := s.bolt.GetIdempotency(caller, key, s.nowFn())
		if err != nil {
			s.mu.Unlock()
			finish("INTERNAL")
			s.logger.Error("idempotency lookup failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store unavailable")
			return
		}
		if found {
			s.mu.Unlock()
			if record.Method != r.Method || record.Path != r.URL.Path {
				finish("IDEMPOTENCY_MISMATCH")
				writeError(w, http.StatusUnprocessableEntity, "IDEMPOTENCY_MISMATCH", "idempotency key reused for a different request")
				return
			}
			finish("")
			w.Header().Set(headerReplay, "true")
			writeRaw(w, record.StatusCode, record.Body)
			return
		}
	}
	height := s.advance()
	result, err := c.run(caller)
	if err == nil && c.pool != "" {
		s.publishPool(c.pool)
	}
	code := lending.Code(err)
	status := http.StatusOK
	var payload []byte
	if err != nil {
		status = statusFor(err)
		payload = mustJSON(errorBody{Error: errorDetail{Code: code, Message: err.Error()}})
	} else {
		payload = mustJSON(result)
	}
	if key != "" && status < http.StatusInternalServerError {
		now := s.nowFn()
		if err := s.bolt.PutIdempotency(caller, key, store.IdempotencyRecord{
			Caller:     caller.Hex(),
			Method:     r.Method,
			Path:       r.URL.Path,
			StatusCode: status,
			Body:       payload,
			StoredAt:   now,
			ExpiresAt:  now.Add(s.cfg.IdempotencyTTL),
		}); err != nil {
			s.logger.Warn("idempotency write failed", slog.String("error", err.Error()))
		}
	}
	s.mu.Unlock()

	if err != nil {
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "operation rejected",
			slog.String("request_id", middleware.RequestIDFrom(ctx)),
			slog.String("op", c.operation),
			slog.String("pool", c.pool),
			slog.String("account", caller.Hex()),
			slog.String("code", code),
			slog.String("error", err.Error()))
	} else {
		s.logger.Info("operation applied",
			slog.String("request_id", middleware.RequestIDFrom(ctx)),
			slog.String("op", c.operation),
			slog.String("pool", c.pool),
			slog.String("account", caller.Hex()),
			slog.Uint64("height", height))
	}
	finish(code)
	s.metrics.Observe(c.operation, code, time.Since(start))

	if err := s.audit.Record(ctx, &store.AuditEntry{
		RequestID:  middleware.RequestIDFrom(ctx),
		Caller:     caller.Hex(),
		Operation:  c.operation,
		Pool:       c.pool,
		Height:     height,
		StatusCode: status,
		ErrorCode:  code,
		Request:    string(body),
		Response:   string(payload),
	}); err != nil {
		s.logger.Warn("audit write failed", slog.String("error", err.Error()))
	}
	writeRaw(w, status, payload)
}

// read runs fn under the engine lock at the current period.
func (s *Server) read(w http.ResponseWriter, fn func() (any, error)) {
	s.mu.Lock()
	s.advance()
	result, err := fn()
	s.mu.Unlock()
	if err != nil {
		writeError(w, statusFor(err), lending.Code(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// publishPool refreshes the pool gauges. Callers hold mu.
func (s *Server) publishPool(pool string) {
	if s.metrics == nil {
		return
	}
	view, err := s.poolView(pool)
	if err != nil {
		return
	}
	s.metrics.SetPool(pool, view.cashF, view.borrowsF, view.reservesF, view.utilizationF)
}

// decode reads the JSON body into dst and returns the raw bytes for auditing.
func decode(r *http.Request, dst any) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return raw, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return nil, err
	}
	return raw, nil
}

// withBody decodes the request into req and hands off to write. Decode
// failures never reach the engine.
func withBody[T any](s *Server, w http.ResponseWriter, r *http.Request, build func(req *T) (call, error)) {
	var req T
	raw, err := decode(r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	c, err := build(&req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	s.write(w, r, raw, c)
}
