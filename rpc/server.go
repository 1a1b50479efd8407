package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendledger/native/bank"
	nativecommon "lendledger/native/common"
	"lendledger/native/lending"
	"lendledger/native/positions"
	"lendledger/native/system"
)

// Config carries the transport settings for the HTTP surface.
type Config struct {
	Auth            AuthConfig
	RateLimitPerMin int
}

// Server exposes the ledger over HTTP: public read endpoints, authenticated
// mutation endpoints and admin-scoped parameter control.
type Server struct {
	engine   *lending.Engine
	ledger   *bank.Ledger
	registry *positions.Registry
	pauses   *system.PauseAuthority
	logger   *slog.Logger
	cfg      Config
}

// NewServer wires the HTTP surface to the engine and its collaborators.
func NewServer(engine *lending.Engine, ledger *bank.Ledger, registry *positions.Registry, pauses *system.PauseAuthority, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 600
	}
	return &Server{engine: engine, ledger: ledger, registry: registry, pauses: pauses, logger: logger, cfg: cfg}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	auth := NewAuthenticator(s.cfg.Auth, s.logger)
	limiter := NewRateLimiter(s.cfg.RateLimitPerMin)

	r := chi.NewRouter()
	r.Use(Observability(s.logger))
	r.Use(limiter.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// Public reads.
		r.Get("/offers/{id}", s.handleGetOffer)
		r.Get("/requests/{id}", s.handleGetRequest)
		r.Get("/loans/{id}", s.handleGetLoan)
		r.Get("/loans/{id}/interest", s.handleGetInterest)
		r.Get("/fees/{asset}", s.handleGetFeeBalance)
		r.Get("/certificates/{id}", s.handleGetCertificate)
		r.Get("/bank/balances/{addr}/{asset}", s.handleGetBalance)

		// Participant operations.
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware())
			r.Post("/offers", s.handleCreateOffer)
			r.Post("/offers/{id}/cancel", s.handleCancelOffer)
			r.Post("/offers/{id}/accept", s.handleAcceptOffer)
			r.Post("/requests", s.handleCreateRequest)
			r.Post("/requests/{id}/cancel", s.handleCancelRequest)
			r.Post("/requests/{id}/accept", s.handleAcceptRequest)
			r.Post("/loans/{id}/repay", s.handleRepay)
			r.Post("/loans/{id}/liquidate", s.handleLiquidate)
			r.Post("/certificates/{id}/transfer", s.handleTransferCertificate)
			r.Post("/bank/approve", s.handleApprove)
			r.Post("/bank/transfer", s.handleBankTransfer)
		})

		// Admin surface.
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(ScopeAdmin))
			r.Post("/admin/fees/claim", s.handleClaimFees)
			r.Post("/admin/fees/claim-batch", s.handleClaimFeesBatch)
			r.Post("/admin/pause", s.handlePause)
			r.Post("/admin/resume", s.handleResume)
			r.Post("/admin/params/owner-fee", s.handleSetOwnerFee)
			r.Post("/admin/params/penalty", s.handleSetPenalty)
			r.Post("/admin/params/rate-band", s.handleSetRateBand)
			r.Post("/admin/params/caps", s.handleSetCaps)
			r.Post("/admin/params/grace-period", s.handleSetGracePeriod)
			r.Post("/admin/params/max-duration", s.handleSetMaxDuration)
			r.Post("/admin/params/collateral-validation", s.handleSetCollateralValidation)
			r.Post("/admin/swap-whitelist", s.handleWhitelistSwapService)
			r.Post("/admin/guardian", s.handleSetGuardian)
		})
	})
	return r
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error("encode response", "error", err.Error())
		}
	}
}

// writeError maps engine errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadRequest
	switch {
	case lending.IsNotFound(err):
		status = http.StatusNotFound
	case lending.IsUnauthorized(err):
		status = http.StatusForbidden
	case lending.IsStateConflict(err):
		status = http.StatusConflict
	case errors.Is(err, nativecommon.ErrModulePaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, nativecommon.ErrReentrantCall):
		status = http.StatusConflict
	case errors.Is(err, system.ErrPauseUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, lending.ErrPriceUnavailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, lending.ErrCapExceeded):
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: RequestID(r.Context())})
}
