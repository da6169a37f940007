// Package api serves the ledger over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/budgetly/budgetly/pkg/auth"
	"github.com/budgetly/budgetly/pkg/custody"
	"github.com/budgetly/budgetly/pkg/ledger"
	logpkg "github.com/budgetly/budgetly/pkg/logger"
	"github.com/budgetly/budgetly/pkg/models"
)

const (
	codeBadRequest      = "bad_request"
	codeUnauthenticated = "unauthenticated"
	codeInternal        = "internal_error"
)

// Ledger is the subset of the ledger engine served over HTTP.
type Ledger interface {
	SetTokenStatus(ctx context.Context, caller, token string, allowed bool) error
	IsAllowed(ctx context.Context, token string) (bool, error)
	LockFunds(ctx context.Context, caller string, req ledger.LockRequest) error
	TopUpBudget(ctx context.Context, caller, name string, tokens []string, amounts []*big.Int) error
	ReleaseFunds(ctx context.Context, caller, name, beneficiary string) error
	UpdateReleaseAmount(ctx context.Context, caller, name string, rate *big.Int) error
	UpdateReleaseCycle(ctx context.Context, caller, name string, cycle time.Duration) error
	ChangeBudgetStatus(ctx context.Context, caller, name string, enabled bool) error
	GetBudgetDetails(ctx context.Context, name string) (models.BudgetDetails, error)
	TotalBalance(ctx context.Context, name string) (*big.Int, error)
	GetAvailableBalanceToRelease(ctx context.Context, name string) (*big.Int, error)
	GetBudgets(ctx context.Context) ([]string, error)
}

// EventQuerier reads the event log.
type EventQuerier interface {
	Query(ctx context.Context, opts models.EventQueryOpts) ([]models.Event, error)
}

// errorHandler tries to handle a ledger error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server serves the ledger HTTP API.
type Server struct {
	ledger        Ledger
	events        EventQuerier
	gatherer      prometheus.Gatherer
	apiKeys       map[string]string
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. events and gatherer may be nil.
func NewServer(l Ledger, events EventQuerier, gatherer prometheus.Gatherer, apiKeys map[string]string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ledger:   l,
		events:   events,
		gatherer: gatherer,
		apiKeys:  apiKeys,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(ledger.ErrBudgetNotFound, http.StatusNotFound),
		sentinelHandler(auth.ErrUnauthorized, http.StatusForbidden),
		sentinelHandler(ledger.ErrBudgetDisabled, http.StatusConflict),
		sentinelHandler(ledger.ErrNonZeroBalance, http.StatusConflict),
		sentinelHandler(ledger.ErrTokenNotWhitelisted, http.StatusUnprocessableEntity),
		sentinelHandler(custody.ErrInsufficientBalance, http.StatusUnprocessableEntity),
		sentinelHandler(custody.ErrInsufficientAllowance, http.StatusUnprocessableEntity),
		sentinelHandler(custody.ErrEscrowAccount, http.StatusUnprocessableEntity),
		sentinelHandler(ledger.ErrLengthMismatch, http.StatusBadRequest),
		sentinelHandler(ledger.ErrInvalidSchedule, http.StatusBadRequest),
		sentinelHandler(ledger.ErrInvalidAmount, http.StatusBadRequest),
		sentinelHandler(ledger.ErrInvalidName, http.StatusBadRequest),
		sentinelHandler(ledger.ErrInvalidToken, http.StatusBadRequest),
	}
	return s
}

// Router builds the chi router with middleware and every route mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(BearerAuthMiddleware(s.apiKeys))

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Route("/budgets", func(r chi.Router) {
		r.Get("/", s.listBudgets)
		r.Post("/", s.lockFunds)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.getBudget)
			r.Get("/available", s.getAvailable)
			r.Get("/total", s.getTotal)
			r.Post("/top-up", s.topUp)
			r.Post("/release", s.release)
			r.Put("/release-amount", s.updateReleaseAmount)
			r.Put("/release-cycle", s.updateReleaseCycle)
			r.Put("/status", s.changeStatus)
		})
	})

	r.Get("/tokens/{token}", s.getToken)
	r.Put("/tokens/{token}", s.setToken)
	r.Get("/events", s.listEvents)
	return r
}

// ListenAndServe serves the router on addr until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("budgetly api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	if s.gatherer == nil {
		http.NotFound(w, r)
		return
	}
	promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, ledger.Code(err), sentinel.Error())
		return true
	}
}

func (s *Server) handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	for _, h := range s.errorHandlers {
		if h(w, err) {
			log.Warn("ledger error", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger emits one log line per request and propagates X-Request-ID.
func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
			)
		})
	}
}
