package api

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/budgetly/budgetly/pkg/amount"
	"github.com/budgetly/budgetly/pkg/ledger"
	"github.com/budgetly/budgetly/pkg/models"
)

// Amounts cross the wire as decimal token strings ("12.5"), cycles as whole
// seconds.

type lockRequest struct {
	Name          string     `json:"name"`
	Tokens        []string   `json:"tokens"`
	Amounts       []string   `json:"amounts"`
	ReleaseCycle  int64      `json:"release_cycle"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	ReleaseAmount string     `json:"release_amount"`
}

type topUpRequest struct {
	Tokens  []string `json:"tokens"`
	Amounts []string `json:"amounts"`
}

type releaseRequest struct {
	Beneficiary string `json:"beneficiary"`
}

type releaseAmountRequest struct {
	ReleaseAmount string `json:"release_amount"`
}

type releaseCycleRequest struct {
	ReleaseCycle int64 `json:"release_cycle"`
}

type statusRequest struct {
	Enabled bool `json:"enabled"`
}

type tokenStatus struct {
	Token   string `json:"token"`
	Allowed bool   `json:"allowed"`
}

type tokenBalance struct {
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

type budgetResponse struct {
	Name            string         `json:"name"`
	Owner           string         `json:"owner,omitempty"`
	Tokens          []tokenBalance `json:"tokens"`
	ReleaseCycle    int64          `json:"release_cycle"`
	ReleaseAmount   string         `json:"release_amount"`
	LastReleaseTime time.Time      `json:"last_release_time"`
	Enabled         bool           `json:"enabled"`
	Available       string         `json:"available"`
}

type amountResponse struct {
	Name   string `json:"name"`
	Amount string `json:"amount"`
}

func budgetToResponse(d models.BudgetDetails, available *big.Int) budgetResponse {
	resp := budgetResponse{
		Name:            d.Name,
		Owner:           d.Owner,
		Tokens:          make([]tokenBalance, len(d.Tokens)),
		ReleaseCycle:    int64(d.ReleaseCycle / time.Second),
		ReleaseAmount:   amount.Format(d.ReleaseAmount),
		LastReleaseTime: d.LastReleaseTime,
		Enabled:         d.Enabled,
		Available:       amount.Format(available),
	}
	for i, t := range d.Tokens {
		resp.Tokens[i] = tokenBalance{Token: t, Balance: amount.Format(d.Balances[i])}
	}
	return resp
}

func parseAmounts(values []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		a, err := amount.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("amount %q: %w", v, err)
		}
		out[i] = a
	}
	return out, nil
}

// maxCycleSeconds is the longest cycle a time.Duration can hold.
const maxCycleSeconds = math.MaxInt64 / int64(time.Second)

func cycleFromSeconds(seconds int64) (time.Duration, error) {
	if seconds <= 0 || seconds > maxCycleSeconds {
		return 0, fmt.Errorf("release_cycle %d outside 1..%d seconds: %w", seconds, maxCycleSeconds, ledger.ErrInvalidSchedule)
	}
	return time.Duration(seconds) * time.Second, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func caller(r *http.Request) string {
	return CallerFromContext(r.Context())
}

// listBudgets handles GET /budgets.
func (s *Server) listBudgets(w http.ResponseWriter, r *http.Request) {
	names, err := s.ledger.GetBudgets(r.Context())
	if err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"budgets": names})
}

// lockFunds handles POST /budgets.
func (s *Server) lockFunds(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if !decode(w, r, &req) {
		return
	}
	amounts, err := parseAmounts(req.Amounts)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	rate, err := amount.Parse(req.ReleaseAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "release_amount: "+err.Error())
		return
	}
	cycle, err := cycleFromSeconds(req.ReleaseCycle)
	if err != nil {
		s.handleLedgerError(w, r, err)
		return
	}

	lock := ledger.LockRequest{
		Name:          req.Name,
		Tokens:        req.Tokens,
		Amounts:       amounts,
		ReleaseCycle:  cycle,
		ReleaseAmount: rate,
	}
	if req.StartTime != nil {
		lock.StartTime = *req.StartTime
	}
	if err := s.ledger.LockFunds(r.Context(), caller(r), lock); err != nil {
		s.handleLedgerError(w, r, err)
		return
	}

	w.Header().Set("Location", "/budgets/"+req.Name)
	s.writeBudget(w, r, http.StatusCreated, req.Name)
}

// getBudget handles GET /budgets/{name}.
func (s *Server) getBudget(w http.ResponseWriter, r *http.Request) {
	s.writeBudget(w, r, http.StatusOK, chi.URLParam(r, "name"))
}

func (s *Server) writeBudget(w http.ResponseWriter, r *http.Request, status int, name string) {
	d, err := s.ledger.GetBudgetDetails(r.Context(), name)
	if err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	avail, err := s.ledger.GetAvailableBalanceToRelease(r.Context(), name)
	if err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, status, budgetToResponse(d, avail))
}

// getAvailable handles GET /budgets/{name}/available.
func (s *Server) getAvailable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := s.ledger.GetAvailableBalanceToRelease(r.Context(), name)
	if err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Name: name, Amount: amount.Format(v)})
}

// getTotal handles GET /budgets/{name}/total.
func (s *Server) getTotal(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := s.ledger.TotalBalance(r.Context(), name)
	if err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Name: name, Amount: amount.Format(v)})
}

// topUp handles POST /budgets/{name}/top-up.
func (s *Server) topUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if !decode(w, r, &req) {
		return
	}
	amounts, err := parseAmounts(req.Amounts)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.ledger.TopUpBudget(r.Context(), caller(r), name, req.Tokens, amounts); err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	s.writeBudget(w, r, http.StatusOK, name)
}

// release handles POST /budgets/{name}/release. An empty body pays the caller.
func (s *Server) release(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.ledger.ReleaseFunds(r.Context(), caller(r), name, req.Beneficiary); err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	s.writeBudget(w, r, http.StatusOK, name)
}

// updateReleaseAmount handles PUT /budgets/{name}/release-amount.
func (s *Server) updateReleaseAmount(w http.ResponseWriter, r *http.Request) {
	var req releaseAmountRequest
	if !decode(w, r, &req) {
		return
	}
	rate, err := amount.Parse(req.ReleaseAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "release_amount: "+err.Error())
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.ledger.UpdateReleaseAmount(r.Context(), caller(r), name, rate); err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	s.writeBudget(w, r, http.StatusOK, name)
}

// updateReleaseCycle handles PUT /budgets/{name}/release-cycle.
func (s *Server) updateReleaseCycle(w http.ResponseWriter, r *http.Request) {
	var req releaseCycleRequest
	if !decode(w, r, &req) {
		return
	}
	cycle, err := cycleFromSeconds(req.ReleaseCycle)
	if err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.ledger.UpdateReleaseCycle(r.Context(), caller(r), name, cycle); err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	s.writeBudget(w, r, http.StatusOK, name)
}

// changeStatus handles PUT /budgets/{name}/status.
func (s *Server) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decode(w, r, &req) {
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.ledger.ChangeBudgetStatus(r.Context(), caller(r), name, req.Enabled); err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	s.writeBudget(w, r, http.StatusOK, name)
}

// getToken handles GET /tokens/{token}.
func (s *Server) getToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	ok, err := s.ledger.IsAllowed(r.Context(), token)
	if err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenStatus{Token: token, Allowed: ok})
}

// setToken handles PUT /tokens/{token}.
func (s *Server) setToken(w http.ResponseWriter, r *http.Request) {
	var req tokenStatus
	if !decode(w, r, &req) {
		return
	}
	token := chi.URLParam(r, "token")
	if err := s.ledger.SetTokenStatus(r.Context(), caller(r), token, req.Allowed); err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenStatus{Token: token, Allowed: req.Allowed})
}

// listEvents handles GET /events?budget=&kind=&since=&limit=.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, map[string][]models.Event{"events": {}})
		return
	}

	q := r.URL.Query()
	opts := models.EventQueryOpts{
		Budget: q.Get("budget"),
		Kind:   models.EventKind(q.Get("kind")),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, codeBadRequest, "since must be RFC 3339")
			return
		}
		opts.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be a positive integer")
			return
		}
		opts.Limit = limit
	}

	evs, err := s.events.Query(r.Context(), opts)
	if err != nil {
		s.handleLedgerError(w, r, err)
		return
	}
	if evs == nil {
		evs = []models.Event{}
	}
	writeJSON(w, http.StatusOK, map[string][]models.Event{"events": evs})
}
