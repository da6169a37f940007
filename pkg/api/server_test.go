package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/budgetly/budgetly/pkg/amount"
	"github.com/budgetly/budgetly/pkg/auth"
	"github.com/budgetly/budgetly/pkg/custody"
	"github.com/budgetly/budgetly/pkg/events"
	"github.com/budgetly/budgetly/pkg/ledger"
	"github.com/budgetly/budgetly/pkg/metrics"
	"github.com/budgetly/budgetly/pkg/models"
	"github.com/budgetly/budgetly/pkg/store"
)

type testEnv struct {
	handler http.Handler
	engine  *ledger.Engine
	vault   *custody.Vault
	now     time.Time
}

func newTestEnv(t *testing.T, apiKeys map[string]string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	v, err := custody.New(filepath.Join(dir, "custody.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	log, err := events.New(models.EventConfig{DBPath: filepath.Join(dir, "events.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	reg := prometheus.NewRegistry()
	env := &testEnv{vault: v, now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	env.engine = ledger.New(st, v, auth.NewController("admin"), nil).
		WithClock(func() time.Time { return env.now }).
		WithEvents(log).
		WithMetrics(metrics.New("budgetly", reg))
	env.handler = NewServer(env.engine, log, reg, apiKeys, nil).Router()

	ctx := context.Background()
	require.NoError(t, env.engine.SeedWhitelist(ctx, []string{"0xA"}))
	require.NoError(t, v.Mint(ctx, "0xA", "alice", amount.MustParse("100")))
	require.NoError(t, v.Approve(ctx, "0xA", "alice", amount.MustParse("100")))
	return env
}

func (e *testEnv) do(t *testing.T, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

func lockBody() map[string]any {
	return map[string]any{
		"name":           "grants",
		"tokens":         []string{"0xA"},
		"amounts":        []string{"23"},
		"release_cycle":  200,
		"release_amount": "5",
	}
}

func TestBudgetLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/budgets", "alice", lockBody())
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeBody[budgetResponse](t, rr)
	assert.Equal(t, "alice", created.Owner)
	assert.Equal(t, []tokenBalance{{Token: "0xA", Balance: "23"}}, created.Tokens)
	assert.Equal(t, int64(200), created.ReleaseCycle)
	assert.Equal(t, "0", created.Available)

	env.now = env.now.Add(400 * time.Second)
	rr = env.do(t, http.MethodGet, "/budgets/grants/available", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "10", decodeBody[amountResponse](t, rr).Amount)

	rr = env.do(t, http.MethodPost, "/budgets/grants/release", "alice", map[string]string{"beneficiary": "bob"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	bal, err := env.vault.BalanceOf(context.Background(), "0xA", "bob")
	require.NoError(t, err)
	assert.Equal(t, "10", amount.Format(bal))

	rr = env.do(t, http.MethodGet, "/budgets/grants/total", "", nil)
	assert.Equal(t, "13", decodeBody[amountResponse](t, rr).Amount)

	rr = env.do(t, http.MethodGet, "/budgets", "", nil)
	assert.Equal(t, []string{"grants"}, decodeBody[map[string][]string](t, rr)["budgets"])

	rr = env.do(t, http.MethodPut, "/budgets/grants/release-amount", "alice", map[string]string{"release_amount": "2.5"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "2.5", decodeBody[budgetResponse](t, rr).ReleaseAmount)

	rr = env.do(t, http.MethodPut, "/budgets/grants/release-cycle", "alice", map[string]int64{"release_cycle": 60})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, int64(60), decodeBody[budgetResponse](t, rr).ReleaseCycle)

	rr = env.do(t, http.MethodPut, "/budgets/grants/status", "alice", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeBody[budgetResponse](t, rr).Enabled)

	rr = env.do(t, http.MethodGet, "/events?budget=grants", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	evs := decodeBody[map[string][]models.Event](t, rr)["events"]
	require.Len(t, evs, 5)
	assert.Equal(t, models.EventBudgetStatusChanged, evs[0].Kind)
	assert.Equal(t, models.EventBudgetCreated, evs[4].Kind)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/budgets", "alice", lockBody()).Code)
	env.now = env.now.Add(200 * time.Second)

	tests := []struct {
		name       string
		method     string
		path       string
		caller     string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"unknown budget", http.MethodPost, "/budgets/missing/top-up", "alice",
			topUpRequest{Tokens: []string{"0xA"}, Amounts: []string{"1"}}, http.StatusNotFound, "budget_not_found"},
		{"not owner", http.MethodPost, "/budgets/grants/release", "bob",
			releaseRequest{}, http.StatusForbidden, "unauthorized"},
		{"not controller", http.MethodPut, "/tokens/0xB", "alice",
			tokenStatus{Allowed: true}, http.StatusForbidden, "unauthorized"},
		{"undrained", http.MethodPut, "/budgets/grants/release-amount", "alice",
			releaseAmountRequest{ReleaseAmount: "1"}, http.StatusConflict, "non_zero_balance"},
		{"not whitelisted", http.MethodPost, "/budgets", "alice",
			map[string]any{"name": "x", "tokens": []string{"0xB"}, "amounts": []string{"1"}, "release_cycle": 1, "release_amount": "1"},
			http.StatusUnprocessableEntity, "token_not_whitelisted"},
		{"over allowance", http.MethodPost, "/budgets", "alice",
			map[string]any{"name": "x", "tokens": []string{"0xA"}, "amounts": []string{"500"}, "release_cycle": 1, "release_amount": "1"},
			http.StatusUnprocessableEntity, "insufficient_custody_allowance"},
		{"zero cycle", http.MethodPut, "/budgets/grants/release-cycle", "alice",
			releaseCycleRequest{}, http.StatusBadRequest, "invalid_schedule"},
		{"overflowing cycle", http.MethodPut, "/budgets/grants/release-cycle", "alice",
			releaseCycleRequest{ReleaseCycle: 18446744083}, http.StatusBadRequest, "invalid_schedule"},
		{"overflowing lock cycle", http.MethodPost, "/budgets", "alice",
			map[string]any{"name": "y", "tokens": []string{"0xA"}, "amounts": []string{"1"}, "release_cycle": int64(math.MaxInt64), "release_amount": "1"},
			http.StatusBadRequest, "invalid_schedule"},
		{"bad amount", http.MethodPost, "/budgets/grants/top-up", "alice",
			topUpRequest{Tokens: []string{"0xA"}, Amounts: []string{"-1"}}, http.StatusBadRequest, codeBadRequest},
		{"bad body", http.MethodPut, "/budgets/grants/status", "alice",
			"not-an-object", http.StatusBadRequest, codeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, tt.method, tt.path, tt.caller, tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			assert.Equal(t, tt.wantCode, decodeBody[errorResponse](t, rr).Code)
		})
	}
}

func TestTokenRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPut, "/tokens/0xB", "admin", tokenStatus{Allowed: true})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodGet, "/tokens/0xB", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, tokenStatus{Token: "0xB", Allowed: true}, decodeBody[tokenStatus](t, rr))

	rr = env.do(t, http.MethodGet, "/tokens/0xC", "", nil)
	assert.False(t, decodeBody[tokenStatus](t, rr).Allowed)
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t, map[string]string{"alice-key": "alice", "admin-key": "admin"})

	send := func(key string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(lockBody()))
		req := httptest.NewRequest(http.MethodPost, "/budgets", &buf)
		req.Header.Set(CallerHeader, "admin")
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusUnauthorized, send("").Code)
	assert.Equal(t, http.StatusUnauthorized, send("wrong").Code)

	rr := send("alice-key")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "alice", decodeBody[budgetResponse](t, rr).Owner)

	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	hr := httptest.NewRecorder()
	env.handler.ServeHTTP(hr, req)
	assert.Equal(t, http.StatusOK, hr.Code)
}

func TestCallerHeaderIgnoredWithAPIKeys(t *testing.T) {
	env := newTestEnv(t, map[string]string{"alice-key": "alice", "bob-key": "bob"})

	send := func(key, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest(http.MethodPost, path, &buf)
		req.Header.Set("Authorization", "Bearer "+key)
		req.Header.Set(CallerHeader, "admin")
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusCreated, send("alice-key", "/budgets", lockBody()).Code)
	env.now = env.now.Add(2000 * time.Second)

	rr := send("bob-key", "/budgets/grants/release", releaseRequest{Beneficiary: "mallory"})
	assert.Equal(t, http.StatusForbidden, rr.Code, rr.Body.String())

	bal, err := env.vault.BalanceOf(context.Background(), "0xA", "mallory")
	require.NoError(t, err)
	assert.Equal(t, 0, bal.Sign())
}

func TestBearerAuthMiddlewareScheme(t *testing.T) {
	var seen string
	h := BearerAuthMiddleware(map[string]string{"k": "carol"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CallerFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/budgets", http.NoBody)
	req.Header.Set("Authorization", "Basic k")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, codeUnauthenticated, decodeBody[errorResponse](t, rr).Code)

	req.Header.Set("Authorization", "Bearer k")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "carol", seen)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/budgets", "alice", lockBody()).Code)

	rr := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.True(t, strings.Contains(body, `budgetly_operations_total{operation="lock",status="ok"} 1`), body)
	assert.Contains(t, body, "budgetly_budgets 1")
}

func TestEventsQueryValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/events?limit=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/events?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/events?kind=token_status_changed&limit=5", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	evs := decodeBody[map[string][]models.Event](t, rr)["events"]
	require.Len(t, evs, 1)
	assert.Equal(t, "0xA", evs[0].Token)
}
