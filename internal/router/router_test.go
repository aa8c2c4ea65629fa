package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/escrow/internal/auth"
	"github.com/inaiurai/escrow/internal/execution"
	"github.com/inaiurai/escrow/internal/handlers"
	"github.com/inaiurai/escrow/internal/identity"
	"github.com/inaiurai/escrow/internal/ledger"
	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/permits"
	"github.com/inaiurai/escrow/internal/security"
	"github.com/inaiurai/escrow/internal/services"
	"github.com/inaiurai/escrow/internal/store"
)

// ---------------------------------------------------------------------------
// Fixture: the whole memory-backed stack behind the router.
// ---------------------------------------------------------------------------

type apiFixture struct {
	srv *httptest.Server
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	h, err := security.NewHasher(security.AlgSHA256)
	require.NoError(t, err)

	st := store.NewMemory()
	dir := identity.NewDirectory()
	escrow := services.NewEscrowService(st, ledger.New(h, nil, nil), dir)
	require.NoError(t, escrow.EnsureGateways(ctx, []string{"stripe"}))

	sched := execution.NewLocalScheduler(0, nil)
	t.Cleanup(sched.Close)
	permitSvc := permits.NewService(st, escrow, execution.SimulatedAnalyzer{}, sched, permits.Options{StageTimeout: time.Second})
	sched.Bind(permitSvc)

	authSvc := auth.NewService(dir, "router-test")
	require.NoError(t, authSvc.EnsureAdmin(ctx, "admin@example.com", "adminpassword"))

	mux := New(
		auth.NewHandler(authSvc, nil),
		handlers.NewWalletHandler(escrow, nil),
		handlers.NewPermitHandler(permitSvc, nil),
		authSvc,
		decimal.NewFromInt(100000),
	)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &apiFixture{srv: srv}
}

func (a *apiFixture) call(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (a *apiFixture) signup(t *testing.T, email string) (models.User, string) {
	t.Helper()
	var u models.User
	code := a.call(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": email, "password": "correct-horse", "accept_terms": true,
	}, &u)
	require.Equal(t, http.StatusCreated, code)
	return u, a.login(t, email, "correct-horse")
}

func (a *apiFixture) login(t *testing.T, email, password string) string {
	t.Helper()
	var resp auth.LoginResponse
	code := a.call(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": email, "password": password}, &resp)
	require.Equal(t, http.StatusOK, code)
	return resp.Token
}

func (a *apiFixture) waitStatus(t *testing.T, token, id string, want models.PermitStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		var p models.WorkPermit
		return a.call(t, http.MethodGet, "/v1/permits/"+id, token, nil, &p) == http.StatusOK && p.Status == want
	}, 3*time.Second, 10*time.Millisecond, "permit never reached %s", want)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAPI_PermitLifecycle(t *testing.T) {
	a := newAPI(t)
	_, buyerTok := a.signup(t, "buyer@example.com")
	worker, workerTok := a.signup(t, "worker@example.com")
	adminTok := a.login(t, "admin@example.com", "adminpassword")

	require.Equal(t, http.StatusCreated, a.call(t, http.MethodPost, "/v1/wallet/deposit", buyerTok,
		map[string]string{"amount": "1000", "currency": "USD", "gateway_id": "stripe"}, nil))

	var p models.WorkPermit
	require.Equal(t, http.StatusAccepted, a.call(t, http.MethodPost, "/v1/permits", buyerTok, map[string]any{
		"title": "Logo design", "worker_id": worker.ID, "currency": "USD", "total_amount": "500",
	}, &p))
	id := p.ID.String()

	a.waitStatus(t, buyerTok, id, models.PermitPendingBuyerReview)
	require.Equal(t, http.StatusOK, a.call(t, http.MethodPost, "/v1/permits/"+id+"/review", buyerTok, map[string]any{"approve": true}, nil))
	a.waitStatus(t, buyerTok, id, models.PermitPendingAdminApproval)

	require.Equal(t, http.StatusOK, a.call(t, http.MethodPost, "/v1/admin/permits/"+id+"/decision", adminTok, map[string]any{"approve": true}, nil))
	require.Equal(t, http.StatusAccepted, a.call(t, http.MethodPost, "/v1/permits/"+id+"/submit", workerTok, map[string]any{"note": "done"}, nil))
	a.waitStatus(t, workerTok, id, models.PermitPendingAdminApproval)
	require.Equal(t, http.StatusOK, a.call(t, http.MethodPost, "/v1/admin/permits/"+id+"/release", adminTok, nil, &p))
	require.Equal(t, models.PermitCompleted, p.Status)

	var bal services.WalletBalance
	require.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/v1/wallet/balance?currency=USD", workerTok, nil, &bal))
	require.True(t, bal.Balance.Equal(decimal.NewFromInt(440)), "worker balance %s", bal.Balance)

	require.Equal(t, http.StatusOK, a.call(t, http.MethodGet,
		fmt.Sprintf("/v1/admin/wallets/%s/balance?currency=USD", models.AdminCommissionPoolID), adminTok, nil, &bal))
	require.True(t, bal.Balance.Equal(decimal.NewFromInt(50)))

	var verdict map[string]bool
	require.Equal(t, http.StatusOK, a.call(t, http.MethodGet, "/v1/admin/ledger/verify?deep=true", adminTok, nil, &verdict))
	require.True(t, verdict["valid"])
}

func TestAPI_AccessControl(t *testing.T) {
	a := newAPI(t)
	_, userTok := a.signup(t, "user@example.com")

	require.Equal(t, http.StatusUnauthorized, a.call(t, http.MethodGet, "/v1/wallet/balance", "", nil, nil))
	require.Equal(t, http.StatusUnauthorized, a.call(t, http.MethodGet, "/v1/wallet/balance", "garbage", nil, nil))
	require.Equal(t, http.StatusForbidden, a.call(t, http.MethodGet, "/v1/admin/withdrawals", userTok, nil, nil))
	require.Equal(t, http.StatusBadRequest, a.call(t, http.MethodPost, "/v1/wallet/deposit", userTok,
		map[string]string{"amount": "0", "currency": "USD", "gateway_id": "stripe"}, nil))
	require.Equal(t, http.StatusForbidden, a.call(t, http.MethodPost, "/v1/wallet/deposit", userTok,
		map[string]string{"amount": "100001", "currency": "USD", "gateway_id": "stripe"}, nil))
	require.Equal(t, http.StatusForbidden, a.call(t, http.MethodPost, "/v1/permits", userTok, map[string]any{
		"title": "Too big", "worker_id": uuid.New(), "currency": "USD", "total_amount": "100001",
	}, nil))
	require.Equal(t, http.StatusUnauthorized, a.call(t, http.MethodPost, "/api/v1/auth/login", "",
		map[string]string{"email": "user@example.com", "password": "wrong-password"}, nil))
	require.Equal(t, http.StatusConflict, a.call(t, http.MethodPost, "/api/v1/auth/register", "",
		map[string]any{"email": "user@example.com", "password": "another-pass"}, nil))
}

func TestAPI_InsufficientFundsIs402(t *testing.T) {
	a := newAPI(t)
	_, buyerTok := a.signup(t, "poor@example.com")
	worker, _ := a.signup(t, "w@example.com")
	require.Equal(t, http.StatusPaymentRequired, a.call(t, http.MethodPost, "/v1/permits", buyerTok, map[string]any{
		"title": "Too big", "worker_id": worker.ID, "currency": "USD", "total_amount": "50",
	}, nil))
}
