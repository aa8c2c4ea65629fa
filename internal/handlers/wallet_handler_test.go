package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/escrow/internal/identity"
	"github.com/inaiurai/escrow/internal/ledger"
	"github.com/inaiurai/escrow/internal/middleware"
	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/security"
	"github.com/inaiurai/escrow/internal/services"
	"github.com/inaiurai/escrow/internal/store"
)

// ---------------------------------------------------------------------------
// Fixture: real wallet service over the memory store.
// ---------------------------------------------------------------------------

func newWalletHandler(t *testing.T) (*WalletHandler, *services.EscrowService) {
	t.Helper()
	h, err := security.NewHasher(security.AlgSHA256)
	require.NoError(t, err)
	svc := services.NewEscrowService(store.NewMemory(), ledger.New(h, nil, nil), identity.NewDirectory())
	svc.FX = map[string]decimal.Decimal{"USD/INR": decimal.RequireFromString("83")}
	require.NoError(t, svc.EnsureGateways(context.Background(), []string{"stripe"}))
	return NewWalletHandler(svc, nil), svc
}

func do(handler http.HandlerFunc, actor *models.Actor, method, target, body string, pathValues ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for i := 0; i+1 < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	if actor != nil {
		req = req.WithContext(middleware.WithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestWalletHandler_DepositAndBalance(t *testing.T) {
	h, _ := newWalletHandler(t)
	user := models.UserActor(uuid.New())

	rec := do(h.Deposit, &user, http.MethodPost, "/v1/wallet/deposit", `{"amount":"250.00","currency":"usd","gateway_id":"stripe"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(h.GetBalance, &user, http.MethodGet, "/v1/wallet/balance?currency=USD", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var b services.WalletBalance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	require.True(t, b.Balance.Equal(decimal.NewFromInt(250)), "balance %s", b.Balance)
	require.True(t, b.Locked.IsZero())
}

func TestWalletHandler_Unauthenticated(t *testing.T) {
	h, _ := newWalletHandler(t)
	rec := do(h.GetBalance, nil, http.MethodGet, "/v1/wallet/balance", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWalletHandler_DisabledGateway(t *testing.T) {
	h, _ := newWalletHandler(t)
	admin := models.AdminActor(uuid.New())
	user := models.UserActor(uuid.New())

	rec := do(h.ToggleGateway, &admin, http.MethodPut, "/v1/admin/gateways/stripe", `{"enabled":false}`, "id", "stripe")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(h.Deposit, &user, http.MethodPost, "/v1/wallet/deposit", `{"amount":"10","currency":"USD","gateway_id":"stripe"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(h.ToggleGateway, &user, http.MethodPut, "/v1/admin/gateways/stripe", `{"enabled":true}`, "id", "stripe")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWalletHandler_WithdrawalFlow(t *testing.T) {
	h, _ := newWalletHandler(t)
	admin := models.AdminActor(uuid.New())
	user := models.UserActor(uuid.New())

	do(h.Deposit, &user, http.MethodPost, "/", `{"amount":"100","currency":"USD","gateway_id":"stripe"}`)

	rec := do(h.AddMethod, &user, http.MethodPost, "/", `{"kind":"upi","label":"me@upi"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var pm models.PaymentMethod
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pm))

	rec = do(h.RequestWithdrawal, &user, http.MethodPost, "/",
		fmt.Sprintf(`{"amount":"500","currency":"USD","method_id":%q}`, pm.ID))
	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	rec = do(h.RequestWithdrawal, &user, http.MethodPost, "/",
		fmt.Sprintf(`{"amount":"40","currency":"USD","method_id":%q}`, pm.ID))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var wr models.WithdrawalRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wr))

	rec = do(h.SystemLock, &admin, http.MethodPost, "/", `{"engaged":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(h.ResolveWithdrawal, &admin, http.MethodPost, "/", `{"approve":true}`, "id", wr.ID.String())
	require.Equal(t, http.StatusLocked, rec.Code)

	do(h.SystemLock, &admin, http.MethodPost, "/", `{"engaged":false}`)
	rec = do(h.ResolveWithdrawal, &admin, http.MethodPost, "/", `{"approve":true,"note":"paid"}`, "id", wr.ID.String())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(h.ResolveWithdrawal, &admin, http.MethodPost, "/", `{"approve":true}`, "id", wr.ID.String())
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = do(h.AdminListWithdrawals, &admin, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []models.WithdrawalRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 1)
	require.Equal(t, models.WithdrawalCompleted, all[0].Status)
}

func TestWalletHandler_Exchange(t *testing.T) {
	h, _ := newWalletHandler(t)
	user := models.UserActor(uuid.New())

	rec := do(h.GetRate, nil, http.MethodGet, "/v1/exchange/rate?amount=2&from=USD&to=INR", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"converted":"166.00"}`, rec.Body.String())

	rec = do(h.GetRate, nil, http.MethodGet, "/v1/exchange/rate?amount=2&from=USD&to=GBP", "")
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	do(h.Deposit, &user, http.MethodPost, "/", `{"amount":"10","currency":"USD","gateway_id":"stripe"}`)
	rec = do(h.Exchange, &user, http.MethodPost, "/", `{"amount":"4","from":"USD","to":"INR"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(h.GetBalance, &user, http.MethodGet, "/v1/wallet/balance?currency=INR", "")
	var b services.WalletBalance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	require.True(t, b.Balance.Equal(decimal.NewFromInt(332)))
}

func TestWalletHandler_VerifyLedger(t *testing.T) {
	h, _ := newWalletHandler(t)
	admin := models.AdminActor(uuid.New())
	user := models.UserActor(uuid.New())
	do(h.Deposit, &user, http.MethodPost, "/", `{"amount":"10","currency":"USD","gateway_id":"stripe"}`)

	rec := do(h.VerifyLedger, &admin, http.MethodGet, "/v1/admin/ledger/verify?deep=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"valid":true,"deep":true}`, rec.Body.String())

	rec = do(h.VerifyLedger, &user, http.MethodGet, "/v1/admin/ledger/verify", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.ErrInsufficientFunds, http.StatusPaymentRequired},
		{fmt.Errorf("wrap: %w", models.ErrInvalidStateTransition), http.StatusConflict},
		{models.ErrNotAuthorized, http.StatusForbidden},
		{models.ErrTermsNotAccepted, http.StatusForbidden},
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrSystemLocked, http.StatusLocked},
		{models.ErrFeeExceedsTotal, http.StatusUnprocessableEntity},
		{models.ErrChainIntegrityViolation, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
