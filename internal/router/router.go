package router

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/inaiurai/escrow/internal/auth"
	"github.com/inaiurai/escrow/internal/handlers"
	"github.com/inaiurai/escrow/internal/middleware"
)

// New returns the API handler. Authentication endpoints live under
// /api/v1/auth; everything else is /v1 behind bearer auth, with /v1/admin
// restricted to admins and money-moving bodies checked by AmountCheck.
func New(
	authHandler *auth.Handler,
	wallet *handlers.WalletHandler,
	permits *handlers.PermitHandler,
	tokens middleware.TokenValidator,
	maxAmount decimal.Decimal,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("GET /v1/exchange/rate", wallet.GetRate)

	authed := middleware.BearerAuth(tokens)
	admin := func(h http.HandlerFunc) http.Handler {
		return authed(middleware.RequireAdmin(h))
	}
	money := middleware.AmountCheck(maxAmount)
	funding := middleware.AmountFieldCheck(maxAmount, "total_amount")

	// Wallet
	mux.Handle("GET /v1/wallet/balance", authed(http.HandlerFunc(wallet.GetBalance)))
	mux.Handle("GET /v1/wallet/entries", authed(http.HandlerFunc(wallet.ListEntries)))
	mux.Handle("POST /v1/wallet/deposit", authed(money(http.HandlerFunc(wallet.Deposit))))
	mux.Handle("POST /v1/wallet/exchange", authed(money(http.HandlerFunc(wallet.Exchange))))
	mux.Handle("GET /v1/wallet/methods", authed(http.HandlerFunc(wallet.ListMethods)))
	mux.Handle("POST /v1/wallet/methods", authed(http.HandlerFunc(wallet.AddMethod)))
	mux.Handle("GET /v1/wallet/withdrawals", authed(http.HandlerFunc(wallet.ListWithdrawals)))
	mux.Handle("POST /v1/wallet/withdrawals", authed(money(http.HandlerFunc(wallet.RequestWithdrawal))))
	mux.Handle("GET /v1/gateways", authed(http.HandlerFunc(wallet.ListGateways)))

	// Permits
	mux.Handle("POST /v1/permits", authed(funding(http.HandlerFunc(permits.Create))))
	mux.Handle("GET /v1/permits", authed(http.HandlerFunc(permits.List)))
	mux.Handle("GET /v1/permits/{id}", authed(http.HandlerFunc(permits.Get)))
	mux.Handle("PATCH /v1/permits/{id}", authed(http.HandlerFunc(permits.UpdateDetails)))
	mux.Handle("POST /v1/permits/{id}/review", authed(http.HandlerFunc(permits.BuyerReview)))
	mux.Handle("POST /v1/permits/{id}/submit", authed(http.HandlerFunc(permits.SubmitWork)))
	mux.Handle("POST /v1/permits/{id}/dispute", authed(http.HandlerFunc(permits.RaiseDispute)))

	// Admin
	mux.Handle("POST /v1/admin/permits/{id}/decision", admin(permits.AdminDecide))
	mux.Handle("POST /v1/admin/permits/{id}/release", admin(permits.ReleasePayment))
	mux.Handle("POST /v1/admin/permits/{id}/resolve", admin(permits.ResolveDispute))
	mux.Handle("GET /v1/admin/withdrawals", admin(wallet.AdminListWithdrawals))
	mux.Handle("POST /v1/admin/withdrawals/{id}/resolve", admin(wallet.ResolveWithdrawal))
	mux.Handle("PUT /v1/admin/gateways/{id}", admin(wallet.ToggleGateway))
	mux.Handle("GET /v1/admin/wallets/{id}/balance", admin(wallet.AdminBalance))
	mux.Handle("POST /v1/admin/wallets/{id}/adjust", admin(wallet.AdjustBalance))
	mux.Handle("GET /v1/admin/system-lock", admin(wallet.SystemLock))
	mux.Handle("POST /v1/admin/system-lock", admin(wallet.SystemLock))
	mux.Handle("GET /v1/admin/ledger/verify", admin(wallet.VerifyLedger))

	return mux
}
