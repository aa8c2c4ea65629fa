package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/services"
)

// WalletService is the wallet surface served over HTTP.
type WalletService interface {
	Balance(ctx context.Context, walletID uuid.UUID, currency string) (*services.WalletBalance, error)
	ListEntries(ctx context.Context, walletID uuid.UUID) ([]models.LedgerEntry, error)
	Deposit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, currency, gatewayID string) (*models.LedgerEntry, error)
	ListGateways(ctx context.Context) ([]*models.GatewayConfig, error)
	AdminToggleGateway(ctx context.Context, actor models.Actor, gatewayID string, enabled bool) (*models.GatewayConfig, error)
	AddMethod(ctx context.Context, walletID uuid.UUID, kind, label string) (*models.PaymentMethod, error)
	ListMethods(ctx context.Context, walletID uuid.UUID) ([]*models.PaymentMethod, error)
	ExchangeRate(amount decimal.Decimal, from, to string) (decimal.Decimal, error)
	Exchange(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, from, to string) (*services.ExchangeResult, error)
	RequestWithdrawal(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, currency string, methodID uuid.UUID) (*models.WithdrawalRequest, error)
	ResolveWithdrawal(ctx context.Context, actor models.Actor, requestID uuid.UUID, approve bool, note string) (*models.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, walletID uuid.UUID) ([]*models.WithdrawalRequest, error)
	AdminAdjustBalance(ctx context.Context, actor models.Actor, walletID uuid.UUID, delta decimal.Decimal, currency, note string) (*models.LedgerEntry, error)
	SetSystemLock(actor models.Actor, engaged bool) error
	SystemLocked() bool
	VerifyLedger(ctx context.Context, actor models.Actor, deep bool) (bool, error)
}

var _ WalletService = (*services.EscrowService)(nil)

// WalletHandler serves /v1/wallet and the wallet half of /v1/admin. The
// caller's wallet id is their user id.
type WalletHandler struct {
	Wallet WalletService
	Logger *slog.Logger
}

func NewWalletHandler(w WalletService, log *slog.Logger) *WalletHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WalletHandler{Wallet: w, Logger: log}
}

func currencyParam(r *http.Request) string {
	c := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))
	if c == "" {
		return "USD"
	}
	return c
}

// --- GET /v1/wallet/balance ---

func (h *WalletHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	b, err := h.Wallet.Balance(r.Context(), actor.ID, currencyParam(r))
	if err != nil {
		writeError(w, h.Logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// --- GET /v1/wallet/entries ---

func (h *WalletHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	entries, err := h.Wallet.ListEntries(r.Context(), actor.ID)
	if err != nil {
		writeError(w, h.Logger, "list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- POST /v1/wallet/deposit ---

type depositRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	GatewayID string          `json:"gateway_id"`
}

func (h *WalletHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := h.Wallet.Deposit(r.Context(), actor.ID, req.Amount, strings.ToUpper(req.Currency), req.GatewayID)
	if err != nil {
		writeError(w, h.Logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *WalletHandler) ListGateways(w http.ResponseWriter, r *http.Request) {
	gs, err := h.Wallet.ListGateways(r.Context())
	if err != nil {
		writeError(w, h.Logger, "list gateways", err)
		return
	}
	writeJSON(w, http.StatusOK, gs)
}

// --- payment methods ---

type methodRequest struct {
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

func (h *WalletHandler) AddMethod(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req methodRequest
	if !decode(w, r, &req) {
		return
	}
	pm, err := h.Wallet.AddMethod(r.Context(), actor.ID, req.Kind, req.Label)
	if err != nil {
		writeError(w, h.Logger, "add method", err)
		return
	}
	writeJSON(w, http.StatusCreated, pm)
}

func (h *WalletHandler) ListMethods(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	ms, err := h.Wallet.ListMethods(r.Context(), actor.ID)
	if err != nil {
		writeError(w, h.Logger, "list methods", err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

// --- exchange ---

type exchangeRequest struct {
	Amount decimal.Decimal `json:"amount"`
	From   string          `json:"from"`
	To     string          `json:"to"`
}

// GetRate handles GET /v1/exchange/rate?amount=&from=&to=.
func (h *WalletHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	amount, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		http.Error(w, `{"error":"invalid amount"}`, http.StatusBadRequest)
		return
	}
	converted, err := h.Wallet.ExchangeRate(amount, q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, h.Logger, "exchange rate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"converted": converted.StringFixed(2)})
}

func (h *WalletHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req exchangeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Wallet.Exchange(r.Context(), actor.ID, req.Amount, req.From, req.To)
	if err != nil {
		writeError(w, h.Logger, "exchange", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// --- withdrawals ---

type withdrawRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	MethodID uuid.UUID       `json:"method_id"`
}

func (h *WalletHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !decode(w, r, &req) {
		return
	}
	wr, err := h.Wallet.RequestWithdrawal(r.Context(), actor.ID, req.Amount, strings.ToUpper(req.Currency), req.MethodID)
	if err != nil {
		writeError(w, h.Logger, "request withdrawal", err)
		return
	}
	writeJSON(w, http.StatusAccepted, wr)
}

func (h *WalletHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	out, err := h.Wallet.ListWithdrawals(r.Context(), actor.ID)
	if err != nil {
		writeError(w, h.Logger, "list withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

// AdminListWithdrawals lists every wallet's requests.
func (h *WalletHandler) AdminListWithdrawals(w http.ResponseWriter, r *http.Request) {
	out, err := h.Wallet.ListWithdrawals(r.Context(), uuid.Nil)
	if err != nil {
		writeError(w, h.Logger, "list withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type resolveRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

func (h *WalletHandler) ResolveWithdrawal(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	wr, err := h.Wallet.ResolveWithdrawal(r.Context(), actor, id, req.Approve, req.Note)
	if err != nil {
		writeError(w, h.Logger, "resolve withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *WalletHandler) ToggleGateway(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req toggleRequest
	if !decode(w, r, &req) {
		return
	}
	g, err := h.Wallet.AdminToggleGateway(r.Context(), actor, r.PathValue("id"), req.Enabled)
	if err != nil {
		writeError(w, h.Logger, "toggle gateway", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// AdminBalance reads any wallet, including the fee and commission pools.
func (h *WalletHandler) AdminBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := h.Wallet.Balance(r.Context(), id, currencyParam(r))
	if err != nil {
		writeError(w, h.Logger, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type adjustRequest struct {
	Delta    decimal.Decimal `json:"delta"`
	Currency string          `json:"currency"`
	Note     string          `json:"note"`
}

func (h *WalletHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := h.Wallet.AdminAdjustBalance(r.Context(), actor, id, req.Delta, strings.ToUpper(req.Currency), req.Note)
	if err != nil {
		writeError(w, h.Logger, "adjust balance", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

type lockRequest struct {
	Engaged bool `json:"engaged"`
}

// SystemLock handles GET and POST /v1/admin/system-lock.
func (h *WalletHandler) SystemLock(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		actor, ok := actorOr401(w, r)
		if !ok {
			return
		}
		var req lockRequest
		if !decode(w, r, &req) {
			return
		}
		if err := h.Wallet.SetSystemLock(actor, req.Engaged); err != nil {
			writeError(w, h.Logger, "system lock", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"engaged": h.Wallet.SystemLocked()})
}

// VerifyLedger handles GET /v1/admin/ledger/verify?deep=true.
func (h *WalletHandler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	deep, _ := strconv.ParseBool(r.URL.Query().Get("deep"))
	valid, err := h.Wallet.VerifyLedger(r.Context(), actor, deep)
	if err != nil {
		writeError(w, h.Logger, "verify ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid, "deep": deep})
}
