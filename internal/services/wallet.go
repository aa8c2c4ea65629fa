package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/escrow/internal/ledger"
	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/store"
)

// WalletBalance is the derived state of one wallet in one currency.
type WalletBalance struct {
	WalletID uuid.UUID       `json:"wallet_id"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
	Locked   decimal.Decimal `json:"locked"`
}

func (s *EscrowService) Balance(ctx context.Context, walletID uuid.UUID, currency string) (*WalletBalance, error) {
	out := &WalletBalance{WalletID: walletID, Currency: currency}
	err := s.Store.Read(ctx, func(r store.Reader) error {
		var err error
		if out.Balance, err = s.Ledger.Balance(ctx, r, walletID, currency); err != nil {
			return err
		}
		out.Locked, err = s.Ledger.LockedBalance(ctx, r, walletID, currency)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListEntries returns a wallet's ledger history in chain order.
func (s *EscrowService) ListEntries(ctx context.Context, walletID uuid.UUID) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	err := s.Store.Read(ctx, func(r store.Reader) error {
		var err error
		out, err = r.ListEntries(ctx, store.EntryFilter{WalletID: walletID})
		return err
	})
	return out, err
}

// ---------------------------------------------------------------------------
// Deposits and gateways
// ---------------------------------------------------------------------------

// EnsureGateways registers any missing gateway as enabled. Existing rows keep
// their admin-set state.
func (s *EscrowService) EnsureGateways(ctx context.Context, ids []string) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		for _, id := range ids {
			if _, err := tx.GetGateway(ctx, id); err == nil {
				continue
			}
			g := &models.GatewayConfig{ID: id, Name: id, Enabled: true, UpdatedAt: s.now()}
			if err := tx.UpsertGateway(ctx, g); err != nil {
				return err
			}
		}
		return nil
	})
}

// Deposit credits walletID through a simulated gateway.
func (s *EscrowService) Deposit(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, currency, gatewayID string) (entry *models.LedgerEntry, err error) {
	defer func() { s.Metrics.EscrowOp("deposit", err) }()

	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		g, err := tx.GetGateway(ctx, gatewayID)
		if err != nil {
			return err
		}
		if !g.Enabled {
			return fmt.Errorf("%w: %s", models.ErrGatewayDisabled, gatewayID)
		}
		entry, err = s.Ledger.Append(ctx, tx, ledger.Draft{
			WalletID:    walletID,
			Kind:        models.KindDeposit,
			Amount:      amount,
			Currency:    currency,
			Flow:        models.FlowIn,
			Status:      models.EntryCompleted,
			ReferenceID: "gateway:" + gatewayID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *EscrowService) ListGateways(ctx context.Context) ([]*models.GatewayConfig, error) {
	var out []*models.GatewayConfig
	err := s.Store.Read(ctx, func(r store.Reader) error {
		var err error
		out, err = r.ListGateways(ctx)
		return err
	})
	return out, err
}

func (s *EscrowService) AdminToggleGateway(ctx context.Context, actor models.Actor, gatewayID string, enabled bool) (*models.GatewayConfig, error) {
	if !actor.IsAdmin() {
		return nil, models.ErrNotAuthorized
	}
	var g *models.GatewayConfig
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if g, err = tx.GetGateway(ctx, gatewayID); err != nil {
			return err
		}
		g.Enabled = enabled
		g.UpdatedAt = s.now()
		return tx.UpsertGateway(ctx, g)
	})
	if err != nil {
		return nil, err
	}
	s.Logger.InfoContext(ctx, "gateway toggled", "gateway", gatewayID, "enabled", enabled, "actor", actor.String())
	return g, nil
}

// ---------------------------------------------------------------------------
// Payment methods
// ---------------------------------------------------------------------------

func (s *EscrowService) AddMethod(ctx context.Context, walletID uuid.UUID, kind, label string) (*models.PaymentMethod, error) {
	switch kind {
	case models.MethodBankAccount, models.MethodUPI, models.MethodCard:
	default:
		return nil, fmt.Errorf("%w: unknown payment method kind %q", models.ErrInvalidInput, kind)
	}
	if strings.TrimSpace(label) == "" {
		return nil, fmt.Errorf("%w: label required", models.ErrInvalidInput)
	}
	pm := &models.PaymentMethod{
		ID:        uuid.New(),
		WalletID:  walletID,
		Kind:      kind,
		Label:     label,
		CreatedAt: s.now(),
	}
	if err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertMethod(ctx, pm)
	}); err != nil {
		return nil, err
	}
	return pm, nil
}

func (s *EscrowService) ListMethods(ctx context.Context, walletID uuid.UUID) ([]*models.PaymentMethod, error) {
	var out []*models.PaymentMethod
	err := s.Store.Read(ctx, func(r store.Reader) error {
		var err error
		out, err = r.ListMethods(ctx, walletID)
		return err
	})
	return out, err
}

// ---------------------------------------------------------------------------
// Exchange
// ---------------------------------------------------------------------------

// ExchangeRate converts amount using the fixed table. Pairs not in the table,
// including from == to, are models.ErrUnsupportedCurrencyPair.
func (s *EscrowService) ExchangeRate(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	rate, ok := s.FX[strings.ToUpper(from)+"/"+strings.ToUpper(to)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", models.ErrUnsupportedCurrencyPair, from, to)
	}
	return amount.Mul(rate).Round(2), nil
}

// ExchangeResult pairs the two adjustment entries of a conversion.
type ExchangeResult struct {
	Debit     *models.LedgerEntry `json:"debit"`
	Credit    *models.LedgerEntry `json:"credit"`
	Converted decimal.Decimal     `json:"converted"`
}

// Exchange moves amount of from into the converted amount of to within one
// wallet.
func (s *EscrowService) Exchange(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, from, to string) (res *ExchangeResult, err error) {
	defer func() { s.Metrics.EscrowOp("exchange", err) }()

	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	converted, err := s.ExchangeRate(amount, from, to)
	if err != nil {
		return nil, err
	}
	if !converted.IsPositive() {
		return nil, fmt.Errorf("%w: %s %s converts to nothing", models.ErrInvalidAmount, amount, from)
	}
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	ref := "fx:" + uuid.NewString()
	res = &ExchangeResult{Converted: converted}
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		balance, err := s.Ledger.Balance(ctx, tx, walletID, from)
		if err != nil {
			return err
		}
		if balance.LessThan(amount) {
			return fmt.Errorf("%w: wallet %s has %s %s", models.ErrInsufficientFunds, walletID, balance, from)
		}
		if res.Debit, err = s.Ledger.Append(ctx, tx, ledger.Draft{
			WalletID: walletID, Kind: models.KindAdjustment, Amount: amount, Currency: from,
			Flow: models.FlowOut, Status: models.EntryCompleted, ReferenceID: ref,
		}); err != nil {
			return err
		}
		res.Credit, err = s.Ledger.Append(ctx, tx, ledger.Draft{
			WalletID: walletID, Kind: models.KindAdjustment, Amount: converted, Currency: to,
			Flow: models.FlowIn, Status: models.EntryCompleted, ReferenceID: ref,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

// AdminAdjustBalance applies a signed correction. A debit may not take the
// wallet below zero.
func (s *EscrowService) AdminAdjustBalance(ctx context.Context, actor models.Actor, walletID uuid.UUID, delta decimal.Decimal, currency, note string) (entry *models.LedgerEntry, err error) {
	defer func() { s.Metrics.EscrowOp("admin_adjust", err) }()

	if !actor.IsAdmin() {
		return nil, models.ErrNotAuthorized
	}
	if delta.IsZero() {
		return nil, models.ErrInvalidAmount
	}
	flow := models.FlowIn
	if delta.IsNegative() {
		flow = models.FlowOut
	}
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if flow == models.FlowOut {
			balance, err := s.Ledger.Balance(ctx, tx, walletID, currency)
			if err != nil {
				return err
			}
			if balance.LessThan(delta.Abs()) {
				return fmt.Errorf("%w: wallet %s has %s %s", models.ErrInsufficientFunds, walletID, balance, currency)
			}
		}
		entry, err = s.Ledger.Append(ctx, tx, ledger.Draft{
			WalletID:    walletID,
			Kind:        models.KindAdjustment,
			Amount:      delta.Abs(),
			Currency:    currency,
			Flow:        flow,
			Status:      models.EntryCompleted,
			ReferenceID: "admin:" + actor.ID.String(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Logger.InfoContext(ctx, "admin balance adjustment",
		"wallet_id", walletID,
		"entry_id", entry.ID,
		"delta", delta.String(),
		"note", note,
		"actor", actor.String(),
	)
	return entry, nil
}

// SetSystemLock engages or releases the global panic lock that blocks new
// withdrawals and withdrawal approvals.
func (s *EscrowService) SetSystemLock(actor models.Actor, engaged bool) error {
	if !actor.IsAdmin() && actor.Kind != models.ActorSystem {
		return models.ErrNotAuthorized
	}
	s.systemLocked.Store(engaged)
	s.Metrics.SystemLock(engaged)
	s.Logger.Warn("system lock changed", "engaged", engaged, "actor", actor.String())
	return nil
}

func (s *EscrowService) SystemLocked() bool {
	return s.systemLocked.Load()
}

// VerifyLedger walks the whole chain. deep also recomputes every
// fingerprint; a deep failure halts ledger writes.
func (s *EscrowService) VerifyLedger(ctx context.Context, actor models.Actor, deep bool) (bool, error) {
	if !actor.IsAdmin() && actor.Kind != models.ActorSystem {
		return false, models.ErrNotAuthorized
	}
	var ok bool
	err := s.Store.Read(ctx, func(r store.Reader) error {
		var err error
		if deep {
			ok, err = s.Ledger.DeepVerify(ctx, r)
		} else {
			ok, err = s.Ledger.VerifyChain(ctx, r)
		}
		return err
	})
	return ok, err
}

// VerifyOnStartup deep-verifies whatever chain the store already holds.
// Append only re-hashes the head, so an altered older entry would otherwise
// feed balances unnoticed. On failure the ledger stays halted and
// ErrChainIntegrityViolation is returned.
func (s *EscrowService) VerifyOnStartup(ctx context.Context) error {
	ok, err := s.VerifyLedger(ctx, models.SystemActor(), true)
	if err != nil {
		return fmt.Errorf("verify ledger: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: stored chain failed deep verification", models.ErrChainIntegrityViolation)
	}
	return nil
}
