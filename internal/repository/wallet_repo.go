package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/escrow/internal/models"
)

// ---------------------------------------------------------------------------
// Withdrawal requests
// ---------------------------------------------------------------------------

const withdrawalColumns = `id, wallet_id, amount::text, currency, method_id, status, entry_id, note, created_at, updated_at`

func scanWithdrawal(row pgx.Row) (*models.WithdrawalRequest, error) {
	var (
		w      models.WithdrawalRequest
		amount string
	)
	if err := row.Scan(&w.ID, &w.WalletID, &amount, &w.Currency, &w.MethodID, &w.Status, &w.EntryID, &w.Note, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("withdrawal %s amount %q: %w", w.ID, amount, err)
	}
	w.Amount = d
	return &w, nil
}

func (r reader) GetWithdrawal(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	w, err := scanWithdrawal(r.q.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "withdrawal "+id.String())
	}
	return w, nil
}

func (r reader) ListWithdrawals(ctx context.Context, walletID uuid.UUID) ([]*models.WithdrawalRequest, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if walletID == uuid.Nil {
		rows, err = r.q.Query(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests ORDER BY created_at, id`)
	} else {
		rows, err = r.q.Query(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE wallet_id = $1 ORDER BY created_at, id`, walletID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO withdrawal_requests (id, wallet_id, amount, currency, method_id, status, entry_id, note, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, $9, $10)
	`, w.ID, w.WalletID, w.Amount.String(), w.Currency, w.MethodID, w.Status, w.EntryID, w.Note, w.CreatedAt, w.UpdatedAt)
	return err
}

func (t *pgTx) UpdateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE withdrawal_requests SET status = $2, note = $3, updated_at = $4 WHERE id = $1
	`, w.ID, w.Status, w.Note, w.UpdatedAt)
	return mustAffect(tag, err, "withdrawal "+w.ID.String())
}

// ---------------------------------------------------------------------------
// Payment methods
// ---------------------------------------------------------------------------

func (r reader) GetMethod(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	var m models.PaymentMethod
	err := r.q.QueryRow(ctx, `
		SELECT id, wallet_id, kind, label, created_at FROM payment_methods WHERE id = $1
	`, id).Scan(&m.ID, &m.WalletID, &m.Kind, &m.Label, &m.CreatedAt)
	if err != nil {
		return nil, notFound(err, "payment method "+id.String())
	}
	return &m, nil
}

func (r reader) ListMethods(ctx context.Context, walletID uuid.UUID) ([]*models.PaymentMethod, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, wallet_id, kind, label, created_at FROM payment_methods WHERE wallet_id = $1 ORDER BY created_at, id
	`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PaymentMethod
	for rows.Next() {
		var m models.PaymentMethod
		if err := rows.Scan(&m.ID, &m.WalletID, &m.Kind, &m.Label, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}

func (t *pgTx) InsertMethod(ctx context.Context, m *models.PaymentMethod) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO payment_methods (id, wallet_id, kind, label, created_at) VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.WalletID, m.Kind, m.Label, m.CreatedAt)
	return err
}

// ---------------------------------------------------------------------------
// Gateways
// ---------------------------------------------------------------------------

func (r reader) GetGateway(ctx context.Context, id string) (*models.GatewayConfig, error) {
	var g models.GatewayConfig
	err := r.q.QueryRow(ctx, `
		SELECT id, name, enabled, updated_at FROM gateway_configs WHERE id = $1
	`, id).Scan(&g.ID, &g.Name, &g.Enabled, &g.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "gateway "+id)
	}
	return &g, nil
}

func (r reader) ListGateways(ctx context.Context) ([]*models.GatewayConfig, error) {
	rows, err := r.q.Query(ctx, `SELECT id, name, enabled, updated_at FROM gateway_configs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GatewayConfig
	for rows.Next() {
		var g models.GatewayConfig
		if err := rows.Scan(&g.ID, &g.Name, &g.Enabled, &g.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &g)
	}
	return list, rows.Err()
}

func (t *pgTx) UpsertGateway(ctx context.Context, g *models.GatewayConfig) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO gateway_configs (id, name, enabled, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, enabled = EXCLUDED.enabled, updated_at = EXCLUDED.updated_at
	`, g.ID, g.Name, g.Enabled, g.UpdatedAt)
	return err
}
