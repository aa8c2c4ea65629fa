package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/store"
)

const entryColumns = `id, sequence, wallet_id, kind, amount::text, currency, flow, status, reference_id, ts, prev_fingerprint, fingerprint`

func scanEntry(row pgx.Row) (*models.LedgerEntry, error) {
	var (
		e      models.LedgerEntry
		amount string
		seq    int64
	)
	if err := row.Scan(&e.ID, &seq, &e.WalletID, &e.Kind, &amount, &e.Currency, &e.Flow, &e.Status,
		&e.ReferenceID, &e.Timestamp, &e.PrevFingerprint, &e.Fingerprint); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("entry %s amount %q: %w", e.ID, amount, err)
	}
	e.Amount = d
	e.Sequence = uint64(seq)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

func (r reader) LastEntry(ctx context.Context) (*models.LedgerEntry, error) {
	e, err := scanEntry(r.q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries ORDER BY sequence DESC LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r reader) GetEntry(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	e, err := scanEntry(r.q.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "ledger entry "+id.String())
	}
	return e, nil
}

func (r reader) ListEntries(ctx context.Context, f store.EntryFilter) ([]models.LedgerEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.WalletID != uuid.Nil {
		add("wallet_id = $%d", f.WalletID)
	}
	if f.Currency != "" {
		add("currency = $%d", f.Currency)
	}
	if f.ReferenceID != "" {
		add("reference_id = $%d", f.ReferenceID)
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	sql := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY sequence`

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

func (t *pgTx) InsertEntry(ctx context.Context, e *models.LedgerEntry) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO ledger_entries (id, sequence, wallet_id, kind, amount, currency, flow, status, reference_id, ts, prev_fingerprint, fingerprint)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, int64(e.Sequence), e.WalletID, string(e.Kind), e.Amount.String(), e.Currency, string(e.Flow), string(e.Status),
		e.ReferenceID, e.Timestamp, e.PrevFingerprint, e.Fingerprint)
	return err
}

func (t *pgTx) UpdateEntryStatus(ctx context.Context, id uuid.UUID, status models.EntryStatus) error {
	tag, err := t.q.Exec(ctx, `UPDATE ledger_entries SET status = $2 WHERE id = $1`, id, string(status))
	return mustAffect(tag, err, "ledger entry "+id.String())
}
