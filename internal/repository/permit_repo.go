package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/store"
)

// Permits are stored as a JSONB document with the filter columns copied out.
// Audit entries are also appended to permit_audit, which is never updated.

func scanPermit(row pgx.Row) (*models.WorkPermit, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, err
	}
	var p models.WorkPermit
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode permit: %w", err)
	}
	return &p, nil
}

func (r reader) GetPermit(ctx context.Context, id uuid.UUID) (*models.WorkPermit, error) {
	p, err := scanPermit(r.q.QueryRow(ctx, `SELECT doc FROM work_permits WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "permit "+id.String())
	}
	return p, nil
}

func (r reader) ListPermits(ctx context.Context, f store.PermitFilter) ([]*models.WorkPermit, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != uuid.Nil {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("(buyer_id = $%d OR worker_id = $%d)", len(args), len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	sql := `SELECT doc FROM work_permits`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at, id`

	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WorkPermit
	for rows.Next() {
		p, err := scanPermit(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (t *pgTx) InsertPermit(ctx context.Context, p *models.WorkPermit) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if _, err := t.q.Exec(ctx, `
		INSERT INTO work_permits (id, buyer_id, worker_id, status, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.BuyerID, p.WorkerID, string(p.Status), doc, p.CreatedAt, p.UpdatedAt); err != nil {
		return err
	}
	return t.appendAudit(ctx, p)
}

func (t *pgTx) UpdatePermit(ctx context.Context, p *models.WorkPermit) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return err
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE work_permits SET status = $2, doc = $3, updated_at = $4 WHERE id = $1
	`, p.ID, string(p.Status), doc, p.UpdatedAt)
	if err := mustAffect(tag, err, "permit "+p.ID.String()); err != nil {
		return err
	}
	return t.appendAudit(ctx, p)
}

func (t *pgTx) appendAudit(ctx context.Context, p *models.WorkPermit) error {
	for _, a := range p.AuditLog {
		actor, err := json.Marshal(a.Actor)
		if err != nil {
			return err
		}
		if _, err := t.q.Exec(ctx, `
			INSERT INTO permit_audit (id, permit_id, ts, action, details, actor)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, a.ID, p.ID, a.Timestamp, a.Action, a.Details, actor); err != nil {
			return err
		}
	}
	return nil
}
