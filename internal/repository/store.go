package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// chainLockKey names the advisory lock every writer takes so ledger appends
// are totally ordered across processes.
const chainLockKey = "escrow-ledger-chain"

// Migrate creates the escrow tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

// WithTx runs fn in a serializable-by-lock transaction: the transaction-level
// advisory lock is held until commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, chainLockKey); err != nil {
		return fmt.Errorf("acquire chain lock: %w", err)
	}
	w := &pgTx{reader: reader{q: tx}, tx: tx}
	if err := fn(w); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, hook := range w.hooks {
		hook()
	}
	return nil
}

// Read runs fn against a read-only repeatable-read snapshot.
func (s *Store) Read(ctx context.Context, fn func(r store.Reader) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(reader{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// querier is satisfied by pgx.Tx and *pgxpool.Pool.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type reader struct {
	q querier
}

var _ store.Reader = reader{}

type pgTx struct {
	reader
	tx    pgx.Tx
	hooks []func()
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) OnCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

// PgxTx exposes the underlying transaction so job inserts can join it.
func (t *pgTx) PgxTx() pgx.Tx {
	return t.tx
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return err
}

// mustAffect turns an UPDATE that touched no row into models.ErrNotFound.
func mustAffect(tag pgconn.CommandTag, err error, what string) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return nil
}
