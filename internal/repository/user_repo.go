package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/escrow/internal/models"
)

// UserRepo backs both identity lookups and auth credentials.
type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) Create(ctx context.Context, u *models.User, passwordHash string) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, referred_by, terms_accepted, is_admin)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, u.ID, strings.ToLower(u.Email), passwordHash, u.ReferredBy, u.TermsAccepted, u.IsAdmin).Scan(&u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return models.ErrDuplicateEmail
	}
	return err
}

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, referred_by, terms_accepted, is_admin, created_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.ReferredBy, &u.TermsAccepted, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err, "user "+id.String())
	}
	return &u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, string, error) {
	var (
		u    models.User
		hash string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, referred_by, terms_accepted, is_admin, created_at FROM users WHERE email = $1
	`, strings.ToLower(email)).Scan(&u.ID, &u.Email, &hash, &u.ReferredBy, &u.TermsAccepted, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, "", notFound(err, fmt.Sprintf("user %s", email))
	}
	return &u, hash, nil
}
