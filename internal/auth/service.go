package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/inaiurai/escrow/internal/models"
)

// ErrInvalidCredentials is returned by Login for any unknown email or wrong
// password.
var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	roleUser  = "user"
	roleAdmin = "admin"
)

// Credentials stores users with their password hashes. GetByEmail returns
// models.ErrNotFound for unknown emails; Create returns
// models.ErrDuplicateEmail on conflict.
type Credentials interface {
	Create(ctx context.Context, u *models.User, passwordHash string) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, string, error)
}

type RegisterInput struct {
	Email       string     `json:"email"`
	Password    string     `json:"password"`
	ReferredBy  *uuid.UUID `json:"referred_by,omitempty"`
	AcceptTerms bool       `json:"accept_terms"`
}

type Service interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	IssueToken(u *models.User) (string, error)
	ValidateToken(ctx context.Context, token string) (models.Actor, error)
}

type service struct {
	repo   Credentials
	secret []byte
	ttl    time.Duration
}

func NewService(repo Credentials, secret string) *service {
	if secret == "" {
		secret = "supersecretmvp"
	}
	return &service{repo: repo, secret: []byte(secret), ttl: 24 * time.Hour}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func (s *service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", models.ErrInvalidInput)
	}
	if len(in.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", models.ErrInvalidInput)
	}
	if err := s.checkReferrer(ctx, in.ReferredBy); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:            uuid.New(),
		Email:         email,
		ReferredBy:    in.ReferredBy,
		TermsAccepted: in.AcceptTerms,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, u, string(hash)); err != nil {
		return nil, err
	}
	return u, nil
}

// checkReferrer accepts only an existing user as referrer. Pool wallets are
// not users and must never receive a referral bonus.
func (s *service) checkReferrer(ctx context.Context, ref *uuid.UUID) error {
	if ref == nil {
		return nil
	}
	if models.IsPoolWallet(*ref) {
		return fmt.Errorf("%w: referrer cannot be a pool wallet", models.ErrInvalidInput)
	}
	if _, err := s.repo.GetUserByID(ctx, *ref); errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%w: unknown referrer", models.ErrInvalidInput)
	} else if err != nil {
		return err
	}
	return nil
}

// EnsureAdmin creates an admin account for email if none exists yet.
func (s *service) EnsureAdmin(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.repo.Create(ctx, &models.User{
		ID:            uuid.New(),
		Email:         email,
		TermsAccepted: true,
		IsAdmin:       true,
		CreatedAt:     time.Now().UTC(),
	}, string(hash))
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	u, hash, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, models.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.IssueToken(u)
}

func (s *service) IssueToken(u *models.User) (string, error) {
	role := roleUser
	if u.IsAdmin {
		role = roleAdmin
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// ValidateToken maps a bearer token onto the closed set of actors: admins
// and users. System and AI-agent actors never authenticate over HTTP.
func (s *service) ValidateToken(_ context.Context, token string) (models.Actor, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return models.Actor{}, err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return models.Actor{}, errors.New("invalid token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return models.Actor{}, err
	}
	switch c.Role {
	case roleAdmin:
		return models.AdminActor(id), nil
	case roleUser:
		return models.UserActor(id), nil
	default:
		return models.Actor{}, fmt.Errorf("unknown role %q", c.Role)
	}
}
