// Package identity is the escrow engine's view of the user directory. The
// engine only needs to resolve a wallet owner's referrer, terms flag and
// admin bit.
package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/inaiurai/escrow/internal/models"
)

// Provider resolves users. Unknown ids return models.ErrNotFound.
type Provider interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Directory is an in-process Provider used by the memory backend and tests.
type Directory struct {
	mu     sync.RWMutex
	users  map[uuid.UUID]models.User
	emails map[string]uuid.UUID
	creds  map[uuid.UUID]string
}

var _ Provider = (*Directory)(nil)

func NewDirectory(users ...models.User) *Directory {
	d := &Directory{
		users:  make(map[uuid.UUID]models.User, len(users)),
		emails: make(map[string]uuid.UUID),
		creds:  make(map[uuid.UUID]string),
	}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// Put inserts or replaces u.
func (d *Directory) Put(u models.User) {
	d.mu.Lock()
	d.users[u.ID] = u
	if u.Email != "" {
		d.emails[strings.ToLower(u.Email)] = u.ID
	}
	d.mu.Unlock()
}

func (d *Directory) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	if u.ReferredBy != nil {
		ref := *u.ReferredBy
		u.ReferredBy = &ref
	}
	return &u, nil
}

// Create registers u with a password hash. Emails are unique ignoring case.
func (d *Directory) Create(_ context.Context, u *models.User, passwordHash string) error {
	email := strings.ToLower(u.Email)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.emails[email]; ok {
		return models.ErrDuplicateEmail
	}
	d.users[u.ID] = *u
	d.emails[email] = u.ID
	d.creds[u.ID] = passwordHash
	return nil
}

func (d *Directory) GetByEmail(_ context.Context, email string) (*models.User, string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.emails[strings.ToLower(email)]
	if !ok {
		return nil, "", fmt.Errorf("email %s: %w", email, models.ErrNotFound)
	}
	u := d.users[id]
	return &u, d.creds[id], nil
}
