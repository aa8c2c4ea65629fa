package models

import (
	"time"

	"github.com/google/uuid"
)

// Pool wallets receive the non-worker legs of every distribution.
var (
	PlatformFeePoolID     = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	AdminCommissionPoolID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

// IsPoolWallet reports whether id is one of the system pool wallets.
func IsPoolWallet(id uuid.UUID) bool {
	return id == PlatformFeePoolID || id == AdminCommissionPoolID
}

// User is the slice of an identity record the escrow engine needs.
type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	ReferredBy    *uuid.UUID `json:"referred_by,omitempty"`
	TermsAccepted bool       `json:"terms_accepted"`
	IsAdmin       bool       `json:"is_admin"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Payment method kinds accepted for withdrawals.
const (
	MethodBankAccount = "bank_account"
	MethodUPI         = "upi"
	MethodCard        = "card"
)

type PaymentMethod struct {
	ID        uuid.UUID `json:"id"`
	WalletID  uuid.UUID `json:"wallet_id"`
	Kind      string    `json:"kind"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// GatewayConfig is a simulated deposit gateway that admins can switch off.
type GatewayConfig struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}
