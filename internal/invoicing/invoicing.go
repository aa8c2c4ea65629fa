// Package invoicing produces worker-facing receipts after a payout.
package invoicing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Invoice statuses.
const (
	StatusPaid    = "paid"
	StatusPending = "pending"
)

type Item struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Items         []Item          `json:"items"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Invoicer is called after a distribution commits. Failures are logged by the
// caller and never undo the payout.
type Invoicer interface {
	CreateInvoice(ctx context.Context, inv Invoice) error
}

// LoggingInvoicer records invoices in memory and logs each one.
type LoggingInvoicer struct {
	logger *slog.Logger

	mu     sync.Mutex
	issued []Invoice
}

var _ Invoicer = (*LoggingInvoicer)(nil)

func NewLoggingInvoicer(logger *slog.Logger) *LoggingInvoicer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInvoicer{logger: logger}
}

func (l *LoggingInvoicer) CreateInvoice(ctx context.Context, inv Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	l.mu.Lock()
	l.issued = append(l.issued, inv)
	l.mu.Unlock()
	l.logger.InfoContext(ctx, "invoice issued",
		"invoice_id", inv.ID,
		"user_id", inv.UserID,
		"amount", inv.Amount.String(),
		"currency", inv.Currency,
		"transaction_id", inv.TransactionID,
	)
	return nil
}

// Issued returns a copy of every invoice created so far.
func (l *LoggingInvoicer) Issued() []Invoice {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Invoice(nil), l.issued...)
}
