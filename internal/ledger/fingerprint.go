package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/security"
)

// content is the canonical form hashed into a fingerprint. Status is left
// out: it is the only field allowed to change after the entry is written.
type content struct {
	ID          string `json:"id"`
	Sequence    uint64 `json:"sequence"`
	WalletID    string `json:"wallet_id"`
	Kind        string `json:"kind"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Flow        string `json:"flow"`
	ReferenceID string `json:"reference_id"`
	Timestamp   string `json:"timestamp"`
}

// ComputeFingerprint returns hash(prev || canonical(e)) prefixed with the
// hasher name.
func ComputeFingerprint(h security.Hasher, prev string, e *models.LedgerEntry) (string, error) {
	c := content{
		ID:          e.ID.String(),
		Sequence:    e.Sequence,
		WalletID:    e.WalletID.String(),
		Kind:        string(e.Kind),
		Amount:      e.Amount.String(),
		Currency:    e.Currency,
		Flow:        string(e.Flow),
		ReferenceID: e.ReferenceID,
		Timestamp:   e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry %s: %w", e.ID, err)
	}
	data := make([]byte, 0, len(prev)+len(raw))
	data = append(data, prev...)
	data = append(data, raw...)
	return security.Fingerprint(h, data), nil
}

// recompute verifies e with the algorithm named in its own fingerprint.
func recompute(e *models.LedgerEntry) (string, error) {
	h, err := security.HasherFor(e.Fingerprint)
	if err != nil {
		return "", err
	}
	return ComputeFingerprint(h, e.PrevFingerprint, e)
}

// Break describes the first point at which a chain stops verifying.
type Break struct {
	Sequence uint64
	Reason   string
}

func (b *Break) Error() string {
	return fmt.Sprintf("chain broken at sequence %d: %s", b.Sequence, b.Reason)
}

// CheckChain walks entries in order. The shallow pass checks links and
// sequence numbers only; deep also recomputes every fingerprint from content.
func CheckChain(entries []models.LedgerEntry, deep bool) *Break {
	prev := models.GenesisFingerprint
	for i := range entries {
		e := &entries[i]
		if want := uint64(i) + 1; e.Sequence != want {
			return &Break{Sequence: e.Sequence, Reason: fmt.Sprintf("expected sequence %d", want)}
		}
		if e.PrevFingerprint != prev {
			return &Break{Sequence: e.Sequence, Reason: "previous fingerprint does not match predecessor"}
		}
		if deep {
			got, err := recompute(e)
			if err != nil {
				return &Break{Sequence: e.Sequence, Reason: err.Error()}
			}
			if got != e.Fingerprint {
				return &Break{Sequence: e.Sequence, Reason: "fingerprint does not match content"}
			}
		}
		prev = e.Fingerprint
	}
	return nil
}
