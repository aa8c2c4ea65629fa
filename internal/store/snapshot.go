package store

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/inaiurai/escrow/internal/models"
)

//go:embed snapshot.schema.json
var snapshotSchemaJSON string

var snapshotSchema = jsonschema.MustCompileString("https://inaiurai.dev/schemas/escrow-snapshot.json", snapshotSchemaJSON)

// ErrInvalidSnapshot wraps schema and consistency failures when loading.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Document is the on-disk shape of the in-memory store.
type Document struct {
	Permits            []*models.WorkPermit        `json:"permits"`
	Ledger             []models.LedgerEntry        `json:"ledger"`
	WithdrawalRequests []*models.WithdrawalRequest `json:"withdrawalRequests"`
	Gateways           []*models.GatewayConfig     `json:"gateways"`
	PaymentMethods     []*models.PaymentMethod     `json:"paymentMethods"`
}

// ValidateSnapshot checks raw against the embedded document schema.
func ValidateSnapshot(raw []byte) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if err := snapshotSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return nil
}

// LoadSnapshot reads and validates the document at path. A missing file
// yields (nil, nil).
func LoadSnapshot(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %q: %w", path, err)
	}
	if err := ValidateSnapshot(raw); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return &doc, nil
}

// WriteSnapshot replaces path with doc. The document is written to a
// temporary file in the same directory and renamed over the target, so a
// crash leaves either the previous or the new snapshot.
func WriteSnapshot(path string, doc *Document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func documentFrom(st *state) *Document {
	doc := &Document{
		Permits:            make([]*models.WorkPermit, 0, len(st.permits)),
		Ledger:             slices.Clone(st.entries),
		WithdrawalRequests: make([]*models.WithdrawalRequest, 0, len(st.withdrawals)),
		Gateways:           make([]*models.GatewayConfig, 0, len(st.gateways)),
		PaymentMethods:     make([]*models.PaymentMethod, 0, len(st.methods)),
	}
	for _, p := range st.permits {
		doc.Permits = append(doc.Permits, p)
	}
	sort.Slice(doc.Permits, func(i, j int) bool { return doc.Permits[i].ID.String() < doc.Permits[j].ID.String() })
	for _, w := range st.withdrawals {
		doc.WithdrawalRequests = append(doc.WithdrawalRequests, w)
	}
	sort.Slice(doc.WithdrawalRequests, func(i, j int) bool {
		return doc.WithdrawalRequests[i].ID.String() < doc.WithdrawalRequests[j].ID.String()
	})
	for _, g := range st.gateways {
		doc.Gateways = append(doc.Gateways, g)
	}
	sort.Slice(doc.Gateways, func(i, j int) bool { return doc.Gateways[i].ID < doc.Gateways[j].ID })
	for _, pm := range st.methods {
		doc.PaymentMethods = append(doc.PaymentMethods, pm)
	}
	sort.Slice(doc.PaymentMethods, func(i, j int) bool {
		return doc.PaymentMethods[i].ID.String() < doc.PaymentMethods[j].ID.String()
	})
	return doc
}

// toState rebuilds indexes. Entries must be in contiguous sequence order;
// chain fingerprints are checked by the ledger, not here.
func (d *Document) toState() (*state, error) {
	st := newState()
	for i, e := range d.Ledger {
		if e.Sequence != uint64(i)+1 {
			return nil, fmt.Errorf("%w: entry %s has sequence %d at position %d", ErrInvalidSnapshot, e.ID, e.Sequence, i+1)
		}
		if _, dup := st.entryIdx[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate entry %s", ErrInvalidSnapshot, e.ID)
		}
		st.entryIdx[e.ID] = i
		st.entries = append(st.entries, e)
	}
	for _, p := range d.Permits {
		if p == nil || p.ID == uuid.Nil {
			return nil, fmt.Errorf("%w: permit without id", ErrInvalidSnapshot)
		}
		st.permits[p.ID] = p
	}
	for _, w := range d.WithdrawalRequests {
		st.withdrawals[w.ID] = w
	}
	for _, g := range d.Gateways {
		st.gateways[g.ID] = g
	}
	for _, pm := range d.PaymentMethods {
		st.methods[pm.ID] = pm
	}
	return st, nil
}
