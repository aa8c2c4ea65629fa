package store

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/inaiurai/escrow/internal/models"
)

// state is never mutated after it has been published; each transaction
// works on a clone and the clone replaces it on commit.
type state struct {
	entries     []models.LedgerEntry
	entryIdx    map[uuid.UUID]int
	permits     map[uuid.UUID]*models.WorkPermit
	withdrawals map[uuid.UUID]*models.WithdrawalRequest
	methods     map[uuid.UUID]*models.PaymentMethod
	gateways    map[string]*models.GatewayConfig
}

func newState() *state {
	return &state{
		entryIdx:    make(map[uuid.UUID]int),
		permits:     make(map[uuid.UUID]*models.WorkPermit),
		withdrawals: make(map[uuid.UUID]*models.WithdrawalRequest),
		methods:     make(map[uuid.UUID]*models.PaymentMethod),
		gateways:    make(map[string]*models.GatewayConfig),
	}
}

// clone copies containers only. Records stored behind pointers are replaced,
// never edited, so sharing them between generations is safe.
func (s *state) clone() *state {
	return &state{
		entries:     slices.Clone(s.entries),
		entryIdx:    maps.Clone(s.entryIdx),
		permits:     maps.Clone(s.permits),
		withdrawals: maps.Clone(s.withdrawals),
		methods:     maps.Clone(s.methods),
		gateways:    maps.Clone(s.gateways),
	}
}

// Memory is a Store held in process memory. With a snapshot path set, every
// commit is first written to disk atomically; a failed write rolls the
// transaction back.
type Memory struct {
	writeMu sync.Mutex // serializes WithTx
	mu      sync.RWMutex
	cur     *state

	snapshotPath string
	logger       *slog.Logger
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty, non-persistent store.
func NewMemory() *Memory {
	return &Memory{cur: newState(), logger: slog.Default()}
}

// OpenMemory loads the snapshot at path, if one exists, and persists every
// later commit back to it.
func OpenMemory(path string, logger *slog.Logger) (*Memory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Memory{cur: newState(), snapshotPath: path, logger: logger}
	doc, err := LoadSnapshot(path)
	if err != nil {
		return nil, err
	}
	if doc != nil {
		st, err := doc.toState()
		if err != nil {
			return nil, fmt.Errorf("load snapshot %q: %w", path, err)
		}
		m.cur = st
		logger.Info("snapshot loaded", "path", path, "entries", len(st.entries), "permits", len(st.permits))
	}
	return m, nil
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hooks, err := m.apply(fn)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		hook()
	}
	return nil
}

func (m *Memory) apply(fn func(tx Tx) error) ([]func(), error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.RLock()
	tx := &memTx{view: view{st: m.cur.clone()}}
	m.mu.RUnlock()

	if err := fn(tx); err != nil {
		return nil, err
	}
	if m.snapshotPath != "" {
		if err := WriteSnapshot(m.snapshotPath, documentFrom(tx.st)); err != nil {
			return nil, fmt.Errorf("persist snapshot: %w", err)
		}
	}
	m.mu.Lock()
	m.cur = tx.st
	m.mu.Unlock()
	return tx.hooks, nil
}

func (m *Memory) Read(ctx context.Context, fn func(r Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	st := m.cur
	m.mu.RUnlock()
	return fn(view{st: st})
}

// Snapshot returns the current committed state as a document.
func (m *Memory) Snapshot() *Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return documentFrom(m.cur)
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

type view struct {
	st *state
}

func (v view) LastEntry(_ context.Context) (*models.LedgerEntry, error) {
	if len(v.st.entries) == 0 {
		return nil, nil
	}
	e := v.st.entries[len(v.st.entries)-1]
	return &e, nil
}

func (v view) GetEntry(_ context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	i, ok := v.st.entryIdx[id]
	if !ok {
		return nil, fmt.Errorf("ledger entry %s: %w", id, models.ErrNotFound)
	}
	e := v.st.entries[i]
	return &e, nil
}

func (v view) ListEntries(_ context.Context, f EntryFilter) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for i := range v.st.entries {
		if f.Match(&v.st.entries[i]) {
			out = append(out, v.st.entries[i])
		}
	}
	return out, nil
}

func (v view) GetPermit(_ context.Context, id uuid.UUID) (*models.WorkPermit, error) {
	p, ok := v.st.permits[id]
	if !ok {
		return nil, fmt.Errorf("permit %s: %w", id, models.ErrNotFound)
	}
	return p.Clone(), nil
}

func (v view) ListPermits(_ context.Context, f PermitFilter) ([]*models.WorkPermit, error) {
	var out []*models.WorkPermit
	for _, p := range v.st.permits {
		if f.Match(p) {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (v view) GetWithdrawal(_ context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	w, ok := v.st.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("withdrawal %s: %w", id, models.ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (v view) ListWithdrawals(_ context.Context, walletID uuid.UUID) ([]*models.WithdrawalRequest, error) {
	var out []*models.WithdrawalRequest
	for _, w := range v.st.withdrawals {
		if walletID == uuid.Nil || w.WalletID == walletID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (v view) GetMethod(_ context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	pm, ok := v.st.methods[id]
	if !ok {
		return nil, fmt.Errorf("payment method %s: %w", id, models.ErrNotFound)
	}
	cp := *pm
	return &cp, nil
}

func (v view) ListMethods(_ context.Context, walletID uuid.UUID) ([]*models.PaymentMethod, error) {
	var out []*models.PaymentMethod
	for _, pm := range v.st.methods {
		if pm.WalletID == walletID {
			cp := *pm
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (v view) GetGateway(_ context.Context, id string) (*models.GatewayConfig, error) {
	g, ok := v.st.gateways[id]
	if !ok {
		return nil, fmt.Errorf("gateway %q: %w", id, models.ErrNotFound)
	}
	cp := *g
	return &cp, nil
}

func (v view) ListGateways(_ context.Context) ([]*models.GatewayConfig, error) {
	out := make([]*models.GatewayConfig, 0, len(v.st.gateways))
	for _, g := range v.st.gateways {
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

type memTx struct {
	view
	hooks []func()
}

func (t *memTx) InsertEntry(_ context.Context, e *models.LedgerEntry) error {
	if _, dup := t.st.entryIdx[e.ID]; dup {
		return fmt.Errorf("ledger entry %s already exists", e.ID)
	}
	if want := uint64(len(t.st.entries)) + 1; e.Sequence != want {
		return fmt.Errorf("ledger entry sequence %d, want %d", e.Sequence, want)
	}
	t.st.entryIdx[e.ID] = len(t.st.entries)
	t.st.entries = append(t.st.entries, *e)
	return nil
}

func (t *memTx) UpdateEntryStatus(_ context.Context, id uuid.UUID, status models.EntryStatus) error {
	i, ok := t.st.entryIdx[id]
	if !ok {
		return fmt.Errorf("ledger entry %s: %w", id, models.ErrNotFound)
	}
	t.st.entries[i].Status = status
	return nil
}

func (t *memTx) InsertPermit(_ context.Context, p *models.WorkPermit) error {
	if _, dup := t.st.permits[p.ID]; dup {
		return fmt.Errorf("permit %s already exists", p.ID)
	}
	t.st.permits[p.ID] = p.Clone()
	return nil
}

func (t *memTx) UpdatePermit(_ context.Context, p *models.WorkPermit) error {
	if _, ok := t.st.permits[p.ID]; !ok {
		return fmt.Errorf("permit %s: %w", p.ID, models.ErrNotFound)
	}
	t.st.permits[p.ID] = p.Clone()
	return nil
}

func (t *memTx) InsertWithdrawal(_ context.Context, w *models.WithdrawalRequest) error {
	if _, dup := t.st.withdrawals[w.ID]; dup {
		return fmt.Errorf("withdrawal %s already exists", w.ID)
	}
	cp := *w
	t.st.withdrawals[w.ID] = &cp
	return nil
}

func (t *memTx) UpdateWithdrawal(_ context.Context, w *models.WithdrawalRequest) error {
	if _, ok := t.st.withdrawals[w.ID]; !ok {
		return fmt.Errorf("withdrawal %s: %w", w.ID, models.ErrNotFound)
	}
	cp := *w
	t.st.withdrawals[w.ID] = &cp
	return nil
}

func (t *memTx) InsertMethod(_ context.Context, pm *models.PaymentMethod) error {
	if _, dup := t.st.methods[pm.ID]; dup {
		return fmt.Errorf("payment method %s already exists", pm.ID)
	}
	cp := *pm
	t.st.methods[pm.ID] = &cp
	return nil
}

func (t *memTx) UpsertGateway(_ context.Context, g *models.GatewayConfig) error {
	cp := *g
	t.st.gateways[g.ID] = &cp
	return nil
}

func (t *memTx) OnCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}
