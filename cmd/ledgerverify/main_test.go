package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/escrow/internal/identity"
	"github.com/inaiurai/escrow/internal/ledger"
	"github.com/inaiurai/escrow/internal/security"
	"github.com/inaiurai/escrow/internal/services"
	"github.com/inaiurai/escrow/internal/store"
)

func writeSnapshot(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "escrow.json")
	m, err := store.OpenMemory(path, nil)
	require.NoError(t, err)
	h, err := security.NewHasher(security.AlgBLAKE3)
	require.NoError(t, err)

	escrow := services.NewEscrowService(m, ledger.New(h, nil, nil), identity.NewDirectory())
	require.NoError(t, escrow.EnsureGateways(ctx, []string{"stripe"}))
	wallet := uuid.New()
	for _, amt := range []int64{100, 250} {
		_, err := escrow.Deposit(ctx, wallet, decimal.NewFromInt(amt), "USD", "stripe")
		require.NoError(t, err)
	}
	return path
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestRun_ValidSnapshot(t *testing.T) {
	path := writeSnapshot(t)
	var out bytes.Buffer
	require.Equal(t, 0, run([]string{"-snapshot", path, "-deep"}, &out, quiet()))
	require.Contains(t, out.String(), "OK: 2 entries verified (deep=true)")
}

func TestRun_DeepCatchesTamperedAmount(t *testing.T) {
	path := writeSnapshot(t)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	first := doc["ledger"].([]any)[0].(map[string]any)
	first["amount"] = "100000"
	raw, err = json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	var out bytes.Buffer
	require.Equal(t, 0, run([]string{"-snapshot", path}, &out, quiet()), "links are intact")
	out.Reset()
	require.Equal(t, 1, run([]string{"-snapshot", path, "-deep"}, &out, quiet()))
	require.Contains(t, out.String(), "INVALID: chain broken at sequence 1")
}

func TestRun_Arguments(t *testing.T) {
	var out bytes.Buffer
	require.Equal(t, 2, run(nil, &out, quiet()))
	require.Equal(t, 1, run([]string{"-snapshot", filepath.Join(t.TempDir(), "missing.json")}, &out, quiet()))
}
