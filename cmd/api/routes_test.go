package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inaiurai/escrow/internal/identity"
	"github.com/inaiurai/escrow/internal/ledger"
	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/security"
	"github.com/inaiurai/escrow/internal/services"
	"github.com/inaiurai/escrow/internal/store"
)

func TestHealthz(t *testing.T) {
	h, err := security.NewHasher(security.AlgSHA256)
	require.NoError(t, err)
	escrow := services.NewEscrowService(store.NewMemory(), ledger.New(h, nil, nil), identity.NewDirectory())
	require.NoError(t, escrow.SetSystemLock(models.SystemActor(), true))

	mux := http.NewServeMux()
	registerOpsRoutes(mux, escrow)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "ok", resp.Status)
	require.True(t, resp.SystemLocked)
	require.False(t, resp.LedgerHalted)
}

func TestMetricsEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	registerOpsRoutes(mux, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
