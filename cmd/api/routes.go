package main

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inaiurai/escrow/internal/services"
)

type healthResponse struct {
	Status       string `json:"status"`
	LedgerHalted bool   `json:"ledger_halted"`
	SystemLocked bool   `json:"system_locked"`
}

// registerOpsRoutes adds the unauthenticated operational endpoints. A halted
// ledger reports 503 so load balancers stop routing writes to this instance.
func registerOpsRoutes(mux *http.ServeMux, escrow *services.EscrowService) {
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:       "ok",
			LedgerHalted: escrow.Ledger.Halted(),
			SystemLocked: escrow.SystemLocked(),
		}
		code := http.StatusOK
		if resp.LedgerHalted {
			resp.Status = "halted"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})
}
