package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/escrow/internal/models"
	"github.com/inaiurai/escrow/internal/permits"
)

// PermitHandler serves /v1/permits endpoints.
type PermitHandler struct {
	Permits permits.Service
	Logger  *slog.Logger
}

func NewPermitHandler(svc permits.Service, log *slog.Logger) *PermitHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PermitHandler{Permits: svc, Logger: log}
}

// --- POST /v1/permits ---

// Create locks the buyer's funds and returns 202; automatic checks continue
// in the background.
func (h *PermitHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	var req permits.CreateInput
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Permits.Create(r.Context(), actor, req)
	if err != nil {
		writeError(w, h.Logger, "create permit", err)
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

// --- GET /v1/permits?status= ---

func (h *PermitHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	out, err := h.Permits.List(r.Context(), actor, models.PermitStatus(r.URL.Query().Get("status")))
	if err != nil {
		writeError(w, h.Logger, "list permits", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- GET /v1/permits/{id} ---

func (h *PermitHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.Permits.Get(r.Context(), actor, id)
	if err != nil {
		writeError(w, h.Logger, "get permit", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- PATCH /v1/permits/{id} ---

func (h *PermitHandler) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req permits.DetailsPatch
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Permits.UpdateDetails(r.Context(), actor, id, req)
	if err != nil {
		writeError(w, h.Logger, "update permit", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type decisionRequest struct {
	Approve bool   `json:"approve"`
	Note    string `json:"note"`
}

// --- POST /v1/permits/{id}/review ---

func (h *PermitHandler) BuyerReview(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "buyer review", h.Permits.BuyerReview)
}

// --- POST /v1/admin/permits/{id}/decision ---

func (h *PermitHandler) AdminDecide(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, "admin decision", h.Permits.AdminDecide)
}

func (h *PermitHandler) decide(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, actor models.Actor, id uuid.UUID, approve bool, note string) (*models.WorkPermit, error)) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := fn(r.Context(), actor, id, req.Approve, req.Note)
	if err != nil {
		writeError(w, h.Logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- POST /v1/admin/permits/{id}/release ---

func (h *PermitHandler) ReleasePayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.Permits.ReleasePayment(r.Context(), actor, id)
	if err != nil {
		writeError(w, h.Logger, "release payment", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type noteRequest struct {
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

// --- POST /v1/permits/{id}/submit ---

func (h *PermitHandler) SubmitWork(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Permits.SubmitWork(r.Context(), actor, id, req.Note)
	if err != nil {
		writeError(w, h.Logger, "submit work", err)
		return
	}
	writeJSON(w, http.StatusAccepted, p)
}

// --- POST /v1/permits/{id}/dispute ---

func (h *PermitHandler) RaiseDispute(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req noteRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Permits.RaiseDispute(r.Context(), actor, id, req.Reason)
	if err != nil {
		writeError(w, h.Logger, "raise dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- POST /v1/admin/permits/{id}/resolve ---

func (h *PermitHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOr401(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req permits.Resolution
	if !decode(w, r, &req) {
		return
	}
	p, err := h.Permits.ResolveDispute(r.Context(), actor, id, req)
	if err != nil {
		writeError(w, h.Logger, "resolve dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
