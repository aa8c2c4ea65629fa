package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/inaiurai/escrow/internal/middleware"
	"github.com/inaiurai/escrow/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the shared error taxonomy onto HTTP status codes. Unknown
// errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, models.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotAuthorized), errors.Is(err, models.ErrTermsNotAccepted):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrSystemLocked):
		return http.StatusLocked
	case errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrFeeExceedsTotal),
		errors.Is(err, models.ErrUnsupportedCurrencyPair),
		errors.Is(err, models.ErrGatewayDisabled):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrChainIntegrityViolation):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError reports err to the client. Internal errors are logged and
// replaced by a generic message.
func writeError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error(op, "error", err)
		http.Error(w, `{"error":"internal error"}`, status)
		return
	}
	if status == http.StatusServiceUnavailable {
		log.Error(op, "error", err, "alert", true)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func actorOr401(w http.ResponseWriter, r *http.Request) (models.Actor, bool) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}
	return actor, ok
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid id"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return false
	}
	return true
}
