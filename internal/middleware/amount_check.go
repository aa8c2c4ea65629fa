package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
)

const ctxAmountKey contextKey = "parsed_amount"

type parsedAmount struct {
	Amount decimal.Decimal
}

// AmountFromCtx returns the amount parsed by AmountCheck.
func AmountFromCtx(ctx context.Context) (decimal.Decimal, bool) {
	p, ok := ctx.Value(ctxAmountKey).(*parsedAmount)
	if !ok {
		return decimal.Zero, false
	}
	return p.Amount, true
}

// AmountCheck peeks at the "amount" field of money-moving requests and
// rejects non-positive values and values above max. A zero max disables the
// ceiling. The body is restored so the handler can decode it again.
func AmountCheck(max decimal.Decimal) func(http.Handler) http.Handler {
	return AmountFieldCheck(max, "amount")
}

// AmountFieldCheck is AmountCheck for a body whose money field is named field.
func AmountFieldCheck(max decimal.Decimal, field string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(r.Body)
			r.Body.Close()
			if err != nil {
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var fields map[string]json.RawMessage
			if err := json.Unmarshal(bodyBytes, &fields); err != nil {
				http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
				return
			}
			var peek parsedAmount
			if raw, ok := fields[field]; ok {
				if err := peek.Amount.UnmarshalJSON(raw); err != nil {
					http.Error(w, fmt.Sprintf(`{"error":"%s is not a number"}`, field), http.StatusBadRequest)
					return
				}
			}
			if !peek.Amount.IsPositive() {
				http.Error(w, fmt.Sprintf(`{"error":"%s must be > 0"}`, field), http.StatusBadRequest)
				return
			}
			if max.IsPositive() && peek.Amount.GreaterThan(max) {
				http.Error(w, fmt.Sprintf(`{"error":"%s %s exceeds per-request limit %s"}`, field, peek.Amount, max), http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ctxAmountKey, &peek)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
