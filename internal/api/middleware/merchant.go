package middleware

import (
	"context"
	"net/http"
	"strings"

	apiContext "paycheck/internal/api/context"
	"paycheck/internal/pkg/errors"
	"paycheck/internal/platform/auth"
)

// MerchantID returns the merchant the request is scoped to, or "" outside
// the Merchant middleware.
func MerchantID(ctx context.Context) string {
	id, _ := ctx.Value(apiContext.Merchant).(string)
	return id
}

// Merchant scopes every downstream lookup to the merchant named in the
// token. Handlers never take a merchant id from the request itself.
func Merchant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
		if !ok {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "No authentication claims found", nil)
			return
		}

		merchantID := strings.TrimSpace(claims.MerchantID)
		if merchantID == "" {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Token is not bound to a merchant", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Merchant, merchantID)
		next(w, r.WithContext(ctx))
	}
}
