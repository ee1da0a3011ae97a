package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	apiContext "paycheck/internal/api/context"
	"paycheck/internal/api/middleware"
	"paycheck/internal/engine/verification"
	"paycheck/internal/pkg/errors"
	"paycheck/internal/platform/auth"
)

// retryAfterSeconds is advertised when a provider could not answer.
const retryAfterSeconds = "30"

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return false
	}
	return true
}

func merchantID(r *http.Request) string {
	return middleware.MerchantID(r.Context())
}

func userID(r *http.Request) string {
	if claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims); ok {
		return claims.UserID
	}
	return ""
}

func param(r *http.Request, name string) string {
	params, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return params.ByName(name)
}

func queryInt(r *http.Request, name string, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 1 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Internal server error", nil)
}

// writeVerificationError maps engine outcomes to HTTP. details is sent with
// duplicate and closed-intent responses so callers can see the record.
func writeVerificationError(w http.ResponseWriter, r *http.Request, err error, details interface{}) {
	var verr *verification.Error
	if !stderrors.As(err, &verr) {
		internalError(w, r, err)
		return
	}

	msg := verr.Reason
	if msg == "" {
		msg = string(verr.Kind)
	}

	switch verr.Kind {
	case verification.KindConfiguration:
		errors.WriteError(w, http.StatusUnprocessableEntity, errors.ErrCodeReceiverNotConfigured, msg, nil)
	case verification.KindFormat:
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidReference, msg, nil)
	case verification.KindInvalid:
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, msg, nil)
	case verification.KindNotFound:
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, msg, nil)
	case verification.KindTransient:
		w.Header().Set("Retry-After", retryAfterSeconds)
		errors.WriteError(w, http.StatusServiceUnavailable, errors.ErrCodeProviderUnavailable, msg, nil)
	case verification.KindDuplicate:
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeDuplicateReference, msg, details)
	case verification.KindIntentClosed:
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeIntentClosed, msg, details)
	default:
		internalError(w, r, err)
	}
}
