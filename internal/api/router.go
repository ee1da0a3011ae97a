package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "paycheck/internal/api/context"
	"paycheck/internal/api/handlers"
	"paycheck/internal/api/middleware"
	"paycheck/internal/pkg/errors"
	"paycheck/internal/platform/auth"
	"paycheck/internal/platform/metrics"
)

type Dependencies struct {
	VerificationHandler *handlers.VerificationHandler
	IntentHandler       *handlers.IntentHandler
	ReceiverHandler     *handlers.ReceiverHandler
	WebhookHandler      *handlers.WebhookHandler
	AuditHandler        *handlers.AuditHandler
	HealthHandler       *handlers.HealthHandler
	AuthMiddleware      *middleware.AuthMiddleware
	Limiter             middleware.Limiter
	VerifyPerMinute     int
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	router.GET("/health", wrap(deps.HealthHandler.Check))
	router.Handler(http.MethodGet, "/metrics", metrics.Handler())

	authMid := deps.AuthMiddleware.Handle
	merchant := middleware.Merchant
	admin := requireRole("admin", "owner")
	verifyLimit := middleware.RateLimit(deps.Limiter, "verify", deps.VerifyPerMinute)

	route := func(method, path string, handler http.HandlerFunc, mws ...func(http.HandlerFunc) http.HandlerFunc) {
		mws = append([]func(http.HandlerFunc) http.HandlerFunc{authMid, merchant}, mws...)
		router.Handle(method, path, chain(middleware.Instrument(path, handler), mws...))
	}

	// Verifications
	route(http.MethodPost, "/api/v1/verifications", deps.VerificationHandler.Verify, verifyLimit)
	route(http.MethodGet, "/api/v1/verifications", deps.VerificationHandler.List)
	route(http.MethodGet, "/api/v1/verifications/:reference", deps.VerificationHandler.Get)

	// Payment intents
	route(http.MethodPost, "/api/v1/intents", deps.IntentHandler.Create)
	route(http.MethodGet, "/api/v1/intents/:intent_id", deps.IntentHandler.Get)
	route(http.MethodPost, "/api/v1/intents/:intent_id/resolve", deps.IntentHandler.Resolve, verifyLimit)
	route(http.MethodGet, "/api/v1/intents/:intent_id/qr", deps.IntentHandler.QRCode)

	// Receiver accounts
	route(http.MethodPost, "/api/v1/receivers", deps.ReceiverHandler.Create, admin)
	route(http.MethodGet, "/api/v1/receivers", deps.ReceiverHandler.List)
	route(http.MethodPost, "/api/v1/receivers/:receiver_id/enable", deps.ReceiverHandler.Enable, admin)
	route(http.MethodPost, "/api/v1/receivers/:receiver_id/disable", deps.ReceiverHandler.Disable, admin)
	route(http.MethodPost, "/api/v1/providers/:provider/receivers/enable-last", deps.ReceiverHandler.EnableLast, admin)

	// Webhooks
	route(http.MethodPost, "/api/v1/webhooks", deps.WebhookHandler.Create, admin)
	route(http.MethodGet, "/api/v1/webhooks", deps.WebhookHandler.List)
	route(http.MethodGet, "/api/v1/webhooks/:webhook_id", deps.WebhookHandler.Get)
	route(http.MethodPatch, "/api/v1/webhooks/:webhook_id", deps.WebhookHandler.Update, admin)
	route(http.MethodDelete, "/api/v1/webhooks/:webhook_id", deps.WebhookHandler.Delete, admin)
	route(http.MethodPost, "/api/v1/webhooks/:webhook_id/rotate-secret", deps.WebhookHandler.RotateSecret, admin)
	route(http.MethodGet, "/api/v1/webhooks/:webhook_id/deliveries", deps.WebhookHandler.ListDeliveries)
	route(http.MethodPost, "/api/v1/webhooks/:webhook_id/deliveries/:delivery_id/retry", deps.WebhookHandler.Retry, admin)

	route(http.MethodGet, "/api/v1/audit-logs", deps.AuditHandler.List, admin)

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

			allowed := false
			for _, role := range roles {
				if claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}
