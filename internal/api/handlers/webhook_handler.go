package handlers

import (
	stderrors "errors"
	"net/http"

	"paycheck/internal/engine/webhooks"
	"paycheck/internal/pkg/errors"
	"paycheck/internal/platform/audit"
)

type WebhookHandler struct {
	svc   *webhooks.Service
	audit *audit.Logger
}

func NewWebhookHandler(svc *webhooks.Service, auditLogger *audit.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, audit: auditLogger}
}

func writeWebhookError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case stderrors.Is(err, webhooks.ErrInvalidURL),
		stderrors.Is(err, webhooks.ErrInvalidEvents),
		stderrors.Is(err, webhooks.ErrInvalidStatus):
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
	case stderrors.Is(err, webhooks.ErrWebhookNotFound):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Webhook not found", nil)
	case stderrors.Is(err, webhooks.ErrDeliveryNotFound):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Delivery not found", nil)
	case stderrors.Is(err, webhooks.ErrAlreadyDelivered),
		stderrors.Is(err, webhooks.ErrDeliveryInFlight):
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, err.Error(), nil)
	default:
		internalError(w, r, err)
	}
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
	}
	if !decode(w, r, &req) {
		return
	}

	created, err := h.svc.Create(r.Context(), merchantID(r), req.URL, req.Events)
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), audit.ActionWebhookCreated, "webhook", created.ID, map[string]interface{}{
		"url":    created.URL,
		"events": created.Events,
	})
	errors.WriteJSON(w, http.StatusCreated, created)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), merchantID(r))
	if err != nil {
		internalError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusOK, list)
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	webhook, err := h.svc.Get(r.Context(), merchantID(r), param(r, "webhook_id"))
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusOK, webhook)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req webhooks.UpdateInput
	if !decode(w, r, &req) {
		return
	}

	webhook, err := h.svc.Update(r.Context(), merchantID(r), param(r, "webhook_id"), req)
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), audit.ActionWebhookUpdated, "webhook", webhook.ID, map[string]interface{}{
		"url":    webhook.URL,
		"events": webhook.Events,
		"status": webhook.Status,
	})
	errors.WriteJSON(w, http.StatusOK, webhook)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := param(r, "webhook_id")
	if err := h.svc.Delete(r.Context(), merchantID(r), id); err != nil {
		writeWebhookError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), audit.ActionWebhookDeleted, "webhook", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *WebhookHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	rotated, err := h.svc.RotateSecret(r.Context(), merchantID(r), param(r, "webhook_id"))
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), audit.ActionWebhookSecretRotated, "webhook", rotated.ID, nil)
	errors.WriteJSON(w, http.StatusOK, rotated)
}

func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.svc.ListDeliveries(r.Context(), merchantID(r), param(r, "webhook_id"), queryInt(r, "limit", 50, 100))
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusOK, attempts)
}

func (h *WebhookHandler) Retry(w http.ResponseWriter, r *http.Request) {
	webhookID := param(r, "webhook_id")
	deliveryID := param(r, "delivery_id")

	attempt, err := h.svc.Retry(r.Context(), merchantID(r), webhookID, deliveryID)
	if err != nil {
		writeWebhookError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), audit.ActionDeliveryRetried, "webhook_delivery", deliveryID, map[string]interface{}{
		"webhook_id":     webhookID,
		"attempt_number": attempt.AttemptNumber,
		"status":         attempt.Status,
	})
	errors.WriteJSON(w, http.StatusOK, attempt)
}
