package handlers

import (
	stderrors "errors"
	"net/http"
	"strings"

	"paycheck/internal/engine/providers"
	"paycheck/internal/engine/receivers"
	"paycheck/internal/pkg/errors"
	"paycheck/internal/platform/audit"
)

type ReceiverHandler struct {
	svc   *receivers.Service
	audit *audit.Logger
}

func NewReceiverHandler(svc *receivers.Service, auditLogger *audit.Logger) *ReceiverHandler {
	return &ReceiverHandler{svc: svc, audit: auditLogger}
}

func writeReceiverError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case stderrors.Is(err, receivers.ErrInvalidInput):
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
	case stderrors.Is(err, receivers.ErrNotFound):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Receiver account not found", nil)
	case stderrors.Is(err, receivers.ErrNoPrevious):
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, err.Error(), nil)
	case stderrors.Is(err, receivers.ErrConflict):
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, err.Error(), nil)
	default:
		internalError(w, r, err)
	}
}

func (h *ReceiverHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider          string `json:"provider"`
		AccountNumber     string `json:"accountNumber"`
		AccountHolderName string `json:"accountHolderName"`
		Label             string `json:"label"`
		Activate          bool   `json:"activate"`
	}
	if !decode(w, r, &req) {
		return
	}

	account, err := h.svc.Create(r.Context(), merchantID(r), receivers.CreateInput{
		Provider:          providers.Provider(strings.ToUpper(strings.TrimSpace(req.Provider))),
		AccountNumber:     req.AccountNumber,
		AccountHolderName: req.AccountHolderName,
		Label:             req.Label,
		Activate:          req.Activate,
	})
	if err != nil {
		writeReceiverError(w, r, err)
		return
	}

	h.audit.Log(r.Context(), audit.ActionReceiverCreated, "receiver_account", account.ID, map[string]interface{}{
		"provider": account.Provider,
		"status":   account.Status,
	})
	errors.WriteJSON(w, http.StatusCreated, account)
}

func (h *ReceiverHandler) List(w http.ResponseWriter, r *http.Request) {
	var provider providers.Provider
	if p := r.URL.Query().Get("provider"); p != "" {
		parsed, err := providers.ParseProvider(p)
		if err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
			return
		}
		provider = parsed
	}

	accounts, err := h.svc.List(r.Context(), merchantID(r), provider)
	if err != nil {
		internalError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusOK, accounts)
}

func (h *ReceiverHandler) Enable(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.Enable(r.Context(), merchantID(r), param(r, "receiver_id"))
	if err != nil {
		writeReceiverError(w, r, err)
		return
	}
	h.audit.Log(r.Context(), audit.ActionReceiverEnabled, "receiver_account", account.ID, map[string]interface{}{"provider": account.Provider})
	errors.WriteJSON(w, http.StatusOK, account)
}

func (h *ReceiverHandler) Disable(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.Disable(r.Context(), merchantID(r), param(r, "receiver_id"))
	if err != nil {
		writeReceiverError(w, r, err)
		return
	}
	h.audit.Log(r.Context(), audit.ActionReceiverDisabled, "receiver_account", account.ID, map[string]interface{}{"provider": account.Provider})
	errors.WriteJSON(w, http.StatusOK, account)
}

func (h *ReceiverHandler) EnableLast(w http.ResponseWriter, r *http.Request) {
	provider, err := providers.ParseProvider(param(r, "provider"))
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	account, err := h.svc.EnableLast(r.Context(), merchantID(r), provider)
	if err != nil {
		writeReceiverError(w, r, err)
		return
	}
	h.audit.Log(r.Context(), audit.ActionReceiverEnabled, "receiver_account", account.ID, map[string]interface{}{
		"provider": account.Provider,
		"via":      "enable_last",
	})
	errors.WriteJSON(w, http.StatusOK, account)
}
