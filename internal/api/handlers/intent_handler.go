package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"paycheck/internal/engine/ledger"
	"paycheck/internal/engine/providers"
	"paycheck/internal/engine/receivers"
	"paycheck/internal/engine/verification"
	"paycheck/internal/pkg/errors"
)

type IntentHandler struct {
	engine    *verification.Engine
	receivers *receivers.Service
}

func NewIntentHandler(engine *verification.Engine, receivers *receivers.Service) *IntentHandler {
	return &IntentHandler{engine: engine, receivers: receivers}
}

type intentResponse struct {
	*ledger.Record
	PaymentURI string `json:"paymentUri,omitempty"`
}

func (h *IntentHandler) withPaymentURI(r *http.Request, rec *ledger.Record) intentResponse {
	resp := intentResponse{Record: rec}
	if rec.Status != ledger.StatusPending {
		return resp
	}
	if account, err := h.receivers.Active(r.Context(), rec.MerchantID, rec.Provider); err == nil && account != nil {
		resp.PaymentURI = verification.PaymentURI(rec, account)
	}
	return resp
}

func (h *IntentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider  string              `json:"provider"`
		Amount    decimal.Decimal     `json:"amount"`
		TipAmount decimal.NullDecimal `json:"tipAmount"`
	}
	if !decode(w, r, &req) {
		return
	}

	rec, err := h.engine.CreateIntent(r.Context(), verification.IntentRequest{
		MerchantID: merchantID(r),
		Provider:   providers.Provider(strings.ToUpper(strings.TrimSpace(req.Provider))),
		Amount:     req.Amount,
		TipAmount:  req.TipAmount,
		CreatedBy:  userID(r),
	})
	if err != nil {
		writeVerificationError(w, r, err, nil)
		return
	}

	errors.WriteJSON(w, http.StatusCreated, h.withPaymentURI(r, rec))
}

func (h *IntentHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.GetByID(r.Context(), merchantID(r), param(r, "intent_id"))
	if err != nil {
		writeVerificationError(w, r, err, nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, h.withPaymentURI(r, rec))
}

func (h *IntentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string `json:"reference"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reference) == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "reference is required", nil)
		return
	}

	rec, err := h.engine.ResolveIntent(r.Context(), merchantID(r), param(r, "intent_id"), req.Reference, userID(r))
	if err != nil {
		var details interface{}
		if rec != nil {
			details = newVerificationResponse(rec)
		}
		writeVerificationError(w, r, err, details)
		return
	}

	errors.WriteJSON(w, http.StatusOK, newVerificationResponse(rec))
}

func (h *IntentHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.GetByID(r.Context(), merchantID(r), param(r, "intent_id"))
	if err != nil {
		writeVerificationError(w, r, err, nil)
		return
	}
	if rec.Status != ledger.StatusPending {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeIntentClosed, "intent is "+string(rec.Status), nil)
		return
	}

	account, err := h.receivers.Active(r.Context(), rec.MerchantID, rec.Provider)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if account == nil {
		errors.WriteError(w, http.StatusUnprocessableEntity, errors.ErrCodeReceiverNotConfigured, "no active receiver account for "+string(rec.Provider), nil)
		return
	}

	size, _ := strconv.Atoi(r.URL.Query().Get("size"))
	png, err := verification.IntentQRCode(rec, account, size)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
