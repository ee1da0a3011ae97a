package handlers

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"paycheck/internal/engine/ledger"
	"paycheck/internal/engine/providers"
	"paycheck/internal/engine/verification"
	"paycheck/internal/pkg/errors"
)

type VerificationHandler struct {
	engine *verification.Engine
}

func NewVerificationHandler(engine *verification.Engine) *VerificationHandler {
	return &VerificationHandler{engine: engine}
}

type verificationResponse struct {
	Status         ledger.Status    `json:"status"`
	Checks         ledger.Checks    `json:"checks"`
	Transaction    *ledger.Snapshot `json:"transaction"`
	MismatchReason string           `json:"mismatchReason,omitempty"`
	Record         *ledger.Record   `json:"record"`
}

func newVerificationResponse(rec *ledger.Record) verificationResponse {
	return verificationResponse{
		Status:         rec.Status,
		Checks:         rec.Checks,
		Transaction:    rec.Transaction,
		MismatchReason: rec.MismatchReason,
		Record:         rec,
	}
}

func (h *VerificationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider      string              `json:"provider"`
		Reference     string              `json:"reference"`
		ClaimedAmount decimal.NullDecimal `json:"claimedAmount"`
		TipAmount     decimal.NullDecimal `json:"tipAmount"`
	}
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Reference) == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "reference is required", nil)
		return
	}

	rec, err := h.engine.Verify(r.Context(), verification.Request{
		MerchantID:    merchantID(r),
		Provider:      providers.Provider(strings.ToUpper(strings.TrimSpace(req.Provider))),
		Reference:     req.Reference,
		ClaimedAmount: req.ClaimedAmount,
		TipAmount:     req.TipAmount,
		VerifiedBy:    userID(r),
	})
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

func (h *VerificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.engine.Get(r.Context(), merchantID(r), param(r, "reference"))
	if err != nil {
		writeVerificationError(w, r, err, nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, newVerificationResponse(rec))
}

func (h *VerificationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 100)
	page := queryInt(r, "page", 1, 0)

	f := ledger.ListFilter{
		Status: ledger.Status(strings.ToUpper(r.URL.Query().Get("status"))),
		Limit:  limit,
		Offset: (page - 1) * limit,
	}
	if p := r.URL.Query().Get("provider"); p != "" {
		provider, err := providers.ParseProvider(p)
		if err != nil {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
			return
		}
		f.Provider = provider
	}

	records, err := h.engine.List(r.Context(), merchantID(r), f)
	if err != nil {
		internalError(w, r, err)
		return
	}

	errors.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"data":  records,
		"page":  page,
		"limit": limit,
	})
}
