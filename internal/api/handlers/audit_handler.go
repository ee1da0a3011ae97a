package handlers

import (
	"net/http"

	"paycheck/internal/pkg/errors"
	"paycheck/internal/platform/audit"
)

type AuditHandler struct {
	audit *audit.Logger
}

func NewAuditHandler(auditLogger *audit.Logger) *AuditHandler {
	return &AuditHandler{audit: auditLogger}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	logs, err := h.audit.List(r.Context(), merchantID(r), queryInt(r, "limit", 100, 500))
	if err != nil {
		internalError(w, r, err)
		return
	}
	errors.WriteJSON(w, http.StatusOK, logs)
}
