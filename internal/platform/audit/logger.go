package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	apiContext "paycheck/internal/api/context"
	"paycheck/internal/platform/auth"
	"paycheck/internal/platform/database"
)

type AuditLog struct {
	ID           string                 `json:"id"`
	MerchantID   string                 `json:"merchant_id"`
	UserID       string                 `json:"user_id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Metadata     map[string]interface{} `json:"metadata"`
	IPAddress    string                 `json:"ip_address"`
	UserAgent    string                 `json:"user_agent"`
	CreatedAt    int64                  `json:"created_at"`
}

// Actions recorded for merchant configuration changes.
const (
	ActionReceiverCreated      = "receiver.created"
	ActionReceiverEnabled      = "receiver.enabled"
	ActionReceiverDisabled     = "receiver.disabled"
	ActionWebhookCreated       = "webhook.created"
	ActionWebhookUpdated       = "webhook.updated"
	ActionWebhookDeleted       = "webhook.deleted"
	ActionWebhookSecretRotated = "webhook.secret_rotated"
	ActionDeliveryRetried      = "webhook.delivery_retried"
)

type Logger struct {
	db *database.DB
}

func NewLogger(db *database.DB) *Logger {
	return &Logger{db: db}
}

// Log records an action taken by the authenticated caller in ctx. Failures
// are logged and never surface to the caller.
func (l *Logger) Log(ctx context.Context, action, resourceType, resourceID string, metadata map[string]interface{}) {
	entry := &AuditLog{
		ID:           "audit_" + uuid.New().String(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		IPAddress:    "unknown",
		UserAgent:    "unknown",
		CreatedAt:    time.Now().Unix(),
	}

	if claims, ok := ctx.Value(apiContext.Claims).(*auth.Claims); ok {
		entry.MerchantID = claims.MerchantID
		entry.UserID = claims.UserID
	}

	if req, ok := ctx.Value(apiContext.Request).(*http.Request); ok {
		entry.IPAddress = clientIP(req)
		entry.UserAgent = req.UserAgent()
	}

	if err := l.insert(ctx, entry); err != nil {
		log.Error().Err(err).Str("action", action).Str("resource_id", resourceID).Msg("failed to write audit log")
	}
}

func (l *Logger) insert(ctx context.Context, entry *AuditLog) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_logs (id, merchant_id, user_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = l.db.ExecContext(ctx, l.db.Rebind(query),
		entry.ID, entry.MerchantID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID,
		string(metaJSON), entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	return err
}

// List returns the merchant's most recent audit entries first.
func (l *Logger) List(ctx context.Context, merchantID string, limit int) ([]*AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, merchant_id, user_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at
		FROM audit_logs WHERE merchant_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
	`
	rows, err := l.db.QueryContext(ctx, l.db.Rebind(query), merchantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := []*AuditLog{}
	for rows.Next() {
		var entry AuditLog
		var metaStr sql.NullString
		if err := rows.Scan(&entry.ID, &entry.MerchantID, &entry.UserID, &entry.Action, &entry.ResourceType,
			&entry.ResourceID, &metaStr, &entry.IPAddress, &entry.UserAgent, &entry.CreatedAt); err != nil {
			return nil, err
		}
		if metaStr.Valid && metaStr.String != "" {
			json.Unmarshal([]byte(metaStr.String), &entry.Metadata)
		}
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
