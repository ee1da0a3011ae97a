package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"paycheck/internal/platform/database"
	"paycheck/internal/platform/models"
)

const webhookColumns = `id, merchant_id, url, events, secret_ciphertext, status, last_triggered_at, last_error, created_at, updated_at`

type WebhookRepository struct {
	db *database.DB
}

func NewWebhookRepository(db *database.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanWebhook(row scanner) (*models.Webhook, error) {
	var w models.Webhook
	var eventsStr string
	var lastTriggeredAt sql.NullInt64
	var lastError sql.NullString

	err := row.Scan(&w.ID, &w.MerchantID, &w.URL, &eventsStr, &w.SecretCipher, &w.Status,
		&lastTriggeredAt, &lastError, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if lastTriggeredAt.Valid {
		v := lastTriggeredAt.Int64
		w.LastTriggeredAt = &v
	}
	if lastError.Valid {
		w.LastError = lastError.String
	}
	json.Unmarshal([]byte(eventsStr), &w.Events)

	return &w, nil
}

func (r *WebhookRepository) Create(ctx context.Context, webhook *models.Webhook) error {
	webhook.ID = "wh_" + uuid.New().String()
	webhook.CreatedAt = time.Now().Unix()
	webhook.UpdatedAt = webhook.CreatedAt
	if webhook.Status == "" {
		webhook.Status = models.WebhookActive
	}

	eventsJSON, err := json.Marshal(webhook.Events)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhooks (id, merchant_id, url, events, secret_ciphertext, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), webhook.ID, webhook.MerchantID, webhook.URL, string(eventsJSON),
		webhook.SecretCipher, webhook.Status, webhook.CreatedAt, webhook.UpdatedAt)
	return err
}

// GetByID returns nil, nil when the merchant has no such webhook.
func (r *WebhookRepository) GetByID(ctx context.Context, merchantID, id string) (*models.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE merchant_id = ? AND id = ?`
	w, err := scanWebhook(r.db.QueryRowContext(ctx, r.db.Rebind(query), merchantID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func (r *WebhookRepository) List(ctx context.Context, merchantID string) ([]*models.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE merchant_id = ? ORDER BY created_at DESC, id DESC`
	return r.query(ctx, query, merchantID)
}

// ListForEvent returns the merchant's ACTIVE webhooks subscribed to event.
func (r *WebhookRepository) ListForEvent(ctx context.Context, merchantID, event string) ([]*models.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks WHERE merchant_id = ? AND status = 'ACTIVE' ORDER BY created_at, id`
	all, err := r.query(ctx, query, merchantID)
	if err != nil {
		return nil, err
	}

	// Events are a JSON array column, filtered here to stay portable.
	matched := []*models.Webhook{}
	for _, w := range all {
		if w.Subscribed(event) {
			matched = append(matched, w)
		}
	}
	return matched, nil
}

func (r *WebhookRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.Webhook, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	webhooks := []*models.Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (r *WebhookRepository) Update(ctx context.Context, webhook *models.Webhook) error {
	eventsJSON, err := json.Marshal(webhook.Events)
	if err != nil {
		return err
	}
	webhook.UpdatedAt = time.Now().Unix()

	query := `
		UPDATE webhooks
		SET url = ?, events = ?, secret_ciphertext = ?, status = ?, updated_at = ?
		WHERE merchant_id = ? AND id = ?
	`
	_, err = r.db.ExecContext(ctx, r.db.Rebind(query), webhook.URL, string(eventsJSON), webhook.SecretCipher,
		webhook.Status, webhook.UpdatedAt, webhook.MerchantID, webhook.ID)
	return err
}

// Delete reports whether a webhook was removed. Its deliveries and
// attempts go with it.
func (r *WebhookRepository) Delete(ctx context.Context, merchantID, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM delivery_attempts WHERE webhook_id = ?`), id); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM webhook_deliveries WHERE webhook_id = ? AND merchant_id = ?`), id, merchantID); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, r.db.Rebind(`DELETE FROM webhooks WHERE merchant_id = ? AND id = ?`), merchantID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	return true, tx.Commit()
}

// MarkFailed flips a subscription to FAILED after its deliveries are exhausted.
func (r *WebhookRepository) MarkFailed(ctx context.Context, id, lastError string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE webhooks SET status = 'FAILED', last_error = ?, updated_at = ? WHERE id = ?`),
		lastError, time.Now().Unix(), id)
	return err
}

func (r *WebhookRepository) UpdateLastTriggered(ctx context.Context, id string, timestamp int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE webhooks SET last_triggered_at = ? WHERE id = ?`), timestamp, id)
	return err
}

func (r *WebhookRepository) UpdateLastError(ctx context.Context, id, lastError string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE webhooks SET last_error = ? WHERE id = ?`), lastError, id)
	return err
}
