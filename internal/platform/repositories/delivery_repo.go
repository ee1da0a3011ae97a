package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"paycheck/internal/platform/database"
	"paycheck/internal/platform/models"
)

const deliveryColumns = `id, webhook_id, merchant_id, event, payload, status, attempt_count, next_attempt_at, created_at, updated_at`

const attemptColumns = `id, delivery_id, webhook_id, event, payload, attempt_number, status, status_code, error_message, created_at, delivered_at`

// ErrAttemptConflict means another worker started the same attempt number.
var ErrAttemptConflict = errors.New("delivery attempt already started")

type DeliveryRepository struct {
	db *database.DB
}

func NewDeliveryRepository(db *database.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

func scanDelivery(row scanner) (*models.Delivery, error) {
	var d models.Delivery
	var next sql.NullInt64
	if err := row.Scan(&d.ID, &d.WebhookID, &d.MerchantID, &d.Event, &d.Payload, &d.Status, &d.AttemptCount, &next, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if next.Valid {
		v := next.Int64
		d.NextAttemptAt = &v
	}
	return &d, nil
}

func scanAttempt(row scanner) (*models.DeliveryAttempt, error) {
	var a models.DeliveryAttempt
	var code sql.NullInt64
	var errMsg sql.NullString
	var deliveredAt sql.NullInt64
	if err := row.Scan(&a.ID, &a.DeliveryID, &a.WebhookID, &a.Event, &a.Payload, &a.AttemptNumber, &a.Status,
		&code, &errMsg, &a.CreatedAt, &deliveredAt); err != nil {
		return nil, err
	}
	if code.Valid {
		v := int(code.Int64)
		a.StatusCode = &v
	}
	if errMsg.Valid {
		a.ErrorMessage = errMsg.String
	}
	if deliveredAt.Valid {
		v := deliveredAt.Int64
		a.DeliveredAt = &v
	}
	return &a, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullCode(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Enqueue stores a PENDING delivery together with its first PENDING
// attempt. leaseUntil is when the scheduler may take the delivery over if
// the first send never completes.
func (r *DeliveryRepository) Enqueue(ctx context.Context, d *models.Delivery, leaseUntil time.Time) (*models.DeliveryAttempt, error) {
	now := time.Now().Unix()
	lease := leaseUntil.Unix()

	d.ID = "dlv_" + uuid.New().String()
	d.Status = models.DeliveryPending
	d.AttemptCount = 1
	d.NextAttemptAt = &lease
	d.CreatedAt = now
	d.UpdatedAt = now

	a := &models.DeliveryAttempt{
		ID:            "att_" + uuid.New().String(),
		DeliveryID:    d.ID,
		WebhookID:     d.WebhookID,
		Event:         d.Event,
		Payload:       d.Payload,
		AttemptNumber: 1,
		Status:        models.AttemptPending,
		CreatedAt:     now,
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), d.ID, d.WebhookID, d.MerchantID, d.Event, d.Payload, d.Status, d.AttemptCount, lease, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := insertAttempt(ctx, r.db, tx, a); err != nil {
		return nil, err
	}

	return a, tx.Commit()
}

func insertAttempt(ctx context.Context, db *database.DB, tx *sql.Tx, a *models.DeliveryAttempt) error {
	_, err := tx.ExecContext(ctx, db.Rebind(`
		INSERT INTO delivery_attempts (`+attemptColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), a.ID, a.DeliveryID, a.WebhookID, a.Event, a.Payload, a.AttemptNumber, a.Status,
		nullCode(a.StatusCode), nullString(a.ErrorMessage), a.CreatedAt, nullInt64(a.DeliveredAt))
	return err
}

// FetchDue returns deliveries whose next attempt time has passed.
func (r *DeliveryRepository) FetchDue(ctx context.Context, now time.Time, limit int) ([]*models.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE status IN ('PENDING', 'RETRYING') AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?
		ORDER BY next_attempt_at, id
		LIMIT ?`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), now.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*models.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Claim moves next_attempt_at from the value the caller read to leaseUntil.
// Only one of several concurrent claimers sees true.
func (r *DeliveryRepository) Claim(ctx context.Context, d *models.Delivery, leaseUntil time.Time) (bool, error) {
	if d.NextAttemptAt == nil {
		return false, nil
	}
	lease := leaseUntil.Unix()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE webhook_deliveries SET next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND next_attempt_at = ? AND status IN ('PENDING', 'RETRYING')
	`), lease, time.Now().Unix(), d.ID, *d.NextAttemptAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		d.NextAttemptAt = &lease
	}
	return n == 1, nil
}

// StartAttempt fails any attempt left PENDING by a crashed sender and
// records attempt number d.AttemptCount+1. A caller whose copy of d is
// stale gets ErrAttemptConflict.
func (r *DeliveryRepository) StartAttempt(ctx context.Context, d *models.Delivery, leaseUntil time.Time) (*models.DeliveryAttempt, error) {
	now := time.Now().Unix()
	lease := leaseUntil.Unix()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE delivery_attempts SET status = 'FAILED', error_message = 'attempt interrupted'
		WHERE delivery_id = ? AND status = 'PENDING'
	`), d.ID)
	if err != nil {
		return nil, err
	}

	current := d.AttemptCount

	a := &models.DeliveryAttempt{
		ID:            "att_" + uuid.New().String(),
		DeliveryID:    d.ID,
		WebhookID:     d.WebhookID,
		Event:         d.Event,
		Payload:       d.Payload,
		AttemptNumber: current + 1,
		Status:        models.AttemptPending,
		CreatedAt:     now,
	}
	if err := insertAttempt(ctx, r.db, tx, a); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrAttemptConflict
		}
		return nil, err
	}

	res, err := tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE webhook_deliveries SET attempt_count = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND attempt_count = ? AND status <> 'SUCCEEDED'
	`), a.AttemptNumber, lease, now, d.ID, current)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrAttemptConflict
	}

	if err := tx.Commit(); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrAttemptConflict
		}
		return nil, err
	}

	d.AttemptCount = a.AttemptNumber
	d.NextAttemptAt = &lease
	d.UpdatedAt = now
	return a, nil
}

// ClaimForRetry leases a delivery for an operator-triggered attempt. It
// reports false while an earlier attempt is still in flight, meaning one is
// PENDING and its lease has not run out at now.
func (r *DeliveryRepository) ClaimForRetry(ctx context.Context, d *models.Delivery, now, leaseUntil time.Time) (bool, error) {
	lease := leaseUntil.Unix()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE webhook_deliveries SET next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND attempt_count = ? AND status <> 'SUCCEEDED'
		AND NOT (next_attempt_at IS NOT NULL AND next_attempt_at > ? AND EXISTS (
			SELECT 1 FROM delivery_attempts
			WHERE delivery_attempts.delivery_id = webhook_deliveries.id AND delivery_attempts.status = 'PENDING'
		))
	`), lease, now.Unix(), d.ID, d.AttemptCount, now.Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		d.NextAttemptAt = &lease
	}
	return n == 1, nil
}

// CompleteAttempt records the attempt result and the delivery's next state.
// nextAttemptAt is nil unless the delivery is RETRYING. The delivery row is
// left alone once it has SUCCEEDED, and a failure only lands while a is
// still the latest attempt. It reports whether the delivery row changed.
func (r *DeliveryRepository) CompleteAttempt(ctx context.Context, a *models.DeliveryAttempt, d *models.Delivery) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE delivery_attempts SET status = ?, status_code = ?, error_message = ?, delivered_at = ?
		WHERE id = ?
	`), a.Status, nullCode(a.StatusCode), nullString(a.ErrorMessage), nullInt64(a.DeliveredAt), a.ID)
	if err != nil {
		return false, err
	}

	now := time.Now().Unix()
	query := `UPDATE webhook_deliveries SET status = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND status <> 'SUCCEEDED'`
	args := []interface{}{d.Status, nullInt64(d.NextAttemptAt), now, d.ID}
	if d.Status != models.DeliverySucceeded {
		query += ` AND attempt_count = ?`
		args = append(args, a.AttemptNumber)
	}

	res, err := tx.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	if n == 1 {
		d.UpdatedAt = now
	}
	return n == 1, nil
}

// GetDelivery returns nil, nil when the delivery does not belong to the
// merchant's webhook.
func (r *DeliveryRepository) GetDelivery(ctx context.Context, merchantID, webhookID, id string) (*models.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE merchant_id = ? AND webhook_id = ? AND id = ?`
	d, err := scanDelivery(r.db.QueryRowContext(ctx, r.db.Rebind(query), merchantID, webhookID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

// ListAttempts returns the webhook's attempts, newest first.
func (r *DeliveryRepository) ListAttempts(ctx context.Context, webhookID string, limit int) ([]*models.DeliveryAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts WHERE webhook_id = ?
		ORDER BY created_at DESC, attempt_number DESC, id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*models.DeliveryAttempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListDeliveryAttempts returns one delivery's attempts in attempt order.
func (r *DeliveryRepository) ListDeliveryAttempts(ctx context.Context, deliveryID string) ([]*models.DeliveryAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts WHERE delivery_id = ? ORDER BY attempt_number`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*models.DeliveryAttempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
