package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"paycheck/internal/engine/providers"
	"paycheck/internal/platform/database"
)

const recordColumns = `id, merchant_id, provider, reference, claimed_amount, tip_amount, status,
	reference_found, receiver_matches, amount_matches, mismatch_reason,
	receiver_account, receiver_name, provider_amount, sender_name, raw_payload,
	verified_at, verified_by, expires_at, created_at, updated_at`

type Repository struct {
	db  *database.DB
	now func() time.Time
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// SetClock replaces the time source. Tests use it to control expiry.
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	var provider, status string
	var snap Snapshot
	var raw sql.NullString
	var verifiedAt, expiresAt sql.NullInt64

	err := row.Scan(&rec.ID, &rec.MerchantID, &provider, &rec.Reference, &rec.ClaimedAmount, &rec.TipAmount, &status,
		&rec.Checks.ReferenceFound, &rec.Checks.ReceiverMatches, &rec.Checks.AmountMatches, &rec.MismatchReason,
		&snap.ReceiverAccount, &snap.ReceiverName, &snap.Amount, &snap.SenderName, &raw,
		&verifiedAt, &rec.VerifiedBy, &expiresAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rec.Provider = providers.Provider(provider)
	rec.Status = Status(status)
	if raw.Valid {
		snap.Reference = rec.Reference
		snap.Raw = []byte(raw.String)
		rec.Transaction = &snap
	}
	if verifiedAt.Valid {
		v := verifiedAt.Int64
		rec.VerifiedAt = &v
	}
	if expiresAt.Valid {
		v := expiresAt.Int64
		rec.ExpiresAt = &v
	}
	return &rec, nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// snapshotArgs flattens the transaction snapshot into its columns.
func snapshotArgs(s *Snapshot) (string, string, decimal.NullDecimal, string, sql.NullString) {
	if s == nil {
		return "", "", decimal.NullDecimal{}, "", sql.NullString{}
	}
	raw := sql.NullString{String: string(s.Raw), Valid: true}
	if len(s.Raw) == 0 {
		raw.String = "{}"
	}
	return s.ReceiverAccount, s.ReceiverName, s.Amount, s.SenderName, raw
}

func (r *Repository) insert(ctx context.Context, rec *Record) error {
	now := r.now().Unix()
	if rec.ID == "" {
		rec.ID = "ver_" + uuid.New().String()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == StatusVerified && rec.VerifiedAt == nil {
		rec.VerifiedAt = &now
	}

	account, name, amount, sender, raw := snapshotArgs(rec.Transaction)

	query := `
		INSERT INTO verification_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		rec.ID, rec.MerchantID, string(rec.Provider), rec.Reference, rec.ClaimedAmount, rec.TipAmount, string(rec.Status),
		rec.Checks.ReferenceFound, rec.Checks.ReceiverMatches, rec.Checks.AmountMatches, rec.MismatchReason,
		account, name, amount, sender, raw,
		nullInt(rec.VerifiedAt), rec.VerifiedBy, nullInt(rec.ExpiresAt), rec.CreatedAt, rec.UpdatedAt)
	return err
}

// InsertIfAbsent stores rec. When rec is VERIFIED and another record already
// holds the reference, nothing is written and the holder is returned with
// inserted=false. A lost race is an ordinary outcome, not an error.
func (r *Repository) InsertIfAbsent(ctx context.Context, rec *Record) (bool, *Record, error) {
	err := r.insert(ctx, rec)
	if err == nil {
		return true, nil, nil
	}
	if !database.IsUniqueViolation(err) || rec.Status != StatusVerified {
		return false, nil, err
	}

	rec.ID = ""
	rec.VerifiedAt = nil
	existing, err := r.FindVerified(ctx, rec.MerchantID, rec.Provider, rec.Reference)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

// CreatePending stores an intent awaiting a reference until expiresAt.
func (r *Repository) CreatePending(ctx context.Context, rec *Record, expiresAt time.Time) error {
	exp := expiresAt.Unix()
	rec.Status = StatusPending
	rec.ExpiresAt = &exp
	return r.insert(ctx, rec)
}

// Resolve moves a PENDING record to rec.Status. It returns ErrNotPending
// when the record already left PENDING and ErrDuplicate when the reference
// is verified elsewhere.
func (r *Repository) Resolve(ctx context.Context, rec *Record) error {
	now := r.now().Unix()
	if rec.Status == StatusVerified && rec.VerifiedAt == nil {
		rec.VerifiedAt = &now
	}

	account, name, amount, sender, raw := snapshotArgs(rec.Transaction)

	query := `
		UPDATE verification_records SET
			reference = ?, status = ?, reference_found = ?, receiver_matches = ?, amount_matches = ?,
			mismatch_reason = ?, receiver_account = ?, receiver_name = ?, provider_amount = ?, sender_name = ?,
			raw_payload = ?, verified_at = ?, verified_by = ?, updated_at = ?
		WHERE id = ? AND merchant_id = ? AND status = 'PENDING'
	`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query),
		rec.Reference, string(rec.Status), rec.Checks.ReferenceFound, rec.Checks.ReceiverMatches, rec.Checks.AmountMatches,
		rec.MismatchReason, account, name, amount, sender,
		raw, nullInt(rec.VerifiedAt), rec.VerifiedBy, now,
		rec.ID, rec.MerchantID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			rec.VerifiedAt = nil
			return ErrDuplicate
		}
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	rec.UpdatedAt = now
	return nil
}

// MarkExpired moves every PENDING record whose expiry is at or before
// olderThan to EXPIRED and returns how many changed.
func (r *Repository) MarkExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE verification_records SET status = 'EXPIRED', updated_at = ?
		WHERE status = 'PENDING' AND expires_at IS NOT NULL AND expires_at <= ?
	`), r.now().Unix(), olderThan.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FindVerified returns nil, nil when the reference has not been consumed.
func (r *Repository) FindVerified(ctx context.Context, merchantID string, provider providers.Provider, reference string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM verification_records
		WHERE merchant_id = ? AND provider = ? AND reference = ? AND status = 'VERIFIED'`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, r.db.Rebind(query), merchantID, string(provider), reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Get returns the VERIFIED record for reference if there is one, otherwise
// the most recent attempt.
func (r *Repository) Get(ctx context.Context, merchantID, reference string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM verification_records
		WHERE merchant_id = ? AND reference = ?
		ORDER BY CASE WHEN status = 'VERIFIED' THEN 0 ELSE 1 END, created_at DESC, updated_at DESC, id DESC
		LIMIT 1`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, r.db.Rebind(query), merchantID, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r *Repository) GetByID(ctx context.Context, merchantID, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM verification_records WHERE merchant_id = ? AND id = ?`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, r.db.Rebind(query), merchantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

type ListFilter struct {
	Status   Status
	Provider providers.Provider
	Limit    int
	Offset   int
}

func (r *Repository) List(ctx context.Context, merchantID string, f ListFilter) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM verification_records WHERE merchant_id = ?`
	args := []interface{}{merchantID}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Provider != "" {
		query += ` AND provider = ?`
		args = append(args, string(f.Provider))
	}

	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
