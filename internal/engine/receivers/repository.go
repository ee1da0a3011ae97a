package receivers

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"paycheck/internal/engine/providers"
	"paycheck/internal/platform/database"
)

const accountColumns = `id, merchant_id, provider, account_number, account_holder_name, label, status, created_at, updated_at, deactivated_at`

type Repository struct {
	db  *database.DB
	now func() time.Time
}

func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row scanner) (*Account, error) {
	var a Account
	var provider string
	var deactivatedAt sql.NullInt64

	err := row.Scan(&a.ID, &a.MerchantID, &provider, &a.AccountNumber, &a.AccountHolderName, &a.Label,
		&a.Status, &a.CreatedAt, &a.UpdatedAt, &deactivatedAt)
	if err != nil {
		return nil, err
	}

	a.Provider = providers.Provider(provider)
	if deactivatedAt.Valid {
		v := deactivatedAt.Int64
		a.DeactivatedAt = &v
	}
	return &a, nil
}

func (r *Repository) Create(ctx context.Context, a *Account) error {
	now := r.now().Unix()
	a.ID = "rcv_" + uuid.New().String()
	a.Status = StatusInactive
	a.CreatedAt = now
	a.UpdatedAt = now

	query := `
		INSERT INTO receiver_accounts (id, merchant_id, provider, account_number, account_holder_name, label, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(query), a.ID, a.MerchantID, string(a.Provider), a.AccountNumber,
		a.AccountHolderName, a.Label, a.Status, a.CreatedAt, a.UpdatedAt)
	return err
}

// GetByID returns nil, nil when the account does not exist for the merchant.
func (r *Repository) GetByID(ctx context.Context, merchantID, id string) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM receiver_accounts WHERE merchant_id = ? AND id = ?`
	a, err := scanAccount(r.db.QueryRowContext(ctx, r.db.Rebind(query), merchantID, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetActive returns nil, nil when the merchant has no ACTIVE account for provider.
func (r *Repository) GetActive(ctx context.Context, merchantID string, provider providers.Provider) (*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM receiver_accounts WHERE merchant_id = ? AND provider = ? AND status = 'ACTIVE'`
	a, err := scanAccount(r.db.QueryRowContext(ctx, r.db.Rebind(query), merchantID, string(provider)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// LastDeactivated returns the INACTIVE account deactivated most recently,
// ties broken by latest update and then id.
func (r *Repository) LastDeactivated(ctx context.Context, merchantID string, provider providers.Provider) (*Account, error) {
	query := `
		SELECT ` + accountColumns + ` FROM receiver_accounts
		WHERE merchant_id = ? AND provider = ? AND status = 'INACTIVE' AND deactivated_at IS NOT NULL
		ORDER BY deactivated_at DESC, updated_at DESC, id DESC
		LIMIT 1
	`
	a, err := scanAccount(r.db.QueryRowContext(ctx, r.db.Rebind(query), merchantID, string(provider)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (r *Repository) List(ctx context.Context, merchantID string, provider providers.Provider) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM receiver_accounts WHERE merchant_id = ?`
	args := []interface{}{merchantID}
	if provider != "" {
		query += ` AND provider = ?`
		args = append(args, string(provider))
	}
	query += ` ORDER BY provider, created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []*Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Activate makes id the ACTIVE account for its (merchant, provider) pair,
// deactivating the previous one in the same transaction.
func (r *Repository) Activate(ctx context.Context, merchantID, id string) (*Account, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT ` + accountColumns + ` FROM receiver_accounts WHERE merchant_id = ? AND id = ?`
	a, err := scanAccount(tx.QueryRowContext(ctx, r.db.Rebind(query), merchantID, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if a.Active() {
		return a, nil
	}

	now := r.now().Unix()

	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE receiver_accounts SET status = 'INACTIVE', deactivated_at = ?, updated_at = ?
		WHERE merchant_id = ? AND provider = ? AND status = 'ACTIVE'
	`), now, now, merchantID, string(a.Provider))
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, r.db.Rebind(`
		UPDATE receiver_accounts SET status = 'ACTIVE', deactivated_at = NULL, updated_at = ?
		WHERE id = ?
	`), now, a.ID)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}

	a.Status = StatusActive
	a.DeactivatedAt = nil
	a.UpdatedAt = now
	return a, nil
}

// Deactivate marks id INACTIVE. Deactivating an INACTIVE account is a no-op.
func (r *Repository) Deactivate(ctx context.Context, merchantID, id string) (*Account, error) {
	now := r.now().Unix()

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE receiver_accounts SET status = 'INACTIVE', deactivated_at = ?, updated_at = ?
		WHERE merchant_id = ? AND id = ? AND status = 'ACTIVE'
	`), now, now, merchantID, id)
	if err != nil {
		return nil, err
	}

	a, err := r.GetByID(ctx, merchantID, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	return a, nil
}
