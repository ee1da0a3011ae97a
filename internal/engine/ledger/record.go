// Package ledger stores verification records. A reference can be attempted
// any number of times but is consumed into VERIFIED at most once per
// merchant and provider.
package ledger

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
	"paycheck/internal/engine/providers"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusVerified   Status = "VERIFIED"
	StatusUnverified Status = "UNVERIFIED"
	StatusFailed     Status = "FAILED"
	StatusExpired    Status = "EXPIRED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s != StatusPending
}

var (
	ErrNotFound = errors.New("verification record not found")
	// ErrDuplicate means another record already holds the VERIFIED slot for
	// the reference.
	ErrDuplicate = errors.New("reference already verified")
	// ErrNotPending means the record left PENDING before the update landed.
	ErrNotPending = errors.New("verification record is no longer pending")
)

type Checks struct {
	ReferenceFound  bool `json:"referenceFound"`
	ReceiverMatches bool `json:"receiverMatches"`
	AmountMatches   bool `json:"amountMatches"`
}

// Snapshot is the provider's transaction as seen at verification time.
type Snapshot struct {
	Reference       string              `json:"reference"`
	ReceiverAccount string              `json:"receiverAccount"`
	ReceiverName    string              `json:"receiverName"`
	Amount          decimal.NullDecimal `json:"amount"`
	SenderName      string              `json:"senderName"`
	Raw             json.RawMessage     `json:"raw,omitempty"`
}

func SnapshotOf(tx *providers.Transaction) *Snapshot {
	if tx == nil {
		return nil
	}
	return &Snapshot{
		Reference:       tx.Reference,
		ReceiverAccount: tx.ReceiverAccount,
		ReceiverName:    tx.ReceiverName,
		Amount:          decimal.NullDecimal{Decimal: tx.Amount, Valid: true},
		SenderName:      tx.SenderName,
		Raw:             tx.Raw,
	}
}

type Record struct {
	ID             string              `json:"id"`
	MerchantID     string              `json:"merchantId"`
	Provider       providers.Provider  `json:"provider"`
	Reference      string              `json:"reference"`
	ClaimedAmount  decimal.NullDecimal `json:"claimedAmount"`
	TipAmount      decimal.NullDecimal `json:"tipAmount"`
	Status         Status              `json:"status"`
	Checks         Checks              `json:"checks"`
	MismatchReason string              `json:"mismatchReason,omitempty"`
	Transaction    *Snapshot           `json:"transaction,omitempty"`
	VerifiedAt     *int64              `json:"verifiedAt,omitempty"`
	VerifiedBy     string              `json:"verifiedBy,omitempty"`
	ExpiresAt      *int64              `json:"expiresAt,omitempty"`
	CreatedAt      int64               `json:"createdAt"`
	UpdatedAt      int64               `json:"updatedAt"`
}
