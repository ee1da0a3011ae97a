// Package receivers manages the bank and wallet accounts merchants collect
// payments into. Each merchant has at most one ACTIVE account per provider.
package receivers

import (
	"errors"
	"strings"

	"paycheck/internal/engine/providers"
)

const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

var (
	ErrNotFound     = errors.New("receiver account not found")
	ErrNoPrevious   = errors.New("no previously active receiver account")
	ErrInvalidInput = errors.New("invalid receiver account")
	// ErrConflict is returned when a concurrent enable won the ACTIVE slot.
	ErrConflict = errors.New("another receiver account was activated concurrently")
)

type Account struct {
	ID                string             `json:"id"`
	MerchantID        string             `json:"merchantId"`
	Provider          providers.Provider `json:"provider"`
	AccountNumber     string             `json:"accountNumber"`
	AccountHolderName string             `json:"accountHolderName"`
	Label             string             `json:"label"`
	Status            string             `json:"status"`
	CreatedAt         int64              `json:"createdAt"`
	UpdatedAt         int64              `json:"updatedAt"`
	DeactivatedAt     *int64             `json:"deactivatedAt,omitempty"`
}

func (a *Account) Active() bool { return a.Status == StatusActive }

// normalizeAccountNumber drops the separators people type into account
// numbers.
func normalizeAccountNumber(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
