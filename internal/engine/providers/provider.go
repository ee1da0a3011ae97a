// Package providers looks up bank and mobile-money transactions by their
// provider reference. Adapters only fetch and parse; they make no
// verification decisions.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Provider names a bank or wallet that issues transaction references.
type Provider string

const (
	CBE      Provider = "CBE"
	Telebirr Provider = "TELEBIRR"
	Awash    Provider = "AWASH"
	BOA      Provider = "BOA"
	Dashen   Provider = "DASHEN"
)

var (
	// ErrFormat means the input does not contain a reference in the
	// provider's format. No lookup is attempted.
	ErrFormat = errors.New("invalid reference format")
	// ErrNotFound means the provider has no transaction with the reference.
	ErrNotFound = errors.New("reference not found")
	// ErrTransient covers timeouts, network failures and provider outages.
	// The outcome is unknown and the caller may retry.
	ErrTransient = errors.New("provider unavailable")

	ErrUnknownProvider = errors.New("unknown provider")
)

// ParseProvider accepts provider names case-insensitively.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case CBE, Telebirr, Awash, BOA, Dashen:
		return p, nil
	}
	return "", ErrUnknownProvider
}

// Transaction is the provider's record of a money movement.
type Transaction struct {
	Reference       string          `json:"reference"`
	ReceiverAccount string          `json:"receiverAccount"`
	ReceiverName    string          `json:"receiverName"`
	Amount          decimal.Decimal `json:"amount"`
	SenderName      string          `json:"senderName"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// Adapter fetches transactions from one provider.
type Adapter interface {
	Provider() Provider
	// Normalize extracts the canonical uppercase reference from a bare
	// reference or a provider receipt URL.
	Normalize(raw string) (string, error)
	FetchTransaction(ctx context.Context, raw string) (*Transaction, error)
}
