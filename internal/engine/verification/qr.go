package verification

import (
	"errors"
	"net/url"

	"github.com/skip2/go-qrcode"
	"paycheck/internal/engine/ledger"
	"paycheck/internal/engine/receivers"
)

// PaymentURI encodes the pay-to instructions for a PENDING intent: where
// to send the money, how much, and the intent it settles.
func PaymentURI(rec *ledger.Record, account *receivers.Account) string {
	q := url.Values{}
	q.Set("provider", string(rec.Provider))
	q.Set("account", account.AccountNumber)
	q.Set("name", account.AccountHolderName)
	if amount, ok := expectedAmount(rec.ClaimedAmount, rec.TipAmount); ok {
		q.Set("amount", amount.StringFixed(2))
	}
	q.Set("intent", rec.ID)
	return "paycheck://pay?" + q.Encode()
}

// IntentQRCode renders PaymentURI as a PNG of size pixels.
func IntentQRCode(rec *ledger.Record, account *receivers.Account, size int) ([]byte, error) {
	if size == 0 {
		size = 512
	}
	if size < 128 || size > 2048 {
		return nil, errors.New("invalid size: must be between 128 and 2048")
	}

	qr, err := qrcode.New(PaymentURI(rec, account), qrcode.Medium)
	if err != nil {
		return nil, err
	}
	return qr.PNG(size)
}
