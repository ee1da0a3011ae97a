package verification

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"paycheck/internal/engine/ledger"
	"paycheck/internal/engine/providers"
)

const (
	ReasonReferenceNotFound = "reference not found"
	ReasonDuplicate         = "duplicate reference"
)

// minVisibleDigits is the shortest masked or truncated account suffix
// accepted as a match.
const minVisibleDigits = 4

// accountMatches compares the merchant's account number with the one the
// provider reported. Providers that mask ("1000****6789") or truncate
// ("6789") the number are matched on the digits they show.
func accountMatches(expected, reported string) bool {
	exp := compactAccount(expected)
	rep := compactAccount(reported)
	if exp == "" || rep == "" {
		return false
	}
	if strings.EqualFold(exp, rep) {
		return true
	}

	maskAt := strings.IndexFunc(rep, isMask)
	if maskAt < 0 {
		return len(rep) >= minVisibleDigits && len(rep) < len(exp) && strings.HasSuffix(exp, rep)
	}

	prefix := rep[:maskAt]
	suffix := strings.TrimLeftFunc(rep[maskAt:], isMask)
	if strings.IndexFunc(suffix, isMask) >= 0 {
		return false
	}
	if len(suffix) < minVisibleDigits || len(prefix)+len(suffix) > len(exp) {
		return false
	}
	return strings.HasPrefix(exp, prefix) && strings.HasSuffix(exp, suffix)
}

func isMask(r rune) bool {
	return r == '*' || r == 'x' || r == 'X' || r == '#'
}

func compactAccount(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

// expectedAmount is the claimed total including any tip.
func expectedAmount(claimed, tip decimal.NullDecimal) (decimal.Decimal, bool) {
	if !claimed.Valid {
		return decimal.Decimal{}, false
	}
	total := claimed.Decimal
	if tip.Valid {
		total = total.Add(tip.Decimal)
	}
	return total, true
}

// evaluate runs the receiver, amount and reference checks against tx and
// fills in status and mismatch reason. The first failing check in that
// order names the reason.
func evaluate(rec *ledger.Record, receiverAccount, reference string, tx *providers.Transaction) {
	rec.Transaction = ledger.SnapshotOf(tx)
	rec.Checks = ledger.Checks{}

	if tx == nil {
		rec.Status = ledger.StatusUnverified
		rec.MismatchReason = ReasonReferenceNotFound
		return
	}

	var reasons []string

	rec.Checks.ReceiverMatches = accountMatches(receiverAccount, tx.ReceiverAccount)
	if !rec.Checks.ReceiverMatches {
		reasons = append(reasons, fmt.Sprintf("receiver mismatch: payment went to %s", maskAccount(tx.ReceiverAccount)))
	}

	want, ok := expectedAmount(rec.ClaimedAmount, rec.TipAmount)
	switch {
	case !ok:
		reasons = append(reasons, "amount mismatch: no claimed amount")
	case !tx.Amount.Equal(want):
		reasons = append(reasons, fmt.Sprintf("amount mismatch: expected %s, provider reported %s", want.StringFixed(2), tx.Amount.StringFixed(2)))
	default:
		rec.Checks.AmountMatches = true
	}

	rec.Checks.ReferenceFound = tx.Reference == "" || strings.EqualFold(tx.Reference, reference)
	if !rec.Checks.ReferenceFound {
		reasons = append(reasons, "reference mismatch: provider returned "+tx.Reference)
	}

	if len(reasons) == 0 {
		rec.Status = ledger.StatusVerified
		rec.MismatchReason = ""
		return
	}
	rec.Status = ledger.StatusUnverified
	rec.MismatchReason = reasons[0]
}

// maskAccount keeps the last four characters.
func maskAccount(s string) string {
	s = compactAccount(s)
	if len(s) <= minVisibleDigits {
		return s
	}
	return strings.Repeat("*", len(s)-minVisibleDigits) + s[len(s)-minVisibleDigits:]
}
