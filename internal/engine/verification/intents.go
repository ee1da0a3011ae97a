package verification

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"paycheck/internal/engine/ledger"
	"paycheck/internal/engine/providers"
)

type IntentRequest struct {
	MerchantID string
	Provider   providers.Provider
	Amount     decimal.Decimal
	TipAmount  decimal.NullDecimal
	CreatedBy  string
}

// CreateIntent opens a PENDING record the payer has until the intent TTL
// to settle.
func (e *Engine) CreateIntent(ctx context.Context, req IntentRequest) (*ledger.Record, error) {
	if _, err := e.adapters.Get(req.Provider); err != nil {
		return nil, newError(KindFormat, "unknown provider "+string(req.Provider), err)
	}
	if !req.Amount.IsPositive() {
		return nil, newError(KindInvalid, "amount must be positive", nil)
	}
	if req.TipAmount.Valid && req.TipAmount.Decimal.IsNegative() {
		return nil, newError(KindInvalid, "tip amount must not be negative", nil)
	}

	receiver, err := e.receivers.Active(ctx, req.MerchantID, req.Provider)
	if err != nil {
		return nil, err
	}
	if receiver == nil {
		return nil, newError(KindConfiguration, "no active receiver account for "+string(req.Provider), nil)
	}

	rec := &ledger.Record{
		MerchantID:    req.MerchantID,
		Provider:      req.Provider,
		ClaimedAmount: decimal.NullDecimal{Decimal: req.Amount, Valid: true},
		TipAmount:     req.TipAmount,
		VerifiedBy:    req.CreatedBy,
	}
	if err := e.ledger.CreatePending(ctx, rec, e.now().Add(e.intentTTL)); err != nil {
		return nil, err
	}

	log.Info().Str("merchant_id", rec.MerchantID).Str("intent_id", rec.ID).Str("provider", string(rec.Provider)).Msg("payment intent created")
	return rec, nil
}

// ResolveIntent settles a PENDING intent with the reference the payer
// submitted. A transient provider failure leaves the intent PENDING.
func (e *Engine) ResolveIntent(ctx context.Context, merchantID, intentID, reference, verifiedBy string) (*ledger.Record, error) {
	rec, err := e.GetByID(ctx, merchantID, intentID)
	if err != nil {
		return nil, err
	}
	if rec.Status != ledger.StatusPending {
		return rec, newError(KindIntentClosed, "intent is "+string(rec.Status), nil)
	}
	if rec.ExpiresAt != nil && e.now().Unix() >= *rec.ExpiresAt {
		rec.Status = ledger.StatusExpired
		if err := e.ledger.Resolve(ctx, rec); err != nil && !errors.Is(err, ledger.ErrNotPending) {
			return nil, err
		}
		return rec, newError(KindIntentClosed, "intent expired", nil)
	}

	adapter, receiver, ref, err := e.prepare(ctx, merchantID, rec.Provider, reference)
	if err != nil {
		return nil, err
	}
	rec.Reference = ref
	if verifiedBy != "" {
		rec.VerifiedBy = verifiedBy
	}

	existing, err := e.ledger.FindVerified(ctx, merchantID, rec.Provider, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return e.resolveDuplicate(ctx, rec)
	}

	tx, err := e.fetch(ctx, adapter, ref)
	if err != nil {
		return nil, err
	}
	evaluate(rec, receiver.AccountNumber, ref, tx)

	switch err := e.ledger.Resolve(ctx, rec); {
	case err == nil:
	case errors.Is(err, ledger.ErrDuplicate):
		return e.resolveDuplicate(ctx, rec)
	case errors.Is(err, ledger.ErrNotPending):
		return nil, newError(KindIntentClosed, "intent was resolved concurrently", nil)
	default:
		return nil, err
	}

	e.finish(ctx, rec)
	return rec, nil
}

func (e *Engine) resolveDuplicate(ctx context.Context, rec *ledger.Record) (*ledger.Record, error) {
	rec.Status = ledger.StatusFailed
	rec.MismatchReason = ReasonDuplicate
	rec.VerifiedAt = nil

	if err := e.ledger.Resolve(ctx, rec); err != nil {
		if errors.Is(err, ledger.ErrNotPending) {
			return nil, newError(KindIntentClosed, "intent was resolved concurrently", nil)
		}
		return nil, err
	}

	e.finish(ctx, rec)
	return rec, newError(KindDuplicate, "reference "+rec.Reference+" was already verified", nil)
}

// ExpireIntents marks every PENDING intent past its deadline EXPIRED.
func (e *Engine) ExpireIntents(ctx context.Context) (int64, error) {
	n, err := e.ledger.MarkExpired(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("expired payment intents")
	}
	return n, nil
}
