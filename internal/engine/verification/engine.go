// Package verification decides whether a claimed payment reference is
// VERIFIED against the provider's record and the merchant's receiver
// account, and records each outcome in the ledger.
package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"paycheck/internal/engine/ledger"
	"paycheck/internal/engine/providers"
	"paycheck/internal/engine/receivers"
	"paycheck/internal/platform/metrics"
)

const defaultIntentTTL = 20 * time.Minute

type AdapterSource interface {
	Get(p providers.Provider) (providers.Adapter, error)
}

type ReceiverSource interface {
	Active(ctx context.Context, merchantID string, provider providers.Provider) (*receivers.Account, error)
}

type Ledger interface {
	InsertIfAbsent(ctx context.Context, rec *ledger.Record) (bool, *ledger.Record, error)
	FindVerified(ctx context.Context, merchantID string, provider providers.Provider, reference string) (*ledger.Record, error)
	CreatePending(ctx context.Context, rec *ledger.Record, expiresAt time.Time) error
	Resolve(ctx context.Context, rec *ledger.Record) error
	MarkExpired(ctx context.Context, olderThan time.Time) (int64, error)
	Get(ctx context.Context, merchantID, reference string) (*ledger.Record, error)
	GetByID(ctx context.Context, merchantID, id string) (*ledger.Record, error)
	List(ctx context.Context, merchantID string, f ledger.ListFilter) ([]*ledger.Record, error)
}

// Notifier is told about every recorded outcome. It must not block on
// network delivery.
type Notifier interface {
	Notify(ctx context.Context, merchantID, event string, rec *ledger.Record)
}

type Engine struct {
	adapters  AdapterSource
	receivers ReceiverSource
	ledger    Ledger
	notifier  Notifier
	intentTTL time.Duration
	now       func() time.Time
}

func NewEngine(adapters AdapterSource, rcv ReceiverSource, l Ledger, notifier Notifier, intentTTL time.Duration) *Engine {
	if intentTTL <= 0 {
		intentTTL = defaultIntentTTL
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Engine{
		adapters:  adapters,
		receivers: rcv,
		ledger:    l,
		notifier:  notifier,
		intentTTL: intentTTL,
		now:       time.Now,
	}
}

type Request struct {
	MerchantID    string
	Provider      providers.Provider
	Reference     string
	ClaimedAmount decimal.NullDecimal
	TipAmount     decimal.NullDecimal
	// VerifiedBy is the staff user who triggered the check, if any.
	VerifiedBy string
}

// Verify checks req.Reference with the provider and records the outcome.
// A reference already VERIFIED for the merchant returns the existing record
// without contacting the provider. On a lost race for the VERIFIED slot the
// recorded FAILED attempt is returned together with ErrDuplicate.
func (e *Engine) Verify(ctx context.Context, req Request) (*ledger.Record, error) {
	adapter, receiver, ref, err := e.prepare(ctx, req.MerchantID, req.Provider, req.Reference)
	if err != nil {
		return nil, err
	}

	existing, err := e.ledger.FindVerified(ctx, req.MerchantID, req.Provider, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	tx, err := e.fetch(ctx, adapter, ref)
	if err != nil {
		return nil, err
	}

	rec := &ledger.Record{
		MerchantID:    req.MerchantID,
		Provider:      req.Provider,
		Reference:     ref,
		ClaimedAmount: req.ClaimedAmount,
		TipAmount:     req.TipAmount,
		VerifiedBy:    req.VerifiedBy,
	}
	evaluate(rec, receiver.AccountNumber, ref, tx)

	inserted, _, err := e.ledger.InsertIfAbsent(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return e.recordDuplicate(ctx, rec)
	}

	e.finish(ctx, rec)
	return rec, nil
}

// prepare resolves the adapter and receiver and normalizes the reference.
// The receiver is checked before the reference so a misconfigured merchant
// never reaches the provider.
func (e *Engine) prepare(ctx context.Context, merchantID string, provider providers.Provider, raw string) (providers.Adapter, *receivers.Account, string, error) {
	adapter, err := e.adapters.Get(provider)
	if err != nil {
		return nil, nil, "", newError(KindFormat, "unknown provider "+string(provider), err)
	}

	receiver, err := e.receivers.Active(ctx, merchantID, provider)
	if err != nil {
		return nil, nil, "", err
	}
	if receiver == nil {
		return nil, nil, "", newError(KindConfiguration, "no active receiver account for "+string(provider), nil)
	}

	ref, err := adapter.Normalize(raw)
	if err != nil {
		return nil, nil, "", newError(KindFormat, "invalid "+string(provider)+" reference", err)
	}
	return adapter, receiver, ref, nil
}

// fetch returns a nil transaction when the provider has no such reference.
func (e *Engine) fetch(ctx context.Context, adapter providers.Adapter, ref string) (*providers.Transaction, error) {
	tx, err := adapter.FetchTransaction(ctx, ref)
	switch {
	case err == nil:
		return tx, nil
	case errors.Is(err, providers.ErrNotFound):
		return nil, nil
	case errors.Is(err, providers.ErrFormat):
		return nil, newError(KindFormat, "invalid "+string(adapter.Provider())+" reference", err)
	case errors.Is(err, providers.ErrTransient):
		log.Warn().Err(err).Str("provider", string(adapter.Provider())).Str("reference", ref).Msg("provider lookup did not complete")
		return nil, newError(KindTransient, string(adapter.Provider())+" did not answer", err)
	default:
		// Rejected credentials or an unreadable answer will not fix themselves on retry.
		log.Error().Err(err).Str("provider", string(adapter.Provider())).Str("reference", ref).Msg("provider lookup rejected")
		return nil, fmt.Errorf("%s lookup: %w", adapter.Provider(), err)
	}
}

// recordDuplicate stores a FAILED attempt for a reference that lost the
// VERIFIED slot.
func (e *Engine) recordDuplicate(ctx context.Context, rec *ledger.Record) (*ledger.Record, error) {
	rec.Status = ledger.StatusFailed
	rec.MismatchReason = ReasonDuplicate
	rec.VerifiedAt = nil

	if _, _, err := e.ledger.InsertIfAbsent(ctx, rec); err != nil {
		return nil, err
	}

	e.finish(ctx, rec)
	return rec, newError(KindDuplicate, "reference "+rec.Reference+" was already verified", nil)
}

func (e *Engine) finish(ctx context.Context, rec *ledger.Record) {
	metrics.Verifications.WithLabelValues(string(rec.Provider), string(rec.Status)).Inc()

	log.Info().
		Str("merchant_id", rec.MerchantID).
		Str("provider", string(rec.Provider)).
		Str("reference", rec.Reference).
		Str("record_id", rec.ID).
		Str("status", string(rec.Status)).
		Str("mismatch_reason", rec.MismatchReason).
		Msg("verification recorded")

	if event := eventFor(rec); event != "" {
		e.notifier.Notify(ctx, rec.MerchantID, event, rec)
	}
}

func (e *Engine) Get(ctx context.Context, merchantID, reference string) (*ledger.Record, error) {
	rec, err := e.ledger.Get(ctx, merchantID, strings.ToUpper(strings.TrimSpace(reference)))
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, newError(KindNotFound, "no verification for "+reference, nil)
	}
	return rec, err
}

func (e *Engine) GetByID(ctx context.Context, merchantID, id string) (*ledger.Record, error) {
	rec, err := e.ledger.GetByID(ctx, merchantID, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, newError(KindNotFound, "no verification "+id, nil)
	}
	return rec, err
}

func (e *Engine) List(ctx context.Context, merchantID string, f ledger.ListFilter) ([]*ledger.Record, error) {
	return e.ledger.List(ctx, merchantID, f)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, string, *ledger.Record) {}
