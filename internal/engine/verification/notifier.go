package verification

import (
	"context"

	"github.com/rs/zerolog/log"
	"paycheck/internal/engine/ledger"
	"paycheck/internal/platform/events"
	"paycheck/internal/platform/models"
)

// Emitter queues webhook deliveries for an event.
type Emitter interface {
	Emit(ctx context.Context, merchantID, event string, data interface{}) error
}

// Fanout sends each outcome to the merchant's webhooks and mirrors it onto
// the event bus. Failures are logged and never reach the verifier.
type Fanout struct {
	webhooks Emitter
	bus      events.Publisher
}

func NewFanout(webhooks Emitter, bus events.Publisher) *Fanout {
	if bus == nil {
		bus = events.Fallback{}
	}
	return &Fanout{webhooks: webhooks, bus: bus}
}

// Notify outlives the request that produced rec, so a client hanging up
// after the ledger write does not lose the event.
func (f *Fanout) Notify(ctx context.Context, merchantID, event string, rec *ledger.Record) {
	ctx = context.WithoutCancel(ctx)
	if err := f.webhooks.Emit(ctx, merchantID, event, rec); err != nil {
		log.Error().Err(err).Str("merchant_id", merchantID).Str("event", event).Str("record_id", rec.ID).Msg("failed to queue webhook deliveries")
	}

	envelope := models.WebhookEvent{
		ID:         rec.ID,
		Event:      event,
		MerchantID: merchantID,
		Data:       rec,
		Timestamp:  rec.UpdatedAt,
	}
	if err := f.bus.Publish(ctx, event, envelope); err != nil {
		log.Warn().Err(err).Str("event", event).Str("record_id", rec.ID).Msg("failed to publish event")
	}
}

func eventFor(rec *ledger.Record) string {
	switch rec.Status {
	case ledger.StatusVerified:
		return models.EventPaymentVerified
	case ledger.StatusUnverified:
		return models.EventPaymentUnverified
	case ledger.StatusFailed:
		if rec.MismatchReason == ReasonDuplicate {
			return models.EventPaymentDuplicate
		}
	}
	return ""
}
