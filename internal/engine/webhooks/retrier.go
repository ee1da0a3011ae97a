package webhooks

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"paycheck/internal/platform/models"
	"paycheck/internal/platform/repositories"
)

var (
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
	ErrAlreadyDelivered = errors.New("webhook delivery already succeeded")
	ErrDeliveryInFlight = errors.New("webhook delivery has an attempt in progress")
)

// Retrier sends deliveries whose next attempt is due. Several instances
// may run at once; each delivery is claimed before it is sent.
type Retrier struct {
	d *Dispatcher
}

func NewRetrier(d *Dispatcher) *Retrier {
	return &Retrier{d: d}
}

// ProcessDue sends up to limit due deliveries and returns how many it
// claimed.
func (r *Retrier) ProcessDue(ctx context.Context, limit int) (int, error) {
	d := r.d
	if limit <= 0 {
		limit = 50
	}

	due, err := d.deliveries.FetchDue(ctx, d.now(), limit)
	if err != nil {
		return 0, err
	}

	sem := make(chan struct{}, d.opts.WorkerCount)
	var wg sync.WaitGroup
	claimed := 0

	for _, dl := range due {
		ok, err := d.deliveries.Claim(ctx, dl, d.now().Add(d.opts.Lease))
		if err != nil {
			log.Error().Err(err).Str("delivery_id", dl.ID).Msg("failed to claim webhook delivery")
			continue
		}
		if !ok {
			continue
		}

		w, err := d.webhooks.GetByID(ctx, dl.MerchantID, dl.WebhookID)
		if err != nil {
			log.Error().Err(err).Str("delivery_id", dl.ID).Msg("failed to load webhook")
			continue
		}
		if w == nil || w.Status != models.WebhookActive {
			// Paused or failed subscriptions keep their deliveries until re-enabled.
			continue
		}

		attempt, err := d.deliveries.StartAttempt(ctx, dl, d.now().Add(d.opts.Lease))
		if err != nil {
			if !errors.Is(err, repositories.ErrAttemptConflict) {
				log.Error().Err(err).Str("delivery_id", dl.ID).Msg("failed to start webhook attempt")
			}
			continue
		}
		claimed++

		sem <- struct{}{}
		wg.Add(1)
		go func(w *models.Webhook, dl *models.Delivery, a *models.DeliveryAttempt) {
			defer wg.Done()
			defer func() { <-sem }()
			d.deliver(ctx, w, dl, a, true)
		}(w, dl, attempt)
	}

	wg.Wait()
	return claimed, nil
}

// Retry sends the next attempt of a delivery immediately. It refuses while
// an earlier attempt is still being sent.
func (r *Retrier) Retry(ctx context.Context, merchantID, webhookID, deliveryID string) (*models.DeliveryAttempt, error) {
	d := r.d

	w, err := d.webhooks.GetByID(ctx, merchantID, webhookID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWebhookNotFound
	}

	dl, err := d.deliveries.GetDelivery(ctx, merchantID, webhookID, deliveryID)
	if err != nil {
		return nil, err
	}
	if dl == nil {
		return nil, ErrDeliveryNotFound
	}
	if dl.Status == models.DeliverySucceeded {
		return nil, ErrAlreadyDelivered
	}

	ok, err := d.deliveries.ClaimForRetry(ctx, dl, d.now(), d.now().Add(d.opts.Lease))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDeliveryInFlight
	}

	attempt, err := d.deliveries.StartAttempt(ctx, dl, d.now().Add(d.opts.Lease))
	if errors.Is(err, repositories.ErrAttemptConflict) {
		return nil, ErrDeliveryInFlight
	}
	if err != nil {
		return nil, err
	}

	d.deliver(ctx, w, dl, attempt, false)
	return attempt, nil
}
