// Package webhooks delivers signed event notifications to merchant
// endpoints. Every delivery and attempt is a database row, so sends that
// fail or are interrupted are picked up by the Retrier.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"paycheck/internal/platform/metrics"
	"paycheck/internal/platform/models"
	"paycheck/internal/platform/repositories"
	"paycheck/internal/platform/secrets"
)

const (
	HeaderSignature = "X-Paycheck-Signature"
	HeaderTimestamp = "X-Paycheck-Timestamp"
	HeaderEvent     = "X-Paycheck-Event"
	HeaderDelivery  = "X-Paycheck-Delivery"
)

type Options struct {
	WorkerCount int
	QueueSize   int
	Timeout     time.Duration
	MaxAttempts int
	Schedule    []time.Duration
	// Lease is how long a claimed delivery is hidden from other schedulers.
	Lease time.Duration
}

func (o *Options) defaults() {
	if o.WorkerCount <= 0 {
		o.WorkerCount = 8
	}
	if o.QueueSize <= 0 {
		o.QueueSize = o.WorkerCount * 32
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if len(o.Schedule) == 0 {
		o.Schedule = []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute, 2 * time.Hour, 12 * time.Hour}
	}
	// The first send plus one retry per interval.
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = len(o.Schedule) + 1
	}
	if o.Lease <= 0 {
		o.Lease = 2 * time.Minute
	}
}

// DeliveryError describes a failed POST. It is recorded on the attempt and
// never returned to event producers.
type DeliveryError struct {
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("endpoint returned HTTP %d", e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

type job struct {
	webhook  *models.Webhook
	delivery *models.Delivery
	attempt  *models.DeliveryAttempt
}

type Dispatcher struct {
	webhooks   *repositories.WebhookRepository
	deliveries *repositories.DeliveryRepository
	box        *secrets.Box
	client     *http.Client
	opts       Options
	now        func() time.Time

	jobs    chan job
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool
}

func NewDispatcher(webhooks *repositories.WebhookRepository, deliveries *repositories.DeliveryRepository, box *secrets.Box, client *http.Client, opts Options) *Dispatcher {
	opts.defaults()
	if client == nil {
		client = &http.Client{}
	}
	return &Dispatcher{
		webhooks:   webhooks,
		deliveries: deliveries,
		box:        box,
		client:     client,
		opts:       opts,
		now:        time.Now,
		jobs:       make(chan job, opts.QueueSize),
	}
}

// Start launches the send workers. Jobs queued before Start wait for it.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true

	for i := 0; i < d.opts.WorkerCount; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for j := range d.jobs {
				if d.leaseExpired(j.delivery) {
					// The Retrier may already own this delivery.
					log.Warn().Str("webhook_id", j.webhook.ID).Str("delivery_id", j.delivery.ID).Msg("webhook lease expired in queue, leaving delivery to retrier")
					continue
				}
				d.deliver(context.Background(), j.webhook, j.delivery, j.attempt, true)
			}
		}()
	}
}

// Stop waits for in-flight sends. Deliveries emitted afterwards stay in the
// database for the Retrier.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) leaseExpired(dl *models.Delivery) bool {
	return dl.NextAttemptAt != nil && d.now().Unix() >= *dl.NextAttemptAt
}

// enqueue hands j to the workers without blocking. It reports false when
// the queue is full or the dispatcher has stopped.
func (d *Dispatcher) enqueue(j job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	select {
	case d.jobs <- j:
		return true
	default:
		return false
	}
}

// Emit records a delivery for every ACTIVE webhook of the merchant that
// subscribes to event and hands the sends to the worker pool.
func (d *Dispatcher) Emit(ctx context.Context, merchantID, event string, data interface{}) error {
	if !models.IsValidEvent(event) {
		return fmt.Errorf("unknown webhook event %q", event)
	}

	subs, err := d.webhooks.ListForEvent(ctx, merchantID, event)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(&models.WebhookEvent{
		ID:         "evt_" + uuid.New().String(),
		Event:      event,
		MerchantID: merchantID,
		Data:       data,
		Timestamp:  d.now().Unix(),
	})
	if err != nil {
		return err
	}

	for _, w := range subs {
		delivery := &models.Delivery{
			WebhookID:  w.ID,
			MerchantID: merchantID,
			Event:      event,
			Payload:    string(payload),
		}
		attempt, err := d.deliveries.Enqueue(ctx, delivery, d.now().Add(d.opts.Lease))
		if err != nil {
			return fmt.Errorf("enqueue delivery for %s: %w", w.ID, err)
		}

		if !d.enqueue(job{webhook: w, delivery: delivery, attempt: attempt}) {
			// The Retrier sends it once the lease runs out.
			log.Warn().Str("webhook_id", w.ID).Str("delivery_id", delivery.ID).Msg("webhook queue unavailable, deferring delivery")
		}
	}
	return nil
}

// deliver POSTs one attempt and records the outcome. automatic is false for
// merchant-triggered retries, which never change the subscription status.
func (d *Dispatcher) deliver(ctx context.Context, w *models.Webhook, dl *models.Delivery, a *models.DeliveryAttempt, automatic bool) {
	start := d.now()
	code, sendErr := d.send(ctx, w, dl, a)
	elapsed := time.Since(start)

	now := d.now()
	nowUnix := now.Unix()
	if code > 0 {
		a.StatusCode = &code
	}

	if sendErr == nil {
		a.Status = models.AttemptSuccess
		a.DeliveredAt = &nowUnix
		dl.Status = models.DeliverySucceeded
		dl.NextAttemptAt = nil
	} else {
		a.Status = models.AttemptFailed
		a.ErrorMessage = sendErr.Error()
		if a.AttemptNumber >= d.opts.MaxAttempts {
			dl.Status = models.DeliveryExhausted
			dl.NextAttemptAt = nil
		} else {
			next := now.Add(backoff(d.opts.Schedule, a.AttemptNumber)).Unix()
			dl.Status = models.DeliveryRetrying
			dl.NextAttemptAt = &next
		}
	}

	metrics.WebhookDeliveries.WithLabelValues(dl.Event, a.Status).Inc()
	metrics.WebhookLatency.WithLabelValues(dl.Event, a.Status).Observe(float64(elapsed.Milliseconds()))

	logger := log.With().
		Str("webhook_id", w.ID).
		Str("delivery_id", dl.ID).
		Str("event", dl.Event).
		Int("attempt", a.AttemptNumber).
		Int("status_code", code).
		Logger()

	applied, err := d.deliveries.CompleteAttempt(ctx, a, dl)
	if err != nil {
		logger.Error().Err(err).Msg("failed to record webhook attempt")
		return
	}

	if sendErr == nil {
		if err := d.webhooks.UpdateLastTriggered(ctx, w.ID, nowUnix); err != nil {
			logger.Error().Err(err).Msg("failed to update webhook last triggered")
		}
		logger.Info().Dur("latency", elapsed).Bool("superseded", !applied).Msg("webhook delivered")
		return
	}

	if !applied {
		logger.Info().Err(sendErr).Msg("webhook attempt superseded by a later attempt")
		return
	}

	if err := d.webhooks.UpdateLastError(ctx, w.ID, sendErr.Error()); err != nil {
		logger.Error().Err(err).Msg("failed to update webhook last error")
	}
	if dl.Status == models.DeliveryExhausted && automatic {
		if err := d.webhooks.MarkFailed(ctx, w.ID, sendErr.Error()); err != nil {
			logger.Error().Err(err).Msg("failed to mark webhook failed")
		}
		logger.Warn().Err(sendErr).Msg("webhook delivery exhausted, subscription marked failed")
		return
	}
	logger.Warn().Err(sendErr).Str("status", dl.Status).Msg("webhook delivery failed")
}

func (d *Dispatcher) send(ctx context.Context, w *models.Webhook, dl *models.Delivery, a *models.DeliveryAttempt) (int, error) {
	secret, err := d.box.Open(w.SecretCipher)
	if err != nil {
		return 0, &DeliveryError{Err: fmt.Errorf("decrypt webhook secret: %w", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	body := []byte(a.Payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return 0, &DeliveryError{Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Paycheck-Webhooks/1.0")
	req.Header.Set(HeaderSignature, Sign(secret, body))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(d.now().Unix(), 10))
	req.Header.Set(HeaderEvent, dl.Event)
	req.Header.Set(HeaderDelivery, dl.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, &DeliveryError{Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &DeliveryError{StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

// backoff is the wait after failed attempt n (1-based). The last interval
// repeats once the schedule runs out.
func backoff(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		return time.Minute
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i >= len(schedule) {
		i = len(schedule) - 1
	}
	return schedule[i]
}
