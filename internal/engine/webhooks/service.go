package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"paycheck/internal/platform/models"
	"paycheck/internal/platform/repositories"
	"paycheck/internal/platform/secrets"
)

var (
	ErrWebhookNotFound = errors.New("webhook not found")
	ErrInvalidURL      = errors.New("webhook url must be an absolute https url")
	ErrInvalidEvents   = errors.New("webhook events must be a non-empty list of known events")
	ErrInvalidStatus   = errors.New("webhook status must be ACTIVE or PAUSED")
)

// Service manages a merchant's webhook subscriptions.
type Service struct {
	webhooks   *repositories.WebhookRepository
	deliveries *repositories.DeliveryRepository
	box        *secrets.Box
	retrier    *Retrier
}

func NewService(d *Dispatcher) *Service {
	return &Service{
		webhooks:   d.webhooks,
		deliveries: d.deliveries,
		box:        d.box,
		retrier:    NewRetrier(d),
	}
}

// Created is returned once, at creation or rotation. Secret is never
// readable again.
type Created struct {
	*models.Webhook
	Secret string `json:"secret"`
}

type UpdateInput struct {
	URL    *string  `json:"url"`
	Events []string `json:"events"`
	Status *string  `json:"status"`
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

func normalizeEvents(events []string) ([]string, error) {
	if len(events) == 0 {
		return nil, ErrInvalidEvents
	}
	seen := make(map[string]bool, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if !models.IsValidEvent(e) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEvents, e)
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out, nil
}

func (s *Service) Create(ctx context.Context, merchantID, rawURL string, events []string) (*Created, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	events, err := normalizeEvents(events)
	if err != nil {
		return nil, err
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	cipher, err := s.box.Seal(secret)
	if err != nil {
		return nil, err
	}

	w := &models.Webhook{
		MerchantID:   merchantID,
		URL:          strings.TrimSpace(rawURL),
		Events:       events,
		SecretCipher: cipher,
		Status:       models.WebhookActive,
	}
	if err := s.webhooks.Create(ctx, w); err != nil {
		return nil, err
	}
	return &Created{Webhook: w, Secret: secret}, nil
}

func (s *Service) Get(ctx context.Context, merchantID, id string) (*models.Webhook, error) {
	w, err := s.webhooks.GetByID(ctx, merchantID, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, ErrWebhookNotFound
	}
	return w, nil
}

func (s *Service) List(ctx context.Context, merchantID string) ([]*models.Webhook, error) {
	return s.webhooks.List(ctx, merchantID)
}

// Update applies the non-nil fields. Setting status ACTIVE re-enables a
// FAILED subscription.
func (s *Service) Update(ctx context.Context, merchantID, id string, in UpdateInput) (*models.Webhook, error) {
	w, err := s.Get(ctx, merchantID, id)
	if err != nil {
		return nil, err
	}

	if in.URL != nil {
		if err := validateURL(*in.URL); err != nil {
			return nil, err
		}
		w.URL = strings.TrimSpace(*in.URL)
	}
	if in.Events != nil {
		events, err := normalizeEvents(in.Events)
		if err != nil {
			return nil, err
		}
		w.Events = events
	}
	if in.Status != nil {
		status := strings.ToUpper(*in.Status)
		if status != models.WebhookActive && status != models.WebhookPaused {
			return nil, ErrInvalidStatus
		}
		w.Status = status
	}

	if err := s.webhooks.Update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (s *Service) Delete(ctx context.Context, merchantID, id string) error {
	ok, err := s.webhooks.Delete(ctx, merchantID, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWebhookNotFound
	}
	return nil
}

func (s *Service) RotateSecret(ctx context.Context, merchantID, id string) (*Created, error) {
	w, err := s.Get(ctx, merchantID, id)
	if err != nil {
		return nil, err
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	if w.SecretCipher, err = s.box.Seal(secret); err != nil {
		return nil, err
	}
	if err := s.webhooks.Update(ctx, w); err != nil {
		return nil, err
	}
	return &Created{Webhook: w, Secret: secret}, nil
}

// ListDeliveries returns the webhook's most recent attempts, newest first.
func (s *Service) ListDeliveries(ctx context.Context, merchantID, id string, limit int) ([]*models.DeliveryAttempt, error) {
	if _, err := s.Get(ctx, merchantID, id); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.deliveries.ListAttempts(ctx, id, limit)
}

func (s *Service) Retry(ctx context.Context, merchantID, webhookID, deliveryID string) (*models.DeliveryAttempt, error) {
	return s.retrier.Retry(ctx, merchantID, webhookID, deliveryID)
}
