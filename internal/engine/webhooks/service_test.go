package webhooks

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"paycheck/internal/platform/models"
)

func TestService_Create(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	tests := []struct {
		name    string
		url     string
		events  []string
		wantErr error
	}{
		{"Plain HTTP", "http://example.com/hook", []string{models.EventPaymentVerified}, ErrInvalidURL},
		{"Relative", "/hook", []string{models.EventPaymentVerified}, ErrInvalidURL},
		{"No Events", "https://example.com/hook", nil, ErrInvalidEvents},
		{"Unknown Event", "https://example.com/hook", []string{"payment.refunded"}, ErrInvalidEvents},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Create(ctx, "m_1", tt.url, tt.events)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	created, err := f.service.Create(ctx, "m_1", "https://example.com/hook",
		[]string{models.EventPaymentVerified, models.EventPaymentVerified, models.EventPaymentDuplicate})
	require.NoError(t, err)
	require.Equal(t, []string{models.EventPaymentVerified, models.EventPaymentDuplicate}, created.Events)
	require.Equal(t, models.WebhookActive, created.Status)
	require.Regexp(t, `^whsec_[0-9a-f]{64}$`, created.Secret)
	require.NotContains(t, created.SecretCipher, created.Secret)

	stored, err := f.service.Get(ctx, "m_1", created.ID)
	require.NoError(t, err)
	plain, err := f.service.box.Open(stored.SecretCipher)
	require.NoError(t, err)
	require.Equal(t, created.Secret, plain)
}

func TestService_MerchantScoping(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	created, err := f.service.Create(ctx, "m_1", "https://example.com/hook", []string{models.EventPaymentVerified})
	require.NoError(t, err)

	_, err = f.service.Get(ctx, "m_2", created.ID)
	require.ErrorIs(t, err, ErrWebhookNotFound)
	require.ErrorIs(t, f.service.Delete(ctx, "m_2", created.ID), ErrWebhookNotFound)

	list, err := f.service.List(ctx, "m_2")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestService_Update(t *testing.T) {
	f := newFixture(t, nil, Options{})
	ctx := context.Background()

	created, err := f.service.Create(ctx, "m_1", "https://example.com/hook", []string{models.EventPaymentVerified})
	require.NoError(t, err)

	bad := "http://example.com"
	_, err = f.service.Update(ctx, "m_1", created.ID, UpdateInput{URL: &bad})
	require.ErrorIs(t, err, ErrInvalidURL)

	failed := models.WebhookFailed
	_, err = f.service.Update(ctx, "m_1", created.ID, UpdateInput{Status: &failed})
	require.ErrorIs(t, err, ErrInvalidStatus)

	url := "https://example.com/v2"
	paused := "paused"
	w, err := f.service.Update(ctx, "m_1", created.ID, UpdateInput{
		URL:    &url,
		Events: []string{models.EventPaymentUnverified},
		Status: &paused,
	})
	require.NoError(t, err)
	require.Equal(t, url, w.URL)
	require.Equal(t, []string{models.EventPaymentUnverified}, w.Events)
	require.Equal(t, models.WebhookPaused, w.Status)

	require.NoError(t, f.webhooks.MarkFailed(ctx, created.ID, "boom"))
	active := models.WebhookActive
	w, err = f.service.Update(ctx, "m_1", created.ID, UpdateInput{Status: &active})
	require.NoError(t, err)
	require.Equal(t, models.WebhookActive, w.Status)
}

func TestService_RotateSecret(t *testing.T) {
	tg := newTarget(t, http.StatusOK)
	f := newFixture(t, tg.Client(), Options{})
	ctx := context.Background()

	created, err := f.service.Create(ctx, "m_1", tg.URL, []string{models.EventPaymentVerified})
	require.NoError(t, err)

	rotated, err := f.service.RotateSecret(ctx, "m_1", created.ID)
	require.NoError(t, err)
	require.NotEqual(t, created.Secret, rotated.Secret)

	f.dispatcher.Start()
	require.NoError(t, f.dispatcher.Emit(ctx, "m_1", models.EventPaymentVerified, nil))
	require.Eventually(t, func() bool { return tg.hits.Load() == 1 }, 5*time.Second, 20*time.Millisecond)

	req := tg.last()
	require.True(t, VerifySignature(rotated.Secret, req.body, req.headers.Get(HeaderSignature)))
	require.False(t, VerifySignature(created.Secret, req.body, req.headers.Get(HeaderSignature)))
}

func TestService_DeleteRemovesDeliveries(t *testing.T) {
	tg := newTarget(t, http.StatusOK)
	f := newFixture(t, tg.Client(), Options{})
	ctx := context.Background()
	created := queue(t, f, tg.URL)

	require.NoError(t, f.service.Delete(ctx, "m_1", created.ID))
	_, err := f.service.Get(ctx, "m_1", created.ID)
	require.ErrorIs(t, err, ErrWebhookNotFound)

	attempts, err := f.deliveries.ListAttempts(ctx, created.ID, 10)
	require.NoError(t, err)
	require.Empty(t, attempts)

	_, err = f.service.ListDeliveries(ctx, "m_1", created.ID, 10)
	require.ErrorIs(t, err, ErrWebhookNotFound)
}
