package models

// Event names a merchant can subscribe a webhook to.
const (
	EventPaymentVerified    = "payment.verified"
	EventPaymentUnverified  = "payment.unverified"
	EventPaymentDuplicate   = "payment.duplicate"
	EventWalletCharged      = "wallet.charged"
	EventWalletInsufficient = "wallet.insufficient"
)

var validEvents = map[string]bool{
	EventPaymentVerified:    true,
	EventPaymentUnverified:  true,
	EventPaymentDuplicate:   true,
	EventWalletCharged:      true,
	EventWalletInsufficient: true,
}

func IsValidEvent(event string) bool {
	return validEvents[event]
}

// Subscription statuses.
const (
	WebhookActive = "ACTIVE"
	WebhookPaused = "PAUSED"
	WebhookFailed = "FAILED"
)

// Delivery statuses.
const (
	DeliveryPending   = "PENDING"
	DeliveryRetrying  = "RETRYING"
	DeliverySucceeded = "SUCCEEDED"
	DeliveryExhausted = "EXHAUSTED"
)

// Attempt statuses.
const (
	AttemptPending = "PENDING"
	AttemptSuccess = "SUCCESS"
	AttemptFailed  = "FAILED"
)

type Webhook struct {
	ID              string   `json:"id"`
	MerchantID      string   `json:"merchantId"`
	URL             string   `json:"url"`
	Events          []string `json:"events"` // JSON array in DB
	SecretCipher    string   `json:"-"`
	Status          string   `json:"status"`
	LastTriggeredAt *int64   `json:"lastTriggeredAt,omitempty"`
	LastError       string   `json:"lastError,omitempty"`
	CreatedAt       int64    `json:"createdAt"`
	UpdatedAt       int64    `json:"updatedAt"`
}

func (w *Webhook) Subscribed(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Delivery is one event sent to one webhook, across all of its attempts.
type Delivery struct {
	ID            string `json:"id"`
	WebhookID     string `json:"webhookId"`
	MerchantID    string `json:"merchantId"`
	Event         string `json:"event"`
	Payload       string `json:"-"`
	Status        string `json:"status"`
	AttemptCount  int    `json:"attemptCount"`
	NextAttemptAt *int64 `json:"nextAttemptAt,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
}

type DeliveryAttempt struct {
	ID            string `json:"id"`
	DeliveryID    string `json:"deliveryId"`
	WebhookID     string `json:"webhookId"`
	Event         string `json:"event"`
	Payload       string `json:"payload"`
	AttemptNumber int    `json:"attemptNumber"`
	Status        string `json:"status"`
	StatusCode    *int   `json:"statusCode,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
	CreatedAt     int64  `json:"createdAt"`
	DeliveredAt   *int64 `json:"deliveredAt,omitempty"`
}

// WebhookEvent is the JSON body POSTed to subscribers.
type WebhookEvent struct {
	ID         string      `json:"id"`
	Event      string      `json:"event"`
	MerchantID string      `json:"merchantId"`
	Data       interface{} `json:"data"`
	Timestamp  int64       `json:"timestamp"`
}
