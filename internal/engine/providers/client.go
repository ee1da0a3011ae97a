package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
	"paycheck/internal/platform/metrics"
)

const defaultTimeout = 10 * time.Second

// Config is the per-adapter connection setup.
type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// HTTPAdapter looks transactions up over the provider's JSON API at
// GET {BaseURL}/transactions/{reference}.
type HTTPAdapter struct {
	spec    Spec
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPAdapter(spec Spec, cfg Config, client *http.Client) *HTTPAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &HTTPAdapter{spec: spec, cfg: cfg, client: client, limiter: limiter}
}

func (a *HTTPAdapter) Provider() Provider { return a.spec.Provider }

func (a *HTTPAdapter) Normalize(raw string) (string, error) { return a.spec.Normalize(raw) }

type transactionResponse struct {
	Reference       string          `json:"reference"`
	ReceiverAccount string          `json:"receiver_account"`
	ReceiverName    string          `json:"receiver_name"`
	Amount          decimal.Decimal `json:"amount"`
	SenderName      string          `json:"sender_name"`
}

func (a *HTTPAdapter) FetchTransaction(ctx context.Context, raw string) (*Transaction, error) {
	ref, err := a.Normalize(raw)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	tx, err := a.fetch(ctx, ref)
	metrics.ProviderLatency.WithLabelValues(string(a.spec.Provider), outcome(err)).Observe(time.Since(start).Seconds())
	return tx, err
}

func (a *HTTPAdapter) fetch(ctx context.Context, ref string) (*Transaction, error) {
	if a.cfg.BaseURL == "" {
		return nil, errors.Errorf("%s adapter has no base url", a.spec.Provider)
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, transient(errors.Wrap(err, "provider throttle"))
	}

	endpoint := a.cfg.BaseURL + "/transactions/" + url.PathEscape(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Failed build provider request")
	}
	req.Header.Set("Accept", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	res, err := a.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("provider", string(a.spec.Provider)).Str("reference", ref).Msg("provider lookup failed")
		return nil, transient(errors.Wrap(err, "Failed http get provider transaction"))
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, transient(errors.Wrap(err, "Failed read body response from provider"))
	}

	switch {
	case res.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case res.StatusCode == http.StatusTooManyRequests, res.StatusCode >= 500:
		return nil, transient(errors.Errorf("provider returned %d", res.StatusCode))
	case res.StatusCode >= 300:
		return nil, errors.Errorf("provider rejected lookup with %d: %s", res.StatusCode, truncate(body, 200))
	}

	var parsed transactionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Warn().Err(err).Str("provider", string(a.spec.Provider)).Str("body", truncate(body, 200)).Msg("bad provider response")
		return nil, errors.Wrap(err, "Failed unmarshal response from provider")
	}

	tx := &Transaction{
		Reference:       parsed.Reference,
		ReceiverAccount: parsed.ReceiverAccount,
		ReceiverName:    parsed.ReceiverName,
		Amount:          parsed.Amount,
		SenderName:      parsed.SenderName,
		Raw:             json.RawMessage(body),
	}
	if tx.Reference == "" {
		tx.Reference = ref
	}
	return tx, nil
}

// transient marks err as ErrTransient while keeping the cause readable.
func transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "error"
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n])
}
