package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"paycheck/internal/engine/ledger"
	"paycheck/internal/engine/providers"
	"paycheck/internal/engine/receivers"
	"paycheck/internal/platform/database/dbtest"
	"paycheck/internal/platform/models"
)

const receiverAccount = "1000123456789"

type fakeAdapter struct {
	spec  providers.Spec
	calls int32

	mu  sync.Mutex
	tx  *providers.Transaction
	err error

	// barrier, when set, holds every lookup until all callers arrive.
	barrier *sync.WaitGroup
}

func (a *fakeAdapter) Provider() providers.Provider { return a.spec.Provider }

func (a *fakeAdapter) Normalize(raw string) (string, error) { return a.spec.Normalize(raw) }

func (a *fakeAdapter) FetchTransaction(ctx context.Context, raw string) (*providers.Transaction, error) {
	atomic.AddInt32(&a.calls, 1)
	if a.barrier != nil {
		a.barrier.Done()
		a.barrier.Wait()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	tx := *a.tx
	return &tx, nil
}

func (a *fakeAdapter) Calls() int { return int(atomic.LoadInt32(&a.calls)) }

func (a *fakeAdapter) respond(tx *providers.Transaction, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tx, a.err = tx, err
}

type notification struct {
	merchantID string
	event      string
	recordID   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(ctx context.Context, merchantID, event string, rec *ledger.Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{merchantID: merchantID, event: event, recordID: rec.ID})
}

func (n *recordingNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, s := range n.sent {
		out[i] = s.event
	}
	return out
}

type harness struct {
	engine    *Engine
	adapter   *fakeAdapter
	receivers *receivers.Service
	ledger    *ledger.Repository
	notifier  *recordingNotifier
}

func cbeSpec() providers.Spec {
	for _, s := range providers.DefaultSpecs() {
		if s.Provider == providers.CBE {
			return s
		}
	}
	panic("no CBE spec")
}

func newHarness(t *testing.T, withReceiver bool) *harness {
	t.Helper()
	db := dbtest.New(t)

	adapter := &fakeAdapter{spec: cbeSpec()}
	adapter.respond(&providers.Transaction{
		Reference:       "FT253423SGLG32348645",
		ReceiverAccount: receiverAccount,
		ReceiverName:    "Abebe Shop",
		Amount:          decimal.RequireFromString("1000.00"),
		SenderName:      "Kebede",
		Raw:             json.RawMessage(`{"amount":"1000.00"}`),
	}, nil)

	rcv := receivers.NewService(receivers.NewRepository(db))
	if withReceiver {
		_, err := rcv.Create(context.Background(), "m_1", receivers.CreateInput{
			Provider:          providers.CBE,
			AccountNumber:     receiverAccount,
			AccountHolderName: "Abebe Shop",
			Activate:          true,
		})
		require.NoError(t, err)
	}

	l := ledger.NewRepository(db)
	notifier := &recordingNotifier{}
	engine := NewEngine(providers.NewRegistry(adapter), rcv, l, notifier, 20*time.Minute)

	return &harness{engine: engine, adapter: adapter, receivers: rcv, ledger: l, notifier: notifier}
}

func claim(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func request(amount string) Request {
	return Request{
		MerchantID:    "m_1",
		Provider:      providers.CBE,
		Reference:     "FT253423SGLG32348645",
		ClaimedAmount: claim(amount),
		VerifiedBy:    "u_1",
	}
}

func TestVerify_NoActiveReceiver(t *testing.T) {
	h := newHarness(t, false)

	rec, err := h.engine.Verify(context.Background(), request("1000.00"))
	require.Nil(t, rec)
	require.ErrorIs(t, err, ErrConfiguration)
	require.Equal(t, 0, h.adapter.Calls(), "provider must not be called without a receiver")
}

func TestVerify_Verified(t *testing.T) {
	h := newHarness(t, true)

	rec, err := h.engine.Verify(context.Background(), request("1000.00"))
	require.NoError(t, err)
	require.Equal(t, ledger.StatusVerified, rec.Status)
	require.Equal(t, ledger.Checks{ReferenceFound: true, ReceiverMatches: true, AmountMatches: true}, rec.Checks)
	require.Empty(t, rec.MismatchReason)
	require.NotNil(t, rec.VerifiedAt)
	require.Equal(t, "u_1", rec.VerifiedBy)
	require.Equal(t, "Kebede", rec.Transaction.SenderName)
	require.Equal(t, []string{models.EventPaymentVerified}, h.notifier.events())
}

func TestVerify_Idempotent(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	first, err := h.engine.Verify(ctx, request("1000.00"))
	require.NoError(t, err)

	second, err := h.engine.Verify(ctx, request("1000.00"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, ledger.StatusVerified, second.Status)
	require.Equal(t, 1, h.adapter.Calls(), "second call must not query the provider")

	// The receipt URL form resolves to the same record.
	viaURL := request("1000.00")
	viaURL.Reference = "https://apps.cbe.com.et:100/?id=FT253423SGLG32348645"
	third, err := h.engine.Verify(ctx, viaURL)
	require.NoError(t, err)
	require.Equal(t, first.ID, third.ID)
}

func TestVerify_ConcurrentSingleWinner(t *testing.T) {
	h := newHarness(t, true)

	const callers = 6
	var barrier sync.WaitGroup
	barrier.Add(callers)
	h.adapter.barrier = &barrier

	type result struct {
		rec *ledger.Record
		err error
	}
	results := make(chan result, callers)

	for i := 0; i < callers; i++ {
		go func() {
			rec, err := h.engine.Verify(context.Background(), request("1000.00"))
			results <- result{rec, err}
		}()
	}

	verified, duplicates := 0, 0
	for i := 0; i < callers; i++ {
		r := <-results
		switch {
		case r.err == nil:
			require.Equal(t, ledger.StatusVerified, r.rec.Status)
			verified++
		case errors.Is(r.err, ErrDuplicate):
			require.Equal(t, ledger.StatusFailed, r.rec.Status)
			require.Equal(t, ReasonDuplicate, r.rec.MismatchReason)
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", r.err)
		}
	}

	require.Equal(t, 1, verified)
	require.Equal(t, callers-1, duplicates)

	failed, err := h.ledger.List(context.Background(), "m_1", ledger.ListFilter{Status: ledger.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, callers-1)

	events := h.notifier.events()
	count := map[string]int{}
	for _, e := range events {
		count[e]++
	}
	require.Equal(t, 1, count[models.EventPaymentVerified])
	require.Equal(t, callers-1, count[models.EventPaymentDuplicate])
}

func TestVerify_AmountMismatchIsExact(t *testing.T) {
	h := newHarness(t, true)
	h.adapter.respond(&providers.Transaction{
		Reference:       "FT253423SGLG32348645",
		ReceiverAccount: receiverAccount,
		Amount:          decimal.RequireFromString("1000.01"),
	}, nil)

	rec, err := h.engine.Verify(context.Background(), request("1000.00"))
	require.NoError(t, err)
	require.Equal(t, ledger.StatusUnverified, rec.Status)
	require.False(t, rec.Checks.AmountMatches)
	require.True(t, rec.Checks.ReceiverMatches)
	require.True(t, strings.HasPrefix(rec.MismatchReason, "amount"), rec.MismatchReason)
	require.Equal(t, []string{models.EventPaymentUnverified}, h.notifier.events())
}

func TestVerify_ReceiverMismatch(t *testing.T) {
	h := newHarness(t, true)
	h.adapter.respond(&providers.Transaction{
		Reference:       "FT253423SGLG32348645",
		ReceiverAccount: "1000999999999",
		Amount:          decimal.RequireFromString("1000.00"),
	}, nil)

	rec, err := h.engine.Verify(context.Background(), request("1000.00"))
	require.NoError(t, err)
	require.Equal(t, ledger.StatusUnverified, rec.Status)
	require.True(t, rec.Checks.AmountMatches)
	require.True(t, rec.Checks.ReferenceFound)
	require.False(t, rec.Checks.ReceiverMatches)
	require.True(t, strings.HasPrefix(rec.MismatchReason, "receiver"), rec.MismatchReason)
}

func TestVerify_TipAndMaskedReceiver(t *testing.T) {
	h := newHarness(t, true)
	h.adapter.respond(&providers.Transaction{
		Reference:       "FT253423SGLG32348645",
		ReceiverAccount: "1000****6789",
		Amount:          decimal.RequireFromString("1050"),
	}, nil)

	req := request("1000.00")
	req.TipAmount = claim("50.00")

	rec, err := h.engine.Verify(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusVerified, rec.Status)
}

func TestVerify_MissingClaimedAmount(t *testing.T) {
	h := newHarness(t, true)

	req := request("1000.00")
	req.ClaimedAmount = decimal.NullDecimal{}

	rec, err := h.engine.Verify(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusUnverified, rec.Status)
	require.Equal(t, "amount mismatch: no claimed amount", rec.MismatchReason)
}

func TestVerify_NotFound(t *testing.T) {
	h := newHarness(t, true)
	h.adapter.respond(nil, providers.ErrNotFound)

	rec, err := h.engine.Verify(context.Background(), request("1000.00"))
	require.NoError(t, err)
	require.Equal(t, ledger.StatusUnverified, rec.Status)
	require.False(t, rec.Checks.ReferenceFound)
	require.Equal(t, ReasonReferenceNotFound, rec.MismatchReason)
	require.Nil(t, rec.Transaction)

	// A later attempt can still reach VERIFIED.
	h.adapter.respond(&providers.Transaction{
		Reference:       "FT253423SGLG32348645",
		ReceiverAccount: receiverAccount,
		Amount:          decimal.RequireFromString("1000"),
	}, nil)
	again, err := h.engine.Verify(context.Background(), request("1000.00"))
	require.NoError(t, err)
	require.Equal(t, ledger.StatusVerified, again.Status)
	require.NotEqual(t, rec.ID, again.ID)
}

func TestVerify_TransientRecordsNothing(t *testing.T) {
	h := newHarness(t, true)
	h.adapter.respond(nil, fmt.Errorf("%w: timeout", providers.ErrTransient))

	rec, err := h.engine.Verify(context.Background(), request("1000.00"))
	require.Nil(t, rec)
	require.ErrorIs(t, err, ErrTransient)

	all, err := h.ledger.List(context.Background(), "m_1", ledger.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, all)
	require.Empty(t, h.notifier.events())
}

func TestVerify_RejectedLookupIsNotTransient(t *testing.T) {
	h := newHarness(t, true)
	h.adapter.respond(nil, errors.New("provider rejected lookup with 401"))

	rec, err := h.engine.Verify(context.Background(), request("1000.00"))
	require.Nil(t, rec)
	require.Error(t, err)
	var verr *Error
	require.False(t, errors.As(err, &verr), "got %v", err)

	all, err := h.ledger.List(context.Background(), "m_1", ledger.ListFilter{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestVerify_FormatErrors(t *testing.T) {
	h := newHarness(t, true)

	bad := request("1000.00")
	bad.Reference = "12345"
	_, err := h.engine.Verify(context.Background(), bad)
	require.ErrorIs(t, err, ErrFormat)

	unknown := request("1000.00")
	unknown.Provider = providers.Telebirr
	_, err = h.engine.Verify(context.Background(), unknown)
	require.ErrorIs(t, err, ErrFormat)

	require.Equal(t, 0, h.adapter.Calls())
}

func TestIntents_Lifecycle(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	start := time.Unix(1_700_000_000, 0)
	h.engine.now = func() time.Time { return start }

	intent, err := h.engine.CreateIntent(ctx, IntentRequest{
		MerchantID: "m_1",
		Provider:   providers.CBE,
		Amount:     decimal.RequireFromString("1000"),
	})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, intent.Status)
	require.Equal(t, start.Add(20*time.Minute).Unix(), *intent.ExpiresAt)

	resolved, err := h.engine.ResolveIntent(ctx, "m_1", intent.ID, "FT253423SGLG32348645", "u_2")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusVerified, resolved.Status)
	require.Equal(t, "FT253423SGLG32348645", resolved.Reference)

	_, err = h.engine.ResolveIntent(ctx, "m_1", intent.ID, "FT253423SGLG32348645", "u_2")
	require.ErrorIs(t, err, ErrIntentClosed)

	// A second intent cannot consume the same reference.
	other, err := h.engine.CreateIntent(ctx, IntentRequest{MerchantID: "m_1", Provider: providers.CBE, Amount: decimal.RequireFromString("1000")})
	require.NoError(t, err)
	dup, err := h.engine.ResolveIntent(ctx, "m_1", other.ID, "FT253423SGLG32348645", "")
	require.ErrorIs(t, err, ErrDuplicate)
	require.Equal(t, ledger.StatusFailed, dup.Status)
}

func TestIntents_Expiry(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	start := time.Unix(1_700_000_000, 0)
	h.engine.now = func() time.Time { return start }

	intent, err := h.engine.CreateIntent(ctx, IntentRequest{MerchantID: "m_1", Provider: providers.CBE, Amount: decimal.RequireFromString("10")})
	require.NoError(t, err)

	h.engine.now = func() time.Time { return start.Add(19 * time.Minute) }
	n, err := h.engine.ExpireIntents(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	h.engine.now = func() time.Time { return start.Add(20 * time.Minute) }
	n, err = h.engine.ExpireIntents(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := h.engine.GetByID(ctx, "m_1", intent.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusExpired, got.Status)

	_, err = h.engine.ResolveIntent(ctx, "m_1", intent.ID, "FT253423SGLG32348645", "")
	require.ErrorIs(t, err, ErrIntentClosed)
	require.Equal(t, 0, h.adapter.Calls())
}

func TestIntents_ResolveAfterDeadlineBeforeSweep(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	start := time.Unix(1_700_000_000, 0)
	h.engine.now = func() time.Time { return start }
	intent, err := h.engine.CreateIntent(ctx, IntentRequest{MerchantID: "m_1", Provider: providers.CBE, Amount: decimal.RequireFromString("10")})
	require.NoError(t, err)

	h.engine.now = func() time.Time { return start.Add(25 * time.Minute) }
	rec, err := h.engine.ResolveIntent(ctx, "m_1", intent.ID, "FT253423SGLG32348645", "")
	require.ErrorIs(t, err, ErrIntentClosed)
	require.Equal(t, ledger.StatusExpired, rec.Status)
	require.Equal(t, 0, h.adapter.Calls())
}

func TestIntents_Validation(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.engine.CreateIntent(ctx, IntentRequest{MerchantID: "m_1", Provider: providers.CBE, Amount: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = h.engine.CreateIntent(ctx, IntentRequest{MerchantID: "m_2", Provider: providers.CBE, Amount: decimal.RequireFromString("5")})
	require.ErrorIs(t, err, ErrConfiguration)

	_, err = h.engine.ResolveIntent(ctx, "m_1", "ver_missing", "FT253423SGLG32348645", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGet_PrefersVerified(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	rec, err := h.engine.Verify(ctx, request("1000.00"))
	require.NoError(t, err)

	got, err := h.engine.Get(ctx, "m_1", "ft253423sglg32348645")
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)

	_, err = h.engine.Get(ctx, "m_1", "FT000000000000")
	require.ErrorIs(t, err, ErrNotFound)
}
