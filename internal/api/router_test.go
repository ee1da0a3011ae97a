package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"paycheck/internal/api/handlers"
	"paycheck/internal/api/middleware"
	"paycheck/internal/engine/ledger"
	"paycheck/internal/engine/providers"
	"paycheck/internal/engine/receivers"
	"paycheck/internal/engine/verification"
	"paycheck/internal/engine/webhooks"
	"paycheck/internal/platform/audit"
	"paycheck/internal/platform/auth"
	"paycheck/internal/platform/config"
	"paycheck/internal/platform/database/dbtest"
	"paycheck/internal/platform/repositories"
	"paycheck/internal/platform/secrets"
)

type testServer struct {
	t      *testing.T
	router http.Handler
	tokens *auth.TokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	bank := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transactions/FTOK0000000001":
			w.Write([]byte(`{"reference":"FTOK0000000001","receiver_account":"1000123456789","receiver_name":"Abebe Shop","amount":"100.00","sender_name":"Kebede"}`))
		case "/transactions/FTDOWN00000001":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/transactions/FTAUTH00000001":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(bank.Close)

	db := dbtest.New(t)
	registry := providers.NewRegistryFromConfig(map[string]config.ProviderConfig{
		"cbe": {BaseURL: bank.URL, Timeout: 2 * time.Second},
	}, bank.Client())

	box, err := secrets.NewBox(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	dispatcher := webhooks.NewDispatcher(repositories.NewWebhookRepository(db), repositories.NewDeliveryRepository(db), box, nil, webhooks.Options{})
	t.Cleanup(dispatcher.Stop)

	rcvSvc := receivers.NewService(receivers.NewRepository(db))
	engine := verification.NewEngine(registry, rcvSvc, ledger.NewRepository(db), verification.NewFanout(dispatcher, nil), time.Minute)
	auditLogger := audit.NewLogger(db)
	tokens := auth.NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Hour})

	router := NewRouter(&Dependencies{
		VerificationHandler: handlers.NewVerificationHandler(engine),
		IntentHandler:       handlers.NewIntentHandler(engine, rcvSvc),
		ReceiverHandler:     handlers.NewReceiverHandler(rcvSvc, auditLogger),
		WebhookHandler:      handlers.NewWebhookHandler(webhooks.NewService(dispatcher), auditLogger),
		AuditHandler:        handlers.NewAuditHandler(auditLogger),
		HealthHandler:       handlers.NewHealthHandler(db),
		AuthMiddleware:      middleware.NewAuthMiddleware(tokens),
		Limiter:             middleware.NewMemoryLimiter(),
		VerifyPerMinute:     100,
	})

	return &testServer{t: t, router: router, tokens: tokens}
}

func (s *testServer) token(merchantID, role string) string {
	tok, err := s.tokens.GenerateAccessToken(merchantID, "u_1", role)
	require.NoError(s.t, err)
	return tok
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func (s *testServer) addReceiver(token string) {
	rr := s.do(http.MethodPost, "/api/v1/receivers", token, map[string]interface{}{
		"provider":          "cbe",
		"accountNumber":     "1000 1234 56789",
		"accountHolderName": "Abebe Shop",
		"activate":          true,
	})
	require.Equal(s.t, http.StatusCreated, rr.Code, rr.Body.String())
}

func TestRouter_Public(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "healthy", decodeBody(t, rr)["status"])

	rr = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(http.MethodGet, "/api/v1/verifications", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouter_Verification(t *testing.T) {
	s := newTestServer(t)
	admin := s.token("m_1", "admin")

	verify := func(ref string) *httptest.ResponseRecorder {
		return s.do(http.MethodPost, "/api/v1/verifications", admin, map[string]interface{}{
			"provider":      "CBE",
			"reference":     ref,
			"claimedAmount": "100",
		})
	}

	rr := verify("FTOK0000000001")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "RECEIVER_NOT_CONFIGURED", decodeBody(t, rr)["code"])

	rr = s.do(http.MethodPost, "/api/v1/receivers", s.token("m_1", "viewer"), map[string]interface{}{"provider": "CBE"})
	require.Equal(t, http.StatusForbidden, rr.Code)

	s.addReceiver(admin)

	rr = verify("https://apps.cbe.com.et:100/?id=FTOK0000000001")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)
	require.Equal(t, "VERIFIED", body["status"])
	recordID := body["record"].(map[string]interface{})["id"]

	rr = verify("ftok0000000001")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, recordID, decodeBody(t, rr)["record"].(map[string]interface{})["id"])

	rr = verify("not a ref")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "INVALID_REFERENCE", decodeBody(t, rr)["code"])

	rr = verify("FTDOWN00000001")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "30", rr.Header().Get("Retry-After"))
	require.Equal(t, "PROVIDER_UNAVAILABLE", decodeBody(t, rr)["code"])

	// A rejected lookup is not advertised as retryable.
	rr = verify("FTAUTH00000001")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Empty(t, rr.Header().Get("Retry-After"))

	rr = verify("FTMISSING00001")
	require.Equal(t, http.StatusOK, rr.Code)
	body = decodeBody(t, rr)
	require.Equal(t, "UNVERIFIED", body["status"])
	require.NotEmpty(t, body["mismatchReason"])

	rr = s.do(http.MethodGet, "/api/v1/verifications/FTOK0000000001", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "VERIFIED", decodeBody(t, rr)["status"])

	rr = s.do(http.MethodGet, "/api/v1/verifications/FTOK0000000001", s.token("m_2", "admin"), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(http.MethodGet, "/api/v1/verifications?limit=10", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, decodeBody(t, rr)["data"], 2)
}

func TestRouter_Intents(t *testing.T) {
	s := newTestServer(t)
	admin := s.token("m_1", "admin")
	s.addReceiver(admin)

	rr := s.do(http.MethodPost, "/api/v1/intents", admin, map[string]interface{}{"provider": "CBE", "amount": "0"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(http.MethodPost, "/api/v1/intents", admin, map[string]interface{}{"provider": "CBE", "amount": "100"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	intent := decodeBody(t, rr)
	require.Equal(t, "PENDING", intent["status"])
	require.Contains(t, intent["paymentUri"], "account=1000123456789")
	id := intent["id"].(string)

	rr = s.do(http.MethodGet, "/api/v1/intents/"+id+"/qr", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "image/png", rr.Header().Get("Content-Type"))

	rr = s.do(http.MethodPost, "/api/v1/intents/"+id+"/resolve", admin, map[string]string{"reference": "FTOK0000000001"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "VERIFIED", decodeBody(t, rr)["status"])

	rr = s.do(http.MethodPost, "/api/v1/intents/"+id+"/resolve", admin, map[string]string{"reference": "FTOK0000000001"})
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "INTENT_CLOSED", decodeBody(t, rr)["code"])

	rr = s.do(http.MethodGet, "/api/v1/intents/"+id+"/qr", admin, nil)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestRouter_ReceiversAndAudit(t *testing.T) {
	s := newTestServer(t)
	admin := s.token("m_1", "admin")

	rr := s.do(http.MethodPost, "/api/v1/providers/cbe/receivers/enable-last", admin, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	s.addReceiver(admin)
	rr = s.do(http.MethodGet, "/api/v1/receivers?provider=cbe", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var accounts []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accounts))
	require.Len(t, accounts, 1)
	require.Equal(t, "1000123456789", accounts[0]["accountNumber"])
	id := accounts[0]["id"].(string)

	rr = s.do(http.MethodPost, "/api/v1/receivers/"+id+"/disable", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "INACTIVE", decodeBody(t, rr)["status"])

	rr = s.do(http.MethodPost, "/api/v1/providers/cbe/receivers/enable-last", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, id, decodeBody(t, rr)["id"])

	rr = s.do(http.MethodGet, "/api/v1/audit-logs", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var logs []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &logs))
	require.Len(t, logs, 3)
	for _, entry := range logs {
		require.Equal(t, "m_1", entry["merchant_id"])
		require.True(t, strings.HasPrefix(entry["action"].(string), "receiver."))
	}
}

func TestRouter_Webhooks(t *testing.T) {
	s := newTestServer(t)
	admin := s.token("m_1", "admin")

	rr := s.do(http.MethodPost, "/api/v1/webhooks", admin, map[string]interface{}{
		"url": "http://example.com/hook", "events": []string{"payment.verified"},
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(http.MethodPost, "/api/v1/webhooks", admin, map[string]interface{}{
		"url": "https://example.com/hook", "events": []string{"payment.verified"},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decodeBody(t, rr)
	secret := created["secret"].(string)
	require.True(t, strings.HasPrefix(secret, "whsec_"))
	id := created["id"].(string)

	rr = s.do(http.MethodGet, "/api/v1/webhooks/"+id, admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotContains(t, rr.Body.String(), secret)
	require.NotContains(t, rr.Body.String(), "secret")

	rr = s.do(http.MethodPost, "/api/v1/webhooks/"+id+"/rotate-secret", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NotEqual(t, secret, decodeBody(t, rr)["secret"])

	rr = s.do(http.MethodPatch, "/api/v1/webhooks/"+id, admin, map[string]interface{}{"status": "PAUSED"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "PAUSED", decodeBody(t, rr)["status"])

	rr = s.do(http.MethodGet, "/api/v1/webhooks/"+id+"/deliveries", admin, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "[]\n", rr.Body.String())

	rr = s.do(http.MethodPost, "/api/v1/webhooks/"+id+"/deliveries/dlv_missing/retry", admin, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(http.MethodGet, "/api/v1/webhooks/"+id, s.token("m_2", "admin"), nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(http.MethodDelete, "/api/v1/webhooks/"+id, admin, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = s.do(http.MethodDelete, "/api/v1/webhooks/"+id, admin, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}
