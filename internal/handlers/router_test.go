package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rise-n-smoke/ordering/internal/platform/auth"
	"github.com/rise-n-smoke/ordering/internal/platform/idempotency"
)

const webhookSecret = "whsec_router"

func TestRouterHealthEndpoints(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path)
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	router := NewRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "route_not_found", decodeBody(t, rr)["error"])
}

func TestRouterUnconfiguredGroupsAreNotImplemented(t *testing.T) {
	router := NewRouter()

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/menu"},
		{http.MethodGet, "/api/v1/cart"},
		{http.MethodPost, "/api/v1/orders"},
		{http.MethodPost, "/api/v1/checkout"},
		{http.MethodPost, "/api/v1/clover/orders"},
		{http.MethodPost, "/api/v1/clover/payments/charge"},
		{http.MethodPost, "/api/v1/clover/webhooks"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		require.Equal(t, http.StatusNotImplemented, rr.Code, "%s %s", tc.method, tc.path)
		require.Equal(t, "not_implemented", decodeBody(t, rr)["error"])
	}
}

func newWebhookRouter(svc *stubWebhookService, pos *stubPOSService) http.Handler {
	verifier := auth.NewWebhookVerifier(webhookSecret)
	return NewRouter(
		WithWebhookMiddlewares(verifier.Middleware),
		WithWebhookRoutes(NewWebhookHandlers(svc).Routes),
		WithCloverRoutes(NewCloverHandlers(pos).Routes),
	)
}

func TestRouterRejectsTamperedWebhook(t *testing.T) {
	svc := &stubWebhookService{}
	router := newWebhookRouter(svc, &stubPOSService{})

	signed := []byte(`{"merchants":{"MID123":[{"objectId":"O:CLV1","type":"DELETE"}]}}`)
	tampered := []byte(`{"merchants":{"MID123":[{"objectId":"O:CLV2","type":"DELETE"}]}}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clover/webhooks", bytes.NewReader(tampered))
	req.Header.Set("X-Clover-Signature", auth.SignHex(webhookSecret, signed))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Empty(t, svc.payloads, "tampered deliveries must not reach the service")

	req = httptest.NewRequest(http.MethodPost, "/api/v1/clover/webhooks", bytes.NewReader(signed))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code, "unsigned deliveries are rejected")
	require.Empty(t, svc.payloads)
}

func TestRouterAcceptsSignedWebhook(t *testing.T) {
	svc := &stubWebhookService{}
	router := newWebhookRouter(svc, &stubPOSService{})

	body := []byte(`{"merchants":{"MID123":[{"objectId":"O:CLV1","type":"UPDATE"}]}}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/clover/webhooks", bytes.NewReader(body))
	req.Header.Set("X-Clover-Signature", "sha256="+auth.SignHex(webhookSecret, body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, svc.payloads, 1)
	require.Equal(t, body, svc.payloads[0])
}

func TestRouterPOSRoutesSkipWebhookVerification(t *testing.T) {
	pos := &stubPOSService{}
	hooks := &stubWebhookService{}
	router := newWebhookRouter(hooks, pos)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clover/orders", bytes.NewReader([]byte(`{"orderId":"ord_1"}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, 1, pos.submitCalls)
	require.Empty(t, hooks.payloads)
}

func TestRouterAPIMiddlewaresSkipWebhooks(t *testing.T) {
	pos := &stubPOSService{}
	hooks := &stubWebhookService{}
	verifier := auth.NewWebhookVerifier(webhookSecret)
	router := NewRouter(
		WithAPIMiddlewares(PostOnly(idempotency.Guard(idempotency.NewMemoryStore()))),
		WithWebhookMiddlewares(verifier.Middleware),
		WithWebhookRoutes(NewWebhookHandlers(hooks).Routes),
		WithCloverRoutes(NewCloverHandlers(pos).Routes),
	)

	body := []byte(`{"merchants":{"MID123":[{"objectId":"O:CLV1","type":"UPDATE"}]}}`)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/clover/webhooks", bytes.NewReader(body))
		req.Header.Set("X-Clover-Signature", auth.SignHex(webhookSecret, body))
		req.Header.Set("Idempotency-Key", "hook-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		require.Empty(t, rr.Header().Get("Idempotent-Replayed"))
	}
	require.Len(t, hooks.payloads, 2, "every signed delivery reaches the webhook handler")

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/clover/orders", bytes.NewReader([]byte(`{"orderId":"ord_1"}`)))
		req.Header.Set("Idempotency-Key", "submit-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}
	require.Equal(t, 1, pos.submitCalls, "POS submissions are deduplicated by key")
}
