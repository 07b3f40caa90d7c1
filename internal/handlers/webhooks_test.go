package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/rise-n-smoke/ordering/internal/services"
)

func serveWebhook(h *WebhookHandlers, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/clover", h.Routes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/clover/webhooks", bytes.NewReader([]byte(body))))
	return rr
}

func TestWebhookHandlersAcknowledgeProcessingErrors(t *testing.T) {
	svc := &stubWebhookService{
		handleFn: func(context.Context, []byte) (services.WebhookResult, error) {
			return services.WebhookResult{ArchiveID: "wh_9", Events: 1}, errors.New("clover unavailable")
		},
	}
	rr := serveWebhook(NewWebhookHandlers(svc), `{"merchants":{}}`)

	require.Equal(t, http.StatusOK, rr.Code, "failures are archived for replay, never bounced back to clover")
	require.Equal(t, true, decodeBody(t, rr)["received"])
	require.Len(t, svc.payloads, 1)
}

func TestWebhookHandlersEchoVerificationCode(t *testing.T) {
	svc := &stubWebhookService{
		handleFn: func(context.Context, []byte) (services.WebhookResult, error) {
			return services.WebhookResult{VerificationCode: "abc-123"}, nil
		},
	}
	rr := serveWebhook(NewWebhookHandlers(svc), `{"verificationCode":"abc-123"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "abc-123", decodeBody(t, rr)["verificationCode"])
}

func TestWebhookHandlersWithoutService(t *testing.T) {
	rr := serveWebhook(NewWebhookHandlers(nil), `{}`)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
