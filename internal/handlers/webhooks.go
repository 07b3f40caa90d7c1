package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rise-n-smoke/ordering/internal/platform/httpx"
	"github.com/rise-n-smoke/ordering/internal/platform/requestctx"
	"github.com/rise-n-smoke/ordering/internal/services"
)

const maxWebhookBodySize = 256 * 1024

// WebhookHandlers ingests Clover webhook deliveries. Signature verification
// happens in middleware before these handlers run.
type WebhookHandlers struct {
	webhooks services.WebhookService
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(webhooks services.WebhookService) *WebhookHandlers {
	return &WebhookHandlers{webhooks: webhooks}
}

// Routes wires the webhook endpoint onto the provided router.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/webhooks", h.handleClover)
}

type webhookAck struct {
	Received         bool   `json:"received"`
	VerificationCode string `json:"verificationCode,omitempty"`
}

// handleClover acknowledges every authenticated delivery with 200 so Clover
// does not retry; failed deliveries stay archived for replay.
func (h *WebhookHandlers) handleClover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhooks_unavailable", "webhook processing is unavailable", http.StatusServiceUnavailable))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		requestctx.Logger(ctx).Warn("webhook body read failed", zap.Error(err))
		writeJSONResponse(w, http.StatusOK, webhookAck{Received: true})
		return
	}
	result, err := h.webhooks.HandleClover(ctx, body)
	if err != nil {
		requestctx.Logger(ctx).Error("webhook processing failed",
			zap.Error(err),
			zap.String("archiveId", result.ArchiveID),
			zap.Int("events", result.Events),
		)
	}
	writeJSONResponse(w, http.StatusOK, webhookAck{Received: true, VerificationCode: result.VerificationCode})
}
