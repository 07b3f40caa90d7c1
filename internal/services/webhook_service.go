package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rise-n-smoke/ordering/internal/clover"
	"github.com/rise-n-smoke/ordering/internal/domain"
	"github.com/rise-n-smoke/ordering/internal/repositories"
)

const (
	webhookSourceClover = "clover"

	cloverObjectOrder   = "O:"
	cloverObjectPayment = "P:"

	cloverEventDelete = "DELETE"
)

// CloverOrderStatus fetches the current state of a Clover order.
type CloverOrderStatus interface {
	GetOrderStatus(ctx context.Context, orderID string) (clover.OrderStatus, error)
}

// WebhookServiceDeps wires the webhook service.
type WebhookServiceDeps struct {
	Orders     repositories.OrderRepository
	Archive    repositories.WebhookEventRepository
	Clover     CloverOrderStatus
	MerchantID string
	Clock      func() time.Time
	Events     OrderEventPublisher
	Logger     Logger
}

type webhookService struct {
	orders     repositories.OrderRepository
	archive    repositories.WebhookEventRepository
	clover     CloverOrderStatus
	merchantID string
	now        func() time.Time
	events     OrderEventPublisher
	logger     Logger
}

// NewWebhookService constructs a WebhookService. The archive and the Clover
// status lookup are optional.
func NewWebhookService(deps WebhookServiceDeps) (WebhookService, error) {
	if deps.Orders == nil {
		return nil, errors.New("webhook service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &webhookService{
		orders:     deps.Orders,
		archive:    deps.Archive,
		clover:     deps.Clover,
		merchantID: strings.TrimSpace(deps.MerchantID),
		now:        func() time.Time { return clock().UTC() },
		events:     deps.Events,
		logger:     logger,
	}, nil
}

type cloverWebhookPayload struct {
	AppID            string                          `json:"appId"`
	VerificationCode string                          `json:"verificationCode"`
	Merchants        map[string][]cloverWebhookEvent `json:"merchants"`
}

type cloverWebhookEvent struct {
	ObjectID string `json:"objectId"`
	Type     string `json:"type"`
	TS       int64  `json:"ts"`
}

// HandleClover archives and applies one webhook delivery. The signature has
// already been verified. Returned errors are for logging; the delivery is
// acknowledged regardless.
func (s *webhookService) HandleClover(ctx context.Context, payload []byte) (WebhookResult, error) {
	received := s.now()
	events, body, parseErr := parseCloverWebhook(payload)

	var result WebhookResult
	result.VerificationCode = body.VerificationCode
	result.Events = len(events)
	if body.VerificationCode != "" {
		s.logger(ctx, "webhooks.clover.verification", map[string]any{"verificationCode": body.VerificationCode})
	}

	record := repositories.WebhookRecord{
		Source:     webhookSourceClover,
		Events:     events,
		Payload:    payload,
		ReceivedAt: received,
	}
	for mid := range body.Merchants {
		record.MerchantIDs = append(record.MerchantIDs, mid)
	}
	sort.Strings(record.MerchantIDs)
	if parseErr != nil {
		record.Error = parseErr.Error()
	}
	if s.archive != nil {
		id, err := s.archive.Archive(ctx, record)
		if err != nil {
			s.logger(ctx, "webhooks.archive_failed", map[string]any{"error": err.Error()})
		}
		result.ArchiveID = id
	}
	if parseErr != nil {
		return result, parseErr
	}

	updated, procErr := s.process(ctx, events)
	result.Updated = updated
	s.markProcessed(ctx, result.ArchiveID, procErr)
	return result, procErr
}

// ReplayUnprocessed reapplies archived deliveries that failed earlier and
// returns how many now succeeded.
func (s *webhookService) ReplayUnprocessed(ctx context.Context, limit int) (int, error) {
	if s.archive == nil {
		return 0, nil
	}
	records, err := s.archive.ListUnprocessed(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("webhooks: list unprocessed: %w", err)
	}
	replayed := 0
	for _, rec := range records {
		events := rec.Events
		if len(events) == 0 && len(rec.Payload) > 0 {
			parsed, _, err := parseCloverWebhook(rec.Payload)
			if err != nil {
				s.markProcessed(ctx, rec.ID, err)
				continue
			}
			events = parsed
		}
		_, procErr := s.process(ctx, events)
		s.markProcessed(ctx, rec.ID, procErr)
		if procErr == nil {
			replayed++
		}
	}
	return replayed, nil
}

func parseCloverWebhook(payload []byte) ([]domain.WebhookEvent, cloverWebhookPayload, error) {
	var body cloverWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, body, fmt.Errorf("webhooks: malformed payload: %w", err)
	}
	mids := make([]string, 0, len(body.Merchants))
	for mid := range body.Merchants {
		mids = append(mids, mid)
	}
	sort.Strings(mids)

	var events []domain.WebhookEvent
	for _, mid := range mids {
		for _, e := range body.Merchants[mid] {
			events = append(events, domain.WebhookEvent{
				MerchantID: mid,
				ObjectID:   e.ObjectID,
				Type:       strings.ToUpper(e.Type),
				Timestamp:  time.UnixMilli(e.TS).UTC(),
			})
		}
	}
	return events, body, nil
}

func (s *webhookService) process(ctx context.Context, events []domain.WebhookEvent) (int, error) {
	var errs []error
	updated := 0
	for _, event := range events {
		if s.merchantID != "" && event.MerchantID != s.merchantID {
			s.logger(ctx, "webhooks.clover.foreign_merchant", map[string]any{"merchantId": event.MerchantID, "objectId": event.ObjectID})
			continue
		}
		switch {
		case strings.HasPrefix(event.ObjectID, cloverObjectOrder):
			changed, err := s.applyOrderEvent(ctx, event)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", event.Type, event.ObjectID, err))
				continue
			}
			if changed {
				updated++
			}
		case strings.HasPrefix(event.ObjectID, cloverObjectPayment):
			s.logger(ctx, "webhooks.clover.payment", map[string]any{
				"paymentId": strings.TrimPrefix(event.ObjectID, cloverObjectPayment),
				"type":      event.Type,
				"ts":        event.Timestamp,
			})
		default:
			s.logger(ctx, "webhooks.clover.ignored", map[string]any{"objectId": event.ObjectID, "type": event.Type})
		}
	}
	return updated, errors.Join(errs...)
}

func (s *webhookService) applyOrderEvent(ctx context.Context, event domain.WebhookEvent) (bool, error) {
	cloverID := strings.TrimPrefix(event.ObjectID, cloverObjectOrder)
	order, err := s.orders.FindByCloverOrderID(ctx, cloverID)
	if err != nil {
		if isNotFound(err) {
			// Orders rung up at the counter have no local record.
			s.logger(ctx, "webhooks.clover.unknown_order", map[string]any{"cloverOrderId": cloverID, "type": event.Type})
			return false, nil
		}
		return false, err
	}

	target, ok := domain.OrderStatus(""), false
	if event.Type == cloverEventDelete {
		target, ok = domain.OrderStatusCancelled, true
	} else if s.clover != nil {
		status, err := s.clover.GetOrderStatus(ctx, cloverID)
		if err != nil {
			return false, err
		}
		target, ok = statusFromClover(status)
	}
	if !ok || !canTransition(order.Status, target) {
		return false, nil
	}

	updated, err := s.orders.Update(ctx, order.ID, domain.OrderPatch{Status: &target})
	if err != nil {
		return false, mapRepositoryError(err)
	}
	s.logger(ctx, "webhooks.clover.order_status", map[string]any{
		"orderId":       order.ID,
		"cloverOrderId": cloverID,
		"from":          string(order.Status),
		"to":            string(target),
	})
	eventType := domain.OrderEventConfirmed
	if target == domain.OrderStatusCancelled {
		eventType = domain.OrderEventCancelled
	}
	publishOrderEvent(ctx, s.events, s.logger, eventType, updated, s.now())
	return true, nil
}

func (s *webhookService) markProcessed(ctx context.Context, id string, procErr error) {
	if s.archive == nil || id == "" {
		return
	}
	if err := s.archive.MarkProcessed(ctx, id, s.now(), procErr); err != nil {
		s.logger(ctx, "webhooks.mark_processed_failed", map[string]any{"archiveId": id, "error": err.Error()})
	}
}

// statusFromClover maps a Clover payment state onto a local status.
func statusFromClover(status clover.OrderStatus) (domain.OrderStatus, bool) {
	switch strings.ToUpper(status.PaymentState) {
	case "PAID":
		if strings.EqualFold(status.State, clover.OrderStateLocked) {
			return domain.OrderStatusCompleted, true
		}
		return domain.OrderStatusConfirmed, true
	case "REFUNDED", "FULLY_REFUNDED":
		return domain.OrderStatusCancelled, true
	}
	return "", false
}

// canTransition only moves orders forward; completed and cancelled are terminal.
func canTransition(from, to domain.OrderStatus) bool {
	rank := map[domain.OrderStatus]int{
		domain.OrderStatusPending:   0,
		domain.OrderStatusSubmitted: 1,
		domain.OrderStatusConfirmed: 2,
		domain.OrderStatusCompleted: 3,
	}
	if from == domain.OrderStatusCompleted || from == domain.OrderStatusCancelled {
		return false
	}
	if to == domain.OrderStatusCancelled {
		return true
	}
	return rank[to] > rank[from]
}
