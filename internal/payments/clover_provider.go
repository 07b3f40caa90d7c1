package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rise-n-smoke/ordering/internal/clover"
)

// Provider keys.
const (
	ProviderClover = "clover"
	ProviderStripe = "stripe"
)

// CloverLogger defines the logging contract for Clover provider operations.
type CloverLogger func(ctx context.Context, event string, fields map[string]any)

type cloverPaymentsAPI interface {
	CreateCharge(ctx context.Context, req clover.ChargeRequest) (clover.Charge, error)
	CreateRefund(ctx context.Context, chargeID string, amount int64, idempotencyKey string) (clover.Refund, error)
	GetCharge(ctx context.Context, chargeID string) (clover.Charge, error)
}

// CloverProvider charges tokens produced by the Clover iframe.
type CloverProvider struct {
	api    cloverPaymentsAPI
	clock  func() time.Time
	logger CloverLogger
}

// NewCloverProvider wraps a Clover client.
func NewCloverProvider(api cloverPaymentsAPI, logger CloverLogger) (*CloverProvider, error) {
	if api == nil {
		return nil, errors.New("clover: payments client is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CloverProvider{api: api, clock: func() time.Time { return time.Now().UTC() }, logger: logger}, nil
}

// Charge captures req.Amount against the token.
func (p *CloverProvider) Charge(ctx context.Context, req ChargeRequest) (PaymentDetails, error) {
	charge, err := p.api.CreateCharge(ctx, clover.ChargeRequest{
		Amount:         req.Amount,
		Currency:       req.Currency,
		Source:         req.Token,
		Description:    req.Description,
		Reference:      req.OrderNumber,
		ReceiptEmail:   req.Email,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		var apiErr *clover.APIError
		if errors.As(err, &apiErr) && apiErr.IsDecline() {
			p.logger(ctx, "payments.clover.charge_declined", map[string]any{
				"orderId": req.OrderID,
				"code":    firstNonEmpty(apiErr.DeclineCode, apiErr.Code),
			})
			return PaymentDetails{}, &DeclineError{
				Provider: ProviderClover,
				Code:     firstNonEmpty(apiErr.DeclineCode, apiErr.Code),
				Message:  apiErr.Message,
				Err:      err,
			}
		}
		return PaymentDetails{}, fmt.Errorf("clover: create charge: %w", err)
	}
	p.logger(ctx, "payments.clover.charge.succeeded", map[string]any{
		"orderId":  req.OrderID,
		"chargeId": charge.ID,
		"amount":   charge.Amount,
	})
	return p.details(charge), nil
}

// Refund refunds a charge; a nil amount refunds it in full.
func (p *CloverProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if strings.TrimSpace(req.PaymentID) == "" {
		return PaymentDetails{}, errors.New("clover: payment id is required")
	}
	var amount int64
	if req.Amount != nil {
		amount = *req.Amount
	}
	refund, err := p.api.CreateRefund(ctx, req.PaymentID, amount, req.IdempotencyKey)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("clover: create refund: %w", err)
	}
	p.logger(ctx, "payments.clover.refunded", map[string]any{
		"chargeId": req.PaymentID,
		"refundId": refund.ID,
		"amount":   refund.Amount,
	})
	now := p.clock()
	return PaymentDetails{
		Provider:   ProviderClover,
		PaymentID:  req.PaymentID,
		Status:     StatusRefunded,
		Amount:     refund.Amount,
		Currency:   "USD",
		Captured:   true,
		RefundedAt: &now,
		Raw:        map[string]any{"refund": refund.ID, "status": refund.Status},
	}, nil
}

// LookupPayment fetches the charge.
func (p *CloverProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	charge, err := p.api.GetCharge(ctx, req.PaymentID)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("clover: lookup charge: %w", err)
	}
	return p.details(charge), nil
}

func (p *CloverProvider) details(charge clover.Charge) PaymentDetails {
	status := StatusPending
	switch {
	case charge.Paid || charge.Status == "succeeded":
		status = StatusSucceeded
	case charge.Status == "failed":
		status = StatusFailed
	}
	var capturedAt *time.Time
	if charge.Captured || charge.Paid {
		t := p.clock()
		if charge.Created > 0 {
			t = time.UnixMilli(charge.Created).UTC()
		}
		capturedAt = &t
	}
	return PaymentDetails{
		Provider:   ProviderClover,
		PaymentID:  charge.ID,
		Status:     status,
		Amount:     charge.Amount,
		Currency:   strings.ToUpper(defaultString(charge.Currency, "usd")),
		Captured:   capturedAt != nil,
		CapturedAt: capturedAt,
		Raw:        map[string]any{"ref_num": charge.RefNum, "status": charge.Status},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
