package clover

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ChargeRequest charges a single-use card token.
type ChargeRequest struct {
	Amount         int64
	Currency       string
	Source         string
	Description    string
	Reference      string
	ReceiptEmail   string
	IdempotencyKey string
}

// Charge is an Ecommerce charge.
type Charge struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	Paid           bool   `json:"paid"`
	Captured       bool   `json:"captured"`
	RefNum         string `json:"ref_num,omitempty"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
	Created        int64  `json:"created,omitempty"`
}

// Refund is an Ecommerce refund.
type Refund struct {
	ID     string `json:"id"`
	Charge string `json:"charge"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

type chargeBody struct {
	Amount              int64  `json:"amount"`
	Currency            string `json:"currency"`
	Source              string `json:"source"`
	Description         string `json:"description,omitempty"`
	ExternalReferenceID string `json:"external_reference_id,omitempty"`
	ReceiptEmail        string `json:"receipt_email,omitempty"`
	Capture             bool   `json:"capture"`
}

type payOrderBody struct {
	Source string `json:"source"`
	Email  string `json:"email,omitempty"`
}

// CreateCharge charges a token for an exact amount. Charges that come back
// unpaid are reported as a decline.
func (c *Client) CreateCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return Charge{}, &APIError{Op: "create_charge", Status: http.StatusPaymentRequired, Type: "card_error", Code: "missing_source", Message: "card token is required"}
	}
	if req.Amount <= 0 {
		return Charge{}, fmt.Errorf("clover: create charge: amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "usd"
	}
	var out Charge
	err := c.do(ctx, request{
		op:     "create_charge",
		api:    ecommerceAPI,
		method: http.MethodPost,
		path:   "/v1/charges",
		body: chargeBody{
			Amount:              req.Amount,
			Currency:            currency,
			Source:              source,
			Description:         req.Description,
			ExternalReferenceID: req.Reference,
			ReceiptEmail:        req.ReceiptEmail,
			Capture:             true,
		},
		idempotencyKey: req.IdempotencyKey,
	}, &out)
	if err != nil {
		return Charge{}, err
	}
	if !out.Paid && out.Status != "succeeded" {
		return out, &APIError{
			Op:          "create_charge",
			Status:      http.StatusPaymentRequired,
			Type:        "card_error",
			Code:        out.FailureCode,
			DeclineCode: out.FailureCode,
			Message:     firstNonEmpty(out.FailureMessage, "card declined"),
		}
	}
	return out, nil
}

// PayOrder pays a Clover order with a token, letting Clover compute the amount.
func (c *Client) PayOrder(ctx context.Context, orderID, source, email, idempotencyKey string) (Charge, error) {
	var out Charge
	err := c.do(ctx, request{
		op:             "pay_order",
		api:            ecommerceAPI,
		method:         http.MethodPost,
		path:           "/v1/orders/" + url.PathEscape(orderID) + "/pay",
		body:           payOrderBody{Source: source, Email: email},
		idempotencyKey: idempotencyKey,
	}, &out)
	return out, err
}

// CreateRefund refunds a charge. A zero amount refunds the full charge.
func (c *Client) CreateRefund(ctx context.Context, chargeID string, amount int64, idempotencyKey string) (Refund, error) {
	body := map[string]any{"charge": chargeID}
	if amount > 0 {
		body["amount"] = amount
	}
	var out Refund
	err := c.do(ctx, request{
		op:             "create_refund",
		api:            ecommerceAPI,
		method:         http.MethodPost,
		path:           "/v1/refunds",
		body:           body,
		idempotencyKey: idempotencyKey,
	}, &out)
	return out, err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// GetCharge fetches a charge by id.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (Charge, error) {
	var out Charge
	err := c.do(ctx, request{
		op:     "get_charge",
		api:    ecommerceAPI,
		method: http.MethodGet,
		path:   "/v1/charges/" + url.PathEscape(chargeID),
	}, &out)
	return out, err
}
