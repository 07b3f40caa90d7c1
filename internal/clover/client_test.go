package clover

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"

	"github.com/rise-n-smoke/ordering/internal/orders"
	"github.com/rise-n-smoke/ordering/internal/platform/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Key    string
	Body   map[string]any
}

type fakeClover struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r recordedRequest, n int)
}

func (f *fakeClover) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization"), Key: r.Header.Get("Idempotency-Key")}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	n := len(f.requests)
	f.mu.Unlock()
	f.handler(w, rec, n)
}

func (f *fakeClover) calls() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestClient(t *testing.T, fake *fakeClover, mutate func(*config.CloverConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	cfg := config.CloverConfig{
		MerchantID:   "MID1",
		APIToken:     "rest-token",
		EcommerceKey: "ecom-key",
		MaxRetries:   2,
		PrintOrders:  true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := New(cfg,
		WithBaseURLs(srv.URL, srv.URL),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
		WithRateLimit(0),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(config.CloverConfig{APIToken: "x"}, WithBaseURLs("http://a", "http://b")); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured without merchant, got %v", err)
	}
	if _, err := New(config.CloverConfig{MerchantID: "m"}, WithBaseURLs("http://a", "http://b")); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured without token, got %v", err)
	}
}

func TestCreateOrderExpandsQuantityAndAttachesModifications(t *testing.T) {
	fake := &fakeClover{handler: func(w http.ResponseWriter, r recordedRequest, n int) {
		switch {
		case r.Path == "/v3/merchants/MID1/orders":
			writeJSON(w, http.StatusOK, map[string]any{"id": "CLV1", "state": "open"})
		case strings.HasSuffix(r.Path, "/bulk_line_items"):
			items := r.Body["items"].([]any)
			out := make([]map[string]string, len(items))
			for i := range items {
				out[i] = map[string]string{"id": "LI" + string(rune('A'+i))}
			}
			writeJSON(w, http.StatusOK, out)
		case strings.HasSuffix(r.Path, "/modifications"):
			writeJSON(w, http.StatusOK, map[string]any{"id": "MOD"})
		default:
			http.NotFound(w, nil)
		}
	}}
	client := newTestClient(t, fake, nil)

	order, err := client.CreateOrder(context.Background(), orders.POSOrder{
		Title: "RNS-1 - Pat",
		LineItems: []orders.POSLineItem{{
			CloverItemID: "ITEM9",
			Name:         "Brisket Plate",
			Price:        1650,
			Quantity:     2,
			Modifications: []orders.POSModification{
				{CloverModifierID: "M1", Name: "Meat: Brisket"},
				{Name: "Add-on: Jalapeños", Amount: 75},
			},
		}},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "CLV1" {
		t.Fatalf("unexpected order %#v", order)
	}

	calls := fake.calls()
	if len(calls) != 4 {
		t.Fatalf("expected create, bulk and two modifications, got %d calls", len(calls))
	}
	if calls[0].Auth != "Bearer rest-token" {
		t.Fatalf("expected REST token, got %q", calls[0].Auth)
	}
	items := calls[1].Body["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected quantity 2 to expand into 2 line items, got %d", len(items))
	}
	first := items[0].(map[string]any)
	if first["price"].(float64) != 1725 || !strings.Contains(first["note"].(string), "Jalapeños") {
		t.Fatalf("expected unmapped add-on folded into price and note, got %#v", first)
	}
	if calls[2].Path != "/v3/merchants/MID1/orders/CLV1/line_items/LIA/modifications" ||
		calls[3].Path != "/v3/merchants/MID1/orders/CLV1/line_items/LIB/modifications" {
		t.Fatalf("unexpected modification paths %q %q", calls[2].Path, calls[3].Path)
	}
}

func TestRetriesServerErrorsUpToCeiling(t *testing.T) {
	fake := &fakeClover{handler: func(w http.ResponseWriter, _ recordedRequest, n int) {
		if n < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "busy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "CLV2", "state": "locked", "paymentState": "PAID"})
	}}
	client := newTestClient(t, fake, nil)

	status, err := client.GetOrderStatus(context.Background(), "CLV2")
	if err != nil {
		t.Fatalf("GetOrderStatus: %v", err)
	}
	if status.State != "locked" || status.PaymentState != "PAID" {
		t.Fatalf("unexpected status %#v", status)
	}
	if got := len(fake.calls()); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestRetryCeilingIsBounded(t *testing.T) {
	fake := &fakeClover{handler: func(w http.ResponseWriter, _ recordedRequest, _ int) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": "slow down"})
	}}
	client := newTestClient(t, fake, nil)

	_, err := client.GetOrder(context.Background(), "CLV3")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 APIError, got %v", err)
	}
	if got := len(fake.calls()); got != 3 {
		t.Fatalf("expected 1 attempt plus 2 retries, got %d", got)
	}
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden} {
		fake := &fakeClover{handler: func(w http.ResponseWriter, _ recordedRequest, _ int) {
			writeJSON(w, status, map[string]string{"message": "nope"})
		}}
		client := newTestClient(t, fake, nil)

		_, err := client.GetOrder(context.Background(), "CLV4")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != status || apiErr.Message != "nope" {
			t.Fatalf("status %d: unexpected error %v", status, err)
		}
		if got := len(fake.calls()); got != 1 {
			t.Fatalf("status %d: expected single attempt, got %d", status, got)
		}
	}
}

func TestCreateChargeUsesEcommerceKeyAndReportsDecline(t *testing.T) {
	fake := &fakeClover{handler: func(w http.ResponseWriter, r recordedRequest, _ int) {
		if r.Body["source"] == "tok_declined" {
			writeJSON(w, http.StatusPaymentRequired, map[string]any{"error": map[string]string{
				"type": "card_error", "code": "card_declined", "decline_code": "insufficient_funds", "message": "Your card was declined.",
			}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "CH1", "amount": r.Body["amount"], "paid": true, "status": "succeeded"})
	}}
	client := newTestClient(t, fake, nil)

	charge, err := client.CreateCharge(context.Background(), ChargeRequest{Amount: 4328, Source: "tok_ok", Reference: "RNS-1", IdempotencyKey: "order-1"})
	if err != nil {
		t.Fatalf("CreateCharge: %v", err)
	}
	if charge.ID != "CH1" || charge.Amount != 4328 {
		t.Fatalf("unexpected charge %#v", charge)
	}
	calls := fake.calls()
	if calls[0].Path != "/v1/charges" || calls[0].Auth != "Bearer ecom-key" || calls[0].Key != "order-1" {
		t.Fatalf("unexpected request %#v", calls[0])
	}
	if calls[0].Body["currency"] != "usd" {
		t.Fatalf("expected usd default, got %v", calls[0].Body["currency"])
	}

	_, err = client.CreateCharge(context.Background(), ChargeRequest{Amount: 4328, Source: "tok_declined"})
	if !IsDecline(err) {
		t.Fatalf("expected decline, got %v", err)
	}
	if !strings.Contains(err.Error(), "declined") {
		t.Fatalf("expected decline message passed through, got %q", err.Error())
	}
	if got := len(fake.calls()); got != 2 {
		t.Fatalf("expected decline not retried, got %d calls", got)
	}
}

func TestCreateChargeRejectsEmptyTokenWithoutCalling(t *testing.T) {
	fake := &fakeClover{handler: func(w http.ResponseWriter, _ recordedRequest, _ int) {
		writeJSON(w, http.StatusOK, map[string]any{})
	}}
	client := newTestClient(t, fake, nil)

	if _, err := client.CreateCharge(context.Background(), ChargeRequest{Amount: 100, Source: " "}); !IsDecline(err) {
		t.Fatalf("expected decline for missing token, got %v", err)
	}
	if len(fake.calls()) != 0 {
		t.Fatalf("expected no request")
	}
}

func TestPrintOrderRespectsSetting(t *testing.T) {
	fake := &fakeClover{handler: func(w http.ResponseWriter, _ recordedRequest, _ int) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "PE1"})
	}}
	client := newTestClient(t, fake, func(cfg *config.CloverConfig) { cfg.PrintOrders = false })
	printed, err := client.PrintOrder(context.Background(), "CLV1")
	if err != nil || printed || len(fake.calls()) != 0 {
		t.Fatalf("expected printing skipped, got printed=%v err=%v calls=%d", printed, err, len(fake.calls()))
	}

	client = newTestClient(t, fake, nil)
	printed, err = client.PrintOrder(context.Background(), "CLV1")
	if err != nil || !printed {
		t.Fatalf("expected printed, got %v %v", printed, err)
	}
	calls := fake.calls()
	last := calls[len(calls)-1]
	ref := last.Body["orderRef"].(map[string]any)
	if last.Path != "/v3/merchants/MID1/print_event" || ref["id"] != "CLV1" {
		t.Fatalf("unexpected print request %#v", last)
	}
}

func TestCreateRefundOmitsZeroAmount(t *testing.T) {
	fake := &fakeClover{handler: func(w http.ResponseWriter, r recordedRequest, _ int) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "RF1", "charge": r.Body["charge"], "status": "succeeded"})
	}}
	client := newTestClient(t, fake, nil)

	refund, err := client.CreateRefund(context.Background(), "CH1", 0, "")
	if err != nil || refund.ID != "RF1" {
		t.Fatalf("unexpected refund %#v %v", refund, err)
	}
	if _, ok := fake.calls()[0].Body["amount"]; ok {
		t.Fatalf("expected amount omitted for full refund")
	}
}
