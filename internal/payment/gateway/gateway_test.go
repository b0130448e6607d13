package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/coursepay/internal/config"
	"github.com/smallbiznis/coursepay/internal/payment/domain"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) domain.GatewayClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.Config{
		Gateway: config.GatewayConfig{
			BaseURL:        srv.URL,
			KeyID:          "key_test",
			KeySecret:      "secret_test",
			RequestTimeout: 5,
		},
	}, zap.NewNop())
}

func TestCreateOrder(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/orders" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "key_test" || pass != "secret_test" {
			t.Fatal("missing basic auth credentials")
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["amount"] != float64(49900) {
			t.Fatalf("unexpected amount %v", body["amount"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "order_abc", "amount": 49900, "currency": "INR", "status": "created",
		})
	}))

	order, err := client.CreateOrder(context.Background(), domain.CreateOrderRequest{
		Amount:   49900,
		Currency: "INR",
		Receipt:  "rcpt_1",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.OrderID != "order_abc" || order.Status != domain.GatewayOrderCreated {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestCreateOrderEmptyID(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "created"})
	}))

	if _, err := client.CreateOrder(context.Background(), domain.CreateOrderRequest{Amount: 100, Currency: "INR"}); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestFetchOrder(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/orders/order_abc" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "order_abc", "amount": 49900, "currency": "INR", "status": "paid",
		})
	}))

	order, err := client.FetchOrder(context.Background(), "order_abc")
	if err != nil {
		t.Fatalf("fetch order: %v", err)
	}
	if order.Status != domain.GatewayOrderPaid {
		t.Fatalf("expected paid status, got %s", order.Status)
	}
}

func TestFetchOrderErrorStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	if _, err := client.FetchOrder(context.Background(), "order_abc"); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
