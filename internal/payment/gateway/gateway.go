package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/coursepay/internal/config"
	"github.com/smallbiznis/coursepay/internal/payment/domain"
	"go.uber.org/zap"
)

var ErrGatewayUnavailable = errors.New("gateway_unavailable")

// Client talks to the payment gateway's order API over HTTP with
// basic auth (key id / key secret).
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
	log       *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) domain.GatewayClient {
	timeout := time.Duration(cfg.Gateway.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.Gateway.BaseURL, "/"),
		keyID:     cfg.Gateway.KeyID,
		keySecret: cfg.Gateway.KeySecret,
		client:    &http.Client{Timeout: timeout},
		log:       log.Named("payment.gateway"),
	}
}

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func (c *Client) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.GatewayOrder, error) {
	payload, err := json.Marshal(orderRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	var order orderResponse
	if err := c.do(httpReq, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, ErrGatewayUnavailable
	}

	return &domain.GatewayOrder{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Status:   order.Status,
	}, nil
}

func (c *Client) FetchOrder(ctx context.Context, orderID string) (*domain.GatewayOrder, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/orders/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	var order orderResponse
	if err := c.do(httpReq, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, ErrGatewayUnavailable
	}

	return &domain.GatewayOrder{
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Status:   order.Status,
	}, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn("gateway request failed", zap.String("url", req.URL.Path), zap.Error(err))
		return ErrGatewayUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		c.log.Warn("gateway returned error status",
			zap.String("url", req.URL.Path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("gateway_request_failed_status_%d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
