package portone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/orbitcart/payments/internal/config"
	gatewaydomain "github.com/orbitcart/payments/internal/gateway/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Client talks to a PortOne-compatible gateway API. Every request is bounded
// by the configured timeout; a hung gateway surfaces as ErrUnavailable, never
// as an indefinitely blocked reconcile.
type Client struct {
	baseURL   string
	apiSecret string
	http      *http.Client
	log       *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL:   cfg.Gateway.BaseURL,
		apiSecret: cfg.Gateway.APISecret,
		http: &http.Client{
			Timeout: time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second,
		},
		log: log.Named("gateway.portone"),
	}
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

type paymentResponse struct {
	Amount      json.Number `json:"amount"`
	Status      string      `json:"status"`
	MerchantUID string      `json:"merchant_uid"`
}

func (c *Client) Verify(ctx context.Context, paymentKey string) (*gatewaydomain.Verification, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/payments/%s", c.baseURL, paymentKey), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gatewaydomain.ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gatewaydomain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, gatewaydomain.ErrPaymentNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: verify returned %d", gatewaydomain.ErrUnavailable, resp.StatusCode)
	}

	var body paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode verify response: %v", gatewaydomain.ErrUnavailable, err)
	}

	amount, err := decimal.NewFromString(body.Amount.String())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid amount %q", gatewaydomain.ErrUnavailable, body.Amount)
	}

	return &gatewaydomain.Verification{
		PaymentKey: paymentKey,
		Amount:     amount,
		Status:     body.Status,
		OrderRef:   body.MerchantUID,
	}, nil
}

func (c *Client) Cancel(ctx context.Context, paymentKey, reason string) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return fmt.Errorf("%w: %v", gatewaydomain.ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/payments/%s/cancel", c.baseURL, paymentKey), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", gatewaydomain.ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", gatewaydomain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return gatewaydomain.ErrPaymentNotFound
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("gateway cancel rejected",
			zap.String("payment_key", paymentKey),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%w: cancel returned %d", gatewaydomain.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	payload, err := json.Marshal(map[string]string{"apiSecret": c.apiSecret})
	if err != nil {
		return "", fmt.Errorf("%w: %v", gatewaydomain.ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/login/api-secret", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", gatewaydomain.ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", gatewaydomain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token exchange returned %d", gatewaydomain.ErrUnavailable, resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", gatewaydomain.ErrUnavailable, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", gatewaydomain.ErrUnavailable)
	}
	return body.AccessToken, nil
}
