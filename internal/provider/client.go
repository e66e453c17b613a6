// Package provider talks to the external payments provider. A single Client
// is constructed at process start with credentials resolved once, then
// injected wherever a handler needs it; nothing reaches for ambient global
// state.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultRequestTimeout = 10 * time.Second

// Config carries the credentials and endpoints resolved at startup.
type Config struct {
	APIKey         string
	WebhookSecret  string
	FulfillmentURL string
}

// Client is the explicitly constructed provider client.
type Client struct {
	httpClient     *http.Client
	apiKey         string
	webhookSecret  []byte
	fulfillmentURL string
	logger         *zap.Logger
}

// NewClient wires a Client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("provider client: webhook secret is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient:     httpClient,
		apiKey:         cfg.APIKey,
		webhookSecret:  []byte(cfg.WebhookSecret),
		fulfillmentURL: cfg.FulfillmentURL,
		logger:         logger,
	}, nil
}

// VerifyWebhookSignature validates a delivery against the shared secret.
func (client *Client) VerifyWebhookSignature(body []byte, header string, nowUnixUTC int64) error {
	return VerifySignature(client.webhookSecret, body, header, nowUnixUTC)
}

// SubmitFulfillment posts a paid order downstream. Callers treat this as
// best-effort and fold a failure into the entry's retry bookkeeping.
func (client *Client) SubmitFulfillment(ctx context.Context, orderID string) error {
	if client.fulfillmentURL == "" {
		client.logger.Debug("fulfillment url unset, skipping submission", zap.String("order_id", orderID))
		return nil
	}
	payload, err := json.Marshal(map[string]string{"order_id": orderID})
	if err != nil {
		return fmt.Errorf("fulfillment payload: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.fulfillmentURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("fulfillment request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if client.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+client.apiKey)
	}
	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("fulfillment submit: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("fulfillment submit: unexpected status %d", response.StatusCode)
	}
	return nil
}
