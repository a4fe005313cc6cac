package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/viper"
	"github.com/techfix/backend/internal/models"
)

// CaptureStatus is the processor's answer to a capture request.
type CaptureStatus string

const (
	CaptureConfirmed CaptureStatus = "confirmed"
	CapturePending   CaptureStatus = "pending"
	CaptureDeclined  CaptureStatus = "declined"
)

type CaptureResult struct {
	Status     CaptureStatus `json:"status"`
	CaptureRef string        `json:"captureRef"`
}

// Processor is the external payment processor. Transfer and Refund are
// keyed by transaction ID so a retried call moves funds at most once.
type Processor interface {
	Capture(ctx context.Context, method models.PaymentMethod, amount int64, payerRef, transactionID string) (*CaptureResult, error)
	Transfer(ctx context.Context, payeeRef string, amount int64, transactionID string) error
	Refund(ctx context.Context, payerRef string, amount int64, transactionID string) error
}

// Client talks to the processor's HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient() *Client {
	viper.SetDefault("processor.base_url", "https://api.processor.example.com")
	viper.SetDefault("processor.timeout", 10*time.Second)

	return &Client{
		baseURL: viper.GetString("processor.base_url"),
		apiKey:  viper.GetString("processor.api_key"),
		httpClient: &http.Client{
			Timeout: viper.GetDuration("processor.timeout"),
		},
	}
}

func (c *Client) Capture(ctx context.Context, method models.PaymentMethod, amount int64, payerRef, transactionID string) (*CaptureResult, error) {
	payload := map[string]any{
		"method":        string(method),
		"amount":        amount,
		"payerRef":      payerRef,
		"transactionId": transactionID,
	}

	var result CaptureResult
	if err := c.post(ctx, "/v1/captures", transactionID, payload, &result); err != nil {
		return nil, err
	}

	if result.Status != CaptureConfirmed && result.Status != CapturePending && result.Status != CaptureDeclined {
		return nil, fmt.Errorf("processor returned unknown capture status %q", result.Status)
	}

	return &result, nil
}

func (c *Client) Transfer(ctx context.Context, payeeRef string, amount int64, transactionID string) error {
	payload := map[string]any{
		"payeeRef":      payeeRef,
		"amount":        amount,
		"transactionId": transactionID,
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := c.post(ctx, "/v1/transfers", transactionID, payload, &result); err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("processor rejected transfer for transaction %s", transactionID)
	}

	return nil
}

func (c *Client) Refund(ctx context.Context, payerRef string, amount int64, transactionID string) error {
	payload := map[string]any{
		"payerRef":      payerRef,
		"amount":        amount,
		"transactionId": transactionID,
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := c.post(ctx, "/v1/refunds", transactionID, payload, &result); err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("processor rejected refund for transaction %s", transactionID)
	}

	return nil
}

// post sends a JSON request and decodes the response. A transport error or
// timeout is an unknown outcome: the caller must not record success.
func (c *Client) post(ctx context.Context, path, idempotencyKey string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[PROCESSOR] Request to %s failed: %v", path, err)
		return fmt.Errorf("processor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[PROCESSOR] %s returned status %d", path, resp.StatusCode)
		return fmt.Errorf("processor returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
