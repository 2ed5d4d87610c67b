package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// ChargeRequest is the provider-neutral charge contract.
type ChargeRequest struct {
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Method      string          `json:"method"`
	CustomerID  string          `json:"customer_id"`
	Description string          `json:"description"`
	ThreeDS     bool            `json:"three_ds"`
}

// ChargeResult is the provider's synchronous answer to a charge.
type ChargeResult struct {
	Success        bool   `json:"success"`
	TransactionID  string `json:"transaction_id"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// RefundResult is the provider's answer to a refund.
type RefundResult struct {
	Success  bool   `json:"success"`
	RefundID string `json:"refund_id"`
}

// PaymentClient talks to one payment provider's HTTP API.
type PaymentClient struct {
	provider   string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewPaymentClient(provider, baseURL, apiKey string, timeout time.Duration) *PaymentClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PaymentClient{
		provider:   provider,
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Charge submits a charge and returns the provider's synchronous result.
// The client timeout bounds the call; a timeout surfaces as an error and the
// caller maps it to a failed payment, never a stuck one.
func (c *PaymentClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	var result ChargeResult
	if err := c.post(ctx, "/v1/charges", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Refund refunds part or all of a captured transaction.
func (c *PaymentClient) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*RefundResult, error) {
	body := map[string]interface{}{
		"transaction_id": transactionID,
		"amount":         amount,
	}
	var result RefundResult
	if err := c.post(ctx, "/v1/refunds", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *PaymentClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", c.provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", c.provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s returned %d", c.provider, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.provider, err)
	}
	return nil
}
