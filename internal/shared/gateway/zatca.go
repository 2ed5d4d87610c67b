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

// DocumentLine is one line of a tax-authority invoice document.
type DocumentLine struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// InvoiceDocument is the submission payload for the tax authority.
// The exact wire format is the gateway's concern; this is the contract.
type InvoiceDocument struct {
	InvoiceNumber string          `json:"invoice_number"`
	SellerVAT     string          `json:"seller_vat"`
	IssuedAt      time.Time       `json:"issued_at"`
	Currency      string          `json:"currency"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Lines         []DocumentLine  `json:"lines"`
}

// SubmissionResult is the authority's answer to a submission.
type SubmissionResult struct {
	Status    string `json:"status"` // submitted/approved/rejected
	Reference string `json:"reference"`
}

// ZatcaClient talks to the tax-authority e-invoicing API.
type ZatcaClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewZatcaClient(baseURL, apiKey string, timeout time.Duration) *ZatcaClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &ZatcaClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Submit sends an invoice document for clearance.
func (c *ZatcaClient) Submit(ctx context.Context, doc InvoiceDocument) (*SubmissionResult, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode invoice document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/einvoicing/submissions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit invoice: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tax authority returned %d", resp.StatusCode)
	}

	var result SubmissionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode submission response: %w", err)
	}
	return &result, nil
}

// CheckStatus polls a prior submission.
func (c *ZatcaClient) CheckStatus(ctx context.Context, reference string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/einvoicing/submissions/"+reference, nil)
	if err != nil {
		return "", fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("check submission status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("tax authority returned %d", resp.StatusCode)
	}

	var result SubmissionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	return result.Status, nil
}
