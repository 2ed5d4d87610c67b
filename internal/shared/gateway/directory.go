package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DirectoryClient reads merchant and vehicle data from the accounts service.
// Only the narrow lookups the settlement core needs are exposed here.
type DirectoryClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewDirectoryClient(baseURL, apiKey string, timeout time.Duration) *DirectoryClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DirectoryClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *DirectoryClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build directory request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("directory returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// VATNumber returns the merchant's registered tax identifier, empty when the
// merchant is not VAT-registered.
func (c *DirectoryClient) VATNumber(ctx context.Context, merchantID string) (string, error) {
	var result struct {
		VATNumber string `json:"vat_number"`
	}
	if err := c.get(ctx, "/v1/merchants/"+merchantID+"/tax-profile", &result); err != nil {
		return "", err
	}
	return result.VATNumber, nil
}

// IsOwner reports whether the customer owns the referenced vehicle.
func (c *DirectoryClient) IsOwner(ctx context.Context, vehicleID, customerID string) (bool, error) {
	var result struct {
		Owner bool `json:"owner"`
	}
	path := fmt.Sprintf("/v1/vehicles/%s/ownership?customer_id=%s", vehicleID, customerID)
	if err := c.get(ctx, path, &result); err != nil {
		return false, err
	}
	return result.Owner, nil
}
