package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NotificationClient posts templated notifications to the delivery service.
// Delivery is at-least-once and the core never awaits confirmation.
type NotificationClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewNotificationClient(baseURL, apiKey string, timeout time.Duration) *NotificationClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NotificationClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Notify enqueues one notification for the recipient.
func (c *NotificationClient) Notify(ctx context.Context, recipientID, template string, data map[string]interface{}) error {
	body := map[string]interface{}{
		"recipient_id": recipientID,
		"template":     template,
		"data":         data,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/notifications", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification service returned %d", resp.StatusCode)
	}
	return nil
}
