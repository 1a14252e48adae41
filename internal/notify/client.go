package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"facepresence/internal/queue"
)

// Client calls the notification webhook that mails users their attendance
// outcome. Delivery is best-effort.
type Client struct {
	Endpoint string
	HTTP     *http.Client
	Skip     bool
}

// New creates a client. Skip turns every notification into a no-op.
func New(endpoint string, skip bool) *Client {
	return &Client{
		Endpoint: endpoint,
		Skip:     skip,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts one recorded event to the webhook.
func (c *Client) Notify(ctx context.Context, evt queue.RecordedEvent) error {
	if c.Skip {
		return nil
	}

	body, _ := json.Marshal(evt)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("notify: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notify: webhook error %s: %s", resp.Status, string(bodyBytes))
	}
	return nil
}
