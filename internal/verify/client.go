package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"facepresence/internal/auth"
)

// DefaultConfidence is used when the service omits a confidence field. The
// upstream contract has always defaulted to this literal value; changing it
// would silently alter persisted scores.
const DefaultConfidence = 0.85

// Outcome is the interpreted verification response.
type Outcome struct {
	Recognized bool
	Confidence float64
}

// Client calls the remote verification service. The current wire contract
// carries no auth header; adding one is the service's concern.
type Client struct {
	Endpoint string
	HTTP     *http.Client
	Skip     bool
}

// New creates a client with a generous timeout; matching can be slow.
func New(endpoint string, skip bool) *Client {
	return &Client{
		Endpoint: endpoint,
		Skip:     skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Verify submits identity plus descriptor and interprets the response.
// Recognized is true when either the recognized or success field is set.
func (c *Client) Verify(ctx context.Context, id auth.Identity, vector []float64) (Outcome, error) {
	if c.Skip {
		return Outcome{Recognized: true, Confidence: 0.92}, nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"roll":   id.Roll,
		"name":   id.Name,
		"email":  id.Email,
		"vector": vector,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("verify: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return Outcome{}, fmt.Errorf("verify: service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Recognized bool     `json:"recognized"`
		Success    bool     `json:"success"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Outcome{}, fmt.Errorf("verify: failed to decode response: %w", err)
	}

	outcome := Outcome{
		Recognized: out.Recognized || out.Success,
		Confidence: DefaultConfidence,
	}
	if out.Confidence != nil {
		outcome.Confidence = *out.Confidence
	}
	return outcome, nil
}
