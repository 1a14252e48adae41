package detector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"facepresence/internal/camera"
)

// DescriptorLength is the fixed embedding size produced by the extractor.
const DescriptorLength = 128

// ErrModelLoad indicates the extractor service never became ready. Fatal to
// the session; the user has to retry after the service recovers.
var ErrModelLoad = errors.New("detector: model not loaded")

// Descriptor is a fixed-length face embedding. Immutable once produced.
type Descriptor []float64

// Clone returns an independent copy so later frames cannot mutate a
// descriptor that is already in flight.
func (d Descriptor) Clone() Descriptor {
	if d == nil {
		return nil
	}
	out := make(Descriptor, len(d))
	copy(out, d)
	return out
}

// Client calls the face extractor microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip short-circuits every call with a canned
// detection so the pipeline runs without the extractor deployed.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Detect submits one frame and returns at most one face descriptor.
// A frame with no face yields (nil, false, nil).
func (c *Client) Detect(ctx context.Context, frame camera.Frame) (Descriptor, bool, error) {
	if c.Skip {
		desc := make(Descriptor, DescriptorLength)
		for i := range desc {
			desc[i] = 0.5
		}
		return desc, true, nil
	}
	if frame.Image == nil {
		return nil, false, errors.New("detector: empty frame")
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame.Image, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, false, fmt.Errorf("detector: frame encode failed: %w", err)
	}

	payload, _ := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/detect", bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("detector: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("detector: service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Present    bool      `json:"present"`
		Descriptor []float64 `json:"descriptor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("detector: failed to decode response: %w", err)
	}
	if !out.Present || len(out.Descriptor) == 0 {
		return nil, false, nil
	}
	if len(out.Descriptor) != DescriptorLength {
		return nil, false, fmt.Errorf("detector: unexpected descriptor length %d", len(out.Descriptor))
	}
	return Descriptor(out.Descriptor), true, nil
}

// Health checks extractor readiness. A failure here is ErrModelLoad.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: service unhealthy: %s", ErrModelLoad, resp.Status)
	}
	return nil
}
