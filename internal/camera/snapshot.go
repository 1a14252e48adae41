package camera

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// SnapshotSource pulls still frames from an IP camera's snapshot endpoint.
type SnapshotSource struct {
	endpoint    string
	constraints Constraints
	http        *http.Client

	mu       sync.Mutex
	acquired bool
	released bool
	seq      uint64
}

// NewSnapshotSource builds a source for the given snapshot URL.
func NewSnapshotSource(endpoint string, constraints Constraints) *SnapshotSource {
	if constraints.Width <= 0 || constraints.Height <= 0 {
		constraints = DefaultConstraints
	}
	return &SnapshotSource{
		endpoint:    endpoint,
		constraints: constraints,
		http:        &http.Client{Timeout: 5 * time.Second},
	}
}

// Acquire probes the endpoint once. Auth rejections map to
// ErrPermissionDenied, connectivity problems to ErrDeviceUnavailable.
func (s *SnapshotSource) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return ErrNotAcquired
	}
	if s.acquired {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.frameURL(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: snapshot endpoint returned %s", ErrPermissionDenied, resp.Status)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: snapshot endpoint returned %s", ErrDeviceUnavailable, resp.Status)
	}

	s.mu.Lock()
	s.acquired = true
	s.mu.Unlock()
	return nil
}

// CurrentFrame fetches and decodes the latest still image.
func (s *SnapshotSource) CurrentFrame(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	if !s.acquired || s.released {
		s.mu.Unlock()
		return Frame{}, ErrNotAcquired
	}
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.frameURL(), nil)
	if err != nil {
		return Frame{}, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("camera: snapshot fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Frame{}, fmt.Errorf("camera: snapshot fetch failed: %s", resp.Status)
	}

	img, err := imaging.Decode(resp.Body)
	if err != nil {
		return Frame{}, fmt.Errorf("camera: snapshot decode failed: %w", err)
	}
	return Frame{Image: img, Seq: seq, Timestamp: time.Now().UTC()}, nil
}

// Release stops pulling frames. Safe to call multiple times.
func (s *SnapshotSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	s.acquired = false
	s.http.CloseIdleConnections()
	return nil
}

func (s *SnapshotSource) frameURL() string {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return s.endpoint
	}
	q := u.Query()
	q.Set("width", strconv.Itoa(s.constraints.Width))
	q.Set("height", strconv.Itoa(s.constraints.Height))
	u.RawQuery = q.Encode()
	return u.String()
}
