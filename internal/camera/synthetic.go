package camera

import (
	"context"
	"image/color"
	"sync"
	"time"

	"github.com/disintegration/imaging"
)

// SyntheticSource generates flat frames without any hardware. It backs dev
// deployments where no camera is attached, the same way the detector and
// verifier clients carry a skip mode.
type SyntheticSource struct {
	constraints Constraints

	mu       sync.Mutex
	acquired bool
	released bool
	seq      uint64
}

// NewSyntheticSource creates a source emitting frames at the given geometry.
func NewSyntheticSource(constraints Constraints) *SyntheticSource {
	if constraints.Width <= 0 || constraints.Height <= 0 {
		constraints = DefaultConstraints
	}
	return &SyntheticSource{constraints: constraints}
}

// Acquire marks the source live.
func (s *SyntheticSource) Acquire(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return ErrNotAcquired
	}
	s.acquired = true
	return nil
}

// CurrentFrame returns a freshly generated frame.
func (s *SyntheticSource) CurrentFrame(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquired || s.released {
		return Frame{}, ErrNotAcquired
	}
	s.seq++
	img := imaging.New(s.constraints.Width, s.constraints.Height, color.NRGBA{R: 24, G: 24, B: 24, A: 255})
	return Frame{Image: img, Seq: s.seq, Timestamp: time.Now().UTC()}, nil
}

// Release is idempotent.
func (s *SyntheticSource) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.acquired = false
	return nil
}
