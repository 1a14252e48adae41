package camera

import (
	"context"
	"errors"
	"image"
	"time"
)

// Acquisition failures are terminal for a session: they usually reflect a
// permissions or cabling problem the operator must fix out-of-band.
var (
	ErrPermissionDenied  = errors.New("camera: permission denied")
	ErrDeviceUnavailable = errors.New("camera: device unavailable")
	ErrNotAcquired       = errors.New("camera: stream not acquired")
)

// Frame is one still image pulled from a live source. Frames supersede each
// other; nothing holds on to a Frame past the next poll tick.
type Frame struct {
	Image     image.Image
	Seq       uint64
	Timestamp time.Time
}

// Source owns a live camera stream and serves the current frame on demand.
//
// Acquire is called once per session. CurrentFrame is valid any time after a
// successful Acquire. Release stops the underlying stream and is idempotent.
type Source interface {
	Acquire(ctx context.Context) error
	CurrentFrame(ctx context.Context) (Frame, error)
	Release() error
}

// Constraints describe the requested capture geometry. The source treats
// them as ideals, not hard requirements.
type Constraints struct {
	Width  int
	Height int
}

// DefaultConstraints matches the capture resolution requested per session.
var DefaultConstraints = Constraints{Width: 1280, Height: 720}
